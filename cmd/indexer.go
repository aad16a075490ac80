package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/sirupsen/logrus"

	"etl-web3/internal/bootstrap"
	"etl-web3/internal/config"
	"etl-web3/internal/core/supervisor"
	"etl-web3/internal/sink"
)

func main() {
	configPath := flag.String("config", "config.yaml", "Path to configuration file")
	flag.Parse()

	logrus.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sigCh
		logrus.Info("interrupt received, shutting down gracefully…")
		cancel()
	}()

	var sk sink.Sink
	switch cfg.Storage.Type {
	case "csv":
		s, err := sink.NewCSVSink(cfg.Storage.CSV.OutputDir)
		if err != nil {
			log.Fatalf("failed to initialise csv sink: %v", err)
		}
		sk = s
	case "mysql":
		logrus.Warn("mysql sink selected but not yet implemented – proceeding without sink")
	default:
		log.Fatalf("unsupported storage type: %s", cfg.Storage.Type)
	}
	sk = sink.NewRetrySink(sk, cfg.Retry.Attempts, cfg.Retry.DelayMS)

	reg, settings, err := bootstrap.Build(ctx, cfg, sk)
	if err != nil {
		log.Fatalf("failed to wire indexing registry: %v", err)
	}

	if err := supervisor.Start(ctx, reg, settings); err != nil {
		log.Fatalf("indexer terminated with error: %v", err)
	}
}
