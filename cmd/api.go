package main

import (
	"flag"
	"os"

	"github.com/sirupsen/logrus"

	"etl-web3/internal/api"
)

func main() {
	port := flag.String("port", envOrDefault("INDEXER_API_PORT", "8080"), "port the indexing control plane listens on")
	flag.Parse()

	logrus.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})

	srv := api.NewServer()
	if err := srv.Run(*port); err != nil {
		logrus.Fatalf("indexing control plane stopped with error: %v", err)
	}
}

func envOrDefault(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
