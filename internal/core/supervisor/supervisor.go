// Package supervisor implements IndexingSupervisor, the top-level entry
// point: for every registered subscription × contract, it resolves the
// effective block range against the live head, builds an EventRunner, and
// launches runners sequentially or in parallel per settings.
package supervisor

import (
	"context"
	"fmt"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"etl-web3/internal/core/model"
	"etl-web3/internal/core/permit"
	"etl-web3/internal/core/registry"
	"etl-web3/internal/core/runner"
)

// ConcurrentSettings controls the size of the process-wide permit pool.
type ConcurrentSettings struct {
	MaxConcurrency int64
}

// DefaultConcurrentSettings matches the default max concurrency of 100.
func DefaultConcurrentSettings() ConcurrentSettings {
	return ConcurrentSettings{MaxConcurrency: 100}
}

// Settings is the top-level knob surface controlling runner concurrency,
// delivery ordering, and fetch window size.
type Settings struct {
	Concurrent               ConcurrentSettings
	ExecuteInEventOrder      bool
	ExecuteEventLogsInOrder  bool
	MaxBlockRange            uint64 // exposed and configurable, default 2000
}

// DefaultSettings returns the defaults used when a caller builds Settings
// directly instead of going through config.Config.
func DefaultSettings() Settings {
	return Settings{
		Concurrent:              DefaultConcurrentSettings(),
		ExecuteInEventOrder:     false,
		ExecuteEventLogsInOrder: false,
		MaxBlockRange:           2000,
	}
}

// Validate rejects a zero or negative max_concurrency as a fatal
// configuration error, never silently defaulted at this layer.
func (s Settings) Validate() error {
	if s.Concurrent.MaxConcurrency <= 0 {
		return fmt.Errorf("supervisor: max_concurrency must be > 0, got %d", s.Concurrent.MaxConcurrency)
	}
	return nil
}

// Start drives every subscription × contract pair in reg to completion (or
// forever, for live subscriptions). When runners run concurrently it
// returns the first fatal error, if any, after all runners have settled.
// With ExecuteInEventOrder, runners run one after another and the first
// fatal error is returned at once; the runners after it are not started.
func Start(ctx context.Context, reg *registry.Registry, settings Settings) error {
	if err := settings.Validate(); err != nil {
		return err
	}

	pool := permit.New(settings.Concurrent.MaxConcurrency)
	subs := reg.Subscriptions()

	if !settings.ExecuteInEventOrder {
		// A plain errgroup.Group, not WithContext: each runner must run to
		// its own natural completion even when a sibling fails fatally.
		// errgroup.WithContext's derived context is cancelled the instant
		// any Go() returns an error, which would abort every in-flight RPC
		// call of every other runner — the opposite of "first error after
		// all joins settle".
		var g errgroup.Group
		for _, sub := range subs {
			for _, c := range sub.Contracts {
				sub, c := sub, c
				g.Go(func() error {
					return runOne(ctx, sub.TopicID, c, pool, reg, settings)
				})
			}
		}
		return g.Wait()
	}

	for _, sub := range subs {
		for _, c := range sub.Contracts {
			if err := runOne(ctx, sub.TopicID, c, pool, reg, settings); err != nil {
				return err
			}
		}
	}
	return nil
}

func runOne(ctx context.Context, topic model.TopicId, c *model.NetworkContract, pool *permit.Pool, reg *registry.Registry, settings Settings) error {
	head, err := c.Provider.LatestBlock(ctx)
	if err != nil {
		return fmt.Errorf("supervisor: fetching latest block for %s: %w", c.Name, err)
	}

	start := valueOr(c.StartBlock, head)
	end := min(valueOr(c.EndBlock, head), head)
	live := c.EndBlock == nil

	logrus.WithFields(logrus.Fields{
		"topic":    topic.Hex(),
		"contract": c.Name,
		"start":    start,
		"end":      end,
		"live":     live,
	}).Info("starting event indexing")

	cfg := runner.EventProcessingConfig{
		TopicID:                 topic,
		NetworkContract:         c,
		Start:                   start,
		End:                     end,
		MaxBlockRange:           settings.MaxBlockRange,
		Pool:                    pool,
		Registry:                reg,
		ExecuteEventLogsInOrder: settings.ExecuteEventLogsInOrder,
		LiveIndexing:            live,
		ConcurrentWindows:       !settings.ExecuteInEventOrder,
	}

	return runner.Runner{}.Run(ctx, cfg)
}

func valueOr(p *uint64, fallback uint64) uint64 {
	if p == nil {
		return fallback
	}
	return *p
}

func min(a, b uint64) uint64 {
	if a < b {
		return a
	}
	return b
}
