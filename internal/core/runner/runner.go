package runner

import (
	"context"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"etl-web3/internal/core/filter"
	"etl-web3/internal/core/model"
	"etl-web3/internal/core/permit"
	"etl-web3/internal/core/registry"
	"etl-web3/internal/core/stream"
)

// EventProcessingConfig bundles everything one (event, contract) indexing
// task needs.
type EventProcessingConfig struct {
	TopicID                  model.TopicId
	NetworkContract          *model.NetworkContract
	Start                    uint64
	End                      uint64
	MaxBlockRange            uint64
	Pool                     *permit.Pool
	Registry                 *registry.Registry
	ExecuteEventLogsInOrder  bool
	LiveIndexing             bool
	ConcurrentWindows        bool // true when the supervisor is not running in execute_in_event_order mode
}

// Runner partitions [Start, End] into windows of at most MaxBlockRange
// blocks and drives a Dispatcher over each, then — if LiveIndexing — runs
// one trailing live-mode dispatch starting at End+1. Windows strictly
// partition the range: no gap, no overlap between consecutive windows.
type Runner struct{}

// Run drives cfg to completion.
func (Runner) Run(ctx context.Context, cfg EventProcessingConfig) error {
	d := &Dispatcher{Registry: cfg.Registry}

	if cfg.Start <= cfg.End {
		if cfg.ConcurrentWindows {
			if err := runWindowsConcurrently(ctx, cfg, d); err != nil {
				return err
			}
		} else {
			if err := runWindowsSequentially(ctx, cfg, d); err != nil {
				return err
			}
		}
	}

	if !cfg.LiveIndexing {
		return nil
	}

	release, err := cfg.Pool.Acquire(ctx)
	if err != nil {
		return err
	}
	defer release()

	liveQuery := filter.Build(cfg.TopicID, cfg.NetworkContract.AddressOrFilter, cfg.End+1, cfg.End+1)
	liveStream := stream.NewLive(cfg.NetworkContract.Provider, liveQuery, cfg.End+1)
	return d.Dispatch(ctx, liveStream, cfg.TopicID, cfg.NetworkContract, cfg.ExecuteEventLogsInOrder)
}

func runWindowsSequentially(ctx context.Context, cfg EventProcessingConfig, d *Dispatcher) error {
	for start := cfg.Start; start <= cfg.End; {
		end := windowEnd(start, cfg.End, cfg.MaxBlockRange)
		if err := runWindow(ctx, cfg, d, start, end); err != nil {
			return err
		}
		start = end + 1
	}
	return nil
}

// runWindowsConcurrently fans out every window to its own goroutine. A
// plain errgroup.Group (no WithContext) is used purely to join and collect
// the first error — each window body still runs against the caller's ctx,
// so one window's fatal error never cancels its siblings. Sibling windows
// of the same event complete (or fail) independently; only the first error
// is returned, after every window has settled.
func runWindowsConcurrently(ctx context.Context, cfg EventProcessingConfig, d *Dispatcher) error {
	var g errgroup.Group
	for start := cfg.Start; start <= cfg.End; {
		end := windowEnd(start, cfg.End, cfg.MaxBlockRange)

		release, err := cfg.Pool.Acquire(ctx)
		if err != nil {
			return err
		}

		ws, we := start, end
		g.Go(func() error {
			defer release()
			return runWindowBody(ctx, cfg, d, ws, we)
		})

		start = end + 1
	}
	return g.Wait()
}

// runWindow acquires its own permit before dispatching — used by the
// sequential path, where acquire-then-dispatch-then-release happens inline.
func runWindow(ctx context.Context, cfg EventProcessingConfig, d *Dispatcher, start, end uint64) error {
	release, err := cfg.Pool.Acquire(ctx)
	if err != nil {
		return err
	}
	defer release()
	return runWindowBody(ctx, cfg, d, start, end)
}

// runWindowBody builds the filter, the stream, and drives the dispatcher
// for one window. Callers are responsible for permit acquisition.
func runWindowBody(ctx context.Context, cfg EventProcessingConfig, d *Dispatcher, start, end uint64) error {
	query := filter.Build(cfg.TopicID, cfg.NetworkContract.AddressOrFilter, start, end)
	s := stream.New(cfg.NetworkContract.Provider, query, false)

	logrus.WithFields(logrus.Fields{
		"topic":    cfg.TopicID.Hex(),
		"contract": cfg.NetworkContract.Name,
		"from":     start,
		"to":       end,
	}).Debug("indexing window")

	return d.Dispatch(ctx, s, cfg.TopicID, cfg.NetworkContract, cfg.ExecuteEventLogsInOrder)
}

// windowEnd computes the inclusive end of the window starting at start,
// stepping by maxBlockRange and clamped to rangeEnd.
func windowEnd(start, rangeEnd, maxBlockRange uint64) uint64 {
	if maxBlockRange == 0 {
		return rangeEnd
	}
	end := start + maxBlockRange - 1
	if end > rangeEnd {
		end = rangeEnd
	}
	return end
}
