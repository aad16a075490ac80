// Package stream implements LogStream: a lazy, restartable producer of log
// batches for one filter. In live mode it continues past the current head,
// polling for new blocks with a bounded exponential backoff.
package stream

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"time"

	"github.com/cenkalti/backoff/v4"
	eth "github.com/ethereum/go-ethereum"
	"github.com/sirupsen/logrus"

	"etl-web3/internal/core/model"
	"etl-web3/internal/core/provider"
)

// maxConsecutiveTransientErrors bounds how many transient RPC failures in a
// row LogStream tolerates, within a single fetch, before giving up on the
// stream entirely.
const maxConsecutiveTransientErrors = 5

// FatalError terminates the stream that produced it; its dispatcher ends
// and the window is reported as failed.
type FatalError struct {
	Cause error
}

func (e *FatalError) Error() string { return fmt.Sprintf("stream: fatal: %v", e.Cause) }
func (e *FatalError) Unwrap() error { return e.Cause }

// LogStream produces LogBatch values for one filter, historically or live.
// Transient provider errors are retried internally (with backoff) and never
// surface from Next; only success or a terminal *FatalError does.
type LogStream struct {
	provider provider.LogProvider
	query    eth.FilterQuery
	live     bool

	historicalDone bool
	done           bool
	lastSeen       uint64
	backOff        backoff.BackOff
}

// New builds a LogStream. query.ToBlock is the end of the historical phase;
// when live is true the stream continues past it by polling the provider's
// head once the historical phase drains.
func New(p provider.LogProvider, query eth.FilterQuery, live bool) *LogStream {
	eb := backoff.NewExponentialBackOff()
	eb.InitialInterval = 200 * time.Millisecond
	eb.MaxInterval = 10 * time.Second
	eb.MaxElapsedTime = 0 // unbounded: live mode has no natural terminus

	return &LogStream{
		provider: p,
		query:    query,
		live:     live,
		backOff:  eb,
	}
}

// NewLive builds a LogStream that skips the historical phase entirely and
// begins polling at afterBlock itself (the first range it fetches starts
// at afterBlock, inclusive). This is what
// EventRunner uses for its trailing live-mode phase once the historical
// windows have drained.
func NewLive(p provider.LogProvider, query eth.FilterQuery, afterBlock uint64) *LogStream {
	s := New(p, query, true)
	s.historicalDone = true
	if afterBlock > 0 {
		s.lastSeen = afterBlock - 1
	}
	return s
}

// Next returns the next batch. done is true once the stream has reached a
// natural end (historical, non-live, or a fatal error). err is non-nil only
// for a terminal *FatalError; transient failures are retried internally and
// never reach the caller.
func (s *LogStream) Next(ctx context.Context) (model.LogBatch, error, bool) {
	if s.done {
		return nil, nil, true
	}

	if !s.historicalDone {
		batch, err := s.fetchHistorical(ctx)
		if err != nil {
			s.done = true
			return nil, err, true
		}
		s.historicalDone = true
		if len(batch) > 0 {
			s.lastSeen = batch[len(batch)-1].BlockNumber
		} else if s.query.ToBlock != nil {
			s.lastSeen = s.query.ToBlock.Uint64()
		}
		if !s.live {
			s.done = true
		}
		return batch, nil, false
	}

	if !s.live {
		s.done = true
		return nil, nil, true
	}

	return s.pollLive(ctx)
}

func (s *LogStream) fetchHistorical(ctx context.Context) (model.LogBatch, error) {
	var logs model.LogBatch
	err := s.withRetry(ctx, func() error {
		l, e := s.provider.GetLogs(ctx, s.query)
		logs = l
		return e
	})
	return logs, err
}

func (s *LogStream) pollLive(ctx context.Context) (model.LogBatch, error, bool) {
	for {
		if err := ctx.Err(); err != nil {
			s.done = true
			return nil, nil, true
		}

		var head uint64
		err := s.withRetry(ctx, func() error {
			h, e := s.provider.LatestBlock(ctx)
			head = h
			return e
		})
		if err != nil {
			s.done = true
			return nil, err, true
		}

		if head <= s.lastSeen {
			if serr := sleepBackoff(ctx, s.backOff); serr != nil {
				s.done = true
				return nil, nil, true
			}
			continue
		}

		q := s.query
		q.FromBlock = new(big.Int).SetUint64(s.lastSeen + 1)
		q.ToBlock = new(big.Int).SetUint64(head)

		var logs model.LogBatch
		err = s.withRetry(ctx, func() error {
			l, e := s.provider.GetLogs(ctx, q)
			logs = l
			return e
		})
		if err != nil {
			s.done = true
			return nil, err, true
		}

		s.lastSeen = head
		if len(logs) == 0 {
			if serr := sleepBackoff(ctx, s.backOff); serr != nil {
				s.done = true
				return nil, nil, true
			}
			continue
		}

		s.backOff.Reset()
		return logs, nil, false
	}
}

// withRetry runs fetch, retrying transient failures with backoff up to
// maxConsecutiveTransientErrors times. A decode error or any error not
// marked transient is fatal immediately, no retry. Retries pace themselves
// on a fresh copy of the stream's backoff, so they leave the live-poll
// interval untouched.
func (s *LogStream) withRetry(ctx context.Context, fetch func() error) error {
	b := s.backOff
	if eb, ok := s.backOff.(*backoff.ExponentialBackOff); ok {
		cp := *eb
		b = &cp
	}
	b.Reset()
	attempts := 0
	for {
		err := fetch()
		if err == nil {
			return nil
		}
		if errors.Is(err, provider.ErrDecode) || !provider.IsTransient(err) {
			return &FatalError{Cause: err}
		}

		attempts++
		logrus.WithField("attempt", attempts).Warnf("transient fetch error: %v", err)
		if attempts >= maxConsecutiveTransientErrors {
			return &FatalError{Cause: fmt.Errorf("exceeded %d consecutive transient errors: %w", maxConsecutiveTransientErrors, err)}
		}
		if serr := sleepBackoff(ctx, b); serr != nil {
			return &FatalError{Cause: serr}
		}
	}
}

func sleepBackoff(ctx context.Context, b backoff.BackOff) error {
	d := b.NextBackOff()
	if d == backoff.Stop {
		return fmt.Errorf("stream: backoff exhausted")
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
