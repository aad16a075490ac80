package stream

import (
	"context"
	"errors"
	"math/big"
	"testing"
	"time"

	eth "github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/core/types"

	"etl-web3/internal/core/provider"
)

type fakeProvider struct {
	heads    []uint64
	headCall int
	logsFunc func(q eth.FilterQuery) ([]types.Log, error)
}

func (f *fakeProvider) LatestBlock(ctx context.Context) (uint64, error) {
	h := f.heads[f.headCall]
	if f.headCall < len(f.heads)-1 {
		f.headCall++
	}
	return h, nil
}

func (f *fakeProvider) GetLogs(ctx context.Context, q eth.FilterQuery) ([]types.Log, error) {
	return f.logsFunc(q)
}

// zeroBackoff removes the real sleep floor so retry/live-poll tests run
// instantly instead of waiting out the production 200ms interval.
type zeroBackoff struct{}

func (zeroBackoff) NextBackOff() time.Duration { return 0 }
func (zeroBackoff) Reset()                     {}

func TestHistoricalSingleWindow(t *testing.T) {
	p := &fakeProvider{
		logsFunc: func(q eth.FilterQuery) ([]types.Log, error) {
			return []types.Log{{BlockNumber: 42}}, nil
		},
	}
	q := eth.FilterQuery{FromBlock: big.NewInt(0), ToBlock: big.NewInt(500)}
	s := New(p, q, false)

	batch, err, done := s.Next(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if done {
		t.Fatalf("expected not done after first batch")
	}
	if len(batch) != 1 || batch[0].BlockNumber != 42 {
		t.Fatalf("unexpected batch: %v", batch)
	}

	_, err, done = s.Next(context.Background())
	if err != nil || !done {
		t.Fatalf("expected clean end of stream, got err=%v done=%v", err, done)
	}
}

func TestTransientThenSuccessDeliversOnce(t *testing.T) {
	attempt := 0
	p := &fakeProvider{
		logsFunc: func(q eth.FilterQuery) ([]types.Log, error) {
			attempt++
			if attempt <= 3 {
				return nil, provider.MarkTransient(errors.New("timeout"))
			}
			return []types.Log{{BlockNumber: 7}}, nil
		},
	}
	q := eth.FilterQuery{FromBlock: big.NewInt(0), ToBlock: big.NewInt(10)}
	s := New(p, q, false)
	s.backOff = zeroBackoff{}

	batch, err, done := s.Next(context.Background())
	if err != nil {
		t.Fatalf("expected transient retries to be recovered internally, got %v", err)
	}
	if done {
		t.Fatalf("expected stream not yet done on first Next (historical-only ends after delivery)")
	}
	if len(batch) != 1 || batch[0].BlockNumber != 7 {
		t.Fatalf("expected block 7 delivered exactly once, got %v", batch)
	}
	if attempt != 4 {
		t.Fatalf("expected exactly 4 attempts (3 failures + 1 success), got %d", attempt)
	}
}

func TestFatalAfterRetryCap(t *testing.T) {
	p := &fakeProvider{
		logsFunc: func(q eth.FilterQuery) ([]types.Log, error) {
			return nil, provider.MarkTransient(errors.New("rate limited"))
		},
	}
	q := eth.FilterQuery{FromBlock: big.NewInt(0), ToBlock: big.NewInt(10)}
	s := New(p, q, false)
	s.backOff = zeroBackoff{}

	_, err, done := s.Next(context.Background())
	var fe *FatalError
	if !errors.As(err, &fe) {
		t.Fatalf("expected FatalError after exceeding retry cap, got %v", err)
	}
	if !done {
		t.Fatalf("stream should be done once fatal")
	}
}

func TestDecodeErrorIsImmediatelyFatal(t *testing.T) {
	calls := 0
	p := &fakeProvider{
		logsFunc: func(q eth.FilterQuery) ([]types.Log, error) {
			calls++
			return nil, provider.ErrDecode
		},
	}
	q := eth.FilterQuery{FromBlock: big.NewInt(0), ToBlock: big.NewInt(10)}
	s := New(p, q, false)
	s.backOff = zeroBackoff{}

	_, err, done := s.Next(context.Background())
	var fe *FatalError
	if !errors.As(err, &fe) {
		t.Fatalf("expected immediate FatalError on decode failure, got %v", err)
	}
	if !done {
		t.Fatalf("stream should be done after a decode failure")
	}
	if calls != 1 {
		t.Fatalf("decode errors must not be retried, got %d calls", calls)
	}
}

func TestLiveHandoffDeliversNewBlockOnce(t *testing.T) {
	p := &fakeProvider{
		heads: []uint64{100, 100, 103},
		logsFunc: func(q eth.FilterQuery) ([]types.Log, error) {
			if q.FromBlock.Uint64() <= 102 && q.ToBlock.Uint64() >= 102 {
				return []types.Log{{BlockNumber: 102}}, nil
			}
			return nil, nil
		},
	}

	s := NewLive(p, eth.FilterQuery{}, 101)
	s.backOff = zeroBackoff{}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	batch, err, done := s.Next(ctx)
	if err != nil || done {
		t.Fatalf("unexpected err=%v done=%v", err, done)
	}
	if len(batch) != 1 || batch[0].BlockNumber != 102 {
		t.Fatalf("expected block 102 delivered once, got %v", batch)
	}
}
