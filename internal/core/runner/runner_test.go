package runner

import (
	"context"
	"errors"
	"math/big"
	"sort"
	"sync"
	"testing"

	eth "github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"

	"etl-web3/internal/core/model"
	"etl-web3/internal/core/permit"
	"etl-web3/internal/core/registry"
)

type recordingProvider struct {
	mu      sync.Mutex
	windows []model.BlockRange
	logsAt  map[uint64]bool // block numbers that carry a log
	head    uint64

	// failWindow, if non-nil, makes GetLogs return a non-transient (hence
	// immediately fatal) error for the single request matching that exact
	// [from, to] range, regardless of retry. Every other window behaves
	// normally.
	failWindow *model.BlockRange
}

func (p *recordingProvider) LatestBlock(ctx context.Context) (uint64, error) {
	return p.head, nil
}

func (p *recordingProvider) GetLogs(ctx context.Context, q eth.FilterQuery) ([]types.Log, error) {
	// A cancelled ctx here is the symptom of a sibling's fatal error
	// wrongly propagating through a shared errgroup.WithContext — surface
	// it as a real error so tests can tell the difference from a window
	// that simply never got cancelled.
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	from, to := q.FromBlock.Uint64(), q.ToBlock.Uint64()

	p.mu.Lock()
	p.windows = append(p.windows, model.BlockRange{Start: from, End: to})
	p.mu.Unlock()

	if p.failWindow != nil && from == p.failWindow.Start && to == p.failWindow.End {
		return nil, errors.New("window deliberately broken for test")
	}

	var logs []types.Log
	for b := from; b <= to; b++ {
		if p.logsAt[b] {
			logs = append(logs, types.Log{BlockNumber: b})
		}
	}
	return logs, nil
}

func contract(p *recordingProvider) *model.NetworkContract {
	addr := common.HexToAddress("0x3333333333333333333333333333333333333333")
	return &model.NetworkContract{
		Name:            "test",
		AddressOrFilter: model.AddressOrFilter{Address: &addr},
		Provider:        p,
	}
}

func topic() model.TopicId {
	return model.ParseTopicIdOrPanic("0x" + strRepeat("11", 32))
}

func strRepeat(s string, n int) string {
	out := make([]byte, 0, len(s)*n)
	for i := 0; i < n; i++ {
		out = append(out, s...)
	}
	return string(out)
}

// TestWindowPartition checks that windows union to the full range, are
// disjoint, and each has length <= max_block_range.
func TestWindowPartition(t *testing.T) {
	p := &recordingProvider{logsAt: map[uint64]bool{}, head: 3000}
	reg := registry.New()
	cfg := EventProcessingConfig{
		TopicID:         topic(),
		NetworkContract: contract(p),
		Start:           0,
		End:             2500,
		MaxBlockRange:   1000,
		Pool:            permit.New(100),
		Registry:        reg,
	}

	if err := (Runner{}).Run(context.Background(), cfg); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	sort.Slice(p.windows, func(i, j int) bool { return p.windows[i].Start < p.windows[j].Start })

	var covered uint64
	for i, w := range p.windows {
		if w.End < w.Start {
			t.Fatalf("window %d has end < start: %+v", i, w)
		}
		if w.End-w.Start+1 > cfg.MaxBlockRange {
			t.Fatalf("window %d exceeds max_block_range: %+v", i, w)
		}
		if i == 0 && w.Start != cfg.Start {
			t.Fatalf("first window must start at range start, got %d", w.Start)
		}
		if i > 0 && w.Start != p.windows[i-1].End+1 {
			t.Fatalf("window %d does not start immediately after previous end: prev end=%d start=%d", i, p.windows[i-1].End, w.Start)
		}
		covered += w.End - w.Start + 1
	}
	if last := p.windows[len(p.windows)-1]; last.End != cfg.End {
		t.Fatalf("last window must end at range end, got %d want %d", last.End, cfg.End)
	}
	if want := cfg.End - cfg.Start + 1; covered != want {
		t.Fatalf("windows cover %d blocks, want %d", covered, want)
	}
}

// TestSequentialOrderedDelivery covers scenario S2: logs at known blocks
// across multiple windows, delivered in ascending order when both ordering
// flags are enabled.
func TestSequentialOrderedDelivery(t *testing.T) {
	p := &recordingProvider{
		logsAt: map[uint64]bool{10: true, 1500: true, 2400: true},
		head:   2500,
	}
	reg := registry.New()

	var mu sync.Mutex
	var delivered []uint64
	tp := topic()
	reg.Register(tp, func(ctx context.Context, batch []model.EventResult) {
		mu.Lock()
		defer mu.Unlock()
		for _, r := range batch {
			delivered = append(delivered, r.Log.BlockNumber)
		}
	})

	cfg := EventProcessingConfig{
		TopicID:                 tp,
		NetworkContract:         contract(p),
		Start:                   0,
		End:                     2500,
		MaxBlockRange:           1000,
		Pool:                    permit.New(100),
		Registry:                reg,
		ExecuteEventLogsInOrder: true,
		ConcurrentWindows:       false,
	}

	if err := (Runner{}).Run(context.Background(), cfg); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	want := []uint64{10, 1500, 2400}
	if len(delivered) != len(want) {
		t.Fatalf("delivered %v, want %v", delivered, want)
	}
	for i := range want {
		if delivered[i] != want[i] {
			t.Fatalf("delivered %v, want %v", delivered, want)
		}
	}
}

// TestUnorderedConcurrentDeliversEveryLogExactlyOnce covers scenario S3.
func TestUnorderedConcurrentDeliversEveryLogExactlyOnce(t *testing.T) {
	logsAt := map[uint64]bool{}
	for b := uint64(0); b < 100; b++ {
		logsAt[b*25] = true
	}
	p := &recordingProvider{logsAt: logsAt, head: 2500}
	reg := registry.New()

	var mu sync.Mutex
	seen := map[uint64]int{}
	tp := topic()
	reg.Register(tp, func(ctx context.Context, batch []model.EventResult) {
		mu.Lock()
		defer mu.Unlock()
		for _, r := range batch {
			seen[r.Log.BlockNumber]++
		}
	})

	cfg := EventProcessingConfig{
		TopicID:                 tp,
		NetworkContract:         contract(p),
		Start:                   0,
		End:                     2500,
		MaxBlockRange:           1000,
		Pool:                    permit.New(100),
		Registry:                reg,
		ExecuteEventLogsInOrder: false,
		ConcurrentWindows:       true,
	}

	if err := (Runner{}).Run(context.Background(), cfg); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if len(seen) != len(logsAt) {
		t.Fatalf("delivered %d distinct blocks, want %d", len(seen), len(logsAt))
	}
	for b, count := range seen {
		if count != 1 {
			t.Fatalf("block %d delivered %d times, want exactly once", b, count)
		}
	}
}

// TestUnknownTopicIsolation asserts a subscription whose topic has no
// registered callback still progresses without error or deadlock.
func TestUnknownTopicIsolation(t *testing.T) {
	p := &recordingProvider{logsAt: map[uint64]bool{5: true}, head: 100}
	reg := registry.New() // nothing registered

	cfg := EventProcessingConfig{
		TopicID:         topic(),
		NetworkContract: contract(p),
		Start:           0,
		End:             100,
		MaxBlockRange:   1000,
		Pool:            permit.New(100),
		Registry:        reg,
	}

	if err := (Runner{}).Run(context.Background(), cfg); err != nil {
		t.Fatalf("unexpected error with unknown topic: %v", err)
	}
}

func bigRange(from, to uint64) (*big.Int, *big.Int) {
	return new(big.Int).SetUint64(from), new(big.Int).SetUint64(to)
}

// TestConcurrentWindowsSurviveSiblingFatalError covers scenario S6: a fatal
// error in one window must not cancel sibling windows of the same event
// running concurrently — they complete and deliver their own logs, and the
// runner returns the first error only after every window has settled.
func TestConcurrentWindowsSurviveSiblingFatalError(t *testing.T) {
	p := &recordingProvider{
		logsAt:     map[uint64]bool{5: true, 2400: true},
		head:       2500,
		failWindow: &model.BlockRange{Start: 1000, End: 1999},
	}
	reg := registry.New()

	var mu sync.Mutex
	var delivered []uint64
	tp := topic()
	reg.Register(tp, func(ctx context.Context, batch []model.EventResult) {
		mu.Lock()
		defer mu.Unlock()
		for _, r := range batch {
			delivered = append(delivered, r.Log.BlockNumber)
		}
	})

	cfg := EventProcessingConfig{
		TopicID:                 tp,
		NetworkContract:         contract(p),
		Start:                   0,
		End:                     2500,
		MaxBlockRange:           1000,
		Pool:                    permit.New(100),
		Registry:                reg,
		ExecuteEventLogsInOrder: false,
		ConcurrentWindows:       true,
	}

	err := (Runner{}).Run(context.Background(), cfg)
	if err == nil {
		t.Fatalf("expected the broken window's fatal error to propagate")
	}

	sort.Slice(delivered, func(i, j int) bool { return delivered[i] < delivered[j] })
	want := []uint64{5, 2400}
	if len(delivered) != len(want) {
		t.Fatalf("sibling windows delivered %v, want %v (sibling windows must complete despite the fatal one)", delivered, want)
	}
	for i := range want {
		if delivered[i] != want[i] {
			t.Fatalf("sibling windows delivered %v, want %v", delivered, want)
		}
	}
}
