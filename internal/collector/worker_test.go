package collector

import (
	"context"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	appconfig "optionflow/config"
	"optionflow/internal/market"
	"optionflow/internal/models"
	"optionflow/internal/provider"
)

type sinkWrite struct {
	cycle   uint64
	index   string
	payload models.QuoteResponse
}

type memorySink struct {
	mu     sync.Mutex
	writes []sinkWrite
}

func (s *memorySink) Write(ctx context.Context, cycle uint64, index string, ts time.Time, payload models.QuoteResponse) error {
	s.mu.Lock()
	s.writes = append(s.writes, sinkWrite{cycle: cycle, index: index, payload: payload})
	s.mu.Unlock()
	return nil
}

func (s *memorySink) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.writes)
}

func newTestPool(t *testing.T, cfg *appconfig.Config, backend provider.Backend, sink StorageSink) *WorkerPool {
	t.Helper()

	clock, err := market.NewClock(cfg.Market)
	if err != nil {
		t.Fatalf("new clock: %v", err)
	}

	client := provider.NewClient(cfg, backend)
	ctx, cancel := context.WithCancel(context.Background())
	if err := client.Start(ctx); err != nil {
		t.Fatalf("start client: %v", err)
	}
	t.Cleanup(func() {
		client.Stop()
		cancel()
	})

	return NewWorkerPool(cfg, clock, client, sink)
}

func testCycle(indices ...string) *models.CycleContext {
	return &models.CycleContext{
		CycleNumber:     1,
		StartedAt:       time.Now(),
		Indices:         indices,
		PerIndexTimeout: 2 * time.Second,
	}
}

func TestWorkerPoolOutcomesFollowIndexOrder(t *testing.T) {
	cfg := testCollectorConfig()
	sink := &memorySink{}
	pool := newTestPool(t, cfg, provider.NewMockBackend(), sink)

	outcomes := pool.Run(context.Background(), testCycle("NIFTY", "BANKNIFTY", "FINNIFTY"))
	if len(outcomes) != 3 {
		t.Fatalf("expected 3 outcomes, got %d", len(outcomes))
	}
	for i, want := range []string{"NIFTY", "BANKNIFTY", "FINNIFTY"} {
		if outcomes[i].Index != want {
			t.Errorf("outcome %d index = %q, want %q", i, outcomes[i].Index, want)
		}
		if !outcomes[i].Success {
			t.Errorf("outcome %d failed: %+v", i, outcomes[i])
		}
		// One spot row plus both legs of the single mock strike.
		if outcomes[i].Rows != 3 {
			t.Errorf("outcome %d rows = %d, want 3", i, outcomes[i].Rows)
		}
		if len(outcomes[i].Expiries) != 1 {
			t.Errorf("outcome %d expiries = %v, want one tag", i, outcomes[i].Expiries)
		}
	}

	// Spot and chain payloads for every index reached storage.
	if got := sink.count(); got != 6 {
		t.Errorf("storage writes = %d, want 6", got)
	}
}

func TestWorkerPoolRecoversPanic(t *testing.T) {
	cfg := testCollectorConfig()
	backend := provider.NewMockBackend()
	backend.ChainFn = func(ctx context.Context, index, expiry string) (models.QuoteResponse, error) {
		if index == "BANKNIFTY" {
			panic("chain decoder exploded")
		}
		return provider.NewMockBackend().FetchChain(ctx, index, expiry)
	}
	pool := newTestPool(t, cfg, backend, &memorySink{})

	outcomes := pool.Run(context.Background(), testCycle("NIFTY", "BANKNIFTY"))

	byIndex := make(map[string]models.IndexOutcome, len(outcomes))
	for _, o := range outcomes {
		byIndex[o.Index] = o
	}
	if !byIndex["NIFTY"].Success {
		t.Errorf("NIFTY should survive a sibling panic: %+v", byIndex["NIFTY"])
	}
	banknifty := byIndex["BANKNIFTY"]
	if banknifty.Success {
		t.Fatal("panicking index reported success")
	}
	if banknifty.ErrorKind != models.ErrKindInternal {
		t.Errorf("error kind = %q, want %q", banknifty.ErrorKind, models.ErrKindInternal)
	}
	if !strings.Contains(banknifty.Err, "panic") {
		t.Errorf("outcome error %q should mention the panic", banknifty.Err)
	}
}

func TestWorkerPoolHonorsConcurrencyLimit(t *testing.T) {
	cfg := testCollectorConfig()
	cfg.Collector.MaxConcurrentIndices = 1

	var inFlight, peak atomic.Int64
	backend := provider.NewMockBackend()
	backend.ChainFn = func(ctx context.Context, index, expiry string) (models.QuoteResponse, error) {
		cur := inFlight.Add(1)
		for {
			old := peak.Load()
			if cur <= old || peak.CompareAndSwap(old, cur) {
				break
			}
		}
		time.Sleep(10 * time.Millisecond)
		inFlight.Add(-1)
		return provider.NewMockBackend().FetchChain(ctx, index, expiry)
	}
	pool := newTestPool(t, cfg, backend, &memorySink{})

	outcomes := pool.Run(context.Background(), testCycle("NIFTY", "BANKNIFTY", "FINNIFTY"))
	for _, o := range outcomes {
		if !o.Success {
			t.Errorf("outcome for %s failed: %+v", o.Index, o)
		}
	}
	if got := peak.Load(); got > 1 {
		t.Errorf("peak chain concurrency = %d, want 1 with a single worker slot", got)
	}
}

func TestWorkerPoolPerIndexTimeout(t *testing.T) {
	cfg := testCollectorConfig()
	backend := provider.NewMockBackend()
	backend.ChainFn = func(ctx context.Context, index, expiry string) (models.QuoteResponse, error) {
		select {
		case <-ctx.Done():
			return models.QuoteResponse{}, ctx.Err()
		case <-time.After(5 * time.Second):
			return models.QuoteResponse{}, nil
		}
	}
	pool := newTestPool(t, cfg, backend, &memorySink{})

	cycle := testCycle("NIFTY")
	cycle.PerIndexTimeout = 50 * time.Millisecond

	start := time.Now()
	outcomes := pool.Run(context.Background(), cycle)
	elapsed := time.Since(start)

	if outcomes[0].Success {
		t.Fatal("blocked index should time out")
	}
	if outcomes[0].ErrorKind != models.ErrKindDeadline {
		t.Errorf("error kind = %q, want %q", outcomes[0].ErrorKind, models.ErrKindDeadline)
	}
	if elapsed > 2*time.Second {
		t.Errorf("pool took %v, the per-index timeout did not bite", elapsed)
	}
}
