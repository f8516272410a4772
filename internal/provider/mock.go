package provider

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/shopspring/decimal"

	"optionflow/internal/models"
)

// MockBackend is a scriptable transport. Each operation delegates to an
// overridable function and counts its calls, so tests can assert exactly
// how much upstream traffic a scenario produced. Unscripted operations
// return fixed quotes.
type MockBackend struct {
	SpotFn   func(ctx context.Context, index string) (models.QuoteResponse, error)
	QuotesFn func(ctx context.Context, keys []models.InstrumentKey) (map[models.InstrumentKey]models.QuoteResponse, error)
	ChainFn  func(ctx context.Context, index, expiry string) (models.QuoteResponse, error)
	HealthFn func(ctx context.Context) error

	spotCalls   atomic.Int64
	quotesCalls atomic.Int64
	chainCalls  atomic.Int64
}

func NewMockBackend() *MockBackend {
	return &MockBackend{}
}

func (m *MockBackend) Name() string {
	return "mock"
}

func (m *MockBackend) FetchSpot(ctx context.Context, index string) (models.QuoteResponse, error) {
	m.spotCalls.Add(1)
	if m.SpotFn != nil {
		return m.SpotFn(ctx, index)
	}
	key := models.SpotKey(index)
	now := time.Now().UTC()
	return models.QuoteResponse{
		Key: key,
		Quote: &models.Quote{
			Key:        key,
			LastPrice:  decimal.NewFromFloat(100.5),
			ExchangeTS: now,
		},
		FetchedAt: now,
		Source:    models.SourceDirect,
	}, nil
}

func (m *MockBackend) FetchQuotes(ctx context.Context, keys []models.InstrumentKey) (map[models.InstrumentKey]models.QuoteResponse, error) {
	m.quotesCalls.Add(1)
	if m.QuotesFn != nil {
		return m.QuotesFn(ctx, keys)
	}
	now := time.Now().UTC()
	results := make(map[models.InstrumentKey]models.QuoteResponse, len(keys))
	for _, key := range keys {
		results[key] = models.QuoteResponse{
			Key: key,
			Quote: &models.Quote{
				Key:        key,
				LastPrice:  decimal.NewFromFloat(100.5),
				ExchangeTS: now,
			},
			FetchedAt: now,
			Source:    models.SourceDirect,
		}
	}
	return results, nil
}

func (m *MockBackend) FetchChain(ctx context.Context, index, expiry string) (models.QuoteResponse, error) {
	m.chainCalls.Add(1)
	if m.ChainFn != nil {
		return m.ChainFn(ctx, index, expiry)
	}
	key := models.ChainKey(index, expiry)
	now := time.Now().UTC()
	snap := &models.ChainSnapshot{
		Index:     key.Index,
		Expiry:    expiry,
		Spot:      decimal.NewFromFloat(100.5),
		FetchedAt: now,
		Rows: []models.OptionQuote{
			{
				Strike:    100,
				CallLTP:   decimal.NewFromFloat(2.5),
				PutLTP:    decimal.NewFromFloat(1.9),
				Timestamp: now,
			},
		},
	}
	return models.QuoteResponse{
		Key:       key,
		Chain:     snap,
		FetchedAt: now,
		Source:    models.SourceDirect,
	}, nil
}

func (m *MockBackend) HealthCheck(ctx context.Context) error {
	if m.HealthFn != nil {
		return m.HealthFn(ctx)
	}
	return ctx.Err()
}

// Calls returns per-operation upstream call counts.
func (m *MockBackend) Calls() (spot, quotes, chain int64) {
	return m.spotCalls.Load(), m.quotesCalls.Load(), m.chainCalls.Load()
}

// TotalCalls returns the number of upstream calls across all operations.
func (m *MockBackend) TotalCalls() int64 {
	return m.spotCalls.Load() + m.quotesCalls.Load() + m.chainCalls.Load()
}
