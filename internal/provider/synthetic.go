package provider

import (
	"context"
	"math"
	"math/rand"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	appconfig "optionflow/config"
	"optionflow/internal/models"
)

// syntheticBase holds the starting level for each index's random walk.
var syntheticBase = map[string]float64{
	"NIFTY":      24800,
	"BANKNIFTY":  55600,
	"FINNIFTY":   23900,
	"MIDCPNIFTY": 12900,
}

// strikeStep is the strike spacing per index.
var strikeStep = map[string]int64{
	"NIFTY":      50,
	"BANKNIFTY":  100,
	"FINNIFTY":   50,
	"MIDCPNIFTY": 25,
}

// syntheticBackend generates plausible quotes from a per-index random walk.
// It lets the whole pipeline run outside market hours and without network
// access, which is also how the end-to-end tests drive full cycles.
type syntheticBackend struct {
	mu     sync.Mutex
	rng    *rand.Rand
	levels map[string]float64
}

func newSyntheticBackend(_ *appconfig.Config) *syntheticBackend {
	return newSyntheticWithSeed(time.Now().UnixNano())
}

func newSyntheticWithSeed(seed int64) *syntheticBackend {
	return &syntheticBackend{
		rng:    rand.New(rand.NewSource(seed)),
		levels: make(map[string]float64),
	}
}

func (b *syntheticBackend) Name() string {
	return "synthetic"
}

// walk advances and returns the index level. Steps stay within a fraction
// of a percent so consecutive cycles look like a quiet trading day.
func (b *syntheticBackend) walk(index string) float64 {
	level, ok := b.levels[index]
	if !ok {
		level = syntheticBase[index]
		if level == 0 {
			level = 10000
		}
	}
	level *= 1 + (b.rng.Float64()-0.5)*0.002
	b.levels[index] = level
	return level
}

func (b *syntheticBackend) FetchSpot(ctx context.Context, index string) (models.QuoteResponse, error) {
	if err := ctx.Err(); err != nil {
		return models.QuoteResponse{}, err
	}

	key := models.SpotKey(index)
	b.mu.Lock()
	level := b.walk(key.Index)
	b.mu.Unlock()

	now := time.Now().UTC()
	return models.QuoteResponse{
		Key: key,
		Quote: &models.Quote{
			Key:        key,
			LastPrice:  decimal.NewFromFloat(level).Round(2),
			ExchangeTS: now,
		},
		FetchedAt: now,
		Source:    models.SourceDirect,
	}, nil
}

func (b *syntheticBackend) FetchChain(ctx context.Context, index, expiry string) (models.QuoteResponse, error) {
	if err := ctx.Err(); err != nil {
		return models.QuoteResponse{}, err
	}

	key := models.ChainKey(index, expiry)
	b.mu.Lock()
	snap := b.buildChain(key.Index, expiry)
	b.mu.Unlock()

	return models.QuoteResponse{
		Key:       key,
		Chain:     snap,
		FetchedAt: snap.FetchedAt,
		Source:    models.SourceDirect,
	}, nil
}

func (b *syntheticBackend) FetchQuotes(ctx context.Context, keys []models.InstrumentKey) (map[models.InstrumentKey]models.QuoteResponse, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	results := make(map[models.InstrumentKey]models.QuoteResponse, len(keys))
	chains := make(map[string]*models.ChainSnapshot)

	b.mu.Lock()
	defer b.mu.Unlock()

	for _, key := range keys {
		switch key.Kind {
		case models.KindSpot:
			level := b.walk(key.Index)
			now := time.Now().UTC()
			results[key] = models.QuoteResponse{
				Key: key,
				Quote: &models.Quote{
					Key:        key,
					LastPrice:  decimal.NewFromFloat(level).Round(2),
					ExchangeTS: now,
				},
				FetchedAt: now,
				Source:    models.SourceDirect,
			}
		case models.KindChain, models.KindOption:
			group := key.Index + "|" + key.Expiry
			snap, ok := chains[group]
			if !ok {
				snap = b.buildChain(key.Index, key.Expiry)
				chains[group] = snap
			}
			if key.Kind == models.KindChain {
				results[key] = models.QuoteResponse{
					Key:       key,
					Chain:     snap,
					FetchedAt: snap.FetchedAt,
					Source:    models.SourceDirect,
				}
				continue
			}
			if quote, ok := optionFromChain(snap, key); ok {
				results[key] = models.QuoteResponse{
					Key:       key,
					Quote:     &quote,
					FetchedAt: snap.FetchedAt,
					Source:    models.SourceDirect,
				}
			}
		}
	}
	return results, nil
}

func (b *syntheticBackend) HealthCheck(ctx context.Context) error {
	return ctx.Err()
}

// buildChain produces strikes around the current level with a crude
// intrinsic-plus-time-value price. Callers hold b.mu.
func (b *syntheticBackend) buildChain(index, expiry string) *models.ChainSnapshot {
	level := b.walk(index)
	step := strikeStep[index]
	if step == 0 {
		step = 50
	}

	atm := int64(math.Round(level/float64(step))) * step
	now := time.Now().UTC()
	snap := &models.ChainSnapshot{
		Index:     index,
		Expiry:    expiry,
		Spot:      decimal.NewFromFloat(level).Round(2),
		FetchedAt: now,
	}

	for offset := int64(-10); offset <= 10; offset++ {
		strike := atm + offset*step
		timeValue := level * 0.004 * (0.5 + b.rng.Float64())
		callPx := math.Max(level-float64(strike), 0) + timeValue
		putPx := math.Max(float64(strike)-level, 0) + timeValue

		snap.Rows = append(snap.Rows, models.OptionQuote{
			Strike:    strike,
			CallLTP:   decimal.NewFromFloat(callPx).Round(2),
			CallBid:   decimal.NewFromFloat(callPx * 0.995).Round(2),
			CallAsk:   decimal.NewFromFloat(callPx * 1.005).Round(2),
			CallOI:    int64(b.rng.Intn(500000)),
			CallVol:   int64(b.rng.Intn(100000)),
			CallIV:    10 + b.rng.Float64()*8,
			PutLTP:    decimal.NewFromFloat(putPx).Round(2),
			PutBid:    decimal.NewFromFloat(putPx * 0.995).Round(2),
			PutAsk:    decimal.NewFromFloat(putPx * 1.005).Round(2),
			PutOI:     int64(b.rng.Intn(500000)),
			PutVol:    int64(b.rng.Intn(100000)),
			PutIV:     10 + b.rng.Float64()*8,
			Timestamp: now,
		})
	}
	return snap
}
