package provider

import (
	"context"
	"math"
	"testing"

	"optionflow/internal/models"
)

func TestSyntheticChainShape(t *testing.T) {
	b := newSyntheticWithSeed(42)

	resp, err := b.FetchChain(context.Background(), "BANKNIFTY", "2026-08-26")
	if err != nil {
		t.Fatalf("FetchChain: %v", err)
	}
	snap := resp.Chain
	if snap == nil {
		t.Fatal("chain response missing snapshot")
	}
	if snap.Index != "BANKNIFTY" || snap.Expiry != "2026-08-26" {
		t.Errorf("snapshot identity = %s %s", snap.Index, snap.Expiry)
	}
	if len(snap.Rows) != 21 {
		t.Fatalf("rows = %d, want 21 strikes around ATM", len(snap.Rows))
	}

	const step = int64(100)
	for i := 1; i < len(snap.Rows); i++ {
		if snap.Rows[i].Strike-snap.Rows[i-1].Strike != step {
			t.Fatalf("strike gap %d->%d, want spacing %d", snap.Rows[i-1].Strike, snap.Rows[i].Strike, step)
		}
	}

	spot := snap.Spot.InexactFloat64()
	atm := snap.Rows[10].Strike
	if math.Abs(float64(atm)-spot) > float64(step) {
		t.Errorf("middle strike %d too far from spot %.2f", atm, spot)
	}
	for _, row := range snap.Rows {
		if row.CallLTP.IsNegative() || row.PutLTP.IsNegative() {
			t.Errorf("negative premium at strike %d: %+v", row.Strike, row)
		}
	}
}

func TestSyntheticWalkStaysNearBase(t *testing.T) {
	b := newSyntheticWithSeed(7)

	// Steps are bounded at a tenth of a percent, so twenty cycles cannot
	// drift the level more than a few percent from its base.
	const base = 24800.0
	for i := 0; i < 20; i++ {
		resp, err := b.FetchSpot(context.Background(), "NIFTY")
		if err != nil {
			t.Fatalf("FetchSpot: %v", err)
		}
		level := resp.Quote.LastPrice.InexactFloat64()
		if level < base*0.97 || level > base*1.03 {
			t.Fatalf("level %.2f drifted outside 3%% of base on cycle %d", level, i)
		}
	}

	resp, err := b.FetchSpot(context.Background(), "SENSEX")
	if err != nil {
		t.Fatalf("FetchSpot unknown index: %v", err)
	}
	if level := resp.Quote.LastPrice.InexactFloat64(); level < 9000 || level > 11000 {
		t.Errorf("unknown index should walk from the default base, got %.2f", level)
	}
}

func TestSyntheticSeedIsDeterministic(t *testing.T) {
	a := newSyntheticWithSeed(11)
	b := newSyntheticWithSeed(11)

	ra, err := a.FetchSpot(context.Background(), "FINNIFTY")
	if err != nil {
		t.Fatalf("FetchSpot: %v", err)
	}
	rb, err := b.FetchSpot(context.Background(), "FINNIFTY")
	if err != nil {
		t.Fatalf("FetchSpot: %v", err)
	}
	if !ra.Quote.LastPrice.Equal(rb.Quote.LastPrice) {
		t.Errorf("same seed produced %s and %s", ra.Quote.LastPrice, rb.Quote.LastPrice)
	}
}

func TestSyntheticQuotesBatchSharesChain(t *testing.T) {
	b := newSyntheticWithSeed(3)

	spotKey := models.SpotKey("NIFTY")
	chainKey := models.ChainKey("NIFTY", "2026-08-27")
	optKey := models.OptionKey("NIFTY", "2026-08-27", 24800, models.OptionTypeCall)

	results, err := b.FetchQuotes(context.Background(), []models.InstrumentKey{spotKey, chainKey, optKey})
	if err != nil {
		t.Fatalf("FetchQuotes: %v", err)
	}
	if len(results) != 3 {
		t.Fatalf("resolved %d keys, want 3", len(results))
	}

	chain := results[chainKey].Chain
	if chain == nil || len(chain.Rows) != 21 {
		t.Fatalf("chain result missing rows: %+v", chain)
	}
	opt := results[optKey].Quote
	if opt == nil {
		t.Fatal("option key did not resolve")
	}

	// The option leg must come from the same snapshot that served the
	// chain key, not a fresh walk.
	var fromChain models.OptionQuote
	for _, row := range chain.Rows {
		if row.Strike == 24800 {
			fromChain = row
			break
		}
	}
	if !opt.LastPrice.Equal(fromChain.CallLTP) {
		t.Errorf("option LTP %s != chain row call LTP %s", opt.LastPrice, fromChain.CallLTP)
	}
	if !opt.LastPrice.IsPositive() {
		t.Errorf("near-ATM call should carry time value, got %s", opt.LastPrice)
	}
}

func TestSyntheticHonorsContext(t *testing.T) {
	b := newSyntheticWithSeed(1)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if _, err := b.FetchSpot(ctx, "NIFTY"); err == nil {
		t.Error("FetchSpot ignored canceled context")
	}
	if _, err := b.FetchQuotes(ctx, []models.InstrumentKey{models.SpotKey("NIFTY")}); err == nil {
		t.Error("FetchQuotes ignored canceled context")
	}
	if err := b.HealthCheck(ctx); err == nil {
		t.Error("HealthCheck ignored canceled context")
	}
	if err := b.HealthCheck(context.Background()); err != nil {
		t.Errorf("HealthCheck: %v", err)
	}
}
