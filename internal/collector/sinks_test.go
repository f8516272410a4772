package collector

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	appconfig "optionflow/config"
	"optionflow/internal/channel"
	"optionflow/internal/metrics"
	"optionflow/internal/models"
)

func chainPayload(index, expiry string) models.QuoteResponse {
	now := time.Now().UTC()
	return models.QuoteResponse{
		Key: models.ChainKey(index, expiry),
		Chain: &models.ChainSnapshot{
			Index:  index,
			Expiry: expiry,
			Spot:   decimal.NewFromFloat(24810.25),
			Rows: []models.OptionQuote{
				{
					Strike:    24800,
					CallLTP:   decimal.NewFromFloat(102.5),
					PutLTP:    decimal.NewFromFloat(98.1),
					Timestamp: now,
				},
			},
			FetchedAt: now,
		},
		FetchedAt: now,
		Source:    models.SourceDirect,
	}
}

func spotPayload(index string, stale bool) models.QuoteResponse {
	now := time.Now().UTC()
	key := models.SpotKey(index)
	return models.QuoteResponse{
		Key: key,
		Quote: &models.Quote{
			Key:        key,
			LastPrice:  decimal.NewFromFloat(24810.25),
			ExchangeTS: now,
		},
		FetchedAt: now,
		Source:    models.SourceDirect,
		Stale:     stale,
	}
}

func TestChannelSinkWritesChainBatch(t *testing.T) {
	ch := channel.NewChannels(appconfig.ChannelsConfig{ChainBuffer: 4, SpotBuffer: 4})
	defer ch.Close()
	sink := NewChannelSink(ch)

	if err := sink.Write(context.Background(), 7, "NIFTY", time.Now(), chainPayload("NIFTY", "2026-08-27")); err != nil {
		t.Fatalf("write chain: %v", err)
	}

	select {
	case batch := <-ch.Chain:
		if batch.Index != "NIFTY" || batch.Expiry != "2026-08-27" {
			t.Errorf("batch routed as %s/%s", batch.Index, batch.Expiry)
		}
		if batch.RecordCount != 2 || len(batch.Rows) != 2 {
			t.Fatalf("record count = %d, want both option legs", batch.RecordCount)
		}
		if batch.BatchID == "" {
			t.Error("batch id missing")
		}
		for _, row := range batch.Rows {
			if row.CycleNum != 7 {
				t.Errorf("row cycle = %d, want 7", row.CycleNum)
			}
		}
	case <-time.After(time.Second):
		t.Fatal("no chain batch delivered")
	}
}

func TestChannelSinkWritesSpotBatch(t *testing.T) {
	ch := channel.NewChannels(appconfig.ChannelsConfig{ChainBuffer: 4, SpotBuffer: 4})
	defer ch.Close()
	sink := NewChannelSink(ch)

	if err := sink.Write(context.Background(), 3, "BANKNIFTY", time.Now(), spotPayload("BANKNIFTY", true)); err != nil {
		t.Fatalf("write spot: %v", err)
	}

	select {
	case batch := <-ch.Spot:
		if batch.RecordCount != 1 {
			t.Fatalf("record count = %d, want 1", batch.RecordCount)
		}
		row := batch.Rows[0]
		if row.Index != "BANKNIFTY" || row.LastPrice != 24810.25 || !row.Stale || row.CycleNum != 3 {
			t.Errorf("unexpected spot row: %+v", row)
		}
	case <-time.After(time.Second):
		t.Fatal("no spot batch delivered")
	}
}

func TestChannelSinkDropsOnFullBufferWithoutError(t *testing.T) {
	ch := channel.NewChannels(appconfig.ChannelsConfig{ChainBuffer: 1, SpotBuffer: 1})
	defer ch.Close()
	sink := NewChannelSink(ch)
	ctx := context.Background()

	if err := sink.Write(ctx, 1, "NIFTY", time.Now(), chainPayload("NIFTY", "2026-08-27")); err != nil {
		t.Fatalf("first write: %v", err)
	}
	// Nobody consumes, so this one is dropped and counted, not surfaced.
	if err := sink.Write(ctx, 1, "NIFTY", time.Now(), chainPayload("NIFTY", "2026-08-27")); err != nil {
		t.Fatalf("dropped write should not error: %v", err)
	}

	stats := ch.GetStats()
	if stats.ChainSent != 1 || stats.ChainDropped != 1 {
		t.Errorf("stats = %+v, want 1 sent and 1 dropped", stats)
	}
}

func TestChannelSinkRejectsEmptyPayload(t *testing.T) {
	ch := channel.NewChannels(appconfig.ChannelsConfig{ChainBuffer: 1, SpotBuffer: 1})
	defer ch.Close()
	sink := NewChannelSink(ch)

	if err := sink.Write(context.Background(), 1, "NIFTY", time.Now(), models.QuoteResponse{}); err == nil {
		t.Fatal("payload without quote or chain should be rejected")
	}
}

func TestMetricsSinkEmitsCycleMetrics(t *testing.T) {
	events := make(chan metrics.Metric, 32)
	id := metrics.RegisterMetricHandler(func(m metrics.Metric) {
		if m.Component == "collector" {
			select {
			case events <- m:
			default:
			}
		}
	})
	t.Cleanup(func() { metrics.UnregisterMetricHandler(id) })

	sink := NewMetricsSink()
	sink.RecordCycle(models.CycleResult{
		CycleNumber: 9,
		StartedAt:   time.Now(),
		Duration:    120 * time.Millisecond,
		Outcomes: []models.IndexOutcome{
			{Index: "NIFTY", Success: true, Rows: 42},
			{Index: "BANKNIFTY", Success: false, ErrorKind: models.ErrKindUpstream},
		},
	})

	seen := map[string]interface{}{}
	timeout := time.After(time.Second)
	for len(seen) < 3 {
		select {
		case m := <-events:
			seen[m.Name] = m.Value
		case <-timeout:
			t.Fatalf("metrics seen so far: %v", seen)
		}
	}

	if rate, ok := seen["cycle_success_rate"].(float64); !ok || rate != 50 {
		t.Errorf("cycle_success_rate = %v, want 50", seen["cycle_success_rate"])
	}
	if _, ok := seen["cycle_duration_ms"]; !ok {
		t.Error("cycle_duration_ms not emitted")
	}
	if rows, ok := seen["cycle_rows"].(int); !ok || rows != 42 {
		t.Errorf("cycle_rows = %v, want 42", seen["cycle_rows"])
	}
}
