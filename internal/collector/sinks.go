package collector

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"optionflow/internal/channel"
	"optionflow/internal/metrics"
	"optionflow/internal/models"
	"optionflow/logger"
)

// StorageSink receives every successful per-index fetch for durable storage.
// Implementations own their durability and retry semantics; a sink error is
// logged by the caller but never fails the index outcome.
type StorageSink interface {
	Write(ctx context.Context, cycle uint64, index string, ts time.Time, payload models.QuoteResponse) error
}

// ObservabilitySink receives every finished cycle result.
type ObservabilitySink interface {
	RecordCycle(result models.CycleResult)
}

// StatusSink receives operator-facing state after every cycle.
type StatusSink interface {
	Update(provider string, cycle uint64, lastDuration time.Duration, successRate float64)
}

// ChannelSink flattens fetched payloads into storage rows and offers them to
// the writer buffers. A full buffer drops the batch and counts it rather than
// stalling the cycle.
type ChannelSink struct {
	channels *channel.Channels
	log      *logger.Log
}

// NewChannelSink wires the sink to the collector-to-writer buffers.
func NewChannelSink(ch *channel.Channels) *ChannelSink {
	return &ChannelSink{
		channels: ch,
		log:      logger.GetLogger(),
	}
}

// Write converts one fetch payload into a batch and hands it to the writer.
func (s *ChannelSink) Write(ctx context.Context, cycle uint64, index string, ts time.Time, payload models.QuoteResponse) error {
	switch {
	case payload.Chain != nil:
		rows := models.FlattenChain(payload.Chain, cycle)
		if len(rows) == 0 {
			return nil
		}
		batch := models.ChainBatch{
			BatchID:     uuid.New().String(),
			Index:       index,
			Expiry:      payload.Chain.Expiry,
			Rows:        rows,
			RecordCount: len(rows),
			Timestamp:   ts,
		}
		if !s.channels.SendChain(ctx, batch) {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			metrics.EmitDropMetric(s.log, metrics.DropMetricChainBatch, index, batch.Expiry, "storage")
			metrics.IncrementBatchDropped("chain")
			return nil
		}
		metrics.AddRowsCollected(index, len(rows))
		return nil

	case payload.Quote != nil:
		lastPrice, _ := payload.Quote.LastPrice.Float64()
		row := models.SpotRow{
			Index:     index,
			LastPrice: lastPrice,
			Source:    string(payload.Source),
			Stale:     payload.Stale,
			Timestamp: ts,
			CycleNum:  cycle,
		}
		batch := models.SpotBatch{
			BatchID:     uuid.New().String(),
			Index:       index,
			Rows:        []models.SpotRow{row},
			RecordCount: 1,
			Timestamp:   ts,
		}
		if !s.channels.SendSpot(ctx, batch) {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			metrics.EmitDropMetric(s.log, metrics.DropMetricSpotBatch, index, "", "storage")
			metrics.IncrementBatchDropped("spot")
			return nil
		}
		metrics.AddRowsCollected(index, 1)
		return nil

	default:
		return fmt.Errorf("storage write for %s: payload carries neither quote nor chain", index)
	}
}

// MetricsSink publishes cycle results as metrics.
type MetricsSink struct {
	log *logger.Log
}

// NewMetricsSink returns the standard observability sink.
func NewMetricsSink() *MetricsSink {
	return &MetricsSink{log: logger.GetLogger()}
}

// RecordCycle emits the per-cycle metric set.
func (s *MetricsSink) RecordCycle(result models.CycleResult) {
	logger.IncrementCycle()

	successPct := result.SuccessRate() * 100
	metrics.ObserveCycle(result.Duration, successPct)

	metrics.EmitMetric(s.log, "collector", "cycle_duration_ms", result.Duration.Milliseconds(), "gauge", logger.Fields{
		"unit": "milliseconds",
	})
	metrics.EmitMetric(s.log, "collector", "cycle_success_rate", successPct, "gauge", logger.Fields{
		"unit": "percent",
	})
	metrics.EmitMetric(s.log, "collector", "cycle_rows", result.TotalRows(), "counter", logger.Fields{})

	for _, outcome := range result.Outcomes {
		if outcome.Success {
			metrics.IncrementFetchSuccess(outcome.Index)
			continue
		}
		metrics.IncrementFetchError(outcome.Index, string(outcome.ErrorKind))
	}
}
