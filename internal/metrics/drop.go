package metrics

import "optionflow/logger"

// DropMetric identifies the metric name emitted when channel messages are dropped.
type DropMetric string

const (
	// DropMetricChainBatch records option chain batches dropped before writing.
	DropMetricChainBatch DropMetric = "chain_batches_dropped"
	// DropMetricSpotBatch records spot quote batches dropped before writing.
	DropMetricSpotBatch DropMetric = "spot_batches_dropped"
)

// EmitDropMetric logs and emits a metric representing a dropped channel batch. The
// metric value is always incremented by one so callers should invoke this helper for
// each dropped batch. Optional metadata (index, expiry, stage) is added to the metric
// fields when provided which enables downstream aggregation per index and stage.
func EmitDropMetric(log *logger.Log, metric DropMetric, index, expiry, stage string) {
	fields := logger.Fields{}
	if index != "" {
		fields["index"] = index
	}
	if expiry != "" {
		fields["expiry"] = expiry
	}
	if stage != "" {
		fields["stage"] = stage
	}

	EmitMetric(log, "channel_drops", string(metric), 1, "counter", fields)
}
