package metrics

import (
	"context"
	"time"

	"optionflow/internal/channel"
	"optionflow/logger"
)

// StartChannelSizeMetrics emits occupancy metrics for the chain and spot batch
// buffers. Metrics are logged every `interval` until the context is cancelled.
// When interval <= 0, a one-second cadence is used.
func StartChannelSizeMetrics(ctx context.Context, channels *channel.Channels, interval time.Duration) {
	if !IsFeatureEnabled(FeatureChannelSize) {
		return
	}
	if channels == nil {
		return
	}
	if interval <= 0 {
		interval = time.Second
	}

	log := logger.GetLogger()
	ticker := time.NewTicker(interval)
	component := "channel_buffers"

	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				chainLen, spotLen := len(channels.Chain), len(channels.Spot)
				SetBufferLength("chain", chainLen)
				SetBufferLength("spot", spotLen)
				EmitMetric(log, component, "chain_buffer_length", chainLen, "gauge", logger.Fields{
					"buffer":   "chain",
					"capacity": cap(channels.Chain),
				})
				EmitMetric(log, component, "spot_buffer_length", spotLen, "gauge", logger.Fields{
					"buffer":   "spot",
					"capacity": cap(channels.Spot),
				})
			}
		}
	}()
}
