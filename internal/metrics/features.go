package metrics

import (
	"sync/atomic"

	appconfig "optionflow/config"
)

// Feature identifies an optional metric family that can be switched off via
// configuration to reduce emission volume.
type Feature string

const (
	// FeatureChannelSize covers periodic buffer occupancy gauges.
	FeatureChannelSize Feature = "channel_size"
	// FeatureFetchLatency covers per-fetch latency gauges.
	FeatureFetchLatency Feature = "fetch_latency"
)

type featureState struct {
	channelSize  bool
	fetchLatency bool
}

var features atomic.Pointer[featureState]

func init() {
	features.Store(&featureState{channelSize: true, fetchLatency: true})
}

// Configure applies the metrics section of the configuration. It is resolved
// once at startup; later calls replace the whole state.
func Configure(cfg appconfig.MetricsConfig) {
	features.Store(&featureState{
		channelSize:  cfg.ChannelSize,
		fetchLatency: cfg.FetchLatency,
	})
}

// IsFeatureEnabled reports whether the given metric family should be emitted.
func IsFeatureEnabled(feature Feature) bool {
	state := features.Load()
	if state == nil {
		return true
	}
	switch feature {
	case FeatureChannelSize:
		return state.channelSize
	case FeatureFetchLatency:
		return state.fetchLatency
	default:
		return true
	}
}

// metricFeature maps individual metric names onto the feature that gates
// them. Metrics without a mapping are always emitted.
func metricFeature(name string) (Feature, bool) {
	switch name {
	case "chain_buffer_length", "spot_buffer_length":
		return FeatureChannelSize, true
	case "fetch_latency_ms":
		return FeatureFetchLatency, true
	default:
		return "", false
	}
}
