// Registers:
//
//	#OptionFlow_fetch_success_total
//	#OptionFlow_fetch_errors_total
//	#OptionFlow_cycles_total
//	#OptionFlow_cycle_duration_seconds
//	#OptionFlow_cycle_success_rate
//	#OptionFlow_rows_collected_total
//	#OptionFlow_batches_dropped_total
//	#OptionFlow_buffer_length
//	#go_* and process_* system metrics
//
// The scrape endpoint is served by the dashboard via Handler.
package metrics

import (
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	once          sync.Once
	fetchSuccess  *prometheus.CounterVec
	fetchErrors   *prometheus.CounterVec
	cyclesTotal   prometheus.Counter
	cycleDuration prometheus.Histogram
	cycleSuccess  prometheus.Gauge
	rowsCollected *prometheus.CounterVec
	batchesDrop   *prometheus.CounterVec
	bufferLength  *prometheus.GaugeVec
)

func Init() {
	once.Do(func() {
		fetchSuccess = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "OptionFlow_fetch_success_total",
				Help: "Number of successful spot/chain fetches",
			},
			[]string{"index"},
		)

		fetchErrors = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "OptionFlow_fetch_errors_total",
				Help: "Number of failed fetches by error kind",
			},
			[]string{"index", "kind"},
		)

		cyclesTotal = prometheus.NewCounter(prometheus.CounterOpts{
			Name: "OptionFlow_cycles_total",
			Help: "Number of completed collection cycles",
		})

		cycleDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "OptionFlow_cycle_duration_seconds",
			Help:    "Wall time of one collection cycle",
			Buckets: prometheus.ExponentialBuckets(0.05, 2, 10),
		})

		cycleSuccess = prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "OptionFlow_cycle_success_rate",
			Help: "Share of indices collected successfully in the last cycle (0-100)",
		})

		rowsCollected = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "OptionFlow_rows_collected_total",
				Help: "Number of flattened rows handed to storage",
			},
			[]string{"index"},
		)

		batchesDrop = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "OptionFlow_batches_dropped_total",
				Help: "Number of batches dropped on a full buffer",
			},
			[]string{"stream"},
		)

		bufferLength = prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "OptionFlow_buffer_length",
				Help: "Current occupancy of the batch buffers",
			},
			[]string{"buffer"},
		)

		_ = prometheus.Register(fetchSuccess)
		_ = prometheus.Register(fetchErrors)
		_ = prometheus.Register(cyclesTotal)
		_ = prometheus.Register(cycleDuration)
		_ = prometheus.Register(cycleSuccess)
		_ = prometheus.Register(rowsCollected)
		_ = prometheus.Register(batchesDrop)
		_ = prometheus.Register(bufferLength)
		_ = prometheus.Register(collectors.NewGoCollector())
		_ = prometheus.Register(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	})
}

// Handler exposes the Prometheus scrape endpoint for the dashboard server.
func Handler() http.Handler {
	return promhttp.Handler()
}

// IncrementFetchSuccess increases the success counter for a given index.
func IncrementFetchSuccess(index string) {
	if fetchSuccess != nil {
		fetchSuccess.WithLabelValues(index).Inc()
	}
}

// IncrementFetchError increases the error counter for a given index and error kind.
func IncrementFetchError(index, kind string) {
	if fetchErrors != nil {
		fetchErrors.WithLabelValues(index, kind).Inc()
	}
}

// ObserveCycle records the outcome of one completed collection cycle.
func ObserveCycle(duration time.Duration, successRate float64) {
	if cyclesTotal != nil {
		cyclesTotal.Inc()
	}
	if cycleDuration != nil {
		cycleDuration.Observe(duration.Seconds())
	}
	if cycleSuccess != nil {
		cycleSuccess.Set(successRate)
	}
}

// AddRowsCollected counts flattened rows handed to storage for one index.
func AddRowsCollected(index string, rows int) {
	if rowsCollected != nil && rows > 0 {
		rowsCollected.WithLabelValues(index).Add(float64(rows))
	}
}

// IncrementBatchDropped counts a dropped batch for the named stream.
func IncrementBatchDropped(stream string) {
	if batchesDrop != nil {
		batchesDrop.WithLabelValues(stream).Inc()
	}
}

// SetBufferLength records the current occupancy of a batch buffer.
func SetBufferLength(buffer string, length int) {
	if bufferLength != nil {
		bufferLength.WithLabelValues(buffer).Set(float64(length))
	}
}
