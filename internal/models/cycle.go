package models

import "time"

// CollectorState is the lifecycle state of the collection orchestrator.
type CollectorState string

const (
	StateWaitingForMarketOpen CollectorState = "WAITING_FOR_MARKET_OPEN"
	StateRunning              CollectorState = "RUNNING"
	StateStopping             CollectorState = "STOPPING"
	StateStopped              CollectorState = "STOPPED"
)

// ErrorKind buckets provider failures for outcome reporting and metrics.
type ErrorKind string

const (
	ErrKindNone             ErrorKind = ""
	ErrKindRateLimitTimeout ErrorKind = "rate_limit_timeout"
	ErrKindCircuitOpen      ErrorKind = "circuit_open"
	ErrKindUpstream         ErrorKind = "upstream"
	ErrKindBatchFlush       ErrorKind = "batch_flush"
	ErrKindDeadline         ErrorKind = "deadline_exceeded"
	ErrKindInternal         ErrorKind = "internal"
)

// CycleContext carries everything one collection cycle needs. It is built
// once per tick by the orchestrator and handed read-only to the workers.
type CycleContext struct {
	CycleNumber     uint64        `json:"cycle_number"`
	StartedAt       time.Time     `json:"started_at"`
	Indices         []string      `json:"indices"`
	PerIndexTimeout time.Duration `json:"per_index_timeout"`
}

// IndexOutcome is the per-index result of a cycle. A failed index never
// aborts the cycle; its outcome simply records the failure.
type IndexOutcome struct {
	Index     string        `json:"index"`
	Success   bool          `json:"success"`
	Duration  time.Duration `json:"duration"`
	Rows      int           `json:"rows"`
	Expiries  []string      `json:"expiries,omitempty"`
	ErrorKind ErrorKind     `json:"error_kind,omitempty"`
	Err       string        `json:"error,omitempty"`
}

// CycleResult aggregates the outcomes of one complete cycle.
type CycleResult struct {
	CycleNumber uint64         `json:"cycle_number"`
	StartedAt   time.Time      `json:"started_at"`
	Duration    time.Duration  `json:"duration"`
	Outcomes    []IndexOutcome `json:"outcomes"`
}

// SuccessCount returns how many indices completed without error.
func (r CycleResult) SuccessCount() int {
	n := 0
	for _, o := range r.Outcomes {
		if o.Success {
			n++
		}
	}
	return n
}

// SuccessRate returns the fraction of indices that succeeded, 0 when the
// cycle had no work.
func (r CycleResult) SuccessRate() float64 {
	if len(r.Outcomes) == 0 {
		return 0
	}
	return float64(r.SuccessCount()) / float64(len(r.Outcomes))
}

// TotalRows sums the rows produced across all indices in the cycle.
func (r CycleResult) TotalRows() int {
	n := 0
	for _, o := range r.Outcomes {
		n += o.Rows
	}
	return n
}
