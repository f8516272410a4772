package dashboard

import (
	"sync"
	"time"

	"optionflow/internal/channel"
	"optionflow/internal/metrics"
	"optionflow/internal/models"
	"optionflow/internal/provider"
)

// StatusFuncs are pull hooks into the rest of the service. Each is optional;
// unbound hooks simply leave their section out of the status payload.
type StatusFuncs struct {
	CollectorState func() models.CollectorState
	ProviderStats  func() provider.ClientStats
	WriterStats    func() metrics.WriterStats
	ChannelStats   func() channel.Stats
}

type statusUpdate struct {
	Provider     string
	CycleNumber  uint64
	LastDuration time.Duration
	SuccessRate  float64
	UpdatedAt    time.Time
}

// StatusStore receives cycle results and status updates pushed by the
// collector and serves them to the dashboard handlers. The collector calls
// RecordCycle and Update synchronously at the end of every cycle.
type StatusStore struct {
	mu     sync.RWMutex
	cycles []models.CycleResult
	limit  int
	last   statusUpdate
	funcs  StatusFuncs
}

func newStatusStore(limit int) *StatusStore {
	if limit <= 0 {
		limit = 64
	}
	return &StatusStore{limit: limit}
}

// Bind attaches the pull hooks. Called once during startup wiring.
func (s *StatusStore) Bind(funcs StatusFuncs) {
	if s == nil {
		return
	}
	s.mu.Lock()
	s.funcs = funcs
	s.mu.Unlock()
}

// RecordCycle retains the result of a completed collection cycle.
func (s *StatusStore) RecordCycle(result models.CycleResult) {
	if s == nil {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	s.cycles = append(s.cycles, result)
	if len(s.cycles) > s.limit {
		s.cycles = append([]models.CycleResult(nil), s.cycles[len(s.cycles)-s.limit:]...)
	}
}

// Update refreshes the headline status line.
func (s *StatusStore) Update(provider string, cycle uint64, lastDuration time.Duration, successRate float64) {
	if s == nil {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	s.last = statusUpdate{
		Provider:     provider,
		CycleNumber:  cycle,
		LastDuration: lastDuration,
		SuccessRate:  successRate,
		UpdatedAt:    time.Now(),
	}
}

func (s *StatusStore) lastUpdate() statusUpdate {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.last
}

func (s *StatusStore) hooks() StatusFuncs {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.funcs
}

func (s *StatusStore) history() []models.CycleResult {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]models.CycleResult, len(s.cycles))
	copy(out, s.cycles)
	return out
}
