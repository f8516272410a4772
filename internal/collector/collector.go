package collector

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	appconfig "optionflow/config"
	"optionflow/internal/market"
	"optionflow/internal/metrics"
	"optionflow/internal/models"
	"optionflow/internal/provider"
	"optionflow/logger"
)

// Collector drives the collection cycles. It owns the tick loop, the market
// gate and the cycle history; the actual per-index work happens in the
// WorkerPool.
type Collector struct {
	config    *appconfig.Config
	client    *provider.Client
	clock     *market.Clock
	pool      *WorkerPool
	storage   StorageSink
	observers []ObservabilitySink
	status    []StatusSink

	ctx      context.Context
	cancel   context.CancelFunc
	stop     chan struct{}
	done     chan struct{}
	wg       *sync.WaitGroup
	mu       sync.RWMutex
	running  bool
	state    models.CollectorState
	cycles   atomic.Uint64
	history  []models.CycleResult
	gatePoll time.Duration
	now      func() time.Time
	log      *logger.Log
}

// NewCollector wires the orchestrator. Observers and status sinks are added
// with AddObserver and AddStatusSink before Start.
func NewCollector(cfg *appconfig.Config, clock *market.Clock, client *provider.Client, storage StorageSink) *Collector {
	return &Collector{
		config:   cfg,
		client:   client,
		clock:    clock,
		pool:     NewWorkerPool(cfg, clock, client, storage),
		storage:  storage,
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
		wg:       &sync.WaitGroup{},
		state:    models.StateWaitingForMarketOpen,
		gatePoll: time.Second,
		now:      time.Now,
		log:      logger.GetLogger(),
	}
}

// AddObserver registers a sink for finished cycle results.
func (c *Collector) AddObserver(sink ObservabilitySink) {
	if sink == nil {
		return
	}
	c.mu.Lock()
	c.observers = append(c.observers, sink)
	c.mu.Unlock()
}

// AddStatusSink registers a sink for operator-facing cycle state.
func (c *Collector) AddStatusSink(sink StatusSink) {
	if sink == nil {
		return
	}
	c.mu.Lock()
	c.status = append(c.status, sink)
	c.mu.Unlock()
}

// Start launches the cycle loop.
func (c *Collector) Start(ctx context.Context) error {
	c.mu.Lock()
	if c.running {
		c.mu.Unlock()
		return fmt.Errorf("collector already running")
	}
	if len(c.config.Collector.Indices) == 0 {
		c.mu.Unlock()
		return fmt.Errorf("no indices configured")
	}
	c.running = true
	c.ctx, c.cancel = context.WithCancel(ctx)
	c.mu.Unlock()

	c.wg.Add(1)
	go c.run()
	go c.metricsReporter(c.ctx)

	c.log.WithComponent("collector").WithFields(logger.Fields{
		"indices":  c.config.Collector.Indices,
		"interval": c.interval().String(),
		"gating":   c.config.Market.Gating,
	}).Info("collector started")
	return nil
}

// Stop winds the collector down. An in-flight cycle gets the configured
// grace period to finish before its workers are cancelled.
func (c *Collector) Stop() {
	c.mu.Lock()
	if !c.running {
		c.mu.Unlock()
		return
	}
	c.running = false
	c.mu.Unlock()

	c.setState(models.StateStopping)
	close(c.stop)

	grace := c.config.Collector.ShutdownGrace
	if grace <= 0 {
		grace = 10 * time.Second
	}

	finished := make(chan struct{})
	go func() {
		c.wg.Wait()
		close(finished)
	}()

	select {
	case <-finished:
	case <-time.After(grace):
		c.log.WithComponent("collector").WithFields(logger.Fields{
			"grace": grace.String(),
		}).Warn("grace period elapsed; cancelling in-flight cycle")
		c.cancel()
		<-finished
	}

	c.cancel()
	c.setState(models.StateStopped)
	c.log.WithComponent("collector").WithFields(logger.Fields{
		"cycles_completed": c.cycles.Load(),
	}).Info("collector stopped")
}

// Done is closed when the cycle loop exits, either through Stop or because
// the market closed with gating enabled.
func (c *Collector) Done() <-chan struct{} {
	return c.done
}

// State returns the current lifecycle state.
func (c *Collector) State() models.CollectorState {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.state
}

// CycleCount returns the number of cycles started so far.
func (c *Collector) CycleCount() uint64 {
	return c.cycles.Load()
}

// History returns a copy of the retained cycle results, oldest first.
func (c *Collector) History() []models.CycleResult {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]models.CycleResult, len(c.history))
	copy(out, c.history)
	return out
}

func (c *Collector) interval() time.Duration {
	if c.config.Collector.Interval > 0 {
		return c.config.Collector.Interval
	}
	return time.Minute
}

func (c *Collector) setState(s models.CollectorState) {
	c.mu.Lock()
	prev := c.state
	c.state = s
	c.mu.Unlock()
	if prev != s {
		c.log.WithComponent("collector").WithFields(logger.Fields{
			"from": string(prev),
			"to":   string(s),
		}).Info("collector state changed")
	}
}

func (c *Collector) run() {
	defer c.wg.Done()
	defer close(c.done)

	ticker := time.NewTicker(c.interval())
	defer ticker.Stop()

	gating := c.config.Market.Gating
	opened := false

	for {
		now := c.now()
		if gating && !c.clock.IsOpen(now) {
			if opened {
				c.log.WithComponent("collector").WithFields(logger.Fields{
					"next_open": c.clock.NextOpen(now).Format(time.RFC3339),
				}).Info("market closed; collector winding down")
				c.setState(models.StateStopping)
				return
			}
			c.setState(models.StateWaitingForMarketOpen)
			select {
			case <-time.After(c.gatePoll):
				continue
			case <-c.stop:
				return
			case <-c.ctx.Done():
				return
			}
		}

		opened = true
		c.setState(models.StateRunning)
		c.runCycle()

		select {
		case <-ticker.C:
		case <-c.stop:
			return
		case <-c.ctx.Done():
			return
		}
	}
}

// runCycle executes exactly one pass over all indices. Cycles never overlap:
// the next tick is not serviced until this call returns.
func (c *Collector) runCycle() {
	num := c.cycles.Add(1)
	wallStart := time.Now()

	cycle := &models.CycleContext{
		CycleNumber:     num,
		StartedAt:       c.now(),
		Indices:         c.config.Collector.Indices,
		PerIndexTimeout: c.config.Collector.IndexTimeout,
	}

	c.log.WithComponent("collector").WithFields(logger.Fields{
		"cycle":   num,
		"indices": len(cycle.Indices),
	}).Debug("cycle started")

	outcomes := c.pool.Run(c.ctx, cycle)

	result := models.CycleResult{
		CycleNumber: num,
		StartedAt:   cycle.StartedAt,
		Duration:    time.Since(wallStart),
		Outcomes:    outcomes,
	}
	c.appendHistory(result)

	c.mu.RLock()
	observers := c.observers
	status := c.status
	c.mu.RUnlock()

	for _, obs := range observers {
		obs.RecordCycle(result)
	}
	rate := result.SuccessRate()
	for _, st := range status {
		st.Update(c.client.Name(), num, result.Duration, rate)
	}

	c.log.WithComponent("collector").WithFields(logger.Fields{
		"cycle":    num,
		"duration": result.Duration.String(),
		"success":  result.SuccessCount(),
		"failed":   len(outcomes) - result.SuccessCount(),
		"rows":     result.TotalRows(),
	}).Info("cycle complete")
}

func (c *Collector) appendHistory(r models.CycleResult) {
	limit := c.config.Collector.CycleHistory
	if limit <= 0 {
		limit = 64
	}
	c.mu.Lock()
	c.history = append(c.history, r)
	if len(c.history) > limit {
		c.history = c.history[len(c.history)-limit:]
	}
	c.mu.Unlock()
}

func (c *Collector) metricsReporter(ctx context.Context) {
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			metrics.EmitMetric(c.log, "collector", "cycles_completed", int64(c.cycles.Load()), "counter", logger.Fields{
				"state": string(c.State()),
			})
		}
	}
}
