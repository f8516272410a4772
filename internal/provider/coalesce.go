package provider

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	appconfig "optionflow/config"
	"optionflow/internal/metrics"
	"optionflow/internal/models"
	"optionflow/logger"
)

// BatchFetchFunc performs one upstream call for a set of instruments and
// returns a response per key. Keys absent from the map are reported to their
// waiters as not found.
type BatchFetchFunc func(ctx context.Context, keys []models.InstrumentKey) (map[models.InstrumentKey]models.QuoteResponse, error)

type coalesceResult struct {
	resp models.QuoteResponse
	err  error
}

// coalesceWindow is one open batching window. Requests for the same key
// share a slot; each caller gets its own buffered channel so delivery never
// blocks on a waiter that already gave up.
type coalesceWindow struct {
	id       string
	keys     []models.InstrumentKey
	waiters  map[models.InstrumentKey][]chan coalesceResult
	timer    *time.Timer
	openedAt time.Time
}

// RequestCoalescer merges quote requests that arrive within a short window
// into a single upstream batch call. A window closes when its timer fires or
// when it reaches the distinct-key limit, whichever comes first. A failed
// flush fans its error out to every waiter of the window.
type RequestCoalescer struct {
	window   time.Duration
	maxBatch int
	fetch    BatchFetchFunc

	ctx     context.Context
	wg      *sync.WaitGroup
	mu      sync.Mutex
	running bool
	pending *coalesceWindow
	log     *logger.Log

	requestsJoined atomic.Int64
	batchesFlushed atomic.Int64
	flushErrors    atomic.Int64
}

// NewRequestCoalescer builds a coalescer that flushes through fetch.
func NewRequestCoalescer(cfg appconfig.CoalesceConfig, fetch BatchFetchFunc) *RequestCoalescer {
	window := cfg.Window
	if window <= 0 {
		window = 20 * time.Millisecond
	}
	maxBatch := cfg.MaxBatch
	if maxBatch < 1 {
		maxBatch = 25
	}
	return &RequestCoalescer{
		window:   window,
		maxBatch: maxBatch,
		fetch:    fetch,
		wg:       &sync.WaitGroup{},
		log:      logger.GetLogger(),
	}
}

// Start makes the coalescer accept requests. Flushes use the supplied
// context so a single caller's cancellation cannot abort a shared batch.
func (c *RequestCoalescer) Start(ctx context.Context) error {
	c.mu.Lock()
	if c.running {
		c.mu.Unlock()
		return fmt.Errorf("request coalescer already running")
	}
	c.running = true
	c.ctx = ctx
	c.mu.Unlock()

	go c.metricsReporter(ctx)

	c.log.WithComponent("coalescer").WithFields(logger.Fields{
		"window":    c.window.String(),
		"max_batch": c.maxBatch,
	}).Info("request coalescer started")
	return nil
}

// Stop flushes the open window, waits for in-flight flushes and rejects
// further requests.
func (c *RequestCoalescer) Stop() {
	c.mu.Lock()
	if !c.running {
		c.mu.Unlock()
		return
	}
	c.running = false
	var detached *coalesceWindow
	if c.pending != nil {
		detached = c.detachLocked(c.pending)
	}
	c.mu.Unlock()

	c.log.WithComponent("coalescer").Info("stopping request coalescer")
	if detached != nil {
		c.flush(detached)
	}
	c.wg.Wait()
	c.log.WithComponent("coalescer").Info("request coalescer stopped")
}

// Request joins the open window, or opens one, and blocks until the window
// flushes or ctx is done. Duplicate keys within a window occupy one upstream
// slot and every caller still receives the response.
func (c *RequestCoalescer) Request(ctx context.Context, key models.InstrumentKey) (models.QuoteResponse, error) {
	c.mu.Lock()
	if !c.running {
		c.mu.Unlock()
		return models.QuoteResponse{}, fmt.Errorf("request coalescer not running")
	}

	w := c.pending
	if w == nil {
		w = &coalesceWindow{
			id:       uuid.New().String(),
			waiters:  make(map[models.InstrumentKey][]chan coalesceResult),
			openedAt: time.Now(),
		}
		w.timer = time.AfterFunc(c.window, func() { c.flushAfterWindow(w) })
		c.pending = w
	}

	ch := make(chan coalesceResult, 1)
	if _, dup := w.waiters[key]; !dup {
		w.keys = append(w.keys, key)
	}
	w.waiters[key] = append(w.waiters[key], ch)
	c.requestsJoined.Add(1)

	var full *coalesceWindow
	if len(w.keys) >= c.maxBatch {
		full = c.detachLocked(w)
	}
	c.mu.Unlock()

	// The caller that filled the window performs the flush; its co-waiters
	// receive through their channels.
	if full != nil {
		c.flush(full)
	}

	select {
	case res := <-ch:
		return res.resp, res.err
	case <-ctx.Done():
		return models.QuoteResponse{}, ctx.Err()
	}
}

// detachLocked takes ownership of w away from the pending slot. It returns
// nil when another path already detached it. Callers must hold c.mu.
func (c *RequestCoalescer) detachLocked(w *coalesceWindow) *coalesceWindow {
	if c.pending != w {
		return nil
	}
	c.pending = nil
	w.timer.Stop()
	c.wg.Add(1)
	return w
}

func (c *RequestCoalescer) flushAfterWindow(w *coalesceWindow) {
	c.mu.Lock()
	detached := c.detachLocked(w)
	c.mu.Unlock()
	if detached != nil {
		c.flush(detached)
	}
}

func (c *RequestCoalescer) flush(w *coalesceWindow) {
	defer c.wg.Done()

	start := time.Now()
	results, err := c.fetch(c.ctx, w.keys)
	c.batchesFlushed.Add(1)

	log := c.log.WithComponent("coalescer").WithFields(logger.Fields{
		"batch_id": w.id,
		"keys":     len(w.keys),
	})

	if err != nil {
		c.flushErrors.Add(1)
		log.WithError(err).Warn("batch flush failed")
		ferr := &flushError{batchID: w.id, cause: err}
		for _, waiters := range w.waiters {
			for _, ch := range waiters {
				ch <- coalesceResult{err: ferr}
			}
		}
		return
	}

	for _, key := range w.keys {
		var res coalesceResult
		if resp, ok := results[key]; ok {
			resp.Source = models.SourceBatch
			res.resp = resp
		} else {
			res.err = fmt.Errorf("%w: %s", ErrNotFound, key.String())
		}
		for _, ch := range w.waiters[key] {
			ch <- res
		}
	}

	log.WithFields(logger.Fields{
		"duration": time.Since(start).String(),
	}).Debug("batch flushed")
}

// Stats returns cumulative request, flush and flush-error counts.
func (c *RequestCoalescer) Stats() (joined, flushed, failed int64) {
	return c.requestsJoined.Load(), c.batchesFlushed.Load(), c.flushErrors.Load()
}

func (c *RequestCoalescer) metricsReporter(ctx context.Context) {
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			joined, flushed, failed := c.Stats()
			metrics.EmitMetric(c.log, "coalescer", "requests_joined", joined, "counter", logger.Fields{})
			metrics.EmitMetric(c.log, "coalescer", "batches_flushed", flushed, "counter", logger.Fields{})
			metrics.EmitMetric(c.log, "coalescer", "flush_errors", failed, "counter", logger.Fields{})
		}
	}
}

// flushError ties a failed flush to every request that joined the window.
// It matches both ErrBatchFlush and the underlying cause under errors.Is.
type flushError struct {
	batchID string
	cause   error
}

func (e *flushError) Error() string {
	return fmt.Sprintf("flush batch %s: %v", e.batchID, e.cause)
}

func (e *flushError) Unwrap() []error {
	return []error{ErrBatchFlush, e.cause}
}
