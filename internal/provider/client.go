package provider

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	appconfig "optionflow/config"
	"optionflow/internal/metrics"
	"optionflow/internal/models"
	"optionflow/logger"
)

// Client wraps a raw backend with the resilience pipeline: TTL cache in
// front, request coalescing for quote lookups, then circuit breaker gate,
// token-bucket admission and bounded retry around every upstream call. One
// Client is shared by all index workers; its internals serialize their own
// state, so callers never coordinate.
type Client struct {
	backend Backend

	cache     *ResponseCache
	coalescer *RequestCoalescer
	breaker   *CircuitBreaker
	limiter   *RateLimiter
	retry     appconfig.RetryConfig

	suppressFallback bool

	ctx     context.Context
	wg      *sync.WaitGroup
	mu      sync.RWMutex
	running bool
	log     *logger.Log

	lastMu   sync.RWMutex
	lastGood map[models.InstrumentKey]models.QuoteResponse

	fallbacks atomic.Uint64
}

// ClientStats is a point-in-time snapshot of the pipeline internals for
// status reporting.
type ClientStats struct {
	Backend           string  `json:"backend"`
	BreakerState      string  `json:"breaker_state"`
	Tokens            float64 `json:"tokens"`
	CacheSize         int     `json:"cache_size"`
	CacheHits         uint64  `json:"cache_hits"`
	CacheMisses       uint64  `json:"cache_misses"`
	CacheEvictions    uint64  `json:"cache_evictions"`
	RequestsCoalesced int64   `json:"requests_coalesced"`
	BatchesFlushed    int64   `json:"batches_flushed"`
	FlushErrors       int64   `json:"flush_errors"`
	Fallbacks         uint64  `json:"fallbacks"`
}

// NewClient assembles the pipeline around backend.
func NewClient(cfg *appconfig.Config, backend Backend) *Client {
	c := &Client{
		backend:          backend,
		cache:            NewResponseCache(cfg.Provider.Cache),
		breaker:          NewCircuitBreaker("provider", cfg.Provider.CircuitBreaker),
		limiter:          NewRateLimiter(cfg.Provider.RateLimit),
		retry:            cfg.Provider.Retry,
		suppressFallback: cfg.Provider.SuppressThrottledFallback,
		wg:               &sync.WaitGroup{},
		log:              logger.GetLogger(),
		lastGood:         make(map[models.InstrumentKey]models.QuoteResponse),
	}
	c.coalescer = NewRequestCoalescer(cfg.Provider.Coalesce, c.fetchBatch)
	return c
}

// Start brings up the coalescer and the cache sweep.
func (c *Client) Start(ctx context.Context) error {
	c.mu.Lock()
	if c.running {
		c.mu.Unlock()
		return fmt.Errorf("provider client already running")
	}
	c.running = true
	c.ctx = ctx
	c.mu.Unlock()

	if err := c.coalescer.Start(ctx); err != nil {
		return err
	}

	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		c.cache.StartSweep(ctx)
	}()

	c.log.WithComponent("provider_client").WithFields(logger.Fields{
		"backend":           c.backend.Name(),
		"rate_limit":        c.limiter.Limit(),
		"burst":             c.limiter.Burst(),
		"retry_attempts":    c.retry.MaxAttempts,
		"suppress_fallback": c.suppressFallback,
	}).Info("provider client started")
	return nil
}

// Stop drains the coalescer and background goroutines.
func (c *Client) Stop() {
	c.mu.Lock()
	if !c.running {
		c.mu.Unlock()
		return
	}
	c.running = false
	c.mu.Unlock()

	c.log.WithComponent("provider_client").Info("stopping provider client")
	c.coalescer.Stop()
	c.wg.Wait()
	c.log.WithComponent("provider_client").Info("provider client stopped")
}

// Name reports the underlying backend name for status surfaces.
func (c *Client) Name() string {
	return c.backend.Name()
}

// Quote resolves one instrument through cache and coalescer. Concurrent
// callers inside one batching window share a single upstream call.
func (c *Client) Quote(ctx context.Context, key models.InstrumentKey) (models.QuoteResponse, error) {
	if err := key.Validate(); err != nil {
		return models.QuoteResponse{}, err
	}
	if resp, ok := c.cache.Get(key); ok {
		return resp, nil
	}
	return c.coalescer.Request(ctx, key)
}

// Quotes resolves a set of instruments concurrently. The callers all land
// in the same coalescing window, so the whole set usually costs one
// upstream call. Failed keys are absent from the result and their errors
// joined into the returned error.
func (c *Client) Quotes(ctx context.Context, keys []models.InstrumentKey) (map[models.InstrumentKey]models.QuoteResponse, error) {
	results := make(map[models.InstrumentKey]models.QuoteResponse, len(keys))
	var (
		resMu sync.Mutex
		errs  []error
		wg    sync.WaitGroup
	)

	for _, key := range keys {
		wg.Add(1)
		go func(key models.InstrumentKey) {
			defer wg.Done()
			resp, err := c.Quote(ctx, key)
			resMu.Lock()
			defer resMu.Unlock()
			if err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", key.String(), err))
				return
			}
			results[key] = resp
		}(key)
	}
	wg.Wait()

	return results, errors.Join(errs...)
}

// Spot returns the current index level. A throttled batch path falls back
// to the dedicated last-price call; with fallback suppression on, a stale
// response is synthesized from the most recent good data instead of
// spending more upstream credit.
func (c *Client) Spot(ctx context.Context, index string) (models.QuoteResponse, error) {
	key := models.SpotKey(index)
	resp, err := c.Quote(ctx, key)
	if err == nil {
		if resp.Source != models.SourceCache {
			logger.IncrementSpotFetch()
		}
		return resp, nil
	}
	if !throttled(err) {
		return models.QuoteResponse{}, err
	}

	if c.suppressFallback {
		if stale, ok := c.synthesizeSpot(key, err); ok {
			return stale, nil
		}
		return models.QuoteResponse{}, err
	}
	return c.fetchSpotDirect(ctx, key)
}

// fetchSpotDirect issues the last-price fallback call outside the
// coalescer. Each attempt still pays the breaker gate and a limiter token.
func (c *Client) fetchSpotDirect(ctx context.Context, key models.InstrumentKey) (models.QuoteResponse, error) {
	start := time.Now()
	var resp models.QuoteResponse
	err := c.execute(ctx, "spot_direct", func(callCtx context.Context) error {
		var ferr error
		resp, ferr = c.backend.FetchSpot(callCtx, key.Index)
		return ferr
	})
	if err != nil {
		return models.QuoteResponse{}, fmt.Errorf("fetch spot %s: %w", key.Index, err)
	}

	c.cache.Put(key, resp)
	c.rememberSpot(key, resp)
	c.fallbacks.Add(1)
	logger.IncrementSpotFetch()
	c.emitLatency("spot_direct", key.Index, time.Since(start))
	return resp, nil
}

// Chain fetches a full option chain. Chains bypass the coalescer: every
// chain is its own upstream call and concurrent repeats are already
// absorbed by the cache.
func (c *Client) Chain(ctx context.Context, index, expiry string) (models.QuoteResponse, error) {
	key := models.ChainKey(index, expiry)
	if err := key.Validate(); err != nil {
		return models.QuoteResponse{}, err
	}
	if resp, ok := c.cache.Get(key); ok {
		return resp, nil
	}

	start := time.Now()
	var resp models.QuoteResponse
	err := c.execute(ctx, "chain", func(callCtx context.Context) error {
		var ferr error
		resp, ferr = c.backend.FetchChain(callCtx, key.Index, key.Expiry)
		return ferr
	})
	if err != nil {
		return models.QuoteResponse{}, fmt.Errorf("fetch chain %s: %w", key.String(), err)
	}

	c.cache.Put(key, resp)
	if resp.Chain != nil {
		logger.IncrementChainFetch(len(resp.Chain.Rows))
		c.rememberChainSpot(resp.Chain)
	}
	c.emitLatency("chain", key.Index, time.Since(start))
	return resp, nil
}

// HealthCheck probes the upstream through the rate limiter so operator
// checks cannot themselves breach the provider budget.
func (c *Client) HealthCheck(ctx context.Context) error {
	if err := c.limiter.Acquire(ctx); err != nil {
		return err
	}
	return c.backend.HealthCheck(ctx)
}

// Stats snapshots the pipeline internals.
func (c *Client) Stats() ClientStats {
	hits, misses, evictions := c.cache.Stats()
	joined, flushed, failed := c.coalescer.Stats()
	return ClientStats{
		Backend:           c.backend.Name(),
		BreakerState:      c.breaker.State().String(),
		Tokens:            c.limiter.Tokens(),
		CacheSize:         c.cache.Len(),
		CacheHits:         hits,
		CacheMisses:       misses,
		CacheEvictions:    evictions,
		RequestsCoalesced: joined,
		BatchesFlushed:    flushed,
		FlushErrors:       failed,
		Fallbacks:         c.fallbacks.Load(),
	}
}

// fetchBatch is the coalescer's flush path: one guarded upstream call for
// the whole window, with every result cached for the TTL.
func (c *Client) fetchBatch(ctx context.Context, keys []models.InstrumentKey) (map[models.InstrumentKey]models.QuoteResponse, error) {
	start := time.Now()
	var results map[models.InstrumentKey]models.QuoteResponse
	err := c.execute(ctx, "quotes_batch", func(callCtx context.Context) error {
		var ferr error
		results, ferr = c.backend.FetchQuotes(callCtx, keys)
		return ferr
	})
	if err != nil {
		return nil, err
	}

	for key, resp := range results {
		c.cache.Put(key, resp)
		if key.Kind == models.KindSpot {
			c.rememberSpot(key, resp)
		}
	}
	c.emitLatency("quotes_batch", "", time.Since(start))
	return results, nil
}

// execute runs one guarded upstream call with bounded retry. Order per
// attempt: breaker gate first so an open circuit costs no tokens, then
// token admission, then the call under the breaker so its outcome is
// recorded.
func (c *Client) execute(ctx context.Context, op string, fn func(context.Context) error) error {
	attempts := c.retry.MaxAttempts
	if attempts < 1 {
		attempts = 1
	}
	backoff := c.retry.BaseDelay
	if backoff <= 0 {
		backoff = 250 * time.Millisecond
	}
	multiplier := c.retry.BackoffMultiplier
	if multiplier < 1 {
		multiplier = 2
	}

	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		if attempt > 1 {
			select {
			case <-time.After(backoff):
			case <-ctx.Done():
				return ctx.Err()
			}
			backoff *= time.Duration(multiplier)
			if c.retry.MaxDelay > 0 && backoff > c.retry.MaxDelay {
				backoff = c.retry.MaxDelay
			}
		}

		if c.breaker.Open() {
			lastErr = ErrCircuitOpen
			break
		}
		if err := c.limiter.Acquire(ctx); err != nil {
			lastErr = err
			break
		}

		err := c.breaker.Execute(func() error {
			return fn(ctx)
		})
		if err == nil {
			return nil
		}
		lastErr = err
		if !Retryable(err) {
			break
		}

		c.log.WithComponent("provider_client").WithFields(logger.Fields{
			"operation": op,
			"attempt":   attempt,
			"backoff":   backoff.String(),
		}).WithError(err).Warn("upstream call failed, retrying")
	}
	return lastErr
}

func throttled(err error) bool {
	return errors.Is(err, ErrRateLimitTimeout) ||
		errors.Is(err, ErrCircuitOpen) ||
		errors.Is(err, ErrUpstreamThrottled)
}

func (c *Client) synthesizeSpot(key models.InstrumentKey, cause error) (models.QuoteResponse, bool) {
	c.lastMu.RLock()
	last, ok := c.lastGood[key]
	c.lastMu.RUnlock()
	if !ok {
		return models.QuoteResponse{}, false
	}

	last.Source = models.SourceCache
	last.Stale = true
	c.fallbacks.Add(1)

	c.log.WithComponent("provider_client").WithFields(logger.Fields{
		"instrument": key.String(),
		"cause":      string(Classify(cause)),
		"fetched_at": last.FetchedAt,
	}).Warn("throttled spot fetch suppressed, serving last good quote")
	metrics.EmitMetric(c.log, "provider_client", "fallback_synthesized", int64(1), "counter", logger.Fields{
		"instrument": key.String(),
	})
	return last, true
}

func (c *Client) rememberSpot(key models.InstrumentKey, resp models.QuoteResponse) {
	if resp.Quote == nil || resp.Stale {
		return
	}
	c.lastMu.Lock()
	c.lastGood[key] = resp
	c.lastMu.Unlock()
}

// rememberChainSpot keeps the underlying level embedded in a chain payload
// as fallback material, so a throttled spot call right after a successful
// chain fetch can be answered without more traffic.
func (c *Client) rememberChainSpot(snap *models.ChainSnapshot) {
	key := models.SpotKey(snap.Index)
	quote := &models.Quote{
		Key:        key,
		LastPrice:  snap.Spot,
		ExchangeTS: snap.FetchedAt,
	}
	c.lastMu.Lock()
	c.lastGood[key] = models.QuoteResponse{
		Key:       key,
		Quote:     quote,
		FetchedAt: snap.FetchedAt,
		Source:    models.SourceDirect,
	}
	c.lastMu.Unlock()
}

func (c *Client) emitLatency(op, index string, elapsed time.Duration) {
	if !metrics.IsFeatureEnabled(metrics.FeatureFetchLatency) {
		return
	}
	fields := logger.Fields{"operation": op}
	if index != "" {
		fields["index"] = index
	}
	metrics.EmitMetric(c.log, "provider_client", "fetch_latency_ms", elapsed.Milliseconds(), "gauge", fields)
}
