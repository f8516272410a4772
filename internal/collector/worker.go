package collector

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"

	appconfig "optionflow/config"
	"optionflow/internal/market"
	"optionflow/internal/models"
	"optionflow/internal/provider"
	"optionflow/logger"
)

// WorkerPool runs one collection task per index with bounded concurrency.
// A task failure is converted into its IndexOutcome at the task boundary, so
// no index can abort its siblings or the cycle.
type WorkerPool struct {
	client   *provider.Client
	clock    *market.Clock
	storage  StorageSink
	limit    int
	expiries int
	log      *logger.Log
}

// NewWorkerPool builds the per-cycle fan-out worker set.
func NewWorkerPool(cfg *appconfig.Config, clock *market.Clock, client *provider.Client, storage StorageSink) *WorkerPool {
	limit := cfg.Collector.MaxConcurrentIndices
	if limit <= 0 {
		limit = 4
	}
	expiries := cfg.Collector.ExpiriesPerIndex
	if expiries <= 0 {
		expiries = 2
	}
	return &WorkerPool{
		client:   client,
		clock:    clock,
		storage:  storage,
		limit:    limit,
		expiries: expiries,
		log:      logger.GetLogger(),
	}
}

// Run collects every index in the cycle and returns one outcome per index,
// in the same order as cycle.Indices. Excess tasks queue on the concurrency
// limit rather than spawning unbounded work.
func (p *WorkerPool) Run(ctx context.Context, cycle *models.CycleContext) []models.IndexOutcome {
	outcomes := make([]models.IndexOutcome, len(cycle.Indices))

	var g errgroup.Group
	g.SetLimit(p.limit)
	for i, index := range cycle.Indices {
		i, index := i, index
		g.Go(func() error {
			outcomes[i] = p.collectIndex(ctx, cycle, index)
			return nil
		})
	}
	// Tasks always return nil; failures live in their outcome.
	_ = g.Wait()

	return outcomes
}

// collectIndex fetches the spot quote and the near option chains for one
// index and hands every successful payload to storage. The first provider
// error stops work for this index; whatever was already written stays
// written.
func (p *WorkerPool) collectIndex(parent context.Context, cycle *models.CycleContext, index string) (outcome models.IndexOutcome) {
	start := time.Now()
	outcome = models.IndexOutcome{Index: index}

	defer func() {
		if r := recover(); r != nil {
			outcome.Success = false
			outcome.ErrorKind = models.ErrKindInternal
			outcome.Err = fmt.Sprintf("panic: %v", r)
			p.log.WithComponent("collector_worker").WithFields(logger.Fields{
				"index": index,
				"cycle": cycle.CycleNumber,
				"panic": fmt.Sprintf("%v", r),
			}).Error("index worker panicked")
		}
		outcome.Duration = time.Since(start)
	}()

	ctx := parent
	if cycle.PerIndexTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(parent, cycle.PerIndexTimeout)
		defer cancel()
	}

	spot, err := p.client.Spot(ctx, index)
	if err != nil {
		return p.failed(outcome, cycle, err)
	}
	p.write(ctx, cycle.CycleNumber, index, spot)
	outcome.Rows++

	for _, expiry := range p.clock.NextExpiries(cycle.StartedAt, market.ExpiryWeekday(index), p.expiries) {
		chain, err := p.client.Chain(ctx, index, expiry)
		if err != nil {
			return p.failed(outcome, cycle, err)
		}
		p.write(ctx, cycle.CycleNumber, index, chain)
		if chain.Chain != nil {
			outcome.Rows += len(chain.Chain.Rows) * 2
		}
		outcome.Expiries = append(outcome.Expiries, expiry)
	}

	outcome.Success = true
	return outcome
}

func (p *WorkerPool) write(ctx context.Context, cycle uint64, index string, payload models.QuoteResponse) {
	if err := p.storage.Write(ctx, cycle, index, payload.FetchedAt, payload); err != nil {
		p.log.WithComponent("collector_worker").WithFields(logger.Fields{
			"index": index,
			"cycle": cycle,
		}).WithError(err).Warn("storage write failed")
	}
}

func (p *WorkerPool) failed(outcome models.IndexOutcome, cycle *models.CycleContext, err error) models.IndexOutcome {
	outcome.Success = false
	outcome.ErrorKind = provider.Classify(err)
	outcome.Err = err.Error()
	p.log.WithComponent("collector_worker").WithFields(logger.Fields{
		"index": outcome.Index,
		"cycle": cycle.CycleNumber,
		"kind":  string(outcome.ErrorKind),
	}).WithError(err).Warn("index collection failed")
	return outcome
}
