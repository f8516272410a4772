package channel

import (
	"context"
	"sync"

	appconfig "optionflow/config"
	"optionflow/internal/models"
	"optionflow/logger"
)

// Stats counts traffic through the collector-to-writer buffers.
type Stats struct {
	ChainSent    int64
	SpotSent     int64
	ChainDropped int64
	SpotDropped  int64
}

// Channels carries flattened batches from the collector to the writer. Sends
// never block: when a buffer is full the batch is dropped and counted, so a
// stalled writer cannot stall a collection cycle.
type Channels struct {
	Chain chan models.ChainBatch
	Spot  chan models.SpotBatch

	stats      Stats
	statsMutex sync.RWMutex
	closeOnce  sync.Once
	log        *logger.Log
}

// NewChannels allocates the buffers from configuration.
func NewChannels(cfg appconfig.ChannelsConfig) *Channels {
	chainBuffer := cfg.ChainBuffer
	if chainBuffer <= 0 {
		chainBuffer = 64
	}
	spotBuffer := cfg.SpotBuffer
	if spotBuffer <= 0 {
		spotBuffer = 64
	}

	log := logger.GetLogger()
	c := &Channels{
		Chain: make(chan models.ChainBatch, chainBuffer),
		Spot:  make(chan models.SpotBatch, spotBuffer),
		log:   log,
	}

	log.WithComponent("channels").WithFields(logger.Fields{
		"chain_buffer_size": chainBuffer,
		"spot_buffer_size":  spotBuffer,
	}).Info("channels initialized")

	return c
}

// Close closes both buffers. It must only run after every sender has
// stopped; repeated calls are no-ops.
func (c *Channels) Close() {
	c.closeOnce.Do(func() {
		close(c.Chain)
		close(c.Spot)
		c.log.WithComponent("channels").Info("channels closed")
	})
}

func (c *Channels) incrementChainSent() {
	c.statsMutex.Lock()
	c.stats.ChainSent++
	c.statsMutex.Unlock()
}

func (c *Channels) incrementSpotSent() {
	c.statsMutex.Lock()
	c.stats.SpotSent++
	c.statsMutex.Unlock()
}

func (c *Channels) incrementChainDropped() {
	c.statsMutex.Lock()
	c.stats.ChainDropped++
	c.statsMutex.Unlock()
}

func (c *Channels) incrementSpotDropped() {
	c.statsMutex.Lock()
	c.stats.SpotDropped++
	c.statsMutex.Unlock()
}

// SendChain offers a chain batch to the writer. It returns false when the
// buffer is full or the context is done; the caller decides how to report
// the drop.
func (c *Channels) SendChain(ctx context.Context, batch models.ChainBatch) bool {
	select {
	case c.Chain <- batch:
		c.incrementChainSent()
		logger.RecordChannelMessage("chain", batch.RecordCount)
		return true
	case <-ctx.Done():
		return false
	default:
		c.incrementChainDropped()
		return false
	}
}

// SendSpot offers a spot batch to the writer with the same non-blocking
// contract as SendChain.
func (c *Channels) SendSpot(ctx context.Context, batch models.SpotBatch) bool {
	select {
	case c.Spot <- batch:
		c.incrementSpotSent()
		logger.RecordChannelMessage("spot", batch.RecordCount)
		return true
	case <-ctx.Done():
		return false
	default:
		c.incrementSpotDropped()
		return false
	}
}

// GetStats returns a snapshot of the traffic counters.
func (c *Channels) GetStats() Stats {
	c.statsMutex.RLock()
	defer c.statsMutex.RUnlock()
	return c.stats
}
