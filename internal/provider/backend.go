package provider

import (
	"context"
	"fmt"

	appconfig "optionflow/config"
	"optionflow/internal/models"
)

// Backend is the raw transport the resilient client wraps. Implementations
// perform the upstream I/O and nothing else; admission control, caching,
// batching and breaker accounting all live in the client.
type Backend interface {
	// Name identifies the backend for status reporting.
	Name() string

	// FetchSpot returns the current level of one index.
	FetchSpot(ctx context.Context, index string) (models.QuoteResponse, error)

	// FetchQuotes resolves a coalesced set of instruments in one logical
	// upstream call. Keys with no upstream data are absent from the result.
	FetchQuotes(ctx context.Context, keys []models.InstrumentKey) (map[models.InstrumentKey]models.QuoteResponse, error)

	// FetchChain returns the full option chain for one index and expiry.
	FetchChain(ctx context.Context, index, expiry string) (models.QuoteResponse, error)

	// HealthCheck verifies the upstream is reachable.
	HealthCheck(ctx context.Context) error
}

// NewBackend selects the transport named by configuration.
func NewBackend(cfg *appconfig.Config) (Backend, error) {
	switch cfg.Provider.Name {
	case "live":
		return newLiveBackend(cfg)
	case "synthetic":
		return newSyntheticBackend(cfg), nil
	case "mock":
		return NewMockBackend(), nil
	default:
		return nil, fmt.Errorf("unknown provider backend %q", cfg.Provider.Name)
	}
}
