// chainprobe fetches a single spot quote or option chain through the same
// provider stack the collector uses and prints the payload as JSON. It exists
// to verify configuration, connectivity and credentials without starting the
// full service.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"time"

	"optionflow/config"
	"optionflow/internal/market"
	"optionflow/internal/provider"
	"optionflow/logger"
)

func main() {
	log := logger.GetLogger()

	configPath := flag.String("config", "config/config.yml", "Path to configuration file")
	index := flag.String("index", "NIFTY", "Index to probe")
	expiry := flag.String("expiry", "", "Chain expiry (YYYY-MM-DD); nearest expiry when empty")
	spotOnly := flag.Bool("spot", false, "Fetch only the spot quote")
	timeout := flag.Duration("timeout", 15*time.Second, "Overall probe timeout")
	flag.Parse()

	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		log.WithError(err).Error("failed to load configuration")
		os.Exit(1)
	}

	backend, err := provider.NewBackend(cfg)
	if err != nil {
		log.WithError(err).Error("failed to build provider backend")
		os.Exit(1)
	}

	client := provider.NewClient(cfg, backend)
	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	if err := client.Start(ctx); err != nil {
		log.WithError(err).Error("failed to start provider client")
		os.Exit(1)
	}
	defer client.Stop()

	if err := probe(ctx, cfg, client, *index, *expiry, *spotOnly); err != nil {
		log.WithError(err).WithFields(logger.Fields{"index": *index}).Error("probe failed")
		os.Exit(1)
	}
}

func probe(ctx context.Context, cfg *config.Config, client *provider.Client, index, expiry string, spotOnly bool) error {
	spot, err := client.Spot(ctx, index)
	if err != nil {
		return fmt.Errorf("spot fetch: %w", err)
	}
	if err := dump("spot", spot); err != nil {
		return err
	}
	if spotOnly {
		return nil
	}

	if expiry == "" {
		clock, err := market.NewClock(cfg.Market)
		if err != nil {
			return fmt.Errorf("market clock: %w", err)
		}
		expiries := clock.NextExpiries(time.Now(), market.ExpiryWeekday(index), 1)
		if len(expiries) == 0 {
			return fmt.Errorf("no upcoming expiry for %s", index)
		}
		expiry = expiries[0]
	}

	chain, err := client.Chain(ctx, index, expiry)
	if err != nil {
		return fmt.Errorf("chain fetch for expiry %s: %w", expiry, err)
	}
	if err := dump("chain", chain); err != nil {
		return err
	}

	stats := client.Stats()
	return dump("client_stats", stats)
}

func dump(label string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("encode %s: %w", label, err)
	}
	fmt.Printf("--- %s ---\n%s\n", label, data)
	return nil
}
