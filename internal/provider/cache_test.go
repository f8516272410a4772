package provider

import (
	"context"
	"testing"
	"time"

	appconfig "optionflow/config"
	"optionflow/internal/models"
)

func TestCacheHitAndExpiry(t *testing.T) {
	cache := NewResponseCache(appconfig.CacheConfig{TTL: 40 * time.Millisecond, SweepInterval: time.Hour})
	key := models.SpotKey("NIFTY")

	if _, ok := cache.Get(key); ok {
		t.Fatalf("expected miss on empty cache")
	}

	cache.Put(key, models.QuoteResponse{Key: key, Source: models.SourceDirect, FetchedAt: time.Now()})

	got, ok := cache.Get(key)
	if !ok {
		t.Fatalf("expected hit after put")
	}
	if got.Source != models.SourceCache {
		t.Errorf("hit source = %s, want %s", got.Source, models.SourceCache)
	}

	time.Sleep(60 * time.Millisecond)
	if _, ok := cache.Get(key); ok {
		t.Fatalf("expected miss after ttl expiry")
	}

	hits, misses, evictions := cache.Stats()
	if hits != 1 || misses != 2 || evictions != 1 {
		t.Errorf("stats = %d/%d/%d, want 1/2/1", hits, misses, evictions)
	}
}

func TestCacheSweepEvicts(t *testing.T) {
	cache := NewResponseCache(appconfig.CacheConfig{TTL: 10 * time.Millisecond, SweepInterval: 20 * time.Millisecond})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go cache.StartSweep(ctx)

	for _, index := range []string{"NIFTY", "BANKNIFTY", "FINNIFTY"} {
		key := models.SpotKey(index)
		cache.Put(key, models.QuoteResponse{Key: key})
	}
	if cache.Len() != 3 {
		t.Fatalf("len = %d, want 3", cache.Len())
	}

	time.Sleep(100 * time.Millisecond)
	if cache.Len() != 0 {
		t.Errorf("len after sweep = %d, want 0", cache.Len())
	}
}

func TestCachePutRefreshesTTL(t *testing.T) {
	cache := NewResponseCache(appconfig.CacheConfig{TTL: 50 * time.Millisecond, SweepInterval: time.Hour})
	key := models.ChainKey("NIFTY", "2026-08-27")

	cache.Put(key, models.QuoteResponse{Key: key})
	time.Sleep(30 * time.Millisecond)
	cache.Put(key, models.QuoteResponse{Key: key})
	time.Sleep(30 * time.Millisecond)

	if _, ok := cache.Get(key); !ok {
		t.Fatalf("expected hit, second put should have refreshed the ttl")
	}
}
