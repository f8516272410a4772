package channel

import (
	"context"
	"testing"

	appconfig "optionflow/config"
	"optionflow/internal/models"
)

func TestNewChannelsDefaults(t *testing.T) {
	c := NewChannels(appconfig.ChannelsConfig{})
	if cap(c.Chain) != 64 || cap(c.Spot) != 64 {
		t.Fatalf("default buffers = %d/%d, want 64/64", cap(c.Chain), cap(c.Spot))
	}
	c.Close()
}

func TestSendAndReceive(t *testing.T) {
	c := NewChannels(appconfig.ChannelsConfig{ChainBuffer: 2, SpotBuffer: 2})
	defer c.Close()
	ctx := context.Background()

	batch := models.ChainBatch{BatchID: "b1", Index: "NIFTY", RecordCount: 3}
	if !c.SendChain(ctx, batch) {
		t.Fatalf("send on empty buffer should succeed")
	}
	got := <-c.Chain
	if got.BatchID != "b1" {
		t.Errorf("received batch %q, want b1", got.BatchID)
	}

	stats := c.GetStats()
	if stats.ChainSent != 1 || stats.ChainDropped != 0 {
		t.Errorf("stats = %+v, want one chain sent", stats)
	}
}

func TestSendDropsWhenFull(t *testing.T) {
	c := NewChannels(appconfig.ChannelsConfig{ChainBuffer: 1, SpotBuffer: 1})
	defer c.Close()
	ctx := context.Background()

	if !c.SendSpot(ctx, models.SpotBatch{BatchID: "s1"}) {
		t.Fatalf("first send should succeed")
	}
	if c.SendSpot(ctx, models.SpotBatch{BatchID: "s2"}) {
		t.Fatalf("send on full buffer should drop, not block")
	}

	stats := c.GetStats()
	if stats.SpotSent != 1 || stats.SpotDropped != 1 {
		t.Errorf("stats = %+v, want 1 sent and 1 dropped", stats)
	}
}

func TestSendCanceledContextNotCountedAsDrop(t *testing.T) {
	c := NewChannels(appconfig.ChannelsConfig{ChainBuffer: 1, SpotBuffer: 1})
	defer c.Close()

	ctx, cancel := context.WithCancel(context.Background())
	if !c.SendChain(ctx, models.ChainBatch{BatchID: "b1"}) {
		t.Fatalf("first send should succeed")
	}
	cancel()

	// Buffer is full and the context is done: the send fails as a shutdown,
	// not a drop, so the drop counter stays untouched.
	if c.SendChain(ctx, models.ChainBatch{BatchID: "b2"}) {
		t.Fatalf("send after cancel should fail")
	}
	stats := c.GetStats()
	if stats.ChainSent != 1 || stats.ChainDropped != 0 {
		t.Errorf("stats = %+v, want 1 sent and 0 dropped", stats)
	}
}
