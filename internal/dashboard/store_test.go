package dashboard

import (
	"testing"
	"time"

	"github.com/sirupsen/logrus"

	"optionflow/internal/metrics"
)

func TestMetricStoreLimit(t *testing.T) {
	store := newMetricStore(2)
	for i := 0; i < 5; i++ {
		store.handle(metrics.Metric{Timestamp: time.Unix(int64(i), 0), Name: "metric", Value: i})
	}

	snapshot := store.snapshot("")
	if len(snapshot) != 2 {
		t.Fatalf("expected 2 metrics in snapshot, got %d", len(snapshot))
	}

	if snapshot[0].Value != 3 || snapshot[1].Value != 4 {
		t.Fatalf("unexpected metrics retained: %#v", snapshot)
	}
}

func TestMetricStoreFiltersByComponent(t *testing.T) {
	store := newMetricStore(10)
	store.handle(metrics.Metric{Component: "collector", Name: "cycle_duration_ms", Value: 1200})
	store.handle(metrics.Metric{Component: "parquet_writer", Name: "files_written", Value: 3})
	store.handle(metrics.Metric{Component: "collector", Name: "success_rate", Value: 100})

	snapshot := store.snapshot("collector")
	if len(snapshot) != 2 {
		t.Fatalf("expected 2 collector metrics, got %d", len(snapshot))
	}
	for _, m := range snapshot {
		if m.Component != "collector" {
			t.Fatalf("unexpected component in filtered snapshot: %#v", m)
		}
	}

	if got := store.snapshot(""); len(got) != 3 {
		t.Fatalf("expected unfiltered snapshot of 3, got %d", len(got))
	}
}

func TestLogStoreCapturesEntries(t *testing.T) {
	store := newLogStore(3)
	entry := logrus.NewEntry(logrus.New())
	entry.Time = time.Unix(10, 0)
	entry.Level = logrus.WarnLevel
	entry.Message = "warning"
	entry.Data = logrus.Fields{"component": "test", "foo": "bar"}

	if err := store.Fire(entry); err != nil {
		t.Fatalf("store.Fire returned error: %v", err)
	}

	snapshot := store.snapshot("")
	if len(snapshot) != 1 {
		t.Fatalf("expected 1 log entry, got %d", len(snapshot))
	}

	if snapshot[0].Component != "test" || snapshot[0].Fields["foo"] != "bar" {
		t.Fatalf("unexpected snapshot data: %#v", snapshot[0])
	}
}

func TestLogStoreFiltersByLevel(t *testing.T) {
	store := newLogStore(10)
	levels := []logrus.Level{logrus.InfoLevel, logrus.WarnLevel, logrus.InfoLevel, logrus.ErrorLevel}
	for _, level := range levels {
		entry := logrus.NewEntry(logrus.New())
		entry.Level = level
		entry.Message = "msg"
		if err := store.Fire(entry); err != nil {
			t.Fatalf("store.Fire returned error: %v", err)
		}
	}

	if got := store.snapshot("info"); len(got) != 2 {
		t.Fatalf("expected 2 info entries, got %d", len(got))
	}
	if got := store.snapshot("WARNING"); len(got) != 1 {
		t.Fatalf("expected 1 warning entry, got %d", len(got))
	}
	if got := store.snapshot(""); len(got) != 4 {
		t.Fatalf("expected 4 unfiltered entries, got %d", len(got))
	}
}

func TestLogStoreRespectsLimitAndClose(t *testing.T) {
	store := newLogStore(2)
	for i := 0; i < 4; i++ {
		entry := logrus.NewEntry(logrus.New())
		entry.Message = "msg"
		entry.Level = logrus.InfoLevel
		entry.Data = logrus.Fields{"index": i}
		if err := store.Fire(entry); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	}

	snapshot := store.snapshot("")
	if len(snapshot) != 2 {
		t.Fatalf("expected 2 entries after pruning, got %d", len(snapshot))
	}

	store.close()
	entry := logrus.NewEntry(logrus.New())
	entry.Message = "ignored"
	if err := store.Fire(entry); err != nil {
		t.Fatalf("unexpected error after close: %v", err)
	}

	snapshot = store.snapshot("")
	if len(snapshot) != 2 {
		t.Fatalf("store accepted entries after close")
	}
}
