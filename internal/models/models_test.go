package models

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
)

func TestInstrumentKeyString(t *testing.T) {
	cases := map[InstrumentKey]string{
		SpotKey("nifty"):  "NIFTY",
		ChainKey("BANKNIFTY", "2026-08-27"): "BANKNIFTY:2026-08-27",
		OptionKey("NIFTY", "2026-08-27", 24500, OptionTypeCall): "NIFTY:2026-08-27:24500CE",
		OptionKey("FINNIFTY", "2026-08-25", 23000, OptionTypePut): "FINNIFTY:2026-08-25:23000PE",
	}
	for key, want := range cases {
		if got := key.String(); got != want {
			t.Errorf("String() = %q, want %q", got, want)
		}
	}
}

func TestInstrumentKeyValidate(t *testing.T) {
	valid := []InstrumentKey{
		SpotKey("NIFTY"),
		ChainKey("NIFTY", "2026-08-27"),
		OptionKey("NIFTY", "2026-08-27", 24500, OptionTypePut),
	}
	for _, key := range valid {
		if err := key.Validate(); err != nil {
			t.Errorf("Validate(%s) unexpected error: %v", key, err)
		}
	}

	invalid := []InstrumentKey{
		{},
		{Index: "NIFTY", Kind: KindChain},
		{Index: "NIFTY", Kind: KindOption, Expiry: "2026-08-27", Strike: 0, OptionType: OptionTypeCall},
		{Index: "NIFTY", Kind: KindOption, Expiry: "2026-08-27", Strike: 24500, OptionType: "XX"},
		{Index: "NIFTY", Kind: "future"},
	}
	for _, key := range invalid {
		if err := key.Validate(); err == nil {
			t.Errorf("Validate(%+v) expected error", key)
		}
	}
}

func TestFlattenChain(t *testing.T) {
	snap := &ChainSnapshot{
		Index:     "NIFTY",
		Expiry:    "2026-08-27",
		Spot:      decimal.NewFromFloat(24512.35),
		FetchedAt: time.Unix(100, 0),
		Rows: []OptionQuote{
			{Strike: 24500, CallLTP: decimal.NewFromFloat(120.5), CallOI: 100, PutLTP: decimal.NewFromFloat(95.1), PutOI: 200},
			{Strike: 24600, CallLTP: decimal.NewFromFloat(70.2), PutLTP: decimal.NewFromFloat(140.8)},
		},
	}

	rows := FlattenChain(snap, 7)
	if len(rows) != 4 {
		t.Fatalf("expected 4 rows, got %d", len(rows))
	}
	for _, r := range rows {
		if r.Index != "NIFTY" || r.Expiry != "2026-08-27" || r.CycleNum != 7 {
			t.Fatalf("unexpected row metadata: %+v", r)
		}
		if r.Timestamp.IsZero() {
			t.Fatalf("row timestamp should default to snapshot FetchedAt")
		}
	}
	if rows[0].OptionType != "CE" || rows[1].OptionType != "PE" {
		t.Errorf("unexpected leg order: %s, %s", rows[0].OptionType, rows[1].OptionType)
	}
	if rows[0].LTP != 120.5 || rows[1].OI != 200 {
		t.Errorf("unexpected leg values: %+v, %+v", rows[0], rows[1])
	}
}

func TestCycleResultHelpers(t *testing.T) {
	res := CycleResult{
		CycleNumber: 3,
		Outcomes: []IndexOutcome{
			{Index: "NIFTY", Success: true, Rows: 10},
			{Index: "BANKNIFTY", Success: false, ErrorKind: ErrKindUpstream},
			{Index: "FINNIFTY", Success: true, Rows: 5},
		},
	}
	if got := res.SuccessCount(); got != 2 {
		t.Errorf("SuccessCount() = %d, want 2", got)
	}
	if got := res.SuccessRate(); got < 0.66 || got > 0.67 {
		t.Errorf("SuccessRate() = %f, want 2/3", got)
	}
	if got := res.TotalRows(); got != 15 {
		t.Errorf("TotalRows() = %d, want 15", got)
	}

	empty := CycleResult{}
	if got := empty.SuccessRate(); got != 0 {
		t.Errorf("empty SuccessRate() = %f, want 0", got)
	}
}
