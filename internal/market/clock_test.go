package market

import (
	"testing"
	"time"

	"optionflow/config"
)

func testClock(t *testing.T, holidays ...string) *Clock {
	t.Helper()
	c, err := NewClock(config.MarketConfig{
		Timezone: "Asia/Kolkata",
		Open:     "09:15",
		Close:    "15:30",
		Holidays: holidays,
	})
	if err != nil {
		t.Fatalf("NewClock failed: %v", err)
	}
	return c
}

func ist(t *testing.T, value string) time.Time {
	t.Helper()
	loc, err := time.LoadLocation("Asia/Kolkata")
	if err != nil {
		t.Fatalf("load location: %v", err)
	}
	ts, err := time.ParseInLocation("2006-01-02 15:04:05", value, loc)
	if err != nil {
		t.Fatalf("parse time %q: %v", value, err)
	}
	return ts
}

func TestIsOpenBoundaries(t *testing.T) {
	c := testClock(t)

	// 2026-08-19 is a Wednesday.
	cases := map[string]bool{
		"2026-08-19 09:14:59": false,
		"2026-08-19 09:15:00": true,
		"2026-08-19 12:00:00": true,
		"2026-08-19 15:29:59": true,
		"2026-08-19 15:30:00": false,
		"2026-08-19 18:00:00": false,
		"2026-08-22 12:00:00": false, // Saturday
		"2026-08-23 12:00:00": false, // Sunday
	}
	for value, want := range cases {
		if got := c.IsOpen(ist(t, value)); got != want {
			t.Errorf("IsOpen(%s) = %v, want %v", value, got, want)
		}
	}
}

func TestIsOpenHoliday(t *testing.T) {
	c := testClock(t, "2026-08-19")
	if c.IsOpen(ist(t, "2026-08-19 12:00:00")) {
		t.Fatalf("holiday should not be open")
	}
	if !c.IsOpen(ist(t, "2026-08-20 12:00:00")) {
		t.Fatalf("day after holiday should be open")
	}
}

func TestIsOpenConvertsZones(t *testing.T) {
	c := testClock(t)
	// 06:45 UTC == 12:15 IST on the same Wednesday.
	utc := time.Date(2026, 8, 19, 6, 45, 0, 0, time.UTC)
	if !c.IsOpen(utc) {
		t.Fatalf("expected open when UTC instant maps into the session")
	}
}

func TestNextOpen(t *testing.T) {
	c := testClock(t, "2026-08-20") // Thursday holiday

	cases := map[string]string{
		"2026-08-19 06:00:00": "2026-08-19 09:15:00", // pre-open same day
		"2026-08-19 12:00:00": "2026-08-21 09:15:00", // mid-session, holiday Thursday skipped
		"2026-08-21 16:00:00": "2026-08-24 09:15:00", // Friday post-close lands Monday
		"2026-08-22 10:00:00": "2026-08-24 09:15:00", // Saturday
	}
	for from, want := range cases {
		got := c.NextOpen(ist(t, from))
		if !got.Equal(ist(t, want)) {
			t.Errorf("NextOpen(%s) = %s, want %s", from, got, want)
		}
	}
}

func TestUntilClose(t *testing.T) {
	c := testClock(t)

	if d := c.UntilClose(ist(t, "2026-08-19 15:00:00")); d != 30*time.Minute {
		t.Errorf("UntilClose at 15:00 = %v, want 30m", d)
	}
	if d := c.UntilClose(ist(t, "2026-08-19 17:00:00")); d != 0 {
		t.Errorf("UntilClose after hours = %v, want 0", d)
	}
	if d := c.UntilClose(ist(t, "2026-08-22 12:00:00")); d != 0 {
		t.Errorf("UntilClose on Saturday = %v, want 0", d)
	}
}

func TestNewClockRejectsBadConfig(t *testing.T) {
	cases := []config.MarketConfig{
		{Timezone: "Mars/Olympus", Open: "09:15", Close: "15:30"},
		{Timezone: "Asia/Kolkata", Open: "15:30", Close: "09:15"},
		{Timezone: "Asia/Kolkata", Open: "0915", Close: "15:30"},
		{Timezone: "Asia/Kolkata", Open: "09:15", Close: "15:30", Holidays: []string{"not-a-date"}},
	}
	for _, cfg := range cases {
		if _, err := NewClock(cfg); err == nil {
			t.Errorf("NewClock(%+v) expected error", cfg)
		}
	}
}

func TestNextExpiries(t *testing.T) {
	c := testClock(t)

	// From Monday 2026-08-17, the next two Thursdays.
	tags := c.NextExpiries(ist(t, "2026-08-17 10:00:00"), time.Thursday, 2)
	want := []string{"2026-08-20", "2026-08-27"}
	if len(tags) != 2 || tags[0] != want[0] || tags[1] != want[1] {
		t.Fatalf("NextExpiries = %v, want %v", tags, want)
	}

	// Expiry day itself still counts until the close.
	tags = c.NextExpiries(ist(t, "2026-08-20 14:00:00"), time.Thursday, 1)
	if len(tags) != 1 || tags[0] != "2026-08-20" {
		t.Fatalf("NextExpiries during expiry session = %v", tags)
	}

	// After the close the same day is no longer an expiry.
	tags = c.NextExpiries(ist(t, "2026-08-20 16:00:00"), time.Thursday, 1)
	if len(tags) != 1 || tags[0] != "2026-08-27" {
		t.Fatalf("NextExpiries after expiry close = %v", tags)
	}
}

func TestNextExpiriesHolidayRollsBack(t *testing.T) {
	c := testClock(t, "2026-08-27") // Thursday holiday

	tags := c.NextExpiries(ist(t, "2026-08-24 10:00:00"), time.Thursday, 1)
	if len(tags) != 1 || tags[0] != "2026-08-26" {
		t.Fatalf("holiday expiry should roll back to Wednesday, got %v", tags)
	}
}

func TestNextExpiriesIncreasing(t *testing.T) {
	c := testClock(t)
	tags := c.NextExpiries(ist(t, "2026-08-17 10:00:00"), time.Tuesday, 4)
	if len(tags) != 4 {
		t.Fatalf("expected 4 expiries, got %v", tags)
	}
	for i := 1; i < len(tags); i++ {
		if tags[i] <= tags[i-1] {
			t.Fatalf("expiries not strictly increasing: %v", tags)
		}
	}
}

func TestExpiryWeekday(t *testing.T) {
	cases := map[string]time.Weekday{
		"NIFTY":      time.Thursday,
		"banknifty":  time.Wednesday,
		"FINNIFTY":   time.Tuesday,
		"MIDCPNIFTY": time.Monday,
		"SENSEX":     time.Thursday,
	}
	for index, want := range cases {
		if got := ExpiryWeekday(index); got != want {
			t.Errorf("ExpiryWeekday(%s) = %v, want %v", index, got, want)
		}
	}
}
