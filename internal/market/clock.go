package market

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"optionflow/config"
)

// Clock answers whether the venue is trading at a given instant. It carries
// no goroutines or mutable state; every method is a pure function of the
// passed-in time, so callers re-query it on every tick and observe session
// transitions without any restart.
type Clock struct {
	loc      *time.Location
	openMin  int
	closeMin int
	holidays map[string]struct{}
}

// NewClock builds a Clock from the market configuration. The timezone must
// resolve against the host tz database and open must precede close.
func NewClock(cfg config.MarketConfig) (*Clock, error) {
	loc, err := time.LoadLocation(cfg.Timezone)
	if err != nil {
		return nil, fmt.Errorf("load market timezone %q: %w", cfg.Timezone, err)
	}

	openMin, err := parseClock(cfg.Open)
	if err != nil {
		return nil, fmt.Errorf("market open: %w", err)
	}
	closeMin, err := parseClock(cfg.Close)
	if err != nil {
		return nil, fmt.Errorf("market close: %w", err)
	}
	if openMin >= closeMin {
		return nil, fmt.Errorf("market open %s must be before close %s", cfg.Open, cfg.Close)
	}

	holidays := make(map[string]struct{}, len(cfg.Holidays))
	for _, day := range cfg.Holidays {
		if _, err := time.Parse("2006-01-02", day); err != nil {
			return nil, fmt.Errorf("invalid holiday %q: %w", day, err)
		}
		holidays[day] = struct{}{}
	}

	return &Clock{
		loc:      loc,
		openMin:  openMin,
		closeMin: closeMin,
		holidays: holidays,
	}, nil
}

// Location returns the venue timezone.
func (c *Clock) Location() *time.Location {
	return c.loc
}

// IsTradingDay reports whether the given date is a weekday that is not a
// configured holiday. Only the date portion of t matters.
func (c *Clock) IsTradingDay(t time.Time) bool {
	local := t.In(c.loc)
	switch local.Weekday() {
	case time.Saturday, time.Sunday:
		return false
	}
	_, holiday := c.holidays[local.Format("2006-01-02")]
	return !holiday
}

// IsOpen reports whether the venue is trading at t. The open boundary is
// inclusive, the close boundary exclusive: at exactly 15:30:00 the session
// is over.
func (c *Clock) IsOpen(t time.Time) bool {
	if !c.IsTradingDay(t) {
		return false
	}
	local := t.In(c.loc)
	minutes := local.Hour()*60 + local.Minute()
	return minutes >= c.openMin && minutes < c.closeMin
}

// NextOpen returns the next session open strictly after t. Inside a running
// session the result is the following trading day's open, not the session
// already in progress.
func (c *Clock) NextOpen(t time.Time) time.Time {
	local := t.In(c.loc)
	day := time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, c.loc)

	// Bounded scan; a year of closures would mean a broken calendar.
	for i := 0; i < 370; i++ {
		openAt := day.Add(time.Duration(c.openMin) * time.Minute)
		if c.IsTradingDay(openAt) && openAt.After(local) {
			return openAt
		}
		day = day.AddDate(0, 0, 1)
	}
	return time.Time{}
}

// UntilClose returns the remaining session time at t, or 0 when the venue
// is closed.
func (c *Clock) UntilClose(t time.Time) time.Duration {
	if !c.IsOpen(t) {
		return 0
	}
	local := t.In(c.loc)
	closeAt := time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, c.loc).
		Add(time.Duration(c.closeMin) * time.Minute)
	return closeAt.Sub(local)
}

func parseClock(s string) (int, error) {
	parts := strings.SplitN(s, ":", 2)
	if len(parts) != 2 {
		return 0, fmt.Errorf("invalid clock value %q", s)
	}
	hour, err := strconv.Atoi(parts[0])
	if err != nil || hour < 0 || hour > 23 {
		return 0, fmt.Errorf("invalid hour in %q", s)
	}
	minute, err := strconv.Atoi(parts[1])
	if err != nil || minute < 0 || minute > 59 {
		return 0, fmt.Errorf("invalid minute in %q", s)
	}
	return hour*60 + minute, nil
}
