package market

import (
	"strings"
	"time"
)

// ExpiryWeekday returns the weekly expiry day for an index. NSE settles each
// index on its own weekday; unknown indices fall back to Thursday.
func ExpiryWeekday(index string) time.Weekday {
	switch strings.ToUpper(strings.TrimSpace(index)) {
	case "BANKNIFTY":
		return time.Wednesday
	case "FINNIFTY":
		return time.Tuesday
	case "MIDCPNIFTY":
		return time.Monday
	default:
		return time.Thursday
	}
}

// NextExpiries resolves the n nearest weekly expiry dates for the given
// weekday, as YYYY-MM-DD tags in the venue timezone. An expiry landing on a
// holiday rolls back to the previous trading day, per exchange convention.
// The current day still counts as an expiry while the session has not closed.
func (c *Clock) NextExpiries(from time.Time, weekday time.Weekday, n int) []string {
	if n <= 0 {
		return nil
	}

	local := from.In(c.loc)
	day := time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, c.loc)

	minutes := local.Hour()*60 + local.Minute()
	sessionOver := minutes >= c.closeMin

	tags := make([]string, 0, n)
	seen := make(map[string]struct{}, n)
	for i := 0; len(tags) < n && i < 370; i++ {
		candidate := day.AddDate(0, 0, i)
		if candidate.Weekday() != weekday {
			continue
		}

		// Roll a holiday expiry back to the previous trading day.
		settle := candidate
		for !c.IsTradingDay(settle) {
			settle = settle.AddDate(0, 0, -1)
		}

		if settle.Before(day) {
			continue
		}
		if settle.Equal(day) && sessionOver {
			continue
		}

		tag := settle.Format("2006-01-02")
		if _, dup := seen[tag]; dup {
			continue
		}
		seen[tag] = struct{}{}
		tags = append(tags, tag)
	}
	return tags
}
