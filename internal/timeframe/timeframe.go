// Package timeframe turns the dashboard's period token into a concrete
// UTC day range. Everything downstream (rollups, series queries) works
// in whole UTC days, so the range always snaps to day boundaries.
package timeframe

import (
	"fmt"
	"time"
)

// DefaultPeriod is used when the request carries no period token.
const DefaultPeriod = "30d"

// Range is a half-open [From, To) window of UTC days. To is the start
// of the day after the last included day.
type Range struct {
	From time.Time
	To   time.Time
	Days int
}

var periods = map[string]int{
	"24h": 1,
	"7d":  7,
	"30d": 30,
	"90d": 90,
}

// ParsePeriod resolves a period token relative to now. An empty token
// means DefaultPeriod; anything outside the known set is an error so a
// typo never silently becomes a different range.
func ParsePeriod(token string, now time.Time) (Range, error) {
	if token == "" {
		token = DefaultPeriod
	}

	days, ok := periods[token]
	if !ok {
		return Range{}, fmt.Errorf("unknown period %q", token)
	}

	to := day(now).AddDate(0, 0, 1)
	return Range{
		From: to.AddDate(0, 0, -days),
		To:   to,
		Days: days,
	}, nil
}

// LastDay returns the final calendar day included in the range.
func (r Range) LastDay() time.Time {
	return r.To.AddDate(0, 0, -1)
}

func day(t time.Time) time.Time {
	u := t.UTC()
	return time.Date(u.Year(), u.Month(), u.Day(), 0, 0, 0, 0, time.UTC)
}
