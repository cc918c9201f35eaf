package timeframe_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"revivalmetrics/internal/timeframe"
)

func TestParsePeriodDefaultsTo30Days(t *testing.T) {
	now := time.Date(2026, 3, 15, 14, 30, 0, 0, time.UTC)

	r, err := timeframe.ParsePeriod("", now)
	require.NoError(t, err)

	assert.Equal(t, 30, r.Days)
	assert.Equal(t, time.Date(2026, 3, 16, 0, 0, 0, 0, time.UTC), r.To)
	assert.Equal(t, time.Date(2026, 2, 14, 0, 0, 0, 0, time.UTC), r.From)
}

func TestParsePeriodTokens(t *testing.T) {
	now := time.Date(2026, 3, 15, 23, 59, 59, 0, time.UTC)

	for token, days := range map[string]int{"24h": 1, "7d": 7, "30d": 30, "90d": 90} {
		r, err := timeframe.ParsePeriod(token, now)
		require.NoError(t, err, token)
		assert.Equal(t, days, r.Days, token)
		assert.Equal(t, r.To, r.From.AddDate(0, 0, days), token)
	}
}

func TestParsePeriodSnapsToUTCDay(t *testing.T) {
	loc, err := time.LoadLocation("America/New_York")
	require.NoError(t, err)

	// Local evening is already the next UTC day.
	now := time.Date(2026, 3, 15, 21, 0, 0, 0, loc)

	r, err := timeframe.ParsePeriod("24h", now)
	require.NoError(t, err)
	assert.Equal(t, time.Date(2026, 3, 16, 0, 0, 0, 0, time.UTC), r.From)
	assert.Equal(t, time.Date(2026, 3, 16, 0, 0, 0, 0, time.UTC), r.LastDay())
}

func TestParsePeriodRejectsUnknownTokens(t *testing.T) {
	_, err := timeframe.ParsePeriod("14d", time.Now())
	assert.Error(t, err)

	_, err = timeframe.ParsePeriod("all", time.Now())
	assert.Error(t, err)
}
