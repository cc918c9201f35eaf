package v1

import (
	"time"

	"github.com/karloscodes/cartridge"

	"revivalmetrics/internal/config"
	"revivalmetrics/internal/events"
	"revivalmetrics/internal/sessions"
)

// StatsHandler is a server-to-server summary endpoint, guarded by the
// ingest API key rather than an admin session. Backends polling their
// own traffic numbers use this instead of scraping the dashboard.
func StatsHandler(ctx *cartridge.Context) error {
	db := ctx.DB()
	now := time.Now().UTC()
	since := now.AddDate(0, 0, -1)

	pageviews, err := events.CountPageviewsSince(db, since)
	if err != nil {
		return respondServerError(ctx.Ctx, "Failed to load stats")
	}
	eventCount, err := events.CountEventsSince(db, since)
	if err != nil {
		return respondServerError(ctx.Ctx, "Failed to load stats")
	}

	activeSince := now.Add(-time.Duration(config.GetConfig().GetSessionTimeout()) * time.Second)
	active, err := sessions.CountActive(db, activeSince)
	if err != nil {
		return respondServerError(ctx.Ctx, "Failed to load stats")
	}

	return ctx.JSON(map[string]interface{}{
		"serverTime":     now.Format(time.RFC3339),
		"pageviews24h":   pageviews,
		"events24h":      eventCount,
		"activeSessions": active,
	})
}
