package http

import (
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/karloscodes/cartridge"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"
	"log/slog"

	"revivalmetrics/internal/events"
	"revivalmetrics/internal/exclusions"
	"revivalmetrics/internal/pkg/geoip"
	"revivalmetrics/internal/sessions"
	"revivalmetrics/internal/visitors"
)

// SessionListItem is one row in the admin session feed. Visitors are
// shown under a generated alias instead of their anonymous id.
type SessionListItem struct {
	SessionID      string     `json:"session_id"`
	VisitorAlias   string     `json:"visitor_alias"`
	AnonID         string     `json:"anon_id"`
	StartedAt      time.Time  `json:"started_at"`
	EndedAt        *time.Time `json:"ended_at,omitempty"`
	LandingPath    string     `json:"landing_path"`
	Referrer       string     `json:"referrer"`
	DeviceCategory string     `json:"device_category"`
	BrowserName    string     `json:"browser_name"`
	OSName         string     `json:"os_name"`
	Country        string     `json:"country"`
	CountryName    string     `json:"country_name"`
	City           string     `json:"city"`
	IsBot          bool       `json:"is_bot"`
	IsExcluded     bool       `json:"is_excluded"`
}

// SessionDetail is the per-session drill-down: the session row plus its
// pageview trail and custom events in chronological order.
type SessionDetail struct {
	Session   SessionListItem   `json:"session"`
	Pageviews []events.Pageview `json:"pageviews"`
	Events    []events.Event    `json:"events"`
}

// AdminSessionsAction lists recent sessions at /admin/api/sessions.
func AdminSessionsAction(ctx *cartridge.Context) error {
	db := ctx.DB()

	limit := ctx.Ctx.QueryInt("limit", 50)
	list, err := sessions.ListRecent(db, limit)
	if err != nil {
		ctx.Logger.Error("Failed to list sessions", slog.Any("error", err))
		return ctx.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to list sessions",
		})
	}

	visitorIDs := make([]uint, 0, len(list))
	for _, s := range list {
		visitorIDs = append(visitorIDs, s.VisitorID)
	}
	visitorsByID, err := visitors.ByIDs(db, visitorIDs)
	if err != nil {
		ctx.Logger.Error("Failed to load visitors for sessions", slog.Any("error", err))
		return ctx.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to list sessions",
		})
	}

	items := make([]SessionListItem, 0, len(list))
	for _, s := range list {
		visitor := visitorsByID[s.VisitorID]
		items = append(items, buildSessionItem(ctx, &s, visitor.AnonID))
	}

	return ctx.JSON(fiber.Map{"sessions": items})
}

// AdminSessionDetailAction returns one session with its activity trail.
func AdminSessionDetailAction(ctx *cartridge.Context) error {
	db := ctx.DB()
	sessionID := ctx.Ctx.Params("sessionId")

	session, err := sessions.FindBySessionID(db, sessionID)
	if err != nil {
		if err == sessions.ErrSessionNotFound {
			return ctx.Status(fiber.StatusNotFound).JSON(fiber.Map{
				"error": "Session not found",
			})
		}
		ctx.Logger.Error("Failed to load session", slog.Any("error", err))
		return ctx.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to load session",
		})
	}

	anonID := ""
	if visitor, err := visitors.FindByID(db, session.VisitorID); err == nil {
		anonID = visitor.AnonID
	}

	pageviews, err := events.PageviewsForSession(db, sessionID)
	if err != nil {
		ctx.Logger.Error("Failed to load pageviews", slog.Any("error", err))
		return ctx.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to load session",
		})
	}
	eventList, err := events.EventsForSession(db, sessionID)
	if err != nil {
		ctx.Logger.Error("Failed to load events", slog.Any("error", err))
		return ctx.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to load session",
		})
	}

	return ctx.JSON(SessionDetail{
		Session:   buildSessionItem(ctx, session, anonID),
		Pageviews: pageviews,
		Events:    eventList,
	})
}

var deviceCaser = cases.Title(language.AmericanEnglish)

func buildSessionItem(ctx *cartridge.Context, s *sessions.Session, anonID string) SessionListItem {
	alias := ""
	if anonID != "" {
		alias = visitors.Alias(anonID)
	}

	return SessionListItem{
		SessionID:      s.SessionID,
		VisitorAlias:   alias,
		AnonID:         anonID,
		StartedAt:      s.StartedAt,
		EndedAt:        s.EndedAt,
		LandingPath:    s.LandingPath,
		Referrer:       s.Referrer,
		DeviceCategory: deviceCaser.String(s.DeviceCategory),
		BrowserName:    s.BrowserName,
		OSName:         s.OSName,
		Country:        s.Country,
		CountryName:    geoip.CountryName(s.Country),
		City:           s.City,
		IsBot:          s.IsBot,
		IsExcluded:     exclusions.IsExcluded(ctx.DB(), anonID, s.SessionID, s.IPAddress),
	}
}
