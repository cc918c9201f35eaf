package v1

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/karloscodes/cartridge"
	"gorm.io/gorm"

	"revivalmetrics/internal/events"
	"revivalmetrics/internal/exclusions"
	"revivalmetrics/internal/visitors"
)

type pageviewParams struct {
	AnonID    string `json:"anonId" validate:"required,max=64"`
	SessionID string `json:"sessionId" validate:"required,max=64"`
	Path      string `json:"path" validate:"required"`

	URL        string                 `json:"url"`
	Title      string                 `json:"title"`
	Referrer   string                 `json:"referrer"`
	Properties map[string]interface{} `json:"properties"`
	OccurredAt *time.Time             `json:"occurredAt"`
}

// TrackPageviewHandler handles POST /x/api/v1/pageviews. Pageviews are
// append-only; each call adds exactly one row.
func TrackPageviewHandler(ctx *cartridge.Context) error {
	var params pageviewParams
	if err := ctx.Ctx.BodyParser(&params); err != nil {
		return respondMalformedBody(ctx.Ctx)
	}
	if err := validate.Struct(&params); err != nil {
		return respondValidationError(ctx.Ctx, err)
	}

	db := ctx.DB()

	if exclusions.IsExcluded(db, params.AnonID, params.SessionID, getClientIP(ctx.Ctx)) {
		return respondDropped(ctx.Ctx)
	}

	visitor, err := resolveVisitor(db, ctx.Logger, params.AnonID)
	if err != nil {
		ctx.Logger.Error("Failed to resolve visitor", slog.Any("error", err))
		return respondServerError(ctx.Ctx, "Failed to store pageview")
	}

	pv := &events.Pageview{
		SessionID:  params.SessionID,
		VisitorID:  visitor.ID,
		Path:       params.Path,
		URL:        params.URL,
		Title:      params.Title,
		Referrer:   params.Referrer,
		Properties: events.MarshalProperties(params.Properties),
	}
	if params.OccurredAt != nil {
		pv.OccurredAt = params.OccurredAt.UTC()
	}

	if err := events.RecordPageview(db, ctx.Logger, pv); err != nil {
		ctx.Logger.Error("Failed to store pageview", slog.Any("error", err))
		return respondServerError(ctx.Ctx, "Failed to store pageview")
	}

	return ctx.Status(http.StatusOK).JSON(fiber.Map{"id": pv.ID})
}

type eventParams struct {
	AnonID    string `json:"anonId" validate:"required,max=64"`
	SessionID string `json:"sessionId" validate:"required,max=64"`
	Name      string `json:"name" validate:"required,max=128"`

	Label      string                 `json:"label"`
	ValueNum   *float64               `json:"valueNum"`
	ValueText  string                 `json:"valueText"`
	Path       string                 `json:"path"`
	Properties map[string]interface{} `json:"properties"`
	OccurredAt *time.Time             `json:"occurredAt"`
}

// TrackEventHandler handles POST /x/api/v1/events.
func TrackEventHandler(ctx *cartridge.Context) error {
	var params eventParams
	if err := ctx.Ctx.BodyParser(&params); err != nil {
		return respondMalformedBody(ctx.Ctx)
	}
	if err := validate.Struct(&params); err != nil {
		return respondValidationError(ctx.Ctx, err)
	}

	db := ctx.DB()

	if exclusions.IsExcluded(db, params.AnonID, params.SessionID, getClientIP(ctx.Ctx)) {
		return respondDropped(ctx.Ctx)
	}

	visitor, err := resolveVisitor(db, ctx.Logger, params.AnonID)
	if err != nil {
		ctx.Logger.Error("Failed to resolve visitor", slog.Any("error", err))
		return respondServerError(ctx.Ctx, "Failed to store event")
	}

	ev := &events.Event{
		SessionID:  params.SessionID,
		VisitorID:  visitor.ID,
		Name:       params.Name,
		Label:      params.Label,
		ValueNum:   params.ValueNum,
		ValueText:  params.ValueText,
		Path:       params.Path,
		Properties: events.MarshalProperties(params.Properties),
	}
	if params.OccurredAt != nil {
		ev.OccurredAt = params.OccurredAt.UTC()
	}

	if err := events.RecordEvent(db, ctx.Logger, ev); err != nil {
		ctx.Logger.Error("Failed to store event", slog.Any("error", err))
		return respondServerError(ctx.Ctx, "Failed to store event")
	}

	return ctx.Status(http.StatusOK).JSON(fiber.Map{"id": ev.ID})
}

// resolveVisitor upserts the visitor so hits arriving before the
// explicit upsert-user call still attach to the right identity.
func resolveVisitor(db *gorm.DB, logger *slog.Logger, anonID string) (*visitors.Visitor, error) {
	return visitors.UpsertByAnonID(db, logger, anonID, nil)
}
