package v1

import (
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/karloscodes/cartridge"

	"revivalmetrics/internal/exclusions"
	"revivalmetrics/internal/sessions"
)

type startSessionParams struct {
	AnonID    string `json:"anonId" validate:"required,max=64"`
	SessionID string `json:"sessionId" validate:"required,max=64"`

	LandingPage string `json:"landingPage"`
	LandingPath string `json:"landingPath"`
	Referrer    string `json:"referrer"`

	UTMSource   string `json:"utmSource"`
	UTMMedium   string `json:"utmMedium"`
	UTMCampaign string `json:"utmCampaign"`
	UTMTerm     string `json:"utmTerm"`
	UTMContent  string `json:"utmContent"`

	DeviceCategory string `json:"deviceCategory"`
	BrowserName    string `json:"browserName"`
	BrowserVersion string `json:"browserVersion"`
	OSName         string `json:"osName"`
	OSVersion      string `json:"osVersion"`

	UserAgent string `json:"userAgent"`
}

// StartSessionHandler handles POST /x/api/v1/sessions. The session id
// is client-generated; a duplicate start returns the already-stored
// session rather than an error.
func StartSessionHandler(ctx *cartridge.Context) error {
	var params startSessionParams
	if err := ctx.Ctx.BodyParser(&params); err != nil {
		return respondMalformedBody(ctx.Ctx)
	}
	if err := validate.Struct(&params); err != nil {
		return respondValidationError(ctx.Ctx, err)
	}

	db := ctx.DB()
	clientIP := getClientIP(ctx.Ctx)

	if exclusions.IsExcluded(db, params.AnonID, params.SessionID, clientIP) {
		return respondDropped(ctx.Ctx)
	}

	session, visitor, err := sessions.Start(db, ctx.Logger, &sessions.StartInput{
		AnonID:         params.AnonID,
		SessionID:      params.SessionID,
		LandingPage:    params.LandingPage,
		LandingPath:    params.LandingPath,
		Referrer:       params.Referrer,
		UTMSource:      params.UTMSource,
		UTMMedium:      params.UTMMedium,
		UTMCampaign:    params.UTMCampaign,
		UTMTerm:        params.UTMTerm,
		UTMContent:     params.UTMContent,
		DeviceCategory: params.DeviceCategory,
		BrowserName:    params.BrowserName,
		BrowserVersion: params.BrowserVersion,
		OSName:         params.OSName,
		OSVersion:      params.OSVersion,
		UserAgent:      resolveUserAgent(ctx.Ctx, params.UserAgent),
		IPAddress:      clientIP,
	})
	if err != nil {
		ctx.Logger.Error("Failed to start session", slog.Any("error", err))
		return respondServerError(ctx.Ctx, "Failed to start session")
	}

	return ctx.Status(http.StatusOK).JSON(fiber.Map{
		"sessionId": session.SessionID,
		"userId":    visitor.ID,
	})
}

type sessionRefParams struct {
	SessionID string `json:"sessionId" validate:"required,max=64"`
}

// HeartbeatHandler handles POST /x/api/v1/sessions/heartbeat. It only
// updates existing rows: a heartbeat for an unknown session id is
// rejected and creates nothing.
func HeartbeatHandler(ctx *cartridge.Context) error {
	var params sessionRefParams
	if err := ctx.Ctx.BodyParser(&params); err != nil {
		return respondMalformedBody(ctx.Ctx)
	}
	if err := validate.Struct(&params); err != nil {
		return respondValidationError(ctx.Ctx, err)
	}

	serverTime, err := sessions.Heartbeat(ctx.DB(), ctx.Logger, params.SessionID)
	if err != nil {
		if errors.Is(err, sessions.ErrSessionNotFound) {
			return respondSessionNotFound(ctx.Ctx)
		}
		ctx.Logger.Error("Failed to record heartbeat", slog.Any("error", err))
		return respondServerError(ctx.Ctx, "Failed to record heartbeat")
	}

	return ctx.Status(http.StatusOK).JSON(fiber.Map{
		"ok":         true,
		"serverTime": serverTime.UTC().Format(time.RFC3339),
	})
}

// EndSessionHandler handles POST /x/api/v1/sessions/end.
func EndSessionHandler(ctx *cartridge.Context) error {
	var params sessionRefParams
	if err := ctx.Ctx.BodyParser(&params); err != nil {
		return respondMalformedBody(ctx.Ctx)
	}
	if err := validate.Struct(&params); err != nil {
		return respondValidationError(ctx.Ctx, err)
	}

	if err := sessions.End(ctx.DB(), ctx.Logger, params.SessionID); err != nil {
		if errors.Is(err, sessions.ErrSessionNotFound) {
			return respondSessionNotFound(ctx.Ctx)
		}
		ctx.Logger.Error("Failed to end session", slog.Any("error", err))
		return respondServerError(ctx.Ctx, "Failed to end session")
	}

	return ctx.Status(http.StatusOK).JSON(fiber.Map{"ok": true})
}

type sessionContextParams struct {
	SessionID string `json:"sessionId" validate:"required,max=64"`

	Country *string `json:"country"`
	Region  *string `json:"region"`
	City    *string `json:"city"`

	DeviceCategory *string `json:"deviceCategory"`
	BrowserName    *string `json:"browserName"`
	BrowserVersion *string `json:"browserVersion"`
	OSName         *string `json:"osName"`
	OSVersion      *string `json:"osVersion"`

	UTMSource   *string `json:"utmSource"`
	UTMMedium   *string `json:"utmMedium"`
	UTMCampaign *string `json:"utmCampaign"`
	UTMTerm     *string `json:"utmTerm"`
	UTMContent  *string `json:"utmContent"`
}

// UpdateSessionContextHandler handles POST /x/api/v1/sessions/context.
// Only the fields present in the payload are written.
func UpdateSessionContextHandler(ctx *cartridge.Context) error {
	var params sessionContextParams
	if err := ctx.Ctx.BodyParser(&params); err != nil {
		return respondMalformedBody(ctx.Ctx)
	}
	if err := validate.Struct(&params); err != nil {
		return respondValidationError(ctx.Ctx, err)
	}

	update := &sessions.ContextUpdate{
		Country:        params.Country,
		Region:         params.Region,
		City:           params.City,
		DeviceCategory: params.DeviceCategory,
		BrowserName:    params.BrowserName,
		BrowserVersion: params.BrowserVersion,
		OSName:         params.OSName,
		OSVersion:      params.OSVersion,
		UTMSource:      params.UTMSource,
		UTMMedium:      params.UTMMedium,
		UTMCampaign:    params.UTMCampaign,
		UTMTerm:        params.UTMTerm,
		UTMContent:     params.UTMContent,
	}

	if err := sessions.UpdateContext(ctx.DB(), ctx.Logger, params.SessionID, update); err != nil {
		if errors.Is(err, sessions.ErrSessionNotFound) {
			return respondSessionNotFound(ctx.Ctx)
		}
		ctx.Logger.Error("Failed to update session context", slog.Any("error", err))
		return respondServerError(ctx.Ctx, "Failed to update session context")
	}

	return ctx.Status(http.StatusOK).JSON(fiber.Map{"ok": true})
}

func respondSessionNotFound(c *fiber.Ctx) error {
	return c.Status(http.StatusNotFound).JSON(fiber.Map{
		"error": "Session not found",
	})
}
