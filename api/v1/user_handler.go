// Package v1 implements the public ingestion API mounted under
// /x/api/v1. Handlers share a strict error contract: malformed or
// invalid payloads get 400 with per-field details, storage failures get
// 500 with a bare error message, and excluded traffic is acknowledged
// but never stored.
package v1

import (
	"log/slog"
	"net/http"

	"github.com/gofiber/fiber/v2"
	"github.com/karloscodes/cartridge"

	"revivalmetrics/internal/exclusions"
	"revivalmetrics/internal/visitors"
)

type upsertUserParams struct {
	AnonID string                 `json:"anonId" validate:"required,max=64"`
	Traits map[string]interface{} `json:"traits"`
}

// UpsertUserHandler handles POST /x/api/v1/users. The operation is
// idempotent: repeated calls with the same anonId return the same
// userId.
func UpsertUserHandler(ctx *cartridge.Context) error {
	var params upsertUserParams
	if err := ctx.Ctx.BodyParser(&params); err != nil {
		return respondMalformedBody(ctx.Ctx)
	}
	if err := validate.Struct(&params); err != nil {
		return respondValidationError(ctx.Ctx, err)
	}

	db := ctx.DB()

	if exclusions.IsExcluded(db, params.AnonID, "", getClientIP(ctx.Ctx)) {
		return respondDropped(ctx.Ctx)
	}

	visitor, err := visitors.UpsertByAnonID(db, ctx.Logger, params.AnonID, params.Traits)
	if err != nil {
		ctx.Logger.Error("Failed to upsert visitor", slog.Any("error", err))
		return respondServerError(ctx.Ctx, "Failed to store user")
	}

	return ctx.Status(http.StatusOK).JSON(fiber.Map{
		"userId": visitor.ID,
		"anonId": visitor.AnonID,
	})
}

// respondDropped acknowledges a hit from excluded traffic without
// storing anything. The tracker treats this as a successful delivery.
func respondDropped(c *fiber.Ctx) error {
	return c.Status(http.StatusOK).JSON(fiber.Map{
		"ok":      true,
		"dropped": true,
	})
}
