package http

import (
	"strconv"

	"github.com/gofiber/fiber/v2"
	"github.com/karloscodes/cartridge"
	"log/slog"

	"revivalmetrics/internal/exclusions"
	"revivalmetrics/internal/users"
)

// AdminExclusionsListAction lists the exclusion tombstones.
func AdminExclusionsListAction(ctx *cartridge.Context) error {
	list, err := exclusions.List(ctx.DB())
	if err != nil {
		ctx.Logger.Error("Failed to list exclusions", slog.Any("error", err))
		return ctx.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to list exclusions",
		})
	}
	return ctx.JSON(fiber.Map{"exclusions": list})
}

// AdminExclusionsCreateAction adds a new exclusion. At least one of
// userId, anonId, sessionId, or ipAddress must be supplied.
func AdminExclusionsCreateAction(ctx *cartridge.Context) error {
	var body struct {
		UserID    uint   `json:"userId"`
		AnonID    string `json:"anonId"`
		SessionID string `json:"sessionId"`
		IPAddress string `json:"ipAddress"`
		Reason    string `json:"reason"`
	}
	if err := ctx.BodyParser(&body); err != nil {
		return ctx.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Invalid request body",
		})
	}

	excludedBy := ""
	if userID, ok := ctx.Session.GetUserID(ctx.Ctx); ok {
		if user, err := users.FindByID(ctx.DB(), userID); err == nil {
			excludedBy = user.Email
		}
	}

	excluded := &exclusions.ExcludedUser{
		VisitorID:  body.UserID,
		AnonID:     body.AnonID,
		SessionID:  body.SessionID,
		IPAddress:  body.IPAddress,
		Reason:     body.Reason,
		ExcludedBy: excludedBy,
	}
	if err := exclusions.Exclude(ctx.DB(), ctx.Logger, excluded); err != nil {
		if err == exclusions.ErrNoIdentifier {
			return ctx.Status(fiber.StatusBadRequest).JSON(fiber.Map{
				"error": "At least one of userId, anonId, sessionId, or ipAddress is required",
			})
		}
		ctx.Logger.Error("Failed to create exclusion", slog.Any("error", err))
		return ctx.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to create exclusion",
		})
	}

	ctx.Logger.Info("Exclusion created",
		slog.String("anonId", body.AnonID),
		slog.String("sessionId", body.SessionID),
		slog.String("reason", body.Reason))

	return ctx.Status(fiber.StatusCreated).JSON(excluded)
}

// AdminExclusionsDeleteAction removes an exclusion by id. Data already
// dropped while the exclusion was active stays dropped.
func AdminExclusionsDeleteAction(ctx *cartridge.Context) error {
	id, err := strconv.ParseUint(ctx.Ctx.Params("id"), 10, 64)
	if err != nil {
		return ctx.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Invalid exclusion id",
		})
	}

	if err := exclusions.RemoveExclusion(ctx.DB(), ctx.Logger, uint(id)); err != nil {
		ctx.Logger.Error("Failed to delete exclusion", slog.Any("error", err))
		return ctx.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to delete exclusion",
		})
	}

	return ctx.JSON(fiber.Map{"ok": true})
}
