package http

import (
	"strconv"

	"github.com/gofiber/fiber/v2"
	"github.com/karloscodes/cartridge"
	"log/slog"

	"revivalmetrics/internal/settings"
)

// AdminSettingsListAction returns all settings with secrets masked.
func AdminSettingsListAction(ctx *cartridge.Context) error {
	list, err := settings.GetAllSettingsForDisplay(ctx.DB())
	if err != nil {
		ctx.Logger.Error("Failed to list settings", slog.Any("error", err))
		return ctx.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to list settings",
		})
	}
	return ctx.JSON(fiber.Map{"settings": list})
}

// AdminCollectionToggleAction flips the global collection kill switch.
// While disabled, ingestion endpoints acknowledge and drop.
func AdminCollectionToggleAction(ctx *cartridge.Context) error {
	var body struct {
		Enabled bool `json:"enabled"`
	}
	if err := ctx.BodyParser(&body); err != nil {
		return ctx.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Invalid request body",
		})
	}

	db := ctx.DB()
	if err := settings.CreateOrUpdateSetting(db, settings.KeyCollectionEnabled, strconv.FormatBool(body.Enabled)); err != nil {
		ctx.Logger.Error("Failed to update collection setting", slog.Any("error", err))
		return ctx.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to update setting",
		})
	}

	ctx.Logger.Info("Collection toggled", slog.Bool("enabled", body.Enabled))
	return ctx.JSON(fiber.Map{"ok": true, "enabled": body.Enabled})
}

// AdminAnonymizeIPsToggleAction flips IP anonymization for newly
// stored sessions. Rows written while it was off keep their full IPs.
func AdminAnonymizeIPsToggleAction(ctx *cartridge.Context) error {
	var body struct {
		Enabled bool `json:"enabled"`
	}
	if err := ctx.BodyParser(&body); err != nil {
		return ctx.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Invalid request body",
		})
	}

	db := ctx.DB()
	if err := settings.CreateOrUpdateSetting(db, settings.KeyAnonymizeIPs, strconv.FormatBool(body.Enabled)); err != nil {
		ctx.Logger.Error("Failed to update anonymization setting", slog.Any("error", err))
		return ctx.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to update setting",
		})
	}

	ctx.Logger.Info("IP anonymization toggled", slog.Bool("enabled", body.Enabled))
	return ctx.JSON(fiber.Map{"ok": true, "enabled": body.Enabled})
}

// AdminRegenerateAPIKeyAction rotates the ingest API key. The previous
// key stops working immediately.
func AdminRegenerateAPIKeyAction(ctx *cartridge.Context) error {
	key, err := settings.RegenerateIngestAPIKey(ctx.DB())
	if err != nil {
		ctx.Logger.Error("Failed to regenerate ingest API key", slog.Any("error", err))
		return ctx.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to regenerate API key",
		})
	}

	ctx.Logger.Info("Ingest API key regenerated")
	return ctx.JSON(fiber.Map{"apiKey": key})
}
