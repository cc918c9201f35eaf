package middleware

import (
	"log/slog"

	"github.com/gofiber/fiber/v2"
	"gorm.io/gorm"

	"revivalmetrics/internal/settings"
)

// CollectionGate short-circuits ingestion while the collection kill
// switch is off. Trackers still get a success acknowledgement so they
// do not queue retries; nothing is stored.
func CollectionGate(db *gorm.DB, logger *slog.Logger) fiber.Handler {
	return func(c *fiber.Ctx) error {
		if settings.IsCollectionEnabled(db) {
			return c.Next()
		}
		logger.Debug("Collection disabled, dropping hit", slog.String("path", c.Path()))
		return c.Status(fiber.StatusOK).JSON(fiber.Map{
			"ok":      true,
			"dropped": true,
		})
	}
}
