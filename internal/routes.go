package internal

import (
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/karloscodes/cartridge"
	cartridgemiddleware "github.com/karloscodes/cartridge/middleware"

	v1 "revivalmetrics/api/v1"
	"revivalmetrics/internal/config"
	"revivalmetrics/internal/http"
	"revivalmetrics/internal/http/middleware"
)

// publicCORSConfig is shared by every public ingestion endpoint.
// Trackers post from arbitrary origins, so CORS is fully permissive.
var publicCORSConfig = &cors.Config{
	AllowOrigins: "*",
	AllowMethods: "POST,GET,OPTIONS",
	AllowHeaders: "Origin, Content-Type, Accept, Authorization, Referrer, User-Agent",
}

// SetupSession configures session management on the server.
func SetupSession(srv *cartridge.Server) {
	cfg := config.GetConfig()
	sessionMgr := cartridge.NewSessionManager(cartridge.SessionConfig{
		CookieName: cfg.AppName + "_session",
		Secret:     cfg.GetSessionSecret(),
		TTL:        time.Duration(cfg.GetLoginSessionTimeout()) * time.Second,
		Secure:     cfg.IsProduction(),
		LoginPath:  "/login",
	})
	srv.SetSession(sessionMgr)
}

// MountAppRoutes mounts all application routes using cartridge's route API
func MountAppRoutes(srv *cartridge.Server) {
	SetupSession(srv)
	MountAppRoutesWithoutSession(srv)
}

// MountAppRoutesWithoutSession mounts routes without setting up session.
// Used by callers that configure the session manager themselves.
func MountAppRoutesWithoutSession(srv *cartridge.Server) {
	cfg := config.GetConfig()
	sessionMgr := srv.Session()

	// Rate limiting only applies in production; in development and
	// test it would interfere with rapid-fire requests.
	conditionalRateLimiter := func(limiter fiber.Handler) fiber.Handler {
		return func(c *fiber.Ctx) error {
			if cfg.IsProduction() {
				return limiter(c)
			}
			return c.Next()
		}
	}

	// 70/min per IP handles legitimate tracker traffic while capping abuse
	publicRateLimiter := conditionalRateLimiter(cartridgemiddleware.RateLimiter(
		cartridgemiddleware.WithMax(70),
		cartridgemiddleware.WithDuration(time.Minute),
	))

	// Stricter limit on auth endpoints against brute force
	authRateLimiter := conditionalRateLimiter(cartridgemiddleware.RateLimiter(
		cartridgemiddleware.WithMax(10),
		cartridgemiddleware.WithDuration(time.Minute),
	))

	db := srv.GetDBManager().GetConnection()
	logger := srv.GetLogger()

	// Public ingestion config: CORS runs first so rejections still
	// carry CORS headers, then rate limiting, then the collection
	// kill switch. Sec-Fetch-Site is off here: the Go tracker is not
	// a browser and sends no such header, and these endpoints are
	// unauthenticated so there is no session to forge.
	publicAPIConfig := &cartridge.RouteConfig{
		EnableCORS:       true,
		WriteConcurrency: false,
		CustomMiddleware: []fiber.Handler{
			publicRateLimiter,
			middleware.CollectionGate(db, logger),
		},
		CORSConfig:         publicCORSConfig,
		EnableSecFetchSite: cartridge.Bool(false),
	}

	// Server-to-server config: API key auth instead of browser CORS
	serverAPIConfig := &cartridge.RouteConfig{
		CustomMiddleware: []fiber.Handler{
			publicRateLimiter,
			middleware.IngestAPIKeyAuth(db, logger),
		},
		EnableSecFetchSite: cartridge.Bool(false),
	}

	adminConfig := &cartridge.RouteConfig{
		CustomMiddleware: []fiber.Handler{
			sessionMgr.Middleware(),
		},
	}

	// Registers the POST ingestion route plus its CORS preflight twin
	publicPost := func(path string, handler func(*cartridge.Context) error) {
		srv.Post(path, handler, publicAPIConfig)
		srv.Options(path, func(ctx *cartridge.Context) error {
			return ctx.SendStatus(fiber.StatusNoContent)
		}, publicAPIConfig)
	}

	// === ROOT ROUTES ===

	// Health check endpoint
	srv.Get("/_health", http.HealthIndexAction)
	srv.Head("/_health", http.HealthIndexAction)

	// === PUBLIC API ROUTES ===
	publicPost("/x/api/v1/users", v1.UpsertUserHandler)
	publicPost("/x/api/v1/sessions", v1.StartSessionHandler)
	publicPost("/x/api/v1/sessions/heartbeat", v1.HeartbeatHandler)
	publicPost("/x/api/v1/sessions/end", v1.EndSessionHandler)
	publicPost("/x/api/v1/sessions/context", v1.UpdateSessionContextHandler)
	publicPost("/x/api/v1/pageviews", v1.TrackPageviewHandler)
	publicPost("/x/api/v1/events", v1.TrackEventHandler)
	publicPost("/x/api/v1/batch", v1.BatchHandler)

	// === SERVER-TO-SERVER API ROUTES ===
	srv.Get("/x/api/v1/stats", v1.StatsHandler, serverAPIConfig)

	// === AUTHENTICATION ROUTES ===
	loginConfig := &cartridge.RouteConfig{
		CustomMiddleware: []fiber.Handler{authRateLimiter},
	}
	srv.Get("/login", http.RenderLoginAction)
	srv.Post("/login", http.ProcessLoginAction, loginConfig)
	srv.Post("/logout", http.LogoutAction)

	// === PROTECTED ADMIN ROUTES ===
	srv.Get("/admin/dashboard", http.DashboardAction, adminConfig)

	srv.Get("/admin/api/sessions", http.AdminSessionsAction, adminConfig)
	srv.Get("/admin/api/sessions/:sessionId", http.AdminSessionDetailAction, adminConfig)

	srv.Get("/admin/api/exclusions", http.AdminExclusionsListAction, adminConfig)
	srv.Post("/admin/api/exclusions", http.AdminExclusionsCreateAction, adminConfig)
	srv.Delete("/admin/api/exclusions/:id", http.AdminExclusionsDeleteAction, adminConfig)

	srv.Get("/admin/api/settings", http.AdminSettingsListAction, adminConfig)
	srv.Post("/admin/api/settings/collection", http.AdminCollectionToggleAction, adminConfig)
	srv.Post("/admin/api/settings/anonymize-ips", http.AdminAnonymizeIPsToggleAction, adminConfig)
	srv.Post("/admin/api/settings/api-key/regenerate", http.AdminRegenerateAPIKeyAction, adminConfig)

	srv.Post("/admin/account/change-password", http.AccountChangePasswordAction, adminConfig)
}
