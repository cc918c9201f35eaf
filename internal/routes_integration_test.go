package internal

import (
	"reflect"
	"runtime"
	"strings"
	"testing"

	"github.com/gofiber/fiber/v2"
	"github.com/karloscodes/cartridge/testsupport"
	"github.com/stretchr/testify/require"
)

func registeredRoutes(t *testing.T) []fiber.Route {
	t.Helper()
	srv := testsupport.NewTestServer(t, testsupport.TestServerOptions{
		RouteMountFunc: MountAppRoutes,
	})
	return srv.App.GetRoutes(true)
}

func TestIngestionRoutesRegisteredWithPreflight(t *testing.T) {
	routes := registeredRoutes(t)

	paths := []string{
		"/x/api/v1/users",
		"/x/api/v1/sessions",
		"/x/api/v1/sessions/heartbeat",
		"/x/api/v1/sessions/end",
		"/x/api/v1/sessions/context",
		"/x/api/v1/pageviews",
		"/x/api/v1/events",
		"/x/api/v1/batch",
	}

	registered := make(map[string]map[string]bool)
	for _, route := range routes {
		if registered[route.Path] == nil {
			registered[route.Path] = make(map[string]bool)
		}
		registered[route.Path][route.Method] = true
	}

	for _, path := range paths {
		require.Truef(t, registered[path][fiber.MethodPost], "expected POST %s", path)
		require.Truef(t, registered[path][fiber.MethodOptions], "expected OPTIONS preflight for %s", path)
	}
}

func TestPublicIngestionRoutesRateLimited(t *testing.T) {
	routes := registeredRoutes(t)

	var usersRoute *fiber.Route
	for idx := range routes {
		route := routes[idx]
		if route.Method == fiber.MethodPost && route.Path == "/x/api/v1/users" {
			usersRoute = &routes[idx]
			break
		}
	}
	require.NotNil(t, usersRoute, "expected users route to be registered")

	// The rate limiter is wrapped in a conditional that only fires in
	// production, so look for either the raw limiter or the wrapper
	// closure defined in MountAppRoutesWithoutSession.
	hasRateLimiter := false
	var handlerNames []string
	for _, handler := range usersRoute.Handlers {
		name := runtime.FuncForPC(reflect.ValueOf(handler).Pointer()).Name()
		handlerNames = append(handlerNames, name)
		if strings.Contains(name, "middleware/limiter") || strings.Contains(name, "MountAppRoutesWithoutSession.func") {
			hasRateLimiter = true
			break
		}
	}

	require.Truef(t, hasRateLimiter, "expected rate limiter middleware for public ingestion route, handlers: %v", handlerNames)
}

func TestAdminRoutesRegistered(t *testing.T) {
	routes := registeredRoutes(t)

	expected := map[string]string{
		"/admin/dashboard":               fiber.MethodGet,
		"/admin/api/sessions":            fiber.MethodGet,
		"/admin/api/exclusions":          fiber.MethodPost,
		"/admin/api/settings":            fiber.MethodGet,
		"/admin/account/change-password": fiber.MethodPost,
		"/login":                         fiber.MethodPost,
	}

	found := make(map[string]bool)
	for _, route := range routes {
		if method, ok := expected[route.Path]; ok && route.Method == method {
			found[route.Path] = true
		}
	}

	for path := range expected {
		require.Truef(t, found[path], "expected route %s to be registered", path)
	}
}
