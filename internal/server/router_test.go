package server

import (
	"bytes"
	"io"
	"net/http/httptest"
	"testing"

	"github.com/gofiber/fiber/v3"
	"github.com/sirupsen/logrus"
)

func TestRouterRoutesRequestWhenHostMatches(t *testing.T) {
	app := newTestApp(t, 5000)

	req := httptest.NewRequest("GET", "http://images.cache.local/icons/logo.png", nil)
	req.Host = "images.cache.local"
	req.Header.Set("Host", "images.cache.local")

	resp, err := app.Test(req)
	if err != nil {
		t.Fatalf("app.Test failed: %v", err)
	}
	if resp.StatusCode != fiber.StatusNoContent {
		body, _ := io.ReadAll(resp.Body)
		t.Fatalf("expected 204 status, got %d (body=%s, hostHeader=%s)", resp.StatusCode, string(body), resp.Header.Get("X-Any-Cache-Host"))
	}

	if app.storage.routeName != "images" {
		t.Fatalf("expected images route, got %s", app.storage.routeName)
	}

	if reqID := resp.Header.Get("X-Request-ID"); reqID == "" {
		t.Fatalf("expected X-Request-ID header to be set")
	}
	if resp.Header.Get("X-Any-Cache-Source") != "images" {
		t.Fatalf("expected source header, got %q", resp.Header.Get("X-Any-Cache-Source"))
	}
}

func TestRouterLeavesDiagnosticsPathsAlone(t *testing.T) {
	app := newTestApp(t, 5000)
	app.Get("/-/ping", func(c fiber.Ctx) error {
		return c.SendString("pong")
	})

	req := httptest.NewRequest("GET", "http://unknown.local/-/ping", nil)
	req.Host = "unknown.local"
	resp, err := app.Test(req)
	if err != nil {
		t.Fatalf("app.Test failed: %v", err)
	}
	if resp.StatusCode != fiber.StatusOK {
		t.Fatalf("diagnostics path should bypass host routing, got %d", resp.StatusCode)
	}
	if app.storage.lastRoute != nil {
		t.Fatalf("resource handler must not run for diagnostics paths")
	}

	req = httptest.NewRequest("GET", "http://unknown.local/-/missing", nil)
	resp, err = app.Test(req)
	if err != nil {
		t.Fatalf("app.Test failed: %v", err)
	}
	if resp.StatusCode != fiber.StatusNotFound {
		t.Fatalf("expected 404 for unknown diagnostics path, got %d", resp.StatusCode)
	}
	body, _ := io.ReadAll(resp.Body)
	if !bytes.Contains(body, []byte(`"not_found"`)) {
		t.Fatalf("expected not_found error, got %s", body)
	}
}

func TestRouterMatchesHostWithPort(t *testing.T) {
	app := newTestApp(t, 5000)

	req := httptest.NewRequest("GET", "http://tiles.cache.local:5000/1/0/0.png", nil)
	req.Host = "TILES.cache.local:5000"

	resp, err := app.Test(req)
	if err != nil {
		t.Fatalf("app.Test failed: %v", err)
	}
	if resp.StatusCode != fiber.StatusNoContent {
		t.Fatalf("expected 204 status, got %d", resp.StatusCode)
	}
	if app.storage.routeName != "osm" {
		t.Fatalf("expected osm route, got %s", app.storage.routeName)
	}
}

func TestRouterReturns404WhenHostUnknown(t *testing.T) {
	app := newTestApp(t, 5000)

	req := httptest.NewRequest("GET", "http://unknown.local/a.png", nil)
	req.Host = "unknown.local"
	req.Header.Set("Host", "unknown.local")

	resp, err := app.Test(req)
	if err != nil {
		t.Fatalf("app.Test failed: %v", err)
	}
	if resp.StatusCode != fiber.StatusNotFound {
		t.Fatalf("expected 404 status, got %d", resp.StatusCode)
	}

	body, _ := io.ReadAll(resp.Body)
	if !bytes.Contains(body, []byte(`"host_unmapped"`)) {
		t.Fatalf("expected host_unmapped error, got %s", string(body))
	}
	if resp.Header.Get("X-Any-Cache-Host") != "unknown.local" {
		t.Fatalf("expected host echo header")
	}
}

func TestNewAppRequiresDependencies(t *testing.T) {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	registry := newTestRegistry(t)

	if _, err := NewApp(AppOptions{Registry: registry, Handler: &routeRecorder{}, ListenPort: 5000}); err == nil {
		t.Fatalf("missing logger should fail")
	}
	if _, err := NewApp(AppOptions{Logger: logger, Handler: &routeRecorder{}, ListenPort: 5000}); err == nil {
		t.Fatalf("missing registry should fail")
	}
	if _, err := NewApp(AppOptions{Logger: logger, Registry: registry, ListenPort: 5000}); err == nil {
		t.Fatalf("missing handler should fail")
	}
	if _, err := NewApp(AppOptions{Logger: logger, Registry: registry, Handler: &routeRecorder{}}); err == nil {
		t.Fatalf("invalid port should fail")
	}
}

type testApp struct {
	*fiber.App
	storage *routeRecorder
}

func newTestApp(t *testing.T, port int) *testApp {
	t.Helper()

	registry := newTestRegistry(t)
	if _, ok := registry.Lookup("images.cache.local"); !ok {
		t.Fatalf("registry lookup failed for images")
	}

	logger := logrus.New()
	logger.SetOutput(io.Discard)

	recorder := &routeRecorder{}
	app, err := NewApp(AppOptions{
		Logger:     logger,
		Registry:   registry,
		Handler:    recorder,
		ListenPort: port,
	})
	if err != nil {
		t.Fatalf("failed to create app: %v", err)
	}

	return &testApp{App: app, storage: recorder}
}

type routeRecorder struct {
	lastRoute *SourceRoute
	routeName string
}

func (p *routeRecorder) Handle(c fiber.Ctx, route *SourceRoute) error {
	p.lastRoute = route
	p.routeName = route.Config.Name
	return c.SendStatus(fiber.StatusNoContent)
}
