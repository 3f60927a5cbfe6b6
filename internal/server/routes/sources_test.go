package routes

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gofiber/fiber/v3"
	"github.com/sirupsen/logrus"

	"github.com/any-hub/any-cache/internal/config"
	"github.com/any-hub/any-cache/internal/manager"
	"github.com/any-hub/any-cache/internal/server"
)

func TestSourcesListReportsStats(t *testing.T) {
	app, _ := newRoutesTestApp(t)

	resp := doRequest(t, app, http.MethodGet, "/-/sources")
	if resp.StatusCode != fiber.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	var payload struct {
		Sources []sourcePayload `json:"sources"`
	}
	body, _ := io.ReadAll(resp.Body)
	if err := json.Unmarshal(body, &payload); err != nil {
		t.Fatalf("invalid payload %s: %v", body, err)
	}
	if len(payload.Sources) != 2 {
		t.Fatalf("expected 2 sources, got %d", len(payload.Sources))
	}
	first := payload.Sources[0]
	if first.Name != "images" || first.AuthMode != "credentialed" {
		t.Fatalf("unexpected first source %+v", first)
	}
	if first.Stats.MemoryLimit != 25 {
		t.Fatalf("expected memory limit 25, got %d", first.Stats.MemoryLimit)
	}
	if payload.Sources[1].Type != config.SourceTypeTile {
		t.Fatalf("expected tile source second, got %s", payload.Sources[1].Type)
	}
}

func TestSourceDetailUnknownName(t *testing.T) {
	app, _ := newRoutesTestApp(t)

	resp := doRequest(t, app, http.MethodGet, "/-/sources/nope")
	if resp.StatusCode != fiber.StatusNotFound {
		t.Fatalf("expected 404, got %d", resp.StatusCode)
	}
}

func TestClearResourceRemovesCachedEntry(t *testing.T) {
	app, registry := newRoutesTestApp(t)
	route, _ := registry.Route("images")

	warm(t, route, "icons/a.png")
	if stats := statsOf(t, route); stats.MemoryEntries != 1 || stats.Disk.Entries != 1 {
		t.Fatalf("expected warmed entry in both tiers, got %+v", stats)
	}

	resp := doRequest(t, app, http.MethodDelete, "/-/sources/images/resources?id=icons/a.png")
	if resp.StatusCode != fiber.StatusNoContent {
		t.Fatalf("expected 204, got %d", resp.StatusCode)
	}
	if stats := statsOf(t, route); stats.MemoryEntries != 0 || stats.Disk.Entries != 0 {
		t.Fatalf("entry should be gone from both tiers, got %+v", stats)
	}

	resp = doRequest(t, app, http.MethodDelete, "/-/sources/images/resources")
	if resp.StatusCode != fiber.StatusBadRequest {
		t.Fatalf("missing id should be rejected, got %d", resp.StatusCode)
	}
}

func TestClearMemoryKeepsDisk(t *testing.T) {
	app, registry := newRoutesTestApp(t)
	route, _ := registry.Route("images")
	warm(t, route, "icons/b.png")

	resp := doRequest(t, app, http.MethodDelete, "/-/sources/images/memory")
	if resp.StatusCode != fiber.StatusNoContent {
		t.Fatalf("expected 204, got %d", resp.StatusCode)
	}
	stats := statsOf(t, route)
	if stats.MemoryEntries != 0 || stats.Disk.Entries != 1 {
		t.Fatalf("memory clear should leave disk intact, got %+v", stats)
	}

	resp = doRequest(t, app, http.MethodDelete, "/-/sources/images/disk")
	if resp.StatusCode != fiber.StatusNoContent {
		t.Fatalf("expected 204, got %d", resp.StatusCode)
	}
	if stats := statsOf(t, route); stats.Disk.Entries != 0 {
		t.Fatalf("disk clear should empty disk tier, got %+v", stats)
	}
}

func TestDeferDownloads(t *testing.T) {
	app, _ := newRoutesTestApp(t)

	resp := doRequest(t, app, http.MethodPost, "/-/sources/osm/defer")
	if resp.StatusCode != fiber.StatusNoContent {
		t.Fatalf("expected 204, got %d", resp.StatusCode)
	}
}

func newRoutesTestApp(t *testing.T) (*fiber.App, *server.SourceRegistry) {
	t.Helper()

	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "image/png")
		_, _ = w.Write([]byte("payload"))
	}))
	t.Cleanup(upstream.Close)

	cfg := &config.Config{
		Global: config.GlobalConfig{
			ListenPort:             5000,
			StoragePath:            t.TempDir(),
			MemoryCacheCountLimit:  25,
			DiskCacheSizeLimit:     config.ByteSize(16 << 20),
			MaxConcurrentDownloads: 2,
			DiskCompression:        "zstd",
			InitialBackoff:         config.Duration(time.Millisecond),
			UpstreamTimeout:        config.Duration(5 * time.Second),
			RequestTimeout:         config.Duration(5 * time.Second),
		},
		Sources: []config.SourceConfig{
			{
				Name:     "images",
				Domain:   "images.cache.local",
				Type:     config.SourceTypeHTTP,
				Upstream: upstream.URL,
				Username: "user",
				Password: "secret",
			},
			{
				Name:     "osm",
				Domain:   "tiles.cache.local",
				Type:     config.SourceTypeTile,
				Upstream: upstream.URL + "/{z}/{x}/{y}.png",
			},
		},
	}

	logger := logrus.New()
	logger.SetOutput(io.Discard)

	registry, err := server.NewSourceRegistry(cfg, logger)
	if err != nil {
		t.Fatalf("failed to create registry: %v", err)
	}
	t.Cleanup(registry.Close)

	app, err := server.NewApp(server.AppOptions{
		Logger:   logger,
		Registry: registry,
		Handler: server.SourceHandlerFunc(func(c fiber.Ctx, _ *server.SourceRoute) error {
			return c.SendStatus(fiber.StatusNoContent)
		}),
		ListenPort: cfg.Global.ListenPort,
	})
	if err != nil {
		t.Fatalf("failed to create app: %v", err)
	}
	RegisterSourceRoutes(app, registry, logger)
	return app, registry
}

func warm(t *testing.T, route *server.SourceRoute, id string) {
	t.Helper()
	done := make(chan manager.Result, 1)
	if _, err := route.Manager.Request(id, nil, func(r manager.Result) { done <- r }); err != nil {
		t.Fatalf("request failed: %v", err)
	}
	select {
	case r := <-done:
		if r.Resource == nil {
			t.Fatalf("warm fetch failed for %s", id)
		}
	case <-time.After(5 * time.Second):
		t.Fatalf("timed out warming %s", id)
	}
	if err := route.Manager.Flush(context.Background()); err != nil {
		t.Fatalf("flush failed: %v", err)
	}
}

func statsOf(t *testing.T, route *server.SourceRoute) manager.Stats {
	t.Helper()
	stats, err := route.Manager.Stats(context.Background())
	if err != nil {
		t.Fatalf("stats failed: %v", err)
	}
	return stats
}

func doRequest(t *testing.T, app *fiber.App, method, target string) *http.Response {
	t.Helper()
	req := httptest.NewRequest(method, "http://admin.local"+target, nil)
	resp, err := app.Test(req, fiber.TestConfig{Timeout: 5 * time.Second})
	if err != nil {
		t.Fatalf("app.Test failed: %v", err)
	}
	return resp
}
