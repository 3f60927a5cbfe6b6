package server

import (
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/any-hub/any-cache/internal/config"
	"github.com/any-hub/any-cache/internal/provider"
	"github.com/any-hub/any-cache/internal/tiles"
)

func TestSourceRegistryLookupByHost(t *testing.T) {
	cfg := testConfig(t)
	registry, err := NewSourceRegistry(cfg, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	t.Cleanup(registry.Close)

	route, ok := registry.Lookup("images.cache.local")
	if !ok {
		t.Fatalf("expected images route")
	}
	if route.Config.Name != "images" {
		t.Errorf("wrong source returned: %s", route.Config.Name)
	}
	if route.StoragePath != filepath.Join(cfg.Global.StoragePath, "images") {
		t.Errorf("unexpected storage path %s", route.StoragePath)
	}
	if route.Manager.MemoryCacheCountLimit() != 25 {
		t.Errorf("expected global memory limit, got %d", route.Manager.MemoryCacheCountLimit())
	}

	tileRoute, ok := registry.Lookup("tiles.cache.local:5000")
	if !ok {
		t.Fatalf("expected tile route by host:port")
	}
	if tileRoute.Manager.MemoryCacheCountLimit() != 500 {
		t.Errorf("source override should apply, got %d", tileRoute.Manager.MemoryCacheCountLimit())
	}

	if _, ok := registry.Lookup("unknown.local"); ok {
		t.Fatalf("unexpected route for unknown host")
	}
	if _, ok := registry.Route("osm"); !ok {
		t.Fatalf("expected route by name")
	}
	if names := registry.List(); len(names) != 2 || names[0].Config.Name != "images" {
		t.Fatalf("list should keep configuration order")
	}
}

func TestSourceRegistryIdentifiers(t *testing.T) {
	registry := newTestRegistry(t)

	images, _ := registry.Route("images")
	id, err := images.Identify("/icons/logo.png", "v=2")
	if err != nil || id != "icons/logo.png?v=2" {
		t.Fatalf("unexpected http identifier %v, %v", id, err)
	}
	if _, err := images.Identify("/", ""); !errors.Is(err, provider.ErrEmptyPath) {
		t.Fatalf("expected ErrEmptyPath, got %v", err)
	}

	osm, _ := registry.Route("osm")
	id, err = osm.Identify("/3/4/5.png", "")
	if err != nil || id != (tiles.Tile{Zoom: 3, X: 4, Y: 5}) {
		t.Fatalf("unexpected tile identifier %v, %v", id, err)
	}
	if _, err := osm.Identify("/3/99/5.png", ""); !errors.Is(err, tiles.ErrInvalidTile) {
		t.Fatalf("expected ErrInvalidTile, got %v", err)
	}
}

func TestSourceRegistryApplyUpdatesLimits(t *testing.T) {
	cfg := testConfig(t)
	registry, err := NewSourceRegistry(cfg, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	t.Cleanup(registry.Close)

	updated := *cfg
	updated.Global.MemoryCacheCountLimit = 7
	updated.Global.DiskCacheSizeLimit = config.ByteSize(1 << 20)
	updated.Global.MaxConcurrentDownloads = 9
	registry.Apply(&updated)

	route, _ := registry.Route("images")
	if route.Manager.MemoryCacheCountLimit() != 7 {
		t.Fatalf("memory limit not applied: %d", route.Manager.MemoryCacheCountLimit())
	}
	if route.Manager.DiskCacheTotalSizeLimit() != 1<<20 {
		t.Fatalf("disk limit not applied: %d", route.Manager.DiskCacheTotalSizeLimit())
	}
	if route.Manager.MaxConcurrentDownloads() != 9 {
		t.Fatalf("concurrency not applied: %d", route.Manager.MaxConcurrentDownloads())
	}
	osm, _ := registry.Route("osm")
	if osm.Manager.MemoryCacheCountLimit() != 500 {
		t.Fatalf("source override must survive reload, got %d", osm.Manager.MemoryCacheCountLimit())
	}
}

func TestSourceRegistryRejectsDuplicateDomains(t *testing.T) {
	cfg := testConfig(t)
	cfg.Sources[1].Domain = "IMAGES.cache.local."
	if _, err := NewSourceRegistry(cfg, nil); err == nil {
		t.Fatalf("duplicate normalized domains should fail")
	}
}

func TestNormalizeHost(t *testing.T) {
	testCases := []struct {
		raw  string
		host string
		port int
	}{
		{"Example.COM", "example.com", 0},
		{"example.com:8080", "example.com", 8080},
		{"example.com.", "example.com", 0},
		{"[::1]:5000", "::1", 5000},
		{"", "", 0},
	}
	for _, tc := range testCases {
		host, port := normalizeHost(tc.raw)
		if host != tc.host || port != tc.port {
			t.Fatalf("normalizeHost(%q) = %q, %d", tc.raw, host, port)
		}
	}
}

func newTestRegistry(t *testing.T) *SourceRegistry {
	t.Helper()
	registry, err := NewSourceRegistry(testConfig(t), nil)
	if err != nil {
		t.Fatalf("failed to create registry: %v", err)
	}
	t.Cleanup(registry.Close)
	return registry
}

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	tileMemory := 500
	return &config.Config{
		Global: config.GlobalConfig{
			ListenPort:             5000,
			StoragePath:            t.TempDir(),
			MemoryCacheCountLimit:  25,
			DiskCacheSizeLimit:     config.ByteSize(150 << 20),
			MaxConcurrentDownloads: 4,
			DiskCompression:        "zstd",
			MaxRetries:             0,
			InitialBackoff:         config.Duration(time.Millisecond),
			UpstreamTimeout:        config.Duration(5 * time.Second),
			RequestTimeout:         config.Duration(5 * time.Second),
		},
		Sources: []config.SourceConfig{
			{
				Name:     "images",
				Domain:   "images.cache.local",
				Type:     config.SourceTypeHTTP,
				Upstream: "https://images.example.com",
			},
			{
				Name:                  "osm",
				Domain:                "tiles.cache.local",
				Type:                  config.SourceTypeTile,
				Upstream:              "https://tile.example.com/{z}/{x}/{y}.png",
				MemoryCacheCountLimit: &tileMemory,
			},
		},
	}
}
