package config

import (
	"errors"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadWithDefaults(t *testing.T) {
	cfg, err := Load(fixturePath("valid.toml"))
	if err != nil {
		t.Fatalf("Load 返回错误: %v", err)
	}
	g := cfg.Global
	if g.ListenPort != 5100 {
		t.Fatalf("ListenPort 应当被解析, got %d", g.ListenPort)
	}
	if !filepath.IsAbs(g.StoragePath) {
		t.Fatalf("StoragePath 应转换为绝对路径: %s", g.StoragePath)
	}
	if g.MemoryCacheCountLimit != 25 {
		t.Fatalf("MemoryCacheCountLimit 默认应为 25, got %d", g.MemoryCacheCountLimit)
	}
	if g.DiskCacheSizeLimit.Bytes() != 64<<20 {
		t.Fatalf("DiskCacheSizeLimit 解析错误: %d", g.DiskCacheSizeLimit)
	}
	if g.MaxConcurrentDownloads != 4 || g.DiskCompression != "lz4" {
		t.Fatalf("默认并发或压缩配置错误: %+v", g)
	}
	if g.RequestTimeout.DurationValue() != 30*time.Second {
		t.Fatalf("RequestTimeout 默认应为 30s")
	}

	if len(cfg.Sources) != 2 {
		t.Fatalf("应解析出 2 个 Source, got %d", len(cfg.Sources))
	}
	osm, images := cfg.Sources[0], cfg.Sources[1]
	if osm.Type != SourceTypeTile || images.Type != SourceTypeHTTP {
		t.Fatalf("Source 类型解析错误: %s %s", osm.Type, images.Type)
	}
	if cfg.EffectiveMemoryCacheCountLimit(osm) != 200 || cfg.EffectiveDiskCacheSizeLimit(osm) != 1<<30 {
		t.Fatalf("源级覆盖应生效")
	}
	if cfg.EffectiveMemoryCacheCountLimit(images) != 25 || cfg.EffectiveDiskCacheSizeLimit(images) != 64<<20 {
		t.Fatalf("未覆盖时应退回全局值")
	}
	if cfg.EffectiveMaxConcurrentDownloads(images) != 4 {
		t.Fatalf("并发上限应退回全局值")
	}
	if images.AuthMode() != "credentialed" || osm.AuthMode() != "anonymous" {
		t.Fatalf("鉴权模式解析错误")
	}
	if got := cfg.SourceStoragePath(osm); got != filepath.Join(g.StoragePath, "osm") {
		t.Fatalf("源缓存目录错误: %s", got)
	}
}

func TestValidateRejectsBadSource(t *testing.T) {
	_, err := Load(fixturePath("missing.toml"))
	if !errors.Is(err, ErrInvalidConfig) {
		t.Fatalf("不合法的配置应返回 ErrInvalidConfig, got %v", err)
	}
	var fieldErr *FieldError
	if !errors.As(err, &fieldErr) || fieldErr.Field != "Source[broken].Domain" {
		t.Fatalf("应指出 Domain 字段, got %v", err)
	}
}

func TestValidateEnforcesListenPortRange(t *testing.T) {
	cfg := validConfig()
	cfg.Global.ListenPort = 70000
	if err := cfg.Validate(); err == nil {
		t.Fatalf("ListenPort 超出范围应当报错")
	}
}

func TestSourceTypeValidation(t *testing.T) {
	testCases := []struct {
		name       string
		sourceType string
		upstream   string
		shouldErr  bool
	}{
		{"http ok", "http", "https://images.example.com", false},
		{"tile ok", "TILE", "https://tile.example.com/{z}/{x}/{y}.png", false},
		{"tile missing placeholder", "tile", "https://tile.example.com/{z}/{x}.png", true},
		{"unknown type", "ftp", "https://images.example.com", true},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := validConfig()
			cfg.Sources[0].Type = tc.sourceType
			cfg.Sources[0].Upstream = tc.upstream
			err := cfg.Validate()
			if tc.shouldErr && err == nil {
				t.Fatalf("期望错误但得到 nil")
			}
			if !tc.shouldErr && err != nil {
				t.Fatalf("意外错误: %v", err)
			}
		})
	}
}

func TestValidateRejectsDuplicates(t *testing.T) {
	cfg := validConfig()
	cfg.Sources = append(cfg.Sources, SourceConfig{
		Name:     "other",
		Domain:   cfg.Sources[0].Domain,
		Type:     SourceTypeHTTP,
		Upstream: "https://other.example.com",
	})
	err := cfg.Validate()
	var fieldErr *FieldError
	if !errors.As(err, &fieldErr) || fieldErr.Field != "Source[other].Domain" {
		t.Fatalf("重复域名应返回 FieldError, got %v", err)
	}

	cfg = validConfig()
	cfg.Sources = append(cfg.Sources, cfg.Sources[0])
	if err := cfg.Validate(); err == nil {
		t.Fatalf("重复名称应报错")
	}
}

func TestValidateCredentialPairs(t *testing.T) {
	cfg := validConfig()
	cfg.Sources[0].Username = "foo"
	if err := cfg.Validate(); err == nil {
		t.Fatalf("仅提供 Username 时应报错")
	}
}

func TestValidateCacheLimits(t *testing.T) {
	cfg := validConfig()
	cfg.Global.DiskCompression = "gzip"
	if err := cfg.Validate(); err == nil {
		t.Fatalf("不支持的压缩算法应报错")
	}

	cfg = validConfig()
	negative := -1
	cfg.Sources[0].MemoryCacheCountLimit = &negative
	if err := cfg.Validate(); err == nil {
		t.Fatalf("负数内存上限应报错")
	}

	cfg = validConfig()
	cfg.Global.MemoryCacheCountLimit = 0
	if err := cfg.Validate(); err != nil {
		t.Fatalf("0 表示不限制，应当合法: %v", err)
	}
}

func validConfig() *Config {
	return &Config{
		Global: GlobalConfig{
			ListenPort:             5000,
			StoragePath:            "./data",
			MemoryCacheCountLimit:  25,
			DiskCacheSizeLimit:     ByteSize(150 << 20),
			MaxConcurrentDownloads: 4,
			DiskCompression:        "zstd",
			MaxRetries:             1,
			InitialBackoff:         Duration(time.Second),
			UpstreamTimeout:        Duration(time.Second),
			RequestTimeout:         Duration(time.Second),
		},
		Sources: []SourceConfig{
			{
				Name:     "images",
				Domain:   "images.local",
				Type:     SourceTypeHTTP,
				Upstream: "https://images.example.com",
			},
		},
	}
}
