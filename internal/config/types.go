package config

import (
	"fmt"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
)

// Duration 提供更灵活的反序列化能力，同时兼容纯秒整数与 Go Duration 字符串。
type Duration time.Duration

// UnmarshalText 使 Viper 可以识别诸如 "30s"、"5m" 或纯数字秒值等配置写法。
func (d *Duration) UnmarshalText(text []byte) error {
	raw := strings.TrimSpace(string(text))
	if raw == "" {
		*d = Duration(0)
		return nil
	}

	if parsed, err := time.ParseDuration(raw); err == nil {
		*d = Duration(parsed)
		return nil
	}

	if intVal, err := parseInt(raw); err == nil {
		*d = Duration(time.Duration(intVal) * time.Second)
		return nil
	}

	return fmt.Errorf("invalid duration value: %s", raw)
}

// DurationValue 返回真实的 time.Duration，便于调用方计算。
func (d Duration) DurationValue() time.Duration {
	return time.Duration(d)
}

// ByteSize 表示字节数，支持 "150MiB"、"2GB" 或纯数字字节写法。
type ByteSize int64

// UnmarshalText 使用 humanize 解析带单位的容量。
func (b *ByteSize) UnmarshalText(text []byte) error {
	parsed, err := parseByteSize(string(text))
	if err != nil {
		return err
	}
	*b = parsed
	return nil
}

// Bytes 返回 int64 形式的字节数。
func (b ByteSize) Bytes() int64 {
	return int64(b)
}

func (b ByteSize) String() string {
	return humanize.IBytes(uint64(b))
}

func parseByteSize(raw string) (ByteSize, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return 0, nil
	}
	if intVal, err := parseInt(raw); err == nil {
		if intVal < 0 {
			return 0, fmt.Errorf("invalid byte size: %s", raw)
		}
		return ByteSize(intVal), nil
	}
	parsed, err := humanize.ParseBytes(raw)
	if err != nil {
		return 0, fmt.Errorf("invalid byte size: %s", raw)
	}
	return ByteSize(parsed), nil
}

// parseInt 支持十进制或 0x 前缀的十六进制字符串解析。
func parseInt(value string) (int64, error) {
	if strings.HasPrefix(value, "0x") || strings.HasPrefix(value, "0X") {
		return strconv.ParseInt(value, 0, 64)
	}
	return strconv.ParseInt(value, 10, 64)
}

// 支持的源类型。
const (
	SourceTypeHTTP = "http"
	SourceTypeTile = "tile"
)

// GlobalConfig 描述全局运行时行为，所有源共享同一份参数。
type GlobalConfig struct {
	ListenPort             int      `mapstructure:"ListenPort"`
	LogLevel               string   `mapstructure:"LogLevel"`
	LogFilePath            string   `mapstructure:"LogFilePath"`
	LogMaxSize             int      `mapstructure:"LogMaxSize"`
	LogMaxBackups          int      `mapstructure:"LogMaxBackups"`
	LogCompress            bool     `mapstructure:"LogCompress"`
	StoragePath            string   `mapstructure:"StoragePath"`
	MemoryCacheCountLimit  int      `mapstructure:"MemoryCacheCountLimit"`
	DiskCacheSizeLimit     ByteSize `mapstructure:"DiskCacheSizeLimit"`
	MaxConcurrentDownloads int      `mapstructure:"MaxConcurrentDownloads"`
	DiskCompression        string   `mapstructure:"DiskCompression"`
	MaxRetries             int      `mapstructure:"MaxRetries"`
	InitialBackoff         Duration `mapstructure:"InitialBackoff"`
	UpstreamTimeout        Duration `mapstructure:"UpstreamTimeout"`
	RequestTimeout         Duration `mapstructure:"RequestTimeout"`
}

// SourceConfig 描述一个上游资源源；三个容量字段为空时沿用全局值。
type SourceConfig struct {
	Name     string `mapstructure:"Name"`
	Domain   string `mapstructure:"Domain"`
	Type     string `mapstructure:"Type"`
	Upstream string `mapstructure:"Upstream"`
	Username string `mapstructure:"Username"`
	Password string `mapstructure:"Password"`

	MemoryCacheCountLimit  *int      `mapstructure:"MemoryCacheCountLimit"`
	DiskCacheSizeLimit     *ByteSize `mapstructure:"DiskCacheSizeLimit"`
	MaxConcurrentDownloads *int      `mapstructure:"MaxConcurrentDownloads"`
}

// Config 是 TOML 文件映射的整体结构。
type Config struct {
	Global  GlobalConfig   `mapstructure:",squash"`
	Sources []SourceConfig `mapstructure:"Source"`
}

// HasCredentials 表示当前源是否配置了完整的上游凭证。
func (s SourceConfig) HasCredentials() bool {
	return s.Username != "" && s.Password != ""
}

// AuthMode 输出 `credentialed` 或 `anonymous`，供日志字段使用。
func (s SourceConfig) AuthMode() string {
	if s.HasCredentials() {
		return "credentialed"
	}
	return "anonymous"
}

// CredentialModes 返回所有源的鉴权模式摘要，例如 osm:anonymous。
func CredentialModes(sources []SourceConfig) []string {
	if len(sources) == 0 {
		return nil
	}
	result := make([]string, len(sources))
	for i, source := range sources {
		result[i] = fmt.Sprintf("%s:%s", source.Name, source.AuthMode())
	}
	return result
}

// EffectiveMemoryCacheCountLimit 返回源生效的内存条目上限，未覆盖时回退至全局值。
func (c *Config) EffectiveMemoryCacheCountLimit(s SourceConfig) int {
	if s.MemoryCacheCountLimit != nil {
		return *s.MemoryCacheCountLimit
	}
	return c.Global.MemoryCacheCountLimit
}

// EffectiveDiskCacheSizeLimit 返回源生效的磁盘容量上限（字节）。
func (c *Config) EffectiveDiskCacheSizeLimit(s SourceConfig) int64 {
	if s.DiskCacheSizeLimit != nil {
		return s.DiskCacheSizeLimit.Bytes()
	}
	return c.Global.DiskCacheSizeLimit.Bytes()
}

// EffectiveMaxConcurrentDownloads 返回源生效的下载并发上限。
func (c *Config) EffectiveMaxConcurrentDownloads(s SourceConfig) int {
	if s.MaxConcurrentDownloads != nil && *s.MaxConcurrentDownloads > 0 {
		return *s.MaxConcurrentDownloads
	}
	return c.Global.MaxConcurrentDownloads
}

// SourceStoragePath 返回源专属的缓存目录，每个源各自占用 StoragePath 下的一个子目录。
func (c *Config) SourceStoragePath(s SourceConfig) string {
	return filepath.Join(c.Global.StoragePath, s.Name)
}
