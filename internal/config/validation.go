package config

import (
	"errors"
	"fmt"
	"net/url"
	"strings"

	"github.com/sirupsen/logrus"
)

var supportedSourceTypes = map[string]struct{}{
	SourceTypeHTTP: {},
	SourceTypeTile: {},
}

const supportedSourceTypeList = "http|tile"

var supportedCompressions = map[string]struct{}{
	"zstd": {},
	"lz4":  {},
	"none": {},
}

// Validate 针对语义级别做进一步校验，防止非法配置启动服务。
func (c *Config) Validate() error {
	if c == nil {
		return errors.New("配置为空")
	}

	g := c.Global
	if g.ListenPort <= 0 || g.ListenPort > 65535 {
		return newFieldError("Global.ListenPort", "必须在 1-65535")
	}
	if g.LogLevel != "" {
		if _, err := logrus.ParseLevel(g.LogLevel); err != nil {
			return newFieldError("Global.LogLevel", "无法识别的日志级别")
		}
	}
	if g.StoragePath == "" {
		return newFieldError("Global.StoragePath", "不能为空")
	}
	if g.MemoryCacheCountLimit < 0 {
		return newFieldError("Global.MemoryCacheCountLimit", "不能为负数")
	}
	if g.MaxConcurrentDownloads <= 0 {
		return newFieldError("Global.MaxConcurrentDownloads", "必须大于 0")
	}
	if _, ok := supportedCompressions[strings.ToLower(g.DiskCompression)]; !ok {
		return newFieldError("Global.DiskCompression", "仅支持 zstd|lz4|none")
	}
	if g.MaxRetries < 0 {
		return newFieldError("Global.MaxRetries", "不能为负数")
	}
	if g.InitialBackoff.DurationValue() <= 0 {
		return newFieldError("Global.InitialBackoff", "必须大于 0")
	}
	if g.UpstreamTimeout.DurationValue() <= 0 {
		return newFieldError("Global.UpstreamTimeout", "必须大于 0")
	}
	if g.RequestTimeout.DurationValue() <= 0 {
		return newFieldError("Global.RequestTimeout", "必须大于 0")
	}

	if len(c.Sources) == 0 {
		return newFieldError("Source", "至少需要配置一个源")
	}

	seenNames := map[string]struct{}{}
	seenDomains := map[string]string{}
	for i := range c.Sources {
		source := &c.Sources[i]
		if source.Name == "" {
			return newFieldError("Source[].Name", "不能为空")
		}
		if strings.ContainsAny(source.Name, `/\ `) {
			return newFieldError(sourceField(source.Name, "Name"), "不允许包含路径分隔符或空格")
		}
		if _, exists := seenNames[source.Name]; exists {
			return newFieldError(sourceField(source.Name, "Name"), "重复")
		}
		seenNames[source.Name] = struct{}{}

		if err := validateDomain(source.Domain); err != nil {
			return wrapFieldError(sourceField(source.Name, "Domain"), err)
		}
		if other, exists := seenDomains[source.Domain]; exists {
			return newFieldError(sourceField(source.Name, "Domain"), "与 "+other+" 重复")
		}
		seenDomains[source.Domain] = source.Name

		normalizedType := strings.ToLower(strings.TrimSpace(source.Type))
		if _, ok := supportedSourceTypes[normalizedType]; !ok {
			return newFieldError(sourceField(source.Name, "Type"), "仅支持 "+supportedSourceTypeList)
		}
		source.Type = normalizedType

		if (source.Username == "") != (source.Password == "") {
			return newFieldError(sourceField(source.Name, "Username/Password"), "必须同时提供或同时留空")
		}
		if err := validateUpstream(source.Upstream); err != nil {
			return wrapFieldError(sourceField(source.Name, "Upstream"), err)
		}
		if normalizedType == SourceTypeTile {
			if err := validateTileTemplate(source.Upstream); err != nil {
				return wrapFieldError(sourceField(source.Name, "Upstream"), err)
			}
		}

		if source.MemoryCacheCountLimit != nil && *source.MemoryCacheCountLimit < 0 {
			return newFieldError(sourceField(source.Name, "MemoryCacheCountLimit"), "不能为负数")
		}
		if source.MaxConcurrentDownloads != nil && *source.MaxConcurrentDownloads < 0 {
			return newFieldError(sourceField(source.Name, "MaxConcurrentDownloads"), "不能为负数")
		}
	}

	return nil
}

func validateDomain(domain string) error {
	if domain == "" {
		return errors.New("Domain 不能为空")
	}
	if strings.Contains(domain, "/") {
		return errors.New("Domain 不允许包含路径")
	}
	if strings.Contains(domain, " ") {
		return errors.New("Domain 不允许包含空格")
	}
	if strings.HasPrefix(domain, "http") {
		return errors.New("Domain 不应包含协议头")
	}
	return nil
}

func validateUpstream(raw string) error {
	if raw == "" {
		return errors.New("缺少上游地址")
	}
	parsed, err := url.Parse(raw)
	if err != nil {
		return err
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return fmt.Errorf("仅支持 http/https，上游: %s", raw)
	}
	if parsed.Host == "" {
		return fmt.Errorf("上游缺少 Host: %s", raw)
	}
	return nil
}

// validateTileTemplate 要求瓦片模板同时包含 {z}、{x}、{y} 占位符。
func validateTileTemplate(raw string) error {
	for _, placeholder := range []string{"{z}", "{x}", "{y}"} {
		if !strings.Contains(raw, placeholder) {
			return fmt.Errorf("瓦片模板缺少 %s 占位符", placeholder)
		}
	}
	return nil
}
