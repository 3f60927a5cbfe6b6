package logging

import (
	"io"

	"github.com/sirupsen/logrus"
)

// BaseFields 构建 action + 配置路径等基础字段，便于不同入口复用。
func BaseFields(action, configPath string) logrus.Fields {
	return logrus.Fields{
		"action":     action,
		"configPath": configPath,
	}
}

// RequestFields 提供 source/domain/命中层级字段，供 HTTP 请求日志复用。
func RequestFields(source, domain, sourceType, tier, key string) logrus.Fields {
	return logrus.Fields{
		"source":      source,
		"domain":      domain,
		"source_type": sourceType,
		"tier":        tier,
		"key":         key,
	}
}

// Discard 返回丢弃所有输出的 logger，供未注入 logger 的组件使用。
func Discard() *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return logger
}
