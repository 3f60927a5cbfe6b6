package config

import (
	"github.com/fsnotify/fsnotify"
	"github.com/sirupsen/logrus"
	"github.com/spf13/viper"
)

// Watch 监听配置文件，文件变化且新配置校验通过后调用 apply；
// 解析或校验失败时保留旧配置并记录告警。
func Watch(path string, logger *logrus.Logger, apply func(*Config)) error {
	if path == "" {
		path = "config.toml"
	}
	v := viper.New()
	v.SetConfigFile(path)
	setDefaults(v)
	if err := v.ReadInConfig(); err != nil {
		return err
	}

	v.OnConfigChange(func(event fsnotify.Event) {
		if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) {
			return
		}
		fields := logrus.Fields{"action": "config_reload", "configPath": path, "op": event.Op.String()}
		cfg, err := decode(v)
		if err != nil {
			if logger != nil {
				logger.WithFields(fields).WithError(err).Warn("config_reload_rejected")
			}
			return
		}
		if logger != nil {
			logger.WithFields(fields).Info("config_reloaded")
		}
		apply(cfg)
	})
	v.WatchConfig()
	return nil
}
