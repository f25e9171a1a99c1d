package config

import (
	"log/slog"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
)

// Watch re-decodes the file on every write and hands the result to onChange.
// Invalid edits are logged and ignored; the previous config stays in effect.
func Watch(v *viper.Viper, logger *slog.Logger, onChange func(*Config)) {
	if v.ConfigFileUsed() == "" {
		return
	}

	v.OnConfigChange(func(e fsnotify.Event) {
		if !e.Has(fsnotify.Write) && !e.Has(fsnotify.Create) {
			return
		}

		cfg, err := Decode(v)
		if err != nil {
			logger.Warn("CONFIG_RELOAD_REJECTED", "file", e.Name, "error", err)
			return
		}

		logger.Info("CONFIG_RELOADED", "file", e.Name, "op", e.Op.String())
		onChange(cfg)
	})
	v.WatchConfig()
}
