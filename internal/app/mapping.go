package app

import (
	"iranfinance/internal/config"
	"iranfinance/internal/dispatcher"
	"iranfinance/internal/ops"
	"iranfinance/internal/storage"
	"iranfinance/internal/transport/telegram"
	logx "iranfinance/pkg/logx"
)

func mapLogConfig(cfg *config.Config) logx.Config {
	return logx.Config{
		Level:   cfg.Logging.Level,
		Console: cfg.Logging.Console,
		File: logx.FileConfig{
			Enabled: cfg.Logging.File.Enabled,
			Path:    cfg.Logging.File.Path,
		},
		Telegram: logx.TelegramConfig{
			Enabled:    cfg.Logging.Telegram.Enabled,
			ChatID:     cfg.Logging.Telegram.ChatID,
			MinLevel:   cfg.Logging.Telegram.MinLevel,
			RatePerSec: cfg.Logging.Telegram.RatePerSec,
		},
	}
}

func mapTelegramConfig(cfg *config.Config) (telegram.Config, error) {
	poll, err := config.ParseDurationOrDefault("telegram.poll_timeout", cfg.Telegram.PollTimeout, config.DefaultPollTimeout)
	if err != nil {
		return telegram.Config{}, err
	}
	return telegram.Config{Token: cfg.Telegram.Token, PollTimeout: poll}, nil
}

func mapStorageConfig(cfg *config.Config) (storage.Config, error) {
	busy, err := config.ParseDurationOrDefault("storage.busy_timeout", cfg.Storage.BusyTimeout, config.DefaultBusyTimeout)
	if err != nil {
		return storage.Config{}, err
	}
	return storage.Config{Path: cfg.Storage.PathOrDefault(), BusyTimeout: busy}, nil
}

// mapDispatchConfig also returns the resolved section, which carries the
// schedule knobs the dispatcher itself does not see.
func mapDispatchConfig(cfg *config.Config) (dispatcher.Config, config.Dispatch, error) {
	d, err := cfg.Dispatcher.Resolve()
	if err != nil {
		return dispatcher.Config{}, config.Dispatch{}, err
	}
	return dispatcher.Config{
		Workers:         d.Workers,
		DeliveryTimeout: d.DeliveryTimeout,
		Location:        d.Location,
	}, d, nil
}

func mapOpsConfig(cfg *config.Config) ops.Config {
	return ops.Config{Enabled: cfg.Ops.Enabled, Addr: cfg.Ops.AddrOrDefault(), Pprof: cfg.Ops.Pprof}
}
