package config

import (
	"errors"
	"io/fs"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

// EnvPrefix namespaces environment overrides (IRANFINANCE_TELEGRAM_TOKEN, ...).
const EnvPrefix = "IRANFINANCE"

// envOverrides are secrets and deployment-specific values that may come from
// the environment instead of the config file. Set values win over the file.
type envOverrides struct {
	TelegramToken string `envconfig:"TELEGRAM_TOKEN"`
	StoragePath   string `envconfig:"STORAGE_PATH"`
	SourceURL     string `envconfig:"SOURCE_URL"`
	LogLevel      string `envconfig:"LOG_LEVEL"`
	LogChatID     int64  `envconfig:"LOG_CHAT_ID"`
	OpsAddr       string `envconfig:"OPS_ADDR"`
}

// LoadDotEnv loads a .env file into the process environment. A missing file
// is not an error; variables already set are kept.
func LoadDotEnv(path string) error {
	if path == "" {
		return nil
	}
	if err := godotenv.Load(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return err
	}
	return nil
}

func applyEnv(cfg *Config) error {
	var o envOverrides
	if err := envconfig.Process(EnvPrefix, &o); err != nil {
		return err
	}
	if o.TelegramToken != "" {
		cfg.Telegram.Token = o.TelegramToken
	}
	if o.StoragePath != "" {
		cfg.Storage.Path = o.StoragePath
	}
	if o.SourceURL != "" {
		cfg.Source.URL = o.SourceURL
	}
	if o.LogLevel != "" {
		cfg.Logging.Level = o.LogLevel
	}
	if o.LogChatID != 0 {
		cfg.Logging.Telegram.ChatID = o.LogChatID
	}
	if o.OpsAddr != "" {
		cfg.Ops.Addr = o.OpsAddr
	}
	return nil
}
