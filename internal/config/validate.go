package config

import (
	"errors"
	"strings"
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/go-ozzo/ozzo-validation/v4/is"

	"iranfinance/internal/task/scheduler"
)

var logLevels = []any{"", "trace", "debug", "info", "warn", "warning", "error"}

func duration(path string) validation.Rule {
	return validation.By(func(v any) error {
		s, _ := v.(string)
		_, err := ParseDurationField(path, s)
		if err != nil {
			return errors.New("must be a non-negative Go duration")
		}
		return nil
	})
}

// schedule accepts a Go duration, HH:MM interval or cron expression.
func schedule() validation.Rule {
	return validation.By(func(v any) error {
		s, _ := v.(string)
		if strings.TrimSpace(s) == "" {
			return nil
		}
		_, err := scheduler.ParseSchedule(s)
		return err
	})
}

func lower(v any) any {
	s, _ := v.(string)
	return strings.ToLower(strings.TrimSpace(s))
}

func level() validation.Rule {
	return validation.By(func(v any) error {
		return validation.Validate(lower(v), validation.In(logLevels...))
	})
}

func (c Config) Validate() error {
	return validation.ValidateStruct(&c,
		validation.Field(&c.Telegram),
		validation.Field(&c.Logging),
		validation.Field(&c.Storage),
		validation.Field(&c.Dispatcher),
		validation.Field(&c.Source),
		validation.Field(&c.Ops),
	)
}

func (t TelegramConfig) Validate() error {
	return validation.ValidateStruct(&t,
		validation.Field(&t.Token, validation.Required),
		validation.Field(&t.PollTimeout, duration("telegram.poll_timeout")),
	)
}

func (l LoggingConfig) Validate() error {
	return validation.ValidateStruct(&l,
		validation.Field(&l.Level, level()),
		validation.Field(&l.Telegram),
	)
}

func (l LoggingTelegram) Validate() error {
	return validation.ValidateStruct(&l,
		validation.Field(&l.ChatID, validation.When(l.Enabled, validation.Required)),
		validation.Field(&l.MinLevel, level()),
		validation.Field(&l.RatePerSec, validation.Min(0)),
	)
}

func (s StorageConfig) Validate() error {
	return validation.ValidateStruct(&s,
		validation.Field(&s.BusyTimeout, duration("storage.busy_timeout")),
	)
}

func (d DispatcherConfig) Validate() error {
	return validation.ValidateStruct(&d,
		validation.Field(&d.Interval, duration("dispatcher.interval")),
		validation.Field(&d.FirstDelay, duration("dispatcher.first_delay")),
		validation.Field(&d.Workers, validation.Min(0), validation.Max(64)),
		validation.Field(&d.DeliveryTimeout, duration("dispatcher.delivery_timeout")),
		validation.Field(&d.Timezone, validation.By(func(v any) error {
			s, _ := v.(string)
			if s == "" {
				return nil
			}
			_, err := time.LoadLocation(s)
			return err
		})),
	)
}

func (s SourceConfig) Validate() error {
	return validation.ValidateStruct(&s,
		validation.Field(&s.URL, is.URL),
		validation.Field(&s.Interval, schedule()),
		validation.Field(&s.Timeout, duration("source.timeout")),
	)
}

func (o OpsConfig) Validate() error {
	return validation.ValidateStruct(&o,
		validation.Field(&o.Addr, validation.When(o.Addr != "", is.DialString)),
	)
}
