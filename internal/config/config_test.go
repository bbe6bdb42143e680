package config

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleYAML = `
telegram:
  token: "123:abc"
  poll_timeout: 20s
logging:
  level: debug
  console: true
storage:
  path: ./data.db
dispatcher:
  interval: 30s
  workers: 8
source:
  url: https://example.com/prices.json
ops:
  enabled: true
  addr: 127.0.0.1:9191
`

func writeFile(t *testing.T, name, body string) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(p, []byte(body), 0o600))
	return p
}

func TestLoadYAML(t *testing.T) {
	m := NewConfigManager(writeFile(t, "config.yaml", sampleYAML))
	cfg, err := m.Load()
	require.NoError(t, err)
	assert.Equal(t, "123:abc", cfg.Telegram.Token)
	assert.Equal(t, "./data.db", cfg.Storage.PathOrDefault())
	assert.Equal(t, "127.0.0.1:9191", cfg.Ops.AddrOrDefault())
	assert.Same(t, cfg, m.Get())

	d, err := cfg.Dispatcher.Resolve()
	require.NoError(t, err)
	assert.Equal(t, 30*time.Second, d.Interval)
	assert.Equal(t, DefaultFirstDelay, d.FirstDelay)
	assert.Equal(t, 8, d.Workers)
	assert.Equal(t, DefaultDeliveryTimeout, d.DeliveryTimeout)
}

func TestLoadRejectsUnknownFields(t *testing.T) {
	m := NewConfigManager(writeFile(t, "config.json", `{"telegram":{"token":"x"},"plugins":{}}`))
	_, err := m.Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "plugins")
}

func TestLoadValidates(t *testing.T) {
	cases := map[string]string{
		"token":            `{"telegram":{"token":""}}`,
		"interval":         `{"telegram":{"token":"x"},"dispatcher":{"interval":"soon"}}`,
		"workers":          `{"telegram":{"token":"x"},"dispatcher":{"workers":-1}}`,
		"url":              `{"telegram":{"token":"x"},"source":{"url":"not a url"}}`,
		"level":            `{"telegram":{"token":"x"},"logging":{"level":"loud"}}`,
		"chat_id":          `{"telegram":{"token":"x"},"logging":{"telegram":{"enabled":true}}}`,
		"delivery_timeout": `{"telegram":{"token":"x"},"dispatcher":{"delivery_timeout":"-1s"}}`,
		"schedule":         `{"telegram":{"token":"x"},"source":{"interval":"whenever"}}`,
	}
	for field, body := range cases {
		m := NewConfigManager(writeFile(t, "config.json", body))
		_, err := m.Load()
		require.Error(t, err, field)
		assert.Contains(t, err.Error(), field)
	}
}

func TestSourceIntervalAcceptsCron(t *testing.T) {
	m := NewConfigManager(writeFile(t, "config.json", `{"telegram":{"token":"x"},"source":{"interval":"*/2 * * * *"}}`))
	cfg, err := m.Load()
	require.NoError(t, err)
	assert.Equal(t, "*/2 * * * *", cfg.Source.ScheduleOrDefault())
	assert.Equal(t, "1m0s", SourceConfig{}.ScheduleOrDefault())
}

func TestEnvOverridesFile(t *testing.T) {
	t.Setenv("IRANFINANCE_TELEGRAM_TOKEN", "from-env")
	t.Setenv("IRANFINANCE_STORAGE_PATH", "/tmp/x.db")
	m := NewConfigManager(writeFile(t, "config.yaml", sampleYAML))
	cfg, err := m.Load()
	require.NoError(t, err)
	assert.Equal(t, "from-env", cfg.Telegram.Token)
	assert.Equal(t, "/tmp/x.db", cfg.Storage.Path)
}

func TestLoadDotEnv(t *testing.T) {
	require.NoError(t, LoadDotEnv(filepath.Join(t.TempDir(), "missing.env")))

	p := writeFile(t, ".env", "IRANFINANCE_SOURCE_URL=https://feed.example/prices\n")
	t.Setenv("IRANFINANCE_SOURCE_URL", "")
	os.Unsetenv("IRANFINANCE_SOURCE_URL")
	require.NoError(t, LoadDotEnv(p))
	assert.Equal(t, "https://feed.example/prices", os.Getenv("IRANFINANCE_SOURCE_URL"))
}

func TestSummarizeConfigChange(t *testing.T) {
	t.Parallel()

	oldCfg := &Config{Telegram: TelegramConfig{Token: "a"}, Dispatcher: DispatcherConfig{Workers: 2}}
	newCfg := &Config{Telegram: TelegramConfig{Token: "b"}, Dispatcher: DispatcherConfig{Workers: 4}}
	changed, attrs := SummarizeConfigChange(oldCfg, newCfg)
	assert.Equal(t, []string{"telegram", "dispatcher"}, changed)
	assert.NotEmpty(t, attrs)
	assert.Equal(t, []string{"telegram"}, RequiresRestart(changed))
}

func TestWatchPublishesValidChanges(t *testing.T) {
	p := writeFile(t, "config.yaml", sampleYAML)
	m := NewConfigManager(p)
	_, err := m.Load()
	require.NoError(t, err)

	ch := m.Subscribe(1)
	defer m.Unsubscribe(ch)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = m.Watch(ctx)
	}()
	// Give the watcher time to register.
	time.Sleep(200 * time.Millisecond)

	// An invalid edit is rejected and not published.
	require.NoError(t, os.WriteFile(p, []byte(strings.Replace(sampleYAML, `token: "123:abc"`, `token: ""`, 1)), 0o600))
	select {
	case cfg := <-ch:
		t.Fatalf("invalid config published: %+v", cfg.Telegram)
	case <-time.After(time.Second):
	}

	require.NoError(t, os.WriteFile(p, []byte(strings.Replace(sampleYAML, "workers: 8", "workers: 2", 1)), 0o600))
	select {
	case cfg := <-ch:
		assert.Equal(t, 2, cfg.Dispatcher.Workers)
		assert.Equal(t, 2, m.Get().Dispatcher.Workers)
	case <-time.After(5 * time.Second):
		t.Fatalf("config change not published")
	}

	cancel()
	<-done
}
