package logx

import (
	"bytes"
	"context"
	"encoding/json"
	"strings"
	"sync"
	"testing"
	"time"

	kit "iranfinance/internal/transport"
)

type captureSender struct {
	mu   sync.Mutex
	sent []string
}

func (c *captureSender) Start(context.Context, chan<- kit.Update) error { return nil }
func (c *captureSender) Stop(context.Context) error                     { return nil }
func (c *captureSender) SendText(_ context.Context, _ kit.ChatTarget, text string, _ *kit.SendOptions) (kit.MessageRef, error) {
	c.mu.Lock()
	c.sent = append(c.sent, text)
	c.mu.Unlock()
	return kit.MessageRef{}, nil
}
func (c *captureSender) EditText(context.Context, kit.MessageRef, string, *kit.SendOptions) error {
	return nil
}
func (c *captureSender) AnswerCallback(context.Context, string, string) error { return nil }

func (c *captureSender) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.sent)
}

func TestLoggerWithFields(t *testing.T) {
	var buf bytes.Buffer
	log := NewJSON(&buf, "debug").With(String("comp", "test"))
	log.Info("hello", Int("n", 3))

	var m map[string]any
	if err := json.Unmarshal(buf.Bytes(), &m); err != nil {
		t.Fatalf("invalid json %q: %v", buf.String(), err)
	}
	if m["comp"] != "test" || m["message"] != "hello" || m["n"] != float64(3) {
		t.Fatalf("unexpected fields: %v", m)
	}
	if _, ok := m["caller"]; !ok {
		t.Fatalf("caller missing: %v", m)
	}
}

func TestLoggerLevelFilter(t *testing.T) {
	var buf bytes.Buffer
	log := NewJSON(&buf, "warn")
	log.Info("dropped")
	if buf.Len() != 0 {
		t.Fatalf("info written at warn level: %q", buf.String())
	}
	if !log.Enabled(LevelError) || log.Enabled(LevelDebug) {
		t.Fatalf("Enabled disagrees with level")
	}
}

func TestZeroLoggerIsNoop(t *testing.T) {
	var l Logger
	if !l.IsZero() {
		t.Fatalf("zero logger must report IsZero")
	}
	l.Error("nothing happens")
}

func TestTelegramSinkRespectsMinLevelAndRate(t *testing.T) {
	svc, log := New(Config{
		Level:    "debug",
		Telegram: TelegramConfig{Enabled: true, ChatID: 42, MinLevel: "warn", RatePerSec: 1},
	})
	defer svc.Close()
	sender := &captureSender{}
	svc.SetSender(sender)

	log.Info("below min level")
	log.Warn("first warning")
	log.Warn("rate limited warning")

	deadline := time.Now().Add(2 * time.Second)
	for sender.count() < 1 && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	time.Sleep(50 * time.Millisecond)

	if got := sender.count(); got != 1 {
		t.Fatalf("sent %d messages, want 1", got)
	}
	sender.mu.Lock()
	first := sender.sent[0]
	sender.mu.Unlock()
	if !strings.HasPrefix(first, "[WARN] first warning") {
		t.Fatalf("unexpected telegram line %q", first)
	}
}

func TestFormatTelegramJSONTruncates(t *testing.T) {
	t.Parallel()
	line := `{"level":"error","message":"` + strings.Repeat("x", 5000) + `"}`
	got := formatTelegramJSON([]byte(line))
	if len(got) > 3500 || !strings.HasSuffix(got, "...") {
		t.Fatalf("not truncated: len=%d", len(got))
	}
}
