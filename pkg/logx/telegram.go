package logx

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	kit "iranfinance/internal/transport"
)

const (
	tgMaxMessage = 3500
	tgMaxValue   = 600
	tgMaxStack   = 900
	tgQueueSize  = 256
)

// telegramSink is a zerolog.LevelWriter that forwards filtered lines to a
// chat through a single background worker. It never blocks the caller: lines
// over the rate limit or past a full queue are dropped.
type telegramSink struct {
	mu       sync.Mutex
	sender   kit.Adapter
	chatID   int64
	minLevel Level
	limiter  *rate.Limiter

	queue   chan string
	start   sync.Once
	cancel  context.CancelFunc
	stopped chan struct{}
}

func newTelegramSink() *telegramSink {
	return &telegramSink{
		minLevel: LevelWarn,
		queue:    make(chan string, tgQueueSize),
	}
}

func (t *telegramSink) setSender(sender kit.Adapter) {
	t.mu.Lock()
	t.sender = sender
	t.mu.Unlock()
}

func (t *telegramSink) configure(cfg TelegramConfig) {
	rps := max(1, cfg.RatePerSec)
	t.mu.Lock()
	t.chatID = cfg.ChatID
	t.minLevel = parseLevel(cfg.MinLevel, LevelWarn)
	t.limiter = rate.NewLimiter(rate.Limit(rps), rps)
	t.mu.Unlock()

	if cfg.Enabled {
		t.start.Do(func() {
			ctx, cancel := context.WithCancel(context.Background())
			t.mu.Lock()
			t.cancel, t.stopped = cancel, make(chan struct{})
			done := t.stopped
			t.mu.Unlock()
			go t.run(ctx, done)
		})
	}
}

func (t *telegramSink) run(ctx context.Context, done chan struct{}) {
	defer close(done)
	for {
		select {
		case <-ctx.Done():
			return
		case msg := <-t.queue:
			t.mu.Lock()
			sender, chatID := t.sender, t.chatID
			t.mu.Unlock()
			if sender == nil || chatID == 0 {
				continue
			}
			_, _ = sender.SendText(ctx, kit.ChatTarget{ChatID: chatID}, msg, &kit.SendOptions{DisablePreview: true})
		}
	}
}

func (t *telegramSink) stop() {
	t.mu.Lock()
	cancel, done := t.cancel, t.stopped
	t.cancel = nil
	t.mu.Unlock()
	if cancel != nil {
		cancel()
		<-done
	}
}

func (t *telegramSink) Write(p []byte) (int, error) {
	return t.WriteLevel(zerolog.NoLevel, p)
}

func (t *telegramSink) WriteLevel(level zerolog.Level, p []byte) (int, error) {
	t.mu.Lock()
	ready := t.sender != nil && t.chatID != 0 && t.limiter != nil
	pass := ready && level != zerolog.NoLevel && level >= t.minLevel && t.limiter.Allow()
	t.mu.Unlock()
	if !pass {
		return len(p), nil
	}
	if msg := formatTelegramJSON(p); msg != "" {
		select {
		case t.queue <- msg:
		default:
		}
	}
	return len(p), nil
}

// formatTelegramJSON renders one zerolog JSON line as
// "[LEVEL] message" followed by one "- key=value" line per field.
func formatTelegramJSON(p []byte) string {
	p = bytes.TrimSpace(p)
	var m map[string]any
	if err := json.Unmarshal(p, &m); err != nil {
		return clip(string(p), tgMaxMessage)
	}

	var b strings.Builder
	if lvl, _ := m["level"].(string); lvl != "" {
		fmt.Fprintf(&b, "[%s] ", strings.ToUpper(lvl))
	}
	msg, _ := m[zerolog.MessageFieldName].(string)
	b.WriteString(msg)

	keys := make([]string, 0, len(m))
	for k := range m {
		switch k {
		case zerolog.TimestampFieldName, zerolog.LevelFieldName, zerolog.MessageFieldName, "stack":
		default:
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	for _, k := range keys {
		fmt.Fprintf(&b, "\n- %s=%s", k, clip(fmt.Sprint(m[k]), tgMaxValue))
	}
	if st, ok := m["stack"]; ok {
		b.WriteString("\n- stack=\n")
		b.WriteString(clip(fmt.Sprint(st), tgMaxStack))
	}
	return clip(b.String(), tgMaxMessage)
}

func clip(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n-3] + "..."
}
