package supervisor

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"time"

	logx "iranfinance/pkg/logx"
)

// healthyRun is how long a run must last before backoff starts over.
const healthyRun = 30 * time.Second

type RestartOption func(*restartPolicy)

type restartPolicy struct {
	base, ceiling   time.Duration
	stopOnCleanExit bool
	publishFirstErr bool
}

func WithRestartBackoff(base, ceiling time.Duration) RestartOption {
	return func(p *restartPolicy) {
		if base > 0 {
			p.base = base
		}
		if ceiling > 0 {
			p.ceiling = ceiling
		}
	}
}

// WithStopOnCleanExit decides whether a nil return ends the loop (the
// default) or is treated as a crash.
func WithStopOnCleanExit(enabled bool) RestartOption {
	return func(p *restartPolicy) { p.stopOnCleanExit = enabled }
}

// WithPublishFirstError records failures as the supervisor error. The loop
// keeps restarting and the group is not canceled.
func WithPublishFirstError(enabled bool) RestartOption {
	return func(p *restartPolicy) { p.publishFirstErr = enabled }
}

// GoRestart keeps fn running until the group context is done. Errors and
// panics restart it after a jittered, doubling backoff.
func (s *Supervisor) GoRestart(name string, fn func(ctx context.Context) error, opts ...RestartOption) {
	if fn == nil {
		return
	}
	p := restartPolicy{base: 250 * time.Millisecond, ceiling: 30 * time.Second, stopOnCleanExit: true}
	for _, opt := range opts {
		opt(&p)
	}
	p.ceiling = max(p.ceiling, p.base)

	s.Go0(name, func(ctx context.Context) {
		log := s.log.With(logx.String("goroutine", name))
		delay := p.base
		for attempt := 1; ; attempt++ {
			began := time.Now()
			err := protect(ctx, fn, func(rec any, stack []byte) {
				log.Error("goroutine panicked", logx.Any("panic", rec), logx.Stack(string(stack)))
			})
			if ctx.Err() != nil || errors.Is(err, context.Canceled) {
				return
			}
			if err == nil {
				if p.stopOnCleanExit {
					return
				}
				err = errors.New("returned unexpectedly")
			}
			if p.publishFirstErr {
				s.record(fmt.Errorf("%s: %w", name, err))
			}
			if time.Since(began) >= healthyRun {
				delay = p.base
			}
			wait := delay + rand.N(delay/5+1)
			log.Warn("goroutine restarting", logx.Int("attempt", attempt), logx.Duration("backoff", wait), logx.Err(err))

			t := time.NewTimer(wait)
			select {
			case <-ctx.Done():
				t.Stop()
				return
			case <-t.C:
			}
			delay = min(delay*2, p.ceiling)
		}
	})
}
