package router

import (
	"context"
	"fmt"
	"runtime/debug"
	"time"

	logx "iranfinance/pkg/logx"
)

type HandlerFunc func(ctx context.Context, req *Request) error

type Middleware func(next HandlerFunc) HandlerFunc

// slowRequest is the latency above which a successful request is logged at info.
const slowRequest = 750 * time.Millisecond

// Chain wraps h so that m[0] runs first.
func Chain(h HandlerFunc, m ...Middleware) HandlerFunc {
	for i := len(m) - 1; i >= 0; i-- {
		h = m[i](h)
	}
	return h
}

// MWTimeout bounds the handler's context. d <= 0 means no bound.
func MWTimeout(d time.Duration) Middleware {
	if d <= 0 {
		return func(next HandlerFunc) HandlerFunc { return next }
	}
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, req *Request) error {
			ctx, cancel := context.WithTimeout(ctx, d)
			defer cancel()
			return next(ctx, req)
		}
	}
}

// MWPanicRecover turns a handler panic into an error.
func MWPanicRecover(log logx.Logger) Middleware {
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, req *Request) (err error) {
			defer func() {
				rec := recover()
				if rec == nil {
					return
				}
				requestLogger(log, req).Error("handler panic",
					logx.Any("panic", rec),
					logx.Stack(string(debug.Stack())),
				)
				err = fmt.Errorf("handler panic: %v", rec)
			}()
			return next(ctx, req)
		}
	}
}

// MWRequestLog logs every request with its latency: failures at warn, slow
// ones at info, the rest at debug.
func MWRequestLog(log logx.Logger) Middleware {
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, req *Request) error {
			began := time.Now()
			err := next(ctx, req)
			took := time.Since(began)

			l := requestLogger(log, req).With(logx.Duration("took", took))
			if req != nil {
				l = l.With(logx.String("kind", string(req.Update.Kind)))
			}
			switch {
			case err != nil:
				l.Warn("request failed", logx.Err(err))
			case took >= slowRequest:
				l.Info("slow request")
			default:
				l.Debug("request handled")
			}
			return err
		}
	}
}

func requestLogger(fallback logx.Logger, req *Request) logx.Logger {
	if req != nil && !req.Logger.IsZero() {
		return req.Logger
	}
	return fallback
}
