package xembed

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"time"

	"github.com/trickstertwo/xlog"
)

// ListenerMiddleware composes concerns around a Listener.
type ListenerMiddleware func(next Listener) Listener

// ChainListener composes middlewares around a listener in order; the first
// middleware runs first.
func ChainListener(l Listener, mws ...ListenerMiddleware) Listener {
	wrapped := l
	for i := len(mws) - 1; i >= 0; i-- {
		if mws[i] == nil {
			continue
		}
		wrapped = mws[i](wrapped)
	}
	return wrapped
}

// RecoverListener keeps a panicking listener from taking down the relay.
func RecoverListener(logger *xlog.Logger) ListenerMiddleware {
	return func(next Listener) Listener {
		return func(ctx context.Context, msg *PostMessageEvent) {
			defer func() {
				if r := recover(); r != nil && logger != nil {
					logger.Warn().
						Str("event_name", string(msg.EventName)).
						Err(fmt.Errorf("panic recovered: %v", r)).
						Msg("xembed: listener panic (recovered)")
				}
			}()
			next(ctx, msg)
		}
	}
}

// OnEvent runs fn for messages named name and always passes the message on.
func OnEvent(name MessageEventName, fn Listener) ListenerMiddleware {
	return func(next Listener) Listener {
		return func(ctx context.Context, msg *PostMessageEvent) {
			if msg.EventName == name {
				fn(ctx, msg)
			}
			next(ctx, msg)
		}
	}
}

// SendFunc is the shape of Experience.Send.
type SendFunc func(ctx context.Context, msg TargetedMessageEvent) (Response, error)

// SendMiddleware composes concerns around a SendFunc.
type SendMiddleware func(next SendFunc) SendFunc

// ChainSend composes send middlewares in order.
func ChainSend(s SendFunc, mws ...SendMiddleware) SendFunc {
	wrapped := s
	for i := len(mws) - 1; i >= 0; i-- {
		if mws[i] == nil {
			continue
		}
		wrapped = mws[i](wrapped)
	}
	return wrapped
}

// RetryConfig controls caller-side retries of Send. Send itself never retries.
type RetryConfig struct {
	// MaxAttempts is the total number of attempts including the first.
	MaxAttempts int
	// Backoff computes the wait before the next attempt.
	Backoff func(attempt int) time.Duration
	// RetryIf reports whether err is retryable. Defaults to timeouts only.
	RetryIf func(err error) bool
	// Jitter adds up to [0, Jitter] random delay to the backoff.
	Jitter time.Duration
}

// RetrySend retries a send that failed with a retryable error.
func RetrySend(cfg RetryConfig) SendMiddleware {
	return func(next SendFunc) SendFunc {
		return func(ctx context.Context, msg TargetedMessageEvent) (Response, error) {
			attempts := cfg.MaxAttempts
			if attempts < 1 {
				attempts = 1
			}
			shouldRetry := cfg.RetryIf
			if shouldRetry == nil {
				shouldRetry = func(err error) bool { return errors.Is(err, ErrTimeout) }
			}

			var (
				resp    Response
				lastErr error
			)
			for i := 1; i <= attempts; i++ {
				resp, lastErr = next(ctx, msg)
				if lastErr == nil {
					return resp, nil
				}
				if ctx.Err() != nil || i == attempts || !shouldRetry(lastErr) {
					return resp, lastErr
				}
				if cfg.Backoff != nil {
					wait := cfg.Backoff(i)
					if cfg.Jitter > 0 {
						wait += time.Duration(rand.Int63n(int64(cfg.Jitter)))
					}
					select {
					case <-ctx.Done():
						return resp, lastErr
					case <-time.After(wait):
					}
				}
			}
			return resp, lastErr
		}
	}
}
