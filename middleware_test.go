package xembed

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/trickstertwo/xlog"
)

func TestChainListenerOrder(t *testing.T) {
	var order []string
	mw := func(name string) ListenerMiddleware {
		return func(next Listener) Listener {
			return func(ctx context.Context, msg *PostMessageEvent) {
				order = append(order, name)
				next(ctx, msg)
			}
		}
	}
	l := ChainListener(func(context.Context, *PostMessageEvent) { order = append(order, "listener") }, mw("a"), nil, mw("b"))
	l(context.Background(), &PostMessageEvent{})
	assert.Equal(t, []string{"a", "b", "listener"}, order)
}

func TestRecoverListener(t *testing.T) {
	l := ChainListener(func(context.Context, *PostMessageEvent) { panic("boom") }, RecoverListener(xlog.Default()))
	assert.NotPanics(t, func() { l(context.Background(), &PostMessageEvent{}) })
}

func TestOnEventFiltersByName(t *testing.T) {
	hits, passed := 0, 0
	l := ChainListener(func(context.Context, *PostMessageEvent) { passed++ },
		OnEvent(EventContentLoaded, func(context.Context, *PostMessageEvent) { hits++ }))

	msg := &PostMessageEvent{}
	msg.EventName = EventSizeChanged
	l(context.Background(), msg)
	msg.EventName = EventContentLoaded
	l(context.Background(), msg)

	assert.Equal(t, 1, hits)
	assert.Equal(t, 2, passed)
}

func TestRetrySendRetriesTimeouts(t *testing.T) {
	attempts := 0
	send := ChainSend(func(context.Context, TargetedMessageEvent) (Response, error) {
		attempts++
		if attempts < 3 {
			return nil, &TimeoutError{EventName: EventGetSheets}
		}
		return SuccessResponse{Success: true}, nil
	}, RetrySend(RetryConfig{MaxAttempts: 5, Backoff: func(int) time.Duration { return time.Millisecond }}))

	resp, err := send(context.Background(), TargetedMessageEvent{})
	require.NoError(t, err)
	assert.True(t, resp.IsSuccess())
	assert.Equal(t, 3, attempts)
}

func TestRetrySendStopsOnOtherErrors(t *testing.T) {
	attempts := 0
	send := RetrySend(RetryConfig{MaxAttempts: 5})(func(context.Context, TargetedMessageEvent) (Response, error) {
		attempts++
		return nil, ErrNoExperienceFrame
	})

	_, err := send(context.Background(), TargetedMessageEvent{})
	assert.ErrorIs(t, err, ErrNoExperienceFrame)
	assert.Equal(t, 1, attempts)
}

func TestRetrySendHonorsContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	attempts := 0
	send := RetrySend(RetryConfig{
		MaxAttempts: 10,
		RetryIf:     func(error) bool { return true },
		Backoff:     func(int) time.Duration { return time.Hour },
	})(func(context.Context, TargetedMessageEvent) (Response, error) {
		attempts++
		cancel()
		return nil, errors.New("flaky")
	})

	_, err := send(ctx, TargetedMessageEvent{})
	assert.EqualError(t, err, "flaky")
	assert.Equal(t, 1, attempts)
}
