package memory

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/trickstertwo/xembed"
)

func newTestHost(t *testing.T, cfg Config) *Host {
	t.Helper()
	h := NewHost(cfg)
	t.Cleanup(func() { _ = h.Close(context.Background()) })
	return h
}

func TestConfigFromMap(t *testing.T) {
	cfg := ConfigFromMap(map[string]any{
		"buffer_size": 8.0,
		"auto_load":   false,
		"load_delay":  "20ms",
	})
	assert.Equal(t, 8, cfg.BufferSize)
	assert.False(t, cfg.AutoLoad)
	assert.Equal(t, 20*time.Millisecond, cfg.LoadDelay)

	def := ConfigFromMap(nil)
	assert.Equal(t, 1024, def.BufferSize)
	assert.True(t, def.AutoLoad)
	assert.Equal(t, def, ConfigFromMap(def.toMap()))
}

func TestRegisteredByName(t *testing.T) {
	h, err := xembed.NewHost(HostName, Config{AutoLoad: true}.toMap())
	require.NoError(t, err)
	require.NoError(t, h.Close(context.Background()))
}

func TestCreateFrameLoadsAndPosts(t *testing.T) {
	h := newTestHost(t, Config{AutoLoad: true})
	loaded := make(chan struct{})

	handle, err := h.CreateFrame(context.Background(), xembed.FrameSpec{
		ID:              "f1",
		Src:             "https://example.com/embed/s/dashboards/d?x=1",
		Container:       h.Document().BodyElement(),
		WithPlaceholder: true,
		OnLoad:          func() { close(loaded) },
	})
	require.NoError(t, err)

	select {
	case <-loaded:
	case <-time.After(time.Second):
		t.Fatal("frame never loaded")
	}
	assert.Nil(t, h.QuerySelector("#f1-placeholder"))
	assert.NotNil(t, h.QuerySelector("#f1"))

	received := make(chan []byte, 1)
	h.Serve(func(f *Frame, payload []byte) { received <- payload })

	require.NoError(t, handle.PostMessage(context.Background(), []byte(`{"a":1}`), "https://example.com"))
	select {
	case p := <-received:
		assert.JSONEq(t, `{"a":1}`, string(p))
	case <-time.After(time.Second):
		t.Fatal("surface never received the message")
	}

	err = handle.PostMessage(context.Background(), []byte(`{}`), "https://evil.example")
	assert.ErrorIs(t, err, ErrOriginMismatch)
	assert.Equal(t, uint64(1), h.Stats().Rejected)
}

func TestEmitReachesSubscribers(t *testing.T) {
	h := newTestHost(t, Config{})
	handle, err := h.CreateFrame(context.Background(), xembed.FrameSpec{
		ID:        "f1",
		Src:       "https://example.com/embed/s/console",
		Container: h.Document().BodyElement(),
	})
	require.NoError(t, err)

	got := make(chan xembed.Delivery, 1)
	sub, err := h.Subscribe(context.Background(), func(d xembed.Delivery) { got <- d })
	require.NoError(t, err)

	require.NoError(t, handle.(*Frame).Emit([]byte(`"hi"`)))
	select {
	case d := <-got:
		assert.Equal(t, "https://example.com", d.Origin())
		assert.Equal(t, `"hi"`, string(d.Payload()))
	case <-time.After(time.Second):
		t.Fatal("delivery not received")
	}

	require.NoError(t, sub.Close())
	assert.Equal(t, 0, h.SubscriberCount())
}

func TestRemoveDetachesFrame(t *testing.T) {
	h := newTestHost(t, Config{})
	handle, err := h.CreateFrame(context.Background(), xembed.FrameSpec{
		ID:        "f1",
		Src:       "https://example.com/embed/s/console",
		Container: h.Document().BodyElement(),
	})
	require.NoError(t, err)

	var removed []xembed.Element
	h.ObserveRemovals(func(r []xembed.Element) { removed = append(removed, r...) })

	require.NoError(t, handle.Remove())
	require.Len(t, removed, 1)
	_, ok := h.Frame("f1")
	assert.False(t, ok)
	assert.ErrorIs(t, handle.PostMessage(context.Background(), nil, "https://example.com"), ErrFrameNotMounted)
}

func TestForeignContainerRejected(t *testing.T) {
	h := newTestHost(t, Config{})
	_, err := h.CreateFrame(context.Background(), xembed.FrameSpec{ID: "f", Src: "https://example.com/"})
	assert.ErrorIs(t, err, ErrForeignElement)
}

func TestClosedHost(t *testing.T) {
	h := NewHost(Config{})
	require.NoError(t, h.Close(context.Background()))
	require.NoError(t, h.Close(context.Background()))

	_, err := h.Subscribe(context.Background(), func(xembed.Delivery) {})
	assert.ErrorIs(t, err, ErrHostClosed)
	assert.ErrorIs(t, h.Post("https://example.com", nil), ErrHostClosed)
}
