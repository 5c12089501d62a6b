package xembed_test

import (
	"context"
	"encoding/json"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/trickstertwo/xembed"
	"github.com/trickstertwo/xembed/adapter/memory"
	"github.com/trickstertwo/xembed/dom"
)

const dashboardURL = "https://h/embed/g/dashboards/d"

type changeRecorder struct {
	mu     sync.Mutex
	events []xembed.ChangeEvent
}

func (r *changeRecorder) record(e xembed.ChangeEvent, _ xembed.ChangeMetadata) {
	r.mu.Lock()
	r.events = append(r.events, e)
	r.mu.Unlock()
}

func (r *changeRecorder) has(name xembed.ChangeEventName) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, e := range r.events {
		if e.EventName == name {
			return true
		}
	}
	return false
}

func (r *changeRecorder) names() []xembed.ChangeEventName {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]xembed.ChangeEventName, 0, len(r.events))
	for _, e := range r.events {
		out = append(out, e.EventName)
	}
	return out
}

type harness struct {
	ec        *xembed.EmbeddingContext
	host      *memory.Host
	container *dom.Element
	control   *changeRecorder
}

func newHarness(t *testing.T, opts ...memory.Option) *harness {
	t.Helper()
	control := &changeRecorder{}
	opts = append([]memory.Option{memory.WithOnChange(control.record)}, opts...)
	ec, host := memory.Use(memory.Config{AutoLoad: true}, opts...)
	t.Cleanup(func() { _ = ec.Close(context.Background()) })

	container := host.Document().CreateElement("div", "root")
	host.Document().BodyElement().AppendChild(container)
	return &harness{ec: ec, host: host, container: container, control: control}
}

// reply makes every frame answer each request with message.
func (h *harness) reply(message any) {
	h.host.Serve(func(f *memory.Frame, payload []byte) {
		var in xembed.PostMessageEvent
		if err := json.Unmarshal(payload, &in); err != nil || in.EventName == xembed.EventAcknowledge {
			return
		}
		out := map[string]any{"eventName": in.EventName, "eventId": in.EventID}
		if message != nil {
			out["message"] = message
		}
		b, _ := json.Marshal(out)
		_ = f.Emit(b)
	})
}

func (h *harness) embedDashboard(t *testing.T, url string, extra func(*xembed.FrameOptions)) (*xembed.Experience, *changeRecorder) {
	t.Helper()
	rec := &changeRecorder{}
	opts := xembed.FrameOptions{URL: url, Container: h.container, OnChange: rec.record}
	if extra != nil {
		extra(&opts)
	}
	exp, err := h.ec.EmbedDashboard(context.Background(), opts, nil)
	require.NoError(t, err)
	return exp, rec
}

func TestEmbedDashboardURL(t *testing.T) {
	h := newHarness(t)
	exp, rec := h.embedDashboard(t, dashboardURL, nil)

	assert.True(t, strings.HasPrefix(exp.URL(), dashboardURL))
	assert.Contains(t, exp.URL(), "contextId="+h.ec.ContextID()+"&discriminator=0")

	el := h.host.Document().Find("#" + exp.Handle().ID())
	require.NotNil(t, el)
	assert.Equal(t, exp.URL(), el.Attribute("src"))
	assert.Equal(t, "iframe", el.Tag())

	assert.Equal(t, xembed.ExperienceDashboard, exp.Kind())
	assert.Equal(t, "d", exp.Descriptor().DashboardID)
	assert.Equal(t, h.ec.ContextID()+"-DASHBOARD-d", exp.Identity())

	assert.Eventually(t, exp.Loaded, time.Second, 5*time.Millisecond)
	assert.Eventually(t, func() bool { return rec.has(xembed.ChangeFrameLoaded) }, time.Second, 5*time.Millisecond)
	names := rec.names()
	assert.Equal(t, xembed.ChangeFrameStarted, names[0])
	assert.Contains(t, names, xembed.ChangeFrameMounted)
}

func TestControlURLDerivedFromFirstExperience(t *testing.T) {
	h := newHarness(t)
	h.embedDashboard(t, "https://h/embedding/sess/dashboards/d?locale=en", nil)

	cf := h.ec.ControlFrame()
	require.NotNil(t, cf)
	assert.Equal(t, "https://h/embedding/sess/control?locale=en&contextId="+h.ec.ContextID(), cf.URL())
	assert.Equal(t, h.ec.ContextID()+"-CONTROL", cf.Identity())

	el := h.host.Document().Find(".xembed-control")
	require.NotNil(t, el)
	assert.Equal(t, "0px", el.Attribute("width"))
	assert.Equal(t, "0px", el.Attribute("height"))
}

func TestBuildControlOptionsMemoized(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	first, err := h.ec.BuildControlOptions(ctx, "https://h/embed/g/dashboards/a")
	require.NoError(t, err)
	second, err := h.ec.BuildControlOptions(ctx, "https://other/embedding/x/dashboards/b")
	require.NoError(t, err)

	assert.Same(t, first, second)
	assert.Equal(t, h.ec.ContextID(), first.ContextID)
	assert.Same(t, h.ec.EventManager(), first.EventManager)
}

func TestInvalidExperienceURL(t *testing.T) {
	h := newHarness(t)
	_, err := h.ec.EmbedDashboard(context.Background(), xembed.FrameOptions{URL: "https://h/dashboards/d", Container: h.container}, nil)
	assert.ErrorIs(t, err, xembed.ErrInvalidExperienceURL)
}

func TestEmptyFrameOptionsRejected(t *testing.T) {
	h := newHarness(t)
	_, err := h.ec.EmbedConsole(context.Background(), xembed.FrameOptions{}, nil)
	assert.ErrorIs(t, err, xembed.ErrInvalidFrameOptions)

	_, err = h.ec.EmbedConsole(context.Background(), xembed.FrameOptions{URL: "http://h/embed/g/console", Container: h.container}, nil)
	assert.ErrorIs(t, err, xembed.ErrInvalidFrameOptions)
}

func TestAcknowledgeResolvesWithoutReply(t *testing.T) {
	h := newHarness(t)
	exp, _ := h.embedDashboard(t, dashboardURL, nil)

	resp, err := exp.Request(context.Background(), xembed.EventAcknowledge, nil)
	require.NoError(t, err)
	assert.Equal(t, xembed.SuccessResponse{Success: true}, resp)
	assert.Equal(t, uint64(0), h.ec.GetMetrics().Replied)
}

func TestSendTimesOut(t *testing.T) {
	h := newHarness(t, memory.WithSendTimeout(50*time.Millisecond))
	exp, _ := h.embedDashboard(t, dashboardURL, nil)

	start := time.Now()
	_, err := exp.Request(context.Background(), xembed.EventGetSheets, nil)
	require.Error(t, err)
	assert.ErrorIs(t, err, xembed.ErrTimeout)
	assert.Contains(t, err.Error(), string(xembed.EventGetSheets))
	assert.Contains(t, err.Error(), "timed out")
	assert.GreaterOrEqual(t, time.Since(start), 50*time.Millisecond)

	var te *xembed.TimeoutError
	require.ErrorAs(t, err, &te)
	assert.NotEmpty(t, te.EventID)
	assert.Equal(t, uint64(1), h.ec.GetMetrics().TimedOut)
}

func TestFrameTimeoutOverridesContext(t *testing.T) {
	h := newHarness(t)
	exp, _ := h.embedDashboard(t, dashboardURL, func(o *xembed.FrameOptions) { o.Timeout = 30 * time.Millisecond })

	_, err := exp.Request(context.Background(), xembed.EventUndo, nil)
	assert.ErrorIs(t, err, xembed.ErrTimeout)
}

func TestSendCanceledByContext(t *testing.T) {
	h := newHarness(t)
	exp, _ := h.embedDashboard(t, dashboardURL, nil)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err := exp.Request(ctx, xembed.EventRedo, nil)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestReplyShapes(t *testing.T) {
	cases := []struct {
		name    string
		message any
		check   func(t *testing.T, resp xembed.Response)
	}{
		{
			name:    "success",
			message: map[string]any{"success": true},
			check: func(t *testing.T, resp xembed.Response) {
				assert.Equal(t, xembed.SuccessResponse{Success: true}, resp)
			},
		},
		{
			name:    "error",
			message: map[string]any{"success": false, "errorCode": "INVALID", "error": "bad"},
			check: func(t *testing.T, resp xembed.Response) {
				assert.Equal(t, xembed.ErrorResponse{Success: false, ErrorCode: "INVALID", Error: "bad"}, resp)
				assert.False(t, resp.IsSuccess())
			},
		},
		{
			name:    "data",
			message: []map[string]string{{"Name": "Sheet 1", "SheetId": "s1"}},
			check: func(t *testing.T, resp xembed.Response) {
				type sheet struct{ Name, SheetId string }
				sheets, err := xembed.DecodeResponse[[]sheet](nil, resp)
				require.NoError(t, err)
				assert.Equal(t, []sheet{{Name: "Sheet 1", SheetId: "s1"}}, sheets)
			},
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			h := newHarness(t)
			h.reply(tc.message)
			exp, _ := h.embedDashboard(t, dashboardURL, nil)

			resp, err := exp.Request(context.Background(), xembed.EventGetSheets, nil)
			require.NoError(t, err)
			tc.check(t, resp)
		})
	}
}

func TestConvenienceRequests(t *testing.T) {
	h := newHarness(t)
	h.reply(map[string]any{"success": true})
	exp, _ := h.embedDashboard(t, dashboardURL, nil)
	ctx := context.Background()

	resp, err := exp.SetParameters(ctx, map[string][]string{"region": {"eu", "us"}})
	require.NoError(t, err)
	assert.True(t, resp.IsSuccess())

	_, err = exp.Navigate(ctx, "other")
	require.NoError(t, err)

	_, err = exp.SetQuestion(ctx, "revenue?")
	assert.ErrorIs(t, err, xembed.ErrUnsupportedOperation)

	posted := h.ec.ControlFrame().Handle().(*memory.Frame).Posted()
	var names []xembed.MessageEventName
	for _, p := range posted {
		var m xembed.PostMessageEvent
		require.NoError(t, json.Unmarshal(p, &m))
		names = append(names, m.EventName)
		assert.Equal(t, xembed.SDKVersion, m.Version)
		assert.NotZero(t, m.Timestamp)
		assert.Equal(t, exp.Descriptor(), *m.EventTarget)
	}
	assert.Equal(t, []xembed.MessageEventName{xembed.EventSetParameters, xembed.EventNavigateToDashboard}, names)
}

func TestExperiencesReceiveIndependentStreams(t *testing.T) {
	h := newHarness(t)
	gotA := make(chan *xembed.PostMessageEvent, 4)
	gotB := make(chan *xembed.PostMessageEvent, 4)

	a, _ := h.embedDashboard(t, "https://h/embed/g/dashboards/a", func(o *xembed.FrameOptions) {
		o.OnMessage = func(_ context.Context, m *xembed.PostMessageEvent) { gotA <- m }
	})
	b, _ := h.embedDashboard(t, "https://h/embed/g/dashboards/b", func(o *xembed.FrameOptions) {
		o.OnMessage = func(_ context.Context, m *xembed.PostMessageEvent) { gotB <- m }
	})
	assert.NotEqual(t, a.Identity(), b.Identity())

	target := a.Descriptor()
	payload, err := json.Marshal(map[string]any{"eventName": xembed.EventContentLoaded, "eventTarget": target, "eventId": "e1"})
	require.NoError(t, err)
	require.NoError(t, h.ec.ControlFrame().Handle().(*memory.Frame).Emit(payload))

	select {
	case m := <-gotA:
		assert.Equal(t, xembed.EventContentLoaded, m.EventName)
		assert.Equal(t, "e1", m.EventID)
	case <-time.After(time.Second):
		t.Fatal("experience A never received its message")
	}
	select {
	case m := <-gotB:
		t.Fatalf("experience B received %s", m.EventName)
	case <-time.After(50 * time.Millisecond):
	}
	assert.True(t, a.ContentLoaded())
	assert.False(t, b.ContentLoaded())
}

func TestRelayAcknowledgesRecognizedTargets(t *testing.T) {
	h := newHarness(t)
	exp, _ := h.embedDashboard(t, dashboardURL, nil)
	control := h.ec.ControlFrame().Handle().(*memory.Frame)

	payload, _ := json.Marshal(map[string]any{"eventName": xembed.EventParametersChanged, "eventTarget": exp.Descriptor(), "eventId": "evt-7"})
	require.NoError(t, control.Emit(payload))

	require.Eventually(t, func() bool { return len(control.Posted()) == 1 }, time.Second, 5*time.Millisecond)
	var ack struct {
		EventName xembed.MessageEventName `json:"eventName"`
		Message   struct {
			EventName xembed.MessageEventName `json:"eventName"`
			EventID   string                  `json:"eventId"`
		} `json:"message"`
		EventTarget xembed.Descriptor `json:"eventTarget"`
	}
	require.NoError(t, json.Unmarshal(control.Posted()[0], &ack))
	assert.Equal(t, xembed.EventAcknowledge, ack.EventName)
	assert.Equal(t, xembed.EventParametersChanged, ack.Message.EventName)
	assert.Equal(t, "evt-7", ack.Message.EventID)
	assert.Equal(t, exp.Descriptor(), ack.EventTarget)

	assert.Equal(t, uint64(1), h.ec.GetMetrics().Relayed)
	assert.Eventually(t, func() bool { return h.ec.GetMetrics().Acknowledged == 1 }, time.Second, 5*time.Millisecond)
}

func TestRelayDowngradesUnknownTargets(t *testing.T) {
	h := newHarness(t)
	h.embedDashboard(t, dashboardURL, nil)
	control := h.ec.ControlFrame().Handle().(*memory.Frame)

	unknownShape, _ := json.Marshal(map[string]any{"eventName": xembed.EventSizeChanged, "eventTarget": map[string]any{"experienceType": "PAGE"}})
	unknownExperience, _ := json.Marshal(map[string]any{"eventName": xembed.EventSizeChanged, "eventTarget": map[string]any{"experienceType": "DASHBOARD", "dashboardId": "nope", "contextId": h.ec.ContextID()}})
	require.NoError(t, control.Emit(unknownShape))
	require.NoError(t, control.Emit(unknownExperience))
	require.NoError(t, control.Emit([]byte(`not json`)))

	require.Eventually(t, func() bool { return h.ec.GetMetrics().Unrecognized == 2 }, time.Second, 5*time.Millisecond)
	assert.Eventually(t, func() bool { return h.control.has(xembed.ChangeUnrecognizedEventTarget) }, time.Second, 5*time.Millisecond)
	assert.Eventually(t, func() bool { return h.ec.GetMetrics().Dropped >= 1 }, time.Second, 5*time.Millisecond)
	assert.Empty(t, control.Posted())
}

func TestContainerRemovalDisposesExperience(t *testing.T) {
	h := newHarness(t)
	exp, rec := h.embedDashboard(t, dashboardURL, nil)
	require.Equal(t, 1, h.ec.EventManager().ListenerCount(exp.Identity()))

	h.container.Remove()

	assert.True(t, rec.has(xembed.ChangeFrameRemoved))
	assert.Nil(t, exp.Handle())
	assert.Equal(t, 0, h.ec.EventManager().ListenerCount(exp.Identity()))

	_, err := exp.Request(context.Background(), xembed.EventGetSheets, nil)
	require.ErrorIs(t, err, xembed.ErrNoExperienceFrame)
	assert.EqualError(t, err, "No experience frame found")
}

func TestExplicitDispose(t *testing.T) {
	h := newHarness(t)
	exp, rec := h.embedDashboard(t, dashboardURL, nil)
	id := exp.Handle().ID()

	exp.Dispose()
	exp.Dispose()

	assert.Nil(t, h.host.Document().Find("#"+id))
	names := rec.names()
	assert.Equal(t, xembed.ChangeFrameRemoved, names[len(names)-1])
	count := 0
	for _, n := range names {
		if n == xembed.ChangeFrameRemoved {
			count++
		}
	}
	assert.Equal(t, 1, count)

	_, err := exp.Request(context.Background(), xembed.EventReset, nil)
	assert.ErrorIs(t, err, xembed.ErrNoExperienceFrame)
}

func TestDiscriminatorDisambiguatesDuplicates(t *testing.T) {
	h := newHarness(t)
	first, _ := h.embedDashboard(t, dashboardURL, nil)
	second, _ := h.embedDashboard(t, dashboardURL, nil)

	assert.Equal(t, 0, first.Descriptor().Discriminator)
	assert.Equal(t, 1, second.Descriptor().Discriminator)
	assert.Contains(t, second.URL(), "&discriminator=1")
	assert.Equal(t, first.Identity()+"-1", second.Identity())
}

func TestContainerSelectors(t *testing.T) {
	h := newHarness(t)
	exp, err := h.ec.EmbedConsole(context.Background(), xembed.FrameOptions{URL: "https://h/embed/g/console", Container: "#root"}, nil)
	require.NoError(t, err)
	assert.True(t, h.container.Contains(exp.Handle().Element()))

	rec := &changeRecorder{}
	_, err = h.ec.EmbedConsole(context.Background(), xembed.FrameOptions{URL: "https://h/embed/g/console", Container: "#missing", OnChange: rec.record}, nil)
	assert.ErrorIs(t, err, xembed.ErrInvalidContainer)
	assert.True(t, rec.has(xembed.ChangeInvalidContainer))

	rec = &changeRecorder{}
	_, err = h.ec.EmbedConsole(context.Background(), xembed.FrameOptions{URL: "https://h/embed/g/console", OnChange: rec.record}, nil)
	assert.ErrorIs(t, err, xembed.ErrNoContainer)
	assert.True(t, rec.has(xembed.ChangeNoContainer))
}

func TestPresenceCheckedBeforeControlFrame(t *testing.T) {
	h := newHarness(t)

	rec := &changeRecorder{}
	_, err := h.ec.EmbedDashboard(context.Background(), xembed.FrameOptions{Container: h.container, OnChange: rec.record}, nil)
	require.ErrorIs(t, err, xembed.ErrNoURL)
	assert.EqualError(t, err, "Url is required")
	assert.True(t, rec.has(xembed.ChangeNoURL))

	rec = &changeRecorder{}
	_, err = h.ec.EmbedDashboard(context.Background(), xembed.FrameOptions{URL: dashboardURL, OnChange: rec.record}, nil)
	require.ErrorIs(t, err, xembed.ErrNoContainer)
	assert.True(t, rec.has(xembed.ChangeNoContainer))

	rec = &changeRecorder{}
	_, err = h.ec.EmbedDashboard(context.Background(), xembed.FrameOptions{URL: dashboardURL, Container: "#missing", OnChange: rec.record}, nil)
	require.ErrorIs(t, err, xembed.ErrInvalidContainer)
	assert.True(t, rec.has(xembed.ChangeInvalidContainer))

	assert.Nil(t, h.ec.ControlFrame())
	assert.Nil(t, h.host.Document().Find(".xembed-control"))
}

func TestListenerRequestsFromGoroutine(t *testing.T) {
	h := newHarness(t)
	h.reply(nil)

	ready := make(chan *xembed.Experience, 1)
	results := make(chan error, 1)
	exp, _ := h.embedDashboard(t, dashboardURL, func(o *xembed.FrameOptions) {
		o.OnMessage = func(_ context.Context, m *xembed.PostMessageEvent) {
			if m.EventName != xembed.EventContentLoaded {
				return
			}
			// the delivery goroutine carries the reply, so never wait on it here
			go func() {
				e := <-ready
				_, err := e.Request(context.Background(), xembed.EventGetSheets, nil)
				results <- err
			}()
		}
	})
	ready <- exp

	payload, err := json.Marshal(map[string]any{"eventName": xembed.EventContentLoaded, "eventTarget": exp.Descriptor(), "eventId": "loaded-1"})
	require.NoError(t, err)
	require.NoError(t, h.ec.ControlFrame().Handle().(*memory.Frame).Emit(payload))

	select {
	case err := <-results:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("request from listener never completed")
	}
}

func TestSizeChangedDuringConstruction(t *testing.T) {
	h := newHarness(t)
	h.embedDashboard(t, dashboardURL, nil)
	control := h.ec.ControlFrame().Handle().(*memory.Frame)

	target := xembed.Descriptor{ExperienceType: xembed.ExperienceDashboard, DashboardID: "early", ContextID: h.ec.ContextID()}
	sized := func(height int) []byte {
		b, _ := json.Marshal(map[string]any{"eventName": xembed.EventSizeChanged, "eventTarget": target, "message": map[string]any{"height": height}})
		return b
	}

	exp, _ := h.embedDashboard(t, "https://h/embed/g/dashboards/early", func(o *xembed.FrameOptions) {
		o.ResizeHeightOnSizeChangedEvent = true
		o.OnChange = func(e xembed.ChangeEvent, _ xembed.ChangeMetadata) {
			// the listener is live before the frame exists
			if e.EventName == xembed.ChangeFrameStarted {
				_ = control.Emit(sized(320))
			}
		}
	})
	require.Equal(t, target, exp.Descriptor())
	assert.Eventually(t, func() bool { return h.ec.GetMetrics().Relayed >= 1 }, time.Second, 5*time.Millisecond)

	require.NoError(t, control.Emit(sized(640)))
	el := h.host.Document().Find("#" + exp.Handle().ID())
	require.NotNil(t, el)
	assert.Eventually(t, func() bool { return el.Attribute("height") == "640px" }, time.Second, 5*time.Millisecond)
}

func TestSendToUnknownTargetShapeKeepsIdentity(t *testing.T) {
	var mu sync.Mutex
	var starts []xembed.Event
	h := newHarness(t, memory.WithObserver(xembed.ObserverFunc(func(e xembed.Event) {
		if e.Type == xembed.SendStart {
			mu.Lock()
			starts = append(starts, e)
			mu.Unlock()
		}
	})))
	exp, _ := h.embedDashboard(t, dashboardURL, nil)

	msg := xembed.TargetedMessageEvent{MessageEvent: xembed.MessageEvent{
		EventName:   xembed.EventAcknowledge,
		EventTarget: &xembed.Descriptor{ExperienceType: "PAGE"},
	}}
	_, err := exp.Send(context.Background(), msg)
	require.NoError(t, err)

	want := h.ec.ControlFrame().Identity()
	assert.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(starts) == 1 && starts[0].Identity == want
	}, time.Second, 5*time.Millisecond)
}

func TestUnrecognizedOptionsWarn(t *testing.T) {
	h := newHarness(t)
	opts, err := xembed.ParseFrameOptions(map[string]any{
		"url":       dashboardURL,
		"container": h.container,
		"fancy":     true,
	})
	require.NoError(t, err)
	rec := &changeRecorder{}
	opts.OnChange = rec.record

	exp, err := h.ec.EmbedDashboard(context.Background(), opts, xembed.ContentOptions{
		"locale":     "en-US",
		"parameters": map[string]any{"region": []any{"eu", "us"}},
		"shiny":      1,
	})
	require.NoError(t, err)

	assert.True(t, rec.has(xembed.ChangeUnrecognizedFrameOptions))
	assert.True(t, rec.has(xembed.ChangeUnrecognizedContentOptions))
	assert.Contains(t, exp.URL(), "locale=en-US&contextId=")
	assert.True(t, strings.HasSuffix(exp.URL(), "#p.region=eu&p.region=us"))
}

func TestResizeOnSizeChanged(t *testing.T) {
	h := newHarness(t)
	exp, _ := h.embedDashboard(t, dashboardURL, func(o *xembed.FrameOptions) { o.ResizeHeightOnSizeChangedEvent = true })

	payload, _ := json.Marshal(map[string]any{"eventName": xembed.EventSizeChanged, "eventTarget": exp.Descriptor(), "message": map[string]any{"height": 640}})
	require.NoError(t, h.ec.ControlFrame().Handle().(*memory.Frame).Emit(payload))

	el := h.host.Document().Find("#" + exp.Handle().ID())
	require.NotNil(t, el)
	assert.Eventually(t, func() bool { return el.Attribute("height") == "640px" }, time.Second, 5*time.Millisecond)
}

func TestNoBody(t *testing.T) {
	rec := &changeRecorder{}
	ec, host := memory.Use(memory.Config{NoBody: true}, memory.WithOnChange(rec.record))
	t.Cleanup(func() { _ = ec.Close(context.Background()) })

	container := host.Document().CreateElement("div", "detached")
	_, err := ec.EmbedDashboard(context.Background(), xembed.FrameOptions{URL: dashboardURL, Container: container}, nil)
	assert.ErrorIs(t, err, xembed.ErrNoBody)
	assert.True(t, rec.has(xembed.ChangeNoBody))
}

func TestFrameCreationFailure(t *testing.T) {
	h := newHarness(t)
	require.NoError(t, h.host.Close(context.Background()))

	_, err := h.ec.EmbedDashboard(context.Background(), xembed.FrameOptions{URL: dashboardURL, Container: h.container}, nil)
	require.ErrorIs(t, err, memory.ErrHostClosed)
	assert.True(t, h.control.has(xembed.ChangeFrameNotCreated))
}

func TestFrameNotLoadedInTime(t *testing.T) {
	control := &changeRecorder{}
	ec, host := memory.Use(memory.Config{AutoLoad: false},
		memory.WithFrameTimeout(30*time.Millisecond),
		memory.WithOnChange(control.record),
	)
	t.Cleanup(func() { _ = ec.Close(context.Background()) })

	rec := &changeRecorder{}
	exp, err := ec.EmbedDashboard(context.Background(), xembed.FrameOptions{
		URL:       dashboardURL,
		Container: host.Document().BodyElement(),
		OnChange:  rec.record,
	}, nil)
	require.NoError(t, err)

	assert.Eventually(t, func() bool { return rec.has(xembed.ChangeFrameNotCreated) }, time.Second, 5*time.Millisecond)
	assert.Eventually(t, func() bool { return control.has(xembed.ChangeFrameNotCreated) }, time.Second, 5*time.Millisecond)
	assert.False(t, exp.Loaded())
}

func TestContextsAreIsolated(t *testing.T) {
	a := newHarness(t)
	b := newHarness(t)
	assert.NotEqual(t, a.ec.ContextID(), b.ec.ContextID())

	expA, _ := a.embedDashboard(t, dashboardURL, nil)
	expB, _ := b.embedDashboard(t, dashboardURL, nil)
	assert.Equal(t, 0, expA.Descriptor().Discriminator)
	assert.Equal(t, 0, expB.Descriptor().Discriminator)
	assert.NotEqual(t, expA.Identity(), expB.Identity())
}

func TestHealthAndClose(t *testing.T) {
	h := newHarness(t)
	h.embedDashboard(t, dashboardURL, nil)

	assert.Equal(t, "healthy", h.ec.Health(context.Background()).Status)
	assert.Equal(t, uint64(1), h.ec.GetMetrics().Experiences)

	require.NoError(t, h.ec.Close(context.Background()))
	require.NoError(t, h.ec.Close(context.Background()))
	assert.Equal(t, "unhealthy", h.ec.Health(context.Background()).Status)

	_, err := h.ec.EmbedConsole(context.Background(), xembed.FrameOptions{URL: "https://h/embed/g/console", Container: h.container}, nil)
	assert.ErrorIs(t, err, xembed.ErrContextClosed)
}

func TestVerifyOriginDropsForeignDeliveries(t *testing.T) {
	h := newHarness(t, func(b *xembed.ContextBuilder) { b.WithVerifyOrigin(true) })
	got := make(chan struct{}, 1)
	exp, _ := h.embedDashboard(t, dashboardURL, func(o *xembed.FrameOptions) {
		o.OnMessage = func(context.Context, *xembed.PostMessageEvent) { got <- struct{}{} }
	})

	payload, _ := json.Marshal(map[string]any{"eventName": xembed.EventContentLoaded, "eventTarget": exp.Descriptor()})
	require.NoError(t, h.host.Post("https://evil.example", payload))
	require.Eventually(t, func() bool { return h.ec.GetMetrics().Dropped == 1 }, time.Second, 5*time.Millisecond)
	assert.Len(t, got, 0)

	require.NoError(t, h.host.Post("https://h", payload))
	select {
	case <-got:
	case <-time.After(time.Second):
		t.Fatal("allowed origin was not relayed")
	}
}
