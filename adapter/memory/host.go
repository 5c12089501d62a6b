package memory

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"sync"
	"sync/atomic"
	"time"

	"github.com/trickstertwo/xembed"
	"github.com/trickstertwo/xembed/dom"
)

const HostName = "memory"

func init() {
	if err := xembed.RegisterHost(HostName, func(cfg map[string]any) (xembed.Host, error) {
		return NewHost(ConfigFromMap(cfg)), nil
	}); err != nil {
		panic(fmt.Errorf("xembed/memory: failed to register host: %w", err))
	}
}

var (
	ErrHostClosed      = errors.New("memory host is closed")
	ErrForeignElement  = errors.New("memory host: container does not belong to this document")
	ErrOriginMismatch  = errors.New("memory host: target origin does not match the frame origin")
	ErrFrameNotMounted = errors.New("memory host: frame is not mounted")
)

// Config controls memory host behavior.
type Config struct {
	// BufferSize is the event loop queue size (default: 1024).
	BufferSize int
	// AutoLoad fires a frame's load event right after it is created (default: true).
	AutoLoad bool
	// LoadDelay delays the automatic load event (default: 0).
	LoadDelay time.Duration
	// NoBody starts the host with a document that has no body.
	NoBody bool
}

func ConfigFromMap(cfg map[string]any) Config {
	getInt := func(k string, d int) int {
		switch v := cfg[k].(type) {
		case int:
			return v
		case int32:
			return int(v)
		case int64:
			return int(v)
		case float64:
			return int(v)
		default:
			return d
		}
	}

	getBool := func(k string, d bool) bool {
		if v, ok := cfg[k].(bool); ok {
			return v
		}
		return d
	}

	getDur := func(k string, d time.Duration) time.Duration {
		switch v := cfg[k].(type) {
		case time.Duration:
			return v
		case string:
			if p, err := time.ParseDuration(v); err == nil {
				return p
			}
		case float64:
			return time.Duration(v)
		}
		return d
	}

	return Config{
		BufferSize: maxInt(1, getInt("buffer_size", 1024)),
		AutoLoad:   getBool("auto_load", true),
		LoadDelay:  getDur("load_delay", 0),
		NoBody:     getBool("no_body", false),
	}
}

// SurfaceFunc plays the page loaded in a frame: it receives every payload
// posted to the frame and may answer with Frame.Emit.
type SurfaceFunc func(f *Frame, payload []byte)

// Host implements xembed.Host in process. A single event loop goroutine
// delivers posted messages, window messages, load events and idle work in
// order, the way a browser tab would. Handlers run on that loop and must not
// block on replies that the loop itself has to deliver.
type Host struct {
	cfg Config
	doc *dom.Document

	queue chan func()
	done  chan struct{}
	wg    sync.WaitGroup

	mu      sync.RWMutex
	frames  map[string]*Frame
	subs    map[uint64]func(xembed.Delivery)
	surface SurfaceFunc

	seq    atomic.Uint64
	closed atomic.Bool

	metrics *hostMetrics
}

type hostMetrics struct {
	framesCreated atomic.Uint64
	posted        atomic.Uint64
	delivered     atomic.Uint64
	rejected      atomic.Uint64
}

var (
	_ xembed.Host          = (*Host)(nil)
	_ xembed.IdleScheduler = (*Host)(nil)
)

// NewHost creates a memory host and starts its event loop.
func NewHost(cfg Config) *Host {
	if cfg.BufferSize < 1 {
		cfg.BufferSize = 1024
	}
	doc := dom.New()
	if cfg.NoBody {
		doc = dom.NewWithoutBody()
	}
	h := &Host{
		cfg:     cfg,
		doc:     doc,
		queue:   make(chan func(), cfg.BufferSize),
		done:    make(chan struct{}),
		frames:  make(map[string]*Frame),
		subs:    make(map[uint64]func(xembed.Delivery)),
		metrics: &hostMetrics{},
	}
	h.wg.Add(1)
	go h.loop()
	return h
}

func (h *Host) loop() {
	defer h.wg.Done()
	for {
		select {
		case <-h.done:
			return
		case task := <-h.queue:
			task()
		}
	}
}

// enqueue schedules task on the event loop.
func (h *Host) enqueue(task func()) error {
	if h.closed.Load() {
		return ErrHostClosed
	}
	select {
	case h.queue <- task:
		return nil
	default:
		// Queue full: block to preserve ordering
		select {
		case h.queue <- task:
			return nil
		case <-h.done:
			return ErrHostClosed
		}
	}
}

// Serve installs the page every frame of this host runs.
func (h *Host) Serve(fn SurfaceFunc) {
	h.mu.Lock()
	h.surface = fn
	h.mu.Unlock()
}

// Document exposes the in-memory document so callers can build containers
// and remove nodes.
func (h *Host) Document() *dom.Document { return h.doc }

func (h *Host) Body() xembed.Element                  { return h.doc.Body() }
func (h *Host) QuerySelector(s string) xembed.Element { return h.doc.QuerySelector(s) }

func (h *Host) ObserveRemovals(fn func(removed []xembed.Element)) xembed.Subscription {
	return h.doc.ObserveRemovals(fn)
}

// ScheduleIdle runs fn on the event loop once already queued work is done.
func (h *Host) ScheduleIdle(fn func()) {
	_ = h.enqueue(fn)
}

// CreateFrame inserts an iframe element into the container and, with
// AutoLoad, schedules its load event.
func (h *Host) CreateFrame(ctx context.Context, spec xembed.FrameSpec) (xembed.FrameHandle, error) {
	if h.closed.Load() {
		return nil, ErrHostClosed
	}
	container, ok := spec.Container.(*dom.Element)
	if !ok || container == nil {
		return nil, ErrForeignElement
	}
	u, err := url.Parse(spec.Src)
	if err != nil {
		return nil, fmt.Errorf("memory host: invalid frame src: %w", err)
	}

	el := h.doc.CreateElement("iframe", spec.ID)
	el.SetAttribute("src", spec.Src)
	el.SetAttribute("width", spec.Width)
	el.SetAttribute("height", spec.Height)
	el.SetAttribute("class", spec.ClassName)
	el.SetAttribute("style", spec.Style)
	el.SetAttribute("loading", spec.Loading)

	f := &Frame{
		host:   h,
		id:     spec.ID,
		src:    spec.Src,
		origin: u.Scheme + "://" + u.Host,
		el:     el,
		onLoad: spec.OnLoad,
	}

	if spec.WithPlaceholder {
		f.placeholder = h.doc.CreateElement("div", spec.ID+"-placeholder")
		f.placeholder.SetAttribute("class", "xembed-placeholder")
		container.AppendChild(f.placeholder)
	}
	container.AppendChild(el)

	h.mu.Lock()
	h.frames[f.id] = f
	h.mu.Unlock()
	h.metrics.framesCreated.Add(1)

	if h.cfg.AutoLoad {
		if h.cfg.LoadDelay > 0 {
			time.AfterFunc(h.cfg.LoadDelay, func() { _ = h.enqueue(f.Load) })
		} else {
			_ = h.enqueue(f.Load)
		}
	}
	return f, nil
}

// Frame returns a frame by element id.
func (h *Host) Frame(id string) (*Frame, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	f, ok := h.frames[id]
	return f, ok
}

// Frames returns all mounted frames.
func (h *Host) Frames() []*Frame {
	h.mu.RLock()
	defer h.mu.RUnlock()
	out := make([]*Frame, 0, len(h.frames))
	for _, f := range h.frames {
		out = append(out, f)
	}
	return out
}

// Subscribe listens to messages posted to the host window.
func (h *Host) Subscribe(ctx context.Context, handler func(xembed.Delivery)) (xembed.Subscription, error) {
	if h.closed.Load() {
		return nil, ErrHostClosed
	}
	id := h.seq.Add(1)
	h.mu.Lock()
	h.subs[id] = handler
	h.mu.Unlock()

	return &subscription{close: func() error {
		h.mu.Lock()
		delete(h.subs, id)
		h.mu.Unlock()
		return nil
	}}, nil
}

// Post delivers payload to the host window as if sent from origin.
func (h *Host) Post(origin string, payload []byte) error {
	d := delivery{origin: origin, payload: append([]byte(nil), payload...)}
	return h.enqueue(func() { h.dispatch(d) })
}

func (h *Host) dispatch(d delivery) {
	h.mu.RLock()
	handlers := make([]func(xembed.Delivery), 0, len(h.subs))
	for _, fn := range h.subs {
		handlers = append(handlers, fn)
	}
	h.mu.RUnlock()

	for _, fn := range handlers {
		h.metrics.delivered.Add(1)
		fn(d)
	}
}

// SubscriberCount reports live window subscriptions.
func (h *Host) SubscriberCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs)
}

// Close stops the event loop. Queued work is discarded.
func (h *Host) Close(_ context.Context) error {
	if h.closed.Swap(true) {
		return nil
	}
	close(h.done)
	h.wg.Wait()

	h.mu.Lock()
	h.subs = make(map[uint64]func(xembed.Delivery))
	h.mu.Unlock()
	return nil
}

// Stats returns host telemetry.
type Stats struct {
	FramesCreated uint64
	Posted        uint64
	Delivered     uint64
	Rejected      uint64
}

func (h *Host) Stats() Stats {
	return Stats{
		FramesCreated: h.metrics.framesCreated.Load(),
		Posted:        h.metrics.posted.Load(),
		Delivered:     h.metrics.delivered.Load(),
		Rejected:      h.metrics.rejected.Load(),
	}
}

type subscription struct {
	once  sync.Once
	close func() error
}

func (s *subscription) Close() error {
	var err error
	s.once.Do(func() {
		if s.close != nil {
			err = s.close()
		}
	})
	return err
}

type delivery struct {
	origin  string
	payload []byte
}

func (d delivery) Origin() string  { return d.origin }
func (d delivery) Payload() []byte { return d.payload }

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}
