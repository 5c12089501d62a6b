// Package websocket hosts embedded frames whose pages are remote peers
// connected over websockets. Each frame is served at <BasePath><frameID>; the
// peer's Origin header must match the origin of the frame's src, and its
// first connection is the frame's load event.
package websocket

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"path"
	"sync"
	"sync/atomic"
	"time"

	gws "github.com/gorilla/websocket"
	"github.com/trickstertwo/xembed"
	"github.com/trickstertwo/xembed/dom"
	"github.com/trickstertwo/xlog"
)

const HostName = "websocket"

func init() {
	if err := xembed.RegisterHost(HostName, func(cfg map[string]any) (xembed.Host, error) {
		return NewHost(ConfigFromMap(cfg)), nil
	}); err != nil {
		panic(fmt.Errorf("xembed/websocket: failed to register host: %w", err))
	}
}

var (
	ErrHostClosed         = errors.New("websocket host is closed")
	ErrForeignElement     = errors.New("websocket host: container does not belong to this document")
	ErrOriginMismatch     = errors.New("websocket host: target origin does not match the frame origin")
	ErrFrameNotMounted    = errors.New("websocket host: frame is not mounted")
	ErrFrameNotConnected  = errors.New("websocket host: frame has no connected page")
	ErrFrameQueueOverflow = errors.New("websocket host: frame outbound queue is full")
)

// Config controls websocket host behavior.
type Config struct {
	// BasePath prefixes frame endpoints (default: "/frames/").
	BasePath string
	// BufferSize is the event loop queue size (default: 1024).
	BufferSize int
	// SendBuffer is the per-connection outbound queue size (default: 64).
	SendBuffer int
	// WriteTimeout bounds a single websocket write (default: 10s).
	WriteTimeout time.Duration
	// ReadLimit caps inbound message size in bytes (default: 1MiB).
	ReadLimit int64
	// NoBody starts the host with a document that has no body.
	NoBody bool
}

func ConfigFromMap(cfg map[string]any) Config {
	getString := func(k, d string) string {
		if v, ok := cfg[k].(string); ok && v != "" {
			return v
		}
		return d
	}

	getInt := func(k string, d int) int {
		switch v := cfg[k].(type) {
		case int:
			return v
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
		BasePath:     getString("base_path", "/frames/"),
		BufferSize:   getInt("buffer_size", 1024),
		SendBuffer:   getInt("send_buffer", 64),
		WriteTimeout: getDur("write_timeout", 10*time.Second),
		ReadLimit:    int64(getInt("read_limit", 1<<20)),
		NoBody:       getBool("no_body", false),
	}
}

func (c Config) withDefaults() Config {
	if c.BasePath == "" {
		c.BasePath = "/frames/"
	}
	if c.BufferSize < 1 {
		c.BufferSize = 1024
	}
	if c.SendBuffer < 1 {
		c.SendBuffer = 64
	}
	if c.WriteTimeout <= 0 {
		c.WriteTimeout = 10 * time.Second
	}
	if c.ReadLimit <= 0 {
		c.ReadLimit = 1 << 20
	}
	return c
}

// Host implements xembed.Host over websocket connections. It is also an
// http.Handler serving the frame endpoints. Inbound messages, load events and
// idle work run on one event loop goroutine so the core sees them in order.
type Host struct {
	cfg    Config
	doc    *dom.Document
	logger *xlog.Logger

	queue chan func()
	done  chan struct{}
	wg    sync.WaitGroup

	mu     sync.RWMutex
	frames map[string]*Frame
	subs   map[uint64]func(xembed.Delivery)

	seq    atomic.Uint64
	closed atomic.Bool

	connected atomic.Uint64
	posted    atomic.Uint64
	delivered atomic.Uint64
	rejected  atomic.Uint64
}

var (
	_ xembed.Host          = (*Host)(nil)
	_ xembed.IdleScheduler = (*Host)(nil)
	_ http.Handler         = (*Host)(nil)
)

// NewHost creates a websocket host and starts its event loop.
func NewHost(cfg Config) *Host {
	cfg = cfg.withDefaults()
	doc := dom.New()
	if cfg.NoBody {
		doc = dom.NewWithoutBody()
	}
	h := &Host{
		cfg:    cfg,
		doc:    doc,
		logger: xlog.Default(),
		queue:  make(chan func(), cfg.BufferSize),
		done:   make(chan struct{}),
		frames: make(map[string]*Frame),
		subs:   make(map[uint64]func(xembed.Delivery)),
	}
	h.wg.Add(1)
	go h.loop()
	return h
}

// SetLogger replaces the logger used for connection diagnostics.
func (h *Host) SetLogger(l *xlog.Logger) {
	if l != nil {
		h.logger = l
	}
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

func (h *Host) enqueue(task func()) error {
	if h.closed.Load() {
		return ErrHostClosed
	}
	select {
	case h.queue <- task:
		return nil
	case <-h.done:
		return ErrHostClosed
	}
}

// Document exposes the host document so callers can build containers.
func (h *Host) Document() *dom.Document { return h.doc }

func (h *Host) Body() xembed.Element                  { return h.doc.Body() }
func (h *Host) QuerySelector(s string) xembed.Element { return h.doc.QuerySelector(s) }

func (h *Host) ObserveRemovals(fn func(removed []xembed.Element)) xembed.Subscription {
	return h.doc.ObserveRemovals(fn)
}

// ScheduleIdle runs fn on the event loop after already queued work.
func (h *Host) ScheduleIdle(fn func()) {
	_ = h.enqueue(fn)
}

// CreateFrame inserts an iframe element into the container. The frame loads
// when its page connects.
func (h *Host) CreateFrame(ctx context.Context, spec xembed.FrameSpec) (xembed.FrameHandle, error) {
	if h.closed.Load() {
		return nil, ErrHostClosed
	}
	container, ok := spec.Container.(*dom.Element)
	if !ok || container == nil {
		return nil, ErrForeignElement
	}
	u, err := url.Parse(spec.Src)
	if err != nil || u.Host == "" {
		return nil, fmt.Errorf("websocket host: invalid frame src %q", spec.Src)
	}

	el := h.doc.CreateElement("iframe", spec.ID)
	el.SetAttribute("src", spec.Src)
	el.SetAttribute("width", spec.Width)
	el.SetAttribute("height", spec.Height)
	el.SetAttribute("class", spec.ClassName)
	el.SetAttribute("style", spec.Style)
	el.SetAttribute("loading", spec.Loading)
	el.SetAttribute("data-endpoint", h.Endpoint(spec.ID))

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
	return f, nil
}

// Endpoint is the path a frame's page connects to.
func (h *Host) Endpoint(frameID string) string {
	return path.Join(h.cfg.BasePath, url.PathEscape(frameID))
}

// Frame returns a mounted frame by element id.
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

// ServeHTTP serves the frame endpoint named by the last path segment.
func (h *Host) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	id, err := url.PathUnescape(path.Base(r.URL.Path))
	if err != nil {
		http.Error(w, "invalid frame id", http.StatusBadRequest)
		return
	}
	h.ServeFrame(w, r, id)
}

// ServeFrame upgrades r to the page connection of frame id. Routers that
// extract the id themselves call it directly.
func (h *Host) ServeFrame(w http.ResponseWriter, r *http.Request, id string) {
	if h.closed.Load() {
		http.Error(w, ErrHostClosed.Error(), http.StatusServiceUnavailable)
		return
	}
	f, ok := h.Frame(id)
	if !ok {
		http.NotFound(w, r)
		return
	}

	upgrader := gws.Upgrader{
		CheckOrigin: func(r *http.Request) bool {
			return r.Header.Get("Origin") == f.origin
		},
	}
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.rejected.Add(1)
		h.logger.Warn().Err(err).Str("frame", id).Str("origin", r.Header.Get("Origin")).Msg("xembed/websocket: upgrade failed")
		return
	}
	conn.SetReadLimit(h.cfg.ReadLimit)
	h.connected.Add(1)

	c := newPeer(conn, h.cfg.SendBuffer)
	f.attach(c)
	go h.writePump(f, c)
	_ = h.enqueue(f.load)
	h.readPump(f, c)
}

// readPump turns page messages into host window deliveries until the
// connection closes.
func (h *Host) readPump(f *Frame, c *peer) {
	defer func() {
		f.detach(c)
		c.close()
	}()
	for {
		kind, payload, err := c.conn.ReadMessage()
		if err != nil {
			if gws.IsUnexpectedCloseError(err, gws.CloseNormalClosure, gws.CloseGoingAway) {
				h.logger.Warn().Err(err).Str("frame", f.id).Msg("xembed/websocket: read failed")
			}
			return
		}
		if kind != gws.TextMessage && kind != gws.BinaryMessage {
			continue
		}
		d := delivery{origin: f.origin, payload: payload}
		if err := h.enqueue(func() { h.dispatch(d) }); err != nil {
			return
		}
	}
}

func (h *Host) writePump(f *Frame, c *peer) {
	for {
		select {
		case <-c.done:
			return
		case payload := <-c.out:
			_ = c.conn.SetWriteDeadline(time.Now().Add(h.cfg.WriteTimeout))
			if err := c.conn.WriteMessage(gws.TextMessage, payload); err != nil {
				h.logger.Warn().Err(err).Str("frame", f.id).Msg("xembed/websocket: write failed")
				c.close()
				return
			}
		}
	}
}

// Subscribe listens to messages the pages post to the host window.
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

func (h *Host) dispatch(d delivery) {
	h.mu.RLock()
	handlers := make([]func(xembed.Delivery), 0, len(h.subs))
	for _, fn := range h.subs {
		handlers = append(handlers, fn)
	}
	h.mu.RUnlock()

	for _, fn := range handlers {
		h.delivered.Add(1)
		fn(d)
	}
}

// Close disconnects every page and stops the event loop.
func (h *Host) Close(_ context.Context) error {
	if h.closed.Swap(true) {
		return nil
	}
	for _, f := range h.Frames() {
		f.disconnect()
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
	Connected uint64
	Posted    uint64
	Delivered uint64
	Rejected  uint64
}

func (h *Host) Stats() Stats {
	return Stats{
		Connected: h.connected.Load(),
		Posted:    h.posted.Load(),
		Delivered: h.delivered.Load(),
		Rejected:  h.rejected.Load(),
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
