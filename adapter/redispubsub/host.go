package redispubsub

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net"
	"net/url"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/multierr"

	"github.com/trickstertwo/xembed"
	"github.com/trickstertwo/xembed/dom"
	"github.com/trickstertwo/xlog"
)

const HostName = "redis-pubsub"

func init() {
	if err := xembed.RegisterHost(HostName, func(cfg map[string]any) (xembed.Host, error) {
		return NewHost(ConfigFromMap(cfg))
	}); err != nil {
		panic(fmt.Errorf("xembed: failed to register host %q: %w", HostName, err))
	}
}

var (
	ErrHostClosed        = errors.New("redis-pubsub host is closed")
	ErrForeignElement    = errors.New("redis-pubsub host: container does not belong to this document")
	ErrOriginMismatch    = errors.New("redis-pubsub host: target origin does not match the frame origin")
	ErrFrameNotMounted   = errors.New("redis-pubsub host: frame is not mounted")
	ErrFrameNotConnected = errors.New("redis-pubsub host: no page is listening on the frame channel")
)

// Host implements xembed.Host over Redis pub/sub. Inbound messages and load
// announcements are handled on one event loop goroutine.
type Host struct {
	cfg    Config
	client *redis.Client
	pubsub *redis.PubSub
	doc    *dom.Document
	logger *xlog.Logger

	queue chan func()
	done  chan struct{}
	wg    sync.WaitGroup

	mu     sync.RWMutex
	frames map[string]*Frame
	subs   map[uint64]func(xembed.Delivery)

	seq       atomic.Uint64
	closeOnce sync.Once
	closed    atomic.Bool

	metrics *hostMetrics
}

type hostMetrics struct {
	published     atomic.Uint64
	received      atomic.Uint64
	delivered     atomic.Uint64
	rejected      atomic.Uint64
	publishErrors atomic.Uint64
}

var (
	_ xembed.Host          = (*Host)(nil)
	_ xembed.IdleScheduler = (*Host)(nil)
)

// NewHost connects to Redis and subscribes to the host window and load
// channels.
func NewHost(cfg Config) (*Host, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	opts := &redis.Options{
		Addr:         cfg.Addr,
		Username:     cfg.Username,
		Password:     cfg.Password,
		DB:           cfg.DB,
		MaxRetries:   3,
		PoolSize:     10,
		MinIdleConns: 2,
	}
	if cfg.TLS {
		opts.TLSConfig = &tls.Config{
			MinVersion:    tls.VersionTLS12,
			ServerName:    cfg.TLSServerName,
			Renegotiation: tls.RenegotiateNever,
		}
	}

	client := redis.NewClient(opts)
	if err := ping(client); err != nil {
		_ = client.Close()
		return nil, err
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	ps, err := subscribe(ctx, client, cfg)
	if err != nil {
		_ = client.Close()
		return nil, err
	}

	doc := dom.New()
	if cfg.NoBody {
		doc = dom.NewWithoutBody()
	}
	h := &Host{
		cfg:     cfg,
		client:  client,
		pubsub:  ps,
		doc:     doc,
		logger:  xlog.Default(),
		queue:   make(chan func(), cfg.BufferSize),
		done:    make(chan struct{}),
		frames:  make(map[string]*Frame),
		subs:    make(map[uint64]func(xembed.Delivery)),
		metrics: &hostMetrics{},
	}
	h.wg.Add(2)
	go h.loop()
	go h.receive(ps.Channel())
	return h, nil
}

// subscribe waits for both subscriptions to be confirmed so no announcement
// sent after NewHost returns is missed.
func subscribe(ctx context.Context, client *redis.Client, cfg Config) (*redis.PubSub, error) {
	ps := client.Subscribe(ctx, LoadedChannel(cfg.Prefix, cfg.HostID))
	if err := ps.PSubscribe(ctx, hostPattern(cfg.Prefix, cfg.HostID)+"*"); err != nil {
		_ = ps.Close()
		return nil, fmt.Errorf("redis psubscribe: %w", err)
	}
	for confirmed := 0; confirmed < 2; {
		msg, err := ps.Receive(ctx)
		if err != nil {
			_ = ps.Close()
			return nil, fmt.Errorf("redis subscribe: %w", err)
		}
		if _, ok := msg.(*redis.Subscription); ok {
			confirmed++
		}
	}
	return ps, nil
}

// SetLogger replaces the logger used for host diagnostics.
func (h *Host) SetLogger(l *xlog.Logger) {
	if l != nil {
		h.logger = l
	}
}

// HostID returns the identity pages use to address this host.
func (h *Host) HostID() string { return h.cfg.HostID }
func (h *Host) Prefix() string { return h.cfg.Prefix }

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

// receive routes Redis messages until the pubsub channel closes.
func (h *Host) receive(ch <-chan *redis.Message) {
	defer h.wg.Done()
	loaded := LoadedChannel(h.cfg.Prefix, h.cfg.HostID)
	window := hostPattern(h.cfg.Prefix, h.cfg.HostID)

	for msg := range ch {
		h.metrics.received.Add(1)
		switch {
		case msg.Channel == loaded:
			f, ok := h.Frame(msg.Payload)
			if !ok {
				h.metrics.rejected.Add(1)
				continue
			}
			_ = h.enqueue(f.load)
		case strings.HasPrefix(msg.Channel, window):
			f, ok := h.Frame(strings.TrimPrefix(msg.Channel, window))
			if !ok {
				h.metrics.rejected.Add(1)
				h.logger.Debug().Str("channel", msg.Channel).Msg("xembed/redispubsub: message from unknown frame dropped")
				continue
			}
			d := delivery{origin: f.origin, payload: []byte(msg.Payload)}
			_ = h.enqueue(func() { h.dispatch(d) })
		}
	}
}

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
// when its page announces itself on the load channel.
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
		return nil, fmt.Errorf("redis-pubsub host: invalid frame src %q", spec.Src)
	}

	el := h.doc.CreateElement("iframe", spec.ID)
	el.SetAttribute("src", spec.Src)
	el.SetAttribute("width", spec.Width)
	el.SetAttribute("height", spec.Height)
	el.SetAttribute("class", spec.ClassName)
	el.SetAttribute("style", spec.Style)
	el.SetAttribute("loading", spec.Loading)
	el.SetAttribute("data-channel", FrameChannel(h.cfg.Prefix, spec.ID))

	f := &Frame{
		host:    h,
		id:      spec.ID,
		src:     spec.Src,
		origin:  u.Scheme + "://" + u.Host,
		channel: FrameChannel(h.cfg.Prefix, spec.ID),
		el:      el,
		onLoad:  spec.OnLoad,
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

// Frame returns a mounted frame by element id.
func (h *Host) Frame(id string) (*Frame, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	f, ok := h.frames[id]
	return f, ok
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
		h.metrics.delivered.Add(1)
		fn(d)
	}
}

func (h *Host) publish(ctx context.Context, channel string, payload []byte) error {
	ctx, cancel := context.WithTimeout(ctx, h.cfg.PublishTimeout)
	defer cancel()

	receivers, err := h.client.Publish(ctx, channel, payload).Result()
	if err != nil {
		h.metrics.publishErrors.Add(1)
		return fmt.Errorf("redis publish %s: %w", channel, err)
	}
	if receivers == 0 {
		return ErrFrameNotConnected
	}
	h.metrics.published.Add(1)
	return nil
}

// Close unsubscribes, stops the event loop and closes the Redis client.
func (h *Host) Close(_ context.Context) error {
	var err error
	h.closeOnce.Do(func() {
		h.closed.Store(true)
		psErr := h.pubsub.Close()
		close(h.done)
		h.wg.Wait()

		h.mu.Lock()
		h.subs = make(map[uint64]func(xembed.Delivery))
		h.mu.Unlock()
		err = multierr.Combine(psErr, h.client.Close())
	})
	return err
}

// Stats returns host telemetry.
type Stats struct {
	Published     uint64
	Received      uint64
	Delivered     uint64
	Rejected      uint64
	PublishErrors uint64
}

func (h *Host) Stats() Stats {
	return Stats{
		Published:     h.metrics.published.Load(),
		Received:      h.metrics.received.Load(),
		Delivered:     h.metrics.delivered.Load(),
		Rejected:      h.metrics.rejected.Load(),
		PublishErrors: h.metrics.publishErrors.Load(),
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

func ping(c *redis.Client) error {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	res, err := c.Ping(ctx).Result()
	if err != nil {
		var netErr net.Error
		if errors.As(err, &netErr) && netErr.Timeout() {
			return fmt.Errorf("redis ping timeout: %w", err)
		}
		return err
	}
	if strings.ToUpper(res) != "PONG" {
		return fmt.Errorf("unexpected redis ping result: %s", res)
	}
	return nil
}
