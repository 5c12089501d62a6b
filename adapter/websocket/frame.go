package websocket

import (
	"context"
	"sync"

	gws "github.com/gorilla/websocket"
	"github.com/trickstertwo/xembed"
	"github.com/trickstertwo/xembed/dom"
)

// Frame is a frame whose page is a websocket peer. A page may reconnect; the
// newest connection replaces the previous one.
type Frame struct {
	host        *Host
	id          string
	src         string
	origin      string
	el          *dom.Element
	placeholder *dom.Element
	onLoad      func()
	loadOnce    sync.Once

	mu   sync.Mutex
	peer *peer
}

var _ xembed.FrameHandle = (*Frame)(nil)

func (f *Frame) ID() string               { return f.id }
func (f *Frame) Src() string              { return f.src }
func (f *Frame) Origin() string           { return f.origin }
func (f *Frame) Element() xembed.Element  { return f.el }
func (f *Frame) DOMElement() *dom.Element { return f.el }

// Connected reports whether a page is currently connected.
func (f *Frame) Connected() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.peer != nil
}

// PostMessage queues payload for the connected page.
func (f *Frame) PostMessage(ctx context.Context, payload []byte, targetOrigin string) error {
	if targetOrigin != "*" && targetOrigin != f.origin {
		f.host.rejected.Add(1)
		return ErrOriginMismatch
	}
	if !f.el.Attached() {
		return ErrFrameNotMounted
	}
	f.mu.Lock()
	p := f.peer
	f.mu.Unlock()
	if p == nil {
		return ErrFrameNotConnected
	}

	msg := append([]byte(nil), payload...)
	select {
	case p.out <- msg:
		f.host.posted.Add(1)
		return nil
	case <-p.done:
		return ErrFrameNotConnected
	case <-ctx.Done():
		return ctx.Err()
	default:
		return ErrFrameQueueOverflow
	}
}

func (f *Frame) Resize(width, height string) error {
	if width != "" {
		f.el.SetAttribute("width", width)
	}
	if height != "" {
		f.el.SetAttribute("height", height)
	}
	return nil
}

// Remove disconnects the page and takes the iframe out of the document.
func (f *Frame) Remove() error {
	f.host.mu.Lock()
	delete(f.host.frames, f.id)
	f.host.mu.Unlock()
	f.disconnect()
	if f.placeholder != nil {
		f.placeholder.Remove()
	}
	f.el.Remove()
	return nil
}

func (f *Frame) load() {
	f.loadOnce.Do(func() {
		if f.placeholder != nil {
			f.placeholder.Remove()
		}
		if f.onLoad != nil {
			f.onLoad()
		}
	})
}

func (f *Frame) attach(p *peer) {
	f.mu.Lock()
	prev := f.peer
	f.peer = p
	f.mu.Unlock()
	if prev != nil {
		prev.close()
	}
}

func (f *Frame) detach(p *peer) {
	f.mu.Lock()
	if f.peer == p {
		f.peer = nil
	}
	f.mu.Unlock()
}

func (f *Frame) disconnect() {
	f.mu.Lock()
	p := f.peer
	f.peer = nil
	f.mu.Unlock()
	if p != nil {
		p.close()
	}
}

// peer is one page connection.
type peer struct {
	conn *gws.Conn
	out  chan []byte
	done chan struct{}
	once sync.Once
}

func newPeer(conn *gws.Conn, buffer int) *peer {
	return &peer{
		conn: conn,
		out:  make(chan []byte, buffer),
		done: make(chan struct{}),
	}
}

func (p *peer) close() {
	p.once.Do(func() {
		close(p.done)
		_ = p.conn.Close()
	})
}
