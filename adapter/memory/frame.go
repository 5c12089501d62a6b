package memory

import (
	"context"
	"sync"

	"github.com/trickstertwo/xembed"
	"github.com/trickstertwo/xembed/dom"
)

// Frame is a frame of the memory host. Tests drive the embedded side through
// it: Posted shows what the core sent, Emit answers to the host window.
type Frame struct {
	host        *Host
	id          string
	src         string
	origin      string
	el          *dom.Element
	placeholder *dom.Element
	onLoad      func()
	loadOnce    sync.Once

	mu     sync.Mutex
	posted [][]byte
}

var _ xembed.FrameHandle = (*Frame)(nil)

func (f *Frame) ID() string               { return f.id }
func (f *Frame) Src() string              { return f.src }
func (f *Frame) Origin() string           { return f.origin }
func (f *Frame) Element() xembed.Element  { return f.el }
func (f *Frame) DOMElement() *dom.Element { return f.el }

// PostMessage queues payload for the frame's page. Like a browser it refuses
// to deliver to a page of another origin.
func (f *Frame) PostMessage(ctx context.Context, payload []byte, targetOrigin string) error {
	if targetOrigin != "*" && targetOrigin != f.origin {
		f.host.metrics.rejected.Add(1)
		return ErrOriginMismatch
	}
	if !f.el.Attached() {
		return ErrFrameNotMounted
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	p := append([]byte(nil), payload...)
	f.mu.Lock()
	f.posted = append(f.posted, p)
	f.mu.Unlock()
	f.host.metrics.posted.Add(1)

	return f.host.enqueue(func() {
		f.host.mu.RLock()
		surface := f.host.surface
		f.host.mu.RUnlock()
		if surface != nil {
			surface(f, p)
		}
	})
}

// Emit posts payload from the frame's page to the host window.
func (f *Frame) Emit(payload []byte) error {
	return f.host.Post(f.origin, payload)
}

// Posted returns a copy of every payload posted to the frame.
func (f *Frame) Posted() [][]byte {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([][]byte, len(f.posted))
	copy(out, f.posted)
	return out
}

// Load fires the load event once and swaps out the placeholder.
func (f *Frame) Load() {
	f.loadOnce.Do(func() {
		if f.placeholder != nil {
			f.placeholder.Remove()
		}
		if f.onLoad != nil {
			f.onLoad()
		}
	})
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

// Remove takes the iframe out of the document.
func (f *Frame) Remove() error {
	f.host.mu.Lock()
	delete(f.host.frames, f.id)
	f.host.mu.Unlock()
	if f.placeholder != nil {
		f.placeholder.Remove()
	}
	f.el.Remove()
	return nil
}
