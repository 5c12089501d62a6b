package redispubsub

import (
	"context"
	"sync"

	"github.com/trickstertwo/xembed"
	"github.com/trickstertwo/xembed/dom"
)

// Frame is a frame whose page listens on FrameChannel.
type Frame struct {
	host        *Host
	id          string
	src         string
	origin      string
	channel     string
	el          *dom.Element
	placeholder *dom.Element
	onLoad      func()
	loadOnce    sync.Once
}

var _ xembed.FrameHandle = (*Frame)(nil)

func (f *Frame) ID() string               { return f.id }
func (f *Frame) Src() string              { return f.src }
func (f *Frame) Origin() string           { return f.origin }
func (f *Frame) Channel() string          { return f.channel }
func (f *Frame) Element() xembed.Element  { return f.el }
func (f *Frame) DOMElement() *dom.Element { return f.el }

// PostMessage publishes payload to the frame channel. It fails when no page
// is subscribed.
func (f *Frame) PostMessage(ctx context.Context, payload []byte, targetOrigin string) error {
	if targetOrigin != "*" && targetOrigin != f.origin {
		f.host.metrics.rejected.Add(1)
		return ErrOriginMismatch
	}
	if !f.el.Attached() {
		return ErrFrameNotMounted
	}
	if f.host.closed.Load() {
		return ErrHostClosed
	}
	return f.host.publish(ctx, f.channel, payload)
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

// Remove takes the iframe out of the document. Later messages from its page
// are dropped.
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
