package xembed

import (
	"sync"
)

// callState is the lifecycle of one outbound Send.
type callState int32

const (
	callPending callState = iota
	// callAcknowledged ends an ACKNOWLEDGE send; nothing is awaited.
	callAcknowledged
	callResolved
	callTimedOut
	callCanceled
)

func (s callState) String() string {
	switch s {
	case callPending:
		return "pending"
	case callAcknowledged:
		return "acknowledged"
	case callResolved:
		return "resolved"
	case callTimedOut:
		return "timed-out"
	case callCanceled:
		return "canceled"
	default:
		return "unknown"
	}
}

// call correlates one outbound message with its reply. Exactly one
// transition leaves pending; the reply listener is released on it.
type call struct {
	eventName MessageEventName
	eventID   string

	mu      sync.Mutex
	state   callState
	resp    Response
	err     error
	release func()
	done    chan struct{}
}

func newCall(name MessageEventName, eventID string) *call {
	return &call{
		eventName: name,
		eventID:   eventID,
		done:      make(chan struct{}),
	}
}

// transition moves a pending call to a terminal state. It reports false if
// the call already left pending, so a late reply and an expiring timer
// cannot both win.
func (c *call) transition(to callState, resp Response, err error) bool {
	c.mu.Lock()
	if c.state != callPending || to == callPending {
		c.mu.Unlock()
		return false
	}
	c.state = to
	c.resp = resp
	c.err = err
	release := c.release
	c.release = nil
	c.mu.Unlock()

	close(c.done)
	if release != nil {
		release()
	}
	return true
}

// onRelease registers the cleanup run on the terminal transition, running
// it at once if the call already settled.
func (c *call) onRelease(fn func()) {
	c.mu.Lock()
	if c.state == callPending {
		c.release = fn
		c.mu.Unlock()
		return
	}
	c.mu.Unlock()
	fn()
}

func (c *call) State() callState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

func (c *call) result() (Response, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.resp, c.err
}
