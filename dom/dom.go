// Package dom is a small in-memory document: an element tree with a body,
// selector lookup and removal observers. Hosts that have no browser use it
// to give frames a place to live.
package dom

import (
	"sort"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/trickstertwo/xembed"
)

// Document owns a tree of elements. One lock guards the whole tree.
type Document struct {
	mu   sync.RWMutex
	body *Element

	obsMu     sync.RWMutex
	observers map[uint64]func([]xembed.Element)
	seq       atomic.Uint64
}

// New returns a document with an empty body.
func New() *Document {
	d := NewWithoutBody()
	d.body = &Element{doc: d, tag: "body", attrs: map[string]string{}}
	return d
}

// NewWithoutBody returns a document whose body is not available yet.
func NewWithoutBody() *Document {
	return &Document{observers: make(map[uint64]func([]xembed.Element))}
}

// Body returns the body element, nil when there is none.
func (d *Document) Body() xembed.Element {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.body == nil {
		return nil
	}
	return d.body
}

// BodyElement is Body with the concrete type.
func (d *Document) BodyElement() *Element {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.body
}

// CreateElement returns a detached element.
func (d *Document) CreateElement(tag, id string) *Element {
	return &Element{doc: d, tag: strings.ToLower(tag), id: id, attrs: map[string]string{}}
}

// QuerySelector supports "#id", ".class", "body" and bare tag names. The
// first match in document order wins.
func (d *Document) QuerySelector(selector string) xembed.Element {
	if el := d.Find(selector); el != nil {
		return el
	}
	return nil
}

// Find is QuerySelector with the concrete type.
func (d *Document) Find(selector string) *Element {
	selector = strings.TrimSpace(selector)
	if selector == "" {
		return nil
	}
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.body == nil {
		return nil
	}

	var match func(*Element) bool
	switch {
	case strings.HasPrefix(selector, "#"):
		id := selector[1:]
		match = func(e *Element) bool { return e.id == id }
	case strings.HasPrefix(selector, "."):
		class := selector[1:]
		match = func(e *Element) bool { return e.hasClass(class) }
	default:
		tag := strings.ToLower(selector)
		match = func(e *Element) bool { return e.tag == tag }
	}
	return d.body.find(match)
}

// ObserveRemovals calls fn with the nodes removed from the body subtree.
// Callbacks run after the tree lock is released.
func (d *Document) ObserveRemovals(fn func(removed []xembed.Element)) xembed.Subscription {
	id := d.seq.Add(1)
	d.obsMu.Lock()
	d.observers[id] = fn
	d.obsMu.Unlock()
	return &observer{doc: d, id: id}
}

func (d *Document) notifyRemoved(removed []xembed.Element) {
	d.obsMu.RLock()
	ids := make([]uint64, 0, len(d.observers))
	for id := range d.observers {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	fns := make([]func([]xembed.Element), 0, len(ids))
	for _, id := range ids {
		fns = append(fns, d.observers[id])
	}
	d.obsMu.RUnlock()

	for _, fn := range fns {
		fn(removed)
	}
}

// ObserverCount reports the live removal observers.
func (d *Document) ObserverCount() int {
	d.obsMu.RLock()
	defer d.obsMu.RUnlock()
	return len(d.observers)
}

type observer struct {
	doc  *Document
	id   uint64
	once sync.Once
}

func (o *observer) Close() error {
	o.once.Do(func() {
		o.doc.obsMu.Lock()
		delete(o.doc.observers, o.id)
		o.doc.obsMu.Unlock()
	})
	return nil
}
