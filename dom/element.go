package dom

import (
	"strings"

	"github.com/trickstertwo/xembed"
)

// Element is a node of a Document.
type Element struct {
	doc      *Document
	tag      string
	id       string
	attrs    map[string]string
	parent   *Element
	children []*Element
}

var _ xembed.Element = (*Element)(nil)

func (e *Element) ElementID() string { return e.id }
func (e *Element) Tag() string       { return e.tag }

// Contains reports whether other is e or one of its descendants.
func (e *Element) Contains(other xembed.Element) bool {
	o, ok := other.(*Element)
	if !ok || o == nil {
		return false
	}
	e.doc.mu.RLock()
	defer e.doc.mu.RUnlock()
	for n := o; n != nil; n = n.parent {
		if n == e {
			return true
		}
	}
	return false
}

// AppendChild moves child under e.
func (e *Element) AppendChild(child *Element) {
	e.doc.mu.Lock()
	defer e.doc.mu.Unlock()
	child.detach()
	child.parent = e
	e.children = append(e.children, child)
}

// InsertBefore inserts child before ref, or appends when ref is not a child
// of e.
func (e *Element) InsertBefore(child, ref *Element) {
	e.doc.mu.Lock()
	defer e.doc.mu.Unlock()
	child.detach()
	child.parent = e
	for i, c := range e.children {
		if c == ref {
			e.children = append(e.children[:i], append([]*Element{child}, e.children[i:]...)...)
			return
		}
	}
	e.children = append(e.children, child)
}

// Remove detaches e from its parent. Observers hear about it when e was
// attached to the body.
func (e *Element) Remove() {
	e.doc.mu.Lock()
	attached := e.attachedLocked()
	removed := e.detach()
	e.doc.mu.Unlock()

	if removed && attached {
		e.doc.notifyRemoved([]xembed.Element{e})
	}
}

// Attached reports whether e hangs below the body.
func (e *Element) Attached() bool {
	e.doc.mu.RLock()
	defer e.doc.mu.RUnlock()
	return e.attachedLocked()
}

func (e *Element) attachedLocked() bool {
	for n := e; n != nil; n = n.parent {
		if n == e.doc.body {
			return true
		}
	}
	return false
}

func (e *Element) detach() bool {
	p := e.parent
	if p == nil {
		return false
	}
	for i, c := range p.children {
		if c == e {
			p.children = append(p.children[:i], p.children[i+1:]...)
			break
		}
	}
	e.parent = nil
	return true
}

func (e *Element) Parent() *Element {
	e.doc.mu.RLock()
	defer e.doc.mu.RUnlock()
	return e.parent
}

func (e *Element) Children() []*Element {
	e.doc.mu.RLock()
	defer e.doc.mu.RUnlock()
	out := make([]*Element, len(e.children))
	copy(out, e.children)
	return out
}

func (e *Element) SetAttribute(name, value string) {
	e.doc.mu.Lock()
	e.attrs[name] = value
	e.doc.mu.Unlock()
}

func (e *Element) Attribute(name string) string {
	e.doc.mu.RLock()
	defer e.doc.mu.RUnlock()
	return e.attrs[name]
}

func (e *Element) hasClass(class string) bool {
	for _, c := range strings.Fields(e.attrs["class"]) {
		if c == class {
			return true
		}
	}
	return false
}

// find walks the subtree depth first. Callers hold the tree lock.
func (e *Element) find(match func(*Element) bool) *Element {
	if match(e) {
		return e
	}
	for _, c := range e.children {
		if found := c.find(match); found != nil {
			return found
		}
	}
	return nil
}
