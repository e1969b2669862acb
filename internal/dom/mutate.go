package dom

import "golang.org/x/net/html"

// Op is the kind of childList mutation.
type Op string

const (
	OpInsert Op = "insert"
	OpRemove Op = "remove"
)

// Record describes one childList mutation of Target.
type Record struct {
	Op     Op
	Target *html.Node
	Nodes  []*html.Node
}

// Observe registers fn for every batch of mutation records. Callbacks run
// on the goroutine that performed the mutation, after the document lock
// is released, so they may call back into the document.
func (d *Document) Observe(fn func([]Record)) (stop func()) {
	d.obsMu.Lock()
	id := d.nextObs
	d.nextObs++
	d.observers[id] = fn
	d.obsMu.Unlock()
	return func() {
		d.obsMu.Lock()
		delete(d.observers, id)
		d.obsMu.Unlock()
	}
}

func (d *Document) notify(recs []Record) {
	if len(recs) == 0 {
		return
	}
	d.obsMu.Lock()
	fns := make([]func([]Record), 0, len(d.observers))
	for _, fn := range d.observers {
		fns = append(fns, fn)
	}
	d.obsMu.Unlock()
	for _, fn := range fns {
		fn(recs)
	}
}

// AppendChild moves child under parent as its last child.
func (d *Document) AppendChild(parent, child *html.Node) error {
	return d.InsertBefore(parent, child, nil)
}

// InsertBefore moves child under parent before ref; a nil ref appends.
// A child that already has a parent is detached first, producing a
// remove record for the old parent.
func (d *Document) InsertBefore(parent, child, ref *html.Node) error {
	if parent == nil || child == nil {
		return ErrNilNode
	}
	d.mu.Lock()
	if ref != nil && ref.Parent != parent {
		d.mu.Unlock()
		return ErrNotChild
	}
	if isAncestor(child, parent) {
		d.mu.Unlock()
		return ErrCycle
	}
	var recs []Record
	if old := child.Parent; old != nil {
		if ref == child {
			ref = child.NextSibling
		}
		old.RemoveChild(child)
		recs = append(recs, Record{Op: OpRemove, Target: old, Nodes: []*html.Node{child}})
	}
	parent.InsertBefore(child, ref)
	recs = append(recs, Record{Op: OpInsert, Target: parent, Nodes: []*html.Node{child}})
	d.mu.Unlock()
	d.notify(recs)
	return nil
}

// RemoveChild detaches child from parent.
func (d *Document) RemoveChild(parent, child *html.Node) error {
	if parent == nil || child == nil {
		return ErrNilNode
	}
	d.mu.Lock()
	if child.Parent != parent {
		d.mu.Unlock()
		return ErrNotChild
	}
	parent.RemoveChild(child)
	d.mu.Unlock()
	d.notify([]Record{{Op: OpRemove, Target: parent, Nodes: []*html.Node{child}}})
	return nil
}

// Remove detaches n from whatever parent it has. Detached nodes are left alone.
func (d *Document) Remove(n *html.Node) {
	if n == nil {
		return
	}
	d.mu.Lock()
	parent := n.Parent
	if parent == nil {
		d.mu.Unlock()
		return
	}
	parent.RemoveChild(n)
	d.mu.Unlock()
	d.notify([]Record{{Op: OpRemove, Target: parent, Nodes: []*html.Node{n}}})
}

// ReplaceChildren removes every child of parent and appends nodes, in a
// single batch. Nodes taken from another parent produce a remove record
// for that parent.
func (d *Document) ReplaceChildren(parent *html.Node, nodes ...*html.Node) error {
	if parent == nil {
		return ErrNilNode
	}
	d.mu.Lock()
	for _, n := range nodes {
		if n != nil && isAncestor(n, parent) {
			d.mu.Unlock()
			return ErrCycle
		}
	}
	var removed []*html.Node
	for c := parent.FirstChild; c != nil; {
		next := c.NextSibling
		parent.RemoveChild(c)
		removed = append(removed, c)
		c = next
	}
	var recs []Record
	if len(removed) > 0 {
		recs = append(recs, Record{Op: OpRemove, Target: parent, Nodes: removed})
	}
	var added []*html.Node
	for _, n := range nodes {
		if n == nil {
			continue
		}
		if old := n.Parent; old != nil {
			old.RemoveChild(n)
			if old != parent {
				recs = append(recs, Record{Op: OpRemove, Target: old, Nodes: []*html.Node{n}})
			}
		}
		parent.AppendChild(n)
		added = append(added, n)
	}
	if len(added) > 0 {
		recs = append(recs, Record{Op: OpInsert, Target: parent, Nodes: added})
	}
	d.mu.Unlock()
	d.notify(recs)
	return nil
}

// isAncestor reports whether n is node or one of its ancestors.
func isAncestor(n, node *html.Node) bool {
	for p := node; p != nil; p = p.Parent {
		if p == n {
			return true
		}
	}
	return false
}
