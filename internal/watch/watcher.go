// Package watch follows document mutations: inserted images are handed to
// a Scanner, and tracked elements that leave the document are released.
package watch

import (
	"sync"
	"time"

	"golang.org/x/net/html"

	"tilewhite/internal/dom"
)

// DefaultDelay is the wait before the initial full-document scan.
const DefaultDelay = 50 * time.Millisecond

// Scanner re-examines an image element.
type Scanner interface {
	Scan(el *html.Node)
}

// Releaser frees whatever el owns. It reports whether anything was released.
type Releaser interface {
	Release(el *html.Node) bool
}

// Watcher is safe for concurrent use.
type Watcher struct {
	doc      *dom.Document
	scanner  Scanner
	releaser Releaser

	mu      sync.Mutex
	tracked map[*html.Node]struct{}
	stop    func()
	timer   *time.Timer
}

func New(doc *dom.Document, scanner Scanner, releaser Releaser) *Watcher {
	return &Watcher{
		doc:      doc,
		scanner:  scanner,
		releaser: releaser,
		tracked:  make(map[*html.Node]struct{}),
	}
}

// Start begins observing and schedules the one-time scan of images already
// in the document. A non-positive delay means DefaultDelay.
func (w *Watcher) Start(delay time.Duration) {
	if delay <= 0 {
		delay = DefaultDelay
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.stop != nil {
		return
	}
	w.stop = w.doc.Observe(w.onMutations)
	w.timer = time.AfterFunc(delay, w.ScanAll)
}

// Stop detaches the watcher. Tracked elements are kept.
func (w *Watcher) Stop() {
	w.mu.Lock()
	stop, timer := w.stop, w.timer
	w.stop, w.timer = nil, nil
	w.mu.Unlock()
	if timer != nil {
		timer.Stop()
	}
	if stop != nil {
		stop()
	}
}

// ScanAll hands every image in the document to the scanner.
func (w *Watcher) ScanAll() {
	if w.scanner == nil {
		return
	}
	for _, img := range w.doc.Images(w.doc.Root()) {
		w.scanner.Scan(img)
	}
}

// Track registers el as owning a releasable resource. An element that is
// already detached is released at once.
func (w *Watcher) Track(el *html.Node) {
	if el == nil {
		return
	}
	if !w.doc.Contains(el) {
		w.release(el)
		return
	}
	w.mu.Lock()
	w.tracked[el] = struct{}{}
	w.mu.Unlock()
	// el may have been detached between the check and the insert
	if !w.doc.Contains(el) {
		w.forget(el)
	}
}

// Tracked is the number of elements currently tracked.
func (w *Watcher) Tracked() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.tracked)
}

func (w *Watcher) onMutations(recs []dom.Record) {
	removed := false
	for _, r := range recs {
		switch r.Op {
		case dom.OpInsert:
			if w.scanner == nil {
				continue
			}
			for _, n := range r.Nodes {
				for _, img := range w.doc.Images(n) {
					w.scanner.Scan(img)
				}
			}
		case dom.OpRemove:
			removed = true
		}
	}
	if removed {
		w.sweep()
	}
}

// sweep releases every tracked element no longer in the document.
func (w *Watcher) sweep() {
	w.mu.Lock()
	candidates := make([]*html.Node, 0, len(w.tracked))
	for el := range w.tracked {
		candidates = append(candidates, el)
	}
	w.mu.Unlock()
	for _, el := range candidates {
		if !w.doc.Contains(el) {
			w.forget(el)
		}
	}
}

// forget drops el from the tracked set and releases it if it was still there.
func (w *Watcher) forget(el *html.Node) {
	w.mu.Lock()
	_, ok := w.tracked[el]
	delete(w.tracked, el)
	w.mu.Unlock()
	if ok {
		w.release(el)
	}
}

func (w *Watcher) release(el *html.Node) {
	if w.releaser != nil {
		w.releaser.Release(el)
	}
}
