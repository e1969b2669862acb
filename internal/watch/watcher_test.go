package watch

import (
	"strings"
	"sync"
	"testing"
	"time"

	"golang.org/x/net/html"

	"tilewhite/internal/dom"
)

type recorder struct {
	mu       sync.Mutex
	scanned  []*html.Node
	released map[*html.Node]int
}

func newRecorder() *recorder { return &recorder{released: make(map[*html.Node]int)} }

func (r *recorder) Scan(el *html.Node) {
	r.mu.Lock()
	r.scanned = append(r.scanned, el)
	r.mu.Unlock()
}

func (r *recorder) Release(el *html.Node) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.released[el]++
	return r.released[el] == 1
}

func (r *recorder) scans() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.scanned)
}

func (r *recorder) releases(el *html.Node) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.released[el]
}

func parse(t *testing.T, markup string) *dom.Document {
	t.Helper()
	doc, err := dom.Parse(strings.NewReader(markup), "https://wplace.live/")
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	return doc
}

func TestInsertedImagesAreScanned(t *testing.T) {
	t.Parallel()
	doc := parse(t, `<html><body></body></html>`)
	rec := newRecorder()
	w := New(doc, rec, rec)
	w.Start(time.Hour)
	defer w.Stop()

	div := doc.CreateElement("div")
	for i := 0; i < 2; i++ {
		img := doc.CreateElement("img")
		if err := doc.AppendChild(div, img); err != nil {
			t.Fatalf("append to detached div: %v", err)
		}
	}
	if rec.scans() != 0 {
		t.Fatalf("detached mutation scanned %d images", rec.scans())
	}
	if err := doc.AppendChild(doc.Body(), div); err != nil {
		t.Fatalf("append: %v", err)
	}
	if rec.scans() != 2 {
		t.Fatalf("expected 2 scans, got %d", rec.scans())
	}
	if err := doc.AppendChild(doc.Body(), doc.CreateElement("span")); err != nil {
		t.Fatalf("append: %v", err)
	}
	if rec.scans() != 2 {
		t.Fatalf("non-image insert scanned, got %d", rec.scans())
	}
}

func TestRemovedElementReleasedOnce(t *testing.T) {
	t.Parallel()
	doc := parse(t, `<html><body><div><img src="/1.png"></div></body></html>`)
	rec := newRecorder()
	w := New(doc, rec, rec)
	w.Start(time.Hour)
	defer w.Stop()

	img := doc.Images(doc.Root())[0]
	w.Track(img)
	if w.Tracked() != 1 {
		t.Fatalf("tracked = %d", w.Tracked())
	}
	div := img.Parent
	doc.Remove(div)
	doc.Remove(doc.CreateElement("p"))
	if err := doc.AppendChild(doc.Body(), doc.CreateElement("p")); err != nil {
		t.Fatalf("append: %v", err)
	}
	doc.Remove(doc.Body().LastChild)

	if got := rec.releases(img); got != 1 {
		t.Fatalf("released %d times, want 1", got)
	}
	if w.Tracked() != 0 {
		t.Fatalf("tracked = %d after removal", w.Tracked())
	}
}

func TestTrackDetachedReleasesImmediately(t *testing.T) {
	t.Parallel()
	doc := parse(t, `<html><body></body></html>`)
	rec := newRecorder()
	w := New(doc, rec, rec)
	img := doc.CreateElement("img")
	w.Track(img)
	if rec.releases(img) != 1 || w.Tracked() != 0 {
		t.Fatalf("detached element: releases=%d tracked=%d", rec.releases(img), w.Tracked())
	}
}

func TestMovedElementStaysTracked(t *testing.T) {
	t.Parallel()
	doc := parse(t, `<html><body><div id="a"><img></div><div id="b"></div></body></html>`)
	rec := newRecorder()
	w := New(doc, rec, rec)
	w.Start(time.Hour)
	defer w.Stop()

	img := doc.Images(doc.Root())[0]
	w.Track(img)
	divs, err := doc.QueryAll(nil, "#b")
	if err != nil || len(divs) != 1 {
		t.Fatalf("query: %v %d", err, len(divs))
	}
	if err := doc.AppendChild(divs[0], img); err != nil {
		t.Fatalf("move: %v", err)
	}
	if rec.releases(img) != 0 || w.Tracked() != 1 {
		t.Fatalf("moved element released: %d", rec.releases(img))
	}
}

func TestInitialScanAfterDelay(t *testing.T) {
	t.Parallel()
	doc := parse(t, `<html><body><img src="/1.png"><p><img src="/2.png"></p></body></html>`)
	rec := newRecorder()
	w := New(doc, rec, rec)
	w.Start(5 * time.Millisecond)
	defer w.Stop()

	deadline := time.Now().Add(2 * time.Second)
	for rec.scans() < 2 {
		if time.Now().After(deadline) {
			t.Fatalf("initial scan saw %d images", rec.scans())
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestStopDetaches(t *testing.T) {
	t.Parallel()
	doc := parse(t, `<html><body></body></html>`)
	rec := newRecorder()
	w := New(doc, rec, rec)
	w.Start(time.Hour)
	w.Stop()
	if err := doc.AppendChild(doc.Body(), doc.CreateElement("img")); err != nil {
		t.Fatalf("append: %v", err)
	}
	if rec.scans() != 0 {
		t.Fatalf("stopped watcher scanned %d", rec.scans())
	}
}
