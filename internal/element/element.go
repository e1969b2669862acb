// Package element redirects image source assignments of tile URLs through
// the pixel rewriter.
//
// Interceptor is installed on a dom.Document as its SrcSetter. A tile
// assignment shows Placeholder immediately and is replaced by a generated
// resource URL once the rewritten bytes are ready. Per element state
// lives in a side table keyed by node identity.
package element

import (
	"context"
	"fmt"
	"log"
	"sync"

	"golang.org/x/net/html"

	"tilewhite/internal/blobstore"
	"tilewhite/internal/dom"
	"tilewhite/internal/pixel"
	"tilewhite/internal/tile"
)

// Placeholder is a 1x1 fully transparent GIF shown while a tile is processed.
const Placeholder = "data:image/gif;base64,R0lGODlhAQABAIABAP///wAAACH5BAEKAAEALAAAAAABAAEAAAICTAEAOw=="

// Marker is the processing state of one element.
type Marker int

const (
	MarkerNone Marker = iota
	MarkerInProgress
	MarkerProcessed
)

func (m Marker) String() string {
	switch m {
	case MarkerInProgress:
		return "in-progress"
	case MarkerProcessed:
		return "processed"
	default:
		return "none"
	}
}

// Fetcher returns the raw bytes behind an absolute URL.
type Fetcher interface {
	Fetch(ctx context.Context, url string) ([]byte, error)
}

// FetcherFunc adapts a function to Fetcher.
type FetcherFunc func(ctx context.Context, url string) ([]byte, error)

func (f FetcherFunc) Fetch(ctx context.Context, url string) ([]byte, error) { return f(ctx, url) }

// Tracker is told about every element that received a generated handle,
// so the handle can be released when the element leaves the document.
type Tracker interface {
	Track(el *html.Node)
}

type state struct {
	processing bool
	processed  bool
	handle     string
}

// Interceptor implements dom.SrcSetter.
type Interceptor struct {
	doc     *dom.Document
	fetcher Fetcher
	rewrite func([]byte) (*pixel.Result, error)
	blobs   *blobstore.Store
	logger  *log.Logger
	ctx     context.Context

	mu      sync.Mutex
	table   map[*html.Node]*state
	tracker Tracker
	wg      sync.WaitGroup
}

// Option configures an Interceptor.
type Option func(*Interceptor)

func WithFetcher(f Fetcher) Option { return func(ic *Interceptor) { ic.fetcher = f } }

// WithRewriter replaces pixel.Rewrite.
func WithRewriter(fn func([]byte) (*pixel.Result, error)) Option {
	return func(ic *Interceptor) { ic.rewrite = fn }
}

func WithBlobStore(s *blobstore.Store) Option { return func(ic *Interceptor) { ic.blobs = s } }
func WithLogger(l *log.Logger) Option { return func(ic *Interceptor) { ic.logger = l } }
func WithTracker(t Tracker) Option { return func(ic *Interceptor) { ic.tracker = t } }

// WithContext bounds the fetches started by the interceptor.
func WithContext(ctx context.Context) Option { return func(ic *Interceptor) { ic.ctx = ctx } }

// New builds an Interceptor for doc. It is not active until Install.
func New(doc *dom.Document, opts ...Option) *Interceptor {
	ic := &Interceptor{
		doc:     doc,
		rewrite: pixel.Rewrite,
		table:   make(map[*html.Node]*state),
	}
	for _, o := range opts {
		o(ic)
	}
	if ic.fetcher == nil {
		ic.fetcher = NewHTTPFetcher(nil)
	}
	if ic.blobs == nil {
		ic.blobs = blobstore.New()
	}
	if ic.logger == nil {
		ic.logger = log.Default()
	}
	if ic.ctx == nil {
		ic.ctx = context.Background()
	}
	return ic
}

// Install routes the document's source assignments through ic.
func (ic *Interceptor) Install() { ic.doc.Install(ic) }

// Uninstall restores direct assignment.
func (ic *Interceptor) Uninstall() { ic.doc.Install(nil) }

// SetTracker sets the handle tracker after construction.
func (ic *Interceptor) SetTracker(t Tracker) {
	ic.mu.Lock()
	ic.tracker = t
	ic.mu.Unlock()
}

// Blobs exposes the store generated handles live in.
func (ic *Interceptor) Blobs() *blobstore.Store { return ic.blobs }

// SetSrc implements dom.SrcSetter.
func (ic *Interceptor) SetSrc(el *html.Node, value string) {
	owned := false
	defer func() {
		if r := recover(); r != nil {
			ic.logger.Printf("TILE intercept failed for %q: %v", value, r)
			if owned {
				ic.mu.Lock()
				if st := ic.entry(el); st.handle == "" {
					delete(ic.table, el)
				} else {
					st.processing = false
				}
				ic.mu.Unlock()
			}
			ic.doc.StoreSrc(el, value)
		}
	}()
	if el == nil || !tile.IsTileURL(value) {
		ic.doc.StoreSrc(el, value)
		return
	}
	if !ic.begin(el) {
		// a cycle is already running for el; this write is not rewritten
		ic.doc.StoreSrc(el, value)
		return
	}
	owned = true
	ic.doc.StoreSrc(el, Placeholder)
	ic.wg.Add(1)
	go ic.cycle(el, value)
	owned = false
}

func (ic *Interceptor) begin(el *html.Node) bool {
	ic.mu.Lock()
	defer ic.mu.Unlock()
	st := ic.entry(el)
	if st.processing {
		return false
	}
	st.processing = true
	return true
}

// entry must be called with ic.mu held.
func (ic *Interceptor) entry(el *html.Node) *state {
	st, ok := ic.table[el]
	if !ok {
		st = &state{}
		ic.table[el] = st
	}
	return st
}

func (ic *Interceptor) cycle(el *html.Node, original string) {
	defer ic.wg.Done()
	res, err := ic.process(original)

	ic.mu.Lock()
	st := ic.entry(el)
	if err == nil {
		h := ic.blobs.Create(res.Data, pixel.ContentType)
		prev := st.handle
		st.processed = true
		st.handle = h.URL
		ic.doc.StoreSrc(el, h.URL)
		if prev != "" {
			ic.blobs.Revoke(prev)
		}
	} else {
		ic.logger.Printf("TILE rewrite failed for %s: %v", original, err)
		ic.restore(el, original)
	}
	// cleared after the final assignment so a reentrant write sees a settled element
	st.processing = false
	if err != nil && st.handle == "" {
		delete(ic.table, el)
	}
	tracker := ic.tracker
	ic.mu.Unlock()

	if err == nil && tracker != nil {
		tracker.Track(el)
	}
}

func (ic *Interceptor) process(original string) (res *pixel.Result, err error) {
	defer func() {
		if r := recover(); r != nil {
			res, err = nil, fmt.Errorf("element: rewrite panic: %v", r)
		}
	}()
	data, err := ic.fetcher.Fetch(ic.ctx, ic.doc.ResolveURL(original))
	if err != nil {
		return nil, err
	}
	return ic.rewrite(data)
}

func (ic *Interceptor) restore(el *html.Node, original string) {
	defer func() { _ = recover() }()
	ic.doc.StoreSrc(el, original)
}

// Scan re-assigns el's tile src attribute to itself so that images that
// were present before installation, or inserted by scripts, get rewritten.
func (ic *Interceptor) Scan(el *html.Node) {
	defer func() { _ = recover() }()
	src := ic.doc.Src(el)
	if src == "" || !tile.IsTileURL(src) {
		return
	}
	if ic.processed(el) {
		return
	}
	ic.doc.SetSrc(el, src)
}

func (ic *Interceptor) processed(el *html.Node) bool {
	ic.mu.Lock()
	defer ic.mu.Unlock()
	st, ok := ic.table[el]
	return ok && st.processed
}

// Marker reports the state of el.
func (ic *Interceptor) Marker(el *html.Node) Marker {
	ic.mu.Lock()
	defer ic.mu.Unlock()
	st, ok := ic.table[el]
	switch {
	case !ok:
		return MarkerNone
	case st.processing:
		return MarkerInProgress
	case st.processed:
		return MarkerProcessed
	default:
		return MarkerNone
	}
}

// Handle returns the generated resource URL el currently owns.
func (ic *Interceptor) Handle(el *html.Node) string {
	ic.mu.Lock()
	defer ic.mu.Unlock()
	if st, ok := ic.table[el]; ok {
		return st.handle
	}
	return ""
}

// Release revokes the handle owned by el. Only the first call for a given
// handle releases anything.
func (ic *Interceptor) Release(el *html.Node) bool {
	ic.mu.Lock()
	st, ok := ic.table[el]
	if !ok || st.handle == "" {
		ic.mu.Unlock()
		return false
	}
	h := st.handle
	st.handle = ""
	if !st.processing {
		delete(ic.table, el)
	}
	ic.mu.Unlock()
	return ic.blobs.Revoke(h)
}

// Wait blocks until every started cycle has finished.
func (ic *Interceptor) Wait() { ic.wg.Wait() }

// WaitContext is Wait bounded by ctx.
func (ic *Interceptor) WaitContext(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		ic.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
