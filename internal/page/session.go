// Package page wires the element interceptor and the change watcher onto
// one document for the lifetime of a page visit.
package page

import (
	"context"
	"log"
	"sync"
	"time"

	"tilewhite/internal/blobstore"
	"tilewhite/internal/dom"
	"tilewhite/internal/element"
	"tilewhite/internal/watch"
)

// Options configures Attach. Zero values fall back to the element and
// watch defaults.
type Options struct {
	Fetcher   element.Fetcher
	Blobs     *blobstore.Store
	Logger    *log.Logger
	ScanDelay time.Duration
	// Context bounds the tile fetches of the session.
	Context context.Context
}

// Session is one document with interception installed.
type Session struct {
	Doc         *dom.Document
	Interceptor *element.Interceptor
	Watcher     *watch.Watcher

	closeOnce sync.Once
	created   time.Time
}

// Attach installs interception on doc and starts watching it.
func Attach(doc *dom.Document, opts Options) *Session {
	var eo []element.Option
	if opts.Fetcher != nil {
		eo = append(eo, element.WithFetcher(opts.Fetcher))
	}
	if opts.Blobs != nil {
		eo = append(eo, element.WithBlobStore(opts.Blobs))
	}
	if opts.Logger != nil {
		eo = append(eo, element.WithLogger(opts.Logger))
	}
	if opts.Context != nil {
		eo = append(eo, element.WithContext(opts.Context))
	}
	ic := element.New(doc, eo...)
	w := watch.New(doc, ic, ic)
	ic.SetTracker(w)
	ic.Install()
	w.Start(opts.ScanDelay)
	return &Session{Doc: doc, Interceptor: ic, Watcher: w, created: time.Now()}
}

// Created is when the session was attached.
func (s *Session) Created() time.Time { return s.created }

// Settle scans the whole document now and waits for every outstanding
// rewrite cycle, or for ctx to end.
func (s *Session) Settle(ctx context.Context) error {
	s.Watcher.ScanAll()
	return s.Interceptor.WaitContext(ctx)
}

// Close is navigation away: the body is emptied so removal cleanup
// releases every handle, then interception is removed.
func (s *Session) Close() {
	s.closeOnce.Do(func() {
		if body := s.Doc.Body(); body != nil {
			_ = s.Doc.ReplaceChildren(body)
		}
		s.Watcher.Stop()
		s.Interceptor.Uninstall()
	})
}
