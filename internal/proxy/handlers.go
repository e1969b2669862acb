package proxy

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"tilewhite/internal/dom"
	"tilewhite/internal/element"
	"tilewhite/internal/page"
)

const (
	tileFetchTimeout = 8 * time.Second
	maxPageBytes     = 8 << 20
)

func (s *Server) handleIndex(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Header().Set("Content-Length", strconv.Itoa(len(s.cfg.IndexHTML)))
	w.Header().Set("Connection", "close")
	io.WriteString(w, s.cfg.IndexHTML)
}

func (s *Server) handlePing(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.Header().Set("Connection", "close")
	io.WriteString(w, "pong\n")
}

// handlePage loads an upstream HTML page, lets the page session rewrite
// its tile images and answers the resulting markup. Opening a page
// closes the previous page of the same client.
func (s *Server) handlePage(w http.ResponseWriter, r *http.Request) {
	_ = r.ParseForm()
	target, err := resolveTarget(s.upstream, firstNonEmpty(r.FormValue("url"), r.URL.Query().Get("url")))
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if !s.hostAllowed(target.Host) {
		http.Error(w, "host not allowed", http.StatusForbidden)
		return
	}
	key := s.clientKey(w, r)
	site := s.sites.Find(target.String())
	hdr := forwardHeaders(r)
	site.apply(hdr)
	client := s.clientFor(key)

	ctx, cancel := context.WithTimeout(r.Context(), s.cfg.PageTimeout)
	defer cancel()
	doc, err := s.loadDocument(ctx, client, target, hdr)
	if err != nil {
		s.logger.Printf("PAGE %s: %v", target, err)
		http.Error(w, err.Error(), http.StatusBadGateway)
		return
	}

	if site.Passthrough() {
		s.sessions.drop(key)
		s.logger.Printf("PAGE %s passthrough", target)
	} else {
		fetcher := element.NewHTTPFetcher(client)
		for k := range hdr {
			fetcher.WithHeader(k, hdr.Get(k))
		}
		sess := page.Attach(doc, page.Options{
			Fetcher:   fetcher,
			Blobs:     s.blobs,
			Logger:    s.logger,
			ScanDelay: s.cfg.ScanDelay,
		})
		if err := sess.Settle(ctx); err != nil {
			s.logger.Printf("PAGE %s settle: %v", target, err)
		}
		if _, prev, ok := s.sessions.get(key); ok {
			s.logger.Printf("PAGE leaving %s", prev)
		}
		s.sessions.put(key, target.String(), sess)
		s.logger.Printf("PAGE %s images=%d live_blobs=%d", target, len(doc.Images(doc.Root())), s.blobs.Len())
	}

	var buf bytes.Buffer
	if err := doc.Render(&buf); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Header().Set("Content-Length", strconv.Itoa(buf.Len()))
	w.Header().Set("Cache-Control", "no-store")
	_, _ = w.Write(buf.Bytes())
}

// handleBlob serves a generated tile until its owning element releases it.
func (s *Server) handleBlob(w http.ResponseWriter, r *http.Request) {
	id := strings.TrimPrefix(r.URL.Path, blobPrefix)
	b, ok := s.blobs.Get(id)
	if !ok {
		http.NotFound(w, r)
		return
	}
	if s.cfg.Debug {
		dumpTile(s.logger, "BLOB "+id, b.Data)
	}
	w.Header().Set("Content-Type", b.ContentType)
	w.Header().Set("Content-Length", strconv.Itoa(len(b.Data)))
	w.Header().Set("Cache-Control", "no-store")
	_, _ = w.Write(b.Data)
}

func (s *Server) clientFor(key string) *http.Client {
	return &http.Client{
		Transport: s.transport,
		Jar:       s.cookieJars.Get(key),
		Timeout:   tileFetchTimeout,
	}
}

func (s *Server) loadDocument(ctx context.Context, client *http.Client, target *url.URL, hdr http.Header) (*dom.Document, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target.String(), nil)
	if err != nil {
		return nil, err
	}
	copyHeader(req.Header, hdr)
	req.Header.Set("Accept", "text/html,application/xhtml+xml,*/*;q=0.8")
	resp, err := client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, fmt.Errorf("upstream status %d", resp.StatusCode)
	}
	base := target.String()
	if resp.Request != nil && resp.Request.URL != nil {
		base = resp.Request.URL.String()
	}
	return dom.Parse(io.LimitReader(resp.Body, maxPageBytes), base)
}
