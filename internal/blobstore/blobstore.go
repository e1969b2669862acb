// Package blobstore keeps generated tile bytes behind revocable URLs.
package blobstore

import (
	"strings"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"

	"tilewhite/internal/tile"
)

const defaultOrigin = "tilewhite"

// Blob is one generated resource.
type Blob struct {
	Data        []byte
	ContentType string
}

// Handle is the URL through which a blob is reachable until revoked.
type Handle struct {
	URL string
	ID  string
}

// Store owns generated blobs. It is safe for concurrent use.
type Store struct {
	mu      sync.RWMutex
	origin  string
	prefix  string
	blobs   map[string]Blob
	created atomic.Int64
	revoked atomic.Int64
}

// Option configures a Store.
type Option func(*Store)

// WithOrigin sets the origin used in blob: URLs.
func WithOrigin(origin string) Option {
	return func(s *Store) {
		if o := strings.TrimRight(strings.TrimSpace(origin), "/"); o != "" {
			s.origin = o
		}
	}
}

// WithPathPrefix makes the store hand out plain path URLs such as
// "/_blob/<id>?bm_processed=1" instead of blob: URLs, so that a remote
// client can fetch them over HTTP.
func WithPathPrefix(prefix string) Option {
	return func(s *Store) { s.prefix = strings.TrimSpace(prefix) }
}

func New(opts ...Option) *Store {
	s := &Store{origin: defaultOrigin, blobs: make(map[string]Blob)}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Create stores a copy of data and returns its handle.
func (s *Store) Create(data []byte, contentType string) Handle {
	id := uuid.NewString()
	b := Blob{Data: append([]byte(nil), data...), ContentType: contentType}
	s.mu.Lock()
	s.blobs[id] = b
	s.mu.Unlock()
	s.created.Add(1)
	return Handle{URL: s.urlFor(id), ID: id}
}

func (s *Store) urlFor(id string) string {
	if s.prefix == "" {
		return "blob:" + s.origin + "/" + id
	}
	return tile.MarkProcessed(s.prefix + id)
}

// Get returns the blob addressed by u, which may be a full handle URL or
// a bare id.
func (s *Store) Get(u string) (Blob, bool) {
	id := s.idOf(u)
	s.mu.RLock()
	b, ok := s.blobs[id]
	s.mu.RUnlock()
	return b, ok
}

// Revoke drops the blob addressed by u. It reports whether something was
// actually released; revoking twice or revoking an unknown URL is a no-op.
func (s *Store) Revoke(u string) bool {
	id := s.idOf(u)
	if id == "" {
		return false
	}
	s.mu.Lock()
	_, ok := s.blobs[id]
	delete(s.blobs, id)
	s.mu.Unlock()
	if ok {
		s.revoked.Add(1)
	}
	return ok
}

// Len is the number of live blobs.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.blobs)
}

// Created and Revoked are lifetime counters.
func (s *Store) Created() int64 { return s.created.Load() }
func (s *Store) Revoked() int64 { return s.revoked.Load() }

func (s *Store) idOf(u string) string {
	u = strings.TrimSpace(u)
	if i := strings.IndexAny(u, "?#"); i != -1 {
		u = u[:i]
	}
	if i := strings.LastIndexByte(u, '/'); i != -1 {
		u = u[i+1:]
	}
	return u
}
