package blobstore

import (
	"strings"
	"sync"
	"testing"

	"tilewhite/internal/tile"
)

func TestCreateGetRevoke(t *testing.T) {
	t.Parallel()
	s := New(WithOrigin("https://wplace.live/"))
	data := []byte{1, 2, 3}
	h := s.Create(data, "image/png")
	data[0] = 9
	if !strings.HasPrefix(h.URL, "blob:https://wplace.live/") {
		t.Fatalf("unexpected handle url %q", h.URL)
	}
	if tile.IsTileURL(h.URL) {
		t.Fatalf("handle url %q must not classify as tile", h.URL)
	}
	b, ok := s.Get(h.URL)
	if !ok || b.ContentType != "image/png" || b.Data[0] != 1 {
		t.Fatalf("Get = %+v, %v", b, ok)
	}
	if !s.Revoke(h.URL) {
		t.Fatal("first revoke should release")
	}
	if s.Revoke(h.URL) {
		t.Fatal("second revoke must be a no-op")
	}
	if s.Revoke("blob:https://wplace.live/unknown") {
		t.Fatal("unknown revoke must be a no-op")
	}
	if s.Revoke("") {
		t.Fatal("empty revoke must be a no-op")
	}
	if _, ok := s.Get(h.URL); ok {
		t.Fatal("revoked blob still reachable")
	}
	if s.Revoked() != 1 || s.Created() != 1 || s.Len() != 0 {
		t.Fatalf("counters created=%d revoked=%d len=%d", s.Created(), s.Revoked(), s.Len())
	}
}

func TestPathPrefixURLs(t *testing.T) {
	t.Parallel()
	s := New(WithPathPrefix("/_blob/"))
	h := s.Create([]byte("x"), "image/png")
	if !strings.HasPrefix(h.URL, "/_blob/"+h.ID) || !strings.Contains(h.URL, tile.ProcessedMarker) {
		t.Fatalf("unexpected url %q", h.URL)
	}
	if _, ok := s.Get(h.ID); !ok {
		t.Fatal("lookup by bare id failed")
	}
	if _, ok := s.Get("/_blob/" + h.ID); !ok {
		t.Fatal("lookup by path failed")
	}
}

func TestConcurrentRevokeReleasesOnce(t *testing.T) {
	t.Parallel()
	s := New()
	h := s.Create([]byte("x"), "image/png")
	var wg sync.WaitGroup
	var mu sync.Mutex
	released := 0
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if s.Revoke(h.URL) {
				mu.Lock()
				released++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	if released != 1 || s.Revoked() != 1 {
		t.Fatalf("released=%d revoked=%d, want 1", released, s.Revoked())
	}
}
