package element

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestHTTPFetcher(t *testing.T) {
	t.Parallel()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Accept") != "image/*" || r.Header.Get("X-Test") != "1" {
			http.Error(w, "bad headers", http.StatusBadRequest)
			return
		}
		if r.URL.Path == "/missing/1.png" {
			http.NotFound(w, r)
			return
		}
		_, _ = w.Write([]byte("tile-bytes"))
	}))
	defer srv.Close()

	f := NewHTTPFetcher(srv.Client()).WithHeader("X-Test", "1")
	b, err := f.Fetch(context.Background(), srv.URL+"/tiles/1.png")
	if err != nil || string(b) != "tile-bytes" {
		t.Fatalf("Fetch = %q, %v", b, err)
	}
	if _, err := f.Fetch(context.Background(), srv.URL+"/missing/1.png"); !errors.Is(err, ErrStatus) {
		t.Fatalf("expected ErrStatus, got %v", err)
	}
}
