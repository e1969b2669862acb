package page

import (
	"bytes"
	"context"
	"image"
	"image/color"
	"image/png"
	"io"
	"log"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"tilewhite/internal/blobstore"
	"tilewhite/internal/dom"
	"tilewhite/internal/element"
	"tilewhite/internal/pixel"
)

func tileServer(t *testing.T) *httptest.Server {
	t.Helper()
	img := image.NewNRGBA(image.Rect(0, 0, 3, 3))
	img.SetNRGBA(0, 0, color.NRGBA{1, 2, 3, 255})
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatalf("png.Encode: %v", err)
	}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if strings.HasSuffix(r.URL.Path, ".png") {
			w.Header().Set("Content-Type", "image/png")
			_, _ = w.Write(buf.Bytes())
			return
		}
		http.NotFound(w, r)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestSessionRewritesAndReleases(t *testing.T) {
	t.Parallel()
	srv := tileServer(t)
	markup := `<html><body><div id="map"><img src="/tiles/0/1.png"><img src="/logo.svg"></div></body></html>`
	doc, err := dom.Parse(strings.NewReader(markup), srv.URL+"/")
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	blobs := blobstore.New()
	s := Attach(doc, Options{
		Fetcher:   element.NewHTTPFetcher(srv.Client()),
		Blobs:     blobs,
		Logger:    log.New(io.Discard, "", 0),
		ScanDelay: time.Hour,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.Settle(ctx); err != nil {
		t.Fatalf("settle: %v", err)
	}

	imgs := doc.Images(doc.Root())
	tileSrc := doc.Src(imgs[0])
	if !strings.HasPrefix(tileSrc, "blob:") {
		t.Fatalf("tile src = %q", tileSrc)
	}
	if got := doc.Src(imgs[1]); got != "/logo.svg" {
		t.Fatalf("non-tile src changed to %q", got)
	}
	b, ok := blobs.Get(tileSrc)
	if !ok {
		t.Fatal("blob missing")
	}
	a, err := pixel.StatsOf(b.Data)
	if err != nil || a.Transparent != 0 {
		t.Fatalf("blob not whitened: %+v %v", a, err)
	}
	if s.Watcher.Tracked() != 1 {
		t.Fatalf("tracked = %d", s.Watcher.Tracked())
	}

	s.Close()
	s.Close()
	if blobs.Len() != 0 || blobs.Revoked() != 1 {
		t.Fatalf("after close: live=%d revoked=%d", blobs.Len(), blobs.Revoked())
	}
}

func TestSessionScansInsertedImages(t *testing.T) {
	t.Parallel()
	srv := tileServer(t)
	doc := dom.New(srv.URL + "/")
	blobs := blobstore.New()
	s := Attach(doc, Options{
		Fetcher:   element.NewHTTPFetcher(srv.Client()),
		Blobs:     blobs,
		Logger:    log.New(io.Discard, "", 0),
		ScanDelay: time.Hour,
	})
	defer s.Close()

	img := doc.CreateElement("img")
	doc.SetAttr(img, "src", "/tiles/3/7.png")
	if err := doc.AppendChild(doc.Body(), img); err != nil {
		t.Fatalf("append: %v", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.Interceptor.WaitContext(ctx); err != nil {
		t.Fatalf("wait: %v", err)
	}
	if s.Interceptor.Marker(img) != element.MarkerProcessed {
		t.Fatalf("marker = %v", s.Interceptor.Marker(img))
	}

	doc.Remove(img)
	if blobs.Len() != 0 {
		t.Fatalf("removed image kept %d blobs", blobs.Len())
	}
}
