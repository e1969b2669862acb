// Package tilefetch rewrites tile responses at the http.RoundTripper level,
// independently of any document.
package tilefetch

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/klauspost/compress/flate"
	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zlib"
	"github.com/klauspost/compress/zstd"

	"tilewhite/internal/pixel"
	"tilewhite/internal/tile"
)

const maxBodyBytes = 32 << 20

var errBodyTooLarge = errors.New("tilefetch: body too large")

// Transport intercepts tile requests and whitens the transparent pixels of
// successful responses. Every other request goes straight to Base.
type Transport struct {
	// Base performs the real round trips; http.DefaultTransport when nil.
	Base http.RoundTripper
	// Rewrite replaces pixel.Rewrite when set.
	Rewrite func([]byte) (*pixel.Result, error)
	// Enabled limits interception to matching requests when set.
	Enabled func(*http.Request) bool
	Logger  *log.Logger
}

func (t *Transport) base() http.RoundTripper {
	if t.Base != nil {
		return t.Base
	}
	return http.DefaultTransport
}

func (t *Transport) logf(format string, args ...any) {
	if t.Logger != nil {
		t.Logger.Printf(format, args...)
	}
}

// RoundTrip implements http.RoundTripper. It never fails where Base would
// have succeeded: any problem on the intercepted path falls back to the
// unmodified response or to a direct round trip.
func (t *Transport) RoundTrip(req *http.Request) (*http.Response, error) {
	if !t.intercepts(req) {
		return t.base().RoundTrip(req)
	}
	resp, fallback, err := t.roundTripTile(req)
	if fallback {
		return t.base().RoundTrip(req)
	}
	return resp, err
}

func (t *Transport) intercepts(req *http.Request) bool {
	if req == nil || req.URL == nil {
		return false
	}
	if req.Method != "" && req.Method != http.MethodGet {
		return false
	}
	if !tile.IsTileURL(URLOf(req)) {
		return false
	}
	return t.Enabled == nil || t.Enabled(req)
}

func (t *Transport) roundTripTile(req *http.Request) (resp *http.Response, fallback bool, err error) {
	defer func() {
		if r := recover(); r != nil {
			t.logf("TILE intercept panic for %s: %v", req.URL, r)
			resp, fallback, err = nil, true, nil
		}
	}()
	resp, err = t.base().RoundTrip(req)
	if err != nil {
		return nil, false, err
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return resp, false, nil
	}
	raw, err := readAll(resp.Body)
	resp.Body.Close()
	if err != nil {
		t.logf("TILE read %s: %v", req.URL, err)
		return nil, true, nil
	}
	decoded, err := decodeBody(resp.Header.Get("Content-Encoding"), raw)
	if err != nil {
		t.logf("TILE content-encoding %s: %v", req.URL, err)
		return restoreBody(resp, raw), false, nil
	}
	rewrite := t.Rewrite
	if rewrite == nil {
		rewrite = pixel.Rewrite
	}
	res, err := rewrite(decoded)
	if err != nil {
		t.logf("TILE rewrite %s: %v", req.URL, err)
		return restoreBody(resp, raw), false, nil
	}
	t.logf("TILE %s %dx%d whitened=%d bytes=%d->%d", req.URL, res.Width, res.Height, res.Rewritten, len(raw), len(res.Data))
	return rewrittenResponse(resp, res.Data), false, nil
}

func readAll(r io.Reader) ([]byte, error) {
	b, err := io.ReadAll(io.LimitReader(r, maxBodyBytes+1))
	if err != nil {
		return nil, err
	}
	if len(b) > maxBodyBytes {
		return nil, errBodyTooLarge
	}
	return b, nil
}

// restoreBody gives resp back its original bytes.
func restoreBody(resp *http.Response, raw []byte) *http.Response {
	resp.Body = io.NopCloser(bytes.NewReader(raw))
	return resp
}

// rewrittenResponse keeps the status line and headers of orig, with the
// content type forced to PNG and the body replaced.
func rewrittenResponse(orig *http.Response, data []byte) *http.Response {
	h := orig.Header.Clone()
	if h == nil {
		h = http.Header{}
	}
	h.Set("Content-Type", pixel.ContentType)
	h.Set("Content-Length", strconv.Itoa(len(data)))
	h.Del("Content-Encoding")
	return &http.Response{
		Status:        orig.Status,
		StatusCode:    orig.StatusCode,
		Proto:         orig.Proto,
		ProtoMajor:    orig.ProtoMajor,
		ProtoMinor:    orig.ProtoMinor,
		Header:        h,
		Trailer:       orig.Trailer,
		Body:          io.NopCloser(bytes.NewReader(data)),
		ContentLength: int64(len(data)),
		Uncompressed:  orig.Uncompressed,
		Request:       orig.Request,
		TLS:           orig.TLS,
	}
}

func decodeBody(encoding string, raw []byte) ([]byte, error) {
	var rc io.ReadCloser
	switch strings.ToLower(strings.TrimSpace(encoding)) {
	case "", "identity":
		return raw, nil
	case "gzip", "x-gzip":
		gr, err := gzip.NewReader(bytes.NewReader(raw))
		if err != nil {
			return nil, err
		}
		rc = gr
	case "deflate":
		if zr, err := zlib.NewReader(bytes.NewReader(raw)); err == nil {
			rc = zr
		} else {
			rc = flate.NewReader(bytes.NewReader(raw))
		}
	case "zstd":
		zr, err := zstd.NewReader(bytes.NewReader(raw))
		if err != nil {
			return nil, err
		}
		rc = zr.IOReadCloser()
	default:
		return nil, fmt.Errorf("tilefetch: unsupported content-encoding %q", encoding)
	}
	defer rc.Close()
	return readAll(rc)
}

// URLOf extracts a request URL from a string, *url.URL, *http.Request or
// any fmt.Stringer. Other values yield "".
func URLOf(input any) string {
	switch v := input.(type) {
	case string:
		return v
	case *http.Request:
		if v == nil || v.URL == nil {
			return ""
		}
		return v.URL.String()
	case *url.URL:
		if v == nil {
			return ""
		}
		return v.String()
	case fmt.Stringer:
		return v.String()
	default:
		return ""
	}
}

// Fetch is a fetch-style helper: input is either a URL string or a
// prepared request. ctx applies to string inputs and replaces the
// request context otherwise.
func Fetch(ctx context.Context, client *http.Client, input any) (*http.Response, error) {
	if client == nil {
		client = http.DefaultClient
	}
	if ctx == nil {
		ctx = context.Background()
	}
	switch v := input.(type) {
	case *http.Request:
		if v == nil {
			return nil, errors.New("tilefetch: nil request")
		}
		return client.Do(v.WithContext(ctx))
	default:
		target := URLOf(input)
		if target == "" {
			return nil, fmt.Errorf("tilefetch: unsupported input %T", input)
		}
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
		if err != nil {
			return nil, err
		}
		return client.Do(req)
	}
}
