package browser

import (
	"io"
	"log"
	"net/http"
	"strings"
	"testing"

	"github.com/chromedp/cdproto/fetch"
	"github.com/chromedp/cdproto/network"
)

func paused(url string, status int64, reason network.ErrorReason) *fetch.EventRequestPaused {
	return &fetch.EventRequestPaused{
		RequestID:           "1",
		Request:             &network.Request{URL: url},
		ResponseStatusCode:  status,
		ResponseErrorReason: reason,
	}
}

func TestWants(t *testing.T) {
	t.Parallel()
	b := &Interceptor{
		opts:   Options{Enabled: func(u string) bool { return strings.Contains(u, "wplace.live") }},
		logger: log.New(io.Discard, "", 0),
	}
	cases := []struct {
		name string
		ev   *fetch.EventRequestPaused
		want bool
	}{
		{"tile ok", paused("https://backend.wplace.live/files/s0/tiles/1/2.png", 200, ""), true},
		{"tile 404", paused("https://backend.wplace.live/files/s0/tiles/1/2.png", 404, ""), false},
		{"network error", paused("https://backend.wplace.live/1/2.png", 0, network.ErrorReasonFailed), false},
		{"non tile", paused("https://wplace.live/img/logo.png?v=abc", 200, ""), false},
		{"processed", paused("https://wplace.live/1/2.png?bm_processed=1", 200, ""), false},
		{"other host", paused("https://example.com/1/2.png", 200, ""), false},
		{"nil", nil, false},
	}
	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			if got := b.wants(tc.ev); got != tc.want {
				t.Fatalf("wants = %v, want %v", got, tc.want)
			}
		})
	}
}

func TestFulfillHeaders(t *testing.T) {
	t.Parallel()
	in := []*fetch.HeaderEntry{
		{Name: "content-type", Value: "application/octet-stream"},
		{Name: "Content-Length", Value: "99"},
		{Name: "Content-Encoding", Value: "gzip"},
		{Name: "Cache-Control", Value: "max-age=60"},
		nil,
	}
	out := fulfillHeaders(in)
	if len(out) != 2 {
		t.Fatalf("expected 2 headers, got %d", len(out))
	}
	if out[0].Name != "Cache-Control" || out[1].Name != "Content-Type" || out[1].Value != "image/png" {
		t.Fatalf("unexpected headers: %+v %+v", out[0], out[1])
	}
}

func TestExtraHeaders(t *testing.T) {
	t.Parallel()
	h := http.Header{}
	h.Add("accept-language", "en")
	h.Add("X-Multi", "a")
	h.Add("X-Multi", "b")
	h.Set("User-Agent", "skip")
	extra := extraHeaders(h)
	if extra["Accept-Language"] != "en" || extra["X-Multi"] != "a, b" {
		t.Fatalf("unexpected extra headers: %#v", extra)
	}
	if _, ok := extra["User-Agent"]; ok {
		t.Fatal("user agent must go through emulation")
	}
}
