package proxy

import (
	"net/url"
	"testing"
)

func TestResolveTarget(t *testing.T) {
	t.Parallel()
	base, _ := url.Parse("https://wplace.live")
	tests := []struct {
		name string
		raw  string
		want string
	}{
		{name: "root relative", raw: "/tiles/1/2.png", want: "https://wplace.live/tiles/1/2.png"},
		{name: "absolute", raw: "https://backend.wplace.live/files/s0/tiles/1/2.png", want: "https://backend.wplace.live/files/s0/tiles/1/2.png"},
		{name: "scheme relative", raw: "//backend.wplace.live/a", want: "https://backend.wplace.live/a"},
		{name: "bare host", raw: "wplace.live/about", want: "https://wplace.live/about"},
		{name: "bare path", raw: "tiles/3.png", want: "https://wplace.live/tiles/3.png"},
		{name: "encoded", raw: "https%3A%2F%2Fwplace.live%2F1.png", want: "https://wplace.live/1.png"},
		{name: "query kept", raw: "/1.png?t=5", want: "https://wplace.live/1.png?t=5"},
	}
	for _, tc := range tests {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			got, err := resolveTarget(base, tc.raw)
			if err != nil {
				t.Fatalf("resolveTarget(%q): %v", tc.raw, err)
			}
			if got.String() != tc.want {
				t.Fatalf("resolveTarget(%q) = %q, want %q", tc.raw, got.String(), tc.want)
			}
		})
	}
	if _, err := resolveTarget(base, "  "); err == nil {
		t.Fatal("expected error for empty url")
	}
}

func TestURLDecode(t *testing.T) {
	if got := urlDecode("a%2Fb%zz%4"); got != "a/b%zz%4" {
		t.Fatalf("urlDecode = %q", got)
	}
}
