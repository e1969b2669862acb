package proxy

import (
	"net/http"
	"os"
	"path/filepath"
	"testing"
)

func TestSiteConfigFormats(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	files := map[string]string{
		"wplace.live.json":  `{"mode":"passthrough","headers":{"X-Test":"json"}}`,
		"example.org.yaml":  "mode: rewrite\nheaders:\n  X-Test: yaml\n",
		"broken.local.yaml": "mode: [\n",
	}
	for name, body := range files {
		if err := os.WriteFile(filepath.Join(dir, name), []byte(body), 0o644); err != nil {
			t.Fatalf("write %s: %v", name, err)
		}
	}
	store := newSiteConfigStore(dir)

	cases := []struct {
		name        string
		target      string
		found       bool
		passthrough bool
		header      string
	}{
		{"json exact", "https://wplace.live/1.png", true, true, "json"},
		{"json parent", "https://backend.wplace.live/files/1.png", true, true, "json"},
		{"yaml", "https://cdn.example.org/", true, false, "yaml"},
		{"broken", "https://broken.local/", false, false, ""},
		{"missing", "https://nothing.test/", false, false, ""},
		{"not a url", "::", false, false, ""},
	}
	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			cfg := store.Find(tc.target)
			if (cfg != nil) != tc.found {
				t.Fatalf("Find(%q) found=%v, want %v", tc.target, cfg != nil, tc.found)
			}
			if cfg.Passthrough() != tc.passthrough {
				t.Fatalf("Passthrough = %v, want %v", cfg.Passthrough(), tc.passthrough)
			}
			h := http.Header{}
			cfg.apply(h)
			if h.Get("X-Test") != tc.header {
				t.Fatalf("X-Test = %q, want %q", h.Get("X-Test"), tc.header)
			}
		})
	}
}
