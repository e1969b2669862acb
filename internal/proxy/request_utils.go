package proxy

import (
	"net/http"
	"strings"
)

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

func copyHeader(dst, src http.Header) {
	for k, vs := range src {
		for _, v := range vs {
			dst.Add(k, v)
		}
	}
}

// forwardHeaders picks the caller headers that are relayed on upstream
// fetches made on its behalf. The proxy's own client cookie is dropped.
func forwardHeaders(r *http.Request) http.Header {
	hdr := http.Header{}
	if ua := r.Header.Get("User-Agent"); ua != "" {
		hdr.Set("User-Agent", ua)
	}
	if lang := r.Header.Get("Accept-Language"); lang != "" {
		hdr.Set("Accept-Language", lang)
	}
	if ck := stripCookie(r.Header.Get("Cookie"), clientCookieName); ck != "" {
		hdr.Set("Cookie", ck)
	}
	return hdr
}

func stripCookie(header, name string) string {
	if header == "" {
		return ""
	}
	parts := strings.Split(header, ";")
	kept := parts[:0]
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p == "" || strings.HasPrefix(p, name+"=") {
			continue
		}
		kept = append(kept, p)
	}
	return strings.Join(kept, "; ")
}
