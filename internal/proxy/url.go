package proxy

import (
	"errors"
	neturl "net/url"
	"strings"
)

var errMissingURL = errors.New("missing url")

// urlDecode converts percent-encoded sequences like %2f into their byte values.
func urlDecode(url string) string {
	b := make([]byte, 0, len(url))
	for i := 0; i < len(url); i++ {
		c := url[i]
		if c == '%' && i+2 < len(url) && isHex(url[i+1]) && isHex(url[i+2]) {
			b = append(b, fromHex(url[i+1])<<4|fromHex(url[i+2]))
			i += 2
		} else {
			b = append(b, c)
		}
	}
	return string(b)
}

func isHex(c byte) bool {
	return (c >= '0' && c <= '9') || (c >= 'A' && c <= 'F') || (c >= 'a' && c <= 'f')
}

func fromHex(c byte) byte {
	switch {
	case c >= '0' && c <= '9':
		return c - '0'
	case c >= 'A' && c <= 'F':
		return c - 'A' + 10
	case c >= 'a' && c <= 'f':
		return c - 'a' + 10
	}
	return 0
}

// resolveTarget turns the url parameter of /page and /inspect into an
// absolute upstream URL. Relative values are resolved against base;
// scheme-less hosts get https. Values that arrive percent-encoded twice
// are decoded.
func resolveTarget(base *neturl.URL, raw string) (*neturl.URL, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return nil, errMissingURL
	}
	if strings.HasPrefix(strings.ToLower(s), "http%3a") || strings.HasPrefix(strings.ToLower(s), "https%3a") {
		s = urlDecode(s)
	}
	lower := strings.ToLower(s)
	switch {
	case strings.HasPrefix(lower, "http://"), strings.HasPrefix(lower, "https://"):
	case strings.HasPrefix(s, "//"):
		s = base.Scheme + ":" + s
	case strings.HasPrefix(s, "/"), strings.HasPrefix(s, "?"), strings.HasPrefix(s, "."):
		ref, err := neturl.Parse(s)
		if err != nil {
			return nil, err
		}
		return base.ResolveReference(ref), nil
	default:
		if !strings.Contains(strings.SplitN(s, "/", 2)[0], ".") {
			ref, err := neturl.Parse(s)
			if err != nil {
				return nil, err
			}
			return base.ResolveReference(ref), nil
		}
		s = "https://" + s
	}
	u, err := neturl.Parse(s)
	if err != nil {
		return nil, err
	}
	if u.Host == "" {
		return nil, errMissingURL
	}
	return u, nil
}
