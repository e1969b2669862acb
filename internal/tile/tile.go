// Package tile decides which URLs address raw map tiles.
package tile

import (
	"fmt"
	"net/url"
	"regexp"
	"strconv"
	"strings"
)

// ProcessedMarker is the query token carried by URLs that already went
// through the rewrite pipeline. A URL containing it is never a tile again.
const ProcessedMarker = "bm_processed=1"

var tilePattern = regexp.MustCompile(`(?i)/(\d{1,4})\.png(?:$|\?)`)

// IsTileURL reports whether candidate addresses a tile that still needs
// processing: a 1-4 digit file name with a .png extension, not inline
// (data:), not generated (blob:) and not carrying ProcessedMarker.
func IsTileURL(candidate string) bool {
	if candidate == "" {
		return false
	}
	if strings.HasPrefix(candidate, "data:") || strings.HasPrefix(candidate, "blob:") {
		return false
	}
	if strings.Contains(candidate, ProcessedMarker) {
		return false
	}
	return tilePattern.MatchString(candidate)
}

// IsTileInput is IsTileURL over arbitrary values. Anything that is not a
// string, URL or Stringer is rejected.
func IsTileInput(v any) bool {
	switch x := v.(type) {
	case string:
		return IsTileURL(x)
	case *url.URL:
		if x == nil {
			return false
		}
		return IsTileURL(x.String())
	case fmt.Stringer:
		if x == nil {
			return false
		}
		return IsTileURL(x.String())
	default:
		return false
	}
}

// TileIndex returns the numeric file name of a tile URL.
func TileIndex(candidate string) (int, bool) {
	if !IsTileURL(candidate) {
		return 0, false
	}
	m := tilePattern.FindStringSubmatch(candidate)
	if len(m) < 2 {
		return 0, false
	}
	n, err := strconv.Atoi(m[1])
	if err != nil {
		return 0, false
	}
	return n, true
}

// MarkProcessed appends ProcessedMarker to u as a query token.
func MarkProcessed(u string) string {
	if strings.Contains(u, ProcessedMarker) {
		return u
	}
	frag := ""
	if i := strings.IndexByte(u, '#'); i != -1 {
		u, frag = u[:i], u[i:]
	}
	sep := "?"
	if strings.Contains(u, "?") {
		sep = "&"
		if strings.HasSuffix(u, "?") || strings.HasSuffix(u, "&") {
			sep = ""
		}
	}
	return u + sep + ProcessedMarker + frag
}
