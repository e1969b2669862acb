package proxy

import (
	"net/http"
	"net/http/httputil"

	"tilewhite/internal/tile"
)

// handleUpstream relays every other path to the fixed upstream host. Tile
// responses pass through the tile transport; the rest is untouched.
func (s *Server) handleUpstream(w http.ResponseWriter, r *http.Request) {
	s.reverse.ServeHTTP(w, r)
}

func (s *Server) newReverseProxy() *httputil.ReverseProxy {
	return &httputil.ReverseProxy{
		Rewrite:   s.rewriteUpstream,
		Transport: s.tiles,
		ErrorLog:  s.logger,
		ErrorHandler: func(w http.ResponseWriter, r *http.Request, err error) {
			s.logger.Printf("UPSTREAM %s %s: %v", r.Method, r.URL, err)
			http.Error(w, err.Error(), http.StatusBadGateway)
		},
	}
}

func (s *Server) rewriteUpstream(pr *httputil.ProxyRequest) {
	pr.SetURL(s.upstream)
	if ck := stripCookie(pr.Out.Header.Get("Cookie"), clientCookieName); ck != "" {
		pr.Out.Header.Set("Cookie", ck)
	} else {
		pr.Out.Header.Del("Cookie")
	}
	s.sites.Find(pr.Out.URL.String()).apply(pr.Out.Header)
	if tile.IsTileURL(pr.Out.URL.String()) && s.rewriteEnabled(pr.Out) {
		// let the transport negotiate an encoding it can decode
		pr.Out.Header.Del("Accept-Encoding")
	}
}
