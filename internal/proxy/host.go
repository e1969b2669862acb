package proxy

import (
	"net"
	"net/http"
	"net/url"
	"strings"
)

// hostAllowed reports whether host, with or without a port, is one of the
// configured hosts or a subdomain of one.
func (s *Server) hostAllowed(host string) bool {
	return matchHost(s.cfg.HostPatterns, host)
}

func matchHost(patterns []string, host string) bool {
	host = strings.ToLower(strings.TrimSpace(host))
	if h, _, err := net.SplitHostPort(host); err == nil {
		host = h
	}
	host = strings.TrimSuffix(host, ".")
	if host == "" {
		return false
	}
	for _, p := range patterns {
		if host == p || strings.HasSuffix(host, "."+p) {
			return true
		}
	}
	return false
}

// rewriteEnabled gates the tile transport: only allowed hosts whose site
// config does not ask for passthrough get rewritten.
func (s *Server) rewriteEnabled(req *http.Request) bool {
	if req == nil || req.URL == nil || !s.hostAllowed(req.URL.Host) {
		return false
	}
	return !s.sites.Find(req.URL.String()).Passthrough()
}

// MatchURL reports whether the host of rawURL matches one of patterns.
func MatchURL(patterns []string, rawURL string) bool {
	u, err := url.Parse(rawURL)
	if err != nil {
		return false
	}
	return matchHost(patterns, u.Host)
}
