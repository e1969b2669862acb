package proxy

import (
	"log"
	"net/http"
	"net/http/httputil"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"tilewhite/internal/blobstore"
	"tilewhite/internal/tilefetch"
)

const defaultIndexHTML = `<!DOCTYPE html>
<html><body>
<h1>tilewhite</h1>
<form action="/page" method="get">
<h3>Open page with whitened tiles</h3>
URL: <input name="url" size="60"><br>
<button type="submit">Open</button>
</form>
<form action="/inspect" method="get">
<h3>Inspect tile</h3>
URL: <input name="url" size="60"><br>
<button type="submit">Inspect</button>
</form>
</body></html>`

const (
	defaultUpstream    = "https://wplace.live"
	defaultHostPattern = "wplace.live"
	defaultSitesDir    = "config/sites"
	defaultPageTimeout = 10 * time.Second
	blobPrefix         = "/_blob/"
	indexPath          = "/_tilewhite"
)

// Config describes server wiring and runtime behaviour.
type Config struct {
	// Upstream is the fixed host every unmatched path is proxied to.
	Upstream string
	// HostPatterns lists the hosts (and their subdomains) whose tiles are
	// rewritten and whose pages may be opened.
	HostPatterns []string
	SitesDir     string
	ScanDelay    time.Duration
	PageTimeout  time.Duration
	Debug        bool
	IndexHTML    string
	// Transport performs upstream round trips; http.DefaultTransport when nil.
	Transport http.RoundTripper
	Logger    *log.Logger
	Clock     func() time.Time
}

// DefaultConfig populates configuration from environment variables.
func DefaultConfig() Config {
	cfg := Config{
		IndexHTML: defaultIndexHTML,
		Logger:    log.Default(),
		Clock:     time.Now,
		Upstream:  strings.TrimSpace(os.Getenv("TILEWHITE_UPSTREAM")),
		SitesDir:  strings.TrimSpace(os.Getenv("TILEWHITE_SITES_DIR")),
	}
	if cfg.Upstream == "" {
		cfg.Upstream = defaultUpstream
	}
	if cfg.SitesDir == "" {
		cfg.SitesDir = defaultSitesDir
	}
	cfg.HostPatterns = parseHostPatterns(os.Getenv("TILEWHITE_HOST_PATTERN"))
	if len(cfg.HostPatterns) == 0 {
		cfg.HostPatterns = []string{defaultHostPattern}
	}
	cfg.ScanDelay = envMillis("TILEWHITE_SCAN_DELAY_MS")
	cfg.PageTimeout = envMillis("TILEWHITE_PAGE_TIMEOUT_MS")
	switch strings.ToLower(strings.TrimSpace(os.Getenv("TILEWHITE_DEBUG"))) {
	case "1", "true", "yes", "on":
		cfg.Debug = true
	}
	return cfg
}

func envMillis(name string) time.Duration {
	raw := strings.TrimSpace(os.Getenv(name))
	if raw == "" {
		return 0
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n <= 0 {
		return 0
	}
	return time.Duration(n) * time.Millisecond
}

func parseHostPatterns(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		p := strings.ToLower(strings.TrimSpace(part))
		p = strings.TrimPrefix(p, "*.")
		p = strings.TrimPrefix(p, ".")
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}

// Server exposes the HTTP handlers implementing the proxy behaviour.
type Server struct {
	cfg        Config
	mux        *http.ServeMux
	handler    http.Handler
	logger     *log.Logger
	upstream   *url.URL
	transport  http.RoundTripper
	tiles      *tilefetch.Transport
	reverse    *httputil.ReverseProxy
	blobs      *blobstore.Store
	cookieJars *cookieJarStore
	sessions   *sessionStore
	sites      *siteConfigStore
}

// New wires a new proxy server with the provided configuration.
func New(cfg Config) *Server {
	if cfg.IndexHTML == "" {
		cfg.IndexHTML = defaultIndexHTML
	}
	if cfg.Logger == nil {
		cfg.Logger = log.Default()
	}
	if cfg.Clock == nil {
		cfg.Clock = time.Now
	}
	if cfg.Upstream == "" {
		cfg.Upstream = defaultUpstream
	}
	if len(cfg.HostPatterns) == 0 {
		cfg.HostPatterns = []string{defaultHostPattern}
	}
	if cfg.PageTimeout <= 0 {
		cfg.PageTimeout = defaultPageTimeout
	}
	if cfg.Transport == nil {
		cfg.Transport = http.DefaultTransport
	}
	upstream, err := url.Parse(cfg.Upstream)
	if err != nil || upstream.Host == "" {
		cfg.Logger.Printf("invalid upstream %q, using %s", cfg.Upstream, defaultUpstream)
		upstream, _ = url.Parse(defaultUpstream)
	}
	s := &Server{
		cfg:        cfg,
		mux:        http.NewServeMux(),
		logger:     cfg.Logger,
		upstream:   upstream,
		transport:  cfg.Transport,
		blobs:      blobstore.New(blobstore.WithPathPrefix(blobPrefix)),
		cookieJars: newCookieJarStore(),
		sessions:   newSessionStore(cfg.Clock),
		sites:      newSiteConfigStore(cfg.SitesDir),
	}
	s.tiles = &tilefetch.Transport{
		Base:    cfg.Transport,
		Enabled: s.rewriteEnabled,
		Logger:  cfg.Logger,
	}
	s.reverse = s.newReverseProxy()
	s.registerRoutes()
	s.handler = withLogging(s.logger, s.mux)
	return s
}

// NewServer builds a server from the environment.
func NewServer() http.Handler {
	return New(DefaultConfig())
}

// Handler exposes the HTTP handler with middleware applied.
func (s *Server) Handler() http.Handler { return s }

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.handler.ServeHTTP(w, r)
}

// Close ends every open page session.
func (s *Server) Close() {
	s.sessions.closeAll()
}

func (s *Server) registerRoutes() {
	s.mux.HandleFunc("/", s.handleUpstream)
	s.mux.HandleFunc(indexPath, s.handleIndex)
	s.mux.HandleFunc("/page", s.handlePage)
	s.mux.HandleFunc("/inspect", s.handleInspect)
	s.mux.HandleFunc(blobPrefix, s.handleBlob)
	s.mux.HandleFunc("/ping", s.handlePing)
}
