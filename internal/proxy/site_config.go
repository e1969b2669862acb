package proxy

import (
	"encoding/json"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"gopkg.in/yaml.v3"
)

const modePassthrough = "passthrough"

// SiteConfig holds per-host overrides loaded from <host>.json or
// <host>.yaml in the sites directory.
type SiteConfig struct {
	Mode    string            `json:"mode" yaml:"mode"`
	Headers map[string]string `json:"headers,omitempty" yaml:"headers,omitempty"`
}

// Passthrough reports whether tiles of the site must be left alone.
func (c *SiteConfig) Passthrough() bool {
	return c != nil && c.Mode == modePassthrough
}

type siteConfigStore struct {
	dir   string
	mu    sync.RWMutex
	cache map[string]*SiteConfig
}

func newSiteConfigStore(dir string) *siteConfigStore {
	return &siteConfigStore{
		dir:   dir,
		cache: make(map[string]*SiteConfig),
	}
}

func (s *siteConfigStore) Find(target string) *SiteConfig {
	u, err := url.Parse(target)
	if err != nil || u.Host == "" {
		return nil
	}
	host := strings.ToLower(u.Hostname())
	s.mu.RLock()
	if cfg, ok := s.cache[host]; ok {
		s.mu.RUnlock()
		return cfg
	}
	s.mu.RUnlock()

	labels := strings.Split(host, ".")
	for i := 0; i < len(labels); i++ {
		candidate := strings.Join(labels[i:], ".")
		if cfg := s.load(candidate); cfg != nil {
			s.mu.Lock()
			s.cache[host] = cfg
			s.mu.Unlock()
			return cfg
		}
	}
	s.mu.Lock()
	s.cache[host] = nil
	s.mu.Unlock()
	return nil
}

func (s *siteConfigStore) load(host string) *SiteConfig {
	if s.dir == "" {
		return nil
	}
	for _, ext := range []string{".json", ".yaml", ".yml"} {
		data, err := os.ReadFile(filepath.Join(s.dir, host+ext))
		if err != nil {
			continue
		}
		var cfg SiteConfig
		if ext == ".json" {
			err = json.Unmarshal(data, &cfg)
		} else {
			err = yaml.Unmarshal(data, &cfg)
		}
		if err != nil {
			continue
		}
		cfg.Mode = strings.TrimSpace(strings.ToLower(cfg.Mode))
		return &cfg
	}
	return nil
}

// apply sets the configured headers on h.
func (c *SiteConfig) apply(h http.Header) {
	if c == nil {
		return
	}
	for k, v := range c.Headers {
		h.Set(k, v)
	}
}
