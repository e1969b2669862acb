package proxy

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"tilewhite/internal/pixel"
	"tilewhite/internal/tile"
)

type inspectResult struct {
	URL            string          `json:"url"`
	Tile           bool            `json:"tile"`
	Index          int             `json:"index,omitempty"`
	Passthrough    bool            `json:"passthrough"`
	Status         int             `json:"status"`
	ContentType    string          `json:"contentType,omitempty"`
	Bytes          int             `json:"bytes"`
	Before         *pixel.Analysis `json:"before,omitempty"`
	After          *pixel.Analysis `json:"after,omitempty"`
	Whitened       int             `json:"whitened"`
	RewrittenBytes int             `json:"rewrittenBytes,omitempty"`
	Error          string          `json:"error,omitempty"`
}

// handleInspect fetches one tile untouched and reports its pixel
// statistics before and after the rewrite.
func (s *Server) handleInspect(w http.ResponseWriter, r *http.Request) {
	target, err := resolveTarget(s.upstream, r.URL.Query().Get("url"))
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if !s.hostAllowed(target.Host) {
		http.Error(w, "host not allowed", http.StatusForbidden)
		return
	}
	res := inspectResult{
		URL:         target.String(),
		Tile:        tile.IsTileURL(target.String()),
		Passthrough: s.sites.Find(target.String()).Passthrough(),
	}
	if n, ok := tile.TileIndex(target.String()); ok {
		res.Index = n
	}

	ctx, cancel := context.WithTimeout(r.Context(), tileFetchTimeout)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target.String(), nil)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	copyHeader(req.Header, forwardHeaders(r))
	s.sites.Find(target.String()).apply(req.Header)
	resp, err := (&http.Client{Transport: s.transport}).Do(req)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadGateway)
		return
	}
	data, err := io.ReadAll(io.LimitReader(resp.Body, maxPageBytes))
	resp.Body.Close()
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadGateway)
		return
	}
	res.Status = resp.StatusCode
	res.ContentType = resp.Header.Get("Content-Type")
	res.Bytes = len(data)
	if s.cfg.Debug {
		dumpTile(s.logger, "INSPECT "+target.String(), data)
	}
	s.analyze(&res, data)

	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	_ = enc.Encode(res)
}

func (s *Server) analyze(res *inspectResult, data []byte) {
	if res.Status < 200 || res.Status > 299 {
		res.Error = fmt.Sprintf("upstream status %d", res.Status)
		return
	}
	before, err := pixel.StatsOf(data)
	if err != nil {
		res.Error = err.Error()
		return
	}
	res.Before = &before
	out, err := pixel.Rewrite(data)
	if err != nil {
		res.Error = err.Error()
		return
	}
	after, err := pixel.StatsOf(out.Data)
	if err != nil {
		res.Error = err.Error()
		return
	}
	res.After = &after
	res.Whitened = out.Rewritten
	res.RewrittenBytes = len(out.Data)
}
