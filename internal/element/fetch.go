package element

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"golang.org/x/sync/singleflight"
)

// ErrStatus is returned for non-2xx tile responses.
var ErrStatus = errors.New("element: unexpected status")

const maxTileBytes = 32 << 20

// HTTPFetcher fetches tile bytes with an http.Client. Identical requests
// in flight at the same time share one round trip; nothing is kept once
// it completes.
type HTTPFetcher struct {
	client *http.Client
	header http.Header
	group  singleflight.Group
}

// NewHTTPFetcher uses client, or an 8s-timeout client when nil.
func NewHTTPFetcher(client *http.Client) *HTTPFetcher {
	if client == nil {
		client = &http.Client{Timeout: 8 * time.Second}
	}
	return &HTTPFetcher{client: client, header: http.Header{}}
}

// WithHeader returns f after adding a header sent with every request.
func (f *HTTPFetcher) WithHeader(key, value string) *HTTPFetcher {
	f.header.Set(key, value)
	return f
}

func (f *HTTPFetcher) Fetch(ctx context.Context, target string) ([]byte, error) {
	v, err, _ := f.group.Do(target, func() (interface{}, error) {
		return f.fetch(ctx, target)
	})
	if err != nil {
		return nil, err
	}
	return v.([]byte), nil
}

func (f *HTTPFetcher) fetch(ctx context.Context, target string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return nil, err
	}
	for k, vs := range f.header {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}
	if req.Header.Get("Accept") == "" {
		req.Header.Set("Accept", "image/*")
	}
	resp, err := f.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, fmt.Errorf("%w: %d", ErrStatus, resp.StatusCode)
	}
	b, err := io.ReadAll(io.LimitReader(resp.Body, maxTileBytes))
	if err != nil {
		return nil, err
	}
	return b, nil
}
