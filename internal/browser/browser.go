// Package browser runs the tile rewrite inside a real Chrome page: tile
// responses are paused with the DevTools Fetch domain, whitened, and
// fulfilled in place.
package browser

import (
	"context"
	"encoding/base64"
	"fmt"
	"log"
	"net/http"
	"strings"
	"sync/atomic"
	"time"

	"github.com/chromedp/cdproto/cdp"
	"github.com/chromedp/cdproto/emulation"
	"github.com/chromedp/cdproto/fetch"
	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/chromedp"

	"tilewhite/internal/pixel"
	"tilewhite/internal/tile"
)

// Options configures an Interceptor.
type Options struct {
	// Headful shows the browser window.
	Headful bool
	// Duration bounds Run; zero keeps the page open until ctx ends.
	Duration  time.Duration
	UserAgent string
	Headers   http.Header
	// Enabled restricts rewriting to matching tile URLs when set.
	Enabled func(url string) bool
	Rewrite func([]byte) (*pixel.Result, error)
	Logger  *log.Logger
}

// Stats counts what happened to paused responses.
type Stats struct {
	Paused    int64
	Rewritten int64
	Continued int64
	Failed    int64
}

// Interceptor owns a Chrome allocator.
type Interceptor struct {
	allocator context.Context
	cancel    context.CancelFunc
	opts      Options
	logger    *log.Logger

	paused    atomic.Int64
	rewritten atomic.Int64
	continued atomic.Int64
	failed    atomic.Int64
}

func New(opts Options) *Interceptor {
	execOpts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", !opts.Headful),
		chromedp.Flag("disable-gpu", true),
		chromedp.Flag("mute-audio", true),
		chromedp.Flag("no-first-run", true),
		chromedp.Flag("no-default-browser-check", true),
		chromedp.Flag("disable-background-networking", true),
		chromedp.Flag("disable-background-timer-throttling", true),
		chromedp.Flag("disable-renderer-backgrounding", true),
		chromedp.Flag("disable-client-side-phishing-detection", true),
		chromedp.Flag("disable-sync", true),
		chromedp.Flag("metrics-recording-only", true),
		chromedp.Flag("safebrowsing-disable-auto-update", true),
		chromedp.Flag("disable-translate", true),
		chromedp.Flag("disable-extensions", true),
	)
	allocCtx, cancel := chromedp.NewExecAllocator(context.Background(), execOpts...)
	if opts.Rewrite == nil {
		opts.Rewrite = pixel.Rewrite
	}
	logger := opts.Logger
	if logger == nil {
		logger = log.Default()
	}
	return &Interceptor{
		allocator: allocCtx,
		cancel:    cancel,
		opts:      opts,
		logger:    logger,
	}
}

func (b *Interceptor) Close() {
	if b.cancel != nil {
		b.cancel()
	}
}

// Stats returns the counters so far.
func (b *Interceptor) Stats() Stats {
	return Stats{
		Paused:    b.paused.Load(),
		Rewritten: b.rewritten.Load(),
		Continued: b.continued.Load(),
		Failed:    b.failed.Load(),
	}
}

// Run opens target and keeps rewriting its tiles until ctx ends or
// Options.Duration elapses. Ending that way is not an error.
func (b *Interceptor) Run(ctx context.Context, target string) error {
	if strings.TrimSpace(target) == "" {
		return fmt.Errorf("browser: empty target url")
	}
	taskCtx, cancelBrowser := chromedp.NewContext(b.allocator)
	defer cancelBrowser()

	if ctx != nil {
		var cancel context.CancelFunc
		taskCtx, cancel = context.WithCancel(taskCtx)
		go func() {
			select {
			case <-ctx.Done():
				cancel()
			case <-taskCtx.Done():
			}
		}()
		defer cancel()
	}
	if b.opts.Duration > 0 {
		var cancel context.CancelFunc
		taskCtx, cancel = context.WithTimeout(taskCtx, b.opts.Duration)
		defer cancel()
	}

	chromedp.ListenTarget(taskCtx, func(ev interface{}) {
		if e, ok := ev.(*fetch.EventRequestPaused); ok {
			b.paused.Add(1)
			go b.handlePaused(taskCtx, e)
		}
	})

	actions := []chromedp.Action{
		network.Enable(),
		fetch.Enable().WithPatterns([]*fetch.RequestPattern{
			{URLPattern: "*.png*", RequestStage: fetch.RequestStageResponse},
		}),
	}
	if ua := strings.TrimSpace(b.opts.UserAgent); ua != "" {
		actions = append(actions, chromedp.ActionFunc(func(ctx context.Context) error {
			return emulation.SetUserAgentOverride(ua).Do(ctx)
		}))
	}
	if extra := extraHeaders(b.opts.Headers); len(extra) > 0 {
		actions = append(actions, chromedp.ActionFunc(func(ctx context.Context) error {
			return network.SetExtraHTTPHeaders(extra).Do(ctx)
		}))
	}
	actions = append(actions,
		chromedp.Navigate(target),
		chromedp.WaitReady("body", chromedp.ByQuery),
	)
	if err := chromedp.Run(taskCtx, actions...); err != nil {
		if taskCtx.Err() != nil {
			return nil
		}
		return err
	}
	b.logger.Printf("BROWSER opened %s", target)
	<-taskCtx.Done()
	st := b.Stats()
	b.logger.Printf("BROWSER closed %s paused=%d rewritten=%d continued=%d failed=%d", target, st.Paused, st.Rewritten, st.Continued, st.Failed)
	return nil
}

func (b *Interceptor) handlePaused(ctx context.Context, e *fetch.EventRequestPaused) {
	c := chromedp.FromContext(ctx)
	if c == nil || c.Target == nil {
		return
	}
	ectx := cdp.WithExecutor(ctx, c.Target)
	defer func() {
		if r := recover(); r != nil {
			b.failed.Add(1)
			b.logger.Printf("TILE browser panic: %v", r)
			_ = fetch.ContinueRequest(e.RequestID).Do(ectx)
		}
	}()

	if !b.wants(e) {
		b.resume(ectx, e)
		return
	}
	body, err := fetch.GetResponseBody(e.RequestID).Do(ectx)
	if err != nil {
		b.failed.Add(1)
		b.logger.Printf("TILE browser body %s: %v", e.Request.URL, err)
		b.resume(ectx, e)
		return
	}
	res, err := b.opts.Rewrite(body)
	if err != nil {
		b.failed.Add(1)
		b.logger.Printf("TILE browser rewrite %s: %v", e.Request.URL, err)
		b.resume(ectx, e)
		return
	}
	err = fetch.FulfillRequest(e.RequestID, e.ResponseStatusCode).
		WithResponseHeaders(fulfillHeaders(e.ResponseHeaders)).
		WithBody(base64.StdEncoding.EncodeToString(res.Data)).
		WithResponsePhrase(e.ResponseStatusText).
		Do(ectx)
	if err != nil {
		b.failed.Add(1)
		b.logger.Printf("TILE browser fulfill %s: %v", e.Request.URL, err)
		return
	}
	b.rewritten.Add(1)
	b.logger.Printf("TILE %s %dx%d whitened=%d", e.Request.URL, res.Width, res.Height, res.Rewritten)
}

func (b *Interceptor) resume(ctx context.Context, e *fetch.EventRequestPaused) {
	b.continued.Add(1)
	if err := fetch.ContinueRequest(e.RequestID).Do(ctx); err != nil {
		b.logger.Printf("TILE browser continue %s: %v", e.RequestID, err)
	}
}

// wants reports whether a paused response is a successful tile response
// that should be rewritten.
func (b *Interceptor) wants(e *fetch.EventRequestPaused) bool {
	if e == nil || e.Request == nil || e.ResponseErrorReason != "" {
		return false
	}
	if e.ResponseStatusCode < 200 || e.ResponseStatusCode > 299 {
		return false
	}
	if !tile.IsTileURL(e.Request.URL) {
		return false
	}
	return b.opts.Enabled == nil || b.opts.Enabled(e.Request.URL)
}

// fulfillHeaders keeps the original response headers except the ones the
// rewritten body invalidates.
func fulfillHeaders(in []*fetch.HeaderEntry) []*fetch.HeaderEntry {
	out := make([]*fetch.HeaderEntry, 0, len(in)+1)
	for _, h := range in {
		if h == nil {
			continue
		}
		switch strings.ToLower(h.Name) {
		case "content-type", "content-length", "content-encoding":
			continue
		}
		out = append(out, h)
	}
	return append(out, &fetch.HeaderEntry{Name: "Content-Type", Value: pixel.ContentType})
}

func extraHeaders(h http.Header) network.Headers {
	extra := network.Headers{}
	for k, vs := range h {
		name := http.CanonicalHeaderKey(k)
		if strings.EqualFold(name, "Content-Length") || strings.EqualFold(name, "User-Agent") || len(vs) == 0 {
			continue
		}
		extra[name] = strings.Join(vs, ", ")
	}
	return extra
}
