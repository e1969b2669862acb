package main

import (
	"context"
	"errors"
	"flag"
	"log"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"tilewhite/internal/browser"
	"tilewhite/internal/proxy"
)

func main() {
	addrFlag := flag.String("addr", ":8081", "listen address, e.g. :81 or 0.0.0.0:8081")
	browserURL := flag.String("browser", "", "open this page in Chrome and whiten its tiles instead of serving the proxy")
	headful := flag.Bool("headful", false, "show the Chrome window in -browser mode")
	duration := flag.Duration("duration", 0, "stop -browser mode after this long (0 = until interrupted)")
	flag.Parse()

	log.SetFlags(log.LstdFlags | log.Lmicroseconds)
	log.SetOutput(os.Stdout)

	if *browserURL != "" {
		runBrowser(*browserURL, *headful, *duration)
		return
	}

	addr := *addrFlag
	if env := os.Getenv("PORT"); env != "" {
		addr = ":" + env
	}

	cfg := proxy.DefaultConfig()
	server := proxy.New(cfg)
	srv := &http.Server{
		Addr:    addr,
		Handler: server,
		// Conservative timeouts to avoid slowloris and leaked connections blocking the server
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      2 * time.Minute,
		IdleTimeout:       60 * time.Second,
		ErrorLog:          log.New(os.Stdout, "HTTPERR ", log.LstdFlags|log.Lmicroseconds),
		ConnState: func(c net.Conn, s http.ConnState) {
			if cfg.Debug {
				log.Printf("CONN %s %s", s.String(), c.RemoteAddr())
			}
		},
	}

	ln, err := net.Listen("tcp", addr)
	if err != nil {
		log.Fatalf("Listen error on %s: %v", addr, err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	done := make(chan struct{})
	go func() {
		defer close(done)
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Printf("shutdown: %v", err)
		}
	}()

	log.Printf("Listening on %s, upstream %s", addr, cfg.Upstream)
	if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.Fatal(err)
	}
	<-done
	server.Close()
	log.Println("stopped")
}

func runBrowser(target string, headful bool, duration time.Duration) {
	cfg := proxy.DefaultConfig()
	b := browser.New(browser.Options{
		Headful:  headful,
		Duration: duration,
		Enabled:  func(u string) bool { return proxy.MatchURL(cfg.HostPatterns, u) },
		Logger:   log.Default(),
	})
	defer b.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := b.Run(ctx, target); err != nil {
		log.Fatalf("browser: %v", err)
	}
}
