package main

import (
	"bytes"
	"flag"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"strings"
	"time"

	"tilewhite/internal/dom"
	"tilewhite/internal/pixel"
	"tilewhite/internal/tile"
)

func main() {
	out := flag.String("out", "", "write the rewritten tile to this file")
	flag.Parse()
	url := "https://wplace.live/"
	if flag.NArg() > 0 {
		url = flag.Arg(0)
	}
	log.Printf("fetch %s", url)
	req, _ := http.NewRequest(http.MethodGet, url, nil)
	req.Header.Set("User-Agent", "tiledebug/1.0")
	req.Header.Set("Accept", "text/html,application/xhtml+xml,image/png,*/*;q=0.8")
	client := &http.Client{Timeout: 15 * time.Second}
	resp, err := client.Do(req)
	if err != nil {
		log.Fatal(err)
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		log.Fatal(err)
	}
	fmt.Printf("status=%d type=%q bytes=%d\n", resp.StatusCode, resp.Header.Get("Content-Type"), len(body))

	if bytes.HasPrefix(body, []byte("\x89PNG")) || tile.IsTileURL(url) {
		inspectTile(body, *out)
		return
	}
	listImages(body, resp.Request.URL.String())
}

func inspectTile(body []byte, out string) {
	before, err := pixel.StatsOf(body)
	if err != nil {
		log.Fatal(err)
	}
	fmt.Printf("before %dx%d transparent=%d partial=%d opaque=%d\n", before.Width, before.Height, before.Transparent, before.Partial, before.Opaque)
	res, err := pixel.Rewrite(body)
	if err != nil {
		log.Fatal(err)
	}
	after, _ := pixel.StatsOf(res.Data)
	fmt.Printf("after  %dx%d transparent=%d partial=%d opaque=%d whitened=%d bytes=%d\n", after.Width, after.Height, after.Transparent, after.Partial, after.Opaque, res.Rewritten, len(res.Data))
	if out != "" {
		if err := os.WriteFile(out, res.Data, 0o644); err != nil {
			log.Fatal(err)
		}
		log.Printf("wrote %s", out)
	}
}

func listImages(body []byte, base string) {
	doc, err := dom.Parse(bytes.NewReader(body), base)
	if err != nil {
		log.Fatal(err)
	}
	imgs, err := doc.QueryAll(nil, "img[src]")
	if err != nil {
		log.Fatal(err)
	}
	tiles := 0
	for _, img := range imgs {
		src := doc.Src(img)
		kind := "other"
		if tile.IsTileURL(src) {
			kind = "tile"
			tiles++
			if n, ok := tile.TileIndex(src); ok {
				kind = fmt.Sprintf("tile#%d", n)
			}
		} else if strings.Contains(src, tile.ProcessedMarker) {
			kind = "processed"
		}
		fmt.Printf("img %-10s %s\n", kind, doc.ResolveURL(src))
	}
	fmt.Printf("%d images, %d tiles\n", len(imgs), tiles)
}
