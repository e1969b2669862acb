// Package dom is a small, mutex-guarded document model over
// golang.org/x/net/html nodes with childList mutation observers and an
// interceptable image source property.
package dom

import (
	"errors"
	"fmt"
	"io"
	"net/url"
	"strings"
	"sync"

	"github.com/andybalholm/cascadia"
	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

var (
	ErrNotChild = errors.New("dom: node is not a child of parent")
	ErrNilNode  = errors.New("dom: nil node")
	ErrCycle    = errors.New("dom: node would become its own ancestor")
)

var imgSel = cascadia.MustCompile("img")

// SrcSetter assigns the source of an image element. The document routes
// every SetSrc through the installed SrcSetter.
type SrcSetter interface {
	SetSrc(el *html.Node, value string)
}

// SrcSetterFunc adapts a function to SrcSetter.
type SrcSetterFunc func(el *html.Node, value string)

func (f SrcSetterFunc) SetSrc(el *html.Node, value string) { f(el, value) }

// Document owns an html tree. All reads and writes of the tree go through
// its methods.
type Document struct {
	mu     sync.Mutex
	root   *html.Node
	base   *url.URL
	setter SrcSetter

	obsMu     sync.Mutex
	observers map[int]func([]Record)
	nextObs   int
}

// New returns an empty document (html, head and body) with the given base URL.
func New(base string) *Document {
	d, _ := Parse(strings.NewReader(""), base)
	return d
}

// Parse builds a document from HTML markup.
func Parse(r io.Reader, base string) (*Document, error) {
	root, err := html.Parse(r)
	if err != nil {
		return nil, fmt.Errorf("dom: parse: %w", err)
	}
	d := &Document{root: root, observers: make(map[int]func([]Record))}
	if base != "" {
		if u, err := url.Parse(base); err == nil {
			d.base = u
		}
	}
	return d, nil
}

// Root returns the document node.
func (d *Document) Root() *html.Node { return d.root }

// URL returns the document base URL, or "".
func (d *Document) URL() string {
	if d.base == nil {
		return ""
	}
	return d.base.String()
}

// Body returns the body element, or nil.
func (d *Document) Body() *html.Node {
	d.mu.Lock()
	defer d.mu.Unlock()
	var body *html.Node
	walk(d.root, func(n *html.Node) bool {
		if n.Type == html.ElementNode && n.DataAtom == atom.Body {
			body = n
			return false
		}
		return true
	})
	return body
}

// CreateElement returns a detached element.
func (d *Document) CreateElement(tag string) *html.Node {
	tag = strings.ToLower(strings.TrimSpace(tag))
	return &html.Node{Type: html.ElementNode, Data: tag, DataAtom: atom.Lookup([]byte(tag))}
}

// ResolveURL resolves ref against the document base URL.
func (d *Document) ResolveURL(ref string) string {
	if d.base == nil {
		return ref
	}
	u, err := url.Parse(strings.TrimSpace(ref))
	if err != nil {
		return ref
	}
	return d.base.ResolveReference(u).String()
}

// Render serialises the tree.
func (d *Document) Render(w io.Writer) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	return html.Render(w, d.root)
}

// Contains reports whether n is attached to the document tree.
func (d *Document) Contains(n *html.Node) bool {
	if n == nil {
		return false
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	for p := n; p != nil; p = p.Parent {
		if p == d.root {
			return true
		}
	}
	return false
}

// QueryAll returns n and its descendants matching the CSS selector, in
// document order.
func (d *Document) QueryAll(n *html.Node, selector string) ([]*html.Node, error) {
	sel, err := cascadia.Compile(selector)
	if err != nil {
		return nil, fmt.Errorf("dom: selector %q: %w", selector, err)
	}
	if n == nil {
		n = d.root
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	return match(n, sel), nil
}

// Images returns n itself when it is an img element plus every img below it.
func (d *Document) Images(n *html.Node) []*html.Node {
	if n == nil {
		return nil
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	return match(n, imgSel)
}

func match(n *html.Node, sel cascadia.Selector) []*html.Node {
	var out []*html.Node
	walk(n, func(c *html.Node) bool {
		if c.Type == html.ElementNode && sel.Match(c) {
			out = append(out, c)
		}
		return true
	})
	return out
}

// walk visits n and its subtree depth first until fn returns false.
func walk(n *html.Node, fn func(*html.Node) bool) bool {
	if !fn(n) {
		return false
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if !walk(c, fn) {
			return false
		}
	}
	return true
}

// IsImage reports whether n is an img element.
func IsImage(n *html.Node) bool {
	return n != nil && n.Type == html.ElementNode && n.DataAtom == atom.Img
}
