package dom

import (
	"strings"

	"golang.org/x/net/html"
)

// Attr returns the value of attribute name on el.
func (d *Document) Attr(el *html.Node, name string) (string, bool) {
	if el == nil {
		return "", false
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	for _, a := range el.Attr {
		if a.Namespace == "" && strings.EqualFold(a.Key, name) {
			return a.Val, true
		}
	}
	return "", false
}

// SetAttr writes attribute name on el. Attribute writes produce no records.
func (d *Document) SetAttr(el *html.Node, name, value string) {
	if el == nil {
		return
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	setAttr(el, name, value)
}

func setAttr(el *html.Node, name, value string) {
	for i, a := range el.Attr {
		if a.Namespace == "" && strings.EqualFold(a.Key, name) {
			el.Attr[i].Val = value
			return
		}
	}
	el.Attr = append(el.Attr, html.Attribute{Key: strings.ToLower(name), Val: value})
}

// Src returns the src attribute of el.
func (d *Document) Src(el *html.Node) string {
	v, _ := d.Attr(el, "src")
	return v
}

// StoreSrc is the raw source write that bypasses any installed SrcSetter.
func (d *Document) StoreSrc(el *html.Node, value string) {
	d.SetAttr(el, "src", value)
}

// SetSrc assigns el's source through the installed SrcSetter.
func (d *Document) SetSrc(el *html.Node, value string) {
	d.mu.Lock()
	s := d.setter
	d.mu.Unlock()
	if s == nil {
		d.StoreSrc(el, value)
		return
	}
	s.SetSrc(el, value)
}

// Install makes s the strategy behind SetSrc and returns the previous one.
// A nil s restores direct assignment.
func (d *Document) Install(s SrcSetter) SrcSetter {
	d.mu.Lock()
	defer d.mu.Unlock()
	prev := d.setter
	d.setter = s
	return prev
}
