package htmlutil

import (
	"strconv"
	"strings"

	"golang.org/x/net/html"
)

// Snapshots taken from a live tab carry the rendered box of each element as these
// attributes. Plain server-rendered html does not, in which case the box is unknown
// and assumed present.
const (
	AttrBoxWidth  = "data-box-width"
	AttrBoxHeight = "data-box-height"
)

func attr(node *html.Node, key string) (string, bool) {
	for _, a := range node.Attr {
		if a.Key == key {
			return a.Val, true
		}
	}
	return "", false
}

// parseStyle turns an inline style attribute into a lowercase property map.
func parseStyle(style string) map[string]string {
	out := map[string]string{}
	for _, decl := range strings.Split(style, ";") {
		key, value, ok := strings.Cut(decl, ":")
		if !ok {
			continue
		}
		key = strings.ToLower(strings.TrimSpace(key))
		value = strings.ToLower(strings.TrimSpace(value))
		value = strings.TrimSpace(strings.TrimSuffix(value, "!important"))
		out[key] = value
	}
	return out
}

func zeroBox(node *html.Node) bool {
	for _, key := range []string{AttrBoxWidth, AttrBoxHeight} {
		raw, ok := attr(node, key)
		if !ok {
			continue
		}
		size, err := strconv.ParseFloat(strings.TrimSpace(raw), 64)
		if err != nil {
			continue
		}
		if size <= 0 {
			return true
		}
	}
	return false
}

// hidesSelf reports whether the node hides itself (and therefore its subtree).
func hidesSelf(node *html.Node) bool {
	switch node.Data {
	case "script", "style", "template", "noscript", "head":
		return true
	}
	if _, ok := attr(node, "hidden"); ok {
		return true
	}
	if raw, ok := attr(node, "style"); ok {
		style := parseStyle(raw)
		if style["display"] == "none" {
			return true
		}
		switch style["visibility"] {
		case "hidden", "collapse":
			return true
		}
		if opacity, ok := style["opacity"]; ok {
			value, err := strconv.ParseFloat(opacity, 64)
			if err == nil && value <= 0 {
				return true
			}
		}
	}
	return false
}

// Visible reports whether the element would be rendered: it and none of its ancestors
// are display:none, visibility:hidden, fully transparent or `hidden`, and the element
// itself has a non-zero layout box when one is known.
func Visible(node *html.Node) bool {
	if node == nil || node.Type != html.ElementNode {
		return false
	}
	if zeroBox(node) {
		return false
	}
	for current := node; current != nil; current = current.Parent {
		if current.Type != html.ElementNode {
			continue
		}
		if hidesSelf(current) {
			return false
		}
	}
	return true
}
