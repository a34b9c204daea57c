package ingest

import (
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"golang.org/x/net/html"
)

// labelValues is the structured label→value lookup built from a detail page.
// Keys keep first-seen document order so pattern searches stay deterministic.
type labelValues struct {
	keys []string
	m    map[string]string
}

func newLabelValues() *labelValues {
	return &labelValues{m: make(map[string]string)}
}

// put records a pair unless the label was already seen; the first (most
// structured) source of a label wins.
func (lv *labelValues) put(label, value string) {
	if label == "" || value == "" {
		return
	}
	if _, ok := lv.m[label]; ok {
		return
	}
	lv.m[label] = value
	lv.keys = append(lv.keys, label)
}

// firstMatch returns the value of the first key matching any of the
// case-insensitive label patterns, in pattern-then-document order.
func (lv *labelValues) firstMatch(patterns []string) string {
	for _, pat := range patterns {
		re := regexp.MustCompile("(?i)" + pat)
		for _, k := range lv.keys {
			if re.MatchString(k) {
				return lv.m[k]
			}
		}
	}
	return ""
}

// extractLabelValues builds the label→value map from three passes: two-column
// table rows, definition lists, and a generic heuristic that treats any free
// text node as a candidate label with the nearest following sibling element's
// text as its value.
func extractLabelValues(doc *goquery.Document) *labelValues {
	lv := newLabelValues()

	doc.Find("tr").Each(func(_ int, tr *goquery.Selection) {
		th := tr.Find("th").First()
		td := tr.Find("td").First()
		if th.Length() > 0 && td.Length() > 0 {
			lv.put(normalizeSpace(th.Text()), normalizeSpace(td.Text()))
		}
	})

	doc.Find("dl").Each(func(_ int, dl *goquery.Selection) {
		dts := dl.Find("dt")
		dds := dl.Find("dd")
		n := dts.Length()
		if dds.Length() < n {
			n = dds.Length()
		}
		for i := 0; i < n; i++ {
			lv.put(normalizeSpace(dts.Eq(i).Text()), normalizeSpace(dds.Eq(i).Text()))
		}
	})

	for _, root := range doc.Nodes {
		walkTextNodes(root, func(n *html.Node) bool {
			label := normalizeSpace(n.Data)
			if label == "" || n.Parent == nil {
				return false
			}
			for sib := n.Parent.NextSibling; sib != nil; sib = sib.NextSibling {
				if sib.Type != html.ElementNode {
					continue
				}
				val := normalizeSpace(nodeText(sib))
				if val != "" && val != label && len([]rune(val)) >= 2 {
					lv.put(label, val)
					break
				}
			}
			return false
		})
	}

	return lv
}

// valueAfterLabel is the DOM-proximity fallback tier: locate a text node
// matching a label pattern and walk to its value via, in order, the following
// td of an enclosing header cell, the following dd of an enclosing term, the
// next sibling element's text, or the next text node in document order.
func valueAfterLabel(doc *goquery.Document, patterns []string) string {
	for _, pat := range patterns {
		re := regexp.MustCompile("(?i)" + pat)
		var found string
		for _, root := range doc.Nodes {
			walkTextNodes(root, func(n *html.Node) bool {
				if !re.MatchString(n.Data) {
					return false
				}
				parent := n.Parent
				if parent == nil || parent.Type != html.ElementNode {
					return false
				}

				if parent.Data == "th" || parent.Data == "label" {
					if td := findFollowing(parent, "td"); td != nil {
						if t := normalizeSpace(nodeText(td)); t != "" {
							found = t
							return true
						}
					}
				}
				if parent.Data == "dt" {
					if dd := findFollowing(parent, "dd"); dd != nil {
						if t := normalizeSpace(nodeText(dd)); t != "" {
							found = t
							return true
						}
					}
				}
				for sib := parent.NextSibling; sib != nil; sib = sib.NextSibling {
					if sib.Type != html.ElementNode {
						continue
					}
					if t := normalizeSpace(nodeText(sib)); t != "" {
						found = t
						return true
					}
				}
				if next := nextTextNode(n); next != nil {
					if t := normalizeSpace(next.Data); t != "" {
						found = t
						return true
					}
				}
				return false
			})
			if found != "" {
				return found
			}
		}
	}
	return ""
}

// walkTextNodes visits text nodes in document order, skipping script/style
// subtrees. The callback returns true to stop the walk.
func walkTextNodes(root *html.Node, fn func(*html.Node) bool) bool {
	if root.Type == html.ElementNode && (root.Data == "script" || root.Data == "style") {
		return false
	}
	if root.Type == html.TextNode {
		return fn(root)
	}
	for c := root.FirstChild; c != nil; c = c.NextSibling {
		if walkTextNodes(c, fn) {
			return true
		}
	}
	return false
}

// nodeText returns the concatenated text of a node's subtree.
func nodeText(n *html.Node) string {
	var b strings.Builder
	var rec func(*html.Node)
	rec = func(m *html.Node) {
		if m.Type == html.ElementNode && (m.Data == "script" || m.Data == "style") {
			return
		}
		if m.Type == html.TextNode {
			b.WriteString(m.Data)
			b.WriteByte(' ')
		}
		for c := m.FirstChild; c != nil; c = c.NextSibling {
			rec(c)
		}
	}
	rec(n)
	return b.String()
}

// docNext returns the successor of n in document order.
func docNext(n *html.Node) *html.Node {
	if n.FirstChild != nil {
		return n.FirstChild
	}
	for n != nil {
		if n.NextSibling != nil {
			return n.NextSibling
		}
		n = n.Parent
	}
	return nil
}

// findFollowing returns the first element with the given tag after n in
// document order.
func findFollowing(n *html.Node, tag string) *html.Node {
	for m := docNext(n); m != nil; m = docNext(m) {
		if m.Type == html.ElementNode && m.Data == tag {
			return m
		}
	}
	return nil
}

// nextTextNode returns the first non-blank text node after n in document
// order.
func nextTextNode(n *html.Node) *html.Node {
	for m := docNext(n); m != nil; m = docNext(m) {
		if m.Type == html.TextNode && normalizeSpace(m.Data) != "" {
			return m
		}
	}
	return nil
}
