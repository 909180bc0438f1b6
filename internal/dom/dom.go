// Package dom is the in-memory document model shared by the page transforms.
//
// A Document wraps a golang.org/x/net/html tree. Parsing never fails on
// malformed markup: the HTML5 tree builder repairs what it can and the
// result is used as-is. Node selection goes through XPath (antchfx/xpath)
// so queries that depend on document order, such as following:: and
// preceding:: axes, can be expressed directly.
//
// A Document is owned by exactly one caller at a time. Transforms mutate it
// in place and hand it back; nothing here is safe for concurrent use.
package dom

import (
	"bytes"
	"fmt"
	"io"
	"strings"

	"github.com/antchfx/htmlquery"
	"github.com/antchfx/xpath"
	"golang.org/x/net/html"
)

// Document is a parsed HTML page.
type Document struct {
	root *html.Node
}

// Parse reads a full HTML document. Only errors from r are reported.
func Parse(r io.Reader) (*Document, error) {
	root, err := htmlquery.Parse(r)
	if err != nil {
		return nil, fmt.Errorf("failed to parse HTML: %w", err)
	}
	return &Document{root: root}, nil
}

// ParseString parses an in-memory HTML string. Reading from a string cannot
// fail, so neither can this.
func ParseString(s string) *Document {
	doc, err := Parse(strings.NewReader(s))
	if err != nil {
		return &Document{root: &html.Node{Type: html.DocumentNode}}
	}
	return doc
}

// Root returns the document node.
func (d *Document) Root() *html.Node {
	return d.root
}

// QueryAll evaluates expr against the document and returns the matching
// nodes in document order, without duplicates.
func (d *Document) QueryAll(expr *xpath.Expr) []*html.Node {
	nodes := htmlquery.QuerySelectorAll(d.root, expr)
	if len(nodes) < 2 {
		return nodes
	}
	return d.inDocumentOrder(nodes)
}

// Elements returns every element named tag, in document order.
func (d *Document) Elements(tag string) []*html.Node {
	var found []*html.Node
	d.walk(func(n *html.Node) bool {
		if n.Type == html.ElementNode && n.Data == tag {
			found = append(found, n)
		}
		return true
	})
	return found
}

// First returns the first element named tag, or nil.
func (d *Document) First(tag string) *html.Node {
	var found *html.Node
	d.walk(func(n *html.Node) bool {
		if n.Type == html.ElementNode && n.Data == tag {
			found = n
			return false
		}
		return true
	})
	return found
}

// Render writes the whole document.
func (d *Document) Render(w io.Writer) error {
	if err := html.Render(w, d.root); err != nil {
		return fmt.Errorf("failed to render HTML: %w", err)
	}
	return nil
}

// String serializes the whole document.
func (d *Document) String() (string, error) {
	var buf bytes.Buffer
	if err := d.Render(&buf); err != nil {
		return "", err
	}
	return buf.String(), nil
}

// walk visits nodes depth-first, parents before children. Returning false
// from visit stops the walk.
func (d *Document) walk(visit func(*html.Node) bool) {
	var f func(*html.Node) bool
	f = func(n *html.Node) bool {
		if !visit(n) {
			return false
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			if !f(c) {
				return false
			}
		}
		return true
	}
	f(d.root)
}

// inDocumentOrder sorts nodes by their position in the tree. XPath unions
// are evaluated branch by branch, so their results are not ordered.
func (d *Document) inDocumentOrder(nodes []*html.Node) []*html.Node {
	wanted := make(map[*html.Node]struct{}, len(nodes))
	for _, n := range nodes {
		wanted[n] = struct{}{}
	}

	ordered := make([]*html.Node, 0, len(wanted))
	d.walk(func(n *html.Node) bool {
		if _, ok := wanted[n]; ok {
			ordered = append(ordered, n)
			delete(wanted, n)
		}
		return len(wanted) > 0
	})
	return ordered
}
