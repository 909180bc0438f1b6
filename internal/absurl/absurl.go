// Package absurl rewrites root-relative URLs in a page to absolute ones.
//
// A root-relative URL starts with a single slash ("/img/a.png", "/").
// Protocol-relative ("//cdn.example.com/x"), absolute and path-relative URLs
// are left untouched, which also makes a second pass over an already
// rewritten document a no-op.
package absurl

import (
	"fmt"
	"strings"

	"github.com/antchfx/xpath"

	"moderngov/internal/dom"
)

// URLAttributes lists the attributes whose values are treated as URLs.
var URLAttributes = []string{
	"href", "poster", "src", "cite", "data",
	"action", "formaction", "srcset", "about",
}

const srcsetAttr = "srcset"

var (
	rootRelativeQueries = compileRootRelativeQueries()
	srcsetQuery         = xpath.MustCompile("//*[@srcset]")
)

func compileRootRelativeQueries() map[string]*xpath.Expr {
	queries := make(map[string]*xpath.Expr, len(URLAttributes))
	for _, attr := range URLAttributes {
		if attr == srcsetAttr {
			continue
		}
		queries[attr] = xpath.MustCompile(fmt.Sprintf(
			"//*[starts-with(@%[1]s, '/') and not(starts-with(@%[1]s, '//'))]", attr))
	}
	return queries
}

// IsRootRelative reports whether v starts with exactly one slash.
func IsRootRelative(v string) bool {
	return len(v) > 0 && v[0] == '/' && (len(v) == 1 || v[1] != '/')
}

// Absolutize prefixes schemeAndHost (e.g. "https://example.org", no
// trailing slash) to every root-relative URL in the document and returns
// the same document.
func Absolutize(doc *dom.Document, schemeAndHost string) *dom.Document {
	for attr, query := range rootRelativeQueries {
		for _, n := range doc.QueryAll(query) {
			val, _ := dom.Attr(n, attr)
			if !IsRootRelative(val) {
				continue
			}
			dom.SetAttr(n, attr, schemeAndHost+val)
		}
	}

	for _, n := range doc.QueryAll(srcsetQuery) {
		val, _ := dom.Attr(n, srcsetAttr)
		dom.SetAttr(n, srcsetAttr, RewriteSrcset(val, schemeAndHost))
	}

	return doc
}

// RewriteSrcset rewrites each root-relative image candidate of a srcset
// value. Candidates are re-joined with ", " whatever the original
// separators were; descriptors ("2x", "480w") are kept.
func RewriteSrcset(srcset, schemeAndHost string) string {
	candidates := strings.Split(srcset, ",")
	for i, c := range candidates {
		c = strings.TrimSpace(c)
		if IsRootRelative(c) {
			c = schemeAndHost + c
		}
		candidates[i] = c
	}
	return strings.Join(candidates, ", ")
}
