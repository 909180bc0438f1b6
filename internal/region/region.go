// Package region carves standalone fragments out of a rendered page.
//
// The header fragment carries the page's stylesheets and scripts so it can
// be composed into another site's page; the footer fragment carries the
// scripts that load after it. Matched asset nodes are moved, not copied,
// into wrapper divs, so each call consumes the document it is given.
//
// Only the first <header> and <footer> of a page are used, even when a page
// legitimately has several.
package region

import (
	"strings"

	"github.com/antchfx/xpath"

	"moderngov/internal/dom"
)

// Wrapper classes of the generated fragments.
const (
	HeadAssetsClass       = "scripts-n-links"
	PreHeaderScriptClass  = "pre-header-body-scripts"
	PostFooterScriptClass = "post-footer-body-scripts"
)

const partSeparator = "\n\n"

var (
	headAssetsQuery       = xpath.MustCompile(`/html/head/script|/html/head/link[@rel="stylesheet"]`)
	preHeaderScriptQuery  = xpath.MustCompile(`/html/body//script[following::header]`)
	postFooterScriptQuery = xpath.MustCompile(`/html/body//script[preceding::footer]`)
	visibleMainQuery      = xpath.MustCompile(`//main[not(@hidden)]`)
)

// FullDocument returns doc unchanged.
func FullDocument(doc *dom.Document) *dom.Document {
	return doc
}

// EmptyMainContent clears the children of the first <main> that has no
// hidden attribute. A page may only have one visible <main>; if it has more,
// the rest are left alone.
func EmptyMainContent(doc *dom.Document) *dom.Document {
	mains := doc.QueryAll(visibleMainQuery)
	if len(mains) == 0 {
		return doc
	}
	dom.RemoveChildren(mains[0])
	return doc
}

// Header returns the head assets, the body scripts that come before the
// header, and the first <header> itself, in that order. It returns "" when
// the page has no <header>.
func Header(doc *dom.Document) (string, error) {
	header := doc.First("header")
	if header == nil {
		return "", nil
	}
	headerHTML, err := dom.OuterHTML(header)
	if err != nil {
		return "", err
	}

	headAssets, err := ExtractMarkup(doc, headAssetsQuery, HeadAssetsClass)
	if err != nil {
		return "", err
	}
	preHeaderScripts, err := ExtractMarkup(doc, preHeaderScriptQuery, PreHeaderScriptClass)
	if err != nil {
		return "", err
	}

	return joinParts(headAssets, preHeaderScripts, headerHTML), nil
}

// Footer returns the first <footer> followed by the body scripts that come
// after it. It returns "" when the page has no <footer>.
func Footer(doc *dom.Document) (string, error) {
	footer := doc.First("footer")
	if footer == nil {
		return "", nil
	}
	footerHTML, err := dom.OuterHTML(footer)
	if err != nil {
		return "", err
	}

	postFooterScripts, err := ExtractMarkup(doc, postFooterScriptQuery, PostFooterScriptClass)
	if err != nil {
		return "", err
	}

	return joinParts(footerHTML, postFooterScripts), nil
}

// ExtractMarkup moves every node matched by query into a new <div> and
// returns the div's markup. The div gets wrapperClass as its class unless
// wrapperClass is empty. Nothing matched means "".
func ExtractMarkup(doc *dom.Document, query *xpath.Expr, wrapperClass string) (string, error) {
	nodes := doc.QueryAll(query)
	if len(nodes) == 0 {
		return "", nil
	}

	wrapper := dom.CreateElement("div", wrapperClass)
	for _, n := range nodes {
		dom.Move(n, wrapper)
	}
	return dom.OuterHTML(wrapper)
}

func joinParts(parts ...string) string {
	nonEmpty := parts[:0]
	for _, p := range parts {
		if p != "" {
			nonEmpty = append(nonEmpty, p)
		}
	}
	return strings.TrimSpace(strings.Join(nonEmpty, partSeparator))
}
