// Package page runs the template-page transforms over one response body.
package page

import (
	"bytes"
	"fmt"
	"io"
	"net/url"
	"strings"
	"unicode/utf8"

	"golang.org/x/net/html/charset"
	"golang.org/x/text/encoding/unicode"
	"golang.org/x/text/transform"

	"moderngov/internal/absurl"
	"moderngov/internal/dom"
	"moderngov/internal/region"
)

// Query parameters that select a transform.
const (
	NoContentParam = "nocontent"
	HeaderParam    = "header"
	FooterParam    = "footer"
)

// Mode is the shape of the transform output.
type Mode int

const (
	ModeFull Mode = iota
	ModeHeader
	ModeFooter
)

func (m Mode) String() string {
	switch m {
	case ModeHeader:
		return "header"
	case ModeFooter:
		return "footer"
	default:
		return "full"
	}
}

// Options drive one transform.
type Options struct {
	// SchemeAndHost is prefixed to root-relative URLs, e.g.
	// "https://www.example.org". No trailing slash.
	SchemeAndHost string

	NoContent bool
	Header    bool
	Footer    bool
}

// OptionsFromQuery reads the transform flags from a request query. A flag is
// set when its parameter is present, with or without a value.
func OptionsFromQuery(q url.Values, schemeAndHost string) Options {
	return Options{
		SchemeAndHost: schemeAndHost,
		NoContent:     q.Has(NoContentParam),
		Header:        q.Has(HeaderParam),
		Footer:        q.Has(FooterParam),
	}
}

// Mode reports which output the options ask for. Header wins over footer.
func (o Options) Mode() Mode {
	switch {
	case o.Header:
		return ModeHeader
	case o.Footer:
		return ModeFooter
	default:
		return ModeFull
	}
}

// Transform absolutizes URLs, optionally empties <main>, then serializes
// the whole document or the requested fragment. doc is consumed.
func Transform(doc *dom.Document, opts Options) (string, error) {
	doc = absurl.Absolutize(doc, opts.SchemeAndHost)

	if opts.NoContent {
		doc = region.EmptyMainContent(doc)
	}

	switch opts.Mode() {
	case ModeHeader:
		return region.Header(doc)
	case ModeFooter:
		return region.Footer(doc)
	default:
		return region.FullDocument(doc).String()
	}
}

// Result is a transformed body.
type Result struct {
	Body []byte
	Mode Mode
	// SourceCharset is the encoding the input was decoded from. Body is
	// always UTF-8.
	SourceCharset string

	relabel bool
}

// Transcoded reports whether Body can no longer be read as SourceCharset,
// so a charset label on the response must change to utf-8. ASCII-only
// output reads the same in any ASCII-compatible charset.
func (r *Result) Transcoded() bool {
	return r.relabel
}

// Process decodes body to UTF-8 using the charset declared in contentType
// or sniffed from the markup, then parses and transforms it.
func Process(body []byte, contentType string, opts Options) (*Result, error) {
	enc, name, certain := charset.DetermineEncoding(body, contentType)
	// Sniffing only looks at the first 1024 bytes.
	if !certain && name == "windows-1252" && utf8.Valid(body) {
		enc, name = unicode.UTF8, "utf-8"
	}

	var r io.Reader = bytes.NewReader(body)
	if name != "utf-8" {
		r = transform.NewReader(r, enc.NewDecoder())
	}

	doc, err := dom.Parse(r)
	if err != nil {
		return nil, fmt.Errorf("failed to decode %s body: %w", name, err)
	}

	out, err := Transform(doc, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to transform %s: %w", opts.Mode(), err)
	}

	return &Result{
		Body:          []byte(out),
		Mode:          opts.Mode(),
		SourceCharset: name,
		relabel:       name != "utf-8" && (!isASCII(out) || strings.HasPrefix(name, "utf-16")),
	}, nil
}

func isASCII(s string) bool {
	for i := 0; i < len(s); i++ {
		if s[i] >= utf8.RuneSelf {
			return false
		}
	}
	return true
}
