package region_test

import (
	"strings"
	"testing"

	"github.com/PuerkitoBio/goquery"
	"github.com/antchfx/xpath"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"moderngov/internal/dom"
	"moderngov/internal/region"
)

func fragment(t *testing.T, markup string) *goquery.Document {
	t.Helper()
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(markup))
	require.NoError(t, err)
	return doc
}

func srcs(s *goquery.Selection) []string {
	var out []string
	s.Each(func(_ int, sel *goquery.Selection) {
		if src, ok := sel.Attr("src"); ok {
			out = append(out, src)
		}
	})
	return out
}

func TestHeader(t *testing.T) {
	t.Parallel()

	t.Run("head assets, pre-header scripts, then header", func(t *testing.T) {
		t.Parallel()

		doc := dom.ParseString(`<html><head><link rel="stylesheet" href="a.css"><script src="s0.js"></script></head>` +
			`<body><script src="s1.js"></script><header>H</header><script src="s2.js"></script></body></html>`)

		got, err := region.Header(doc)
		require.NoError(t, err)

		links := strings.Index(got, `class="scripts-n-links"`)
		preHeader := strings.Index(got, `class="pre-header-body-scripts"`)
		header := strings.Index(got, "<header>H</header>")
		require.NotEqual(t, -1, links)
		require.NotEqual(t, -1, preHeader)
		require.NotEqual(t, -1, header)
		assert.Less(t, links, preHeader)
		assert.Less(t, preHeader, header)
		assert.NotContains(t, got, "s2.js")
		assert.True(t, strings.HasSuffix(got, "</div>\n\n<header>H</header>"), got)

		frag := fragment(t, got)
		headAssets := frag.Find("div.scripts-n-links")
		require.Equal(t, 1, headAssets.Length())
		href, _ := headAssets.Children().First().Attr("href")
		assert.Equal(t, "a.css", href, "link comes first in document order")
		assert.Equal(t, []string{"s0.js"}, srcs(headAssets.Find("script")))
		assert.Equal(t, []string{"s1.js"}, srcs(frag.Find("div.pre-header-body-scripts script")))
	})

	t.Run("no header returns empty string", func(t *testing.T) {
		t.Parallel()

		doc := dom.ParseString(`<html><head><script src="s0.js"></script></head><body><main>M</main></body></html>`)

		got, err := region.Header(doc)
		require.NoError(t, err)
		assert.Equal(t, "", got)
	})

	t.Run("empty parts are omitted", func(t *testing.T) {
		t.Parallel()

		doc := dom.ParseString(`<html><head><title>T</title></head><body><header>H</header></body></html>`)

		got, err := region.Header(doc)
		require.NoError(t, err)
		assert.Equal(t, "<header>H</header>", got)
	})

	t.Run("non-stylesheet links stay behind", func(t *testing.T) {
		t.Parallel()

		doc := dom.ParseString(`<html><head><link rel="icon" href="f.ico"><link rel="stylesheet" href="b.css"></head>` +
			`<body><header>H</header></body></html>`)

		got, err := region.Header(doc)
		require.NoError(t, err)
		assert.Contains(t, got, "b.css")
		assert.NotContains(t, got, "f.ico")
	})

	t.Run("scripts inside the header stay in the header", func(t *testing.T) {
		t.Parallel()

		doc := dom.ParseString(`<html><head></head><body><div><script src="nested.js"></script></div>` +
			`<header><script src="in-header.js"></script>H</header></body></html>`)

		got, err := region.Header(doc)
		require.NoError(t, err)

		frag := fragment(t, got)
		assert.Equal(t, []string{"nested.js"}, srcs(frag.Find("div.pre-header-body-scripts script")))
		assert.Equal(t, []string{"in-header.js"}, srcs(frag.Find("header script")))
	})

	t.Run("only the first header is used", func(t *testing.T) {
		t.Parallel()

		doc := dom.ParseString(`<html><head></head><body><header>one</header><header>two</header></body></html>`)

		got, err := region.Header(doc)
		require.NoError(t, err)
		assert.Equal(t, "<header>one</header>", got)
	})

	t.Run("assets are moved out of the document", func(t *testing.T) {
		t.Parallel()

		doc := dom.ParseString(`<html><head><script src="s0.js"></script></head>` +
			`<body><script src="s1.js"></script><header>H</header></body></html>`)

		_, err := region.Header(doc)
		require.NoError(t, err)

		rest, err := doc.String()
		require.NoError(t, err)
		assert.NotContains(t, rest, "s0.js")
		assert.NotContains(t, rest, "s1.js")
		assert.Contains(t, rest, "<header>H</header>")
	})
}

func TestFooter(t *testing.T) {
	t.Parallel()

	t.Run("footer then post-footer scripts", func(t *testing.T) {
		t.Parallel()

		doc := dom.ParseString(`<html><head></head><body><script src="before.js"></script>` +
			`<footer>F</footer><script src="s3.js"></script></body></html>`)

		got, err := region.Footer(doc)
		require.NoError(t, err)
		assert.Equal(t, "<footer>F</footer>\n\n"+
			`<div class="post-footer-body-scripts"><script src="s3.js"></script></div>`, got)
	})

	t.Run("no trailing scripts", func(t *testing.T) {
		t.Parallel()

		doc := dom.ParseString(`<html><head></head><body><footer>F</footer></body></html>`)

		got, err := region.Footer(doc)
		require.NoError(t, err)
		assert.Equal(t, "<footer>F</footer>", got)
	})

	t.Run("scripts inside the footer stay in the footer", func(t *testing.T) {
		t.Parallel()

		doc := dom.ParseString(`<html><head></head><body><footer><script src="in.js"></script>F</footer>` +
			`<div><script src="after.js"></script></div></body></html>`)

		got, err := region.Footer(doc)
		require.NoError(t, err)

		frag := fragment(t, got)
		assert.Equal(t, []string{"in.js"}, srcs(frag.Find("footer script")))
		assert.Equal(t, []string{"after.js"}, srcs(frag.Find("div.post-footer-body-scripts script")))
	})

	t.Run("no footer returns empty string", func(t *testing.T) {
		t.Parallel()

		doc := dom.ParseString(`<html><head></head><body><script src="s3.js"></script></body></html>`)

		got, err := region.Footer(doc)
		require.NoError(t, err)
		assert.Equal(t, "", got)
	})
}

func TestEmptyMainContent(t *testing.T) {
	t.Parallel()

	t.Run("first visible main is emptied", func(t *testing.T) {
		t.Parallel()

		doc := dom.ParseString(`<html><body><main hidden><p>a</p></main>` +
			`<main id="content" class="page"><p>b</p>text<!-- c --></main></body></html>`)

		out, err := region.EmptyMainContent(doc).String()
		require.NoError(t, err)

		frag := fragment(t, out)
		mains := frag.Find("main")
		require.Equal(t, 2, mains.Length())
		assert.Equal(t, "a", mains.Eq(0).Find("p").Text())
		assert.Equal(t, 0, mains.Eq(1).Contents().Length())
		assert.Contains(t, out, `<main id="content" class="page"></main>`)
	})

	t.Run("only the first visible main is emptied", func(t *testing.T) {
		t.Parallel()

		doc := dom.ParseString(`<html><body><main><p>a</p></main><main><p>b</p></main></body></html>`)

		out, err := region.EmptyMainContent(doc).String()
		require.NoError(t, err)
		assert.Contains(t, out, "<main></main><main><p>b</p></main>")
	})

	t.Run("no visible main leaves the document alone", func(t *testing.T) {
		t.Parallel()

		src := `<html><head></head><body><main hidden=""><p>a</p></main></body></html>`
		doc := dom.ParseString(src)

		out, err := region.EmptyMainContent(doc).String()
		require.NoError(t, err)
		assert.Equal(t, src, out)
	})
}

func TestFullDocument(t *testing.T) {
	t.Parallel()

	doc := dom.ParseString(`<html><body><header>H</header></body></html>`)
	assert.Same(t, doc, region.FullDocument(doc))
}

func TestExtractMarkup(t *testing.T) {
	t.Parallel()

	paragraphs := xpath.MustCompile("//p")

	t.Run("wrapper without class", func(t *testing.T) {
		t.Parallel()

		doc := dom.ParseString(`<html><body><p>1</p><div><p>2</p></div></body></html>`)

		got, err := region.ExtractMarkup(doc, paragraphs, "")
		require.NoError(t, err)
		assert.Equal(t, "<div><p>1</p><p>2</p></div>", got)
	})

	t.Run("wrapper with class", func(t *testing.T) {
		t.Parallel()

		doc := dom.ParseString(`<html><body><p>1</p></body></html>`)

		got, err := region.ExtractMarkup(doc, paragraphs, "wrap")
		require.NoError(t, err)
		assert.Equal(t, `<div class="wrap"><p>1</p></div>`, got)
	})

	t.Run("no match", func(t *testing.T) {
		t.Parallel()

		doc := dom.ParseString(`<html><body><span>1</span></body></html>`)

		got, err := region.ExtractMarkup(doc, paragraphs, "wrap")
		require.NoError(t, err)
		assert.Equal(t, "", got)
	})
}
