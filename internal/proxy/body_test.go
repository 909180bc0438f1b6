package proxy

import (
	"bytes"
	"io"
	"net/http"
	"strings"
	"testing"

	"github.com/klauspost/compress/gzip"
)

func gzipped(t *testing.T, s string) []byte {
	t.Helper()
	var buf bytes.Buffer
	zw := gzip.NewWriter(&buf)
	if _, err := zw.Write([]byte(s)); err != nil {
		t.Fatal(err)
	}
	if err := zw.Close(); err != nil {
		t.Fatal(err)
	}
	return buf.Bytes()
}

func TestReadBody(t *testing.T) {
	tests := []struct {
		name          string
		body          string
		contentLength int64
		maxSize       int64
		complete      bool
	}{
		{"fits", "hello", 5, 10, true},
		{"exactly max", "hello", 5, 5, true},
		{"unknown length fits", "hello", -1, 10, true},
		{"declared too large", "hello world", 11, 5, false},
		{"undeclared too large", "hello world", -1, 5, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp := &http.Response{
				Body:          io.NopCloser(strings.NewReader(tt.body)),
				ContentLength: tt.contentLength,
			}

			raw, complete, err := readBody(resp, tt.maxSize)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if complete != tt.complete {
				t.Errorf("expected complete %v, got %v", tt.complete, complete)
			}

			if complete {
				if string(raw) != tt.body {
					t.Errorf("expected %q, got %q", tt.body, raw)
				}
				return
			}

			rest, _ := io.ReadAll(resp.Body)
			if got := string(raw) + string(rest); got != tt.body {
				t.Errorf("expected stitched body %q, got %q", tt.body, got)
			}
		})
	}
}

func TestDecodeBody(t *testing.T) {
	page := "<html><body>hi</body></html>"

	tests := []struct {
		name        string
		raw         []byte
		encoding    string
		expectError bool
	}{
		{"identity", []byte(page), "", false},
		{"explicit identity", []byte(page), "identity", false},
		{"gzip", gzipped(t, page), "gzip", false},
		{"x-gzip mixed case", gzipped(t, page), " X-GZIP ", false},
		{"corrupt gzip", []byte(page), "gzip", true},
		{"brotli", []byte(page), "br", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			body, err := decodeBody(tt.raw, tt.encoding)
			if tt.expectError {
				if err == nil {
					t.Error("expected error but got none")
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if string(body) != page {
				t.Errorf("expected %q, got %q", page, body)
			}
		})
	}
}
