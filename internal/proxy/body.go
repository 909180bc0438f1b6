package proxy

import (
	"bytes"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"github.com/klauspost/compress/gzip"
)

// readBody reads at most maxSize bytes of resp.Body. complete is false when
// the body is larger; resp.Body is then left positioned after raw so the
// caller can stitch the two back together. The body is closed only once it
// has been read completely.
func readBody(resp *http.Response, maxSize int64) (raw []byte, complete bool, err error) {
	if resp.ContentLength > 0 && resp.ContentLength > maxSize {
		return nil, false, nil
	}

	// +1 to detect if limit exceeded
	raw, err = io.ReadAll(io.LimitReader(resp.Body, maxSize+1))
	if err != nil {
		return nil, false, fmt.Errorf("failed to read response body: %w", err)
	}
	if int64(len(raw)) > maxSize {
		return raw, false, nil
	}

	if err := resp.Body.Close(); err != nil {
		slog.Error("Failed to close response body", "error", err)
	}
	return raw, true, nil
}

// decodeBody undoes the response's Content-Encoding. Identity and gzip are
// supported; anything else is an error and the body is left alone.
func decodeBody(raw []byte, contentEncoding string) ([]byte, error) {
	switch strings.ToLower(strings.TrimSpace(contentEncoding)) {
	case "", "identity":
		return raw, nil
	case "gzip", "x-gzip":
		zr, err := gzip.NewReader(bytes.NewReader(raw))
		if err != nil {
			return nil, fmt.Errorf("failed to open gzip body: %w", err)
		}
		defer zr.Close()

		body, err := io.ReadAll(zr)
		if err != nil {
			return nil, fmt.Errorf("failed to gunzip body: %w", err)
		}
		return body, nil
	default:
		return nil, fmt.Errorf("unsupported content encoding '%s'", contentEncoding)
	}
}
