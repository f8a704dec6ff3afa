package httptransport

import (
	"bytes"
	"compress/gzip"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
)

// errResponseDecompressedTooLarge is returned once a response body grows
// past MaxDecompressedResponseSize.
var errResponseDecompressedTooLarge = errors.New("decompressed response exceeds maximum size limit")

// errResponseTooLarge is returned once the raw response body grows past
// MaxResponseSize.
var errResponseTooLarge = errors.New("response body exceeds maximum size limit")

// errUnreadableResponse marks bodies the client cannot decode at all.
var errUnreadableResponse = errors.New("unreadable response")

// maxDecompressedReader wraps an io.Reader to enforce a size limit
type maxDecompressedReader struct {
	reader   io.Reader
	limit    int64
	consumed int64
	tooLarge error
}

func (r *maxDecompressedReader) Read(p []byte) (int, error) {
	if r.consumed >= r.limit {
		// one more byte means the limit was exceeded, EOF means it was exact
		var probe [1]byte
		n, err := r.reader.Read(probe[:])
		if n > 0 {
			return 0, r.tooLarge
		}
		return 0, err
	}

	maxRead := r.limit - r.consumed
	if int64(len(p)) > maxRead {
		p = p[:maxRead]
	}
	n, err := r.reader.Read(p)
	r.consumed += int64(n)
	return n, err
}

// createSafeResponseReader returns a reader over resp.Body that enforces
// the compressed and decompressed size limits. Bodies still gzip-encoded
// (auto-decompression disabled) are decompressed here.
func createSafeResponseReader(resp *http.Response, options *ClientOptions) (io.Reader, func(), error) {
	limited := &maxDecompressedReader{
		reader:   resp.Body,
		limit:    options.MaxResponseSize,
		tooLarge: errResponseTooLarge,
	}

	encoding := strings.TrimSpace(strings.ToLower(resp.Header.Get("Content-Encoding")))
	switch encoding {
	case "":
		return limited, func() {}, nil
	case "gzip":
		gzReader, err := gzip.NewReader(limited)
		if err != nil {
			return nil, func() {}, fmt.Errorf("%w: invalid gzip data: %v", errUnreadableResponse, err)
		}
		return &maxDecompressedReader{
			reader:   gzReader,
			limit:    options.MaxDecompressedResponseSize,
			tooLarge: errResponseDecompressedTooLarge,
		}, func() { gzReader.Close() }, nil
	default:
		return nil, func() {}, fmt.Errorf("%w: unsupported content encoding %s (only gzip is supported)", errUnreadableResponse, encoding)
	}
}

// gzipPayload compresses payload with the default level.
func gzipPayload(payload []byte) ([]byte, error) {
	var buf bytes.Buffer
	gw := gzip.NewWriter(&buf)
	if _, err := gw.Write(payload); err != nil {
		return nil, fmt.Errorf("failed to compress request: %w", err)
	}
	if err := gw.Close(); err != nil {
		return nil, fmt.Errorf("failed to close gzip writer: %w", err)
	}
	return buf.Bytes(), nil
}
