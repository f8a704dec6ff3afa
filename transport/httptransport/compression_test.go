package httptransport

import (
	"bytes"
	"compress/gzip"
	"errors"
	"io"
	"net/http"
	"strings"
	"testing"
)

func gzipBytes(t *testing.T, data []byte) []byte {
	t.Helper()
	out, err := gzipPayload(data)
	if err != nil {
		t.Fatalf("gzipPayload: %v", err)
	}
	return out
}

func response(body []byte, encoding string) *http.Response {
	resp := &http.Response{
		Header: http.Header{},
		Body:   io.NopCloser(bytes.NewReader(body)),
	}
	if encoding != "" {
		resp.Header.Set("Content-Encoding", encoding)
	}
	return resp
}

func TestMaxDecompressedReader(t *testing.T) {
	tests := []struct {
		name    string
		size    int
		limit   int64
		wantErr bool
	}{
		{name: "under limit", size: 10, limit: 20},
		{name: "exactly at limit", size: 20, limit: 20},
		{name: "over limit", size: 21, limit: 20, wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := &maxDecompressedReader{
				reader:   strings.NewReader(strings.Repeat("x", tt.size)),
				limit:    tt.limit,
				tooLarge: errResponseTooLarge,
			}
			data, err := io.ReadAll(r)
			if tt.wantErr {
				if !errors.Is(err, errResponseTooLarge) {
					t.Fatalf("expected errResponseTooLarge, got %v", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if len(data) != tt.size {
				t.Errorf("expected %d bytes, got %d", tt.size, len(data))
			}
		})
	}
}

func TestCreateSafeResponseReader(t *testing.T) {
	opts := DefaultClientOptions()
	opts.MaxResponseSize = 64
	opts.MaxDecompressedResponseSize = 128

	t.Run("plain body within limit", func(t *testing.T) {
		reader, cleanup, err := createSafeResponseReader(response([]byte(`{"ok":true}`), ""), opts)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		defer cleanup()
		data, err := io.ReadAll(reader)
		if err != nil || string(data) != `{"ok":true}` {
			t.Errorf("got %q, %v", data, err)
		}
	})

	t.Run("plain body over compressed limit", func(t *testing.T) {
		reader, cleanup, _ := createSafeResponseReader(response(bytes.Repeat([]byte("a"), 65), ""), opts)
		defer cleanup()
		if _, err := io.ReadAll(reader); !errors.Is(err, errResponseTooLarge) {
			t.Errorf("expected errResponseTooLarge, got %v", err)
		}
	})

	t.Run("gzip bomb", func(t *testing.T) {
		bomb := gzipBytes(t, bytes.Repeat([]byte("a"), 4096))
		if len(bomb) > 64 {
			t.Fatalf("test payload compresses to %d bytes, expected <= 64", len(bomb))
		}
		reader, cleanup, err := createSafeResponseReader(response(bomb, "gzip"), opts)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		defer cleanup()
		if _, err := io.ReadAll(reader); !errors.Is(err, errResponseDecompressedTooLarge) {
			t.Errorf("expected errResponseDecompressedTooLarge, got %v", err)
		}
	})

	t.Run("invalid gzip", func(t *testing.T) {
		_, _, err := createSafeResponseReader(response([]byte("not gzip"), "gzip"), opts)
		if !errors.Is(err, errUnreadableResponse) {
			t.Errorf("expected errUnreadableResponse, got %v", err)
		}
	})

	t.Run("unsupported encoding", func(t *testing.T) {
		_, _, err := createSafeResponseReader(response([]byte("x"), "br"), opts)
		if !errors.Is(err, errUnreadableResponse) {
			t.Errorf("expected errUnreadableResponse, got %v", err)
		}
	})
}

func TestGzipPayloadRoundTrip(t *testing.T) {
	in := []byte(`{"product_id":"p1","quantity":3}`)
	gr, err := gzip.NewReader(bytes.NewReader(gzipBytes(t, in)))
	if err != nil {
		t.Fatalf("gzip.NewReader: %v", err)
	}
	out, err := io.ReadAll(gr)
	if err != nil || !bytes.Equal(in, out) {
		t.Errorf("round trip mismatch: %q, %v", out, err)
	}
}
