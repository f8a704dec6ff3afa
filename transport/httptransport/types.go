package httptransport

import (
	"fmt"
	"time"
)

// ClientOptions configures the Executor's HTTP behavior.
type ClientOptions struct {
	// CompressionEnabled gzips request bodies larger than GzipMinBytes and
	// advertises gzip support for responses.
	CompressionEnabled bool

	// GzipMinBytes is the smallest request body that is compressed.
	// If 0, defaults to 1KB.
	GzipMinBytes int

	// DisableAutoDecompression turns off Go's transparent gzip handling so
	// that both the compressed and decompressed response limits apply.
	DisableAutoDecompression bool

	// MaxResponseSize is the maximum response body size in bytes (compressed).
	// If 0, defaults to 10MB.
	MaxResponseSize int64

	// MaxDecompressedResponseSize bounds the decompressed response body.
	// If 0, defaults to 20MB.
	MaxDecompressedResponseSize int64

	// RequestTimeout applies when the caller's context has no deadline.
	// If 0, defaults to 30 seconds.
	RequestTimeout time.Duration
}

// DefaultClientOptions returns the default client options
func DefaultClientOptions() *ClientOptions {
	return &ClientOptions{
		CompressionEnabled:          true,
		GzipMinBytes:                1024,             // 1KB
		MaxResponseSize:             10 * 1024 * 1024, // 10MB
		MaxDecompressedResponseSize: 20 * 1024 * 1024, // 20MB
		RequestTimeout:              30 * time.Second,
	}
}

// ValidateClientOptions rejects negative limits and a decompressed limit
// smaller than the compressed one.
func ValidateClientOptions(o *ClientOptions) error {
	if o == nil {
		return fmt.Errorf("client options cannot be nil")
	}
	if o.GzipMinBytes < 0 {
		return fmt.Errorf("GzipMinBytes must not be negative, got %d", o.GzipMinBytes)
	}
	if o.MaxResponseSize < 0 || o.MaxDecompressedResponseSize < 0 {
		return fmt.Errorf("response size limits must not be negative")
	}
	if o.MaxDecompressedResponseSize > 0 && o.MaxResponseSize > 0 &&
		o.MaxDecompressedResponseSize < o.MaxResponseSize {
		return fmt.Errorf("MaxDecompressedResponseSize (%d) must be >= MaxResponseSize (%d)",
			o.MaxDecompressedResponseSize, o.MaxResponseSize)
	}
	if o.RequestTimeout < 0 {
		return fmt.Errorf("RequestTimeout must not be negative")
	}
	return nil
}

func (o *ClientOptions) setDefaults() {
	if o.GzipMinBytes == 0 {
		o.GzipMinBytes = 1024
	}
	if o.MaxResponseSize == 0 {
		o.MaxResponseSize = 10 * 1024 * 1024
	}
	if o.MaxDecompressedResponseSize == 0 {
		o.MaxDecompressedResponseSize = 20 * 1024 * 1024
	}
	if o.RequestTimeout == 0 {
		o.RequestTimeout = 30 * time.Second
	}
}
