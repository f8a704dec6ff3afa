package httptransport

import (
	"encoding/json"
	"net/http"
	"strconv"
	"strings"
)

// VersionHeader carries the server version of the record a mutation touched.
const VersionHeader = "X-Resource-Version"

// extractVersion reads the version from VersionHeader, falling back to a
// top-level "version" field in a JSON object body. It returns 0 when
// neither is present or parseable.
func extractVersion(h http.Header, body []byte) int64 {
	if v := strings.TrimSpace(h.Get(VersionHeader)); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil && n > 0 {
			return n
		}
	}
	var probe struct {
		Version json.Number `json:"version"`
	}
	trimmed := strings.TrimSpace(string(body))
	if !strings.HasPrefix(trimmed, "{") {
		return 0
	}
	if err := json.Unmarshal(body, &probe); err != nil || probe.Version == "" {
		return 0
	}
	n, err := probe.Version.Int64()
	if err != nil || n < 0 {
		return 0
	}
	return n
}

// extractErrorMessage pulls a human-readable message out of an error body.
// It understands {"detail": ...}, {"error": ...} and {"message": ...}.
func extractErrorMessage(body []byte) string {
	var probe struct {
		Detail  json.RawMessage `json:"detail"`
		Error   string          `json:"error"`
		Message string          `json:"message"`
	}
	if err := json.Unmarshal(body, &probe); err == nil {
		if len(probe.Detail) > 0 {
			var s string
			if json.Unmarshal(probe.Detail, &s) == nil {
				return s
			}
			return string(probe.Detail)
		}
		if probe.Error != "" {
			return probe.Error
		}
		if probe.Message != "" {
			return probe.Message
		}
	}
	msg := strings.TrimSpace(string(body))
	if len(msg) > 256 {
		msg = msg[:256] + "..."
	}
	return msg
}
