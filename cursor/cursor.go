// Package cursor tracks progress through offset-paginated list endpoints
// such as GET /products?skip=0&limit=100.
package cursor

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strconv"
)

// MaxPages bounds a single walk so a server that never reports the end of
// a listing cannot loop a sync forever.
const MaxPages = 1000

// ErrTooManyPages is returned by Walk when MaxPages is exceeded.
var ErrTooManyPages = errors.New("cursor: page limit exceeded")

// Offset is the position of one page in a listing.
type Offset struct {
	Skip  int `json:"skip"`
	Limit int `json:"limit"`
}

// First returns the first page of size limit.
func First(limit int) Offset {
	return Offset{Limit: limit}
}

// String implements fmt.Stringer.
func (o Offset) String() string {
	return fmt.Sprintf("skip=%d limit=%d", o.Skip, o.Limit)
}

// Apply adds the page's skip and limit to endpoint's query string,
// replacing any already present.
func (o Offset) Apply(endpoint string) (string, error) {
	u, err := url.Parse(endpoint)
	if err != nil {
		return "", fmt.Errorf("cursor: invalid endpoint %q: %w", endpoint, err)
	}
	q := u.Query()
	q.Set("skip", strconv.Itoa(o.Skip))
	q.Set("limit", strconv.Itoa(o.Limit))
	u.RawQuery = q.Encode()
	return u.String(), nil
}

// Next returns the page after o given how many records o returned and the
// listing total (negative when the server did not report one). The second
// result is false once the listing is exhausted.
func (o Offset) Next(received, total int) (Offset, bool) {
	if received <= 0 || received < o.Limit {
		return o, false
	}
	next := Offset{Skip: o.Skip + received, Limit: o.Limit}
	if total >= 0 && next.Skip >= total {
		return o, false
	}
	return next, true
}

// Walk calls fetch for each page starting at first until Next reports the
// end. fetch returns the number of records on the page and the listing
// total, or a negative total when unknown.
func Walk(first Offset, fetch func(Offset) (received, total int, err error)) (pages int, err error) {
	page := first
	for {
		if pages == MaxPages {
			return pages, fmt.Errorf("%w after %s", ErrTooManyPages, page)
		}
		received, total, err := fetch(page)
		if err != nil {
			return pages, err
		}
		pages++
		next, more := page.Next(received, total)
		if !more {
			return pages, nil
		}
		page = next
	}
}

// Total extracts the "total" field of an object response, or -1 when the
// payload is an array or carries no usable total.
func Total(data []byte) int {
	var env struct {
		Total *int `json:"total"`
	}
	if err := json.Unmarshal(data, &env); err != nil || env.Total == nil || *env.Total < 0 {
		return -1
	}
	return *env.Total
}
