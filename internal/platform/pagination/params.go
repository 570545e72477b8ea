// Package pagination parses pageSize/pageToken query parameters and encodes keyset cursors.
package pagination

import (
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	domain "github.com/sumtl/B2B-ECOMMERCE/internal/domain"
)

const (
	// DefaultPageSize applies when pageSize is omitted.
	DefaultPageSize = 20
	// DefaultMaxPageSize clamps larger pageSize values.
	DefaultMaxPageSize = 100
)

var (
	ErrInvalidPageSize  = errors.New("pagination: invalid pageSize")
	ErrInvalidPageToken = errors.New("pagination: invalid pageToken")
)

// Cursor is the keyset position after which the next page starts.
type Cursor struct {
	CreatedAt *time.Time
	ID        string
}

// Params is a validated page request.
type Params struct {
	PageSize  int
	PageToken string
	Cursor    Cursor
}

// Page converts the params into the service-level paging input.
func (p Params) Page() domain.Pagination {
	return domain.Pagination{PageSize: p.PageSize, PageToken: p.PageToken}
}

// Options tune defaults per endpoint. Zero values use the package defaults.
type Options struct {
	DefaultPageSize int
	MaxPageSize     int
}

func (o Options) limits() (def, ceiling int) {
	ceiling = o.MaxPageSize
	if ceiling <= 0 {
		ceiling = DefaultMaxPageSize
	}
	def = o.DefaultPageSize
	if def <= 0 {
		def = DefaultPageSize
	}
	return min(def, ceiling), ceiling
}

// FromRequest parses the request's query string.
func FromRequest(r *http.Request, opts Options) (Params, error) {
	return Parse(r.URL.Query(), opts)
}

// Parse validates pageSize and decodes pageToken. Oversized pages are clamped rather than rejected.
func Parse(values url.Values, opts Options) (Params, error) {
	def, ceiling := opts.limits()
	params := Params{PageSize: def}

	if raw := strings.TrimSpace(values.Get("pageSize")); raw != "" {
		size, err := strconv.Atoi(raw)
		switch {
		case err != nil:
			return Params{}, fmt.Errorf("%w: must be an integer", ErrInvalidPageSize)
		case size <= 0:
			return Params{}, fmt.Errorf("%w: must be positive", ErrInvalidPageSize)
		}
		params.PageSize = min(size, ceiling)
	}

	if token := strings.TrimSpace(values.Get("pageToken")); token != "" {
		cursor, err := DecodeToken(token)
		if err != nil {
			return Params{}, err
		}
		params.PageToken = token
		params.Cursor = cursor
	}
	return params, nil
}
