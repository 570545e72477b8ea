package pagination

import (
	"encoding/base64"
	"errors"
	"net/http/httptest"
	"net/url"
	"testing"
	"time"
)

func TestParseDefaults(t *testing.T) {
	params, err := Parse(url.Values{}, Options{})
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if params.PageSize != DefaultPageSize {
		t.Fatalf("expected default page size %d, got %d", DefaultPageSize, params.PageSize)
	}
	if params.PageToken != "" || params.Cursor.ID != "" {
		t.Fatalf("expected empty cursor, got %+v", params)
	}
}

func TestParsePageSize(t *testing.T) {
	params, err := Parse(url.Values{"pageSize": {"500"}}, Options{MaxPageSize: 50})
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if params.PageSize != 50 {
		t.Fatalf("expected page size clamped to 50, got %d", params.PageSize)
	}
}

func TestParseInvalidPageSize(t *testing.T) {
	for _, raw := range []string{"abc", "0", "-3"} {
		if _, err := Parse(url.Values{"pageSize": {raw}}, Options{}); !errors.Is(err, ErrInvalidPageSize) {
			t.Fatalf("expected ErrInvalidPageSize for %q, got %v", raw, err)
		}
	}
}

func TestEncodeDecodeToken(t *testing.T) {
	created := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)
	token, err := EncodeToken(Cursor{CreatedAt: &created, ID: "ord_1"})
	if err != nil {
		t.Fatalf("EncodeToken: %v", err)
	}

	req := httptest.NewRequest("GET", "/orders?pageToken="+token, nil)
	params, err := FromRequest(req, Options{})
	if err != nil {
		t.Fatalf("FromRequest: %v", err)
	}
	if params.Cursor.ID != "ord_1" || params.Cursor.CreatedAt == nil || !params.Cursor.CreatedAt.Equal(created) {
		t.Fatalf("unexpected cursor %+v", params.Cursor)
	}
}

func TestEncodeTokenEmptyCursor(t *testing.T) {
	token, err := EncodeToken(Cursor{})
	if err != nil || token != "" {
		t.Fatalf("expected empty token, got %q %v", token, err)
	}
}

func TestDecodeTokenInvalid(t *testing.T) {
	if _, err := DecodeToken("%%%"); !errors.Is(err, ErrInvalidPageToken) {
		t.Fatalf("expected ErrInvalidPageToken, got %v", err)
	}
}

func TestDecodeTokenRejectsForeignFormat(t *testing.T) {
	for _, raw := range []string{`{"id":"ord_1"}`, "v2|1|ord_1", "v1|1|", "v1|yesterday|ord_1"} {
		token := base64.RawURLEncoding.EncodeToString([]byte(raw))
		if _, err := DecodeToken(token); !errors.Is(err, ErrInvalidPageToken) {
			t.Fatalf("expected ErrInvalidPageToken for %q, got %v", raw, err)
		}
	}
}

func TestTokenWithoutTimestamp(t *testing.T) {
	token, err := EncodeToken(Cursor{ID: "prd_9"})
	if err != nil {
		t.Fatalf("EncodeToken: %v", err)
	}
	cursor, err := DecodeToken(token)
	if err != nil {
		t.Fatalf("DecodeToken: %v", err)
	}
	if cursor.ID != "prd_9" || cursor.CreatedAt != nil {
		t.Fatalf("unexpected cursor %+v", cursor)
	}
	if page := (Params{PageSize: 5, PageToken: token}).Page(); page.PageSize != 5 || page.PageToken != token {
		t.Fatalf("unexpected page %+v", page)
	}
}
