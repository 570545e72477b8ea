package pagination

import (
	"encoding/base64"
	"fmt"
	"strconv"
	"strings"
	"time"
)

const tokenVersion = "v1"

// EncodeToken renders cursor as an opaque URL-safe token of the form base64("v1|<unixnano>|<id>").
// The timestamp segment is empty for cursors keyed by id alone.
func EncodeToken(cursor Cursor) (string, error) {
	if cursor.ID == "" {
		return "", nil
	}
	if strings.Contains(cursor.ID, "|") {
		return "", fmt.Errorf("pagination: cursor id %q contains a separator", cursor.ID)
	}
	created := ""
	if cursor.CreatedAt != nil {
		created = strconv.FormatInt(cursor.CreatedAt.UnixNano(), 10)
	}
	raw := tokenVersion + "|" + created + "|" + cursor.ID
	return base64.RawURLEncoding.EncodeToString([]byte(raw)), nil
}

// DecodeToken reverses EncodeToken. An empty token yields the zero cursor.
func DecodeToken(token string) (Cursor, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return Cursor{}, nil
	}
	decoded, err := base64.RawURLEncoding.DecodeString(token)
	if err != nil {
		return Cursor{}, fmt.Errorf("%w: %v", ErrInvalidPageToken, err)
	}
	parts := strings.SplitN(string(decoded), "|", 3)
	if len(parts) != 3 || parts[0] != tokenVersion {
		return Cursor{}, fmt.Errorf("%w: unrecognised format", ErrInvalidPageToken)
	}
	if parts[2] == "" {
		return Cursor{}, fmt.Errorf("%w: missing id", ErrInvalidPageToken)
	}
	cursor := Cursor{ID: parts[2]}
	if parts[1] != "" {
		nanos, err := strconv.ParseInt(parts[1], 10, 64)
		if err != nil {
			return Cursor{}, fmt.Errorf("%w: bad timestamp", ErrInvalidPageToken)
		}
		created := time.Unix(0, nanos).UTC()
		cursor.CreatedAt = &created
	}
	return cursor, nil
}
