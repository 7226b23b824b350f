package pagination

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"strings"
)

// tokenVersion prefixes every page token so the cursor payload can change
// shape without old clients replaying tokens into the new decoder.
const tokenVersion = "v1"

// EncodeToken serialises the cursor into an opaque, URL-safe page token.
// An empty cursor yields an empty token, which callers interpret as the
// first page.
func EncodeToken(cursor Cursor) (string, error) {
	if len(cursor.StartAfter) == 0 {
		return "", nil
	}
	payload, err := json.Marshal(cursor)
	if err != nil {
		return "", fmt.Errorf("pagination: encode token: %w", err)
	}
	return tokenVersion + "." + base64.RawURLEncoding.EncodeToString(payload), nil
}

// DecodeToken parses a page token produced by EncodeToken. Tokens from an
// unknown version or with a payload that fails to decode are rejected with
// ErrInvalidPageToken.
func DecodeToken(token string) (Cursor, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return Cursor{}, nil
	}
	version, encoded, found := strings.Cut(token, ".")
	if !found || version != tokenVersion {
		return Cursor{}, fmt.Errorf("%w: unrecognised token format", ErrInvalidPageToken)
	}
	payload, err := base64.RawURLEncoding.DecodeString(encoded)
	if err != nil {
		return Cursor{}, fmt.Errorf("%w: %v", ErrInvalidPageToken, err)
	}
	var cursor Cursor
	if err := json.Unmarshal(payload, &cursor); err != nil {
		return Cursor{}, fmt.Errorf("%w: %v", ErrInvalidPageToken, err)
	}
	return cursor, nil
}
