// Package pagination implements keyset cursors for newest-first listings
// ordered by (created_at DESC, id DESC, scope DESC).
package pagination

import (
	"encoding/base64"
	"errors"
	"strconv"
	"strings"
	"time"
)

// ErrInvalidCursor is returned for cursors this package did not produce.
var ErrInvalidCursor = errors.New("invalid cursor")

// Cursor is the sort key of the last item on the previous page. Scope
// separates items that share an id, such as swaps of different engines.
type Cursor struct {
	CreatedAt time.Time
	ID        string
	Scope     string
}

// Encode returns the opaque form of a cursor.
func Encode(c Cursor) string {
	raw := strconv.FormatInt(c.CreatedAt.UnixNano(), 10) + "|" + c.ID + "|" + c.Scope
	return base64.RawURLEncoding.EncodeToString([]byte(raw))
}

// Decode parses an opaque cursor. An empty string yields a nil cursor,
// meaning the first page.
func Decode(s string) (*Cursor, error) {
	if s == "" {
		return nil, nil
	}
	raw, err := base64.RawURLEncoding.DecodeString(s)
	if err != nil {
		return nil, ErrInvalidCursor
	}
	parts := strings.SplitN(string(raw), "|", 3)
	if len(parts) != 3 || parts[1] == "" {
		return nil, ErrInvalidCursor
	}
	n, err := strconv.ParseInt(parts[0], 10, 64)
	if err != nil {
		return nil, ErrInvalidCursor
	}
	return &Cursor{CreatedAt: time.Unix(0, n).UTC(), ID: parts[1], Scope: parts[2]}, nil
}

// After reports whether an item keyed k sorts after the cursor, i.e.
// belongs on a later page. A nil cursor admits everything.
func (c *Cursor) After(k Cursor) bool {
	if c == nil {
		return true
	}
	if !k.CreatedAt.Equal(c.CreatedAt) {
		return k.CreatedAt.Before(c.CreatedAt)
	}
	if k.ID != c.ID {
		return k.ID < c.ID
	}
	return k.Scope < c.Scope
}

// Precedes reports whether a is listed before b.
func Precedes(a, b Cursor) bool {
	return b.After(a)
}

// ComputePage trims items fetched with limit+1 rows down to limit and
// returns the cursor for the next page, empty when there is none.
func ComputePage[T any](items []T, limit int, key func(T) Cursor) ([]T, string) {
	if limit <= 0 || len(items) <= limit {
		return items, ""
	}
	items = items[:limit]
	return items, Encode(key(items[len(items)-1]))
}
