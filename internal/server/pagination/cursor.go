package pagination

import (
	"encoding/base64"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// ErrInvalidCursor is wrapped by every DecodeCursor failure.
var ErrInvalidCursor = errors.New("invalid cursor")

const cursorVersion = "h1"

// Cursor is a position in the headline stream: the (created_at, id) of the
// last item already delivered.
type Cursor struct {
	CreatedAt time.Time
	ID        int64
}

// Encode renders the cursor as an opaque URL-safe token.
func (c Cursor) Encode() string {
	key := strings.Join([]string{
		cursorVersion,
		strconv.FormatInt(c.CreatedAt.UTC().UnixNano(), 10),
		strconv.FormatInt(c.ID, 10),
	}, ".")
	return base64.RawURLEncoding.EncodeToString([]byte(key))
}

// EncodeCursor is shorthand for Cursor{ts, id}.Encode().
func EncodeCursor(ts time.Time, id int64) string {
	return Cursor{CreatedAt: ts, ID: id}.Encode()
}

// DecodeCursor parses a token produced by Encode.
func DecodeCursor(token string) (Cursor, error) {
	raw, err := base64.RawURLEncoding.DecodeString(token)
	if err != nil {
		return Cursor{}, fmt.Errorf("%w: bad encoding", ErrInvalidCursor)
	}

	parts := strings.Split(string(raw), ".")
	if len(parts) != 3 || parts[0] != cursorVersion {
		return Cursor{}, fmt.Errorf("%w: bad format", ErrInvalidCursor)
	}

	nanos, err := strconv.ParseInt(parts[1], 10, 64)
	if err != nil {
		return Cursor{}, fmt.Errorf("%w: bad timestamp", ErrInvalidCursor)
	}
	id, err := strconv.ParseInt(parts[2], 10, 64)
	if err != nil || id < 0 {
		return Cursor{}, fmt.Errorf("%w: bad id", ErrInvalidCursor)
	}

	return Cursor{CreatedAt: time.Unix(0, nanos).UTC(), ID: id}, nil
}
