package domain

import (
	"encoding/base64"
	"encoding/json"
	"strconv"
	"strings"
)

// Document is a remote document: an ID and its JSON body.
type Document struct {
	ID   string
	Data json.RawMessage
}

// Decode unmarshals the document body into v.
func (d Document) Decode(v any) error {
	return json.Unmarshal(d.Data, v)
}

// Query is a batched "field in id-set" query over one collection. Results are ordered by
// OrderBy descending, then by document ID ascending, and start strictly after After.
type Query struct {
	Collection string
	Field      string
	In         []string
	OrderBy    string
	Limit      int
	After      *Cursor
}

// Cursor is a position in a time-descending, ID-ascending ordering.
type Cursor struct {
	Timestamp int64
	ID        string
}

// Admits reports whether a document at (ts, id) lies strictly past the cursor and so
// belongs to the next page. A nil cursor admits everything.
func (c *Cursor) Admits(ts int64, id string) bool {
	if c == nil {
		return true
	}
	return Precedes(c.Timestamp, c.ID, ts, id)
}

// Precedes reports whether (aTs, aID) sorts before (bTs, bID) in feed order:
// newer first, equal timestamps by ID ascending.
func Precedes(aTs int64, aID string, bTs int64, bID string) bool {
	if aTs != bTs {
		return aTs > bTs
	}
	return aID < bID
}

// Encode returns the opaque token form of the cursor.
func (c Cursor) Encode() string {
	raw := strconv.FormatInt(c.Timestamp, 10) + ":" + c.ID
	return base64.RawURLEncoding.EncodeToString([]byte(raw))
}

// DecodeCursor parses a token produced by Cursor.Encode. The empty token means "from the top"
// and decodes to nil.
func DecodeCursor(token string) (*Cursor, error) {
	if token == "" {
		return nil, nil
	}
	raw, err := base64.RawURLEncoding.DecodeString(token)
	if err != nil {
		return nil, ErrInvalidCursor
	}
	ts, id, ok := strings.Cut(string(raw), ":")
	if !ok || id == "" {
		return nil, ErrInvalidCursor
	}
	n, err := strconv.ParseInt(ts, 10, 64)
	if err != nil {
		return nil, ErrInvalidCursor
	}
	return &Cursor{Timestamp: n, ID: id}, nil
}

// MaxQueryIDs is the largest id-set a batched query may carry.
const MaxQueryIDs = 10
