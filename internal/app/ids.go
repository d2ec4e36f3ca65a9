package app

import (
	"crypto/rand"
	"time"

	"github.com/oklog/ulid/v2"
)

// newCommentID returns a ULID, so comment IDs sort by creation time.
func newCommentID(t time.Time) string {
	return ulid.MustNew(ulid.Timestamp(t), rand.Reader).String()
}
