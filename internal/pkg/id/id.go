package id

import (
	"crypto/rand"

	"github.com/oklog/ulid/v2"
)

// New generates a new ULID string. ULIDs are lexicographically sortable
// by creation time, so notification and instance ids order by arrival.
func New() string {
	return ulid.MustNew(ulid.Now(), rand.Reader).String()
}
