// Package ids generates the identifiers attached to forwarded messages.
package ids

import (
	"crypto/rand"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/oklog/ulid/v2"
)

var (
	entropyMu sync.Mutex
	entropy   = ulid.Monotonic(rand.Reader, 0)
)

// CreateULID returns a time-sortable ULID used as a correlation id.
func CreateULID() string {
	entropyMu.Lock()
	defer entropyMu.Unlock()

	return ulid.MustNew(ulid.Timestamp(time.Now()), entropy).String()
}

// Sequence hands out message ids of the form "<prefix>-<n>". The counter
// starts at zero and never repeats within a process lifetime.
type Sequence struct {
	prefix string
	next   atomic.Uint64
}

// NewSequence returns a Sequence for prefix.
func NewSequence(prefix string) *Sequence {
	return &Sequence{prefix: prefix}
}

// Next reserves and returns the next id.
func (s *Sequence) Next() string {
	n := s.next.Add(1) - 1
	return s.prefix + "-" + strconv.FormatUint(n, 10)
}

// Prefix returns the identity the ids are derived from.
func (s *Sequence) Prefix() string {
	return s.prefix
}
