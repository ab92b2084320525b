package ids

import (
	"fmt"
	mathrand "math/rand"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
)

var (
	entropyMu sync.Mutex
	entropy   = ulid.Monotonic(mathrand.New(mathrand.NewSource(time.Now().UnixNano())), 0)
)

// New returns a lexicographically sortable identifier suitable for storage keys.
func New() string {
	entropyMu.Lock()
	defer entropyMu.Unlock()
	return ulid.MustNew(ulid.Timestamp(time.Now()), entropy).String()
}

// NewReference builds a human-facing reference number such as "CTR-2026-4Q8ZJ3F9".
// The suffix is the random tail of a ULID, so references stay unique without a
// database round-trip while remaining short enough to quote in correspondence.
func NewReference(prefix string) string {
	id := New()
	return fmt.Sprintf("%s-%d-%s", prefix, time.Now().UTC().Year(), id[len(id)-8:])
}
