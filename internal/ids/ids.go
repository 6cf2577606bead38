package ids

import (
	"crypto/rand"
	"fmt"
	"math/big"
	mathrand "math/rand"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
)

var (
	entropyMu sync.Mutex
	entropy   = ulid.Monotonic(mathrand.New(mathrand.NewSource(time.Now().UnixNano())), 0)
)

// New returns a lexicographically sortable identifier used as a storage key.
func New() string {
	entropyMu.Lock()
	defer entropyMu.Unlock()
	return ulid.MustNew(ulid.Timestamp(time.Now()), entropy).String()
}

// NumericCode returns a zero-padded numeric code of the given length drawn
// from crypto/rand. Used for email verification codes.
func NumericCode(length int) (string, error) {
	if length <= 0 || length > 18 {
		return "", fmt.Errorf("ids: unsupported code length %d", length)
	}
	max := big.NewInt(1)
	for i := 0; i < length; i++ {
		max.Mul(max, big.NewInt(10))
	}
	n, err := rand.Int(rand.Reader, max)
	if err != nil {
		return "", fmt.Errorf("ids: generate code: %w", err)
	}
	return fmt.Sprintf("%0*d", length, n), nil
}
