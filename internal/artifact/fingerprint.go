package artifact

import (
	"fmt"

	"github.com/zeebo/blake3"
)

// Fingerprint condenses the inputs of a derivation into a cache key part.
// Parts are length-prefixed before hashing so shifting bytes between
// adjacent parts always changes the result.
func Fingerprint(parts ...string) string {
	h := blake3.New()
	for _, part := range parts {
		fmt.Fprintf(h, "%d:%s", len(part), part)
	}
	return fmt.Sprintf("%x", h.Sum(nil)[:16])
}
