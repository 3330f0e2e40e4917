package randutil

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
)

// Hex generates n random bytes using crypto/rand and returns them hex-encoded,
// so the resulting string is 2n characters long.
func Hex(n int) string {
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		panic(fmt.Sprintf("error generating random bytes: %v", err))
	}
	return hex.EncodeToString(b)
}
