package helpers

import (
	"math/rand"
	"time"
)

// RandUnix is a per-test random source, seed logged by caller when reproduction matters.
func RandUnix() (*rand.Rand, int64) {
	seed := time.Now().UnixNano()
	return rand.New(rand.NewSource(seed)), seed
}
