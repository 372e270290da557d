package sdruntime

import (
	"crypto/rand"
	"encoding/binary"
)

// RandomSeed returns a non-negative seed drawn from crypto/rand.
func RandomSeed() int64 {
	var buf [8]byte
	if _, err := rand.Read(buf[:]); err != nil {
		return 42
	}
	// Clear the sign bit.
	return int64(binary.LittleEndian.Uint64(buf[:]) &^ (1 << 63))
}

// ResolveSeed returns seed unchanged when it is non-negative. A negative seed
// (the non-deterministic sentinel) is replaced with a fresh random one.
func ResolveSeed(seed int64) int64 {
	if seed >= 0 {
		return seed
	}
	return RandomSeed()
}
