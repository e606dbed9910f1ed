package atg

import (
	cryptorand "crypto/rand"
	"encoding/binary"
	"math/rand"
	"time"
)

// secureRandFloat draws a uniform float in [0,1) from the cryptographic
// source. Transaction start decisions use this, delays and durations use the
// cheaper math/rand source.
func secureRandFloat() float64 {
	var buf [8]byte
	if _, err := cryptorand.Read(buf[:]); err != nil {
		return rand.Float64()
	}
	return float64(binary.BigEndian.Uint64(buf[:])>>11) / (1 << 53)
}

// randomDuration draws a uniform duration from [min, max] seconds.
func randomDuration(minSeconds, maxSeconds float64) time.Duration {
	if maxSeconds < minSeconds {
		maxSeconds = minSeconds
	}
	seconds := minSeconds + rand.Float64()*(maxSeconds-minSeconds)
	return time.Duration(seconds * float64(time.Second))
}

// hoursToDuration converts a fractional hour count to a duration.
func hoursToDuration(hours float64) time.Duration {
	return time.Duration(hours * float64(time.Hour))
}
