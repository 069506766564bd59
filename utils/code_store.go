package utils

import (
	"crypto/rand"
	"math/big"
	"strings"
	"time"
)

var (
	resetCodes     = newEphemeralStore("reset:email:")
	resetCooldowns = newEphemeralStore("cooldown:email:")
)

// GenerateVerificationCode creates a numeric code with given length.
func GenerateVerificationCode(n int) string {
	if n <= 0 {
		n = 6
	}
	digits := make([]byte, n)
	for i := 0; i < n; i++ {
		v, err := rand.Int(rand.Reader, big.NewInt(10))
		if err != nil {
			v = big.NewInt(time.Now().UnixNano() % 10)
		}
		digits[i] = byte('0' + v.Int64())
	}
	return string(digits)
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// SaveCode stores a password reset code for an email.
func SaveCode(email, code string, ttl time.Duration) {
	resetCodes.put(normalizeEmail(email), code, ttl)
}

// VerifyAndConsumeCode checks a code and consumes it; a wrong guess also burns it.
func VerifyAndConsumeCode(email, code string) bool {
	stored, ok := resetCodes.take(normalizeEmail(email))
	return ok && stored != "" && stored == strings.TrimSpace(code)
}

// EmailCooldownTrySet starts a send cooldown. False means still cooling down.
func EmailCooldownTrySet(email string, cooldown time.Duration) bool {
	return resetCooldowns.putNX(normalizeEmail(email), "1", cooldown)
}
