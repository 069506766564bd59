package utils

import "time"

var revokedTokens = newEphemeralStore("jwt:blacklist:")

// BlacklistToken revokes a token until its natural expiration.
func BlacklistToken(token string, expiresAt time.Time) {
	ttl := time.Until(expiresAt)
	if ttl <= 0 {
		return
	}
	revokedTokens.put(token, "1", ttl)
}

// IsTokenBlacklisted reports whether a token was revoked before expiring.
func IsTokenBlacklisted(token string) bool {
	return revokedTokens.exists(token)
}
