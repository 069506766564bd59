package utils

import "time"

var oauthStates = newEphemeralStore("oauth:state:")

// SaveState stores an OAuth state token with TTL to mitigate CSRF.
func SaveState(state string, ttl time.Duration) {
	if ttl <= 0 {
		ttl = 10 * time.Minute
	}
	oauthStates.put(state, "1", ttl)
}

// ConsumeState validates and removes a state token.
func ConsumeState(state string) bool {
	if state == "" {
		return false
	}
	_, ok := oauthStates.take(state)
	return ok
}

// SweepExpired drops expired entries from the in-memory fallbacks.
func SweepExpired() int {
	n := oauthStates.sweep() + resetCodes.sweep() + resetCooldowns.sweep() + revokedTokens.sweep()
	for _, st := range []*ephemeralStore{signupCooldowns, signupDaily, signupFailures, signupBans} {
		n += st.sweep()
	}
	return n
}
