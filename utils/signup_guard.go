package utils

import "time"

var (
	signupCooldowns = newEphemeralStore("reg:cooldown:")
	signupDaily     = newEphemeralStore("reg:succday:")
	signupFailures  = newEphemeralStore("reg:failhour:")
	signupBans      = newEphemeralStore("reg:ban:")
)

// SignupLimits bound account creation per client IP. Zero disables a limit.
type SignupLimits struct {
	Cooldown    time.Duration
	MaxPerDay   int
	MaxFailures int
	BanFor      time.Duration
}

func (l SignupLimits) dayKey(ip string) string {
	return ip + ":" + time.Now().UTC().Format("20060102")
}

// SignupAllowed checks ban, cooldown and the daily cap for ip. The
// cooldown is armed by the check itself.
func SignupAllowed(ip string, l SignupLimits) bool {
	if signupBans.exists(ip) {
		return false
	}
	if l.Cooldown > 0 && !signupCooldowns.putNX(ip, "1", l.Cooldown) {
		return false
	}
	if l.MaxPerDay > 0 && signupDaily.count(l.dayKey(ip)) >= l.MaxPerDay {
		return false
	}
	return true
}

// SignupSucceeded counts a created account against the daily cap.
func SignupSucceeded(ip string, l SignupLimits) {
	if l.MaxPerDay > 0 {
		signupDaily.incr(l.dayKey(ip), 24*time.Hour)
	}
}

// SignupFailed records a failed attempt and bans ip once MaxFailures is hit
// within the hour.
func SignupFailed(ip string, l SignupLimits) {
	if l.MaxFailures <= 0 {
		return
	}
	if signupFailures.incr(ip, time.Hour) >= l.MaxFailures {
		ban := l.BanFor
		if ban <= 0 {
			ban = time.Hour
		}
		signupBans.put(ip, "1", ban)
	}
}
