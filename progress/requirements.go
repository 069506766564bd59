// Package progress derives quest completion percentages and eligibility from
// a user's cached counters. Everything here is pure: no I/O, no clocks, and no
// input, however malformed, makes it panic.
package progress

import (
	"bytes"
	"encoding/json"
	"strconv"
	"strings"

	"github.com/cppla/questboard/models"
)

// Kind discriminates the Requirements union.
type Kind int

const (
	// KindAbsent means the quest carries no requirements document at all.
	KindAbsent Kind = iota
	// KindReferralThreshold requires Threshold referrals.
	KindReferralThreshold
	// KindStreakThreshold requires a check-in streak of Threshold days.
	KindStreakThreshold
	// KindDailyLogin requires a check-in today.
	KindDailyLogin
	// KindManual is completed by an admin award or a reviewed submission,
	// never automatically.
	KindManual
	// KindUnknown covers unknown quest types and legacy document shapes.
	KindUnknown
)

func (k Kind) String() string {
	switch k {
	case KindAbsent:
		return "absent"
	case KindReferralThreshold:
		return "referral_threshold"
	case KindStreakThreshold:
		return "streak_threshold"
	case KindDailyLogin:
		return "daily_login"
	case KindManual:
		return "manual"
	default:
		return "unknown"
	}
}

// Requirements is the typed form of a quest's requirements document.
type Requirements struct {
	Kind      Kind
	Threshold float64
}

// Parse decodes a raw requirements document according to the quest type.
// A declared type without a document is KindAbsent whatever its rule.
func Parse(questType models.QuestType, raw []byte) Requirements {
	if !questType.Valid() {
		return Requirements{Kind: KindUnknown}
	}
	if isAbsent(raw) {
		return Requirements{Kind: KindAbsent}
	}

	switch questType {
	case models.QuestReferral, models.QuestDaily:
	case models.QuestMilestone, models.QuestSocial,
		models.QuestOnetime, models.QuestVerification, models.QuestEngagement, models.QuestProfile:
		return Requirements{Kind: KindManual}
	}

	var doc map[string]any
	if err := json.Unmarshal(raw, &doc); err != nil || doc == nil {
		return Requirements{Kind: KindUnknown}
	}

	if questType == models.QuestReferral {
		for _, key := range []string{"referrals_required", "count"} {
			if n, ok := positiveNumber(doc[key]); ok {
				return Requirements{Kind: KindReferralThreshold, Threshold: n}
			}
		}
		return Requirements{Kind: KindUnknown}
	}

	if n, ok := positiveNumber(doc["streak_required"]); ok {
		return Requirements{Kind: KindStreakThreshold, Threshold: n}
	}
	if action, _ := doc["action"].(string); action == "login" {
		return Requirements{Kind: KindDailyLogin}
	}
	return Requirements{Kind: KindUnknown}
}

func isAbsent(raw []byte) bool {
	trimmed := bytes.TrimSpace(raw)
	return len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null"))
}

// positiveNumber accepts JSON numbers and numeric strings; zero, negatives and
// anything else count as missing.
func positiveNumber(v any) (float64, bool) {
	var n float64
	switch t := v.(type) {
	case float64:
		n = t
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(t), 64)
		if err != nil {
			return 0, false
		}
		n = f
	default:
		return 0, false
	}
	if n <= 0 || n != n {
		return 0, false
	}
	return n, true
}
