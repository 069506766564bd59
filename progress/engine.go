package progress

import (
	"math"

	"github.com/cppla/questboard/models"
)

// Counters are the per-user values quest requirements are measured against.
type Counters struct {
	ReferralCount  int  `json:"referral_count"`
	CurrentStreak  int  `json:"current_streak"`
	CheckedInToday bool `json:"checked_in_today"`
}

// Result is the derived state of one quest for one user.
type Result struct {
	Percent     int  `json:"progress"`
	CanComplete bool `json:"can_complete"`
}

// Percent returns completion in [0,100].
func (r Requirements) Percent(c Counters) int {
	switch r.Kind {
	case KindReferralThreshold:
		return ratio(c.ReferralCount, r.Threshold)
	case KindStreakThreshold:
		return ratio(c.CurrentStreak, r.Threshold)
	case KindDailyLogin:
		if c.CheckedInToday {
			return 100
		}
		return 0
	default:
		return 0
	}
}

// CanComplete reports whether the counters satisfy the requirements. It is
// advisory: the gateway re-validates every completion.
func (r Requirements) CanComplete(c Counters) bool {
	switch r.Kind {
	case KindAbsent:
		return true
	case KindReferralThreshold:
		return float64(c.ReferralCount) >= r.Threshold
	case KindStreakThreshold:
		return float64(c.CurrentStreak) >= r.Threshold
	case KindDailyLogin:
		return c.CheckedInToday
	default:
		return false
	}
}

// Evaluate parses the quest's requirements and computes both values.
func Evaluate(q models.Quest, c Counters) Result {
	req := Parse(q.QuestType, q.Requirements)
	return Result{Percent: req.Percent(c), CanComplete: req.CanComplete(c)}
}

// Percent is a convenience wrapper over Evaluate.
func Percent(q models.Quest, c Counters) int {
	return Evaluate(q, c).Percent
}

// CanComplete is a convenience wrapper over Evaluate.
func CanComplete(q models.Quest, c Counters) bool {
	return Evaluate(q, c).CanComplete
}

func ratio(value int, threshold float64) int {
	if threshold <= 0 {
		return 0
	}
	p := math.Round(float64(value) / threshold * 100)
	if p < 0 {
		return 0
	}
	if p > 100 {
		return 100
	}
	return int(p)
}
