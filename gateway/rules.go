package gateway

import (
	"time"

	"github.com/cppla/questboard/models"
)

// Tier is one referral reward level seeded for every new profile.
type Tier struct {
	Level             string
	ReferralsRequired int
	BonusPoints       int
}

// DefaultTiers are ordered by ascending threshold.
var DefaultTiers = []Tier{
	{Level: "bronze", ReferralsRequired: 1, BonusPoints: 50},
	{Level: "silver", ReferralsRequired: 5, BonusPoints: 300},
	{Level: "gold", ReferralsRequired: 10, BonusPoints: 750},
	{Level: "platinum", ReferralsRequired: 25, BonusPoints: 2000},
}

// Rules are the point economics applied by the procedures.
type Rules struct {
	CheckinBase  int
	StreakBonus  int
	MaxBonusDays int
	Tiers        []Tier
	Now          func() time.Time
}

// DefaultRules returns the stock economics.
func DefaultRules() Rules {
	return Rules{CheckinBase: 10, StreakBonus: 2, MaxBonusDays: 6, Tiers: DefaultTiers, Now: time.Now}
}

func (r Rules) normalized() Rules {
	d := DefaultRules()
	if r.CheckinBase <= 0 {
		r.CheckinBase = d.CheckinBase
	}
	if r.StreakBonus < 0 {
		r.StreakBonus = 0
	}
	if r.MaxBonusDays <= 0 {
		r.MaxBonusDays = d.MaxBonusDays
	}
	if len(r.Tiers) == 0 {
		r.Tiers = d.Tiers
	}
	if r.Now == nil {
		r.Now = d.Now
	}
	return r
}

// CheckinPoints is base plus the capped streak bonus.
func (r Rules) CheckinPoints(streak int) int {
	extra := streak - 1
	if extra < 0 {
		extra = 0
	}
	if extra > r.MaxBonusDays {
		extra = r.MaxBonusDays
	}
	return r.CheckinBase + r.StreakBonus*extra
}

// today returns the UTC calendar day.
func (r Rules) today() string {
	return r.Now().UTC().Format(models.CheckinDateLayout)
}

// NextStreak continues the streak when the last check-in was the day before today.
func NextStreak(last *models.DailyCheckin, today string) int {
	if last == nil {
		return 1
	}
	day, err := time.Parse(models.CheckinDateLayout, today)
	if err != nil {
		return 1
	}
	if last.CheckinDate == day.AddDate(0, 0, -1).Format(models.CheckinDateLayout) {
		return last.StreakCount + 1
	}
	return 1
}

// CurrentStreak is the streak still alive today: the latest check-in counts
// only if it is from today or yesterday.
func CurrentStreak(latest *models.DailyCheckin, today string) (streak int, checkedInToday bool) {
	if latest == nil {
		return 0, false
	}
	if latest.CheckinDate == today {
		return latest.StreakCount, true
	}
	day, err := time.Parse(models.CheckinDateLayout, today)
	if err == nil && latest.CheckinDate == day.AddDate(0, 0, -1).Format(models.CheckinDateLayout) {
		return latest.StreakCount, false
	}
	return 0, false
}
