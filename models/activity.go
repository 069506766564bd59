package models

import (
	"time"

	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// Well-known activity types written by the procedures and the session store.
const (
	ActivityLogin           = "login"
	ActivityDailyCheckin    = "daily_checkin"
	ActivityQuestCompleted  = "quest_completed"
	ActivityReferralReward  = "referral_reward_claimed"
	ActivityReferralSignup  = "referral_signup"
	ActivitySocialSubmitted = "social_task_submitted"
)

// UserActivity is an append-only audit entry.
type UserActivity struct {
	ID           string         `gorm:"primaryKey;size:36" json:"id"`
	UserID       string         `gorm:"size:36;not null;index" json:"user_id"`
	ActivityType string         `gorm:"size:64;not null" json:"activity_type"`
	ActivityData datatypes.JSON `json:"activity_data"`
	PointsEarned int            `gorm:"not null;default:0" json:"points_earned"`
	CreatedAt    time.Time      `gorm:"index" json:"created_at"`
}

func (a *UserActivity) BeforeCreate(tx *gorm.DB) error {
	a.ID = newID(a.ID)
	return nil
}
