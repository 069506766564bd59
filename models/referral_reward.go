package models

import (
	"time"

	"gorm.io/gorm"
)

// ReferralReward is a per-user tier unlocked by accumulated referrals.
// IsClaimed only ever moves from false to true.
type ReferralReward struct {
	ID                string     `gorm:"primaryKey;size:36" json:"id"`
	UserID            string     `gorm:"size:36;not null;uniqueIndex:idx_reward_user_tier" json:"user_id"`
	TierLevel         string     `gorm:"size:32;not null;uniqueIndex:idx_reward_user_tier" json:"tier_level"`
	ReferralsRequired int        `gorm:"not null" json:"referrals_required"`
	BonusPoints       int        `gorm:"not null" json:"bonus_points"`
	IsClaimed         bool       `gorm:"not null;default:false" json:"is_claimed"`
	ClaimedAt         *time.Time `json:"claimed_at"`
	CreatedAt         time.Time  `json:"created_at"`
	UpdatedAt         time.Time  `json:"updated_at"`
}

func (r *ReferralReward) BeforeCreate(tx *gorm.DB) error {
	r.ID = newID(r.ID)
	return nil
}
