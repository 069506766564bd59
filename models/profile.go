package models

import (
	"time"

	"gorm.io/gorm"
)

// Role is the authorization level of a profile.
type Role string

const (
	RoleUser  Role = "user"
	RoleAdmin Role = "admin"
)

// Profile is the per-user record holding identity, points and referral bookkeeping.
// Passwords are stored as bcrypt hashes only.
type Profile struct {
	UserID         string    `gorm:"primaryKey;size:36" json:"user_id"`
	Username       string    `gorm:"size:64;uniqueIndex;not null" json:"username"`
	Email          string    `gorm:"size:255;index" json:"email,omitempty"`
	PasswordHash   string    `gorm:"size:255" json:"-"`
	Provider       string    `gorm:"size:32" json:"provider,omitempty"`
	ProviderID     string    `gorm:"size:255;index" json:"-"`
	Points         int       `gorm:"not null;default:0" json:"points"`
	TotalReferrals int       `gorm:"not null;default:0" json:"total_referrals"`
	ReferralCode   string    `gorm:"size:16;uniqueIndex" json:"referral_code"`
	ReferredBy     *string   `gorm:"size:36;index" json:"referred_by,omitempty"`
	Role           Role      `gorm:"size:16;not null;default:'user'" json:"role"`
	Bio            string    `gorm:"size:500" json:"bio"`
	Website        string    `gorm:"size:255" json:"website"`
	Location       string    `gorm:"size:128" json:"location"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
}

// BeforeCreate assigns the user id when the caller did not.
func (p *Profile) BeforeCreate(tx *gorm.DB) error {
	p.UserID = newID(p.UserID)
	if p.Role == "" {
		p.Role = RoleUser
	}
	return nil
}

// IsAdmin reports whether the profile carries the admin role.
func (p *Profile) IsAdmin() bool {
	return p.Role == RoleAdmin
}
