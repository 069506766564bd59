package models

import (
	"time"

	"gorm.io/gorm"
)

// CheckinDateLayout is the calendar-day format of DailyCheckin.CheckinDate.
const CheckinDateLayout = "2006-01-02"

// DailyCheckin stores one check-in per user per UTC calendar day.
type DailyCheckin struct {
	ID           string    `gorm:"primaryKey;size:36" json:"id"`
	UserID       string    `gorm:"size:36;not null;uniqueIndex:idx_checkin_user_date" json:"user_id"`
	CheckinDate  string    `gorm:"size:10;not null;uniqueIndex:idx_checkin_user_date" json:"checkin_date"`
	PointsEarned int       `gorm:"not null;default:0" json:"points_earned"`
	StreakCount  int       `gorm:"not null;default:1" json:"streak_count"`
	CreatedAt    time.Time `json:"created_at"`
}

func (c *DailyCheckin) BeforeCreate(tx *gorm.DB) error {
	c.ID = newID(c.ID)
	return nil
}
