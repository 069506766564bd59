package models

import (
	"time"

	"gorm.io/gorm"
)

// UserQuestCompletion marks a quest as claimed by a user. At most one row per (user, quest).
type UserQuestCompletion struct {
	ID           string    `gorm:"primaryKey;size:36" json:"id"`
	UserID       string    `gorm:"size:36;not null;uniqueIndex:idx_completion_user_quest" json:"user_id"`
	QuestID      string    `gorm:"size:36;not null;uniqueIndex:idx_completion_user_quest" json:"quest_id"`
	PointsEarned int       `gorm:"not null;default:0" json:"points_earned"`
	CompletedAt  time.Time `gorm:"index" json:"completed_at"`
	Quest        *Quest    `gorm:"foreignKey:QuestID" json:"quests,omitempty"`
}

func (c *UserQuestCompletion) BeforeCreate(tx *gorm.DB) error {
	c.ID = newID(c.ID)
	if c.CompletedAt.IsZero() {
		c.CompletedAt = time.Now().UTC()
	}
	return nil
}
