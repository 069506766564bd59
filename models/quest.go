package models

import (
	"time"

	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// QuestType selects the completion rule of a quest.
type QuestType string

const (
	QuestDaily        QuestType = "daily"
	QuestSocial       QuestType = "social"
	QuestReferral     QuestType = "referral"
	QuestMilestone    QuestType = "milestone"
	QuestOnetime      QuestType = "onetime"
	QuestVerification QuestType = "verification"
	QuestEngagement   QuestType = "engagement"
	QuestProfile      QuestType = "profile"
)

// Valid reports whether t is one of the declared quest types.
func (t QuestType) Valid() bool {
	switch t {
	case QuestDaily, QuestSocial, QuestReferral, QuestMilestone,
		QuestOnetime, QuestVerification, QuestEngagement, QuestProfile:
		return true
	}
	return false
}

// Quest is an admin-defined task with a type-specific requirements document.
type Quest struct {
	ID           string         `gorm:"primaryKey;size:36" json:"id"`
	Title        string         `gorm:"size:255;not null" json:"title"`
	Description  string         `gorm:"type:text" json:"description"`
	QuestType    QuestType      `gorm:"size:32;not null;default:'daily'" json:"quest_type"`
	Requirements datatypes.JSON `json:"requirements"`
	PointsReward int            `gorm:"not null;default:0" json:"points_reward"`
	IsActive     bool           `gorm:"not null;index" json:"is_active"`
	CreatedAt    time.Time      `json:"created_at"`
	UpdatedAt    time.Time      `json:"updated_at"`
}

func (q *Quest) BeforeCreate(tx *gorm.DB) error {
	q.ID = newID(q.ID)
	return nil
}
