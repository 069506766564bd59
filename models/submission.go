package models

import (
	"time"

	"gorm.io/gorm"
)

// SubmissionStatus tracks the single review transition of a social task submission.
type SubmissionStatus string

const (
	SubmissionPending  SubmissionStatus = "pending"
	SubmissionApproved SubmissionStatus = "approved"
	SubmissionRejected SubmissionStatus = "rejected"
)

// SocialTaskSubmission is user-supplied proof of an off-platform action awaiting admin review.
type SocialTaskSubmission struct {
	ID          string           `gorm:"primaryKey;size:36" json:"id"`
	UserID      string           `gorm:"size:36;not null;index" json:"user_id"`
	QuestID     string           `gorm:"size:36;not null;index" json:"quest_id"`
	Platform    string           `gorm:"size:32;not null" json:"platform"`
	Username    string           `gorm:"size:128;not null" json:"username"`
	Status      SubmissionStatus `gorm:"size:16;not null;default:'pending';index" json:"status"`
	ReviewedBy  *string          `gorm:"size:36" json:"reviewed_by,omitempty"`
	ReviewedAt  *time.Time       `json:"reviewed_at,omitempty"`
	Notes       string           `gorm:"type:text" json:"notes,omitempty"`
	SubmittedAt time.Time        `gorm:"index" json:"submitted_at"`
	Profile     *Profile         `gorm:"foreignKey:UserID;references:UserID" json:"profiles,omitempty"`
	Quest       *Quest           `gorm:"foreignKey:QuestID" json:"quests,omitempty"`
}

func (s *SocialTaskSubmission) BeforeCreate(tx *gorm.DB) error {
	s.ID = newID(s.ID)
	if s.SubmittedAt.IsZero() {
		s.SubmittedAt = time.Now().UTC()
	}
	if s.Status == "" {
		s.Status = SubmissionPending
	}
	return nil
}
