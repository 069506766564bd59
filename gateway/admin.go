package gateway

import (
	"context"
	"strings"

	"gorm.io/gorm"

	"github.com/cppla/questboard/models"
	"github.com/cppla/questboard/realtime"
)

// Overview aggregates the admin dashboard counters.
func (s *Store) Overview(ctx context.Context) (Overview, error) {
	var o Overview
	db := s.db.WithContext(ctx)
	if err := db.Model(&models.Profile{}).Count(&o.TotalUsers).Error; err != nil {
		return o, remote("overview", err)
	}
	if err := db.Model(&models.Quest{}).Count(&o.TotalQuests).Error; err != nil {
		return o, remote("overview", err)
	}
	if err := db.Model(&models.SocialTaskSubmission{}).Count(&o.TotalSubmissions).Error; err != nil {
		return o, remote("overview", err)
	}
	if err := db.Model(&models.SocialTaskSubmission{}).
		Where("status = ?", models.SubmissionPending).Count(&o.PendingReviews).Error; err != nil {
		return o, remote("overview", err)
	}
	var total struct{ Sum int64 }
	if err := db.Model(&models.Profile{}).Select("COALESCE(SUM(points), 0) AS sum").Scan(&total).Error; err != nil {
		return o, remote("overview", err)
	}
	o.TotalPoints = total.Sum
	return o, nil
}

// Submissions lists submissions newest first with the submitter and quest
// attached. An empty status lists all.
func (s *Store) Submissions(ctx context.Context, status models.SubmissionStatus) ([]models.SocialTaskSubmission, error) {
	q := s.db.WithContext(ctx).Preload("Profile").Preload("Quest")
	if status != "" {
		q = q.Where("status = ?", status)
	}
	var rows []models.SocialTaskSubmission
	err := q.Order("submitted_at DESC").Find(&rows).Error
	return rows, remote("submissions", err)
}

// AllQuests includes inactive quests.
func (s *Store) AllQuests(ctx context.Context) ([]models.Quest, error) {
	var rows []models.Quest
	err := s.db.WithContext(ctx).Order("created_at DESC").Find(&rows).Error
	return rows, remote("all quests", err)
}

// SaveQuest creates q when it has no id, otherwise updates every editable field.
func (s *Store) SaveQuest(ctx context.Context, q *models.Quest) error {
	if q == nil || strings.TrimSpace(q.Title) == "" || !q.QuestType.Valid() {
		return &RemoteError{Op: "save quest", Message: "Title and a valid quest type are required", Err: ErrInvalid}
	}
	event := realtime.EventUpdate
	err := s.transact(ctx, func(tx *gorm.DB, emit emitter) error {
		if q.ID == "" {
			event = realtime.EventInsert
			if err := tx.Create(q).Error; err != nil {
				return err
			}
		} else {
			res := tx.Model(&models.Quest{}).Where("id = ?", q.ID).Updates(map[string]any{
				"title":         q.Title,
				"description":   q.Description,
				"quest_type":    q.QuestType,
				"requirements":  q.Requirements,
				"points_reward": q.PointsReward,
				"is_active":     q.IsActive,
			})
			if res.Error != nil {
				return res.Error
			}
			if res.RowsAffected == 0 {
				return ErrNotFound
			}
			if err := tx.Where("id = ?", q.ID).First(q).Error; err != nil {
				return err
			}
		}
		emit(realtime.NewChange("quests", event, "id", q.ID))
		return nil
	})
	if err == ErrNotFound {
		return err
	}
	return remote("save quest", err)
}

func (s *Store) DeleteQuest(ctx context.Context, questID string) error {
	err := s.transact(ctx, func(tx *gorm.DB, emit emitter) error {
		res := tx.Where("id = ?", questID).Delete(&models.Quest{})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return ErrNotFound
		}
		emit(realtime.NewChange("quests", realtime.EventDelete, "id", questID))
		return nil
	})
	if err == ErrNotFound {
		return err
	}
	return remote("delete quest", err)
}

// ListProfiles returns the newest profiles first.
func (s *Store) ListProfiles(ctx context.Context, limit int) ([]models.Profile, error) {
	var rows []models.Profile
	err := s.db.WithContext(ctx).Order("created_at DESC").Limit(limit).Find(&rows).Error
	return rows, remote("list profiles", err)
}

func (s *Store) SetRole(ctx context.Context, userID string, role models.Role) error {
	if role != models.RoleUser && role != models.RoleAdmin {
		return &RemoteError{Op: "set role", Message: "Unknown role", Err: ErrInvalid}
	}
	err := s.transact(ctx, func(tx *gorm.DB, emit emitter) error {
		res := tx.Model(&models.Profile{}).Where("user_id = ?", userID).Update("role", role)
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return ErrNotFound
		}
		emit(profileChanged(userID))
		return nil
	})
	if err == ErrNotFound {
		return err
	}
	return remote("set role", err)
}

// UpdateProfile applies the non-nil fields. Callers sanitize the values.
func (s *Store) UpdateProfile(ctx context.Context, userID string, in ProfileUpdate) (*models.Profile, error) {
	updates := map[string]any{}
	if in.Username != nil {
		name := strings.TrimSpace(*in.Username)
		if name == "" {
			return nil, &RemoteError{Op: "update profile", Message: "Username cannot be empty", Err: ErrInvalid}
		}
		updates["username"] = name
	}
	if in.Bio != nil {
		updates["bio"] = *in.Bio
	}
	if in.Website != nil {
		updates["website"] = *in.Website
	}
	if in.Location != nil {
		updates["location"] = *in.Location
	}

	var p models.Profile
	err := s.transact(ctx, func(tx *gorm.DB, emit emitter) error {
		if len(updates) > 0 {
			res := tx.Model(&models.Profile{}).Where("user_id = ?", userID).Updates(updates)
			if res.Error != nil {
				if isDuplicate(res.Error) {
					return &RemoteError{Op: "update profile", Message: "Username already taken", Err: ErrConflict}
				}
				return res.Error
			}
			emit(profileChanged(userID))
		}
		if err := tx.Where("user_id = ?", userID).First(&p).Error; err != nil {
			if notFound(err) {
				return ErrNotFound
			}
			return err
		}
		return nil
	})
	if err == ErrNotFound {
		return nil, err
	}
	if err != nil {
		return nil, remote("update profile", err)
	}
	return &p, nil
}
