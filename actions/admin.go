package actions

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/cppla/questboard/cache"
	"github.com/cppla/questboard/gateway"
	"github.com/cppla/questboard/models"
	"github.com/cppla/questboard/session"
	"github.com/cppla/questboard/utils"
)

type ReviewResult struct {
	Result
	PointsAwarded int `json:"points_awarded"`
}

type QuestSaveResult struct {
	Result
	Quest *models.Quest `json:"quest,omitempty"`
}

// ReviewSubmission approves or rejects a pending social submission.
func (s *Service) ReviewSubmission(ctx context.Context, h session.Handle, submissionID string, status models.SubmissionStatus, notes string) ReviewResult {
	if !h.IsAdmin() {
		return ReviewResult{Result: forbidden()}
	}
	res, err := s.gw.ReviewSocialTask(ctx, h.UserID, submissionID, status, utils.SanitizeText(notes, 1000))
	if err != nil {
		s.log.Warn("review failed", zap.String("reviewer_id", h.UserID), zap.String("submission_id", submissionID), zap.Error(err))
		return ReviewResult{Result: failure("Error", messageOr(err, genericFailure))}
	}
	if res.Status != gateway.StatusOK {
		return ReviewResult{Result: Result{
			Outcome: outcomeOf(res.Status),
			Notice:  Notice{Variant: VariantDestructive, Title: "Review Failed", Description: nonEmpty(res.Message, "Failed to review submission")},
		}}
	}
	return ReviewResult{Result: success("Submission Reviewed", res.Message), PointsAwarded: res.PointsAwarded}
}

// AwardQuest completes a quest for another user. Quest types without
// measurable requirements are completed this way.
func (s *Service) AwardQuest(ctx context.Context, h session.Handle, userID, questID string) QuestResult {
	if !h.IsAdmin() {
		return QuestResult{Result: forbidden()}
	}
	res, err := s.gw.AwardQuest(ctx, h.UserID, userID, questID)
	if err != nil {
		s.log.Warn("award quest failed", zap.String("admin_id", h.UserID), zap.String("user_id", userID), zap.String("quest_id", questID), zap.Error(err))
		return QuestResult{Result: failure("Error", messageOr(err, genericFailure))}
	}
	switch res.Status {
	case gateway.StatusOK:
		return QuestResult{
			Result:       success("Quest Awarded", fmt.Sprintf("+%d XP for %q", res.PointsEarned, res.QuestTitle)),
			PointsEarned: res.PointsEarned,
			QuestTitle:   res.QuestTitle,
		}
	case gateway.StatusAlreadyDone:
		return QuestResult{Result: benign("Quest already completed", res.Message), QuestTitle: res.QuestTitle}
	default:
		return QuestResult{Result: failure("Award Failed", nonEmpty(res.Message, "Failed to award quest"))}
	}
}

// QuestForm is the admin quest editor payload.
type QuestForm struct {
	Title        string          `json:"title"`
	Description  string          `json:"description"`
	QuestType    string          `json:"quest_type"`
	PointsReward int             `json:"points_reward"`
	IsActive     bool            `json:"is_active"`
	Requirements json.RawMessage `json:"requirements"`
}

// quest validates the form. A non-empty problem is shown to the admin.
func (f QuestForm) quest(id string) (q *models.Quest, problem string) {
	title := utils.SanitizeText(f.Title, 255)
	if title == "" {
		return nil, "Title is required"
	}
	qt := models.QuestType(strings.ToLower(strings.TrimSpace(f.QuestType)))
	if !qt.Valid() {
		return nil, fmt.Sprintf("Unknown quest type %q", f.QuestType)
	}
	if f.PointsReward < 0 {
		return nil, "Points reward cannot be negative"
	}
	var req []byte
	if raw := strings.TrimSpace(string(f.Requirements)); raw != "" && raw != "null" {
		if !json.Valid([]byte(raw)) {
			return nil, "Requirements must be valid JSON"
		}
		req = []byte(raw)
	}
	return &models.Quest{
		ID:           id,
		Title:        title,
		Description:  utils.Sanitize(strings.TrimSpace(f.Description)),
		QuestType:    qt,
		PointsReward: f.PointsReward,
		IsActive:     f.IsActive,
		Requirements: req,
	}, ""
}

// SaveQuest creates a quest when id is empty, otherwise updates it.
func (s *Service) SaveQuest(ctx context.Context, h session.Handle, id string, form QuestForm) QuestSaveResult {
	if !h.IsAdmin() {
		return QuestSaveResult{Result: forbidden()}
	}
	q, problem := form.quest(id)
	if problem != "" {
		return QuestSaveResult{Result: failure("Error", problem)}
	}
	if err := s.gw.SaveQuest(ctx, q); err != nil {
		if errors.Is(err, gateway.ErrNotFound) {
			return QuestSaveResult{Result: failure("Error", "Quest not found")}
		}
		s.log.Warn("save quest failed", zap.String("quest_id", id), zap.Error(err))
		return QuestSaveResult{Result: failure("Error", messageOr(err, genericFailure))}
	}
	s.cache.Invalidate(ctx, h, cache.EntryQuests)
	title := "Quest updated successfully!"
	if id == "" {
		title = "Quest created successfully!"
	}
	return QuestSaveResult{Result: success(title, ""), Quest: q}
}

// DeleteQuest removes a quest.
func (s *Service) DeleteQuest(ctx context.Context, h session.Handle, id string) Result {
	if !h.IsAdmin() {
		return forbidden()
	}
	if err := s.gw.DeleteQuest(ctx, id); err != nil {
		if errors.Is(err, gateway.ErrNotFound) {
			return failure("Error", "Quest not found")
		}
		s.log.Warn("delete quest failed", zap.String("quest_id", id), zap.Error(err))
		return failure("Error", messageOr(err, genericFailure))
	}
	s.cache.Invalidate(ctx, h, cache.EntryQuests)
	return success("Quest deleted successfully!", "")
}

// SetRole changes a user's role.
func (s *Service) SetRole(ctx context.Context, h session.Handle, userID string, role models.Role) Result {
	if !h.IsAdmin() {
		return forbidden()
	}
	if err := s.gw.SetRole(ctx, userID, role); err != nil {
		if errors.Is(err, gateway.ErrNotFound) {
			return failure("Error", "User not found")
		}
		return failure("Error", messageOr(err, genericFailure))
	}
	return success("Role Updated", fmt.Sprintf("User role updated to %s", role))
}
