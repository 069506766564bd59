package actions

import (
	"context"
	"fmt"
	"strings"

	"github.com/gosimple/slug"
	"go.uber.org/zap"

	"github.com/cppla/questboard/cache"
	"github.com/cppla/questboard/gateway"
	"github.com/cppla/questboard/models"
	"github.com/cppla/questboard/session"
	"github.com/cppla/questboard/utils"
)

type CheckinResult struct {
	Result
	PointsEarned int `json:"points_earned"`
	StreakCount  int `json:"streak_count"`
}

type QuestResult struct {
	Result
	PointsEarned int    `json:"points_earned"`
	QuestTitle   string `json:"quest_title,omitempty"`
}

type ClaimResult struct {
	Result
	PointsEarned int    `json:"points_earned"`
	TierLevel    string `json:"tier_level,omitempty"`
}

type SubmitResult struct {
	Result
	SubmissionID string `json:"submission_id,omitempty"`
}

type ProfileResult struct {
	Result
	Profile *models.Profile `json:"profile,omitempty"`
}

// CheckIn claims today's check-in. A repeat on the same day is benign.
func (s *Service) CheckIn(ctx context.Context, h session.Handle) CheckinResult {
	if !h.Authenticated() {
		return CheckinResult{Result: signInRequired("Please sign in to claim your daily check-in.")}
	}
	res, err := s.gw.CheckIn(ctx, h.UserID)
	if err != nil {
		s.log.Warn("check-in failed", zap.String("user_id", h.UserID), zap.Error(err))
		return CheckinResult{Result: failure("Check-in failed", messageOr(err, genericFailure))}
	}
	switch res.Status {
	case gateway.StatusOK:
		s.cache.Invalidate(ctx, h,
			cache.EntryDailyCheckins, cache.EntryCurrentStreak, cache.EntryCheckedInToday,
			cache.EntryProfile, cache.EntryActivities)
		return CheckinResult{
			Result:       success("Check-in successful! 🎉", fmt.Sprintf("+%d points (%d day streak)", res.PointsEarned, res.StreakCount)),
			PointsEarned: res.PointsEarned,
			StreakCount:  res.StreakCount,
		}
	case gateway.StatusAlreadyDone:
		return CheckinResult{Result: benign("Already checked in", res.Message), StreakCount: res.StreakCount}
	default:
		return CheckinResult{Result: failure("Check-in failed", nonEmpty(res.Message, genericFailure))}
	}
}

// CompleteQuest asks the server to complete a quest. Eligibility is decided
// server side only.
func (s *Service) CompleteQuest(ctx context.Context, h session.Handle, questID string) QuestResult {
	if !h.Authenticated() {
		return QuestResult{Result: signInRequired("Please sign in to complete quests.")}
	}
	res, err := s.gw.CompleteQuest(ctx, h.UserID, questID)
	if err != nil {
		s.log.Warn("quest completion failed", zap.String("user_id", h.UserID), zap.String("quest_id", questID), zap.Error(err))
		return QuestResult{Result: failure("Quest completion failed", messageOr(err, genericFailure))}
	}
	switch res.Status {
	case gateway.StatusOK:
		s.cache.Invalidate(ctx, h, cache.EntryCompletions, cache.EntryProfile, cache.EntryActivities)
		return QuestResult{
			Result:       success("Quest completed! 🎉", fmt.Sprintf("+%d XP for completing %q", res.PointsEarned, res.QuestTitle)),
			PointsEarned: res.PointsEarned,
			QuestTitle:   res.QuestTitle,
		}
	case gateway.StatusAlreadyDone:
		return QuestResult{Result: benign("Quest already completed", res.Message)}
	default:
		return QuestResult{Result: failure("Quest completion failed", nonEmpty(res.Message, genericFailure))}
	}
}

// ClaimReferralReward claims one of the caller's own reward tiers.
func (s *Service) ClaimReferralReward(ctx context.Context, h session.Handle, rewardID string) ClaimResult {
	if !h.Authenticated() {
		return ClaimResult{Result: signInRequired("Please sign in to claim rewards.")}
	}
	rewards, err := s.cache.ReferralRewards(ctx, h)
	if err != nil {
		s.log.Warn("load rewards failed", zap.String("user_id", h.UserID), zap.Error(err))
		return ClaimResult{Result: failure("Error", "Failed to claim reward. Please try again.")}
	}
	owned := false
	for _, r := range rewards {
		if r.ID == rewardID {
			owned = true
			break
		}
	}
	if !owned {
		return ClaimResult{Result: failure("Claim Failed", "Reward not found")}
	}

	res, err := s.gw.ClaimReferralReward(ctx, h.UserID, rewardID)
	if err != nil {
		s.log.Warn("claim reward failed", zap.String("user_id", h.UserID), zap.String("reward_id", rewardID), zap.Error(err))
		return ClaimResult{Result: failure("Error", "Failed to claim reward. Please try again.")}
	}
	if res.Status != gateway.StatusOK {
		// the cached tier list is stale when the server disagrees with it
		s.cache.Invalidate(ctx, h, cache.EntryRewards)
		return ClaimResult{Result: failure("Claim Failed", nonEmpty(res.Message, genericFailure))}
	}
	s.cache.Invalidate(ctx, h, cache.EntryRewards, cache.EntryProfile, cache.EntryActivities)
	return ClaimResult{
		Result:       success("Reward Claimed!", fmt.Sprintf("You earned %d XP for reaching %s tier!", res.PointsEarned, res.TierLevel)),
		PointsEarned: res.PointsEarned,
		TierLevel:    res.TierLevel,
	}
}

// LogActivity records an activity in the background. Signed-out handles and
// failures are ignored.
func (s *Service) LogActivity(h session.Handle, activityType string, data map[string]any, points int) {
	if !h.Authenticated() || s.activity == nil {
		return
	}
	s.activity.Submit(gateway.ActivityInput{UserID: h.UserID, Type: activityType, Data: data, Points: points})
}

// OnSession logs a login activity for every sign-in.
func (s *Service) OnSession(e session.Event, h session.Handle) {
	if e == session.SignedIn {
		s.LogActivity(h, models.ActivityLogin, nil, s.opts.LoginPoints)
	}
}

// SubmitSocialTask files proof for a social quest.
func (s *Service) SubmitSocialTask(ctx context.Context, h session.Handle, questID, platform, username string) SubmitResult {
	if !h.Authenticated() {
		return SubmitResult{Result: signInRequired("Please sign in to submit tasks.")}
	}
	username = utils.SanitizeText(username, 128)
	if username == "" {
		return SubmitResult{Result: failure("Username required", "Please enter your username")}
	}
	platform = strings.ToLower(utils.SanitizeText(platform, 32))

	res, err := s.gw.SubmitSocialTask(ctx, h.UserID, questID, platform, username)
	if err != nil {
		s.log.Warn("social submission failed", zap.String("user_id", h.UserID), zap.String("quest_id", questID), zap.Error(err))
		return SubmitResult{Result: failure("Error", messageOr(err, "Failed to submit task"))}
	}
	switch res.Status {
	case gateway.StatusOK:
		s.cache.Invalidate(ctx, h, cache.EntryActivities)
		return SubmitResult{Result: success("Task Submitted!", nonEmpty(res.Message, "Your submission is being reviewed.")), SubmissionID: res.SubmissionID}
	case gateway.StatusAlreadyDone:
		return SubmitResult{Result: benign("Already submitted", res.Message)}
	default:
		return SubmitResult{Result: failure("Submission Failed", nonEmpty(res.Message, "Failed to submit task"))}
	}
}

// ProfileForm holds the editable profile fields; nil leaves a field as is.
type ProfileForm struct {
	Username *string `json:"username"`
	Bio      *string `json:"bio"`
	Website  *string `json:"website"`
	Location *string `json:"location"`
}

// UpdateProfile sanitizes and stores the caller's profile fields.
func (s *Service) UpdateProfile(ctx context.Context, h session.Handle, form ProfileForm) ProfileResult {
	if !h.Authenticated() {
		return ProfileResult{Result: signInRequired("Please sign in to edit your profile.")}
	}
	var in gateway.ProfileUpdate
	if form.Username != nil {
		name := slug.Make(utils.SanitizeText(*form.Username, 64))
		if l := len(name); l < 3 || l > 32 {
			return ProfileResult{Result: failure("Error", "Username must be 3-32 letters, digits or dashes")}
		}
		in.Username = &name
	}
	if form.Bio != nil {
		bio := utils.SanitizeText(*form.Bio, 500)
		in.Bio = &bio
	}
	if form.Website != nil {
		site := utils.SanitizeText(*form.Website, 255)
		if site != "" && !strings.HasPrefix(site, "http://") && !strings.HasPrefix(site, "https://") {
			site = "https://" + site
		}
		in.Website = &site
	}
	if form.Location != nil {
		loc := utils.SanitizeText(*form.Location, 128)
		in.Location = &loc
	}

	p, err := s.gw.UpdateProfile(ctx, h.UserID, in)
	if err != nil {
		s.log.Warn("profile update failed", zap.String("user_id", h.UserID), zap.Error(err))
		return ProfileResult{Result: failure("Error", messageOr(err, genericFailure))}
	}
	s.cache.Invalidate(ctx, h, cache.EntryProfile)
	return ProfileResult{Result: success("Profile Updated", "Your profile has been successfully updated."), Profile: p}
}
