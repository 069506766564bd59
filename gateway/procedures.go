package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"strings"

	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/cppla/questboard/models"
	"github.com/cppla/questboard/progress"
	"github.com/cppla/questboard/realtime"
)

// ErrConflict is returned when a unique value is already taken.
var ErrConflict = errors.New("gateway: conflict")

var (
	errAlreadyCheckedIn = errors.New("already checked in today")
	errAlreadyCompleted = errors.New("quest already completed")
	errAlreadyClaimed   = errors.New("reward already claimed")
	errAlreadyReviewed  = errors.New("submission already reviewed")
)

// CheckIn records today's check-in, extends or resets the streak and credits points.
func (s *Store) CheckIn(ctx context.Context, userID string) (CheckinResult, error) {
	if userID == "" {
		return CheckinResult{}, remote("check-in", ErrInvalid)
	}
	today := s.rules.today()

	var out CheckinResult
	err := s.transact(ctx, func(tx *gorm.DB, emit emitter) error {
		var profile models.Profile
		if err := locked(tx).Where("user_id = ?", userID).First(&profile).Error; err != nil {
			if notFound(err) {
				out = CheckinResult{Result: rejected("Profile not found")}
				return nil
			}
			return err
		}

		var last models.DailyCheckin
		var prev *models.DailyCheckin
		err := tx.Where("user_id = ?", userID).Order("checkin_date DESC").First(&last).Error
		switch {
		case err == nil:
			if last.CheckinDate == today {
				out = CheckinResult{Result: alreadyDone("Already checked in today"), StreakCount: last.StreakCount}
				return nil
			}
			prev = &last
		case !notFound(err):
			return err
		}

		streak := NextStreak(prev, today)
		points := s.rules.CheckinPoints(streak)
		record := models.DailyCheckin{
			UserID:       userID,
			CheckinDate:  today,
			PointsEarned: points,
			StreakCount:  streak,
		}
		if err := tx.Create(&record).Error; err != nil {
			if isDuplicate(err) {
				return errAlreadyCheckedIn
			}
			return err
		}
		if err := creditPoints(tx, userID, points); err != nil {
			return err
		}
		if err := insertActivity(tx, ActivityInput{
			UserID: userID,
			Type:   models.ActivityDailyCheckin,
			Data:   map[string]any{"checkin_date": today, "streak_count": streak},
			Points: points,
		}); err != nil {
			return err
		}

		emit(userRowInserted("daily_checkins", userID))
		emit(profileChanged(userID))
		emit(userRowInserted("user_activities", userID))
		out = CheckinResult{Result: ok("Daily check-in successful"), PointsEarned: points, StreakCount: streak}
		return nil
	})
	if errors.Is(err, errAlreadyCheckedIn) {
		return CheckinResult{Result: alreadyDone("Already checked in today")}, nil
	}
	if err != nil {
		return CheckinResult{}, remote("check-in", err)
	}
	return out, nil
}

// CompleteQuest re-validates eligibility against server counters and awards the quest once.
func (s *Store) CompleteQuest(ctx context.Context, userID, questID string) (CompletionResult, error) {
	if userID == "" || questID == "" {
		return CompletionResult{}, remote("complete quest", ErrInvalid)
	}

	var out CompletionResult
	err := s.transact(ctx, func(tx *gorm.DB, emit emitter) error {
		var profile models.Profile
		if err := locked(tx).Where("user_id = ?", userID).First(&profile).Error; err != nil {
			if notFound(err) {
				out = CompletionResult{Result: rejected("Profile not found")}
				return nil
			}
			return err
		}

		var quest models.Quest
		if err := tx.Where("id = ?", questID).First(&quest).Error; err != nil {
			if notFound(err) {
				out = CompletionResult{Result: rejected("Quest not found or inactive")}
				return nil
			}
			return err
		}
		if !quest.IsActive {
			out = CompletionResult{Result: rejected("Quest not found or inactive"), QuestTitle: quest.Title}
			return nil
		}

		var done int64
		if err := tx.Model(&models.UserQuestCompletion{}).
			Where("user_id = ? AND quest_id = ?", userID, questID).Count(&done).Error; err != nil {
			return err
		}
		if done > 0 {
			out = CompletionResult{Result: alreadyDone("Quest already completed"), QuestTitle: quest.Title}
			return nil
		}

		if quest.QuestType == models.QuestSocial {
			out = CompletionResult{Result: rejected("This quest is completed through a reviewed submission"), QuestTitle: quest.Title}
			return nil
		}
		counters, err := s.countersTx(tx, &profile)
		if err != nil {
			return err
		}
		if !progress.CanComplete(quest, counters) {
			out = CompletionResult{Result: rejected("Quest requirements not met"), QuestTitle: quest.Title}
			return nil
		}

		if err := awardQuest(tx, emit, userID, quest, nil); err != nil {
			return err
		}
		out = CompletionResult{Result: ok("Quest completed successfully"), PointsEarned: quest.PointsReward, QuestTitle: quest.Title}
		return nil
	})
	if errors.Is(err, errAlreadyCompleted) {
		return CompletionResult{Result: alreadyDone("Quest already completed")}, nil
	}
	if err != nil {
		return CompletionResult{}, remote("complete quest", err)
	}
	return out, nil
}

// awardQuest inserts the completion row and credits the quest reward.
func awardQuest(tx *gorm.DB, emit emitter, userID string, quest models.Quest, extra map[string]any) error {
	completion := models.UserQuestCompletion{
		UserID:       userID,
		QuestID:      quest.ID,
		PointsEarned: quest.PointsReward,
	}
	if err := tx.Create(&completion).Error; err != nil {
		if isDuplicate(err) {
			return errAlreadyCompleted
		}
		return err
	}
	if err := creditPoints(tx, userID, quest.PointsReward); err != nil {
		return err
	}
	data := map[string]any{"quest_id": quest.ID, "quest_title": quest.Title}
	for k, v := range extra {
		data[k] = v
	}
	if err := insertActivity(tx, ActivityInput{
		UserID: userID,
		Type:   models.ActivityQuestCompleted,
		Data:   data,
		Points: quest.PointsReward,
	}); err != nil {
		return err
	}
	emit(userRowInserted("user_quest_completions", userID))
	emit(profileChanged(userID))
	emit(userRowInserted("user_activities", userID))
	return nil
}

// ClaimReferralReward claims an unlocked tier exactly once.
func (s *Store) ClaimReferralReward(ctx context.Context, userID, rewardID string) (ClaimResult, error) {
	if userID == "" || rewardID == "" {
		return ClaimResult{}, remote("claim reward", ErrInvalid)
	}

	var out ClaimResult
	err := s.transact(ctx, func(tx *gorm.DB, emit emitter) error {
		var reward models.ReferralReward
		if err := locked(tx).Where("id = ? AND user_id = ?", rewardID, userID).First(&reward).Error; err != nil {
			if notFound(err) {
				out = ClaimResult{Result: rejected("Reward not found")}
				return nil
			}
			return err
		}
		if reward.IsClaimed {
			out = ClaimResult{Result: rejected("Reward already claimed"), TierLevel: reward.TierLevel}
			return nil
		}

		var profile models.Profile
		if err := locked(tx).Where("user_id = ?", userID).First(&profile).Error; err != nil {
			return err
		}
		if profile.TotalReferrals < reward.ReferralsRequired {
			out = ClaimResult{Result: rejected("Not enough referrals to claim this reward"), TierLevel: reward.TierLevel}
			return nil
		}

		now := s.rules.Now().UTC()
		res := tx.Model(&models.ReferralReward{}).
			Where("id = ? AND is_claimed = ?", reward.ID, false).
			Updates(map[string]any{"is_claimed": true, "claimed_at": now})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return errAlreadyClaimed
		}
		if err := creditPoints(tx, userID, reward.BonusPoints); err != nil {
			return err
		}
		if err := insertActivity(tx, ActivityInput{
			UserID: userID,
			Type:   models.ActivityReferralReward,
			Data:   map[string]any{"reward_id": reward.ID, "tier_level": reward.TierLevel},
			Points: reward.BonusPoints,
		}); err != nil {
			return err
		}

		emit(realtime.NewChange("referral_rewards", realtime.EventUpdate, "user_id", userID))
		emit(profileChanged(userID))
		emit(userRowInserted("user_activities", userID))
		out = ClaimResult{Result: ok("Reward claimed successfully"), PointsEarned: reward.BonusPoints, TierLevel: reward.TierLevel}
		return nil
	})
	if errors.Is(err, errAlreadyClaimed) {
		return ClaimResult{Result: rejected("Reward already claimed")}, nil
	}
	if err != nil {
		return ClaimResult{}, remote("claim reward", err)
	}
	return out, nil
}

// LogActivity appends an audit entry and credits its points, if any.
func (s *Store) LogActivity(ctx context.Context, in ActivityInput) error {
	if in.UserID == "" || strings.TrimSpace(in.Type) == "" {
		return remote("log activity", ErrInvalid)
	}
	err := s.transact(ctx, func(tx *gorm.DB, emit emitter) error {
		if err := insertActivity(tx, in); err != nil {
			return err
		}
		if in.Points != 0 {
			if err := creditPoints(tx, in.UserID, in.Points); err != nil {
				return err
			}
			emit(profileChanged(in.UserID))
		}
		emit(userRowInserted("user_activities", in.UserID))
		return nil
	})
	return remote("log activity", err)
}

// SubmitSocialTask files proof of an off-platform action for review.
func (s *Store) SubmitSocialTask(ctx context.Context, userID, questID, platform, username string) (SubmissionResult, error) {
	username = strings.TrimSpace(username)
	platform = strings.ToLower(strings.TrimSpace(platform))
	if userID == "" || questID == "" {
		return SubmissionResult{}, remote("submit social task", ErrInvalid)
	}
	if username == "" {
		return SubmissionResult{Result: rejected("Username is required")}, nil
	}

	var out SubmissionResult
	err := s.transact(ctx, func(tx *gorm.DB, emit emitter) error {
		var quest models.Quest
		if err := tx.Where("id = ?", questID).First(&quest).Error; err != nil {
			if notFound(err) {
				out = SubmissionResult{Result: rejected("Quest not found or inactive")}
				return nil
			}
			return err
		}
		if !quest.IsActive {
			out = SubmissionResult{Result: rejected("Quest not found or inactive")}
			return nil
		}
		if quest.QuestType != models.QuestSocial {
			out = SubmissionResult{Result: rejected("This quest does not accept submissions")}
			return nil
		}

		var done int64
		if err := tx.Model(&models.UserQuestCompletion{}).
			Where("user_id = ? AND quest_id = ?", userID, questID).Count(&done).Error; err != nil {
			return err
		}
		if done > 0 {
			out = SubmissionResult{Result: alreadyDone("Quest already completed")}
			return nil
		}

		var open int64
		if err := tx.Model(&models.SocialTaskSubmission{}).
			Where("user_id = ? AND quest_id = ? AND status = ?", userID, questID, models.SubmissionPending).
			Count(&open).Error; err != nil {
			return err
		}
		if open > 0 {
			out = SubmissionResult{Result: alreadyDone("You have already submitted this task")}
			return nil
		}

		sub := models.SocialTaskSubmission{
			UserID:   userID,
			QuestID:  questID,
			Platform: platform,
			Username: username,
			Status:   models.SubmissionPending,
		}
		if err := tx.Create(&sub).Error; err != nil {
			return err
		}
		if err := insertActivity(tx, ActivityInput{
			UserID: userID,
			Type:   models.ActivitySocialSubmitted,
			Data:   map[string]any{"quest_id": questID, "platform": platform, "submission_id": sub.ID},
		}); err != nil {
			return err
		}
		emit(userRowInserted("social_task_submissions", userID))
		emit(userRowInserted("user_activities", userID))
		out = SubmissionResult{Result: ok("Your submission is being reviewed."), SubmissionID: sub.ID}
		return nil
	})
	if err != nil {
		return SubmissionResult{}, remote("submit social task", err)
	}
	return out, nil
}

// ReviewSocialTask moves a pending submission to approved or rejected exactly
// once. Approval awards the quest unless it was already completed.
func (s *Store) ReviewSocialTask(ctx context.Context, reviewerID, submissionID string, status models.SubmissionStatus, notes string) (ReviewResult, error) {
	if status != models.SubmissionApproved && status != models.SubmissionRejected {
		return ReviewResult{}, &RemoteError{Op: "review social task", Message: "Invalid review status", Err: ErrInvalid}
	}
	if reviewerID == "" || submissionID == "" {
		return ReviewResult{}, remote("review social task", ErrInvalid)
	}

	var out ReviewResult
	err := s.transact(ctx, func(tx *gorm.DB, emit emitter) error {
		var reviewer models.Profile
		if err := tx.Where("user_id = ?", reviewerID).First(&reviewer).Error; err != nil {
			if notFound(err) {
				out = ReviewResult{Result: rejected("Admin access required")}
				return nil
			}
			return err
		}
		if !reviewer.IsAdmin() {
			out = ReviewResult{Result: rejected("Admin access required")}
			return nil
		}

		var sub models.SocialTaskSubmission
		if err := locked(tx).Where("id = ?", submissionID).First(&sub).Error; err != nil {
			if notFound(err) {
				out = ReviewResult{Result: rejected("Submission not found")}
				return nil
			}
			return err
		}
		if sub.Status != models.SubmissionPending {
			out = ReviewResult{Result: rejected("Submission has already been reviewed")}
			return nil
		}

		now := s.rules.Now().UTC()
		res := tx.Model(&models.SocialTaskSubmission{}).
			Where("id = ? AND status = ?", sub.ID, models.SubmissionPending).
			Updates(map[string]any{
				"status":      status,
				"reviewed_by": reviewerID,
				"reviewed_at": now,
				"notes":       strings.TrimSpace(notes),
			})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return errAlreadyReviewed
		}
		emit(realtime.NewChange("social_task_submissions", realtime.EventUpdate, "user_id", sub.UserID))

		if status == models.SubmissionRejected {
			out = ReviewResult{Result: ok("Submission rejected")}
			return nil
		}

		var quest models.Quest
		if err := tx.Where("id = ?", sub.QuestID).First(&quest).Error; err != nil {
			return err
		}
		var done int64
		if err := tx.Model(&models.UserQuestCompletion{}).
			Where("user_id = ? AND quest_id = ?", sub.UserID, quest.ID).Count(&done).Error; err != nil {
			return err
		}
		if done > 0 {
			out = ReviewResult{Result: ok("Submission approved")}
			return nil
		}
		if err := awardQuest(tx, emit, sub.UserID, quest, map[string]any{"submission_id": sub.ID}); err != nil {
			return err
		}
		out = ReviewResult{Result: ok("Submission approved"), PointsAwarded: quest.PointsReward}
		return nil
	})
	if errors.Is(err, errAlreadyReviewed) {
		return ReviewResult{Result: rejected("Submission has already been reviewed")}, nil
	}
	if err != nil {
		return ReviewResult{}, remote("review social task", err)
	}
	return out, nil
}

// AwardQuest completes a quest for userID on an admin's behalf. It is the
// completion path for quest types whose requirements cannot be measured.
func (s *Store) AwardQuest(ctx context.Context, adminID, userID, questID string) (CompletionResult, error) {
	if adminID == "" || userID == "" || questID == "" {
		return CompletionResult{}, remote("award quest", ErrInvalid)
	}

	var out CompletionResult
	err := s.transact(ctx, func(tx *gorm.DB, emit emitter) error {
		var admin models.Profile
		if err := tx.Where("user_id = ?", adminID).First(&admin).Error; err != nil {
			if notFound(err) {
				out = CompletionResult{Result: rejected("Admin access required")}
				return nil
			}
			return err
		}
		if !admin.IsAdmin() {
			out = CompletionResult{Result: rejected("Admin access required")}
			return nil
		}

		var profile models.Profile
		if err := locked(tx).Where("user_id = ?", userID).First(&profile).Error; err != nil {
			if notFound(err) {
				out = CompletionResult{Result: rejected("Profile not found")}
				return nil
			}
			return err
		}
		var quest models.Quest
		if err := tx.Where("id = ?", questID).First(&quest).Error; err != nil {
			if notFound(err) {
				out = CompletionResult{Result: rejected("Quest not found or inactive")}
				return nil
			}
			return err
		}
		if !quest.IsActive {
			out = CompletionResult{Result: rejected("Quest not found or inactive"), QuestTitle: quest.Title}
			return nil
		}

		var done int64
		if err := tx.Model(&models.UserQuestCompletion{}).
			Where("user_id = ? AND quest_id = ?", userID, questID).Count(&done).Error; err != nil {
			return err
		}
		if done > 0 {
			out = CompletionResult{Result: alreadyDone("Quest already completed"), QuestTitle: quest.Title}
			return nil
		}

		if err := awardQuest(tx, emit, userID, quest, map[string]any{"awarded_by": adminID}); err != nil {
			return err
		}
		out = CompletionResult{Result: ok("Quest awarded"), PointsEarned: quest.PointsReward, QuestTitle: quest.Title}
		return nil
	})
	if errors.Is(err, errAlreadyCompleted) {
		return CompletionResult{Result: alreadyDone("Quest already completed")}, nil
	}
	if err != nil {
		return CompletionResult{}, remote("award quest", err)
	}
	return out, nil
}

// InitializeReferralRewards seeds the tier rows for a user; existing tiers are kept.
func (s *Store) InitializeReferralRewards(ctx context.Context, userID string) error {
	if userID == "" {
		return remote("initialize rewards", ErrInvalid)
	}
	err := s.transact(ctx, func(tx *gorm.DB, emit emitter) error {
		if err := s.seedRewards(tx, userID); err != nil {
			return err
		}
		emit(userRowInserted("referral_rewards", userID))
		return nil
	})
	return remote("initialize rewards", err)
}

func (s *Store) seedRewards(tx *gorm.DB, userID string) error {
	rows := make([]models.ReferralReward, 0, len(s.rules.Tiers))
	for _, t := range s.rules.Tiers {
		rows = append(rows, models.ReferralReward{
			UserID:            userID,
			TierLevel:         t.Level,
			ReferralsRequired: t.ReferralsRequired,
			BonusPoints:       t.BonusPoints,
		})
	}
	return tx.Clauses(clause.OnConflict{DoNothing: true}).Create(&rows).Error
}

// ReferrerByCode resolves a referral code to the owning user id.
func (s *Store) ReferrerByCode(ctx context.Context, code string) (string, error) {
	code = normalizeCode(code)
	if code == "" {
		return "", ErrNotFound
	}
	var p models.Profile
	if err := s.db.WithContext(ctx).Select("user_id").Where("referral_code = ?", code).First(&p).Error; err != nil {
		if notFound(err) {
			return "", ErrNotFound
		}
		return "", remote("referrer by code", err)
	}
	return p.UserID, nil
}

// RegisterProfile creates a profile, links it to the referrer owning
// referralCode (an unknown code is ignored), credits the referrer and seeds
// the new user's reward tiers.
func (s *Store) RegisterProfile(ctx context.Context, p *models.Profile, referralCode string) error {
	if p == nil || strings.TrimSpace(p.Username) == "" {
		return remote("register profile", ErrInvalid)
	}
	code := normalizeCode(referralCode)

	err := s.transact(ctx, func(tx *gorm.DB, emit emitter) error {
		var referrer *models.Profile
		if code != "" {
			var r models.Profile
			err := locked(tx).Where("referral_code = ?", code).First(&r).Error
			switch {
			case err == nil:
				referrer = &r
				p.ReferredBy = &r.UserID
			case notFound(err):
				s.log.Info("unknown referral code ignored", zap.String("code", code))
			default:
				return err
			}
		}

		if err := tx.Create(p).Error; err != nil {
			if isDuplicate(err) {
				return &RemoteError{Op: "register profile", Message: "Username or email already taken", Err: ErrConflict}
			}
			return err
		}
		if err := s.seedRewards(tx, p.UserID); err != nil {
			return err
		}

		insert := realtime.NewChange("profiles", realtime.EventInsert, "user_id", p.UserID)
		if referrer != nil {
			insert.Scope["referred_by"] = referrer.UserID
			if err := tx.Model(&models.Profile{}).Where("user_id = ?", referrer.UserID).
				Update("total_referrals", gorm.Expr("total_referrals + ?", 1)).Error; err != nil {
				return err
			}
			if err := insertActivity(tx, ActivityInput{
				UserID: referrer.UserID,
				Type:   models.ActivityReferralSignup,
				Data:   map[string]any{"referred_user_id": p.UserID, "username": p.Username},
			}); err != nil {
				return err
			}
		}

		emit(insert)
		emit(userRowInserted("referral_rewards", p.UserID))
		if referrer != nil {
			emit(profileChanged(referrer.UserID))
			emit(userRowInserted("user_activities", referrer.UserID))
		}
		return nil
	})
	return remote("register profile", err)
}

func normalizeCode(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}

func creditPoints(tx *gorm.DB, userID string, points int) error {
	if points == 0 {
		return nil
	}
	return tx.Model(&models.Profile{}).Where("user_id = ?", userID).
		Update("points", gorm.Expr("points + ?", points)).Error
}

func insertActivity(tx *gorm.DB, in ActivityInput) error {
	var data datatypes.JSON
	if in.Data != nil {
		b, err := json.Marshal(in.Data)
		if err != nil {
			return err
		}
		data = b
	}
	return tx.Create(&models.UserActivity{
		UserID:       in.UserID,
		ActivityType: in.Type,
		ActivityData: data,
		PointsEarned: in.Points,
	}).Error
}
