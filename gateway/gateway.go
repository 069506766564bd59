// Package gateway is the authoritative data layer: transactional procedures
// that own every points, streak and referral rule, the reads behind the user
// data cache, and the admin writes. Procedures publish row changes on the
// realtime bus after their transaction commits.
package gateway

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cppla/questboard/models"
	"github.com/cppla/questboard/progress"
)

// Status is the machine-readable outcome of a procedure.
type Status string

const (
	StatusOK          Status = "ok"
	StatusAlreadyDone Status = "already_done"
	StatusRejected    Status = "rejected"
)

// Result is the envelope every procedure returns on a completed call.
type Result struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
	Status  Status `json:"status"`
}

func ok(msg string) Result { return Result{Success: true, Message: msg, Status: StatusOK} }

func alreadyDone(msg string) Result {
	return Result{Success: false, Message: msg, Status: StatusAlreadyDone}
}

func rejected(msg string) Result { return Result{Success: false, Message: msg, Status: StatusRejected} }

type CheckinResult struct {
	Result
	PointsEarned int `json:"points_earned"`
	StreakCount  int `json:"streak_count"`
}

type CompletionResult struct {
	Result
	PointsEarned int    `json:"points_earned"`
	QuestTitle   string `json:"quest_title"`
}

type ClaimResult struct {
	Result
	PointsEarned int    `json:"points_earned"`
	TierLevel    string `json:"tier_level"`
}

type SubmissionResult struct {
	Result
	SubmissionID string `json:"submission_id,omitempty"`
}

type ReviewResult struct {
	Result
	PointsAwarded int `json:"points_awarded"`
}

// ActivityInput is one audit entry; Data may be nil.
type ActivityInput struct {
	UserID string
	Type   string
	Data   map[string]any
	Points int
}

// ProfileUpdate carries the user-editable profile fields; nil means unchanged.
type ProfileUpdate struct {
	Username *string
	Bio      *string
	Website  *string
	Location *string
}

// LeaderboardEntry is one ranked row of any leaderboard.
type LeaderboardEntry struct {
	Rank           int    `json:"rank"`
	UserID         string `json:"user_id"`
	Username       string `json:"username"`
	Points         int    `json:"points"`
	QuestCount     int    `json:"quest_count,omitempty"`
	TotalReferrals int    `json:"total_referrals,omitempty"`
}

// Overview holds the admin dashboard counters.
type Overview struct {
	TotalUsers       int64 `json:"total_users"`
	TotalQuests      int64 `json:"total_quests"`
	TotalSubmissions int64 `json:"total_submissions"`
	PendingReviews   int64 `json:"pending_reviews"`
	TotalPoints      int64 `json:"total_points"`
}

// Procedures are the remote mutations. A non-nil error means the call itself
// failed; business outcomes travel in the result.
type Procedures interface {
	CheckIn(ctx context.Context, userID string) (CheckinResult, error)
	CompleteQuest(ctx context.Context, userID, questID string) (CompletionResult, error)
	ClaimReferralReward(ctx context.Context, userID, rewardID string) (ClaimResult, error)
	LogActivity(ctx context.Context, in ActivityInput) error
	SubmitSocialTask(ctx context.Context, userID, questID, platform, username string) (SubmissionResult, error)
	ReviewSocialTask(ctx context.Context, reviewerID, submissionID string, status models.SubmissionStatus, notes string) (ReviewResult, error)
	AwardQuest(ctx context.Context, adminID, userID, questID string) (CompletionResult, error)
	InitializeReferralRewards(ctx context.Context, userID string) error
	ReferrerByCode(ctx context.Context, code string) (string, error)
	RegisterProfile(ctx context.Context, p *models.Profile, referralCode string) error
}

// Reads back the user data cache and the public pages.
type Reads interface {
	Profile(ctx context.Context, userID string) (*models.Profile, error)
	Checkins(ctx context.Context, userID string, limit int) ([]models.DailyCheckin, error)
	Activities(ctx context.Context, userID string, limit int) ([]models.UserActivity, error)
	ActiveQuests(ctx context.Context) ([]models.Quest, error)
	Completions(ctx context.Context, userID string) ([]models.UserQuestCompletion, error)
	ReferralRewards(ctx context.Context, userID string) ([]models.ReferralReward, error)
	Referrals(ctx context.Context, userID string) ([]models.Profile, error)
	Counters(ctx context.Context, userID string) (progress.Counters, error)
	PointsLeaderboard(ctx context.Context, since time.Time, limit int) ([]LeaderboardEntry, error)
	QuestLeaderboard(ctx context.Context, limit int) ([]LeaderboardEntry, error)
	ReferralLeaderboard(ctx context.Context, limit int) ([]LeaderboardEntry, error)
}

// Admin covers the moderation surface.
type Admin interface {
	Overview(ctx context.Context) (Overview, error)
	Submissions(ctx context.Context, status models.SubmissionStatus) ([]models.SocialTaskSubmission, error)
	AllQuests(ctx context.Context) ([]models.Quest, error)
	SaveQuest(ctx context.Context, q *models.Quest) error
	DeleteQuest(ctx context.Context, questID string) error
	ListProfiles(ctx context.Context, limit int) ([]models.Profile, error)
	SetRole(ctx context.Context, userID string, role models.Role) error
	UpdateProfile(ctx context.Context, userID string, in ProfileUpdate) (*models.Profile, error)
}

// Gateway is the full remote surface.
type Gateway interface {
	Procedures
	Reads
	Admin
}

// ErrNotFound is returned by reads and admin writes addressing a missing row.
var ErrNotFound = errors.New("gateway: not found")

// ErrInvalid wraps input rejected before touching storage.
var ErrInvalid = errors.New("gateway: invalid input")

// RemoteError reports a failed call. Message is safe to show to users and may
// be empty, in which case callers fall back to a generic message.
type RemoteError struct {
	Op      string
	Message string
	Err     error
}

func (e *RemoteError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("%s: %s", e.Op, e.Message)
	}
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *RemoteError) Unwrap() error { return e.Err }

// UserMessage extracts the displayable message of err, if any.
func UserMessage(err error) string {
	var re *RemoteError
	if errors.As(err, &re) {
		return re.Message
	}
	return ""
}

func remote(op string, err error) error {
	if err == nil {
		return nil
	}
	var re *RemoteError
	if errors.As(err, &re) {
		return err
	}
	return &RemoteError{Op: op, Err: err}
}
