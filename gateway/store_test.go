package gateway

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/glebarez/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/cppla/questboard/models"
	"github.com/cppla/questboard/realtime"
)

type fixture struct {
	store *Store
	db    *gorm.DB
	bus   *realtime.MemoryBus
	now   time.Time

	mu      sync.Mutex
	changes []realtime.Change
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger:                                   logger.Default.LogMode(logger.Silent),
		DisableForeignKeyConstraintWhenMigrating: true,
	})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("sql db: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })
	if err := db.AutoMigrate(models.All()...); err != nil {
		t.Fatalf("migrate: %v", err)
	}

	f := &fixture{db: db, bus: realtime.NewMemoryBus(), now: time.Date(2025, 3, 10, 12, 0, 0, 0, time.UTC)}
	rules := DefaultRules()
	rules.Now = func() time.Time { return f.now }
	f.store = NewStore(db, f.bus, nil, rules)

	for _, table := range []string{"profiles", "daily_checkins", "user_activities", "user_quest_completions", "referral_rewards", "social_task_submissions", "quests"} {
		_, _ = f.bus.Subscribe(realtime.Filter{Table: table}, func(c realtime.Change) {
			f.mu.Lock()
			f.changes = append(f.changes, c)
			f.mu.Unlock()
		})
	}
	return f
}

func (f *fixture) register(t *testing.T, username, code string) *models.Profile {
	t.Helper()
	p := &models.Profile{Username: username, Email: username + "@example.com", ReferralCode: strings.ToUpper(username + "code")}
	if err := f.store.RegisterProfile(context.Background(), p, code); err != nil {
		t.Fatalf("register %s: %v", username, err)
	}
	return p
}

func (f *fixture) quest(t *testing.T, qt models.QuestType, req string, reward int) *models.Quest {
	t.Helper()
	q := &models.Quest{Title: string(qt) + " quest", QuestType: qt, PointsReward: reward, IsActive: true}
	if req != "" {
		q.Requirements = []byte(req)
	}
	if err := f.store.SaveQuest(context.Background(), q); err != nil {
		t.Fatalf("save quest: %v", err)
	}
	return q
}

func (f *fixture) points(t *testing.T, userID string) int {
	t.Helper()
	p, err := f.store.Profile(context.Background(), userID)
	if err != nil {
		t.Fatalf("profile: %v", err)
	}
	return p.Points
}

func (f *fixture) sawChange(table, userID string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, c := range f.changes {
		if c.Table == table && c.Scope["user_id"] == userID {
			return true
		}
	}
	return false
}

func (f *fixture) resetChanges() {
	f.mu.Lock()
	f.changes = nil
	f.mu.Unlock()
}

func TestCheckInOncePerDay(t *testing.T) {
	f := newFixture(t)
	u := f.register(t, "alice", "")
	ctx := context.Background()

	res, err := f.store.CheckIn(ctx, u.UserID)
	if err != nil {
		t.Fatalf("check-in: %v", err)
	}
	if !res.Success || res.Status != StatusOK || res.StreakCount != 1 || res.PointsEarned != 10 {
		t.Fatalf("unexpected first check-in result: %+v", res)
	}
	if !f.sawChange("daily_checkins", u.UserID) || !f.sawChange("profiles", u.UserID) {
		t.Fatalf("expected change notifications after check-in")
	}

	again, err := f.store.CheckIn(ctx, u.UserID)
	if err != nil {
		t.Fatalf("second check-in: %v", err)
	}
	if again.Success || again.Status != StatusAlreadyDone {
		t.Fatalf("expected already checked in, got %+v", again)
	}
	if got := f.points(t, u.UserID); got != 10 {
		t.Fatalf("expected 10 points after repeated check-in, got %d", got)
	}

	var rows int64
	f.db.Model(&models.DailyCheckin{}).Where("user_id = ?", u.UserID).Count(&rows)
	if rows != 1 {
		t.Fatalf("expected exactly one check-in row, got %d", rows)
	}
}

func TestCheckInStreak(t *testing.T) {
	f := newFixture(t)
	u := f.register(t, "bob", "")
	ctx := context.Background()

	for day := 1; day <= 3; day++ {
		res, err := f.store.CheckIn(ctx, u.UserID)
		if err != nil {
			t.Fatalf("day %d: %v", day, err)
		}
		if res.StreakCount != day {
			t.Fatalf("day %d: expected streak %d, got %d", day, day, res.StreakCount)
		}
		if want := 10 + 2*(day-1); res.PointsEarned != want {
			t.Fatalf("day %d: expected %d points, got %d", day, want, res.PointsEarned)
		}
		f.now = f.now.AddDate(0, 0, 1)
	}

	// skip a day
	f.now = f.now.AddDate(0, 0, 1)
	res, err := f.store.CheckIn(ctx, u.UserID)
	if err != nil {
		t.Fatalf("after gap: %v", err)
	}
	if res.StreakCount != 1 {
		t.Fatalf("expected streak reset to 1, got %d", res.StreakCount)
	}
}

func TestCompleteQuestOnce(t *testing.T) {
	f := newFixture(t)
	u := f.register(t, "carol", "")
	q := f.quest(t, models.QuestDaily, `{"action":"login"}`, 25)
	ctx := context.Background()

	res, err := f.store.CompleteQuest(ctx, u.UserID, q.ID)
	if err != nil {
		t.Fatalf("complete: %v", err)
	}
	if res.Success || res.Status != StatusRejected {
		t.Fatalf("expected rejection before checking in, got %+v", res)
	}

	if _, err := f.store.CheckIn(ctx, u.UserID); err != nil {
		t.Fatalf("check-in: %v", err)
	}
	res, err = f.store.CompleteQuest(ctx, u.UserID, q.ID)
	if err != nil {
		t.Fatalf("complete: %v", err)
	}
	if !res.Success || res.PointsEarned != 25 || res.QuestTitle != q.Title {
		t.Fatalf("unexpected completion: %+v", res)
	}

	again, err := f.store.CompleteQuest(ctx, u.UserID, q.ID)
	if err != nil {
		t.Fatalf("complete again: %v", err)
	}
	if again.Status != StatusAlreadyDone {
		t.Fatalf("expected already completed, got %+v", again)
	}
	if got := f.points(t, u.UserID); got != 35 {
		t.Fatalf("expected 35 points, got %d", got)
	}
}

func TestCompleteQuestRejectsSocialAndInactive(t *testing.T) {
	f := newFixture(t)
	u := f.register(t, "dave", "")
	social := f.quest(t, models.QuestSocial, `{"platform":"twitter"}`, 10)
	inactive := f.quest(t, models.QuestOnetime, "", 10)
	inactive.IsActive = false
	if err := f.store.SaveQuest(context.Background(), inactive); err != nil {
		t.Fatalf("deactivate: %v", err)
	}

	for _, id := range []string{social.ID, inactive.ID, "missing"} {
		res, err := f.store.CompleteQuest(context.Background(), u.UserID, id)
		if err != nil {
			t.Fatalf("complete %s: %v", id, err)
		}
		if res.Status != StatusRejected {
			t.Fatalf("expected rejection for %s, got %+v", id, res)
		}
	}
}

func TestReferralSignupAndClaim(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	referrer := f.register(t, "erin", "")
	f.resetChanges()
	friend := f.register(t, "frank", "erinCODE")

	if friend.ReferredBy == nil || *friend.ReferredBy != referrer.UserID {
		t.Fatalf("expected friend to be linked to referrer")
	}
	if !f.sawChange("profiles", referrer.UserID) {
		t.Fatalf("expected referrer profile change")
	}

	refs, err := f.store.Referrals(ctx, referrer.UserID)
	if err != nil || len(refs) != 1 {
		t.Fatalf("expected one referral, got %d (%v)", len(refs), err)
	}

	rewards, err := f.store.ReferralRewards(ctx, referrer.UserID)
	if err != nil {
		t.Fatalf("rewards: %v", err)
	}
	if len(rewards) != len(DefaultTiers) || rewards[0].TierLevel != "bronze" {
		t.Fatalf("unexpected rewards: %+v", rewards)
	}

	res, err := f.store.ClaimReferralReward(ctx, referrer.UserID, rewards[1].ID)
	if err != nil {
		t.Fatalf("claim silver: %v", err)
	}
	if res.Success {
		t.Fatalf("silver should be locked with one referral")
	}

	res, err = f.store.ClaimReferralReward(ctx, referrer.UserID, rewards[0].ID)
	if err != nil {
		t.Fatalf("claim bronze: %v", err)
	}
	if !res.Success || res.PointsEarned != 50 || res.TierLevel != "bronze" {
		t.Fatalf("unexpected claim: %+v", res)
	}

	again, err := f.store.ClaimReferralReward(ctx, referrer.UserID, rewards[0].ID)
	if err != nil {
		t.Fatalf("claim again: %v", err)
	}
	if again.Success || again.PointsEarned != 0 || again.Message != "Reward already claimed" {
		t.Fatalf("expected rejection with zero points, got %+v", again)
	}
	if got := f.points(t, referrer.UserID); got != 50 {
		t.Fatalf("expected 50 points, got %d", got)
	}

	other, err := f.store.ClaimReferralReward(ctx, friend.UserID, rewards[0].ID)
	if err != nil {
		t.Fatalf("foreign claim: %v", err)
	}
	if other.Success {
		t.Fatalf("claim of another user's reward must fail")
	}
}

func TestUnknownReferralCodeIgnored(t *testing.T) {
	f := newFixture(t)
	p := f.register(t, "gina", "NOPE1234")
	if p.ReferredBy != nil {
		t.Fatalf("unknown code should not link a referrer")
	}
}

func TestSubmitAndReviewOnce(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	user := f.register(t, "hank", "")
	admin := f.register(t, "ivy", "")
	if err := f.store.SetRole(ctx, admin.UserID, models.RoleAdmin); err != nil {
		t.Fatalf("set role: %v", err)
	}
	q := f.quest(t, models.QuestSocial, `{"platform":"twitter"}`, 40)

	blank, err := f.store.SubmitSocialTask(ctx, user.UserID, q.ID, "Twitter", "  ")
	if err != nil || blank.Success {
		t.Fatalf("blank username should be rejected: %+v %v", blank, err)
	}

	sub, err := f.store.SubmitSocialTask(ctx, user.UserID, q.ID, "Twitter", "@hank")
	if err != nil || !sub.Success {
		t.Fatalf("submit: %+v %v", sub, err)
	}
	dup, err := f.store.SubmitSocialTask(ctx, user.UserID, q.ID, "twitter", "@hank")
	if err != nil || dup.Status != StatusAlreadyDone {
		t.Fatalf("expected duplicate submission to be benign: %+v %v", dup, err)
	}

	denied, err := f.store.ReviewSocialTask(ctx, user.UserID, sub.SubmissionID, models.SubmissionApproved, "")
	if err != nil || denied.Success {
		t.Fatalf("non-admin review must be rejected: %+v %v", denied, err)
	}

	rev, err := f.store.ReviewSocialTask(ctx, admin.UserID, sub.SubmissionID, models.SubmissionApproved, "looks good")
	if err != nil || !rev.Success || rev.PointsAwarded != 40 {
		t.Fatalf("approve: %+v %v", rev, err)
	}
	second, err := f.store.ReviewSocialTask(ctx, admin.UserID, sub.SubmissionID, models.SubmissionRejected, "")
	if err != nil || second.Success {
		t.Fatalf("second review must be rejected: %+v %v", second, err)
	}
	if got := f.points(t, user.UserID); got != 40 {
		t.Fatalf("expected 40 points, got %d", got)
	}

	pending, err := f.store.Submissions(ctx, models.SubmissionPending)
	if err != nil || len(pending) != 0 {
		t.Fatalf("expected no pending submissions, got %d (%v)", len(pending), err)
	}
}

func TestMilestoneWithoutRequirementsCompletes(t *testing.T) {
	f := newFixture(t)
	u := f.register(t, "mona", "")
	q := f.quest(t, models.QuestMilestone, "", 15)

	res, err := f.store.CompleteQuest(context.Background(), u.UserID, q.ID)
	if err != nil {
		t.Fatalf("complete: %v", err)
	}
	if res.Status != StatusOK || res.PointsEarned != 15 {
		t.Fatalf("expected milestone to complete, got %+v", res)
	}
	if got := f.points(t, u.UserID); got != 15 {
		t.Fatalf("expected 15 points, got %d", got)
	}
}

func TestAwardQuestCompletesManualTypes(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	user := f.register(t, "nina", "")
	admin := f.register(t, "otto", "")
	if err := f.store.SetRole(ctx, admin.UserID, models.RoleAdmin); err != nil {
		t.Fatalf("set role: %v", err)
	}
	onetime := f.quest(t, models.QuestOnetime, `{"url":"https://example.com"}`, 20)
	profile := f.quest(t, models.QuestProfile, `{"field":"bio"}`, 5)

	selfServe, err := f.store.CompleteQuest(ctx, user.UserID, onetime.ID)
	if err != nil || selfServe.Status != StatusRejected {
		t.Fatalf("manual quest must not self-complete: %+v %v", selfServe, err)
	}

	denied, err := f.store.AwardQuest(ctx, user.UserID, user.UserID, onetime.ID)
	if err != nil || denied.Status != StatusRejected {
		t.Fatalf("non-admin award must be rejected: %+v %v", denied, err)
	}

	f.resetChanges()
	for _, q := range []*models.Quest{onetime, profile} {
		res, err := f.store.AwardQuest(ctx, admin.UserID, user.UserID, q.ID)
		if err != nil || res.Status != StatusOK || res.PointsEarned != q.PointsReward {
			t.Fatalf("award %s: %+v %v", q.QuestType, res, err)
		}
	}
	if !f.sawChange("user_quest_completions", user.UserID) {
		t.Fatalf("expected a completion change for the user")
	}

	again, err := f.store.AwardQuest(ctx, admin.UserID, user.UserID, onetime.ID)
	if err != nil || again.Status != StatusAlreadyDone {
		t.Fatalf("expected repeat award to be benign: %+v %v", again, err)
	}
	if got := f.points(t, user.UserID); got != 25 {
		t.Fatalf("expected 25 points, got %d", got)
	}
}

func TestReviewRejectsInvalidStatus(t *testing.T) {
	f := newFixture(t)
	_, err := f.store.ReviewSocialTask(context.Background(), "a", "b", models.SubmissionPending, "")
	if !errors.Is(err, ErrInvalid) {
		t.Fatalf("expected ErrInvalid, got %v", err)
	}
	if UserMessage(err) == "" {
		t.Fatalf("expected a displayable message")
	}
}

func TestLeaderboardsAndOverview(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	a := f.register(t, "jay", "")
	b := f.register(t, "kim", "jayCODE")
	if _, err := f.store.CheckIn(ctx, b.UserID); err != nil {
		t.Fatalf("check-in: %v", err)
	}
	q := f.quest(t, models.QuestOnetime, "", 30)
	if res, err := f.store.CompleteQuest(ctx, a.UserID, q.ID); err != nil || !res.Success {
		t.Fatalf("complete: %+v %v", res, err)
	}

	board, err := f.store.PointsLeaderboard(ctx, time.Time{}, 100)
	if err != nil {
		t.Fatalf("points board: %v", err)
	}
	if len(board) != 2 || board[0].UserID != a.UserID || board[0].Rank != 1 {
		t.Fatalf("unexpected points board: %+v", board)
	}

	quests, err := f.store.QuestLeaderboard(ctx, 50)
	if err != nil || len(quests) != 1 || quests[0].Points != 30 || quests[0].QuestCount != 1 {
		t.Fatalf("unexpected quest board: %+v %v", quests, err)
	}

	refs, err := f.store.ReferralLeaderboard(ctx, 50)
	if err != nil || len(refs) != 1 || refs[0].UserID != a.UserID || refs[0].TotalReferrals != 1 {
		t.Fatalf("unexpected referral board: %+v %v", refs, err)
	}

	o, err := f.store.Overview(ctx)
	if err != nil {
		t.Fatalf("overview: %v", err)
	}
	if o.TotalUsers != 2 || o.TotalQuests != 1 || o.TotalPoints != 40 {
		t.Fatalf("unexpected overview: %+v", o)
	}
}

func TestCountersFollowCheckins(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	u := f.register(t, "lee", "")
	if _, err := f.store.CheckIn(ctx, u.UserID); err != nil {
		t.Fatalf("check-in: %v", err)
	}
	c, err := f.store.Counters(ctx, u.UserID)
	if err != nil {
		t.Fatalf("counters: %v", err)
	}
	if !c.CheckedInToday || c.CurrentStreak != 1 {
		t.Fatalf("unexpected counters today: %+v", c)
	}

	f.now = f.now.AddDate(0, 0, 2)
	c, _ = f.store.Counters(ctx, u.UserID)
	if c.CheckedInToday || c.CurrentStreak != 0 {
		t.Fatalf("streak should lapse after a missed day: %+v", c)
	}
}

func TestRulesCheckinPointsCapped(t *testing.T) {
	r := DefaultRules()
	if got := r.CheckinPoints(1); got != 10 {
		t.Fatalf("expected 10, got %d", got)
	}
	if got := r.CheckinPoints(30); got != 10+2*6 {
		t.Fatalf("expected capped bonus, got %d", got)
	}
}
