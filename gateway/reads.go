package gateway

import (
	"context"
	"time"

	"gorm.io/gorm"

	"github.com/cppla/questboard/models"
	"github.com/cppla/questboard/progress"
)

func (s *Store) Profile(ctx context.Context, userID string) (*models.Profile, error) {
	var p models.Profile
	if err := s.db.WithContext(ctx).Where("user_id = ?", userID).First(&p).Error; err != nil {
		if notFound(err) {
			return nil, ErrNotFound
		}
		return nil, remote("profile", err)
	}
	return &p, nil
}

// Checkins returns the newest check-ins first.
func (s *Store) Checkins(ctx context.Context, userID string, limit int) ([]models.DailyCheckin, error) {
	var rows []models.DailyCheckin
	err := s.db.WithContext(ctx).Where("user_id = ?", userID).
		Order("checkin_date DESC").Limit(limit).Find(&rows).Error
	return rows, remote("checkins", err)
}

// Activities returns the newest activities first.
func (s *Store) Activities(ctx context.Context, userID string, limit int) ([]models.UserActivity, error) {
	var rows []models.UserActivity
	err := s.db.WithContext(ctx).Where("user_id = ?", userID).
		Order("created_at DESC").Limit(limit).Find(&rows).Error
	return rows, remote("activities", err)
}

// ActiveQuests is the public catalog, newest first.
func (s *Store) ActiveQuests(ctx context.Context) ([]models.Quest, error) {
	var rows []models.Quest
	err := s.db.WithContext(ctx).Where("is_active = ?", true).Order("created_at DESC").Find(&rows).Error
	return rows, remote("active quests", err)
}

// Completions include the completed quest.
func (s *Store) Completions(ctx context.Context, userID string) ([]models.UserQuestCompletion, error) {
	var rows []models.UserQuestCompletion
	err := s.db.WithContext(ctx).Preload("Quest").Where("user_id = ?", userID).
		Order("completed_at DESC").Find(&rows).Error
	return rows, remote("completions", err)
}

// ReferralRewards are ordered by ascending threshold.
func (s *Store) ReferralRewards(ctx context.Context, userID string) ([]models.ReferralReward, error) {
	var rows []models.ReferralReward
	err := s.db.WithContext(ctx).Where("user_id = ?", userID).
		Order("referrals_required ASC").Find(&rows).Error
	return rows, remote("referral rewards", err)
}

// Referrals lists profiles referred by userID, newest first.
func (s *Store) Referrals(ctx context.Context, userID string) ([]models.Profile, error) {
	var rows []models.Profile
	err := s.db.WithContext(ctx).Where("referred_by = ?", userID).
		Order("created_at DESC").Find(&rows).Error
	return rows, remote("referrals", err)
}

// Counters returns the server-side inputs of the progress engine.
func (s *Store) Counters(ctx context.Context, userID string) (progress.Counters, error) {
	p, err := s.Profile(ctx, userID)
	if err != nil {
		return progress.Counters{}, err
	}
	c, err := s.countersTx(s.db.WithContext(ctx), p)
	return c, remote("counters", err)
}

func (s *Store) countersTx(tx *gorm.DB, p *models.Profile) (progress.Counters, error) {
	c := progress.Counters{ReferralCount: p.TotalReferrals}
	var latest models.DailyCheckin
	err := tx.Where("user_id = ?", p.UserID).Order("checkin_date DESC").First(&latest).Error
	if err != nil {
		if notFound(err) {
			return c, nil
		}
		return c, err
	}
	c.CurrentStreak, c.CheckedInToday = CurrentStreak(&latest, s.rules.today())
	return c, nil
}

// PointsLeaderboard ranks by total points. A non-zero since restricts the
// board to profiles created after it.
func (s *Store) PointsLeaderboard(ctx context.Context, since time.Time, limit int) ([]LeaderboardEntry, error) {
	q := s.db.WithContext(ctx).Model(&models.Profile{}).
		Select("user_id, username, points, total_referrals")
	if !since.IsZero() {
		q = q.Where("created_at >= ?", since)
	}
	var rows []LeaderboardEntry
	err := q.Order("points DESC").Order("created_at ASC").Limit(limit).Scan(&rows).Error
	return rank(rows), remote("points leaderboard", err)
}

// QuestLeaderboard ranks by the sum of quest rewards earned.
func (s *Store) QuestLeaderboard(ctx context.Context, limit int) ([]LeaderboardEntry, error) {
	var rows []LeaderboardEntry
	err := s.db.WithContext(ctx).Table("user_quest_completions AS c").
		Select("c.user_id AS user_id, p.username AS username, SUM(c.points_earned) AS points, COUNT(*) AS quest_count").
		Joins("JOIN profiles p ON p.user_id = c.user_id").
		Group("c.user_id, p.username").
		Order("points DESC").Limit(limit).Scan(&rows).Error
	return rank(rows), remote("quest leaderboard", err)
}

// ReferralLeaderboard ranks users with at least one referral.
func (s *Store) ReferralLeaderboard(ctx context.Context, limit int) ([]LeaderboardEntry, error) {
	var rows []LeaderboardEntry
	err := s.db.WithContext(ctx).Model(&models.Profile{}).
		Select("user_id, username, points, total_referrals").
		Where("total_referrals > ?", 0).
		Order("total_referrals DESC").Limit(limit).Scan(&rows).Error
	return rank(rows), remote("referral leaderboard", err)
}

func rank(rows []LeaderboardEntry) []LeaderboardEntry {
	for i := range rows {
		rows[i].Rank = i + 1
	}
	return rows
}
