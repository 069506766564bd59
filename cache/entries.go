package cache

import (
	"context"
	"encoding/json"

	"github.com/cppla/questboard/models"
	"github.com/cppla/questboard/progress"
	"github.com/cppla/questboard/session"
)

func (c *Cache) Profile(ctx context.Context, h session.Handle) (*models.Profile, error) {
	return load(ctx, c, h, EntryProfile, func(ctx context.Context) (*models.Profile, error) {
		return c.reads.Profile(ctx, h.UserID)
	})
}

func (c *Cache) DailyCheckins(ctx context.Context, h session.Handle) ([]models.DailyCheckin, error) {
	return load(ctx, c, h, EntryDailyCheckins, func(ctx context.Context) ([]models.DailyCheckin, error) {
		return c.reads.Checkins(ctx, h.UserID, checkinLimit)
	})
}

func (c *Cache) Activities(ctx context.Context, h session.Handle) ([]models.UserActivity, error) {
	return load(ctx, c, h, EntryActivities, func(ctx context.Context) ([]models.UserActivity, error) {
		return c.reads.Activities(ctx, h.UserID, activityLimit)
	})
}

func (c *Cache) Completions(ctx context.Context, h session.Handle) ([]models.UserQuestCompletion, error) {
	return load(ctx, c, h, EntryCompletions, func(ctx context.Context) ([]models.UserQuestCompletion, error) {
		return c.reads.Completions(ctx, h.UserID)
	})
}

func (c *Cache) ReferralRewards(ctx context.Context, h session.Handle) ([]models.ReferralReward, error) {
	return load(ctx, c, h, EntryRewards, func(ctx context.Context) ([]models.ReferralReward, error) {
		return c.reads.ReferralRewards(ctx, h.UserID)
	})
}

func (c *Cache) Referrals(ctx context.Context, h session.Handle) ([]models.Profile, error) {
	return load(ctx, c, h, EntryReferrals, func(ctx context.Context) ([]models.Profile, error) {
		return c.reads.Referrals(ctx, h.UserID)
	})
}

func (c *Cache) ReferralCount(ctx context.Context, h session.Handle) (int, error) {
	return load(ctx, c, h, EntryReferralCount, func(ctx context.Context) (int, error) {
		p, err := c.reads.Profile(ctx, h.UserID)
		if err != nil {
			return 0, err
		}
		return p.TotalReferrals, nil
	})
}

func (c *Cache) CurrentStreak(ctx context.Context, h session.Handle) (int, error) {
	return load(ctx, c, h, EntryCurrentStreak, func(ctx context.Context) (int, error) {
		counters, err := c.reads.Counters(ctx, h.UserID)
		return counters.CurrentStreak, err
	})
}

func (c *Cache) CheckedInToday(ctx context.Context, h session.Handle) (bool, error) {
	return load(ctx, c, h, EntryCheckedInToday, func(ctx context.Context) (bool, error) {
		counters, err := c.reads.Counters(ctx, h.UserID)
		return counters.CheckedInToday, err
	})
}

// Counters assembles the progress engine inputs from the three counter entries.
func (c *Cache) Counters(ctx context.Context, h session.Handle) (progress.Counters, error) {
	var out progress.Counters
	var err error
	if out.ReferralCount, err = c.ReferralCount(ctx, h); err != nil {
		return out, err
	}
	if out.CurrentStreak, err = c.CurrentStreak(ctx, h); err != nil {
		return out, err
	}
	if out.CheckedInToday, err = c.CheckedInToday(ctx, h); err != nil {
		return out, err
	}
	return out, nil
}

// Quests returns the active quest catalog shared by every identity.
func (c *Cache) Quests(ctx context.Context) ([]models.Quest, error) {
	if b, ok := c.backend.Get(ctx, globalKey); ok {
		var qs []models.Quest
		if err := json.Unmarshal(b, &qs); err == nil {
			return qs, nil
		}
	}
	qs, err := c.reads.ActiveQuests(ctx)
	if err != nil {
		return nil, err
	}
	if b, err := json.Marshal(qs); err == nil {
		_ = c.backend.Set(ctx, globalKey, b, c.ttl)
	}
	return qs, nil
}

// QuestBoard is the catalog annotated with h's progress. Signed-out handles
// see zero progress and nothing completable.
func (c *Cache) QuestBoard(ctx context.Context, h session.Handle) ([]progress.QuestView, error) {
	quests, err := c.Quests(ctx)
	if err != nil {
		return nil, err
	}
	if !h.Authenticated() {
		views := progress.Annotate(quests, nil, progress.Counters{})
		for i := range views {
			views[i].CanComplete = false
		}
		return views, nil
	}
	completions, err := c.Completions(ctx, h)
	if err != nil {
		return nil, err
	}
	counters, err := c.Counters(ctx, h)
	if err != nil {
		return nil, err
	}
	return progress.Annotate(quests, completions, counters), nil
}
