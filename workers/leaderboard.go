package workers

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/cppla/questboard/gateway"
)

// Board names a leaderboard ranking.
type Board string

const (
	BoardPoints    Board = "points"
	BoardWeekly    Board = "weekly"
	BoardMonthly   Board = "monthly"
	BoardQuests    Board = "quests"
	BoardReferrals Board = "referrals"
)

const (
	pointsBoardLimit = 100
	otherBoardLimit  = 50
)

// LeaderboardReads is the subset of gateway reads the snapshot needs.
type LeaderboardReads interface {
	PointsLeaderboard(ctx context.Context, since time.Time, limit int) ([]gateway.LeaderboardEntry, error)
	QuestLeaderboard(ctx context.Context, limit int) ([]gateway.LeaderboardEntry, error)
	ReferralLeaderboard(ctx context.Context, limit int) ([]gateway.LeaderboardEntry, error)
}

// Leaderboards keeps the latest ranking of every board in memory.
type Leaderboards struct {
	reads LeaderboardReads
	now   func() time.Time

	mu     sync.RWMutex
	boards map[Board][]gateway.LeaderboardEntry
	at     time.Time
}

func NewLeaderboards(reads LeaderboardReads) *Leaderboards {
	return &Leaderboards{reads: reads, now: time.Now, boards: map[Board][]gateway.LeaderboardEntry{}}
}

// ErrUnknownBoard is returned for a board name outside the known set.
var ErrUnknownBoard = errors.New("workers: unknown leaderboard")

var allBoards = []Board{BoardPoints, BoardWeekly, BoardMonthly, BoardQuests, BoardReferrals}

// ParseBoard validates a board name.
func ParseBoard(name string) (Board, error) {
	for _, b := range allBoards {
		if string(b) == name {
			return b, nil
		}
	}
	return "", ErrUnknownBoard
}

func (l *Leaderboards) compute(ctx context.Context, b Board, now time.Time) ([]gateway.LeaderboardEntry, error) {
	switch b {
	case BoardPoints:
		return l.reads.PointsLeaderboard(ctx, time.Time{}, pointsBoardLimit)
	case BoardWeekly:
		return l.reads.PointsLeaderboard(ctx, now.AddDate(0, 0, -7), pointsBoardLimit)
	case BoardMonthly:
		return l.reads.PointsLeaderboard(ctx, now.AddDate(0, -1, 0), pointsBoardLimit)
	case BoardQuests:
		return l.reads.QuestLeaderboard(ctx, otherBoardLimit)
	case BoardReferrals:
		return l.reads.ReferralLeaderboard(ctx, otherBoardLimit)
	}
	return nil, ErrUnknownBoard
}

// Refresh recomputes every board. The previous snapshot is kept on error.
func (l *Leaderboards) Refresh(ctx context.Context) error {
	now := l.now()
	next := make(map[Board][]gateway.LeaderboardEntry, len(allBoards))
	for _, b := range allBoards {
		entries, err := l.compute(ctx, b, now)
		if err != nil {
			return err
		}
		next[b] = entries
	}

	l.mu.Lock()
	l.boards = next
	l.at = now
	l.mu.Unlock()
	return nil
}

// Load returns the snapshot of b, or computes it directly when no refresh
// has succeeded yet.
func (l *Leaderboards) Load(ctx context.Context, b Board) ([]gateway.LeaderboardEntry, time.Time, error) {
	if entries, at, ok := l.Get(b); ok {
		return entries, at, nil
	}
	now := l.now()
	entries, err := l.compute(ctx, b, now)
	return entries, now, err
}

// Get returns a board and when it was computed. ok is false before the
// first successful refresh or for an unknown board.
func (l *Leaderboards) Get(b Board) (entries []gateway.LeaderboardEntry, at time.Time, ok bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	entries, ok = l.boards[b]
	return entries, l.at, ok
}
