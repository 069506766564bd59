package controllers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/cppla/questboard/gateway"
	"github.com/cppla/questboard/utils"
	"github.com/cppla/questboard/workers"
)

// LeaderboardController serves the periodically refreshed rankings.
type LeaderboardController struct {
	boards *workers.Leaderboards
}

func NewLeaderboardController(boards *workers.Leaderboards) *LeaderboardController {
	return &LeaderboardController{boards: boards}
}

// GetLeaderboard returns one board: points, weekly, monthly, quests or referrals.
func (l *LeaderboardController) GetLeaderboard(ctx *gin.Context) {
	board, err := workers.ParseBoard(ctx.DefaultQuery("board", string(workers.BoardPoints)))
	if err != nil {
		utils.Error(ctx, http.StatusBadRequest, 40070, "unknown leaderboard")
		return
	}
	entries, at, err := l.boards.Load(ctx.Request.Context(), board)
	if err != nil {
		utils.Error(ctx, http.StatusInternalServerError, 50070, "failed to load leaderboard")
		return
	}
	if entries == nil {
		entries = []gateway.LeaderboardEntry{}
	}
	utils.Success(ctx, gin.H{
		"board":        board,
		"generated_at": at,
		"items":        entries,
	})
}
