package controllers

import (
	"github.com/gin-gonic/gin"

	"github.com/cppla/questboard/actions"
	"github.com/cppla/questboard/cache"
	"github.com/cppla/questboard/utils"
)

// CheckinController handles daily check-in and the activity feed.
type CheckinController struct {
	actions *actions.Service
	cache   *cache.Cache
}

// NewCheckinController creates a new controller instance.
func NewCheckinController(act *actions.Service, c *cache.Cache) *CheckinController {
	return &CheckinController{actions: act, cache: c}
}

// CheckIn claims today's check-in and its streak bonus.
func (c *CheckinController) CheckIn(ctx *gin.Context) {
	res := c.actions.CheckIn(ctx.Request.Context(), handleOf(ctx))
	respondAction(ctx, res.Result, res)
}

// Status returns the current streak, whether today is claimed and the recent history.
func (c *CheckinController) Status(ctx *gin.Context) {
	h := handleOf(ctx)
	rctx := ctx.Request.Context()

	streak, err := c.cache.CurrentStreak(rctx, h)
	if err != nil {
		readError(ctx, err, "check-in status")
		return
	}
	today, err := c.cache.CheckedInToday(rctx, h)
	if err != nil {
		readError(ctx, err, "check-in status")
		return
	}
	history, err := c.cache.DailyCheckins(rctx, h)
	if err != nil {
		readError(ctx, err, "check-in history")
		return
	}

	utils.Success(ctx, gin.H{
		"current_streak":   streak,
		"checked_in_today": today,
		"history":          history,
	})
}

// Activities returns the caller's most recent activity entries.
func (c *CheckinController) Activities(ctx *gin.Context) {
	items, err := c.cache.Activities(ctx.Request.Context(), handleOf(ctx))
	if err != nil {
		readError(ctx, err, "activities")
		return
	}
	utils.Success(ctx, gin.H{"items": items})
}
