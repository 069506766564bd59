package controllers

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/cppla/questboard/actions"
	"github.com/cppla/questboard/cache"
	"github.com/cppla/questboard/utils"
)

// QuestController serves the quest board, completion and social submissions.
type QuestController struct {
	actions *actions.Service
	cache   *cache.Cache
}

// NewQuestController creates a new QuestController instance.
func NewQuestController(act *actions.Service, c *cache.Cache) *QuestController {
	return &QuestController{actions: act, cache: c}
}

// ListQuests returns the active quests annotated with the caller's progress.
// Signed-out callers see the catalog with zero progress.
func (q *QuestController) ListQuests(ctx *gin.Context) {
	views, err := q.cache.QuestBoard(ctx.Request.Context(), handleOf(ctx))
	if err != nil {
		readError(ctx, err, "quests")
		return
	}
	if t := strings.TrimSpace(ctx.Query("type")); t != "" {
		filtered := views[:0]
		for _, v := range views {
			if string(v.QuestType) == t {
				filtered = append(filtered, v)
			}
		}
		views = filtered
	}
	utils.Success(ctx, gin.H{"items": views})
}

// Completions returns the caller's completed quests.
func (q *QuestController) Completions(ctx *gin.Context) {
	items, err := q.cache.Completions(ctx.Request.Context(), handleOf(ctx))
	if err != nil {
		readError(ctx, err, "completions")
		return
	}
	utils.Success(ctx, gin.H{"items": items})
}

// CompleteQuest asks the gateway to complete a quest for the caller.
func (q *QuestController) CompleteQuest(ctx *gin.Context) {
	id := strings.TrimSpace(ctx.Param("id"))
	if id == "" {
		utils.Error(ctx, http.StatusBadRequest, 40021, "missing quest id")
		return
	}
	res := q.actions.CompleteQuest(ctx.Request.Context(), handleOf(ctx), id)
	respondAction(ctx, res.Result, res)
}

// SubmitSocialTask files proof for a social quest.
func (q *QuestController) SubmitSocialTask(ctx *gin.Context) {
	var req struct {
		Platform string `json:"platform" binding:"required"`
		Username string `json:"username"`
	}
	if err := ctx.ShouldBindJSON(&req); err != nil {
		utils.Error(ctx, http.StatusBadRequest, 40022, "invalid request payload")
		return
	}
	res := q.actions.SubmitSocialTask(ctx.Request.Context(), handleOf(ctx), ctx.Param("id"), req.Platform, req.Username)
	respondAction(ctx, res.Result, res)
}
