package controllers

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/cppla/questboard/actions"
	"github.com/cppla/questboard/gateway"
	"github.com/cppla/questboard/models"
	"github.com/cppla/questboard/utils"
)

// AdminController exposes moderation endpoints. Routes are guarded by
// middleware.AdminRequired and every write goes through the action layer.
type AdminController struct {
	gw      gateway.Admin
	actions *actions.Service
}

func NewAdminController(gw gateway.Admin, act *actions.Service) *AdminController {
	return &AdminController{gw: gw, actions: act}
}

// Overview returns the dashboard counters.
func (a *AdminController) Overview(ctx *gin.Context) {
	o, err := a.gw.Overview(ctx.Request.Context())
	if err != nil {
		utils.Error(ctx, http.StatusInternalServerError, 50080, "failed to load overview")
		return
	}
	utils.Success(ctx, o)
}

// ListQuests returns every quest, inactive ones included.
func (a *AdminController) ListQuests(ctx *gin.Context) {
	items, err := a.gw.AllQuests(ctx.Request.Context())
	if err != nil {
		utils.Error(ctx, http.StatusInternalServerError, 50081, "failed to load quests")
		return
	}
	utils.Success(ctx, gin.H{"items": items})
}

// CreateQuest adds a quest.
func (a *AdminController) CreateQuest(ctx *gin.Context) {
	a.saveQuest(ctx, "")
}

// UpdateQuest edits the quest named by :id.
func (a *AdminController) UpdateQuest(ctx *gin.Context) {
	id := strings.TrimSpace(ctx.Param("id"))
	if id == "" {
		utils.Error(ctx, http.StatusBadRequest, 40081, "missing quest id")
		return
	}
	a.saveQuest(ctx, id)
}

func (a *AdminController) saveQuest(ctx *gin.Context, id string) {
	var form actions.QuestForm
	if err := ctx.ShouldBindJSON(&form); err != nil {
		utils.Error(ctx, http.StatusBadRequest, 40080, "invalid request payload")
		return
	}
	res := a.actions.SaveQuest(ctx.Request.Context(), handleOf(ctx), id, form)
	respondAction(ctx, res.Result, res)
}

// DeleteQuest removes the quest named by :id.
func (a *AdminController) DeleteQuest(ctx *gin.Context) {
	res := a.actions.DeleteQuest(ctx.Request.Context(), handleOf(ctx), ctx.Param("id"))
	respondAction(ctx, res, res)
}

// ListUsers returns the newest profiles.
func (a *AdminController) ListUsers(ctx *gin.Context) {
	items, err := a.gw.ListProfiles(ctx.Request.Context(), queryLimit(ctx, 100, 500))
	if err != nil {
		utils.Error(ctx, http.StatusInternalServerError, 50082, "failed to retrieve users")
		return
	}
	utils.Success(ctx, gin.H{"items": items})
}

// SetRole changes the role of the user named by :id.
func (a *AdminController) SetRole(ctx *gin.Context) {
	var req struct {
		Role models.Role `json:"role" binding:"required"`
	}
	if err := ctx.ShouldBindJSON(&req); err != nil {
		utils.Error(ctx, http.StatusBadRequest, 40082, "invalid request payload")
		return
	}
	if req.Role != models.RoleUser && req.Role != models.RoleAdmin {
		utils.Error(ctx, http.StatusBadRequest, 40083, "role must be user or admin")
		return
	}
	res := a.actions.SetRole(ctx.Request.Context(), handleOf(ctx), ctx.Param("id"), req.Role)
	respondAction(ctx, res, res)
}

// AwardQuest completes the quest :quest_id for the user named by :id.
func (a *AdminController) AwardQuest(ctx *gin.Context) {
	res := a.actions.AwardQuest(ctx.Request.Context(), handleOf(ctx), ctx.Param("id"), ctx.Param("quest_id"))
	respondAction(ctx, res.Result, res)
}

// ListSubmissions returns social submissions, pending ones by default.
// status=all lists every submission.
func (a *AdminController) ListSubmissions(ctx *gin.Context) {
	status := models.SubmissionStatus(ctx.DefaultQuery("status", string(models.SubmissionPending)))
	if status == "all" {
		status = ""
	}
	items, err := a.gw.Submissions(ctx.Request.Context(), status)
	if err != nil {
		utils.Error(ctx, http.StatusInternalServerError, 50083, "failed to load submissions")
		return
	}
	utils.Success(ctx, gin.H{"items": items})
}

// ReviewSubmission approves or rejects the submission named by :id.
func (a *AdminController) ReviewSubmission(ctx *gin.Context) {
	var req struct {
		Status models.SubmissionStatus `json:"status" binding:"required"`
		Notes  string                  `json:"notes"`
	}
	if err := ctx.ShouldBindJSON(&req); err != nil {
		utils.Error(ctx, http.StatusBadRequest, 40084, "invalid request payload")
		return
	}
	if req.Status != models.SubmissionApproved && req.Status != models.SubmissionRejected {
		utils.Error(ctx, http.StatusBadRequest, 40085, "status must be approved or rejected")
		return
	}
	res := a.actions.ReviewSubmission(ctx.Request.Context(), handleOf(ctx), ctx.Param("id"), req.Status, req.Notes)
	respondAction(ctx, res.Result, res)
}
