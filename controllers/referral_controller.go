package controllers

import (
	"github.com/gin-gonic/gin"

	"github.com/cppla/questboard/actions"
	"github.com/cppla/questboard/cache"
	"github.com/cppla/questboard/utils"
)

// ReferralController serves referral tiers and the referred users list.
type ReferralController struct {
	actions *actions.Service
	cache   *cache.Cache
}

func NewReferralController(act *actions.Service, c *cache.Cache) *ReferralController {
	return &ReferralController{actions: act, cache: c}
}

// Rewards returns the caller's reward tiers.
func (r *ReferralController) Rewards(ctx *gin.Context) {
	items, err := r.cache.ReferralRewards(ctx.Request.Context(), handleOf(ctx))
	if err != nil {
		readError(ctx, err, "referral rewards")
		return
	}
	utils.Success(ctx, gin.H{"items": items})
}

// Claim claims one unlocked tier.
func (r *ReferralController) Claim(ctx *gin.Context) {
	res := r.actions.ClaimReferralReward(ctx.Request.Context(), handleOf(ctx), ctx.Param("id"))
	respondAction(ctx, res.Result, res)
}

// Referrals returns the users the caller referred with the caller's code.
func (r *ReferralController) Referrals(ctx *gin.Context) {
	h := handleOf(ctx)
	rctx := ctx.Request.Context()

	profile, err := r.cache.Profile(rctx, h)
	if err != nil {
		readError(ctx, err, "profile")
		return
	}
	referred, err := r.cache.Referrals(rctx, h)
	if err != nil {
		readError(ctx, err, "referrals")
		return
	}
	count, err := r.cache.ReferralCount(rctx, h)
	if err != nil {
		readError(ctx, err, "referrals")
		return
	}

	items := make([]gin.H, 0, len(referred))
	for _, p := range referred {
		items = append(items, gin.H{"user_id": p.UserID, "username": p.Username, "joined_at": p.CreatedAt})
	}
	utils.Success(ctx, gin.H{
		"referral_code":   profile.ReferralCode,
		"total_referrals": count,
		"items":           items,
	})
}
