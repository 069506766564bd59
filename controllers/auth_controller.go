package controllers

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/cppla/questboard/actions"
	"github.com/cppla/questboard/cache"
	"github.com/cppla/questboard/config"
	"github.com/cppla/questboard/session"
	"github.com/cppla/questboard/utils"
)

// AuthController handles authentication endpoints for local and OAuth accounts.
type AuthController struct {
	sessions *session.Store
	cache    *cache.Cache
	actions  *actions.Service
	limits   utils.SignupLimits
}

// NewAuthController creates an AuthController with registration limits from config.
func NewAuthController(sessions *session.Store, c *cache.Cache, act *actions.Service) *AuthController {
	cfg := config.Get()
	return &AuthController{
		sessions: sessions,
		cache:    c,
		actions:  act,
		limits: utils.SignupLimits{
			Cooldown:    time.Duration(cfg.RegisterAttemptCooldownSec) * time.Second,
			MaxPerDay:   cfg.RegisterMaxPerIPPerDay,
			MaxFailures: cfg.RegisterFailedMaxPerIPPerHour,
			BanFor:      time.Duration(cfg.RegisterTempBanMinutes) * time.Minute,
		},
	}
}

func sessionPayload(h session.Handle) gin.H {
	return gin.H{"token": h.Token, "expires_at": h.ExpiresAt, "user": h}
}

// Register creates an email/password account and signs it in.
func (a *AuthController) Register(ctx *gin.Context) {
	var req session.SignUpInput
	if err := ctx.ShouldBindJSON(&req); err != nil {
		utils.Error(ctx, http.StatusBadRequest, 40001, "invalid request payload")
		return
	}

	ip := ctx.ClientIP()
	if !utils.SignupAllowed(ip, a.limits) {
		utils.Error(ctx, http.StatusTooManyRequests, 42910, "too many registration attempts, try again later")
		return
	}

	h, err := a.sessions.SignUp(ctx.Request.Context(), req)
	if err != nil {
		utils.SignupFailed(ip, a.limits)
		switch {
		case errors.Is(err, session.ErrInvalidInput), errors.Is(err, session.ErrWeakPassword):
			utils.Error(ctx, http.StatusBadRequest, 40002, err.Error())
		case errors.Is(err, session.ErrUsernameTaken), errors.Is(err, session.ErrEmailTaken):
			utils.Error(ctx, http.StatusConflict, 40901, err.Error())
		default:
			utils.Error(ctx, http.StatusInternalServerError, 50002, "failed to create account")
		}
		return
	}
	utils.SignupSucceeded(ip, a.limits)
	utils.Success(ctx, sessionPayload(h))
}

// Login verifies credentials and issues a JWT.
func (a *AuthController) Login(ctx *gin.Context) {
	var req struct {
		Identifier string `json:"identifier"`
		Email      string `json:"email"`
		Username   string `json:"username"`
		Password   string `json:"password" binding:"required"`
	}
	if err := ctx.ShouldBindJSON(&req); err != nil {
		utils.Error(ctx, http.StatusBadRequest, 40003, "invalid request payload")
		return
	}
	identifier := req.Identifier
	if identifier == "" {
		identifier = req.Email
	}
	if identifier == "" {
		identifier = req.Username
	}

	h, err := a.sessions.SignIn(ctx.Request.Context(), identifier, req.Password)
	if err != nil {
		if errors.Is(err, session.ErrInvalidCredentials) {
			utils.Error(ctx, http.StatusUnauthorized, 40106, "invalid email/username or password")
			return
		}
		utils.Error(ctx, http.StatusInternalServerError, 50004, "failed to sign in")
		return
	}
	utils.Success(ctx, sessionPayload(h))
}

// Logout revokes the current token until it expires.
func (a *AuthController) Logout(ctx *gin.Context) {
	if err := a.sessions.SignOut(ctx.Request.Context(), handleOf(ctx)); err != nil {
		utils.Error(ctx, http.StatusUnauthorized, 40107, "invalid session")
		return
	}
	utils.Success(ctx, gin.H{"message": "logged out"})
}

// Me returns the signed-in handle with its cached profile.
func (a *AuthController) Me(ctx *gin.Context) {
	h := handleOf(ctx)
	p, err := a.cache.Profile(ctx.Request.Context(), h)
	if err != nil {
		readError(ctx, err, "profile")
		return
	}
	utils.Success(ctx, gin.H{"user": h, "profile": p})
}

// UpdateProfile edits the caller's username, bio, website or location.
func (a *AuthController) UpdateProfile(ctx *gin.Context) {
	var form actions.ProfileForm
	if err := ctx.ShouldBindJSON(&form); err != nil {
		utils.Error(ctx, http.StatusBadRequest, 40008, "invalid request payload")
		return
	}
	res := a.actions.UpdateProfile(ctx.Request.Context(), handleOf(ctx), form)
	respondAction(ctx, res.Result, res)
}

// RequestPasswordReset mails a reset code.
func (a *AuthController) RequestPasswordReset(ctx *gin.Context) {
	var req struct {
		Email string `json:"email" binding:"required"`
	}
	if err := ctx.ShouldBindJSON(&req); err != nil {
		utils.Error(ctx, http.StatusBadRequest, 40040, "invalid request payload")
		return
	}
	err := a.sessions.RequestPasswordReset(ctx.Request.Context(), req.Email)
	switch {
	case err == nil:
		utils.Success(ctx, gin.H{"message": "if the address is registered, a reset code has been sent"})
	case errors.Is(err, session.ErrInvalidInput):
		utils.Error(ctx, http.StatusBadRequest, 40041, err.Error())
	case errors.Is(err, session.ErrCooldown):
		utils.Error(ctx, http.StatusTooManyRequests, 42911, err.Error())
	default:
		utils.Error(ctx, http.StatusInternalServerError, 50040, "failed to send reset code, try again later")
	}
}

// ConfirmPasswordReset sets a new password with a mailed code.
func (a *AuthController) ConfirmPasswordReset(ctx *gin.Context) {
	var req struct {
		Email    string `json:"email" binding:"required"`
		Code     string `json:"code" binding:"required"`
		Password string `json:"password" binding:"required"`
	}
	if err := ctx.ShouldBindJSON(&req); err != nil {
		utils.Error(ctx, http.StatusBadRequest, 40042, "invalid request payload")
		return
	}
	err := a.sessions.ConfirmPasswordReset(ctx.Request.Context(), req.Email, strings.TrimSpace(req.Code), req.Password)
	switch {
	case err == nil:
		utils.Success(ctx, gin.H{"message": "password updated"})
	case errors.Is(err, session.ErrResetCode):
		utils.Error(ctx, http.StatusBadRequest, 40043, err.Error())
	case errors.Is(err, session.ErrWeakPassword), errors.Is(err, session.ErrInvalidInput):
		utils.Error(ctx, http.StatusBadRequest, 40002, err.Error())
	default:
		utils.Error(ctx, http.StatusInternalServerError, 50041, "failed to update password")
	}
}

// OAuthRedirect generates a provider-specific authorization URL.
func (a *AuthController) OAuthRedirect(ctx *gin.Context) {
	url, state, err := a.sessions.AuthorizationURL(ctx.Param("provider"))
	if err != nil {
		utils.Error(ctx, http.StatusBadRequest, 40004, err.Error())
		return
	}
	utils.Success(ctx, gin.H{"authorization_url": url, "state": state})
}

// OAuthCallback exchanges the authorization code and issues a JWT.
func (a *AuthController) OAuthCallback(ctx *gin.Context) {
	code := ctx.Query("code")
	state := ctx.Query("state")
	if code == "" || state == "" {
		utils.Error(ctx, http.StatusBadRequest, 40005, "missing code or state")
		return
	}

	h, err := a.sessions.SignInOAuth(ctx.Request.Context(), ctx.Param("provider"), code, state)
	if err != nil {
		switch {
		case errors.Is(err, session.ErrProviderNotConfigured):
			utils.Error(ctx, http.StatusBadRequest, 40004, err.Error())
		case errors.Is(err, session.ErrInvalidState):
			utils.Error(ctx, http.StatusBadRequest, 40006, "invalid or expired state")
		default:
			utils.Error(ctx, http.StatusInternalServerError, 50005, "oauth sign-in failed")
		}
		return
	}
	utils.Success(ctx, sessionPayload(h))
}
