package middleware

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/cppla/questboard/gateway"
	"github.com/cppla/questboard/models"
	"github.com/cppla/questboard/session"
	"github.com/cppla/questboard/utils"
)

// ContextHandleKey stores the resolved session.Handle inside Gin context.
const ContextHandleKey = "session_handle"

// TokenResolver turns a bearer token into a session handle.
type TokenResolver interface {
	Resolve(token string) (session.Handle, error)
}

// bearer extracts the token of an Authorization header. The code is the
// business error code to report when the header is unusable.
func bearer(header string) (token string, code int, msg string) {
	if header == "" {
		return "", 40101, "authorization header missing"
	}
	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return "", 40102, "invalid authorization header format"
	}
	token = strings.TrimSpace(parts[1])
	if token == "" {
		return "", 40103, "empty bearer token"
	}
	return token, 0, ""
}

// AuthRequired ensures the request carries a valid, unrevoked JWT.
func AuthRequired(sessions TokenResolver) gin.HandlerFunc {
	return func(ctx *gin.Context) {
		token, code, msg := bearer(ctx.GetHeader("Authorization"))
		if code != 0 {
			utils.AbortError(ctx, http.StatusUnauthorized, code, msg)
			return
		}
		h, err := sessions.Resolve(token)
		if err != nil {
			if errors.Is(err, session.ErrTokenRevoked) {
				utils.AbortError(ctx, http.StatusUnauthorized, 40104, "token revoked")
				return
			}
			utils.AbortError(ctx, http.StatusUnauthorized, 40105, "invalid token")
			return
		}
		ctx.Set(ContextHandleKey, h)
		ctx.Next()
	}
}

// OptionalAuth resolves the token when one is present and otherwise continues
// as a signed-out request.
func OptionalAuth(sessions TokenResolver) gin.HandlerFunc {
	return func(ctx *gin.Context) {
		if token, code, _ := bearer(ctx.GetHeader("Authorization")); code == 0 {
			if h, err := sessions.Resolve(token); err == nil {
				ctx.Set(ContextHandleKey, h)
			}
		}
		ctx.Next()
	}
}

// ProfileSource loads the stored profile behind a handle.
type ProfileSource interface {
	Profile(ctx context.Context, userID string) (*models.Profile, error)
}

// AdminRequired must run after AuthRequired. The role is read from the stored
// profile, so a role change applies to tokens issued before it.
func AdminRequired(profiles ProfileSource) gin.HandlerFunc {
	return func(ctx *gin.Context) {
		h := HandleFrom(ctx)
		if !h.Authenticated() {
			utils.AbortError(ctx, http.StatusForbidden, 40301, "admin access required")
			return
		}
		p, err := profiles.Profile(ctx.Request.Context(), h.UserID)
		if err != nil && !errors.Is(err, gateway.ErrNotFound) {
			utils.AbortError(ctx, http.StatusInternalServerError, 50030, "failed to verify role")
			return
		}
		if err != nil || !p.IsAdmin() {
			utils.AbortError(ctx, http.StatusForbidden, 40301, "admin access required")
			return
		}
		h.Role = p.Role
		ctx.Set(ContextHandleKey, h)
		ctx.Next()
	}
}

// HandleFrom returns the request's session handle, or session.Anonymous.
func HandleFrom(ctx *gin.Context) session.Handle {
	if v, ok := ctx.Get(ContextHandleKey); ok {
		if h, ok := v.(session.Handle); ok {
			return h
		}
	}
	return session.Anonymous
}
