package controllers

import (
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/cppla/questboard/actions"
	"github.com/cppla/questboard/gateway"
	"github.com/cppla/questboard/middleware"
	"github.com/cppla/questboard/session"
	"github.com/cppla/questboard/utils"
)

func handleOf(ctx *gin.Context) session.Handle {
	return middleware.HandleFrom(ctx)
}

// respondAction writes an action result. The notice always travels in
// data.notice; the HTTP status follows the outcome.
func respondAction(ctx *gin.Context, r actions.Result, payload interface{}) {
	switch r.Outcome {
	case actions.OutcomeSuccess, actions.OutcomeAlreadyDone:
		utils.Success(ctx, payload)
	case actions.OutcomeSignInRequired:
		utils.Respond(ctx, http.StatusUnauthorized, 40110, r.Notice.Description, payload)
	case actions.OutcomeForbidden:
		utils.Respond(ctx, http.StatusForbidden, 40301, r.Notice.Description, payload)
	default:
		utils.Respond(ctx, http.StatusBadRequest, 40020, r.Notice.Description, payload)
	}
}

// readError maps a cache or gateway read failure.
func readError(ctx *gin.Context, err error, what string) {
	if errors.Is(err, gateway.ErrNotFound) {
		utils.Error(ctx, http.StatusNotFound, 40410, what+" not found")
		return
	}
	utils.Error(ctx, http.StatusInternalServerError, 50010, "failed to load "+what)
}

func queryLimit(ctx *gin.Context, def, max int) int {
	if v := strings.TrimSpace(ctx.Query("limit")); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 && n <= max {
			return n
		}
	}
	return def
}
