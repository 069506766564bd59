package routes

import (
	"net/http"
	"strings"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"

	"github.com/cppla/questboard/actions"
	"github.com/cppla/questboard/cache"
	"github.com/cppla/questboard/config"
	"github.com/cppla/questboard/controllers"
	"github.com/cppla/questboard/gateway"
	"github.com/cppla/questboard/middleware"
	"github.com/cppla/questboard/realtime"
	"github.com/cppla/questboard/session"
	"github.com/cppla/questboard/utils"
	"github.com/cppla/questboard/workers"
)

// Deps are the services the HTTP layer drives.
type Deps struct {
	Gateway      gateway.Gateway
	Bus          realtime.Bus
	Cache        *cache.Cache
	Sessions     *session.Store
	Actions      *actions.Service
	Leaderboards *workers.Leaderboards
}

// SetupRouter wires routes, middlewares, and controllers.
func SetupRouter(d Deps) *gin.Engine {
	// Load config and set Gin mode from configuration
	cfg := config.Get()
	switch strings.ToLower(cfg.GinMode) {
	case "debug":
		gin.SetMode(gin.DebugMode)
	case "test":
		gin.SetMode(gin.TestMode)
	default:
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	// Access log and panic recovery go to a rolling file through zap
	gl, err := utils.NewRollingFileLogger(cfg.GinPath, cfg.LogLevel, cfg.LogMaxSizeMB, cfg.LogMaxBackups, cfg.LogMaxAgeDays, cfg.LogCompress)
	if err == nil {
		r.Use(utils.Ginzap(gl, time.RFC3339, true))
		r.Use(utils.RecoveryWithZap(gl, false))
	} else {
		r.Use(gin.Recovery())
	}

	corsCfg := cors.Config{
		AllowMethods:     []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowHeaders:     []string{"Authorization", "Content-Type"},
		ExposeHeaders:    []string{"Content-Length"},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	}
	if len(cfg.AllowedOrigins) == 1 && cfg.AllowedOrigins[0] == "*" {
		corsCfg.AllowAllOrigins = true
		corsCfg.AllowCredentials = false
	} else {
		corsCfg.AllowOrigins = cfg.AllowedOrigins
	}
	r.Use(cors.New(corsCfg))

	r.GET("/health", func(ctx *gin.Context) {
		utils.Success(ctx, gin.H{"status": "ok"})
	})

	authController := controllers.NewAuthController(d.Sessions, d.Cache, d.Actions)
	checkinController := controllers.NewCheckinController(d.Actions, d.Cache)
	questController := controllers.NewQuestController(d.Actions, d.Cache)
	referralController := controllers.NewReferralController(d.Actions, d.Cache)
	leaderboardController := controllers.NewLeaderboardController(d.Leaderboards)
	adminController := controllers.NewAdminController(d.Gateway, d.Actions)
	streamController := controllers.NewStreamController(d.Bus, d.Sessions, cfg.AllowedOrigins, utils.Logger)

	authRequired := middleware.AuthRequired(d.Sessions)
	optionalAuth := middleware.OptionalAuth(d.Sessions)

	r.GET("/ws", optionalAuth, streamController.Stream)

	api := r.Group("/api/v1")

	authGroup := api.Group("/auth")
	authGroup.Use(middleware.RateLimitMiddleware())
	authGroup.POST("/register", authController.Register)
	authGroup.POST("/login", authController.Login)
	authGroup.POST("/password/reset", authController.RequestPasswordReset)
	authGroup.POST("/password/confirm", authController.ConfirmPasswordReset)
	authGroup.GET("/oauth/:provider/login", authController.OAuthRedirect)
	authGroup.GET("/oauth/:provider/callback", authController.OAuthCallback)
	authGroup.POST("/logout", authRequired, authController.Logout)
	authGroup.GET("/me", authRequired, authController.Me)
	authGroup.PATCH("/profile", authRequired, authController.UpdateProfile)

	// Public reads; a valid token personalizes the quest board
	public := api.Group("")
	public.Use(optionalAuth)
	public.GET("/quests", questController.ListQuests)
	public.GET("/leaderboard", leaderboardController.GetLeaderboard)

	protected := api.Group("")
	protected.Use(authRequired, middleware.RateLimitMiddleware())
	protected.POST("/checkin", checkinController.CheckIn)
	protected.GET("/checkin/status", checkinController.Status)
	protected.GET("/activities", checkinController.Activities)
	protected.GET("/completions", questController.Completions)
	protected.POST("/quests/:id/complete", questController.CompleteQuest)
	protected.POST("/quests/:id/submit", questController.SubmitSocialTask)
	protected.GET("/referrals", referralController.Referrals)
	protected.GET("/referrals/rewards", referralController.Rewards)
	protected.POST("/referrals/rewards/:id/claim", referralController.Claim)

	admin := api.Group("/admin")
	admin.Use(authRequired, middleware.AdminRequired(d.Gateway))
	admin.GET("/overview", adminController.Overview)
	admin.GET("/quests", adminController.ListQuests)
	admin.POST("/quests", adminController.CreateQuest)
	admin.PUT("/quests/:id", adminController.UpdateQuest)
	admin.DELETE("/quests/:id", adminController.DeleteQuest)
	admin.GET("/users", adminController.ListUsers)
	admin.PATCH("/users/:id/role", adminController.SetRole)
	admin.POST("/users/:id/quests/:quest_id/award", adminController.AwardQuest)
	admin.GET("/submissions", adminController.ListSubmissions)
	admin.POST("/submissions/:id/review", adminController.ReviewSubmission)

	r.NoRoute(func(ctx *gin.Context) {
		utils.Error(ctx, http.StatusNotFound, 40400, "route not found")
	})

	return r
}
