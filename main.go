package main

import (
	"context"
	"strings"
	"time"

	"github.com/cppla/questboard/actions"
	"github.com/cppla/questboard/cache"
	"github.com/cppla/questboard/config"
	"github.com/cppla/questboard/gateway"
	"github.com/cppla/questboard/models"
	"github.com/cppla/questboard/realtime"
	"github.com/cppla/questboard/routes"
	"github.com/cppla/questboard/session"
	"github.com/cppla/questboard/utils"
	"github.com/cppla/questboard/workers"
)

type closableBus interface {
	realtime.Bus
	Close() error
}

func main() {
	cfg := config.Load()

	// Initialize logger early
	if err := utils.InitLogger(cfg); err != nil {
		panic(err)
	}
	log := utils.Logger

	db := config.InitDatabase(models.All()...)

	var bus closableBus = realtime.NewMemoryBus()
	if strings.EqualFold(cfg.RealtimeBackend, "redis") {
		if rdb := utils.GetRedis(); rdb != nil {
			rb := realtime.NewRedisBus(rdb, log)
			if err := rb.Start(context.Background()); err != nil {
				utils.Sugar.Warnf("redis realtime unavailable, using in-process bus: %v", err)
			} else {
				bus = rb
			}
		}
	}

	var backend cache.Backend = cache.NewMemoryBackend()
	if strings.EqualFold(cfg.CacheBackend, "redis") {
		if rdb := utils.GetRedis(); rdb != nil {
			backend = cache.NewRedisBackend(rdb, log)
		}
	}

	rules := gateway.DefaultRules()
	rules.CheckinBase = cfg.CheckinRewardPoints
	rules.StreakBonus = cfg.CheckinStreakBonus
	gw := gateway.NewStore(db, bus, log, rules)

	userCache := cache.New(backend, bus, gw, log, cache.Options{TTL: time.Duration(cfg.CacheTTLSeconds) * time.Second})
	if err := userCache.Start(); err != nil {
		utils.Sugar.Fatalf("cache start failed: %v", err)
	}

	pool := workers.NewPool(cfg.ActivityWorkers, cfg.ActivityQueue)
	activity := workers.NewActivityLog(pool, gw, log)
	act := actions.New(gw, userCache, activity, log, actions.Options{LoginPoints: cfg.LoginActivityPoints})

	sessions := session.NewStore(db, gw, log, session.Options{
		TokenTTL:       time.Duration(cfg.TokenTTLHrs) * time.Hour,
		AdminUsernames: cfg.AdminUsernames,
		Providers:      session.ProvidersFromConfig(cfg),
	})
	sessions.OnChange(func(e session.Event, h session.Handle) {
		if e == session.SignedOut {
			userCache.Release(h.UserID)
		}
		act.OnSession(e, h)
	})

	boards := workers.NewLeaderboards(gw)
	scheduler, err := workers.NewScheduler(log)
	if err != nil {
		utils.Sugar.Fatalf("scheduler init failed: %v", err)
	}
	idle := time.Duration(cfg.CacheIdleMinutes) * time.Minute
	jobs := []struct {
		name     string
		interval time.Duration
		fn       func()
	}{
		{"release-idle-scopes", time.Minute, func() {
			if n := userCache.ReleaseIdle(idle); n > 0 {
				utils.Sugar.Infof("released %d idle cache scopes", n)
			}
		}},
		{"refresh-leaderboards", 5 * time.Minute, func() {
			ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			defer cancel()
			if err := boards.Refresh(ctx); err != nil {
				utils.Sugar.Warnf("leaderboard refresh failed: %v", err)
			}
		}},
		{"sweep-ephemeral", 5 * time.Minute, func() { utils.SweepExpired() }},
	}
	for _, j := range jobs {
		if err := scheduler.Every(j.name, j.interval, j.fn); err != nil {
			utils.Sugar.Fatalf("schedule %s: %v", j.name, err)
		}
	}
	scheduler.Start()

	r := routes.SetupRouter(routes.Deps{
		Gateway:      gw,
		Bus:          bus,
		Cache:        userCache,
		Sessions:     sessions,
		Actions:      act,
		Leaderboards: boards,
	})

	utils.Sugar.Infof("Starting server on port %s (graceful)", cfg.AppPort)
	err = utils.GraceServer(":"+cfg.AppPort, r,
		scheduler.Shutdown,
		pool.Close,
		userCache.Stop,
		func() { _ = bus.Close() },
		utils.CloseRedis,
		func() { _ = log.Sync() },
	)
	if err != nil {
		utils.Sugar.Fatalf("server stopped with error: %v", err)
	}
}
