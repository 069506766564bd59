package controllers

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/cppla/questboard/middleware"
	"github.com/cppla/questboard/realtime"
	"github.com/cppla/questboard/session"
	"github.com/cppla/questboard/utils"
)

const (
	writeWait    = 10 * time.Second
	pongWait     = 60 * time.Second
	pingPeriod   = pongWait * 9 / 10
	streamBuffer = 64
)

// userTables are the tables whose rows carry a user_id scope.
var userTables = []string{
	"profiles",
	"daily_checkins",
	"user_activities",
	"user_quest_completions",
	"referral_rewards",
	"social_task_submissions",
}

// StreamController pushes a user's row changes over a websocket.
type StreamController struct {
	bus      realtime.Bus
	sessions middleware.TokenResolver
	upgrader websocket.Upgrader
	log      *zap.Logger
}

// NewStreamController accepts connections from allowedOrigins; "*" accepts any.
func NewStreamController(bus realtime.Bus, sessions middleware.TokenResolver, allowedOrigins []string, log *zap.Logger) *StreamController {
	if log == nil {
		log = zap.NewNop()
	}
	origins := map[string]bool{}
	for _, o := range allowedOrigins {
		origins[o] = true
	}
	return &StreamController{
		bus:      bus,
		sessions: sessions,
		log:      log,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				origin := r.Header.Get("Origin")
				return origin == "" || origins["*"] || origins[origin]
			},
		},
	}
}

// handle accepts the token as a query parameter since browsers cannot set
// headers on a websocket handshake.
func (s *StreamController) handle(ctx *gin.Context) session.Handle {
	if h := handleOf(ctx); h.Authenticated() {
		return h
	}
	if token := ctx.Query("token"); token != "" {
		if h, err := s.sessions.Resolve(token); err == nil {
			return h
		}
	}
	return session.Anonymous
}

// Stream upgrades the request and forwards matching changes as JSON frames
// until the client goes away.
func (s *StreamController) Stream(ctx *gin.Context) {
	h := s.handle(ctx)
	if !h.Authenticated() {
		utils.Error(ctx, http.StatusUnauthorized, 40110, "unauthorized")
		return
	}

	conn, err := s.upgrader.Upgrade(ctx.Writer, ctx.Request, nil)
	if err != nil {
		s.log.Warn("websocket upgrade failed", zap.String("user_id", h.UserID), zap.Error(err))
		return
	}
	defer conn.Close()

	changes := make(chan realtime.Change, streamBuffer)
	forward := func(c realtime.Change) {
		select {
		case changes <- c:
		default:
			s.log.Debug("stream buffer full, change dropped", zap.String("user_id", h.UserID), zap.String("table", c.Table))
		}
	}

	filters := []realtime.Filter{{Table: "quests", Event: realtime.EventAny}}
	for _, t := range userTables {
		filters = append(filters, realtime.Filter{Table: t, Event: realtime.EventAny, Column: "user_id", Value: h.UserID})
	}
	subs := make([]realtime.Subscription, 0, len(filters))
	defer func() {
		for _, sub := range subs {
			sub.Unsubscribe()
		}
	}()
	for _, f := range filters {
		sub, err := s.bus.Subscribe(f, forward)
		if err != nil {
			s.log.Warn("stream subscribe failed", zap.String("user_id", h.UserID), zap.Error(err))
			_ = conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseInternalServerErr, "subscribe failed"),
				time.Now().Add(writeWait))
			return
		}
		subs = append(subs, sub)
	}

	done := make(chan struct{})
	go s.readPump(conn, done)

	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-done:
			return
		case c := <-changes:
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteJSON(c); err != nil {
				return
			}
		case <-ticker.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				return
			}
		}
	}
}

// readPump discards client frames and keeps the read deadline alive on pong.
func (s *StreamController) readPump(conn *websocket.Conn, done chan<- struct{}) {
	defer close(done)
	conn.SetReadLimit(512)
	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}
