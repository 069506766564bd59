package middleware

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"

	"github.com/cppla/questboard/gateway"
	"github.com/cppla/questboard/models"
	"github.com/cppla/questboard/session"
)

type stubResolver map[string]session.Handle

func (s stubResolver) Resolve(token string) (session.Handle, error) {
	if token == "revoked" {
		return session.Anonymous, session.ErrTokenRevoked
	}
	h, ok := s[token]
	if !ok {
		return session.Anonymous, session.ErrTokenInvalid
	}
	return h, nil
}

var resolver = stubResolver{
	"user-token":  {UserID: "u1", Username: "alice", Role: models.RoleUser},
	"admin-token": {UserID: "a1", Username: "root", Role: models.RoleAdmin},
}

type stubProfiles map[string]models.Role

func (s stubProfiles) Profile(ctx context.Context, userID string) (*models.Profile, error) {
	role, ok := s[userID]
	if !ok {
		return nil, gateway.ErrNotFound
	}
	return &models.Profile{UserID: userID, Role: role}, nil
}

func init() { gin.SetMode(gin.TestMode) }

func newEngine(mw ...gin.HandlerFunc) *gin.Engine {
	r := gin.New()
	handlers := append(mw, func(ctx *gin.Context) {
		ctx.JSON(http.StatusOK, gin.H{"user_id": HandleFrom(ctx).UserID})
	})
	r.GET("/", handlers...)
	return r
}

func do(r http.Handler, auth string) (int, map[string]any) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	if auth != "" {
		req.Header.Set("Authorization", auth)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	var body map[string]any
	_ = json.Unmarshal(w.Body.Bytes(), &body)
	return w.Code, body
}

func TestAuthRequired(t *testing.T) {
	r := newEngine(AuthRequired(resolver))
	cases := []struct {
		header string
		status int
		code   float64
	}{
		{"", http.StatusUnauthorized, 40101},
		{"Token abc", http.StatusUnauthorized, 40102},
		{"Bearer   ", http.StatusUnauthorized, 40103},
		{"Bearer revoked", http.StatusUnauthorized, 40104},
		{"Bearer nope", http.StatusUnauthorized, 40105},
		{"bearer user-token", http.StatusOK, 0},
	}
	for _, tc := range cases {
		status, body := do(r, tc.header)
		if status != tc.status {
			t.Fatalf("%q: expected status %d, got %d", tc.header, tc.status, status)
		}
		if tc.code != 0 && body["code"] != tc.code {
			t.Fatalf("%q: expected code %v, got %v", tc.header, tc.code, body["code"])
		}
		if tc.status == http.StatusOK && body["user_id"] != "u1" {
			t.Fatalf("expected handle in context, got %v", body)
		}
	}
}

func TestOptionalAuth(t *testing.T) {
	r := newEngine(OptionalAuth(resolver))
	if status, body := do(r, ""); status != http.StatusOK || body["user_id"] != "" {
		t.Fatalf("anonymous request should pass signed out: %d %v", status, body)
	}
	if _, body := do(r, "Bearer nope"); body["user_id"] != "" {
		t.Fatalf("bad token should be treated as signed out")
	}
	if _, body := do(r, "Bearer user-token"); body["user_id"] != "u1" {
		t.Fatalf("valid token should resolve, got %v", body)
	}
}

func TestAdminRequired(t *testing.T) {
	profiles := stubProfiles{"u1": models.RoleUser, "a1": models.RoleAdmin}
	r := newEngine(AuthRequired(resolver), AdminRequired(profiles))
	if status, body := do(r, "Bearer user-token"); status != http.StatusForbidden || body["code"] != float64(40301) {
		t.Fatalf("expected forbidden, got %d %v", status, body)
	}
	if status, _ := do(r, "Bearer admin-token"); status != http.StatusOK {
		t.Fatalf("admin should pass, got %d", status)
	}

	// the stored role wins over the role claimed by the token
	profiles["a1"] = models.RoleUser
	if status, _ := do(r, "Bearer admin-token"); status != http.StatusForbidden {
		t.Fatalf("demoted admin should be refused, got %d", status)
	}
	profiles["u1"] = models.RoleAdmin
	if status, _ := do(r, "Bearer user-token"); status != http.StatusOK {
		t.Fatalf("promoted user should pass, got %d", status)
	}
	delete(profiles, "u1")
	if status, _ := do(r, "Bearer user-token"); status != http.StatusForbidden {
		t.Fatalf("missing profile should be refused, got %d", status)
	}
}

func TestRateLimit(t *testing.T) {
	r := newEngine(RateLimit(2))
	if status, _ := do(r, ""); status != http.StatusOK {
		t.Fatalf("first request should pass, got %d", status)
	}
	status, body := do(r, "")
	if status != http.StatusTooManyRequests || body["code"] != float64(42901) {
		t.Fatalf("second request should exceed a burst of one, got %d %v", status, body)
	}

	// a separate middleware instance keeps separate buckets
	other := newEngine(RateLimit(2))
	if status, _ := do(other, ""); status != http.StatusOK {
		t.Fatalf("independent limiter should pass, got %d", status)
	}
}
