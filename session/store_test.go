package session

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"regexp"
	"strings"
	"sync"
	"testing"

	"github.com/glebarez/sqlite"
	"golang.org/x/oauth2"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/cppla/questboard/config"
	"github.com/cppla/questboard/gateway"
	"github.com/cppla/questboard/models"
	"github.com/cppla/questboard/realtime"
)

type mailbox struct {
	mu   sync.Mutex
	sent map[string]string
}

func (m *mailbox) send(to, subject, body string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sent[to] = body
	return nil
}

var codePattern = regexp.MustCompile(`\d{6}`)

func (m *mailbox) code(t *testing.T, to string) string {
	t.Helper()
	m.mu.Lock()
	defer m.mu.Unlock()
	code := codePattern.FindString(m.sent[to])
	if code == "" {
		t.Fatalf("no code mailed to %s", to)
	}
	return code
}

func newTestStore(t *testing.T, opts Options) (*Store, *gorm.DB, *mailbox) {
	t.Helper()
	config.Set(config.AppConfig{JWTSecret: "test-secret"})

	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	sqlDB, _ := db.DB()
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })
	if err := db.AutoMigrate(models.All()...); err != nil {
		t.Fatalf("migrate: %v", err)
	}

	mb := &mailbox{sent: map[string]string{}}
	if opts.SendMail == nil {
		opts.SendMail = mb.send
	}
	reg := gateway.NewStore(db, realtime.NewMemoryBus(), nil, gateway.DefaultRules())
	return NewStore(db, reg, nil, opts), db, mb
}

func signUp(t *testing.T, s *Store, email, username, code string) Handle {
	t.Helper()
	h, err := s.SignUp(context.Background(), SignUpInput{Email: email, Password: "passw0rd!", Username: username, ReferralCode: code})
	if err != nil {
		t.Fatalf("sign up %s: %v", username, err)
	}
	return h
}

func TestSignUpAndSignIn(t *testing.T) {
	s, _, _ := newTestStore(t, Options{})
	ctx := context.Background()

	h := signUp(t, s, "Alice@Example.com", "Alice Smith", "")
	if !h.Authenticated() || h.Username != "alice-smith" || h.Token == "" {
		t.Fatalf("unexpected handle: %+v", h)
	}

	byEmail, err := s.SignIn(ctx, "alice@example.com", "passw0rd!")
	if err != nil || byEmail.UserID != h.UserID {
		t.Fatalf("sign in by email: %+v %v", byEmail, err)
	}
	byName, err := s.SignIn(ctx, "Alice-Smith", "passw0rd!")
	if err != nil || byName.UserID != h.UserID {
		t.Fatalf("sign in by username: %+v %v", byName, err)
	}
	if _, err := s.SignIn(ctx, "alice@example.com", "wrong-pass1"); !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("expected invalid credentials, got %v", err)
	}
	if _, err := s.SignIn(ctx, "nobody@example.com", "passw0rd!"); !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("expected invalid credentials for unknown user, got %v", err)
	}
}

func TestSignUpValidation(t *testing.T) {
	s, _, _ := newTestStore(t, Options{})
	ctx := context.Background()
	signUp(t, s, "bob@example.com", "bob", "")

	cases := []struct {
		name string
		in   SignUpInput
		want error
	}{
		{"bad email", SignUpInput{Email: "bob", Password: "passw0rd!", Username: "bobby"}, ErrInvalidInput},
		{"short username", SignUpInput{Email: "x@example.com", Password: "passw0rd!", Username: "b"}, ErrInvalidInput},
		{"weak password", SignUpInput{Email: "x@example.com", Password: "short", Username: "bobby"}, ErrWeakPassword},
		{"email taken", SignUpInput{Email: "BOB@example.com", Password: "passw0rd!", Username: "bobby"}, ErrEmailTaken},
		{"username taken", SignUpInput{Email: "x@example.com", Password: "passw0rd!", Username: "Bob"}, ErrUsernameTaken},
	}
	for _, tc := range cases {
		if _, err := s.SignUp(ctx, tc.in); !errors.Is(err, tc.want) {
			t.Fatalf("%s: expected %v, got %v", tc.name, tc.want, err)
		}
	}
}

func TestSignUpWithReferralCode(t *testing.T) {
	s, db, _ := newTestStore(t, Options{})
	ref := signUp(t, s, "ref@example.com", "referrer", "")

	var referrer models.Profile
	if err := db.Where("user_id = ?", ref.UserID).First(&referrer).Error; err != nil {
		t.Fatalf("load referrer: %v", err)
	}
	if len(referrer.ReferralCode) != referralCodeLen {
		t.Fatalf("unexpected referral code %q", referrer.ReferralCode)
	}

	h := signUp(t, s, "new@example.com", "newbie", strings.ToLower(referrer.ReferralCode))
	var p models.Profile
	if err := db.Where("user_id = ?", h.UserID).First(&p).Error; err != nil {
		t.Fatalf("load profile: %v", err)
	}
	if p.ReferredBy == nil || *p.ReferredBy != ref.UserID {
		t.Fatalf("expected referred_by %s, got %v", ref.UserID, p.ReferredBy)
	}
	if err := db.Where("user_id = ?", ref.UserID).First(&referrer).Error; err != nil {
		t.Fatalf("reload referrer: %v", err)
	}
	if referrer.TotalReferrals != 1 {
		t.Fatalf("expected one referral, got %d", referrer.TotalReferrals)
	}
	var tiers int64
	db.Model(&models.ReferralReward{}).Where("user_id = ?", h.UserID).Count(&tiers)
	if tiers != int64(len(gateway.DefaultTiers)) {
		t.Fatalf("expected reward tiers seeded, got %d", tiers)
	}
}

func TestEventsAndSignOut(t *testing.T) {
	s, _, _ := newTestStore(t, Options{})
	var events []Event
	stop := s.OnChange(func(e Event, h Handle) { events = append(events, e) })

	h := signUp(t, s, "carol@example.com", "carol", "")
	resolved, err := s.Resolve(h.Token)
	if err != nil || resolved.UserID != h.UserID {
		t.Fatalf("resolve: %+v %v", resolved, err)
	}
	if err := s.SignOut(context.Background(), resolved); err != nil {
		t.Fatalf("sign out: %v", err)
	}
	if _, err := s.Resolve(h.Token); !errors.Is(err, ErrTokenRevoked) {
		t.Fatalf("expected revoked token, got %v", err)
	}
	if len(events) != 2 || events[0] != SignedIn || events[1] != SignedOut {
		t.Fatalf("unexpected events: %v", events)
	}

	stop()
	signUp(t, s, "dave@example.com", "dave", "")
	if len(events) != 2 {
		t.Fatalf("listener still called after removal")
	}
}

func TestResolveRejectsGarbage(t *testing.T) {
	s, _, _ := newTestStore(t, Options{})
	if _, err := s.Resolve("not-a-token"); !errors.Is(err, ErrTokenInvalid) {
		t.Fatalf("expected invalid token, got %v", err)
	}
	if _, err := s.Resolve(""); !errors.Is(err, ErrTokenInvalid) {
		t.Fatalf("expected invalid token for empty string, got %v", err)
	}
}

func TestAdminPromotion(t *testing.T) {
	s, db, _ := newTestStore(t, Options{AdminUsernames: []string{"Root-Admin"}})
	h := signUp(t, s, "root@example.com", "root-admin", "")
	if !h.IsAdmin() {
		t.Fatalf("expected admin handle, got role %q", h.Role)
	}
	var p models.Profile
	db.Where("user_id = ?", h.UserID).First(&p)
	if p.Role != models.RoleAdmin {
		t.Fatalf("expected admin role persisted, got %q", p.Role)
	}
	resolved, _ := s.Resolve(h.Token)
	if !resolved.IsAdmin() {
		t.Fatalf("role must survive the token round trip")
	}
}

func TestPasswordReset(t *testing.T) {
	s, _, mb := newTestStore(t, Options{})
	ctx := context.Background()
	signUp(t, s, "erin@example.com", "erin", "")

	if err := s.RequestPasswordReset(ctx, "ERIN@example.com"); err != nil {
		t.Fatalf("request reset: %v", err)
	}
	if err := s.RequestPasswordReset(ctx, "erin@example.com"); !errors.Is(err, ErrCooldown) {
		t.Fatalf("expected cooldown, got %v", err)
	}
	if err := s.RequestPasswordReset(ctx, "ghost@example.com"); err != nil {
		t.Fatalf("unknown email must succeed silently, got %v", err)
	}

	code := mb.code(t, "erin@example.com")
	if err := s.ConfirmPasswordReset(ctx, "erin@example.com", code, "weak"); !errors.Is(err, ErrWeakPassword) {
		t.Fatalf("expected weak password, got %v", err)
	}
	if err := s.ConfirmPasswordReset(ctx, "erin@example.com", code, "newpassw0rd"); err != nil {
		t.Fatalf("confirm reset: %v", err)
	}
	if err := s.ConfirmPasswordReset(ctx, "erin@example.com", code, "another1pass"); !errors.Is(err, ErrResetCode) {
		t.Fatalf("code must be single use, got %v", err)
	}
	if _, err := s.SignIn(ctx, "erin@example.com", "newpassw0rd"); err != nil {
		t.Fatalf("sign in with new password: %v", err)
	}
}

func TestOAuthSignIn(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		switch r.URL.Path {
		case "/token":
			_ = json.NewEncoder(w).Encode(map[string]any{"access_token": "gh-token", "token_type": "bearer"})
		case "/user":
			if r.Header.Get("Authorization") != "Bearer gh-token" {
				w.WriteHeader(http.StatusUnauthorized)
				return
			}
			_ = json.NewEncoder(w).Encode(map[string]any{"id": 4242, "login": "Octo Cat"})
		case "/emails":
			_ = json.NewEncoder(w).Encode([]map[string]any{
				{"email": "other@example.com", "primary": false, "verified": true},
				{"email": "octo@example.com", "primary": true, "verified": true},
			})
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer srv.Close()

	providers := map[string]Provider{
		"github": {
			Name: "github",
			OAuth: &oauth2.Config{
				ClientID:     "id",
				ClientSecret: "secret",
				RedirectURL:  "http://localhost/callback",
				Endpoint:     oauth2.Endpoint{AuthURL: srv.URL + "/authorize", TokenURL: srv.URL + "/token"},
			},
			ProfileURL: srv.URL + "/user",
			EmailsURL:  srv.URL + "/emails",
		},
	}
	s, db, _ := newTestStore(t, Options{Providers: providers})
	ctx := context.Background()

	if _, _, err := s.AuthorizationURL("google"); !errors.Is(err, ErrProviderNotConfigured) {
		t.Fatalf("expected unconfigured provider, got %v", err)
	}
	authURL, state, err := s.AuthorizationURL("github")
	if err != nil {
		t.Fatalf("authorization url: %v", err)
	}
	u, _ := url.Parse(authURL)
	if u.Query().Get("state") != state {
		t.Fatalf("state missing from %s", authURL)
	}

	h, err := s.SignInOAuth(ctx, "github", "the-code", state)
	if err != nil {
		t.Fatalf("oauth sign in: %v", err)
	}
	if h.Username != "octo-cat" {
		t.Fatalf("unexpected username %q", h.Username)
	}
	var p models.Profile
	db.Where("user_id = ?", h.UserID).First(&p)
	if p.Email != "octo@example.com" || p.ProviderID != "4242" {
		t.Fatalf("unexpected profile: %+v", p)
	}

	if _, err := s.SignInOAuth(ctx, "github", "the-code", state); !errors.Is(err, ErrInvalidState) {
		t.Fatalf("state must be single use, got %v", err)
	}

	_, state2, _ := s.AuthorizationURL("github")
	again, err := s.SignInOAuth(ctx, "github", "the-code", state2)
	if err != nil || again.UserID != h.UserID {
		t.Fatalf("returning identity must reuse the profile: %+v %v", again, err)
	}
}

func TestUniqueUsernameSuffixes(t *testing.T) {
	s, _, _ := newTestStore(t, Options{})
	ctx := context.Background()
	signUp(t, s, "f1@example.com", "frank", "")

	name, err := s.uniqueUsername(ctx, "Frank", "github-1")
	if err != nil || name != "frank-1" {
		t.Fatalf("expected frank-1, got %q %v", name, err)
	}
	name, err = s.uniqueUsername(ctx, "!", "github-77")
	if err != nil || name != "github-77" {
		t.Fatalf("expected fallback name, got %q %v", name, err)
	}
}
