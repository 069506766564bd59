package session

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/github"
	"golang.org/x/oauth2/google"
	"gorm.io/gorm"

	"github.com/cppla/questboard/config"
	"github.com/cppla/questboard/models"
	"github.com/cppla/questboard/utils"
)

var (
	ErrProviderNotConfigured = errors.New("oauth provider not configured")
	ErrInvalidState          = errors.New("invalid or expired state")
)

const stateTTL = 10 * time.Minute

// Provider is a configured OAuth identity provider.
type Provider struct {
	Name       string
	OAuth      *oauth2.Config
	ProfileURL string
	EmailsURL  string
}

// ProvidersFromConfig returns the providers that have client credentials.
func ProvidersFromConfig(cfg config.AppConfig) map[string]Provider {
	out := map[string]Provider{}
	if cfg.GitHubClientID != "" && cfg.GitHubClientSecret != "" {
		out["github"] = Provider{
			Name: "github",
			OAuth: &oauth2.Config{
				ClientID:     cfg.GitHubClientID,
				ClientSecret: cfg.GitHubClientSecret,
				RedirectURL:  fmt.Sprintf("%s/api/v1/auth/oauth/github/callback", cfg.OAuthRedirectBase),
				Scopes:       []string{"read:user", "user:email"},
				Endpoint:     github.Endpoint,
			},
			ProfileURL: "https://api.github.com/user",
			EmailsURL:  "https://api.github.com/user/emails",
		}
	}
	if cfg.GoogleClientID != "" && cfg.GoogleClientSecret != "" {
		out["google"] = Provider{
			Name: "google",
			OAuth: &oauth2.Config{
				ClientID:     cfg.GoogleClientID,
				ClientSecret: cfg.GoogleClientSecret,
				RedirectURL:  fmt.Sprintf("%s/api/v1/auth/oauth/google/callback", cfg.OAuthRedirectBase),
				Scopes:       []string{"openid", "profile", "email"},
				Endpoint:     google.Endpoint,
			},
			ProfileURL: "https://www.googleapis.com/oauth2/v2/userinfo",
		}
	}
	return out
}

type oauthIdentity struct {
	ID       string
	Username string
	Email    string
}

func (s *Store) provider(name string) (Provider, error) {
	p, ok := s.opts.Providers[strings.ToLower(name)]
	if !ok || p.OAuth == nil {
		return Provider{}, ErrProviderNotConfigured
	}
	return p, nil
}

// AuthorizationURL starts an OAuth flow and returns the redirect URL with its
// single-use state token.
func (s *Store) AuthorizationURL(provider string) (string, string, error) {
	p, err := s.provider(provider)
	if err != nil {
		return "", "", err
	}
	state := uuid.NewString()
	utils.SaveState(state, stateTTL)
	return p.OAuth.AuthCodeURL(state, oauth2.AccessTypeOffline), state, nil
}

// SignInOAuth completes an OAuth flow. First-time identities get a profile
// with a unique username derived from the provider login.
func (s *Store) SignInOAuth(ctx context.Context, provider, code, state string) (Handle, error) {
	if code == "" || state == "" {
		return Anonymous, fmt.Errorf("%w: missing code or state", ErrInvalidInput)
	}
	if !utils.ConsumeState(state) {
		return Anonymous, ErrInvalidState
	}
	p, err := s.provider(provider)
	if err != nil {
		return Anonymous, err
	}
	token, err := p.OAuth.Exchange(ctx, code)
	if err != nil {
		return Anonymous, fmt.Errorf("exchange code: %w", err)
	}
	ident, err := s.fetchIdentity(ctx, p, token)
	if err != nil {
		return Anonymous, err
	}
	profile, err := s.findOrCreateOAuthProfile(ctx, p.Name, ident)
	if err != nil {
		return Anonymous, err
	}
	return s.open(ctx, profile)
}

func (s *Store) fetchIdentity(ctx context.Context, p Provider, token *oauth2.Token) (*oauthIdentity, error) {
	client := resty.New().
		SetTimeout(10*time.Second).
		SetAuthToken(token.AccessToken).
		SetHeader("Accept", "application/json")

	switch p.Name {
	case "github":
		var payload struct {
			ID    int64  `json:"id"`
			Login string `json:"login"`
			Email string `json:"email"`
		}
		resp, err := client.R().SetContext(ctx).SetResult(&payload).Get(p.ProfileURL)
		if err != nil {
			return nil, err
		}
		if resp.IsError() {
			return nil, fmt.Errorf("github user info request failed: %s", resp.Status())
		}
		ident := &oauthIdentity{ID: fmt.Sprintf("%d", payload.ID), Username: payload.Login, Email: payload.Email}
		if ident.Email == "" && p.EmailsURL != "" {
			ident.Email = s.fetchGitHubEmail(ctx, client, p.EmailsURL)
		}
		return ident, nil
	case "google":
		var payload struct {
			ID    string `json:"id"`
			Email string `json:"email"`
			Name  string `json:"name"`
		}
		resp, err := client.R().SetContext(ctx).SetResult(&payload).Get(p.ProfileURL)
		if err != nil {
			return nil, err
		}
		if resp.IsError() {
			return nil, fmt.Errorf("google user info request failed: %s", resp.Status())
		}
		username := payload.Name
		if at := strings.Index(payload.Email, "@"); username == "" && at > 0 {
			username = payload.Email[:at]
		}
		return &oauthIdentity{ID: payload.ID, Username: username, Email: payload.Email}, nil
	default:
		return nil, ErrProviderNotConfigured
	}
}

// fetchGitHubEmail picks the primary verified address, else the first one.
func (s *Store) fetchGitHubEmail(ctx context.Context, client *resty.Client, url string) string {
	var emails []struct {
		Email    string `json:"email"`
		Primary  bool   `json:"primary"`
		Verified bool   `json:"verified"`
	}
	resp, err := client.R().SetContext(ctx).SetResult(&emails).Get(url)
	if err != nil || resp.IsError() {
		s.log.Debug("github emails request failed", zap.Error(err))
		return ""
	}
	for _, e := range emails {
		if e.Primary && e.Verified {
			return e.Email
		}
	}
	if len(emails) > 0 {
		return emails[0].Email
	}
	return ""
}

func (s *Store) findOrCreateOAuthProfile(ctx context.Context, provider string, ident *oauthIdentity) (*models.Profile, error) {
	if ident == nil || ident.ID == "" {
		return nil, fmt.Errorf("%s returned no user id", provider)
	}
	var p models.Profile
	err := s.db.WithContext(ctx).Where("provider = ? AND provider_id = ?", provider, ident.ID).First(&p).Error
	if err == nil {
		return &p, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, err
	}

	username, err := s.uniqueUsername(ctx, ident.Username, provider+"-"+ident.ID)
	if err != nil {
		return nil, err
	}
	code, err := s.newReferralCode(ctx)
	if err != nil {
		return nil, err
	}
	p = models.Profile{
		Username:     username,
		Email:        strings.ToLower(strings.TrimSpace(ident.Email)),
		Provider:     provider,
		ProviderID:   ident.ID,
		ReferralCode: code,
	}
	if err := s.reg.RegisterProfile(ctx, &p, ""); err != nil {
		return nil, err
	}
	s.log.Info("oauth user registered", zap.String("provider", provider), zap.String("user_id", p.UserID))
	return &p, nil
}
