package session

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/dchest/uniuri"
	"github.com/gosimple/slug"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/cppla/questboard/gateway"
	"github.com/cppla/questboard/models"
	"github.com/cppla/questboard/utils"
)

var (
	ErrInvalidCredentials = errors.New("invalid email/username or password")
	ErrInvalidInput       = errors.New("invalid input")
	ErrWeakPassword       = errors.New("password must be 8-72 characters and contain a letter and a digit")
	ErrUsernameTaken      = errors.New("username already taken")
	ErrEmailTaken         = errors.New("email already registered")
	ErrTokenInvalid       = errors.New("invalid token")
	ErrTokenRevoked       = errors.New("token revoked")
	ErrResetCode          = errors.New("reset code invalid or expired")
	ErrCooldown           = errors.New("too many requests, try again later")
	ErrMailUnavailable    = errors.New("mail delivery unavailable")
)

const (
	referralCodeChars = "ABCDEFGHJKLMNPQRSTUVWXYZ23456789"
	referralCodeLen   = 8
	resetCodeTTL      = 10 * time.Minute
	resetCooldown     = 60 * time.Second
)

// Registrar creates profiles with referral bookkeeping.
type Registrar interface {
	RegisterProfile(ctx context.Context, p *models.Profile, referralCode string) error
}

// Options configure the store. Zero values pick sensible defaults.
type Options struct {
	TokenTTL       time.Duration
	AdminUsernames []string
	SendMail       func(to, subject, body string) error
	Providers      map[string]Provider
}

// SignUpInput is the email/password registration form.
type SignUpInput struct {
	Email        string `json:"email"`
	Password     string `json:"password"`
	Username     string `json:"username"`
	ReferralCode string `json:"referral_code"`
}

// Store authenticates users and issues handles. Sign-in and sign-out are
// announced to OnChange listeners.
type Store struct {
	db   *gorm.DB
	reg  Registrar
	log  *zap.Logger
	opts Options

	mu        sync.Mutex
	listeners map[int]Listener
	nextID    int
}

func NewStore(db *gorm.DB, reg Registrar, log *zap.Logger, opts Options) *Store {
	if log == nil {
		log = zap.NewNop()
	}
	if opts.TokenTTL <= 0 {
		opts.TokenTTL = 72 * time.Hour
	}
	if opts.SendMail == nil {
		opts.SendMail = utils.SendMail
	}
	return &Store{db: db, reg: reg, log: log, opts: opts, listeners: map[int]Listener{}}
}

// SignIn checks a password against the profile matching identifier, which
// may be an email address or a username.
func (s *Store) SignIn(ctx context.Context, identifier, password string) (Handle, error) {
	identifier = strings.TrimSpace(identifier)
	if identifier == "" || password == "" {
		return Anonymous, ErrInvalidCredentials
	}
	var p models.Profile
	q := s.db.WithContext(ctx)
	if strings.Contains(identifier, "@") {
		q = q.Where("email = ?", strings.ToLower(identifier))
	} else {
		q = q.Where("username = ?", strings.ToLower(identifier))
	}
	if err := q.First(&p).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return Anonymous, ErrInvalidCredentials
		}
		return Anonymous, err
	}
	if !utils.CheckPassword(p.PasswordHash, password) {
		return Anonymous, ErrInvalidCredentials
	}
	return s.open(ctx, &p)
}

// SignUp registers an email/password account. An unknown referral code is
// ignored rather than rejected.
func (s *Store) SignUp(ctx context.Context, in SignUpInput) (Handle, error) {
	email := strings.ToLower(strings.TrimSpace(in.Email))
	if email == "" || !strings.Contains(email, "@") {
		return Anonymous, fmt.Errorf("%w: a valid email is required", ErrInvalidInput)
	}
	username := slug.Make(strings.TrimSpace(in.Username))
	if l := len(username); l < 3 || l > 32 {
		return Anonymous, fmt.Errorf("%w: username must be 3-32 letters, digits or dashes", ErrInvalidInput)
	}
	if !utils.ValidPassword(in.Password) {
		return Anonymous, ErrWeakPassword
	}

	var count int64
	if err := s.db.WithContext(ctx).Model(&models.Profile{}).Where("email = ?", email).Count(&count).Error; err != nil {
		return Anonymous, err
	}
	if count > 0 {
		return Anonymous, ErrEmailTaken
	}
	if err := s.db.WithContext(ctx).Model(&models.Profile{}).Where("username = ?", username).Count(&count).Error; err != nil {
		return Anonymous, err
	}
	if count > 0 {
		return Anonymous, ErrUsernameTaken
	}

	hash, err := utils.HashPassword(in.Password)
	if err != nil {
		return Anonymous, err
	}
	code, err := s.newReferralCode(ctx)
	if err != nil {
		return Anonymous, err
	}
	p := &models.Profile{
		Username:     username,
		Email:        email,
		PasswordHash: hash,
		Provider:     "email",
		ReferralCode: code,
	}
	if err := s.reg.RegisterProfile(ctx, p, in.ReferralCode); err != nil {
		if errors.Is(err, gateway.ErrConflict) {
			return Anonymous, ErrUsernameTaken
		}
		return Anonymous, err
	}
	s.log.Info("user registered", zap.String("user_id", p.UserID), zap.String("username", p.Username))
	return s.open(ctx, p)
}

// SignOut revokes the handle's token until it would have expired and
// announces the sign-out.
func (s *Store) SignOut(ctx context.Context, h Handle) error {
	if !h.Authenticated() {
		return nil
	}
	if h.Token != "" {
		expires := h.ExpiresAt
		if expires.IsZero() {
			expires = time.Now().Add(s.opts.TokenTTL)
		}
		utils.BlacklistToken(h.Token, expires)
	}
	s.emit(SignedOut, h)
	return nil
}

// Resolve turns a bearer token back into a handle.
func (s *Store) Resolve(token string) (Handle, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return Anonymous, ErrTokenInvalid
	}
	if utils.IsTokenBlacklisted(token) {
		return Anonymous, ErrTokenRevoked
	}
	claims, err := utils.ParseToken(token)
	if err != nil {
		return Anonymous, ErrTokenInvalid
	}
	h := Handle{
		UserID:   claims.UserID,
		Username: claims.Username,
		Role:     models.Role(claims.Role),
		Token:    token,
	}
	if claims.ExpiresAt != nil {
		h.ExpiresAt = claims.ExpiresAt.Time
	}
	return h, nil
}

// RequestPasswordReset mails a six digit code. Unknown addresses succeed
// silently so the endpoint does not reveal which emails exist.
func (s *Store) RequestPasswordReset(ctx context.Context, email string) error {
	email = strings.ToLower(strings.TrimSpace(email))
	if email == "" {
		return fmt.Errorf("%w: email is required", ErrInvalidInput)
	}
	var count int64
	if err := s.db.WithContext(ctx).Model(&models.Profile{}).
		Where("email = ? AND password_hash <> ''", email).Count(&count).Error; err != nil {
		return err
	}
	if count == 0 {
		return nil
	}
	if !utils.EmailCooldownTrySet(email, resetCooldown) {
		return ErrCooldown
	}
	code := utils.GenerateVerificationCode(6)
	body := fmt.Sprintf("Your password reset code is %s.\nIt expires in %d minutes.", code, int(resetCodeTTL.Minutes()))
	if err := s.opts.SendMail(email, "Questboard password reset", body); err != nil {
		s.log.Warn("reset mail failed", zap.String("email", email), zap.Error(err))
		return ErrMailUnavailable
	}
	utils.SaveCode(email, code, resetCodeTTL)
	return nil
}

// ConfirmPasswordReset consumes the code and stores the new password.
func (s *Store) ConfirmPasswordReset(ctx context.Context, email, code, newPassword string) error {
	email = strings.ToLower(strings.TrimSpace(email))
	if !utils.ValidPassword(newPassword) {
		return ErrWeakPassword
	}
	if !utils.VerifyAndConsumeCode(email, code) {
		return ErrResetCode
	}
	hash, err := utils.HashPassword(newPassword)
	if err != nil {
		return err
	}
	res := s.db.WithContext(ctx).Model(&models.Profile{}).Where("email = ?", email).Update("password_hash", hash)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrResetCode
	}
	return nil
}

// open promotes configured admins, issues a token and announces the sign-in.
func (s *Store) open(ctx context.Context, p *models.Profile) (Handle, error) {
	if p.Role != models.RoleAdmin && s.isAdminUsername(p.Username) {
		if err := s.db.WithContext(ctx).Model(&models.Profile{}).Where("user_id = ?", p.UserID).
			Update("role", models.RoleAdmin).Error; err != nil {
			s.log.Warn("admin promotion failed", zap.String("user_id", p.UserID), zap.Error(err))
		} else {
			p.Role = models.RoleAdmin
		}
	}
	token, expires, err := utils.GenerateToken(p.UserID, p.Username, string(p.Role), s.opts.TokenTTL)
	if err != nil {
		return Anonymous, err
	}
	h := Handle{UserID: p.UserID, Username: p.Username, Role: p.Role, Token: token, ExpiresAt: expires}
	s.emit(SignedIn, h)
	return h, nil
}

func (s *Store) isAdminUsername(username string) bool {
	username = strings.TrimSpace(username)
	if username == "" {
		return false
	}
	for _, u := range s.opts.AdminUsernames {
		if strings.EqualFold(strings.TrimSpace(u), username) {
			return true
		}
	}
	return false
}

func (s *Store) newReferralCode(ctx context.Context) (string, error) {
	for i := 0; i < 5; i++ {
		code := uniuri.NewLenChars(referralCodeLen, []byte(referralCodeChars))
		var count int64
		if err := s.db.WithContext(ctx).Model(&models.Profile{}).Where("referral_code = ?", code).Count(&count).Error; err != nil {
			return "", err
		}
		if count == 0 {
			return code, nil
		}
	}
	return "", errors.New("could not allocate a referral code")
}

// uniqueUsername slugs base and appends a numeric suffix until it is free.
func (s *Store) uniqueUsername(ctx context.Context, base, fallback string) (string, error) {
	name := slug.Make(base)
	if len(name) < 3 {
		name = slug.Make(fallback)
	}
	if len(name) > 28 {
		name = name[:28]
	}
	candidate := name
	for suffix := 1; suffix < 1000; suffix++ {
		var count int64
		if err := s.db.WithContext(ctx).Model(&models.Profile{}).Where("username = ?", candidate).Count(&count).Error; err != nil {
			return "", err
		}
		if count == 0 {
			return candidate, nil
		}
		candidate = fmt.Sprintf("%s-%d", name, suffix)
	}
	return "", ErrUsernameTaken
}
