package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/ademajagon/dynamic-app/internal/auth"
	"github.com/ademajagon/dynamic-app/internal/domain"
)

// RateLimiter counts hits per key in a fixed window.
type RateLimiter interface {
	Allow(ctx context.Context, key string, limit int, window time.Duration) (bool, error)
}

type PasswordHasher interface {
	Hash(password string) (string, error)
	Verify(password, hash string) (bool, error)
}

type Tokens interface {
	IssueAccess(email string) (string, error)
	IssueRefresh(email string) (string, error)
	Parse(token string) (*auth.Claims, error)
	AccessTTL() time.Duration
}

type OTPPolicy struct {
	TTL        time.Duration
	MaxSends   int
	SendWindow time.Duration
}

type SignupRequest struct {
	Username        string
	Email           string
	FullName        string
	Password        string
	ConfirmPassword string
	OTP             string
	Role            string
}

func (r SignupRequest) Validate() error {
	switch {
	case strings.TrimSpace(r.Username) == "":
		return domain.Invalid("username", "is required")
	case !strings.Contains(r.Email, "@"):
		return domain.Invalid("email", "must be a valid email address")
	case r.Password == "":
		return domain.Invalid("password", "is required")
	case strings.TrimSpace(r.OTP) == "":
		return domain.Invalid("otp", "is required")
	default:
		return nil
	}
}

// Session is the outcome of signup, login and refresh. RefreshToken is
// empty after a refresh.
type Session struct {
	User         *domain.User
	AccessToken  string
	RefreshToken string
	ExpiresIn    time.Duration
}

type AuthService struct {
	users      domain.UserRepository
	otps       domain.OTPRepository
	limiter    RateLimiter
	hasher     PasswordHasher
	tokens     Tokens
	mailer     Mailer
	dispatcher *Dispatcher
	policy     OTPPolicy
	log        *slog.Logger
	now        func() time.Time
	newCode    func() (string, error)
}

func NewAuthService(
	users domain.UserRepository,
	otps domain.OTPRepository,
	limiter RateLimiter,
	hasher PasswordHasher,
	tokens Tokens,
	mailer Mailer,
	dispatcher *Dispatcher,
	policy OTPPolicy,
	log *slog.Logger,
) *AuthService {
	return &AuthService{
		users:      users,
		otps:       otps,
		limiter:    limiter,
		hasher:     hasher,
		tokens:     tokens,
		mailer:     mailer,
		dispatcher: dispatcher,
		policy:     policy,
		log:        log,
		now:        time.Now,
		newCode:    auth.GenerateOTP,
	}
}

func (s *AuthService) SendOTP(ctx context.Context, email string) error {
	email = strings.TrimSpace(email)
	if !strings.Contains(email, "@") {
		return domain.Invalid("email", "must be a valid email address")
	}

	exists, err := s.users.ExistsByEmail(ctx, email)
	if err != nil {
		return fmt.Errorf("check email: %w", err)
	}
	if exists {
		return domain.ErrEmailRegistered
	}

	allowed, err := s.limiter.Allow(ctx, "otp:"+strings.ToLower(email), s.policy.MaxSends, s.policy.SendWindow)
	if err != nil {
		// fail open, a redis outage must not block signups
		s.log.WarnContext(ctx, "otp rate limiter unavailable", "err", err)
	} else if !allowed {
		return domain.ErrTooManyRequests
	}

	code, err := s.newCode()
	if err != nil {
		return err
	}

	otp := domain.NewEmailOTP(email, code, s.policy.TTL, s.now().UTC())
	if err := s.otps.Upsert(ctx, otp); err != nil {
		return fmt.Errorf("store otp: %w", err)
	}

	if err := s.mailer.SendOTP(ctx, email, code, s.policy.TTL); err != nil {
		return fmt.Errorf("mail otp: %w", err)
	}

	otpsSent.Inc()
	s.log.InfoContext(ctx, "otp sent", "email", email)
	return nil
}

func (s *AuthService) Signup(ctx context.Context, req SignupRequest) (*Session, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}

	exists, err := s.users.ExistsByEmail(ctx, req.Email)
	if err != nil {
		return nil, fmt.Errorf("check email: %w", err)
	}
	if exists {
		return nil, domain.ErrEmailRegistered
	}

	taken, err := s.users.ExistsByUsername(ctx, req.Username)
	if err != nil {
		return nil, fmt.Errorf("check username: %w", err)
	}
	if taken {
		return nil, domain.ErrUsernameTaken
	}

	if req.Password != req.ConfirmPassword {
		return nil, domain.ErrPasswordMismatch
	}

	otp, err := s.otps.FindByEmailAndCode(ctx, req.Email, req.OTP)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return nil, domain.ErrInvalidOTP
		}
		return nil, fmt.Errorf("find otp: %w", err)
	}
	if err := otp.Check(s.now().UTC()); err != nil {
		return nil, err
	}

	hash, err := s.hasher.Hash(req.Password)
	if err != nil {
		return nil, err
	}

	user := &domain.User{
		Username:      req.Username,
		Email:         req.Email,
		FullName:      req.FullName,
		PasswordHash:  hash,
		Role:          domain.ParseRole(req.Role),
		Active:        true,
		EmailVerified: true,
	}
	if err := s.users.CreateVerified(ctx, user, otp.ID); err != nil {
		return nil, fmt.Errorf("create user: %w", err)
	}
	s.log.InfoContext(ctx, "user registered", "user_id", user.ID, "role", user.Role)

	session, err := s.session(user, true)
	if err != nil {
		return nil, err
	}

	s.queueWelcome(ctx, user)
	return session, nil
}

func (s *AuthService) queueWelcome(ctx context.Context, u *domain.User) {
	err := s.dispatcher.Submit("welcome:"+u.Email, func(ctx context.Context) error {
		return s.mailer.SendWelcome(ctx, u)
	})
	if err != nil {
		s.log.WarnContext(ctx, "welcome email not queued", "user_id", u.ID, "err", err)
	}
}

func (s *AuthService) Login(ctx context.Context, email, password string) (*Session, error) {
	user, err := s.users.FindByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return nil, domain.ErrInvalidCredentials
		}
		return nil, fmt.Errorf("find user: %w", err)
	}
	if !user.Active {
		return nil, domain.ErrInvalidCredentials
	}

	ok, err := s.hasher.Verify(password, user.PasswordHash)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, domain.ErrInvalidCredentials
	}

	now := s.now().UTC()
	if err := s.users.TouchLastLogin(ctx, user.ID, now); err != nil {
		return nil, fmt.Errorf("update last login: %w", err)
	}
	user.LastLogin = &now

	s.log.InfoContext(ctx, "user logged in", "user_id", user.ID)
	return s.session(user, true)
}

// Refresh exchanges a valid token of either kind for a new access token.
func (s *AuthService) Refresh(ctx context.Context, token string) (*Session, error) {
	if token == "" {
		return nil, domain.ErrUnauthenticated
	}

	claims, err := s.tokens.Parse(token)
	if err != nil {
		return nil, err
	}
	email := strings.TrimSpace(claims.Subject)
	if email == "" {
		return nil, fmt.Errorf("%w: email is empty", domain.ErrInvalidToken)
	}

	user, err := s.users.FindByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return nil, fmt.Errorf("%w: user not found for email %s", domain.ErrInvalidToken, email)
		}
		return nil, fmt.Errorf("find user: %w", err)
	}

	s.log.DebugContext(ctx, "token refreshed", "user_id", user.ID)
	return s.session(user, false)
}

func (s *AuthService) session(u *domain.User, withRefresh bool) (*Session, error) {
	access, err := s.tokens.IssueAccess(u.Email)
	if err != nil {
		return nil, err
	}
	sess := &Session{User: u, AccessToken: access, ExpiresIn: s.tokens.AccessTTL()}
	if withRefresh {
		if sess.RefreshToken, err = s.tokens.IssueRefresh(u.Email); err != nil {
			return nil, err
		}
	}
	return sess, nil
}

func (s *AuthService) UserByID(ctx context.Context, id int64) (*domain.User, error) {
	return s.users.FindByID(ctx, id)
}

func (s *AuthService) UserByEmail(ctx context.Context, email string) (*domain.User, error) {
	return s.users.FindByEmail(ctx, email)
}
