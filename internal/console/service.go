package console

import (
	"context"
	"errors"
	"fmt"
	"net/mail"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/spec-kit/heritage-console/internal/apiclient"
	"github.com/spec-kit/heritage-console/internal/domain"
	"github.com/spec-kit/heritage-console/internal/session"
	apperrors "github.com/spec-kit/heritage-console/pkg/util"
)

// Backend is the slice of the platform API the console drives.
type Backend interface {
	Login(ctx context.Context, req apiclient.LoginRequest) (string, error)
	Register(ctx context.Context, req apiclient.RegisterRequest) (string, error)
	SocialLogin(ctx context.Context, req apiclient.SocialLoginRequest) (string, error)
	ForgotPassword(ctx context.Context, email string) error
	ResetPassword(ctx context.Context, req apiclient.ResetPasswordRequest) error
	UserByEmail(ctx context.Context, email string) (*domain.UserProfile, error)
}

// Scheduler arms the proactive token renewal.
type Scheduler interface {
	ScheduleCurrent() error
}

// Paths are the console locations guards and flows redirect to.
type Paths struct {
	SignIn    string
	AdminHome string
	UserHome  string
}

// HomeFor returns the landing area for role, or the sign-in page for unknown roles.
func (p Paths) HomeFor(role domain.Role) string {
	switch role {
	case domain.RoleAdmin:
		return p.AdminHome
	case domain.RoleUser:
		return p.UserHome
	}
	return p.SignIn
}

// LoginResult is what a completed sign-in hands back to the caller.
type LoginResult struct {
	User     *domain.UserProfile `json:"user"`
	Redirect string              `json:"redirect"`
}

// Status describes the console session for display.
type Status struct {
	Initialized   bool                `json:"initialized"`
	Authenticated bool                `json:"authenticated"`
	RememberMe    bool                `json:"rememberMe"`
	User          *domain.UserProfile `json:"user,omitempty"`
	ExpiresAt     *time.Time          `json:"expiresAt,omitempty"`
	NextRefresh   *time.Time          `json:"nextRefresh,omitempty"`
}

// AuthService runs the operator-facing auth flows on top of the session.
type AuthService struct {
	session *session.Session
	store   *session.TokenStore
	backend Backend
	refresh Scheduler
	paths   Paths
	logger  *zap.Logger
}

// NewAuthService constructs the service.
func NewAuthService(sess *session.Session, store *session.TokenStore, backend Backend, refresh Scheduler, paths Paths, logger *zap.Logger) *AuthService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &AuthService{
		session: sess,
		store:   store,
		backend: backend,
		refresh: refresh,
		paths:   paths,
		logger:  logger.Named("console"),
	}
}

// Paths returns the configured redirect targets.
func (s *AuthService) Paths() Paths {
	return s.paths
}

// Start restores any persisted session and arms its renewal timer.
func (s *AuthService) Start(ctx context.Context) {
	s.session.Initialize(ctx)
	if err := s.refresh.ScheduleCurrent(); err != nil {
		s.logger.Error("restored token cannot be scheduled", zap.Error(err))
	}
}

// Login signs in with email and password.
func (s *AuthService) Login(ctx context.Context, email, password string, remember bool) (*LoginResult, error) {
	email = normalizeEmail(email)
	if err := validateCredentials(email, password); err != nil {
		return nil, err
	}
	token, err := s.backend.Login(ctx, apiclient.LoginRequest{Email: email, Password: password})
	if err != nil {
		return nil, fmt.Errorf("authService.Login: %w", err)
	}
	return s.complete(ctx, token, remember)
}

// Register creates an account and signs it in.
func (s *AuthService) Register(ctx context.Context, req apiclient.RegisterRequest, remember bool) (*LoginResult, error) {
	req.Email = normalizeEmail(req.Email)
	req.FirstName = strings.TrimSpace(req.FirstName)
	req.LastName = strings.TrimSpace(req.LastName)
	if err := validateCredentials(req.Email, req.Password); err != nil {
		return nil, err
	}
	if req.FirstName == "" || req.LastName == "" {
		return nil, apperrors.NewValidationError("first and last name required", nil)
	}
	token, err := s.backend.Register(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("authService.Register: %w", err)
	}
	return s.complete(ctx, token, remember)
}

// SocialLogin signs in with an identity asserted by an external provider.
func (s *AuthService) SocialLogin(ctx context.Context, req apiclient.SocialLoginRequest, remember bool) (*LoginResult, error) {
	req.Email = normalizeEmail(req.Email)
	req.Provider = strings.ToLower(strings.TrimSpace(req.Provider))
	if req.Provider == "" || req.IDToken == "" {
		return nil, apperrors.NewValidationError("provider and idToken required", nil)
	}
	if _, err := mail.ParseAddress(req.Email); err != nil {
		return nil, apperrors.NewValidationError("valid email required", map[string]any{"field": "email"})
	}
	token, err := s.backend.SocialLogin(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("authService.SocialLogin: %w", err)
	}
	return s.complete(ctx, token, remember)
}

// ForgotPassword requests a reset link for email.
func (s *AuthService) ForgotPassword(ctx context.Context, email string) error {
	email = normalizeEmail(email)
	if _, err := mail.ParseAddress(email); err != nil {
		return apperrors.NewValidationError("valid email required", map[string]any{"field": "email"})
	}
	if err := s.backend.ForgotPassword(ctx, email); err != nil {
		return fmt.Errorf("authService.ForgotPassword: %w", err)
	}
	return nil
}

// ResetPassword consumes a reset token and returns where to sign in again.
func (s *AuthService) ResetPassword(ctx context.Context, token, newPassword string) (string, error) {
	token = strings.TrimSpace(token)
	if token == "" || newPassword == "" {
		return "", apperrors.NewValidationError("token and newPassword required", nil)
	}
	if err := s.backend.ResetPassword(ctx, apiclient.ResetPasswordRequest{Token: token, NewPassword: newPassword}); err != nil {
		return "", fmt.Errorf("authService.ResetPassword: %w", err)
	}
	return s.paths.SignIn, nil
}

// Logout ends the session and returns the sign-in location.
func (s *AuthService) Logout(ctx context.Context) (string, error) {
	if err := s.session.Logout(ctx); err != nil {
		return s.paths.SignIn, fmt.Errorf("authService.Logout: %w", err)
	}
	return s.paths.SignIn, nil
}

// ReloadProfile refetches the signed-in user and replaces the cached copy.
func (s *AuthService) ReloadProfile(ctx context.Context) (*domain.UserProfile, error) {
	token := s.session.CurrentToken()
	if token == "" {
		return nil, session.ErrNoSession
	}
	payload, err := session.Decode(token)
	if err != nil {
		return nil, fmt.Errorf("authService.ReloadProfile: %w", err)
	}
	user, err := s.backend.UserByEmail(ctx, payload.Subject)
	if err != nil {
		return nil, fmt.Errorf("authService.ReloadProfile: %w", err)
	}
	if err := s.session.UpdateCurrentUser(ctx, user); err != nil {
		return nil, fmt.Errorf("authService.ReloadProfile: %w", err)
	}
	return s.session.CurrentUser(), nil
}

// Status reports the session as the console currently sees it.
func (s *AuthService) Status() Status {
	snap := s.session.Snapshot()
	st := Status{
		Initialized:   snap.Initialized,
		Authenticated: s.session.IsAuthenticated(),
		RememberMe:    s.session.RememberMe(),
		User:          snap.User,
	}
	if payload, err := session.Decode(snap.Token); err == nil {
		exp := payload.ExpiresAt
		st.ExpiresAt = &exp
	}
	if next, ok := s.nextRefresh(); ok {
		st.NextRefresh = &next
	}
	return st
}

func (s *AuthService) nextRefresh() (time.Time, bool) {
	type planner interface {
		NextRefresh() (time.Time, bool)
	}
	p, ok := s.refresh.(planner)
	if !ok {
		return time.Time{}, false
	}
	return p.NextRefresh()
}

// Role returns the signed-in role from the cached user, or from the token
// while the profile is still loading.
func (s *AuthService) Role() (domain.Role, bool) {
	if user := s.session.CurrentUser(); user != nil {
		return user.Role, true
	}
	payload, err := session.Decode(s.session.CurrentToken())
	if err != nil || !payload.Role.Valid() {
		return "", false
	}
	return payload.Role, true
}

// complete turns a freshly issued token into an established session.
func (s *AuthService) complete(ctx context.Context, token string, remember bool) (*LoginResult, error) {
	tier := domain.TierFor(remember)
	if err := s.session.Establish(ctx, token, nil, tier); err != nil {
		if errors.Is(err, session.ErrMalformedToken) || errors.Is(err, session.ErrTokenExpired) {
			return nil, apperrors.NewUpstreamError(0, "the server issued an unusable token", err)
		}
		return nil, fmt.Errorf("authService.complete: %w", err)
	}

	payload, _ := session.Decode(token)
	user, err := s.backend.UserByEmail(ctx, payload.Subject)
	if err == nil {
		err = s.session.UpdateCurrentUser(ctx, user)
	}
	if err != nil {
		if tdErr := s.session.Teardown(ctx, "profile unavailable"); tdErr != nil {
			s.logger.Warn("clear storage after failed sign-in", zap.Error(tdErr))
		}
		return nil, fmt.Errorf("authService.complete: %w", err)
	}

	// a 401 during the profile fetch may already have renewed the token
	if err := s.refresh.ScheduleCurrent(); err != nil {
		s.logger.Error("issued token cannot be scheduled", zap.Error(err))
	}

	s.logger.Info("signed in",
		zap.String("subject", payload.Subject),
		zap.String("role", string(user.Role)),
		zap.Stringer("tier", tier))

	return &LoginResult{User: s.session.CurrentUser(), Redirect: s.redirectAfterLogin(ctx, user.Role)}, nil
}

func (s *AuthService) redirectAfterLogin(ctx context.Context, role domain.Role) string {
	home := s.paths.HomeFor(role)
	attempted, ok, err := s.store.PopAttempt(ctx)
	if err != nil {
		s.logger.Warn("read retained url", zap.Error(err))
		return home
	}
	if !ok || !isLocalPath(attempted) {
		return home
	}
	return attempted
}

// isLocalPath accepts only same-origin absolute paths.
func isLocalPath(p string) bool {
	return strings.HasPrefix(p, "/") && !strings.HasPrefix(p, "//") && !strings.Contains(p, `\`)
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

func validateCredentials(email, password string) error {
	if email == "" || password == "" {
		return apperrors.NewValidationError("email and password required", nil)
	}
	if _, err := mail.ParseAddress(email); err != nil {
		return apperrors.NewValidationError("valid email required", map[string]any{"field": "email"})
	}
	return nil
}
