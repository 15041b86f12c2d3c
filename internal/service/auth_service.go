package service

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"

	"github.com/spec-kit/heritage-console/internal/auth"
	"github.com/spec-kit/heritage-console/internal/config"
	"github.com/spec-kit/heritage-console/internal/domain"
	"github.com/spec-kit/heritage-console/internal/events"
	"github.com/spec-kit/heritage-console/internal/repository"
	apperrors "github.com/spec-kit/heritage-console/pkg/util"
)

// SocialProviders lists identity providers the API accepts.
var SocialProviders = map[string]struct{}{
	"google":   {},
	"facebook": {},
}

// RegisterInput collects the fields of a new password account.
type RegisterInput struct {
	FirstName         string
	LastName          string
	Email             string
	Password          string
	PreferredLanguage string
	Country           string
}

// SocialInput is an identity asserted by an external provider.
type SocialInput struct {
	Provider  string
	IDToken   string
	Email     string
	FirstName string
	LastName  string
}

// AuthService coordinates registration, login and password recovery.
type AuthService struct {
	users      repository.UserRepository
	resets     repository.PasswordResetRepository
	dispatcher events.Dispatcher
	tokenMgr   *auth.TokenManager
	logger     *zap.Logger
	bcryptCost int
	resetTTL   time.Duration
	now        func() time.Time
}

// AuthDependencies encapsulates repo requirements for auth service.
type AuthDependencies struct {
	UserRepo          repository.UserRepository
	PasswordResetRepo repository.PasswordResetRepository
	Dispatcher        events.Dispatcher
	Logger            *zap.Logger
}

// NewAuthService builds the service.
func NewAuthService(cfg config.Config, deps AuthDependencies) *AuthService {
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &AuthService{
		users:      deps.UserRepo,
		resets:     deps.PasswordResetRepo,
		dispatcher: deps.Dispatcher,
		tokenMgr:   auth.NewTokenManager(cfg.Auth.JWTSecret, cfg.Auth.AccessTokenTTLMinutes, cfg.Auth.RefreshGraceMinutes),
		logger:     logger.Named("auth"),
		bcryptCost: cfg.Auth.BcryptCost,
		resetTTL:   time.Duration(cfg.Auth.PasswordResetTTLMinutes) * time.Minute,
		now:        time.Now,
	}
}

// Register creates a USER account and returns its first token.
func (s *AuthService) Register(ctx context.Context, in RegisterInput) (string, error) {
	in.Email = normalizeEmail(in.Email)
	if in.Email == "" || in.FirstName == "" || in.LastName == "" {
		return "", apperrors.NewValidationError("firstName, lastName, email, password required", nil)
	}
	if err := auth.ValidatePassword(in.Password); err != nil {
		return "", apperrors.NewValidationError(err.Error(), map[string]any{"field": "password"})
	}
	if err := s.ensureEmailFree(ctx, in.Email); err != nil {
		return "", err
	}

	hash, err := auth.HashPassword(in.Password, s.bcryptCost)
	if err != nil {
		return "", apperrors.NewInternalError(err)
	}

	user := &domain.User{
		FirstName:         in.FirstName,
		LastName:          in.LastName,
		Email:             in.Email,
		PasswordHash:      hash,
		Role:              domain.RoleUser,
		Status:            domain.UserStatusActive,
		PreferredLanguage: in.PreferredLanguage,
		Country:           in.Country,
		AuthProvider:      "password",
	}
	if err := s.users.Create(ctx, user); err != nil {
		return "", apperrors.MapError(err)
	}
	s.publish(ctx, events.NewEvent(events.EventUserRegistered, user.ID, user.Email,
		events.UserRegisteredPayload{FirstName: user.FirstName, AuthProvider: user.AuthProvider}))

	return s.issue(user)
}

// Login authenticates with email and password.
func (s *AuthService) Login(ctx context.Context, email, password string) (string, error) {
	email = normalizeEmail(email)
	if email == "" || password == "" {
		return "", apperrors.NewValidationError("email and password required", nil)
	}
	user, err := s.users.GetByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return "", apperrors.NewUnauthorized("invalid credentials")
		}
		return "", apperrors.MapError(err)
	}
	if user.PasswordHash == "" || auth.ComparePassword(user.PasswordHash, password) != nil {
		return "", apperrors.NewUnauthorized("invalid credentials")
	}
	if user.Status != domain.UserStatusActive {
		return "", apperrors.NewForbidden("account suspended")
	}
	return s.issue(user)
}

// SocialLogin signs in an externally asserted identity, creating the account
// on first use.
func (s *AuthService) SocialLogin(ctx context.Context, in SocialInput) (string, error) {
	in.Provider = strings.ToLower(strings.TrimSpace(in.Provider))
	in.Email = normalizeEmail(in.Email)
	if _, ok := SocialProviders[in.Provider]; !ok {
		return "", apperrors.NewValidationError("unsupported provider", map[string]any{"provider": in.Provider})
	}
	if in.IDToken == "" || in.Email == "" {
		return "", apperrors.NewValidationError("idToken and email required", nil)
	}

	user, err := s.users.GetByEmail(ctx, in.Email)
	switch {
	case err == nil:
		if user.Status != domain.UserStatusActive {
			return "", apperrors.NewForbidden("account suspended")
		}
	case errors.Is(err, pgx.ErrNoRows):
		user = &domain.User{
			FirstName:    in.FirstName,
			LastName:     in.LastName,
			Email:        in.Email,
			Role:         domain.RoleUser,
			Status:       domain.UserStatusActive,
			AuthProvider: in.Provider,
		}
		if err := s.users.Create(ctx, user); err != nil {
			return "", apperrors.MapError(err)
		}
		s.publish(ctx, events.NewEvent(events.EventUserRegistered, user.ID, user.Email,
			events.UserRegisteredPayload{FirstName: user.FirstName, AuthProvider: user.AuthProvider}))
	default:
		return "", apperrors.MapError(err)
	}
	return s.issue(user)
}

// Refresh exchanges a token, possibly expired within the grace window, for a new one.
// The account is re-read so suspensions and role changes take effect.
func (s *AuthService) Refresh(ctx context.Context, token string) (string, error) {
	claims, err := s.tokenMgr.ParseForRefresh(token)
	if err != nil {
		return "", apperrors.NewUnauthorized("invalid token")
	}
	user, err := s.users.GetByID(ctx, claims.UserID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return "", apperrors.NewUnauthorized("user not found")
		}
		return "", apperrors.MapError(err)
	}
	if user.Status != domain.UserStatusActive {
		return "", apperrors.NewUnauthorized("account suspended")
	}
	return s.issue(user)
}

// RequestPasswordReset stores a reset token and announces it for mailing.
// Unknown addresses succeed silently so callers cannot probe for accounts.
func (s *AuthService) RequestPasswordReset(ctx context.Context, email string) error {
	email = normalizeEmail(email)
	if email == "" {
		return apperrors.NewValidationError("email required", nil)
	}
	user, err := s.users.GetByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			s.logger.Info("password reset for unknown email")
			return nil
		}
		return apperrors.MapError(err)
	}

	token := &domain.PasswordResetToken{
		UserID:    user.ID,
		Token:     uuid.NewString(),
		ExpiresAt: s.now().Add(s.resetTTL),
	}
	if err := s.resets.Create(ctx, token); err != nil {
		return apperrors.MapError(err)
	}

	s.publish(ctx, events.NewEvent(events.EventPasswordResetRequested, user.ID, user.Email,
		events.PasswordResetRequestedPayload{Token: token.Token, ExpiresAt: token.ExpiresAt}))
	return nil
}

// ResetPassword validates the reset token and updates password.
func (s *AuthService) ResetPassword(ctx context.Context, tokenStr, newPassword string) error {
	if tokenStr == "" {
		return apperrors.NewValidationError("token required", nil)
	}
	if err := auth.ValidatePassword(newPassword); err != nil {
		return apperrors.NewValidationError(err.Error(), map[string]any{"field": "newPassword"})
	}

	token, err := s.resets.GetByToken(ctx, tokenStr)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return apperrors.NewValidationError("reset link is invalid or expired", nil)
		}
		return apperrors.MapError(err)
	}
	if !token.Usable(s.now()) {
		return apperrors.NewValidationError("reset link is invalid or expired", nil)
	}

	user, err := s.users.GetByID(ctx, token.UserID)
	if err != nil {
		return apperrors.MapError(err)
	}
	hash, err := auth.HashPassword(newPassword, s.bcryptCost)
	if err != nil {
		return apperrors.NewInternalError(err)
	}

	if err := s.resets.MarkUsed(ctx, token.ID); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return apperrors.NewValidationError("reset link is invalid or expired", nil)
		}
		return apperrors.MapError(err)
	}
	user.PasswordHash = hash
	if err := s.users.Update(ctx, user); err != nil {
		return apperrors.MapError(err)
	}

	s.publish(ctx, events.NewEvent(events.EventPasswordChanged, user.ID, user.Email, nil))
	return nil
}

// GetUserByEmail returns the profile registered to email if principal may read it.
func (s *AuthService) GetUserByEmail(ctx context.Context, principal *auth.Principal, email string) (*domain.User, error) {
	email = normalizeEmail(email)
	if !auth.CanReadProfile(principal, email) {
		return nil, apperrors.NewForbidden("cannot read another user's profile")
	}
	user, err := s.users.GetByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperrors.NewNotFound("user", map[string]any{"email": email})
		}
		return nil, apperrors.MapError(err)
	}
	return user, nil
}

// TokenManager exposes the underlying token manager for middleware usage.
func (s *AuthService) TokenManager() *auth.TokenManager {
	return s.tokenMgr
}

func (s *AuthService) issue(user *domain.User) (string, error) {
	token, _, err := s.tokenMgr.GenerateToken(user)
	if err != nil {
		return "", apperrors.NewInternalError(err)
	}
	return token, nil
}

func (s *AuthService) ensureEmailFree(ctx context.Context, email string) error {
	_, err := s.users.GetByEmail(ctx, email)
	switch {
	case err == nil:
		return apperrors.NewConflict("email already registered", nil)
	case errors.Is(err, pgx.ErrNoRows):
		return nil
	default:
		return apperrors.MapError(err)
	}
}

func (s *AuthService) publish(ctx context.Context, event events.Event) {
	if s.dispatcher == nil {
		return
	}
	if err := s.dispatcher.Publish(ctx, event); err != nil {
		s.logger.Warn("event handler failed", zap.String("event_type", string(event.Type)), zap.Error(err))
	}
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
