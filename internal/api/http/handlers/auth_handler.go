package handlers

import (
	"context"
	"net/http"

	"github.com/gofiber/fiber/v2"

	"github.com/spec-kit/heritage-console/internal/api/dto"
	"github.com/spec-kit/heritage-console/internal/auth"
	"github.com/spec-kit/heritage-console/internal/domain"
	"github.com/spec-kit/heritage-console/internal/service"
	apperrors "github.com/spec-kit/heritage-console/pkg/util"
)

// AccountService is the slice of service.AuthService the HTTP layer calls.
type AccountService interface {
	Register(ctx context.Context, in service.RegisterInput) (string, error)
	Login(ctx context.Context, email, password string) (string, error)
	SocialLogin(ctx context.Context, in service.SocialInput) (string, error)
	Refresh(ctx context.Context, token string) (string, error)
	RequestPasswordReset(ctx context.Context, email string) error
	ResetPassword(ctx context.Context, token, newPassword string) error
	GetUserByEmail(ctx context.Context, principal *auth.Principal, email string) (*domain.User, error)
}

// AuthHandler exposes the /api/auth endpoints.
type AuthHandler struct {
	accounts AccountService
}

// NewAuthHandler constructs handler.
func NewAuthHandler(accounts AccountService) *AuthHandler {
	return &AuthHandler{accounts: accounts}
}

// Login handles POST /api/auth/login.
func (h *AuthHandler) Login(c *fiber.Ctx) error {
	var req dto.LoginRequest
	if err := c.BodyParser(&req); err != nil {
		return apperrors.NewValidationError("invalid payload", nil)
	}
	token, err := h.accounts.Login(c.UserContext(), req.Email, req.Password)
	if err != nil {
		return err
	}
	return c.JSON(dto.TokenResponse{Token: token})
}

// Register handles POST /api/auth/register.
func (h *AuthHandler) Register(c *fiber.Ctx) error {
	var req dto.RegisterRequest
	if err := c.BodyParser(&req); err != nil {
		return apperrors.NewValidationError("invalid payload", nil)
	}
	token, err := h.accounts.Register(c.UserContext(), service.RegisterInput{
		FirstName:         req.FirstName,
		LastName:          req.LastName,
		Email:             req.Email,
		Password:          req.Password,
		PreferredLanguage: req.PreferredLanguage,
		Country:           req.Country,
	})
	if err != nil {
		return err
	}
	return c.Status(http.StatusCreated).JSON(dto.TokenResponse{Token: token})
}

// SocialLogin handles POST /api/auth/social-login.
func (h *AuthHandler) SocialLogin(c *fiber.Ctx) error {
	var req dto.SocialLoginRequest
	if err := c.BodyParser(&req); err != nil {
		return apperrors.NewValidationError("invalid payload", nil)
	}
	token, err := h.accounts.SocialLogin(c.UserContext(), service.SocialInput{
		Provider:  req.Provider,
		IDToken:   req.IDToken,
		Email:     req.Email,
		FirstName: req.FirstName,
		LastName:  req.LastName,
	})
	if err != nil {
		return err
	}
	return c.JSON(dto.TokenResponse{Token: token})
}

// Refresh handles POST /api/auth/refresh. The token to renew travels in the
// Authorization header; the body is ignored.
func (h *AuthHandler) Refresh(c *fiber.Ctx) error {
	raw, err := auth.BearerToken(c.Get(fiber.HeaderAuthorization))
	if err != nil {
		return err
	}
	token, err := h.accounts.Refresh(c.UserContext(), raw)
	if err != nil {
		return err
	}
	return c.JSON(dto.TokenResponse{Token: token})
}

// ForgotPassword handles POST /api/auth/forgot-password?email=.
// The answer is the same whether or not the address is registered.
func (h *AuthHandler) ForgotPassword(c *fiber.Ctx) error {
	if err := h.accounts.RequestPasswordReset(c.UserContext(), c.Query("email")); err != nil {
		return err
	}
	return c.Status(http.StatusAccepted).JSON(fiber.Map{
		"data": fiber.Map{"status": "reset_requested"},
	})
}

// ResetPassword handles POST /api/auth/reset-password.
func (h *AuthHandler) ResetPassword(c *fiber.Ctx) error {
	var req dto.ResetPasswordRequest
	if err := c.BodyParser(&req); err != nil {
		return apperrors.NewValidationError("invalid payload", nil)
	}
	if err := h.accounts.ResetPassword(c.UserContext(), req.Token, req.NewPassword); err != nil {
		return err
	}
	return c.JSON(fiber.Map{"data": fiber.Map{"status": "password_reset"}})
}
