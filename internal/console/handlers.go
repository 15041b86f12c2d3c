package console

import (
	"errors"
	"net/http"

	"github.com/gofiber/fiber/v2"

	"github.com/spec-kit/heritage-console/internal/apiclient"
	"github.com/spec-kit/heritage-console/internal/session"
	apperrors "github.com/spec-kit/heritage-console/pkg/util"
)

type signInRequest struct {
	Email      string `json:"email"`
	Password   string `json:"password"`
	RememberMe bool   `json:"rememberMe"`
}

type signUpRequest struct {
	apiclient.RegisterRequest
	RememberMe bool `json:"rememberMe"`
}

type socialLoginRequest struct {
	apiclient.SocialLoginRequest
	RememberMe bool `json:"rememberMe"`
}

type forgotPasswordRequest struct {
	Email string `json:"email"`
}

type resetPasswordRequest struct {
	Token       string `json:"token"`
	NewPassword string `json:"newPassword"`
}

// Handler serves the console's routed surface.
type Handler struct {
	auth    *AuthService
	version string
}

// NewHandler constructs handler.
func NewHandler(auth *AuthService, version string) *Handler {
	return &Handler{auth: auth, version: version}
}

// Live handles GET /health/live.
func (h *Handler) Live(c *fiber.Ctx) error {
	return c.JSON(fiber.Map{
		"status":  "alive",
		"service": "console",
		"version": h.version,
	})
}

// SignInPage handles GET /auth/signin. A signed-in operator is pointed at their home area.
func (h *Handler) SignInPage(c *fiber.Ctx) error {
	data := fiber.Map{"page": "signin", "authenticated": false}
	if h.auth.session.IsAuthenticated() {
		role, _ := h.auth.Role()
		data["authenticated"] = true
		data["redirect"] = h.auth.paths.HomeFor(role)
	}
	return c.JSON(fiber.Map{"data": data})
}

// SignIn handles POST /auth/signin.
func (h *Handler) SignIn(c *fiber.Ctx) error {
	var req signInRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(http.StatusBadRequest, "invalid payload")
	}
	result, err := h.auth.Login(c.UserContext(), req.Email, req.Password, req.RememberMe)
	if err != nil {
		return mapError(err)
	}
	return c.JSON(fiber.Map{"data": result})
}

// SignUp handles POST /auth/signup.
func (h *Handler) SignUp(c *fiber.Ctx) error {
	var req signUpRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(http.StatusBadRequest, "invalid payload")
	}
	result, err := h.auth.Register(c.UserContext(), req.RegisterRequest, req.RememberMe)
	if err != nil {
		return mapError(err)
	}
	return c.Status(http.StatusCreated).JSON(fiber.Map{"data": result})
}

// SocialLogin handles POST /auth/social-login.
func (h *Handler) SocialLogin(c *fiber.Ctx) error {
	var req socialLoginRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(http.StatusBadRequest, "invalid payload")
	}
	result, err := h.auth.SocialLogin(c.UserContext(), req.SocialLoginRequest, req.RememberMe)
	if err != nil {
		return mapError(err)
	}
	return c.JSON(fiber.Map{"data": result})
}

// ForgotPassword handles POST /auth/forgot-password.
func (h *Handler) ForgotPassword(c *fiber.Ctx) error {
	var req forgotPasswordRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(http.StatusBadRequest, "invalid payload")
	}
	if err := h.auth.ForgotPassword(c.UserContext(), req.Email); err != nil {
		return mapError(err)
	}
	return c.Status(http.StatusAccepted).JSON(fiber.Map{
		"data": fiber.Map{"message": "If the address is registered, a reset link is on its way."},
	})
}

// ResetPassword handles POST /auth/reset-password.
func (h *Handler) ResetPassword(c *fiber.Ctx) error {
	var req resetPasswordRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(http.StatusBadRequest, "invalid payload")
	}
	redirect, err := h.auth.ResetPassword(c.UserContext(), req.Token, req.NewPassword)
	if err != nil {
		return mapError(err)
	}
	return c.JSON(fiber.Map{"data": fiber.Map{"redirect": redirect}})
}

// Session handles GET /auth/session.
func (h *Handler) Session(c *fiber.Ctx) error {
	return c.JSON(fiber.Map{"data": h.auth.Status()})
}

// Logout handles POST /auth/logout.
func (h *Handler) Logout(c *fiber.Ctx) error {
	redirect, err := h.auth.Logout(c.UserContext())
	if err != nil {
		return mapError(err)
	}
	return c.JSON(fiber.Map{"data": fiber.Map{"redirect": redirect}})
}

// Profile handles GET /profile.
func (h *Handler) Profile(c *fiber.Ctx) error {
	user := h.auth.session.CurrentUser()
	if user == nil {
		return apperrors.NewNotFound("profile", nil)
	}
	return c.JSON(fiber.Map{"data": user})
}

// ReloadProfile handles POST /profile/reload.
func (h *Handler) ReloadProfile(c *fiber.Ctx) error {
	user, err := h.auth.ReloadProfile(c.UserContext())
	if err != nil {
		return mapError(err)
	}
	return c.JSON(fiber.Map{"data": user})
}

// Area serves the landing payload for a guarded console subtree.
func (h *Handler) Area(name string) fiber.Handler {
	return func(c *fiber.Ctx) error {
		data := fiber.Map{"area": name, "path": c.Path()}
		if user := h.auth.session.CurrentUser(); user != nil {
			data["displayName"] = user.DisplayName()
			data["role"] = user.Role
		}
		return c.JSON(fiber.Map{"data": data})
	}
}

// mapError turns backend and session failures into the console's error envelope.
func mapError(err error) error {
	var httpErr *apiclient.HTTPError
	switch {
	case errors.As(err, &httpErr):
		return apperrors.NewUpstreamError(httpErr.StatusCode, apiclient.UserMessage(err), err)
	case errors.Is(err, apiclient.ErrUnavailable):
		return apperrors.NewUpstreamError(http.StatusServiceUnavailable, apiclient.UserMessage(err), err)
	case errors.Is(err, session.ErrNoSession),
		errors.Is(err, session.ErrRefreshFailed),
		errors.Is(err, apiclient.ErrUnauthorized):
		return apperrors.NewUnauthorized("Your session has ended. Please sign in again.")
	case errors.Is(err, session.ErrUnknownShape):
		return apperrors.NewUpstreamError(http.StatusBadGateway, "the server sent an unexpected profile", err)
	}
	return err
}
