package handlers

import (
	"net/url"

	"github.com/gofiber/fiber/v2"

	"github.com/spec-kit/heritage-console/internal/auth"
	apperrors "github.com/spec-kit/heritage-console/pkg/util"
)

// UsersHandler serves account profiles.
type UsersHandler struct {
	accounts AccountService
}

// NewUsersHandler constructs handler.
func NewUsersHandler(accounts AccountService) *UsersHandler {
	return &UsersHandler{accounts: accounts}
}

// ByEmail handles GET /api/users/email/:email. The body is the bare profile,
// which is the shape the console caches.
func (h *UsersHandler) ByEmail(c *fiber.Ctx) error {
	principal, ok := auth.PrincipalFromContext(c)
	if !ok {
		return apperrors.NewUnauthorized("authentication required")
	}
	email, err := url.PathUnescape(c.Params("email"))
	if err != nil || email == "" {
		return apperrors.NewValidationError("email required", nil)
	}
	user, err := h.accounts.GetUserByEmail(c.UserContext(), principal, email)
	if err != nil {
		return err
	}
	return c.JSON(user.Profile())
}
