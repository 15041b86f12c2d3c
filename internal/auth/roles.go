package auth

import (
	"net/http"

	"github.com/gofiber/fiber/v2"

	"github.com/spec-kit/heritage-console/internal/domain"
)

// RequireRole ensures the principal holds one of the allowed roles.
// With no roles listed any authenticated principal passes.
func RequireRole(allowed ...domain.Role) fiber.Handler {
	allowedSet := make(map[domain.Role]struct{}, len(allowed))
	for _, role := range allowed {
		allowedSet[role] = struct{}{}
	}

	return func(c *fiber.Ctx) error {
		principal, ok := PrincipalFromContext(c)
		if !ok {
			return fiber.NewError(http.StatusUnauthorized, http.StatusText(http.StatusUnauthorized))
		}
		if len(allowedSet) == 0 {
			return c.Next()
		}
		if _, exists := allowedSet[principal.Role()]; !exists {
			return fiber.NewError(http.StatusForbidden, "insufficient role")
		}
		return c.Next()
	}
}

// CanReadProfile reports whether principal may read the profile registered to email.
// Administrators read any profile; everyone else only their own.
func CanReadProfile(principal *Principal, email string) bool {
	if principal == nil || principal.User == nil {
		return false
	}
	return principal.Role() == domain.RoleAdmin || principal.User.Email == email
}
