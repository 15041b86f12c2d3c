package console

import (
	"net/http"
	"strings"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/spec-kit/heritage-console/internal/domain"
	apperrors "github.com/spec-kit/heritage-console/pkg/util"
)

// Guards gate console routes on the session. Compose them in route order:
// RequireAuth first, then RequireRoles.
type Guards struct {
	svc    *AuthService
	logger *zap.Logger
}

// NewGuards builds guards over svc's session.
func NewGuards(svc *AuthService, logger *zap.Logger) *Guards {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Guards{svc: svc, logger: logger.Named("guard")}
}

// RequireAuth waits for session initialization, then lets authenticated
// requests through. Anything else is sent to sign-in with the attempted URL
// retained for after login.
func (g *Guards) RequireAuth(c *fiber.Ctx) error {
	if err := g.svc.session.WaitInitialized(c.UserContext()); err != nil {
		return apperrors.NewDomainError("SESSION_NOT_READY", "session is still starting", http.StatusServiceUnavailable, nil)
	}
	if g.svc.session.IsAuthenticated() {
		return c.Next()
	}

	// fiber reuses the request buffer after the handler returns
	attempted := strings.Clone(c.OriginalURL())
	if err := g.svc.store.RememberAttempt(c.UserContext(), attempted); err != nil {
		g.logger.Warn("retain attempted url", zap.String("url", attempted), zap.Error(err))
	}
	return c.Redirect(g.svc.paths.SignIn, http.StatusFound)
}

// RequireRoles admits the listed roles. With no roles listed every request
// passes. A known role outside the list is redirected to its own home area.
func (g *Guards) RequireRoles(allowed ...domain.Role) fiber.Handler {
	allowedSet := make(map[domain.Role]struct{}, len(allowed))
	for _, role := range allowed {
		allowedSet[role] = struct{}{}
	}

	return func(c *fiber.Ctx) error {
		if len(allowedSet) == 0 {
			return c.Next()
		}
		role, ok := g.svc.Role()
		if ok {
			if _, permitted := allowedSet[role]; permitted {
				return c.Next()
			}
		}

		switch role {
		case domain.RoleAdmin:
			return c.Redirect(g.svc.paths.AdminHome, http.StatusFound)
		case domain.RoleUser:
			return c.Redirect(g.svc.paths.UserHome, http.StatusFound)
		}
		g.logger.Warn("role denied", zap.String("role", string(role)), zap.String("path", c.Path()))
		return apperrors.NewForbidden("insufficient role")
	}
}
