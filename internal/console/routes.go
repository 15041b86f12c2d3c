package console

import (
	"github.com/gofiber/fiber/v2"

	"github.com/spec-kit/heritage-console/internal/domain"
)

// RouteConfig bundles dependencies for route registration.
type RouteConfig struct {
	Handler *Handler
	Guards  *Guards
}

// RegisterRoutes wires the console surface.
func RegisterRoutes(app *fiber.App, cfg RouteConfig) {
	h, g := cfg.Handler, cfg.Guards

	app.Get("/health/live", h.Live)

	authGroup := app.Group("/auth")
	authGroup.Get("/signin", h.SignInPage)
	authGroup.Post("/signin", h.SignIn)
	authGroup.Post("/signup", h.SignUp)
	authGroup.Post("/social-login", h.SocialLogin)
	authGroup.Post("/forgot-password", h.ForgotPassword)
	authGroup.Post("/reset-password", h.ResetPassword)
	authGroup.Get("/session", h.Session)
	authGroup.Post("/logout", g.RequireAuth, h.Logout)

	profile := app.Group("/profile", g.RequireAuth)
	profile.Get("", h.Profile)
	profile.Post("/reload", h.ReloadProfile)

	dashboard := app.Group("/dashboard", g.RequireAuth, g.RequireRoles(domain.RoleAdmin))
	dashboard.Get("", h.Area("dashboard"))
	dashboard.Get("/*", h.Area("dashboard"))

	frontoffice := app.Group("/frontoffice", g.RequireAuth, g.RequireRoles(domain.RoleUser))
	frontoffice.Get("", h.Area("frontoffice"))
	frontoffice.Get("/*", h.Area("frontoffice"))
}
