package dto

// LoginRequest is the payload for POST /api/auth/login.
type LoginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// RegisterRequest is the payload for POST /api/auth/register.
type RegisterRequest struct {
	FirstName         string `json:"firstName"`
	LastName          string `json:"lastName"`
	Email             string `json:"email"`
	Password          string `json:"password"`
	PreferredLanguage string `json:"preferredLanguage"`
	Country           string `json:"country"`
}

// SocialLoginRequest carries an identity asserted by an external provider.
type SocialLoginRequest struct {
	Provider  string `json:"provider"`
	IDToken   string `json:"idToken"`
	Email     string `json:"email"`
	FirstName string `json:"firstName"`
	LastName  string `json:"lastName"`
}

// ResetPasswordRequest consumes a mailed reset token.
type ResetPasswordRequest struct {
	Token       string `json:"token"`
	NewPassword string `json:"newPassword"`
}

// TokenResponse is the body of every token-issuing endpoint.
type TokenResponse struct {
	Token string `json:"token"`
}
