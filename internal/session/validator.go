package session

import (
	"fmt"
	"time"

	jwt "github.com/golang-jwt/jwt/v5"

	"github.com/spec-kit/heritage-console/internal/domain"
)

// Payload is the part of the token the console reads.
type Payload struct {
	Subject   string
	UserID    int64
	Role      domain.Role
	ExpiresAt time.Time
}

type tokenClaims struct {
	UserID int64       `json:"uid,omitempty"`
	Role   domain.Role `json:"role,omitempty"`
	jwt.RegisteredClaims
}

var unverifiedParser = jwt.NewParser()

// Decode reads the claims segment without checking the signature.
// Any structural or encoding problem, or a missing expiry, yields ErrMalformedToken.
func Decode(token string) (Payload, error) {
	if token == "" {
		return Payload{}, fmt.Errorf("%w: empty", ErrMalformedToken)
	}
	var claims tokenClaims
	if _, _, err := unverifiedParser.ParseUnverified(token, &claims); err != nil {
		return Payload{}, fmt.Errorf("%w: %v", ErrMalformedToken, err)
	}
	if claims.ExpiresAt == nil {
		return Payload{}, fmt.Errorf("%w: no exp claim", ErrMalformedToken)
	}
	return Payload{
		Subject:   claims.Subject,
		UserID:    claims.UserID,
		Role:      claims.Role,
		ExpiresAt: claims.ExpiresAt.Time,
	}, nil
}

// Validator decides whether a stored token is still usable for UI gating.
type Validator struct {
	now func() time.Time
}

// NewValidator uses now as its clock; nil means time.Now.
func NewValidator(now func() time.Time) *Validator {
	if now == nil {
		now = time.Now
	}
	return &Validator{now: now}
}

// Check decodes token and reports ErrMalformedToken or ErrTokenExpired.
func (v *Validator) Check(token string) (Payload, error) {
	p, err := Decode(token)
	if err != nil {
		return Payload{}, err
	}
	if !p.ExpiresAt.After(v.now()) {
		return p, fmt.Errorf("%w: at %s", ErrTokenExpired, p.ExpiresAt.UTC().Format(time.RFC3339))
	}
	return p, nil
}

// IsValid fails closed: any decode problem or expiry is false.
func (v *Validator) IsValid(token string) bool {
	_, err := v.Check(token)
	return err == nil
}

// Now exposes the validator's clock.
func (v *Validator) Now() time.Time {
	return v.now()
}
