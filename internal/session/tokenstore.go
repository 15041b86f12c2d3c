package session

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/spec-kit/heritage-console/internal/domain"
)

// Keys used in both tiers. RedirectKey is only ever written to the ephemeral tier.
const (
	TokenKey    = "auth_token"
	UserKey     = "auth_user"
	UserIDKey   = "user_id"
	RedirectKey = "redirect_url"
)

var sessionKeys = []string{TokenKey, UserKey, UserIDKey}

// TokenStore keeps the token and its cached user in exactly one tier.
type TokenStore struct {
	durable   Storage
	ephemeral Storage
}

// NewTokenStore wires the two tiers.
func NewTokenStore(durable, ephemeral Storage) *TokenStore {
	return &TokenStore{durable: durable, ephemeral: ephemeral}
}

func (s *TokenStore) tier(t domain.Tier) Storage {
	if t == domain.TierDurable {
		return s.durable
	}
	return s.ephemeral
}

// Token returns the stored token and the tier holding it. Durable is read first.
func (s *TokenStore) Token(ctx context.Context) (string, domain.Tier, bool, error) {
	for _, t := range []domain.Tier{domain.TierDurable, domain.TierEphemeral} {
		tok, ok, err := s.tier(t).Get(ctx, TokenKey)
		if err != nil {
			return "", t, false, fmt.Errorf("read %s token: %w", t, err)
		}
		if ok && tok != "" {
			return tok, t, true, nil
		}
	}
	return "", domain.TierEphemeral, false, nil
}

// Get returns the stored token, or "" when neither tier holds one.
func (s *TokenStore) Get(ctx context.Context) (string, error) {
	tok, _, _, err := s.Token(ctx)
	return tok, err
}

// Tier reports which tier holds the token. ok is false when neither does.
func (s *TokenStore) Tier(ctx context.Context) (domain.Tier, bool, error) {
	_, tier, ok, err := s.Token(ctx)
	return tier, ok, err
}

// Set writes token to tier, carrying any cached user along, and empties the other tier.
func (s *TokenStore) Set(ctx context.Context, token string, tier domain.Tier) error {
	user, err := s.User(ctx)
	if err != nil && !errors.Is(err, ErrUnknownShape) {
		return err
	}
	return s.Save(ctx, token, user, tier)
}

// Save writes token and user to tier and then removes both from the other tier.
// The target is written first so a failure never leaves the session in neither tier.
func (s *TokenStore) Save(ctx context.Context, token string, user *domain.UserProfile, tier domain.Tier) error {
	if token == "" {
		return ErrNoSession
	}
	dst := s.tier(tier)
	if err := dst.Set(ctx, TokenKey, token); err != nil {
		return fmt.Errorf("write %s token: %w", tier, err)
	}
	if user != nil {
		if err := writeUser(ctx, dst, user); err != nil {
			return fmt.Errorf("write %s user: %w", tier, err)
		}
	} else if err := dst.Delete(ctx, UserKey, UserIDKey); err != nil {
		return fmt.Errorf("clear %s user: %w", tier, err)
	}
	if err := s.tier(tier.Other()).Delete(ctx, sessionKeys...); err != nil {
		return fmt.Errorf("clear %s tier: %w", tier.Other(), err)
	}
	return nil
}

// User returns the cached profile from the tier holding the token.
// A payload of unknown shape is dropped and reported as ErrUnknownShape.
func (s *TokenStore) User(ctx context.Context) (*domain.UserProfile, error) {
	_, tier, ok, err := s.Token(ctx)
	if err != nil || !ok {
		return nil, err
	}
	raw, found, err := s.tier(tier).Get(ctx, UserKey)
	if err != nil {
		return nil, fmt.Errorf("read %s user: %w", tier, err)
	}
	if !found || raw == "" {
		return nil, nil
	}
	user, err := DecodeProfile([]byte(raw))
	if err != nil {
		_ = s.tier(tier).Delete(ctx, UserKey, UserIDKey)
		return nil, err
	}
	return user, nil
}

// SaveUser re-persists user into whichever tier currently holds the token.
func (s *TokenStore) SaveUser(ctx context.Context, user *domain.UserProfile) error {
	_, tier, ok, err := s.Token(ctx)
	if err != nil {
		return err
	}
	if !ok {
		return ErrNoSession
	}
	return writeUser(ctx, s.tier(tier), user)
}

// UserID returns the numeric id stored next to the token.
func (s *TokenStore) UserID(ctx context.Context) (int64, bool, error) {
	_, tier, ok, err := s.Token(ctx)
	if err != nil || !ok {
		return 0, false, err
	}
	raw, found, err := s.tier(tier).Get(ctx, UserIDKey)
	if err != nil || !found {
		return 0, false, err
	}
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0, false, fmt.Errorf("%w: user id %q", ErrUnknownShape, raw)
	}
	return id, true, nil
}

// Clear removes token, user and user id from both tiers.
func (s *TokenStore) Clear(ctx context.Context) error {
	errDurable := s.durable.Delete(ctx, sessionKeys...)
	errEphemeral := s.ephemeral.Delete(ctx, sessionKeys...)
	return errors.Join(errDurable, errEphemeral)
}

// RememberAttempt keeps the URL a guard turned away, for restoring after sign-in.
func (s *TokenStore) RememberAttempt(ctx context.Context, url string) error {
	return s.ephemeral.Set(ctx, RedirectKey, url)
}

// PopAttempt returns and forgets the retained URL.
func (s *TokenStore) PopAttempt(ctx context.Context) (string, bool, error) {
	url, ok, err := s.ephemeral.Get(ctx, RedirectKey)
	if err != nil || !ok {
		return "", false, err
	}
	if err := s.ephemeral.Delete(ctx, RedirectKey); err != nil {
		return "", false, err
	}
	return url, url != "", nil
}

func writeUser(ctx context.Context, dst Storage, user *domain.UserProfile) error {
	raw, err := json.Marshal(user)
	if err != nil {
		return err
	}
	if err := dst.Set(ctx, UserKey, string(raw)); err != nil {
		return err
	}
	return dst.Set(ctx, UserIDKey, strconv.FormatInt(user.ID, 10))
}

// DecodeProfile parses a cached or fetched profile, rejecting unknown fields,
// a missing email and roles the platform does not issue.
func DecodeProfile(raw []byte) (*domain.UserProfile, error) {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.DisallowUnknownFields()

	var p domain.UserProfile
	if err := dec.Decode(&p); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnknownShape, err)
	}
	if dec.More() {
		return nil, fmt.Errorf("%w: trailing data", ErrUnknownShape)
	}
	if strings.TrimSpace(p.Email) == "" {
		return nil, fmt.Errorf("%w: missing email", ErrUnknownShape)
	}
	if !p.Role.Valid() {
		return nil, fmt.Errorf("%w: role %q", ErrUnknownShape, p.Role)
	}
	return &p, nil
}
