package session

import (
	"context"
	"sync"
	"testing"
	"time"

	jwt "github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/require"

	"github.com/spec-kit/heritage-console/internal/domain"
)

var baseTime = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock { return &fakeClock{now: baseTime} }

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func signToken(t *testing.T, sub string, exp time.Time) string {
	t.Helper()
	claims := jwt.MapClaims{"sub": sub, "exp": exp.Unix(), "role": "ADMIN", "uid": 42}
	tok, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte("test-secret"))
	require.NoError(t, err)
	return tok
}

func adminProfile() *domain.UserProfile {
	return &domain.UserProfile{ID: 42, FirstName: "Leila", LastName: "Ben Ali", Email: "leila@example.com", Role: domain.RoleAdmin, PreferredLanguage: "fr"}
}

type stubFetcher struct {
	mu    sync.Mutex
	user  *domain.UserProfile
	err   error
	calls int
	done  chan struct{}
}

func (f *stubFetcher) UserByEmail(_ context.Context, email string) (*domain.UserProfile, error) {
	f.mu.Lock()
	f.calls++
	user, err := f.user, f.err
	f.mu.Unlock()
	if f.done != nil {
		defer close(f.done)
	}
	if err != nil {
		return nil, err
	}
	u := *user
	u.Email = email
	return &u, nil
}

type harness struct {
	durable   *MemoryStorage
	ephemeral *MemoryStorage
	store     *TokenStore
	clock     *fakeClock
	session   *Session
}

func newHarness(t *testing.T, fetcher UserFetcher) *harness {
	t.Helper()
	h := &harness{
		durable:   NewMemoryStorage(),
		ephemeral: NewMemoryStorage(),
		clock:     newFakeClock(),
	}
	h.store = NewTokenStore(h.durable, h.ephemeral)
	h.session = New(Deps{
		Store:     h.store,
		Validator: NewValidator(h.clock.Now),
		Fetcher:   fetcher,
	})
	t.Cleanup(h.session.Close)
	return h
}
