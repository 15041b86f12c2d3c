package service

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/spec-kit/heritage-console/internal/config"
	"github.com/spec-kit/heritage-console/internal/domain"
	"github.com/spec-kit/heritage-console/internal/events"
)

type memUsers struct {
	mu     sync.Mutex
	byID   map[int64]*domain.User
	nextID int64
}

func newMemUsers() *memUsers {
	return &memUsers{byID: map[int64]*domain.User{}}
}

func (m *memUsers) Create(_ context.Context, user *domain.User) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextID++
	user.ID = m.nextID
	user.CreatedAt = time.Now()
	user.UpdatedAt = user.CreatedAt
	u := *user
	m.byID[u.ID] = &u
	return nil
}

func (m *memUsers) Update(_ context.Context, user *domain.User) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.byID[user.ID]; !ok {
		return pgx.ErrNoRows
	}
	u := *user
	m.byID[u.ID] = &u
	return nil
}

func (m *memUsers) GetByID(_ context.Context, id int64) (*domain.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.byID[id]
	if !ok {
		return nil, pgx.ErrNoRows
	}
	cp := *u
	return &cp, nil
}

func (m *memUsers) GetByEmail(_ context.Context, email string) (*domain.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, u := range m.byID {
		if strings.EqualFold(u.Email, email) {
			cp := *u
			return &cp, nil
		}
	}
	return nil, pgx.ErrNoRows
}

type memResets struct {
	mu      sync.Mutex
	byToken map[string]*domain.PasswordResetToken
}

func newMemResets() *memResets {
	return &memResets{byToken: map[string]*domain.PasswordResetToken{}}
}

func (m *memResets) Create(_ context.Context, token *domain.PasswordResetToken) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	token.ID = uuid.NewString()
	token.CreatedAt = time.Now()
	t := *token
	m.byToken[t.Token] = &t
	return nil
}

func (m *memResets) GetByToken(_ context.Context, token string) (*domain.PasswordResetToken, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.byToken[token]
	if !ok {
		return nil, pgx.ErrNoRows
	}
	cp := *t
	return &cp, nil
}

func (m *memResets) MarkUsed(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, t := range m.byToken {
		if t.ID == id {
			if t.UsedAt != nil {
				return pgx.ErrNoRows
			}
			now := time.Now()
			t.UsedAt = &now
			return nil
		}
	}
	return pgx.ErrNoRows
}

type recordingOutbox struct {
	mu   sync.Mutex
	mail []Mail
}

func (o *recordingOutbox) Enqueue(_ context.Context, mail Mail) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.mail = append(o.mail, mail)
	return nil
}

func testConfig() config.Config {
	return config.Config{
		Auth: config.AuthConfig{
			JWTSecret:               "test-secret",
			AccessTokenTTLMinutes:   60,
			RefreshGraceMinutes:     10,
			PasswordResetTTLMinutes: 30,
			BcryptCost:              4,
		},
		Notification: config.NotificationConfig{
			EmailFrom: "noreply@example.com",
			ResetURL:  "http://console.local/auth/reset-password",
		},
	}
}

type fixture struct {
	svc        *AuthService
	users      *memUsers
	resets     *memResets
	dispatcher events.Dispatcher
	outbox     *recordingOutbox
}

func newFixture() *fixture {
	cfg := testConfig()
	users, resets := newMemUsers(), newMemResets()
	dispatcher := events.NewInMemoryDispatcher()
	outbox := &recordingOutbox{}
	NewNotificationService(dispatcher, nil, cfg.Notification).RegisterHandlers(outbox)
	svc := NewAuthService(cfg, AuthDependencies{
		UserRepo:          users,
		PasswordResetRepo: resets,
		Dispatcher:        dispatcher,
	})
	return &fixture{svc: svc, users: users, resets: resets, dispatcher: dispatcher, outbox: outbox}
}
