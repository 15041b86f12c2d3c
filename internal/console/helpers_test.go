package console

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
	jwt "github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	apihttp "github.com/spec-kit/heritage-console/internal/api/http"
	"github.com/spec-kit/heritage-console/internal/apiclient"
	"github.com/spec-kit/heritage-console/internal/domain"
	"github.com/spec-kit/heritage-console/internal/session"
)

var testPaths = Paths{SignIn: "/auth/signin", AdminHome: "/dashboard", UserHome: "/frontoffice"}

func signToken(t *testing.T, email string, role domain.Role, uid int64, ttl time.Duration) string {
	t.Helper()
	tok, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub":  email,
		"uid":  uid,
		"role": string(role),
		"exp":  time.Now().Add(ttl).Unix(),
		"iat":  time.Now().Unix(),
	}).SignedString([]byte("test-secret"))
	require.NoError(t, err)
	return tok
}

type fakeBackend struct {
	t *testing.T

	mu         sync.Mutex
	users      map[string]*domain.UserProfile
	passwords  map[string]string
	profileErr error
	forgot     []string
	resets     []apiclient.ResetPasswordRequest
	social     []apiclient.SocialLoginRequest
	nextID     int64
}

func newFakeBackend(t *testing.T) *fakeBackend {
	b := &fakeBackend{
		t:         t,
		users:     map[string]*domain.UserProfile{},
		passwords: map[string]string{},
		nextID:    100,
	}
	b.add(&domain.UserProfile{ID: 1, FirstName: "Leila", LastName: "Haddad", Email: "leila@example.com", Role: domain.RoleAdmin}, "admin-pass")
	b.add(&domain.UserProfile{ID: 2, FirstName: "Omar", LastName: "Said", Email: "omar@example.com", Role: domain.RoleUser}, "user-pass")
	return b
}

func (b *fakeBackend) add(user *domain.UserProfile, password string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.users[user.Email] = user
	b.passwords[user.Email] = password
}

func (b *fakeBackend) tokenFor(email string) string {
	b.mu.Lock()
	user := b.users[email]
	b.mu.Unlock()
	return signToken(b.t, email, user.Role, user.ID, time.Hour)
}

func (b *fakeBackend) Login(_ context.Context, req apiclient.LoginRequest) (string, error) {
	b.mu.Lock()
	pw, ok := b.passwords[req.Email]
	b.mu.Unlock()
	if !ok || pw != req.Password {
		return "", &apiclient.HTTPError{StatusCode: http.StatusUnauthorized, Code: "UNAUTHORIZED", Message: "invalid credentials"}
	}
	return b.tokenFor(req.Email), nil
}

func (b *fakeBackend) Register(_ context.Context, req apiclient.RegisterRequest) (string, error) {
	b.mu.Lock()
	if _, exists := b.users[req.Email]; exists {
		b.mu.Unlock()
		return "", &apiclient.HTTPError{StatusCode: http.StatusConflict, Code: "CONFLICT", Message: "email already registered"}
	}
	b.nextID++
	id := b.nextID
	b.mu.Unlock()
	b.add(&domain.UserProfile{ID: id, FirstName: req.FirstName, LastName: req.LastName, Email: req.Email, Role: domain.RoleUser}, req.Password)
	return b.tokenFor(req.Email), nil
}

func (b *fakeBackend) SocialLogin(_ context.Context, req apiclient.SocialLoginRequest) (string, error) {
	b.mu.Lock()
	b.social = append(b.social, req)
	_, exists := b.users[req.Email]
	b.nextID++
	id := b.nextID
	b.mu.Unlock()
	if !exists {
		b.add(&domain.UserProfile{ID: id, FirstName: req.FirstName, LastName: req.LastName, Email: req.Email, Role: domain.RoleUser}, "")
	}
	return b.tokenFor(req.Email), nil
}

func (b *fakeBackend) ForgotPassword(_ context.Context, email string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.forgot = append(b.forgot, email)
	return nil
}

func (b *fakeBackend) ResetPassword(_ context.Context, req apiclient.ResetPasswordRequest) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if req.Token == "expired" {
		return &apiclient.HTTPError{StatusCode: http.StatusBadRequest, Code: "VALIDATION_FAILED", Message: "reset link expired"}
	}
	b.resets = append(b.resets, req)
	return nil
}

func (b *fakeBackend) UserByEmail(_ context.Context, email string) (*domain.UserProfile, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.profileErr != nil {
		return nil, b.profileErr
	}
	user, ok := b.users[email]
	if !ok {
		return nil, &apiclient.HTTPError{StatusCode: http.StatusNotFound, Message: "user not found"}
	}
	u := *user
	return &u, nil
}

func (b *fakeBackend) setProfileErr(err error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.profileErr = err
}

func (b *fakeBackend) rename(email, first string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.users[email].FirstName = first
}

type fakeScheduler struct {
	mu    sync.Mutex
	calls int
	err   error
}

func (s *fakeScheduler) ScheduleCurrent() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	return s.err
}

func (s *fakeScheduler) Calls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

type harness struct {
	app       *fiber.App
	svc       *AuthService
	guards    *Guards
	session   *session.Session
	store     *session.TokenStore
	durable   *session.MemoryStorage
	ephemeral *session.MemoryStorage
	backend   *fakeBackend
	scheduler *fakeScheduler
}

// newHarness builds a console without starting it.
func newHarness(t *testing.T) *harness {
	t.Helper()
	durable, ephemeral := session.NewMemoryStorage(), session.NewMemoryStorage()
	store := session.NewTokenStore(durable, ephemeral)
	backend := newFakeBackend(t)
	sess := session.New(session.Deps{Store: store, Fetcher: backend})
	t.Cleanup(sess.Close)

	scheduler := &fakeScheduler{}
	svc := NewAuthService(sess, store, backend, scheduler, testPaths, nil)
	guards := NewGuards(svc, nil)

	app := fiber.New()
	apihttp.RegisterMiddlewares(app, zap.NewNop(), nil, 0)
	RegisterRoutes(app, RouteConfig{Handler: NewHandler(svc, "test"), Guards: guards})

	return &harness{
		app:       app,
		svc:       svc,
		guards:    guards,
		session:   sess,
		store:     store,
		durable:   durable,
		ephemeral: ephemeral,
		backend:   backend,
		scheduler: scheduler,
	}
}

func newStartedHarness(t *testing.T) *harness {
	h := newHarness(t)
	h.svc.Start(context.Background())
	return h
}

type envelope struct {
	Data  json.RawMessage `json:"data"`
	Error *struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

func (h *harness) do(t *testing.T, method, target string, body any) (*http.Response, envelope) {
	t.Helper()
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	}
	req := httptest.NewRequest(method, target, reader)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := h.app.Test(req, -1)
	require.NoError(t, err)
	defer resp.Body.Close()

	var env envelope
	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	if len(raw) > 0 {
		require.NoError(t, json.Unmarshal(raw, &env), string(raw))
	}
	return resp, env
}

func (h *harness) signIn(t *testing.T, email, password string, remember bool) LoginResult {
	t.Helper()
	resp, env := h.do(t, http.MethodPost, "/auth/signin", fiber.Map{"email": email, "password": password, "rememberMe": remember})
	require.Equal(t, http.StatusOK, resp.StatusCode, "sign-in failed: %+v", env.Error)
	var result LoginResult
	require.NoError(t, json.Unmarshal(env.Data, &result))
	return result
}
