package session

import (
	"context"
	"errors"
	"sync"

	"go.uber.org/zap"

	"github.com/spec-kit/heritage-console/internal/domain"
)

// UserFetcher loads the authoritative profile from the backend.
type UserFetcher interface {
	UserByEmail(ctx context.Context, email string) (*domain.UserProfile, error)
}

// Snapshot is one observed auth state.
type Snapshot struct {
	Token       string
	User        *domain.UserProfile
	Initialized bool
}

// HasToken reports whether the snapshot carries a token. Expiry is not checked.
func (s Snapshot) HasToken() bool {
	return s.Token != ""
}

// Deps are the collaborators of a Session.
type Deps struct {
	Store     *TokenStore
	Validator *Validator
	Fetcher   UserFetcher
	Logger    *zap.Logger
}

// Session is the single source of truth for the operator's auth status.
type Session struct {
	store     *TokenStore
	validator *Validator
	fetcher   UserFetcher
	logger    *zap.Logger

	mu          sync.RWMutex
	token       string
	user        *domain.UserProfile
	tier        domain.Tier
	initialized bool
	subs        map[int]chan Snapshot
	nextSub     int
	hooks       []func(reason string)
	closed      bool

	initOnce sync.Once
	ready    chan struct{}

	bgCtx    context.Context
	bgCancel context.CancelFunc
	bg       sync.WaitGroup
}

// New builds a Session. Call Initialize once at startup and Close on shutdown.
func New(deps Deps) *Session {
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	validator := deps.Validator
	if validator == nil {
		validator = NewValidator(nil)
	}
	bgCtx, bgCancel := context.WithCancel(context.Background())
	return &Session{
		store:     deps.Store,
		validator: validator,
		fetcher:   deps.Fetcher,
		logger:    logger.Named("session"),
		subs:      make(map[int]chan Snapshot),
		ready:     make(chan struct{}),
		bgCtx:     bgCtx,
		bgCancel:  bgCancel,
	}
}

// Initialize restores the session from storage. Only the first call does anything.
// A valid token is applied together with the cached user, and a background fetch
// then replaces the cached user with the server's copy. An invalid token is
// cleared from both tiers. Initialized becomes true in every case.
func (s *Session) Initialize(ctx context.Context) {
	s.initOnce.Do(func() {
		defer s.markInitialized()

		token, tier, ok, err := s.store.Token(ctx)
		if err != nil {
			s.logger.Warn("read persisted token", zap.Error(err))
			return
		}
		if !ok {
			s.logger.Debug("no persisted token")
			return
		}

		payload, err := s.validator.Check(token)
		if err != nil {
			s.logTokenRejection(err)
			if clearErr := s.store.Clear(ctx); clearErr != nil {
				s.logger.Warn("clear rejected token", zap.Error(clearErr))
			}
			return
		}

		user, err := s.store.User(ctx)
		if err != nil {
			s.logger.Warn("discarding cached user", zap.Error(err))
		}

		s.mu.Lock()
		s.token = token
		s.user = user
		s.tier = tier
		s.mu.Unlock()

		s.logger.Info("session restored",
			zap.String("subject", payload.Subject),
			zap.Stringer("tier", tier),
			zap.Time("expires_at", payload.ExpiresAt),
			zap.Bool("cached_user", user != nil))

		s.fetchUserAsync(token, payload.Subject)
	})
}

func (s *Session) markInitialized() {
	s.mu.Lock()
	s.initialized = true
	s.publishLocked()
	s.mu.Unlock()
	close(s.ready)
}

func (s *Session) logTokenRejection(err error) {
	switch {
	case errors.Is(err, ErrTokenExpired):
		s.logger.Info("token expired", zap.Error(err))
	default:
		s.logger.Warn("token decode failed", zap.Error(err))
	}
}

func (s *Session) fetchUserAsync(token, email string) {
	if s.fetcher == nil || email == "" {
		return
	}
	s.bg.Add(1)
	go func() {
		defer s.bg.Done()
		user, err := s.fetcher.UserByEmail(s.bgCtx, email)
		if err != nil {
			s.logger.Warn("background user fetch failed", zap.String("subject", email), zap.Error(err))
			return
		}
		if err := s.applyFetchedUser(s.bgCtx, token, user); err != nil && !errors.Is(err, ErrNoSession) {
			s.logger.Warn("persist fetched user", zap.Error(err))
		}
	}()
}

// applyFetchedUser installs user only if token is still the current one.
func (s *Session) applyFetchedUser(ctx context.Context, token string, user *domain.UserProfile) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.token == "" || s.token != token {
		return ErrNoSession
	}
	s.user = user
	s.publishLocked()
	return s.store.SaveUser(ctx, user)
}

// WaitInitialized blocks until the first Initialize pass has completed.
// Once ready it returns immediately for every later caller.
func (s *Session) WaitInitialized(ctx context.Context) error {
	select {
	case <-s.ready:
		return nil
	default:
	}
	select {
	case <-s.ready:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Ready is closed once initialization completes.
func (s *Session) Ready() <-chan struct{} {
	return s.ready
}

// Initialized reports whether the startup pass has completed.
func (s *Session) Initialized() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.initialized
}

// CurrentToken returns the in-memory token, or "".
func (s *Session) CurrentToken() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.token
}

// CurrentUser returns a copy of the in-memory user, or nil.
func (s *Session) CurrentUser() *domain.UserProfile {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.user == nil {
		return nil
	}
	u := *s.user
	return &u
}

// IsAuthenticated re-validates the current token on every call.
func (s *Session) IsAuthenticated() bool {
	token := s.CurrentToken()
	return token != "" && s.validator.IsValid(token)
}

// RememberMe reports whether the session lives in the durable tier.
func (s *Session) RememberMe() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.token != "" && s.tier == domain.TierDurable
}

// Snapshot returns the current state.
func (s *Session) Snapshot() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.snapshotLocked()
}

func (s *Session) snapshotLocked() Snapshot {
	snap := Snapshot{Token: s.token, Initialized: s.initialized}
	if s.user != nil {
		u := *s.user
		snap.User = &u
	}
	return snap
}

// Establish installs a freshly issued token and profile and persists both to tier.
func (s *Session) Establish(ctx context.Context, token string, user *domain.UserProfile, tier domain.Tier) error {
	if _, err := s.validator.Check(token); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.store.Save(ctx, token, user, tier); err != nil {
		return err
	}
	s.token = token
	s.user = user
	s.tier = tier
	s.publishLocked()
	return nil
}

// ReplaceToken swaps in a renewed token, keeping the user and the remember-me tier.
func (s *Session) ReplaceToken(ctx context.Context, token string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.token == "" {
		return ErrNoSession
	}
	if err := s.store.Save(ctx, token, s.user, s.tier); err != nil {
		return err
	}
	s.token = token
	s.publishLocked()
	return nil
}

// UpdateCurrentUser overwrites the user and re-persists it next to the token.
func (s *Session) UpdateCurrentUser(ctx context.Context, user *domain.UserProfile) error {
	if user == nil {
		return ErrUnknownShape
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.token == "" {
		return ErrNoSession
	}
	u := *user
	if err := s.store.SaveUser(ctx, &u); err != nil {
		return err
	}
	s.user = &u
	s.publishLocked()
	return nil
}

// Logout clears memory and both tiers.
func (s *Session) Logout(ctx context.Context) error {
	return s.Teardown(ctx, "logout")
}

// Teardown destroys token and user together and runs the teardown hooks.
func (s *Session) Teardown(ctx context.Context, reason string) error {
	s.mu.Lock()
	hadSession := s.token != "" || s.user != nil
	s.token = ""
	s.user = nil
	s.tier = domain.TierEphemeral
	s.publishLocked()
	hooks := append([]func(string){}, s.hooks...)
	s.mu.Unlock()

	for _, hook := range hooks {
		hook(reason)
	}

	err := s.store.Clear(ctx)
	if hadSession {
		s.logger.Info("session torn down", zap.String("reason", reason))
	}
	return err
}

// OnTeardown registers fn to run every time the session is torn down.
func (s *Session) OnTeardown(fn func(reason string)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.hooks = append(s.hooks, fn)
}

// Subscribe streams snapshots. The channel holds only the latest value,
// starting with the current one. Call cancel to stop receiving.
func (s *Session) Subscribe() (<-chan Snapshot, func()) {
	s.mu.Lock()
	defer s.mu.Unlock()

	ch := make(chan Snapshot, 1)
	if s.closed {
		close(ch)
		return ch, func() {}
	}
	id := s.nextSub
	s.nextSub++
	s.subs[id] = ch
	ch <- s.snapshotLocked()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			s.mu.Lock()
			defer s.mu.Unlock()
			if c, ok := s.subs[id]; ok {
				delete(s.subs, id)
				close(c)
			}
		})
	}
}

// publishLocked must be called with s.mu held for writing.
func (s *Session) publishLocked() {
	snap := s.snapshotLocked()
	for _, ch := range s.subs {
		select {
		case <-ch:
		default:
		}
		ch <- snap
	}
}

// Close stops background work and subscriber streams. Persisted state is kept
// so the next process can restore it.
func (s *Session) Close() {
	s.bgCancel()
	s.bg.Wait()

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.closed = true
	for id, ch := range s.subs {
		delete(s.subs, id)
		close(ch)
	}
}
