package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

// Refresher renews a token with the backend.
type Refresher interface {
	Refresh(ctx context.Context, token string) (string, error)
}

// RefreshState is the coordinator's position in its two-state machine.
type RefreshState int

const (
	RefreshIdle RefreshState = iota
	RefreshRunning
)

func (s RefreshState) String() string {
	if s == RefreshRunning {
		return "refreshing"
	}
	return "idle"
}

// AfterFunc schedules fn after d and returns a stop function.
type AfterFunc func(d time.Duration, fn func()) (stop func() bool)

func realAfterFunc(d time.Duration, fn func()) func() bool {
	return time.AfterFunc(d, fn).Stop
}

// CoordinatorConfig tunes renewal timing.
type CoordinatorConfig struct {
	// Lead is how long before expiry the proactive renewal fires.
	Lead time.Duration
	// Timeout bounds one renewal call.
	Timeout time.Duration
	Now     func() time.Time
	// AfterFunc defaults to time.AfterFunc.
	AfterFunc AfterFunc
}

const refreshKey = "refresh"

// Coordinator runs at most one token renewal at a time. Callers that arrive
// while a renewal is in flight wait for it and share its outcome.
type Coordinator struct {
	session   *Session
	refresher Refresher
	logger    *zap.Logger

	lead      time.Duration
	timeout   time.Duration
	now       func() time.Time
	afterFunc AfterFunc

	group   singleflight.Group
	running atomic.Bool
	calls   atomic.Int64

	mu      sync.Mutex
	stop    func() bool
	due     time.Time
	stopped bool
}

// NewCoordinator wires renewal to sess and cancels the proactive timer on every teardown.
func NewCoordinator(sess *Session, refresher Refresher, cfg CoordinatorConfig, logger *zap.Logger) *Coordinator {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.Lead <= 0 {
		cfg.Lead = 5 * time.Minute
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 15 * time.Second
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.AfterFunc == nil {
		cfg.AfterFunc = realAfterFunc
	}
	c := &Coordinator{
		session:   sess,
		refresher: refresher,
		logger:    logger.Named("refresh"),
		lead:      cfg.Lead,
		timeout:   cfg.Timeout,
		now:       cfg.Now,
		afterFunc: cfg.AfterFunc,
	}
	sess.OnTeardown(func(string) { c.Cancel() })
	return c
}

// State reports whether a renewal is in flight.
func (c *Coordinator) State() RefreshState {
	if c.running.Load() {
		return RefreshRunning
	}
	return RefreshIdle
}

// Calls counts renewal calls actually sent to the backend.
func (c *Coordinator) Calls() int64 {
	return c.calls.Load()
}

// Refresh renews the session token or joins the renewal already in flight.
// On failure the session has been torn down and the error wraps ErrRefreshFailed.
// ctx only bounds how long this caller waits; the shared renewal keeps running.
func (c *Coordinator) Refresh(ctx context.Context) (string, error) {
	ch := c.group.DoChan(refreshKey, func() (any, error) {
		return c.renew()
	})
	select {
	case res := <-ch:
		if res.Err != nil {
			return "", res.Err
		}
		return res.Val.(string), nil
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

func (c *Coordinator) renew() (string, error) {
	c.running.Store(true)
	defer c.running.Store(false)

	current := c.session.CurrentToken()
	if current == "" {
		return "", ErrNoSession
	}

	ctx, cancel := context.WithTimeout(context.Background(), c.timeout)
	defer cancel()

	c.calls.Add(1)
	fresh, err := c.refresher.Refresh(ctx, current)
	if err == nil {
		err = c.session.ReplaceToken(ctx, fresh)
		if errors.Is(err, ErrNoSession) {
			return "", err
		}
	}
	if err != nil {
		c.logger.Error("token refresh failed; ending session", zap.Error(err))
		if tdErr := c.session.Teardown(ctx, "refresh failed"); tdErr != nil {
			c.logger.Warn("clear storage after failed refresh", zap.Error(tdErr))
		}
		return "", fmt.Errorf("%w: %w", ErrRefreshFailed, err)
	}

	if err := c.schedule(fresh, true); err != nil {
		c.logger.Error("renewed token cannot be scheduled", zap.Error(err))
	}
	if payload, err := Decode(fresh); err == nil {
		// the role or profile may have changed server-side
		c.session.fetchUserAsync(fresh, payload.Subject)
	}
	c.logger.Info("token refreshed")
	return fresh, nil
}

// Schedule arms the proactive renewal for token, replacing any earlier timer.
// A token whose expiry is unreadable or already past yields ErrUnschedulable
// and leaves no timer armed.
func (c *Coordinator) Schedule(token string) error {
	return c.schedule(token, false)
}

// schedule arms the timer. With onlyIfCurrent the timer is armed only while
// token is still the session's token; a teardown clears the token before its
// hooks take c.mu, so no timer outlives it.
func (c *Coordinator) schedule(token string, onlyIfCurrent bool) error {
	payload, err := Decode(token)
	if err != nil {
		c.Cancel()
		return fmt.Errorf("%w: %w", ErrUnschedulable, err)
	}
	now := c.now()
	remaining := payload.ExpiresAt.Sub(now)
	if remaining <= 0 {
		c.Cancel()
		return fmt.Errorf("%w: expired at %s", ErrUnschedulable, payload.ExpiresAt.UTC().Format(time.RFC3339))
	}

	delay := remaining - c.lead
	if delay < 0 {
		// lifetime shorter than the lead: renew halfway instead of immediately
		delay = remaining / 2
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.stopped {
		return nil
	}
	if onlyIfCurrent && c.session.CurrentToken() != token {
		return nil
	}
	if c.stop != nil {
		c.stop()
	}
	c.due = now.Add(delay)
	c.stop = c.afterFunc(delay, c.fire)
	c.logger.Debug("refresh scheduled", zap.Duration("in", delay), zap.Time("expires_at", payload.ExpiresAt))
	return nil
}

// ScheduleCurrent arms the timer for the session's current token, if any.
func (c *Coordinator) ScheduleCurrent() error {
	token := c.session.CurrentToken()
	if token == "" {
		return nil
	}
	return c.Schedule(token)
}

// NextRefresh returns when the armed timer fires.
func (c *Coordinator) NextRefresh() (time.Time, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.due, c.stop != nil
}

func (c *Coordinator) fire() {
	c.mu.Lock()
	c.stop = nil
	c.due = time.Time{}
	stopped := c.stopped
	c.mu.Unlock()
	if stopped {
		return
	}
	if _, err := c.Refresh(context.Background()); err != nil && !errors.Is(err, ErrNoSession) {
		c.logger.Warn("proactive refresh failed", zap.Error(err))
	}
}

// Cancel disarms the proactive timer.
func (c *Coordinator) Cancel() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.stop != nil {
		c.stop()
		c.stop = nil
	}
	c.due = time.Time{}
}

// Stop disarms the timer for good; later Schedule calls are ignored.
func (c *Coordinator) Stop() {
	c.mu.Lock()
	c.stopped = true
	c.mu.Unlock()
	c.Cancel()
}
