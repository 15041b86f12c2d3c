package service

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"

	"go.uber.org/zap"

	"github.com/spec-kit/heritage-console/internal/config"
	"github.com/spec-kit/heritage-console/internal/events"
)

// Mail is one outgoing message.
type Mail struct {
	From    string
	To      string
	Subject string
	Body    string
}

// Outbox accepts mail for delivery.
type Outbox interface {
	Enqueue(ctx context.Context, mail Mail) error
}

// NotificationService turns account events into mail.
type NotificationService struct {
	dispatcher events.Dispatcher
	logger     *zap.Logger
	cfg        config.NotificationConfig
}

// NewNotificationService creates the service.
func NewNotificationService(dispatcher events.Dispatcher, logger *zap.Logger, cfg config.NotificationConfig) *NotificationService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &NotificationService{
		dispatcher: dispatcher,
		logger:     logger.Named("notification"),
		cfg:        cfg,
	}
}

// RegisterHandlers subscribes to events, handing resulting mail to outbox.
func (n *NotificationService) RegisterHandlers(outbox Outbox) {
	if n.dispatcher == nil || outbox == nil {
		return
	}
	n.dispatcher.Subscribe(events.EventPasswordResetRequested, func(ctx context.Context, event events.Event) error {
		return n.handlePasswordResetRequested(ctx, outbox, event)
	})
	n.dispatcher.Subscribe(events.EventUserRegistered, func(ctx context.Context, event events.Event) error {
		return n.handleUserRegistered(ctx, outbox, event)
	})
	n.dispatcher.Subscribe(events.EventPasswordChanged, func(ctx context.Context, event events.Event) error {
		return n.send(ctx, outbox, event.Email, "Your password was changed",
			"Your password was just changed. If this was not you, contact support.")
	})
}

func (n *NotificationService) handlePasswordResetRequested(ctx context.Context, outbox Outbox, event events.Event) error {
	payload, ok := event.Payload.(events.PasswordResetRequestedPayload)
	if !ok {
		return fmt.Errorf("unexpected payload %T", event.Payload)
	}
	link, err := n.ResetLink(payload.Token)
	if err != nil {
		return err
	}
	body := fmt.Sprintf("Use this link to choose a new password: %s\nIt expires at %s.",
		link, payload.ExpiresAt.UTC().Format("2006-01-02 15:04 MST"))
	return n.send(ctx, outbox, event.Email, "Reset your password", body)
}

func (n *NotificationService) handleUserRegistered(ctx context.Context, outbox Outbox, event events.Event) error {
	name := "there"
	if payload, ok := event.Payload.(events.UserRegisteredPayload); ok && payload.FirstName != "" {
		name = payload.FirstName
	}
	return n.send(ctx, outbox, event.Email, "Welcome", fmt.Sprintf("Hello %s, your account is ready.", name))
}

// ResetLink appends token to the configured reset page URL.
func (n *NotificationService) ResetLink(token string) (string, error) {
	if strings.TrimSpace(n.cfg.ResetURL) == "" {
		return "", errors.New("reset url not configured")
	}
	u, err := url.Parse(n.cfg.ResetURL)
	if err != nil {
		return "", fmt.Errorf("parse reset url: %w", err)
	}
	q := u.Query()
	q.Set("token", token)
	u.RawQuery = q.Encode()
	return u.String(), nil
}

func (n *NotificationService) send(ctx context.Context, outbox Outbox, to, subject, body string) error {
	if strings.TrimSpace(n.cfg.EmailFrom) == "" {
		n.logger.Debug("mail disabled; dropping", zap.String("subject", subject))
		return nil
	}
	return outbox.Enqueue(ctx, Mail{From: n.cfg.EmailFrom, To: to, Subject: subject, Body: body})
}
