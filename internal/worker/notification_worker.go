package worker

import (
	"context"
	"errors"
	"sync"

	"go.uber.org/zap"

	"github.com/spec-kit/heritage-console/internal/service"
)

// ErrOutboxFull is returned when the queue cannot take more mail.
var ErrOutboxFull = errors.New("notification outbox full")

// ErrOutboxClosed is returned after Stop.
var ErrOutboxClosed = errors.New("notification outbox closed")

// DeliverFunc hands one mail to the transport.
type DeliverFunc func(ctx context.Context, mail service.Mail) error

// NotificationWorker drains queued mail in the background.
type NotificationWorker struct {
	queue   chan service.Mail
	deliver DeliverFunc
	logger  *zap.Logger

	mu     sync.RWMutex
	closed bool
	wg     sync.WaitGroup
}

// LogDeliver is the stub transport: it logs instead of sending.
func LogDeliver(logger *zap.Logger) DeliverFunc {
	return func(_ context.Context, mail service.Mail) error {
		logger.Info("mail stub",
			zap.String("from", mail.From),
			zap.String("to", mail.To),
			zap.String("subject", mail.Subject),
			zap.String("body", mail.Body))
		return nil
	}
}

// NewNotificationWorker builds a worker with a queue of the given size.
func NewNotificationWorker(size int, deliver DeliverFunc, logger *zap.Logger) *NotificationWorker {
	if logger == nil {
		logger = zap.NewNop()
	}
	if size <= 0 {
		size = 64
	}
	if deliver == nil {
		deliver = LogDeliver(logger)
	}
	return &NotificationWorker{
		queue:   make(chan service.Mail, size),
		deliver: deliver,
		logger:  logger.Named("notification_worker"),
	}
}

// StartNotificationWorker registers notification handlers and starts draining
// their mail until ctx is cancelled.
func StartNotificationWorker(ctx context.Context, notificationService *service.NotificationService, logger *zap.Logger) *NotificationWorker {
	w := NewNotificationWorker(0, nil, logger)
	if notificationService != nil {
		notificationService.RegisterHandlers(w)
	}
	w.Start(ctx)
	return w
}

// Enqueue implements service.Outbox. It never blocks.
func (w *NotificationWorker) Enqueue(_ context.Context, mail service.Mail) error {
	w.mu.RLock()
	defer w.mu.RUnlock()
	if w.closed {
		return ErrOutboxClosed
	}
	select {
	case w.queue <- mail:
		return nil
	default:
		return ErrOutboxFull
	}
}

// Start launches the drain loop.
func (w *NotificationWorker) Start(ctx context.Context) {
	w.wg.Add(1)
	go func() {
		defer w.wg.Done()
		for {
			select {
			case <-ctx.Done():
				w.drain()
				return
			case mail, ok := <-w.queue:
				if !ok {
					return
				}
				w.send(ctx, mail)
			}
		}
	}()
}

// drain delivers whatever is already queued when the context ends.
func (w *NotificationWorker) drain() {
	for {
		select {
		case mail, ok := <-w.queue:
			if !ok {
				return
			}
			w.send(context.Background(), mail)
		default:
			return
		}
	}
}

func (w *NotificationWorker) send(ctx context.Context, mail service.Mail) {
	if err := w.deliver(ctx, mail); err != nil {
		w.logger.Warn("mail delivery failed", zap.String("to", mail.To), zap.String("subject", mail.Subject), zap.Error(err))
	}
}

// Stop refuses new mail, delivers what is queued and waits for the loop.
func (w *NotificationWorker) Stop() {
	w.mu.Lock()
	if !w.closed {
		w.closed = true
		close(w.queue)
	}
	w.mu.Unlock()
	w.wg.Wait()
}
