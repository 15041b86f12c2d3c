package worker

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/spec-kit/heritage-console/internal/config"
	"github.com/spec-kit/heritage-console/internal/events"
	"github.com/spec-kit/heritage-console/internal/service"
)

type sink struct {
	mu   sync.Mutex
	mail []service.Mail
	err  error
}

func (s *sink) deliver(_ context.Context, mail service.Mail) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.mail = append(s.mail, mail)
	return s.err
}

func (s *sink) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.mail)
}

func TestWorker_DeliversQueuedMail(t *testing.T) {
	s := &sink{}
	w := NewNotificationWorker(4, s.deliver, zap.NewNop())
	w.Start(context.Background())

	require.NoError(t, w.Enqueue(context.Background(), service.Mail{To: "a@example.com"}))
	require.NoError(t, w.Enqueue(context.Background(), service.Mail{To: "b@example.com"}))
	assert.Eventually(t, func() bool { return s.count() == 2 }, time.Second, 5*time.Millisecond)

	w.Stop()
	assert.ErrorIs(t, w.Enqueue(context.Background(), service.Mail{}), ErrOutboxClosed)
}

func TestWorker_FullQueueDoesNotBlock(t *testing.T) {
	w := NewNotificationWorker(1, (&sink{}).deliver, nil)
	require.NoError(t, w.Enqueue(context.Background(), service.Mail{}))
	assert.ErrorIs(t, w.Enqueue(context.Background(), service.Mail{}), ErrOutboxFull)
	w.Stop()
}

func TestWorker_StopFlushesQueue(t *testing.T) {
	s := &sink{}
	w := NewNotificationWorker(8, s.deliver, nil)
	for i := 0; i < 3; i++ {
		require.NoError(t, w.Enqueue(context.Background(), service.Mail{}))
	}
	w.Start(context.Background())
	w.Stop()
	assert.Equal(t, 3, s.count())
}

func TestWorker_CancelDrains(t *testing.T) {
	s := &sink{}
	w := NewNotificationWorker(8, s.deliver, nil)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	require.NoError(t, w.Enqueue(context.Background(), service.Mail{}))
	w.Start(ctx)
	w.Stop()
	assert.Equal(t, 1, s.count())
}

func TestWorker_DeliveryErrorKeepsGoing(t *testing.T) {
	s := &sink{err: errors.New("smtp down")}
	w := NewNotificationWorker(4, s.deliver, nil)
	w.Start(context.Background())
	require.NoError(t, w.Enqueue(context.Background(), service.Mail{}))
	require.NoError(t, w.Enqueue(context.Background(), service.Mail{}))
	w.Stop()
	assert.Equal(t, 2, s.count())
}

func TestStartNotificationWorker_WiresEvents(t *testing.T) {
	dispatcher := events.NewInMemoryDispatcher()
	notifications := service.NewNotificationService(dispatcher, nil, config.NotificationConfig{
		EmailFrom: "noreply@example.com",
		ResetURL:  "http://console.local/auth/reset-password",
	})
	w := StartNotificationWorker(context.Background(), notifications, zap.NewNop())

	require.NoError(t, dispatcher.Publish(context.Background(), events.NewEvent(events.EventPasswordChanged, 1, "a@example.com", nil)))
	w.Stop()
	assert.ErrorIs(t, w.Enqueue(context.Background(), service.Mail{}), ErrOutboxClosed)
}
