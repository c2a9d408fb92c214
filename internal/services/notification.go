package services

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"couple-sync-backend/internal/metrics"
	"couple-sync-backend/internal/models"
	"couple-sync-backend/internal/push"
	"couple-sync-backend/internal/repository"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

// ThinkingOfYouMessage is the fixed body of a thinking-of-you nudge
const ThinkingOfYouMessage = "is thinking of you 💭"

const (
	maxMessageLen  = 500
	pushTimeout    = 10 * time.Second
	defaultListLen = 50
)

// NotificationStore is the persistence NotificationService needs
type NotificationStore interface {
	repository.UserStore
	repository.NotificationStore
}

// NotificationEvents lets online recipients see a notification immediately
type NotificationEvents interface {
	NotifyNotification(userID string, n *models.Notification)
}

// NotificationService records notification intents and hands them to a push sender
type NotificationService struct {
	store  NotificationStore
	sender push.Sender
	events NotificationEvents
	now    func() time.Time

	wg sync.WaitGroup
}

// NewNotificationService creates a new notification service
func NewNotificationService(store NotificationStore, sender push.Sender, events NotificationEvents) *NotificationService {
	return &NotificationService{store: store, sender: sender, events: events, now: time.Now}
}

// Send records a notification from one partner to the other. Push delivery
// happens in the background and its outcome is only logged.
func (s *NotificationService) Send(ctx context.Context, fromUserID, toUserID, fromUserName, message string) (*models.Notification, error) {
	message = strings.TrimSpace(message)
	if message == "" || utf8.RuneCountInString(message) > maxMessageLen {
		return nil, fmt.Errorf("%w: message must be 1-%d characters", ErrInvalidInput, maxMessageLen)
	}
	if _, err := coupleOf(ctx, s.store, fromUserID, toUserID); err != nil {
		return nil, err
	}

	n := &models.Notification{
		ID:           uuid.NewString(),
		FromUserID:   fromUserID,
		ToUserID:     toUserID,
		FromUserName: strings.TrimSpace(fromUserName),
		Message:      message,
		Timestamp:    s.now(),
	}
	if err := s.store.CreateNotification(ctx, n); err != nil {
		return nil, storeErr("failed to record notification", err)
	}

	s.events.NotifyNotification(toUserID, n)
	s.dispatch(n)
	return n, nil
}

// SendThinkingOfYou sends the fixed thinking-of-you message
func (s *NotificationService) SendThinkingOfYou(ctx context.Context, fromUserID, toUserID, fromUserName string) (*models.Notification, error) {
	return s.Send(ctx, fromUserID, toUserID, fromUserName, ThinkingOfYouMessage)
}

func (s *NotificationService) dispatch(n *models.Notification) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()

		ctx, cancel := context.WithTimeout(context.Background(), pushTimeout)
		defer cancel()

		recipient, err := s.store.GetUser(ctx, n.ToUserID)
		if err != nil {
			metrics.Notifications.WithLabelValues("error").Inc()
			log.Error().Err(err).Str("notification_id", n.ID).Msg("Failed to load push recipient")
			return
		}
		if recipient.PushToken == nil {
			metrics.Notifications.WithLabelValues("no_token").Inc()
			log.Debug().Str("notification_id", n.ID).Str("to_user_id", n.ToUserID).Msg("Recipient has no push token")
			return
		}

		if err := s.sender.Send(ctx, *recipient.PushToken, n); err != nil {
			metrics.Notifications.WithLabelValues("failed").Inc()
			log.Warn().Err(err).Str("notification_id", n.ID).Str("to_user_id", n.ToUserID).Msg("Push delivery failed")
			return
		}
		metrics.Notifications.WithLabelValues("sent").Inc()
		log.Info().Str("notification_id", n.ID).Str("to_user_id", n.ToUserID).Msg("Push delivered")
	}()
}

// Wait blocks until background push deliveries have finished
func (s *NotificationService) Wait() {
	s.wg.Wait()
}

// List returns notifications addressed to userID, newest first
func (s *NotificationService) List(ctx context.Context, userID string, unreadOnly bool) ([]*models.Notification, error) {
	list, err := s.store.ListNotifications(ctx, userID, unreadOnly, defaultListLen)
	if err != nil {
		return nil, storeErr("failed to list notifications", err)
	}
	return list, nil
}

// MarkRead marks a notification as read; only its recipient may do so
func (s *NotificationService) MarkRead(ctx context.Context, userID, id string) error {
	n, err := s.store.GetNotification(ctx, id)
	if err != nil {
		return storeErr("failed to get notification", err)
	}
	if n.ToUserID != userID {
		return ErrUnauthorized
	}
	if err := s.store.MarkRead(ctx, id); err != nil {
		return storeErr("failed to mark notification read", err)
	}
	return nil
}
