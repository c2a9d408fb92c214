// Package push delivers notification intents to devices.
package push

import (
	"context"
	"errors"
	"fmt"

	"couple-sync-backend/internal/models"

	"github.com/rs/zerolog/log"
	"github.com/sideshow/apns2"
	"github.com/sideshow/apns2/payload"
	"github.com/sideshow/apns2/token"
)

// ErrRejected is returned when the push service refused a notification
var ErrRejected = errors.New("push rejected")

// Sender delivers a notification to one device token
type Sender interface {
	Send(ctx context.Context, deviceToken string, n *models.Notification) error
}

// APNsSender pushes through Apple Push Notification service with token auth
type APNsSender struct {
	client *apns2.Client
	topic  string
}

// APNsOptions configures NewAPNsSender
type APNsOptions struct {
	KeyFile    string
	KeyID      string
	TeamID     string
	Topic      string
	Production bool
}

// NewAPNsSender loads the .p8 signing key and creates an APNs client
func NewAPNsSender(opts APNsOptions) (*APNsSender, error) {
	authKey, err := token.AuthKeyFromFile(opts.KeyFile)
	if err != nil {
		return nil, fmt.Errorf("failed to load APNs key: %w", err)
	}

	client := apns2.NewTokenClient(&token.Token{
		AuthKey: authKey,
		KeyID:   opts.KeyID,
		TeamID:  opts.TeamID,
	})
	if opts.Production {
		client = client.Production()
	} else {
		client = client.Development()
	}

	return &APNsSender{client: client, topic: opts.Topic}, nil
}

// Send pushes the notification as an alert
func (s *APNsSender) Send(ctx context.Context, deviceToken string, n *models.Notification) error {
	notification := &apns2.Notification{
		DeviceToken: deviceToken,
		Topic:       s.topic,
		Payload:     BuildPayload(n),
	}

	res, err := s.client.PushWithContext(ctx, notification)
	if err != nil {
		return fmt.Errorf("failed to push notification %s: %w", n.ID, err)
	}
	if !res.Sent() {
		return fmt.Errorf("%w: %d %s", ErrRejected, res.StatusCode, res.Reason)
	}
	return nil
}

// BuildPayload renders the APNs payload for a notification
func BuildPayload(n *models.Notification) *payload.Payload {
	return payload.NewPayload().
		AlertTitle(n.FromUserName).
		AlertBody(n.Message).
		Sound("default").
		Custom("notification_id", n.ID).
		Custom("from_user_id", n.FromUserID)
}

// NopSender logs instead of delivering
type NopSender struct{}

// Send logs the notification
func (NopSender) Send(ctx context.Context, deviceToken string, n *models.Notification) error {
	log.Debug().
		Str("notification_id", n.ID).
		Str("to_user_id", n.ToUserID).
		Msg("Push delivery disabled, skipping")
	return nil
}
