package services

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"couple-sync-backend/internal/models"
	"couple-sync-backend/internal/repository/memstore"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeSender struct {
	mu    sync.Mutex
	sent  map[string]*models.Notification
	err   error
	delay time.Duration
}

func (f *fakeSender) Send(ctx context.Context, deviceToken string, n *models.Notification) error {
	if f.delay > 0 {
		time.Sleep(f.delay)
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.sent == nil {
		f.sent = make(map[string]*models.Notification)
	}
	f.sent[deviceToken] = n
	return f.err
}

func (f *fakeSender) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.sent)
}

type notificationFixture struct {
	store  *memstore.Store
	svc    *NotificationService
	sender *fakeSender
	events *recordingEvents
	alice  *models.UserProfile
	bob    *models.UserProfile
	carol  *models.UserProfile
}

func newNotificationFixture(t *testing.T, sender *fakeSender) *notificationFixture {
	t.Helper()
	store := memstore.New()
	events := &recordingEvents{}
	f := &notificationFixture{
		store:  store,
		svc:    NewNotificationService(store, sender, events),
		sender: sender,
		events: events,
		alice:  mustCreateUser(t, store, "alice"),
		bob:    mustCreateUser(t, store, "bob"),
		carol:  mustCreateUser(t, store, "carol"),
	}
	mustPair(t, store, f.alice, f.bob)
	t.Cleanup(f.svc.Wait)
	return f
}

func TestSendThinkingOfYou(t *testing.T) {
	ctx := context.Background()
	f := newNotificationFixture(t, &fakeSender{})
	require.NoError(t, f.store.UpdatePushToken(ctx, f.bob.ID, strPtr("bob-device")))

	n, err := f.svc.SendThinkingOfYou(ctx, f.alice.ID, f.bob.ID, "Alice")
	require.NoError(t, err)
	assert.Equal(t, f.alice.ID, n.FromUserID)
	assert.Equal(t, f.bob.ID, n.ToUserID)
	assert.Equal(t, "Alice", n.FromUserName)
	assert.Equal(t, ThinkingOfYouMessage, n.Message)
	assert.False(t, n.Read)

	f.svc.Wait()
	f.sender.mu.Lock()
	pushed := f.sender.sent["bob-device"]
	f.sender.mu.Unlock()
	require.NotNil(t, pushed)
	assert.Equal(t, n.ID, pushed.ID)

	list, err := f.svc.List(ctx, f.bob.ID, true)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, n.ID, list[0].ID)

	live := f.events.of("notification")
	require.Len(t, live, 1)
	assert.Equal(t, f.bob.ID, live[0].userID)
}

func TestSend_OnlyBetweenPartners(t *testing.T) {
	ctx := context.Background()
	f := newNotificationFixture(t, &fakeSender{})

	_, err := f.svc.SendThinkingOfYou(ctx, f.carol.ID, f.bob.ID, "Carol")
	assert.ErrorIs(t, err, ErrUnauthorized)
	_, err = f.svc.SendThinkingOfYou(ctx, f.alice.ID, f.carol.ID, "Alice")
	assert.ErrorIs(t, err, ErrUnauthorized)
	_, err = f.svc.SendThinkingOfYou(ctx, f.alice.ID, f.alice.ID, "Alice")
	assert.ErrorIs(t, err, ErrInvalidInput)
	_, err = f.svc.Send(ctx, f.alice.ID, f.bob.ID, "Alice", "   ")
	assert.ErrorIs(t, err, ErrInvalidInput)

	list, err := f.svc.List(ctx, f.bob.ID, false)
	require.NoError(t, err)
	assert.Empty(t, list)
}

func TestSend_PushFailureIsNotReturned(t *testing.T) {
	ctx := context.Background()
	f := newNotificationFixture(t, &fakeSender{err: errors.New("apns down"), delay: 10 * time.Millisecond})
	require.NoError(t, f.store.UpdatePushToken(ctx, f.bob.ID, strPtr("bob-device")))

	n, err := f.svc.Send(ctx, f.alice.ID, f.bob.ID, "Alice", "dinner at 8?")
	require.NoError(t, err)
	assert.NotEmpty(t, n.ID)

	f.svc.Wait()
	assert.Equal(t, 1, f.sender.count())
}

func TestSend_NoPushTokenSkipsDelivery(t *testing.T) {
	ctx := context.Background()
	f := newNotificationFixture(t, &fakeSender{})

	_, err := f.svc.SendThinkingOfYou(ctx, f.bob.ID, f.alice.ID, "Bob")
	require.NoError(t, err)

	f.svc.Wait()
	assert.Zero(t, f.sender.count())
}

func TestMarkRead(t *testing.T) {
	ctx := context.Background()
	f := newNotificationFixture(t, &fakeSender{})

	n, err := f.svc.SendThinkingOfYou(ctx, f.alice.ID, f.bob.ID, "Alice")
	require.NoError(t, err)

	assert.ErrorIs(t, f.svc.MarkRead(ctx, f.alice.ID, n.ID), ErrUnauthorized)
	assert.ErrorIs(t, f.svc.MarkRead(ctx, f.bob.ID, "missing"), ErrNotFound)
	require.NoError(t, f.svc.MarkRead(ctx, f.bob.ID, n.ID))

	unread, err := f.svc.List(ctx, f.bob.ID, true)
	require.NoError(t, err)
	assert.Empty(t, unread)

	all, err := f.svc.List(ctx, f.bob.ID, false)
	require.NoError(t, err)
	require.Len(t, all, 1)
	assert.True(t, all[0].Read)
}
