package services

import (
	"context"
	"sync"
	"testing"
	"time"

	"couple-sync-backend/internal/couple"
	"couple-sync-backend/internal/models"
	"couple-sync-backend/internal/repository/memstore"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type testClock struct {
	mu sync.Mutex
	t  time.Time
}

func newClock() *testClock {
	return &testClock{t: time.Now().UTC().Truncate(time.Second)}
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

type event struct {
	kind   string
	userID string
	data   interface{}
}

// recordingEvents captures hub notifications
type recordingEvents struct {
	mu     sync.Mutex
	events []event
}

func (r *recordingEvents) add(kind, userID string, data interface{}) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, event{kind: kind, userID: userID, data: data})
}

func (r *recordingEvents) NotifyPairCreated(userID string, conn *models.PartnerConnection) {
	r.add("pair_created", userID, conn)
}

func (r *recordingEvents) NotifyPairDeleted(userID string) {
	r.add("pair_deleted", userID, nil)
}

func (r *recordingEvents) NotifyFeedPost(userID string, post *models.FeedPost) {
	r.add("feed_post", userID, post)
}

func (r *recordingEvents) NotifyNotification(userID string, n *models.Notification) {
	r.add("notification", userID, n)
}

func (r *recordingEvents) of(kind string) []event {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []event
	for _, e := range r.events {
		if e.kind == kind {
			out = append(out, e)
		}
	}
	return out
}

func mustCreateUser(t *testing.T, store *memstore.Store, name string) *models.UserProfile {
	t.Helper()
	now := time.Now()
	u := &models.UserProfile{
		ID:          uuid.NewString(),
		DisplayName: name,
		Email:       name + "@example.com",
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	require.NoError(t, store.CreateUser(context.Background(), u))
	return u
}

func newPairService(store *memstore.Store, clock *testClock) (*PairService, *recordingEvents) {
	events := &recordingEvents{}
	svc := NewPairService(store, events, 24*time.Hour, 5*time.Second)
	svc.now = clock.Now
	return svc, events
}

// mustPair links a and b through an invite
func mustPair(t *testing.T, store *memstore.Store, a, b *models.UserProfile) {
	t.Helper()
	svc, _ := newPairService(store, newClock())
	svc.now = time.Now
	conn, err := svc.CreateInvite(context.Background(), a.ID)
	require.NoError(t, err)
	_, err = svc.RedeemInvite(context.Background(), b.ID, conn.PartnerCode)
	require.NoError(t, err)
}

func strPtr(s string) *string { return &s }

func mustKey(t *testing.T, a, b string) couple.Key {
	t.Helper()
	key, err := couple.NewKey(a, b)
	require.NoError(t, err)
	return key
}
