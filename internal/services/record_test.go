package services

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"couple-sync-backend/internal/models"
	"couple-sync-backend/internal/pubsub"
	"couple-sync-backend/internal/repository/memstore"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordFixture struct {
	store  *memstore.Store
	broker *pubsub.Local
	svc    *RecordService
	clock  *testClock
	alice  *models.UserProfile
	bob    *models.UserProfile
	carol  *models.UserProfile
}

func newRecordFixture(t *testing.T) *recordFixture {
	t.Helper()
	store := memstore.New()
	broker := pubsub.NewLocal()
	clock := newClock()
	svc := NewRecordService(store, broker)
	svc.now = clock.Now

	f := &recordFixture{
		store:  store,
		broker: broker,
		svc:    svc,
		clock:  clock,
		alice:  mustCreateUser(t, store, "alice"),
		bob:    mustCreateUser(t, store, "bob"),
		carol:  mustCreateUser(t, store, "carol"),
	}
	mustPair(t, store, f.alice, f.bob)
	return f
}

// changeLog collects subscription callbacks
type changeLog struct {
	mu      sync.Mutex
	changes []*models.CoupleRecord
	notify  chan struct{}
}

func newChangeLog() *changeLog {
	return &changeLog{notify: make(chan struct{}, 64)}
}

func (c *changeLog) onChange(rec *models.CoupleRecord) {
	c.mu.Lock()
	c.changes = append(c.changes, rec)
	c.mu.Unlock()
	c.notify <- struct{}{}
}

func (c *changeLog) wait(t *testing.T) *models.CoupleRecord {
	t.Helper()
	select {
	case <-c.notify:
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for change")
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.changes[len(c.changes)-1]
}

func (c *changeLog) len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.changes)
}

func TestRecord_SetGetIsOrderIndependent(t *testing.T) {
	ctx := context.Background()
	f := newRecordFixture(t)

	payload := map[string]any{"date": "2026-06-01", "city": "Lisbon"}
	set, err := f.svc.Set(ctx, f.alice.ID, FeatureReunion, f.alice.ID, f.bob.ID, payload)
	require.NoError(t, err)
	assert.Equal(t, f.alice.ID, set.SetBy)

	got, err := f.svc.Get(ctx, f.bob.ID, FeatureReunion, f.bob.ID, f.alice.ID)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, payload, got.Payload)
	assert.Equal(t, f.alice.ID, got.SetBy)
}

func TestRecord_GetAbsentReturnsNil(t *testing.T) {
	f := newRecordFixture(t)
	got, err := f.svc.Get(context.Background(), f.alice.ID, FeatureDateNight, f.alice.ID, f.bob.ID)
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestRecord_SetOverwritesAndKeepsCreatedAt(t *testing.T) {
	ctx := context.Background()
	f := newRecordFixture(t)

	first, err := f.svc.Set(ctx, f.alice.ID, FeatureBucketList, f.alice.ID, f.bob.ID, map[string]any{"items": []any{"paris"}})
	require.NoError(t, err)

	// Clock does not move: updated_at must still advance.
	second, err := f.svc.Set(ctx, f.bob.ID, FeatureBucketList, f.alice.ID, f.bob.ID, map[string]any{"done": true})
	require.NoError(t, err)

	assert.Equal(t, first.CreatedAt, second.CreatedAt)
	assert.True(t, second.UpdatedAt.After(first.UpdatedAt))
	assert.Equal(t, f.bob.ID, second.SetBy)
	assert.Equal(t, map[string]any{"done": true}, second.Payload)

	f.clock.Advance(time.Minute)
	third, err := f.svc.Set(ctx, f.alice.ID, FeatureBucketList, f.alice.ID, f.bob.ID, map[string]any{"done": false})
	require.NoError(t, err)
	assert.Equal(t, f.clock.Now(), third.UpdatedAt)
}

func TestRecord_Delete(t *testing.T) {
	ctx := context.Background()
	f := newRecordFixture(t)

	assert.ErrorIs(t, f.svc.Delete(ctx, f.alice.ID, FeatureAnniversary, f.alice.ID, f.bob.ID), ErrNotFound)

	_, err := f.svc.Set(ctx, f.alice.ID, FeatureAnniversary, f.alice.ID, f.bob.ID, map[string]any{"date": "2020-02-14"})
	require.NoError(t, err)
	require.NoError(t, f.svc.Delete(ctx, f.bob.ID, FeatureAnniversary, f.bob.ID, f.alice.ID))

	got, err := f.svc.Get(ctx, f.alice.ID, FeatureAnniversary, f.alice.ID, f.bob.ID)
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestRecord_Authorization(t *testing.T) {
	ctx := context.Background()
	f := newRecordFixture(t)
	dave := mustCreateUser(t, f.store, "dave")

	tests := []struct {
		name    string
		actor   string
		feature string
		a, b    string
		want    error
	}{
		{"outsider reads couple", f.carol.ID, FeatureReunion, f.alice.ID, f.bob.ID, ErrUnauthorized},
		{"member names a non-partner", f.alice.ID, FeatureReunion, f.alice.ID, f.carol.ID, ErrUnauthorized},
		{"two unpaired users", f.carol.ID, FeatureReunion, f.carol.ID, dave.ID, ErrUnauthorized},
		{"same user twice", f.alice.ID, FeatureReunion, f.alice.ID, f.alice.ID, ErrInvalidInput},
		{"empty id", f.alice.ID, FeatureReunion, f.alice.ID, "", ErrInvalidInput},
		{"unknown feature", f.alice.ID, "horoscope", f.alice.ID, f.bob.ID, ErrUnknownFeature},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.svc.Get(ctx, tt.actor, tt.feature, tt.a, tt.b)
			assert.ErrorIs(t, err, tt.want)
			_, err = f.svc.Set(ctx, tt.actor, tt.feature, tt.a, tt.b, map[string]any{"x": 1})
			assert.ErrorIs(t, err, tt.want)
			_, err = f.svc.Subscribe(ctx, tt.actor, tt.feature, tt.a, tt.b, func(*models.CoupleRecord) {})
			assert.ErrorIs(t, err, tt.want)
		})
	}
}

func TestRecord_SetRequiresPayload(t *testing.T) {
	f := newRecordFixture(t)
	_, err := f.svc.Set(context.Background(), f.alice.ID, FeatureReunion, f.alice.ID, f.bob.ID, nil)
	assert.ErrorIs(t, err, ErrInvalidInput)
}

func TestRecord_SubscribeDeliversCurrentThenChanges(t *testing.T) {
	ctx := context.Background()
	f := newRecordFixture(t)

	log := newChangeLog()
	cancel, err := f.svc.Subscribe(ctx, f.bob.ID, FeatureDailyAnswers, f.bob.ID, f.alice.ID, log.onChange)
	require.NoError(t, err)
	defer cancel()

	assert.Nil(t, log.wait(t))

	_, err = f.svc.Set(ctx, f.alice.ID, FeatureDailyAnswers, f.alice.ID, f.bob.ID, map[string]any{"q1": "yes"})
	require.NoError(t, err)
	rec := log.wait(t)
	require.NotNil(t, rec)
	assert.Equal(t, "yes", rec.Payload["q1"])
	assert.Equal(t, f.alice.ID, rec.SetBy)

	require.NoError(t, f.svc.Delete(ctx, f.alice.ID, FeatureDailyAnswers, f.alice.ID, f.bob.ID))
	assert.Nil(t, log.wait(t))
}

func TestRecord_SubscribeSeesExistingRecord(t *testing.T) {
	ctx := context.Background()
	f := newRecordFixture(t)

	_, err := f.svc.Set(ctx, f.alice.ID, FeatureReunion, f.alice.ID, f.bob.ID, map[string]any{"city": "Rome"})
	require.NoError(t, err)

	log := newChangeLog()
	cancel, err := f.svc.Subscribe(ctx, f.alice.ID, FeatureReunion, f.alice.ID, f.bob.ID, log.onChange)
	require.NoError(t, err)
	defer cancel()

	rec := log.wait(t)
	require.NotNil(t, rec)
	assert.Equal(t, "Rome", rec.Payload["city"])
}

func TestRecord_NoCallbackAfterCancel(t *testing.T) {
	ctx := context.Background()
	f := newRecordFixture(t)

	var calls atomic.Int32
	var cancelled atomic.Bool
	cancel, err := f.svc.Subscribe(ctx, f.alice.ID, FeatureReunion, f.alice.ID, f.bob.ID, func(*models.CoupleRecord) {
		if cancelled.Load() {
			t.Error("callback after cancel returned")
		}
		calls.Add(1)
	})
	require.NoError(t, err)

	assert.Eventually(t, func() bool { return calls.Load() == 1 }, time.Second, time.Millisecond)

	cancel()
	cancelled.Store(true)
	cancel()

	for i := 0; i < 5; i++ {
		_, err := f.svc.Set(ctx, f.bob.ID, FeatureReunion, f.alice.ID, f.bob.ID, map[string]any{"n": i})
		require.NoError(t, err)
	}
	time.Sleep(20 * time.Millisecond)
	assert.EqualValues(t, 1, calls.Load())

	topic := recordTopic(FeatureReunion, mustKey(t, f.alice.ID, f.bob.ID))
	assert.Equal(t, 0, f.broker.Subscribers(topic))
}

func TestRecord_ContextCancelEndsSubscription(t *testing.T) {
	f := newRecordFixture(t)
	ctx, cancelCtx := context.WithCancel(context.Background())

	log := newChangeLog()
	cancel, err := f.svc.Subscribe(ctx, f.alice.ID, FeatureReunion, f.alice.ID, f.bob.ID, log.onChange)
	require.NoError(t, err)
	defer cancel()
	log.wait(t)

	cancelCtx()
	topic := recordTopic(FeatureReunion, mustKey(t, f.alice.ID, f.bob.ID))
	assert.Eventually(t, func() bool { return f.broker.Subscribers(topic) == 0 }, time.Second, time.Millisecond)
}

func TestRecord_CouplesAreIsolated(t *testing.T) {
	ctx := context.Background()
	f := newRecordFixture(t)
	dave := mustCreateUser(t, f.store, "dave")
	mustPair(t, f.store, f.carol, dave)

	_, err := f.svc.Set(ctx, f.alice.ID, FeatureReunion, f.alice.ID, f.bob.ID, map[string]any{"city": "Oslo"})
	require.NoError(t, err)

	got, err := f.svc.Get(ctx, f.carol.ID, FeatureReunion, f.carol.ID, dave.ID)
	require.NoError(t, err)
	assert.Nil(t, got)
}

// gatedBroker holds the first Publish after arm until release is closed
type gatedBroker struct {
	*pubsub.Local
	mu      sync.Mutex
	armed   bool
	blocked chan struct{}
	release chan struct{}
}

func newGatedBroker() *gatedBroker {
	return &gatedBroker{
		Local:   pubsub.NewLocal(),
		blocked: make(chan struct{}),
		release: make(chan struct{}),
	}
}

func (g *gatedBroker) arm() {
	g.mu.Lock()
	g.armed = true
	g.mu.Unlock()
}

func (g *gatedBroker) Publish(ctx context.Context, topic string, payload []byte) error {
	g.mu.Lock()
	hold := g.armed
	g.armed = false
	g.mu.Unlock()
	if hold {
		close(g.blocked)
		<-g.release
	}
	return g.Local.Publish(ctx, topic, payload)
}

func TestRecord_LateOlderPublishDoesNotRegress(t *testing.T) {
	tests := []struct {
		name   string
		second func(f *recordFixture, svc *RecordService) error
		want   func(t *testing.T, rec *models.CoupleRecord)
	}{
		{
			name: "newer set wins",
			second: func(f *recordFixture, svc *RecordService) error {
				_, err := svc.Set(context.Background(), f.bob.ID, FeatureReunion, f.alice.ID, f.bob.ID, map[string]any{"city": "second"})
				return err
			},
			want: func(t *testing.T, rec *models.CoupleRecord) {
				require.NotNil(t, rec)
				assert.Equal(t, "second", rec.Payload["city"])
			},
		},
		{
			name: "delete wins",
			second: func(f *recordFixture, svc *RecordService) error {
				return svc.Delete(context.Background(), f.bob.ID, FeatureReunion, f.alice.ID, f.bob.ID)
			},
			want: func(t *testing.T, rec *models.CoupleRecord) {
				assert.Nil(t, rec)
			},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctx := context.Background()
			f := newRecordFixture(t)
			broker := newGatedBroker()
			svc := NewRecordService(f.store, broker)
			svc.now = f.clock.Now

			_, err := svc.Set(ctx, f.alice.ID, FeatureReunion, f.alice.ID, f.bob.ID, map[string]any{"city": "initial"})
			require.NoError(t, err)
			broker.arm()

			log := newChangeLog()
			cancel, err := svc.Subscribe(ctx, f.alice.ID, FeatureReunion, f.alice.ID, f.bob.ID, log.onChange)
			require.NoError(t, err)
			defer cancel()
			initial := log.wait(t)
			require.NotNil(t, initial)
			assert.Equal(t, "initial", initial.Payload["city"])

			firstDone := make(chan error, 1)
			go func() {
				_, err := svc.Set(ctx, f.alice.ID, FeatureReunion, f.alice.ID, f.bob.ID, map[string]any{"city": "first"})
				firstDone <- err
			}()
			<-broker.blocked

			f.clock.Advance(time.Second)
			require.NoError(t, tt.second(f, svc))
			tt.want(t, log.wait(t))

			close(broker.release)
			require.NoError(t, <-firstDone)
			time.Sleep(20 * time.Millisecond)

			assert.Equal(t, 2, log.len())
			log.mu.Lock()
			last := log.changes[len(log.changes)-1]
			log.mu.Unlock()
			tt.want(t, last)

			stored, err := svc.Get(ctx, f.alice.ID, FeatureReunion, f.alice.ID, f.bob.ID)
			require.NoError(t, err)
			tt.want(t, stored)
		})
	}
}

func TestRecord_SubscribeAfterStaleAnnouncementEndsOnStoredState(t *testing.T) {
	ctx := context.Background()
	f := newRecordFixture(t)

	_, err := f.svc.Set(ctx, f.alice.ID, FeatureReunion, f.alice.ID, f.bob.ID, map[string]any{"city": "old"})
	require.NoError(t, err)
	f.clock.Advance(time.Second)
	_, err = f.svc.Set(ctx, f.alice.ID, FeatureReunion, f.alice.ID, f.bob.ID, map[string]any{"city": "new"})
	require.NoError(t, err)

	log := newChangeLog()
	cancel, err := f.svc.Subscribe(ctx, f.bob.ID, FeatureReunion, f.alice.ID, f.bob.ID, log.onChange)
	require.NoError(t, err)
	defer cancel()
	rec := log.wait(t)
	require.NotNil(t, rec)
	assert.Equal(t, "new", rec.Payload["city"])

	// Replay an announcement for the overwritten value.
	topic := recordTopic(FeatureReunion, mustKey(t, f.alice.ID, f.bob.ID))
	old := &models.CoupleRecord{Feature: FeatureReunion, Payload: map[string]any{"city": "old"}, UpdatedAt: rec.UpdatedAt.Add(-time.Second)}
	f.svc.publish(ctx, FeatureReunion, mustKey(t, f.alice.ID, f.bob.ID), recordChange{Record: old, Version: old.UpdatedAt})
	time.Sleep(20 * time.Millisecond)

	assert.Equal(t, 1, log.len())
	assert.Equal(t, 1, f.broker.Subscribers(topic))
}
