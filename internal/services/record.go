package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"couple-sync-backend/internal/couple"
	"couple-sync-backend/internal/metrics"
	"couple-sync-backend/internal/models"
	"couple-sync-backend/internal/pubsub"
	"couple-sync-backend/internal/repository"

	"github.com/rs/zerolog/log"
)

// Couple-scoped features. Each couple has at most one record per feature.
const (
	FeatureReunion      = "reunion"
	FeatureDateNight    = "date_night"
	FeatureAnniversary  = "anniversary"
	FeatureDailyAnswers = "daily_answers"
	FeatureBucketList   = "bucket_list"
)

var features = map[string]bool{
	FeatureReunion:      true,
	FeatureDateNight:    true,
	FeatureAnniversary:  true,
	FeatureDailyAnswers: true,
	FeatureBucketList:   true,
}

// IsFeature reports whether name is a known couple-scoped feature
func IsFeature(name string) bool {
	return features[name]
}

// RecordStore is the persistence RecordService needs
type RecordStore interface {
	repository.UserStore
	repository.RecordStore
}

// RecordService reads, writes and watches couple-scoped records
type RecordService struct {
	store  RecordStore
	broker pubsub.Broker
	now    func() time.Time
}

// NewRecordService creates a new record service
func NewRecordService(store RecordStore, broker pubsub.Broker) *RecordService {
	return &RecordService{store: store, broker: broker, now: time.Now}
}

// recordChange is the broker payload for a record update; a nil Record means
// deleted. Version orders changes to one record: a set carries the stored
// UpdatedAt, a delete one microsecond past the removed record's.
type recordChange struct {
	Record  *models.CoupleRecord `json:"record"`
	Version time.Time            `json:"version"`
}

func recordTopic(feature string, key couple.Key) string {
	return "record:" + feature + ":" + key.String()
}

// authorize checks that actor is one of idA/idB and that the two are linked
func (s *RecordService) authorize(ctx context.Context, actor, feature, idA, idB string) (couple.Key, error) {
	if !IsFeature(feature) {
		return couple.Key{}, fmt.Errorf("%w: %q", ErrUnknownFeature, feature)
	}
	key, err := couple.NewKey(idA, idB)
	if err != nil {
		return couple.Key{}, fmt.Errorf("%w: %w", ErrInvalidInput, err)
	}
	if !key.Contains(actor) {
		return couple.Key{}, ErrUnauthorized
	}
	return coupleOf(ctx, s.store, actor, key.Other(actor))
}

// Get returns the couple's record for feature, or nil if none exists
func (s *RecordService) Get(ctx context.Context, actor, feature, idA, idB string) (*models.CoupleRecord, error) {
	key, err := s.authorize(ctx, actor, feature, idA, idB)
	if err != nil {
		return nil, err
	}
	rec, err := s.store.GetRecord(ctx, feature, key)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, storeErr("failed to get record", err)
	}
	return rec, nil
}

// Set overwrites the couple's record with payload
func (s *RecordService) Set(ctx context.Context, actor, feature, idA, idB string, payload map[string]any) (*models.CoupleRecord, error) {
	key, err := s.authorize(ctx, actor, feature, idA, idB)
	if err != nil {
		return nil, err
	}
	if payload == nil {
		return nil, fmt.Errorf("%w: payload is required", ErrInvalidInput)
	}

	now := s.now()
	stored, err := s.store.PutRecord(ctx, &models.CoupleRecord{
		Feature:   feature,
		UserLow:   key.Low,
		UserHigh:  key.High,
		Payload:   payload,
		SetBy:     actor,
		CreatedAt: now,
		UpdatedAt: now,
	})
	if err != nil {
		return nil, storeErr("failed to set record", err)
	}

	s.publish(ctx, feature, key, recordChange{Record: stored, Version: stored.UpdatedAt})
	return stored, nil
}

// Delete removes the couple's record for feature
func (s *RecordService) Delete(ctx context.Context, actor, feature, idA, idB string) error {
	key, err := s.authorize(ctx, actor, feature, idA, idB)
	if err != nil {
		return err
	}
	removedAt, err := s.store.DeleteRecord(ctx, feature, key)
	if err != nil {
		return storeErr("failed to delete record", err)
	}
	s.publish(ctx, feature, key, recordChange{Version: removedAt.Add(time.Microsecond)})
	return nil
}

func (s *RecordService) publish(ctx context.Context, feature string, key couple.Key, change recordChange) {
	data, err := json.Marshal(change)
	if err != nil {
		log.Error().Err(err).Str("feature", feature).Msg("Failed to encode record change")
		return
	}
	if err := s.broker.Publish(ctx, recordTopic(feature, key), data); err != nil {
		// The write is committed; subscribers catch up on their next change.
		log.Error().Err(err).Str("feature", feature).Str("couple", key.String()).Msg("Failed to publish record change")
	}
}

// Subscribe calls onChange with the current record (nil when absent) and
// then with every later change until the returned cancel is called or ctx
// ends. No call to onChange starts after cancel returns. onChange runs on
// its own goroutine and must not call cancel itself.
func (s *RecordService) Subscribe(ctx context.Context, actor, feature, idA, idB string, onChange func(*models.CoupleRecord)) (func(), error) {
	key, err := s.authorize(ctx, actor, feature, idA, idB)
	if err != nil {
		return nil, err
	}

	// Subscribe before reading so a change between the read and the
	// subscription cannot be lost.
	sub := s.broker.Subscribe(recordTopic(feature, key))

	current, err := s.store.GetRecord(ctx, feature, key)
	if err != nil && !errors.Is(err, repository.ErrNotFound) {
		sub.Close()
		return nil, storeErr("failed to load record", err)
	}
	initial := recordChange{Record: current}
	if current != nil {
		initial.Version = current.UpdatedAt
	}

	w := &watcher{
		store:    s.store,
		key:      key,
		sub:      sub,
		onChange: onChange,
		feature:  feature,
	}
	metrics.ActiveSubscriptions.WithLabelValues(feature).Inc()
	go w.run(ctx, initial)
	return w.cancel, nil
}

type watcher struct {
	store    repository.RecordStore
	key      couple.Key
	sub      *pubsub.Subscription
	onChange func(*models.CoupleRecord)
	feature  string

	// State of the last delivery. Only run touches these.
	last      time.Time
	lastNil   bool
	delivered bool

	mu     sync.Mutex
	closed bool
}

func (w *watcher) run(ctx context.Context, initial recordChange) {
	w.apply(initial)
	for {
		select {
		case <-w.sub.Done():
			return
		case <-ctx.Done():
			w.cancel()
			return
		case <-w.sub.Ready():
			data, ok := w.sub.Take()
			if !ok {
				continue
			}
			var hint recordChange
			if err := json.Unmarshal(data, &hint); err != nil {
				log.Error().Err(err).Str("feature", w.feature).Msg("Failed to decode record change")
				continue
			}
			if w.delivered && !hint.Version.After(w.last) {
				continue
			}
			w.apply(w.reload(ctx, hint))
		}
	}
}

// reload reads the stored record after a change was announced. Publishes for
// one record can arrive out of order, so the store is the source of truth;
// the announced change is only used when the read fails.
func (w *watcher) reload(ctx context.Context, hint recordChange) recordChange {
	rec, err := w.store.GetRecord(ctx, w.feature, w.key)
	switch {
	case errors.Is(err, repository.ErrNotFound):
		return recordChange{Version: hint.Version}
	case err != nil:
		log.Warn().Err(err).Str("feature", w.feature).Str("couple", w.key.String()).Msg("Failed to reload record, using announced change")
		return hint
	}
	version := rec.UpdatedAt
	if hint.Version.After(version) {
		version = hint.Version
	}
	return recordChange{Record: rec, Version: version}
}

// apply delivers change unless it is not newer than the last delivery or
// repeats a deletion
func (w *watcher) apply(change recordChange) {
	if w.delivered {
		if !change.Version.After(w.last) {
			return
		}
		if change.Record == nil && w.lastNil {
			w.last = change.Version
			return
		}
	}
	w.last = change.Version
	w.lastNil = change.Record == nil
	w.delivered = true
	w.deliver(change.Record)
}

func (w *watcher) deliver(rec *models.CoupleRecord) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return
	}
	w.onChange(rec)
}

func (w *watcher) cancel() {
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return
	}
	w.closed = true
	w.mu.Unlock()

	w.sub.Close()
	metrics.ActiveSubscriptions.WithLabelValues(w.feature).Dec()
}
