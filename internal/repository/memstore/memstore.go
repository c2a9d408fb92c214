// Package memstore is an in-process implementation of repository.Store used
// for local development and tests. State is lost when the process exits.
package memstore

import (
	"context"
	"fmt"
	"maps"
	"sort"
	"strings"
	"sync"
	"time"

	"couple-sync-backend/internal/couple"
	"couple-sync-backend/internal/models"
	"couple-sync-backend/internal/repository"
)

type recordID struct {
	feature string
	key     couple.Key
}

// Store keeps every collection in maps guarded by one mutex
type Store struct {
	mu            sync.Mutex
	users         map[string]*models.UserProfile
	connections   map[string]*models.PartnerConnection
	records       map[recordID]*models.CoupleRecord
	posts         map[string]*models.FeedPost
	notifications map[string]*models.Notification
}

var _ repository.Store = (*Store)(nil)

// New creates an empty store
func New() *Store {
	return &Store{
		users:         make(map[string]*models.UserProfile),
		connections:   make(map[string]*models.PartnerConnection),
		records:       make(map[recordID]*models.CoupleRecord),
		posts:         make(map[string]*models.FeedPost),
		notifications: make(map[string]*models.Notification),
	}
}

// Ping always succeeds
func (s *Store) Ping(ctx context.Context) error { return ctx.Err() }

// Close is a no-op
func (s *Store) Close() {}

func notFound(what string) error {
	return fmt.Errorf("%s: %w", what, repository.ErrNotFound)
}

func copyUser(u *models.UserProfile) *models.UserProfile {
	c := *u
	c.PhotoURL = copyStr(u.PhotoURL)
	c.PartnerID = copyStr(u.PartnerID)
	c.PartnerCode = copyStr(u.PartnerCode)
	c.PushToken = copyStr(u.PushToken)
	return &c
}

func copyConnection(conn *models.PartnerConnection) *models.PartnerConnection {
	c := *conn
	c.Partner2ID = copyStr(conn.Partner2ID)
	if conn.ConnectedAt != nil {
		t := *conn.ConnectedAt
		c.ConnectedAt = &t
	}
	return &c
}

func copyStr(s *string) *string {
	if s == nil {
		return nil
	}
	v := *s
	return &v
}

// Users

func (s *Store) CreateUser(ctx context.Context, user *models.UserProfile) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.users[user.ID]; ok {
		return fmt.Errorf("user %s: %w", user.ID, repository.ErrDuplicate)
	}
	for _, u := range s.users {
		if strings.EqualFold(u.Email, user.Email) {
			return fmt.Errorf("email %s: %w", user.Email, repository.ErrDuplicate)
		}
	}
	s.users[user.ID] = copyUser(user)
	return nil
}

func (s *Store) GetUser(ctx context.Context, id string) (*models.UserProfile, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[id]
	if !ok {
		return nil, notFound("user " + id)
	}
	return copyUser(u), nil
}

func (s *Store) UpdateProfile(ctx context.Context, id string, displayName, photoURL *string, now time.Time) (*models.UserProfile, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[id]
	if !ok {
		return nil, notFound("user " + id)
	}
	if displayName != nil {
		u.DisplayName = *displayName
	}
	if photoURL != nil {
		u.PhotoURL = copyStr(photoURL)
	}
	u.UpdatedAt = now
	return copyUser(u), nil
}

func (s *Store) UpdatePushToken(ctx context.Context, id string, pushToken *string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[id]
	if !ok {
		return notFound("user " + id)
	}
	u.PushToken = copyStr(pushToken)
	return nil
}

// Connections

func (s *Store) RunInTx(ctx context.Context, fn func(tx repository.PairingTx) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx := &memTx{s: s}
	if err := fn(tx); err != nil {
		tx.rollback()
		return err
	}
	if err := ctx.Err(); err != nil {
		tx.rollback()
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

func (s *Store) GetPendingByInviter(ctx context.Context, userID string) (*models.PartnerConnection, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var latest *models.PartnerConnection
	for _, c := range s.connections {
		if c.Partner1ID == userID && c.Status == models.ConnectionPending {
			if latest == nil || c.CreatedAt.After(latest.CreatedAt) {
				latest = c
			}
		}
	}
	if latest == nil {
		return nil, notFound("pending connection")
	}
	return copyConnection(latest), nil
}

func (s *Store) DeleteExpiredPending(ctx context.Context, cutoff time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int64
	for id, c := range s.connections {
		if c.Status != models.ConnectionPending || !c.CreatedAt.Before(cutoff) {
			continue
		}
		if u, ok := s.users[c.Partner1ID]; ok && u.PartnerCode != nil && *u.PartnerCode == c.PartnerCode {
			u.PartnerCode = nil
		}
		delete(s.connections, id)
		n++
	}
	return n, nil
}

// Records

func (s *Store) GetRecord(ctx context.Context, feature string, key couple.Key) (*models.CoupleRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.records[recordID{feature, key}]
	if !ok {
		return nil, notFound(feature + " record")
	}
	return copyRecord(rec), nil
}

func (s *Store) PutRecord(ctx context.Context, rec *models.CoupleRecord) (*models.CoupleRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	id := recordID{rec.Feature, couple.Key{Low: rec.UserLow, High: rec.UserHigh}}
	stored := copyRecord(rec)
	stored.CreatedAt = rec.UpdatedAt
	if prev, ok := s.records[id]; ok {
		stored.CreatedAt = prev.CreatedAt
		if !stored.UpdatedAt.After(prev.UpdatedAt) {
			stored.UpdatedAt = prev.UpdatedAt.Add(time.Microsecond)
		}
	}
	s.records[id] = stored
	return copyRecord(stored), nil
}

func (s *Store) DeleteRecord(ctx context.Context, feature string, key couple.Key) (time.Time, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	id := recordID{feature, key}
	rec, ok := s.records[id]
	if !ok {
		return time.Time{}, notFound(feature + " record")
	}
	delete(s.records, id)
	return rec.UpdatedAt, nil
}

func copyRecord(rec *models.CoupleRecord) *models.CoupleRecord {
	c := *rec
	c.Payload = maps.Clone(rec.Payload)
	return &c
}

// Feed

func (s *Store) CreatePost(ctx context.Context, post *models.FeedPost) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.posts[post.ID]; ok {
		return fmt.Errorf("post %s: %w", post.ID, repository.ErrDuplicate)
	}
	c := copyPost(post)
	c.Reactions = []*models.Reaction{}
	c.Comments = []*models.Comment{}
	s.posts[post.ID] = c
	return nil
}

func (s *Store) GetPost(ctx context.Context, id string) (*models.FeedPost, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.posts[id]
	if !ok {
		return nil, notFound("post " + id)
	}
	return copyPost(p), nil
}

func (s *Store) ListPosts(ctx context.Context, key couple.Key, limit, offset int) ([]*models.FeedPost, int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var all []*models.FeedPost
	for _, p := range s.posts {
		if p.UserLow == key.Low && p.UserHigh == key.High {
			all = append(all, p)
		}
	}
	sort.Slice(all, func(i, j int) bool { return all[i].CreatedAt.After(all[j].CreatedAt) })

	total := len(all)
	out := []*models.FeedPost{}
	for i := offset; i < total && len(out) < limit; i++ {
		out = append(out, copyPost(all[i]))
	}
	return out, total, nil
}

func (s *Store) DeletePost(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.posts[id]; !ok {
		return notFound("post " + id)
	}
	delete(s.posts, id)
	return nil
}

func (s *Store) UpsertReaction(ctx context.Context, reaction *models.Reaction) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.posts[reaction.PostID]
	if !ok {
		return notFound("post " + reaction.PostID)
	}
	r := *reaction
	for i, existing := range p.Reactions {
		if existing.UserID == reaction.UserID {
			p.Reactions[i] = &r
			return nil
		}
	}
	p.Reactions = append(p.Reactions, &r)
	return nil
}

func (s *Store) DeleteReaction(ctx context.Context, postID, userID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.posts[postID]
	if !ok {
		return nil
	}
	kept := p.Reactions[:0]
	for _, r := range p.Reactions {
		if r.UserID != userID {
			kept = append(kept, r)
		}
	}
	p.Reactions = kept
	return nil
}

func (s *Store) CreateComment(ctx context.Context, comment *models.Comment) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.posts[comment.PostID]
	if !ok {
		return notFound("post " + comment.PostID)
	}
	c := *comment
	p.Comments = append(p.Comments, &c)
	return nil
}

func copyPost(p *models.FeedPost) *models.FeedPost {
	c := *p
	c.MediaKey = copyStr(p.MediaKey)
	c.MediaURL = copyStr(p.MediaURL)
	if p.Music != nil {
		m := *p.Music
		c.Music = &m
	}
	c.Reactions = make([]*models.Reaction, 0, len(p.Reactions))
	for _, r := range p.Reactions {
		rc := *r
		c.Reactions = append(c.Reactions, &rc)
	}
	c.Comments = make([]*models.Comment, 0, len(p.Comments))
	for _, cm := range p.Comments {
		cc := *cm
		c.Comments = append(c.Comments, &cc)
	}
	return &c
}

// Notifications

func (s *Store) CreateNotification(ctx context.Context, n *models.Notification) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	c := *n
	s.notifications[n.ID] = &c
	return nil
}

func (s *Store) GetNotification(ctx context.Context, id string) (*models.Notification, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n, ok := s.notifications[id]
	if !ok {
		return nil, notFound("notification " + id)
	}
	c := *n
	return &c, nil
}

func (s *Store) ListNotifications(ctx context.Context, toUserID string, unreadOnly bool, limit int) ([]*models.Notification, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var all []*models.Notification
	for _, n := range s.notifications {
		if n.ToUserID != toUserID || (unreadOnly && n.Read) {
			continue
		}
		c := *n
		all = append(all, &c)
	}
	sort.Slice(all, func(i, j int) bool { return all[i].Timestamp.After(all[j].Timestamp) })
	if len(all) > limit {
		all = all[:limit]
	}
	if all == nil {
		all = []*models.Notification{}
	}
	return all, nil
}

func (s *Store) MarkRead(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	n, ok := s.notifications[id]
	if !ok {
		return notFound("notification " + id)
	}
	n.Read = true
	return nil
}
