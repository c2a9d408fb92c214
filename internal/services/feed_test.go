package services

import (
	"context"
	"strings"
	"testing"
	"time"

	"couple-sync-backend/internal/models"
	"couple-sync-backend/internal/repository/memstore"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeMedia struct {
	keys []string
}

func (f *fakeMedia) PresignUpload(ctx context.Context, key, contentType string, ttl time.Duration) (string, error) {
	f.keys = append(f.keys, key)
	return "https://upload.example.com/" + key + "?sig=1", nil
}

func (f *fakeMedia) ObjectURL(key string) string {
	return "https://cdn.example.com/" + key
}

type feedFixture struct {
	store  *memstore.Store
	svc    *FeedService
	media  *fakeMedia
	events *recordingEvents
	clock  *testClock
	alice  *models.UserProfile
	bob    *models.UserProfile
}

func newFeedFixture(t *testing.T) *feedFixture {
	t.Helper()
	store := memstore.New()
	media := &fakeMedia{}
	events := &recordingEvents{}
	clock := newClock()
	svc := NewFeedService(store, media, events)
	svc.now = clock.Now

	f := &feedFixture{
		store:  store,
		svc:    svc,
		media:  media,
		events: events,
		clock:  clock,
		alice:  mustCreateUser(t, store, "alice"),
		bob:    mustCreateUser(t, store, "bob"),
	}
	mustPair(t, store, f.alice, f.bob)
	return f
}

func TestFeed_UploadURLUsesCouplePrefix(t *testing.T) {
	f := newFeedFixture(t)

	res, err := f.svc.CreateUploadURL(context.Background(), f.alice.ID, "video/mp4")
	require.NoError(t, err)

	prefix := mustKey(t, f.alice.ID, f.bob.ID).Hash() + "/"
	assert.True(t, strings.HasPrefix(res.MediaKey, prefix))
	assert.True(t, strings.HasSuffix(res.MediaKey, ".mp4"))
	assert.Equal(t, 300, res.ExpiresIn)
	assert.Contains(t, res.UploadURL, res.MediaKey)

	_, err = f.svc.CreateUploadURL(context.Background(), f.alice.ID, "application/zip")
	assert.ErrorIs(t, err, ErrInvalidInput)
}

func TestFeed_RequiresPartner(t *testing.T) {
	f := newFeedFixture(t)
	loner := mustCreateUser(t, f.store, "loner")

	_, err := f.svc.CreateUploadURL(context.Background(), loner.ID, "")
	assert.ErrorIs(t, err, ErrNotPaired)
	_, _, err = f.svc.ListPosts(context.Background(), loner.ID, 10, 0)
	assert.ErrorIs(t, err, ErrNotPaired)
}

func TestFeed_CreateAndListPosts(t *testing.T) {
	ctx := context.Background()
	f := newFeedFixture(t)

	upload, err := f.svc.CreateUploadURL(ctx, f.alice.ID, "image/jpeg")
	require.NoError(t, err)
	photo, err := f.svc.CreatePost(ctx, f.alice.ID, CreatePostRequest{
		Kind:     models.PostPhoto,
		MediaKey: upload.MediaKey,
		Caption:  "sunset",
	})
	require.NoError(t, err)
	require.NotNil(t, photo.MediaURL)
	assert.Equal(t, "https://cdn.example.com/"+upload.MediaKey, *photo.MediaURL)

	f.clock.Advance(time.Minute)
	song, err := f.svc.CreatePost(ctx, f.bob.ID, CreatePostRequest{
		Kind:  models.PostMusic,
		Music: &models.Music{Title: "La Vie en Rose", Artist: "Édith Piaf"},
	})
	require.NoError(t, err)

	f.clock.Advance(time.Minute)
	note, err := f.svc.CreatePost(ctx, f.alice.ID, CreatePostRequest{Kind: models.PostText, Caption: "miss you"})
	require.NoError(t, err)

	posts, total, err := f.svc.ListPosts(ctx, f.bob.ID, 0, 0)
	require.NoError(t, err)
	assert.Equal(t, 3, total)
	require.Len(t, posts, 3)
	assert.Equal(t, []string{note.ID, song.ID, photo.ID}, []string{posts[0].ID, posts[1].ID, posts[2].ID})

	page, total, err := f.svc.ListPosts(ctx, f.alice.ID, 1, 1)
	require.NoError(t, err)
	assert.Equal(t, 3, total)
	require.Len(t, page, 1)
	assert.Equal(t, song.ID, page[0].ID)

	feedEvents := f.events.of("feed_post")
	require.Len(t, feedEvents, 3)
	assert.Equal(t, f.bob.ID, feedEvents[0].userID)
	assert.Equal(t, f.alice.ID, feedEvents[1].userID)
}

func TestFeed_CreatePostValidation(t *testing.T) {
	ctx := context.Background()
	f := newFeedFixture(t)

	tests := []struct {
		name string
		req  CreatePostRequest
	}{
		{"photo without media", CreatePostRequest{Kind: models.PostPhoto}},
		{"media of another couple", CreatePostRequest{Kind: models.PostVideo, MediaKey: "deadbeef/x.mp4"}},
		{"music without title", CreatePostRequest{Kind: models.PostMusic, Music: &models.Music{}}},
		{"empty text", CreatePostRequest{Kind: models.PostText, Caption: "  "}},
		{"unknown kind", CreatePostRequest{Kind: "poll", Caption: "x"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.svc.CreatePost(ctx, f.alice.ID, tt.req)
			assert.ErrorIs(t, err, ErrInvalidInput)
		})
	}
}

func TestFeed_ReactionsAndComments(t *testing.T) {
	ctx := context.Background()
	f := newFeedFixture(t)

	post, err := f.svc.CreatePost(ctx, f.alice.ID, CreatePostRequest{Kind: models.PostText, Caption: "hi"})
	require.NoError(t, err)

	require.NoError(t, f.svc.React(ctx, f.bob.ID, post.ID, "❤️"))
	require.NoError(t, f.svc.React(ctx, f.bob.ID, post.ID, "😂"))
	require.NoError(t, f.svc.React(ctx, f.alice.ID, post.ID, "🥰"))

	comment, err := f.svc.Comment(ctx, f.bob.ID, post.ID, " love it ")
	require.NoError(t, err)
	assert.Equal(t, "love it", comment.Body)

	_, err = f.svc.Comment(ctx, f.bob.ID, post.ID, "")
	assert.ErrorIs(t, err, ErrInvalidInput)

	posts, _, err := f.svc.ListPosts(ctx, f.alice.ID, 10, 0)
	require.NoError(t, err)
	require.Len(t, posts, 1)
	require.Len(t, posts[0].Reactions, 2)
	byUser := map[string]string{}
	for _, r := range posts[0].Reactions {
		byUser[r.UserID] = r.Emoji
	}
	assert.Equal(t, "😂", byUser[f.bob.ID])
	require.Len(t, posts[0].Comments, 1)

	require.NoError(t, f.svc.React(ctx, f.bob.ID, post.ID, ""))
	posts, _, err = f.svc.ListPosts(ctx, f.alice.ID, 10, 0)
	require.NoError(t, err)
	assert.Len(t, posts[0].Reactions, 1)
}

func TestFeed_DeletePost(t *testing.T) {
	ctx := context.Background()
	f := newFeedFixture(t)

	post, err := f.svc.CreatePost(ctx, f.alice.ID, CreatePostRequest{Kind: models.PostText, Caption: "hi"})
	require.NoError(t, err)

	assert.ErrorIs(t, f.svc.DeletePost(ctx, f.bob.ID, post.ID), ErrUnauthorized)
	require.NoError(t, f.svc.DeletePost(ctx, f.alice.ID, post.ID))
	assert.ErrorIs(t, f.svc.DeletePost(ctx, f.alice.ID, post.ID), ErrNotFound)
}

func TestFeed_OtherCouplesPostsAreHidden(t *testing.T) {
	ctx := context.Background()
	f := newFeedFixture(t)
	carol := mustCreateUser(t, f.store, "carol")
	dave := mustCreateUser(t, f.store, "dave")
	mustPair(t, f.store, carol, dave)

	post, err := f.svc.CreatePost(ctx, f.alice.ID, CreatePostRequest{Kind: models.PostText, Caption: "private"})
	require.NoError(t, err)

	assert.ErrorIs(t, f.svc.React(ctx, carol.ID, post.ID, "👀"), ErrNotFound)
	_, err = f.svc.Comment(ctx, carol.ID, post.ID, "hi")
	assert.ErrorIs(t, err, ErrNotFound)
	assert.ErrorIs(t, f.svc.DeletePost(ctx, carol.ID, post.ID), ErrNotFound)

	posts, total, err := f.svc.ListPosts(ctx, dave.ID, 10, 0)
	require.NoError(t, err)
	assert.Zero(t, total)
	assert.Empty(t, posts)
}
