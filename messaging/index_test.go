package messaging

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"coachapp/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func seedScenario(store *memStore) {
	store.seed("u1", "u2", "hi", false)
	store.seed("u2", "u1", "hey", false)
	store.seed("u1", "u2", "how are you", false)
}

func TestIndexLoadScenario(t *testing.T) {
	feed := newMemFeed()
	store := newMemStore(feed)
	seedScenario(store)

	index := NewConversationIndex(AuthContext{UserID: "u2", Role: models.RoleClient}, store, memProfiles{"u1": "Coach Anna"}, feed, DefaultOptions())
	defer index.Close()

	partners, err := index.Load(context.Background())
	require.NoError(t, err)
	require.Len(t, partners, 1)
	assert.Equal(t, "u1", partners[0].ID)
	assert.Equal(t, "Coach Anna", partners[0].DisplayName)
	assert.Equal(t, "how are you", partners[0].LastMessage.Content)
	assert.Equal(t, 2, partners[0].UnreadCount)
	assert.Equal(t, partners, index.Partners())
}

func TestIndexLoadWithoutProfileUsesPlaceholder(t *testing.T) {
	store := newMemStore(nil)
	store.seed("3f2a9c1b-7d4e", "me", "hello", false)

	index := NewConversationIndex(AuthContext{UserID: "me"}, store, memProfiles{}, newMemFeed(), DefaultOptions())
	partners, err := index.Load(context.Background())
	require.NoError(t, err)
	require.Len(t, partners, 1)
	assert.Equal(t, "User 3f2a9c1b", partners[0].DisplayName)
}

type flakyProfiles struct {
	mu    sync.Mutex
	fail  bool
	calls int
}

func (p *flakyProfiles) GetProfile(ctx context.Context, userID string) (*models.Profile, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls++
	if p.fail {
		return nil, errors.New("profiles unavailable")
	}
	return &models.Profile{ID: userID, DisplayName: "Client " + userID}, nil
}

func TestIndexProfileFailureIsNotCached(t *testing.T) {
	store := newMemStore(nil)
	store.seed("c7", "me", "plan done", false)
	profiles := &flakyProfiles{fail: true}

	index := NewConversationIndex(AuthContext{UserID: "me"}, store, profiles, newMemFeed(), DefaultOptions())
	partners, err := index.Load(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "User c7", partners[0].DisplayName)

	profiles.fail = false
	partners, err = index.Load(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "Client c7", partners[0].DisplayName)

	// найденное имя кешируется
	_, err = index.Load(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, profiles.calls)
}

func TestIndexLoadRequiresSession(t *testing.T) {
	store := newMemStore(nil)
	index := NewConversationIndex(AuthContext{}, store, nil, newMemFeed(), DefaultOptions())

	_, err := index.Load(context.Background())
	require.Error(t, err)
	assert.Equal(t, KindAuth, KindOf(err))
	assert.ErrorIs(t, err, ErrNoSession)

	err = index.Subscribe(context.Background(), nil)
	assert.Equal(t, KindAuth, KindOf(err))
}

func TestIndexLoadFailureResetsToEmpty(t *testing.T) {
	store := newMemStore(nil)
	seedScenario(store)
	index := NewConversationIndex(AuthContext{UserID: "u2"}, store, nil, newMemFeed(), DefaultOptions())

	_, err := index.Load(context.Background())
	require.NoError(t, err)
	require.Len(t, index.Partners(), 1)

	store.queryErr = errors.New("connection refused")
	partners, err := index.Load(context.Background())
	require.Error(t, err)
	assert.Equal(t, KindFetch, KindOf(err))
	assert.Nil(t, partners)
	assert.Empty(t, index.Partners())
}

func TestIndexLoadTimeout(t *testing.T) {
	store := newMemStore(nil)
	store.block = make(chan struct{})
	index := NewConversationIndex(AuthContext{UserID: "u2"}, store, nil, newMemFeed(), Options{LoadTimeout: 20 * time.Millisecond})

	_, err := index.Load(context.Background())
	require.Error(t, err)
	assert.Equal(t, KindFetch, KindOf(err))
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestIndexSubscribeReloadsOnInsert(t *testing.T) {
	feed := newMemFeed()
	store := newMemStore(feed)
	seedScenario(store)

	index := NewConversationIndex(AuthContext{UserID: "u2"}, store, nil, feed, DefaultOptions())
	defer index.Close()
	_, err := index.Load(context.Background())
	require.NoError(t, err)

	var updates [][]models.ConversationPartner
	require.NoError(t, index.Subscribe(context.Background(), func(p []models.ConversationPartner, err error) {
		require.NoError(t, err)
		updates = append(updates, p)
	}))

	_, err = store.InsertMessage(context.Background(), models.MessageDraft{SenderID: "u3", ReceiverID: "u2", Content: "new client here"})
	require.NoError(t, err)
	require.Len(t, updates, 1)
	require.Len(t, updates[0], 2)
	assert.Equal(t, "u3", updates[0][0].ID)
	assert.Equal(t, 1, updates[0][0].UnreadCount)

	// сообщения, которые отправил сам пользователь, подписку не трогают
	_, err = store.InsertMessage(context.Background(), models.MessageDraft{SenderID: "u2", ReceiverID: "u1", Content: "ok"})
	require.NoError(t, err)
	assert.Len(t, updates, 1)
}

func TestIndexDuplicateEventsAreHarmless(t *testing.T) {
	feed := newMemFeed()
	store := newMemStore(feed)
	m := store.seed("u1", "u2", "hi", false)

	index := NewConversationIndex(AuthContext{UserID: "u2"}, store, nil, feed, DefaultOptions())
	defer index.Close()

	var last []models.ConversationPartner
	require.NoError(t, index.Subscribe(context.Background(), func(p []models.ConversationPartner, err error) {
		last = p
	}))

	feed.publish(m)
	feed.publish(m)
	require.Len(t, last, 1)
	assert.Equal(t, 1, last[0].UnreadCount)
}

func TestIndexResubscribeReplacesSubscription(t *testing.T) {
	feed := newMemFeed()
	index := NewConversationIndex(AuthContext{UserID: "u2"}, newMemStore(feed), nil, feed, DefaultOptions())

	require.NoError(t, index.Subscribe(context.Background(), nil))
	require.NoError(t, index.Subscribe(context.Background(), nil))
	assert.Equal(t, 1, feed.active())

	require.NoError(t, index.Close())
	assert.Equal(t, 0, feed.active())
}

func TestIndexCloseIgnoresLateResults(t *testing.T) {
	feed := newMemFeed()
	store := newMemStore(feed)
	seedScenario(store)
	store.block = make(chan struct{})

	index := NewConversationIndex(AuthContext{UserID: "u2"}, store, nil, feed, DefaultOptions())

	result := make(chan error, 1)
	go func() {
		_, err := index.Load(context.Background())
		result <- err
	}()

	require.NoError(t, index.Close())
	close(store.block)

	select {
	case err := <-result:
		assert.ErrorIs(t, err, ErrClosed)
	case <-time.After(2 * time.Second):
		t.Fatal("load did not return")
	}
	assert.Empty(t, index.Partners())

	_, err := index.Load(context.Background())
	assert.ErrorIs(t, err, ErrClosed)
	assert.ErrorIs(t, index.Subscribe(context.Background(), nil), ErrClosed)
}

func TestIndexStaleLoadDoesNotOverwriteNewer(t *testing.T) {
	store := newMemStore(nil)
	seedScenario(store)
	index := NewConversationIndex(AuthContext{UserID: "u2"}, store, nil, newMemFeed(), DefaultOptions())

	store.beforeQueryReturn = func() {
		store.beforeQueryReturn = nil
		store.seed("u5", "u2", "late", false)
		partners, err := index.Load(context.Background())
		require.NoError(t, err)
		require.Len(t, partners, 2)
	}

	stale, err := index.Load(context.Background())
	require.NoError(t, err)
	assert.Len(t, stale, 1)
	assert.Len(t, index.Partners(), 2)
}
