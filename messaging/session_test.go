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

func newTestSession(store *memStore, feed *memFeed, current, partner string) *ConversationSession {
	return NewConversationSession(AuthContext{UserID: current}, partner, store, feed, DefaultOptions())
}

func TestSessionLoadOrdersAscendingAndMarksRead(t *testing.T) {
	feed := newMemFeed()
	store := newMemStore(feed)
	seedScenario(store)
	store.seed("u3", "u2", "unrelated", false)

	session := newTestSession(store, feed, "u2", "u1")
	defer session.Close()
	assert.Equal(t, StateUninitialized, session.State())

	thread, err := session.Load(context.Background())
	require.NoError(t, err)
	assert.Equal(t, StateReady, session.State())
	require.Len(t, thread, 3)
	assert.Equal(t, []string{"hi", "hey", "how are you"}, contents(thread))
	for i := 1; i < len(thread); i++ {
		assert.True(t, thread[i-1].SentAt.Before(thread[i].SentAt))
	}

	require.Eventually(t, func() bool { return store.unreadFor("u2", "u1") == 0 }, time.Second, 5*time.Millisecond)
	// непрочитанное от третьего лица не трогаем
	assert.Equal(t, 1, store.unreadFor("u2", "u3"))

	// индекс после открытия переписки показывает 0 непрочитанных
	index := NewConversationIndex(AuthContext{UserID: "u2"}, store, nil, feed, DefaultOptions())
	defer index.Close()
	partners, err := index.Load(context.Background())
	require.NoError(t, err)
	for _, p := range partners {
		if p.ID == "u1" {
			assert.Equal(t, 0, p.UnreadCount)
		}
	}

	// локальные копии тоже помечаются
	require.Eventually(t, func() bool {
		for _, m := range session.Transcript() {
			if m.ReceiverID == "u2" && !m.IsRead {
				return false
			}
		}
		return true
	}, time.Second, 5*time.Millisecond)
}

func TestSessionSendTrimsAndDeliversThroughFeed(t *testing.T) {
	feed := newMemFeed()
	store := newMemStore(feed)
	session := newTestSession(store, feed, "u1", "u2")
	defer session.Close()
	_, err := session.Load(context.Background())
	require.NoError(t, err)
	require.Eventually(t, func() bool { _, calls := store.counters(); return calls == 1 }, time.Second, 5*time.Millisecond)

	var delivered []models.Message
	session.OnMessage(func(m models.Message) { delivered = append(delivered, m) })

	sent, err := session.Send(context.Background(), "  hello  ")
	require.NoError(t, err)
	assert.Equal(t, "hello", sent.Content)
	assert.False(t, sent.IsRead)
	assert.Equal(t, "u1", sent.SenderID)
	assert.Equal(t, "u2", sent.ReceiverID)

	transcript := session.Transcript()
	require.Len(t, transcript, 1)
	assert.Equal(t, sent.ID, transcript[0].ID)
	require.Len(t, delivered, 1)

	// свое сообщение не запускает пометку прочитанным
	_, markCalls := store.counters()
	assert.Equal(t, 1, markCalls)
}

func TestSessionSendRejectsEmptyContent(t *testing.T) {
	feed := newMemFeed()
	store := newMemStore(feed)
	session := newTestSession(store, feed, "u1", "u2")
	defer session.Close()
	_, err := session.Load(context.Background())
	require.NoError(t, err)

	for _, content := range []string{"", "   ", "\n\t"} {
		msg, err := session.Send(context.Background(), content)
		assert.Nil(t, msg)
		assert.Equal(t, KindSend, KindOf(err))
		assert.ErrorIs(t, err, ErrEmptyContent)
	}
	inserts, _ := store.counters()
	assert.Equal(t, 0, inserts)
}

func TestSessionSendRequiresReady(t *testing.T) {
	feed := newMemFeed()
	store := newMemStore(feed)
	session := newTestSession(store, feed, "u1", "u2")

	_, err := session.Send(context.Background(), "hello")
	assert.Equal(t, KindSend, KindOf(err))
	assert.ErrorIs(t, err, ErrNotReady)
	inserts, _ := store.counters()
	assert.Equal(t, 0, inserts)
}

func TestSessionSendFailureKeepsSessionReady(t *testing.T) {
	feed := newMemFeed()
	store := newMemStore(feed)
	session := newTestSession(store, feed, "u1", "u2")
	_, err := session.Load(context.Background())
	require.NoError(t, err)

	store.insertErr = errors.New("write timeout")
	_, err = session.Send(context.Background(), "hello")
	assert.Equal(t, KindSend, KindOf(err))
	assert.Equal(t, StateReady, session.State())

	store.insertErr = nil
	_, err = session.Send(context.Background(), "hello")
	assert.NoError(t, err)
}

func TestSessionSendWithRelatedEntity(t *testing.T) {
	feed := newMemFeed()
	store := newMemStore(feed)
	session := newTestSession(store, feed, "coach", "client")
	_, err := session.Load(context.Background())
	require.NoError(t, err)

	sent, err := session.Send(context.Background(), "see the new plan", WithRelatedEntity("workout_plan", "wp-17"))
	require.NoError(t, err)
	require.NotNil(t, sent.RelatedEntityType)
	assert.Equal(t, "workout_plan", *sent.RelatedEntityType)
	assert.Equal(t, "wp-17", *sent.RelatedEntityID)

	sent, err = session.Send(context.Background(), "plain", WithRelatedEntity("", ""))
	require.NoError(t, err)
	assert.Nil(t, sent.RelatedEntityType)
}

func TestSessionIgnoresForeignEvents(t *testing.T) {
	feed := newMemFeed()
	store := newMemStore(feed)
	seedScenario(store)
	session := newTestSession(store, feed, "u1", "u2")
	defer session.Close()
	_, err := session.Load(context.Background())
	require.NoError(t, err)
	before := ids(session.Transcript())

	_, err = store.InsertMessage(context.Background(), models.MessageDraft{SenderID: "u3", ReceiverID: "u4", Content: "other thread"})
	require.NoError(t, err)
	assert.Equal(t, before, ids(session.Transcript()))
}

func TestSessionIncomingMessageIsMarkedRead(t *testing.T) {
	feed := newMemFeed()
	store := newMemStore(feed)
	session := newTestSession(store, feed, "u2", "u1")
	defer session.Close()
	_, err := session.Load(context.Background())
	require.NoError(t, err)
	require.Eventually(t, func() bool { _, calls := store.counters(); return calls == 1 }, time.Second, 5*time.Millisecond)

	incoming, err := store.InsertMessage(context.Background(), models.MessageDraft{SenderID: "u1", ReceiverID: "u2", Content: "did you log lunch?"})
	require.NoError(t, err)

	transcript := session.Transcript()
	require.Len(t, transcript, 1)
	assert.Equal(t, incoming.ID, transcript[0].ID)
	require.Eventually(t, func() bool { return store.unreadFor("u2", "u1") == 0 }, time.Second, 5*time.Millisecond)

	// повторная доставка не дублирует сообщение
	feed.publish(*incoming)
	assert.Len(t, session.Transcript(), 1)
}

func TestSessionBuffersEventsDuringLoad(t *testing.T) {
	feed := newMemFeed()
	store := newMemStore(feed)
	first := store.seed("u1", "u2", "hi", false)

	store.beforeQueryReturn = func() {
		store.beforeQueryReturn = nil
		// пришло во время загрузки: в результат запроса не попало
		_, err := store.InsertMessage(context.Background(), models.MessageDraft{SenderID: "u2", ReceiverID: "u1", Content: "while loading"})
		require.NoError(t, err)
		// повторная доставка уже загруженного
		feed.publish(first)
	}

	session := newTestSession(store, feed, "u1", "u2")
	defer session.Close()
	thread, err := session.Load(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"hi", "while loading"}, contents(thread))
}

func TestSessionLoadFailure(t *testing.T) {
	feed := newMemFeed()
	store := newMemStore(feed)
	store.queryErr = errors.New("connection reset")

	session := newTestSession(store, feed, "u1", "u2")
	_, err := session.Load(context.Background())
	require.Error(t, err)
	assert.Equal(t, KindFetch, KindOf(err))
	assert.Equal(t, StateErrored, session.State())
	assert.Equal(t, err, session.Err())
	assert.Equal(t, 0, feed.active())

	// без автоматического повтора: нужна новая сессия
	store.queryErr = nil
	_, err = session.Load(context.Background())
	assert.ErrorIs(t, err, ErrNotReady)
	_, err = session.Send(context.Background(), "hello")
	assert.ErrorIs(t, err, ErrNotReady)
}

func TestSessionLoadRequiresSessionAndPartner(t *testing.T) {
	feed := newMemFeed()
	store := newMemStore(feed)

	session := NewConversationSession(AuthContext{}, "u2", store, feed, DefaultOptions())
	_, err := session.Load(context.Background())
	assert.Equal(t, KindAuth, KindOf(err))
	assert.Equal(t, StateErrored, session.State())

	session = newTestSession(store, feed, "u1", "")
	_, err = session.Load(context.Background())
	assert.ErrorIs(t, err, ErrNoPartner)

	session = newTestSession(store, feed, "u1", "u1")
	_, err = session.Load(context.Background())
	assert.ErrorIs(t, err, ErrNoPartner)
}

func TestSessionSubscribeFailure(t *testing.T) {
	feed := newMemFeed()
	feed.subscribeErr = errors.New("feed unavailable")
	session := newTestSession(newMemStore(feed), feed, "u1", "u2")

	_, err := session.Load(context.Background())
	assert.Equal(t, KindFetch, KindOf(err))
	assert.Equal(t, StateErrored, session.State())
}

func TestSessionMarkReadFailureIsSwallowed(t *testing.T) {
	feed := newMemFeed()
	store := newMemStore(feed)
	seedScenario(store)
	store.markErr = errors.New("update failed")

	session := newTestSession(store, feed, "u2", "u1")
	defer session.Close()
	thread, err := session.Load(context.Background())
	require.NoError(t, err)
	assert.Len(t, thread, 3)
	assert.Equal(t, StateReady, session.State())

	require.Eventually(t, func() bool { _, calls := store.counters(); return calls == 1 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, 2, store.unreadFor("u2", "u1"))
	assert.Equal(t, StateReady, session.State())
}

func TestSessionCloseReleasesSubscription(t *testing.T) {
	feed := newMemFeed()
	store := newMemStore(feed)
	session := newTestSession(store, feed, "u1", "u2")
	_, err := session.Load(context.Background())
	require.NoError(t, err)
	require.Equal(t, 1, feed.active())

	var mu sync.Mutex
	calls := 0
	session.OnMessage(func(models.Message) { mu.Lock(); calls++; mu.Unlock() })

	require.NoError(t, session.Close())
	assert.Equal(t, 0, feed.active())
	require.NoError(t, session.Close())

	_, err = session.Send(context.Background(), "hello")
	assert.ErrorIs(t, err, ErrClosed)
	session.handleInsert(models.Message{ID: "late", SenderID: "u2", ReceiverID: "u1", SentAt: baseTime})
	mu.Lock()
	assert.Equal(t, 0, calls)
	mu.Unlock()
	assert.Empty(t, session.Transcript())
}

func TestSessionCloseDuringLoad(t *testing.T) {
	feed := newMemFeed()
	store := newMemStore(feed)
	seedScenario(store)
	store.block = make(chan struct{})

	session := newTestSession(store, feed, "u1", "u2")
	result := make(chan error, 1)
	go func() {
		_, err := session.Load(context.Background())
		result <- err
	}()

	require.NoError(t, session.Close())
	close(store.block)

	select {
	case err := <-result:
		assert.ErrorIs(t, err, ErrClosed)
	case <-time.After(2 * time.Second):
		t.Fatal("load did not return")
	}
	assert.Empty(t, session.Transcript())
	assert.Equal(t, 0, feed.active())
}

func TestSessionSwitchingPartners(t *testing.T) {
	feed := newMemFeed()
	store := newMemStore(feed)
	store.seed("coach", "alice", "morning run?", false)
	store.seed("coach", "bob", "macros updated", false)

	first := newTestSession(store, feed, "coach", "alice")
	_, err := first.Load(context.Background())
	require.NoError(t, err)
	require.NoError(t, first.Close())

	second := newTestSession(store, feed, "coach", "bob")
	defer second.Close()
	thread, err := second.Load(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"macros updated"}, contents(thread))
	assert.Equal(t, 1, feed.active())
	assert.Equal(t, "bob", second.PartnerID())
}

func contents(messages []models.Message) []string {
	out := make([]string, 0, len(messages))
	for _, m := range messages {
		out = append(out, m.Content)
	}
	return out
}
