package messaging

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"coachapp/models"
)

var baseTime = time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

// memStore - хранилище в памяти; вставки публикуются в memFeed
type memStore struct {
	mu        sync.Mutex
	messages  []models.Message
	seq       int
	clock     time.Time
	feed      *memFeed
	queryErr  error
	insertErr error
	markErr   error
	inserts   int
	markCalls int
	// beforeQueryReturn вызывается после чтения, до возврата результата
	beforeQueryReturn func()
	block             chan struct{}
}

func newMemStore(feed *memFeed) *memStore {
	return &memStore{clock: baseTime, feed: feed}
}

func (s *memStore) seed(sender, receiver, content string, isRead bool) models.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	m := s.newMessageLocked(models.MessageDraft{SenderID: sender, ReceiverID: receiver, Content: content})
	m.IsRead = isRead
	s.messages = append(s.messages, m)
	return m
}

func (s *memStore) newMessageLocked(d models.MessageDraft) models.Message {
	s.seq++
	s.clock = s.clock.Add(time.Second)
	return models.Message{
		ID:                fmt.Sprintf("m%03d", s.seq),
		SenderID:          d.SenderID,
		ReceiverID:        d.ReceiverID,
		Content:           d.Content,
		SentAt:            s.clock,
		RelatedEntityType: d.RelatedEntityType,
		RelatedEntityID:   d.RelatedEntityID,
	}
}

func (s *memStore) QueryMessages(ctx context.Context, filter MessageFilter, dir SortDirection) ([]models.Message, error) {
	if s.block != nil {
		select {
		case <-s.block:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	s.mu.Lock()
	if s.queryErr != nil {
		s.mu.Unlock()
		return nil, s.queryErr
	}
	out := make([]models.Message, 0)
	for _, m := range s.messages {
		switch {
		case filter.Participant != "":
			if m.SenderID == filter.Participant || m.ReceiverID == filter.Participant {
				out = append(out, m)
			}
		case filter.IsPair():
			a, b := filter.Pair[0], filter.Pair[1]
			if (m.SenderID == a && m.ReceiverID == b) || (m.SenderID == b && m.ReceiverID == a) {
				out = append(out, m)
			}
		}
	}
	hook := s.beforeQueryReturn
	s.mu.Unlock()

	sort.SliceStable(out, func(i, j int) bool {
		if dir == Descending {
			return out[i].SentAt.After(out[j].SentAt)
		}
		return out[i].SentAt.Before(out[j].SentAt)
	})
	if hook != nil {
		hook()
	}
	return out, nil
}

func (s *memStore) InsertMessage(ctx context.Context, draft models.MessageDraft) (*models.Message, error) {
	s.mu.Lock()
	s.inserts++
	if s.insertErr != nil {
		s.mu.Unlock()
		return nil, s.insertErr
	}
	m := s.newMessageLocked(draft)
	s.messages = append(s.messages, m)
	s.mu.Unlock()

	if s.feed != nil {
		s.feed.publish(m)
	}
	return &m, nil
}

func (s *memStore) MarkAsRead(ctx context.Context, readerID, partnerID string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.markCalls++
	if s.markErr != nil {
		return 0, s.markErr
	}
	var n int64
	for i := range s.messages {
		m := &s.messages[i]
		if m.ReceiverID == readerID && m.SenderID == partnerID && !m.IsRead {
			m.IsRead = true
			n++
		}
	}
	return n, nil
}

func (s *memStore) counters() (inserts, markCalls int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.inserts, s.markCalls
}

func (s *memStore) unreadFor(readerID, partnerID string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return ComputeUnreadCount(s.messages, readerID, partnerID)
}

// memFeed доставляет события синхронно в горутине публикующего
type memFeed struct {
	mu           sync.Mutex
	subs         map[int]*memSub
	next         int
	subscribeErr error
}

type memSub struct {
	feed    *memFeed
	id      int
	scope   FeedScope
	onEvent func(models.Message)
}

func newMemFeed() *memFeed {
	return &memFeed{subs: make(map[int]*memSub)}
}

func (f *memFeed) SubscribeToInserts(ctx context.Context, scope FeedScope, onEvent func(models.Message)) (Subscription, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.subscribeErr != nil {
		return nil, f.subscribeErr
	}
	f.next++
	sub := &memSub{feed: f, id: f.next, scope: scope, onEvent: onEvent}
	f.subs[sub.id] = sub
	return sub, nil
}

func (f *memFeed) publish(m models.Message) {
	f.mu.Lock()
	targets := make([]*memSub, 0, len(f.subs))
	for _, sub := range f.subs {
		if sub.scope.Matches(m) {
			targets = append(targets, sub)
		}
	}
	f.mu.Unlock()

	for _, sub := range targets {
		sub.onEvent(m)
	}
}

func (f *memFeed) active() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.subs)
}

func (s *memSub) Close() error {
	s.feed.mu.Lock()
	defer s.feed.mu.Unlock()
	delete(s.feed.subs, s.id)
	return nil
}

type memProfiles map[string]string

func (p memProfiles) GetProfile(ctx context.Context, userID string) (*models.Profile, error) {
	name, ok := p[userID]
	if !ok {
		return nil, ErrProfileNotFound
	}
	return &models.Profile{ID: userID, DisplayName: name}, nil
}
