package services

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"

	"coachapp/messaging"
	"coachapp/models"
)

const localFeedBuffer = 64

// ErrFeedOverflow - буфер подписчика полон, событие для него отброшено
var ErrFeedOverflow = errors.New("feed subscriber buffer is full")

// LocalFeed - лента вставок внутри одного процесса. Каждый подписчик
// получает события в своей горутине, порядок публикации сохраняется.
type LocalFeed struct {
	mu   sync.RWMutex
	subs map[*localSubscription]struct{}
}

type localSubscription struct {
	feed   *LocalFeed
	scope  messaging.FeedScope
	events chan models.Message
	done   chan struct{}
	once   sync.Once
}

func NewLocalFeed() *LocalFeed {
	return &LocalFeed{subs: make(map[*localSubscription]struct{})}
}

func (f *LocalFeed) SubscribeToInserts(ctx context.Context, scope messaging.FeedScope, onEvent func(models.Message)) (messaging.Subscription, error) {
	sub := &localSubscription{
		feed:   f,
		scope:  scope,
		events: make(chan models.Message, localFeedBuffer),
		done:   make(chan struct{}),
	}

	f.mu.Lock()
	f.subs[sub] = struct{}{}
	f.mu.Unlock()

	go func() {
		for {
			select {
			case <-sub.done:
				return
			case m := <-sub.events:
				onEvent(m)
			}
		}
	}()
	return sub, nil
}

// PublishInsert раздает сообщение подписчикам без ожидания. Подписчик с
// полным буфером теряет это событие, остальные получают его.
func (f *LocalFeed) PublishInsert(ctx context.Context, m models.Message) error {
	f.mu.RLock()
	defer f.mu.RUnlock()

	dropped := 0
	for sub := range f.subs {
		if !sub.scope.Matches(m) {
			continue
		}
		select {
		case sub.events <- m:
		case <-sub.done:
		default:
			dropped++
		}
	}
	if dropped > 0 {
		log.Printf("WARN: local feed dropped message %s for %d stuck subscriber(s)", m.ID, dropped)
		return fmt.Errorf("message %s: %d subscriber(s): %w", m.ID, dropped, ErrFeedOverflow)
	}
	return nil
}

func (f *LocalFeed) Subscribers() int {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return len(f.subs)
}

func (f *LocalFeed) Close() error {
	f.mu.RLock()
	subs := make([]*localSubscription, 0, len(f.subs))
	for sub := range f.subs {
		subs = append(subs, sub)
	}
	f.mu.RUnlock()

	for _, sub := range subs {
		_ = sub.Close()
	}
	return nil
}

func (s *localSubscription) Close() error {
	s.once.Do(func() {
		close(s.done)
		s.feed.mu.Lock()
		delete(s.feed.subs, s)
		s.feed.mu.Unlock()
	})
	return nil
}
