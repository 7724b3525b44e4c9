package messaging

import (
	"context"
	"errors"
	"log"
	"sync"

	"coachapp/models"
)

// ConversationIndex держит актуальный список собеседников текущего пользователя.
// Пересчитывается целиком при загрузке и на каждое событие из ленты.
type ConversationIndex struct {
	auth     AuthContext
	store    MessageStore
	profiles ProfileLookup
	feed     Feed
	opts     Options

	mu         sync.Mutex
	partners   []models.ConversationPartner
	names      map[string]string
	loadSeq    uint64
	appliedSeq uint64
	sub        Subscription
	closed     bool
}

func NewConversationIndex(auth AuthContext, store MessageStore, profiles ProfileLookup, feed Feed, opts Options) *ConversationIndex {
	return &ConversationIndex{
		auth:     auth,
		store:    store,
		profiles: profiles,
		feed:     feed,
		opts:     opts.WithDefaults(),
		names:    make(map[string]string),
	}
}

// Load перечитывает все сообщения пользователя и пересобирает список собеседников
func (ci *ConversationIndex) Load(ctx context.Context) ([]models.ConversationPartner, error) {
	const op = "conversations.load"
	if err := ci.auth.validate(op); err != nil {
		return nil, err
	}

	ci.mu.Lock()
	if ci.closed {
		ci.mu.Unlock()
		return nil, ErrClosed
	}
	ci.loadSeq++
	seq := ci.loadSeq
	ci.mu.Unlock()

	loadCtx, cancel := context.WithTimeout(ctx, ci.opts.LoadTimeout)
	defer cancel()

	messages, err := ci.store.QueryMessages(loadCtx, ParticipantFilter(ci.auth.UserID), Descending)
	if err != nil {
		if !ci.apply(seq, nil) {
			return nil, ErrClosed
		}
		return nil, fetchError(op, err)
	}

	partners := BuildPartners(messages, ci.auth.UserID)
	ci.resolveNames(loadCtx, partners)

	if !ci.apply(seq, partners) {
		return nil, ErrClosed
	}
	return clonePartners(partners), nil
}

// Subscribe подписывается на входящие сообщения пользователя; каждое событие
// вызывает полную перезагрузку и onChange с её результатом.
// Повторный вызов заменяет предыдущую подписку.
func (ci *ConversationIndex) Subscribe(ctx context.Context, onChange func([]models.ConversationPartner, error)) error {
	const op = "conversations.subscribe"
	if err := ci.auth.validate(op); err != nil {
		return err
	}
	userID := ci.auth.UserID

	ci.mu.Lock()
	if ci.closed {
		ci.mu.Unlock()
		return ErrClosed
	}
	prev := ci.sub
	ci.sub = nil
	ci.mu.Unlock()
	if prev != nil {
		_ = prev.Close()
	}

	sub, err := ci.feed.SubscribeToInserts(ctx, FeedScope{ReceiverID: userID}, func(m models.Message) {
		if m.ReceiverID != userID || !ci.active() {
			return
		}
		partners, err := ci.Load(ctx)
		if errors.Is(err, ErrClosed) {
			return
		}
		if err != nil {
			log.Printf("ERROR: conversation index reload for %s failed: %v", userID, err)
		}
		if onChange != nil {
			onChange(partners, err)
		}
	})
	if err != nil {
		return fetchError(op, err)
	}

	ci.mu.Lock()
	if ci.closed {
		ci.mu.Unlock()
		_ = sub.Close()
		return ErrClosed
	}
	ci.sub = sub
	ci.mu.Unlock()
	return nil
}

// Partners возвращает копию последнего примененного списка
func (ci *ConversationIndex) Partners() []models.ConversationPartner {
	ci.mu.Lock()
	defer ci.mu.Unlock()
	return clonePartners(ci.partners)
}

// Close освобождает подписку; результаты незавершенных загрузок игнорируются
func (ci *ConversationIndex) Close() error {
	ci.mu.Lock()
	if ci.closed {
		ci.mu.Unlock()
		return nil
	}
	ci.closed = true
	sub := ci.sub
	ci.sub = nil
	ci.mu.Unlock()

	if sub != nil {
		return sub.Close()
	}
	return nil
}

func (ci *ConversationIndex) active() bool {
	ci.mu.Lock()
	defer ci.mu.Unlock()
	return !ci.closed
}

// apply сохраняет результат загрузки seq, если он не устарел. false - индекс закрыт.
func (ci *ConversationIndex) apply(seq uint64, partners []models.ConversationPartner) bool {
	ci.mu.Lock()
	defer ci.mu.Unlock()
	if ci.closed {
		return false
	}
	if seq > ci.appliedSeq {
		ci.appliedSeq = seq
		ci.partners = clonePartners(partners)
	}
	return true
}

// resolveNames заполняет DisplayName; отсутствие профиля не ошибка
func (ci *ConversationIndex) resolveNames(ctx context.Context, partners []models.ConversationPartner) {
	for i := range partners {
		id := partners[i].ID

		ci.mu.Lock()
		name, ok := ci.names[id]
		ci.mu.Unlock()
		if ok {
			partners[i].DisplayName = name
			continue
		}

		name = PlaceholderName(id)
		cache := true
		if ci.profiles != nil {
			profile, err := ci.profiles.GetProfile(ctx, id)
			switch {
			case err == nil && profile != nil && profile.DisplayName != "":
				name = profile.DisplayName
			case err != nil && !errors.Is(err, ErrProfileNotFound):
				log.Printf("WARN: profile lookup for %s failed: %v", id, err)
				cache = false
			}
		}
		partners[i].DisplayName = name

		if cache {
			ci.mu.Lock()
			ci.names[id] = name
			ci.mu.Unlock()
		}
	}
}

func clonePartners(partners []models.ConversationPartner) []models.ConversationPartner {
	if partners == nil {
		return nil
	}
	out := make([]models.ConversationPartner, len(partners))
	copy(out, partners)
	return out
}
