package messaging

import (
	"context"
	"fmt"
	"log"
	"sort"
	"strings"
	"sync"

	"coachapp/models"
)

type SessionState int

const (
	StateUninitialized SessionState = iota
	StateLoading
	StateReady
	StateErrored
)

func (s SessionState) String() string {
	switch s {
	case StateUninitialized:
		return "uninitialized"
	case StateLoading:
		return "loading"
	case StateReady:
		return "ready"
	case StateErrored:
		return "errored"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// SendOption дополняет отправляемое сообщение
type SendOption func(*models.MessageDraft)

// WithRelatedEntity привязывает сообщение к объекту (план тренировок, план питания)
func WithRelatedEntity(entityType, entityID string) SendOption {
	return func(d *models.MessageDraft) {
		if entityType == "" || entityID == "" {
			return
		}
		d.RelatedEntityType = &entityType
		d.RelatedEntityID = &entityID
	}
}

// ConversationSession - открытая переписка текущего пользователя с одним собеседником.
// Смена собеседника = Close и новая сессия.
type ConversationSession struct {
	auth      AuthContext
	partnerID string
	store     MessageStore
	feed      Feed
	opts      Options

	mu        sync.Mutex
	state     SessionState
	thread    []models.Message
	pending   []models.Message
	sub       Subscription
	err       error
	closed    bool
	onMessage func(models.Message)
}

func NewConversationSession(auth AuthContext, partnerID string, store MessageStore, feed Feed, opts Options) *ConversationSession {
	return &ConversationSession{
		auth:      auth,
		partnerID: partnerID,
		store:     store,
		feed:      feed,
		opts:      opts.WithDefaults(),
	}
}

// OnMessage регистрирует обработчик сообщений, добавленных в переписку из ленты
func (s *ConversationSession) OnMessage(fn func(models.Message)) {
	s.mu.Lock()
	s.onMessage = fn
	s.mu.Unlock()
}

// Load загружает переписку по возрастанию SentAt и переводит сессию в Ready.
// Подписка на ленту открывается до запроса; события, пришедшие во время
// загрузки, буферизуются и вливаются после неё.
func (s *ConversationSession) Load(ctx context.Context) ([]models.Message, error) {
	const op = "conversation.load"

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil, ErrClosed
	}
	if s.state != StateUninitialized {
		state := s.state
		s.mu.Unlock()
		return nil, fetchError(op, fmt.Errorf("%w: session is %s", ErrNotReady, state))
	}
	s.state = StateLoading
	s.mu.Unlock()

	if err := s.auth.validate(op); err != nil {
		return nil, s.fail(err)
	}
	if s.partnerID == "" || s.partnerID == s.auth.UserID {
		return nil, s.fail(fetchError(op, ErrNoPartner))
	}

	sub, err := s.feed.SubscribeToInserts(ctx, FeedScope{}, s.handleInsert)
	if err != nil {
		return nil, s.fail(fetchError(op, err))
	}
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		_ = sub.Close()
		return nil, ErrClosed
	}
	s.sub = sub
	s.mu.Unlock()

	loadCtx, cancel := context.WithTimeout(ctx, s.opts.LoadTimeout)
	messages, err := s.store.QueryMessages(loadCtx, PairFilter(s.auth.UserID, s.partnerID), Ascending)
	cancel()
	if err != nil {
		return nil, s.fail(fetchError(op, err))
	}

	thread := make([]models.Message, 0, len(messages))
	seen := make(map[string]struct{}, len(messages))
	for _, m := range messages {
		if !BelongsToConversation(m, s.auth.UserID, s.partnerID) {
			continue
		}
		if _, dup := seen[m.ID]; dup {
			continue
		}
		seen[m.ID] = struct{}{}
		thread = append(thread, m)
	}
	sort.SliceStable(thread, func(i, j int) bool {
		return thread[i].SentAt.Before(thread[j].SentAt)
	})

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil, ErrClosed
	}
	for _, m := range s.pending {
		thread, _ = MergeMessageIntoThread(thread, m, s.auth.UserID, s.partnerID)
	}
	s.pending = nil
	s.thread = thread
	s.state = StateReady
	out := cloneMessages(thread)
	s.mu.Unlock()

	s.markReadAsync()
	return out, nil
}

// Send отправляет сообщение собеседнику. Локально не добавляется:
// каноническая строка придет из ленты.
func (s *ConversationSession) Send(ctx context.Context, content string, opts ...SendOption) (*models.Message, error) {
	const op = "conversation.send"

	content, err := NormalizeContent(content)
	if err != nil {
		return nil, err
	}
	if err := s.auth.validate(op); err != nil {
		return nil, err
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil, ErrClosed
	}
	if s.state != StateReady {
		state := s.state
		s.mu.Unlock()
		return nil, sendError(op, fmt.Errorf("%w: session is %s", ErrNotReady, state))
	}
	s.mu.Unlock()
	if s.partnerID == "" {
		return nil, sendError(op, ErrNoPartner)
	}

	draft := models.MessageDraft{
		SenderID:   s.auth.UserID,
		ReceiverID: s.partnerID,
		Content:    content,
	}
	for _, opt := range opts {
		opt(&draft)
	}

	sendCtx, cancel := context.WithTimeout(ctx, s.opts.SendTimeout)
	defer cancel()
	msg, err := s.store.InsertMessage(sendCtx, draft)
	if err != nil {
		return nil, sendError(op, err)
	}

	if !s.isActive() {
		return nil, ErrClosed
	}
	return msg, nil
}

// NormalizeContent обрезает пробелы по краям; пустой текст не отправляется
func NormalizeContent(content string) (string, error) {
	content = strings.TrimSpace(content)
	if content == "" {
		return "", sendError("conversation.send", ErrEmptyContent)
	}
	return content, nil
}

// Transcript возвращает копию переписки
func (s *ConversationSession) Transcript() []models.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	return cloneMessages(s.thread)
}

func (s *ConversationSession) State() SessionState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Err - ошибка, переведшая сессию в Errored
func (s *ConversationSession) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

func (s *ConversationSession) PartnerID() string {
	return s.partnerID
}

// Close отписывается от ленты; ответы, пришедшие позже, игнорируются
func (s *ConversationSession) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	sub := s.sub
	s.sub = nil
	s.pending = nil
	s.onMessage = nil
	s.mu.Unlock()

	if sub != nil {
		return sub.Close()
	}
	return nil
}

func (s *ConversationSession) handleInsert(m models.Message) {
	if !BelongsToConversation(m, s.auth.UserID, s.partnerID) {
		return
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	switch s.state {
	case StateLoading:
		s.pending = append(s.pending, m)
		s.mu.Unlock()
		return
	case StateReady:
	default:
		s.mu.Unlock()
		return
	}

	thread, changed := MergeMessageIntoThread(s.thread, m, s.auth.UserID, s.partnerID)
	if !changed {
		s.mu.Unlock()
		return
	}
	s.thread = thread
	listener := s.onMessage
	s.mu.Unlock()

	if listener != nil {
		listener(m)
	}
	if m.ReceiverID == s.auth.UserID && !m.IsRead {
		s.markReadAsync()
	}
}

// markReadAsync помечает входящие прочитанными, не блокируя вызывающего.
// Ошибка только логируется.
func (s *ConversationSession) markReadAsync() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	unread := make(map[string]struct{})
	for _, m := range s.thread {
		if !m.IsRead && m.ReceiverID == s.auth.UserID && m.SenderID == s.partnerID {
			unread[m.ID] = struct{}{}
		}
	}
	s.mu.Unlock()

	go func() {
		const op = "conversation.mark_read"
		ctx, cancel := context.WithTimeout(context.Background(), s.opts.MarkReadTimeout)
		defer cancel()

		if _, err := s.store.MarkAsRead(ctx, s.auth.UserID, s.partnerID); err != nil {
			log.Printf("ERROR: %v", markReadError(op, err))
			return
		}

		s.mu.Lock()
		defer s.mu.Unlock()
		if s.closed {
			return
		}
		for i := range s.thread {
			if _, ok := unread[s.thread[i].ID]; ok {
				s.thread[i].IsRead = true
			}
		}
	}()
}

func (s *ConversationSession) fail(err error) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrClosed
	}
	s.state = StateErrored
	s.err = err
	s.pending = nil
	sub := s.sub
	s.sub = nil
	s.mu.Unlock()

	if sub != nil {
		_ = sub.Close()
	}
	return err
}

func (s *ConversationSession) isActive() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return !s.closed
}

func cloneMessages(messages []models.Message) []models.Message {
	out := make([]models.Message, len(messages))
	copy(out, messages)
	return out
}
