package messaging

import (
	"context"
	"strings"
	"time"

	"coachapp/models"
)

// AuthContext - текущий пользователь, передается в компоненты явно при создании
type AuthContext struct {
	UserID string
	Role   models.Role
}

func (a AuthContext) validate(op string) error {
	if strings.TrimSpace(a.UserID) == "" {
		return authError(op, ErrNoSession)
	}
	return nil
}

type SortDirection string

const (
	Ascending  SortDirection = "asc"
	Descending SortDirection = "desc"
)

// MessageFilter выбирает либо все сообщения участника, либо переписку пары
type MessageFilter struct {
	Participant string
	Pair        [2]string
}

func ParticipantFilter(userID string) MessageFilter {
	return MessageFilter{Participant: userID}
}

func PairFilter(a, b string) MessageFilter {
	return MessageFilter{Pair: [2]string{a, b}}
}

func (f MessageFilter) IsPair() bool {
	return f.Participant == "" && f.Pair[0] != "" && f.Pair[1] != ""
}

// MessageStore - хранилище сообщений
type MessageStore interface {
	QueryMessages(ctx context.Context, filter MessageFilter, dir SortDirection) ([]models.Message, error)
	InsertMessage(ctx context.Context, draft models.MessageDraft) (*models.Message, error)
	MarkAsRead(ctx context.Context, readerID, partnerID string) (int64, error)
}

// ProfileLookup возвращает ErrProfileNotFound, если профиля нет
type ProfileLookup interface {
	GetProfile(ctx context.Context, userID string) (*models.Profile, error)
}

// FeedScope ограничивает ленту вставок получателем; пустой ReceiverID - все вставки
type FeedScope struct {
	ReceiverID string
}

func (s FeedScope) Matches(m models.Message) bool {
	return s.ReceiverID == "" || s.ReceiverID == m.ReceiverID
}

// Feed - realtime лента вставок сообщений. Доставка at-least-once.
type Feed interface {
	SubscribeToInserts(ctx context.Context, scope FeedScope, onEvent func(models.Message)) (Subscription, error)
}

type Subscription interface {
	Close() error
}

type Options struct {
	LoadTimeout     time.Duration
	SendTimeout     time.Duration
	MarkReadTimeout time.Duration
}

func DefaultOptions() Options {
	return Options{
		LoadTimeout:     10 * time.Second,
		SendTimeout:     10 * time.Second,
		MarkReadTimeout: 5 * time.Second,
	}
}

// WithDefaults заменяет незаданные таймауты значениями по умолчанию
func (o Options) WithDefaults() Options {
	def := DefaultOptions()
	if o.LoadTimeout <= 0 {
		o.LoadTimeout = def.LoadTimeout
	}
	if o.SendTimeout <= 0 {
		o.SendTimeout = def.SendTimeout
	}
	if o.MarkReadTimeout <= 0 {
		o.MarkReadTimeout = def.MarkReadTimeout
	}
	return o
}
