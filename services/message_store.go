package services

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"coachapp/db"
	"coachapp/messaging"
	"coachapp/models"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

var errEmptyFilter = errors.New("message filter is empty")

// InsertPublisher получает каждую успешно сохраненную строку
type InsertPublisher interface {
	PublishInsert(ctx context.Context, m models.Message) error
}

// MessageFeed - realtime лента, в которую хранилище публикует вставки
type MessageFeed interface {
	messaging.Feed
	InsertPublisher
	Close() error
}

// MessageStore хранит сообщения в postgres через gorm. Чтение идет с реплик.
type MessageStore struct {
	orm       *gorm.DB
	publisher InsertPublisher

	mu   sync.Mutex
	last time.Time
	now  func() time.Time
}

func NewMessageStore(orm *gorm.DB, publisher InsertPublisher) *MessageStore {
	return &MessageStore{orm: orm, publisher: publisher, now: time.Now}
}

func (s *MessageStore) QueryMessages(ctx context.Context, filter messaging.MessageFilter, dir messaging.SortDirection) ([]models.Message, error) {
	q := db.ReadOnly(ctx, s.orm).Model(&models.Message{})
	switch {
	case filter.Participant != "":
		q = q.Where("sender_id = ? OR receiver_id = ?", filter.Participant, filter.Participant)
	case filter.IsPair():
		a, b := filter.Pair[0], filter.Pair[1]
		q = q.Where("(sender_id = ? AND receiver_id = ?) OR (sender_id = ? AND receiver_id = ?)", a, b, b, a)
	default:
		return nil, errEmptyFilter
	}

	order := "sent_at ASC, id ASC"
	if dir == messaging.Descending {
		order = "sent_at DESC, id DESC"
	}

	messages := make([]models.Message, 0)
	if err := q.Order(order).Find(&messages).Error; err != nil {
		return nil, fmt.Errorf("failed to query messages: %w", err)
	}
	return messages, nil
}

// InsertMessage сохраняет сообщение и публикует его в ленту.
// Ошибка публикации не отменяет вставку, только логируется.
func (s *MessageStore) InsertMessage(ctx context.Context, draft models.MessageDraft) (*models.Message, error) {
	floor, err := s.lastSentAt(ctx, draft.SenderID, draft.ReceiverID)
	if err != nil {
		return nil, err
	}
	m := models.Message{
		ID:                uuid.NewString(),
		SenderID:          draft.SenderID,
		ReceiverID:        draft.ReceiverID,
		Content:           draft.Content,
		SentAt:            s.stamp(floor),
		RelatedEntityType: draft.RelatedEntityType,
		RelatedEntityID:   draft.RelatedEntityID,
	}
	if err := db.Write(ctx, s.orm).Create(&m).Error; err != nil {
		return nil, fmt.Errorf("failed to insert message: %w", err)
	}

	if s.publisher != nil {
		if err := s.publisher.PublishInsert(ctx, m); err != nil {
			log.Printf("ERROR: failed to publish message %s: %v", m.ID, err)
		}
	}
	return &m, nil
}

// MarkAsRead помечает прочитанными все входящие от partnerID
func (s *MessageStore) MarkAsRead(ctx context.Context, readerID, partnerID string) (int64, error) {
	res := db.Write(ctx, s.orm).Model(&models.Message{}).
		Where("receiver_id = ? AND sender_id = ? AND is_read = ?", readerID, partnerID, false).
		Update("is_read", true)
	if res.Error != nil {
		return 0, fmt.Errorf("failed to mark messages as read: %w", res.Error)
	}
	return res.RowsAffected, nil
}

// lastSentAt - время последнего сообщения пары на мастере. Другие инстансы
// пишут в ту же таблицу со своими часами.
func (s *MessageStore) lastSentAt(ctx context.Context, a, b string) (time.Time, error) {
	var last []models.Message
	err := db.Write(ctx, s.orm).Model(&models.Message{}).Select("sent_at").
		Where("(sender_id = ? AND receiver_id = ?) OR (sender_id = ? AND receiver_id = ?)", a, b, b, a).
		Order("sent_at DESC").Limit(1).Find(&last).Error
	if err != nil {
		return time.Time{}, fmt.Errorf("failed to read last message time: %w", err)
	}
	if len(last) == 0 {
		return time.Time{}, nil
	}
	return last[0].SentAt, nil
}

// stamp выдает строго возрастающее время с точностью postgres (микросекунды),
// не раньше floor
func (s *MessageStore) stamp(floor time.Time) time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.now().UTC().Truncate(time.Microsecond)
	if !now.After(s.last) {
		now = s.last.Add(time.Microsecond)
	}
	if floor = floor.UTC().Truncate(time.Microsecond); !now.After(floor) {
		now = floor.Add(time.Microsecond)
	}
	s.last = now
	return now
}
