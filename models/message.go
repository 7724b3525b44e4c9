package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Message представляет сообщение в диалоге между тренером и клиентом.
// После создания меняется только флаг IsRead (false -> true).
type Message struct {
	ID                string    `gorm:"primaryKey;size:36" json:"id"`
	SenderID          string    `gorm:"column:sender_id;size:36;not null;index" json:"sender_id"`
	ReceiverID        string    `gorm:"column:receiver_id;size:36;not null;index" json:"receiver_id"`
	Content           string    `gorm:"type:text;not null" json:"content"`
	SentAt            time.Time `gorm:"column:sent_at;not null;index" json:"sent_at"`
	IsRead            bool      `gorm:"column:is_read;not null;default:false" json:"is_read"`
	RelatedEntityType *string   `gorm:"size:40" json:"related_entity_type,omitempty"`
	RelatedEntityID   *string   `gorm:"size:64" json:"related_entity_id,omitempty"`
}

// TableName возвращает имя таблицы для модели Message
func (Message) TableName() string {
	return "messages"
}

// BeforeCreate назначает идентификатор, если хранилище его не передало
func (m *Message) BeforeCreate(tx *gorm.DB) error {
	if m.ID == "" {
		m.ID = uuid.NewString()
	}
	return nil
}

// MessageDraft - данные для вставки; ID и SentAt назначает хранилище
type MessageDraft struct {
	SenderID          string
	ReceiverID        string
	Content           string
	RelatedEntityType *string
	RelatedEntityID   *string
}

// ConversationPartner - собеседник текущего пользователя в списке диалогов.
// Не хранится, пересчитывается из сообщений.
type ConversationPartner struct {
	ID          string  `json:"id"`
	DisplayName string  `json:"display_name"`
	LastMessage Message `json:"last_message"`
	UnreadCount int     `json:"unread_count"`
}
