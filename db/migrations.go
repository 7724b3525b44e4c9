package db

import (
	"fmt"
	"log"

	"coachapp/models"

	"gorm.io/gorm"
)

type migration struct {
	name string
	sql  string
}

// Индексы, которые AutoMigrate не создает. Выполняются один раз, факт записывается в migrations.
var migrations = []migration{
	{
		name: "messages_pair_sent_at_idx",
		sql:  `CREATE INDEX IF NOT EXISTS idx_messages_pair_sent_at ON messages (sender_id, receiver_id, sent_at)`,
	},
	{
		// непрочитанные входящие: счетчики и пометка прочитанными
		name: "messages_unread_idx",
		sql:  `CREATE INDEX IF NOT EXISTS idx_messages_unread ON messages (receiver_id, sender_id) WHERE is_read = false`,
	},
}

// Migrate создает таблицы и применяет недостающие миграции
func Migrate(orm *gorm.DB) error {
	err := orm.AutoMigrate(&models.Profile{}, &models.UserToken{}, &models.Message{}, &models.Migration{})
	if err != nil {
		return fmt.Errorf("failed to auto migrate: %w", err)
	}

	for _, m := range migrations {
		var applied int64
		if err := orm.Model(&models.Migration{}).Where("name = ?", m.name).Count(&applied).Error; err != nil {
			return fmt.Errorf("failed to check migration %s: %w", m.name, err)
		}
		if applied > 0 {
			continue
		}

		err := orm.Transaction(func(tx *gorm.DB) error {
			if err := tx.Exec(m.sql).Error; err != nil {
				return err
			}
			return tx.Create(&models.Migration{Name: m.name}).Error
		})
		if err != nil {
			return fmt.Errorf("failed to apply migration %s: %w", m.name, err)
		}
		log.Printf("DEBUG: migration %s applied", m.name)
	}
	return nil
}
