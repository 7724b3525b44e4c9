package services

import (
	"context"
	"errors"
	"sync"
	"testing"

	"coachapp/db"
	"coachapp/models"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	orm, err := db.Open(sqlite.Open(":memory:"))
	require.NoError(t, err)
	sqlDB, err := orm.DB()
	require.NoError(t, err)
	// каждое соединение :memory: - отдельная база
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })
	require.NoError(t, db.Migrate(orm))
	return orm
}

func newTestRedis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return mr, client
}

type recordingPublisher struct {
	mu        sync.Mutex
	published []models.Message
	err       error
}

func (p *recordingPublisher) PublishInsert(ctx context.Context, m models.Message) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return p.err
	}
	p.published = append(p.published, m)
	return nil
}

func (p *recordingPublisher) messages() []models.Message {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]models.Message(nil), p.published...)
}

var errPublishFailed = errors.New("broker unavailable")

// eventSink собирает события подписки для проверок через Eventually
type eventSink struct {
	mu     sync.Mutex
	events []models.Message
}

func (s *eventSink) add(m models.Message) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, m)
}

func (s *eventSink) snapshot() []models.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]models.Message(nil), s.events...)
}

func (s *eventSink) len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.events)
}

func draft(from, to, content string) models.MessageDraft {
	return models.MessageDraft{SenderID: from, ReceiverID: to, Content: content}
}

func contentsOf(messages []models.Message) []string {
	out := make([]string, 0, len(messages))
	for _, m := range messages {
		out = append(out, m.Content)
	}
	return out
}
