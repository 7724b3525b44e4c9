package services

import (
	"context"
	"fmt"
	"log"
	"strconv"
	"strings"
	"time"

	"coachapp/messaging"
	"coachapp/models"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
)

// Lua скрипты: вставка и пометка прочитанными выполняются атомарно.
// Время отправки - микросекунды от TIME сервера, строго возрастающие через messages:clock.
var (
	insertMessageScript = `
		local message_key = KEYS[1]
		local dialog_key = KEYS[2]
		local sender_key = KEYS[3]
		local receiver_key = KEYS[4]
		local clock_key = KEYS[5]

		local t = redis.call('TIME')
		local now = tonumber(t[1]) * 1000000 + tonumber(t[2])
		local last = tonumber(redis.call('GET', clock_key) or '0')
		if now <= last then
			now = last + 1
		end
		local stamp = string.format('%d', now)
		redis.call('SET', clock_key, stamp)

		redis.call('HSET', message_key,
			'id', ARGV[1],
			'sender_id', ARGV[2],
			'receiver_id', ARGV[3],
			'content', ARGV[4],
			'sent_at', stamp,
			'is_read', '0',
			'related_entity_type', ARGV[5],
			'related_entity_id', ARGV[6]
		)

		-- индексы переписки пары и всех сообщений каждого участника (score = sent_at)
		redis.call('ZADD', dialog_key, stamp, ARGV[1])
		redis.call('ZADD', sender_key, stamp, ARGV[1])
		if receiver_key ~= sender_key then
			redis.call('ZADD', receiver_key, stamp, ARGV[1])
		end

		return stamp
	`

	markAsReadScript = `
		local dialog_key = KEYS[1]
		local reader_id = ARGV[1]
		local partner_id = ARGV[2]
		local message_prefix = ARGV[3]

		local ids = redis.call('ZRANGE', dialog_key, 0, -1)
		local updated = 0
		for _, id in ipairs(ids) do
			local key = message_prefix .. id
			local fields = redis.call('HMGET', key, 'sender_id', 'receiver_id', 'is_read')
			if fields[1] == partner_id and fields[2] == reader_id and fields[3] == '0' then
				redis.call('HSET', key, 'is_read', '1')
				updated = updated + 1
			end
		end

		return updated
	`
)

// RedisMessageStore - хранилище сообщений в Redis. Для установок без postgres
// под сообщения; профили при этом остаются в БД.
type RedisMessageStore struct {
	client    *redis.Client
	publisher InsertPublisher

	insertSHA   string
	markReadSHA string
}

func NewRedisMessageStore(ctx context.Context, client *redis.Client, publisher InsertPublisher) (*RedisMessageStore, error) {
	s := &RedisMessageStore{client: client, publisher: publisher}
	if err := s.loadLuaScripts(ctx); err != nil {
		return nil, err
	}
	return s, nil
}

// loadLuaScripts загружает Lua скрипты в Redis
func (s *RedisMessageStore) loadLuaScripts(ctx context.Context) error {
	var err error
	s.insertSHA, err = s.client.ScriptLoad(ctx, insertMessageScript).Result()
	if err != nil {
		return fmt.Errorf("failed to load insertMessage script: %w", err)
	}
	s.markReadSHA, err = s.client.ScriptLoad(ctx, markAsReadScript).Result()
	if err != nil {
		return fmt.Errorf("failed to load markAsRead script: %w", err)
	}
	log.Println("Lua message scripts loaded successfully")
	return nil
}

// evalSha выполняет загруженный скрипт; после рестарта Redis скрипта в кеше нет,
// тогда он отправляется целиком
func (s *RedisMessageStore) evalSha(ctx context.Context, sha, script string, keys []string, args ...interface{}) (interface{}, error) {
	res, err := s.client.EvalSha(ctx, sha, keys, args...).Result()
	if err != nil && strings.HasPrefix(err.Error(), "NOSCRIPT") {
		return s.client.Eval(ctx, script, keys, args...).Result()
	}
	return res, err
}

func messageKey(id string) string {
	return "message:" + id
}

func userMessagesKey(userID string) string {
	return "user_messages:" + userID
}

// dialogKey возвращает ключ переписки пары, порядок участников не важен
func dialogKey(a, b string) string {
	if a > b {
		a, b = b, a
	}
	return fmt.Sprintf("dialog:%s:%s", a, b)
}

const clockKey = "messages:clock"

func (s *RedisMessageStore) QueryMessages(ctx context.Context, filter messaging.MessageFilter, dir messaging.SortDirection) ([]models.Message, error) {
	var key string
	switch {
	case filter.Participant != "":
		key = userMessagesKey(filter.Participant)
	case filter.IsPair():
		key = dialogKey(filter.Pair[0], filter.Pair[1])
	default:
		return nil, errEmptyFilter
	}

	var ids []string
	var err error
	if dir == messaging.Descending {
		ids, err = s.client.ZRevRange(ctx, key, 0, -1).Result()
	} else {
		ids, err = s.client.ZRange(ctx, key, 0, -1).Result()
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query messages: %w", err)
	}
	if len(ids) == 0 {
		return []models.Message{}, nil
	}

	pipe := s.client.Pipeline()
	cmds := make([]*redis.StringStringMapCmd, len(ids))
	for i, id := range ids {
		cmds[i] = pipe.HGetAll(ctx, messageKey(id))
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return nil, fmt.Errorf("failed to load messages: %w", err)
	}

	messages := make([]models.Message, 0, len(ids))
	for i, cmd := range cmds {
		fields := cmd.Val()
		if len(fields) == 0 {
			log.Printf("ERROR: message %s is indexed but missing", ids[i])
			continue
		}
		m, err := messageFromHash(fields)
		if err != nil {
			log.Printf("ERROR: failed to decode message %s: %v", ids[i], err)
			continue
		}
		messages = append(messages, m)
	}
	return messages, nil
}

func (s *RedisMessageStore) InsertMessage(ctx context.Context, draft models.MessageDraft) (*models.Message, error) {
	id := uuid.NewString()
	keys := []string{
		messageKey(id),
		dialogKey(draft.SenderID, draft.ReceiverID),
		userMessagesKey(draft.SenderID),
		userMessagesKey(draft.ReceiverID),
		clockKey,
	}
	result, err := s.evalSha(ctx, s.insertSHA, insertMessageScript, keys,
		id, draft.SenderID, draft.ReceiverID, draft.Content,
		optional(draft.RelatedEntityType), optional(draft.RelatedEntityID))
	if err != nil {
		return nil, fmt.Errorf("failed to insert message: %w", err)
	}

	stamp, ok := result.(string)
	if !ok {
		return nil, fmt.Errorf("failed to insert message: unexpected script result %T", result)
	}
	sentAt, err := parseMicros(stamp)
	if err != nil {
		return nil, fmt.Errorf("failed to insert message: %w", err)
	}

	m := models.Message{
		ID:                id,
		SenderID:          draft.SenderID,
		ReceiverID:        draft.ReceiverID,
		Content:           draft.Content,
		SentAt:            sentAt,
		RelatedEntityType: draft.RelatedEntityType,
		RelatedEntityID:   draft.RelatedEntityID,
	}
	if s.publisher != nil {
		if err := s.publisher.PublishInsert(ctx, m); err != nil {
			log.Printf("ERROR: failed to publish message %s: %v", m.ID, err)
		}
	}
	return &m, nil
}

func (s *RedisMessageStore) MarkAsRead(ctx context.Context, readerID, partnerID string) (int64, error) {
	result, err := s.evalSha(ctx, s.markReadSHA, markAsReadScript,
		[]string{dialogKey(readerID, partnerID)}, readerID, partnerID, messageKey(""))
	if err != nil {
		return 0, fmt.Errorf("failed to mark messages as read: %w", err)
	}
	count, _ := result.(int64)
	return count, nil
}

func messageFromHash(fields map[string]string) (models.Message, error) {
	sentAt, err := parseMicros(fields["sent_at"])
	if err != nil {
		return models.Message{}, err
	}
	m := models.Message{
		ID:         fields["id"],
		SenderID:   fields["sender_id"],
		ReceiverID: fields["receiver_id"],
		Content:    fields["content"],
		SentAt:     sentAt,
		IsRead:     fields["is_read"] == "1",
	}
	if v := fields["related_entity_type"]; v != "" {
		m.RelatedEntityType = &v
	}
	if v := fields["related_entity_id"]; v != "" {
		m.RelatedEntityID = &v
	}
	return m, nil
}

func parseMicros(v string) (time.Time, error) {
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return time.Time{}, fmt.Errorf("bad sent_at %q: %w", v, err)
	}
	return time.UnixMicro(n).UTC(), nil
}

func optional(v *string) string {
	if v == nil {
		return ""
	}
	return *v
}
