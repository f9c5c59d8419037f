// Package redis хранит записи реплицируемых документов в Redis.
// Записи документа лежат в хеше, порядок изменений - в sorted set по Seq.
package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/iudanet/gophcollab/internal/models"
	"github.com/iudanet/gophcollab/internal/server/storage"
)

var _ storage.DocumentStorage = (*Storage)(nil)

// saveScript атомарно применяет правило LWW и назначает Seq.
// KEYS: versions, entries, changes, seq. ARGV: key, timestamp, nodeId, payload.
// Возвращает новый Seq или 0, если существующая версия новее.
var saveScript = redis.NewScript(`
local cur = redis.call('HGET', KEYS[1], ARGV[1])
if cur then
  local sep = string.find(cur, '|', 1, true)
  local ts = tonumber(string.sub(cur, 1, sep - 1))
  local node = string.sub(cur, sep + 1)
  local newTs = tonumber(ARGV[2])
  if newTs < ts or (newTs == ts and ARGV[3] <= node) then
    return 0
  end
end
local seq = redis.call('INCR', KEYS[4])
redis.call('HSET', KEYS[1], ARGV[1], ARGV[2] .. '|' .. ARGV[3])
redis.call('HSET', KEYS[2], ARGV[1], ARGV[4])
redis.call('ZADD', KEYS[3], seq, ARGV[1])
return seq
`)

// storedEntry запись в хеше документа; Seq хранится в sorted set
type storedEntry struct {
	UpdatedAt int64           `json:"updated_at"`
	NodeID    string          `json:"node_id"`
	Value     json.RawMessage `json:"value"`
	Timestamp int64           `json:"timestamp"`
	Deleted   bool            `json:"deleted"`
}

// Storage хранилище документов в Redis
type Storage struct {
	client *redis.Client
	prefix string
}

// New подключается к Redis по URL (redis://host:port/db)
func New(ctx context.Context, redisURL string) (*Storage, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse redis url: %w", err)
	}

	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	return &Storage{client: client, prefix: "gophcollab"}, nil
}

// Close закрывает соединение
func (s *Storage) Close() error {
	return s.client.Close()
}

// Ping проверяет доступность Redis
func (s *Storage) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

func (s *Storage) key(documentID, kind string) string {
	return fmt.Sprintf("%s:doc:{%s}:%s", s.prefix, documentID, kind)
}

// SaveEntry сохраняет запись по правилу LWW и назначает ей Seq
func (s *Storage) SaveEntry(ctx context.Context, documentID string, entry *models.ReplicatedEntry) (bool, error) {
	if entry.Key == "" || entry.NodeID == "" {
		return false, storage.ErrInvalidEntry
	}

	updatedAt := entry.UpdatedAt
	if updatedAt.IsZero() {
		updatedAt = time.Now()
	}
	value := entry.Value
	if len(value) == 0 {
		value = json.RawMessage("null")
	}

	payload, err := json.Marshal(storedEntry{
		UpdatedAt: updatedAt.UnixMilli(),
		NodeID:    entry.NodeID,
		Value:     value,
		Timestamp: entry.Timestamp,
		Deleted:   entry.Deleted,
	})
	if err != nil {
		return false, fmt.Errorf("failed to marshal entry: %w", err)
	}

	keys := []string{
		s.key(documentID, "versions"),
		s.key(documentID, "entries"),
		s.key(documentID, "changes"),
		s.key(documentID, "seq"),
	}
	seq, err := saveScript.Run(ctx, s.client, keys,
		entry.Key, entry.Timestamp, entry.NodeID, payload).Int64()
	if err != nil {
		return false, fmt.Errorf("failed to save entry: %w", err)
	}
	if seq == 0 {
		return false, nil
	}

	entry.Seq = seq
	entry.UpdatedAt = updatedAt
	return true, nil
}

// EntriesSince возвращает записи с Seq больше since и текущий Seq документа
func (s *Storage) EntriesSince(ctx context.Context, documentID string, since int64) ([]*models.ReplicatedEntry, int64, error) {
	current, err := s.client.Get(ctx, s.key(documentID, "seq")).Int64()
	if err != nil && !errors.Is(err, redis.Nil) {
		return nil, 0, fmt.Errorf("failed to get document seq: %w", err)
	}

	changes, err := s.client.ZRangeByScoreWithScores(ctx, s.key(documentID, "changes"), &redis.ZRangeBy{
		Min: "(" + strconv.FormatInt(since, 10),
		Max: "+inf",
	}).Result()
	if err != nil {
		return nil, 0, fmt.Errorf("failed to query changes: %w", err)
	}

	entries := make([]*models.ReplicatedEntry, 0, len(changes))
	if len(changes) == 0 {
		return entries, current, nil
	}

	fields := make([]string, len(changes))
	for i, z := range changes {
		fields[i] = z.Member.(string)
	}
	payloads, err := s.client.HMGet(ctx, s.key(documentID, "entries"), fields...).Result()
	if err != nil {
		return nil, 0, fmt.Errorf("failed to get entries: %w", err)
	}

	for i, raw := range payloads {
		str, ok := raw.(string)
		if !ok {
			// Документ очищен между запросами
			continue
		}
		e, err := decodeEntry(fields[i], int64(changes[i].Score), str)
		if err != nil {
			return nil, 0, err
		}
		entries = append(entries, e)
	}

	return entries, current, nil
}

// ClearDocument удаляет записи документа. Счетчик Seq сохраняется.
func (s *Storage) ClearDocument(ctx context.Context, documentID string) error {
	_, err := s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx,
			s.key(documentID, "versions"),
			s.key(documentID, "entries"),
			s.key(documentID, "changes"),
		)
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to clear document: %w", err)
	}
	return nil
}

func decodeEntry(key string, seq int64, payload string) (*models.ReplicatedEntry, error) {
	var stored storedEntry
	if err := json.Unmarshal([]byte(payload), &stored); err != nil {
		return nil, fmt.Errorf("failed to decode entry %s: %w", key, err)
	}
	return &models.ReplicatedEntry{
		Key:       key,
		Value:     stored.Value,
		Timestamp: stored.Timestamp,
		NodeID:    stored.NodeID,
		Seq:       seq,
		Deleted:   stored.Deleted,
		UpdatedAt: time.UnixMilli(stored.UpdatedAt),
	}, nil
}
