package boltdb

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"fmt"

	"go.etcd.io/bbolt"

	"github.com/iudanet/gophcollab/internal/client/storage"
	"github.com/iudanet/gophcollab/internal/models"
)

// Append дописывает событие в журнал взаимодействий.
// Seq события заменяется порядковым номером bucket, чтобы номера
// не повторялись между запусками клиента.
func (s *Storage) Append(ctx context.Context, event models.InteractionEvent) error {
	if s.db == nil {
		return storage.ErrStorageClosed
	}

	return s.db.Update(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket(bucketInteractions)
		if bucket == nil {
			return fmt.Errorf("interactions bucket not found")
		}

		seq, err := bucket.NextSequence()
		if err != nil {
			return fmt.Errorf("failed to allocate sequence: %w", err)
		}
		event.Seq = int64(seq)

		data, err := json.Marshal(event)
		if err != nil {
			return fmt.Errorf("failed to marshal interaction: %w", err)
		}

		if err := bucket.Put(seqKey(seq), data); err != nil {
			return fmt.Errorf("failed to save interaction: %w", err)
		}
		return nil
	})
}

// Events возвращает весь журнал в порядке записи
func (s *Storage) Events(ctx context.Context) ([]models.InteractionEvent, error) {
	if s.db == nil {
		return nil, storage.ErrStorageClosed
	}

	var events []models.InteractionEvent

	err := s.db.View(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket(bucketInteractions)
		if bucket == nil {
			return nil
		}

		return bucket.ForEach(func(k, v []byte) error {
			var event models.InteractionEvent
			if err := json.Unmarshal(v, &event); err != nil {
				return fmt.Errorf("failed to unmarshal interaction %d: %w", binary.BigEndian.Uint64(k), err)
			}
			events = append(events, event)
			return nil
		})
	})

	if err != nil {
		return nil, fmt.Errorf("failed to read interactions: %w", err)
	}

	return events, nil
}

// ClearInteractions очищает журнал, например при смене задачи
func (s *Storage) ClearInteractions(ctx context.Context) error {
	if s.db == nil {
		return storage.ErrStorageClosed
	}

	return s.db.Update(func(tx *bbolt.Tx) error {
		if err := tx.DeleteBucket(bucketInteractions); err != nil && err != bbolt.ErrBucketNotFound {
			return fmt.Errorf("failed to delete interactions bucket: %w", err)
		}
		_, err := tx.CreateBucket(bucketInteractions)
		return err
	})
}

// seqKey big-endian ключ, чтобы обход ForEach шел в порядке записи
func seqKey(seq uint64) []byte {
	key := make([]byte, 8)
	binary.BigEndian.PutUint64(key, seq)
	return key
}
