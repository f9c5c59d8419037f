package boltdb

import (
	"context"
	"encoding/json"
	"fmt"

	"go.etcd.io/bbolt"

	"github.com/iudanet/gophcollab/internal/client/storage"
	"github.com/iudanet/gophcollab/internal/models"
)

const (
	keyProfile = "profile"
	keyGroupID = "group_id"
)

// SaveProfile сохраняет профиль участника
func (s *Storage) SaveProfile(ctx context.Context, profile models.Profile) error {
	if s.db == nil {
		return storage.ErrStorageClosed
	}

	data, err := json.Marshal(profile)
	if err != nil {
		return fmt.Errorf("failed to marshal profile: %w", err)
	}

	return s.db.Update(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket(bucketMetadata)
		if bucket == nil {
			return fmt.Errorf("metadata bucket not found")
		}

		if err := bucket.Put([]byte(keyProfile), data); err != nil {
			return fmt.Errorf("failed to save profile: %w", err)
		}
		return nil
	})
}

// GetProfile возвращает профиль участника или storage.ErrProfileNotFound
func (s *Storage) GetProfile(ctx context.Context) (models.Profile, error) {
	var profile models.Profile
	if s.db == nil {
		return profile, storage.ErrStorageClosed
	}

	err := s.db.View(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket(bucketMetadata)
		if bucket == nil {
			return fmt.Errorf("metadata bucket not found")
		}

		data := bucket.Get([]byte(keyProfile))
		if data == nil {
			return storage.ErrProfileNotFound
		}
		return json.Unmarshal(data, &profile)
	})

	return profile, err
}

// SaveGroupID запоминает группу последнего назначения
func (s *Storage) SaveGroupID(ctx context.Context, groupID string) error {
	if s.db == nil {
		return storage.ErrStorageClosed
	}

	return s.db.Update(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket(bucketMetadata)
		if bucket == nil {
			return fmt.Errorf("metadata bucket not found")
		}

		if groupID == "" {
			return bucket.Delete([]byte(keyGroupID))
		}
		if err := bucket.Put([]byte(keyGroupID), []byte(groupID)); err != nil {
			return fmt.Errorf("failed to save group id: %w", err)
		}
		return nil
	})
}

// GetGroupID возвращает группу последнего назначения.
// Пустая строка, если участник не назначен.
func (s *Storage) GetGroupID(ctx context.Context) (string, error) {
	if s.db == nil {
		return "", storage.ErrStorageClosed
	}

	var groupID string
	err := s.db.View(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket(bucketMetadata)
		if bucket == nil {
			return fmt.Errorf("metadata bucket not found")
		}

		groupID = string(bucket.Get([]byte(keyGroupID)))
		return nil
	})

	if err != nil {
		return "", fmt.Errorf("failed to get group id: %w", err)
	}
	return groupID, nil
}
