package storage

import "errors"

// Common client storage errors
var (
	// ErrStorageClosed хранилище закрыто
	ErrStorageClosed = errors.New("storage is closed")

	// ErrProfileNotFound профиль участника еще не сохранен
	ErrProfileNotFound = errors.New("participant profile not found")
)
