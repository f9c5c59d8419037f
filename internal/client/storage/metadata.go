package storage

import (
	"context"

	"github.com/iudanet/gophcollab/internal/models"
)

//go:generate moq -out profile_mock.go . ProfileStorage

// ProfileStorage хранит профиль участника между запусками клиента
type ProfileStorage interface {
	// SaveProfile сохраняет профиль
	SaveProfile(ctx context.Context, profile models.Profile) error

	// GetProfile возвращает профиль или ErrProfileNotFound
	GetProfile(ctx context.Context) (models.Profile, error)

	// SaveGroupID запоминает группу последнего назначения, пустая строка очищает
	SaveGroupID(ctx context.Context, groupID string) error

	// GetGroupID возвращает группу последнего назначения или пустую строку
	GetGroupID(ctx context.Context) (string, error)
}
