package storage

import (
	"context"

	"github.com/iudanet/gophcollab/internal/models"
)

// DocumentStorage defines interface for replicated document entries
type DocumentStorage interface {
	// SaveEntry creates or updates an entry of the document
	// Uses LWW logic: only saves if entry is newer than existing.
	// Saved entry gets the next document sequence number in entry.Seq.
	// Returns true if entry was saved, false if existing entry is newer or equal
	SaveEntry(ctx context.Context, documentID string, entry *models.ReplicatedEntry) (bool, error)

	// EntriesSince retrieves all entries (including deleted) of the document
	// with sequence number greater than since, ordered by sequence number.
	// Also returns current sequence number of the document.
	EntriesSince(ctx context.Context, documentID string, since int64) ([]*models.ReplicatedEntry, int64, error)

	// ClearDocument removes all entries of the document.
	// Sequence number keeps growing after clear.
	ClearDocument(ctx context.Context, documentID string) error
}
