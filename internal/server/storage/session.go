package storage

import (
	"context"
	"time"

	"github.com/iudanet/gophcollab/internal/models"
)

// SessionStorage defines interface for saved session results
type SessionStorage interface {
	// SaveSessionData stores a finished session result
	// Returns ErrAlreadyExists if session with same id exists
	SaveSessionData(ctx context.Context, data *models.SessionData) error

	// GetSessionData retrieves session result by id
	// Returns ErrNotFound if session doesn't exist
	GetSessionData(ctx context.Context, sessionID string) (*models.SessionData, error)

	// GetUserSessions retrieves all session results the user took part in
	// Returns empty slice if no sessions found
	GetUserSessions(ctx context.Context, userID string) ([]*models.SessionData, error)
}

// CommentStorage defines interface for comments on saved sessions
type CommentStorage interface {
	// SaveComment stores a comment
	SaveComment(ctx context.Context, comment *models.Comment) error

	// GetComments retrieves comments of a session ordered by creation time
	// Returns empty slice if no comments found
	GetComments(ctx context.Context, sessionID string) ([]*models.Comment, error)
}

// CollabStorage defines interface for collaborative document sessions
type CollabStorage interface {
	// GetOrCreateCollabSession returns existing session or creates a new one
	// with the given document URL
	GetOrCreateCollabSession(ctx context.Context, sessionID, documentURL string) (*models.CollabSession, error)

	// GetCollabSession retrieves collaborative session by id
	// Returns ErrNotFound if session doesn't exist
	GetCollabSession(ctx context.Context, sessionID string) (*models.CollabSession, error)

	// ResetCollabSession marks session as reset at the given time
	// Returns ErrNotFound if session doesn't exist
	ResetCollabSession(ctx context.Context, sessionID string, at time.Time) error
}
