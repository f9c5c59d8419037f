// Package documents обслуживает совместные документы сессий:
// выдачу адреса и токена, синхронизацию записей LWW и мягкий сброс.
package documents

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"golang.org/x/crypto/blake2b"

	"github.com/iudanet/gophcollab/internal/models"
	"github.com/iudanet/gophcollab/internal/server/metrics"
	"github.com/iudanet/gophcollab/internal/server/storage"
	"github.com/iudanet/gophcollab/pkg/api"
)

// ErrUnknownSession сессия документа не найдена
var ErrUnknownSession = errors.New("unknown collaboration session")

// Store хранилище, необходимое сервису документов
type Store interface {
	storage.CollabStorage
	storage.DocumentStorage
}

// TokenIssuer выдает токены доступа к документу
type TokenIssuer interface {
	GenerateDocumentToken(sessionID, documentID, userID string) (string, int64, error)
}

// Service сервис совместных документов
type Service struct {
	store     Store
	tokens    TokenIssuer
	logger    *slog.Logger
	now       func() time.Time
	publicURL string
	key       [32]byte
}

// NewService создает сервис. secret используется как ключ BLAKE2b
// для получения идентификаторов документов из идентификаторов сессий.
func NewService(logger *slog.Logger, store Store, tokens TokenIssuer, publicURL, secret string) *Service {
	return &Service{
		store:     store,
		tokens:    tokens,
		logger:    logger,
		now:       time.Now,
		publicURL: strings.TrimRight(publicURL, "/"),
		key:       blake2b.Sum256([]byte(secret)),
	}
}

// DocumentID детерминированный идентификатор документа сессии.
// По идентификатору документа нельзя восстановить идентификатор сессии.
func (s *Service) DocumentID(sessionID string) string {
	h, err := blake2b.New(16, s.key[:])
	if err != nil {
		// Размер и длина ключа фиксированы
		panic(fmt.Sprintf("blake2b: %v", err))
	}
	h.Write([]byte(sessionID))
	return hex.EncodeToString(h.Sum(nil))
}

// DocumentURL адрес документа для клиента
func (s *Service) DocumentURL(documentID string) string {
	return s.publicURL + "/api/v1/documents/" + documentID
}

// Join подключает участника к документу сессии, создавая документ при первом обращении
func (s *Service) Join(ctx context.Context, sessionID, userID string) (*api.JoinSessionResponse, error) {
	documentID := s.DocumentID(sessionID)

	cs, err := s.store.GetOrCreateCollabSession(ctx, sessionID, s.DocumentURL(documentID))
	if err != nil {
		return nil, fmt.Errorf("failed to attach session: %w", err)
	}

	token, expiresIn, err := s.tokens.GenerateDocumentToken(sessionID, documentID, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to issue document token: %w", err)
	}

	s.logger.InfoContext(ctx, "session joined",
		slog.String("session_id", sessionID),
		slog.String("document_id", documentID),
		slog.String("user_id", userID))

	return &api.JoinSessionResponse{
		DocumentURL: cs.DocumentURL,
		Token:       token,
		ExpiresIn:   expiresIn,
	}, nil
}

// SoftReset очищает записи документа, сохраняя саму сессию
func (s *Service) SoftReset(ctx context.Context, sessionID string) error {
	if _, err := s.collabSession(ctx, sessionID); err != nil {
		return err
	}

	documentID := s.DocumentID(sessionID)
	if err := s.store.ClearDocument(ctx, documentID); err != nil {
		return fmt.Errorf("failed to clear document: %w", err)
	}
	if err := s.store.ResetCollabSession(ctx, sessionID, s.now()); err != nil {
		return fmt.Errorf("failed to mark reset: %w", err)
	}

	s.logger.InfoContext(ctx, "session soft reset",
		slog.String("session_id", sessionID),
		slog.String("document_id", documentID))
	return nil
}

// Sync сохраняет записи клиента по правилу LWW и возвращает записи новее req.Since
func (s *Service) Sync(ctx context.Context, sessionID, documentID string, req api.DocumentSyncRequest) (*api.DocumentSyncResponse, error) {
	if _, err := s.collabSession(ctx, sessionID); err != nil {
		return nil, err
	}

	conflicts := 0
	for _, e := range req.Entries {
		entry := FromAPI(e)
		saved, err := s.store.SaveEntry(ctx, documentID, entry)
		if err != nil {
			if errors.Is(err, storage.ErrInvalidEntry) {
				metrics.DocumentEntries.WithLabelValues("invalid").Inc()
				return nil, err
			}
			return nil, fmt.Errorf("failed to save entry %s: %w", e.Key, err)
		}
		if !saved {
			conflicts++
			metrics.DocumentEntries.WithLabelValues("conflict").Inc()
			s.logger.DebugContext(ctx, "entry not saved (existing is newer)",
				slog.String("document_id", documentID), slog.String("key", e.Key))
			continue
		}
		metrics.DocumentEntries.WithLabelValues("saved").Inc()
	}

	resp, err := s.Pull(ctx, sessionID, documentID, req.Since)
	if err != nil {
		return nil, err
	}
	resp.Conflicts = conflicts

	s.logger.DebugContext(ctx, "document synced",
		slog.String("document_id", documentID),
		slog.Int("received", len(req.Entries)),
		slog.Int("returned", len(resp.Entries)),
		slog.Int("conflicts", conflicts))
	return resp, nil
}

// Pull возвращает записи документа с Seq больше since
func (s *Service) Pull(ctx context.Context, sessionID, documentID string, since int64) (*api.DocumentSyncResponse, error) {
	cs, err := s.collabSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}

	entries, current, err := s.store.EntriesSince(ctx, documentID, since)
	if err != nil {
		return nil, fmt.Errorf("failed to load entries: %w", err)
	}

	out := make([]api.DocumentEntry, 0, len(entries))
	for _, e := range entries {
		out = append(out, ToAPI(e))
	}

	var resetAt int64
	if !cs.ResetAt.IsZero() {
		resetAt = cs.ResetAt.UnixMilli()
	}

	return &api.DocumentSyncResponse{
		Entries:    out,
		CurrentSeq: current,
		ResetAt:    resetAt,
	}, nil
}

func (s *Service) collabSession(ctx context.Context, sessionID string) (*models.CollabSession, error) {
	cs, err := s.store.GetCollabSession(ctx, sessionID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, fmt.Errorf("%w: %s", ErrUnknownSession, sessionID)
		}
		return nil, fmt.Errorf("failed to get session: %w", err)
	}
	return cs, nil
}

// ToAPI конвертирует запись в формат API
func ToAPI(e *models.ReplicatedEntry) api.DocumentEntry {
	return api.DocumentEntry{
		Key:       e.Key,
		Value:     e.Value,
		Timestamp: e.Timestamp,
		NodeID:    e.NodeID,
		Seq:       e.Seq,
		Deleted:   e.Deleted,
		UpdatedAt: e.UpdatedAt,
	}
}

// FromAPI конвертирует запись из формата API. Seq назначает сервер.
func FromAPI(e api.DocumentEntry) *models.ReplicatedEntry {
	return &models.ReplicatedEntry{
		Key:       e.Key,
		Value:     e.Value,
		Timestamp: e.Timestamp,
		NodeID:    e.NodeID,
		Deleted:   e.Deleted,
		UpdatedAt: e.UpdatedAt,
	}
}
