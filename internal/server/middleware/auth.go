package middleware

import (
	"log/slog"
	"net/http"
	"strings"

	"github.com/iudanet/gophcollab/internal/server/handlers"
	"github.com/iudanet/gophcollab/internal/server/jwt"
)

// TokenValidator проверяет токены документов
type TokenValidator interface {
	ValidateDocumentToken(token string) (*jwt.DocumentClaims, error)
}

// DocumentAuthMiddleware создает middleware для проверки токена документа.
// Токен должен быть выдан для документа из пути запроса ({documentId}).
func DocumentAuthMiddleware(logger *slog.Logger, tokens TokenValidator) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()

			// Ожидаем формат: "Bearer <token>"
			authHeader := r.Header.Get("Authorization")
			if authHeader == "" {
				logger.WarnContext(ctx, "missing Authorization header")
				sendError(w, "missing token", http.StatusUnauthorized)
				return
			}
			parts := strings.SplitN(authHeader, " ", 2)
			if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") || parts[1] == "" {
				logger.WarnContext(ctx, "invalid Authorization header format")
				sendError(w, "invalid token format", http.StatusUnauthorized)
				return
			}

			claims, err := tokens.ValidateDocumentToken(parts[1])
			if err != nil {
				logger.WarnContext(ctx, "invalid document token", slog.Any("error", err))
				sendError(w, "invalid token", http.StatusUnauthorized)
				return
			}

			if documentID := r.PathValue("documentId"); documentID != "" && documentID != claims.DocumentID {
				logger.WarnContext(ctx, "token issued for another document",
					slog.String("document_id", documentID),
					slog.String("token_document_id", claims.DocumentID))
				sendError(w, "token is not valid for this document", http.StatusForbidden)
				return
			}

			ctx = handlers.WithDocument(ctx, claims.SessionID, claims.DocumentID, claims.UserID)
			logger.DebugContext(ctx, "document access granted",
				slog.String("session_id", claims.SessionID),
				slog.String("user_id", claims.UserID))

			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
