package jwt

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Issuer издатель токенов сессий
const Issuer = "gophcollab"

// ErrInvalidToken токен не прошел проверку
var ErrInvalidToken = errors.New("invalid token")

// DocumentClaims claims токена доступа к совместному документу
type DocumentClaims struct {
	SessionID  string `json:"session_id"`
	DocumentID string `json:"document_id"`
	UserID     string `json:"user_id,omitempty"`
	jwt.RegisteredClaims
}

// Service выдает и проверяет токены документов (HS256)
type Service struct {
	now    func() time.Time
	secret []byte
	ttl    time.Duration
}

// NewService создает сервис токенов.
// secret должен быть криптографически стойкой случайной строкой.
func NewService(secret string, ttl time.Duration) *Service {
	return &Service{
		secret: []byte(secret),
		ttl:    ttl,
		now:    time.Now,
	}
}

// GenerateDocumentToken создает токен доступа к документу сессии.
// Возвращает токен и время жизни в секундах.
func (s *Service) GenerateDocumentToken(sessionID, documentID, userID string) (string, int64, error) {
	now := s.now()

	claims := DocumentClaims{
		SessionID:  sessionID,
		DocumentID: documentID,
		UserID:     userID,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   documentID,
			ExpiresAt: jwt.NewNumericDate(now.Add(s.ttl)),
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			Issuer:    Issuer,
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(s.secret)
	if err != nil {
		return "", 0, fmt.Errorf("failed to sign token: %w", err)
	}

	return signed, int64(s.ttl.Seconds()), nil
}

// ValidateDocumentToken проверяет подпись, срок действия и издателя токена
func (s *Service) ValidateDocumentToken(tokenString string) (*DocumentClaims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &DocumentClaims{}, func(token *jwt.Token) (any, error) {
		// Проверяем что используется правильный алгоритм подписи
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return s.secret, nil
	},
		jwt.WithIssuer(Issuer),
		jwt.WithTimeFunc(s.now),
	)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidToken, err)
	}

	claims, ok := token.Claims.(*DocumentClaims)
	if !ok || !token.Valid || claims.DocumentID == "" {
		return nil, ErrInvalidToken
	}
	return claims, nil
}
