package backend

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/dmitrijs2005/fieldsync/internal/common"
	"github.com/golang-jwt/jwt/v5"
)

// TokenSource supplies the access token attached to every call.
type TokenSource interface {
	Token(ctx context.Context) (string, error)
}

// Refresher is implemented by token sources that can obtain a new token
// after the backend reports the current one expired.
type Refresher interface {
	Refresh(ctx context.Context) error
}

// StaticTokenSource holds a token handed over by the auth collaborator.
// The token is inspected (not verified) so expiry is detected locally.
type StaticTokenSource struct {
	mu    sync.RWMutex
	token string
	now   func() time.Time
}

func NewStaticTokenSource(token string) *StaticTokenSource {
	return &StaticTokenSource{token: token, now: time.Now}
}

// Set replaces the token, e.g. after the user signed in again.
func (s *StaticTokenSource) Set(token string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.token = token
}

func (s *StaticTokenSource) Token(_ context.Context) (string, error) {
	s.mu.RLock()
	token := s.token
	s.mu.RUnlock()

	if token == "" {
		return "", fmt.Errorf("%w: no access token", common.ErrAuthRejected)
	}
	claims, err := inspect(token)
	if err != nil {
		return "", err
	}
	if exp, _ := claims.GetExpirationTime(); exp != nil && !s.now().Before(exp.Time) {
		return "", fmt.Errorf("%w: %w", common.ErrAuthRejected, common.ErrTokenExpired)
	}
	return token, nil
}

// Tenant returns the tenant the current token is scoped to, or "" when the
// token is missing or carries no tenant.
func (s *StaticTokenSource) Tenant() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	claims, err := inspect(s.token)
	if err != nil {
		return ""
	}
	tenant, _ := claims[common.TenantHeaderName].(string)
	return tenant
}

func inspect(token string) (jwt.MapClaims, error) {
	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, claims); err != nil {
		return nil, fmt.Errorf("%w: %w: %w", common.ErrAuthRejected, common.ErrInvalidToken, err)
	}
	return claims, nil
}
