// Package auth issues and verifies the HS256 access tokens that scope every
// sync call to one tenant.
package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/dmitrijs2005/fieldsync/internal/common"
	"github.com/golang-jwt/jwt/v5"
)

// Claims carries the standard claims and the tenant the token grants.
type Claims struct {
	jwt.RegisteredClaims
	TenantID string `json:"tenant_id"`
}

func GenerateToken(tenantID string, secretKey []byte, validityDuration time.Duration) (string, error) {
	if tenantID == "" {
		return "", common.Invalid("tenant_id", "is required")
	}
	now := time.Now()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(validityDuration)),
		},
		TenantID: tenantID,
	})

	tokenString, err := token.SignedString(secretKey)
	if err != nil {
		return "", err
	}

	return tokenString, nil
}

// GetTenantIDFromToken verifies the signature and expiry of tokenString.
// Expired tokens yield common.ErrTokenExpired, everything else that fails
// common.ErrInvalidToken.
func GetTenantIDFromToken(tokenString string, secretKey []byte) (string, error) {
	claims := &Claims{}

	token, err := jwt.ParseWithClaims(tokenString, claims, func(t *jwt.Token) (any, error) {
		return secretKey, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return "", common.ErrTokenExpired
		}
		return "", fmt.Errorf("%w: %w", common.ErrInvalidToken, err)
	}

	if !token.Valid || claims.TenantID == "" {
		return "", common.ErrInvalidToken
	}

	return claims.TenantID, nil
}
