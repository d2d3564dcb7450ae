// Package auth issues and verifies the HS256 access tokens that identify
// the author of a write.
package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/dmitrijs2005/feedkeeper/internal/common"
	"github.com/golang-jwt/jwt/v5"
)

// Claims carries the author in the standard subject claim.
type Claims struct {
	jwt.RegisteredClaims
}

func GenerateToken(author string, secretKey []byte, validityDuration time.Duration) (string, error) {
	now := time.Now()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   author,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(validityDuration)),
		},
	})

	tokenString, err := token.SignedString(secretKey)
	if err != nil {
		return "", err
	}

	return tokenString, nil
}

// AuthorFromToken verifies tokenString and returns its subject.
func AuthorFromToken(tokenString string, secretKey []byte) (string, error) {
	claims := &Claims{}

	token, err := jwt.ParseWithClaims(tokenString, claims, func(t *jwt.Token) (interface{}, error) {
		return secretKey, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if errors.Is(err, jwt.ErrTokenExpired) {
		return "", common.ErrTokenExpired
	}
	if err != nil {
		return "", fmt.Errorf("%w: %w", common.ErrInvalidToken, err)
	}

	if !token.Valid || claims.Subject == "" {
		return "", common.ErrInvalidToken
	}

	return claims.Subject, nil
}
