// Package util holds the owner API token manager.
package util

import (
	"errors"
	"time"

	"fileglancer/config"

	jwt "github.com/golang-jwt/jwt/v5"
)

var ErrMissingUsername = errors.New("token carries no username")

type JWTClaims struct {
	Username string `json:"un"`
	jwt.RegisteredClaims
}

// TokenManager issues and checks the HS256 bearer tokens of the owner API.
type TokenManager struct {
	secretKey []byte
	ttl       time.Duration
	now       func() time.Time
}

func NewTokenManager(cfg config.AuthConfig) *TokenManager {
	return &TokenManager{
		secretKey: []byte(cfg.TokenSecret),
		ttl:       cfg.TokenTTL,
		now:       time.Now,
	}
}

// CreateToken signs a token for username valid for the configured TTL.
func (tm *TokenManager) CreateToken(username string) (string, error) {
	if username == "" {
		return "", ErrMissingUsername
	}
	now := tm.now()
	claims := &JWTClaims{
		Username: username,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   username,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(tm.ttl)),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(tm.secretKey)
}

// CheckToken validates requestToken and returns its username. Expired tokens
// fail with an error matching jwt.ErrTokenExpired.
func (tm *TokenManager) CheckToken(requestToken string) (string, error) {
	claims := JWTClaims{}
	_, err := jwt.ParseWithClaims(requestToken, &claims, func(_ *jwt.Token) (any, error) {
		return tm.secretKey, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithTimeFunc(tm.now))
	if err != nil {
		return "", err
	}
	if claims.Username == "" {
		return "", ErrMissingUsername
	}
	return claims.Username, nil
}
