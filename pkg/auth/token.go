package auth

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/angelmondragon/shopdeck-backend/pkg/config"
)

var jwtSigningMethod = jwt.SigningMethodHS256

func keyFunc(secret string) jwt.Keyfunc {
	return func(token *jwt.Token) (any, error) {
		if token.Method != jwtSigningMethod {
			return nil, fmt.Errorf("unexpected signing method %s", token.Header["alg"])
		}
		return []byte(secret), nil
	}
}

// ParseSessionToken validates a provider session token and returns its claims.
func ParseSessionToken(cfg config.AuthConfig, tokenString string) (*SessionClaims, error) {
	if cfg.SessionSecret == "" {
		return nil, errors.New("session secret is required")
	}
	claims := &SessionClaims{}
	_, err := jwt.ParseWithClaims(
		tokenString,
		claims,
		keyFunc(cfg.SessionSecret),
		jwt.WithValidMethods([]string{jwtSigningMethod.Alg()}),
		jwt.WithIssuer(cfg.Issuer),
		jwt.WithLeeway(cfg.ClockSkew),
		jwt.WithExpirationRequired(),
	)
	if err != nil {
		return nil, err
	}
	if strings.TrimSpace(claims.Subject) == "" {
		return nil, errors.New("session token missing subject")
	}
	return claims, nil
}

// MintSessionToken signs a session token the way the auth provider does.
// Local tooling and tests use it; production tokens come from the provider.
func MintSessionToken(cfg config.AuthConfig, now time.Time, ttl time.Duration, payload SessionPayload) (string, error) {
	if cfg.SessionSecret == "" {
		return "", errors.New("session secret is required")
	}
	if strings.TrimSpace(payload.UserID) == "" {
		return "", errors.New("user id is required")
	}
	claims := SessionClaims{
		Role:  string(payload.Role),
		Email: payload.Email,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   payload.UserID,
			Issuer:    cfg.Issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
			ID:        uuid.NewString(),
		},
	}
	signed, err := jwt.NewWithClaims(jwtSigningMethod, claims).SignedString([]byte(cfg.SessionSecret))
	if err != nil {
		return "", fmt.Errorf("signing session token: %w", err)
	}
	return signed, nil
}

// MintCustomerToken issues the download link token. It expires with the
// download grant itself.
func MintCustomerToken(cfg config.DownloadsConfig, now, expiresAt time.Time, payload CustomerTokenPayload) (string, error) {
	if cfg.TokenSecret == "" {
		return "", errors.New("download token secret is required")
	}
	if payload.DownloadID == uuid.Nil || payload.OrderID == uuid.Nil || payload.TokenID == uuid.Nil {
		return "", errors.New("download, order and token ids are required")
	}
	if !expiresAt.After(now) {
		return "", errors.New("download token already expired")
	}
	claims := CustomerTokenClaims{
		DownloadID: payload.DownloadID,
		OrderID:    payload.OrderID,
		Email:      payload.Email,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   payload.DownloadID.String(),
			Issuer:    cfg.TokenIssuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
			ID:        payload.TokenID.String(),
		},
	}
	signed, err := jwt.NewWithClaims(jwtSigningMethod, claims).SignedString([]byte(cfg.TokenSecret))
	if err != nil {
		return "", fmt.Errorf("signing download token: %w", err)
	}
	return signed, nil
}

// ParseCustomerToken validates signature, issuer and expiry of a download token.
func ParseCustomerToken(cfg config.DownloadsConfig, tokenString string) (*CustomerTokenClaims, error) {
	if cfg.TokenSecret == "" {
		return nil, errors.New("download token secret is required")
	}
	claims := &CustomerTokenClaims{}
	_, err := jwt.ParseWithClaims(
		tokenString,
		claims,
		keyFunc(cfg.TokenSecret),
		jwt.WithValidMethods([]string{jwtSigningMethod.Alg()}),
		jwt.WithIssuer(cfg.TokenIssuer),
		jwt.WithExpirationRequired(),
	)
	if err != nil {
		return nil, err
	}
	if claims.DownloadID == uuid.Nil {
		return nil, errors.New("download token missing download id")
	}
	if claims.ID == "" {
		return nil, errors.New("download token missing token id")
	}
	return claims, nil
}
