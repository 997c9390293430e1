package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"mediatube/internal/repository"
)

// ErrInvalidToken indicates a token that failed signature, expiry or shape checks.
var ErrInvalidToken = errors.New("invalid token")

// TokenService issues and verifies the access/refresh token pair.
//
// Access and refresh tokens are signed with distinct secrets and TTLs.
// Issuing a pair stores the refresh token on the user record, so at most
// one refresh token is live per user at any time.
type TokenService interface {
	IssueTokenPair(ctx context.Context, userID int64) (accessToken, refreshToken string, err error)
	VerifyAccessToken(token string) (int64, error)
	VerifyRefreshToken(token string) (int64, error)
}

// TokenConfig carries the injected signing material and expiry windows.
type TokenConfig struct {
	AccessSecret  []byte
	RefreshSecret []byte
	AccessTTL     time.Duration
	RefreshTTL    time.Duration
}

type tokenClaims struct {
	UserID int64 `json:"uid"`
	jwt.RegisteredClaims
}

type jwtTokenService struct {
	users repository.UserRepository
	cfg   TokenConfig
}

func NewTokenService(users repository.UserRepository, cfg TokenConfig) TokenService {
	return &jwtTokenService{users: users, cfg: cfg}
}

func (s *jwtTokenService) IssueTokenPair(ctx context.Context, userID int64) (string, string, error) {
	user, err := s.users.GetByID(ctx, userID)
	if err != nil {
		return "", "", fmt.Errorf("load user for token pair: %w", err)
	}

	access, err := signToken(user.ID, s.cfg.AccessSecret, s.cfg.AccessTTL)
	if err != nil {
		return "", "", fmt.Errorf("sign access token: %w", err)
	}
	refresh, err := signToken(user.ID, s.cfg.RefreshSecret, s.cfg.RefreshTTL)
	if err != nil {
		return "", "", fmt.Errorf("sign refresh token: %w", err)
	}

	// overwrites any prior value: single active session per user
	if err := s.users.UpdateRefreshToken(ctx, user.ID, refresh); err != nil {
		return "", "", fmt.Errorf("persist refresh token: %w", err)
	}

	return access, refresh, nil
}

func (s *jwtTokenService) VerifyAccessToken(token string) (int64, error) {
	return verifyToken(token, s.cfg.AccessSecret)
}

func (s *jwtTokenService) VerifyRefreshToken(token string) (int64, error) {
	return verifyToken(token, s.cfg.RefreshSecret)
}

func signToken(userID int64, secret []byte, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := &tokenClaims{
		UserID: userID,
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(secret)
}

func verifyToken(tokenStr string, secret []byte) (int64, error) {
	claims := &tokenClaims{}
	token, err := jwt.ParseWithClaims(tokenStr, claims, func(t *jwt.Token) (interface{}, error) {
		return secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if !token.Valid || claims.UserID == 0 {
		return 0, ErrInvalidToken
	}
	return claims.UserID, nil
}
