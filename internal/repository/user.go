package repository

import (
	"context"
	"errors"

	"mediatube/internal/domain"
)

var (
	// ErrNotFound indicates no user matched the lookup.
	ErrNotFound = errors.New("user not found")
	// ErrDuplicate indicates the username or email is already taken.
	ErrDuplicate = errors.New("user already exists")
)

// UserRepository defines persistence operations for User entities.
//
// Mutating methods receive already-prepared values: passwords arrive
// bcrypt-hashed, usernames arrive lowercased. The repository never
// strips credential fields; callers sanitize before responding.
type UserRepository interface {
	Init(ctx context.Context) error
	Create(ctx context.Context, user *domain.User) (int64, error)
	GetByID(ctx context.Context, id int64) (*domain.User, error)
	GetByUsername(ctx context.Context, username string) (*domain.User, error)
	GetByEmail(ctx context.Context, email string) (*domain.User, error)
	GetByUsernameOrEmail(ctx context.Context, username, email string) (*domain.User, error)
	UpdatePasswordHash(ctx context.Context, id int64, passwordHash string) error
	UpdateRefreshToken(ctx context.Context, id int64, refreshToken string) error
	UpdateDetails(ctx context.Context, id int64, fullName, email string) error
	UpdateAvatarURL(ctx context.Context, id int64, avatarURL string) error
	UpdateCoverImageURL(ctx context.Context, id int64, coverImageURL string) error
}
