package service

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"golang.org/x/crypto/bcrypt"

	"mediatube/internal/domain"
	"mediatube/internal/repository"
	"mediatube/internal/storage"
)

var (
	// ErrAllFieldsRequired indicates a registration with a blank required field.
	ErrAllFieldsRequired = errors.New("all fields are required")
	// ErrAvatarRequired indicates a registration without an avatar file.
	ErrAvatarRequired = errors.New("avatar file is required")
	// ErrUserExists indicates the username or email is already registered.
	ErrUserExists = errors.New("user with email or username already exists")
	// ErrIdentifierRequired indicates a login with neither username nor email.
	ErrIdentifierRequired = errors.New("username or email is required")
	// ErrUserNotFound indicates no user matched the given identifier.
	ErrUserNotFound = errors.New("user does not exist")
	// ErrPasswordIncorrect indicates a failed login password check.
	ErrPasswordIncorrect = errors.New("password incorrect")
	// ErrOldPasswordIncorrect indicates a failed password-change check.
	ErrOldPasswordIncorrect = errors.New("invalid old password")
	// ErrRefreshTokenMissing indicates a refresh attempt without a token.
	ErrRefreshTokenMissing = errors.New("unauthorized request")
	// ErrRefreshTokenUsed indicates a refresh token that is no longer the live one.
	ErrRefreshTokenUsed = errors.New("refresh token is expired or used")
	// ErrDetailsRequired indicates an account update with a blank field.
	ErrDetailsRequired = errors.New("fullname and email are required")
	// ErrFileRequired indicates an image update without a file.
	ErrFileRequired = errors.New("file is required")
)

// RegisterInput carries the registration form fields plus locally staged
// upload paths. CoverImagePath may be empty.
type RegisterInput struct {
	FullName       string
	Email          string
	Username       string
	Password       string
	AvatarPath     string
	CoverImagePath string
}

// LoginInput identifies a user by username or email. At least one
// identifier must be present.
type LoginInput struct {
	Username string
	Email    string
	Password string
}

// UserService orchestrates the session lifecycle: registration,
// credential checks, token rotation and profile updates. All returned
// users are sanitized.
type UserService interface {
	Register(ctx context.Context, in RegisterInput) (*domain.User, error)
	Login(ctx context.Context, in LoginInput) (user *domain.User, accessToken, refreshToken string, err error)
	Logout(ctx context.Context, userID int64) error
	RefreshTokens(ctx context.Context, incoming string) (accessToken, refreshToken string, err error)
	ChangePassword(ctx context.Context, userID int64, oldPassword, newPassword string) error
	GetByID(ctx context.Context, userID int64) (*domain.User, error)
	UpdateDetails(ctx context.Context, userID int64, fullName, email string) (*domain.User, error)
	UpdateAvatar(ctx context.Context, userID int64, localPath string) (*domain.User, error)
	UpdateCoverImage(ctx context.Context, userID int64, localPath string) (*domain.User, error)
}

type userService struct {
	users      repository.UserRepository
	tokens     TokenService
	media      storage.Service
	uploadOpts storage.UploadOptions
}

func NewUserService(users repository.UserRepository, tokens TokenService, media storage.Service, uploadOpts storage.UploadOptions) UserService {
	return &userService{
		users:      users,
		tokens:     tokens,
		media:      media,
		uploadOpts: uploadOpts,
	}
}

func (s *userService) Register(ctx context.Context, in RegisterInput) (*domain.User, error) {
	fullName := strings.TrimSpace(in.FullName)
	email := strings.TrimSpace(in.Email)
	username := strings.ToLower(strings.TrimSpace(in.Username))
	password := in.Password

	if fullName == "" || email == "" || username == "" || strings.TrimSpace(password) == "" {
		return nil, ErrAllFieldsRequired
	}
	if existing, err := s.users.GetByUsernameOrEmail(ctx, username, email); err == nil && existing != nil {
		return nil, ErrUserExists
	} else if err != nil && !errors.Is(err, repository.ErrNotFound) {
		return nil, err
	}
	if in.AvatarPath == "" {
		return nil, ErrAvatarRequired
	}

	avatarURL, err := s.media.UploadFile(ctx, in.AvatarPath, s.uploadOpts)
	if err != nil || avatarURL == "" {
		return nil, fmt.Errorf("%w: %v", ErrAvatarRequired, err)
	}

	coverImageURL := ""
	if in.CoverImagePath != "" {
		// cover image is optional; a failed upload leaves the field empty
		if url, err := s.media.UploadFile(ctx, in.CoverImagePath, s.uploadOpts); err == nil {
			coverImageURL = url
		}
	}

	hash, err := hashPassword(password)
	if err != nil {
		return nil, err
	}

	user := &domain.User{
		Username:      username,
		Email:         email,
		FullName:      fullName,
		PasswordHash:  hash,
		AvatarURL:     avatarURL,
		CoverImageURL: coverImageURL,
	}
	id, err := s.users.Create(ctx, user)
	if err != nil {
		if errors.Is(err, repository.ErrDuplicate) {
			return nil, ErrUserExists
		}
		return nil, err
	}

	created, err := s.users.GetByID(ctx, id)
	if err != nil {
		// a vanished row right after insert is an internal failure,
		// not a lookup miss the client can act on
		return nil, fmt.Errorf("load created user %d: %v", id, err)
	}
	return created.Sanitize(), nil
}

func (s *userService) Login(ctx context.Context, in LoginInput) (*domain.User, string, string, error) {
	username := strings.ToLower(strings.TrimSpace(in.Username))
	email := strings.TrimSpace(in.Email)
	if username == "" && email == "" {
		return nil, "", "", ErrIdentifierRequired
	}

	user, err := s.users.GetByUsernameOrEmail(ctx, username, email)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, "", "", ErrUserNotFound
		}
		return nil, "", "", err
	}

	if !verifyPassword(in.Password, user.PasswordHash) {
		return nil, "", "", ErrPasswordIncorrect
	}

	access, refresh, err := s.tokens.IssueTokenPair(ctx, user.ID)
	if err != nil {
		return nil, "", "", err
	}
	return user.Sanitize(), access, refresh, nil
}

func (s *userService) Logout(ctx context.Context, userID int64) error {
	return s.users.UpdateRefreshToken(ctx, userID, "")
}

func (s *userService) RefreshTokens(ctx context.Context, incoming string) (string, string, error) {
	if strings.TrimSpace(incoming) == "" {
		return "", "", ErrRefreshTokenMissing
	}

	userID, err := s.tokens.VerifyRefreshToken(incoming)
	if err != nil {
		return "", "", err
	}

	user, err := s.users.GetByID(ctx, userID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return "", "", ErrInvalidToken
		}
		return "", "", err
	}

	// only the stored value is live; a superseded token must be rejected
	if user.RefreshToken == "" || user.RefreshToken != incoming {
		return "", "", ErrRefreshTokenUsed
	}

	return s.tokens.IssueTokenPair(ctx, user.ID)
}

func (s *userService) ChangePassword(ctx context.Context, userID int64, oldPassword, newPassword string) error {
	user, err := s.users.GetByID(ctx, userID)
	if err != nil {
		return err
	}
	if !verifyPassword(oldPassword, user.PasswordHash) {
		return ErrOldPasswordIncorrect
	}

	hash, err := hashPassword(newPassword)
	if err != nil {
		return err
	}
	return s.users.UpdatePasswordHash(ctx, userID, hash)
}

func (s *userService) GetByID(ctx context.Context, userID int64) (*domain.User, error) {
	user, err := s.users.GetByID(ctx, userID)
	if err != nil {
		return nil, err
	}
	return user.Sanitize(), nil
}

func (s *userService) UpdateDetails(ctx context.Context, userID int64, fullName, email string) (*domain.User, error) {
	fullName = strings.TrimSpace(fullName)
	email = strings.TrimSpace(email)
	if fullName == "" || email == "" {
		return nil, ErrDetailsRequired
	}

	if err := s.users.UpdateDetails(ctx, userID, fullName, email); err != nil {
		if errors.Is(err, repository.ErrDuplicate) {
			return nil, ErrUserExists
		}
		return nil, err
	}
	return s.GetByID(ctx, userID)
}

func (s *userService) UpdateAvatar(ctx context.Context, userID int64, localPath string) (*domain.User, error) {
	url, err := s.uploadImage(ctx, localPath)
	if err != nil {
		return nil, err
	}
	if err := s.users.UpdateAvatarURL(ctx, userID, url); err != nil {
		return nil, err
	}
	return s.GetByID(ctx, userID)
}

func (s *userService) UpdateCoverImage(ctx context.Context, userID int64, localPath string) (*domain.User, error) {
	url, err := s.uploadImage(ctx, localPath)
	if err != nil {
		return nil, err
	}
	if err := s.users.UpdateCoverImageURL(ctx, userID, url); err != nil {
		return nil, err
	}
	return s.GetByID(ctx, userID)
}

func (s *userService) uploadImage(ctx context.Context, localPath string) (string, error) {
	if localPath == "" {
		return "", ErrFileRequired
	}
	url, err := s.media.UploadFile(ctx, localPath, s.uploadOpts)
	if err != nil || url == "" {
		return "", fmt.Errorf("%w: %v", ErrFileRequired, err)
	}
	return url, nil
}

// hashPassword is the single hashing routine shared by registration and
// password change.
func hashPassword(plain string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(plain), bcrypt.DefaultCost)
	if err != nil {
		return "", fmt.Errorf("hash password: %w", err)
	}
	return string(hash), nil
}

func verifyPassword(plain, hash string) bool {
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(plain)) == nil
}
