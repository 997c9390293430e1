package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"mediatube/internal/domain"
	"mediatube/internal/repository"
	"mediatube/internal/storage"
)

// memUserRepo is an in-memory UserRepository for tests.
type memUserRepo struct {
	mu    sync.Mutex
	seq   int64
	users map[int64]*domain.User
}

func newMemUserRepo() *memUserRepo {
	return &memUserRepo{users: make(map[int64]*domain.User)}
}

func (r *memUserRepo) Init(ctx context.Context) error { return nil }

func (r *memUserRepo) Create(ctx context.Context, user *domain.User) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, u := range r.users {
		if u.Username == user.Username || u.Email == user.Email {
			return 0, repository.ErrDuplicate
		}
	}
	r.seq++
	user.ID = r.seq
	now := time.Now().UTC()
	user.CreatedAt = now
	user.UpdatedAt = now
	clone := *user
	r.users[user.ID] = &clone
	return user.ID, nil
}

func (r *memUserRepo) GetByID(ctx context.Context, id int64) (*domain.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	u, ok := r.users[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	clone := *u
	return &clone, nil
}

func (r *memUserRepo) GetByUsername(ctx context.Context, username string) (*domain.User, error) {
	return r.find(func(u *domain.User) bool { return u.Username == username })
}

func (r *memUserRepo) GetByEmail(ctx context.Context, email string) (*domain.User, error) {
	return r.find(func(u *domain.User) bool { return u.Email == email })
}

func (r *memUserRepo) GetByUsernameOrEmail(ctx context.Context, username, email string) (*domain.User, error) {
	return r.find(func(u *domain.User) bool {
		return (username != "" && u.Username == username) || (email != "" && u.Email == email)
	})
}

func (r *memUserRepo) find(match func(*domain.User) bool) (*domain.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, u := range r.users {
		if match(u) {
			clone := *u
			return &clone, nil
		}
	}
	return nil, repository.ErrNotFound
}

func (r *memUserRepo) update(id int64, apply func(*domain.User)) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	u, ok := r.users[id]
	if !ok {
		return repository.ErrNotFound
	}
	apply(u)
	u.UpdatedAt = time.Now().UTC()
	return nil
}

func (r *memUserRepo) UpdatePasswordHash(ctx context.Context, id int64, hash string) error {
	return r.update(id, func(u *domain.User) { u.PasswordHash = hash })
}

func (r *memUserRepo) UpdateRefreshToken(ctx context.Context, id int64, token string) error {
	return r.update(id, func(u *domain.User) { u.RefreshToken = token })
}

func (r *memUserRepo) UpdateDetails(ctx context.Context, id int64, fullName, email string) error {
	return r.update(id, func(u *domain.User) {
		u.FullName = fullName
		u.Email = email
	})
}

func (r *memUserRepo) UpdateAvatarURL(ctx context.Context, id int64, url string) error {
	return r.update(id, func(u *domain.User) { u.AvatarURL = url })
}

func (r *memUserRepo) UpdateCoverImageURL(ctx context.Context, id int64, url string) error {
	return r.update(id, func(u *domain.User) { u.CoverImageURL = url })
}

func (r *memUserRepo) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.users)
}

var _ repository.UserRepository = (*memUserRepo)(nil)

// fakeMedia resolves every staged path to a deterministic URL.
type fakeMedia struct {
	mu      sync.Mutex
	calls   int
	failAll bool
}

func (f *fakeMedia) UploadFile(ctx context.Context, localPath string, opts storage.UploadOptions) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failAll {
		return "", errors.New("upstream unavailable")
	}
	f.calls++
	return fmt.Sprintf("https://cdn.example.com/%s/obj-%d", opts.KeyPrefix, f.calls), nil
}

func newTestService(t *testing.T) (UserService, *memUserRepo, *fakeMedia) {
	t.Helper()
	repo := newMemUserRepo()
	tokens := NewTokenService(repo, TokenConfig{
		AccessSecret:  []byte("access-secret"),
		RefreshSecret: []byte("refresh-secret"),
		AccessTTL:     time.Minute,
		RefreshTTL:    time.Hour,
	})
	media := &fakeMedia{}
	svc := NewUserService(repo, tokens, media, storage.UploadOptions{Bucket: "media", KeyPrefix: "avatars"})
	return svc, repo, media
}

func register(t *testing.T, svc UserService) *domain.User {
	t.Helper()
	user, err := svc.Register(context.Background(), RegisterInput{
		FullName:   "A B",
		Email:      "a@b.com",
		Username:   "AB",
		Password:   "p1",
		AvatarPath: "/tmp/avatar.png",
	})
	require.NoError(t, err)
	return user
}

func TestRegister_BlankFieldsRejected(t *testing.T) {
	svc, repo, _ := newTestService(t)

	inputs := []RegisterInput{
		{FullName: "", Email: "a@b.com", Username: "ab", Password: "p1", AvatarPath: "x"},
		{FullName: "A B", Email: "", Username: "ab", Password: "p1", AvatarPath: "x"},
		{FullName: "A B", Email: "a@b.com", Username: "", Password: "p1", AvatarPath: "x"},
		{FullName: "A B", Email: "a@b.com", Username: "ab", Password: "  ", AvatarPath: "x"},
	}
	for _, in := range inputs {
		_, err := svc.Register(context.Background(), in)
		require.ErrorIs(t, err, ErrAllFieldsRequired)
	}
	require.Equal(t, 0, repo.count())
}

func TestRegister_LowercasesUsernameAndSanitizes(t *testing.T) {
	svc, _, _ := newTestService(t)

	user := register(t, svc)
	require.Equal(t, "ab", user.Username)
	require.NotEmpty(t, user.AvatarURL)
	require.Empty(t, user.PasswordHash)
	require.Empty(t, user.RefreshToken)
}

func TestRegister_MissingAvatarRejected(t *testing.T) {
	svc, repo, _ := newTestService(t)

	_, err := svc.Register(context.Background(), RegisterInput{
		FullName: "A B", Email: "a@b.com", Username: "ab", Password: "p1",
	})
	require.ErrorIs(t, err, ErrAvatarRequired)
	require.Equal(t, 0, repo.count())
}

func TestRegister_UploadFailureRejected(t *testing.T) {
	svc, repo, media := newTestService(t)
	media.failAll = true

	_, err := svc.Register(context.Background(), RegisterInput{
		FullName: "A B", Email: "a@b.com", Username: "ab", Password: "p1", AvatarPath: "x",
	})
	require.ErrorIs(t, err, ErrAvatarRequired)
	require.Equal(t, 0, repo.count())
}

func TestRegister_DuplicateIsConflict(t *testing.T) {
	svc, repo, _ := newTestService(t)

	register(t, svc)
	require.Equal(t, 1, repo.count())

	_, err := svc.Register(context.Background(), RegisterInput{
		FullName: "Other", Email: "other@b.com", Username: "AB", Password: "p2", AvatarPath: "x",
	})
	require.ErrorIs(t, err, ErrUserExists)

	_, err = svc.Register(context.Background(), RegisterInput{
		FullName: "Other", Email: "a@b.com", Username: "other", Password: "p2", AvatarPath: "x",
	})
	require.ErrorIs(t, err, ErrUserExists)
	require.Equal(t, 1, repo.count())
}

func TestLogin_ByUsernameAndEmail(t *testing.T) {
	svc, _, _ := newTestService(t)
	register(t, svc)

	user, access, refresh, err := svc.Login(context.Background(), LoginInput{Username: "ab", Password: "p1"})
	require.NoError(t, err)
	require.Equal(t, "ab", user.Username)
	require.NotEmpty(t, access)
	require.NotEmpty(t, refresh)
	require.NotEqual(t, access, refresh)
	require.Empty(t, user.PasswordHash)
	require.Empty(t, user.RefreshToken)

	_, _, _, err = svc.Login(context.Background(), LoginInput{Email: "a@b.com", Password: "p1"})
	require.NoError(t, err)

	// uppercase identifier matches the stored lowercase username
	_, _, _, err = svc.Login(context.Background(), LoginInput{Username: "AB", Password: "p1"})
	require.NoError(t, err)
}

func TestLogin_NoIdentifier(t *testing.T) {
	svc, _, _ := newTestService(t)
	register(t, svc)

	_, _, _, err := svc.Login(context.Background(), LoginInput{Password: "p1"})
	require.ErrorIs(t, err, ErrIdentifierRequired)
}

func TestLogin_UnknownUser(t *testing.T) {
	svc, _, _ := newTestService(t)

	_, _, _, err := svc.Login(context.Background(), LoginInput{Username: "ghost", Password: "p1"})
	require.ErrorIs(t, err, ErrUserNotFound)
}

func TestLogin_WrongPasswordIssuesNoTokens(t *testing.T) {
	svc, repo, _ := newTestService(t)
	user := register(t, svc)

	_, _, _, err := svc.Login(context.Background(), LoginInput{Username: "ab", Password: "nope"})
	require.ErrorIs(t, err, ErrPasswordIncorrect)

	stored, err := repo.GetByID(context.Background(), user.ID)
	require.NoError(t, err)
	require.Empty(t, stored.RefreshToken)
}

func TestRefreshTokens_RotationInvalidatesOldToken(t *testing.T) {
	svc, _, _ := newTestService(t)
	register(t, svc)

	_, _, first, err := svc.Login(context.Background(), LoginInput{Username: "ab", Password: "p1"})
	require.NoError(t, err)

	// signatures carry second-resolution timestamps; make sure the
	// rotated token differs from the first one
	time.Sleep(1100 * time.Millisecond)

	_, second, err := svc.RefreshTokens(context.Background(), first)
	require.NoError(t, err)
	require.NotEqual(t, first, second)

	_, _, err = svc.RefreshTokens(context.Background(), first)
	require.ErrorIs(t, err, ErrRefreshTokenUsed)

	_, _, err = svc.RefreshTokens(context.Background(), second)
	require.NoError(t, err)
}

func TestRefreshTokens_MissingToken(t *testing.T) {
	svc, _, _ := newTestService(t)

	_, _, err := svc.RefreshTokens(context.Background(), "")
	require.ErrorIs(t, err, ErrRefreshTokenMissing)
}

func TestRefreshTokens_MalformedToken(t *testing.T) {
	svc, _, _ := newTestService(t)

	_, _, err := svc.RefreshTokens(context.Background(), "not.a.jwt")
	require.ErrorIs(t, err, ErrInvalidToken)
}

func TestLogout_ClearsRefreshToken(t *testing.T) {
	svc, repo, _ := newTestService(t)
	user := register(t, svc)

	_, _, refresh, err := svc.Login(context.Background(), LoginInput{Username: "ab", Password: "p1"})
	require.NoError(t, err)

	require.NoError(t, svc.Logout(context.Background(), user.ID))

	stored, err := repo.GetByID(context.Background(), user.ID)
	require.NoError(t, err)
	require.Empty(t, stored.RefreshToken)

	_, _, err = svc.RefreshTokens(context.Background(), refresh)
	require.ErrorIs(t, err, ErrRefreshTokenUsed)
}

func TestChangePassword(t *testing.T) {
	svc, repo, _ := newTestService(t)
	user := register(t, svc)

	before, err := repo.GetByID(context.Background(), user.ID)
	require.NoError(t, err)

	err = svc.ChangePassword(context.Background(), user.ID, "wrong", "p2")
	require.ErrorIs(t, err, ErrOldPasswordIncorrect)

	after, err := repo.GetByID(context.Background(), user.ID)
	require.NoError(t, err)
	require.Equal(t, before.PasswordHash, after.PasswordHash)

	require.NoError(t, svc.ChangePassword(context.Background(), user.ID, "p1", "p2"))

	_, _, _, err = svc.Login(context.Background(), LoginInput{Username: "ab", Password: "p1"})
	require.ErrorIs(t, err, ErrPasswordIncorrect)
	_, _, _, err = svc.Login(context.Background(), LoginInput{Username: "ab", Password: "p2"})
	require.NoError(t, err)
}

func TestUpdateDetails(t *testing.T) {
	svc, _, _ := newTestService(t)
	user := register(t, svc)

	_, err := svc.UpdateDetails(context.Background(), user.ID, "", "a@b.com")
	require.ErrorIs(t, err, ErrDetailsRequired)
	_, err = svc.UpdateDetails(context.Background(), user.ID, "New Name", "")
	require.ErrorIs(t, err, ErrDetailsRequired)

	updated, err := svc.UpdateDetails(context.Background(), user.ID, "New Name", "new@b.com")
	require.NoError(t, err)
	require.Equal(t, "New Name", updated.FullName)
	require.Equal(t, "new@b.com", updated.Email)
	require.Empty(t, updated.PasswordHash)
}

func TestUpdateAvatarAndCoverAreIndependent(t *testing.T) {
	svc, _, _ := newTestService(t)
	user := register(t, svc)

	withAvatar, err := svc.UpdateAvatar(context.Background(), user.ID, "/tmp/new-avatar.png")
	require.NoError(t, err)
	require.NotEqual(t, user.AvatarURL, withAvatar.AvatarURL)

	withCover, err := svc.UpdateCoverImage(context.Background(), user.ID, "/tmp/cover.png")
	require.NoError(t, err)
	require.NotEmpty(t, withCover.CoverImageURL)
	// cover update must not touch the avatar field
	require.Equal(t, withAvatar.AvatarURL, withCover.AvatarURL)
}

func TestUpdateImage_MissingFile(t *testing.T) {
	svc, _, _ := newTestService(t)
	user := register(t, svc)

	_, err := svc.UpdateAvatar(context.Background(), user.ID, "")
	require.ErrorIs(t, err, ErrFileRequired)
	_, err = svc.UpdateCoverImage(context.Background(), user.ID, "")
	require.ErrorIs(t, err, ErrFileRequired)
}

func TestGetByID_Sanitized(t *testing.T) {
	svc, _, _ := newTestService(t)
	user := register(t, svc)

	_, _, _, err := svc.Login(context.Background(), LoginInput{Username: "ab", Password: "p1"})
	require.NoError(t, err)

	got, err := svc.GetByID(context.Background(), user.ID)
	require.NoError(t, err)
	require.Empty(t, got.PasswordHash)
	require.Empty(t, got.RefreshToken)
}
