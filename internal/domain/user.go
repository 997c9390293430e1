package domain

import "time"

// User represents a registered account of the media platform.
//
// PasswordHash and RefreshToken are internal credentials and must never
// leave the service boundary; use Sanitize before handing a user to a
// response writer.
type User struct {
	ID            int64
	Username      string
	Email         string
	FullName      string
	PasswordHash  string
	AvatarURL     string
	CoverImageURL string
	RefreshToken  string
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// Sanitize returns a copy of the user with credential fields cleared.
func (u *User) Sanitize() *User {
	if u == nil {
		return nil
	}
	return &User{
		ID:            u.ID,
		Username:      u.Username,
		Email:         u.Email,
		FullName:      u.FullName,
		AvatarURL:     u.AvatarURL,
		CoverImageURL: u.CoverImageURL,
		CreatedAt:     u.CreatedAt,
		UpdatedAt:     u.UpdatedAt,
	}
}
