// Package models contains the persistent and wire-facing types of the
// identity service.
package models

import "time"

// Media references a blob held by the blob store.
type Media struct {
	URL      string `json:"url"`
	PublicID string `json:"publicId"`
}

// Account is the stored user record. It carries secret material and must
// never be serialised to callers; use Public for that.
type Account struct {
	ID               string
	Handle           string
	Email            string
	FullName         string
	PasswordHash     string
	RefreshTokenHash *string
	Avatar           Media
	CoverImage       *Media
	WatchHistory     []string
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

// PublicAccount is the outward-facing projection of an Account.
type PublicAccount struct {
	ID           string    `json:"_id"`
	Username     string    `json:"username"`
	Email        string    `json:"email"`
	FullName     string    `json:"fullName"`
	Avatar       string    `json:"avatar"`
	CoverImage   string    `json:"coverImage"`
	WatchHistory []string  `json:"watchHistory"`
	CreatedAt    time.Time `json:"createdAt"`
	UpdatedAt    time.Time `json:"updatedAt"`
}

// Public strips the password hash and refresh token.
func (a *Account) Public() PublicAccount {
	p := PublicAccount{
		ID:           a.ID,
		Username:     a.Handle,
		Email:        a.Email,
		FullName:     a.FullName,
		Avatar:       a.Avatar.URL,
		WatchHistory: a.WatchHistory,
		CreatedAt:    a.CreatedAt,
		UpdatedAt:    a.UpdatedAt,
	}
	if p.WatchHistory == nil {
		p.WatchHistory = []string{}
	}
	if a.CoverImage != nil {
		p.CoverImage = a.CoverImage.URL
	}
	return p
}

// Identity returns the claim view of the projection.
func (p PublicAccount) Identity() Identity {
	return Identity{ID: p.ID, Username: p.Username, Email: p.Email, FullName: p.FullName}
}

// Identity is the claim set carried by an access token.
type Identity struct {
	ID       string `json:"_id"`
	Username string `json:"username"`
	Email    string `json:"email"`
	FullName string `json:"fullName"`
}

// Identity returns the claim view of the account.
func (a *Account) Identity() Identity {
	return Identity{ID: a.ID, Username: a.Handle, Email: a.Email, FullName: a.FullName}
}

// TokenPair is a freshly minted access/refresh pair.
type TokenPair struct {
	AccessToken      string    `json:"accessToken"`
	RefreshToken     string    `json:"refreshToken"`
	AccessExpiresAt  time.Time `json:"-"`
	RefreshExpiresAt time.Time `json:"-"`
}
