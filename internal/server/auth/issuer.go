// Package auth mints and verifies the signed tokens of a session: short-lived
// access tokens carrying the caller's identity and long-lived refresh tokens
// carrying only the account id.
package auth

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/dmitrijs2005/tubeauth/internal/common"
	"github.com/dmitrijs2005/tubeauth/internal/server/models"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

const (
	accessAudience  = "access"
	refreshAudience = "refresh"
)

// Config is the immutable token configuration loaded at startup.
type Config struct {
	Issuer        string
	AccessSecret  []byte
	RefreshSecret []byte
	AccessTTL     time.Duration
	RefreshTTL    time.Duration
}

// AccessClaims is the claim set of an access token. Subject is the account id.
type AccessClaims struct {
	jwt.RegisteredClaims
	Username string `json:"username"`
	Email    string `json:"email"`
	FullName string `json:"fullName"`
}

type Issuer struct {
	cfg Config
	now func() time.Time
}

// NewIssuer builds an Issuer. now may be nil, in which case time.Now is used.
func NewIssuer(cfg Config, now func() time.Time) *Issuer {
	if now == nil {
		now = time.Now
	}
	return &Issuer{cfg: cfg, now: now}
}

func (i *Issuer) registered(subject, audience string, ttl time.Duration) jwt.RegisteredClaims {
	now := i.now()
	return jwt.RegisteredClaims{
		Issuer:    i.cfg.Issuer,
		Subject:   subject,
		Audience:  jwt.ClaimStrings{audience},
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		ID:        uuid.NewString(),
	}
}

// IssueAccessToken signs an access token for identity and returns it with its expiry.
func (i *Issuer) IssueAccessToken(identity models.Identity) (string, time.Time, error) {
	claims := AccessClaims{
		RegisteredClaims: i.registered(identity.ID, accessAudience, i.cfg.AccessTTL),
		Username:         identity.Username,
		Email:            identity.Email,
		FullName:         identity.FullName,
	}

	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(i.cfg.AccessSecret)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("sign access token: %w", err)
	}
	return token, claims.ExpiresAt.Time, nil
}

// IssueRefreshToken signs a refresh token for accountID. Every call yields a
// distinct token, even within the same second.
func (i *Issuer) IssueRefreshToken(accountID string) (string, time.Time, error) {
	claims := i.registered(accountID, refreshAudience, i.cfg.RefreshTTL)

	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(i.cfg.RefreshSecret)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("sign refresh token: %w", err)
	}
	return token, claims.ExpiresAt.Time, nil
}

// IssuePair mints an access and a refresh token together.
func (i *Issuer) IssuePair(identity models.Identity) (models.TokenPair, error) {
	access, accessExp, err := i.IssueAccessToken(identity)
	if err != nil {
		return models.TokenPair{}, err
	}
	refresh, refreshExp, err := i.IssueRefreshToken(identity.ID)
	if err != nil {
		return models.TokenPair{}, err
	}
	return models.TokenPair{
		AccessToken:      access,
		RefreshToken:     refresh,
		AccessExpiresAt:  accessExp,
		RefreshExpiresAt: refreshExp,
	}, nil
}

func (i *Issuer) parse(token string, claims jwt.Claims, secret []byte, audience string) error {
	_, err := jwt.ParseWithClaims(token, claims,
		func(*jwt.Token) (any, error) { return secret, nil },
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithAudience(audience),
		jwt.WithIssuer(i.cfg.Issuer),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(i.now),
	)
	switch {
	case err == nil:
		return nil
	case errors.Is(err, jwt.ErrTokenExpired):
		return common.ErrTokenExpired
	default:
		return fmt.Errorf("%w: %v", common.ErrTokenInvalid, err)
	}
}

// VerifyAccessToken checks signature, audience and expiry and returns the
// identity carried by the token. Failures are common.ErrTokenExpired or
// common.ErrTokenInvalid.
func (i *Issuer) VerifyAccessToken(token string) (models.Identity, error) {
	claims := &AccessClaims{}
	if err := i.parse(token, claims, i.cfg.AccessSecret, accessAudience); err != nil {
		return models.Identity{}, err
	}
	if claims.Subject == "" {
		return models.Identity{}, fmt.Errorf("%w: missing subject", common.ErrTokenInvalid)
	}
	return models.Identity{
		ID:       claims.Subject,
		Username: claims.Username,
		Email:    claims.Email,
		FullName: claims.FullName,
	}, nil
}

// VerifyRefreshToken returns the account id carried by a valid refresh token.
func (i *Issuer) VerifyRefreshToken(token string) (string, error) {
	claims := &jwt.RegisteredClaims{}
	if err := i.parse(token, claims, i.cfg.RefreshSecret, refreshAudience); err != nil {
		return "", err
	}
	if claims.Subject == "" {
		return "", fmt.Errorf("%w: missing subject", common.ErrTokenInvalid)
	}
	return claims.Subject, nil
}

// Digest is the stored form of a refresh token. Equal digests mean the
// presented token is byte-for-byte the issued one.
func Digest(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}
