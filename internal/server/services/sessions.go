// Package services contains the identity service business logic.
// SessionService owns the credential and session-token lifecycle;
// ProfileService covers profile updates that swap stored media.
package services

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/dmitrijs2005/tubeauth/internal/common"
	"github.com/dmitrijs2005/tubeauth/internal/dbx"
	"github.com/dmitrijs2005/tubeauth/internal/logging"
	"github.com/dmitrijs2005/tubeauth/internal/server/auth"
	"github.com/dmitrijs2005/tubeauth/internal/server/blobstore"
	"github.com/dmitrijs2005/tubeauth/internal/server/models"
	"github.com/dmitrijs2005/tubeauth/internal/server/password"
	"github.com/dmitrijs2005/tubeauth/internal/server/repositories/repomanager"
)

// RegisterInput is the registration payload. Text fields are trimmed before
// validation; the password is stored as given.
type RegisterInput struct {
	FullName   string            `json:"fullName" validate:"required"`
	Email      string            `json:"email" validate:"required,email"`
	Username   string            `json:"username" validate:"required"`
	Password   string            `json:"password" validate:"required"`
	Avatar     *blobstore.Upload `json:"avatar" validate:"required"`
	CoverImage *blobstore.Upload `json:"coverImage"`
}

// LoginInput identifies the account by username, email or both.
type LoginInput struct {
	Username string `json:"username" validate:"required_without=Email"`
	Email    string `json:"email" validate:"required_without=Username"`
	Password string `json:"password" validate:"required"`
}

// ChangePasswordInput is the change-password payload.
type ChangePasswordInput struct {
	OldPassword string `json:"oldPassword" validate:"required"`
	NewPassword string `json:"newPassword" validate:"required"`
}

// LoginResult is returned by a successful login.
type LoginResult struct {
	Account models.PublicAccount
	Tokens  models.TokenPair
}

// SessionOptions tunes session behaviour.
type SessionOptions struct {
	// RevokeSessionsOnPasswordChange clears the refresh token when the
	// password changes. Existing sessions survive otherwise.
	RevokeSessionsOnPasswordChange bool
}

// SessionService handles registration, login, refresh-token rotation,
// logout and password changes. An account holds at most one live refresh
// token; every login or refresh overwrites it.
type SessionService struct {
	db          *sql.DB
	repomanager repomanager.RepositoryManager
	hasher      *password.Hasher
	tokens      *auth.Issuer
	blobs       blobstore.Store
	log         logging.Logger
	opts        SessionOptions
}

func NewSessionService(
	db *sql.DB,
	m repomanager.RepositoryManager,
	hasher *password.Hasher,
	tokens *auth.Issuer,
	blobs blobstore.Store,
	log logging.Logger,
	opts SessionOptions,
) *SessionService {
	return &SessionService{
		db:          db,
		repomanager: m,
		hasher:      hasher,
		tokens:      tokens,
		blobs:       blobs,
		log:         log.With("module", "sessions"),
		opts:        opts,
	}
}

// Register creates an account. The avatar is required and the cover image is
// optional; both are uploaded before the account row is written and removed
// again if that write fails. Registration does not start a session.
func (s *SessionService) Register(ctx context.Context, in RegisterInput) (models.PublicAccount, error) {
	in.FullName = strings.TrimSpace(in.FullName)
	in.Email = strings.ToLower(strings.TrimSpace(in.Email))
	in.Username = strings.ToLower(strings.TrimSpace(in.Username))

	check := in
	check.Password = strings.TrimSpace(in.Password)
	if err := validateInput(check); err != nil {
		return models.PublicAccount{}, err
	}

	repo := s.repomanager.Accounts(s.db)

	_, err := repo.FindByIdentifier(ctx, in.Username, in.Email)
	switch {
	case err == nil:
		return models.PublicAccount{}, fmt.Errorf("user with email or username already exists: %w", common.ErrorConflict)
	case !errors.Is(err, common.ErrorNotFound):
		return models.PublicAccount{}, common.Internal("lookup account", err)
	}

	hash, err := s.hasher.Hash(in.Password)
	if err != nil {
		return models.PublicAccount{}, common.Internal("hash password", err)
	}

	avatar, err := s.blobs.Upload(ctx, *in.Avatar)
	if err != nil {
		return models.PublicAccount{}, common.Internal("upload avatar", err)
	}
	uploaded := []string{avatar.ID}

	account := &models.Account{
		Handle:       in.Username,
		Email:        in.Email,
		FullName:     in.FullName,
		PasswordHash: hash,
		Avatar:       models.Media{URL: avatar.URL, PublicID: avatar.ID},
	}

	if in.CoverImage != nil {
		cover, err := s.blobs.Upload(ctx, *in.CoverImage)
		if err != nil {
			s.discardBlobs(ctx, uploaded)
			return models.PublicAccount{}, common.Internal("upload cover image", err)
		}
		uploaded = append(uploaded, cover.ID)
		account.CoverImage = &models.Media{URL: cover.URL, PublicID: cover.ID}
	}

	created, err := repo.Create(ctx, account)
	if err != nil {
		s.discardBlobs(ctx, uploaded)
		if errors.Is(err, common.ErrorConflict) {
			return models.PublicAccount{}, fmt.Errorf("user with email or username already exists: %w", common.ErrorConflict)
		}
		return models.PublicAccount{}, common.Internal("create account", err)
	}

	s.log.Info(ctx, "account registered", "account_id", created.ID)
	return created.Public(), nil
}

// Login verifies credentials and starts a new session, replacing any
// previous refresh token of the account.
func (s *SessionService) Login(ctx context.Context, in LoginInput) (*LoginResult, error) {
	in.Username = strings.ToLower(strings.TrimSpace(in.Username))
	in.Email = strings.ToLower(strings.TrimSpace(in.Email))
	if err := validateInput(in); err != nil {
		return nil, err
	}

	repo := s.repomanager.Accounts(s.db)

	account, err := repo.FindByIdentifier(ctx, in.Username, in.Email)
	if err != nil {
		if errors.Is(err, common.ErrorNotFound) {
			return nil, fmt.Errorf("user does not exist: %w", common.ErrorNotFound)
		}
		return nil, common.Internal("lookup account", err)
	}

	ok, err := s.hasher.Verify(in.Password, account.PasswordHash)
	if err != nil {
		return nil, common.Internal("verify password", err)
	}
	if !ok {
		s.log.Info(ctx, "login rejected", "account_id", account.ID)
		return nil, fmt.Errorf("invalid user credentials: %w", common.ErrorUnauthorized)
	}

	if s.hasher.NeedsRehash(account.PasswordHash) {
		s.upgradeHash(ctx, account.ID, in.Password)
	}

	pair, err := s.tokens.IssuePair(account.Identity())
	if err != nil {
		return nil, common.Internal("issue tokens", err)
	}

	digest := auth.Digest(pair.RefreshToken)
	if err := repo.SetRefreshToken(ctx, account.ID, &digest); err != nil {
		return nil, common.Internal("store refresh token", err)
	}

	s.log.Info(ctx, "login succeeded", "account_id", account.ID)
	return &LoginResult{Account: account.Public(), Tokens: pair}, nil
}

// upgradeHash re-hashes with the current parameters. Failure only delays the
// upgrade to the next login.
func (s *SessionService) upgradeHash(ctx context.Context, accountID, raw string) {
	hash, err := s.hasher.Hash(raw)
	if err == nil {
		err = s.repomanager.Accounts(s.db).SetPasswordHash(ctx, accountID, hash)
	}
	if err != nil {
		s.log.Warn(ctx, "password rehash failed", "account_id", accountID, "error", err)
		return
	}
	s.log.Info(ctx, "password hash upgraded", "account_id", accountID)
}

// Refresh rotates the session: the presented refresh token must be the one
// currently stored for its account. The swap to the new token is a single
// conditional update, so of two concurrent refreshes with the same token
// only one succeeds.
func (s *SessionService) Refresh(ctx context.Context, refreshToken string) (models.TokenPair, error) {
	if refreshToken == "" {
		return models.TokenPair{}, fmt.Errorf("refresh token is required: %w", common.ErrorUnauthorized)
	}

	accountID, err := s.tokens.VerifyRefreshToken(refreshToken)
	if err != nil {
		return models.TokenPair{}, fmt.Errorf("%w: %w", common.ErrorUnauthorized, err)
	}

	repo := s.repomanager.Accounts(s.db)

	account, err := repo.FindByID(ctx, accountID)
	if err != nil {
		if errors.Is(err, common.ErrorNotFound) {
			return models.TokenPair{}, fmt.Errorf("%w: %w: account not found", common.ErrorUnauthorized, common.ErrTokenInvalid)
		}
		return models.TokenPair{}, common.Internal("lookup account", err)
	}

	presented := auth.Digest(refreshToken)
	if account.RefreshTokenHash == nil || *account.RefreshTokenHash != presented {
		s.log.Warn(ctx, "refresh token reuse rejected", "account_id", accountID)
		return models.TokenPair{}, fmt.Errorf("refresh token is expired or used: %w", common.ErrorUnauthorized)
	}

	pair, err := s.tokens.IssuePair(account.Identity())
	if err != nil {
		return models.TokenPair{}, common.Internal("issue tokens", err)
	}

	rotated, err := repo.RotateRefreshToken(ctx, accountID, presented, auth.Digest(pair.RefreshToken))
	if err != nil {
		return models.TokenPair{}, common.Internal("rotate refresh token", err)
	}
	if !rotated {
		s.log.Warn(ctx, "refresh token lost rotation race", "account_id", accountID)
		return models.TokenPair{}, fmt.Errorf("refresh token is expired or used: %w", common.ErrorUnauthorized)
	}

	return pair, nil
}

// Logout clears the stored refresh token. Logging out twice is not an error.
func (s *SessionService) Logout(ctx context.Context, accountID string) error {
	err := s.repomanager.Accounts(s.db).SetRefreshToken(ctx, accountID, nil)
	if err != nil && !errors.Is(err, common.ErrorNotFound) {
		return common.Internal("clear refresh token", err)
	}
	s.log.Info(ctx, "logged out", "account_id", accountID)
	return nil
}

// ChangePassword re-checks the old password and stores a hash of the new one.
// A wrong old password yields common.ErrIncorrectPassword.
func (s *SessionService) ChangePassword(ctx context.Context, accountID string, in ChangePasswordInput) error {
	if err := validateInput(in); err != nil {
		return err
	}

	account, err := s.repomanager.Accounts(s.db).FindByID(ctx, accountID)
	if err != nil {
		if errors.Is(err, common.ErrorNotFound) {
			return fmt.Errorf("user does not exist: %w", common.ErrorNotFound)
		}
		return common.Internal("lookup account", err)
	}

	ok, err := s.hasher.Verify(in.OldPassword, account.PasswordHash)
	if err != nil {
		return common.Internal("verify password", err)
	}
	if !ok {
		return common.ErrIncorrectPassword
	}

	hash, err := s.hasher.Hash(in.NewPassword)
	if err != nil {
		return common.Internal("hash password", err)
	}

	if !s.opts.RevokeSessionsOnPasswordChange {
		if err := s.repomanager.Accounts(s.db).SetPasswordHash(ctx, accountID, hash); err != nil {
			return common.Internal("store password", err)
		}
		s.log.Info(ctx, "password changed", "account_id", accountID)
		return nil
	}

	err = dbx.WithTx(ctx, s.db, nil, func(ctx context.Context, tx dbx.DBTX) error {
		repo := s.repomanager.Accounts(tx)
		if err := repo.SetPasswordHash(ctx, accountID, hash); err != nil {
			return err
		}
		return repo.SetRefreshToken(ctx, accountID, nil)
	})
	if err != nil {
		return common.Internal("store password", err)
	}

	s.log.Info(ctx, "password changed, sessions revoked", "account_id", accountID)
	return nil
}

// CurrentIdentity verifies an access token and reloads the account it names.
// Token failures match both common.ErrorUnauthorized and the token kind
// (common.ErrTokenExpired or common.ErrTokenInvalid).
func (s *SessionService) CurrentIdentity(ctx context.Context, accessToken string) (models.PublicAccount, error) {
	if accessToken == "" {
		return models.PublicAccount{}, fmt.Errorf("%w: %w: unauthorized request", common.ErrorUnauthorized, common.ErrTokenInvalid)
	}

	identity, err := s.tokens.VerifyAccessToken(accessToken)
	if err != nil {
		return models.PublicAccount{}, fmt.Errorf("%w: %w", common.ErrorUnauthorized, err)
	}

	account, err := s.repomanager.Accounts(s.db).FindByID(ctx, identity.ID)
	if err != nil {
		if errors.Is(err, common.ErrorNotFound) {
			return models.PublicAccount{}, fmt.Errorf("%w: %w: account not found", common.ErrorUnauthorized, common.ErrTokenInvalid)
		}
		return models.PublicAccount{}, common.Internal("lookup account", err)
	}

	return account.Public(), nil
}

// discardBlobs deletes uploads that no account references. Failures are logged.
func (s *SessionService) discardBlobs(ctx context.Context, ids []string) {
	for _, id := range ids {
		if err := s.blobs.Delete(ctx, id); err != nil {
			s.log.Warn(ctx, "orphan blob cleanup failed", "blob_id", id, "error", err)
		}
	}
}
