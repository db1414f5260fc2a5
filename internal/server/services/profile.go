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
	"github.com/dmitrijs2005/tubeauth/internal/server/blobstore"
	"github.com/dmitrijs2005/tubeauth/internal/server/models"
	"github.com/dmitrijs2005/tubeauth/internal/server/repositories/repomanager"
)

// UpdateDetailsInput is the account-details payload.
type UpdateDetailsInput struct {
	FullName string `json:"fullName" validate:"required"`
	Email    string `json:"email" validate:"required,email"`
}

// ProfileService updates the profile of an authenticated account.
type ProfileService struct {
	db          *sql.DB
	repomanager repomanager.RepositoryManager
	blobs       blobstore.Store
	log         logging.Logger
}

func NewProfileService(db *sql.DB, m repomanager.RepositoryManager, blobs blobstore.Store, log logging.Logger) *ProfileService {
	return &ProfileService{
		db:          db,
		repomanager: m,
		blobs:       blobs,
		log:         log.With("module", "profile"),
	}
}

func (s *ProfileService) UpdateDetails(ctx context.Context, accountID string, in UpdateDetailsInput) (models.PublicAccount, error) {
	in.FullName = strings.TrimSpace(in.FullName)
	in.Email = strings.ToLower(strings.TrimSpace(in.Email))
	if err := validateInput(in); err != nil {
		return models.PublicAccount{}, err
	}

	account, err := s.repomanager.Accounts(s.db).UpdateDetails(ctx, accountID, in.FullName, in.Email)
	if err != nil {
		return models.PublicAccount{}, mapRepoError("update details", err)
	}
	return account.Public(), nil
}

// UpdateAvatar stores a new avatar and deletes the previous one.
func (s *ProfileService) UpdateAvatar(ctx context.Context, accountID string, upload *blobstore.Upload) (models.PublicAccount, error) {
	if upload == nil {
		return models.PublicAccount{}, common.InvalidInput("avatar file is missing")
	}

	return s.swapMedia(ctx, accountID, *upload, func(ctx context.Context, tx dbx.DBTX, media models.Media) (*models.Media, error) {
		prev, err := s.repomanager.Accounts(tx).SwapAvatar(ctx, accountID, media)
		if err != nil {
			return nil, err
		}
		return &prev, nil
	})
}

// UpdateCoverImage stores a new cover image and deletes the previous one, if any.
func (s *ProfileService) UpdateCoverImage(ctx context.Context, accountID string, upload *blobstore.Upload) (models.PublicAccount, error) {
	if upload == nil {
		return models.PublicAccount{}, common.InvalidInput("cover image file is missing")
	}

	return s.swapMedia(ctx, accountID, *upload, func(ctx context.Context, tx dbx.DBTX, media models.Media) (*models.Media, error) {
		return s.repomanager.Accounts(tx).SwapCoverImage(ctx, accountID, media)
	})
}

type swapFunc func(ctx context.Context, tx dbx.DBTX, media models.Media) (*models.Media, error)

// swapMedia uploads the new blob, swaps the reference inside a transaction and
// then removes the old blob. Removal is best effort: a failure is logged and
// the committed update stands.
func (s *ProfileService) swapMedia(ctx context.Context, accountID string, upload blobstore.Upload, swap swapFunc) (models.PublicAccount, error) {
	blob, err := s.blobs.Upload(ctx, upload)
	if err != nil {
		return models.PublicAccount{}, common.Internal("upload media", err)
	}

	var prev *models.Media
	err = dbx.WithTx(ctx, s.db, nil, func(ctx context.Context, tx dbx.DBTX) error {
		var err error
		prev, err = swap(ctx, tx, models.Media{URL: blob.URL, PublicID: blob.ID})
		return err
	})
	if err != nil {
		if delErr := s.blobs.Delete(ctx, blob.ID); delErr != nil {
			s.log.Warn(ctx, "orphan blob cleanup failed", "blob_id", blob.ID, "error", delErr)
		}
		return models.PublicAccount{}, mapRepoError("swap media", err)
	}

	if prev != nil && prev.PublicID != "" {
		if err := s.blobs.Delete(ctx, prev.PublicID); err != nil {
			s.log.Warn(ctx, "previous media delete failed", "account_id", accountID, "blob_id", prev.PublicID, "error", err)
		}
	}

	account, err := s.repomanager.Accounts(s.db).FindByID(ctx, accountID)
	if err != nil {
		return models.PublicAccount{}, mapRepoError("reload account", err)
	}
	return account.Public(), nil
}

// mapRepoError passes NotFound and Conflict through and hides everything else.
func mapRepoError(op string, err error) error {
	switch {
	case errors.Is(err, common.ErrorNotFound):
		return fmt.Errorf("user does not exist: %w", common.ErrorNotFound)
	case errors.Is(err, common.ErrorConflict):
		return fmt.Errorf("email already in use: %w", common.ErrorConflict)
	default:
		return common.Internal(op, err)
	}
}
