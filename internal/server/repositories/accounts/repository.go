// Package accounts is the credential store: one row per registered account
// holding the password hash and the single live refresh-token digest.
package accounts

import (
	"context"

	"github.com/dmitrijs2005/tubeauth/internal/server/models"
)

// Repository persists accounts. Handles and emails are unique
// case-insensitively; a duplicate yields common.ErrorConflict and a missing
// row yields common.ErrorNotFound.
type Repository interface {
	Create(ctx context.Context, account *models.Account) (*models.Account, error)

	// FindByIdentifier matches handle or email; empty arguments are ignored.
	FindByIdentifier(ctx context.Context, handle, email string) (*models.Account, error)
	FindByID(ctx context.Context, id string) (*models.Account, error)

	// SetRefreshToken overwrites the stored refresh-token digest; nil clears it.
	SetRefreshToken(ctx context.Context, id string, hash *string) error

	// RotateRefreshToken replaces the stored digest only if it still equals
	// presentedHash. It reports false when the stored value differed (or the
	// account is gone), which callers treat as token reuse.
	RotateRefreshToken(ctx context.Context, id, presentedHash, newHash string) (bool, error)

	SetPasswordHash(ctx context.Context, id, hash string) error
	UpdateDetails(ctx context.Context, id, fullName, email string) (*models.Account, error)

	// SwapAvatar and SwapCoverImage lock the row, store the new media and
	// return the previous reference. They are meant to run inside dbx.WithTx.
	SwapAvatar(ctx context.Context, id string, media models.Media) (models.Media, error)
	SwapCoverImage(ctx context.Context, id string, media models.Media) (*models.Media, error)
}
