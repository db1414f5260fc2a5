package accounts

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/dmitrijs2005/tubeauth/internal/common"
	"github.com/dmitrijs2005/tubeauth/internal/dbx"
	"github.com/dmitrijs2005/tubeauth/internal/server/models"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgtype"
)

const uniqueViolation = "23505"

const accountColumns = `id, handle, email, full_name, password_hash, refresh_token_hash,
		avatar_url, avatar_public_id, cover_url, cover_public_id, watch_history,
		created_at, updated_at`

type PostgresRepository struct {
	db    dbx.DBTX
	types *pgtype.Map
}

func NewPostgresRepository(db dbx.DBTX) *PostgresRepository {
	return &PostgresRepository{db: db, types: pgtype.NewMap()}
}

type rowScanner interface {
	Scan(dest ...any) error
}

func (r *PostgresRepository) scan(row rowScanner) (*models.Account, error) {
	var (
		a                 models.Account
		refresh           sql.NullString
		coverURL, coverID sql.NullString
		watchHistory      []string
	)

	err := row.Scan(&a.ID, &a.Handle, &a.Email, &a.FullName, &a.PasswordHash, &refresh,
		&a.Avatar.URL, &a.Avatar.PublicID, &coverURL, &coverID, r.types.SQLScanner(&watchHistory),
		&a.CreatedAt, &a.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, common.ErrorNotFound
		}
		return nil, fmt.Errorf("db error: %w", err)
	}

	if refresh.Valid {
		a.RefreshTokenHash = &refresh.String
	}
	if coverURL.Valid {
		a.CoverImage = &models.Media{URL: coverURL.String, PublicID: coverID.String}
	}
	a.WatchHistory = watchHistory

	return &a, nil
}

func mapWriteError(err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
		return fmt.Errorf("handle or email: %w", common.ErrorConflict)
	}
	return fmt.Errorf("db error: %w", err)
}

func (r *PostgresRepository) Create(ctx context.Context, account *models.Account) (*models.Account, error) {
	if account.ID == "" {
		account.ID = uuid.NewString()
	}
	account.Handle = strings.ToLower(account.Handle)
	account.Email = strings.ToLower(account.Email)

	var coverURL, coverID sql.NullString
	if account.CoverImage != nil {
		coverURL = sql.NullString{String: account.CoverImage.URL, Valid: true}
		coverID = sql.NullString{String: account.CoverImage.PublicID, Valid: true}
	}

	query :=
		`INSERT INTO accounts (id, handle, email, full_name, password_hash,
			avatar_url, avatar_public_id, cover_url, cover_public_id)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		 RETURNING created_at, updated_at`

	err := r.db.QueryRowContext(ctx, query,
		account.ID, account.Handle, account.Email, account.FullName, account.PasswordHash,
		account.Avatar.URL, account.Avatar.PublicID, coverURL, coverID,
	).Scan(&account.CreatedAt, &account.UpdatedAt)
	if err != nil {
		return nil, mapWriteError(err)
	}

	if account.WatchHistory == nil {
		account.WatchHistory = []string{}
	}
	return account, nil
}

func (r *PostgresRepository) FindByIdentifier(ctx context.Context, handle, email string) (*models.Account, error) {
	query := `SELECT ` + accountColumns + ` FROM accounts
		 WHERE ($1 <> '' AND lower(handle) = lower($1))
		    OR ($2 <> '' AND lower(email) = lower($2))
		 LIMIT 1`

	return r.scan(r.db.QueryRowContext(ctx, query, handle, email))
}

func (r *PostgresRepository) FindByID(ctx context.Context, id string) (*models.Account, error) {
	query := `SELECT ` + accountColumns + ` FROM accounts WHERE id = $1`

	return r.scan(r.db.QueryRowContext(ctx, query, id))
}

// exec runs an UPDATE and maps "no row touched" to ErrorNotFound.
func (r *PostgresRepository) exec(ctx context.Context, query string, args ...any) error {
	res, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		return mapWriteError(err)
	}
	ok, err := dbx.Affected(res)
	if err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	if !ok {
		return common.ErrorNotFound
	}
	return nil
}

func (r *PostgresRepository) SetRefreshToken(ctx context.Context, id string, hash *string) error {
	query :=
		`UPDATE accounts SET refresh_token_hash = $2, updated_at = now()
		 WHERE id = $1`

	var v sql.NullString
	if hash != nil {
		v = sql.NullString{String: *hash, Valid: true}
	}
	return r.exec(ctx, query, id, v)
}

func (r *PostgresRepository) RotateRefreshToken(ctx context.Context, id, presentedHash, newHash string) (bool, error) {
	query :=
		`UPDATE accounts SET refresh_token_hash = $3, updated_at = now()
		 WHERE id = $1 AND refresh_token_hash = $2`

	res, err := r.db.ExecContext(ctx, query, id, presentedHash, newHash)
	if err != nil {
		return false, fmt.Errorf("db error: %w", err)
	}
	ok, err := dbx.Affected(res)
	if err != nil {
		return false, fmt.Errorf("db error: %w", err)
	}
	return ok, nil
}

func (r *PostgresRepository) SetPasswordHash(ctx context.Context, id, hash string) error {
	query :=
		`UPDATE accounts SET password_hash = $2, updated_at = now()
		 WHERE id = $1`

	return r.exec(ctx, query, id, hash)
}

func (r *PostgresRepository) UpdateDetails(ctx context.Context, id, fullName, email string) (*models.Account, error) {
	query := `UPDATE accounts SET full_name = $2, email = $3, updated_at = now()
		 WHERE id = $1
		 RETURNING ` + accountColumns

	a, err := r.scan(r.db.QueryRowContext(ctx, query, id, fullName, strings.ToLower(email)))
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
		return nil, mapWriteError(pgErr)
	}
	return a, err
}

func (r *PostgresRepository) SwapAvatar(ctx context.Context, id string, media models.Media) (models.Media, error) {
	var prev models.Media

	err := r.db.QueryRowContext(ctx,
		`SELECT avatar_url, avatar_public_id FROM accounts WHERE id = $1 FOR UPDATE`, id,
	).Scan(&prev.URL, &prev.PublicID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return prev, common.ErrorNotFound
		}
		return prev, fmt.Errorf("db error: %w", err)
	}

	err = r.exec(ctx,
		`UPDATE accounts SET avatar_url = $2, avatar_public_id = $3, updated_at = now()
		 WHERE id = $1`,
		id, media.URL, media.PublicID)
	return prev, err
}

func (r *PostgresRepository) SwapCoverImage(ctx context.Context, id string, media models.Media) (*models.Media, error) {
	var url, publicID sql.NullString

	err := r.db.QueryRowContext(ctx,
		`SELECT cover_url, cover_public_id FROM accounts WHERE id = $1 FOR UPDATE`, id,
	).Scan(&url, &publicID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, common.ErrorNotFound
		}
		return nil, fmt.Errorf("db error: %w", err)
	}

	err = r.exec(ctx,
		`UPDATE accounts SET cover_url = $2, cover_public_id = $3, updated_at = now()
		 WHERE id = $1`,
		id, media.URL, media.PublicID)
	if err != nil {
		return nil, err
	}

	if !url.Valid {
		return nil, nil
	}
	return &models.Media{URL: url.String, PublicID: publicID.String}, nil
}
