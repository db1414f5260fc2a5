package services

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/dmitrijs2005/tubeauth/internal/common"
	"github.com/dmitrijs2005/tubeauth/internal/dbx"
	"github.com/dmitrijs2005/tubeauth/internal/logging"
	"github.com/dmitrijs2005/tubeauth/internal/server/auth"
	"github.com/dmitrijs2005/tubeauth/internal/server/blobstore"
	"github.com/dmitrijs2005/tubeauth/internal/server/models"
	"github.com/dmitrijs2005/tubeauth/internal/server/password"
	"github.com/dmitrijs2005/tubeauth/internal/server/repositories/accounts"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
)

// memAccounts is an in-memory accounts.Repository with the same uniqueness
// and conditional-rotation semantics as the PostgreSQL one.
type memAccounts struct {
	mu   sync.Mutex
	byID map[string]*models.Account

	createErr error
}

func newMemAccounts() *memAccounts {
	return &memAccounts{byID: map[string]*models.Account{}}
}

func clone(a *models.Account) *models.Account {
	c := *a
	if a.RefreshTokenHash != nil {
		h := *a.RefreshTokenHash
		c.RefreshTokenHash = &h
	}
	if a.CoverImage != nil {
		m := *a.CoverImage
		c.CoverImage = &m
	}
	return &c
}

func (r *memAccounts) Create(_ context.Context, a *models.Account) (*models.Account, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.createErr != nil {
		return nil, r.createErr
	}
	for _, existing := range r.byID {
		if strings.EqualFold(existing.Handle, a.Handle) || strings.EqualFold(existing.Email, a.Email) {
			return nil, fmt.Errorf("handle or email: %w", common.ErrorConflict)
		}
	}

	a.ID = uuid.NewString()
	a.Handle = strings.ToLower(a.Handle)
	a.Email = strings.ToLower(a.Email)
	a.CreatedAt = time.Now().UTC()
	a.UpdatedAt = a.CreatedAt
	a.WatchHistory = []string{}
	r.byID[a.ID] = clone(a)
	return clone(a), nil
}

func (r *memAccounts) FindByIdentifier(_ context.Context, handle, email string) (*models.Account, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, a := range r.byID {
		if (handle != "" && strings.EqualFold(a.Handle, handle)) || (email != "" && strings.EqualFold(a.Email, email)) {
			return clone(a), nil
		}
	}
	return nil, common.ErrorNotFound
}

func (r *memAccounts) FindByID(_ context.Context, id string) (*models.Account, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	a, ok := r.byID[id]
	if !ok {
		return nil, common.ErrorNotFound
	}
	return clone(a), nil
}

func (r *memAccounts) SetRefreshToken(_ context.Context, id string, hash *string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	a, ok := r.byID[id]
	if !ok {
		return common.ErrorNotFound
	}
	if hash == nil {
		a.RefreshTokenHash = nil
	} else {
		h := *hash
		a.RefreshTokenHash = &h
	}
	return nil
}

func (r *memAccounts) RotateRefreshToken(_ context.Context, id, presented, next string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	a, ok := r.byID[id]
	if !ok || a.RefreshTokenHash == nil || *a.RefreshTokenHash != presented {
		return false, nil
	}
	a.RefreshTokenHash = &next
	return true, nil
}

func (r *memAccounts) SetPasswordHash(_ context.Context, id, hash string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	a, ok := r.byID[id]
	if !ok {
		return common.ErrorNotFound
	}
	a.PasswordHash = hash
	return nil
}

func (r *memAccounts) UpdateDetails(_ context.Context, id, fullName, email string) (*models.Account, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	a, ok := r.byID[id]
	if !ok {
		return nil, common.ErrorNotFound
	}
	for otherID, other := range r.byID {
		if otherID != id && strings.EqualFold(other.Email, email) {
			return nil, fmt.Errorf("handle or email: %w", common.ErrorConflict)
		}
	}
	a.FullName = fullName
	a.Email = strings.ToLower(email)
	return clone(a), nil
}

func (r *memAccounts) SwapAvatar(_ context.Context, id string, media models.Media) (models.Media, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	a, ok := r.byID[id]
	if !ok {
		return models.Media{}, common.ErrorNotFound
	}
	prev := a.Avatar
	a.Avatar = media
	return prev, nil
}

func (r *memAccounts) SwapCoverImage(_ context.Context, id string, media models.Media) (*models.Media, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	a, ok := r.byID[id]
	if !ok {
		return nil, common.ErrorNotFound
	}
	prev := a.CoverImage
	a.CoverImage = &media
	return prev, nil
}

var _ accounts.Repository = (*memAccounts)(nil)

type fakeRepoManager struct {
	accounts *memAccounts
}

func (m *fakeRepoManager) RunMigrations(context.Context, *sql.DB) error { return nil }
func (m *fakeRepoManager) Accounts(dbx.DBTX) accounts.Repository        { return m.accounts }

// memBlobs is an in-memory blobstore.Store.
type memBlobs struct {
	mu        sync.Mutex
	objects   map[string]string
	deleted   []string
	deleteErr error
	uploads   int

	// failAt makes the n-th upload (1-based) fail; 0 never fails.
	failAt int
}

func newMemBlobs() *memBlobs {
	return &memBlobs{objects: map[string]string{}}
}

func (b *memBlobs) Upload(_ context.Context, u blobstore.Upload) (blobstore.Blob, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.uploads++
	if b.uploads == b.failAt {
		return blobstore.Blob{}, errBoom
	}
	data, _ := io.ReadAll(u.Body)
	id := fmt.Sprintf("users/%d-%s", b.uploads, u.Filename)
	b.objects[id] = string(data)
	return blobstore.Blob{URL: "https://cdn.test/" + id, ID: id}, nil
}

func (b *memBlobs) Delete(_ context.Context, id string) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.deleteErr != nil {
		return b.deleteErr
	}
	delete(b.objects, id)
	b.deleted = append(b.deleted, id)
	return nil
}

func (b *memBlobs) count() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.objects)
}

type testClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

var testHashParams = password.Params{Memory: 1024, Iterations: 1, Parallelism: 1}

type env struct {
	db       *sql.DB
	mock     sqlmock.Sqlmock
	accounts *memAccounts
	blobs    *memBlobs
	clock    *testClock
	sessions *SessionService
	profile  *ProfileService
}

func newEnv(t *testing.T, opts SessionOptions) *env {
	t.Helper()

	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	e := &env{
		db:       db,
		mock:     mock,
		accounts: newMemAccounts(),
		blobs:    newMemBlobs(),
		clock:    &testClock{t: time.Now().UTC().Truncate(time.Second)},
	}

	rm := &fakeRepoManager{accounts: e.accounts}
	issuer := auth.NewIssuer(auth.Config{
		Issuer:        "tubeauth-test",
		AccessSecret:  []byte("access-secret"),
		RefreshSecret: []byte("refresh-secret"),
		AccessTTL:     15 * time.Minute,
		RefreshTTL:    24 * time.Hour,
	}, e.clock.Now)

	log := logging.Nop{}
	e.sessions = NewSessionService(db, rm, password.NewHasher(testHashParams), issuer, e.blobs, log, opts)
	e.profile = NewProfileService(db, rm, e.blobs, log)
	return e
}

func upload(name string) *blobstore.Upload {
	return &blobstore.Upload{Filename: name, ContentType: "image/png", Body: strings.NewReader("img:" + name), Size: int64(len(name) + 4)}
}

func (e *env) register(t *testing.T, username, email, pw string) models.PublicAccount {
	t.Helper()
	acc, err := e.sessions.Register(context.Background(), RegisterInput{
		FullName: "Test " + username,
		Email:    email,
		Username: username,
		Password: pw,
		Avatar:   upload(username + ".png"),
	})
	require.NoError(t, err)
	return acc
}

var errBoom = errors.New("boom")
