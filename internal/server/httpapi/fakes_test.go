package httpapi

import (
	"context"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/dmitrijs2005/tubeauth/internal/common"
	"github.com/dmitrijs2005/tubeauth/internal/server/blobstore"
	"github.com/dmitrijs2005/tubeauth/internal/server/models"
	"github.com/dmitrijs2005/tubeauth/internal/server/services"
)

type fakeSessions struct {
	mu sync.Mutex

	registerIn  services.RegisterInput
	avatarBody  string
	registerErr error

	loginIn  services.LoginInput
	loginRes *services.LoginResult
	loginErr error

	refreshed   string
	refreshPair models.TokenPair
	refreshErr  error

	loggedOut string

	changed   services.ChangePasswordInput
	changeErr error

	accounts    map[string]models.PublicAccount
	identityErr error
}

func newFakeSessions() *fakeSessions {
	return &fakeSessions{accounts: map[string]models.PublicAccount{}}
}

func (f *fakeSessions) Register(_ context.Context, in services.RegisterInput) (models.PublicAccount, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.registerIn = in
	if in.Avatar != nil {
		b, _ := io.ReadAll(in.Avatar.Body)
		f.avatarBody = string(b)
	}
	if f.registerErr != nil {
		return models.PublicAccount{}, f.registerErr
	}
	return models.PublicAccount{ID: "id-1", Username: in.Username, Email: in.Email, FullName: in.FullName, WatchHistory: []string{}}, nil
}

func (f *fakeSessions) Login(_ context.Context, in services.LoginInput) (*services.LoginResult, error) {
	f.loginIn = in
	return f.loginRes, f.loginErr
}

func (f *fakeSessions) Refresh(_ context.Context, token string) (models.TokenPair, error) {
	f.refreshed = token
	return f.refreshPair, f.refreshErr
}

func (f *fakeSessions) Logout(_ context.Context, accountID string) error {
	f.loggedOut = accountID
	return nil
}

func (f *fakeSessions) ChangePassword(_ context.Context, _ string, in services.ChangePasswordInput) error {
	f.changed = in
	return f.changeErr
}

func (f *fakeSessions) CurrentIdentity(_ context.Context, token string) (models.PublicAccount, error) {
	if f.identityErr != nil {
		return models.PublicAccount{}, f.identityErr
	}
	acc, ok := f.accounts[token]
	if !ok {
		return models.PublicAccount{}, fmt.Errorf("%w: %w", common.ErrorUnauthorized, common.ErrTokenInvalid)
	}
	return acc, nil
}

type fakeProfiles struct {
	detailsIn  services.UpdateDetailsInput
	detailsErr error

	uploaded string
}

func (f *fakeProfiles) UpdateDetails(_ context.Context, accountID string, in services.UpdateDetailsInput) (models.PublicAccount, error) {
	f.detailsIn = in
	if f.detailsErr != nil {
		return models.PublicAccount{}, f.detailsErr
	}
	return models.PublicAccount{ID: accountID, FullName: in.FullName, Email: in.Email}, nil
}

func (f *fakeProfiles) UpdateAvatar(_ context.Context, accountID string, upload *blobstore.Upload) (models.PublicAccount, error) {
	f.uploaded = upload.Filename
	return models.PublicAccount{ID: accountID, Avatar: "http://blobs/" + upload.Filename}, nil
}

func (f *fakeProfiles) UpdateCoverImage(_ context.Context, accountID string, upload *blobstore.Upload) (models.PublicAccount, error) {
	f.uploaded = upload.Filename
	return models.PublicAccount{ID: accountID, CoverImage: "http://blobs/" + upload.Filename}, nil
}

var testPair = models.TokenPair{
	AccessToken:      "access-1",
	RefreshToken:     "refresh-1",
	AccessExpiresAt:  time.Date(2030, 1, 1, 0, 0, 0, 0, time.UTC),
	RefreshExpiresAt: time.Date(2030, 1, 10, 0, 0, 0, 0, time.UTC),
}
