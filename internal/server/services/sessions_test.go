package services

import (
	"context"
	"encoding/json"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/dmitrijs2005/tubeauth/internal/common"
	"github.com/dmitrijs2005/tubeauth/internal/server/auth"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
)

func TestSessionScenario_Rotation(t *testing.T) {
	e := newEnv(t, SessionOptions{})
	ctx := context.Background()

	e.register(t, "alice", "alice@example.com", "correct-horse")

	login, err := e.sessions.Login(ctx, LoginInput{Username: "alice", Password: "correct-horse"})
	require.NoError(t, err)
	r1 := login.Tokens.RefreshToken

	pair2, err := e.sessions.Refresh(ctx, r1)
	require.NoError(t, err)
	assert.NotEqual(t, r1, pair2.RefreshToken)

	_, err = e.sessions.Refresh(ctx, r1)
	assert.ErrorIs(t, err, common.ErrorUnauthorized)

	pair3, err := e.sessions.Refresh(ctx, pair2.RefreshToken)
	require.NoError(t, err)

	require.NoError(t, e.sessions.Logout(ctx, login.Account.ID))

	_, err = e.sessions.Refresh(ctx, pair3.RefreshToken)
	assert.ErrorIs(t, err, common.ErrorUnauthorized)
}

func TestRegisterThenLogin_ProjectionHasNoSecrets(t *testing.T) {
	e := newEnv(t, SessionOptions{})
	ctx := context.Background()

	acc := e.register(t, "Bob", "Bob@Example.com", "s3cret")
	assert.Equal(t, "bob", acc.Username)
	assert.Equal(t, "bob@example.com", acc.Email)

	login, err := e.sessions.Login(ctx, LoginInput{Email: "BOB@example.com", Password: "s3cret"})
	require.NoError(t, err)

	for _, v := range []any{acc, login.Account} {
		b, err := json.Marshal(v)
		require.NoError(t, err)
		assert.NotContains(t, string(b), "argon2id")
		assert.NotContains(t, string(b), "password")
		assert.NotContains(t, string(b), "refresh")
	}

	stored, err := e.accounts.FindByID(ctx, acc.ID)
	require.NoError(t, err)
	require.NotNil(t, stored.RefreshTokenHash)
	assert.Equal(t, auth.Digest(login.Tokens.RefreshToken), *stored.RefreshTokenHash)
	assert.NotEqual(t, login.Tokens.RefreshToken, *stored.RefreshTokenHash)
}

func TestRegister_DoesNotStartSession(t *testing.T) {
	e := newEnv(t, SessionOptions{})
	acc := e.register(t, "carol", "carol@example.com", "pw")

	stored, err := e.accounts.FindByID(context.Background(), acc.ID)
	require.NoError(t, err)
	assert.Nil(t, stored.RefreshTokenHash)
}

func TestRegister_Validation(t *testing.T) {
	e := newEnv(t, SessionOptions{})

	valid := func() RegisterInput {
		return RegisterInput{
			FullName: "Dan", Email: "dan@example.com", Username: "dan", Password: "pw",
			Avatar: upload("dan.png"),
		}
	}

	tests := []struct {
		name   string
		mutate func(in *RegisterInput)
		msg    string
	}{
		{"blank full name", func(in *RegisterInput) { in.FullName = "   " }, "fullName is required"},
		{"blank email", func(in *RegisterInput) { in.Email = "\t" }, "email is required"},
		{"bad email", func(in *RegisterInput) { in.Email = "not-an-email" }, "email must be a valid email address"},
		{"blank username", func(in *RegisterInput) { in.Username = " " }, "username is required"},
		{"blank password", func(in *RegisterInput) { in.Password = "  " }, "password is required"},
		{"missing avatar", func(in *RegisterInput) { in.Avatar = nil }, "avatar is required"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			in := valid()
			tt.mutate(&in)

			_, err := e.sessions.Register(context.Background(), in)
			require.ErrorIs(t, err, common.ErrorInvalidInput)
			assert.Contains(t, err.Error(), tt.msg)
		})
	}

	assert.Zero(t, e.blobs.count())
}

func TestRegister_DuplicateIsCaseInsensitive(t *testing.T) {
	e := newEnv(t, SessionOptions{})
	e.register(t, "erin", "erin@example.com", "pw")
	before := e.blobs.count()

	for _, in := range []RegisterInput{
		{FullName: "E", Email: "other@example.com", Username: "ERIN", Password: "pw", Avatar: upload("a.png")},
		{FullName: "E", Email: "Erin@Example.COM", Username: "erin2", Password: "pw", Avatar: upload("a.png")},
	} {
		_, err := e.sessions.Register(context.Background(), in)
		assert.ErrorIs(t, err, common.ErrorConflict)
	}
	assert.Equal(t, before, e.blobs.count())
}

func TestRegister_WithCoverImage(t *testing.T) {
	e := newEnv(t, SessionOptions{})

	acc, err := e.sessions.Register(context.Background(), RegisterInput{
		FullName: "Fay", Email: "fay@example.com", Username: "fay", Password: "pw",
		Avatar: upload("fay.png"), CoverImage: upload("cover.png"),
	})
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(acc.Avatar, "https://cdn.test/"))
	assert.True(t, strings.HasSuffix(acc.CoverImage, "cover.png"))
	assert.Equal(t, 2, e.blobs.count())
}

func TestRegister_PersistFailureDiscardsBlobs(t *testing.T) {
	e := newEnv(t, SessionOptions{})
	e.accounts.createErr = errBoom

	_, err := e.sessions.Register(context.Background(), RegisterInput{
		FullName: "Gus", Email: "gus@example.com", Username: "gus", Password: "pw",
		Avatar: upload("gus.png"), CoverImage: upload("cover.png"),
	})
	require.ErrorIs(t, err, common.ErrorInternal)
	assert.Zero(t, e.blobs.count())
	assert.Len(t, e.blobs.deleted, 2)
}

func TestRegister_CoverUploadFailureDiscardsAvatar(t *testing.T) {
	e := newEnv(t, SessionOptions{})
	e.blobs.failAt = 2

	_, err := e.sessions.Register(context.Background(), RegisterInput{
		FullName: "Hal", Email: "hal@example.com", Username: "hal", Password: "pw",
		Avatar: upload("hal.png"), CoverImage: upload("cover.png"),
	})
	require.ErrorIs(t, err, common.ErrorInternal)
	assert.Zero(t, e.blobs.count())
}

func TestLogin_Failures(t *testing.T) {
	e := newEnv(t, SessionOptions{})
	e.register(t, "ivy", "ivy@example.com", "correct-horse")
	ctx := context.Background()

	t.Run("wrong password by handle", func(t *testing.T) {
		_, err := e.sessions.Login(ctx, LoginInput{Username: "ivy", Password: "nope"})
		assert.ErrorIs(t, err, common.ErrorUnauthorized)
	})

	t.Run("wrong password by email", func(t *testing.T) {
		_, err := e.sessions.Login(ctx, LoginInput{Email: "ivy@example.com", Password: "nope"})
		assert.ErrorIs(t, err, common.ErrorUnauthorized)
	})

	t.Run("unknown account", func(t *testing.T) {
		_, err := e.sessions.Login(ctx, LoginInput{Username: "nobody", Password: "x"})
		assert.ErrorIs(t, err, common.ErrorNotFound)
	})

	t.Run("missing identifier", func(t *testing.T) {
		_, err := e.sessions.Login(ctx, LoginInput{Username: " ", Password: "x"})
		require.ErrorIs(t, err, common.ErrorInvalidInput)
		assert.Equal(t, "invalid input: username or email is required", err.Error())
	})

	t.Run("missing password", func(t *testing.T) {
		_, err := e.sessions.Login(ctx, LoginInput{Username: "ivy"})
		assert.ErrorIs(t, err, common.ErrorInvalidInput)
	})
}

func TestLogin_InvalidatesPreviousSession(t *testing.T) {
	e := newEnv(t, SessionOptions{})
	e.register(t, "jay", "jay@example.com", "pw")
	ctx := context.Background()

	first, err := e.sessions.Login(ctx, LoginInput{Username: "jay", Password: "pw"})
	require.NoError(t, err)
	_, err = e.sessions.Login(ctx, LoginInput{Username: "jay", Password: "pw"})
	require.NoError(t, err)

	_, err = e.sessions.Refresh(ctx, first.Tokens.RefreshToken)
	assert.ErrorIs(t, err, common.ErrorUnauthorized)
}

func TestLogin_UpgradesLegacyHash(t *testing.T) {
	e := newEnv(t, SessionOptions{})
	acc := e.register(t, "kim", "kim@example.com", "placeholder")
	ctx := context.Background()

	legacy, err := bcrypt.GenerateFromPassword([]byte("old-node-password"), bcrypt.MinCost)
	require.NoError(t, err)
	require.NoError(t, e.accounts.SetPasswordHash(ctx, acc.ID, string(legacy)))

	_, err = e.sessions.Login(ctx, LoginInput{Username: "kim", Password: "old-node-password"})
	require.NoError(t, err)

	stored, err := e.accounts.FindByID(ctx, acc.ID)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(stored.PasswordHash, "$argon2id$"))

	_, err = e.sessions.Login(ctx, LoginInput{Username: "kim", Password: "old-node-password"})
	assert.NoError(t, err)
}

func TestRefresh_Failures(t *testing.T) {
	e := newEnv(t, SessionOptions{})
	e.register(t, "lee", "lee@example.com", "pw")
	ctx := context.Background()

	login, err := e.sessions.Login(ctx, LoginInput{Username: "lee", Password: "pw"})
	require.NoError(t, err)

	t.Run("missing", func(t *testing.T) {
		_, err := e.sessions.Refresh(ctx, "")
		assert.ErrorIs(t, err, common.ErrorUnauthorized)
	})

	t.Run("garbage", func(t *testing.T) {
		_, err := e.sessions.Refresh(ctx, "not-a-token")
		assert.ErrorIs(t, err, common.ErrorUnauthorized)
		assert.ErrorIs(t, err, common.ErrTokenInvalid)
	})

	t.Run("access token presented as refresh token", func(t *testing.T) {
		_, err := e.sessions.Refresh(ctx, login.Tokens.AccessToken)
		assert.ErrorIs(t, err, common.ErrorUnauthorized)
	})

	t.Run("expired", func(t *testing.T) {
		e.clock.Advance(25 * time.Hour)
		t.Cleanup(func() { e.clock.Advance(-25 * time.Hour) })

		_, err := e.sessions.Refresh(ctx, login.Tokens.RefreshToken)
		assert.ErrorIs(t, err, common.ErrorUnauthorized)
		assert.ErrorIs(t, err, common.ErrTokenExpired)
	})

	t.Run("still valid afterwards", func(t *testing.T) {
		_, err := e.sessions.Refresh(ctx, login.Tokens.RefreshToken)
		assert.NoError(t, err)
	})
}

func TestRefresh_ConcurrentReuseOnlyOneWins(t *testing.T) {
	e := newEnv(t, SessionOptions{})
	e.register(t, "max", "max@example.com", "pw")
	ctx := context.Background()

	login, err := e.sessions.Login(ctx, LoginInput{Username: "max", Password: "pw"})
	require.NoError(t, err)

	const workers = 8
	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		successes int
	)
	for range workers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := e.sessions.Refresh(ctx, login.Tokens.RefreshToken); err == nil {
				mu.Lock()
				successes++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, successes)
}

func TestLogout_Idempotent(t *testing.T) {
	e := newEnv(t, SessionOptions{})
	acc := e.register(t, "ned", "ned@example.com", "pw")
	ctx := context.Background()

	require.NoError(t, e.sessions.Logout(ctx, acc.ID))
	require.NoError(t, e.sessions.Logout(ctx, acc.ID))
	require.NoError(t, e.sessions.Logout(ctx, "missing-account"))
}

func TestChangePassword(t *testing.T) {
	e := newEnv(t, SessionOptions{})
	acc := e.register(t, "oda", "oda@example.com", "old-pw")
	ctx := context.Background()

	login, err := e.sessions.Login(ctx, LoginInput{Username: "oda", Password: "old-pw"})
	require.NoError(t, err)

	err = e.sessions.ChangePassword(ctx, acc.ID, ChangePasswordInput{OldPassword: "wrong", NewPassword: "new-pw"})
	assert.ErrorIs(t, err, common.ErrIncorrectPassword)
	assert.ErrorIs(t, err, common.ErrorUnauthorized)

	err = e.sessions.ChangePassword(ctx, acc.ID, ChangePasswordInput{OldPassword: "old-pw"})
	assert.ErrorIs(t, err, common.ErrorInvalidInput)

	require.NoError(t, e.sessions.ChangePassword(ctx, acc.ID, ChangePasswordInput{OldPassword: "old-pw", NewPassword: "new-pw"}))

	_, err = e.sessions.Login(ctx, LoginInput{Username: "oda", Password: "old-pw"})
	assert.ErrorIs(t, err, common.ErrorUnauthorized)

	// existing sessions survive a password change by default
	_, err = e.sessions.Refresh(ctx, login.Tokens.RefreshToken)
	assert.NoError(t, err)

	_, err = e.sessions.Login(ctx, LoginInput{Username: "oda", Password: "new-pw"})
	assert.NoError(t, err)
}

func TestChangePassword_RevokesSessionsWhenConfigured(t *testing.T) {
	e := newEnv(t, SessionOptions{RevokeSessionsOnPasswordChange: true})
	acc := e.register(t, "pia", "pia@example.com", "old-pw")
	ctx := context.Background()

	login, err := e.sessions.Login(ctx, LoginInput{Username: "pia", Password: "old-pw"})
	require.NoError(t, err)

	e.mock.ExpectBegin()
	e.mock.ExpectCommit()

	require.NoError(t, e.sessions.ChangePassword(ctx, acc.ID, ChangePasswordInput{OldPassword: "old-pw", NewPassword: "new-pw"}))
	require.NoError(t, e.mock.ExpectationsWereMet())

	_, err = e.sessions.Refresh(ctx, login.Tokens.RefreshToken)
	assert.ErrorIs(t, err, common.ErrorUnauthorized)
}

func TestCurrentIdentity(t *testing.T) {
	e := newEnv(t, SessionOptions{})
	acc := e.register(t, "quinn", "quinn@example.com", "pw")
	ctx := context.Background()

	login, err := e.sessions.Login(ctx, LoginInput{Username: "quinn", Password: "pw"})
	require.NoError(t, err)

	t.Run("valid", func(t *testing.T) {
		got, err := e.sessions.CurrentIdentity(ctx, login.Tokens.AccessToken)
		require.NoError(t, err)
		assert.Equal(t, acc.ID, got.ID)
		assert.Equal(t, "quinn", got.Username)
	})

	t.Run("tampered is invalid", func(t *testing.T) {
		_, err := e.sessions.CurrentIdentity(ctx, login.Tokens.AccessToken+"x")
		assert.ErrorIs(t, err, common.ErrorUnauthorized)
		assert.ErrorIs(t, err, common.ErrTokenInvalid)
		assert.NotErrorIs(t, err, common.ErrTokenExpired)
	})

	t.Run("refresh token is invalid", func(t *testing.T) {
		_, err := e.sessions.CurrentIdentity(ctx, login.Tokens.RefreshToken)
		assert.ErrorIs(t, err, common.ErrTokenInvalid)
	})

	t.Run("empty", func(t *testing.T) {
		_, err := e.sessions.CurrentIdentity(ctx, "")
		assert.ErrorIs(t, err, common.ErrorUnauthorized)
	})

	t.Run("expired", func(t *testing.T) {
		e.clock.Advance(16 * time.Minute)
		t.Cleanup(func() { e.clock.Advance(-16 * time.Minute) })

		_, err := e.sessions.CurrentIdentity(ctx, login.Tokens.AccessToken)
		assert.ErrorIs(t, err, common.ErrorUnauthorized)
		assert.ErrorIs(t, err, common.ErrTokenExpired)
		assert.NotErrorIs(t, err, common.ErrTokenInvalid)
	})
}
