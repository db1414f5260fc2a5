package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"mime/multipart"
	"net/http"

	"github.com/dmitrijs2005/tubeauth/internal/common"
	"github.com/dmitrijs2005/tubeauth/internal/logging"
	"github.com/dmitrijs2005/tubeauth/internal/server/blobstore"
	"github.com/dmitrijs2005/tubeauth/internal/server/models"
	"github.com/dmitrijs2005/tubeauth/internal/server/services"
)

// SessionManager is the session lifecycle used by the handlers.
type SessionManager interface {
	Register(ctx context.Context, in services.RegisterInput) (models.PublicAccount, error)
	Login(ctx context.Context, in services.LoginInput) (*services.LoginResult, error)
	Refresh(ctx context.Context, refreshToken string) (models.TokenPair, error)
	Logout(ctx context.Context, accountID string) error
	ChangePassword(ctx context.Context, accountID string, in services.ChangePasswordInput) error
	CurrentIdentity(ctx context.Context, accessToken string) (models.PublicAccount, error)
}

// ProfileManager updates profile details and media.
type ProfileManager interface {
	UpdateDetails(ctx context.Context, accountID string, in services.UpdateDetailsInput) (models.PublicAccount, error)
	UpdateAvatar(ctx context.Context, accountID string, upload *blobstore.Upload) (models.PublicAccount, error)
	UpdateCoverImage(ctx context.Context, accountID string, upload *blobstore.Upload) (models.PublicAccount, error)
}

// Handler adapts HTTP requests to the session and profile services.
type Handler struct {
	sessions       SessionManager
	profiles       ProfileManager
	cookies        CookieConfig
	maxUploadBytes int64
	log            logging.Logger
}

type loginResponse struct {
	User         models.PublicAccount `json:"user"`
	AccessToken  string               `json:"accessToken"`
	RefreshToken string               `json:"refreshToken"`
}

type tokensResponse struct {
	AccessToken  string `json:"accessToken"`
	RefreshToken string `json:"refreshToken"`
}

func (h *Handler) register(w http.ResponseWriter, r *http.Request) {
	files, err := h.parseMultipart(w, r)
	if err != nil {
		writeError(w, r, h.log, err)
		return
	}
	defer files.close()

	avatar, err := files.upload(r, "avatar")
	if err != nil {
		writeError(w, r, h.log, err)
		return
	}
	cover, err := files.upload(r, "coverImage")
	if err != nil {
		writeError(w, r, h.log, err)
		return
	}

	acc, err := h.sessions.Register(r.Context(), services.RegisterInput{
		FullName:   r.FormValue("fullName"),
		Email:      r.FormValue("email"),
		Username:   r.FormValue("username"),
		Password:   r.FormValue("password"),
		Avatar:     avatar,
		CoverImage: cover,
	})
	if err != nil {
		writeError(w, r, h.log, err)
		return
	}

	writeData(w, http.StatusCreated, acc, "User registered successfully")
}

func (h *Handler) login(w http.ResponseWriter, r *http.Request) {
	var in services.LoginInput
	if err := decodeJSON(w, r, &in); err != nil {
		writeError(w, r, h.log, err)
		return
	}

	res, err := h.sessions.Login(r.Context(), in)
	if err != nil {
		writeError(w, r, h.log, err)
		return
	}

	h.cookies.setSession(w, res.Tokens)
	writeData(w, http.StatusOK, loginResponse{
		User:         res.Account,
		AccessToken:  res.Tokens.AccessToken,
		RefreshToken: res.Tokens.RefreshToken,
	}, "User logged in successfully")
}

func (h *Handler) logout(w http.ResponseWriter, r *http.Request) {
	acc, _ := AccountFromContext(r.Context())

	if err := h.sessions.Logout(r.Context(), acc.ID); err != nil {
		writeError(w, r, h.log, err)
		return
	}

	h.cookies.clearSession(w)
	writeData(w, http.StatusOK, nil, "User logged out")
}

// refreshToken takes the token from the refresh cookie or, failing that,
// from a JSON body of the form {"refreshToken": "..."}.
func (h *Handler) refreshToken(w http.ResponseWriter, r *http.Request) {
	var token string
	if c, err := r.Cookie(common.RefreshTokenCookieName); err == nil {
		token = c.Value
	}

	if token == "" {
		var body struct {
			RefreshToken string `json:"refreshToken"`
		}
		if err := decodeJSON(w, r, &body); err != nil && !errors.Is(err, errEmptyBody) {
			writeError(w, r, h.log, err)
			return
		}
		token = body.RefreshToken
	}

	if token == "" {
		writeErrorMessage(w, http.StatusUnauthorized, "unauthorized request")
		return
	}

	pair, err := h.sessions.Refresh(r.Context(), token)
	switch {
	case err == nil:
	case errors.Is(err, common.ErrTokenExpired):
		writeErrorMessage(w, http.StatusUnauthorized, "refresh token expired")
		return
	case errors.Is(err, common.ErrTokenInvalid):
		writeErrorMessage(w, http.StatusUnauthorized, "invalid refresh token")
		return
	default:
		writeError(w, r, h.log, err)
		return
	}

	h.cookies.setSession(w, pair)
	writeData(w, http.StatusOK, tokensResponse{
		AccessToken:  pair.AccessToken,
		RefreshToken: pair.RefreshToken,
	}, "Access token refreshed")
}

func (h *Handler) changePassword(w http.ResponseWriter, r *http.Request) {
	acc, _ := AccountFromContext(r.Context())

	var in services.ChangePasswordInput
	if err := decodeJSON(w, r, &in); err != nil {
		writeError(w, r, h.log, err)
		return
	}

	if err := h.sessions.ChangePassword(r.Context(), acc.ID, in); err != nil {
		writeError(w, r, h.log, err)
		return
	}

	writeData(w, http.StatusOK, nil, "Password changed successfully")
}

func (h *Handler) currentUser(w http.ResponseWriter, r *http.Request) {
	acc, _ := AccountFromContext(r.Context())
	writeData(w, http.StatusOK, acc, "User fetched successfully")
}

func (h *Handler) updateDetails(w http.ResponseWriter, r *http.Request) {
	acc, _ := AccountFromContext(r.Context())

	var in services.UpdateDetailsInput
	if err := decodeJSON(w, r, &in); err != nil {
		writeError(w, r, h.log, err)
		return
	}

	updated, err := h.profiles.UpdateDetails(r.Context(), acc.ID, in)
	if err != nil {
		writeError(w, r, h.log, err)
		return
	}

	writeData(w, http.StatusOK, updated, "Account details updated successfully")
}

func (h *Handler) updateAvatar(w http.ResponseWriter, r *http.Request) {
	h.updateMedia(w, r, "avatar", h.profiles.UpdateAvatar, "Avatar updated successfully")
}

func (h *Handler) updateCoverImage(w http.ResponseWriter, r *http.Request) {
	h.updateMedia(w, r, "coverImage", h.profiles.UpdateCoverImage, "Cover image updated successfully")
}

type mediaUpdater func(ctx context.Context, accountID string, upload *blobstore.Upload) (models.PublicAccount, error)

func (h *Handler) updateMedia(w http.ResponseWriter, r *http.Request, field string, update mediaUpdater, message string) {
	acc, _ := AccountFromContext(r.Context())

	files, err := h.parseMultipart(w, r)
	if err != nil {
		writeError(w, r, h.log, err)
		return
	}
	defer files.close()

	upload, err := files.upload(r, field)
	if err != nil {
		writeError(w, r, h.log, err)
		return
	}
	if upload == nil {
		writeErrorMessage(w, http.StatusBadRequest, field+" file is missing")
		return
	}

	updated, err := update(r.Context(), acc.ID, upload)
	if err != nil {
		writeError(w, r, h.log, err)
		return
	}

	writeData(w, http.StatusOK, updated, message)
}

var errEmptyBody = common.InvalidInput("request body is required")

func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxJSONBody)

	err := json.NewDecoder(r.Body).Decode(dst)
	var maxErr *http.MaxBytesError
	switch {
	case err == nil:
		return nil
	case errors.Is(err, io.EOF):
		return errEmptyBody
	case errors.As(err, &maxErr):
		return err
	default:
		return common.InvalidInput("invalid request body")
	}
}

// openedFiles closes every multipart file handed to the services.
type openedFiles []multipart.File

func (f *openedFiles) close() {
	for _, file := range *f {
		_ = file.Close()
	}
}

// upload opens the named form file. A missing file yields a nil upload.
func (f *openedFiles) upload(r *http.Request, field string) (*blobstore.Upload, error) {
	file, header, err := r.FormFile(field)
	if errors.Is(err, http.ErrMissingFile) {
		return nil, nil
	}
	if err != nil {
		return nil, common.InvalidInput("invalid " + field + " file")
	}
	*f = append(*f, file)

	contentType := header.Header.Get("Content-Type")
	if contentType == "" {
		contentType = "application/octet-stream"
	}

	return &blobstore.Upload{
		Filename:    header.Filename,
		ContentType: contentType,
		Body:        file,
		Size:        header.Size,
	}, nil
}

func (h *Handler) parseMultipart(w http.ResponseWriter, r *http.Request) (*openedFiles, error) {
	r.Body = http.MaxBytesReader(w, r.Body, h.maxUploadBytes)

	if err := r.ParseMultipartForm(h.maxUploadBytes); err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			return nil, err
		}
		return nil, common.InvalidInput("expected multipart/form-data body")
	}
	return &openedFiles{}, nil
}
