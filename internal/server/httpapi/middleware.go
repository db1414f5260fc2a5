package httpapi

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/dmitrijs2005/tubeauth/internal/common"
	"github.com/dmitrijs2005/tubeauth/internal/logging"
	"github.com/dmitrijs2005/tubeauth/internal/server/models"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
)

type ctxKey string

const accountKey ctxKey = "account"

// AccountFromContext returns the authenticated account stored by Authenticate.
func AccountFromContext(ctx context.Context) (models.PublicAccount, bool) {
	acc, ok := ctx.Value(accountKey).(models.PublicAccount)
	return acc, ok
}

// IdentityFromContext returns the acting identity for authorization checks.
func IdentityFromContext(ctx context.Context) (models.Identity, bool) {
	acc, ok := AccountFromContext(ctx)
	if !ok {
		return models.Identity{}, false
	}
	return acc.Identity(), true
}

// accessToken reads the token from the access cookie, falling back to an
// "Authorization: Bearer" header.
func accessToken(r *http.Request) string {
	if c, err := r.Cookie(common.AccessTokenCookieName); err == nil && c.Value != "" {
		return c.Value
	}
	scheme, token, ok := strings.Cut(r.Header.Get("Authorization"), " ")
	if ok && strings.EqualFold(scheme, "Bearer") {
		return strings.TrimSpace(token)
	}
	return ""
}

// Authenticate rejects requests without a valid access token and stores the
// caller's account in the request context.
func (h *Handler) Authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := accessToken(r)
		if token == "" {
			writeErrorMessage(w, http.StatusUnauthorized, "unauthorized request")
			return
		}

		acc, err := h.sessions.CurrentIdentity(r.Context(), token)
		switch {
		case err == nil:
		case errors.Is(err, common.ErrTokenExpired):
			writeErrorMessage(w, http.StatusUnauthorized, "access token expired")
			return
		case errors.Is(err, common.ErrorUnauthorized):
			writeErrorMessage(w, http.StatusUnauthorized, "invalid access token")
			return
		default:
			writeError(w, r, h.log, err)
			return
		}

		ctx := context.WithValue(r.Context(), accountKey, acc)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// accessLog logs one line per request. Headers are never logged, so cookies
// and bearer tokens stay out of the logs.
func accessLog(log logging.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := chimiddleware.NewWrapResponseWriter(w, r.ProtoMajor)

			next.ServeHTTP(ww, r)

			log.Info(r.Context(), "http request",
				"method", r.Method,
				"path", r.URL.Path,
				"status", ww.Status(),
				"bytes", ww.BytesWritten(),
				"duration", time.Since(start),
				"request_id", chimiddleware.GetReqID(r.Context()),
			)
		})
	}
}
