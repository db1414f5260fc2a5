package httpapi

import (
	"net/http"
	"strings"
	"time"

	"github.com/dmitrijs2005/tubeauth/internal/common"
	"github.com/dmitrijs2005/tubeauth/internal/server/models"
)

// CookieConfig controls the session cookies. Both tokens are HttpOnly.
type CookieConfig struct {
	Domain     string
	SameSite   http.SameSite
	Secure     bool
	AccessTTL  time.Duration
	RefreshTTL time.Duration
}

// ParseSameSite maps "lax", "strict" or "none" to http.SameSite.
func ParseSameSite(v string) http.SameSite {
	switch strings.ToLower(v) {
	case "strict":
		return http.SameSiteStrictMode
	case "none":
		return http.SameSiteNoneMode
	default:
		return http.SameSiteLaxMode
	}
}

func (c CookieConfig) cookie(name, value string, maxAge int) *http.Cookie {
	return &http.Cookie{
		Name:     name,
		Value:    value,
		Path:     "/",
		Domain:   c.Domain,
		MaxAge:   maxAge,
		HttpOnly: true,
		Secure:   c.Secure,
		SameSite: c.SameSite,
	}
}

func (c CookieConfig) setSession(w http.ResponseWriter, pair models.TokenPair) {
	http.SetCookie(w, c.cookie(common.AccessTokenCookieName, pair.AccessToken, int(c.AccessTTL.Seconds())))
	http.SetCookie(w, c.cookie(common.RefreshTokenCookieName, pair.RefreshToken, int(c.RefreshTTL.Seconds())))
}

func (c CookieConfig) clearSession(w http.ResponseWriter) {
	http.SetCookie(w, c.cookie(common.AccessTokenCookieName, "", -1))
	http.SetCookie(w, c.cookie(common.RefreshTokenCookieName, "", -1))
}
