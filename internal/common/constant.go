package common

const (
	// AccessTokenCookieName carries the short-lived access token.
	AccessTokenCookieName = "accessToken"

	// RefreshTokenCookieName carries the long-lived refresh token.
	RefreshTokenCookieName = "refreshToken"

	// AccessTokenHeaderName is the gRPC metadata key used by downstream
	// services when forwarding a caller's access token.
	AccessTokenHeaderName = "access_token"
)
