package config

import (
	"encoding/json"
	"os"

	"github.com/dmitrijs2005/tubeauth/internal/flagx"
	"github.com/dmitrijs2005/tubeauth/internal/timex"
)

// JsonConfig is the on-disk shape of the config file. Only keys present in
// the file override the current values; durations accept "15m" style strings
// as well as integer nanoseconds.
type JsonConfig struct {
	HTTPAddr    string `json:"http_addr"`
	GRPCAddr    string `json:"grpc_addr"`
	DatabaseDSN string `json:"database_dsn"`
	LogLevel    string `json:"log_level"`

	TokenIssuer        string          `json:"token_issuer"`
	AccessTokenSecret  string          `json:"access_token_secret"`
	RefreshTokenSecret string          `json:"refresh_token_secret"`
	AccessTokenTTL     *timex.Duration `json:"access_token_ttl"`
	RefreshTokenTTL    *timex.Duration `json:"refresh_token_ttl"`

	CookieDomain   string   `json:"cookie_domain"`
	CookieSameSite string   `json:"cookie_samesite"`
	CookieSecure   *bool    `json:"cookie_secure"`
	CORSOrigins    []string `json:"cors_origins"`

	Argon2Memory      uint32 `json:"argon2_memory_kib"`
	Argon2Iterations  uint32 `json:"argon2_iterations"`
	Argon2Parallelism uint8  `json:"argon2_parallelism"`

	MaxUploadBytes int64 `json:"max_upload_bytes"`

	S3AccessKey     string `json:"s3_access_key"`
	S3SecretKey     string `json:"s3_secret_key"`
	S3Bucket        string `json:"s3_bucket"`
	S3Region        string `json:"s3_region"`
	S3BaseEndpoint  string `json:"s3_base_endpoint"`
	S3PublicBaseURL string `json:"s3_public_base_url"`

	RateLimitPerSecond float64 `json:"rate_limit_per_second"`
	RateLimitBurst     int     `json:"rate_limit_burst"`

	RevokeSessionsOnPasswordChange *bool `json:"revoke_sessions_on_password_change"`
}

// parseJSON overlays config with the file named by -c/-config, if any.
func parseJSON(config *Config, args []string) error {
	path := flagx.ConfigFilePath(args)
	if path == "" {
		return nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}

	c := &JsonConfig{}
	if err := json.Unmarshal(data, c); err != nil {
		return err
	}

	setString(&config.HTTPAddr, c.HTTPAddr)
	setString(&config.GRPCAddr, c.GRPCAddr)
	setString(&config.DatabaseDSN, c.DatabaseDSN)
	setString(&config.LogLevel, c.LogLevel)

	setString(&config.TokenIssuer, c.TokenIssuer)
	setString(&config.AccessTokenSecret, c.AccessTokenSecret)
	setString(&config.RefreshTokenSecret, c.RefreshTokenSecret)
	if c.AccessTokenTTL != nil {
		config.AccessTokenTTL = c.AccessTokenTTL.Duration
	}
	if c.RefreshTokenTTL != nil {
		config.RefreshTokenTTL = c.RefreshTokenTTL.Duration
	}

	setString(&config.CookieDomain, c.CookieDomain)
	setString(&config.CookieSameSite, c.CookieSameSite)
	if c.CookieSecure != nil {
		config.CookieSecure = *c.CookieSecure
	}
	if len(c.CORSOrigins) > 0 {
		config.CORSOrigins = c.CORSOrigins
	}

	if c.Argon2Memory > 0 {
		config.Argon2Memory = c.Argon2Memory
	}
	if c.Argon2Iterations > 0 {
		config.Argon2Iterations = c.Argon2Iterations
	}
	if c.Argon2Parallelism > 0 {
		config.Argon2Parallelism = c.Argon2Parallelism
	}
	if c.MaxUploadBytes > 0 {
		config.MaxUploadBytes = c.MaxUploadBytes
	}

	setString(&config.S3AccessKey, c.S3AccessKey)
	setString(&config.S3SecretKey, c.S3SecretKey)
	setString(&config.S3Bucket, c.S3Bucket)
	setString(&config.S3Region, c.S3Region)
	setString(&config.S3BaseEndpoint, c.S3BaseEndpoint)
	setString(&config.S3PublicBaseURL, c.S3PublicBaseURL)

	if c.RateLimitPerSecond > 0 {
		config.RateLimitPerSecond = c.RateLimitPerSecond
	}
	if c.RateLimitBurst > 0 {
		config.RateLimitBurst = c.RateLimitBurst
	}
	if c.RevokeSessionsOnPasswordChange != nil {
		config.RevokeSessionsOnPasswordChange = *c.RevokeSessionsOnPasswordChange
	}

	return nil
}

func setString(dst *string, v string) {
	if v != "" {
		*dst = v
	}
}
