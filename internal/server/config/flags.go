package config

import (
	"flag"
	"io"

	"github.com/dmitrijs2005/tubeauth/internal/flagx"
)

var flagNames = []string{"-a", "-g", "-d", "-l", "-s", "-r", "-t", "-rt"}

// parseFlags populates selected Config fields from command-line flags.
//
// Supported flags:
//
//	-a string     HTTP bind address (e.g. ":8000")
//	-g string     gRPC bind address (e.g. ":50051")
//	-d string     PostgreSQL DSN
//	-l string     log level
//	-s string     access token secret
//	-r string     refresh token secret
//	-t duration   access token TTL (e.g. "15m")
//	-rt duration  refresh token TTL (e.g. "240h")
//
// Unknown flags are filtered out first so that -c/-config and flags owned by
// other components do not make parsing fail.
func parseFlags(config *Config, args []string) error {
	fs := flag.NewFlagSet("tubeauth", flag.ContinueOnError)
	fs.SetOutput(io.Discard)

	fs.StringVar(&config.HTTPAddr, "a", config.HTTPAddr, "HTTP address and port")
	fs.StringVar(&config.GRPCAddr, "g", config.GRPCAddr, "gRPC address and port")
	fs.StringVar(&config.DatabaseDSN, "d", config.DatabaseDSN, "database DSN")
	fs.StringVar(&config.LogLevel, "l", config.LogLevel, "log level")
	fs.StringVar(&config.AccessTokenSecret, "s", config.AccessTokenSecret, "access token secret")
	fs.StringVar(&config.RefreshTokenSecret, "r", config.RefreshTokenSecret, "refresh token secret")
	fs.DurationVar(&config.AccessTokenTTL, "t", config.AccessTokenTTL, "access token TTL")
	fs.DurationVar(&config.RefreshTokenTTL, "rt", config.RefreshTokenTTL, "refresh token TTL")

	return fs.Parse(flagx.FilterArgs(args, flagNames))
}
