package config

import "github.com/caarlos0/env/v11"

// parseEnv overlays config with TUBEAUTH_* environment variables. Unset
// variables leave the current value untouched. A non-nil environment map
// replaces the process environment (used by tests).
func parseEnv(config *Config, environment map[string]string) error {
	opts := env.Options{}
	if environment != nil {
		opts.Environment = environment
	}
	return env.ParseWithOptions(config, opts)
}
