package config

import "os"

// Environment variable names for overrides.
const (
	EnvConfig = "SAVEKNIGHT_CONFIG"
	EnvAPIURL = "SAVEKNIGHT_API_URL"
)

// EnvOverrides holds values derived from environment variables.
type EnvOverrides struct {
	ConfigPath string // SAVEKNIGHT_CONFIG: override config file path
	APIURL     string // SAVEKNIGHT_API_URL: backup service base URL
}

// ReadEnvOverrides reads environment variables and returns any overrides found.
// This does not modify the Config; callers apply the relevant fields.
func ReadEnvOverrides() EnvOverrides {
	return EnvOverrides{
		ConfigPath: os.Getenv(EnvConfig),
		APIURL:     os.Getenv(EnvAPIURL),
	}
}
