package config

import "strings"

// AuthConfig contains API authentication configuration.
type AuthConfig struct {
	// APIKeys are the accepted values of the X-API-Key header. Separate multiple keys
	// with commas to rotate without downtime.
	APIKeys []string `env:"API_KEYS" envSeparator:","`

	// AllowAnonymous disables the API key check. Only honoured in dev mode.
	AllowAnonymous bool `env:"API_ALLOW_ANONYMOUS" envDefault:"false"`
}

// Keys returns the configured keys with blanks removed.
func (a AuthConfig) Keys() []string {
	keys := make([]string, 0, len(a.APIKeys))
	for _, k := range a.APIKeys {
		if k = strings.TrimSpace(k); k != "" {
			keys = append(keys, k)
		}
	}
	return keys
}
