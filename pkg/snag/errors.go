package snag

import "fmt"

// ConfigError reports required configuration that is missing or invalid.
// Initialization must abort when it is returned.
type ConfigError struct {
	Field  string
	Reason string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("snag: invalid config %s: %s", e.Field, e.Reason)
}

// errMissingAPIKey is returned by New when the API key is empty.
func errMissingAPIKey() error {
	return &ConfigError{Field: "api_key", Reason: "must be set"}
}
