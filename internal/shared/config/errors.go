package config

import "fmt"

// ConfigNotFoundError is returned when an explicitly requested configuration
// resource does not exist.
type ConfigNotFoundError struct {
	Path string
}

func (e *ConfigNotFoundError) Error() string {
	return fmt.Sprintf("config not found: %s", e.Path)
}

// ConfigLoadError is returned when the configuration resource exists but its
// content cannot be parsed or decoded.
type ConfigLoadError struct {
	Path string
	Err  error
}

func (e *ConfigLoadError) Error() string {
	return fmt.Sprintf("error loading config %s: %v", e.Path, e.Err)
}

func (e *ConfigLoadError) Unwrap() error {
	return e.Err
}
