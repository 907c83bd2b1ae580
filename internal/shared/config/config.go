package config

import (
	"io"
	"strings"

	"gopkg.in/yaml.v3"
)

// LoggingConfig contains logging-related configuration.
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

const redactedValue = "*****"

// Properties is the flat key/value view of the loaded configuration.
// Keys are lower-cased, as viper normalizes them.
type Properties map[string]string

// Get returns the value for key, or an empty string when the key is absent.
func (p Properties) Get(key string) string {
	return p[strings.ToLower(key)]
}

// Redacted returns a copy of the properties with credentials masked.
func (p Properties) Redacted() Properties {
	out := make(Properties, len(p))
	for k, v := range p {
		if isSecretKey(k) && v != "" {
			v = redactedValue
		}
		out[k] = v
	}
	return out
}

// WriteYAML writes the redacted properties as a YAML mapping.
func (p Properties) WriteYAML(w io.Writer) error {
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(map[string]string(p.Redacted())); err != nil {
		return err
	}
	return enc.Close()
}

func isSecretKey(key string) bool {
	key = strings.ToLower(key)
	return strings.HasSuffix(key, ".secret.key") ||
		strings.HasSuffix(key, ".access.key") ||
		strings.Contains(key, "password")
}
