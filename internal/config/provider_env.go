package config

import (
	"context"
	"os"
)

// EnvVarProvider resolves secret references by reading the referenced name as
// an environment variable. Lambda secret extensions and local .env files both
// expose secrets this way.
type EnvVarProvider struct {
	lookup envLookup
}

// NewEnvVarProvider creates a new EnvVarProvider backed by os.LookupEnv.
func NewEnvVarProvider() *EnvVarProvider {
	return &EnvVarProvider{lookup: os.LookupEnv}
}

// GetParametersBatch looks each key up as an environment variable. Keys that
// are unset or empty are omitted.
func (p *EnvVarProvider) GetParametersBatch(_ context.Context, keys []string) (map[string]string, error) {
	result := make(map[string]string, len(keys))
	for _, key := range keys {
		if val, ok := p.lookup(key); ok && val != "" {
			result[key] = val
		}
	}
	return result, nil
}
