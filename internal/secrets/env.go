package secrets

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"
)

// EnvProvider reads secrets from environment variables named PREFIX_KEY
type EnvProvider struct {
	prefix string
}

// NewEnvProvider creates a new environment variable secret provider
func NewEnvProvider(prefix string) *EnvProvider {
	return &EnvProvider{prefix: prefix}
}

func (p *EnvProvider) Name() string { return "environment" }

// Lookup retrieves a secret from environment variables
func (p *EnvProvider) Lookup(ctx context.Context, key string) (string, error) {
	value := strings.TrimSpace(os.Getenv(p.buildEnvKey(key)))
	if value == "" {
		return "", &SecretNotFoundError{Key: key, Provider: p.Name()}
	}
	return value, nil
}

func (p *EnvProvider) buildEnvKey(key string) string {
	if p.prefix == "" {
		return strings.ToUpper(key)
	}
	return fmt.Sprintf("%s_%s", strings.ToUpper(p.prefix), strings.ToUpper(key))
}

// LoadDotEnv loads .env style files into the process environment without
// overriding variables that are already set. Missing files are skipped.
func LoadDotEnv(paths ...string) error {
	if len(paths) == 0 {
		paths = []string{".env"}
	}
	for _, path := range paths {
		if err := godotenv.Load(path); err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				continue
			}
			return fmt.Errorf("failed to load %s: %w", path, err)
		}
		log.Debug().Str("path", path).Msg("environment file loaded")
	}
	return nil
}
