// Package secrets is the credential source consumed by collection sessions.
// Values are looked up by key from the environment or from mounted secret
// files, and never appear in logs or persisted output.
package secrets

import (
	"context"
	"errors"
	"fmt"
)

// Provider is an opaque key-value lookup for secret material
type Provider interface {
	Lookup(ctx context.Context, key string) (string, error)
	Name() string
}

// SecretNotFoundError is returned when no provider knows the key
type SecretNotFoundError struct {
	Key      string
	Provider string
}

func (e *SecretNotFoundError) Error() string {
	return fmt.Sprintf("secret %q not found in provider %s", e.Key, e.Provider)
}

// IsNotFound reports whether err is a SecretNotFoundError
func IsNotFound(err error) bool {
	var target *SecretNotFoundError
	return errors.As(err, &target)
}

// Chain asks each provider in order and returns the first hit
type Chain []Provider

func (c Chain) Name() string { return "chain" }

func (c Chain) Lookup(ctx context.Context, key string) (string, error) {
	for _, p := range c {
		v, err := p.Lookup(ctx, key)
		if err == nil {
			return v, nil
		}
		if !IsNotFound(err) {
			return "", fmt.Errorf("provider %s: %w", p.Name(), err)
		}
	}
	return "", &SecretNotFoundError{Key: key, Provider: c.Name()}
}
