package secrets

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
)

// FileProvider reads secrets mounted as one file per key, the layout used by
// Docker and Kubernetes secret volumes
type FileProvider struct {
	mountPath string
}

// NewFileProvider creates a provider rooted at mountPath
func NewFileProvider(mountPath string) *FileProvider {
	return &FileProvider{mountPath: mountPath}
}

func (p *FileProvider) Name() string { return "file" }

// Lookup reads <mount>/<key>, trying the key as given and lowercased
func (p *FileProvider) Lookup(ctx context.Context, key string) (string, error) {
	if strings.ContainsAny(key, `/\`) || strings.Contains(key, "..") {
		return "", fmt.Errorf("invalid secret key %q", key)
	}
	for _, name := range []string{key, strings.ToLower(key)} {
		data, err := os.ReadFile(filepath.Join(p.mountPath, name))
		if errors.Is(err, fs.ErrNotExist) {
			continue
		}
		if err != nil {
			return "", fmt.Errorf("failed to read secret %q: %w", key, err)
		}
		if v := strings.TrimSpace(string(data)); v != "" {
			return v, nil
		}
	}
	return "", &SecretNotFoundError{Key: key, Provider: p.Name()}
}
