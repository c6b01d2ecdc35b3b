// Package secrets resolves the owner signing key.
package secrets

import (
	"context"
	"crypto/ecdsa"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	gethcrypto "github.com/ethereum/go-ethereum/crypto"
)

// ErrAuth marks a secret that could not be retrieved or parsed. It is fatal to
// the engine.
var ErrAuth = errors.New("secrets: owner key unavailable")

// Backend enumerates supported secret backends.
type Backend string

const (
	// BackendEnv loads secrets from environment variables.
	BackendEnv Backend = "env"
	// BackendFilesystem loads secrets from files under a root directory.
	BackendFilesystem Backend = "filesystem"
)

// Provider returns raw secret material by name.
type Provider interface {
	GetSecret(ctx context.Context, name string) (string, error)
}

// Config describes the secret backend.
type Config struct {
	Backend  Backend
	BasePath string
}

// Manager implements Provider using the configured backend.
type Manager struct {
	backend Backend
	baseDir string
}

// NewManager constructs a Manager for the supplied configuration.
func NewManager(cfg Config) (*Manager, error) {
	backend := cfg.Backend
	if backend == "" {
		backend = BackendEnv
	}
	switch backend {
	case BackendEnv:
		return &Manager{backend: backend}, nil
	case BackendFilesystem:
		base := strings.TrimSpace(cfg.BasePath)
		if base == "" {
			return nil, errors.New("filesystem secret backend requires base path")
		}
		info, err := os.Stat(base)
		if err != nil {
			return nil, fmt.Errorf("stat secret directory: %w", err)
		}
		if !info.IsDir() {
			return nil, fmt.Errorf("secret base path %s is not a directory", base)
		}
		return &Manager{backend: backend, baseDir: base}, nil
	default:
		return nil, fmt.Errorf("unsupported secret backend %q", backend)
	}
}

// GetSecret resolves name using the configured backend.
func (m *Manager) GetSecret(_ context.Context, name string) (string, error) {
	if m == nil {
		return "", errors.New("secret manager not configured")
	}
	if strings.TrimSpace(name) == "" {
		return "", errors.New("secret name required")
	}
	switch m.backend {
	case BackendEnv:
		value := strings.TrimSpace(os.Getenv(name))
		if value == "" {
			return "", fmt.Errorf("environment variable %s not set", name)
		}
		return value, nil
	case BackendFilesystem:
		clean := filepath.Clean(name)
		if clean == "." || clean == ".." || strings.HasPrefix(clean, ".."+string(os.PathSeparator)) {
			return "", fmt.Errorf("secret name %q is invalid", name)
		}
		if filepath.IsAbs(clean) {
			return "", fmt.Errorf("secret name %q must be relative", name)
		}
		data, err := os.ReadFile(filepath.Join(m.baseDir, clean))
		if err != nil {
			return "", err
		}
		return strings.TrimSpace(string(data)), nil
	default:
		return "", fmt.Errorf("unsupported secret backend %q", m.backend)
	}
}

// StaticProvider serves fixed values.
type StaticProvider map[string]string

// GetSecret implements Provider.
func (p StaticProvider) GetSecret(_ context.Context, name string) (string, error) {
	v, ok := p[name]
	if !ok {
		return "", fmt.Errorf("secret %s not found", name)
	}
	return v, nil
}

// OwnerKey loads and parses the owner's signing key. The secret may hold the
// hex key directly or a JSON document with a private_key field.
func OwnerKey(ctx context.Context, provider Provider, name string) (*ecdsa.PrivateKey, error) {
	if provider == nil {
		return nil, fmt.Errorf("%w: no provider", ErrAuth)
	}
	raw, err := provider.GetSecret(ctx, name)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrAuth, name, err)
	}
	hexKey := strings.TrimSpace(raw)
	if strings.HasPrefix(hexKey, "{") {
		var doc struct {
			PrivateKey string `json:"private_key"`
		}
		if err := json.Unmarshal([]byte(hexKey), &doc); err != nil {
			return nil, fmt.Errorf("%w: %s: decode: %v", ErrAuth, name, err)
		}
		hexKey = strings.TrimSpace(doc.PrivateKey)
	}
	hexKey = strings.TrimPrefix(strings.TrimPrefix(hexKey, "0x"), "0X")
	if hexKey == "" {
		return nil, fmt.Errorf("%w: %s: empty key", ErrAuth, name)
	}
	key, err := gethcrypto.HexToECDSA(hexKey)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: parse: %v", ErrAuth, name, err)
	}
	return key, nil
}
