package config

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/fsnotify/fsnotify"

	"github.com/wrenfield/idbridge/pkg/observability"
)

// Secret is a credential that may be backed by a file. File-backed secrets
// can be reloaded while the process runs, so rotated secret mounts take
// effect without a restart. Value is safe for concurrent use.
type Secret struct {
	mu    sync.RWMutex
	value string
	path  string
}

// newSecret resolves a secret from the environment. <key>_FILE points at a
// file holding the value and wins over an inline <key> value.
func newSecret(key string) (*Secret, error) {
	if path := os.Getenv(key + "_FILE"); path != "" {
		s := &Secret{path: path}
		if err := s.reload(); err != nil {
			return nil, err
		}
		return s, nil
	}
	return &Secret{value: os.Getenv(key)}, nil
}

// staticSecret wraps a fixed value, used for generated dev secrets.
func staticSecret(value string) *Secret {
	return &Secret{value: value}
}

// Value returns the current secret value.
func (s *Secret) Value() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.value
}

// IsSet reports whether the secret resolved to a non-empty value.
func (s *Secret) IsSet() bool {
	return s.Value() != ""
}

// Path returns the backing file, or empty for inline secrets.
func (s *Secret) Path() string {
	return s.path
}

func (s *Secret) reload() error {
	data, err := os.ReadFile(s.path)
	if err != nil {
		return fmt.Errorf("failed to read secret file %s: %w", s.path, err)
	}
	value := strings.TrimSpace(string(data))
	if value == "" {
		return fmt.Errorf("secret file %s is empty", s.path)
	}

	s.mu.Lock()
	s.value = value
	s.mu.Unlock()
	return nil
}

// fileSecrets returns the config's file-backed secrets.
func (c *Config) fileSecrets() []*Secret {
	var out []*Secret
	for _, s := range []*Secret{
		c.Webhook.Secret,
		c.Token.SigningSecret,
		c.Mattermost.AdminToken,
		c.N8N.APIKey,
	} {
		if s != nil && s.path != "" {
			out = append(out, s)
		}
	}
	return out
}

// WatchSecrets reloads file-backed secrets when their files change. It
// watches the parent directories rather than the files themselves because
// mounted secrets are rotated by replacing the file, which would orphan a
// direct file watch. Returns immediately when no secret is file-backed.
func (c *Config) WatchSecrets(ctx context.Context, logger *observability.Logger) error {
	secrets := c.fileSecrets()
	if len(secrets) == 0 {
		return nil
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create secret watcher: %w", err)
	}

	dirs := make(map[string]bool)
	for _, s := range secrets {
		dir := filepath.Dir(s.path)
		if dirs[dir] {
			continue
		}
		if err := watcher.Add(dir); err != nil {
			watcher.Close()
			return fmt.Errorf("failed to watch secret directory %s: %w", dir, err)
		}
		dirs[dir] = true
	}

	logger = logger.WithComponent("secrets")

	go func() {
		defer watcher.Close()
		defer observability.RecoverPanic(logger, "secret watcher")
		for {
			select {
			case <-ctx.Done():
				return
			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				if event.Op&(fsnotify.Write|fsnotify.Create) == 0 {
					continue
				}
				for _, s := range secrets {
					if filepath.Dir(s.path) != filepath.Dir(event.Name) {
						continue
					}
					if err := s.reload(); err != nil {
						logger.WithError(err).Warn("failed to reload secret")
						continue
					}
					logger.WithField("file", s.path).Info("secret reloaded")
				}
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				logger.WithError(err).Warn("secret watcher error")
			}
		}
	}()

	return nil
}

// generateSecret produces a random hex secret for development setups that
// did not configure one.
func generateSecret() (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return hex.EncodeToString(buf), nil
}
