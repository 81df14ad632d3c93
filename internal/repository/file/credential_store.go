package file

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"

	"github.com/NordCoder/Storefront/internal/domain/session"
)

// CredentialStore keeps the pair in a JSON file readable only by the owner.
type CredentialStore struct {
	path string
	mu   sync.Mutex
}

var _ session.Store = (*CredentialStore)(nil)

func NewCredentialStore(path string) (*CredentialStore, error) {
	if path == "" {
		return nil, errors.New("file store: empty path")
	}
	return &CredentialStore{path: path}, nil
}

func (s *CredentialStore) Load(_ context.Context) (session.Credentials, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	b, err := os.ReadFile(s.path)
	if errors.Is(err, fs.ErrNotExist) {
		return session.Credentials{}, nil
	}
	if err != nil {
		return session.Credentials{}, fmt.Errorf("read %s: %w", s.path, err)
	}
	if len(b) == 0 {
		return session.Credentials{}, nil
	}
	var c session.Credentials
	if err := json.Unmarshal(b, &c); err != nil {
		return session.Credentials{}, fmt.Errorf("decode %s: %w", s.path, err)
	}
	return c, nil
}

func (s *CredentialStore) Save(_ context.Context, c session.Credentials) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	b, err := json.Marshal(c)
	if err != nil {
		return fmt.Errorf("encode credentials: %w", err)
	}
	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return fmt.Errorf("mkdir %s: %w", dir, err)
	}
	tmp, err := os.CreateTemp(dir, ".credentials-*")
	if err != nil {
		return fmt.Errorf("create temp: %w", err)
	}
	defer func() { _ = os.Remove(tmp.Name()) }()

	if err := tmp.Chmod(0o600); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("chmod temp: %w", err)
	}
	if _, err := tmp.Write(b); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("write temp: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close temp: %w", err)
	}
	if err := os.Rename(tmp.Name(), s.path); err != nil {
		return fmt.Errorf("rename to %s: %w", s.path, err)
	}
	return nil
}

func (s *CredentialStore) Clear(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := os.Remove(s.path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("remove %s: %w", s.path, err)
	}
	return nil
}
