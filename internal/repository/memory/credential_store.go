package memory

import (
	"context"
	"sync"

	"github.com/NordCoder/Storefront/internal/domain/session"
)

type CredentialStore struct {
	mu sync.Mutex
	c  session.Credentials
}

var _ session.Store = (*CredentialStore)(nil)

func NewCredentialStore() *CredentialStore { return &CredentialStore{} }

func (s *CredentialStore) Load(_ context.Context) (session.Credentials, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.c, nil
}

func (s *CredentialStore) Save(_ context.Context, c session.Credentials) error {
	s.mu.Lock()
	s.c = c
	s.mu.Unlock()
	return nil
}

func (s *CredentialStore) Clear(_ context.Context) error {
	s.mu.Lock()
	s.c = session.Credentials{}
	s.mu.Unlock()
	return nil
}
