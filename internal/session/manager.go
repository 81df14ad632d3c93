package session

import (
	"context"
	"fmt"
	"sync"
	"time"

	domain "github.com/NordCoder/Storefront/internal/domain/session"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

type EventSink interface {
	Emit(e domain.Event)
}

type Opts struct {
	Profile string
	Sink    EventSink
	Logger  *zap.Logger
	Now     func() time.Time
}

// Manager owns the credentials of one client session. Reads are served from
// memory; Set and Clear write through to the Store.
type Manager struct {
	store   domain.Store
	sink    EventSink
	log     *zap.Logger
	profile string
	now     func() time.Time

	wmu   sync.Mutex // serializes Set/Clear so memory and store agree
	mu    sync.RWMutex
	creds domain.Credentials
	gen   uint64 // bumped on every change of creds
}

func NewManager(store domain.Store, o Opts) *Manager {
	log := o.Logger
	if log == nil {
		log = zap.NewNop()
	}
	if o.Now == nil {
		o.Now = func() time.Time { return time.Now().UTC() }
	}
	if o.Profile == "" {
		o.Profile = "default"
	}
	return &Manager{
		store:   store,
		sink:    o.Sink,
		log:     log.With(zap.String("component", "session"), zap.String("profile", o.Profile)),
		profile: o.Profile,
		now:     o.Now,
	}
}

func (m *Manager) Profile() string { return m.profile }

func (m *Manager) Load(ctx context.Context) error {
	c, err := m.store.Load(ctx)
	if err != nil {
		return fmt.Errorf("load credentials: %w", err)
	}
	m.mu.Lock()
	m.creds = c
	m.gen++
	m.mu.Unlock()
	m.log.Debug("session loaded", zap.Bool("has_access", c.Access != ""), zap.Bool("has_refresh", c.Refresh != ""))
	return nil
}

func (m *Manager) Credentials() domain.Credentials {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.creds
}

// Snapshot returns the pair together with its generation, for use with
// SetIf and ClearIf.
func (m *Manager) Snapshot() (domain.Credentials, uint64) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.creds, m.gen
}

func (m *Manager) AccessToken() string  { return m.Credentials().Access }
func (m *Manager) RefreshToken() string { return m.Credentials().Refresh }

// Set replaces the pair in memory first, then persists it. A persistence
// error is returned but the in-memory pair stays in effect.
func (m *Manager) Set(ctx context.Context, c domain.Credentials, reason domain.Reason) error {
	m.wmu.Lock()
	defer m.wmu.Unlock()
	return m.set(ctx, c, reason)
}

// SetIf is Set, applied only while the pair is still at generation gen.
// It reports false and changes nothing when another write came first.
func (m *Manager) SetIf(ctx context.Context, gen uint64, c domain.Credentials, reason domain.Reason) (bool, error) {
	m.wmu.Lock()
	defer m.wmu.Unlock()
	if !m.at(gen) {
		return false, nil
	}
	return true, m.set(ctx, c, reason)
}

// Clear drops both credentials together.
func (m *Manager) Clear(ctx context.Context, reason domain.Reason) error {
	m.wmu.Lock()
	defer m.wmu.Unlock()
	return m.clear(ctx, reason)
}

// ClearIf is Clear, applied only while the pair is still at generation gen.
func (m *Manager) ClearIf(ctx context.Context, gen uint64, reason domain.Reason) (bool, error) {
	m.wmu.Lock()
	defer m.wmu.Unlock()
	if !m.at(gen) {
		return false, nil
	}
	return true, m.clear(ctx, reason)
}

func (m *Manager) at(gen uint64) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.gen == gen
}

func (m *Manager) set(ctx context.Context, c domain.Credentials, reason domain.Reason) error {
	m.mu.Lock()
	m.creds = c
	m.gen++
	m.mu.Unlock()

	m.emit(domain.KindStored, reason, c.Access)
	if err := m.store.Save(ctx, c); err != nil {
		return fmt.Errorf("save credentials: %w", err)
	}
	return nil
}

func (m *Manager) clear(ctx context.Context, reason domain.Reason) error {
	m.mu.Lock()
	prev := m.creds
	m.creds = domain.Credentials{}
	m.gen++
	m.mu.Unlock()

	m.emit(domain.KindCleared, reason, prev.Access)
	if err := m.store.Clear(ctx); err != nil {
		return fmt.Errorf("clear credentials: %w", err)
	}
	return nil
}

func (m *Manager) Login(ctx context.Context, a domain.Authenticator, email, password string) error {
	c, err := a.Login(ctx, email, password)
	if err != nil {
		return fmt.Errorf("login: %w", err)
	}
	m.log.Info("session.login", zap.String("subject", subjectOf(c.Access)))
	return m.Set(ctx, c, domain.ReasonLogin)
}

// Logout tells the backend about the refresh credential when there is one and
// always clears the local pair.
func (m *Manager) Logout(ctx context.Context, a domain.Authenticator) error {
	if rt := m.RefreshToken(); rt != "" && a != nil {
		if err := a.Logout(ctx, rt); err != nil {
			m.log.Warn("remote logout", zap.Error(err))
		}
	}
	m.log.Info("session.logout")
	return m.Clear(ctx, domain.ReasonLogout)
}

func (m *Manager) emit(kind domain.Kind, reason domain.Reason, access string) {
	if m.sink == nil {
		return
	}
	m.sink.Emit(domain.Event{
		ID:      uuid.New(),
		Profile: m.profile,
		Kind:    kind,
		Reason:  reason,
		Subject: subjectOf(access),
		At:      m.now(),
	})
}
