package session

import (
	"context"
	"fmt"
	"slices"
	"strings"
	"sync"

	"github.com/Mmx233/QFarm/client"
	"github.com/Mmx233/QFarm/config"
	"github.com/Mmx233/QFarm/metrics"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// AccountSpec describes an account to add to a Registry
type AccountSpec struct {
	Name       string
	Credential client.Credential
	Config     config.AccountConfig
}

// Factory builds a session for spec. onFailed must be passed through as
// Options.OnReconnectFailed so the registry can evict the session.
type Factory func(id string, spec AccountSpec, onFailed func(id string)) *Session

// Registry owns the sessions of a process, keyed by a generated id
type Registry struct {
	factory Factory
	logger  zerolog.Logger

	// OnEvict is called after a session gave up reconnecting and was removed
	OnEvict func(s *Session)

	mu       sync.RWMutex
	sessions map[string]*Session
}

func NewRegistry(factory Factory, logger zerolog.Logger) *Registry {
	return &Registry{
		factory:  factory,
		logger:   logger.With().Str("com", "registry").Logger(),
		sessions: make(map[string]*Session),
	}
}

// AddAccount creates and starts a session. On a failed start nothing is
// registered and the error is returned to the caller.
func (r *Registry) AddAccount(ctx context.Context, spec AccountSpec) (*Session, error) {
	id := uuid.NewString()
	s := r.factory(id, spec, r.evict)

	r.mu.Lock()
	r.sessions[id] = s
	r.mu.Unlock()

	if err := s.Start(ctx, spec.Credential); err != nil {
		r.mu.Lock()
		delete(r.sessions, id)
		r.mu.Unlock()
		s.Stop()
		return nil, fmt.Errorf("account %s: %w", spec.Name, err)
	}

	r.logger.Info().Str("account", spec.Name).Str("id", id).Msg("account added")
	return s, nil
}

func (r *Registry) evict(id string) {
	s, ok := r.take(id)
	if !ok {
		return
	}
	s.Stop()
	metrics.ForgetAccount(s.Name())
	r.logger.Warn().Str("account", s.Name()).Str("id", id).Msg("account evicted after failed reconnects")
	if r.OnEvict != nil {
		r.OnEvict(s)
	}
}

func (r *Registry) take(id string) (*Session, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[id]
	if ok {
		delete(r.sessions, id)
	}
	return s, ok
}

// Get looks a session up by id
func (r *Registry) Get(id string) (*Session, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.sessions[id]
	return s, ok
}

// FindByName returns the session of the named account
func (r *Registry) FindByName(name string) (*Session, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, s := range r.sessions {
		if s.Name() == name {
			return s, true
		}
	}
	return nil, false
}

// List returns every session ordered by account name
func (r *Registry) List() []*Session {
	r.mu.RLock()
	out := make([]*Session, 0, len(r.sessions))
	for _, s := range r.sessions {
		out = append(out, s)
	}
	r.mu.RUnlock()

	slices.SortFunc(out, func(a, b *Session) int { return strings.Compare(a.Name(), b.Name()) })
	return out
}

// Remove stops and forgets a session
func (r *Registry) Remove(id string) bool {
	s, ok := r.take(id)
	if !ok {
		return false
	}
	s.Stop()
	metrics.ForgetAccount(s.Name())
	r.logger.Info().Str("account", s.Name()).Str("id", id).Msg("account removed")
	return true
}

// StopAll stops every session concurrently and empties the registry
func (r *Registry) StopAll() {
	r.mu.Lock()
	sessions := r.sessions
	r.sessions = make(map[string]*Session)
	r.mu.Unlock()

	var wg sync.WaitGroup
	for _, s := range sessions {
		wg.Go(s.Stop)
	}
	wg.Wait()
	if len(sessions) > 0 {
		r.logger.Info().Int("sessions", len(sessions)).Msg("all sessions stopped")
	}
}

func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}
