// Package stek rotates TLS session ticket encryption keys for the QUIC listener
package stek

import (
	"context"
	"crypto/rand"
	"crypto/tls"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
)

type Key = [32]byte

// Rotator keeps up to overlap keys. The first key encrypts new tickets,
// all of them decrypt, so clients holding a ticket from the previous
// period can still resume.
type Rotator struct {
	keys     atomic.Pointer[[]Key]
	interval time.Duration
	overlap  int
	logger   zerolog.Logger

	startOnce sync.Once
	stopOnce  sync.Once
	stop      chan struct{}
	done      chan struct{}
}

func NewRotator(interval time.Duration, overlap uint8, logger zerolog.Logger) (*Rotator, error) {
	if interval <= 0 {
		return nil, fmt.Errorf("rotation interval must be positive, got %v", interval)
	}
	if overlap < 1 {
		return nil, fmt.Errorf("overlap must be at least 1, got %d", overlap)
	}

	r := &Rotator{
		interval: interval,
		overlap:  int(overlap),
		logger:   logger.With().Str("com", "stek").Logger(),
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}
	keys := make([]Key, overlap)
	for i := range keys {
		if _, err := rand.Read(keys[i][:]); err != nil {
			return nil, fmt.Errorf("generate session ticket key: %w", err)
		}
	}
	r.keys.Store(&keys)
	return r, nil
}

// Keys returns the current key set, newest first
func (r *Rotator) Keys() []Key {
	return *r.keys.Load()
}

func (r *Rotator) rotate() error {
	var key Key
	if _, err := rand.Read(key[:]); err != nil {
		return fmt.Errorf("generate session ticket key: %w", err)
	}
	old := *r.keys.Load()
	next := make([]Key, 1, r.overlap)
	next[0] = key
	next = append(next, old[:min(len(old), r.overlap-1)]...)
	r.keys.Store(&next)

	r.logger.Debug().Int("keys", len(next)).Msg("session ticket keys rotated")
	return nil
}

// Apply returns a copy of conf whose session ticket keys follow the rotation
func (r *Rotator) Apply(conf *tls.Config) *tls.Config {
	out := conf.Clone()
	out.SetSessionTicketKeys(r.Keys())
	out.GetConfigForClient = func(*tls.ClientHelloInfo) (*tls.Config, error) {
		c := conf.Clone()
		c.SetSessionTicketKeys(r.Keys())
		return c, nil
	}
	return out
}

// Start rotates in the background until ctx ends or Stop is called
func (r *Rotator) Start(ctx context.Context) {
	r.startOnce.Do(func() {
		r.logger.Info().Dur("interval", r.interval).Int("overlap", r.overlap).Msg("session ticket key rotation started")
		go r.run(ctx)
	})
}

func (r *Rotator) run(ctx context.Context) {
	defer close(r.done)
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if err := r.rotate(); err != nil {
				r.logger.Error().Err(err).Msg("rotate session ticket keys failed")
			}
		case <-ctx.Done():
			return
		case <-r.stop:
			return
		}
	}
}

// Stop ends rotation and waits for the background goroutine. It is safe to
// call more than once and before Start.
func (r *Rotator) Stop() {
	r.stopOnce.Do(func() { close(r.stop) })
	started := true
	r.startOnce.Do(func() { started = false })
	if started {
		<-r.done
	}
}
