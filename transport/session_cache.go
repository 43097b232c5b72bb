package transport

import (
	"crypto/tls"
	"sync"
)

// gateSessionCapacity bounds the tickets kept per gate
const gateSessionCapacity = 8

// SessionCacheManager hands out one TLS session cache per gate address.
// Tickets are only resumed against the gate that issued them.
type SessionCacheManager struct {
	mu     sync.Mutex
	byAddr map[string]tls.ClientSessionCache
}

func NewSessionCacheManager() *SessionCacheManager {
	return &SessionCacheManager{byAddr: make(map[string]tls.ClientSessionCache)}
}

// GetOrCreate returns the cache for addr, creating it on first use.
func (m *SessionCacheManager) GetOrCreate(addr string) tls.ClientSessionCache {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.byAddr[addr]
	if !ok {
		c = tls.NewLRUClientSessionCache(gateSessionCapacity)
		m.byAddr[addr] = c
	}
	return c
}

// Get returns the cache for addr, or nil.
func (m *SessionCacheManager) Get(addr string) tls.ClientSessionCache {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.byAddr[addr]
}

// Clear forgets addr after a failed dial so the next one starts a full handshake.
func (m *SessionCacheManager) Clear(addr string) {
	m.mu.Lock()
	delete(m.byAddr, addr)
	m.mu.Unlock()
}

func (m *SessionCacheManager) Count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.byAddr)
}
