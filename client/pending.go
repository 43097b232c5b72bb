package client

import (
	"sync"

	"github.com/Mmx233/QFarm/protocol"
)

// Reply is the outcome of a successful request
type Reply struct {
	Body []byte
	Meta protocol.Meta
}

type result struct {
	reply *Reply
	err   error
}

// pendingMap correlates outstanding requests by client sequence.
// Every path that completes a request first takes the entry out of the map,
// so only the taker can deliver an outcome.
type pendingMap struct {
	mu      sync.Mutex
	entries map[int64]chan result
}

func newPendingMap() *pendingMap {
	return &pendingMap{entries: make(map[int64]chan result)}
}

// add registers seq. The returned channel receives exactly one result.
func (p *pendingMap) add(seq int64) <-chan result {
	ch := make(chan result, 1)
	p.mu.Lock()
	p.entries[seq] = ch
	p.mu.Unlock()
	return ch
}

// remove takes seq without delivering anything. It reports whether the caller won.
func (p *pendingMap) remove(seq int64) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if _, ok := p.entries[seq]; !ok {
		return false
	}
	delete(p.entries, seq)
	return true
}

// resolve takes seq and delivers res. It reports whether seq was pending.
func (p *pendingMap) resolve(seq int64, res result) bool {
	p.mu.Lock()
	ch, ok := p.entries[seq]
	if ok {
		delete(p.entries, seq)
	}
	p.mu.Unlock()

	if ok {
		ch <- res
	}
	return ok
}

// rejectAll fails every pending request with err and empties the map.
func (p *pendingMap) rejectAll(err error) int {
	p.mu.Lock()
	entries := p.entries
	p.entries = make(map[int64]chan result)
	p.mu.Unlock()

	for _, ch := range entries {
		ch <- result{err: err}
	}
	return len(entries)
}

func (p *pendingMap) len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.entries)
}
