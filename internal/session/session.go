// Package session keeps one value per client session, created on first use
// and evicted after a period of inactivity.
package session

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"
)

const maxIDLen = 64

var (
	ErrInvalidID = errors.New("invalid session id")
	ErrClosed    = errors.New("session closed")
)

// Handle owns the value of one session and serializes access to it.
type Handle[T any] struct {
	mu       sync.Mutex
	value    T
	closed   bool
	lastUsed time.Time
}

// Do runs fn with exclusive access to the session value. It returns
// ErrClosed without calling fn once the session was closed or evicted.
func (h *Handle[T]) Do(fn func(T) error) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return ErrClosed
	}
	return fn(h.value)
}

// close waits for a running Do to finish.
func (h *Handle[T]) close() {
	h.mu.Lock()
	h.closed = true
	h.mu.Unlock()
}

// Registry maps session ids to handles.
type Registry[T any] struct {
	mu       sync.Mutex
	sessions map[string]*Handle[T]

	newValue func() T
	ttl      time.Duration
	now      func() time.Time
}

// NewRegistry returns a registry that creates values with newValue.
// A ttl <= 0 disables eviction.
func NewRegistry[T any](newValue func() T, ttl time.Duration) *Registry[T] {
	return &Registry[T]{
		sessions: make(map[string]*Handle[T]),
		newValue: newValue,
		ttl:      ttl,
		now:      time.Now,
	}
}

// Open returns the handle of the session, creating it when needed.
func (r *Registry[T]) Open(id string) (*Handle[T], error) {
	id = strings.TrimSpace(id)
	if id == "" || len(id) > maxIDLen {
		return nil, ErrInvalidID
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	h, ok := r.sessions[id]
	if !ok {
		h = &Handle[T]{value: r.newValue()}
		r.sessions[id] = h
	}
	h.lastUsed = r.now()
	return h, nil
}

// Close drops the session and reports whether it existed. Holders of the
// old handle get ErrClosed from then on.
func (r *Registry[T]) Close(id string) bool {
	id = strings.TrimSpace(id)

	r.mu.Lock()
	h, ok := r.sessions[id]
	delete(r.sessions, id)
	r.mu.Unlock()

	if ok {
		h.close()
	}
	return ok
}

func (r *Registry[T]) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sessions)
}

// Sweep evicts sessions idle for longer than the ttl and returns how many
// were dropped.
func (r *Registry[T]) Sweep() int {
	if r.ttl <= 0 {
		return 0
	}

	r.mu.Lock()
	cutoff := r.now().Add(-r.ttl)
	var evicted []*Handle[T]
	for id, h := range r.sessions {
		if h.lastUsed.Before(cutoff) {
			delete(r.sessions, id)
			evicted = append(evicted, h)
		}
	}
	r.mu.Unlock()

	for _, h := range evicted {
		h.close()
	}
	return len(evicted)
}

// Run sweeps every interval until ctx is done. onSweep, if set, receives the
// number of evicted sessions after each sweep.
func (r *Registry[T]) Run(ctx context.Context, interval time.Duration, onSweep func(int)) {
	if r.ttl <= 0 || interval <= 0 {
		return
	}
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			n := r.Sweep()
			if onSweep != nil {
				onSweep(n)
			}
		}
	}
}
