// Package sessions keeps live editor and viewer sessions addressable by id between HTTP requests.
package sessions

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/giftcraft/experience/internal/platform/clock"
)

var (
	// ErrSessionNotFound covers unknown ids, expired sessions and sessions owned by someone else.
	ErrSessionNotFound = errors.New("sessions: not found")
	// ErrCapacity is returned when the store already holds MaxSessions sessions.
	ErrCapacity = errors.New("sessions: capacity reached")
)

const (
	defaultIdleTTL       = 2 * time.Hour
	defaultSweepInterval = time.Minute
	defaultMaxSessions   = 10000
)

// Closer is implemented by every stored session.
type Closer interface {
	Close()
}

// Options configures a Store.
type Options struct {
	// Prefix is prepended to generated ids, e.g. "eds_".
	Prefix        string
	IdleTTL       time.Duration
	SweepInterval time.Duration
	MaxSessions   int
	Scheduler     clock.Scheduler
	IDGenerator   func() string
	Logger        func(context.Context, string, map[string]any)
}

type entry[T Closer] struct {
	value    T
	owner    string
	created  time.Time
	lastUsed time.Time
}

// Info describes a stored session without exposing it.
type Info struct {
	ID       string
	Owner    string
	Created  time.Time
	LastUsed time.Time
}

// Store holds sessions of one kind. Sessions idle for longer than IdleTTL are
// closed by a periodic sweep.
type Store[T Closer] struct {
	prefix    string
	ttl       time.Duration
	limit     int
	scheduler clock.Scheduler
	newID     func() string
	logger    func(context.Context, string, map[string]any)

	mu      sync.Mutex
	entries map[string]*entry[T]
	sweeper clock.Timer
	closed  bool
}

// NewStore builds a store and starts its sweeper.
func NewStore[T Closer](opts Options) *Store[T] {
	ttl := opts.IdleTTL
	if ttl <= 0 {
		ttl = defaultIdleTTL
	}
	sweep := opts.SweepInterval
	if sweep <= 0 {
		sweep = defaultSweepInterval
	}
	limit := opts.MaxSessions
	if limit <= 0 {
		limit = defaultMaxSessions
	}
	scheduler := opts.Scheduler
	if scheduler == nil {
		scheduler = clock.NewReal()
	}
	idGen := opts.IDGenerator
	if idGen == nil {
		idGen = func() string { return strings.ToLower(ulid.Make().String()) }
	}
	logger := opts.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}

	s := &Store[T]{
		prefix:    opts.Prefix,
		ttl:       ttl,
		limit:     limit,
		scheduler: scheduler,
		newID:     idGen,
		logger:    logger,
		entries:   make(map[string]*entry[T]),
	}
	s.sweeper = clock.Ticker(scheduler, sweep, func() { s.Sweep() })
	return s
}

// Add stores value for owner and returns its id. An empty owner marks an anonymous session.
func (s *Store[T]) Add(owner string, value T) (string, error) {
	now := s.scheduler.Now()
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return "", fmt.Errorf("%w: store closed", ErrCapacity)
	}
	if len(s.entries) >= s.limit {
		return "", fmt.Errorf("%w: %d sessions", ErrCapacity, len(s.entries))
	}
	id := s.prefix + s.newID()
	s.entries[id] = &entry[T]{value: value, owner: owner, created: now, lastUsed: now}
	return id, nil
}

// Get returns the session and refreshes its idle deadline.
// A session with an owner is only visible to that owner.
func (s *Store[T]) Get(id, owner string) (T, error) {
	now := s.scheduler.Now()
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries[id]
	if !ok || e.owner != owner || s.expiredLocked(e, now) {
		var zero T
		return zero, fmt.Errorf("%w: %s", ErrSessionNotFound, id)
	}
	e.lastUsed = now
	return e.value, nil
}

// Remove closes and forgets the session.
func (s *Store[T]) Remove(id, owner string) error {
	s.mu.Lock()
	e, ok := s.entries[id]
	if !ok || e.owner != owner {
		s.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrSessionNotFound, id)
	}
	delete(s.entries, id)
	s.mu.Unlock()

	e.value.Close()
	return nil
}

// Sweep closes every expired session and returns how many were removed.
func (s *Store[T]) Sweep() int {
	now := s.scheduler.Now()
	s.mu.Lock()
	var expired []T
	for id, e := range s.entries {
		if s.expiredLocked(e, now) {
			expired = append(expired, e.value)
			delete(s.entries, id)
		}
	}
	s.mu.Unlock()

	for _, value := range expired {
		value.Close()
	}
	if len(expired) > 0 {
		s.logger(context.Background(), "sessions.swept", map[string]any{"prefix": s.prefix, "count": len(expired)})
	}
	return len(expired)
}

// Len returns the number of stored sessions, expired or not.
func (s *Store[T]) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}

// List returns the sessions of owner ordered by creation time.
func (s *Store[T]) List(owner string) []Info {
	s.mu.Lock()
	out := make([]Info, 0)
	for id, e := range s.entries {
		if e.owner == owner {
			out = append(out, Info{ID: id, Owner: e.owner, Created: e.created, LastUsed: e.lastUsed})
		}
	}
	s.mu.Unlock()
	sort.Slice(out, func(i, j int) bool {
		if out[i].Created.Equal(out[j].Created) {
			return out[i].ID < out[j].ID
		}
		return out[i].Created.Before(out[j].Created)
	})
	return out
}

// Close stops the sweeper and closes every session.
func (s *Store[T]) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	entries := s.entries
	s.entries = make(map[string]*entry[T])
	sweeper := s.sweeper
	s.mu.Unlock()

	if sweeper != nil {
		sweeper.Stop()
	}
	for _, e := range entries {
		e.value.Close()
	}
}

func (s *Store[T]) expiredLocked(e *entry[T], now time.Time) bool {
	return now.Sub(e.lastUsed) >= s.ttl
}
