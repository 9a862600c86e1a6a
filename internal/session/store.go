package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/teemow/homesheet/internal/instrumentation"
	"github.com/teemow/homesheet/internal/logging"
)

// ErrSessionConflict is returned when another request holds the user's session.
var ErrSessionConflict = errors.New("a request for this user is already in progress")

// ConflictPolicy decides what a second concurrent request for a user does.
type ConflictPolicy string

const (
	// PolicyReject fails the second request immediately.
	PolicyReject ConflictPolicy = "reject"
	// PolicyWait queues the second request until the first finishes or the
	// caller's context ends.
	PolicyWait ConflictPolicy = "wait"
)

// Config tunes the Store.
type Config struct {
	TTL             time.Duration
	CleanupInterval time.Duration
	Policy          ConflictPolicy
}

// DefaultConfig returns the serve command's defaults.
func DefaultConfig() Config {
	return Config{
		TTL:             30 * time.Minute,
		CleanupInterval: 5 * time.Minute,
		Policy:          PolicyReject,
	}
}

type entry struct {
	// slot is a one-element semaphore; holding it is holding the session.
	slot    chan struct{}
	session Session
	evicted bool
}

// Store maps user identities to sessions.
type Store struct {
	mu      sync.Mutex
	entries map[string]*entry
	config  Config
	now     func() time.Time
	metrics *instrumentation.Metrics
	logger  *slog.Logger

	stopOnce sync.Once
	stop     chan struct{}
}

// Option configures a Store.
type Option func(*Store)

// WithClock overrides time.Now, for tests.
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

// WithMetrics tracks the number of live sessions.
func WithMetrics(m *instrumentation.Metrics) Option {
	return func(s *Store) { s.metrics = m }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Store) {
		if l != nil {
			s.logger = l
		}
	}
}

// NewStore returns an empty Store. Zero config fields take defaults.
func NewStore(config Config, opts ...Option) *Store {
	def := DefaultConfig()
	if config.TTL <= 0 {
		config.TTL = def.TTL
	}
	if config.CleanupInterval <= 0 {
		config.CleanupInterval = def.CleanupInterval
	}
	if config.Policy == "" {
		config.Policy = def.Policy
	}
	s := &Store{
		entries: make(map[string]*entry),
		config:  config,
		now:     time.Now,
		logger:  slog.Default(),
		stop:    make(chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = logging.WithComponent(s.logger, "session")
	return s
}

// Lease is exclusive access to one user's session.
type Lease struct {
	store    *Store
	entry    *entry
	userID   string
	released bool
	mu       sync.Mutex
}

// Acquire takes the user's session for the duration of a request. With
// PolicyReject it fails fast with ErrSessionConflict when the session is
// held; with PolicyWait it blocks until the session frees up or ctx ends.
func (s *Store) Acquire(ctx context.Context, userID string) (*Lease, error) {
	for {
		e := s.entryFor(ctx, userID)

		if s.config.Policy == PolicyWait {
			select {
			case e.slot <- struct{}{}:
			case <-ctx.Done():
				return nil, fmt.Errorf("%w: %w", ErrSessionConflict, ctx.Err())
			}
		} else {
			select {
			case e.slot <- struct{}{}:
			default:
				return nil, ErrSessionConflict
			}
		}

		s.mu.Lock()
		evicted := e.evicted
		s.mu.Unlock()
		if evicted {
			// The janitor dropped this entry while we were queued.
			<-e.slot
			continue
		}
		return &Lease{store: s, entry: e, userID: userID}, nil
	}
}

func (s *Store) entryFor(ctx context.Context, userID string) *entry {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries[userID]
	if !ok {
		e = &entry{
			slot:    make(chan struct{}, 1),
			session: Session{UserID: userID, LastActivity: s.now()},
		}
		s.entries[userID] = e
		s.metrics.IncrementActiveSessions(ctx)
	}
	return e
}

// Session returns a copy of the leased session.
func (l *Lease) Session() Session {
	l.store.mu.Lock()
	defer l.store.mu.Unlock()
	return l.entry.session.clone()
}

// Update applies fn to the leased session and stamps its activity time.
func (l *Lease) Update(fn func(*Session)) {
	l.mu.Lock()
	released := l.released
	l.mu.Unlock()
	if released {
		return
	}

	l.store.mu.Lock()
	defer l.store.mu.Unlock()
	next := l.entry.session.clone()
	fn(&next)
	next.UserID = l.userID
	next.LastActivity = l.store.now()
	l.entry.session = next
}

// Release gives the session back. It is safe to call more than once.
func (l *Lease) Release() {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.released {
		return
	}
	l.released = true
	<-l.entry.slot
}

// GetOrCreate returns a copy of the user's session, creating an empty one.
func (s *Store) GetOrCreate(userID string) Session {
	e := s.entryFor(context.Background(), userID)
	s.mu.Lock()
	defer s.mu.Unlock()
	return e.session.clone()
}

// Update acquires the user's session, applies fn and releases it.
func (s *Store) Update(ctx context.Context, userID string, fn func(*Session)) error {
	lease, err := s.Acquire(ctx, userID)
	if err != nil {
		return err
	}
	defer lease.Release()
	lease.Update(fn)
	return nil
}

// ExpireIfStale resets the user's session when it has been idle longer
// than ttl and no request holds it. It reports whether a reset happened.
func (s *Store) ExpireIfStale(userID string, ttl time.Duration) bool {
	s.mu.Lock()
	e, ok := s.entries[userID]
	s.mu.Unlock()
	if !ok {
		return false
	}

	select {
	case e.slot <- struct{}{}:
	default:
		return false
	}
	defer func() { <-e.slot }()

	s.mu.Lock()
	defer s.mu.Unlock()
	if e.evicted || s.now().Sub(e.session.LastActivity) <= ttl {
		return false
	}
	e.session = Session{UserID: userID, LastActivity: s.now()}
	return true
}

// Reset drops the user's session if no request holds it.
func (s *Store) Reset(userID string) bool {
	s.mu.Lock()
	e, ok := s.entries[userID]
	s.mu.Unlock()
	if !ok {
		return false
	}
	select {
	case e.slot <- struct{}{}:
	default:
		return false
	}
	s.evict(userID, e)
	<-e.slot
	return true
}

// TTL returns the configured idle timeout.
func (s *Store) TTL() time.Duration {
	return s.config.TTL
}

// Len returns the number of tracked sessions.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}

func (s *Store) evict(userID string, e *entry) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if cur, ok := s.entries[userID]; ok && cur == e {
		e.evicted = true
		delete(s.entries, userID)
		s.metrics.DecrementActiveSessions(context.Background())
	}
}

// Cleanup evicts every idle session older than the configured TTL and
// returns how many were removed.
func (s *Store) Cleanup() int {
	s.mu.Lock()
	now := s.now()
	candidates := make(map[string]*entry)
	for id, e := range s.entries {
		if now.Sub(e.session.LastActivity) > s.config.TTL {
			candidates[id] = e
		}
	}
	s.mu.Unlock()

	removed := 0
	for id, e := range candidates {
		select {
		case e.slot <- struct{}{}:
		default:
			continue
		}
		s.evict(id, e)
		<-e.slot
		removed++
	}
	if removed > 0 {
		s.logger.Debug("expired sessions removed", slog.Int("count", removed))
	}
	return removed
}

// Start runs the cleanup loop until Stop is called.
func (s *Store) Start() {
	go func() {
		ticker := time.NewTicker(s.config.CleanupInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				s.Cleanup()
			case <-s.stop:
				return
			}
		}
	}()
}

// Stop ends the cleanup loop started by Start.
func (s *Store) Stop() {
	s.stopOnce.Do(func() {
		close(s.stop)
	})
}
