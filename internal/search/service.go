package search

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/time/rate"

	"github.com/teemow/homesheet/internal/breaker"
	"github.com/teemow/homesheet/internal/instrumentation"
	"github.com/teemow/homesheet/internal/listing"
	"github.com/teemow/homesheet/internal/logging"
	"github.com/teemow/homesheet/internal/validation"
)

// ErrUnavailable is returned while the source's circuit breaker is open.
var ErrUnavailable = errors.New("listing search is temporarily unavailable")

// Config tunes a Service.
type Config struct {
	// Cooldown is the minimum spacing between source queries, shared by
	// every user of the process. 0 disables it.
	Cooldown time.Duration
	// Timeout bounds a single source query.
	Timeout time.Duration
	// Limit caps the number of listings returned.
	Limit   int
	Breaker breaker.Config
}

// DefaultConfig returns the serve command's defaults.
func DefaultConfig() Config {
	return Config{
		Cooldown: 8 * time.Second,
		Timeout:  30 * time.Second,
		Limit:    listing.DefaultLimit,
		Breaker:  breaker.DefaultConfig("search"),
	}
}

// Service runs searches against a Source.
type Service struct {
	source  Source
	cache   Cache
	limiter *rate.Limiter
	breaker *breaker.Breaker[[]listing.Listing]
	config  Config
	metrics *instrumentation.Metrics
	logger  *slog.Logger
	now     func() time.Time
}

// Option configures a Service.
type Option func(*Service)

// WithCache sets the result cache.
func WithCache(c Cache) Option {
	return func(s *Service) {
		if c != nil {
			s.cache = c
		}
	}
}

// WithMetrics records cache lookups.
func WithMetrics(m *instrumentation.Metrics) Option {
	return func(s *Service) { s.metrics = m }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Service) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithClock overrides time.Now for the recency filter, for tests.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// NewService creates a Service over source.
func NewService(source Source, config Config, opts ...Option) *Service {
	if config.Limit <= 0 {
		config.Limit = listing.DefaultLimit
	}
	if config.Breaker.Name == "" {
		config.Breaker = breaker.DefaultConfig("search")
	}

	s := &Service{
		source: source,
		cache:  NopCache{},
		config: config,
		logger: slog.Default(),
		now:    time.Now,
	}
	if config.Cooldown > 0 {
		s.limiter = rate.NewLimiter(rate.Every(config.Cooldown), 1)
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = logging.WithComponent(s.logger, "search")
	s.breaker = breaker.New[[]listing.Listing](config.Breaker, s.logger, nil)
	return s
}

// Search normalizes and validates c, then returns at most Limit listings
// ordered by price. Invalid criteria yield *validation.Error.
func (s *Service) Search(ctx context.Context, c listing.Criteria) ([]listing.Listing, error) {
	c = c.Clone()
	c.Normalize()
	if err := c.Validate(); err != nil {
		return nil, err
	}

	key := c.CacheKey()
	cached, ok, err := s.cache.Get(ctx, key)
	switch {
	case err != nil:
		s.metrics.RecordSearchCache(ctx, instrumentation.CacheError)
		s.logger.WarnContext(ctx, "search cache lookup failed", logging.Err(err))
	case ok:
		s.metrics.RecordSearchCache(ctx, instrumentation.CacheHit)
		return s.finalize(c, cached), nil
	default:
		s.metrics.RecordSearchCache(ctx, instrumentation.CacheMiss)
	}

	if s.limiter != nil {
		if err := s.limiter.Wait(ctx); err != nil {
			return nil, fmt.Errorf("search cooldown: %w", err)
		}
	}

	start := time.Now()
	raw, err := s.breaker.Execute(func() ([]listing.Listing, error) {
		callCtx := ctx
		if s.config.Timeout > 0 {
			var cancel context.CancelFunc
			callCtx, cancel = context.WithTimeout(ctx, s.config.Timeout)
			defer cancel()
		}
		return s.source.Fetch(callCtx, c, s.config.Limit)
	})
	if err != nil {
		if breaker.IsOpen(err) {
			return nil, fmt.Errorf("%w: %w", ErrUnavailable, err)
		}
		return nil, fmt.Errorf("failed to search %s: %w", s.source.Name(), err)
	}

	results := s.finalize(c, raw)
	s.logger.InfoContext(ctx, "search finished",
		slog.String("source", s.source.Name()),
		slog.Int("raw", len(raw)),
		slog.Int("results", len(results)),
		slog.Duration(logging.KeyDuration, time.Since(start)),
	)

	if err := s.cache.Set(ctx, key, results); err != nil {
		s.logger.WarnContext(ctx, "search cache store failed", logging.Err(err))
	}
	return listing.Clone(results), nil
}

func (s *Service) finalize(c listing.Criteria, raw []listing.Listing) []listing.Listing {
	return listing.FinalizeAt(c, raw, s.config.Limit, s.now())
}

// IsInvalidCriteria reports whether err is a criteria validation failure.
func IsInvalidCriteria(err error) bool {
	var verr *validation.Error
	return errors.As(err, &verr)
}
