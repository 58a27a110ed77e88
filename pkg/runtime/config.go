package runtime

import (
	"log/slog"

	"github.com/ipfs/go-datastore"
	dssync "github.com/ipfs/go-datastore/sync"
)

// Config holds configuration for a Runtime.
type Config struct {
	// Store holds all component state and the event journal.
	// Default: an in-memory map datastore
	Store datastore.Batching

	// Clock supplies ticks.
	// Default: a Counter starting at 1
	Clock Clock

	// AutoAdvance advances an Advancer clock by one tick after every
	// committed top-level call.
	AutoAdvance bool

	// CacheSize bounds the committed-value cache.
	// Default: 10000
	CacheSize int

	// Logger for structured logging.
	// Default: slog.Default()
	Logger *slog.Logger
}

// ApplyDefaults sets default values for unset fields.
func (c *Config) ApplyDefaults() {
	if c.Store == nil {
		c.Store = dssync.MutexWrap(datastore.NewMapDatastore())
	}
	if c.Clock == nil {
		c.Clock = NewCounter(1)
	}
	if c.CacheSize == 0 {
		c.CacheSize = 10000
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
}

// Option configures a Runtime.
type Option func(*Config)

func WithStore(ds datastore.Batching) Option {
	return func(c *Config) { c.Store = ds }
}

func WithClock(clock Clock) Option {
	return func(c *Config) { c.Clock = clock }
}

func WithAutoAdvance() Option {
	return func(c *Config) { c.AutoAdvance = true }
}

func WithCacheSize(n int) Option {
	return func(c *Config) { c.CacheSize = n }
}

func WithLogger(logger *slog.Logger) Option {
	return func(c *Config) { c.Logger = logger }
}
