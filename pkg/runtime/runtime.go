// Package runtime hosts components on a shared key/value state. Every
// external call runs to completion under a single writer lock and commits
// its writes and events atomically, or not at all.
package runtime

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/ipfs/go-datastore"

	"github.com/relves/trustledger/pkg/tlog"
)

// Runtime serializes calls against one state store.
type Runtime struct {
	mu          sync.Mutex
	store       datastore.Batching
	clock       Clock
	autoAdvance bool
	journal     *tlog.Journal
	cache       *lru.Cache[datastore.Key, []byte]
	logger      *slog.Logger
}

// New opens a runtime over the configured store, rebuilding the event
// journal from it.
func New(ctx context.Context, opts ...Option) (*Runtime, error) {
	cfg := Config{}
	for _, opt := range opts {
		opt(&cfg)
	}
	cfg.ApplyDefaults()

	cache, err := lru.New[datastore.Key, []byte](cfg.CacheSize)
	if err != nil {
		return nil, fmt.Errorf("create cache: %w", err)
	}

	journal, err := tlog.Load(ctx, cfg.Store, cfg.Logger)
	if err != nil {
		return nil, fmt.Errorf("load journal: %w", err)
	}

	return &Runtime{
		store:       cfg.Store,
		clock:       cfg.Clock,
		autoAdvance: cfg.AutoAdvance,
		journal:     journal,
		cache:       cache,
		logger:      cfg.Logger,
	}, nil
}

func (r *Runtime) Journal() *tlog.Journal {
	return r.journal
}

func (r *Runtime) Store() datastore.Batching {
	return r.store
}

func (r *Runtime) Clock() Clock {
	return r.clock
}

// Update runs fn as one atomic call. A call made while another is in
// progress on the same context joins it, so cross-component calls commit
// or roll back together with their caller.
func (r *Runtime) Update(ctx context.Context, fn func(ctx context.Context, tx *Tx) error) error {
	if tx, ok := FromContext(ctx); ok {
		if tx.readOnly {
			return ErrReadOnly
		}
		return fn(ctx, tx)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	tx := newTx(r, r.clock.Now(), false)
	if err := fn(withTx(ctx, tx), tx); err != nil {
		r.logger.Debug("call rolled back", "tick", tx.tick, "writes", len(tx.writes), "error", err)
		return err
	}
	if err := r.commit(ctx, tx); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	for _, hook := range tx.onCommit {
		hook()
	}
	if adv, ok := r.clock.(Advancer); ok && r.autoAdvance {
		adv.Advance(1)
	}
	return nil
}

// View runs fn against committed state. Writes fail with ErrReadOnly.
// Inside an Update it sees the caller's uncommitted writes.
func (r *Runtime) View(ctx context.Context, fn func(ctx context.Context, tx *Tx) error) error {
	if tx, ok := FromContext(ctx); ok {
		return fn(ctx, tx)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	tx := newTx(r, r.clock.Now(), true)
	return fn(withTx(ctx, tx), tx)
}

func (r *Runtime) commit(ctx context.Context, tx *Tx) error {
	if len(tx.writes) == 0 && len(tx.events) == 0 {
		return nil
	}

	staged, err := r.journal.Stage(tx.events)
	if err != nil {
		return err
	}

	b, err := r.store.Batch(ctx)
	if err != nil {
		return fmt.Errorf("open batch: %w", err)
	}
	for key, w := range tx.writes {
		if w.deleted {
			err = b.Delete(ctx, key)
		} else {
			err = b.Put(ctx, key, w.value)
		}
		if err != nil {
			return fmt.Errorf("stage %s: %w", key, err)
		}
	}
	for _, s := range staged {
		if err := b.Put(ctx, s.Key, s.Encoded); err != nil {
			return fmt.Errorf("stage event %d: %w", s.Event.Seq, err)
		}
	}
	if err := b.Commit(ctx); err != nil {
		return err
	}

	for key, w := range tx.writes {
		if w.deleted {
			r.cache.Remove(key)
		} else {
			r.cache.Add(key, w.value)
		}
	}
	if err := r.journal.Append(staged); err != nil {
		return err
	}

	r.logger.Debug("call committed", "tick", tx.tick, "writes", len(tx.writes), "events", len(staged))
	return nil
}

// getCommitted reads through the cache. Callers hold r.mu.
func (r *Runtime) getCommitted(ctx context.Context, key datastore.Key) ([]byte, error) {
	if v, ok := r.cache.Get(key); ok {
		return v, nil
	}
	v, err := r.store.Get(ctx, key)
	if err != nil {
		return nil, err
	}
	r.cache.Add(key, v)
	return v, nil
}
