package runtime_test

import (
	"context"
	"errors"
	"testing"

	"github.com/ipfs/go-datastore"
	dssync "github.com/ipfs/go-datastore/sync"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/relves/trustledger/internal/storage"
	"github.com/relves/trustledger/pkg/runtime"
	"github.com/relves/trustledger/pkg/tlog"
	"github.com/relves/trustledger/pkg/types"
)

const emitter = types.Account("did:web:component.test")

func TestRuntime_CommitsWritesAndEvents(t *testing.T) {
	ctx := context.Background()
	ds := dssync.MutexWrap(datastore.NewMapDatastore())
	rt, err := runtime.New(ctx, runtime.WithStore(ds))
	require.NoError(t, err)

	key := storage.Key("counter")
	err = rt.Update(ctx, func(ctx context.Context, tx *runtime.Tx) error {
		if err := storage.PutUint64(ctx, tx, key, 5); err != nil {
			return err
		}
		return tx.Emit(emitter, "Counted", map[string]string{"value": "5"})
	})
	require.NoError(t, err)

	v, err := storage.GetUint64(ctx, ds, key)
	require.NoError(t, err)
	assert.Equal(t, uint64(5), v)

	events := rt.Journal().Events(tlog.Query{Type: "Counted"})
	require.Len(t, events, 1)
	assert.Equal(t, uint64(1), events[0].Tick)
	assert.Equal(t, emitter.String(), events[0].Emitter)

	stored, err := ds.Has(ctx, tlog.EventKey(0))
	require.NoError(t, err)
	assert.True(t, stored, "event is committed with the state")
}

func TestRuntime_ErrorRollsBackEverything(t *testing.T) {
	ctx := context.Background()
	rt, err := runtime.New(ctx)
	require.NoError(t, err)

	key := storage.Key("balance")
	require.NoError(t, rt.Update(ctx, func(ctx context.Context, tx *runtime.Tx) error {
		return storage.PutUint64(ctx, tx, key, 10)
	}))

	boom := errors.New("boom")
	var committed bool
	err = rt.Update(ctx, func(ctx context.Context, tx *runtime.Tx) error {
		tx.OnCommit(func() { committed = true })
		if err := storage.PutUint64(ctx, tx, key, 99); err != nil {
			return err
		}
		if err := tx.Emit(emitter, "Changed", nil); err != nil {
			return err
		}
		// The call sees its own write before failing.
		v, err := storage.GetUint64(ctx, tx, key)
		require.NoError(t, err)
		assert.Equal(t, uint64(99), v)
		return boom
	})
	assert.ErrorIs(t, err, boom)
	assert.False(t, committed)

	require.NoError(t, rt.View(ctx, func(ctx context.Context, tx *runtime.Tx) error {
		v, err := storage.GetUint64(ctx, tx, key)
		require.NoError(t, err)
		assert.Equal(t, uint64(10), v)
		return nil
	}))
	assert.Empty(t, rt.Journal().Events(tlog.Query{Type: "Changed"}))
}

func TestRuntime_NestedCallsJoin(t *testing.T) {
	ctx := context.Background()
	rt, err := runtime.New(ctx)
	require.NoError(t, err)

	inner := storage.Key("inner")
	err = rt.Update(ctx, func(ctx context.Context, outer *runtime.Tx) error {
		if err := rt.Update(ctx, func(ctx context.Context, tx *runtime.Tx) error {
			assert.Same(t, outer, tx)
			return storage.PutBool(ctx, tx, inner, true)
		}); err != nil {
			return err
		}
		return errors.New("outer fails after inner succeeded")
	})
	require.Error(t, err)

	require.NoError(t, rt.View(ctx, func(ctx context.Context, tx *runtime.Tx) error {
		ok, err := storage.GetBool(ctx, tx, inner)
		require.NoError(t, err)
		assert.False(t, ok, "inner write must roll back with the outer call")
		return nil
	}))
}

func TestRuntime_ViewIsReadOnly(t *testing.T) {
	ctx := context.Background()
	rt, err := runtime.New(ctx)
	require.NoError(t, err)

	err = rt.View(ctx, func(ctx context.Context, tx *runtime.Tx) error {
		return storage.PutUint64(ctx, tx, storage.Key("x"), 1)
	})
	assert.ErrorIs(t, err, runtime.ErrReadOnly)

	err = rt.View(ctx, func(ctx context.Context, tx *runtime.Tx) error {
		return rt.Update(ctx, func(ctx context.Context, tx *runtime.Tx) error { return nil })
	})
	assert.ErrorIs(t, err, runtime.ErrReadOnly)
}

func TestRuntime_AutoAdvance(t *testing.T) {
	ctx := context.Background()
	clock := runtime.NewCounter(1)
	rt, err := runtime.New(ctx, runtime.WithClock(clock), runtime.WithAutoAdvance())
	require.NoError(t, err)

	var seen []types.Tick
	for i := 0; i < 3; i++ {
		require.NoError(t, rt.Update(ctx, func(ctx context.Context, tx *runtime.Tx) error {
			seen = append(seen, tx.Tick())
			return nil
		}))
	}
	assert.Equal(t, []types.Tick{1, 2, 3}, seen)

	// Rejected calls are not accepted work.
	_ = rt.Update(ctx, func(ctx context.Context, tx *runtime.Tx) error { return errors.New("no") })
	assert.Equal(t, types.Tick(4), clock.Now())
}

func TestRuntime_ReloadsJournal(t *testing.T) {
	ctx := context.Background()
	ds := dssync.MutexWrap(datastore.NewMapDatastore())

	rt, err := runtime.New(ctx, runtime.WithStore(ds))
	require.NoError(t, err)
	for i := 0; i < 3; i++ {
		require.NoError(t, rt.Update(ctx, func(ctx context.Context, tx *runtime.Tx) error {
			return tx.Emit(emitter, "Tick", nil)
		}))
	}
	root, _, err := rt.Journal().Root()
	require.NoError(t, err)

	reopened, err := runtime.New(ctx, runtime.WithStore(ds))
	require.NoError(t, err)
	assert.Equal(t, uint64(3), reopened.Journal().Size())
	reRoot, _, err := reopened.Journal().Root()
	require.NoError(t, err)
	assert.Equal(t, root, reRoot)
}

func TestCounter_Set(t *testing.T) {
	c := runtime.NewCounter(5)
	require.NoError(t, c.Set(9))
	assert.Equal(t, types.Tick(9), c.Now())
	assert.Error(t, c.Set(3))
	assert.Equal(t, types.Tick(12), c.Advance(3))
}
