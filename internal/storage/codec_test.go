package storage_test

import (
	"context"
	"math/big"
	"testing"

	"github.com/ipfs/go-datastore"
	dssync "github.com/ipfs/go-datastore/sync"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/relves/trustledger/internal/storage"
)

func newStore() datastore.Batching {
	return dssync.MutexWrap(datastore.NewMapDatastore())
}

func TestCodec_DefaultsWhenAbsent(t *testing.T) {
	ctx := context.Background()
	ds := newStore()

	n, err := storage.GetUint64(ctx, ds, storage.Key("missing"))
	require.NoError(t, err)
	assert.Equal(t, uint64(0), n)

	b, err := storage.GetBig(ctx, ds, storage.Key("missing"))
	require.NoError(t, err)
	assert.Equal(t, 0, b.Sign())

	flag, err := storage.GetBool(ctx, ds, storage.Key("missing"))
	require.NoError(t, err)
	assert.False(t, flag)

	s, err := storage.GetString(ctx, ds, storage.Key("missing"))
	require.NoError(t, err)
	assert.Empty(t, s)
}

func TestCodec_BigZeroDeletes(t *testing.T) {
	ctx := context.Background()
	ds := newStore()
	key := storage.Key("balance", "did:key:z6MkA")

	require.NoError(t, storage.PutBig(ctx, ds, key, big.NewInt(1234)))
	v, err := storage.GetBig(ctx, ds, key)
	require.NoError(t, err)
	assert.Equal(t, int64(1234), v.Int64())

	require.NoError(t, storage.PutBig(ctx, ds, key, new(big.Int)))
	has, err := ds.Has(ctx, key)
	require.NoError(t, err)
	assert.False(t, has)

	assert.Error(t, storage.PutBig(ctx, ds, key, big.NewInt(-1)))
}

func TestCodec_Uint64(t *testing.T) {
	ctx := context.Background()
	ds := newStore()
	key := storage.Key("tick")

	require.NoError(t, storage.PutUint64(ctx, ds, key, 1048320))
	v, err := storage.GetUint64(ctx, ds, key)
	require.NoError(t, err)
	assert.Equal(t, uint64(1048320), v)
}

func TestKey_EmptyPart(t *testing.T) {
	assert.Equal(t, "/group/~", storage.Key("group", "").String())
	assert.NotEqual(t, storage.Key("group").String(), storage.Key("group", "").String())
}

func TestKey_EscapesSlashes(t *testing.T) {
	assert.Equal(t, "/perm/ledger%2Fasset%2Fburn/1", storage.Key("perm", "ledger/asset/burn", "1").String())
}
