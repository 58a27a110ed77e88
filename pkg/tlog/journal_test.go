package tlog_test

import (
	"context"
	"crypto/ed25519"
	"fmt"
	"testing"

	"github.com/ipfs/go-datastore"
	dssync "github.com/ipfs/go-datastore/sync"
	"github.com/multiformats/go-multicodec"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/relves/trustledger/pkg/tlog"
)

func commit(t *testing.T, ctx context.Context, ds datastore.Batching, j *tlog.Journal, events ...tlog.Event) {
	t.Helper()
	staged, err := j.Stage(events)
	require.NoError(t, err)
	b, err := ds.Batch(ctx)
	require.NoError(t, err)
	for _, s := range staged {
		require.NoError(t, b.Put(ctx, s.Key, s.Encoded))
	}
	require.NoError(t, b.Commit(ctx))
	require.NoError(t, j.Append(staged))
}

func voteEvent(tick uint64, voter, poll string) tlog.Event {
	return tlog.Event{
		Tick:    tick,
		Emitter: "did:web:multisig.test",
		Type:    "Vote",
		Fields:  map[string]string{"voter": voter, "pollIndex": poll, "vote": "APPROVED"},
	}
}

func TestEvent_EncodeDecode(t *testing.T) {
	e := voteEvent(7, "did:key:z6MkVoter", "1")
	e.Seq = 3

	encoded, err := e.Encode()
	require.NoError(t, err)

	decoded, err := tlog.DecodeEvent(encoded)
	require.NoError(t, err)
	assert.Equal(t, e, decoded)

	again, err := decoded.Encode()
	require.NoError(t, err)
	assert.Equal(t, encoded, again, "encoding must be deterministic")

	c, err := tlog.CID(encoded)
	require.NoError(t, err)
	assert.Equal(t, uint64(multicodec.DagJson), c.Prefix().Codec)
}

func TestJournal_QueryByTypeAndField(t *testing.T) {
	ctx := context.Background()
	ds := dssync.MutexWrap(datastore.NewMapDatastore())
	j := tlog.NewJournal(nil)

	commit(t, ctx, ds, j,
		voteEvent(1, "did:key:a", "1"),
		voteEvent(1, "did:key:b", "1"),
		tlog.Event{Tick: 2, Emitter: "did:web:multisig.test", Type: "NewPoll", Fields: map[string]string{"pollIndex": "2"}},
		voteEvent(3, "did:key:a", "2"),
	)

	assert.Equal(t, uint64(4), j.Size())
	assert.Len(t, j.Events(tlog.Query{Type: "Vote"}), 3)
	assert.Len(t, j.Events(tlog.Query{Type: "Vote", Fields: map[string]string{"voter": "did:key:a"}}), 2)
	assert.Len(t, j.Events(tlog.Query{Fields: map[string]string{"pollIndex": "2"}}), 2)
	assert.Empty(t, j.Events(tlog.Query{Type: "Redeem"}))

	e, err := j.Get(2)
	require.NoError(t, err)
	assert.Equal(t, "NewPoll", e.Type)
	assert.Equal(t, uint64(2), e.Seq)

	_, err = j.Get(4)
	assert.ErrorIs(t, err, tlog.ErrUnknownEvent)
}

func TestJournal_LoadRebuildsRoot(t *testing.T) {
	ctx := context.Background()
	ds := dssync.MutexWrap(datastore.NewMapDatastore())
	j := tlog.NewJournal(nil)

	for i := 0; i < 11; i++ {
		commit(t, ctx, ds, j, voteEvent(uint64(i), fmt.Sprintf("did:key:v%d", i), "1"))
	}
	root, size, err := j.Root()
	require.NoError(t, err)
	assert.Equal(t, uint64(11), size)

	loaded, err := tlog.Load(ctx, ds, nil)
	require.NoError(t, err)
	loadedRoot, loadedSize, err := loaded.Root()
	require.NoError(t, err)
	assert.Equal(t, size, loadedSize)
	assert.Equal(t, root, loadedRoot)
}

func TestJournal_InclusionProofs(t *testing.T) {
	ctx := context.Background()
	ds := dssync.MutexWrap(datastore.NewMapDatastore())
	j := tlog.NewJournal(nil)

	for i := 0; i < 13; i++ {
		commit(t, ctx, ds, j, voteEvent(uint64(i), fmt.Sprintf("did:key:v%d", i), "1"))
	}

	for seq := uint64(0); seq < j.Size(); seq++ {
		p, err := j.Prove(seq)
		require.NoError(t, err)
		assert.NoError(t, tlog.Verify(p), "seq %d", seq)
	}

	p, err := j.Prove(5)
	require.NoError(t, err)
	p.LeafHash = append([]byte(nil), p.LeafHash...)
	p.LeafHash[0] ^= 0xff
	assert.Error(t, tlog.Verify(p))

	require.NoError(t, j.Audit(ctx, ds))
}

func TestJournal_AuditDetectsTampering(t *testing.T) {
	ctx := context.Background()
	ds := dssync.MutexWrap(datastore.NewMapDatastore())
	j := tlog.NewJournal(nil)

	commit(t, ctx, ds, j, voteEvent(1, "did:key:a", "1"), voteEvent(2, "did:key:b", "1"))

	tampered := voteEvent(2, "did:key:mallory", "1")
	tampered.Seq = 1
	encoded, err := tampered.Encode()
	require.NoError(t, err)
	require.NoError(t, ds.Put(ctx, tlog.EventKey(1), encoded))

	assert.Error(t, j.Audit(ctx, ds))
}

func TestJournal_EmptyRoot(t *testing.T) {
	j := tlog.NewJournal(nil)
	root, size, err := j.Root()
	require.NoError(t, err)
	assert.Equal(t, uint64(0), size)
	assert.Len(t, root, 32)
}

func TestCheckpoint_SignAndOpen(t *testing.T) {
	ctx := context.Background()
	ds := dssync.MutexWrap(datastore.NewMapDatastore())
	j := tlog.NewJournal(nil)
	commit(t, ctx, ds, j, voteEvent(1, "did:key:a", "1"))

	pub, priv, err := ed25519.GenerateKey(nil)
	require.NoError(t, err)
	s, err := tlog.NewEd25519Signer(priv, "trustledger")
	require.NoError(t, err)

	note, err := j.Checkpoint("acme", s)
	require.NoError(t, err)

	cp, err := tlog.OpenCheckpoint(note, "trustledger", pub)
	require.NoError(t, err)
	root, size, err := j.Root()
	require.NoError(t, err)
	assert.Equal(t, "acme", cp.Origin)
	assert.Equal(t, size, cp.Size)
	assert.Equal(t, root, cp.Root)

	otherPub, _, err := ed25519.GenerateKey(nil)
	require.NoError(t, err)
	_, err = tlog.OpenCheckpoint(note, "trustledger", otherPub)
	assert.ErrorIs(t, err, tlog.ErrBadCheckpoint)
}

func TestEd25519Signer(t *testing.T) {
	_, priv, err := ed25519.GenerateKey(nil)
	require.NoError(t, err)

	s, err := tlog.NewEd25519Signer(priv, "")
	require.NoError(t, err)
	assert.Contains(t, s.Name(), "journal-")

	_, err = tlog.NewEd25519Signer(priv[:10], "x")
	assert.Error(t, err)
}
