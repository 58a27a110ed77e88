// Package tlog keeps the append-only event journal: every committed state
// change is recorded as a dag-json event whose leaf hash extends an RFC 6962
// Merkle tree, so any event can be proven included in a signed checkpoint.
package tlog

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/ipfs/go-cid"
	"github.com/ipfs/go-datastore"
	"github.com/ipfs/go-datastore/query"
	"github.com/transparency-dev/merkle/compact"
	"github.com/transparency-dev/merkle/proof"
	"github.com/transparency-dev/merkle/rfc6962"
	"golang.org/x/sync/errgroup"
)

// Prefix is the state namespace holding encoded events.
const Prefix = "/tlog"

var ErrUnknownEvent = errors.New("unknown event")

// EventKey returns the state key of the event with the given sequence number.
// Sequence numbers are zero-padded so keys sort in commit order.
func EventKey(seq uint64) datastore.Key {
	return datastore.NewKey(fmt.Sprintf("%s/%020d", Prefix, seq))
}

// Staged is an event that has been numbered and encoded but not yet
// committed.
type Staged struct {
	Event   Event
	Key     datastore.Key
	Encoded []byte
}

// Query selects events. Empty fields match everything.
type Query struct {
	Type    string
	Emitter string
	Fields  map[string]string
}

func (q Query) matches(e Event) bool {
	if q.Type != "" && q.Type != e.Type {
		return false
	}
	if q.Emitter != "" && q.Emitter != e.Emitter {
		return false
	}
	for name, want := range q.Fields {
		if got, ok := e.Fields[name]; !ok || got != want {
			return false
		}
	}
	return true
}

// Journal is the in-memory index of committed events. Durability comes from
// the state store; the journal is rebuilt from it with Load.
type Journal struct {
	mu     sync.RWMutex
	rf     *compact.RangeFactory
	rng    *compact.Range
	events []Event
	leaves [][]byte
	cids   []cid.Cid
	byType map[string][]uint64
	logger *slog.Logger
}

// NewJournal returns an empty journal.
func NewJournal(logger *slog.Logger) *Journal {
	if logger == nil {
		logger = slog.Default()
	}
	rf := &compact.RangeFactory{Hash: rfc6962.DefaultHasher.HashChildren}
	return &Journal{
		rf:     rf,
		rng:    rf.NewEmptyRange(0),
		byType: make(map[string][]uint64),
		logger: logger,
	}
}

// Load rebuilds a journal from the events stored in ds.
func Load(ctx context.Context, ds datastore.Read, logger *slog.Logger) (*Journal, error) {
	j := NewJournal(logger)

	res, err := ds.Query(ctx, query.Query{
		Prefix: Prefix,
		Orders: []query.Order{query.OrderByKey{}},
	})
	if err != nil {
		return nil, fmt.Errorf("query events: %w", err)
	}
	entries, err := res.Rest()
	if err != nil {
		return nil, fmt.Errorf("read events: %w", err)
	}

	staged := make([]Staged, 0, len(entries))
	for _, entry := range entries {
		e, err := DecodeEvent(entry.Value)
		if err != nil {
			return nil, fmt.Errorf("load %s: %w", entry.Key, err)
		}
		if e.Seq != uint64(len(staged)) {
			return nil, fmt.Errorf("load %s: sequence gap, want %d got %d", entry.Key, len(staged), e.Seq)
		}
		staged = append(staged, Staged{Event: e, Key: datastore.NewKey(entry.Key), Encoded: entry.Value})
	}
	if err := j.Append(staged); err != nil {
		return nil, err
	}

	j.logger.Debug("journal loaded", "size", j.Size())
	return j, nil
}

// Size returns the number of committed events.
func (j *Journal) Size() uint64 {
	j.mu.RLock()
	defer j.mu.RUnlock()
	return uint64(len(j.events))
}

// Stage numbers and encodes pending events following the committed ones.
// The caller must serialize Stage and Append.
func (j *Journal) Stage(pending []Event) ([]Staged, error) {
	next := j.Size()
	staged := make([]Staged, 0, len(pending))
	for i, e := range pending {
		e.Seq = next + uint64(i)
		encoded, err := e.Encode()
		if err != nil {
			return nil, fmt.Errorf("stage event %d: %w", e.Seq, err)
		}
		staged = append(staged, Staged{Event: e, Key: EventKey(e.Seq), Encoded: encoded})
	}
	return staged, nil
}

// Append records committed events.
func (j *Journal) Append(staged []Staged) error {
	j.mu.Lock()
	defer j.mu.Unlock()

	for _, s := range staged {
		if s.Event.Seq != uint64(len(j.events)) {
			return fmt.Errorf("append event %d: journal size is %d", s.Event.Seq, len(j.events))
		}
		c, err := CID(s.Encoded)
		if err != nil {
			return fmt.Errorf("event %d cid: %w", s.Event.Seq, err)
		}
		leaf := rfc6962.DefaultHasher.HashLeaf(s.Encoded)
		if err := j.rng.Append(leaf, nil); err != nil {
			return fmt.Errorf("append leaf %d: %w", s.Event.Seq, err)
		}
		j.events = append(j.events, s.Event)
		j.leaves = append(j.leaves, leaf)
		j.cids = append(j.cids, c)
		j.byType[s.Event.Type] = append(j.byType[s.Event.Type], s.Event.Seq)
	}
	return nil
}

// Get returns a committed event by sequence number.
func (j *Journal) Get(seq uint64) (Event, error) {
	j.mu.RLock()
	defer j.mu.RUnlock()
	if seq >= uint64(len(j.events)) {
		return Event{}, fmt.Errorf("%w: %d", ErrUnknownEvent, seq)
	}
	return j.events[seq], nil
}

// EventCID returns the content identifier of a committed event.
func (j *Journal) EventCID(seq uint64) (cid.Cid, error) {
	j.mu.RLock()
	defer j.mu.RUnlock()
	if seq >= uint64(len(j.cids)) {
		return cid.Undef, fmt.Errorf("%w: %d", ErrUnknownEvent, seq)
	}
	return j.cids[seq], nil
}

// Events returns committed events matching q in commit order.
func (j *Journal) Events(q Query) []Event {
	j.mu.RLock()
	defer j.mu.RUnlock()

	var out []Event
	if q.Type != "" {
		for _, seq := range j.byType[q.Type] {
			if e := j.events[seq]; q.matches(e) {
				out = append(out, e)
			}
		}
		return out
	}
	for _, e := range j.events {
		if q.matches(e) {
			out = append(out, e)
		}
	}
	return out
}

// Root returns the Merkle root over all committed events.
func (j *Journal) Root() ([]byte, uint64, error) {
	j.mu.RLock()
	defer j.mu.RUnlock()
	return j.rootLocked()
}

func (j *Journal) rootLocked() ([]byte, uint64, error) {
	size := uint64(len(j.events))
	if size == 0 {
		return rfc6962.DefaultHasher.EmptyRoot(), 0, nil
	}
	root, err := j.rng.GetRootHash(nil)
	if err != nil {
		return nil, 0, fmt.Errorf("calculate root: %w", err)
	}
	return root, size, nil
}

// InclusionProof is evidence that an event is part of the tree of a given
// size.
type InclusionProof struct {
	Seq      uint64
	TreeSize uint64
	LeafHash []byte
	Root     []byte
	Hashes   [][]byte
}

// Prove builds an inclusion proof for seq against the current tree.
func (j *Journal) Prove(seq uint64) (*InclusionProof, error) {
	j.mu.RLock()
	defer j.mu.RUnlock()

	size := uint64(len(j.events))
	if seq >= size {
		return nil, fmt.Errorf("%w: %d", ErrUnknownEvent, seq)
	}
	root, _, err := j.rootLocked()
	if err != nil {
		return nil, err
	}

	nodes, err := proof.Inclusion(seq, size)
	if err != nil {
		return nil, fmt.Errorf("inclusion nodes: %w", err)
	}
	hashes := make([][]byte, len(nodes.IDs))
	for i, id := range nodes.IDs {
		h, err := j.nodeHashLocked(id, size)
		if err != nil {
			return nil, err
		}
		hashes[i] = h
	}
	path, err := nodes.Rehash(hashes, rfc6962.DefaultHasher.HashChildren)
	if err != nil {
		return nil, fmt.Errorf("rehash proof: %w", err)
	}

	return &InclusionProof{
		Seq:      seq,
		TreeSize: size,
		LeafHash: j.leaves[seq],
		Root:     root,
		Hashes:   path,
	}, nil
}

// nodeHashLocked computes the hash of the subtree identified by id.
func (j *Journal) nodeHashLocked(id compact.NodeID, size uint64) ([]byte, error) {
	begin := id.Index << id.Level
	end := (id.Index + 1) << id.Level
	if end > size {
		end = size
	}
	if begin >= end {
		return nil, fmt.Errorf("node %d/%d outside tree of size %d", id.Level, id.Index, size)
	}
	return subtreeHash(j.leaves[begin:end]), nil
}

// subtreeHash is the RFC 6962 tree hash over leaf hashes.
func subtreeHash(leaves [][]byte) []byte {
	if len(leaves) == 1 {
		return leaves[0]
	}
	k := 1
	for k*2 < len(leaves) {
		k *= 2
	}
	return rfc6962.DefaultHasher.HashChildren(subtreeHash(leaves[:k]), subtreeHash(leaves[k:]))
}

// Verify checks an inclusion proof.
func Verify(p *InclusionProof) error {
	return proof.VerifyInclusion(rfc6962.DefaultHasher, p.Seq, p.TreeSize, p.LeafHash, p.Hashes, p.Root)
}

// Audit re-derives every leaf from the stored encoding and verifies an
// inclusion proof for each event in parallel.
func (j *Journal) Audit(ctx context.Context, ds datastore.Read) error {
	size := j.Size()
	errG, ctx := errgroup.WithContext(ctx)
	errG.SetLimit(8)
	for seq := uint64(0); seq < size; seq++ {
		seq := seq
		errG.Go(func() error {
			encoded, err := ds.Get(ctx, EventKey(seq))
			if err != nil {
				return fmt.Errorf("event %d: %w", seq, err)
			}
			p, err := j.Prove(seq)
			if err != nil {
				return err
			}
			if leaf := rfc6962.DefaultHasher.HashLeaf(encoded); string(leaf) != string(p.LeafHash) {
				return fmt.Errorf("event %d: stored encoding does not match journal leaf", seq)
			}
			if err := Verify(p); err != nil {
				return fmt.Errorf("event %d: %w", seq, err)
			}
			return nil
		})
	}
	if err := errG.Wait(); err != nil {
		return fmt.Errorf("audit: %w", err)
	}
	j.logger.Debug("journal audited", "size", size)
	return nil
}
