package tlog

import (
	"bytes"
	"fmt"
	"sort"

	"github.com/ipfs/go-cid"
	"github.com/ipld/go-ipld-prime/codec/dagjson"
	"github.com/ipld/go-ipld-prime/datamodel"
	"github.com/ipld/go-ipld-prime/fluent/qp"
	"github.com/ipld/go-ipld-prime/node/basicnode"
	"github.com/multiformats/go-multicodec"
	mh "github.com/multiformats/go-multihash"
)

// eventPrefix identifies encoded events: CIDv1, dag-json, sha2-256.
var eventPrefix = cid.Prefix{
	Version:  1,
	Codec:    uint64(multicodec.DagJson),
	MhType:   mh.SHA2_256,
	MhLength: -1,
}

// Event is an immutable journal record stamped with the tick of the call
// that produced it.
type Event struct {
	Seq     uint64
	Tick    uint64
	Emitter string
	Type    string
	Fields  map[string]string
}

// Field returns the named field, or "" when absent.
func (e Event) Field(name string) string {
	return e.Fields[name]
}

// Encode serializes the event as dag-json. Map keys are sorted by the
// codec, so equal events encode to equal bytes.
func (e Event) Encode() ([]byte, error) {
	names := make([]string, 0, len(e.Fields))
	for name := range e.Fields {
		names = append(names, name)
	}
	sort.Strings(names)

	node, err := qp.BuildMap(basicnode.Prototype.Any, 5, func(ma datamodel.MapAssembler) {
		qp.MapEntry(ma, "seq", qp.Int(int64(e.Seq)))
		qp.MapEntry(ma, "tick", qp.Int(int64(e.Tick)))
		qp.MapEntry(ma, "emitter", qp.String(e.Emitter))
		qp.MapEntry(ma, "type", qp.String(e.Type))
		qp.MapEntry(ma, "fields", qp.Map(int64(len(names)), func(fa datamodel.MapAssembler) {
			for _, name := range names {
				qp.MapEntry(fa, name, qp.String(e.Fields[name]))
			}
		}))
	})
	if err != nil {
		return nil, fmt.Errorf("build event node: %w", err)
	}

	var buf bytes.Buffer
	if err := dagjson.Encode(node, &buf); err != nil {
		return nil, fmt.Errorf("encode event: %w", err)
	}
	return buf.Bytes(), nil
}

// DecodeEvent parses a dag-json encoded event.
func DecodeEvent(data []byte) (Event, error) {
	nb := basicnode.Prototype.Any.NewBuilder()
	if err := dagjson.Decode(nb, bytes.NewReader(data)); err != nil {
		return Event{}, fmt.Errorf("decode event: %w", err)
	}
	node := nb.Build()

	var e Event
	seq, err := lookupInt(node, "seq")
	if err != nil {
		return Event{}, err
	}
	tick, err := lookupInt(node, "tick")
	if err != nil {
		return Event{}, err
	}
	e.Seq, e.Tick = uint64(seq), uint64(tick)

	if e.Emitter, err = lookupString(node, "emitter"); err != nil {
		return Event{}, err
	}
	if e.Type, err = lookupString(node, "type"); err != nil {
		return Event{}, err
	}

	fields, err := node.LookupByString("fields")
	if err != nil {
		return Event{}, fmt.Errorf("event fields: %w", err)
	}
	e.Fields = make(map[string]string, fields.Length())
	it := fields.MapIterator()
	for !it.Done() {
		k, v, err := it.Next()
		if err != nil {
			return Event{}, fmt.Errorf("iterate event fields: %w", err)
		}
		name, err := k.AsString()
		if err != nil {
			return Event{}, err
		}
		value, err := v.AsString()
		if err != nil {
			return Event{}, fmt.Errorf("event field %s: %w", name, err)
		}
		e.Fields[name] = value
	}
	return e, nil
}

// CID computes the content identifier of an encoded event.
func CID(encoded []byte) (cid.Cid, error) {
	return eventPrefix.Sum(encoded)
}

func lookupInt(node datamodel.Node, key string) (int64, error) {
	n, err := node.LookupByString(key)
	if err != nil {
		return 0, fmt.Errorf("event %s: %w", key, err)
	}
	return n.AsInt()
}

func lookupString(node datamodel.Node, key string) (string, error) {
	n, err := node.LookupByString(key)
	if err != nil {
		return "", fmt.Errorf("event %s: %w", key, err)
	}
	return n.AsString()
}
