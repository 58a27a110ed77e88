package runtime

import (
	"context"
	"errors"

	"github.com/ipfs/go-datastore"

	"github.com/relves/trustledger/internal/storage"
	"github.com/relves/trustledger/pkg/tlog"
	"github.com/relves/trustledger/pkg/types"
)

// ErrReadOnly is returned when a write is attempted inside View.
var ErrReadOnly = errors.New("write attempted in read-only call")

var _ storage.ReadWriter = (*Tx)(nil)

type ctxKey struct{}

var txKey = ctxKey{}

func withTx(ctx context.Context, tx *Tx) context.Context {
	return context.WithValue(ctx, txKey, tx)
}

// FromContext returns the transaction of the call in progress, if any.
func FromContext(ctx context.Context) (*Tx, bool) {
	tx, ok := ctx.Value(txKey).(*Tx)
	return tx, ok
}

type write struct {
	value   []byte
	deleted bool
}

// Tx is the state of one external call. Writes and events are buffered
// until the outermost call returns successfully.
type Tx struct {
	rt       *Runtime
	tick     types.Tick
	readOnly bool
	writes   map[datastore.Key]write
	events   []tlog.Event
	onCommit []func()
}

func newTx(rt *Runtime, tick types.Tick, readOnly bool) *Tx {
	return &Tx{
		rt:       rt,
		tick:     tick,
		readOnly: readOnly,
		writes:   make(map[datastore.Key]write),
	}
}

// Tick is the clock reading observed when the call started.
func (tx *Tx) Tick() types.Tick {
	return tx.tick
}

func (tx *Tx) Get(ctx context.Context, key datastore.Key) ([]byte, error) {
	if w, ok := tx.writes[key]; ok {
		if w.deleted {
			return nil, datastore.ErrNotFound
		}
		return w.value, nil
	}
	return tx.rt.getCommitted(ctx, key)
}

func (tx *Tx) Has(ctx context.Context, key datastore.Key) (bool, error) {
	_, err := tx.Get(ctx, key)
	if storage.IsNotFound(err) {
		return false, nil
	}
	return err == nil, err
}

func (tx *Tx) Put(ctx context.Context, key datastore.Key, value []byte) error {
	if tx.readOnly {
		return ErrReadOnly
	}
	tx.writes[key] = write{value: append([]byte(nil), value...)}
	return nil
}

func (tx *Tx) Delete(ctx context.Context, key datastore.Key) error {
	if tx.readOnly {
		return ErrReadOnly
	}
	tx.writes[key] = write{deleted: true}
	return nil
}

// Emit records an event stamped with the call's tick.
func (tx *Tx) Emit(emitter types.Account, typ string, fields map[string]string) error {
	if tx.readOnly {
		return ErrReadOnly
	}
	tx.events = append(tx.events, tlog.Event{
		Tick:    uint64(tx.tick),
		Emitter: emitter.String(),
		Type:    typ,
		Fields:  fields,
	})
	return nil
}

// Pending returns the events emitted so far in this call.
func (tx *Tx) Pending() []tlog.Event {
	return tx.events
}

// OnCommit registers fn to run after the call commits. It never runs for
// a rolled back call.
func (tx *Tx) OnCommit(fn func()) {
	tx.onCommit = append(tx.onCommit, fn)
}
