package asset

import (
	"context"
	"math/big"

	"github.com/ipfs/go-datastore"

	"github.com/relves/trustledger/internal/storage"
	"github.com/relves/trustledger/pkg/capabilities"
	"github.com/relves/trustledger/pkg/runtime"
	"github.com/relves/trustledger/pkg/types"
)

var _ SemiFungible = (*Collection)(nil)

// Collection is a semi-fungible ledger whose units can only be minted by
// its minter and never move between accounts afterwards.
type Collection struct {
	rt *runtime.Runtime
	id types.Account
}

func NewCollection(rt *runtime.Runtime, id types.Account) *Collection {
	return &Collection{rt: rt, id: id}
}

func (c *Collection) ID() types.Account {
	return c.id
}

func (c *Collection) key(parts ...string) datastore.Key {
	return storage.Key(append([]string{"collection", c.id.String()}, parts...)...)
}

// Initialize sets the metadata URI and the only account allowed to mint.
func (c *Collection) Initialize(ctx context.Context, uri string, minter types.Account) error {
	return c.rt.Update(ctx, func(ctx context.Context, tx *runtime.Tx) error {
		current, err := storage.GetString(ctx, tx, c.key("minter"))
		if err != nil {
			return err
		}
		if current != "" {
			return capabilities.ErrAlreadyInitialized
		}
		if minter.IsNull() {
			return capabilities.ErrNullAddressNotAllowed
		}
		if err := storage.PutString(ctx, tx, c.key("uri"), uri); err != nil {
			return err
		}
		return storage.PutString(ctx, tx, c.key("minter"), minter.String())
	})
}

func (c *Collection) URI(ctx context.Context) (string, error) {
	var uri string
	err := c.rt.View(ctx, func(ctx context.Context, tx *runtime.Tx) error {
		var err error
		uri, err = storage.GetString(ctx, tx, c.key("uri"))
		return err
	})
	return uri, err
}

func (c *Collection) BalanceOf(ctx context.Context, account types.Account, id uint64) (*big.Int, error) {
	var bal *big.Int
	err := c.rt.View(ctx, func(ctx context.Context, tx *runtime.Tx) error {
		var err error
		bal, err = storage.GetBig(ctx, tx, c.key("balance", idString(id), account.String()))
		return err
	})
	return bal, err
}

// Mint credits amount units of id to to. Only the minter may call it.
func (c *Collection) Mint(ctx context.Context, caller, to types.Account, id uint64, amount *big.Int) error {
	return c.rt.Update(ctx, func(ctx context.Context, tx *runtime.Tx) error {
		minter, err := storage.GetString(ctx, tx, c.key("minter"))
		if err != nil {
			return err
		}
		if minter == "" || caller.String() != minter {
			return capabilities.ErrMinterOnly
		}
		if to.IsNull() {
			return capabilities.ErrNullAddressNotAllowed
		}
		key := c.key("balance", idString(id), to.String())
		bal, err := storage.GetBig(ctx, tx, key)
		if err != nil {
			return err
		}
		if err := storage.PutBig(ctx, tx, key, new(big.Int).Add(bal, amount)); err != nil {
			return err
		}
		return tx.Emit(c.id, EventTransferSingle, map[string]string{
			"operator": caller.String(),
			"from":     types.NullAccount.String(),
			"to":       to.String(),
			"id":       idString(id),
			"value":    amount.String(),
		})
	})
}

// SafeTransferFrom is refused: units are bound to the account that
// converted for them.
func (c *Collection) SafeTransferFrom(ctx context.Context, caller, from, to types.Account, id uint64, amount *big.Int) error {
	return capabilities.ErrTransferOverrideNotAllowed
}

// SafeBatchTransferFrom is refused for the same reason.
func (c *Collection) SafeBatchTransferFrom(ctx context.Context, caller, from, to types.Account, ids []uint64, amounts []*big.Int) error {
	return capabilities.ErrBatchTransferOverrideNotAllowed
}
