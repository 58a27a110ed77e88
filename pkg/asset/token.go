package asset

import (
	"context"
	"fmt"
	"math/big"
	"strconv"

	"github.com/ipfs/go-datastore"

	"github.com/relves/trustledger/internal/storage"
	"github.com/relves/trustledger/pkg/capabilities"
	"github.com/relves/trustledger/pkg/runtime"
	"github.com/relves/trustledger/pkg/types"
)

var _ Fungible = (*Token)(nil)

// Token is a fungible asset ledger kept in runtime state. Callers are
// authenticated by the host; Token trusts the account arguments it gets.
type Token struct {
	rt *runtime.Runtime
	id types.Account
}

func NewToken(rt *runtime.Runtime, id types.Account) *Token {
	return &Token{rt: rt, id: id}
}

func (t *Token) ID() types.Account {
	return t.id
}

func (t *Token) key(parts ...string) datastore.Key {
	return storage.Key(append([]string{"asset", t.id.String()}, parts...)...)
}

func (t *Token) balanceKey(a types.Account) datastore.Key {
	return t.key("balance", a.String())
}

func (t *Token) allowanceKey(owner, spender types.Account) datastore.Key {
	return t.key("allowance", owner.String(), spender.String())
}

// Initialize sets the metadata and mints supply whole units to holder.
func (t *Token) Initialize(ctx context.Context, meta Metadata, supply *big.Int, holder types.Account) error {
	return t.rt.Update(ctx, func(ctx context.Context, tx *runtime.Tx) error {
		done, err := storage.GetBool(ctx, tx, t.key("initialized"))
		if err != nil {
			return err
		}
		if done {
			return capabilities.ErrAlreadyInitialized
		}
		if err := storage.PutBool(ctx, tx, t.key("initialized"), true); err != nil {
			return err
		}
		if err := storage.PutString(ctx, tx, t.key("name"), meta.Name); err != nil {
			return err
		}
		if err := storage.PutString(ctx, tx, t.key("symbol"), meta.Symbol); err != nil {
			return err
		}
		if err := storage.PutUint64(ctx, tx, t.key("decimals"), uint64(meta.Decimals)); err != nil {
			return err
		}
		if supply == nil || supply.Sign() == 0 {
			return nil
		}
		return t.mint(ctx, tx, holder, types.Scale(supply, meta.Decimals))
	})
}

// Launch initializes a managed asset: the whole supply is minted to the
// registrar and caller is registered as the asset's referee.
func (t *Token) Launch(ctx context.Context, caller types.Account, reg Registrar, meta Metadata, supply *big.Int) error {
	return t.rt.Update(ctx, func(ctx context.Context, tx *runtime.Tx) error {
		if err := t.Initialize(ctx, meta, supply, reg.ID()); err != nil {
			return err
		}
		return reg.RegisterAsset(ctx, t, caller)
	})
}

func (t *Token) Metadata(ctx context.Context) (Metadata, error) {
	var meta Metadata
	err := t.rt.View(ctx, func(ctx context.Context, tx *runtime.Tx) error {
		var err error
		if meta.Name, err = storage.GetString(ctx, tx, t.key("name")); err != nil {
			return err
		}
		if meta.Symbol, err = storage.GetString(ctx, tx, t.key("symbol")); err != nil {
			return err
		}
		d, err := storage.GetUint64(ctx, tx, t.key("decimals"))
		meta.Decimals = uint8(d)
		return err
	})
	return meta, err
}

func (t *Token) Decimals(ctx context.Context) (uint8, error) {
	meta, err := t.Metadata(ctx)
	return meta.Decimals, err
}

func (t *Token) TotalSupply(ctx context.Context) (*big.Int, error) {
	var supply *big.Int
	err := t.rt.View(ctx, func(ctx context.Context, tx *runtime.Tx) error {
		var err error
		supply, err = storage.GetBig(ctx, tx, t.key("supply"))
		return err
	})
	return supply, err
}

func (t *Token) BalanceOf(ctx context.Context, account types.Account) (*big.Int, error) {
	var bal *big.Int
	err := t.rt.View(ctx, func(ctx context.Context, tx *runtime.Tx) error {
		var err error
		bal, err = storage.GetBig(ctx, tx, t.balanceKey(account))
		return err
	})
	return bal, err
}

func (t *Token) Allowance(ctx context.Context, owner, spender types.Account) (*big.Int, error) {
	var allowance *big.Int
	err := t.rt.View(ctx, func(ctx context.Context, tx *runtime.Tx) error {
		var err error
		allowance, err = storage.GetBig(ctx, tx, t.allowanceKey(owner, spender))
		return err
	})
	return allowance, err
}

// Mint creates amount base units for to.
func (t *Token) Mint(ctx context.Context, to types.Account, amount *big.Int) error {
	return t.rt.Update(ctx, func(ctx context.Context, tx *runtime.Tx) error {
		return t.mint(ctx, tx, to, amount)
	})
}

func (t *Token) Transfer(ctx context.Context, from, to types.Account, amount *big.Int) error {
	return t.rt.Update(ctx, func(ctx context.Context, tx *runtime.Tx) error {
		return t.move(ctx, tx, from, to, amount)
	})
}

// TransferFrom moves amount from from to to, spending spender's allowance.
func (t *Token) TransferFrom(ctx context.Context, spender, from, to types.Account, amount *big.Int) error {
	return t.rt.Update(ctx, func(ctx context.Context, tx *runtime.Tx) error {
		allowance, err := storage.GetBig(ctx, tx, t.allowanceKey(from, spender))
		if err != nil {
			return err
		}
		if allowance.Cmp(amount) < 0 {
			return fmt.Errorf("%w: allowance %s, need %s", capabilities.ErrInsufficientAllowance, allowance, amount)
		}
		if err := storage.PutBig(ctx, tx, t.allowanceKey(from, spender), new(big.Int).Sub(allowance, amount)); err != nil {
			return err
		}
		return t.move(ctx, tx, from, to, amount)
	})
}

// Approve sets spender's allowance over owner's balance.
func (t *Token) Approve(ctx context.Context, owner, spender types.Account, amount *big.Int) error {
	return t.rt.Update(ctx, func(ctx context.Context, tx *runtime.Tx) error {
		if owner.IsNull() || spender.IsNull() {
			return capabilities.ErrNullAccountNotAllowed
		}
		if err := storage.PutBig(ctx, tx, t.allowanceKey(owner, spender), amount); err != nil {
			return err
		}
		return tx.Emit(t.id, EventApproval, map[string]string{
			"owner":   owner.String(),
			"spender": spender.String(),
			"value":   amount.String(),
		})
	})
}

// Burn destroys amount base units held by from.
func (t *Token) Burn(ctx context.Context, from types.Account, amount *big.Int) error {
	return t.rt.Update(ctx, func(ctx context.Context, tx *runtime.Tx) error {
		if err := t.debit(ctx, tx, from, amount); err != nil {
			return err
		}
		supply, err := storage.GetBig(ctx, tx, t.key("supply"))
		if err != nil {
			return err
		}
		if err := storage.PutBig(ctx, tx, t.key("supply"), new(big.Int).Sub(supply, amount)); err != nil {
			return err
		}
		return tx.Emit(t.id, EventTransfer, map[string]string{
			"from":  from.String(),
			"to":    types.NullAccount.String(),
			"value": amount.String(),
		})
	})
}

func (t *Token) mint(ctx context.Context, tx *runtime.Tx, to types.Account, amount *big.Int) error {
	if to.IsNull() {
		return capabilities.ErrNullAccountNotAllowed
	}
	supply, err := storage.GetBig(ctx, tx, t.key("supply"))
	if err != nil {
		return err
	}
	if err := storage.PutBig(ctx, tx, t.key("supply"), new(big.Int).Add(supply, amount)); err != nil {
		return err
	}
	if err := t.credit(ctx, tx, to, amount); err != nil {
		return err
	}
	return tx.Emit(t.id, EventTransfer, map[string]string{
		"from":  types.NullAccount.String(),
		"to":    to.String(),
		"value": amount.String(),
	})
}

func (t *Token) move(ctx context.Context, tx *runtime.Tx, from, to types.Account, amount *big.Int) error {
	if to.IsNull() {
		return capabilities.ErrNullAccountNotAllowed
	}
	if err := t.debit(ctx, tx, from, amount); err != nil {
		return err
	}
	if err := t.credit(ctx, tx, to, amount); err != nil {
		return err
	}
	return tx.Emit(t.id, EventTransfer, map[string]string{
		"from":  from.String(),
		"to":    to.String(),
		"value": amount.String(),
	})
}

func (t *Token) debit(ctx context.Context, tx *runtime.Tx, from types.Account, amount *big.Int) error {
	if amount.Sign() < 0 {
		return fmt.Errorf("negative amount %s", amount)
	}
	bal, err := storage.GetBig(ctx, tx, t.balanceKey(from))
	if err != nil {
		return err
	}
	if bal.Cmp(amount) < 0 {
		return fmt.Errorf("%w: balance %s, need %s", capabilities.ErrInsufficientBalance, bal, amount)
	}
	return storage.PutBig(ctx, tx, t.balanceKey(from), new(big.Int).Sub(bal, amount))
}

func (t *Token) credit(ctx context.Context, tx *runtime.Tx, to types.Account, amount *big.Int) error {
	if amount.Sign() < 0 {
		return fmt.Errorf("negative amount %s", amount)
	}
	bal, err := storage.GetBig(ctx, tx, t.balanceKey(to))
	if err != nil {
		return err
	}
	return storage.PutBig(ctx, tx, t.balanceKey(to), new(big.Int).Add(bal, amount))
}

func idString(id uint64) string {
	return strconv.FormatUint(id, 10)
}
