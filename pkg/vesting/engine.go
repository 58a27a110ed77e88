// Package vesting implements the hybrid asset: a fungible token whose admin
// can lock grants for beneficiaries until an unlock tick, and whose holders
// can convert whole multiples of a ratio into units of a non-transferable
// collection.
package vesting

import (
	"context"
	"fmt"
	"log/slog"
	"math/big"
	"strconv"
	"sync"

	"github.com/ipfs/go-datastore"

	"github.com/relves/trustledger/internal/storage"
	"github.com/relves/trustledger/pkg/asset"
	"github.com/relves/trustledger/pkg/capabilities"
	"github.com/relves/trustledger/pkg/runtime"
	"github.com/relves/trustledger/pkg/types"
)

// Event types emitted by Engine. Token movements additionally emit the
// asset ledger's Transfer events.
const (
	EventVestAdded     = "VestAdded"
	EventVestWithdrawn = "VestWithdrawn"
	EventAirdrop       = "Airdrop"
	EventHybridLinkSet = "HybridLinkSet"
	EventBurnAndMint   = "BurnAndMint"
)

// Engine is one VestingEngine instance. Its identifier is also the
// identifier of the token it manages.
type Engine struct {
	rt     *runtime.Runtime
	id     types.Account
	token  *asset.Token
	logger *slog.Logger

	mu         sync.RWMutex
	collection asset.SemiFungible
}

type Option func(*Engine)

func WithLogger(logger *slog.Logger) Option {
	return func(e *Engine) {
		if logger != nil {
			e.logger = logger
		}
	}
}

func New(rt *runtime.Runtime, id types.Account, opts ...Option) *Engine {
	e := &Engine{
		rt:     rt,
		id:     id,
		token:  asset.NewToken(rt, id),
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(e)
	}
	e.logger = e.logger.With("component", "vesting", "id", id.String())
	return e
}

func (e *Engine) ID() types.Account {
	return e.id
}

// Token exposes the managed token for read access and for registration
// with other components.
func (e *Engine) Token() *asset.Token {
	return e.token
}

func (e *Engine) key(parts ...string) datastore.Key {
	return storage.Key(append([]string{"vesting", e.id.String()}, parts...)...)
}

func (e *Engine) vestKey(beneficiary types.Account) datastore.Key {
	return e.key("vest", beneficiary.String())
}

// Initialize makes caller the admin and mints supply whole units to it.
func (e *Engine) Initialize(ctx context.Context, caller types.Account, meta asset.Metadata, supply *big.Int) error {
	return e.rt.Update(ctx, func(ctx context.Context, tx *runtime.Tx) error {
		if caller.IsNull() {
			return capabilities.ErrNullAccountNotAllowed
		}
		if err := e.token.Initialize(ctx, meta, supply, caller); err != nil {
			return err
		}
		return storage.PutString(ctx, tx, e.key("admin"), caller.String())
	})
}

func (e *Engine) Admin(ctx context.Context) (types.Account, error) {
	var admin types.Account
	err := e.rt.View(ctx, func(ctx context.Context, tx *runtime.Tx) error {
		s, err := storage.GetString(ctx, tx, e.key("admin"))
		admin = types.Account(s)
		return err
	})
	return admin, err
}

func (e *Engine) admin(ctx context.Context, tx *runtime.Tx) (types.Account, error) {
	s, err := storage.GetString(ctx, tx, e.key("admin"))
	if err != nil {
		return types.NullAccount, err
	}
	if s == "" {
		return types.NullAccount, capabilities.ErrNotInitialized
	}
	return types.Account(s), nil
}

func (e *Engine) requireOwner(ctx context.Context, tx *runtime.Tx, caller types.Account) (types.Account, error) {
	admin, err := e.admin(ctx, tx)
	if err != nil {
		return admin, err
	}
	if caller != admin {
		return admin, capabilities.ErrOwnerOnly
	}
	return admin, nil
}

// spendable is the admin's balance not reserved by active vests.
func (e *Engine) spendable(ctx context.Context, tx *runtime.Tx, admin types.Account) (*big.Int, error) {
	bal, err := e.token.BalanceOf(ctx, admin)
	if err != nil {
		return nil, err
	}
	lock, err := storage.GetBig(ctx, tx, e.key("ownerlock"))
	if err != nil {
		return nil, err
	}
	return bal.Sub(bal, lock), nil
}

// ensureSpendable fails InsufficientOwnerBalance when caller is the admin
// and amount reaches into the locked part of its balance.
func (e *Engine) ensureSpendable(ctx context.Context, tx *runtime.Tx, caller types.Account, amount *big.Int) error {
	admin, err := e.admin(ctx, tx)
	if err != nil {
		return err
	}
	if caller != admin {
		return nil
	}
	free, err := e.spendable(ctx, tx, admin)
	if err != nil {
		return err
	}
	if amount.Cmp(free) > 0 {
		return fmt.Errorf("%w: spendable %s, need %s", capabilities.ErrInsufficientOwnerBalance, free, amount)
	}
	return nil
}

// AddVest locks amount base units of the admin's balance for beneficiary
// until duration ticks from now.
func (e *Engine) AddVest(ctx context.Context, caller, beneficiary types.Account, amount *big.Int, duration uint64) error {
	return e.rt.Update(ctx, func(ctx context.Context, tx *runtime.Tx) error {
		if _, err := e.requireOwner(ctx, tx, caller); err != nil {
			return err
		}
		if beneficiary.IsNull() {
			return capabilities.ErrNullAccountNotAllowed
		}
		if !types.IsPositive(amount) {
			return capabilities.ErrZeroAmountNotAllowed
		}
		var current types.Vest
		if _, err := storage.GetRecord(ctx, tx, e.vestKey(beneficiary), &current); err != nil {
			return err
		}
		if current.IsSet() {
			return capabilities.ErrVestAlreadySet
		}
		if err := e.ensureSpendable(ctx, tx, caller, amount); err != nil {
			return err
		}

		vest := types.Vest{Amount: amount, UnlockTick: tx.Tick() + types.Tick(duration)}
		if err := storage.PutRecord(ctx, tx, e.vestKey(beneficiary), &vest); err != nil {
			return err
		}
		lock, err := storage.GetBig(ctx, tx, e.key("ownerlock"))
		if err != nil {
			return err
		}
		if err := storage.PutBig(ctx, tx, e.key("ownerlock"), lock.Add(lock, amount)); err != nil {
			return err
		}
		return tx.Emit(e.id, EventVestAdded, map[string]string{
			"beneficiary": beneficiary.String(),
			"amount":      amount.String(),
			"unlockTick":  strconv.FormatUint(uint64(vest.UnlockTick), 10),
		})
	})
}

// WithdrawVest releases caller's vest once its unlock tick has been
// reached.
func (e *Engine) WithdrawVest(ctx context.Context, caller types.Account) error {
	return e.rt.Update(ctx, func(ctx context.Context, tx *runtime.Tx) error {
		var vest types.Vest
		if _, err := storage.GetRecord(ctx, tx, e.vestKey(caller), &vest); err != nil {
			return err
		}
		if !vest.IsSet() {
			return capabilities.ErrVestNotSet
		}
		if tx.Tick() < vest.UnlockTick {
			return fmt.Errorf("%w: unlocks at tick %d", capabilities.ErrVestNotExpired, vest.UnlockTick)
		}
		admin, err := e.admin(ctx, tx)
		if err != nil {
			return err
		}

		lock, err := storage.GetBig(ctx, tx, e.key("ownerlock"))
		if err != nil {
			return err
		}
		if err := storage.PutBig(ctx, tx, e.key("ownerlock"), lock.Sub(lock, vest.Amount)); err != nil {
			return err
		}
		if err := tx.Delete(ctx, e.vestKey(caller)); err != nil {
			return err
		}
		if err := e.token.Transfer(ctx, admin, caller, vest.Amount); err != nil {
			return err
		}
		return tx.Emit(e.id, EventVestWithdrawn, map[string]string{
			"beneficiary": caller.String(),
			"amount":      vest.Amount.String(),
		})
	})
}

// VestMetaData returns beneficiary's vest; the zero amount and tick mean
// none is active.
func (e *Engine) VestMetaData(ctx context.Context, beneficiary types.Account) (types.Vest, error) {
	vest := types.Vest{Amount: types.Zero()}
	err := e.rt.View(ctx, func(ctx context.Context, tx *runtime.Tx) error {
		var v types.Vest
		found, err := storage.GetRecord(ctx, tx, e.vestKey(beneficiary), &v)
		if found {
			vest = v
		}
		return err
	})
	return vest, err
}

// OwnerLock is the sum of all active vests.
func (e *Engine) OwnerLock(ctx context.Context) (*big.Int, error) {
	var lock *big.Int
	err := e.rt.View(ctx, func(ctx context.Context, tx *runtime.Tx) error {
		var err error
		lock, err = storage.GetBig(ctx, tx, e.key("ownerlock"))
		return err
	})
	return lock, err
}

// Airdrop transfers amounts[i] whole units, scaled by decimals, from the
// admin to accounts[i].
func (e *Engine) Airdrop(ctx context.Context, caller types.Account, accounts []types.Account, amounts []*big.Int, decimals uint8) error {
	return e.rt.Update(ctx, func(ctx context.Context, tx *runtime.Tx) error {
		admin, err := e.requireOwner(ctx, tx, caller)
		if err != nil {
			return err
		}
		if len(accounts) != len(amounts) {
			return capabilities.ErrDimensionMismatch
		}
		total := new(big.Int)
		scaled := make([]*big.Int, len(amounts))
		for i, a := range accounts {
			if a.IsNull() || !types.IsPositive(amounts[i]) {
				return capabilities.ErrNullValueNotAllowed
			}
			scaled[i] = types.Scale(amounts[i], decimals)
			total.Add(total, scaled[i])
		}
		if err := e.ensureSpendable(ctx, tx, admin, total); err != nil {
			return err
		}
		for i, a := range accounts {
			if err := e.token.Transfer(ctx, admin, a, scaled[i]); err != nil {
				return err
			}
		}
		return tx.Emit(e.id, EventAirdrop, map[string]string{
			"recipients": strconv.Itoa(len(accounts)),
			"total":      total.String(),
		})
	})
}

// Transfer moves amount base units from caller to to. The admin cannot
// spend locked funds.
func (e *Engine) Transfer(ctx context.Context, caller, to types.Account, amount *big.Int) error {
	return e.rt.Update(ctx, func(ctx context.Context, tx *runtime.Tx) error {
		if !types.IsPositive(amount) {
			return capabilities.ErrZeroAmountNotAllowed
		}
		if err := e.ensureSpendable(ctx, tx, caller, amount); err != nil {
			return err
		}
		return e.token.Transfer(ctx, caller, to, amount)
	})
}

// Burn destroys amount base units of caller's balance.
func (e *Engine) Burn(ctx context.Context, caller types.Account, amount *big.Int) error {
	return e.rt.Update(ctx, func(ctx context.Context, tx *runtime.Tx) error {
		if !types.IsPositive(amount) {
			return capabilities.ErrZeroAmountNotAllowed
		}
		if err := e.ensureSpendable(ctx, tx, caller, amount); err != nil {
			return err
		}
		return e.token.Burn(ctx, caller, amount)
	})
}

func (e *Engine) BalanceOf(ctx context.Context, account types.Account) (*big.Int, error) {
	return e.token.BalanceOf(ctx, account)
}

// Attach makes the linked collection reachable after the process restarts.
func (e *Engine) Attach(c asset.SemiFungible) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.collection = c
}

func (e *Engine) linked(link types.HybridLink) (asset.SemiFungible, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if e.collection == nil || e.collection.ID() != link.Collection {
		return nil, fmt.Errorf("%w: collection %s not attached", capabilities.ErrHybridLinkNotSet, link.Collection)
	}
	return e.collection, nil
}

// SetHybridLink configures the conversion into tokenID of collection at
// ratio fungible units per minted unit. Admin-only.
func (e *Engine) SetHybridLink(ctx context.Context, caller types.Account, collection asset.SemiFungible, tokenID uint64, ratio *big.Int) error {
	return e.rt.Update(ctx, func(ctx context.Context, tx *runtime.Tx) error {
		admin, err := e.admin(ctx, tx)
		if err != nil {
			return err
		}
		if caller != admin {
			return capabilities.ErrAdminOnly
		}
		if collection == nil || collection.ID().IsNull() {
			return capabilities.ErrNullAddressNotAllowed
		}
		if tokenID == 0 {
			return capabilities.ErrZeroIdNotAllowed
		}
		if !types.IsPositive(ratio) {
			return capabilities.ErrZeroRatioNotAllowed
		}

		link := types.HybridLink{Collection: collection.ID(), TokenID: tokenID, Ratio: ratio}
		if err := storage.PutRecord(ctx, tx, e.key("link"), &link); err != nil {
			return err
		}
		tx.OnCommit(func() {
			e.Attach(collection)
			e.logger.Info("hybrid link set", "collection", collection.ID().String(), "tokenId", tokenID, "ratio", ratio.String())
		})
		return tx.Emit(e.id, EventHybridLinkSet, map[string]string{
			"collection": collection.ID().String(),
			"tokenId":    strconv.FormatUint(tokenID, 10),
			"ratio":      ratio.String(),
		})
	})
}

func (e *Engine) HybridLink(ctx context.Context) (types.HybridLink, error) {
	var link types.HybridLink
	err := e.rt.View(ctx, func(ctx context.Context, tx *runtime.Tx) error {
		_, err := storage.GetRecord(ctx, tx, e.key("link"), &link)
		return err
	})
	return link, err
}

// BurnAndMint converts amount whole units into collection units. Only the
// largest multiple of the ratio not exceeding amount is burned.
func (e *Engine) BurnAndMint(ctx context.Context, caller types.Account, amount *big.Int) error {
	return e.rt.Update(ctx, func(ctx context.Context, tx *runtime.Tx) error {
		var link types.HybridLink
		if _, err := storage.GetRecord(ctx, tx, e.key("link"), &link); err != nil {
			return err
		}
		if !link.IsSet() {
			return capabilities.ErrHybridLinkNotSet
		}
		if amount == nil || amount.Cmp(link.Ratio) < 0 {
			return capabilities.ErrBelowRatio
		}
		collection, err := e.linked(link)
		if err != nil {
			return err
		}

		units := new(big.Int).Quo(amount, link.Ratio)
		burned := new(big.Int).Mul(units, link.Ratio)
		decimals, err := e.token.Decimals(ctx)
		if err != nil {
			return err
		}
		scaled := types.Scale(burned, decimals)
		if err := e.ensureSpendable(ctx, tx, caller, scaled); err != nil {
			return err
		}
		if err := e.token.Burn(ctx, caller, scaled); err != nil {
			return err
		}
		if err := collection.Mint(ctx, e.id, caller, link.TokenID, units); err != nil {
			return err
		}
		return tx.Emit(e.id, EventBurnAndMint, map[string]string{
			"caller":     caller.String(),
			"burned":     burned.String(),
			"minted":     units.String(),
			"collection": link.Collection.String(),
			"tokenId":    strconv.FormatUint(link.TokenID, 10),
		})
	})
}
