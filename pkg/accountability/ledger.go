// Package accountability implements the custodial ledger: internal balances
// per (asset, account) backed by the ledger's own holdings, and
// referee-gated burns and distribution approvals guarded by a cooldown.
package accountability

import (
	"context"
	"fmt"
	"log/slog"
	"math/big"
	"slices"
	"strconv"
	"sync"

	"github.com/ipfs/go-datastore"

	"github.com/relves/trustledger/internal/storage"
	"github.com/relves/trustledger/pkg/asset"
	"github.com/relves/trustledger/pkg/capabilities"
	"github.com/relves/trustledger/pkg/runtime"
	"github.com/relves/trustledger/pkg/types"
)

// Event types emitted by Ledger.
const (
	EventInitialized          = "LedgerInitialized"
	EventAssetRegistered      = "AssetRegistered"
	EventChangeBalance        = "ChangeBalance"
	EventAssetBurned          = "AssetBurned"
	EventDistributionApproved = "DistributionApproved"
	EventRedeem               = "Redeem"
)

// AccessControl is what the ledger needs from the capability matrix.
type AccessControl interface {
	Creator(ctx context.Context) (types.Account, error)
	IsFrozen(ctx context.Context) (bool, error)
	Group(ctx context.Context, scope, account types.Account) (types.Group, error)
	Permission(ctx context.Context, scope types.Account, op capabilities.Operation, g types.Group) (bool, error)
	Accessibility(ctx context.Context, scope types.Account, op capabilities.Operation, account types.Account) (bool, error)
	EnableOperations(ctx context.Context, caller types.Account, ops []capabilities.Operation, groups []types.Group) error
	DisableOperations(ctx context.Context, caller types.Account, ops []capabilities.Operation, groups []types.Group) error
	SetAccountGroups(ctx context.Context, caller types.Account, accounts []types.Account, groups []types.Group) error
}

var _ asset.Registrar = (*Ledger)(nil)

// Ledger is one AccountabilityLedger instance.
type Ledger struct {
	rt     *runtime.Runtime
	id     types.Account
	access AccessControl
	logger *slog.Logger

	mu     sync.RWMutex
	assets map[types.Account]asset.Fungible
}

// Option configures a Ledger.
type Option func(*Ledger)

// WithLogger overrides slog.Default() for this ledger.
func WithLogger(logger *slog.Logger) Option {
	return func(l *Ledger) {
		if logger != nil {
			l.logger = logger
		}
	}
}

// New returns the ledger identified by id.
func New(rt *runtime.Runtime, id types.Account, ac AccessControl, opts ...Option) *Ledger {
	l := &Ledger{
		rt:     rt,
		id:     id,
		access: ac,
		logger: slog.Default(),
		assets: make(map[types.Account]asset.Fungible),
	}
	for _, opt := range opts {
		opt(l)
	}
	l.logger = l.logger.With("component", "accountability", "id", id.String())
	return l
}

func (l *Ledger) ID() types.Account {
	return l.id
}

func (l *Ledger) key(parts ...string) datastore.Key {
	return storage.Key(append([]string{"ledger", l.id.String()}, parts...)...)
}

func (l *Ledger) balanceKey(a, account types.Account) datastore.Key {
	return l.key("balance", a.String(), account.String())
}

func (l *Ledger) lastOpKey(a, account types.Account) datastore.Key {
	return l.key("lastop", a.String(), account.String())
}

// Initialize grants the admin group to the creator and to the ledger itself
// and enables the ledger's privileged operations for admins.
func (l *Ledger) Initialize(ctx context.Context, caller types.Account, securityDelay uint64) error {
	return l.rt.Update(ctx, func(ctx context.Context, tx *runtime.Tx) error {
		done, err := storage.GetBool(ctx, tx, l.key("initialized"))
		if err != nil {
			return err
		}
		if done {
			return capabilities.ErrAlreadyInitialized
		}
		creator, err := l.access.Creator(ctx)
		if err != nil {
			return err
		}
		if creator.IsNull() {
			return capabilities.ErrNotInitialized
		}
		if caller != creator {
			return capabilities.ErrCreatorOnly
		}

		if err := l.access.SetAccountGroups(ctx, l.id,
			[]types.Account{creator, l.id},
			[]types.Group{types.AdminGroup, types.AdminGroup}); err != nil {
			return err
		}
		if err := l.access.EnableOperations(ctx, l.id,
			capabilities.LedgerAdminOperations,
			[]types.Group{types.AdminGroup}); err != nil {
			return err
		}
		if err := storage.PutBool(ctx, tx, l.key("initialized"), true); err != nil {
			return err
		}
		if err := storage.PutUint64(ctx, tx, l.key("delay"), securityDelay); err != nil {
			return err
		}
		return tx.Emit(l.id, EventInitialized, map[string]string{
			"creator":       creator.String(),
			"securityDelay": strconv.FormatUint(securityDelay, 10),
		})
	})
}

// Attach makes an already registered asset ledger reachable after the
// process restarts.
func (l *Ledger) Attach(a asset.Fungible) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.assets[a.ID()] = a
}

func (l *Ledger) lookup(id types.Account) (asset.Fungible, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	a, ok := l.assets[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", capabilities.ErrAssetNotRegistered, id)
	}
	return a, nil
}

// Assets returns the identifiers of the reachable asset ledgers.
func (l *Ledger) Assets() []types.Account {
	l.mu.RLock()
	defer l.mu.RUnlock()
	ids := make([]types.Account, 0, len(l.assets))
	for id := range l.assets {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	return ids
}

// RegisterAsset records referee for a launching asset ledger. The referee
// must be an admin of this ledger.
func (l *Ledger) RegisterAsset(ctx context.Context, a asset.Fungible, referee types.Account) error {
	return l.rt.Update(ctx, func(ctx context.Context, tx *runtime.Tx) error {
		if err := l.requireLive(ctx, tx); err != nil {
			return err
		}
		if referee.IsNull() {
			return capabilities.ErrNullAccountNotAllowed
		}
		current, err := storage.GetString(ctx, tx, l.key("referee", a.ID().String()))
		if err != nil {
			return err
		}
		if current != "" {
			return capabilities.ErrAssetAlreadyRegistered
		}
		g, err := l.access.Group(ctx, l.id, referee)
		if err != nil {
			return err
		}
		if g != types.AdminGroup {
			return capabilities.ErrAdminOnly
		}

		if err := storage.PutString(ctx, tx, l.key("referee", a.ID().String()), referee.String()); err != nil {
			return err
		}
		if err := storage.PutUint64(ctx, tx, l.lastOpKey(a.ID(), referee), uint64(tx.Tick())); err != nil {
			return err
		}
		tx.OnCommit(func() {
			l.Attach(a)
			l.logger.Info("asset registered", "asset", a.ID().String(), "referee", referee.String())
		})
		return tx.Emit(l.id, EventAssetRegistered, map[string]string{
			"asset":   a.ID().String(),
			"referee": referee.String(),
		})
	})
}

// requireLive fails when the ledger is uninitialized or the organization
// is frozen.
func (l *Ledger) requireLive(ctx context.Context, tx *runtime.Tx) error {
	done, err := storage.GetBool(ctx, tx, l.key("initialized"))
	if err != nil {
		return err
	}
	if !done {
		return capabilities.ErrNotInitialized
	}
	frozen, err := l.access.IsFrozen(ctx)
	if err != nil {
		return err
	}
	if frozen {
		return capabilities.ErrFrozen
	}
	return nil
}

// guard checks liveness and that caller may invoke op in the ledger scope.
func (l *Ledger) guard(ctx context.Context, tx *runtime.Tx, caller types.Account, op capabilities.Operation) error {
	if err := l.requireLive(ctx, tx); err != nil {
		return err
	}
	ok, err := l.access.Accessibility(ctx, l.id, op, caller)
	if err != nil {
		return err
	}
	if !ok {
		return capabilities.ErrAccessDenied
	}
	return nil
}

func (l *Ledger) requireCreator(ctx context.Context, tx *runtime.Tx, caller types.Account) error {
	if err := l.requireLive(ctx, tx); err != nil {
		return err
	}
	creator, err := l.access.Creator(ctx)
	if err != nil {
		return err
	}
	if caller != creator {
		return capabilities.ErrCreatorOnly
	}
	return nil
}

// AddBalance credits account's internal balance of asset.
func (l *Ledger) AddBalance(ctx context.Context, caller, assetID, account types.Account, amount *big.Int) error {
	return l.rt.Update(ctx, func(ctx context.Context, tx *runtime.Tx) error {
		if err := l.guard(ctx, tx, caller, capabilities.OpAddBalance); err != nil {
			return err
		}
		if !types.IsPositive(amount) {
			return capabilities.ErrZeroAmountNotAllowed
		}
		if account.IsNull() {
			return capabilities.ErrNullAccountNotAllowed
		}
		a, err := l.lookup(assetID)
		if err != nil {
			return err
		}
		total, err := storage.GetBig(ctx, tx, l.key("total", assetID.String()))
		if err != nil {
			return err
		}
		holding, err := a.BalanceOf(ctx, l.id)
		if err != nil {
			return err
		}
		newTotal := new(big.Int).Add(total, amount)
		if newTotal.Cmp(holding) > 0 {
			return fmt.Errorf("%w: holding %s, booked %s", capabilities.ErrHoldingExceeded, holding, newTotal)
		}
		if err := storage.PutBig(ctx, tx, l.key("total", assetID.String()), newTotal); err != nil {
			return err
		}
		return l.changeBalance(ctx, tx, caller, assetID, account, func(old *big.Int) (*big.Int, error) {
			return new(big.Int).Add(old, amount), nil
		})
	})
}

// SubBalance debits account's internal balance of asset.
func (l *Ledger) SubBalance(ctx context.Context, caller, assetID, account types.Account, amount *big.Int) error {
	return l.rt.Update(ctx, func(ctx context.Context, tx *runtime.Tx) error {
		if err := l.guard(ctx, tx, caller, capabilities.OpSubBalance); err != nil {
			return err
		}
		if !types.IsPositive(amount) {
			return capabilities.ErrZeroAmountNotAllowed
		}
		if err := l.changeBalance(ctx, tx, caller, assetID, account, func(old *big.Int) (*big.Int, error) {
			if old.Cmp(amount) < 0 {
				return nil, fmt.Errorf("%w: balance %s, need %s", capabilities.ErrInsufficientBalance, old, amount)
			}
			return new(big.Int).Sub(old, amount), nil
		}); err != nil {
			return err
		}
		total, err := storage.GetBig(ctx, tx, l.key("total", assetID.String()))
		if err != nil {
			return err
		}
		return storage.PutBig(ctx, tx, l.key("total", assetID.String()), new(big.Int).Sub(total, amount))
	})
}

func (l *Ledger) changeBalance(ctx context.Context, tx *runtime.Tx, caller, assetID, account types.Account, apply func(old *big.Int) (*big.Int, error)) error {
	key := l.balanceKey(assetID, account)
	old, err := storage.GetBig(ctx, tx, key)
	if err != nil {
		return err
	}
	updated, err := apply(old)
	if err != nil {
		return err
	}
	if err := storage.PutBig(ctx, tx, key, updated); err != nil {
		return err
	}
	return tx.Emit(l.id, EventChangeBalance, map[string]string{
		"caller":     caller.String(),
		"asset":      assetID.String(),
		"user":       account.String(),
		"oldBalance": old.String(),
		"newBalance": updated.String(),
	})
}

// AssignGroups sets account groups in the ledger scope.
func (l *Ledger) AssignGroups(ctx context.Context, caller types.Account, accounts []types.Account, groups []types.Group) error {
	return l.rt.Update(ctx, func(ctx context.Context, tx *runtime.Tx) error {
		if err := l.guard(ctx, tx, caller, capabilities.OpAssignGroups); err != nil {
			return err
		}
		return l.access.SetAccountGroups(ctx, l.id, accounts, groups)
	})
}

// DelegatePermission enables ops for groups in the ledger scope.
// Creator-only.
func (l *Ledger) DelegatePermission(ctx context.Context, caller types.Account, ops []capabilities.Operation, groups []types.Group) error {
	return l.rt.Update(ctx, func(ctx context.Context, tx *runtime.Tx) error {
		if err := l.requireCreator(ctx, tx, caller); err != nil {
			return err
		}
		return l.access.EnableOperations(ctx, l.id, ops, groups)
	})
}

// RevokePermission disables ops for groups in the ledger scope. Disabling
// an operation for the admin group while it is enabled there is refused.
// Creator-only.
func (l *Ledger) RevokePermission(ctx context.Context, caller types.Account, ops []capabilities.Operation, groups []types.Group) error {
	return l.rt.Update(ctx, func(ctx context.Context, tx *runtime.Tx) error {
		if err := l.requireCreator(ctx, tx, caller); err != nil {
			return err
		}
		if slices.Contains(groups, types.AdminGroup) {
			for _, op := range ops {
				enabled, err := l.access.Permission(ctx, l.id, op, types.AdminGroup)
				if err != nil {
					return err
				}
				if enabled {
					return fmt.Errorf("%w: %s", capabilities.ErrCannotDisableAdminFunctions, op)
				}
			}
		}
		return l.access.DisableOperations(ctx, l.id, ops, groups)
	})
}

// Accessibility reports whether account may invoke op on this ledger.
func (l *Ledger) Accessibility(ctx context.Context, op capabilities.Operation, account types.Account) (bool, error) {
	return l.access.Accessibility(ctx, l.id, op, account)
}

// checkReferee fails unless caller is the registered referee of asset.
func (l *Ledger) checkReferee(ctx context.Context, tx *runtime.Tx, caller, assetID types.Account) error {
	referee, err := storage.GetString(ctx, tx, l.key("referee", assetID.String()))
	if err != nil {
		return err
	}
	if referee == "" || caller.String() != referee {
		return capabilities.ErrRefereeMismatch
	}
	return nil
}

func (l *Ledger) checkCooldown(ctx context.Context, tx *runtime.Tx, caller, assetID types.Account) error {
	delay, err := storage.GetUint64(ctx, tx, l.key("delay"))
	if err != nil {
		return err
	}
	last, err := storage.GetUint64(ctx, tx, l.lastOpKey(assetID, caller))
	if err != nil {
		return err
	}
	now := uint64(tx.Tick())
	if now < last || now-last < delay {
		return fmt.Errorf("%w: %d of %d ticks elapsed", capabilities.ErrCooldownActive, now-min(now, last), delay)
	}
	return nil
}

// BurnAsset burns amount whole units of asset from the ledger's holding.
func (l *Ledger) BurnAsset(ctx context.Context, caller, assetID types.Account, amount *big.Int) error {
	return l.rt.Update(ctx, func(ctx context.Context, tx *runtime.Tx) error {
		if err := l.guard(ctx, tx, caller, capabilities.OpBurnAsset); err != nil {
			return err
		}
		if err := l.checkReferee(ctx, tx, caller, assetID); err != nil {
			return err
		}
		if !types.IsPositive(amount) {
			return capabilities.ErrZeroAmount
		}
		if err := l.checkCooldown(ctx, tx, caller, assetID); err != nil {
			return err
		}

		a, err := l.lookup(assetID)
		if err != nil {
			return err
		}
		decimals, err := a.Decimals(ctx)
		if err != nil {
			return err
		}
		scaled := types.Scale(amount, decimals)

		holding, err := a.BalanceOf(ctx, l.id)
		if err != nil {
			return err
		}
		total, err := storage.GetBig(ctx, tx, l.key("total", assetID.String()))
		if err != nil {
			return err
		}
		if holding.Cmp(scaled) >= 0 && new(big.Int).Sub(holding, scaled).Cmp(total) < 0 {
			return fmt.Errorf("%w: holding %s, booked %s", capabilities.ErrHoldingExceeded, holding, total)
		}
		if err := a.Burn(ctx, l.id, scaled); err != nil {
			return err
		}

		if err := storage.PutUint64(ctx, tx, l.lastOpKey(assetID, caller), uint64(tx.Tick())); err != nil {
			return err
		}
		return tx.Emit(l.id, EventAssetBurned, map[string]string{
			"caller": caller.String(),
			"asset":  assetID.String(),
			"amount": scaled.String(),
		})
	})
}

// ApproveDistribution sets the ledger's allowance over its own holding of
// asset to amount whole units, for later redemptions.
func (l *Ledger) ApproveDistribution(ctx context.Context, caller, assetID types.Account, amount *big.Int) error {
	return l.rt.Update(ctx, func(ctx context.Context, tx *runtime.Tx) error {
		if err := l.guard(ctx, tx, caller, capabilities.OpApproveDistribution); err != nil {
			return err
		}
		if assetID.IsNull() {
			return capabilities.ErrNullAssetNotAllowed
		}
		if !types.IsPositive(amount) {
			return capabilities.ErrZeroAmountNotAllowed
		}
		if err := l.checkReferee(ctx, tx, caller, assetID); err != nil {
			return err
		}
		if err := l.checkCooldown(ctx, tx, caller, assetID); err != nil {
			return err
		}

		a, err := l.lookup(assetID)
		if err != nil {
			return err
		}
		decimals, err := a.Decimals(ctx)
		if err != nil {
			return err
		}
		scaled := types.Scale(amount, decimals)
		if err := a.Approve(ctx, l.id, l.id, scaled); err != nil {
			return err
		}

		if err := storage.PutUint64(ctx, tx, l.lastOpKey(assetID, caller), uint64(tx.Tick())); err != nil {
			return err
		}
		return tx.Emit(l.id, EventDistributionApproved, map[string]string{
			"caller": caller.String(),
			"asset":  assetID.String(),
			"amount": scaled.String(),
		})
	})
}

// RedeemAssets pays out caller's internal balance of every listed asset.
// Zero balances are skipped; at least one asset must pay out.
func (l *Ledger) RedeemAssets(ctx context.Context, caller types.Account, assetIDs []types.Account) error {
	return l.rt.Update(ctx, func(ctx context.Context, tx *runtime.Tx) error {
		if err := l.requireLive(ctx, tx); err != nil {
			return err
		}

		redeemed := 0
		for _, assetID := range assetIDs {
			bal, err := storage.GetBig(ctx, tx, l.balanceKey(assetID, caller))
			if err != nil {
				return err
			}
			if bal.Sign() == 0 {
				continue
			}
			a, err := l.lookup(assetID)
			if err != nil {
				return err
			}
			if err := a.TransferFrom(ctx, l.id, l.id, caller, bal); err != nil {
				return err
			}
			if err := l.changeBalance(ctx, tx, caller, assetID, caller, func(*big.Int) (*big.Int, error) {
				return new(big.Int), nil
			}); err != nil {
				return err
			}
			total, err := storage.GetBig(ctx, tx, l.key("total", assetID.String()))
			if err != nil {
				return err
			}
			if err := storage.PutBig(ctx, tx, l.key("total", assetID.String()), new(big.Int).Sub(total, bal)); err != nil {
				return err
			}
			if err := tx.Emit(l.id, EventRedeem, map[string]string{
				"caller": caller.String(),
				"asset":  assetID.String(),
				"amount": bal.String(),
			}); err != nil {
				return err
			}
			redeemed++
		}
		if redeemed == 0 {
			return capabilities.ErrNothingToRedeem
		}
		return nil
	})
}

// Balance returns account's internal balance of asset.
func (l *Ledger) Balance(ctx context.Context, assetID, account types.Account) (*big.Int, error) {
	var bal *big.Int
	err := l.rt.View(ctx, func(ctx context.Context, tx *runtime.Tx) error {
		var err error
		bal, err = storage.GetBig(ctx, tx, l.balanceKey(assetID, account))
		return err
	})
	return bal, err
}

// LastOpTick returns the tick of account's last referee action on asset.
func (l *Ledger) LastOpTick(ctx context.Context, assetID, account types.Account) (types.Tick, error) {
	var tick types.Tick
	err := l.rt.View(ctx, func(ctx context.Context, tx *runtime.Tx) error {
		v, err := storage.GetUint64(ctx, tx, l.lastOpKey(assetID, account))
		tick = types.Tick(v)
		return err
	})
	return tick, err
}

// Referee returns the referee of asset, or the null account.
func (l *Ledger) Referee(ctx context.Context, assetID types.Account) (types.Account, error) {
	var referee types.Account
	err := l.rt.View(ctx, func(ctx context.Context, tx *runtime.Tx) error {
		s, err := storage.GetString(ctx, tx, l.key("referee", assetID.String()))
		referee = types.Account(s)
		return err
	})
	return referee, err
}

func (l *Ledger) SecurityDelay(ctx context.Context) (uint64, error) {
	var delay uint64
	err := l.rt.View(ctx, func(ctx context.Context, tx *runtime.Tx) error {
		var err error
		delay, err = storage.GetUint64(ctx, tx, l.key("delay"))
		return err
	})
	return delay, err
}
