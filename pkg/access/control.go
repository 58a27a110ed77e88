// Package access implements the capability matrix: which groups may invoke
// which operations, which group each account belongs to, the organization
// creator and the global freeze flag.
//
// Permissions and account groups are scoped by the identity of the caller
// that writes them, so each component administers its own matrix through
// one shared Control.
package access

import (
	"context"
	"log/slog"
	"strconv"

	"github.com/ipfs/go-datastore"

	"github.com/relves/trustledger/internal/storage"
	"github.com/relves/trustledger/pkg/capabilities"
	"github.com/relves/trustledger/pkg/runtime"
	"github.com/relves/trustledger/pkg/types"
)

// Event types emitted by Control.
const (
	EventInitialized              = "Initialized"
	EventChangeGroupAccessibility = "ChangeGroupAccessibility"
	EventChangeUserGroup          = "ChangeUserGroup"
	EventCreatorChanged           = "CreatorChanged"
	EventGovernorRegistered       = "GovernorRegistered"
	EventFrozen                   = "Frozen"
	EventUnfrozen                 = "Unfrozen"
)

// Control is one AccessControl instance.
type Control struct {
	rt     *runtime.Runtime
	id     types.Account
	logger *slog.Logger
}

// Option configures a Control.
type Option func(*Control)

// WithLogger sets the logger used for state changes. Defaults to
// slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(c *Control) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// New returns the AccessControl instance identified by id.
func New(rt *runtime.Runtime, id types.Account, opts ...Option) *Control {
	c := &Control{
		rt:     rt,
		id:     id,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.logger = c.logger.With("component", "access", "id", id.String())
	return c
}

func (c *Control) ID() types.Account {
	return c.id
}

func (c *Control) key(parts ...string) datastore.Key {
	return storage.Key(append([]string{"access", c.id.String()}, parts...)...)
}

func (c *Control) permKey(scope types.Account, op capabilities.Operation, g types.Group) datastore.Key {
	return c.key("perm", scope.String(), op.String(), g.String())
}

func (c *Control) groupKey(scope, account types.Account) datastore.Key {
	return c.key("group", scope.String(), account.String())
}

// Initialize makes caller the creator and an admin of this instance.
func (c *Control) Initialize(ctx context.Context, caller types.Account) error {
	return c.rt.Update(ctx, func(ctx context.Context, tx *runtime.Tx) error {
		done, err := storage.GetBool(ctx, tx, c.key("initialized"))
		if err != nil {
			return err
		}
		if done {
			return capabilities.ErrAlreadyInitialized
		}
		if caller.IsNull() {
			return capabilities.ErrNullAccountNotAllowed
		}
		if err := storage.PutBool(ctx, tx, c.key("initialized"), true); err != nil {
			return err
		}
		if err := storage.PutString(ctx, tx, c.key("creator"), caller.String()); err != nil {
			return err
		}
		if err := storage.PutUint64(ctx, tx, c.groupKey(c.id, caller), uint64(types.AdminGroup)); err != nil {
			return err
		}
		return tx.Emit(c.id, EventInitialized, map[string]string{"creator": caller.String()})
	})
}

// Creator returns the organization creator, or the null account before
// initialization.
func (c *Control) Creator(ctx context.Context) (types.Account, error) {
	var creator types.Account
	err := c.rt.View(ctx, func(ctx context.Context, tx *runtime.Tx) error {
		s, err := storage.GetString(ctx, tx, c.key("creator"))
		creator = types.Account(s)
		return err
	})
	return creator, err
}

// Governor returns the identity allowed to change the creator.
func (c *Control) Governor(ctx context.Context) (types.Account, error) {
	var governor types.Account
	err := c.rt.View(ctx, func(ctx context.Context, tx *runtime.Tx) error {
		s, err := storage.GetString(ctx, tx, c.key("governor"))
		governor = types.Account(s)
		return err
	})
	return governor, err
}

// RegisterGovernor binds the governance component allowed to call
// SetCreator. Creator-only and one-time.
func (c *Control) RegisterGovernor(ctx context.Context, caller, governor types.Account) error {
	return c.rt.Update(ctx, func(ctx context.Context, tx *runtime.Tx) error {
		creator, err := storage.GetString(ctx, tx, c.key("creator"))
		if err != nil {
			return err
		}
		if creator == "" {
			return capabilities.ErrNotInitialized
		}
		if caller.String() != creator {
			return capabilities.ErrCreatorOnly
		}
		if governor.IsNull() {
			return capabilities.ErrNullAccountNotAllowed
		}
		current, err := storage.GetString(ctx, tx, c.key("governor"))
		if err != nil {
			return err
		}
		if current != "" {
			return capabilities.ErrAlreadyInitialized
		}
		if err := storage.PutString(ctx, tx, c.key("governor"), governor.String()); err != nil {
			return err
		}
		return tx.Emit(c.id, EventGovernorRegistered, map[string]string{"governor": governor.String()})
	})
}

// SetCreator replaces the creator. Only the registered governor may call it.
func (c *Control) SetCreator(ctx context.Context, caller, creator types.Account) error {
	return c.rt.Update(ctx, func(ctx context.Context, tx *runtime.Tx) error {
		governor, err := storage.GetString(ctx, tx, c.key("governor"))
		if err != nil {
			return err
		}
		if governor == "" || caller.String() != governor {
			return capabilities.ErrGovernorOnly
		}
		if creator.IsNull() {
			return capabilities.ErrNullAccountNotAllowed
		}
		old, err := storage.GetString(ctx, tx, c.key("creator"))
		if err != nil {
			return err
		}
		if err := storage.PutString(ctx, tx, c.key("creator"), creator.String()); err != nil {
			return err
		}
		tx.OnCommit(func() {
			c.logger.Info("creator changed", "old", old, "new", creator.String())
		})
		return tx.Emit(c.id, EventCreatorChanged, map[string]string{
			"caller":     caller.String(),
			"oldCreator": old,
			"newCreator": creator.String(),
		})
	})
}

// EnableOperations enables every (op, group) pair in caller's scope.
func (c *Control) EnableOperations(ctx context.Context, caller types.Account, ops []capabilities.Operation, groups []types.Group) error {
	return c.setOperations(ctx, caller, ops, groups, true)
}

// DisableOperations disables every (op, group) pair in caller's scope.
func (c *Control) DisableOperations(ctx context.Context, caller types.Account, ops []capabilities.Operation, groups []types.Group) error {
	return c.setOperations(ctx, caller, ops, groups, false)
}

func (c *Control) setOperations(ctx context.Context, caller types.Account, ops []capabilities.Operation, groups []types.Group, enabled bool) error {
	if len(ops) == 0 {
		return capabilities.ErrNoOperationsDefined
	}
	if len(groups) == 0 {
		return capabilities.ErrNoGroupsDefined
	}
	return c.rt.Update(ctx, func(ctx context.Context, tx *runtime.Tx) error {
		for _, op := range ops {
			for _, g := range groups {
				if err := storage.PutBool(ctx, tx, c.permKey(caller, op, g), enabled); err != nil {
					return err
				}
				if err := tx.Emit(c.id, EventChangeGroupAccessibility, map[string]string{
					"scope":         caller.String(),
					"operation":     op.String(),
					"group":         g.String(),
					"accessibility": strconv.FormatBool(enabled),
				}); err != nil {
					return err
				}
			}
		}
		return nil
	})
}

// SetAccountGroups assigns groups[i] to accounts[i] in caller's scope.
func (c *Control) SetAccountGroups(ctx context.Context, caller types.Account, accounts []types.Account, groups []types.Group) error {
	if len(accounts) != len(groups) {
		return capabilities.ErrLengthMismatch
	}
	for _, a := range accounts {
		if a.IsNull() {
			return capabilities.ErrNullAccountNotAllowed
		}
	}
	return c.rt.Update(ctx, func(ctx context.Context, tx *runtime.Tx) error {
		for i, a := range accounts {
			if err := storage.PutUint64(ctx, tx, c.groupKey(caller, a), uint64(groups[i])); err != nil {
				return err
			}
			if err := tx.Emit(c.id, EventChangeUserGroup, map[string]string{
				"scope":    caller.String(),
				"user":     a.String(),
				"newGroup": groups[i].String(),
			}); err != nil {
				return err
			}
		}
		return nil
	})
}

// Group returns account's group in scope.
func (c *Control) Group(ctx context.Context, scope, account types.Account) (types.Group, error) {
	var g types.Group
	err := c.rt.View(ctx, func(ctx context.Context, tx *runtime.Tx) error {
		v, err := storage.GetUint64(ctx, tx, c.groupKey(scope, account))
		g = types.Group(v)
		return err
	})
	return g, err
}

// Permission reports whether op is enabled for group g in scope.
func (c *Control) Permission(ctx context.Context, scope types.Account, op capabilities.Operation, g types.Group) (bool, error) {
	var enabled bool
	err := c.rt.View(ctx, func(ctx context.Context, tx *runtime.Tx) error {
		v, err := storage.GetBool(ctx, tx, c.permKey(scope, op, g))
		enabled = v
		return err
	})
	return enabled, err
}

// Accessibility reports whether account may invoke op in scope.
func (c *Control) Accessibility(ctx context.Context, scope types.Account, op capabilities.Operation, account types.Account) (bool, error) {
	g, err := c.Group(ctx, scope, account)
	if err != nil {
		return false, err
	}
	return c.Permission(ctx, scope, op, g)
}

// Freeze sets the global freeze flag. Admin-only.
func (c *Control) Freeze(ctx context.Context, caller types.Account) error {
	return c.rt.Update(ctx, func(ctx context.Context, tx *runtime.Tx) error {
		if err := c.requireAdmin(ctx, tx, caller, false); err != nil {
			return err
		}
		if err := storage.PutBool(ctx, tx, c.key("frozen"), true); err != nil {
			return err
		}
		tx.OnCommit(func() { c.logger.Info("frozen", "caller", caller.String()) })
		return tx.Emit(c.id, EventFrozen, map[string]string{"caller": caller.String()})
	})
}

// Unfreeze clears the global freeze flag. Admins and the registered
// governor may call it.
func (c *Control) Unfreeze(ctx context.Context, caller types.Account) error {
	return c.rt.Update(ctx, func(ctx context.Context, tx *runtime.Tx) error {
		if err := c.requireAdmin(ctx, tx, caller, true); err != nil {
			return err
		}
		if err := storage.PutBool(ctx, tx, c.key("frozen"), false); err != nil {
			return err
		}
		tx.OnCommit(func() { c.logger.Info("unfrozen", "caller", caller.String()) })
		return tx.Emit(c.id, EventUnfrozen, map[string]string{"caller": caller.String()})
	})
}

func (c *Control) IsFrozen(ctx context.Context) (bool, error) {
	var frozen bool
	err := c.rt.View(ctx, func(ctx context.Context, tx *runtime.Tx) error {
		v, err := storage.GetBool(ctx, tx, c.key("frozen"))
		frozen = v
		return err
	})
	return frozen, err
}

func (c *Control) requireAdmin(ctx context.Context, tx *runtime.Tx, caller types.Account, allowGovernor bool) error {
	if allowGovernor {
		governor, err := storage.GetString(ctx, tx, c.key("governor"))
		if err != nil {
			return err
		}
		if governor != "" && caller.String() == governor {
			return nil
		}
	}
	g, err := storage.GetUint64(ctx, tx, c.groupKey(c.id, caller))
	if err != nil {
		return err
	}
	if types.Group(g) != types.AdminGroup {
		return capabilities.ErrAdminOnly
	}
	return nil
}
