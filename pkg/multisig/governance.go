// Package multisig implements threshold governance: trustees open polls
// proposing a fixed set of actions and the vote that reaches a strict
// majority applies the action in the same call.
package multisig

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

// MinTrustees is the smallest trustee set governance operates with.
const MinTrustees = 5

// Event types emitted by Governance.
const (
	EventInitialized    = "MultisigInitialized"
	EventNewPoll        = "NewPoll"
	EventVote           = "Vote"
	EventPollResolved   = "PollResolved"
	EventTrusteeAdded   = "TrusteeAdded"
	EventTrusteeRemoved = "TrusteeRemoved"
)

// Settings is the part of AccessControl a resolved poll may mutate.
type Settings interface {
	RegisterGovernor(ctx context.Context, caller, governor types.Account) error
	SetCreator(ctx context.Context, caller, creator types.Account) error
	Unfreeze(ctx context.Context, caller types.Account) error
}

// Governance is one MultiSigGovernance instance.
type Governance struct {
	rt       *runtime.Runtime
	id       types.Account
	settings Settings
	logger   *slog.Logger
}

type Option func(*Governance)

func WithLogger(logger *slog.Logger) Option {
	return func(g *Governance) {
		if logger != nil {
			g.logger = logger
		}
	}
}

// New returns the governance instance identified by id, resolving polls
// against settings.
func New(rt *runtime.Runtime, id types.Account, settings Settings, opts ...Option) *Governance {
	g := &Governance{
		rt:       rt,
		id:       id,
		settings: settings,
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(g)
	}
	g.logger = g.logger.With("component", "multisig", "id", id.String())
	return g
}

func (g *Governance) ID() types.Account {
	return g.id
}

func (g *Governance) key(parts ...string) datastore.Key {
	return storage.Key(append([]string{"multisig", g.id.String()}, parts...)...)
}

func (g *Governance) pollKey(index uint64) datastore.Key {
	return g.key("poll", strconv.FormatUint(index, 10))
}

func (g *Governance) voteKey(index uint64, voter types.Account) datastore.Key {
	return g.key("vote", strconv.FormatUint(index, 10), voter.String())
}

// Initialize seeds the trustee set and registers this instance as the
// governor of settings. The caller must be the AccessControl creator.
func (g *Governance) Initialize(ctx context.Context, caller types.Account, trustees []types.Account) error {
	return g.rt.Update(ctx, func(ctx context.Context, tx *runtime.Tx) error {
		done, err := storage.GetBool(ctx, tx, g.key("initialized"))
		if err != nil {
			return err
		}
		if done {
			return capabilities.ErrAlreadyInitialized
		}

		set := &trusteeSet{}
		for _, t := range trustees {
			if t.IsNull() {
				return capabilities.ErrNullAccountNotAllowed
			}
			set.add(t)
		}
		if len(set.Members) < MinTrustees {
			return capabilities.ErrBelowMinimumTrustees
		}

		if err := g.settings.RegisterGovernor(ctx, caller, g.id); err != nil {
			return err
		}
		if err := storage.PutBool(ctx, tx, g.key("initialized"), true); err != nil {
			return err
		}
		if err := storage.PutRecord(ctx, tx, g.key("trustees"), set); err != nil {
			return err
		}
		for _, t := range set.Members {
			if err := tx.Emit(g.id, EventTrusteeAdded, map[string]string{"trustee": t.String()}); err != nil {
				return err
			}
		}
		return tx.Emit(g.id, EventInitialized, map[string]string{
			"caller":   caller.String(),
			"trustees": strconv.Itoa(len(set.Members)),
		})
	})
}

func (g *Governance) loadTrustees(ctx context.Context, tx *runtime.Tx) (*trusteeSet, error) {
	set := &trusteeSet{}
	if _, err := storage.GetRecord(ctx, tx, g.key("trustees"), set); err != nil {
		return nil, err
	}
	return set, nil
}

// CreatePoll opens a poll proposing typ against target and returns its
// index. Indexes start at 1.
func (g *Governance) CreatePoll(ctx context.Context, caller types.Account, typ types.PollType, target types.Account) (uint64, error) {
	var index uint64
	err := g.rt.Update(ctx, func(ctx context.Context, tx *runtime.Tx) error {
		set, err := g.loadTrustees(ctx, tx)
		if err != nil {
			return err
		}
		if !set.contains(caller) {
			return capabilities.ErrNotAuthorizedToCreate
		}
		if typ == types.PollNull || typ > types.PollUnfreeze {
			return capabilities.ErrInvalidPollType
		}
		if typ != types.PollUnfreeze && target.IsNull() {
			return capabilities.ErrNullAccountNotAllowed
		}

		count, err := storage.GetUint64(ctx, tx, g.key("polls"))
		if err != nil {
			return err
		}
		index = count + 1
		poll := &types.Poll{
			Index:     index,
			Type:      typ,
			Target:    target,
			Creator:   caller,
			CreatedAt: tx.Tick(),
		}
		if err := storage.PutUint64(ctx, tx, g.key("polls"), index); err != nil {
			return err
		}
		if err := storage.PutRecord(ctx, tx, g.pollKey(index), poll); err != nil {
			return err
		}
		return tx.Emit(g.id, EventNewPoll, map[string]string{
			"creator":   caller.String(),
			"pollIndex": strconv.FormatUint(index, 10),
			"pollType":  typ.String(),
			"target":    target.String(),
		})
	})
	if err != nil {
		return 0, err
	}
	return index, nil
}

// Vote records caller's decision on a poll. When approvals reach quorum the
// poll's action is applied in the same call; if the action fails the vote
// is discarded with it.
func (g *Governance) Vote(ctx context.Context, caller types.Account, index uint64, decision types.Decision) error {
	return g.rt.Update(ctx, func(ctx context.Context, tx *runtime.Tx) error {
		set, err := g.loadTrustees(ctx, tx)
		if err != nil {
			return err
		}
		if !set.contains(caller) {
			return capabilities.ErrNotAuthorizedToVote
		}

		poll := &types.Poll{}
		found, err := storage.GetRecord(ctx, tx, g.pollKey(index), poll)
		if err != nil {
			return err
		}
		if !found {
			return capabilities.ErrPollNotFound
		}
		if decision != types.Approved && decision != types.Declined {
			return capabilities.ErrInvalidVote
		}

		prior, err := storage.GetUint64(ctx, tx, g.voteKey(index, caller))
		if err != nil {
			return err
		}
		if types.Decision(prior) != types.DecisionNull {
			return capabilities.ErrAlreadyVoted
		}
		if poll.Resolved {
			return capabilities.ErrPollAlreadyResolved
		}

		if err := storage.PutUint64(ctx, tx, g.voteKey(index, caller), uint64(decision)); err != nil {
			return err
		}
		if decision == types.Approved {
			poll.Approvals++
		} else {
			poll.Declines++
		}
		if err := tx.Emit(g.id, EventVote, map[string]string{
			"voter":     caller.String(),
			"pollIndex": strconv.FormatUint(index, 10),
			"vote":      decision.String(),
		}); err != nil {
			return err
		}

		if poll.Approvals >= set.quorum() {
			if err := g.resolve(ctx, tx, set, poll); err != nil {
				return err
			}
		}
		return storage.PutRecord(ctx, tx, g.pollKey(index), poll)
	})
}

func (g *Governance) resolve(ctx context.Context, tx *runtime.Tx, set *trusteeSet, poll *types.Poll) error {
	switch poll.Type {
	case types.PollChangeCreator:
		if err := g.settings.SetCreator(ctx, g.id, poll.Target); err != nil {
			return err
		}
	case types.PollAddAddress:
		if !set.add(poll.Target) {
			return capabilities.ErrAddressAlreadyPresent
		}
		if err := tx.Emit(g.id, EventTrusteeAdded, map[string]string{"trustee": poll.Target.String()}); err != nil {
			return err
		}
	case types.PollDeleteAddress:
		if !set.contains(poll.Target) {
			return capabilities.ErrAddressNotPresent
		}
		if len(set.Members)-1 < MinTrustees {
			return capabilities.ErrBelowMinimumTrustees
		}
		set.remove(poll.Target)
		if err := tx.Emit(g.id, EventTrusteeRemoved, map[string]string{"trustee": poll.Target.String()}); err != nil {
			return err
		}
	case types.PollUnfreeze:
		if err := g.settings.Unfreeze(ctx, g.id); err != nil {
			return err
		}
	default:
		return capabilities.ErrInvalidPollType
	}

	if poll.Type == types.PollAddAddress || poll.Type == types.PollDeleteAddress {
		if err := storage.PutRecord(ctx, tx, g.key("trustees"), set); err != nil {
			return err
		}
	}
	poll.Resolved = true
	resolved := *poll
	tx.OnCommit(func() {
		g.logger.Info("poll resolved", "index", resolved.Index, "type", resolved.Type.String(), "target", resolved.Target.String())
	})
	return tx.Emit(g.id, EventPollResolved, map[string]string{
		"pollIndex": strconv.FormatUint(poll.Index, 10),
		"pollType":  poll.Type.String(),
		"target":    poll.Target.String(),
	})
}

// Poll returns the poll with the given index.
func (g *Governance) Poll(ctx context.Context, index uint64) (types.Poll, error) {
	var poll types.Poll
	err := g.rt.View(ctx, func(ctx context.Context, tx *runtime.Tx) error {
		found, err := storage.GetRecord(ctx, tx, g.pollKey(index), &poll)
		if err != nil {
			return err
		}
		if !found {
			return capabilities.ErrPollNotFound
		}
		return nil
	})
	return poll, err
}

// VoteOf returns account's decision on a poll, DecisionNull if none.
func (g *Governance) VoteOf(ctx context.Context, index uint64, account types.Account) (types.Decision, error) {
	var d types.Decision
	err := g.rt.View(ctx, func(ctx context.Context, tx *runtime.Tx) error {
		v, err := storage.GetUint64(ctx, tx, g.voteKey(index, account))
		d = types.Decision(v)
		return err
	})
	return d, err
}

// PollCount returns the index of the most recent poll.
func (g *Governance) PollCount(ctx context.Context) (uint64, error) {
	var n uint64
	err := g.rt.View(ctx, func(ctx context.Context, tx *runtime.Tx) error {
		v, err := storage.GetUint64(ctx, tx, g.key("polls"))
		n = v
		return err
	})
	return n, err
}

// Trustees returns the current trustee set in sorted order.
func (g *Governance) Trustees(ctx context.Context) ([]types.Account, error) {
	var members []types.Account
	err := g.rt.View(ctx, func(ctx context.Context, tx *runtime.Tx) error {
		set, err := g.loadTrustees(ctx, tx)
		if err != nil {
			return err
		}
		members = set.Members
		return nil
	})
	return members, err
}

func (g *Governance) IsTrustee(ctx context.Context, account types.Account) (bool, error) {
	members, err := g.Trustees(ctx)
	if err != nil {
		return false, err
	}
	s := trusteeSet{Members: members}
	return s.contains(account), nil
}

// Quorum returns the approvals currently needed to resolve a poll.
func (g *Governance) Quorum(ctx context.Context) (uint64, error) {
	members, err := g.Trustees(ctx)
	if err != nil {
		return 0, err
	}
	s := trusteeSet{Members: members}
	return s.quorum(), nil
}
