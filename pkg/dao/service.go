// Package dao wires the governance and custodial components of one
// organization over a single runtime.
package dao

import (
	"context"
	"fmt"
	"log/slog"
	"math/big"
	"strings"

	"github.com/relves/trustledger/pkg/access"
	"github.com/relves/trustledger/pkg/accountability"
	"github.com/relves/trustledger/pkg/asset"
	"github.com/relves/trustledger/pkg/multisig"
	"github.com/relves/trustledger/pkg/runtime"
	"github.com/relves/trustledger/pkg/tlog"
	"github.com/relves/trustledger/pkg/types"
	"github.com/relves/trustledger/pkg/vesting"
)

// Config holds configuration for a Service.
type Config struct {
	// Org names the organization; component identities derive from it.
	// Default: "trustledger"
	Org string

	// SecurityDelay is the ledger cooldown in ticks.
	// Default: 10
	SecurityDelay uint64

	// Logger for structured logging.
	// Default: slog.Default()
	Logger *slog.Logger
}

// ApplyDefaults sets default values for unset fields.
func (c *Config) ApplyDefaults() {
	if c.Org == "" {
		c.Org = "trustledger"
	}
	if c.SecurityDelay == 0 {
		c.SecurityDelay = 10
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
}

// Identity returns the stable identifier of the named component of org.
func Identity(org, name string) types.Account {
	return types.Account(fmt.Sprintf("did:web:%s.%s", name, org))
}

// Service holds the components of one organization.
type Service struct {
	rt     *runtime.Runtime
	cfg    Config
	logger *slog.Logger

	Access     *access.Control
	Governance *multisig.Governance
	Ledger     *accountability.Ledger
	Vesting    *vesting.Engine
	Badges     *asset.Collection
}

// New builds the components over rt. Nothing is written until Bootstrap.
func New(rt *runtime.Runtime, cfg Config) *Service {
	cfg.ApplyDefaults()
	logger := cfg.Logger.With("org", cfg.Org)
	ac := access.New(rt, Identity(cfg.Org, "access"), access.WithLogger(logger))
	return &Service{
		rt:         rt,
		cfg:        cfg,
		logger:     logger,
		Access:     ac,
		Governance: multisig.New(rt, Identity(cfg.Org, "multisig"), ac, multisig.WithLogger(logger)),
		Ledger:     accountability.New(rt, Identity(cfg.Org, "ledger"), ac, accountability.WithLogger(logger)),
		Vesting:    vesting.New(rt, Identity(cfg.Org, "hybrid"), vesting.WithLogger(logger)),
		Badges:     asset.NewCollection(rt, Identity(cfg.Org, "badges")),
	}
}

func (s *Service) Runtime() *runtime.Runtime {
	return s.rt
}

func (s *Service) Journal() *tlog.Journal {
	return s.rt.Journal()
}

// BootstrapParams describes the initial state of an organization.
type BootstrapParams struct {
	Creator  types.Account
	Trustees []types.Account

	Hybrid       asset.Metadata
	HybridSupply *big.Int

	BadgeURI string
	// BadgeID and BadgeRatio configure the hybrid link when both are set.
	BadgeID    uint64
	BadgeRatio *big.Int
}

// Bootstrap initializes every component in one call. A failure leaves the
// state untouched.
func (s *Service) Bootstrap(ctx context.Context, p BootstrapParams) error {
	err := s.rt.Update(ctx, func(ctx context.Context, tx *runtime.Tx) error {
		if err := s.Access.Initialize(ctx, p.Creator); err != nil {
			return fmt.Errorf("access: %w", err)
		}
		if err := s.Governance.Initialize(ctx, p.Creator, p.Trustees); err != nil {
			return fmt.Errorf("multisig: %w", err)
		}
		if err := s.Ledger.Initialize(ctx, p.Creator, s.cfg.SecurityDelay); err != nil {
			return fmt.Errorf("ledger: %w", err)
		}
		if err := s.Vesting.Initialize(ctx, p.Creator, p.Hybrid, p.HybridSupply); err != nil {
			return fmt.Errorf("vesting: %w", err)
		}
		if err := s.Badges.Initialize(ctx, p.BadgeURI, s.Vesting.ID()); err != nil {
			return fmt.Errorf("badges: %w", err)
		}
		if p.BadgeID != 0 && p.BadgeRatio != nil {
			if err := s.Vesting.SetHybridLink(ctx, p.Creator, s.Badges, p.BadgeID, p.BadgeRatio); err != nil {
				return fmt.Errorf("hybrid link: %w", err)
			}
		}
		return nil
	})
	if err != nil {
		return err
	}
	s.logger.Info("organization bootstrapped", "creator", p.Creator.String(), "trustees", len(p.Trustees))
	return nil
}

// Token returns a handle on the managed asset launched under symbol.
func (s *Service) Token(symbol string) *asset.Token {
	return asset.NewToken(s.rt, Identity(s.cfg.Org, "asset-"+strings.ToLower(symbol)))
}

// LaunchAsset creates a managed asset whose supply is held by the ledger
// and whose referee is caller.
func (s *Service) LaunchAsset(ctx context.Context, caller types.Account, meta asset.Metadata, supply *big.Int) (*asset.Token, error) {
	tok := s.Token(meta.Symbol)
	if err := tok.Launch(ctx, caller, s.Ledger, meta, supply); err != nil {
		return nil, err
	}
	return tok, nil
}

// Restore reattaches collaborators whose handles live only in memory. It
// must run after reopening a persisted state.
func (s *Service) Restore(ctx context.Context) error {
	registered := s.Journal().Events(tlog.Query{
		Type:    accountability.EventAssetRegistered,
		Emitter: s.Ledger.ID().String(),
	})
	for _, e := range registered {
		s.Ledger.Attach(asset.NewToken(s.rt, types.Account(e.Field("asset"))))
	}

	link, err := s.Vesting.HybridLink(ctx)
	if err != nil {
		return fmt.Errorf("load hybrid link: %w", err)
	}
	if link.IsSet() {
		if link.Collection != s.Badges.ID() {
			return fmt.Errorf("hybrid link targets unknown collection %s", link.Collection)
		}
		s.Vesting.Attach(s.Badges)
	}
	s.logger.Debug("restored", "assets", len(registered), "hybridLink", link.IsSet())
	return nil
}
