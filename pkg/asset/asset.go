// Package asset provides the asset ledgers the custodial components move
// value through: a fungible Token and a non-transferable semi-fungible
// Collection, both stored in runtime state.
package asset

import (
	"context"
	"math/big"

	"github.com/relves/trustledger/pkg/types"
)

// Event types emitted by asset ledgers.
const (
	EventTransfer       = "Transfer"
	EventApproval       = "Approval"
	EventTransferSingle = "TransferSingle"
)

// Fungible is the standard asset ledger consumed by the custodial
// components.
type Fungible interface {
	ID() types.Account
	Decimals(ctx context.Context) (uint8, error)
	TotalSupply(ctx context.Context) (*big.Int, error)
	BalanceOf(ctx context.Context, account types.Account) (*big.Int, error)
	Allowance(ctx context.Context, owner, spender types.Account) (*big.Int, error)
	Transfer(ctx context.Context, from, to types.Account, amount *big.Int) error
	TransferFrom(ctx context.Context, spender, from, to types.Account, amount *big.Int) error
	Approve(ctx context.Context, owner, spender types.Account, amount *big.Int) error
	Burn(ctx context.Context, from types.Account, amount *big.Int) error
}

// SemiFungible is a multi-id ledger whose units are minted by one
// configured minter.
type SemiFungible interface {
	ID() types.Account
	BalanceOf(ctx context.Context, account types.Account, id uint64) (*big.Int, error)
	Mint(ctx context.Context, caller, to types.Account, id uint64, amount *big.Int) error
}

// Registrar records the referee of a newly launched asset. The ledger that
// holds managed assets implements it.
type Registrar interface {
	ID() types.Account
	RegisterAsset(ctx context.Context, asset Fungible, referee types.Account) error
}

// Metadata describes a fungible asset.
type Metadata struct {
	Name     string
	Symbol   string
	Decimals uint8
}
