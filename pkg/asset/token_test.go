package asset_test

import (
	"context"
	"math/big"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/relves/trustledger/pkg/asset"
	"github.com/relves/trustledger/pkg/capabilities"
	"github.com/relves/trustledger/pkg/runtime"
	"github.com/relves/trustledger/pkg/runtime/runtimetest"
	"github.com/relves/trustledger/pkg/tlog"
	"github.com/relves/trustledger/pkg/types"
)

var meta = asset.Metadata{Name: "Custody Token", Symbol: "CTK", Decimals: 18}

func newToken(t *testing.T) (*runtime.Runtime, *asset.Token, types.Account) {
	t.Helper()
	rt, _ := runtimetest.New(t)
	tok := asset.NewToken(rt, runtimetest.Component("ctk"))
	holder := runtimetest.Account(t)
	require.NoError(t, tok.Initialize(context.Background(), meta, big.NewInt(1000), holder))
	return rt, tok, holder
}

type recordingRegistrar struct {
	id      types.Account
	asset   types.Account
	referee types.Account
	err     error
}

func (r *recordingRegistrar) ID() types.Account { return r.id }

func (r *recordingRegistrar) RegisterAsset(ctx context.Context, a asset.Fungible, referee types.Account) error {
	if r.err != nil {
		return r.err
	}
	r.asset, r.referee = a.ID(), referee
	return nil
}

func TestToken_Initialize(t *testing.T) {
	ctx := context.Background()
	_, tok, holder := newToken(t)

	bal, err := tok.BalanceOf(ctx, holder)
	require.NoError(t, err)
	assert.Equal(t, types.Scale(big.NewInt(1000), 18).String(), bal.String())

	supply, err := tok.TotalSupply(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, supply.Cmp(bal))

	got, err := tok.Metadata(ctx)
	require.NoError(t, err)
	assert.Equal(t, meta, got)

	err = tok.Initialize(ctx, meta, big.NewInt(1), holder)
	assert.ErrorIs(t, err, capabilities.ErrAlreadyInitialized)
}

func TestToken_TransferAndAllowance(t *testing.T) {
	ctx := context.Background()
	_, tok, holder := newToken(t)
	spender := runtimetest.Account(t)
	recipient := runtimetest.Account(t)

	require.NoError(t, tok.Transfer(ctx, holder, recipient, big.NewInt(10)))
	bal, err := tok.BalanceOf(ctx, recipient)
	require.NoError(t, err)
	assert.Equal(t, int64(10), bal.Int64())

	err = tok.TransferFrom(ctx, spender, holder, recipient, big.NewInt(5))
	assert.ErrorIs(t, err, capabilities.ErrInsufficientAllowance)

	require.NoError(t, tok.Approve(ctx, holder, spender, big.NewInt(7)))
	require.NoError(t, tok.TransferFrom(ctx, spender, holder, recipient, big.NewInt(5)))

	allowance, err := tok.Allowance(ctx, holder, spender)
	require.NoError(t, err)
	assert.Equal(t, int64(2), allowance.Int64())

	bal, err = tok.BalanceOf(ctx, recipient)
	require.NoError(t, err)
	assert.Equal(t, int64(15), bal.Int64())

	err = tok.Transfer(ctx, recipient, holder, big.NewInt(16))
	assert.ErrorIs(t, err, capabilities.ErrInsufficientBalance)
}

func TestToken_Burn(t *testing.T) {
	ctx := context.Background()
	rt, tok, holder := newToken(t)
	all := types.Scale(big.NewInt(1000), 18)

	err := tok.Burn(ctx, holder, new(big.Int).Add(all, big.NewInt(1)))
	assert.ErrorIs(t, err, capabilities.ErrInsufficientBalance)

	require.NoError(t, tok.Burn(ctx, holder, all))
	supply, err := tok.TotalSupply(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, supply.Sign())

	burns := rt.Journal().Events(tlog.Query{Type: asset.EventTransfer, Fields: map[string]string{"to": ""}})
	require.Len(t, burns, 1)
	assert.Equal(t, all.String(), burns[0].Field("value"))
}

func TestToken_Launch(t *testing.T) {
	ctx := context.Background()
	rt, _ := runtimetest.New(t)
	referee := runtimetest.Account(t)

	t.Run("mints to the registrar and registers the referee", func(t *testing.T) {
		tok := asset.NewToken(rt, runtimetest.Component("managed"))
		reg := &recordingRegistrar{id: runtimetest.Component("ledger")}
		require.NoError(t, tok.Launch(ctx, referee, reg, meta, big.NewInt(1_000_000_000)))

		assert.Equal(t, tok.ID(), reg.asset)
		assert.Equal(t, referee, reg.referee)
		bal, err := tok.BalanceOf(ctx, reg.ID())
		require.NoError(t, err)
		assert.Equal(t, types.Scale(big.NewInt(1_000_000_000), 18).String(), bal.String())
	})

	t.Run("registration failure rolls back the mint", func(t *testing.T) {
		tok := asset.NewToken(rt, runtimetest.Component("rejected"))
		reg := &recordingRegistrar{id: runtimetest.Component("ledger"), err: capabilities.ErrAdminOnly}
		err := tok.Launch(ctx, referee, reg, meta, big.NewInt(5))
		assert.ErrorIs(t, err, capabilities.ErrAdminOnly)

		supply, err := tok.TotalSupply(ctx)
		require.NoError(t, err)
		assert.Equal(t, 0, supply.Sign())
	})
}

func TestCollection(t *testing.T) {
	ctx := context.Background()
	rt, _ := runtimetest.New(t)
	minter := runtimetest.Component("vesting")
	col := asset.NewCollection(rt, runtimetest.Component("badges"))
	holder := runtimetest.Account(t)

	require.NoError(t, col.Initialize(ctx, "ipfs://badges/{id}.json", minter))
	assert.ErrorIs(t, col.Initialize(ctx, "x", minter), capabilities.ErrAlreadyInitialized)

	assert.ErrorIs(t, col.Mint(ctx, holder, holder, 1, big.NewInt(1)), capabilities.ErrMinterOnly)
	require.NoError(t, col.Mint(ctx, minter, holder, 1, big.NewInt(3)))

	bal, err := col.BalanceOf(ctx, holder, 1)
	require.NoError(t, err)
	assert.Equal(t, int64(3), bal.Int64())

	other := runtimetest.Account(t)
	assert.ErrorIs(t, col.SafeTransferFrom(ctx, holder, holder, other, 1, big.NewInt(1)),
		capabilities.ErrTransferOverrideNotAllowed)
	assert.ErrorIs(t, col.SafeBatchTransferFrom(ctx, holder, holder, other, []uint64{1}, []*big.Int{big.NewInt(1)}),
		capabilities.ErrBatchTransferOverrideNotAllowed)

	uri, err := col.URI(ctx)
	require.NoError(t, err)
	assert.Equal(t, "ipfs://badges/{id}.json", uri)
}
