package vesting_test

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
	"github.com/relves/trustledger/pkg/vesting"
)

func setup(t *testing.T, decimals uint8) (*runtime.Runtime, *runtime.Counter, *vesting.Engine, types.Account) {
	t.Helper()
	rt, clock := runtimetest.New(t)
	e := vesting.New(rt, runtimetest.Component("hybrid"))
	admin := runtimetest.Account(t)
	meta := asset.Metadata{Name: "Hybrid", Symbol: "HYB", Decimals: decimals}
	require.NoError(t, e.Initialize(context.Background(), admin, meta, big.NewInt(1_000_000)))
	return rt, clock, e, admin
}

func TestEngine_Vest(t *testing.T) {
	ctx := context.Background()
	_, clock, e, admin := setup(t, 0)
	alice := runtimetest.Account(t)

	err := e.AddVest(ctx, alice, alice, big.NewInt(100), 5)
	assert.ErrorIs(t, err, capabilities.ErrOwnerOnly)

	require.NoError(t, e.AddVest(ctx, admin, alice, big.NewInt(400_000), 5))

	vest, err := e.VestMetaData(ctx, alice)
	require.NoError(t, err)
	assert.Equal(t, "400000", vest.Amount.String())
	assert.Equal(t, types.Tick(6), vest.UnlockTick)

	lock, err := e.OwnerLock(ctx)
	require.NoError(t, err)
	assert.Equal(t, "400000", lock.String())

	t.Run("one vest per beneficiary", func(t *testing.T) {
		err := e.AddVest(ctx, admin, alice, big.NewInt(1), 5)
		assert.ErrorIs(t, err, capabilities.ErrVestAlreadySet)
	})

	t.Run("owner lock bounds new grants", func(t *testing.T) {
		err := e.AddVest(ctx, admin, runtimetest.Account(t), big.NewInt(600_001), 5)
		assert.ErrorIs(t, err, capabilities.ErrInsufficientOwnerBalance)

		err = e.Transfer(ctx, admin, runtimetest.Account(t), big.NewInt(600_001))
		assert.ErrorIs(t, err, capabilities.ErrInsufficientOwnerBalance)
	})

	t.Run("validation", func(t *testing.T) {
		err := e.AddVest(ctx, admin, types.NullAccount, big.NewInt(1), 5)
		assert.ErrorIs(t, err, capabilities.ErrNullAccountNotAllowed)
		err = e.AddVest(ctx, admin, runtimetest.Account(t), big.NewInt(0), 5)
		assert.ErrorIs(t, err, capabilities.ErrZeroAmountNotAllowed)
	})

	err = e.WithdrawVest(ctx, runtimetest.Account(t))
	assert.ErrorIs(t, err, capabilities.ErrVestNotSet)

	clock.Advance(4)
	err = e.WithdrawVest(ctx, alice)
	assert.ErrorIs(t, err, capabilities.ErrVestNotExpired)

	clock.Advance(1)
	require.NoError(t, e.WithdrawVest(ctx, alice))

	bal, err := e.BalanceOf(ctx, alice)
	require.NoError(t, err)
	assert.Equal(t, "400000", bal.String())

	lock, err = e.OwnerLock(ctx)
	require.NoError(t, err)
	assert.Zero(t, lock.Sign())

	vest, err = e.VestMetaData(ctx, alice)
	require.NoError(t, err)
	assert.False(t, vest.IsSet())
	assert.Equal(t, types.Tick(0), vest.UnlockTick)
}

func TestEngine_Airdrop(t *testing.T) {
	ctx := context.Background()
	_, _, e, admin := setup(t, 2)
	recipients := runtimetest.Accounts(t, 2)

	err := e.Airdrop(ctx, recipients[0], recipients, []*big.Int{big.NewInt(1), big.NewInt(2)}, 2)
	assert.ErrorIs(t, err, capabilities.ErrOwnerOnly)

	err = e.Airdrop(ctx, admin, recipients, []*big.Int{big.NewInt(1)}, 2)
	assert.ErrorIs(t, err, capabilities.ErrDimensionMismatch)

	err = e.Airdrop(ctx, admin, recipients, []*big.Int{big.NewInt(1), big.NewInt(0)}, 2)
	assert.ErrorIs(t, err, capabilities.ErrNullValueNotAllowed)

	err = e.Airdrop(ctx, admin, []types.Account{recipients[0], types.NullAccount}, []*big.Int{big.NewInt(1), big.NewInt(1)}, 2)
	assert.ErrorIs(t, err, capabilities.ErrNullValueNotAllowed)

	require.NoError(t, e.AddVest(ctx, admin, runtimetest.Account(t), big.NewInt(99_000_000), 10))
	err = e.Airdrop(ctx, admin, recipients, []*big.Int{big.NewInt(5_000), big.NewInt(5_001)}, 2)
	assert.ErrorIs(t, err, capabilities.ErrInsufficientOwnerBalance)

	require.NoError(t, e.Airdrop(ctx, admin, recipients, []*big.Int{big.NewInt(5_000), big.NewInt(5_000)}, 2))
	for _, r := range recipients {
		bal, err := e.BalanceOf(ctx, r)
		require.NoError(t, err)
		assert.Equal(t, "500000", bal.String())
	}
}

func TestEngine_Burn(t *testing.T) {
	ctx := context.Background()
	_, _, e, admin := setup(t, 18)
	holder := runtimetest.Account(t)

	require.NoError(t, e.Airdrop(ctx, admin, []types.Account{holder}, []*big.Int{big.NewInt(5000)}, 18))
	require.NoError(t, e.Burn(ctx, holder, mustBig(t, "1000000000000000000000")))

	bal, err := e.BalanceOf(ctx, holder)
	require.NoError(t, err)
	assert.Equal(t, "4000000000000000000000", bal.String())

	supply, err := e.Token().TotalSupply(ctx)
	require.NoError(t, err)
	assert.Equal(t, "999000000000000000000000", supply.String())

	err = e.Burn(ctx, runtimetest.Account(t), big.NewInt(1))
	assert.ErrorIs(t, err, capabilities.ErrInsufficientBalance)

	t.Run("amount must be positive", func(t *testing.T) {
		for _, amount := range []*big.Int{nil, big.NewInt(0), big.NewInt(-1)} {
			err := e.Burn(ctx, holder, amount)
			assert.ErrorIs(t, err, capabilities.ErrZeroAmountNotAllowed)

			err = e.Transfer(ctx, holder, admin, amount)
			assert.ErrorIs(t, err, capabilities.ErrZeroAmountNotAllowed)
		}
		bal, err := e.BalanceOf(ctx, holder)
		require.NoError(t, err)
		assert.Equal(t, "4000000000000000000000", bal.String())
	})
}

func linked(t *testing.T, ratio int64) (*runtime.Runtime, *vesting.Engine, *asset.Collection, types.Account) {
	t.Helper()
	ctx := context.Background()
	rt, _, e, admin := setup(t, 0)
	coll := asset.NewCollection(rt, runtimetest.Component("badges"))
	require.NoError(t, coll.Initialize(ctx, "ipfs://badges/{id}.json", e.ID()))
	require.NoError(t, e.SetHybridLink(ctx, admin, coll, 7, big.NewInt(ratio)))
	return rt, e, coll, admin
}

func TestEngine_SetHybridLink(t *testing.T) {
	ctx := context.Background()
	rt, _, e, admin := setup(t, 0)
	coll := asset.NewCollection(rt, runtimetest.Component("badges"))

	err := e.BurnAndMint(ctx, admin, big.NewInt(1000))
	assert.ErrorIs(t, err, capabilities.ErrHybridLinkNotSet)

	tests := []struct {
		name    string
		caller  types.Account
		coll    asset.SemiFungible
		tokenID uint64
		ratio   *big.Int
		want    error
	}{
		{"not admin", runtimetest.Account(t), coll, 1, big.NewInt(1), capabilities.ErrAdminOnly},
		{"null collection", admin, nil, 1, big.NewInt(1), capabilities.ErrNullAddressNotAllowed},
		{"zero id", admin, coll, 0, big.NewInt(1), capabilities.ErrZeroIdNotAllowed},
		{"zero ratio", admin, coll, 1, big.NewInt(0), capabilities.ErrZeroRatioNotAllowed},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := e.SetHybridLink(ctx, tt.caller, tt.coll, tt.tokenID, tt.ratio)
			assert.ErrorIs(t, err, tt.want)
		})
	}

	require.NoError(t, e.SetHybridLink(ctx, admin, coll, 3, big.NewInt(10)))
	link, err := e.HybridLink(ctx)
	require.NoError(t, err)
	assert.Equal(t, coll.ID(), link.Collection)
	assert.Equal(t, uint64(3), link.TokenID)
	assert.Equal(t, "10", link.Ratio.String())
}

func TestEngine_BurnAndMint(t *testing.T) {
	tests := []struct {
		amount int64
		burned string
		minted string
	}{
		{5000, "5000", "5"},
		{1234, "1000", "1"},
	}
	for _, tt := range tests {
		t.Run(big.NewInt(tt.amount).String(), func(t *testing.T) {
			ctx := context.Background()
			rt, e, coll, admin := linked(t, 1000)
			holder := runtimetest.Account(t)
			require.NoError(t, e.Transfer(ctx, admin, holder, big.NewInt(10_000)))

			require.NoError(t, e.BurnAndMint(ctx, holder, big.NewInt(tt.amount)))

			bal, err := e.BalanceOf(ctx, holder)
			require.NoError(t, err)
			want := new(big.Int).Sub(big.NewInt(10_000), mustBig(t, tt.burned))
			assert.Equal(t, want.String(), bal.String())

			units, err := coll.BalanceOf(ctx, holder, 7)
			require.NoError(t, err)
			assert.Equal(t, tt.minted, units.String())

			events := rt.Journal().Events(tlog.Query{Type: vesting.EventBurnAndMint})
			require.Len(t, events, 1)
			assert.Equal(t, tt.burned, events[0].Fields["burned"])
		})
	}

	t.Run("below ratio", func(t *testing.T) {
		ctx := context.Background()
		_, e, _, admin := linked(t, 1000)
		err := e.BurnAndMint(ctx, admin, big.NewInt(999))
		assert.ErrorIs(t, err, capabilities.ErrBelowRatio)
	})

	t.Run("insufficient balance rolls back", func(t *testing.T) {
		ctx := context.Background()
		rt, e, coll, _ := linked(t, 1000)
		holder := runtimetest.Account(t)
		size := rt.Journal().Size()

		err := e.BurnAndMint(ctx, holder, big.NewInt(2000))
		assert.ErrorIs(t, err, capabilities.ErrInsufficientBalance)

		units, err := coll.BalanceOf(ctx, holder, 7)
		require.NoError(t, err)
		assert.Zero(t, units.Sign())
		assert.Equal(t, size, rt.Journal().Size())
	})

	t.Run("collection refuses transfers", func(t *testing.T) {
		ctx := context.Background()
		_, e, coll, admin := linked(t, 1000)
		require.NoError(t, e.BurnAndMint(ctx, admin, big.NewInt(2000)))
		other := runtimetest.Account(t)

		err := coll.SafeTransferFrom(ctx, admin, admin, other, 7, big.NewInt(1))
		assert.ErrorIs(t, err, capabilities.ErrTransferOverrideNotAllowed)
		err = coll.SafeBatchTransferFrom(ctx, admin, admin, other, []uint64{7}, []*big.Int{big.NewInt(1)})
		assert.ErrorIs(t, err, capabilities.ErrBatchTransferOverrideNotAllowed)
	})
}

func mustBig(t *testing.T, s string) *big.Int {
	t.Helper()
	v, err := types.ParseAmount(s)
	require.NoError(t, err)
	return v
}
