// Package runtimetest provides test helpers for components hosted on a
// runtime.
package runtimetest

import (
	"context"
	"testing"

	"github.com/storacha/go-ucanto/principal/ed25519/signer"
	"github.com/stretchr/testify/require"

	"github.com/relves/trustledger/pkg/runtime"
	"github.com/relves/trustledger/pkg/types"
)

// New returns an in-memory runtime whose clock starts at tick 1 and only
// moves when the test advances it.
func New(t testing.TB) (*runtime.Runtime, *runtime.Counter) {
	t.Helper()
	clock := runtime.NewCounter(1)
	rt, err := runtime.New(context.Background(), runtime.WithClock(clock))
	require.NoError(t, err)
	return rt, clock
}

// Account generates a fresh did:key identity.
func Account(t testing.TB) types.Account {
	t.Helper()
	s, err := signer.Generate()
	require.NoError(t, err)
	return types.Account(s.DID().String())
}

// Accounts generates n distinct did:key identities.
func Accounts(t testing.TB, n int) []types.Account {
	t.Helper()
	out := make([]types.Account, n)
	for i := range out {
		out[i] = Account(t)
	}
	return out
}

// Component returns a stable did:web identity for a component instance.
func Component(name string) types.Account {
	return types.Account("did:web:" + name + ".test")
}
