// pkg/types/records_test.go
package types

import (
	"math/big"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPoll_RoundTrip(t *testing.T) {
	original := Poll{
		Index:     3,
		Type:      PollDeleteAddress,
		Target:    Account("did:key:z6MkTarget"),
		Creator:   Account("did:key:z6MkCreator"),
		CreatedAt: 42,
		Approvals: 2,
	}

	data, err := original.Serialize()
	require.NoError(t, err)

	var restored Poll
	require.NoError(t, restored.Deserialize(data))
	assert.Equal(t, original, restored)
}

func TestVest_IsSet(t *testing.T) {
	assert.False(t, Vest{}.IsSet())
	assert.False(t, Vest{Amount: big.NewInt(0)}.IsSet())
	assert.True(t, Vest{Amount: big.NewInt(1), UnlockTick: 9}.IsSet())
}

func TestVest_RoundTripLargeAmount(t *testing.T) {
	amount, ok := new(big.Int).SetString("1000000000000000000000000000", 10)
	require.True(t, ok)
	original := Vest{Amount: amount, UnlockTick: 1048320}

	data, err := original.Serialize()
	require.NoError(t, err)

	var restored Vest
	require.NoError(t, restored.Deserialize(data))
	assert.Equal(t, 0, amount.Cmp(restored.Amount))
	assert.Equal(t, original.UnlockTick, restored.UnlockTick)
}

func TestPollType_Parse(t *testing.T) {
	for _, pt := range []PollType{PollChangeCreator, PollDeleteAddress, PollAddAddress, PollUnfreeze} {
		parsed, err := ParsePollType(pt.String())
		require.NoError(t, err)
		assert.Equal(t, pt, parsed)
	}
	_, err := ParsePollType("DISSOLVE")
	assert.Error(t, err)
}

func TestScale(t *testing.T) {
	assert.Equal(t, "5000000000000000000000", Scale(big.NewInt(5000), 18).String())
	assert.Equal(t, "7", Scale(big.NewInt(7), 0).String())
}

func TestParseAccount(t *testing.T) {
	acct, err := ParseAccount("did:web:example.org")
	require.NoError(t, err)
	assert.Equal(t, Account("did:web:example.org"), acct)

	_, err = ParseAccount("0x0000000000000000000000000000000000000000")
	assert.Error(t, err)
}
