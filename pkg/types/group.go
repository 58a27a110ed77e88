// pkg/types/group.go
package types

import (
	"fmt"
	"strconv"

	"github.com/storacha/go-ucanto/did"
)

// Group is an access tier. Unknown accounts belong to DefaultGroup.
type Group uint64

const (
	DefaultGroup Group = 0
	AdminGroup   Group = 1
)

func (g Group) String() string {
	return strconv.FormatUint(uint64(g), 10)
}

// Account identifies a caller, a component instance or an asset ledger.
// Accounts are DID strings; the empty string is the null account.
type Account string

// NullAccount is the zero identifier. It is never a valid grantee.
const NullAccount Account = ""

// ParseAccount validates and normalizes a DID string.
func ParseAccount(s string) (Account, error) {
	d, err := did.Parse(s)
	if err != nil {
		return NullAccount, fmt.Errorf("parse account %q: %w", s, err)
	}
	return Account(d.String()), nil
}

func (a Account) IsNull() bool {
	return a == NullAccount
}

func (a Account) String() string {
	return string(a)
}

// Tick is a logical clock reading.
type Tick uint64
