// Package capabilities defines the operation identifiers that make up the
// permission matrix and the symbolic failure reasons every component returns.
package capabilities

// Operation is a stable identifier for a gated operation. The permission
// matrix is keyed by (Operation, Group).
type Operation string

// Ledger operations registered for the admin group on ledger initialization.
const (
	OpAddBalance          Operation = "ledger/balance/add"
	OpSubBalance          Operation = "ledger/balance/sub"
	OpAssignGroups        Operation = "ledger/groups/assign"
	OpBurnAsset           Operation = "ledger/asset/burn"
	OpApproveDistribution Operation = "ledger/asset/approve"
)

// LedgerAdminOperations is the self-administration set enabled for admins
// when a ledger is initialized.
var LedgerAdminOperations = []Operation{
	OpAddBalance,
	OpSubBalance,
	OpAssignGroups,
	OpBurnAsset,
	OpApproveDistribution,
}

func (o Operation) String() string {
	return string(o)
}
