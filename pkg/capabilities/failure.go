package capabilities

import (
	"errors"
)

// Kind groups failure reasons by cause.
type Kind string

const (
	KindAuthorizationDenied Kind = "AuthorizationDenied"
	KindValidationFailed    Kind = "ValidationFailed"
	KindStateConflict       Kind = "StateConflict"
	KindTemporalGuard       Kind = "TemporalGuard"
	KindResourceExhausted   Kind = "ResourceExhausted"
	KindReferential         Kind = "Referential"
)

// Failure is a symbolic reason for rejecting an operation. Two failures
// match under errors.Is when their names are equal.
type Failure struct {
	name    string
	kind    Kind
	message string
}

// NewFailure creates a new Failure
func NewFailure(kind Kind, name, message string) Failure {
	return Failure{name: name, kind: kind, message: message}
}

func (f Failure) Name() string {
	return f.name
}

func (f Failure) Kind() Kind {
	return f.kind
}

func (f Failure) Error() string {
	return f.name + ": " + f.message
}

func (f Failure) Is(target error) bool {
	var other Failure
	if !errors.As(target, &other) {
		return false
	}
	return other.name == f.name
}

// NameOf returns the symbolic reason carried by err, or "" when err is not
// a Failure.
func NameOf(err error) string {
	var f Failure
	if errors.As(err, &f) {
		return f.name
	}
	return ""
}

// KindOf returns the failure kind carried by err, or "" when err is not a
// Failure.
func KindOf(err error) Kind {
	var f Failure
	if errors.As(err, &f) {
		return f.kind
	}
	return ""
}

// AuthorizationDenied
var (
	ErrNotAuthorizedToCreate = NewFailure(KindAuthorizationDenied, "NotAuthorizedToCreate", "caller is not a trustee")
	ErrNotAuthorizedToVote   = NewFailure(KindAuthorizationDenied, "NotAuthorizedToVote", "caller is not a trustee")
	ErrAccessDenied          = NewFailure(KindAuthorizationDenied, "AccessDenied", "operation not enabled for caller's group")
	ErrCreatorOnly           = NewFailure(KindAuthorizationDenied, "CreatorOnly", "only the creator may call this operation")
	ErrOwnerOnly             = NewFailure(KindAuthorizationDenied, "OwnerOnly", "only the owner may call this operation")
	ErrAdminOnly             = NewFailure(KindAuthorizationDenied, "AdminOnly", "only an admin may call this operation")
	ErrGovernorOnly          = NewFailure(KindAuthorizationDenied, "GovernorOnly", "only the registered governor may call this operation")
	ErrMinterOnly            = NewFailure(KindAuthorizationDenied, "MinterOnly", "only the configured minter may mint")

	ErrTransferOverrideNotAllowed      = NewFailure(KindAuthorizationDenied, "TransferOverrideNotAllowed", "asset is not transferable")
	ErrBatchTransferOverrideNotAllowed = NewFailure(KindAuthorizationDenied, "BatchTransferOverrideNotAllowed", "asset is not transferable")
)

// ValidationFailed
var (
	ErrInvalidPollType        = NewFailure(KindValidationFailed, "InvalidPollType", "poll type must not be NULL")
	ErrInvalidVote            = NewFailure(KindValidationFailed, "InvalidVote", "decision must be APPROVED or DECLINED")
	ErrLengthMismatch         = NewFailure(KindValidationFailed, "LengthMismatch", "accounts and groups differ in length")
	ErrNoOperationsDefined    = NewFailure(KindValidationFailed, "NoOperationsDefined", "no operations given")
	ErrNoGroupsDefined        = NewFailure(KindValidationFailed, "NoGroupsDefined", "no groups given")
	ErrNullAccountNotAllowed  = NewFailure(KindValidationFailed, "NullAccountNotAllowed", "null account not allowed")
	ErrZeroIdNotAllowed       = NewFailure(KindValidationFailed, "ZeroIdNotAllowed", "token id must not be zero")
	ErrZeroRatioNotAllowed    = NewFailure(KindValidationFailed, "ZeroRatioNotAllowed", "ratio must not be zero")
	ErrNullAddressNotAllowed  = NewFailure(KindValidationFailed, "NullAddressNotAllowed", "null address not allowed")
	ErrNullAssetNotAllowed    = NewFailure(KindValidationFailed, "NullAssetNotAllowed", "null asset not allowed")
	ErrZeroAmountNotAllowed   = NewFailure(KindValidationFailed, "ZeroAmountNotAllowed", "amount must be positive")
	ErrDimensionMismatch      = NewFailure(KindValidationFailed, "DimensionMismatch", "accounts and amounts differ in length")
	ErrNullValueNotAllowed    = NewFailure(KindValidationFailed, "NullValueNotAllowed", "null account or zero amount not allowed")
)

// StateConflict
var (
	ErrAlreadyVoted                = NewFailure(KindStateConflict, "AlreadyVoted", "account has already voted on this poll")
	ErrAddressAlreadyPresent       = NewFailure(KindStateConflict, "AddressAlreadyPresent", "address is already a trustee")
	ErrAddressNotPresent           = NewFailure(KindStateConflict, "AddressNotPresent", "address is not a trustee")
	ErrBelowMinimumTrustees        = NewFailure(KindStateConflict, "BelowMinimumTrustees", "not enough trustees")
	ErrVestAlreadySet              = NewFailure(KindStateConflict, "VestAlreadySet", "beneficiary already has an active vest")
	ErrVestNotSet                  = NewFailure(KindStateConflict, "VestNotSet", "no active vest")
	ErrVestNotExpired              = NewFailure(KindStateConflict, "VestNotExpired", "vest is still locked")
	ErrHybridLinkNotSet            = NewFailure(KindStateConflict, "HybridLinkNotSet", "hybrid link is not configured")
	ErrBelowRatio                  = NewFailure(KindStateConflict, "BelowRatio", "amount is below the conversion ratio")
	ErrCannotDisableAdminFunctions = NewFailure(KindStateConflict, "CannotDisableAdminFunctions", "operation is still enabled for admins")
	ErrAlreadyInitialized          = NewFailure(KindStateConflict, "AlreadyInitialized", "already initialized")
	ErrNotInitialized              = NewFailure(KindStateConflict, "NotInitialized", "not initialized")
	ErrPollAlreadyResolved         = NewFailure(KindStateConflict, "PollAlreadyResolved", "poll is already resolved")
	ErrFrozen                      = NewFailure(KindStateConflict, "Frozen", "organization is frozen")
	ErrAssetAlreadyRegistered      = NewFailure(KindStateConflict, "AssetAlreadyRegistered", "asset already has a referee")
)

// TemporalGuard
var (
	ErrCooldownActive = NewFailure(KindTemporalGuard, "CooldownActive", "security delay has not elapsed")
)

// ResourceExhausted
var (
	ErrZeroAmount               = NewFailure(KindResourceExhausted, "ZeroAmount", "amount must be positive")
	ErrInsufficientOwnerBalance = NewFailure(KindResourceExhausted, "InsufficientOwnerBalance", "amount exceeds spendable owner balance")
	ErrInsufficientBalance      = NewFailure(KindResourceExhausted, "InsufficientBalance", "amount exceeds balance")
	ErrInsufficientAllowance    = NewFailure(KindResourceExhausted, "InsufficientAllowance", "amount exceeds allowance")
	ErrHoldingExceeded          = NewFailure(KindResourceExhausted, "HoldingExceeded", "internal balances would exceed the ledger's holding")
)

// Referential
var (
	ErrRefereeMismatch    = NewFailure(KindReferential, "RefereeMismatch", "caller is not the asset's referee")
	ErrNothingToRedeem    = NewFailure(KindReferential, "NothingToRedeem", "no balance to redeem")
	ErrPollNotFound       = NewFailure(KindReferential, "PollNotFound", "poll does not exist")
	ErrAssetNotRegistered = NewFailure(KindReferential, "AssetNotRegistered", "asset is not registered")
)
