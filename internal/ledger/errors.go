package ledger

import "errors"

// Authorization failures. Checked before any state mutation.
var (
	ErrUnauthorized = errors.New("caller does not hold the required role")
	ErrPaused       = errors.New("manager is paused")
	ErrNotAllowed   = errors.New("caller is not on the allowlist")
	ErrBlocked      = errors.New("caller is on the blocklist")
)

// Validation failures. Rejected synchronously, no state change.
var (
	ErrZeroAmount            = errors.New("amount must be greater than zero")
	ErrDepositTooSmall       = errors.New("deposit amount below configured minimum")
	ErrRedemptionTooSmall    = errors.New("redemption amount below configured minimum")
	ErrArrayLengthMismatch   = errors.New("claim id and price id arrays differ in length")
	ErrDuplicateClaimID      = errors.New("claim id already references an unclaimed request")
	ErrDuplicateIDInBatch    = errors.New("claim id listed more than once in one batch")
	ErrZeroEpochInterval     = errors.New("epoch interval must be greater than zero")
	ErrEpochIntervalTooShort = errors.New("epoch interval must be at least one second")
	ErrNegativeEpochMaximum  = errors.New("epoch ceiling cannot be negative")
)

// Rate-limit failures. Recoverable by retrying after the next epoch boundary.
var (
	ErrDepositAmountExceedEpochMaximum    = errors.New("deposit amount would exceed epoch maximum")
	ErrRedemptionAmountExceedEpochMaximum = errors.New("redemption amount would exceed epoch maximum")
)

// Settlement-timing failures. Recoverable by retrying later or correcting the
// claim id set.
var (
	ErrClaimNotFound            = errors.New("no request recorded under claim id")
	ErrRecordAlreadyClaimed     = errors.New("request already claimed; price id is frozen")
	ErrAlreadyClaimed           = errors.New("request already claimed")
	ErrPriceNotSet              = errors.New("no price id bound to request")
	ErrClaimableTimestampNotSet = errors.New("no claimable timestamp bound to price id")
	ErrNotYetClaimable          = errors.New("claimable timestamp has not elapsed")
	ErrInvalidPrice             = errors.New("oracle returned a non-positive price")
)

// Integrity failures. Fatal; surface at construction or wiring time.
var (
	ErrNilCollaborator = errors.New("required collaborator is nil")
)
