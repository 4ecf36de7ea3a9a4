package ledger

import (
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"
)

// RequestKind distinguishes the two request flows.
type RequestKind string

const (
	KindSubscription RequestKind = "subscription"
	KindRedemption   RequestKind = "redemption"
)

// RequestState tracks the one-directional lifecycle of a request.
type RequestState string

const (
	StatePending    RequestState = "pending"
	StatePriceBound RequestState = "price_bound"
	StateClaimed    RequestState = "claimed"
)

// RequestRecord is a pending or settled subscription/redemption request. The
// claimed flag is terminal; records are never deleted.
type RequestRecord struct {
	ClaimID     common.Hash
	Requester   common.Address
	Amount      decimal.Decimal
	Kind        RequestKind
	PriceID     common.Hash
	Claimed     bool
	Serviced    bool
	RequestedAt time.Time
	ClaimedAt   time.Time
	// SettledAmount is the mint (subscription) or payout (redemption)
	// produced at claim time.
	SettledAmount decimal.Decimal
}

// State derives the record's lifecycle state.
func (r *RequestRecord) State() RequestState {
	switch {
	case r.Claimed:
		return StateClaimed
	case r.PriceID != (common.Hash{}):
		return StatePriceBound
	default:
		return StatePending
	}
}

// EpochStatus is a read-only snapshot of the accountant, used by the snapshot
// loop and the epoch read endpoint.
type EpochStatus struct {
	Interval          time.Duration
	CurrentEpoch      time.Time
	DepositTotal      decimal.Decimal
	DepositMaximum    decimal.Decimal
	RedemptionTotal   decimal.Decimal
	RedemptionMaximum decimal.Decimal
}
