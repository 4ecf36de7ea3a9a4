package storage

import (
	"time"

	"github.com/shopspring/decimal"
)

// RequestRow journals an accepted subscription/redemption request and its
// claim status. The in-memory ledger is authoritative; rows exist for
// operators and the show/export commands.
type RequestRow struct {
	ClaimID       string
	Kind          string
	Requester     string
	Amount        decimal.Decimal
	PriceID       *string
	Claimed       bool
	Serviced      bool
	RequestedAt   time.Time
	ClaimedAt     *time.Time
	SettledAmount *decimal.Decimal
	CreatedAt     time.Time
}

// EpochSnapshot captures epoch utilization at a sampling instant.
type EpochSnapshot struct {
	Bucket            time.Time
	EpochStart        time.Time
	DepositTotal      decimal.Decimal
	DepositMaximum    decimal.Decimal
	RedemptionTotal   decimal.Decimal
	RedemptionMaximum decimal.Decimal
	CreatedAt         time.Time
}
