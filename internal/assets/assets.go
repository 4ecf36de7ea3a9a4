// Package assets abstracts the collateral and share token ledgers the manager
// moves value through. The manager only ever sees this interface; on mainnet
// the implementation is the token contracts themselves, with the manager
// holding the minter grant.
package assets

import (
	"context"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"
)

// Ledger moves collateral and mints/burns shares. Implementations must reject
// moves the source balance cannot cover.
type Ledger interface {
	TransferCollateral(ctx context.Context, from, to common.Address, amount decimal.Decimal) error
	MintShares(ctx context.Context, to common.Address, amount decimal.Decimal) error
	BurnShares(ctx context.Context, from common.Address, amount decimal.Decimal) error
	TransferShares(ctx context.Context, from, to common.Address, amount decimal.Decimal) error
}
