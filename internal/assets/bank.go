package assets

import (
	"context"
	"errors"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"
)

var (
	// ErrInsufficientBalance rejects moves the source cannot cover.
	ErrInsufficientBalance = errors.New("assets: insufficient balance")
	// ErrNegativeAmount rejects negative moves outright.
	ErrNegativeAmount = errors.New("assets: negative amount")
)

// Bank is an in-memory Ledger used by tests and the simulate command. Every
// account starts at zero; balances are credited with Fund/FundShares.
type Bank struct {
	mu         sync.Mutex
	collateral map[common.Address]decimal.Decimal
	shares     map[common.Address]decimal.Decimal
}

// NewBank constructs an empty bank.
func NewBank() *Bank {
	return &Bank{
		collateral: make(map[common.Address]decimal.Decimal),
		shares:     make(map[common.Address]decimal.Decimal),
	}
}

// Fund credits collateral to an account.
func (b *Bank) Fund(addr common.Address, amount decimal.Decimal) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.collateral[addr] = b.collateral[addr].Add(amount)
}

// FundShares credits shares to an account.
func (b *Bank) FundShares(addr common.Address, amount decimal.Decimal) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.shares[addr] = b.shares[addr].Add(amount)
}

// CollateralBalance reads an account's collateral balance.
func (b *Bank) CollateralBalance(addr common.Address) decimal.Decimal {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.collateral[addr]
}

// ShareBalance reads an account's share balance.
func (b *Bank) ShareBalance(addr common.Address) decimal.Decimal {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.shares[addr]
}

func (b *Bank) TransferCollateral(ctx context.Context, from, to common.Address, amount decimal.Decimal) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	return move(b.collateral, from, to, amount)
}

func (b *Bank) TransferShares(ctx context.Context, from, to common.Address, amount decimal.Decimal) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	return move(b.shares, from, to, amount)
}

func (b *Bank) MintShares(ctx context.Context, to common.Address, amount decimal.Decimal) error {
	if amount.IsNegative() {
		return ErrNegativeAmount
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.shares[to] = b.shares[to].Add(amount)
	return nil
}

func (b *Bank) BurnShares(ctx context.Context, from common.Address, amount decimal.Decimal) error {
	if amount.IsNegative() {
		return ErrNegativeAmount
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.shares[from].LessThan(amount) {
		return ErrInsufficientBalance
	}
	b.shares[from] = b.shares[from].Sub(amount)
	return nil
}

func move(balances map[common.Address]decimal.Decimal, from, to common.Address, amount decimal.Decimal) error {
	if amount.IsNegative() {
		return ErrNegativeAmount
	}
	if balances[from].LessThan(amount) {
		return ErrInsufficientBalance
	}
	balances[from] = balances[from].Sub(amount)
	balances[to] = balances[to].Add(amount)
	return nil
}

var _ Ledger = (*Bank)(nil)
