package ledger

import (
	"context"
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"
)

// SetPriceIDForDeposits binds each listed pending subscription to a price id.
// Bindings are validated as a batch before any record is touched.
func (m *Manager) SetPriceIDForDeposits(caller common.Address, claimIDs, priceIDs []common.Hash) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.gate.requireActive(); err != nil {
		return err
	}
	if err := m.gate.require(RolePriceIDSetter, caller); err != nil {
		return err
	}
	return m.bindPriceIDs(KindSubscription, claimIDs, priceIDs)
}

// SetPriceIDForRedemptions binds each listed pending redemption to a price id.
func (m *Manager) SetPriceIDForRedemptions(caller common.Address, claimIDs, priceIDs []common.Hash) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.gate.requireActive(); err != nil {
		return err
	}
	if err := m.gate.require(RolePriceIDSetter, caller); err != nil {
		return err
	}
	return m.bindPriceIDs(KindRedemption, claimIDs, priceIDs)
}

func (m *Manager) bindPriceIDs(kind RequestKind, claimIDs, priceIDs []common.Hash) error {
	if len(claimIDs) != len(priceIDs) {
		return ErrArrayLengthMismatch
	}

	for i, id := range claimIDs {
		// The zero hash doubles as the "no price bound" sentinel.
		if priceIDs[i] == (common.Hash{}) {
			return fmt.Errorf("claim %s: zero price id", id.Hex())
		}
		record, ok := m.records[kind][id]
		if !ok {
			return fmt.Errorf("claim %s: %w", id.Hex(), ErrClaimNotFound)
		}
		if record.Claimed {
			return fmt.Errorf("claim %s: %w", id.Hex(), ErrRecordAlreadyClaimed)
		}
	}

	for i, id := range claimIDs {
		m.records[kind][id].PriceID = priceIDs[i]
	}

	m.logger.Info().Int("count", len(claimIDs)).Str("kind", string(kind)).Msg("price ids bound")
	return nil
}

// SetClaimableTimestamp binds the earliest settlement time to each listed
// price id, overwriting any prior binding.
func (m *Manager) SetClaimableTimestamp(caller common.Address, claimableAt time.Time, priceIDs []common.Hash) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.gate.requireActive(); err != nil {
		return err
	}
	if err := m.gate.require(RoleTimestampSetter, caller); err != nil {
		return err
	}

	for _, id := range priceIDs {
		m.claimable[id] = claimableAt
	}

	m.logger.Info().Time("claimable_at", claimableAt).Int("count", len(priceIDs)).Msg("claimable timestamp bound")
	return nil
}

// ClaimMint settles pending subscriptions whose bound claimable timestamp has
// elapsed, minting shares to each requester at the batch's bound price. Open
// to any caller.
//
// Every id in the batch is validated (and its price fetched) before the first
// mint executes, so predictable failures leave the ledger untouched.
func (m *Manager) ClaimMint(ctx context.Context, claimIDs []common.Hash) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.gate.requireActive(); err != nil {
		return err
	}

	prices, err := m.validateClaims(ctx, KindSubscription, claimIDs)
	if err != nil {
		return err
	}

	for _, id := range claimIDs {
		record := m.records[KindSubscription][id]
		price := prices[record.PriceID]

		// Shares owed = collateral / price, truncated toward zero at the
		// share token's precision so repeated rounding never leaks value.
		shares, _ := record.Amount.QuoRem(price, m.shareDecimals)

		if err := m.assets.MintShares(ctx, record.Requester, shares); err != nil {
			return fmt.Errorf("claim %s: mint shares: %w", id.Hex(), err)
		}

		record.Claimed = true
		record.ClaimedAt = m.now()
		record.SettledAmount = shares

		m.logger.Info().
			Str("claim_id", id.Hex()).
			Str("requester", record.Requester.Hex()).
			Str("collateral_in", record.Amount.String()).
			Str("shares_out", shares.String()).
			Str("price", price.String()).
			Msg("subscription claimed")
	}

	return nil
}

// ClaimRedemption settles pending redemptions whose bound claimable timestamp
// has elapsed: custody shares are burned and collateral is paid from the
// asset sender at the batch's bound price. Open to any caller.
func (m *Manager) ClaimRedemption(ctx context.Context, claimIDs []common.Hash) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.gate.requireActive(); err != nil {
		return err
	}

	prices, err := m.validateClaims(ctx, KindRedemption, claimIDs)
	if err != nil {
		return err
	}

	for _, id := range claimIDs {
		record := m.records[KindRedemption][id]
		price := prices[record.PriceID]

		// Collateral owed = shares * price, truncated toward zero at the
		// collateral's precision.
		payout := record.Amount.Mul(price).Truncate(m.collateralDecimals)

		if err := m.assets.BurnShares(ctx, m.custody, record.Amount); err != nil {
			return fmt.Errorf("claim %s: burn shares: %w", id.Hex(), err)
		}
		if err := m.assets.TransferCollateral(ctx, m.assetSender, record.Requester, payout); err != nil {
			return fmt.Errorf("claim %s: pay collateral: %w", id.Hex(), err)
		}

		record.Claimed = true
		record.ClaimedAt = m.now()
		record.SettledAmount = payout

		m.logger.Info().
			Str("claim_id", id.Hex()).
			Str("requester", record.Requester.Hex()).
			Str("shares_in", record.Amount.String()).
			Str("collateral_out", payout.String()).
			Str("price", price.String()).
			Msg("redemption claimed")
	}

	return nil
}

// validateClaims checks every precondition for the batch and resolves each
// referenced price id's quote. No ledger state is mutated.
func (m *Manager) validateClaims(ctx context.Context, kind RequestKind, claimIDs []common.Hash) (map[common.Hash]decimal.Decimal, error) {
	now := m.now()
	prices := make(map[common.Hash]decimal.Decimal)
	seen := make(map[common.Hash]struct{}, len(claimIDs))

	for _, id := range claimIDs {
		// A repeated id would settle the same record twice.
		if _, ok := seen[id]; ok {
			return nil, fmt.Errorf("claim %s: %w", id.Hex(), ErrDuplicateIDInBatch)
		}
		seen[id] = struct{}{}

		record, ok := m.records[kind][id]
		if !ok {
			return nil, fmt.Errorf("claim %s: %w", id.Hex(), ErrClaimNotFound)
		}
		if record.Claimed {
			return nil, fmt.Errorf("claim %s: %w", id.Hex(), ErrAlreadyClaimed)
		}
		if record.PriceID == (common.Hash{}) {
			return nil, fmt.Errorf("claim %s: %w", id.Hex(), ErrPriceNotSet)
		}
		claimableAt, ok := m.claimable[record.PriceID]
		if !ok {
			return nil, fmt.Errorf("claim %s: %w", id.Hex(), ErrClaimableTimestampNotSet)
		}
		if now.Before(claimableAt) {
			return nil, fmt.Errorf("claim %s: %w", id.Hex(), ErrNotYetClaimable)
		}

		if _, ok := prices[record.PriceID]; ok {
			continue
		}
		price, _, err := m.pricer.PriceAt(ctx, record.PriceID)
		if err != nil {
			return nil, fmt.Errorf("price %s: %w", record.PriceID.Hex(), err)
		}
		if !price.IsPositive() {
			return nil, fmt.Errorf("price %s: %w", record.PriceID.Hex(), ErrInvalidPrice)
		}
		prices[record.PriceID] = price
	}

	return prices, nil
}
