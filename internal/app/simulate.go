package app

import (
	"context"
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"

	"rwa-manager/internal/assets"
	"rwa-manager/internal/ledger"
	"rwa-manager/internal/pricer"
	"rwa-manager/internal/registry"
)

// SimulateCycle 使用内存账本跑一次完整的申购/赎回流程，便于离线验证配置。
// No external collaborators are touched; prices come from a static pricer.
func (a *App) SimulateCycle(ctx context.Context, amount, price decimal.Decimal) error {
	if !amount.IsPositive() {
		return fmt.Errorf("amount must be positive, got %s", amount)
	}
	if !price.IsPositive() {
		return fmt.Errorf("price must be positive, got %s", price)
	}

	var (
		admin     = common.HexToAddress("0x00000000000000000000000000000000000000a1")
		investor  = common.HexToAddress("0x00000000000000000000000000000000000000b1")
		custody   = common.HexToAddress("0x00000000000000000000000000000000000000c1")
		recipient = common.HexToAddress("0x00000000000000000000000000000000000000c2")
		sender    = common.HexToAddress("0x00000000000000000000000000000000000000c3")
		priceID   = common.HexToHash("0x01")
	)

	bank := assets.NewBank()
	bank.Fund(investor, amount)
	// The asset sender must be able to pay the redemption out.
	bank.Fund(sender, amount.Mul(decimal.NewFromInt(2)))

	mc := a.Config.Manager
	manager, err := ledger.NewManager(ledger.Dependencies{
		Assets:    bank,
		Pricer:    pricer.NewStatic(price, time.Now().UTC()),
		Allowlist: registry.NewStaticAllowlist(true),
		Blocklist: registry.NewStaticBlocklist(),
	}, ledger.Options{
		Custody:                        custody,
		AssetRecipient:                 recipient,
		AssetSender:                    sender,
		CollateralDecimals:             mc.CollateralDecimals,
		ShareDecimals:                  mc.ShareDecimals,
		EpochInterval:                  mc.EpochInterval,
		MaximumDepositAmountInEpoch:    decimal.NewFromFloat(mc.MaxDepositInEpoch),
		MaximumRedemptionAmountInEpoch: decimal.NewFromFloat(mc.MaxRedeemInEpoch),
		Admin:                          admin,
	}, a.Logger)
	if err != nil {
		return err
	}

	sub, err := manager.RequestSubscription(ctx, investor, amount)
	if err != nil {
		return fmt.Errorf("request subscription: %w", err)
	}
	a.Logger.Info().
		Str("claim_id", sub.ClaimID.Hex()).
		Str("amount", sub.Amount.String()).
		Msg("subscription requested")

	if err := manager.SetPriceIDForDeposits(admin, []common.Hash{sub.ClaimID}, []common.Hash{priceID}); err != nil {
		return fmt.Errorf("bind deposit price id: %w", err)
	}
	if err := manager.SetClaimableTimestamp(admin, time.Now().UTC(), []common.Hash{priceID}); err != nil {
		return fmt.Errorf("set claimable timestamp: %w", err)
	}
	if err := manager.ClaimMint(ctx, []common.Hash{sub.ClaimID}); err != nil {
		return fmt.Errorf("claim mint: %w", err)
	}

	shares := bank.ShareBalance(investor)
	a.Logger.Info().
		Str("price", price.String()).
		Str("shares", shares.String()).
		Msg("subscription settled")

	red, err := manager.RequestRedemption(ctx, investor, shares)
	if err != nil {
		return fmt.Errorf("request redemption: %w", err)
	}
	a.Logger.Info().
		Str("claim_id", red.ClaimID.Hex()).
		Str("amount", red.Amount.String()).
		Msg("redemption requested")

	if err := manager.SetPriceIDForRedemptions(admin, []common.Hash{red.ClaimID}, []common.Hash{priceID}); err != nil {
		return fmt.Errorf("bind redemption price id: %w", err)
	}
	if err := manager.ClaimRedemption(ctx, []common.Hash{red.ClaimID}); err != nil {
		return fmt.Errorf("claim redemption: %w", err)
	}

	payout := bank.CollateralBalance(investor)
	a.Logger.Info().
		Str("payout", payout.String()).
		Str("round_trip_loss", amount.Sub(payout).String()).
		Msg("redemption settled")

	return nil
}
