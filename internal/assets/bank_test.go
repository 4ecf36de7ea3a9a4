package assets

import (
	"context"
	"errors"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"
)

func TestBankTransferCollateral(t *testing.T) {
	bank := NewBank()
	a := common.HexToAddress("0x01")
	b := common.HexToAddress("0x02")

	bank.Fund(a, decimal.NewFromInt(100))

	if err := bank.TransferCollateral(context.Background(), a, b, decimal.NewFromInt(60)); err != nil {
		t.Fatalf("转账失败: %v", err)
	}
	if got := bank.CollateralBalance(a); got.Cmp(decimal.NewFromInt(40)) != 0 {
		t.Fatalf("余额应为 40, 实际 %s", got)
	}
	if got := bank.CollateralBalance(b); got.Cmp(decimal.NewFromInt(60)) != 0 {
		t.Fatalf("余额应为 60, 实际 %s", got)
	}

	if err := bank.TransferCollateral(context.Background(), a, b, decimal.NewFromInt(50)); !errors.Is(err, ErrInsufficientBalance) {
		t.Fatalf("余额不足应报错, 实际 %v", err)
	}
	if err := bank.TransferCollateral(context.Background(), a, b, decimal.NewFromInt(-1)); !errors.Is(err, ErrNegativeAmount) {
		t.Fatalf("负数金额应报错, 实际 %v", err)
	}
}

func TestBankMintBurnShares(t *testing.T) {
	bank := NewBank()
	a := common.HexToAddress("0x01")

	if err := bank.MintShares(context.Background(), a, decimal.NewFromInt(10)); err != nil {
		t.Fatalf("铸造失败: %v", err)
	}
	if err := bank.BurnShares(context.Background(), a, decimal.NewFromInt(4)); err != nil {
		t.Fatalf("销毁失败: %v", err)
	}
	if got := bank.ShareBalance(a); got.Cmp(decimal.NewFromInt(6)) != 0 {
		t.Fatalf("份额应为 6, 实际 %s", got)
	}

	if err := bank.BurnShares(context.Background(), a, decimal.NewFromInt(7)); !errors.Is(err, ErrInsufficientBalance) {
		t.Fatalf("超额销毁应报错, 实际 %v", err)
	}
}
