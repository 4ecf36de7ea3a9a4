package service

import (
	"context"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"rwa-manager/internal/alerting"
	"rwa-manager/internal/assets"
	"rwa-manager/internal/config"
	"rwa-manager/internal/ledger"
	"rwa-manager/internal/pricer"
	"rwa-manager/internal/registry"
)

type captureNotifier struct {
	notes []alerting.Notification
}

func (c *captureNotifier) Notify(ctx context.Context, note alerting.Notification) error {
	c.notes = append(c.notes, note)
	return nil
}

func newTestManager(t *testing.T, maxDeposit int64) (*ledger.Manager, *assets.Bank) {
	t.Helper()

	investor := common.HexToAddress("0xb1")
	bank := assets.NewBank()
	bank.Fund(investor, decimal.NewFromInt(1000000))

	manager, err := ledger.NewManager(ledger.Dependencies{
		Assets:    bank,
		Pricer:    pricer.NewStatic(decimal.NewFromInt(1), time.Now().UTC()),
		Allowlist: registry.NewStaticAllowlist(true),
		Blocklist: registry.NewStaticBlocklist(),
	}, ledger.Options{
		Custody:                        common.HexToAddress("0xc1"),
		AssetRecipient:                 common.HexToAddress("0xc2"),
		AssetSender:                    common.HexToAddress("0xc3"),
		CollateralDecimals:             6,
		ShareDecimals:                  18,
		EpochInterval:                  time.Hour,
		MaximumDepositAmountInEpoch:    decimal.NewFromInt(maxDeposit),
		MaximumRedemptionAmountInEpoch: decimal.NewFromInt(maxDeposit),
		Admin:                          common.HexToAddress("0xa1"),
	}, zerolog.Nop())
	if err != nil {
		t.Fatalf("构造 manager 失败: %v", err)
	}
	return manager, bank
}

func TestUtilization(t *testing.T) {
	got := Utilization(decimal.NewFromInt(90), decimal.NewFromInt(100))
	if got.Cmp(decimal.NewFromInt(90)) != 0 {
		t.Fatalf("期望 90, 实际 %s", got)
	}

	got = Utilization(decimal.Zero, decimal.NewFromInt(100))
	if !got.IsZero() {
		t.Fatalf("零用量应为 0, 实际 %s", got)
	}

	// A zero ceiling rejects everything, so it reads as fully utilized.
	got = Utilization(decimal.Zero, decimal.Zero)
	if got.Cmp(decimal.NewFromInt(100)) != 0 {
		t.Fatalf("零上限应为 100, 实际 %s", got)
	}
}

func TestProcessBucketAlertsAboveThreshold(t *testing.T) {
	manager, _ := newTestManager(t, 100)

	investor := common.HexToAddress("0xb1")
	if _, err := manager.RequestSubscription(context.Background(), investor, decimal.NewFromInt(90)); err != nil {
		t.Fatalf("申购失败: %v", err)
	}

	cfg := &config.Config{}
	cfg.Alerting.Enabled = true
	cfg.Alerting.UtilizationPct = 80
	cfg.Alerting.Channels = []string{"telegram"}

	notifier := &captureNotifier{}
	svc := New(cfg, nil, manager, nil, notifier, zerolog.Nop())

	bucket := time.Now().UTC().Truncate(time.Minute)
	if err := svc.ProcessBucket(context.Background(), bucket); err != nil {
		t.Fatalf("ProcessBucket 失败: %v", err)
	}

	// Deposits sit at 90%, redemptions at 0%; only one alert fires.
	if len(notifier.notes) != 1 {
		t.Fatalf("应触发一次告警, 实际 %d", len(notifier.notes))
	}
	note := notifier.notes[0]
	if note.Flow != "deposit" {
		t.Fatalf("告警 flow 应为 deposit, 实际 %s", note.Flow)
	}
	if note.UtilizationPct.Cmp(decimal.NewFromInt(90)) != 0 {
		t.Fatalf("利用率应为 90, 实际 %s", note.UtilizationPct)
	}
	if note.Bucket != bucket {
		t.Fatal("告警应带上采样 bucket")
	}
}

func TestProcessBucketQuietBelowThreshold(t *testing.T) {
	manager, _ := newTestManager(t, 100)

	investor := common.HexToAddress("0xb1")
	if _, err := manager.RequestSubscription(context.Background(), investor, decimal.NewFromInt(10)); err != nil {
		t.Fatalf("申购失败: %v", err)
	}

	cfg := &config.Config{}
	cfg.Alerting.Enabled = true
	cfg.Alerting.UtilizationPct = 80

	notifier := &captureNotifier{}
	svc := New(cfg, nil, manager, nil, notifier, zerolog.Nop())

	if err := svc.ProcessBucket(context.Background(), time.Now().UTC()); err != nil {
		t.Fatalf("ProcessBucket 失败: %v", err)
	}
	if len(notifier.notes) != 0 {
		t.Fatalf("低于阈值不应告警, 实际 %d 次", len(notifier.notes))
	}
}

func TestProcessBucketAlertsDisabled(t *testing.T) {
	manager, _ := newTestManager(t, 100)

	cfg := &config.Config{}
	notifier := &captureNotifier{}
	svc := New(cfg, nil, manager, nil, notifier, zerolog.Nop())

	if err := svc.ProcessBucket(context.Background(), time.Now().UTC()); err != nil {
		t.Fatalf("ProcessBucket 失败: %v", err)
	}
	if len(notifier.notes) != 0 {
		t.Fatal("未启用告警时不应通知")
	}
}
