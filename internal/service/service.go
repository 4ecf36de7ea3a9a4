package service

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"rwa-manager/internal/alerting"
	"rwa-manager/internal/config"
	"rwa-manager/internal/ledger"
	"rwa-manager/internal/scheduler"
	"rwa-manager/internal/storage"
)

var hundred = decimal.NewFromInt(100)

// Service observes the ledger: it periodically snapshots epoch utilization
// into the journal and raises an alert when utilization crosses the
// configured threshold. Epoch rollover itself stays lazy inside the ledger;
// this loop only reads.
type Service struct {
	scheduler *scheduler.Scheduler
	manager   *ledger.Manager
	snapshots storage.SnapshotStore
	notifier  alerting.Notifier
	logger    zerolog.Logger

	threshold decimal.Decimal
	channels  []string
	alertsOn  bool
	locker    storage.AdvisoryLocker
	lockKey   int64
}

// New constructs the snapshot service.
func New(cfg *config.Config, sched *scheduler.Scheduler, manager *ledger.Manager, snapshots storage.SnapshotStore, notifier alerting.Notifier, logger zerolog.Logger) *Service {
	threshold := decimal.Zero
	if cfg.Alerting.Enabled && cfg.Alerting.UtilizationPct > 0 {
		threshold = decimal.NewFromFloat(cfg.Alerting.UtilizationPct)
	}

	var locker storage.AdvisoryLocker
	if l, ok := snapshots.(storage.AdvisoryLocker); ok {
		locker = l
	}

	return &Service{
		scheduler: sched,
		manager:   manager,
		snapshots: snapshots,
		notifier:  notifier,
		logger:    logger.With().Str("component", "service").Logger(),
		threshold: threshold,
		channels:  cfg.Alerting.Channels,
		alertsOn:  cfg.Alerting.Enabled,
		locker:    locker,
		lockKey:   cfg.Snapshot.AdvisoryLockKey,
	}
}

// Run begins the aligned snapshot loop.
func (s *Service) Run(ctx context.Context) error {
	if s.scheduler == nil {
		return fmt.Errorf("scheduler not configured")
	}
	return s.scheduler.Run(ctx, s.ProcessBucket)
}

// ProcessBucket snapshots one time bucket.
func (s *Service) ProcessBucket(ctx context.Context, bucket time.Time) error {
	unlock, proceed, err := s.acquireLock(ctx)
	if err != nil {
		return err
	}
	if !proceed {
		s.logger.Debug().Time("bucket", bucket).Msg("skip bucket because advisory lock held elsewhere")
		return nil
	}
	if unlock != nil {
		defer unlock()
	}

	return s.executeBucket(ctx, bucket)
}

func (s *Service) executeBucket(ctx context.Context, bucket time.Time) error {
	status := s.manager.Epoch()

	if s.snapshots != nil {
		snap := storage.EpochSnapshot{
			Bucket:            bucket,
			EpochStart:        status.CurrentEpoch,
			DepositTotal:      status.DepositTotal,
			DepositMaximum:    status.DepositMaximum,
			RedemptionTotal:   status.RedemptionTotal,
			RedemptionMaximum: status.RedemptionMaximum,
		}
		if err := s.snapshots.UpsertSnapshot(ctx, snap); err != nil {
			s.logger.Error().Err(err).Time("bucket", bucket).Msg("failed to upsert epoch snapshot")
		}
	}

	s.logger.Info().Time("bucket", bucket).
		Time("epoch", status.CurrentEpoch).
		Str("deposit_total", status.DepositTotal.String()).
		Str("redemption_total", status.RedemptionTotal.String()).
		Msg("epoch snapshot recorded")

	if s.alertsOn && s.notifier != nil && !s.threshold.IsZero() {
		s.maybeAlert(ctx, bucket, "deposit", status.DepositTotal, status.DepositMaximum, status.CurrentEpoch)
		s.maybeAlert(ctx, bucket, "redemption", status.RedemptionTotal, status.RedemptionMaximum, status.CurrentEpoch)
	}

	return nil
}

func (s *Service) maybeAlert(ctx context.Context, bucket time.Time, flow string, total, maximum decimal.Decimal, epoch time.Time) {
	utilization := Utilization(total, maximum)
	if utilization.LessThan(s.threshold) {
		return
	}

	note := alerting.Notification{
		Bucket:         bucket,
		Flow:           flow,
		EpochStart:     epoch,
		Total:          total,
		Maximum:        maximum,
		UtilizationPct: utilization,
		ThresholdPct:   s.threshold,
		Channels:       s.channels,
	}
	if err := s.notifier.Notify(ctx, note); err != nil {
		s.logger.Error().Err(err).Time("bucket", bucket).Str("flow", flow).Msg("failed to dispatch alert")
	}
}

// Utilization returns total/maximum as a percentage. A zero maximum reads as
// fully utilized since every request of that flow is rejected.
func Utilization(total, maximum decimal.Decimal) decimal.Decimal {
	if maximum.IsZero() {
		return hundred
	}
	return total.Div(maximum).Mul(hundred)
}

func (s *Service) acquireLock(ctx context.Context) (func(), bool, error) {
	if s.lockKey == 0 || s.locker == nil {
		return nil, true, nil
	}
	unlock, acquired, err := s.locker.TryAdvisoryLock(ctx, s.lockKey)
	if err != nil {
		return nil, false, fmt.Errorf("acquire advisory lock: %w", err)
	}
	if !acquired {
		return nil, false, nil
	}
	return unlock, true, nil
}
