package ledger

import (
	"time"

	"github.com/shopspring/decimal"
)

// epochAccountant caps cumulative deposit/redemption volume inside a rolling
// window. Rollover is computed lazily from the timestamp supplied with each
// call; there is no timer. Callers hold the manager lock.
type epochAccountant struct {
	interval time.Duration

	maxDeposit    decimal.Decimal
	maxRedemption decimal.Decimal

	depositEpoch    int64
	depositTotal    decimal.Decimal
	redemptionEpoch int64
	redemptionTotal decimal.Decimal
}

func newEpochAccountant(interval time.Duration, maxDeposit, maxRedemption decimal.Decimal) (*epochAccountant, error) {
	if interval <= 0 {
		return nil, ErrZeroEpochInterval
	}
	// epochStart floors on whole unix seconds.
	if interval < time.Second {
		return nil, ErrEpochIntervalTooShort
	}
	return &epochAccountant{
		interval:      interval,
		maxDeposit:    maxDeposit,
		maxRedemption: maxRedemption,
	}, nil
}

// epochStart returns floor(now/interval)*interval as unix seconds.
func (e *epochAccountant) epochStart(now time.Time) int64 {
	secs := int64(e.interval / time.Second)
	ts := now.Unix()
	return ts - ts%secs
}

func (e *epochAccountant) currentEpochTimestamp(now time.Time) time.Time {
	return time.Unix(e.epochStart(now), 0).UTC()
}

// previewDeposit validates a deposit against the current window without
// mutating state. The returned epoch and total are handed back to
// commitDeposit once the custody transfer succeeded, keeping the
// check-then-commit atomic under the manager lock.
func (e *epochAccountant) previewDeposit(now time.Time, amount decimal.Decimal) (epoch int64, total decimal.Decimal, err error) {
	epoch = e.epochStart(now)
	total = e.depositTotal
	if epoch != e.depositEpoch {
		total = decimal.Zero
	}
	total = total.Add(amount)
	if total.GreaterThan(e.maxDeposit) {
		return 0, decimal.Decimal{}, ErrDepositAmountExceedEpochMaximum
	}
	return epoch, total, nil
}

func (e *epochAccountant) commitDeposit(epoch int64, total decimal.Decimal) {
	e.depositEpoch = epoch
	e.depositTotal = total
}

func (e *epochAccountant) previewRedemption(now time.Time, amount decimal.Decimal) (epoch int64, total decimal.Decimal, err error) {
	epoch = e.epochStart(now)
	total = e.redemptionTotal
	if epoch != e.redemptionEpoch {
		total = decimal.Zero
	}
	total = total.Add(amount)
	if total.GreaterThan(e.maxRedemption) {
		return 0, decimal.Decimal{}, ErrRedemptionAmountExceedEpochMaximum
	}
	return epoch, total, nil
}

func (e *epochAccountant) commitRedemption(epoch int64, total decimal.Decimal) {
	e.redemptionEpoch = epoch
	e.redemptionTotal = total
}

// setInterval changes the window boundary used by subsequent requests.
// Already-accumulated totals are not rewritten.
func (e *epochAccountant) setInterval(interval time.Duration) error {
	if interval <= 0 {
		return ErrZeroEpochInterval
	}
	if interval < time.Second {
		return ErrEpochIntervalTooShort
	}
	e.interval = interval
	return nil
}

// status reports the accountant as of now. Totals from an already-elapsed
// window read as zero, matching what the next request would observe.
func (e *epochAccountant) status(now time.Time) EpochStatus {
	epoch := e.epochStart(now)
	depositTotal := e.depositTotal
	if epoch != e.depositEpoch {
		depositTotal = decimal.Zero
	}
	redemptionTotal := e.redemptionTotal
	if epoch != e.redemptionEpoch {
		redemptionTotal = decimal.Zero
	}
	return EpochStatus{
		Interval:          e.interval,
		CurrentEpoch:      time.Unix(epoch, 0).UTC(),
		DepositTotal:      depositTotal,
		DepositMaximum:    e.maxDeposit,
		RedemptionTotal:   redemptionTotal,
		RedemptionMaximum: e.maxRedemption,
	}
}
