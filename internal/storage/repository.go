package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
)

var (
	// ErrNotConfigured indicates the storage pool was not initialised.
	ErrNotConfigured = errors.New("storage: pool not configured")
)

const (
	insertRequestSQL = `INSERT INTO requests (
        claim_id,
        kind,
        requester,
        amount,
        serviced,
        requested_at
    ) VALUES (
        $1,$2,$3,$4,$5,$6
    )
    ON CONFLICT (claim_id, kind) DO UPDATE
    SET
        requester    = EXCLUDED.requester,
        amount       = EXCLUDED.amount,
        serviced     = EXCLUDED.serviced,
        requested_at = EXCLUDED.requested_at,
        price_id     = NULL,
        claimed      = FALSE,
        claimed_at   = NULL,
        settled_amount = NULL;`

	bindPriceIDSQL = `UPDATE requests
    SET price_id = $3
    WHERE claim_id = $1 AND kind = $2 AND claimed = FALSE;`

	markClaimedSQL = `UPDATE requests
    SET claimed = TRUE, claimed_at = $3, settled_amount = $4
    WHERE claim_id = $1 AND kind = $2;`

	listRecentRequestsSQL = `SELECT
        claim_id,
        kind,
        requester,
        amount,
        price_id,
        claimed,
        serviced,
        requested_at,
        claimed_at,
        settled_amount,
        created_at
    FROM requests
    ORDER BY requested_at DESC
    LIMIT $1;`

	countRequestsSQL = `SELECT COUNT(*) FROM requests;`

	upsertSnapshotSQL = `INSERT INTO epoch_snapshots (
        bucket_ts,
        epoch_ts,
        deposit_total,
        deposit_maximum,
        redemption_total,
        redemption_maximum
    ) VALUES (
        $1,$2,$3,$4,$5,$6
    )
    ON CONFLICT (bucket_ts) DO UPDATE
    SET
        epoch_ts           = EXCLUDED.epoch_ts,
        deposit_total      = EXCLUDED.deposit_total,
        deposit_maximum    = EXCLUDED.deposit_maximum,
        redemption_total   = EXCLUDED.redemption_total,
        redemption_maximum = EXCLUDED.redemption_maximum;`

	listSnapshotsBetweenSQL = `SELECT
        bucket_ts,
        epoch_ts,
        deposit_total,
        deposit_maximum,
        redemption_total,
        redemption_maximum,
        created_at
    FROM epoch_snapshots
    WHERE bucket_ts >= $1
      AND bucket_ts < $2
    ORDER BY bucket_ts;`

	tryAdvisoryLockSQL = `SELECT pg_try_advisory_lock($1);`
	advisoryUnlockSQL  = `SELECT pg_advisory_unlock($1);`
)

// RequestJournal defines operations for request history persistence.
type RequestJournal interface {
	InsertRequest(ctx context.Context, row RequestRow) error
	BindPriceID(ctx context.Context, claimID, kind, priceID string) error
	MarkClaimed(ctx context.Context, claimID, kind string, claimedAt time.Time, settled decimal.Decimal) error
	ListRecentRequests(ctx context.Context, limit int) ([]RequestRow, error)
	CountRequests(ctx context.Context) (int64, error)
}

// SnapshotStore defines operations for epoch utilization history.
type SnapshotStore interface {
	UpsertSnapshot(ctx context.Context, snap EpochSnapshot) error
	ListSnapshotsBetween(ctx context.Context, from, to time.Time) ([]EpochSnapshot, error)
}

// AdvisoryLocker exposes advisory lock helpers.
type AdvisoryLocker interface {
	TryAdvisoryLock(ctx context.Context, key int64) (unlock func(), acquired bool, err error)
}

// Store aggregates access to the request journal and epoch snapshots.
type Store struct {
	pool *pgxpool.Pool
}

// NewStore wires a pgx pool into a Store.
func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// Close releases the underlying pool resources.
func (s *Store) Close() {
	if s == nil || s.pool == nil {
		return
	}
	s.pool.Close()
}

// TryAdvisoryLock attempts to acquire a postgres advisory lock and returns a release func.
func (s *Store) TryAdvisoryLock(ctx context.Context, key int64) (func(), bool, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, false, err
	}

	conn, err := pool.Acquire(ctx)
	if err != nil {
		return nil, false, fmt.Errorf("acquire connection: %w", err)
	}

	var acquired bool
	if err := conn.QueryRow(ctx, tryAdvisoryLockSQL, key).Scan(&acquired); err != nil {
		conn.Release()
		return nil, false, fmt.Errorf("try advisory lock: %w", err)
	}
	if !acquired {
		conn.Release()
		return nil, false, nil
	}

	unlock := func() {
		ctxUnlock, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		if _, err := conn.Exec(ctxUnlock, advisoryUnlockSQL, key); err != nil {
			// unlock best effort; log omitted in storage package
		}
		conn.Release()
	}
	return unlock, true, nil
}

func (s *Store) getPool() (*pgxpool.Pool, error) {
	if s == nil || s.pool == nil {
		return nil, ErrNotConfigured
	}
	return s.pool, nil
}

// InsertRequest journals an accepted request.
func (s *Store) InsertRequest(ctx context.Context, row RequestRow) error {
	pool, err := s.getPool()
	if err != nil {
		return err
	}

	_, execErr := pool.Exec(ctx, insertRequestSQL,
		row.ClaimID,
		row.Kind,
		row.Requester,
		row.Amount.String(),
		row.Serviced,
		row.RequestedAt,
	)
	if execErr != nil {
		return fmt.Errorf("insert request: %w", execErr)
	}
	return nil
}

// BindPriceID records the price id bound to a pending request.
func (s *Store) BindPriceID(ctx context.Context, claimID, kind, priceID string) error {
	pool, err := s.getPool()
	if err != nil {
		return err
	}
	if _, execErr := pool.Exec(ctx, bindPriceIDSQL, claimID, kind, priceID); execErr != nil {
		return fmt.Errorf("bind price id: %w", execErr)
	}
	return nil
}

// MarkClaimed records a settlement against a journaled request.
func (s *Store) MarkClaimed(ctx context.Context, claimID, kind string, claimedAt time.Time, settled decimal.Decimal) error {
	pool, err := s.getPool()
	if err != nil {
		return err
	}
	cmdTag, execErr := pool.Exec(ctx, markClaimedSQL, claimID, kind, claimedAt, settled.String())
	if execErr != nil {
		return fmt.Errorf("mark claimed: %w", execErr)
	}
	if cmdTag.RowsAffected() == 0 {
		return pgx.ErrNoRows
	}
	return nil
}

// ListRecentRequests lists the most recent journaled requests.
func (s *Store) ListRecentRequests(ctx context.Context, limit int) ([]RequestRow, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}

	rows, queryErr := pool.Query(ctx, listRecentRequestsSQL, limit)
	if queryErr != nil {
		return nil, fmt.Errorf("list recent requests: %w", queryErr)
	}
	defer rows.Close()

	requests := make([]RequestRow, 0, limit)
	for rows.Next() {
		row, scanErr := scanRequestRow(rows)
		if scanErr != nil {
			return nil, scanErr
		}
		requests = append(requests, row)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return requests, nil
}

// CountRequests counts journaled requests.
func (s *Store) CountRequests(ctx context.Context) (int64, error) {
	pool, err := s.getPool()
	if err != nil {
		return 0, err
	}
	var count int64
	if scanErr := pool.QueryRow(ctx, countRequestsSQL).Scan(&count); scanErr != nil {
		return 0, fmt.Errorf("count requests: %w", scanErr)
	}
	return count, nil
}

// UpsertSnapshot persists or updates an epoch utilization sample.
func (s *Store) UpsertSnapshot(ctx context.Context, snap EpochSnapshot) error {
	pool, err := s.getPool()
	if err != nil {
		return err
	}

	_, execErr := pool.Exec(ctx, upsertSnapshotSQL,
		snap.Bucket,
		snap.EpochStart,
		snap.DepositTotal.String(),
		snap.DepositMaximum.String(),
		snap.RedemptionTotal.String(),
		snap.RedemptionMaximum.String(),
	)
	if execErr != nil {
		return fmt.Errorf("upsert snapshot: %w", execErr)
	}
	return nil
}

// ListSnapshotsBetween lists snapshots within a time window.
func (s *Store) ListSnapshotsBetween(ctx context.Context, from, to time.Time) ([]EpochSnapshot, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}

	rows, queryErr := pool.Query(ctx, listSnapshotsBetweenSQL, from, to)
	if queryErr != nil {
		return nil, fmt.Errorf("list snapshots between: %w", queryErr)
	}
	defer rows.Close()

	snapshots := make([]EpochSnapshot, 0)
	for rows.Next() {
		snap, scanErr := scanSnapshot(rows)
		if scanErr != nil {
			return nil, scanErr
		}
		snapshots = append(snapshots, snap)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return snapshots, nil
}

func scanRequestRow(rows pgx.Rows) (RequestRow, error) {
	var (
		claimID    string
		kind       string
		requester  string
		amountStr  string
		priceID    sql.NullString
		claimed    bool
		serviced   bool
		requested  time.Time
		claimedAt  sql.NullTime
		settledStr sql.NullString
		createdAt  time.Time
	)

	if err := rows.Scan(
		&claimID,
		&kind,
		&requester,
		&amountStr,
		&priceID,
		&claimed,
		&serviced,
		&requested,
		&claimedAt,
		&settledStr,
		&createdAt,
	); err != nil {
		return RequestRow{}, err
	}

	amount, err := decimal.NewFromString(amountStr)
	if err != nil {
		return RequestRow{}, fmt.Errorf("parse amount: %w", err)
	}

	row := RequestRow{
		ClaimID:     claimID,
		Kind:        kind,
		Requester:   requester,
		Amount:      amount,
		Claimed:     claimed,
		Serviced:    serviced,
		RequestedAt: requested,
		CreatedAt:   createdAt,
	}

	if priceID.Valid {
		value := priceID.String
		row.PriceID = &value
	}
	if claimedAt.Valid {
		value := claimedAt.Time
		row.ClaimedAt = &value
	}
	if settledStr.Valid {
		settled, err := decimal.NewFromString(settledStr.String)
		if err != nil {
			return RequestRow{}, fmt.Errorf("parse settled amount: %w", err)
		}
		row.SettledAmount = &settled
	}

	return row, nil
}

func scanSnapshot(rows pgx.Rows) (EpochSnapshot, error) {
	var (
		bucket        time.Time
		epochStart    time.Time
		depositStr    string
		depositMaxStr string
		redeemStr     string
		redeemMaxStr  string
		createdAt     time.Time
	)

	if err := rows.Scan(
		&bucket,
		&epochStart,
		&depositStr,
		&depositMaxStr,
		&redeemStr,
		&redeemMaxStr,
		&createdAt,
	); err != nil {
		return EpochSnapshot{}, err
	}

	depositTotal, err := decimal.NewFromString(depositStr)
	if err != nil {
		return EpochSnapshot{}, fmt.Errorf("parse deposit total: %w", err)
	}
	depositMax, err := decimal.NewFromString(depositMaxStr)
	if err != nil {
		return EpochSnapshot{}, fmt.Errorf("parse deposit maximum: %w", err)
	}
	redeemTotal, err := decimal.NewFromString(redeemStr)
	if err != nil {
		return EpochSnapshot{}, fmt.Errorf("parse redemption total: %w", err)
	}
	redeemMax, err := decimal.NewFromString(redeemMaxStr)
	if err != nil {
		return EpochSnapshot{}, fmt.Errorf("parse redemption maximum: %w", err)
	}

	return EpochSnapshot{
		Bucket:            bucket,
		EpochStart:        epochStart,
		DepositTotal:      depositTotal,
		DepositMaximum:    depositMax,
		RedemptionTotal:   redeemTotal,
		RedemptionMaximum: redeemMax,
		CreatedAt:         createdAt,
	}, nil
}
