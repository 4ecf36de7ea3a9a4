// Package ledger implements the subscription/redemption request ledger: epoch
// volume accounting, the per-request claim state machine, and the role gate
// wrapping every mutating entry point.
//
// The ledger is modelled as a strictly serialized state machine. One mutex is
// held for the full duration of every call, so each entry point observes and
// commits state atomically; failures never leave partial updates behind.
package ledger

import (
	"context"
	"encoding/binary"
	"fmt"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"rwa-manager/internal/assets"
	"rwa-manager/internal/pricer"
	"rwa-manager/internal/registry"
)

// Dependencies are the external collaborators the manager calls into. All are
// required.
type Dependencies struct {
	Assets    assets.Ledger
	Pricer    pricer.Pricer
	Allowlist registry.Allowlist
	Blocklist registry.Blocklist
}

// Options configure a Manager at construction time.
type Options struct {
	// Custody receives share tokens pulled at redemption request time and
	// holds them until they are burned at claim time.
	Custody common.Address
	// AssetRecipient receives collateral pulled at subscription request time.
	AssetRecipient common.Address
	// AssetSender pays out collateral when redemptions settle.
	AssetSender common.Address

	CollateralDecimals int32
	ShareDecimals      int32

	EpochInterval                  time.Duration
	MaximumDepositAmountInEpoch    decimal.Decimal
	MaximumRedemptionAmountInEpoch decimal.Decimal
	MinimumDepositAmount           decimal.Decimal
	MinimumRedemptionAmount        decimal.Decimal

	// Admin is granted ADMIN at construction; every other role can be granted
	// from it.
	Admin common.Address

	// Now supplies wall-clock time. Defaults to time.Now. Injected by tests.
	Now func() time.Time
}

// Manager brokers subscription and redemption requests for the share token
// against the reserve collateral asset.
type Manager struct {
	mu sync.Mutex

	assets    assets.Ledger
	pricer    pricer.Pricer
	allowlist registry.Allowlist
	blocklist registry.Blocklist
	logger    zerolog.Logger

	gate  *gate
	epoch *epochAccountant

	records   map[RequestKind]map[common.Hash]*RequestRecord
	claimable map[common.Hash]time.Time

	custody        common.Address
	assetRecipient common.Address
	assetSender    common.Address

	collateralDecimals int32
	shareDecimals      int32

	minDeposit    decimal.Decimal
	minRedemption decimal.Decimal

	nonce uint64
	now   func() time.Time
}

// NewManager wires the ledger. Missing collaborators and nonsensical numeric
// configuration are integrity failures and abort construction.
func NewManager(deps Dependencies, opts Options, logger zerolog.Logger) (*Manager, error) {
	if deps.Assets == nil || deps.Pricer == nil || deps.Allowlist == nil || deps.Blocklist == nil {
		return nil, ErrNilCollaborator
	}
	if opts.CollateralDecimals < 0 || opts.ShareDecimals <= 0 {
		return nil, fmt.Errorf("invalid token decimals %d/%d", opts.CollateralDecimals, opts.ShareDecimals)
	}

	epoch, err := newEpochAccountant(opts.EpochInterval, opts.MaximumDepositAmountInEpoch, opts.MaximumRedemptionAmountInEpoch)
	if err != nil {
		return nil, err
	}

	now := opts.Now
	if now == nil {
		now = time.Now
	}

	g := newGate()
	g.grant(RoleAdmin, opts.Admin)

	return &Manager{
		assets:    deps.Assets,
		pricer:    deps.Pricer,
		allowlist: deps.Allowlist,
		blocklist: deps.Blocklist,
		logger:    logger.With().Str("component", "ledger").Logger(),
		gate:      g,
		epoch:     epoch,
		records: map[RequestKind]map[common.Hash]*RequestRecord{
			KindSubscription: make(map[common.Hash]*RequestRecord),
			KindRedemption:   make(map[common.Hash]*RequestRecord),
		},
		claimable:          make(map[common.Hash]time.Time),
		custody:            opts.Custody,
		assetRecipient:     opts.AssetRecipient,
		assetSender:        opts.AssetSender,
		collateralDecimals: opts.CollateralDecimals,
		shareDecimals:      opts.ShareDecimals,
		minDeposit:         opts.MinimumDepositAmount,
		minRedemption:      opts.MinimumRedemptionAmount,
		now:                now,
	}, nil
}

// RequestSubscription pulls collateral from the caller now and records a
// pending request; the share mint happens later at claim time against a
// batch-bound price.
func (m *Manager) RequestSubscription(ctx context.Context, caller common.Address, amount decimal.Decimal) (RequestRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.gate.requireActive(); err != nil {
		return RequestRecord{}, err
	}
	if err := m.checkLists(ctx, caller); err != nil {
		return RequestRecord{}, err
	}
	return m.acceptSubscription(ctx, caller, amount, m.generateClaimID(caller), false)
}

// RequestSubscriptionServicedOffchain records a subscription submitted by a
// relayer on behalf of another party, under a relayer-supplied claim id.
func (m *Manager) RequestSubscriptionServicedOffchain(ctx context.Context, caller, onBehalfOf common.Address, amount decimal.Decimal, claimID common.Hash) (RequestRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.gate.requireActive(); err != nil {
		return RequestRecord{}, err
	}
	if err := m.gate.require(RoleRelayer, caller); err != nil {
		return RequestRecord{}, err
	}
	if err := m.checkLists(ctx, onBehalfOf); err != nil {
		return RequestRecord{}, err
	}
	return m.acceptSubscription(ctx, onBehalfOf, amount, claimID, true)
}

// RequestRedemption pulls share tokens from the caller into custody now and
// records a pending request; the burn and collateral payout happen at claim
// time.
func (m *Manager) RequestRedemption(ctx context.Context, caller common.Address, amount decimal.Decimal) (RequestRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.gate.requireActive(); err != nil {
		return RequestRecord{}, err
	}
	if err := m.checkLists(ctx, caller); err != nil {
		return RequestRecord{}, err
	}
	return m.acceptRedemption(ctx, caller, amount, m.generateClaimID(caller), false)
}

// RequestRedemptionServicedOffchain records a redemption submitted by a
// relayer under a relayer-supplied claim id. The relayer is the requester of
// record; shares are pulled from the relayer's custodial balance.
func (m *Manager) RequestRedemptionServicedOffchain(ctx context.Context, caller common.Address, amount decimal.Decimal, claimID common.Hash) (RequestRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.gate.requireActive(); err != nil {
		return RequestRecord{}, err
	}
	if err := m.gate.require(RoleRelayer, caller); err != nil {
		return RequestRecord{}, err
	}
	if err := m.checkLists(ctx, caller); err != nil {
		return RequestRecord{}, err
	}
	return m.acceptRedemption(ctx, caller, amount, claimID, true)
}

func (m *Manager) acceptSubscription(ctx context.Context, requester common.Address, amount decimal.Decimal, claimID common.Hash, serviced bool) (RequestRecord, error) {
	amount = amount.Truncate(m.collateralDecimals)
	if !amount.IsPositive() {
		return RequestRecord{}, ErrZeroAmount
	}
	if amount.LessThan(m.minDeposit) {
		return RequestRecord{}, ErrDepositTooSmall
	}
	if existing, ok := m.records[KindSubscription][claimID]; ok && !existing.Claimed {
		return RequestRecord{}, ErrDuplicateClaimID
	}

	now := m.now()
	epoch, total, err := m.epoch.previewDeposit(now, amount)
	if err != nil {
		return RequestRecord{}, err
	}

	if err := m.assets.TransferCollateral(ctx, requester, m.assetRecipient, amount); err != nil {
		return RequestRecord{}, fmt.Errorf("pull collateral: %w", err)
	}
	m.epoch.commitDeposit(epoch, total)

	record := &RequestRecord{
		ClaimID:     claimID,
		Requester:   requester,
		Amount:      amount,
		Kind:        KindSubscription,
		Serviced:    serviced,
		RequestedAt: now,
	}
	m.records[KindSubscription][claimID] = record

	m.logger.Info().
		Str("claim_id", claimID.Hex()).
		Str("requester", requester.Hex()).
		Str("amount", amount.String()).
		Bool("serviced", serviced).
		Msg("subscription request accepted")

	return *record, nil
}

func (m *Manager) acceptRedemption(ctx context.Context, requester common.Address, amount decimal.Decimal, claimID common.Hash, serviced bool) (RequestRecord, error) {
	amount = amount.Truncate(m.shareDecimals)
	if !amount.IsPositive() {
		return RequestRecord{}, ErrZeroAmount
	}
	if amount.LessThan(m.minRedemption) {
		return RequestRecord{}, ErrRedemptionTooSmall
	}
	if existing, ok := m.records[KindRedemption][claimID]; ok && !existing.Claimed {
		return RequestRecord{}, ErrDuplicateClaimID
	}

	now := m.now()
	epoch, total, err := m.epoch.previewRedemption(now, amount)
	if err != nil {
		return RequestRecord{}, err
	}

	if err := m.assets.TransferShares(ctx, requester, m.custody, amount); err != nil {
		return RequestRecord{}, fmt.Errorf("pull shares: %w", err)
	}
	m.epoch.commitRedemption(epoch, total)

	record := &RequestRecord{
		ClaimID:     claimID,
		Requester:   requester,
		Amount:      amount,
		Kind:        KindRedemption,
		Serviced:    serviced,
		RequestedAt: now,
	}
	m.records[KindRedemption][claimID] = record

	m.logger.Info().
		Str("claim_id", claimID.Hex()).
		Str("requester", requester.Hex()).
		Str("amount", amount.String()).
		Bool("serviced", serviced).
		Msg("redemption request accepted")

	return *record, nil
}

func (m *Manager) checkLists(ctx context.Context, addr common.Address) error {
	allowed, err := m.allowlist.IsAllowed(ctx, addr)
	if err != nil {
		return fmt.Errorf("allowlist check: %w", err)
	}
	if !allowed {
		return ErrNotAllowed
	}
	blocked, err := m.blocklist.IsBlocked(ctx, addr)
	if err != nil {
		return fmt.Errorf("blocklist check: %w", err)
	}
	if blocked {
		return ErrBlocked
	}
	return nil
}

// generateClaimID derives a fresh claim id for caller-initiated requests. The
// nonce makes consecutive requests from one requester distinct.
func (m *Manager) generateClaimID(requester common.Address) common.Hash {
	m.nonce++
	var nonce [8]byte
	binary.BigEndian.PutUint64(nonce[:], m.nonce)
	var ts [8]byte
	binary.BigEndian.PutUint64(ts[:], uint64(m.now().UnixNano()))
	return crypto.Keccak256Hash(requester.Bytes(), nonce[:], ts[:])
}

// --- configuration, roles, pause ---
//
// These remain callable while paused so the operator can remediate.

// SetMaximumDepositAmountInEpoch replaces the deposit volume ceiling.
func (m *Manager) SetMaximumDepositAmountInEpoch(caller common.Address, amount decimal.Decimal) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.gate.require(RoleManagerAdmin, caller); err != nil {
		return err
	}
	if amount.IsNegative() {
		return ErrNegativeEpochMaximum
	}
	m.epoch.maxDeposit = amount
	m.logger.Info().Str("max_deposit", amount.String()).Msg("deposit epoch ceiling updated")
	return nil
}

// SetMaximumRedemptionAmountInEpoch replaces the redemption volume ceiling.
func (m *Manager) SetMaximumRedemptionAmountInEpoch(caller common.Address, amount decimal.Decimal) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.gate.require(RoleManagerAdmin, caller); err != nil {
		return err
	}
	if amount.IsNegative() {
		return ErrNegativeEpochMaximum
	}
	m.epoch.maxRedemption = amount
	m.logger.Info().Str("max_redemption", amount.String()).Msg("redemption epoch ceiling updated")
	return nil
}

// SetEpochInterval changes the window boundary used on the next request.
// Already-accumulated totals are untouched.
func (m *Manager) SetEpochInterval(caller common.Address, interval time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.gate.require(RoleManagerAdmin, caller); err != nil {
		return err
	}
	if err := m.epoch.setInterval(interval); err != nil {
		return err
	}
	m.logger.Info().Dur("interval", interval).Msg("epoch interval updated")
	return nil
}

// SetPricer swaps the price oracle.
func (m *Manager) SetPricer(caller common.Address, p pricer.Pricer) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.gate.require(RoleAdmin, caller); err != nil {
		return err
	}
	if p == nil {
		return ErrNilCollaborator
	}
	m.pricer = p
	m.logger.Info().Msg("pricer updated")
	return nil
}

// GrantRole lets the admin hand out a capability.
func (m *Manager) GrantRole(caller common.Address, role Role, addr common.Address) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.gate.require(RoleAdmin, caller); err != nil {
		return err
	}
	m.gate.grant(role, addr)
	m.logger.Info().Str("role", string(role)).Str("address", addr.Hex()).Msg("role granted")
	return nil
}

// RevokeRole withdraws a capability.
func (m *Manager) RevokeRole(caller common.Address, role Role, addr common.Address) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.gate.require(RoleAdmin, caller); err != nil {
		return err
	}
	m.gate.revoke(role, addr)
	m.logger.Info().Str("role", string(role)).Str("address", addr.Hex()).Msg("role revoked")
	return nil
}

// HasRole reports whether addr holds role.
func (m *Manager) HasRole(role Role, addr common.Address) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.gate.has(role, addr)
}

// Pause halts all request/claim/settlement entry points.
func (m *Manager) Pause(caller common.Address) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.gate.require(RolePauser, caller); err != nil {
		return err
	}
	m.gate.paused = true
	m.logger.Warn().Msg("manager paused")
	return nil
}

// Unpause resumes normal operation.
func (m *Manager) Unpause(caller common.Address) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.gate.require(RoleAdmin, caller); err != nil {
		return err
	}
	m.gate.paused = false
	m.logger.Warn().Msg("manager unpaused")
	return nil
}

// --- read accessors ---

// MaximumDepositAmountInEpoch returns the deposit volume ceiling.
func (m *Manager) MaximumDepositAmountInEpoch() decimal.Decimal {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.epoch.maxDeposit
}

// MaximumRedemptionAmountInEpoch returns the redemption volume ceiling.
func (m *Manager) MaximumRedemptionAmountInEpoch() decimal.Decimal {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.epoch.maxRedemption
}

// EpochInterval returns the configured window length.
func (m *Manager) EpochInterval() time.Duration {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.epoch.interval
}

// CurrentEpochTimestamp returns floor(now/interval)*interval.
func (m *Manager) CurrentEpochTimestamp() time.Time {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.epoch.currentEpochTimestamp(m.now())
}

// Pricer returns the oracle currently consulted at claim time.
func (m *Manager) Pricer() pricer.Pricer {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.pricer
}

// Epoch reports the accountant as of now.
func (m *Manager) Epoch() EpochStatus {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.epoch.status(m.now())
}

// Record looks up a request by kind and claim id.
func (m *Manager) Record(kind RequestKind, claimID common.Hash) (RequestRecord, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	record, ok := m.records[kind][claimID]
	if !ok {
		return RequestRecord{}, false
	}
	return *record, true
}
