package app

import (
	"context"
	"errors"
	"fmt"
	"os/signal"
	"syscall"
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
	"rwa-manager/internal/scheduler"
	"rwa-manager/internal/server"
	"rwa-manager/internal/service"
	"rwa-manager/internal/storage"
)

// App aggregates configuration and shared dependencies for the CLI commands.
type App struct {
	Config *config.Config
	Logger zerolog.Logger
}

// NewApp constructs a new application handle.
func NewApp(cfg *config.Config, logger zerolog.Logger) *App {
	return &App{Config: cfg, Logger: logger.With().Str("component", "app").Logger()}
}

func (a *App) newPricer() pricer.Pricer {
	eth := a.Config.Ethereum
	if eth.PricerAddress != "" {
		return pricer.NewOracle(pricer.OracleOptions{
			RPCURL:  eth.RPCURL,
			Address: eth.PricerAddress,
			Timeout: eth.RequestTimeout,
		}, a.Logger)
	}
	a.Logger.Warn().Msg("ethereum.pricer_address not configured; using static pricer")
	return pricer.NewStatic(decimal.NewFromFloat(a.Config.Manager.StaticPrice), time.Now().UTC())
}

func (a *App) newRegistries() (registry.Allowlist, registry.Blocklist) {
	eth := a.Config.Ethereum
	if eth.AllowlistAddress != "" || eth.BlocklistAddress != "" {
		onchain := registry.NewOnchain(registry.OnchainOptions{
			RPCURL:           eth.RPCURL,
			AllowlistAddress: eth.AllowlistAddress,
			BlocklistAddress: eth.BlocklistAddress,
			Timeout:          eth.RequestTimeout,
		}, a.Logger)
		return onchain, onchain
	}

	allow := registry.NewStaticAllowlist(a.Config.Manager.AllowAll, parseAddresses(a.Config.Manager.Allowlist)...)
	block := registry.NewStaticBlocklist(parseAddresses(a.Config.Manager.Blocklist)...)
	return allow, block
}

// newManager builds the ledger and seeds the configured roles. The supplied
// asset ledger carries custody; the run command uses an in-process bank until
// an on-chain custodian is wired.
func (a *App) newManager(assetLedger assets.Ledger) (*ledger.Manager, error) {
	mc := a.Config.Manager
	if !common.IsHexAddress(mc.Admin) {
		return nil, fmt.Errorf("manager.admin is not a hex address: %q", mc.Admin)
	}
	admin := common.HexToAddress(mc.Admin)

	allow, block := a.newRegistries()

	manager, err := ledger.NewManager(ledger.Dependencies{
		Assets:    assetLedger,
		Pricer:    a.newPricer(),
		Allowlist: allow,
		Blocklist: block,
	}, ledger.Options{
		Custody:                        common.HexToAddress(mc.Custody),
		AssetRecipient:                 common.HexToAddress(mc.AssetRecipient),
		AssetSender:                    common.HexToAddress(mc.AssetSender),
		CollateralDecimals:             mc.CollateralDecimals,
		ShareDecimals:                  mc.ShareDecimals,
		EpochInterval:                  mc.EpochInterval,
		MaximumDepositAmountInEpoch:    decimal.NewFromFloat(mc.MaxDepositInEpoch),
		MaximumRedemptionAmountInEpoch: decimal.NewFromFloat(mc.MaxRedeemInEpoch),
		MinimumDepositAmount:           decimal.NewFromFloat(mc.MinDeposit),
		MinimumRedemptionAmount:        decimal.NewFromFloat(mc.MinRedeem),
		Admin:                          admin,
	}, a.Logger)
	if err != nil {
		return nil, err
	}

	seed := func(role ledger.Role, raw string) error {
		if raw == "" {
			return nil
		}
		if !common.IsHexAddress(raw) {
			return fmt.Errorf("%s address is not hex: %q", role, raw)
		}
		return manager.GrantRole(admin, role, common.HexToAddress(raw))
	}
	if err := seed(ledger.RoleManagerAdmin, mc.ManagerAdmin); err != nil {
		return nil, err
	}
	if err := seed(ledger.RolePauser, mc.Pauser); err != nil {
		return nil, err
	}
	for _, r := range mc.Relayers {
		if err := seed(ledger.RoleRelayer, r); err != nil {
			return nil, err
		}
	}
	for _, r := range mc.PriceIDSetters {
		if err := seed(ledger.RolePriceIDSetter, r); err != nil {
			return nil, err
		}
	}
	for _, r := range mc.TimestampSetters {
		if err := seed(ledger.RoleTimestampSetter, r); err != nil {
			return nil, err
		}
	}

	return manager, nil
}

func (a *App) newNotifier() alerting.Notifier {
	if a.Config.Alerting.Telegram.Enabled {
		cfg := a.Config.Alerting.Telegram
		return alerting.NewTelegramNotifier(cfg.BotToken, cfg.ChatID, cfg.APIBase, 10*time.Second, a.Logger)
	}
	return nil
}

func (a *App) openStore(ctx context.Context) (*storage.Store, func(), error) {
	if a.Config.Database.DSN == "" {
		return nil, nil, nil
	}

	pool, err := storage.NewPool(ctx, a.Config.Database)
	if err != nil {
		return nil, nil, err
	}

	store := storage.NewStore(pool)
	closer := func() {
		store.Close()
	}
	return store, closer, nil
}

// Run executes the API server and the epoch snapshot loop.
func (a *App) Run(ctx context.Context) error {
	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	store, closeStore, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	if store == nil {
		a.Logger.Warn().Msg("database.dsn not configured; journaling disabled")
	}
	if closeStore != nil {
		defer closeStore()
	}

	manager, err := a.newManager(assets.NewBank())
	if err != nil {
		return err
	}

	var journal storage.RequestJournal
	var snapshots storage.SnapshotStore
	if store != nil {
		journal = store
		snapshots = store
	}

	api := server.New(manager, journal, a.Logger)

	sched := scheduler.New(scheduler.Options{
		Interval:     a.Config.Snapshot.Interval,
		AlignToStart: a.Config.Snapshot.AlignToBucket,
		StartupDelay: a.Config.Snapshot.StartupDelay,
	}, a.Logger)

	svc := service.New(a.Config, sched, manager, snapshots, a.newNotifier(), a.Logger)

	errCh := make(chan error, 2)
	go func() {
		errCh <- api.ListenAndServe(ctx, a.Config.Server)
	}()
	go func() {
		errCh <- svc.Run(ctx)
	}()

	a.Logger.Info().Msg("manager service started")
	err = <-errCh
	cancel()
	<-errCh

	if err != nil && !errors.Is(err, context.Canceled) {
		a.Logger.Error().Err(err).Msg("service terminated with error")
		return err
	}

	a.Logger.Info().Msg("manager service stopped")
	return nil
}

func parseAddresses(raw []string) []common.Address {
	addrs := make([]common.Address, 0, len(raw))
	for _, r := range raw {
		if common.IsHexAddress(r) {
			addrs = append(addrs, common.HexToAddress(r))
		}
	}
	return addrs
}

// ExportOptions hold parameters for exporting epoch snapshot history.
type ExportOptions struct {
	From      *time.Time
	To        *time.Time
	PNGPath   string
	CSVPath   string
	MaxPoints int
}

// ShowOptions configure the show command.
type ShowOptions struct {
	Limit int
}
