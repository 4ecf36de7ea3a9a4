package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/go-viper/mapstructure/v2"
	"github.com/spf13/viper"

	"rwa-manager/internal/logging"
)

// Config materialises application configuration.
type Config struct {
	App      AppConfig      `mapstructure:"app"`
	Logging  logging.Config `mapstructure:"logging"`
	Database DatabaseConfig `mapstructure:"database"`
	Server   ServerConfig   `mapstructure:"server"`
	Ethereum EthereumConfig `mapstructure:"ethereum"`
	Manager  ManagerConfig  `mapstructure:"manager"`
	Snapshot SnapshotConfig `mapstructure:"snapshot"`
	Alerting AlertingConfig `mapstructure:"alerting"`
	Export   ExportConfig   `mapstructure:"export"`
}

// AppConfig general metadata.
type AppConfig struct {
	Name        string `mapstructure:"name"`
	Environment string `mapstructure:"environment"`
}

// DatabaseConfig encapsulates PostgreSQL connectivity for the journal.
type DatabaseConfig struct {
	DSN             string        `mapstructure:"dsn"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	MigrationsPath  string        `mapstructure:"migrations_path"`
}

// ServerConfig configures the HTTP API.
type ServerConfig struct {
	Addr            string        `mapstructure:"addr"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

// EthereumConfig covers on-chain collaborator access. Addresses left empty
// fall back to static in-process implementations.
type EthereumConfig struct {
	RPCURL           string        `mapstructure:"rpc_url"`
	PricerAddress    string        `mapstructure:"pricer_address"`
	AllowlistAddress string        `mapstructure:"allowlist_address"`
	BlocklistAddress string        `mapstructure:"blocklist_address"`
	RequestTimeout   time.Duration `mapstructure:"request_timeout"`
}

// ManagerConfig parameterises the request ledger.
type ManagerConfig struct {
	CollateralDecimals int32         `mapstructure:"collateral_decimals"`
	ShareDecimals      int32         `mapstructure:"share_decimals"`
	EpochInterval      time.Duration `mapstructure:"epoch_interval"`
	MaxDepositInEpoch  float64       `mapstructure:"max_deposit_in_epoch"`
	MaxRedeemInEpoch   float64       `mapstructure:"max_redeem_in_epoch"`
	MinDeposit         float64       `mapstructure:"min_deposit"`
	MinRedeem          float64       `mapstructure:"min_redeem"`
	StaticPrice        float64       `mapstructure:"static_price"`

	Custody        string `mapstructure:"custody"`
	AssetSender    string `mapstructure:"asset_sender"`
	AssetRecipient string `mapstructure:"asset_recipient"`

	Admin            string   `mapstructure:"admin"`
	ManagerAdmin     string   `mapstructure:"manager_admin"`
	Pauser           string   `mapstructure:"pauser"`
	Relayers         []string `mapstructure:"relayers"`
	PriceIDSetters   []string `mapstructure:"price_id_setters"`
	TimestampSetters []string `mapstructure:"timestamp_setters"`

	// AllowAll opens the static allowlist when no on-chain registry is wired.
	AllowAll  bool     `mapstructure:"allow_all"`
	Allowlist []string `mapstructure:"allowlist"`
	Blocklist []string `mapstructure:"blocklist"`
}

// SnapshotConfig governs the epoch-utilization snapshot loop.
type SnapshotConfig struct {
	Interval        time.Duration `mapstructure:"interval"`
	AlignToBucket   bool          `mapstructure:"align_to_bucket"`
	AdvisoryLockKey int64         `mapstructure:"advisory_lock_key"`
	StartupDelay    time.Duration `mapstructure:"startup_delay"`
}

// AlertingConfig defines utilization alert thresholds and routing.
type AlertingConfig struct {
	Enabled        bool           `mapstructure:"enabled"`
	UtilizationPct float64        `mapstructure:"utilization_pct"`
	Cooldown       time.Duration  `mapstructure:"cooldown"`
	Channels       []string       `mapstructure:"channels"`
	Telegram       TelegramConfig `mapstructure:"telegram"`
}

// TelegramConfig describes Telegram alert delivery.
type TelegramConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	BotToken string `mapstructure:"bot_token"`
	ChatID   string `mapstructure:"chat_id"`
	APIBase  string `mapstructure:"api_base"`
}

// ExportConfig sets CLI export behaviour.
type ExportConfig struct {
	MaxDataPoints int `mapstructure:"max_data_points"`
}

// Load builds configuration from file, environment, and defaults.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetEnvPrefix("RWAMANAGER")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
	}

	if err := readConfig(v); err != nil {
		return nil, err
	}

	var cfg Config
	if err := v.Unmarshal(&cfg, decodeHook()); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func readConfig(v *viper.Viper) error {
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			return nil
		}
		return fmt.Errorf("read config: %w", err)
	}
	return nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("app.name", "rwamanager")
	v.SetDefault("app.environment", "development")

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")

	v.SetDefault("server.addr", ":8080")
	v.SetDefault("server.read_timeout", "10s")
	v.SetDefault("server.write_timeout", "10s")
	v.SetDefault("server.shutdown_timeout", "5s")

	v.SetDefault("ethereum.request_timeout", "10s")

	v.SetDefault("manager.collateral_decimals", 6)
	v.SetDefault("manager.share_decimals", 18)
	v.SetDefault("manager.epoch_interval", "24h")
	v.SetDefault("manager.max_deposit_in_epoch", 5000000.0)
	v.SetDefault("manager.max_redeem_in_epoch", 5000000.0)
	v.SetDefault("manager.min_deposit", 0.0)
	v.SetDefault("manager.min_redeem", 0.0)
	v.SetDefault("manager.static_price", 1.0)
	v.SetDefault("manager.allow_all", true)

	v.SetDefault("snapshot.interval", "5m")
	v.SetDefault("snapshot.align_to_bucket", true)
	v.SetDefault("snapshot.advisory_lock_key", int64(0x72776130))
	v.SetDefault("snapshot.startup_delay", "0s")

	v.SetDefault("alerting.enabled", false)
	v.SetDefault("alerting.utilization_pct", 80.0)
	v.SetDefault("alerting.cooldown", "30m")
	v.SetDefault("alerting.channels", []string{"telegram"})
	v.SetDefault("alerting.telegram.enabled", false)
	v.SetDefault("alerting.telegram.api_base", "https://api.telegram.org")

	v.SetDefault("export.max_data_points", 100000)

	v.SetDefault("database.max_open_conns", 10)
	v.SetDefault("database.max_idle_conns", 5)
	v.SetDefault("database.conn_max_lifetime", "30m")
	v.SetDefault("database.migrations_path", "migrations")
}

func decodeHook() viper.DecoderConfigOption {
	return func(dc *mapstructure.DecoderConfig) {
		dc.TagName = "mapstructure"
		dc.DecodeHook = mapstructure.ComposeDecodeHookFunc(
			mapstructure.StringToTimeDurationHookFunc(),
			mapstructure.StringToSliceHookFunc(","),
		)
	}
}

// Validate performs basic sanity checks on the configuration values.
func (c *Config) Validate() error {
	if c.Manager.EpochInterval < time.Second {
		return fmt.Errorf("manager.epoch_interval must be at least one second")
	}
	if c.Manager.CollateralDecimals < 0 || c.Manager.ShareDecimals <= 0 {
		return fmt.Errorf("manager token decimals must be non-negative")
	}
	if c.Manager.MaxDepositInEpoch < 0 || c.Manager.MaxRedeemInEpoch < 0 {
		return fmt.Errorf("manager epoch ceilings cannot be negative")
	}
	if c.Manager.StaticPrice <= 0 {
		return fmt.Errorf("manager.static_price must be greater than zero")
	}
	if c.Manager.Admin == "" {
		return fmt.Errorf("manager.admin must be configured")
	}
	if c.Snapshot.Interval <= 0 {
		return fmt.Errorf("snapshot.interval must be greater than zero")
	}
	if c.Export.MaxDataPoints <= 0 {
		return fmt.Errorf("export.max_data_points must be greater than zero")
	}
	if c.Alerting.UtilizationPct < 0 {
		return fmt.Errorf("alerting.utilization_pct cannot be negative")
	}
	if c.Alerting.Telegram.Enabled {
		if c.Alerting.Telegram.BotToken == "" {
			return fmt.Errorf("alerting.telegram.bot_token must be configured")
		}
		if c.Alerting.Telegram.ChatID == "" {
			return fmt.Errorf("alerting.telegram.chat_id must be configured")
		}
	}
	return nil
}

// ResolveMaxPoints returns either the CLI override or config default.
func (c *Config) ResolveMaxPoints(override int) int {
	if override > 0 {
		return override
	}
	return c.Export.MaxDataPoints
}
