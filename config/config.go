package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all application configuration.
type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Database  DatabaseConfig  `mapstructure:"database"`
	Redis     RedisConfig     `mapstructure:"redis"`
	JWT       JWTConfig       `mapstructure:"jwt"`
	Economy   EconomyConfig   `mapstructure:"economy"`
	Reconcile ReconcileConfig `mapstructure:"reconcile"`
	Log       LogConfig       `mapstructure:"log"`
}

type ServerConfig struct {
	Host string `mapstructure:"host"`
	Port int    `mapstructure:"port"`
	Mode string `mapstructure:"mode"` // debug, release, test
}

type DatabaseConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	User            string        `mapstructure:"user"`
	Password        string        `mapstructure:"password"`
	DBName          string        `mapstructure:"dbname"`
	SSLMode         string        `mapstructure:"sslmode"`
	MaxConns        int32         `mapstructure:"max_conns"`
	MinConns        int32         `mapstructure:"min_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
}

// DSN returns the PostgreSQL connection string.
func (d DatabaseConfig) DSN() string {
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%d/%s?sslmode=%s",
		d.User, d.Password, d.Host, d.Port, d.DBName, d.SSLMode,
	)
}

type RedisConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

// Addr returns the Redis address string.
func (r RedisConfig) Addr() string {
	return fmt.Sprintf("%s:%d", r.Host, r.Port)
}

type JWTConfig struct {
	Secret string `mapstructure:"secret"`
	Issuer string `mapstructure:"issuer"`
	// InternalAudience gates the service-to-service routes (settlement
	// trigger, account provisioning, marketplace postings).
	InternalAudience string `mapstructure:"internal_audience"`
}

// EconomyConfig holds every credit-policy knob.
type EconomyConfig struct {
	Support    SupportConfig    `mapstructure:"support"`
	Settlement SettlementConfig `mapstructure:"settlement"`
	Bank       BankConfig       `mapstructure:"bank"`
	// InitialGrant is issued from the bank on account creation. 0 disables.
	InitialGrant int64 `mapstructure:"initial_grant"`
}

// SupportConfig controls support-grant eligibility.
type SupportConfig struct {
	// Mode is "fixed" (flat Amount per grant) or "tiered" (top the balance
	// up toward TierTarget, rounded down to an even amount; balances at or
	// above TierMaxBalance are ineligible).
	Mode           string        `mapstructure:"mode"`
	Amount         int64         `mapstructure:"amount"`
	Cooldown       time.Duration `mapstructure:"cooldown"`
	TierTarget     int64         `mapstructure:"tier_target"`
	TierMaxBalance int64         `mapstructure:"tier_max_balance"`
}

// SettlementConfig controls the session-end charge.
type SettlementConfig struct {
	CreditsPerHour int64 `mapstructure:"credits_per_hour"`
	// Rounding is "floor" (completed hours only) or "nearest".
	Rounding string `mapstructure:"rounding"`
	// TaxPercent of the gross charge goes to the bank, integer truncation.
	TaxPercent int64 `mapstructure:"tax_percent"`
	// AllowPartial moves whatever the learner can cover now and defers the
	// rest as an obligation; false defers the whole charge.
	AllowPartial bool `mapstructure:"allow_partial"`
}

// BankConfig controls the reserve.
type BankConfig struct {
	// UnlimitedIssuer exempts the bank from the non-negativity check when
	// paying grants. When false, grants bounce once donations run dry.
	UnlimitedIssuer bool `mapstructure:"unlimited_issuer"`
}

// ReconcileConfig controls the background invariant check.
type ReconcileConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	Schedule string `mapstructure:"schedule"` // cron expression
	// Repair rewrites a drifted cached balance from the ledger fold.
	Repair bool `mapstructure:"repair"`
}

type LogConfig struct {
	Level  string `mapstructure:"level"`  // debug, info, warn, error
	Pretty bool   `mapstructure:"pretty"` // human-readable output (dev only)
}

// Load reads configuration from file and environment variables.
// Environment variables override file values. Prefix: TB_ (Time Bank).
// Nested keys use underscore: TB_DATABASE_HOST, TB_ECONOMY_SUPPORT_AMOUNT, etc.
func Load(path string) (*Config, error) {
	v := viper.New()

	// Defaults
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.mode", "debug")
	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.user", "postgres")
	v.SetDefault("database.password", "postgres")
	v.SetDefault("database.dbname", "timebank")
	v.SetDefault("database.sslmode", "disable")
	v.SetDefault("database.max_conns", 20)
	v.SetDefault("database.min_conns", 5)
	v.SetDefault("database.conn_max_lifetime", "30m")
	v.SetDefault("redis.host", "localhost")
	v.SetDefault("redis.port", 6379)
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("jwt.secret", "")
	v.SetDefault("jwt.issuer", "timebank-identity")
	v.SetDefault("jwt.internal_audience", "timebank-internal")
	v.SetDefault("economy.initial_grant", 15)
	v.SetDefault("economy.support.mode", "fixed")
	v.SetDefault("economy.support.amount", 5)
	v.SetDefault("economy.support.cooldown", "168h")
	v.SetDefault("economy.support.tier_target", 6)
	v.SetDefault("economy.support.tier_max_balance", 4)
	v.SetDefault("economy.settlement.credits_per_hour", 1)
	v.SetDefault("economy.settlement.rounding", "floor")
	v.SetDefault("economy.settlement.tax_percent", 10)
	v.SetDefault("economy.settlement.allow_partial", true)
	v.SetDefault("economy.bank.unlimited_issuer", true)
	v.SetDefault("reconcile.enabled", true)
	v.SetDefault("reconcile.schedule", "@every 5m")
	v.SetDefault("reconcile.repair", false)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.pretty", false)

	// File config
	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./config")
	}

	// Environment variables: TB_DATABASE_HOST -> database.host
	v.SetEnvPrefix("TB")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Read config file (not required — env vars can suffice)
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}

	return &cfg, nil
}
