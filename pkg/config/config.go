// Copyright 2025 GridTokenX
//
// Gateway Configuration Loader
// Loads the API gateway's configuration from environment variables, in
// the validator-style "explicit required vars, safe defaults for the
// rest" pattern.

package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds all configuration for the GridTokenX API gateway core.
type Config struct {
	// Network Configuration
	ChainRPCURL string
	ClusterName string
	EthChainID  int64

	// On-chain program ids (spec §6: five program ids)
	RegistryProgramID   string
	OracleProgramID     string
	GovernanceProgramID string
	EnergyTokenProgramID string
	TradingProgramID    string
	EnergyTokenMint     string

	// Server Configuration
	BindAddr string

	// Database Configuration
	DatabaseURL         string
	DatabaseMaxConns    int
	DatabaseMinConns    int
	DatabaseMaxIdleTime int // seconds
	DatabaseMaxLifetime int // seconds
	DatabaseRequired    bool
	SlowQueryThreshold  time.Duration

	// Encryption master secret (spec §4A/§4C)
	EncryptionMasterSecret  string
	EncryptionMasterVersion int

	// Authority keypair (spec §4B)
	AuthorityKeypairPath string

	// SMTP Configuration (optional; degrades to log entries if unset)
	SMTPHost     string
	SMTPPort     int
	SMTPUser     string
	SMTPPassword string
	SMTPFrom     string

	// Trading Parameters
	FeeRate          string // decimal string, e.g. "0.003"
	EpochDuration    time.Duration
	TestMode         bool

	// Settlement retry tuning (spec §4I)
	SettlementRetryBaseDelay    time.Duration
	SettlementRetryMultiplier   float64
	SettlementMaxAttemptsPerStep int
	SettlementMaxTotalAttempts  int

	// Chain confirmation
	ChainConfirmTimeout  time.Duration
	ChainMaxInFlight     int

	LogLevel string
}

// Load reads configuration from environment variables.
//
// Required variables have no defaults and must be explicitly set in
// production; Validate() enforces that.
func Load() (*Config, error) {
	cfg := &Config{
		ChainRPCURL: getEnv("CHAIN_RPC_URL", ""),
		ClusterName: getEnv("CLUSTER_NAME", "devnet"),
		EthChainID:  getEnvInt64("ETH_CHAIN_ID", 11155111),

		RegistryProgramID:    getEnv("REGISTRY_PROGRAM_ID", ""),
		OracleProgramID:      getEnv("ORACLE_PROGRAM_ID", ""),
		GovernanceProgramID:  getEnv("GOVERNANCE_PROGRAM_ID", ""),
		EnergyTokenProgramID: getEnv("ENERGY_TOKEN_PROGRAM_ID", ""),
		TradingProgramID:     getEnv("TRADING_PROGRAM_ID", ""),
		EnergyTokenMint:      getEnv("ENERGY_TOKEN_MINT", ""),

		BindAddr: getEnv("BIND_ADDR", "0.0.0.0:8080"),

		DatabaseURL:         getEnv("DATABASE_URL", ""),
		DatabaseMaxConns:    getEnvInt("DATABASE_MAX_CONNS", 25),
		DatabaseMinConns:    getEnvInt("DATABASE_MIN_CONNS", 5),
		DatabaseMaxIdleTime: getEnvInt("DATABASE_MAX_IDLE_TIME", 300),
		DatabaseMaxLifetime: getEnvInt("DATABASE_MAX_LIFETIME", 3600),
		DatabaseRequired:    getEnvBool("DATABASE_REQUIRED", true),
		SlowQueryThreshold:  getEnvDuration("SLOW_QUERY_THRESHOLD", 200*time.Millisecond),

		EncryptionMasterSecret:  getEnv("ENCRYPTION_MASTER_SECRET", ""),
		EncryptionMasterVersion: getEnvInt("ENCRYPTION_MASTER_VERSION", 1),

		AuthorityKeypairPath: getEnv("AUTHORITY_KEYPAIR_PATH", ""),

		SMTPHost:     getEnv("SMTP_HOST", ""),
		SMTPPort:     getEnvInt("SMTP_PORT", 587),
		SMTPUser:     getEnv("SMTP_USER", ""),
		SMTPPassword: getEnv("SMTP_PASSWORD", ""),
		SMTPFrom:     getEnv("SMTP_FROM", "noreply@gridtokenx.local"),

		FeeRate:       getEnv("FEE_RATE", "0.003"),
		EpochDuration: getEnvDuration("EPOCH_DURATION", 15*time.Minute),
		TestMode:      getEnvBool("TEST_MODE", false),

		SettlementRetryBaseDelay:     getEnvDuration("SETTLEMENT_RETRY_BASE_DELAY", 5*time.Second),
		SettlementRetryMultiplier:    getEnvFloat("SETTLEMENT_RETRY_MULTIPLIER", 2.0),
		SettlementMaxAttemptsPerStep: getEnvInt("SETTLEMENT_MAX_ATTEMPTS_PER_STEP", 3),
		SettlementMaxTotalAttempts:   getEnvInt("SETTLEMENT_MAX_TOTAL_ATTEMPTS", 10),

		ChainConfirmTimeout: getEnvDuration("CHAIN_CONFIRM_TIMEOUT", 60*time.Second),
		ChainMaxInFlight:    getEnvInt("CHAIN_MAX_IN_FLIGHT", 32),

		LogLevel: getEnv("LOG_LEVEL", "info"),
	}

	return cfg, nil
}

// Validate checks that the configuration is complete enough to run
// against real infrastructure. TestMode relaxes the on-chain requirements
// but never the database or encryption secret; SMTP settings are never
// required.
func (c *Config) Validate() error {
	var problems []string

	if c.DatabaseURL == "" {
		problems = append(problems, "DATABASE_URL is required but not set")
	}
	if c.EncryptionMasterSecret == "" {
		problems = append(problems, "ENCRYPTION_MASTER_SECRET is required but not set")
	} else if len(c.EncryptionMasterSecret) < 32 {
		problems = append(problems, "ENCRYPTION_MASTER_SECRET must be at least 32 characters")
	}
	if c.EncryptionMasterVersion < 1 {
		problems = append(problems, "ENCRYPTION_MASTER_VERSION must be >= 1")
	}

	if !c.TestMode {
		if c.ChainRPCURL == "" {
			problems = append(problems, "CHAIN_RPC_URL is required but not set")
		}
		if c.AuthorityKeypairPath == "" {
			problems = append(problems, "AUTHORITY_KEYPAIR_PATH is required but not set")
		}
		for _, pair := range [][2]string{
			{"REGISTRY_PROGRAM_ID", c.RegistryProgramID},
			{"ORACLE_PROGRAM_ID", c.OracleProgramID},
			{"GOVERNANCE_PROGRAM_ID", c.GovernanceProgramID},
			{"ENERGY_TOKEN_PROGRAM_ID", c.EnergyTokenProgramID},
			{"TRADING_PROGRAM_ID", c.TradingProgramID},
		} {
			if pair[1] == "" {
				problems = append(problems, pair[0]+" is required but not set")
			}
		}
	}

	if len(problems) > 0 {
		return fmt.Errorf("configuration validation failed:\n  - %s", strings.Join(problems, "\n  - "))
	}
	return nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvInt64(key string, defaultValue int64) int64 {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.ParseInt(value, 10, 64); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolValue, err := strconv.ParseBool(value); err == nil {
			return boolValue
		}
	}
	return defaultValue
}

func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}
