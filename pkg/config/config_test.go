package config

import "testing"

func validBaseConfig() *Config {
	return &Config{
		DatabaseURL:             "postgres://localhost/gatewaycore",
		EncryptionMasterSecret:  "0123456789012345678901234567890123",
		EncryptionMasterVersion: 1,
		TestMode:                true,
	}
}

func TestValidatePassesWithTestModeAndNoChainConfig(t *testing.T) {
	cfg := validBaseConfig()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("Validate() = %v, want nil", err)
	}
}

func TestValidateRequiresDatabaseURL(t *testing.T) {
	cfg := validBaseConfig()
	cfg.DatabaseURL = ""
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected validation error for missing DATABASE_URL")
	}
}

func TestValidateRequiresLongEnoughMasterSecret(t *testing.T) {
	cfg := validBaseConfig()
	cfg.EncryptionMasterSecret = "too-short"
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected validation error for short master secret")
	}
}

func TestValidateRequiresMasterVersionAtLeastOne(t *testing.T) {
	cfg := validBaseConfig()
	cfg.EncryptionMasterVersion = 0
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected validation error for master version 0")
	}
}

func TestValidateRequiresChainSettingsOutsideTestMode(t *testing.T) {
	cfg := validBaseConfig()
	cfg.TestMode = false
	err := cfg.Validate()
	if err == nil {
		t.Fatal("expected validation error when chain settings are unset outside test mode")
	}

	cfg.ChainRPCURL = "https://rpc.example.test"
	cfg.AuthorityKeypairPath = "/etc/gatewaycore/authority.key"
	cfg.RegistryProgramID = "0xabc"
	cfg.OracleProgramID = "0xabc"
	cfg.GovernanceProgramID = "0xabc"
	cfg.EnergyTokenProgramID = "0xabc"
	cfg.TradingProgramID = "0xabc"
	if err := cfg.Validate(); err != nil {
		t.Fatalf("Validate() = %v, want nil once every chain setting is present", err)
	}
}
