package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

const testAdmin = "0x00000000000000000000000000000000000000ad"

func writeConfig(t *testing.T, dir, contents string) string {
	t.Helper()
	path := filepath.Join(dir, "config.toml")
	require.NoError(t, os.WriteFile(path, []byte(contents), 0o600))
	return path
}

func TestLoadCreatesDefault(t *testing.T) {
	t.Setenv(defaultSecretEnv, "")
	dir := t.TempDir()
	path := filepath.Join(dir, "nested", "config.toml")

	cfg, err := Load(path)
	require.NoError(t, err)
	require.FileExists(t, path)
	require.FileExists(t, filepath.Join(dir, "nested", adminKeyFile))
	require.Equal(t, defaultRPCAddress, cfg.RPCAddress)
	require.Equal(t, GatewayModeLocal, cfg.Gateway.Mode)
	require.Equal(t, "POLS", cfg.Staking.StakeAsset)
	require.NotEmpty(t, cfg.Auth.HMACSecret)

	genesis, err := cfg.Staking.Genesis()
	require.NoError(t, err)
	require.Equal(t, uint64(7*24*3600), genesis.LockTimePeriod)
	require.Equal(t, int64(1), genesis.RewardFactorScale.Int64())

	reloaded, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, cfg.Staking.Admin, reloaded.Staking.Admin)
	require.Equal(t, cfg.Auth.HMACSecret, reloaded.Auth.HMACSecret)
}

func TestLoadParsesSections(t *testing.T) {
	t.Setenv(defaultSecretEnv, "")
	dir := t.TempDir()
	path := writeConfig(t, dir, `RPCAddress = "127.0.0.1:9000"
DataDir = "/var/lib/staked"
Environment = "testnet"
CORSOrigins = ["https://app.example"]

[Staking]
Admin = "`+testAdmin+`"
StakeAsset = " pols "
RewardAsset = "rwd"
LockTimePeriodSeconds = 1209600
RewardFactor = "340282366920938463463374607431768211456"
RewardFactorScale = "1000000000000000000"
CustodyAddress = "0x00000000000000000000000000000000000000c0"

[Gateway]
Mode = "LOCAL"

[Auth]
Enabled = true
HMACSecret = "file-secret"
Issuer = "staked"
Audience = "stake-rpc"

[RateLimit]
RequestsPerMinute = 120
Burst = 10

[EventLog]
Driver = "sqlite"
`)

	cfg, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, "127.0.0.1:9000", cfg.RPCAddress)
	require.Equal(t, "POLS", cfg.Staking.StakeAsset)
	require.Equal(t, "RWD", cfg.Staking.RewardAsset)
	require.Equal(t, GatewayModeLocal, cfg.Gateway.Mode)
	require.Equal(t, filepath.Join("/var/lib/staked", "events.db"), cfg.EventLog.DSN)
	require.Equal(t, []string{"https://app.example"}, cfg.CORSOrigins)

	genesis, err := cfg.Staking.Genesis()
	require.NoError(t, err)
	require.Equal(t, "340282366920938463463374607431768211456", genesis.RewardFactor.String())
	require.Equal(t, uint64(1209600), genesis.LockTimePeriod)
}

func TestLoadEnvironmentOverrides(t *testing.T) {
	dir := t.TempDir()
	path := writeConfig(t, dir, `[Staking]
Admin = "`+testAdmin+`"
StakeAsset = "POLS"
CustodyAddress = "0x00000000000000000000000000000000000000c0"

[Auth]
Enabled = true
HMACSecret = "file-secret"
`)
	t.Setenv(defaultSecretEnv, "env-secret")
	t.Setenv("STAKE_ENV", "staging")

	cfg, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, "env-secret", cfg.Auth.HMACSecret)
	require.Equal(t, "staging", cfg.Environment)

	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	require.NotContains(t, string(raw), "env-secret")
}

func TestLoadRejectsUnknownKeys(t *testing.T) {
	dir := t.TempDir()
	path := writeConfig(t, dir, `ListenAddress = "0.0.0.0:7000"
`)
	_, err := Load(path)
	require.Error(t, err)
	require.Contains(t, err.Error(), "ListenAddress")
}

func TestLoadAppliesYAMLGenesis(t *testing.T) {
	t.Setenv(defaultSecretEnv, "")
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "genesis.yaml"), []byte(`admin: "`+testAdmin+`"
stakeAsset: pols
rewardAsset: rwd
lockTimePeriodSeconds: 86400
rewardFactor: "2"
`), 0o600))
	path := writeConfig(t, dir, `[Staking]
StakeAsset = "OTHER"
RewardFactorScale = "10"
CustodyAddress = "0x00000000000000000000000000000000000000c0"
GenesisFile = "genesis.yaml"
`)

	cfg, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, "POLS", cfg.Staking.StakeAsset)
	require.Equal(t, "RWD", cfg.Staking.RewardAsset)
	require.Equal(t, "genesis.yaml", cfg.Staking.GenesisFile)

	genesis, err := cfg.Staking.Genesis()
	require.NoError(t, err)
	require.Equal(t, uint64(86400), genesis.LockTimePeriod)
	require.Equal(t, int64(2), genesis.RewardFactor.Int64())
	require.Equal(t, int64(10), genesis.RewardFactorScale.Int64())
}

func TestValidate(t *testing.T) {
	base := func() *Config {
		cfg := &Config{
			Staking: Staking{
				Admin:          testAdmin,
				StakeAsset:     "POLS",
				RewardAsset:    "RWD",
				CustodyAddress: "0x00000000000000000000000000000000000000c0",
			},
			Auth: Auth{Enabled: true, HMACSecret: "secret"},
		}
		cfg.normalize()
		return cfg
	}
	require.NoError(t, base().Validate())

	cases := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{"missing admin", func(c *Config) { c.Staking.Admin = "" }, "Staking.Admin"},
		{"negative factor", func(c *Config) { c.Staking.RewardFactor = "-1" }, "Staking.RewardFactor"},
		{"zero scale", func(c *Config) { c.Staking.RewardFactorScale = "0" }, "RewardFactorScale"},
		{"missing stake asset", func(c *Config) { c.Staking.StakeAsset = "" }, "StakeAsset"},
		{"bad custody", func(c *Config) { c.Staking.CustodyAddress = "custody" }, "CustodyAddress"},
		{"unknown mode", func(c *Config) { c.Gateway.Mode = "ledger" }, "Gateway.Mode"},
		{"erc20 without rpc", func(c *Config) { c.Gateway.Mode = GatewayModeERC20 }, "Gateway.RPCURL"},
		{"erc20 missing token", func(c *Config) {
			c.Gateway.Mode = GatewayModeERC20
			c.Gateway.RPCURL = "http://localhost:8545"
			c.Gateway.ChainID = 1
			c.Gateway.KeystorePath = "/keys/custody.json"
			c.Gateway.Tokens = map[string]string{"POLS": "0x0000000000000000000000000000000000000101"}
		}, "reward asset RWD"},
		{"bad allocation", func(c *Config) {
			c.Gateway.Allocations = []Allocation{{Account: testAdmin, Asset: "POLS", Amount: "0"}}
		}, "Gateway.Allocations[0]"},
		{"auth without secret", func(c *Config) { c.Auth.HMACSecret = "" }, "HMACSecret"},
		{"postgres without dsn", func(c *Config) {
			c.EventLog.Driver = "postgres"
			c.EventLog.DSN = ""
		}, "EventLog.DSN"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := base()
			tc.mutate(cfg)
			err := cfg.Validate()
			require.Error(t, err)
			require.True(t, strings.Contains(err.Error(), tc.want), "error %q missing %q", err, tc.want)
		})
	}
}
