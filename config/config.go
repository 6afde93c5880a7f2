package config

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"
	gethcrypto "github.com/ethereum/go-ethereum/crypto"
)

const (
	defaultRPCAddress = ":8545"
	defaultDataDir    = "./stake-data"
	defaultSecretEnv  = "STAKE_RPC_SECRET"
	adminKeyFile      = "admin.key"
)

type Config struct {
	RPCAddress  string    `toml:"RPCAddress"`
	DataDir     string    `toml:"DataDir"`
	Environment string    `toml:"Environment"`
	LogFile     string    `toml:"LogFile,omitempty"`
	LogLevel    string    `toml:"LogLevel,omitempty"`
	Staking     Staking   `toml:"Staking"`
	Gateway     Gateway   `toml:"Gateway"`
	Auth        Auth      `toml:"Auth"`
	RateLimit   RateLimit `toml:"RateLimit"`
	EventLog    EventLog  `toml:"EventLog"`
	Telemetry   Telemetry `toml:"Telemetry"`
	CORSOrigins []string  `toml:"CORSOrigins"`
}

// Load loads the configuration from the given path. A missing file is
// replaced by a freshly generated default, including a new admin key.
func Load(path string) (*Config, error) {
	cfg := &Config{}
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return createDefault(path)
	}

	meta, err := toml.DecodeFile(path, cfg)
	if err != nil {
		return nil, err
	}
	if undecoded := meta.Undecoded(); len(undecoded) > 0 {
		return nil, fmt.Errorf("config file %s has unknown key %s", path, undecoded[0])
	}

	if genesis := strings.TrimSpace(cfg.Staking.GenesisFile); genesis != "" {
		if !filepath.IsAbs(genesis) {
			genesis = filepath.Join(filepath.Dir(path), genesis)
		}
		if err := cfg.Staking.applyGenesisFile(genesis); err != nil {
			return nil, err
		}
	}

	cfg.normalize()
	cfg.applyEnv()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// applyEnv applies environment overrides. They are never written back to disk.
func (cfg *Config) applyEnv() {
	if env := strings.TrimSpace(os.Getenv("STAKE_ENV")); env != "" {
		cfg.Environment = env
	}
	if name := cfg.Auth.HMACSecretEnv; name != "" {
		if secret, ok := os.LookupEnv(name); ok && strings.TrimSpace(secret) != "" {
			cfg.Auth.HMACSecret = strings.TrimSpace(secret)
		}
	}
	if endpoint := strings.TrimSpace(os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT")); endpoint != "" {
		cfg.Telemetry.Endpoint = endpoint
	}
	if headers := strings.TrimSpace(os.Getenv("OTEL_EXPORTER_OTLP_HEADERS")); headers != "" {
		cfg.Telemetry.Headers = headers
	}
}

func (cfg *Config) normalize() {
	cfg.RPCAddress = strings.TrimSpace(cfg.RPCAddress)
	if cfg.RPCAddress == "" {
		cfg.RPCAddress = defaultRPCAddress
	}
	cfg.DataDir = strings.TrimSpace(cfg.DataDir)
	if cfg.DataDir == "" {
		cfg.DataDir = defaultDataDir
	}
	if cfg.CORSOrigins == nil {
		cfg.CORSOrigins = []string{}
	}
	cfg.Staking.normalize()
	cfg.Gateway.normalize()
	cfg.Auth.normalize()
	cfg.RateLimit.normalize()
	cfg.EventLog.normalize(cfg.DataDir)
	cfg.Telemetry.normalize()
}

// createDefault creates and saves a default configuration file. The admin
// authority is a freshly generated key stored next to the config.
func createDefault(path string) (*Config, error) {
	key, err := gethcrypto.GenerateKey()
	if err != nil {
		return nil, err
	}
	keyPath := filepath.Join(filepath.Dir(path), adminKeyFile)
	if err := os.MkdirAll(filepath.Dir(keyPath), 0o755); err != nil {
		return nil, err
	}
	if err := gethcrypto.SaveECDSA(keyPath, key); err != nil {
		return nil, err
	}
	secret := make([]byte, 32)
	if _, err := rand.Read(secret); err != nil {
		return nil, err
	}

	cfg := &Config{
		RPCAddress:  defaultRPCAddress,
		DataDir:     defaultDataDir,
		Environment: "local",
		Staking: Staking{
			Admin:                 gethcrypto.PubkeyToAddress(key.PublicKey).Hex(),
			StakeAsset:            "POLS",
			RewardAsset:           "POLS",
			LockTimePeriodSeconds: 7 * 24 * 3600,
			RewardFactor:          "0",
			RewardFactorScale:     "1",
			CustodyAddress:        "0x000000000000000000000000000000000057a4e0",
		},
		Gateway: Gateway{Mode: GatewayModeLocal, Tokens: map[string]string{}},
		Auth: Auth{
			Enabled:        true,
			HMACSecret:     hex.EncodeToString(secret),
			Issuer:         "staked",
			Audience:       "stake-rpc",
			AllowAnonymous: true,
		},
		RateLimit: RateLimit{RequestsPerMinute: 600, Burst: 60},
		EventLog:  EventLog{Driver: "sqlite"},
	}
	cfg.normalize()

	if err := persist(path, cfg); err != nil {
		return nil, err
	}
	cfg.applyEnv()
	return cfg, nil
}

func persist(path string, cfg *Config) error {
	dir := filepath.Dir(path)
	if dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_TRUNC|os.O_CREATE, 0o600)
	if err != nil {
		return err
	}
	defer f.Close()

	return toml.NewEncoder(f).Encode(cfg)
}
