package config

import (
	"fmt"
	"math/big"
	"path/filepath"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"polsstake/native/stake"
)

const (
	GatewayModeLocal = "local"
	GatewayModeERC20 = "erc20"
)

// Staking holds the engine genesis parameters and custody settings.
type Staking struct {
	Admin                 string `toml:"Admin" yaml:"admin"`
	StakeAsset            string `toml:"StakeAsset" yaml:"stakeAsset"`
	RewardAsset           string `toml:"RewardAsset" yaml:"rewardAsset"`
	LockTimePeriodSeconds uint64 `toml:"LockTimePeriodSeconds" yaml:"lockTimePeriodSeconds"`
	// RewardFactor and RewardFactorScale are decimal integers; they may
	// exceed 64 bits.
	RewardFactor      string `toml:"RewardFactor" yaml:"rewardFactor"`
	RewardFactorScale string `toml:"RewardFactorScale" yaml:"rewardFactorScale"`
	// CustodyAddress is the local ledger account holding staked funds. In
	// erc20 mode the custody is the gateway signing key instead.
	CustodyAddress string `toml:"CustodyAddress" yaml:"custodyAddress"`
	GenesisFile    string `toml:"GenesisFile,omitempty" yaml:"-"`
	Paused         bool   `toml:"Paused" yaml:"-"`
}

func (s *Staking) normalize() {
	s.Admin = strings.TrimSpace(s.Admin)
	s.StakeAsset = stake.NormalizeAsset(s.StakeAsset)
	s.RewardAsset = stake.NormalizeAsset(s.RewardAsset)
	s.RewardFactor = strings.TrimSpace(s.RewardFactor)
	if s.RewardFactor == "" {
		s.RewardFactor = "0"
	}
	s.RewardFactorScale = strings.TrimSpace(s.RewardFactorScale)
	if s.RewardFactorScale == "" {
		s.RewardFactorScale = "1"
	}
	s.CustodyAddress = strings.TrimSpace(s.CustodyAddress)
}

// Genesis converts the section into the engine's genesis parameters.
func (s Staking) Genesis() (stake.Genesis, error) {
	admin, err := parseAddress(s.Admin)
	if err != nil {
		return stake.Genesis{}, fmt.Errorf("Staking.Admin: %w", err)
	}
	factor, err := parseUintAmount(s.RewardFactor)
	if err != nil {
		return stake.Genesis{}, fmt.Errorf("Staking.RewardFactor: %w", err)
	}
	scale, err := parseUintAmount(s.RewardFactorScale)
	if err != nil {
		return stake.Genesis{}, fmt.Errorf("Staking.RewardFactorScale: %w", err)
	}
	return stake.Genesis{
		Admin:             admin,
		StakeAsset:        s.StakeAsset,
		RewardAsset:       s.RewardAsset,
		LockTimePeriod:    s.LockTimePeriodSeconds,
		RewardFactor:      factor,
		RewardFactorScale: scale,
	}, nil
}

// Custody parses the configured custody address.
func (s Staking) Custody() (common.Address, error) {
	return parseAddress(s.CustodyAddress)
}

// Gateway selects and configures the token gateway.
type Gateway struct {
	Mode    string `toml:"Mode"`
	RPCURL  string `toml:"RPCURL,omitempty"`
	ChainID uint64 `toml:"ChainID,omitempty"`
	// KeystorePath points at an encrypted go-ethereum keystore file holding
	// the custody key. The passphrase is read from PassphraseEnv or prompted.
	KeystorePath        string            `toml:"KeystorePath,omitempty"`
	PassphraseEnv       string            `toml:"PassphraseEnv,omitempty"`
	Tokens              map[string]string `toml:"Tokens"`
	PollIntervalSeconds int               `toml:"PollIntervalSeconds,omitempty"`
	TimeoutSeconds      int               `toml:"TimeoutSeconds,omitempty"`
	// Allocations seed local ledger balances when the engine is first
	// initialised. Ignored in erc20 mode.
	Allocations []Allocation `toml:"Allocations,omitempty"`
}

// Allocation credits Amount of Asset to Account on the local ledger.
type Allocation struct {
	Account string `toml:"Account"`
	Asset   string `toml:"Asset"`
	Amount  string `toml:"Amount"`
}

// Parsed validates the allocation.
func (a Allocation) Parsed() (common.Address, string, *big.Int, error) {
	account, err := parseAddress(a.Account)
	if err != nil {
		return common.Address{}, "", nil, err
	}
	asset := stake.NormalizeAsset(a.Asset)
	if asset == "" {
		return common.Address{}, "", nil, fmt.Errorf("allocation asset required")
	}
	amount, err := parseUintAmount(a.Amount)
	if err != nil {
		return common.Address{}, "", nil, err
	}
	if amount.Sign() == 0 {
		return common.Address{}, "", nil, fmt.Errorf("allocation amount must be positive")
	}
	return account, asset, amount, nil
}

func (g *Gateway) normalize() {
	g.Mode = strings.ToLower(strings.TrimSpace(g.Mode))
	if g.Mode == "" {
		g.Mode = GatewayModeLocal
	}
	g.RPCURL = strings.TrimSpace(g.RPCURL)
	g.KeystorePath = strings.TrimSpace(g.KeystorePath)
	if g.PassphraseEnv == "" {
		g.PassphraseEnv = "STAKE_CUSTODY_PASSPHRASE"
	}
	tokens := make(map[string]string, len(g.Tokens))
	for asset, addr := range g.Tokens {
		tokens[stake.NormalizeAsset(asset)] = strings.TrimSpace(addr)
	}
	g.Tokens = tokens
	if g.PollIntervalSeconds <= 0 {
		g.PollIntervalSeconds = 2
	}
	if g.TimeoutSeconds <= 0 {
		g.TimeoutSeconds = 120
	}
}

// TokenAddresses parses the asset to contract mapping.
func (g Gateway) TokenAddresses() (map[string]common.Address, error) {
	out := make(map[string]common.Address, len(g.Tokens))
	for asset, raw := range g.Tokens {
		addr, err := parseAddress(raw)
		if err != nil {
			return nil, fmt.Errorf("Gateway.Tokens[%s]: %w", asset, err)
		}
		out[asset] = addr
	}
	return out, nil
}

func (g Gateway) PollInterval() time.Duration {
	return time.Duration(g.PollIntervalSeconds) * time.Second
}

func (g Gateway) Timeout() time.Duration {
	return time.Duration(g.TimeoutSeconds) * time.Second
}

// Auth configures bearer token validation on the RPC server.
type Auth struct {
	Enabled        bool   `toml:"Enabled"`
	HMACSecret     string `toml:"HMACSecret"`
	HMACSecretEnv  string `toml:"HMACSecretEnv,omitempty"`
	Issuer         string `toml:"Issuer"`
	Audience       string `toml:"Audience"`
	AllowAnonymous bool   `toml:"AllowAnonymous"`
}

func (a *Auth) normalize() {
	a.HMACSecret = strings.TrimSpace(a.HMACSecret)
	a.HMACSecretEnv = strings.TrimSpace(a.HMACSecretEnv)
	if a.HMACSecretEnv == "" {
		a.HMACSecretEnv = defaultSecretEnv
	}
	a.Issuer = strings.TrimSpace(a.Issuer)
	a.Audience = strings.TrimSpace(a.Audience)
}

// RateLimit bounds RPC requests per client.
type RateLimit struct {
	RequestsPerMinute float64 `toml:"RequestsPerMinute"`
	Burst             int     `toml:"Burst"`
}

func (r *RateLimit) normalize() {
	if r.Burst < 0 {
		r.Burst = 0
	}
}

// EventLog configures the durable event journal.
type EventLog struct {
	Driver string `toml:"Driver"`
	// DSN is used verbatim. For sqlite an empty DSN means a file under the
	// data directory.
	DSN string `toml:"DSN,omitempty"`
}

func (e *EventLog) normalize(dataDir string) {
	e.Driver = strings.ToLower(strings.TrimSpace(e.Driver))
	if e.Driver == "" {
		e.Driver = "sqlite"
	}
	e.DSN = strings.TrimSpace(e.DSN)
	if e.DSN == "" && e.Driver == "sqlite" {
		e.DSN = filepath.Join(dataDir, "events.db")
	}
}

// Telemetry configures OTLP export.
type Telemetry struct {
	Endpoint    string  `toml:"Endpoint,omitempty"`
	Insecure    bool    `toml:"Insecure"`
	Headers     string  `toml:"Headers,omitempty"`
	Metrics     bool    `toml:"Metrics"`
	Traces      bool    `toml:"Traces"`
	SampleRatio float64 `toml:"SampleRatio,omitempty"`
}

func (t *Telemetry) normalize() {
	t.Endpoint = strings.TrimSpace(t.Endpoint)
}

func (t Telemetry) Enabled() bool { return t.Metrics || t.Traces }

func parseAddress(raw string) (common.Address, error) {
	trimmed := strings.TrimSpace(raw)
	if !common.IsHexAddress(trimmed) {
		return common.Address{}, fmt.Errorf("invalid address %q", raw)
	}
	addr := common.HexToAddress(trimmed)
	if addr == (common.Address{}) {
		return common.Address{}, fmt.Errorf("zero address not allowed")
	}
	return addr, nil
}

func parseUintAmount(raw string) (*big.Int, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return big.NewInt(0), nil
	}
	value, ok := new(big.Int).SetString(trimmed, 10)
	if !ok {
		return nil, fmt.Errorf("invalid integer %q", raw)
	}
	if value.Sign() < 0 {
		return nil, fmt.Errorf("value must not be negative")
	}
	return value, nil
}
