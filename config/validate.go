package config

import (
	"errors"
	"fmt"
	"strings"
)

// Validate checks the configuration for values the daemon cannot run with.
func (cfg *Config) Validate() error {
	if cfg == nil {
		return errors.New("configuration is missing")
	}
	genesis, err := cfg.Staking.Genesis()
	if err != nil {
		return err
	}
	if genesis.StakeAsset == "" {
		return errors.New("Staking.StakeAsset required")
	}
	if genesis.RewardFactorScale.Sign() == 0 {
		return errors.New("Staking.RewardFactorScale must be at least 1")
	}

	switch cfg.Gateway.Mode {
	case GatewayModeLocal:
		if _, err := cfg.Staking.Custody(); err != nil {
			return fmt.Errorf("Staking.CustodyAddress: %w", err)
		}
		for i, alloc := range cfg.Gateway.Allocations {
			if _, _, _, err := alloc.Parsed(); err != nil {
				return fmt.Errorf("Gateway.Allocations[%d]: %w", i, err)
			}
		}
	case GatewayModeERC20:
		if cfg.Gateway.RPCURL == "" {
			return errors.New("Gateway.RPCURL required in erc20 mode")
		}
		if cfg.Gateway.ChainID == 0 {
			return errors.New("Gateway.ChainID required in erc20 mode")
		}
		if cfg.Gateway.KeystorePath == "" {
			return errors.New("Gateway.KeystorePath required in erc20 mode")
		}
		tokens, err := cfg.Gateway.TokenAddresses()
		if err != nil {
			return err
		}
		if _, ok := tokens[genesis.StakeAsset]; !ok {
			return fmt.Errorf("Gateway.Tokens missing stake asset %s", genesis.StakeAsset)
		}
		if genesis.RewardAsset != "" {
			if _, ok := tokens[genesis.RewardAsset]; !ok {
				return fmt.Errorf("Gateway.Tokens missing reward asset %s", genesis.RewardAsset)
			}
		}
	default:
		return fmt.Errorf("Gateway.Mode %q not supported", cfg.Gateway.Mode)
	}

	if cfg.Auth.Enabled && cfg.Auth.HMACSecret == "" {
		return errors.New("Auth.HMACSecret required when auth is enabled")
	}
	if cfg.RateLimit.RequestsPerMinute < 0 {
		return errors.New("RateLimit.RequestsPerMinute must not be negative")
	}
	switch cfg.EventLog.Driver {
	case "sqlite", "postgres":
	case "none":
	default:
		return fmt.Errorf("EventLog.Driver %q not supported", cfg.EventLog.Driver)
	}
	if cfg.EventLog.Driver == "postgres" && strings.TrimSpace(cfg.EventLog.DSN) == "" {
		return errors.New("EventLog.DSN required for postgres")
	}
	return nil
}
