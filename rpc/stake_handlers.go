package rpc

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"net/http"
	"strings"

	"github.com/ethereum/go-ethereum/common"

	"polsstake/gateway/middleware"
	nativecommon "polsstake/native/common"
	"polsstake/native/stake"
)

type stakeAmountParams struct {
	Caller string `json:"caller,omitempty"`
	Amount string `json:"amount"`
}

type stakeCallerParams struct {
	Caller string `json:"caller,omitempty"`
}

type stakeAccountParams struct {
	Account string `json:"account"`
}

type stakeDepositResult struct {
	Account string `json:"account"`
	Staked  string `json:"staked"`
}

type stakeWithdrawResult struct {
	Account   string `json:"account"`
	Remaining string `json:"remaining"`
}

type stakeClaimResult struct {
	Account string `json:"account"`
	Paid    string `json:"paid"`
}

type stakeBalanceResult struct {
	Account string `json:"account"`
	Staked  string `json:"staked"`
}

type stakePendingResult struct {
	Account string `json:"account"`
	Pending string `json:"pending"`
}

type stakePositionResult struct {
	Account        string `json:"account"`
	Staked         string `json:"staked"`
	StakeTimestamp uint64 `json:"stakeTimestamp"`
	UnlockAt       uint64 `json:"unlockAt"`
	Unlocked       bool   `json:"unlocked"`
	PendingReward  string `json:"pendingReward"`
	TotalClaimed   string `json:"totalClaimed"`
}

type stakeConfigResult struct {
	Admin             string `json:"admin"`
	Custody           string `json:"custody"`
	StakeAsset        string `json:"stakeAsset"`
	RewardAsset       string `json:"rewardAsset"`
	LockTimePeriod    uint64 `json:"lockTimePeriod"`
	LockInitialized   bool   `json:"lockInitialized"`
	RewardFactor      string `json:"rewardFactor"`
	RewardFactorScale string `json:"rewardFactorScale"`
	TotalStaked       string `json:"totalStaked"`
}

type stakeSolvencyResult struct {
	Solvent bool   `json:"solvent"`
	Reason  string `json:"reason,omitempty"`
}

func parseAmount(amount string) (*big.Int, error) {
	trimmed := strings.TrimSpace(amount)
	if trimmed == "" {
		return nil, fmt.Errorf("amount is required")
	}
	value, ok := new(big.Int).SetString(trimmed, 10)
	if !ok {
		return nil, fmt.Errorf("invalid amount")
	}
	if value.Sign() <= 0 {
		return nil, fmt.Errorf("amount must be positive")
	}
	return value, nil
}

func parseAddress(raw string) (common.Address, error) {
	trimmed := strings.TrimSpace(raw)
	if !common.IsHexAddress(trimmed) {
		return common.Address{}, fmt.Errorf("invalid address %q", raw)
	}
	return common.HexToAddress(trimmed), nil
}

// decodeParams unmarshals the single parameter object. Methods without
// required parameters accept an empty params array.
func decodeParams(req *RPCRequest, out interface{}, optional bool) *methodError {
	if len(req.Params) == 0 && optional {
		return nil
	}
	if len(req.Params) != 1 {
		return invalidParams("exactly one parameter object expected", nil)
	}
	if err := json.Unmarshal(req.Params[0], out); err != nil {
		return invalidParams("invalid parameter object", err.Error())
	}
	return nil
}

// resolveCaller returns the identity acting on a mutating call. With auth
// enabled it is the token subject; a caller parameter, if present, must
// match it. With auth disabled the caller parameter is trusted.
func (s *Server) resolveCaller(ctx context.Context, claimed string) (common.Address, *methodError) {
	claimed = strings.TrimSpace(claimed)
	if subject, ok := middleware.Subject(ctx); ok {
		addr, err := parseAddress(subject)
		if err != nil {
			return common.Address{}, newMethodError(http.StatusUnauthorized, codeUnauthorized, "token subject is not an address", nil)
		}
		if claimed != "" && !strings.EqualFold(claimed, addr.Hex()) {
			return common.Address{}, newMethodError(http.StatusUnauthorized, codeUnauthorized, "caller does not match token subject", nil)
		}
		return addr, nil
	}
	if s.cfg.Auth.Enabled {
		return common.Address{}, newMethodError(http.StatusUnauthorized, codeUnauthorized, "authentication required", nil)
	}
	if claimed == "" {
		return common.Address{}, invalidParams("caller is required", nil)
	}
	addr, err := parseAddress(claimed)
	if err != nil {
		return common.Address{}, invalidParams("invalid caller address", err.Error())
	}
	return addr, nil
}

// engineError maps engine failures onto JSON-RPC errors.
func engineError(err error) *methodError {
	switch {
	case errors.Is(err, stake.ErrUnauthorized):
		return newMethodError(http.StatusForbidden, codeUnauthorized, "caller is not authorised", nil)
	case errors.Is(err, stake.ErrStillLocked):
		return newMethodError(http.StatusConflict, codeStillLocked, "stake still locked", nil)
	case errors.Is(err, stake.ErrInsufficientEngineReserve):
		return newMethodError(http.StatusConflict, codeReserve, "insufficient reward reserve", err.Error())
	case errors.Is(err, stake.ErrGatewayTransferFailed):
		return newMethodError(http.StatusBadGateway, codeGateway, "token transfer failed", err.Error())
	case errors.Is(err, stake.ErrReentrantCall):
		return newMethodError(http.StatusConflict, codeServerError, "engine busy, retry", nil)
	case errors.Is(err, stake.ErrAccountingMismatch):
		return newMethodError(http.StatusInternalServerError, codeServerError, "staking ledger inconsistent", err.Error())
	case errors.Is(err, nativecommon.ErrModulePaused):
		return newMethodError(http.StatusServiceUnavailable, codeModulePaused, "staking module paused", nil)
	case errors.Is(err, stake.ErrInvalidAmount),
		errors.Is(err, stake.ErrInsufficientStakedBalance),
		errors.Is(err, stake.ErrLockPeriodIncreaseRejected),
		errors.Is(err, stake.ErrRewardAssetNotSet),
		errors.Is(err, stake.ErrInvalidAsset),
		errors.Is(err, stake.ErrInvalidFactor),
		errors.Is(err, stake.ErrInvalidScale),
		errors.Is(err, stake.ErrInvalidAdmin):
		return invalidParams(err.Error(), nil)
	case errors.Is(err, stake.ErrNotInitialised):
		return newMethodError(http.StatusServiceUnavailable, codeServerError, "staking engine not initialised", nil)
	default:
		return newMethodError(http.StatusInternalServerError, codeServerError, "internal error", err.Error())
	}
}

func (s *Server) handleStakeDeposit(ctx context.Context, req *RPCRequest) (interface{}, *methodError) {
	var params stakeAmountParams
	if rpcErr := decodeParams(req, &params, false); rpcErr != nil {
		return nil, rpcErr
	}
	caller, rpcErr := s.resolveCaller(ctx, params.Caller)
	if rpcErr != nil {
		return nil, rpcErr
	}
	amount, err := parseAmount(params.Amount)
	if err != nil {
		return nil, invalidParams(err.Error(), nil)
	}
	staked, err := s.engine.Stake(ctx, caller, amount)
	if err != nil {
		return nil, engineError(err)
	}
	return stakeDepositResult{Account: caller.Hex(), Staked: staked.String()}, nil
}

func (s *Server) handleStakeWithdraw(ctx context.Context, req *RPCRequest) (interface{}, *methodError) {
	var params stakeAmountParams
	if rpcErr := decodeParams(req, &params, false); rpcErr != nil {
		return nil, rpcErr
	}
	caller, rpcErr := s.resolveCaller(ctx, params.Caller)
	if rpcErr != nil {
		return nil, rpcErr
	}
	amount, err := parseAmount(params.Amount)
	if err != nil {
		return nil, invalidParams(err.Error(), nil)
	}
	remaining, err := s.engine.Withdraw(ctx, caller, amount)
	if err != nil {
		return nil, engineError(err)
	}
	return stakeWithdrawResult{Account: caller.Hex(), Remaining: remaining.String()}, nil
}

func (s *Server) handleStakeClaim(ctx context.Context, req *RPCRequest) (interface{}, *methodError) {
	var params stakeCallerParams
	if rpcErr := decodeParams(req, &params, true); rpcErr != nil {
		return nil, rpcErr
	}
	caller, rpcErr := s.resolveCaller(ctx, params.Caller)
	if rpcErr != nil {
		return nil, rpcErr
	}
	paid, err := s.engine.Claim(ctx, caller)
	if err != nil {
		return nil, engineError(err)
	}
	return stakeClaimResult{Account: caller.Hex(), Paid: paid.String()}, nil
}

func accountParam(req *RPCRequest) (common.Address, *methodError) {
	var params stakeAccountParams
	if rpcErr := decodeParams(req, &params, false); rpcErr != nil {
		return common.Address{}, rpcErr
	}
	addr, err := parseAddress(params.Account)
	if err != nil {
		return common.Address{}, invalidParams("invalid account address", err.Error())
	}
	return addr, nil
}

func (s *Server) handleStakeBalanceOf(req *RPCRequest) (interface{}, *methodError) {
	account, rpcErr := accountParam(req)
	if rpcErr != nil {
		return nil, rpcErr
	}
	staked, err := s.engine.BalanceOf(account)
	if err != nil {
		return nil, engineError(err)
	}
	return stakeBalanceResult{Account: account.Hex(), Staked: staked.String()}, nil
}

func (s *Server) handleStakePendingReward(req *RPCRequest) (interface{}, *methodError) {
	account, rpcErr := accountParam(req)
	if rpcErr != nil {
		return nil, rpcErr
	}
	pending, err := s.engine.PendingReward(account)
	if err != nil {
		return nil, engineError(err)
	}
	return stakePendingResult{Account: account.Hex(), Pending: pending.String()}, nil
}

func (s *Server) handleStakePosition(req *RPCRequest) (interface{}, *methodError) {
	account, rpcErr := accountParam(req)
	if rpcErr != nil {
		return nil, rpcErr
	}
	view, err := s.engine.Position(account)
	if err != nil {
		return nil, engineError(err)
	}
	return stakePositionResult{
		Account:        view.Owner.Hex(),
		Staked:         view.StakedAmount.String(),
		StakeTimestamp: view.StakeTimestamp,
		UnlockAt:       view.UnlockAt,
		Unlocked:       view.Unlocked,
		PendingReward:  view.PendingReward.String(),
		TotalClaimed:   view.TotalClaimed.String(),
	}, nil
}

func (s *Server) handleStakeLockTimePeriod() (interface{}, *methodError) {
	seconds, err := s.engine.LockTimePeriod()
	if err != nil {
		return nil, engineError(err)
	}
	return map[string]uint64{"seconds": seconds}, nil
}

func (s *Server) handleStakeRewardFactor() (interface{}, *methodError) {
	cfg, err := s.engine.Config()
	if err != nil {
		return nil, engineError(err)
	}
	return map[string]string{
		"factor": cfg.RewardFactor.String(),
		"scale":  cfg.RewardFactorScale.String(),
	}, nil
}

func (s *Server) handleStakeRewardAsset() (interface{}, *methodError) {
	asset, err := s.engine.RewardAsset()
	if err != nil {
		return nil, engineError(err)
	}
	return map[string]string{"asset": asset}, nil
}

func (s *Server) handleStakeConfig() (interface{}, *methodError) {
	cfg, err := s.engine.Config()
	if err != nil {
		return nil, engineError(err)
	}
	return stakeConfigResult{
		Admin:             cfg.Admin.Hex(),
		Custody:           s.engine.Custody().Hex(),
		StakeAsset:        cfg.StakeAsset,
		RewardAsset:       cfg.RewardAsset,
		LockTimePeriod:    cfg.LockTimePeriod,
		LockInitialized:   cfg.LockInitialized,
		RewardFactor:      cfg.RewardFactor.String(),
		RewardFactorScale: cfg.RewardFactorScale.String(),
		TotalStaked:       cfg.TotalStaked.String(),
	}, nil
}

func (s *Server) handleStakeSolvency(ctx context.Context) (interface{}, *methodError) {
	err := s.engine.CheckSolvency(ctx)
	switch {
	case err == nil:
		return stakeSolvencyResult{Solvent: true}, nil
	case errors.Is(err, stake.ErrInsolvent), errors.Is(err, stake.ErrAccountingMismatch):
		return stakeSolvencyResult{Solvent: false, Reason: err.Error()}, nil
	default:
		return nil, engineError(err)
	}
}
