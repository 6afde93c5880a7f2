package rpc

import (
	"context"
	"math/big"
	"net/http"
	"strings"

	"github.com/ethereum/go-ethereum/common"

	"polsstake/gateway/middleware"
)

type setLockTimePeriodParams struct {
	Caller  string `json:"caller,omitempty"`
	Seconds uint64 `json:"seconds"`
}

type setRewardAssetParams struct {
	Caller string `json:"caller,omitempty"`
	Asset  string `json:"asset"`
}

type setRewardFactorParams struct {
	Caller string `json:"caller,omitempty"`
	Factor string `json:"factor"`
}

type setRewardFactorScaleParams struct {
	Caller string `json:"caller,omitempty"`
	Scale  string `json:"scale"`
}

type transferAdminParams struct {
	Caller   string `json:"caller,omitempty"`
	NewAdmin string `json:"newAdmin"`
}

type adminUpdateResult struct {
	Updated string `json:"updated"`
	Value   string `json:"value"`
}

// resolveAdmin resolves the caller of an administrative method. Tokens must
// carry the admin scope; the engine still compares the caller against the
// configured admin.
func (s *Server) resolveAdmin(ctx context.Context, claimed string) (common.Address, *methodError) {
	caller, rpcErr := s.resolveCaller(ctx, claimed)
	if rpcErr != nil {
		return common.Address{}, rpcErr
	}
	if s.cfg.Auth.Enabled && !middleware.HasScope(ctx, middleware.ScopeAdmin) {
		return common.Address{}, newMethodError(http.StatusForbidden, codeUnauthorized, "admin scope required", middleware.ScopeAdmin)
	}
	return caller, nil
}

func parseNonNegative(raw, field string) (*big.Int, *methodError) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return nil, invalidParams(field+" is required", nil)
	}
	value, ok := new(big.Int).SetString(trimmed, 10)
	if !ok {
		return nil, invalidParams("invalid "+field, raw)
	}
	return value, nil
}

func (s *Server) handleSetLockTimePeriod(ctx context.Context, req *RPCRequest) (interface{}, *methodError) {
	var params setLockTimePeriodParams
	if rpcErr := decodeParams(req, &params, false); rpcErr != nil {
		return nil, rpcErr
	}
	caller, rpcErr := s.resolveAdmin(ctx, params.Caller)
	if rpcErr != nil {
		return nil, rpcErr
	}
	if err := s.engine.SetLockTimePeriod(ctx, caller, params.Seconds); err != nil {
		return nil, engineError(err)
	}
	s.logger.Info("lock period updated", "admin", caller.Hex(), "seconds", params.Seconds)
	return adminUpdateResult{Updated: "lockTimePeriod", Value: new(big.Int).SetUint64(params.Seconds).String()}, nil
}

func (s *Server) handleSetRewardAsset(ctx context.Context, req *RPCRequest) (interface{}, *methodError) {
	var params setRewardAssetParams
	if rpcErr := decodeParams(req, &params, false); rpcErr != nil {
		return nil, rpcErr
	}
	caller, rpcErr := s.resolveAdmin(ctx, params.Caller)
	if rpcErr != nil {
		return nil, rpcErr
	}
	if err := s.engine.SetRewardAsset(ctx, caller, params.Asset); err != nil {
		return nil, engineError(err)
	}
	asset, err := s.engine.RewardAsset()
	if err != nil {
		return nil, engineError(err)
	}
	s.logger.Info("reward asset updated", "admin", caller.Hex(), "asset", asset)
	return adminUpdateResult{Updated: "rewardAsset", Value: asset}, nil
}

func (s *Server) handleSetRewardFactor(ctx context.Context, req *RPCRequest) (interface{}, *methodError) {
	var params setRewardFactorParams
	if rpcErr := decodeParams(req, &params, false); rpcErr != nil {
		return nil, rpcErr
	}
	caller, rpcErr := s.resolveAdmin(ctx, params.Caller)
	if rpcErr != nil {
		return nil, rpcErr
	}
	factor, rpcErr := parseNonNegative(params.Factor, "factor")
	if rpcErr != nil {
		return nil, rpcErr
	}
	if err := s.engine.SetStakeRewardFactor(ctx, caller, factor); err != nil {
		return nil, engineError(err)
	}
	s.logger.Info("reward factor updated", "admin", caller.Hex(), "factor", factor.String())
	return adminUpdateResult{Updated: "rewardFactor", Value: factor.String()}, nil
}

func (s *Server) handleSetRewardFactorScale(ctx context.Context, req *RPCRequest) (interface{}, *methodError) {
	var params setRewardFactorScaleParams
	if rpcErr := decodeParams(req, &params, false); rpcErr != nil {
		return nil, rpcErr
	}
	caller, rpcErr := s.resolveAdmin(ctx, params.Caller)
	if rpcErr != nil {
		return nil, rpcErr
	}
	scale, rpcErr := parseNonNegative(params.Scale, "scale")
	if rpcErr != nil {
		return nil, rpcErr
	}
	if err := s.engine.SetRewardFactorScale(ctx, caller, scale); err != nil {
		return nil, engineError(err)
	}
	return adminUpdateResult{Updated: "rewardFactorScale", Value: scale.String()}, nil
}

func (s *Server) handleTransferAdmin(ctx context.Context, req *RPCRequest) (interface{}, *methodError) {
	var params transferAdminParams
	if rpcErr := decodeParams(req, &params, false); rpcErr != nil {
		return nil, rpcErr
	}
	caller, rpcErr := s.resolveAdmin(ctx, params.Caller)
	if rpcErr != nil {
		return nil, rpcErr
	}
	next, err := parseAddress(params.NewAdmin)
	if err != nil {
		return nil, invalidParams("invalid newAdmin address", err.Error())
	}
	if err := s.engine.TransferAdmin(ctx, caller, next); err != nil {
		return nil, engineError(err)
	}
	s.logger.Warn("admin transferred", "previous", caller.Hex(), "current", next.Hex())
	return adminUpdateResult{Updated: "admin", Value: next.Hex()}, nil
}
