package stake

import (
	"context"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"polsstake/core/events"
	nativecommon "polsstake/native/common"
)

// rewardIndexPrecision is the fixed-point unit of the reward index. Reward is
// exact for every scale that divides it.
var rewardIndexPrecision = new(big.Int).Exp(big.NewInt(10), big.NewInt(18), nil)

func rewardScale(cfg *Config) *big.Int {
	if cfg.RewardFactorScale == nil || cfg.RewardFactorScale.Sign() <= 0 {
		return big.NewInt(1)
	}
	return cfg.RewardFactorScale
}

// indexAt returns the reward index and remainder cfg would hold at now under
// its current factor and scale. cfg is not modified.
func indexAt(cfg *Config, now uint64) (*big.Int, *big.Int) {
	index := cloneBigInt(cfg.RewardIndex)
	remainder := cloneBigInt(cfg.RewardIndexRemainder)
	if now <= cfg.RewardIndexUpdatedAt || cfg.RewardFactor.Sign() <= 0 {
		return index, remainder
	}
	accrued := new(big.Int).SetUint64(now - cfg.RewardIndexUpdatedAt)
	accrued.Mul(accrued, cfg.RewardFactor)
	accrued.Mul(accrued, rewardIndexPrecision)
	accrued.Add(accrued, remainder)
	quotient, rest := new(big.Int).QuoRem(accrued, rewardScale(cfg), new(big.Int))
	return index.Add(index, quotient), rest
}

// advanceIndex closes the global accrual period at now. It must run before
// any change of factor, scale or staked amounts is committed.
func advanceIndex(cfg *Config, now uint64) {
	if now <= cfg.RewardIndexUpdatedAt {
		return
	}
	cfg.RewardIndex, cfg.RewardIndexRemainder = indexAt(cfg, now)
	cfg.RewardIndexUpdatedAt = now
}

// pendingAt is the carried reward plus staked × (index − snapshot), minus what
// has already been settled. It never goes below zero.
func pendingAt(pos *Position, index *big.Int) *big.Int {
	pending := cloneBigInt(pos.AccruedReward)
	delta := new(big.Int).Sub(index, pos.IndexSnapshot)
	if pos.StakedAmount.Sign() > 0 && delta.Sign() > 0 {
		window := new(big.Int).Mul(pos.StakedAmount, delta)
		window.Quo(window, rewardIndexPrecision)
		pending.Add(pending, window)
	}
	pending.Sub(pending, pos.RewardDebt)
	if pending.Sign() < 0 {
		return big.NewInt(0)
	}
	return pending
}

func pendingReward(cfg *Config, pos *Position, now uint64) *big.Int {
	index, _ := indexAt(cfg, now)
	return pendingAt(pos, index)
}

// checkpoint settles the open window of pos against the index already
// advanced on cfg, so a change of the staked amount only affects accrual
// from now on.
func checkpoint(cfg *Config, pos *Position) {
	pos.AccruedReward = pendingAt(pos, cfg.RewardIndex)
	pos.RewardDebt = big.NewInt(0)
	pos.IndexSnapshot = cloneBigInt(cfg.RewardIndex)
}

// PendingReward returns the reward account could claim right now.
func (e *Engine) PendingReward(account common.Address) (*big.Int, error) {
	cfg, err := e.loadConfig()
	if err != nil {
		return nil, err
	}
	pos, err := e.loadPosition(account)
	if err != nil {
		return nil, err
	}
	return pendingReward(cfg, pos, e.now()), nil
}

// Claim settles the pending reward of account in the reward asset. A zero
// pending reward is a successful no-op. Claims the custody reserve cannot
// cover fail without touching the settlement marker.
func (e *Engine) Claim(ctx context.Context, account common.Address) (paid *big.Int, err error) {
	defer func() { e.observe(events.StakeOperationClaim, err) }()
	ctx, release, err := e.enter(ctx)
	if err != nil {
		return nil, err
	}
	defer release()

	if err := nativecommon.Guard(e.pauses, moduleName); err != nil {
		return nil, err
	}
	if e.gateway == nil {
		return nil, errNilGateway
	}
	cfg, err := e.loadConfig()
	if err != nil {
		return nil, err
	}
	pos, err := e.loadPosition(account)
	if err != nil {
		return nil, err
	}
	pending := pendingReward(cfg, pos, e.now())
	if pending.Sign() == 0 {
		return pending, nil
	}
	if cfg.RewardAsset == "" {
		return nil, ErrRewardAssetNotSet
	}
	reserve, err := e.rewardReserve(ctx, cfg)
	if err != nil {
		return nil, err
	}
	if reserve.Cmp(pending) < 0 {
		return nil, fmt.Errorf("%w: pending %s, reserve %s", ErrInsufficientEngineReserve, pending, reserve)
	}
	prevPos := pos.Clone()

	pos.RewardDebt = new(big.Int).Add(pos.RewardDebt, pending)
	pos.TotalClaimed = new(big.Int).Add(pos.TotalClaimed, pending)
	if err := e.state.StakeCommit(nil, pos); err != nil {
		return nil, err
	}
	if err := e.viaGateway(func() error { return e.gateway.TransferOut(ctx, cfg.RewardAsset, account, pending) }); err != nil {
		return nil, e.rollback(events.StakeOperationClaim, err, nil, prevPos)
	}

	e.metrics.AddRewardsClaimed(cfg.RewardAsset, pending)
	e.emit(events.StakeRewardClaimed{
		Account:      account,
		Asset:        cfg.RewardAsset,
		Amount:       new(big.Int).Set(pending),
		TotalClaimed: new(big.Int).Set(pos.TotalClaimed),
	})
	return pending, nil
}

// rewardReserve is the reward asset available for payouts. When rewards are
// paid in the stake asset, staked liabilities are excluded.
func (e *Engine) rewardReserve(ctx context.Context, cfg *Config) (*big.Int, error) {
	var held *big.Int
	err := e.viaGateway(func() (err error) {
		held, err = e.gateway.BalanceOf(ctx, cfg.RewardAsset, e.custody)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("%w: balance query: %w", ErrGatewayTransferFailed, err)
	}
	reserve := cloneBigInt(held)
	if sameAsset(cfg.RewardAsset, cfg.StakeAsset) {
		reserve.Sub(reserve, cfg.TotalStaked)
		if reserve.Sign() < 0 {
			reserve.SetInt64(0)
		}
	}
	return reserve, nil
}
