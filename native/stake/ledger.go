package stake

import (
	"context"
	"fmt"
	"math"
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"polsstake/core/events"
	nativecommon "polsstake/native/common"
)

// Stake pulls amount of the stake asset from account into custody and credits
// the account's position. A top-up restarts the lock window for the whole
// balance. The new staked balance is returned.
func (e *Engine) Stake(ctx context.Context, account common.Address, amount *big.Int) (staked *big.Int, err error) {
	defer func() { e.observe(events.StakeOperationDeposit, err) }()
	ctx, release, err := e.enter(ctx)
	if err != nil {
		return nil, err
	}
	defer release()

	if err := nativecommon.Guard(e.pauses, moduleName); err != nil {
		return nil, err
	}
	if amount == nil || amount.Sign() <= 0 {
		return nil, ErrInvalidAmount
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
	prevCfg, prevPos := cfg.Clone(), pos.Clone()

	now := e.now()
	advanceIndex(cfg, now)
	checkpoint(cfg, pos)
	pos.StakedAmount = new(big.Int).Add(pos.StakedAmount, amount)
	pos.StakeTimestamp = now
	cfg.TotalStaked = new(big.Int).Add(cfg.TotalStaked, amount)

	if err := e.state.StakeCommit(cfg, pos); err != nil {
		return nil, err
	}
	if err := e.viaGateway(func() error { return e.gateway.TransferIn(ctx, cfg.StakeAsset, account, amount) }); err != nil {
		return nil, e.rollback(events.StakeOperationDeposit, err, prevCfg, prevPos)
	}

	e.metrics.SetTotalStaked(cfg.TotalStaked)
	e.emit(events.StakeDeposited{
		Account:   account,
		Asset:     cfg.StakeAsset,
		Amount:    new(big.Int).Set(amount),
		Staked:    new(big.Int).Set(pos.StakedAmount),
		Timestamp: now,
		UnlockAt:  unlockAt(pos.StakeTimestamp, cfg.LockTimePeriod),
	})
	return new(big.Int).Set(pos.StakedAmount), nil
}

// Withdraw returns amount of unlocked stake to account. The position is
// debited and committed before custody pays out, and restored if the payout
// fails. The remaining staked balance is returned.
func (e *Engine) Withdraw(ctx context.Context, account common.Address, amount *big.Int) (remaining *big.Int, err error) {
	defer func() { e.observe(events.StakeOperationWithdraw, err) }()
	ctx, release, err := e.enter(ctx)
	if err != nil {
		return nil, err
	}
	defer release()

	if err := nativecommon.Guard(e.pauses, moduleName); err != nil {
		return nil, err
	}
	if amount == nil || amount.Sign() <= 0 {
		return nil, ErrInvalidAmount
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
	if pos.StakedAmount.Cmp(amount) < 0 {
		return nil, ErrInsufficientStakedBalance
	}
	now := e.now()
	if now < unlockAt(pos.StakeTimestamp, cfg.LockTimePeriod) {
		return nil, ErrStillLocked
	}
	if cfg.TotalStaked.Cmp(amount) < 0 {
		return nil, fmt.Errorf("%w: total staked %s below withdrawal %s", ErrAccountingMismatch, cfg.TotalStaked, amount)
	}
	prevCfg, prevPos := cfg.Clone(), pos.Clone()

	advanceIndex(cfg, now)
	checkpoint(cfg, pos)
	pos.StakedAmount = new(big.Int).Sub(pos.StakedAmount, amount)
	cfg.TotalStaked = new(big.Int).Sub(cfg.TotalStaked, amount)

	if err := e.state.StakeCommit(cfg, pos); err != nil {
		return nil, err
	}
	if err := e.viaGateway(func() error { return e.gateway.TransferOut(ctx, cfg.StakeAsset, account, amount) }); err != nil {
		return nil, e.rollback(events.StakeOperationWithdraw, err, prevCfg, prevPos)
	}

	e.metrics.SetTotalStaked(cfg.TotalStaked)
	e.emit(events.StakeWithdrawn{
		Account:   account,
		Asset:     cfg.StakeAsset,
		Amount:    new(big.Int).Set(amount),
		Remaining: new(big.Int).Set(pos.StakedAmount),
	})
	return new(big.Int).Set(pos.StakedAmount), nil
}

// BalanceOf returns the staked amount recorded for account.
func (e *Engine) BalanceOf(account common.Address) (*big.Int, error) {
	if e == nil || e.state == nil {
		return nil, errNilState
	}
	pos, err := e.loadPosition(account)
	if err != nil {
		return nil, err
	}
	return pos.StakedAmount, nil
}

// Position returns the staking record for account together with its derived
// unlock time and pending reward.
func (e *Engine) Position(account common.Address) (PositionView, error) {
	cfg, err := e.loadConfig()
	if err != nil {
		return PositionView{}, err
	}
	pos, err := e.loadPosition(account)
	if err != nil {
		return PositionView{}, err
	}
	now := e.now()
	view := PositionView{
		Owner:          account,
		StakedAmount:   pos.StakedAmount,
		StakeTimestamp: pos.StakeTimestamp,
		PendingReward:  pendingReward(cfg, pos, now),
		TotalClaimed:   pos.TotalClaimed,
	}
	if pos.StakedAmount.Sign() > 0 {
		view.UnlockAt = unlockAt(pos.StakeTimestamp, cfg.LockTimePeriod)
		view.Unlocked = now >= view.UnlockAt
	}
	return view, nil
}

// unlockAt saturates instead of wrapping for very long lock periods.
func unlockAt(stakedAt, lock uint64) uint64 {
	if lock > math.MaxUint64-stakedAt {
		return math.MaxUint64
	}
	return stakedAt + lock
}
