package stake

import (
	"context"
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"polsstake/core/events"
)

// adminTransition loads the configuration and checks the caller against the
// administrative authority.
func (e *Engine) adminTransition(caller common.Address) (*Config, error) {
	cfg, err := e.loadConfig()
	if err != nil {
		return nil, err
	}
	if isZeroAddress(caller) || caller != cfg.Admin {
		return nil, ErrUnauthorized
	}
	return cfg, nil
}

// SetLockTimePeriod lowers the lock period. Values above the current period
// are rejected so committed stakers never see their window lengthened.
func (e *Engine) SetLockTimePeriod(ctx context.Context, caller common.Address, seconds uint64) (err error) {
	defer func() { e.observe(events.StakeOperationConfigure, err) }()
	_, release, err := e.enter(ctx)
	if err != nil {
		return err
	}
	defer release()

	cfg, err := e.adminTransition(caller)
	if err != nil {
		return err
	}
	if seconds > cfg.LockTimePeriod {
		return ErrLockPeriodIncreaseRejected
	}
	previous := cfg.LockTimePeriod
	cfg.LockTimePeriod = seconds
	cfg.LockInitialized = true
	if err := e.state.StakeCommit(cfg); err != nil {
		return err
	}
	e.metrics.SetLockPeriod(seconds)
	e.emit(events.StakeLockPeriodUpdated{Admin: caller, Previous: previous, Current: seconds})
	return nil
}

// SetRewardAsset replaces the asset paid out on claims.
func (e *Engine) SetRewardAsset(ctx context.Context, caller common.Address, asset string) (err error) {
	defer func() { e.observe(events.StakeOperationConfigure, err) }()
	_, release, err := e.enter(ctx)
	if err != nil {
		return err
	}
	defer release()

	cfg, err := e.adminTransition(caller)
	if err != nil {
		return err
	}
	normalized := NormalizeAsset(asset)
	if normalized == "" {
		return ErrInvalidAsset
	}
	previous := cfg.RewardAsset
	cfg.RewardAsset = normalized
	if err := e.state.StakeCommit(cfg); err != nil {
		return err
	}
	e.emit(events.StakeRewardAssetUpdated{Admin: caller, Previous: previous, Current: normalized})
	return nil
}

// SetStakeRewardFactor replaces the reward factor. Accrual up to now is closed
// at the old factor for every position before the new one takes effect.
func (e *Engine) SetStakeRewardFactor(ctx context.Context, caller common.Address, factor *big.Int) (err error) {
	defer func() { e.observe(events.StakeOperationConfigure, err) }()
	_, release, err := e.enter(ctx)
	if err != nil {
		return err
	}
	defer release()

	cfg, err := e.adminTransition(caller)
	if err != nil {
		return err
	}
	if factor == nil || factor.Sign() < 0 {
		return ErrInvalidFactor
	}
	advanceIndex(cfg, e.now())
	previous := cfg.RewardFactor
	cfg.RewardFactor = new(big.Int).Set(factor)
	if err := e.state.StakeCommit(cfg); err != nil {
		return err
	}
	e.emit(events.StakeRewardFactorUpdated{Admin: caller, Previous: previous, Current: new(big.Int).Set(factor)})
	return nil
}

// SetRewardFactorScale replaces the divisor applied to accrued reward. Like a
// factor change it only prices time that follows it.
func (e *Engine) SetRewardFactorScale(ctx context.Context, caller common.Address, scale *big.Int) (err error) {
	defer func() { e.observe(events.StakeOperationConfigure, err) }()
	_, release, err := e.enter(ctx)
	if err != nil {
		return err
	}
	defer release()

	cfg, err := e.adminTransition(caller)
	if err != nil {
		return err
	}
	if scale == nil || scale.Sign() <= 0 {
		return ErrInvalidScale
	}
	advanceIndex(cfg, e.now())
	previous := cfg.RewardFactorScale
	cfg.RewardFactorScale = new(big.Int).Set(scale)
	// The carried remainder is a fraction of the old scale.
	cfg.RewardIndexRemainder = new(big.Int).Mul(cfg.RewardIndexRemainder, scale)
	cfg.RewardIndexRemainder.Quo(cfg.RewardIndexRemainder, previous)
	if err := e.state.StakeCommit(cfg); err != nil {
		return err
	}
	e.emit(events.StakeRewardScaleUpdated{Admin: caller, Previous: previous, Current: new(big.Int).Set(scale)})
	return nil
}

// TransferAdmin hands the administrative authority to next.
func (e *Engine) TransferAdmin(ctx context.Context, caller, next common.Address) (err error) {
	defer func() { e.observe(events.StakeOperationConfigure, err) }()
	_, release, err := e.enter(ctx)
	if err != nil {
		return err
	}
	defer release()

	cfg, err := e.adminTransition(caller)
	if err != nil {
		return err
	}
	if isZeroAddress(next) {
		return ErrInvalidAdmin
	}
	cfg.Admin = next
	if err := e.state.StakeCommit(cfg); err != nil {
		return err
	}
	e.emit(events.StakeAdminTransferred{Previous: caller, Current: next})
	return nil
}
