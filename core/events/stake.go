package events

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"polsstake/core/types"
)

const (
	// TypeStakeDeposited is emitted when an account adds to its stake.
	TypeStakeDeposited = "stake.deposited"
	// TypeStakeWithdrawn is emitted when unlocked stake is returned to its owner.
	TypeStakeWithdrawn = "stake.withdrawn"
	// TypeStakeRewardClaimed is emitted when accrued reward is settled.
	TypeStakeRewardClaimed = "stake.reward_claimed"
	// TypeStakeLockPeriodUpdated is emitted when the admin lowers the lock period.
	TypeStakeLockPeriodUpdated = "stake.lock_period_updated"
	// TypeStakeRewardAssetUpdated is emitted when the reward asset changes.
	TypeStakeRewardAssetUpdated = "stake.reward_asset_updated"
	// TypeStakeRewardFactorUpdated is emitted when the reward factor changes.
	TypeStakeRewardFactorUpdated = "stake.reward_factor_updated"
	// TypeStakeRewardScaleUpdated is emitted when the reward factor divisor changes.
	TypeStakeRewardScaleUpdated = "stake.reward_scale_updated"
	// TypeStakeAdminTransferred is emitted when the administrative authority moves.
	TypeStakeAdminTransferred = "stake.admin_transferred"

	// StakeOperationDeposit identifies the deposit flow.
	StakeOperationDeposit = "deposit"
	// StakeOperationWithdraw identifies the withdrawal flow.
	StakeOperationWithdraw = "withdraw"
	// StakeOperationClaim identifies reward settlement.
	StakeOperationClaim = "claim"
	// StakeOperationConfigure identifies admin configuration changes.
	StakeOperationConfigure = "configure"
)

// StakeDeposited captures a successful deposit.
type StakeDeposited struct {
	Account   common.Address
	Asset     string
	Amount    *big.Int
	Staked    *big.Int
	Timestamp uint64
	UnlockAt  uint64
}

// EventType satisfies the Event interface.
func (StakeDeposited) EventType() string { return TypeStakeDeposited }

// Event converts the structured payload into a broadcastable event.
func (e StakeDeposited) Event() *types.Event {
	return &types.Event{
		Type: TypeStakeDeposited,
		Attributes: map[string]string{
			"account":   formatAddress(e.Account),
			"asset":     normalizeAsset(e.Asset),
			"amount":    formatAmount(e.Amount),
			"staked":    formatAmount(e.Staked),
			"timestamp": formatUint(e.Timestamp),
			"unlockAt":  formatUint(e.UnlockAt),
		},
	}
}

// StakeWithdrawn captures a successful withdrawal.
type StakeWithdrawn struct {
	Account   common.Address
	Asset     string
	Amount    *big.Int
	Remaining *big.Int
}

// EventType satisfies the Event interface.
func (StakeWithdrawn) EventType() string { return TypeStakeWithdrawn }

// Event converts the structured payload into a broadcastable event.
func (e StakeWithdrawn) Event() *types.Event {
	return &types.Event{
		Type: TypeStakeWithdrawn,
		Attributes: map[string]string{
			"account":   formatAddress(e.Account),
			"asset":     normalizeAsset(e.Asset),
			"amount":    formatAmount(e.Amount),
			"remaining": formatAmount(e.Remaining),
		},
	}
}

// StakeRewardClaimed captures a reward settlement.
type StakeRewardClaimed struct {
	Account      common.Address
	Asset        string
	Amount       *big.Int
	TotalClaimed *big.Int
}

// EventType satisfies the Event interface.
func (StakeRewardClaimed) EventType() string { return TypeStakeRewardClaimed }

// Event converts the structured payload into a broadcastable event.
func (e StakeRewardClaimed) Event() *types.Event {
	return &types.Event{
		Type: TypeStakeRewardClaimed,
		Attributes: map[string]string{
			"account":      formatAddress(e.Account),
			"asset":        normalizeAsset(e.Asset),
			"amount":       formatAmount(e.Amount),
			"totalClaimed": formatAmount(e.TotalClaimed),
		},
	}
}

// StakeLockPeriodUpdated captures a lock period change.
type StakeLockPeriodUpdated struct {
	Admin    common.Address
	Previous uint64
	Current  uint64
}

// EventType satisfies the Event interface.
func (StakeLockPeriodUpdated) EventType() string { return TypeStakeLockPeriodUpdated }

// Event converts the structured payload into a broadcastable event.
func (e StakeLockPeriodUpdated) Event() *types.Event {
	return &types.Event{
		Type: TypeStakeLockPeriodUpdated,
		Attributes: map[string]string{
			"account":  formatAddress(e.Admin),
			"previous": formatUint(e.Previous),
			"value":    formatUint(e.Current),
		},
	}
}

// StakeRewardAssetUpdated captures a reward asset change.
type StakeRewardAssetUpdated struct {
	Admin    common.Address
	Previous string
	Current  string
}

// EventType satisfies the Event interface.
func (StakeRewardAssetUpdated) EventType() string { return TypeStakeRewardAssetUpdated }

// Event converts the structured payload into a broadcastable event.
func (e StakeRewardAssetUpdated) Event() *types.Event {
	attrs := map[string]string{
		"account": formatAddress(e.Admin),
		"value":   normalizeAsset(e.Current),
	}
	if prev := normalizeAsset(e.Previous); prev != "" {
		attrs["previous"] = prev
	}
	return &types.Event{Type: TypeStakeRewardAssetUpdated, Attributes: attrs}
}

// StakeRewardFactorUpdated captures a reward factor change.
type StakeRewardFactorUpdated struct {
	Admin    common.Address
	Previous *big.Int
	Current  *big.Int
}

// EventType satisfies the Event interface.
func (StakeRewardFactorUpdated) EventType() string { return TypeStakeRewardFactorUpdated }

// Event converts the structured payload into a broadcastable event.
func (e StakeRewardFactorUpdated) Event() *types.Event {
	return &types.Event{
		Type: TypeStakeRewardFactorUpdated,
		Attributes: map[string]string{
			"account":  formatAddress(e.Admin),
			"previous": formatAmount(e.Previous),
			"value":    formatAmount(e.Current),
		},
	}
}

// StakeRewardScaleUpdated captures a change of the reward factor divisor.
type StakeRewardScaleUpdated struct {
	Admin    common.Address
	Previous *big.Int
	Current  *big.Int
}

// EventType satisfies the Event interface.
func (StakeRewardScaleUpdated) EventType() string { return TypeStakeRewardScaleUpdated }

// Event converts the structured payload into a broadcastable event.
func (e StakeRewardScaleUpdated) Event() *types.Event {
	return &types.Event{
		Type: TypeStakeRewardScaleUpdated,
		Attributes: map[string]string{
			"account":  formatAddress(e.Admin),
			"previous": formatAmount(e.Previous),
			"value":    formatAmount(e.Current),
		},
	}
}

// StakeAdminTransferred captures a hand-over of the administrative authority.
type StakeAdminTransferred struct {
	Previous common.Address
	Current  common.Address
}

// EventType satisfies the Event interface.
func (StakeAdminTransferred) EventType() string { return TypeStakeAdminTransferred }

// Event converts the structured payload into a broadcastable event.
func (e StakeAdminTransferred) Event() *types.Event {
	return &types.Event{
		Type: TypeStakeAdminTransferred,
		Attributes: map[string]string{
			"account": formatAddress(e.Previous),
			"value":   formatAddress(e.Current),
		},
	}
}
