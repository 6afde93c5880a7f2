package stake

import (
	"context"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/common"
)

// TokenGateway moves units of a fungible asset in and out of the engine's
// custody account. Implementations must report failure through the returned
// error; the engine never assumes a transfer succeeded.
type TokenGateway interface {
	// TransferIn pulls amount of asset from the owner into custody.
	TransferIn(ctx context.Context, asset string, from common.Address, amount *big.Int) error
	// TransferOut pays amount of asset from custody to the recipient.
	TransferOut(ctx context.Context, asset string, to common.Address, amount *big.Int) error
	// BalanceOf reports the holdings of owner in asset.
	BalanceOf(ctx context.Context, asset string, owner common.Address) (*big.Int, error)
}

// Config captures the global staking parameters. Amount values are expressed
// in the smallest unit of the respective asset.
type Config struct {
	// Admin is the single identity allowed to mutate the configuration.
	Admin common.Address
	// StakeAsset identifies the asset held in custody on behalf of stakers.
	StakeAsset string
	// RewardAsset identifies the asset paid out on claims. Empty until set.
	RewardAsset string
	// LockTimePeriod is the number of seconds a stake must remain in custody
	// before it can be withdrawn. It only ever decreases.
	LockTimePeriod uint64
	// LockInitialized records that the admin has changed the lock period at
	// least once since genesis.
	LockInitialized bool
	// RewardFactor is the reward accrued per staked unit per second, before
	// RewardFactorScale is applied.
	RewardFactor *big.Int
	// RewardFactorScale divides factor × amount × duration. Always ≥ 1.
	RewardFactorScale *big.Int
	// TotalStaked is the sum of every account's staked amount.
	TotalStaked *big.Int

	// RewardIndex is the reward earned by one staked unit since genesis, in
	// units of 1/rewardIndexPrecision. It is advanced to RewardIndexUpdatedAt
	// whenever the configuration is committed, so factor and scale changes
	// only price time that follows them.
	RewardIndex *big.Int
	// RewardIndexRemainder carries the part of the last advance that did not
	// divide evenly by RewardFactorScale.
	RewardIndexRemainder *big.Int
	RewardIndexUpdatedAt uint64
}

// Clone returns a deep copy of the configuration.
func (c *Config) Clone() *Config {
	if c == nil {
		return nil
	}
	cloned := *c
	cloned.RewardFactor = cloneBigInt(c.RewardFactor)
	cloned.RewardFactorScale = cloneBigInt(c.RewardFactorScale)
	cloned.TotalStaked = cloneBigInt(c.TotalStaked)
	cloned.RewardIndex = cloneBigInt(c.RewardIndex)
	cloned.RewardIndexRemainder = cloneBigInt(c.RewardIndexRemainder)
	return &cloned
}

func (c *Config) ensureDefaults() {
	if c.RewardFactor == nil {
		c.RewardFactor = big.NewInt(0)
	}
	if c.RewardFactorScale == nil || c.RewardFactorScale.Sign() <= 0 {
		c.RewardFactorScale = big.NewInt(1)
	}
	if c.TotalStaked == nil {
		c.TotalStaked = big.NewInt(0)
	}
	if c.RewardIndex == nil {
		c.RewardIndex = big.NewInt(0)
	}
	if c.RewardIndexRemainder == nil {
		c.RewardIndexRemainder = big.NewInt(0)
	}
}

// Position is the per-account staking record. It is created lazily on the
// first deposit and retained with a zero balance after a full withdrawal.
type Position struct {
	Owner common.Address
	// StakedAmount is the quantity of the stake asset held for the owner.
	StakedAmount *big.Int
	// StakeTimestamp is the unix time of the latest deposit; the lock window
	// is measured from it.
	StakeTimestamp uint64
	// IndexSnapshot is the global reward index at the last checkpoint; the
	// open window accrues StakedAmount × (index − IndexSnapshot).
	IndexSnapshot *big.Int
	// AccruedReward carries reward earned in earlier accrual windows.
	AccruedReward *big.Int
	// RewardDebt is the reward already settled against the current window
	// and the carried amount.
	RewardDebt *big.Int
	// TotalClaimed is the lifetime reward paid to the owner.
	TotalClaimed *big.Int
}

// Clone returns a deep copy of the position.
func (p *Position) Clone() *Position {
	if p == nil {
		return nil
	}
	cloned := *p
	cloned.StakedAmount = cloneBigInt(p.StakedAmount)
	cloned.IndexSnapshot = cloneBigInt(p.IndexSnapshot)
	cloned.AccruedReward = cloneBigInt(p.AccruedReward)
	cloned.RewardDebt = cloneBigInt(p.RewardDebt)
	cloned.TotalClaimed = cloneBigInt(p.TotalClaimed)
	return &cloned
}

func newPosition(owner common.Address) *Position {
	return &Position{
		Owner:         owner,
		StakedAmount:  big.NewInt(0),
		IndexSnapshot: big.NewInt(0),
		AccruedReward: big.NewInt(0),
		RewardDebt:    big.NewInt(0),
		TotalClaimed:  big.NewInt(0),
	}
}

func (p *Position) ensureDefaults() {
	if p.StakedAmount == nil {
		p.StakedAmount = big.NewInt(0)
	}
	if p.IndexSnapshot == nil {
		p.IndexSnapshot = big.NewInt(0)
	}
	if p.AccruedReward == nil {
		p.AccruedReward = big.NewInt(0)
	}
	if p.RewardDebt == nil {
		p.RewardDebt = big.NewInt(0)
	}
	if p.TotalClaimed == nil {
		p.TotalClaimed = big.NewInt(0)
	}
}

// PositionView is the read model returned to callers.
type PositionView struct {
	Owner          common.Address
	StakedAmount   *big.Int
	StakeTimestamp uint64
	UnlockAt       uint64
	Unlocked       bool
	PendingReward  *big.Int
	TotalClaimed   *big.Int
}

// Genesis seeds the configuration when the engine is first initialised.
type Genesis struct {
	Admin             common.Address
	StakeAsset        string
	RewardAsset       string
	LockTimePeriod    uint64
	RewardFactor      *big.Int
	RewardFactorScale *big.Int
}

// NormalizeAsset trims and upper-cases an asset identifier.
func NormalizeAsset(asset string) string {
	return strings.ToUpper(strings.TrimSpace(asset))
}

func cloneBigInt(v *big.Int) *big.Int {
	if v == nil {
		return big.NewInt(0)
	}
	return new(big.Int).Set(v)
}
