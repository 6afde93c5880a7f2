package state

import (
	"errors"
	"fmt"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/rlp"
	"github.com/holiman/uint256"

	"polsstake/native/stake"
	"polsstake/storage"
)

var (
	stakeConfigKey      = ethcrypto.Keccak256([]byte("stake:config"))
	stakeOwnerIndexKey  = ethcrypto.Keccak256([]byte("stake:owners"))
	stakePositionPrefix = []byte("stake:position:")

	errAmountOverflow = errors.New("state: amount exceeds 256 bits")
)

func stakePositionKey(owner common.Address) []byte {
	buf := make([]byte, len(stakePositionPrefix)+common.AddressLength)
	copy(buf, stakePositionPrefix)
	copy(buf[len(stakePositionPrefix):], owner.Bytes())
	return ethcrypto.Keccak256(buf)
}

type storedStakeConfig struct {
	Admin             common.Address
	StakeAsset        string
	RewardAsset       string
	LockTimePeriod    uint64
	LockInitialized   bool
	RewardFactor      *uint256.Int
	RewardFactorScale *uint256.Int
	TotalStaked       *uint256.Int
	RewardIndex       *uint256.Int
	IndexRemainder    *uint256.Int
	IndexUpdatedAt    uint64
}

type storedStakePosition struct {
	StakedAmount   *uint256.Int
	StakeTimestamp uint64
	IndexSnapshot  *uint256.Int
	AccruedReward  *uint256.Int
	RewardDebt     *uint256.Int
	TotalClaimed   *uint256.Int
}

func toU256(v *big.Int) (*uint256.Int, error) {
	if v == nil {
		return uint256.NewInt(0), nil
	}
	if v.Sign() < 0 {
		return nil, fmt.Errorf("state: negative amount %s", v)
	}
	out, overflow := uint256.FromBig(v)
	if overflow {
		return nil, errAmountOverflow
	}
	return out, nil
}

func fromU256(v *uint256.Int) *big.Int {
	if v == nil {
		return big.NewInt(0)
	}
	return v.ToBig()
}

// StakeStore persists staking configuration and positions in a key/value
// database. Each commit is written as a single batch.
type StakeStore struct {
	db storage.Database
	// commits are serialised so the owner index read-modify-write is atomic.
	mu sync.Mutex
}

// NewStakeStore wraps db. The store does not take ownership of db.
func NewStakeStore(db storage.Database) *StakeStore {
	return &StakeStore{db: db}
}

// StakeConfig returns the stored configuration or nil when none has been
// committed.
func (s *StakeStore) StakeConfig() (*stake.Config, error) {
	data, err := s.db.Get(stakeConfigKey)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	stored := new(storedStakeConfig)
	if err := rlp.DecodeBytes(data, stored); err != nil {
		return nil, fmt.Errorf("state: decode stake config: %w", err)
	}
	return &stake.Config{
		Admin:             stored.Admin,
		StakeAsset:        stored.StakeAsset,
		RewardAsset:       stored.RewardAsset,
		LockTimePeriod:    stored.LockTimePeriod,
		LockInitialized:   stored.LockInitialized,
		RewardFactor:      fromU256(stored.RewardFactor),
		RewardFactorScale: fromU256(stored.RewardFactorScale),
		TotalStaked:       fromU256(stored.TotalStaked),

		RewardIndex:          fromU256(stored.RewardIndex),
		RewardIndexRemainder: fromU256(stored.IndexRemainder),
		RewardIndexUpdatedAt: stored.IndexUpdatedAt,
	}, nil
}

// StakePosition returns the stored position for owner or nil when the owner
// has never staked.
func (s *StakeStore) StakePosition(owner common.Address) (*stake.Position, error) {
	data, err := s.db.Get(stakePositionKey(owner))
	if errors.Is(err, storage.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	stored := new(storedStakePosition)
	if err := rlp.DecodeBytes(data, stored); err != nil {
		return nil, fmt.Errorf("state: decode stake position %s: %w", owner.Hex(), err)
	}
	return &stake.Position{
		Owner:          owner,
		StakedAmount:   fromU256(stored.StakedAmount),
		StakeTimestamp: stored.StakeTimestamp,
		IndexSnapshot:  fromU256(stored.IndexSnapshot),
		AccruedReward:  fromU256(stored.AccruedReward),
		RewardDebt:     fromU256(stored.RewardDebt),
		TotalClaimed:   fromU256(stored.TotalClaimed),
	}, nil
}

// StakeOwners lists every account that has a stored position, in first-stake
// order.
func (s *StakeStore) StakeOwners() ([]common.Address, error) {
	data, err := s.db.Get(stakeOwnerIndexKey)
	if errors.Is(err, storage.ErrNotFound) {
		return []common.Address{}, nil
	}
	if err != nil {
		return nil, err
	}
	var owners []common.Address
	if err := rlp.DecodeBytes(data, &owners); err != nil {
		return nil, fmt.Errorf("state: decode stake owners: %w", err)
	}
	return owners, nil
}

// StakeCommit writes cfg (when non-nil) and positions in one batch.
func (s *StakeStore) StakeCommit(cfg *stake.Config, positions ...*stake.Position) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	batch := s.db.NewBatch()
	if cfg != nil {
		encoded, err := encodeStakeConfig(cfg)
		if err != nil {
			return err
		}
		batch.Put(stakeConfigKey, encoded)
	}

	var added []common.Address
	for _, pos := range positions {
		if pos == nil {
			continue
		}
		encoded, err := encodeStakePosition(pos)
		if err != nil {
			return err
		}
		key := stakePositionKey(pos.Owner)
		exists, err := s.db.Has(key)
		if err != nil {
			return err
		}
		if !exists {
			added = append(added, pos.Owner)
		}
		batch.Put(key, encoded)
	}
	if len(added) > 0 {
		owners, err := s.StakeOwners()
		if err != nil {
			return err
		}
		encoded, err := rlp.EncodeToBytes(append(owners, added...))
		if err != nil {
			return err
		}
		batch.Put(stakeOwnerIndexKey, encoded)
	}
	if batch.Len() == 0 {
		return nil
	}
	return batch.Write()
}

func encodeStakeConfig(cfg *stake.Config) ([]byte, error) {
	factor, err := toU256(cfg.RewardFactor)
	if err != nil {
		return nil, fmt.Errorf("state: reward factor: %w", err)
	}
	scale, err := toU256(cfg.RewardFactorScale)
	if err != nil {
		return nil, fmt.Errorf("state: reward factor scale: %w", err)
	}
	total, err := toU256(cfg.TotalStaked)
	if err != nil {
		return nil, fmt.Errorf("state: total staked: %w", err)
	}
	index, err := toU256(cfg.RewardIndex)
	if err != nil {
		return nil, fmt.Errorf("state: reward index: %w", err)
	}
	remainder, err := toU256(cfg.RewardIndexRemainder)
	if err != nil {
		return nil, fmt.Errorf("state: reward index remainder: %w", err)
	}
	return rlp.EncodeToBytes(&storedStakeConfig{
		Admin:             cfg.Admin,
		StakeAsset:        cfg.StakeAsset,
		RewardAsset:       cfg.RewardAsset,
		LockTimePeriod:    cfg.LockTimePeriod,
		LockInitialized:   cfg.LockInitialized,
		RewardFactor:      factor,
		RewardFactorScale: scale,
		TotalStaked:       total,
		RewardIndex:       index,
		IndexRemainder:    remainder,
		IndexUpdatedAt:    cfg.RewardIndexUpdatedAt,
	})
}

func encodeStakePosition(pos *stake.Position) ([]byte, error) {
	staked, err := toU256(pos.StakedAmount)
	if err != nil {
		return nil, fmt.Errorf("state: staked amount: %w", err)
	}
	snapshot, err := toU256(pos.IndexSnapshot)
	if err != nil {
		return nil, fmt.Errorf("state: index snapshot: %w", err)
	}
	accrued, err := toU256(pos.AccruedReward)
	if err != nil {
		return nil, fmt.Errorf("state: accrued reward: %w", err)
	}
	debt, err := toU256(pos.RewardDebt)
	if err != nil {
		return nil, fmt.Errorf("state: reward debt: %w", err)
	}
	claimed, err := toU256(pos.TotalClaimed)
	if err != nil {
		return nil, fmt.Errorf("state: total claimed: %w", err)
	}
	return rlp.EncodeToBytes(&storedStakePosition{
		StakedAmount:   staked,
		StakeTimestamp: pos.StakeTimestamp,
		IndexSnapshot:  snapshot,
		AccruedReward:  accrued,
		RewardDebt:     debt,
		TotalClaimed:   claimed,
	})
}
