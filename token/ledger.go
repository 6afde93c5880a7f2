// Package token provides fungible asset ledgers that the staking engine moves
// value through.
package token

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/rlp"
	"github.com/holiman/uint256"

	"polsstake/storage"
)

var (
	ErrInvalidAmount       = errors.New("token ledger: amount must be positive")
	ErrInsufficientBalance = errors.New("token ledger: insufficient balance")
	ErrInvalidAsset        = errors.New("token ledger: asset identifier required")
	ErrBalanceOverflow     = errors.New("token ledger: balance exceeds 256 bits")
)

var balancePrefix = []byte("token:balance:")

func balanceKey(asset string, owner common.Address) []byte {
	buf := make([]byte, 0, len(balancePrefix)+len(asset)+1+common.AddressLength)
	buf = append(buf, balancePrefix...)
	buf = append(buf, asset...)
	buf = append(buf, ':')
	buf = append(buf, owner.Bytes()...)
	return ethcrypto.Keccak256(buf)
}

// Transfer is a journal entry describing a completed movement of value.
type Transfer struct {
	Asset  string
	From   common.Address
	To     common.Address
	Amount *big.Int
}

// TransferHook observes a transfer before it is applied. Returning an error
// aborts the transfer.
type TransferHook func(ctx context.Context, transfer Transfer) error

// Ledger is an in-process multi-asset balance sheet. TransferIn and
// TransferOut move value between participants and the custody account, which
// makes a Ledger usable as the staking engine's token gateway.
type Ledger struct {
	mu      sync.Mutex
	db      storage.Database
	custody common.Address

	hook      TransferHook
	failNext  error
	transfers []Transfer
}

// NewLedger returns a ledger persisting balances in db.
func NewLedger(db storage.Database, custody common.Address) *Ledger {
	return &Ledger{db: db, custody: custody}
}

// Custody returns the account used by TransferIn and TransferOut.
func (l *Ledger) Custody() common.Address { return l.custody }

// OnTransfer installs a hook run before every transfer. Passing nil removes
// the hook.
func (l *Ledger) OnTransfer(hook TransferHook) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.hook = hook
}

// FailNext makes the next transfer fail with err without moving value.
func (l *Ledger) FailNext(err error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.failNext = err
}

// Transfers returns a copy of the journal of completed transfers.
func (l *Ledger) Transfers() []Transfer {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]Transfer, len(l.transfers))
	for i, t := range l.transfers {
		t.Amount = new(big.Int).Set(t.Amount)
		out[i] = t
	}
	return out
}

// Mint credits amount of asset to owner out of thin air.
func (l *Ledger) Mint(asset string, owner common.Address, amount *big.Int) error {
	asset, err := normalizeAsset(asset)
	if err != nil {
		return err
	}
	if amount == nil || amount.Sign() <= 0 {
		return ErrInvalidAmount
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	balance, err := l.balance(asset, owner)
	if err != nil {
		return err
	}
	batch := l.db.NewBatch()
	if err := putBalance(batch, asset, owner, new(big.Int).Add(balance, amount)); err != nil {
		return err
	}
	return batch.Write()
}

// BalanceOf reports the holdings of owner in asset.
func (l *Ledger) BalanceOf(_ context.Context, asset string, owner common.Address) (*big.Int, error) {
	asset, err := normalizeAsset(asset)
	if err != nil {
		return nil, err
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.balance(asset, owner)
}

// TransferIn moves amount of asset from owner into custody.
func (l *Ledger) TransferIn(ctx context.Context, asset string, from common.Address, amount *big.Int) error {
	return l.Transfer(ctx, asset, from, l.custody, amount)
}

// TransferOut moves amount of asset from custody to the recipient.
func (l *Ledger) TransferOut(ctx context.Context, asset string, to common.Address, amount *big.Int) error {
	return l.Transfer(ctx, asset, l.custody, to, amount)
}

// Transfer moves amount of asset between two accounts. Both balances are
// written in one batch.
func (l *Ledger) Transfer(ctx context.Context, asset string, from, to common.Address, amount *big.Int) error {
	asset, err := normalizeAsset(asset)
	if err != nil {
		return err
	}
	if amount == nil || amount.Sign() <= 0 {
		return ErrInvalidAmount
	}
	transfer := Transfer{Asset: asset, From: from, To: to, Amount: new(big.Int).Set(amount)}

	l.mu.Lock()
	if injected := l.failNext; injected != nil {
		l.failNext = nil
		l.mu.Unlock()
		return injected
	}
	hook := l.hook
	l.mu.Unlock()

	// The hook runs unlocked so it may read balances or call back into
	// whatever issued the transfer.
	if hook != nil {
		if err := hook(ctx, transfer); err != nil {
			return err
		}
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	fromBalance, err := l.balance(asset, from)
	if err != nil {
		return err
	}
	if fromBalance.Cmp(amount) < 0 {
		return fmt.Errorf("%w: %s holds %s %s, needs %s", ErrInsufficientBalance, from.Hex(), fromBalance, asset, amount)
	}
	if from != to {
		toBalance, err := l.balance(asset, to)
		if err != nil {
			return err
		}
		batch := l.db.NewBatch()
		if err := putBalance(batch, asset, from, new(big.Int).Sub(fromBalance, amount)); err != nil {
			return err
		}
		if err := putBalance(batch, asset, to, new(big.Int).Add(toBalance, amount)); err != nil {
			return err
		}
		if err := batch.Write(); err != nil {
			return err
		}
	}
	l.transfers = append(l.transfers, transfer)
	return nil
}

func (l *Ledger) balance(asset string, owner common.Address) (*big.Int, error) {
	data, err := l.db.Get(balanceKey(asset, owner))
	if errors.Is(err, storage.ErrNotFound) {
		return big.NewInt(0), nil
	}
	if err != nil {
		return nil, err
	}
	stored := new(uint256.Int)
	if err := rlp.DecodeBytes(data, stored); err != nil {
		return nil, fmt.Errorf("token ledger: decode balance: %w", err)
	}
	return stored.ToBig(), nil
}

func putBalance(batch storage.Batch, asset string, owner common.Address, amount *big.Int) error {
	value, overflow := uint256.FromBig(amount)
	if overflow {
		return ErrBalanceOverflow
	}
	encoded, err := rlp.EncodeToBytes(value)
	if err != nil {
		return err
	}
	batch.Put(balanceKey(asset, owner), encoded)
	return nil
}

func normalizeAsset(asset string) (string, error) {
	normalized := strings.ToUpper(strings.TrimSpace(asset))
	if normalized == "" {
		return "", ErrInvalidAsset
	}
	return normalized, nil
}
