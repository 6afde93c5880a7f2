package token

import (
	"context"
	"errors"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"

	"polsstake/storage"
)

var (
	custody = common.HexToAddress("0xc0")
	alice   = common.HexToAddress("0x0a")
)

func mustBalance(t *testing.T, l *Ledger, asset string, owner common.Address) int64 {
	t.Helper()
	bal, err := l.BalanceOf(context.Background(), asset, owner)
	if err != nil {
		t.Fatalf("balance: %v", err)
	}
	return bal.Int64()
}

func TestLedgerTransferInAndOut(t *testing.T) {
	l := NewLedger(storage.NewMemDB(), custody)
	if err := l.Mint("pols", alice, big.NewInt(1000)); err != nil {
		t.Fatalf("mint: %v", err)
	}
	ctx := context.Background()
	if err := l.TransferIn(ctx, "POLS", alice, big.NewInt(400)); err != nil {
		t.Fatalf("transfer in: %v", err)
	}
	if got := mustBalance(t, l, "POLS", alice); got != 600 {
		t.Fatalf("alice balance: got %d want 600", got)
	}
	if got := mustBalance(t, l, "POLS", custody); got != 400 {
		t.Fatalf("custody balance: got %d want 400", got)
	}
	if err := l.TransferOut(ctx, "POLS", alice, big.NewInt(150)); err != nil {
		t.Fatalf("transfer out: %v", err)
	}
	if got := mustBalance(t, l, "POLS", custody); got != 250 {
		t.Fatalf("custody balance: got %d want 250", got)
	}

	journal := l.Transfers()
	if len(journal) != 2 {
		t.Fatalf("expected 2 journal entries, got %d", len(journal))
	}
	if journal[1].From != custody || journal[1].To != alice || journal[1].Amount.Int64() != 150 {
		t.Fatalf("unexpected journal entry: %+v", journal[1])
	}
}

func TestLedgerRejectsOverdraft(t *testing.T) {
	l := NewLedger(storage.NewMemDB(), custody)
	err := l.TransferOut(context.Background(), "POLS", alice, big.NewInt(1))
	if !errors.Is(err, ErrInsufficientBalance) {
		t.Fatalf("expected insufficient balance, got %v", err)
	}
	if err := l.Transfer(context.Background(), "POLS", alice, custody, big.NewInt(0)); !errors.Is(err, ErrInvalidAmount) {
		t.Fatalf("expected invalid amount, got %v", err)
	}
	if err := l.Mint(" ", alice, big.NewInt(1)); !errors.Is(err, ErrInvalidAsset) {
		t.Fatalf("expected invalid asset, got %v", err)
	}
	if len(l.Transfers()) != 0 {
		t.Fatalf("failed transfers must not be journalled")
	}
}

func TestLedgerFailNextAndHook(t *testing.T) {
	l := NewLedger(storage.NewMemDB(), custody)
	if err := l.Mint("POLS", alice, big.NewInt(10)); err != nil {
		t.Fatalf("mint: %v", err)
	}
	boom := errors.New("boom")
	l.FailNext(boom)
	if err := l.TransferIn(context.Background(), "POLS", alice, big.NewInt(5)); !errors.Is(err, boom) {
		t.Fatalf("expected injected failure, got %v", err)
	}
	if got := mustBalance(t, l, "POLS", alice); got != 10 {
		t.Fatalf("balance changed after injected failure: %d", got)
	}

	var seen []Transfer
	l.OnTransfer(func(ctx context.Context, tr Transfer) error {
		// Reads from inside the hook must not deadlock.
		if _, err := l.BalanceOf(ctx, tr.Asset, tr.From); err != nil {
			return err
		}
		seen = append(seen, tr)
		return nil
	})
	if err := l.TransferIn(context.Background(), "POLS", alice, big.NewInt(5)); err != nil {
		t.Fatalf("transfer: %v", err)
	}
	if len(seen) != 1 || seen[0].Amount.Int64() != 5 {
		t.Fatalf("hook not invoked as expected: %+v", seen)
	}

	l.OnTransfer(func(context.Context, Transfer) error { return boom })
	if err := l.TransferIn(context.Background(), "POLS", alice, big.NewInt(5)); !errors.Is(err, boom) {
		t.Fatalf("expected hook error, got %v", err)
	}
	if got := mustBalance(t, l, "POLS", alice); got != 5 {
		t.Fatalf("hook failure must not move value, balance %d", got)
	}
}

func TestLedgerPersistsAcrossReopen(t *testing.T) {
	dir := t.TempDir()
	db, err := storage.NewLevelDB(dir)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if err := NewLedger(db, custody).Mint("POLS", alice, big.NewInt(42)); err != nil {
		t.Fatalf("mint: %v", err)
	}
	db.Close()

	reopened, err := storage.NewLevelDB(dir)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer reopened.Close()
	if got := mustBalance(t, NewLedger(reopened, custody), "pols", alice); got != 42 {
		t.Fatalf("balance after reopen: got %d want 42", got)
	}
}
