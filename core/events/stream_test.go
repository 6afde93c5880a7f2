package events

import (
	"context"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
)

func TestStreamBacklogHonoursCursor(t *testing.T) {
	stream := NewStream(2)
	account := common.HexToAddress("0x01")
	for i := int64(1); i <= 3; i++ {
		stream.Emit(StakeDeposited{Account: account, Asset: "pols", Amount: big.NewInt(i), Staked: big.NewInt(i)})
	}

	_, cancel, backlog := stream.Subscribe(context.Background(), "")
	defer cancel()
	if len(backlog) != 2 {
		t.Fatalf("expected history trimmed to 2 entries, got %d", len(backlog))
	}
	if backlog[0].Sequence != 2 || backlog[1].Sequence != 3 {
		t.Fatalf("unexpected sequences: %d, %d", backlog[0].Sequence, backlog[1].Sequence)
	}
	if got := backlog[1].Event.Attribute("amount"); got != "3" {
		t.Fatalf("unexpected amount attribute %q", got)
	}
	if got := backlog[1].Event.Attribute("asset"); got != "POLS" {
		t.Fatalf("asset not normalised: %q", got)
	}

	_, cancelAfter, resumed := stream.Subscribe(context.Background(), "2")
	defer cancelAfter()
	if len(resumed) != 1 || resumed[0].Cursor != "3" {
		t.Fatalf("expected single update after cursor 2, got %+v", resumed)
	}
}

func TestStreamDeliversLiveUpdates(t *testing.T) {
	stream := NewStream(0)
	ctx, stop := context.WithCancel(context.Background())
	updates, _, backlog := stream.Subscribe(ctx, "")
	if len(backlog) != 0 {
		t.Fatalf("expected empty backlog")
	}

	stream.Emit(StakeLockPeriodUpdated{Previous: 14, Current: 7})
	update := <-updates
	if update.Event.Type != TypeStakeLockPeriodUpdated {
		t.Fatalf("unexpected event type %s", update.Event.Type)
	}
	if update.Event.Attribute("value") != "7" || update.Event.Attribute("previous") != "14" {
		t.Fatalf("unexpected attributes %+v", update.Event.Attributes)
	}

	stop()
	for range updates {
	}
}

func TestFanoutAndRecorder(t *testing.T) {
	first := &Recorder{}
	second := &Recorder{}
	Fanout{first, nil, second}.Emit(StakeWithdrawn{Amount: big.NewInt(5)})
	if len(first.Types()) != 1 || len(second.Types()) != 1 {
		t.Fatalf("expected both recorders to observe the event")
	}
	if first.Types()[0] != TypeStakeWithdrawn {
		t.Fatalf("unexpected type %s", first.Types()[0])
	}
}
