package rpc

import (
	"context"
	"encoding/json"
	"math/big"
	"strings"
	"testing"
	"time"

	"nhooyr.io/websocket"

	"polsstake/core/events"
	"polsstake/gateway/middleware"
)

func readUpdate(t *testing.T, ctx context.Context, conn *websocket.Conn) events.Update {
	t.Helper()
	_, data, err := conn.Read(ctx)
	if err != nil {
		t.Fatalf("read update: %v", err)
	}
	var update events.Update
	if err := json.Unmarshal(data, &update); err != nil {
		t.Fatalf("decode update: %v", err)
	}
	return update
}

func TestEventStreamReplaysFromCursor(t *testing.T) {
	env := newTestEnv(t, middleware.AuthConfig{})
	env.mint(t, "POLS", aliceAddr, 30)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	for i := 0; i < 3; i++ {
		if _, err := env.engine.Stake(ctx, aliceAddr, big.NewInt(10)); err != nil {
			t.Fatalf("stake %d: %v", i, err)
		}
	}

	url := "ws" + strings.TrimPrefix(env.http.URL, "http") + "/ws/events?cursor=1"
	conn, _, err := websocket.Dial(ctx, url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close(websocket.StatusNormalClosure, "")

	for _, want := range []uint64{2, 3} {
		update := readUpdate(t, ctx, conn)
		if update.Sequence != want {
			t.Fatalf("replayed sequence %d, want %d", update.Sequence, want)
		}
		if update.Event.Type != events.TypeStakeDeposited {
			t.Fatalf("unexpected event type %s", update.Event.Type)
		}
	}

	cfgBefore, err := env.engine.LockTimePeriod()
	if err != nil {
		t.Fatalf("lock period: %v", err)
	}
	if err := env.engine.SetLockTimePeriod(ctx, adminAddr, cfgBefore/2); err != nil {
		t.Fatalf("set lock: %v", err)
	}
	live := readUpdate(t, ctx, conn)
	if live.Sequence != 4 || live.Event.Type != events.TypeStakeLockPeriodUpdated {
		t.Fatalf("unexpected live update %+v", live)
	}
}
