package rpc

import (
	"bytes"
	"context"
	"encoding/json"
	"math/big"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"polsstake/core/events"
	"polsstake/core/state"
	"polsstake/gateway/middleware"
	"polsstake/native/stake"
	"polsstake/observability/metrics"
	"polsstake/storage"
	"polsstake/storage/eventlog"
	"polsstake/token"
)

const (
	testSecret   = "rpc-test-secret"
	testIssuer   = "staked"
	testAudience = "stake-rpc"
	day          = 24 * 60 * 60
)

var (
	adminAddr   = common.HexToAddress("0x00000000000000000000000000000000000000ad")
	custodyAddr = common.HexToAddress("0x00000000000000000000000000000000000000c0")
	aliceAddr   = common.HexToAddress("0x000000000000000000000000000000000000000a")
)

type testEnv struct {
	server  *Server
	http    *httptest.Server
	engine  *stake.Engine
	ledger  *token.Ledger
	stream  *events.Stream
	journal *eventlog.Journal
	now     int64
}

func newTestEnv(t *testing.T, auth middleware.AuthConfig) *testEnv {
	t.Helper()
	env := &testEnv{now: 1_700_000_000}
	env.ledger = token.NewLedger(storage.NewMemDB(), custodyAddr)
	env.stream = events.NewStream(64)

	dsn, err := eventlog.FileDSN(filepath.Join(t.TempDir(), "events.db"))
	if err != nil {
		t.Fatalf("event dsn: %v", err)
	}
	env.journal, err = eventlog.Open(eventlog.DriverSQLite, dsn)
	if err != nil {
		t.Fatalf("open journal: %v", err)
	}
	t.Cleanup(func() { _ = env.journal.Close() })

	env.engine = stake.NewEngine(custodyAddr)
	env.engine.SetState(state.NewStakeStore(storage.NewMemDB()))
	env.engine.SetGateway(env.ledger)
	env.engine.SetEmitter(events.Fanout{env.stream, env.journal})
	env.engine.SetNowFunc(func() int64 { return env.now })
	env.engine.SetMetrics(metrics.Stake())
	if err := env.engine.Init(context.Background(), stake.Genesis{
		Admin:             adminAddr,
		StakeAsset:        "POLS",
		RewardAsset:       "RWD",
		LockTimePeriod:    7 * day,
		RewardFactor:      big.NewInt(2),
		RewardFactorScale: big.NewInt(1),
	}); err != nil {
		t.Fatalf("init engine: %v", err)
	}

	if auth.Enabled {
		auth.HMACSecret = testSecret
		auth.Issuer = testIssuer
		auth.Audience = testAudience
	}
	env.server, err = NewServer(env.engine, env.stream, env.journal, ServerConfig{Auth: auth}, nil)
	if err != nil {
		t.Fatalf("new server: %v", err)
	}
	env.http = httptest.NewServer(env.server.Handler())
	t.Cleanup(env.http.Close)
	return env
}

func (env *testEnv) mint(t *testing.T, asset string, owner common.Address, amount int64) {
	t.Helper()
	if err := env.ledger.Mint(asset, owner, big.NewInt(amount)); err != nil {
		t.Fatalf("mint: %v", err)
	}
}

func issue(t *testing.T, subject common.Address, scopes ...string) string {
	t.Helper()
	token, err := middleware.IssueToken(testSecret, subject.Hex(), testIssuer, testAudience, time.Hour, scopes...)
	if err != nil {
		t.Fatalf("issue token: %v", err)
	}
	return token
}

// call posts a single JSON-RPC request and decodes the envelope.
func (env *testEnv) call(t *testing.T, token, method string, params interface{}) (int, RPCResponse) {
	t.Helper()
	req := map[string]interface{}{"jsonrpc": "2.0", "id": 1, "method": method}
	if params != nil {
		req["params"] = []interface{}{params}
	}
	body, err := json.Marshal(req)
	if err != nil {
		t.Fatalf("marshal request: %v", err)
	}
	httpReq, err := http.NewRequest(http.MethodPost, env.http.URL+"/", bytes.NewReader(body))
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if token != "" {
		httpReq.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := http.DefaultClient.Do(httpReq)
	if err != nil {
		t.Fatalf("post: %v", err)
	}
	defer resp.Body.Close()
	var out RPCResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		t.Fatalf("decode response (status %d): %v", resp.StatusCode, err)
	}
	return resp.StatusCode, out
}

func resultInto(t *testing.T, resp RPCResponse, out interface{}) {
	t.Helper()
	if resp.Error != nil {
		t.Fatalf("unexpected rpc error: %+v", resp.Error)
	}
	raw, err := json.Marshal(resp.Result)
	if err != nil {
		t.Fatalf("re-encode result: %v", err)
	}
	if err := json.Unmarshal(raw, out); err != nil {
		t.Fatalf("decode result: %v", err)
	}
}
