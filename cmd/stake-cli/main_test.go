package main

import (
	"bytes"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"polsstake/gateway/middleware"
)

type recordedCall struct {
	method string
	params interface{}
}

func stubRPC(t *testing.T, result string, rpcErr *rpcError, err error) *[]recordedCall {
	t.Helper()
	calls := &[]recordedCall{}
	prev := stakeRPCCall
	stakeRPCCall = func(method string, params interface{}) (json.RawMessage, *rpcError, error) {
		*calls = append(*calls, recordedCall{method: method, params: params})
		return json.RawMessage(result), rpcErr, err
	}
	t.Cleanup(func() { stakeRPCCall = prev })
	return calls
}

func TestDepositSendsAmount(t *testing.T) {
	calls := stubRPC(t, `{"account":"0x0a","staked":"1000"}`, nil, nil)
	var stdout, stderr bytes.Buffer
	if code := run([]string{"deposit", "1000"}, &stdout, &stderr); code != 0 {
		t.Fatalf("exit code %d: %s", code, stderr.String())
	}
	if len(*calls) != 1 || (*calls)[0].method != "stake_deposit" {
		t.Fatalf("unexpected calls %+v", *calls)
	}
	params := (*calls)[0].params.(map[string]string)
	if params["amount"] != "1000" {
		t.Fatalf("unexpected params %+v", params)
	}
	if !strings.Contains(stdout.String(), `"staked": "1000"`) {
		t.Fatalf("unexpected output %q", stdout.String())
	}
}

func TestAmountValidation(t *testing.T) {
	calls := stubRPC(t, `{}`, nil, nil)
	for _, args := range [][]string{{"deposit"}, {"deposit", "0"}, {"withdraw", "-1"}, {"withdraw", "ten"}} {
		var stdout, stderr bytes.Buffer
		if code := run(args, &stdout, &stderr); code != 1 {
			t.Fatalf("%v: expected exit 1, got %d", args, code)
		}
	}
	if len(*calls) != 0 {
		t.Fatalf("invalid input should not reach the server: %+v", *calls)
	}
}

func TestRPCErrorsAreReported(t *testing.T) {
	stubRPC(t, "", &rpcError{Code: -32030, Message: "stake still locked"}, nil)
	var stdout, stderr bytes.Buffer
	if code := run([]string{"withdraw", "5"}, &stdout, &stderr); code != 1 {
		t.Fatalf("expected exit 1, got %d", code)
	}
	if !strings.Contains(stderr.String(), "RPC error -32030: stake still locked") {
		t.Fatalf("unexpected stderr %q", stderr.String())
	}

	stubRPC(t, "", nil, errors.New("connection refused"))
	stderr.Reset()
	if code := run([]string{"claim"}, &stdout, &stderr); code != 1 {
		t.Fatalf("expected exit 1, got %d", code)
	}
	if !strings.Contains(stderr.String(), "connection refused") {
		t.Fatalf("unexpected stderr %q", stderr.String())
	}
}

func TestPositionRendering(t *testing.T) {
	stubRPC(t, `{"account":"0x000000000000000000000000000000000000000A","staked":"1000","stakeTimestamp":10,"unlockAt":20,"unlocked":true,"pendingReward":"5","totalClaimed":"0"}`, nil, nil)
	var stdout, stderr bytes.Buffer
	if code := run([]string{"position", "0x000000000000000000000000000000000000000a"}, &stdout, &stderr); code != 0 {
		t.Fatalf("exit code %d: %s", code, stderr.String())
	}
	out := stdout.String()
	for _, want := range []string{"Staked:         1000", "Unlock at:      20 (unlocked)", "Pending reward: 5"} {
		if !strings.Contains(out, want) {
			t.Fatalf("output missing %q:\n%s", want, out)
		}
	}
}

func TestSetLockAndEventsParams(t *testing.T) {
	calls := stubRPC(t, `[]`, nil, nil)
	var stdout, stderr bytes.Buffer
	if code := run([]string{"set-lock", "604800"}, &stdout, &stderr); code != 0 {
		t.Fatalf("set-lock exit %d: %s", code, stderr.String())
	}
	if code := run([]string{"events", "--type", "stake.deposited", "--limit", "5"}, &stdout, &stderr); code != 0 {
		t.Fatalf("events exit %d: %s", code, stderr.String())
	}
	if got := (*calls)[0].params.(map[string]uint64)["seconds"]; got != 604800 {
		t.Fatalf("unexpected seconds %d", got)
	}
	events := (*calls)[1].params.(map[string]interface{})
	if events["type"] != "stake.deposited" || events["limit"] != 5 {
		t.Fatalf("unexpected events params %+v", events)
	}
}

func TestGlobalFlags(t *testing.T) {
	prevEndpoint, prevToken := rpcEndpoint, rpcAuthToken
	t.Cleanup(func() { rpcEndpoint, rpcAuthToken = prevEndpoint, prevToken })

	rest, err := applyGlobalFlags([]string{"--rpc", "http://node:9000", "--token=abc", "config"})
	if err != nil {
		t.Fatalf("apply flags: %v", err)
	}
	if rpcEndpoint != "http://node:9000" || rpcAuthToken != "abc" {
		t.Fatalf("flags not applied: %s %s", rpcEndpoint, rpcAuthToken)
	}
	if len(rest) != 1 || rest[0] != "config" {
		t.Fatalf("unexpected remaining args %v", rest)
	}
	if _, err := applyGlobalFlags([]string{"--rpc"}); err == nil {
		t.Fatalf("expected missing value error")
	}
}

func TestCallStakeRPCSendsBearer(t *testing.T) {
	prevEndpoint, prevToken := rpcEndpoint, rpcAuthToken
	t.Cleanup(func() { rpcEndpoint, rpcAuthToken = prevEndpoint, prevToken })

	var gotAuth, gotMethod string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		var req struct {
			Method string `json:"method"`
		}
		_ = json.NewDecoder(r.Body).Decode(&req)
		gotMethod = req.Method
		_, _ = w.Write([]byte(`{"jsonrpc":"2.0","id":1,"result":{"seconds":60}}`))
	}))
	defer srv.Close()
	rpcEndpoint, rpcAuthToken = srv.URL, "tok"

	result, rpcErr, err := callStakeRPC("stake_lockTimePeriod", nil)
	if err != nil || rpcErr != nil {
		t.Fatalf("call failed: %v %+v", err, rpcErr)
	}
	if gotAuth != "Bearer tok" || gotMethod != "stake_lockTimePeriod" {
		t.Fatalf("unexpected request auth=%q method=%q", gotAuth, gotMethod)
	}
	if string(result) != `{"seconds":60}` {
		t.Fatalf("unexpected result %s", result)
	}
}

func TestIssueTokenRoundTrip(t *testing.T) {
	prev := secretSource
	secretSource = func() (string, error) { return "cli-secret", nil }
	t.Cleanup(func() { secretSource = prev })

	var stdout, stderr bytes.Buffer
	subject := "0x00000000000000000000000000000000000000ad"
	if code := run([]string{"token", subject, "--admin"}, &stdout, &stderr); code != 0 {
		t.Fatalf("exit code %d: %s", code, stderr.String())
	}
	token := strings.TrimSpace(stdout.String())

	auth := middleware.NewAuthenticator(middleware.AuthConfig{
		Enabled:    true,
		HMACSecret: "cli-secret",
		Issuer:     "staked",
		Audience:   "stake-rpc",
	}, nil)
	var gotSubject string
	var admin bool
	handler := auth.Middleware(middleware.ScopeAdmin)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotSubject, _ = middleware.Subject(r.Context())
		admin = middleware.HasScope(r.Context(), middleware.ScopeAdmin)
	}))
	req := httptest.NewRequest(http.MethodPost, "/", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("token rejected: %d %s", rec.Code, rec.Body.String())
	}
	if !strings.EqualFold(gotSubject, subject) || !admin {
		t.Fatalf("unexpected subject %q admin=%v", gotSubject, admin)
	}
}
