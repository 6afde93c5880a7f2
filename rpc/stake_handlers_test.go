package rpc

import (
	"errors"
	"net/http"
	"testing"

	"polsstake/core/events"
	"polsstake/gateway/middleware"
)

func authEnabled() middleware.AuthConfig {
	return middleware.AuthConfig{Enabled: true, AllowAnonymous: true}
}

func TestStakeLifecycleOverRPC(t *testing.T) {
	env := newTestEnv(t, authEnabled())
	env.mint(t, "POLS", aliceAddr, 1000)
	env.mint(t, "RWD", custodyAddr, 2_000_000_000)
	alice := issue(t, aliceAddr)

	status, resp := env.call(t, alice, "stake_deposit", map[string]string{"amount": "1000"})
	if status != http.StatusOK {
		t.Fatalf("deposit status %d: %+v", status, resp.Error)
	}
	var deposit stakeDepositResult
	resultInto(t, resp, &deposit)
	if deposit.Staked != "1000" || deposit.Account != aliceAddr.Hex() {
		t.Fatalf("unexpected deposit result %+v", deposit)
	}

	env.now += 7*day - 1
	status, resp = env.call(t, alice, "stake_withdraw", map[string]string{"amount": "1000"})
	if status != http.StatusConflict || resp.Error == nil || resp.Error.Code != codeStillLocked {
		t.Fatalf("expected locked error, got %d %+v", status, resp.Error)
	}

	env.now++
	_, resp = env.call(t, "", "stake_position", map[string]string{"account": aliceAddr.Hex()})
	var position stakePositionResult
	resultInto(t, resp, &position)
	if !position.Unlocked || position.Staked != "1000" {
		t.Fatalf("unexpected position %+v", position)
	}
	wantPending := "1209600000" // 2 × 1000 × 7 days
	if position.PendingReward != wantPending {
		t.Fatalf("pending reward %s, want %s", position.PendingReward, wantPending)
	}

	_, resp = env.call(t, alice, "stake_withdraw", map[string]string{"amount": "1000"})
	var withdraw stakeWithdrawResult
	resultInto(t, resp, &withdraw)
	if withdraw.Remaining != "0" {
		t.Fatalf("unexpected remaining %s", withdraw.Remaining)
	}

	_, resp = env.call(t, alice, "stake_claim", nil)
	var claim stakeClaimResult
	resultInto(t, resp, &claim)
	if claim.Paid != wantPending {
		t.Fatalf("claimed %s, want %s", claim.Paid, wantPending)
	}
	_, resp = env.call(t, alice, "stake_claim", nil)
	resultInto(t, resp, &claim)
	if claim.Paid != "0" {
		t.Fatalf("second claim paid %s", claim.Paid)
	}

	_, resp = env.call(t, "", "stake_events", map[string]interface{}{"account": aliceAddr.Hex()})
	var records []stakeEventResult
	resultInto(t, resp, &records)
	if len(records) != 3 {
		t.Fatalf("expected 3 journalled events, got %d", len(records))
	}
	wantTypes := []string{events.TypeStakeDeposited, events.TypeStakeWithdrawn, events.TypeStakeRewardClaimed}
	for i, record := range records {
		if record.Type != wantTypes[i] {
			t.Fatalf("event %d type %s, want %s", i, record.Type, wantTypes[i])
		}
	}
	if records[0].Attributes["amount"] != "1000" {
		t.Fatalf("unexpected deposit attributes %+v", records[0].Attributes)
	}
}

func TestMutatingCallsRequireToken(t *testing.T) {
	env := newTestEnv(t, authEnabled())
	status, resp := env.call(t, "", "stake_deposit", map[string]string{"amount": "1"})
	if status != http.StatusUnauthorized || resp.Error == nil || resp.Error.Code != codeUnauthorized {
		t.Fatalf("expected unauthorized, got %d %+v", status, resp.Error)
	}

	alice := issue(t, aliceAddr)
	status, resp = env.call(t, alice, "stake_deposit", map[string]string{"caller": adminAddr.Hex(), "amount": "1"})
	if status != http.StatusUnauthorized || resp.Error == nil {
		t.Fatalf("expected caller mismatch to be rejected, got %d %+v", status, resp.Error)
	}
}

func TestInvalidTokenRejectedBeforeDispatch(t *testing.T) {
	env := newTestEnv(t, authEnabled())
	req, _ := http.NewRequest(http.MethodPost, env.http.URL+"/", nil)
	req.Header.Set("Authorization", "Bearer not-a-jwt")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("post: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", resp.StatusCode)
	}
}

func TestDepositValidationAndGatewayFailure(t *testing.T) {
	env := newTestEnv(t, authEnabled())
	alice := issue(t, aliceAddr)

	for _, amount := range []string{"", "abc", "0", "-5"} {
		_, resp := env.call(t, alice, "stake_deposit", map[string]string{"amount": amount})
		if resp.Error == nil || resp.Error.Code != codeInvalidParams {
			t.Fatalf("amount %q: expected invalid params, got %+v", amount, resp.Error)
		}
	}

	env.mint(t, "POLS", aliceAddr, 100)
	env.ledger.FailNext(errors.New("custody offline"))
	status, resp := env.call(t, alice, "stake_deposit", map[string]string{"amount": "100"})
	if status != http.StatusBadGateway || resp.Error == nil || resp.Error.Code != codeGateway {
		t.Fatalf("expected gateway error, got %d %+v", status, resp.Error)
	}
	_, resp = env.call(t, "", "stake_balanceOf", map[string]string{"account": aliceAddr.Hex()})
	var balance stakeBalanceResult
	resultInto(t, resp, &balance)
	if balance.Staked != "0" {
		t.Fatalf("failed deposit left stake %s", balance.Staked)
	}
}

func TestClaimWithoutReserve(t *testing.T) {
	env := newTestEnv(t, authEnabled())
	env.mint(t, "POLS", aliceAddr, 10)
	alice := issue(t, aliceAddr)
	env.call(t, alice, "stake_deposit", map[string]string{"amount": "10"})
	env.now += 100

	_, resp := env.call(t, alice, "stake_claim", nil)
	if resp.Error == nil || resp.Error.Code != codeReserve {
		t.Fatalf("expected reserve error, got %+v", resp.Error)
	}
}

func TestAdminMethods(t *testing.T) {
	env := newTestEnv(t, authEnabled())
	admin := issue(t, adminAddr, middleware.ScopeAdmin)

	_, resp := env.call(t, admin, "stake_setLockTimePeriod", map[string]uint64{"seconds": 3 * day})
	var update adminUpdateResult
	resultInto(t, resp, &update)

	_, resp = env.call(t, admin, "stake_setLockTimePeriod", map[string]uint64{"seconds": 4 * day})
	if resp.Error == nil || resp.Error.Code != codeInvalidParams {
		t.Fatalf("expected ratchet rejection, got %+v", resp.Error)
	}

	_, resp = env.call(t, "", "stake_lockTimePeriod", nil)
	var lock map[string]uint64
	resultInto(t, resp, &lock)
	if lock["seconds"] != 3*day {
		t.Fatalf("lock period %d, want %d", lock["seconds"], 3*day)
	}

	_, resp = env.call(t, admin, "stake_setRewardAsset", map[string]string{"asset": "usdc"})
	resultInto(t, resp, &update)
	if update.Value != "USDC" {
		t.Fatalf("reward asset %s", update.Value)
	}
	_, resp = env.call(t, admin, "stake_setRewardFactor", map[string]string{"factor": "5"})
	resultInto(t, resp, &update)
	_, resp = env.call(t, admin, "stake_setRewardFactorScale", map[string]string{"scale": "0"})
	if resp.Error == nil || resp.Error.Code != codeInvalidParams {
		t.Fatalf("expected zero scale rejection, got %+v", resp.Error)
	}

	_, resp = env.call(t, "", "stake_config", nil)
	var cfg stakeConfigResult
	resultInto(t, resp, &cfg)
	if cfg.RewardAsset != "USDC" || cfg.RewardFactor != "5" || !cfg.LockInitialized || cfg.Custody != custodyAddr.Hex() {
		t.Fatalf("unexpected config %+v", cfg)
	}
}

func TestAdminMethodsRequireScopeAndAuthority(t *testing.T) {
	env := newTestEnv(t, authEnabled())

	noScope := issue(t, adminAddr)
	status, resp := env.call(t, noScope, "stake_setRewardFactor", map[string]string{"factor": "1"})
	if status != http.StatusForbidden || resp.Error == nil || resp.Error.Code != codeUnauthorized {
		t.Fatalf("expected scope rejection, got %d %+v", status, resp.Error)
	}

	impostor := issue(t, aliceAddr, middleware.ScopeAdmin)
	status, resp = env.call(t, impostor, "stake_setRewardFactor", map[string]string{"factor": "1"})
	if status != http.StatusForbidden || resp.Error == nil || resp.Error.Code != codeUnauthorized {
		t.Fatalf("expected engine authority rejection, got %d %+v", status, resp.Error)
	}
}

func TestTransferAdminOverRPC(t *testing.T) {
	env := newTestEnv(t, authEnabled())
	admin := issue(t, adminAddr, middleware.ScopeAdmin)
	_, resp := env.call(t, admin, "stake_transferAdmin", map[string]string{"newAdmin": aliceAddr.Hex()})
	var update adminUpdateResult
	resultInto(t, resp, &update)

	_, resp = env.call(t, admin, "stake_setRewardFactor", map[string]string{"factor": "1"})
	if resp.Error == nil || resp.Error.Code != codeUnauthorized {
		t.Fatalf("previous admin should be rejected, got %+v", resp.Error)
	}
	successor := issue(t, aliceAddr, middleware.ScopeAdmin)
	_, resp = env.call(t, successor, "stake_setRewardFactor", map[string]string{"factor": "1"})
	resultInto(t, resp, &update)
}

func TestAuthDisabledTrustsCallerParam(t *testing.T) {
	env := newTestEnv(t, middleware.AuthConfig{})
	env.mint(t, "POLS", aliceAddr, 50)

	_, resp := env.call(t, "", "stake_deposit", map[string]string{"amount": "50"})
	if resp.Error == nil || resp.Error.Code != codeInvalidParams {
		t.Fatalf("expected missing caller error, got %+v", resp.Error)
	}
	_, resp = env.call(t, "", "stake_deposit", map[string]string{"caller": aliceAddr.Hex(), "amount": "50"})
	var deposit stakeDepositResult
	resultInto(t, resp, &deposit)
	if deposit.Staked != "50" {
		t.Fatalf("unexpected staked %s", deposit.Staked)
	}

	_, resp = env.call(t, "", "stake_solvency", nil)
	var solvency stakeSolvencyResult
	resultInto(t, resp, &solvency)
	if !solvency.Solvent {
		t.Fatalf("expected solvent engine: %+v", solvency)
	}
}
