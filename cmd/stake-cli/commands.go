package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"math/big"
	"strconv"
	"strings"

	"github.com/ethereum/go-ethereum/common"
)

func validateAmount(raw string) (string, error) {
	trimmed := strings.TrimSpace(raw)
	value, ok := new(big.Int).SetString(trimmed, 10)
	if !ok || value.Sign() <= 0 {
		return "", fmt.Errorf("amount must be a positive integer")
	}
	return value.String(), nil
}

func validateAddress(raw string) (string, error) {
	trimmed := strings.TrimSpace(raw)
	if !common.IsHexAddress(trimmed) {
		return "", fmt.Errorf("invalid address %q", raw)
	}
	return common.HexToAddress(trimmed).Hex(), nil
}

func runDeposit(args []string, stdout, stderr io.Writer) int {
	return runAmountCommand("stake_deposit", "deposit", args, stdout, stderr)
}

func runWithdraw(args []string, stdout, stderr io.Writer) int {
	return runAmountCommand("stake_withdraw", "withdraw", args, stdout, stderr)
}

func runAmountCommand(method, name string, args []string, stdout, stderr io.Writer) int {
	if len(args) != 1 {
		fmt.Fprintf(stderr, "Usage: stake-cli %s <amount>\n", name)
		return 1
	}
	amount, err := validateAmount(args[0])
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}
	return invoke(method, map[string]string{"amount": amount}, stdout, stderr)
}

func runClaim(args []string, stdout, stderr io.Writer) int {
	if len(args) != 0 {
		fmt.Fprintln(stderr, "Usage: stake-cli claim")
		return 1
	}
	return invoke("stake_claim", nil, stdout, stderr)
}

func runAccountQuery(method, name string, args []string, stdout, stderr io.Writer) int {
	if len(args) != 1 {
		fmt.Fprintf(stderr, "Usage: stake-cli %s <address>\n", name)
		return 1
	}
	account, err := validateAddress(args[0])
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}
	return invoke(method, map[string]string{"account": account}, stdout, stderr)
}

type positionResponse struct {
	Account        string `json:"account"`
	Staked         string `json:"staked"`
	StakeTimestamp uint64 `json:"stakeTimestamp"`
	UnlockAt       uint64 `json:"unlockAt"`
	Unlocked       bool   `json:"unlocked"`
	PendingReward  string `json:"pendingReward"`
	TotalClaimed   string `json:"totalClaimed"`
}

func runPosition(args []string, stdout, stderr io.Writer) int {
	if len(args) != 1 {
		fmt.Fprintln(stderr, "Usage: stake-cli position <address>")
		return 1
	}
	account, err := validateAddress(args[0])
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}
	result, rpcErr, err := stakeRPCCall("stake_position", map[string]string{"account": account})
	if err != nil {
		return handleRPCCallError(stderr, err)
	}
	if rpcErr != nil {
		return handleRPCError(stderr, rpcErr)
	}
	var position positionResponse
	if err := json.Unmarshal(result, &position); err != nil {
		fmt.Fprintf(stderr, "Failed to decode response: %v\n", err)
		return 1
	}
	status := "locked"
	if position.Unlocked {
		status = "unlocked"
	}
	fmt.Fprintf(stdout, "Stake position for %s\n", position.Account)
	fmt.Fprintf(stdout, "  Staked:         %s\n", position.Staked)
	fmt.Fprintf(stdout, "  Staked at:      %d\n", position.StakeTimestamp)
	fmt.Fprintf(stdout, "  Unlock at:      %d (%s)\n", position.UnlockAt, status)
	fmt.Fprintf(stdout, "  Pending reward: %s\n", position.PendingReward)
	fmt.Fprintf(stdout, "  Total claimed:  %s\n", position.TotalClaimed)
	return 0
}

func runConfig(args []string, stdout, stderr io.Writer) int {
	if len(args) != 0 {
		fmt.Fprintln(stderr, "Usage: stake-cli config")
		return 1
	}
	return invoke("stake_config", nil, stdout, stderr)
}

func runSolvency(args []string, stdout, stderr io.Writer) int {
	if len(args) != 0 {
		fmt.Fprintln(stderr, "Usage: stake-cli solvency")
		return 1
	}
	return invoke("stake_solvency", nil, stdout, stderr)
}

func runSetLock(args []string, stdout, stderr io.Writer) int {
	if len(args) != 1 {
		fmt.Fprintln(stderr, "Usage: stake-cli set-lock <seconds>")
		return 1
	}
	seconds, err := strconv.ParseUint(strings.TrimSpace(args[0]), 10, 64)
	if err != nil {
		fmt.Fprintln(stderr, "Error: seconds must be a non-negative integer")
		return 1
	}
	return invoke("stake_setLockTimePeriod", map[string]uint64{"seconds": seconds}, stdout, stderr)
}

func runAdminString(method, field, usageLine string, args []string, stdout, stderr io.Writer) int {
	if len(args) != 1 || strings.TrimSpace(args[0]) == "" {
		fmt.Fprintf(stderr, "Usage: stake-cli %s\n", usageLine)
		return 1
	}
	return invoke(method, map[string]string{field: strings.TrimSpace(args[0])}, stdout, stderr)
}

func runEvents(args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("events", flag.ContinueOnError)
	fs.SetOutput(stderr)
	account := fs.String("account", "", "Filter by account address")
	eventType := fs.String("type", "", "Filter by event type, e.g. stake.deposited")
	after := fs.Uint64("after", 0, "Return events with a sequence above this value")
	limit := fs.Int("limit", 0, "Maximum number of events")
	if err := fs.Parse(args); err != nil {
		return 1
	}
	params := map[string]interface{}{}
	if *account != "" {
		addr, err := validateAddress(*account)
		if err != nil {
			fmt.Fprintf(stderr, "Error: %v\n", err)
			return 1
		}
		params["account"] = addr
	}
	if *eventType != "" {
		params["type"] = *eventType
	}
	if *after > 0 {
		params["after"] = *after
	}
	if *limit > 0 {
		params["limit"] = *limit
	}
	return invoke("stake_events", params, stdout, stderr)
}
