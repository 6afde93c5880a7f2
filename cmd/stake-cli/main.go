package main

import (
	"fmt"
	"io"
	"os"
	"strings"
)

var rpcEndpoint = defaultRPCEndpoint() // overridden by RPC_URL or --rpc
var rpcAuthToken = os.Getenv("STAKE_RPC_TOKEN")

func main() {
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}

func run(args []string, stdout, stderr io.Writer) int {
	args, err := applyGlobalFlags(args)
	if err != nil {
		fmt.Fprintln(stderr, err)
		return 1
	}
	if len(args) < 1 {
		fmt.Fprintln(stderr, usage())
		return 1
	}

	switch args[0] {
	case "deposit":
		return runDeposit(args[1:], stdout, stderr)
	case "withdraw":
		return runWithdraw(args[1:], stdout, stderr)
	case "claim":
		return runClaim(args[1:], stdout, stderr)
	case "balance":
		return runAccountQuery("stake_balanceOf", "balance", args[1:], stdout, stderr)
	case "pending":
		return runAccountQuery("stake_pendingReward", "pending", args[1:], stdout, stderr)
	case "position":
		return runPosition(args[1:], stdout, stderr)
	case "config":
		return runConfig(args[1:], stdout, stderr)
	case "solvency":
		return runSolvency(args[1:], stdout, stderr)
	case "set-lock":
		return runSetLock(args[1:], stdout, stderr)
	case "set-reward-asset":
		return runAdminString("stake_setRewardAsset", "asset", "set-reward-asset <asset>", args[1:], stdout, stderr)
	case "set-factor":
		return runAdminString("stake_setRewardFactor", "factor", "set-factor <factor>", args[1:], stdout, stderr)
	case "set-scale":
		return runAdminString("stake_setRewardFactorScale", "scale", "set-scale <scale>", args[1:], stdout, stderr)
	case "transfer-admin":
		return runAdminString("stake_transferAdmin", "newAdmin", "transfer-admin <address>", args[1:], stdout, stderr)
	case "events":
		return runEvents(args[1:], stdout, stderr)
	case "token":
		return runIssueToken(args[1:], stdout, stderr)
	case "help", "-h", "--help":
		fmt.Fprintln(stdout, usage())
		return 0
	default:
		fmt.Fprintf(stderr, "Unknown command: %s\n\n%s\n", args[0], usage())
		return 1
	}
}

func defaultRPCEndpoint() string {
	if v := strings.TrimSpace(os.Getenv("RPC_URL")); v != "" {
		return v
	}
	return "http://localhost:8545"
}

func applyGlobalFlags(args []string) ([]string, error) {
	out := make([]string, 0, len(args))
	for i := 0; i < len(args); i++ {
		arg := args[i]
		switch {
		case arg == "--rpc" || arg == "--token":
			if i+1 >= len(args) {
				return nil, fmt.Errorf("missing value for %s", arg)
			}
			if arg == "--rpc" {
				rpcEndpoint = args[i+1]
			} else {
				rpcAuthToken = args[i+1]
			}
			i++
		case strings.HasPrefix(arg, "--rpc="):
			rpcEndpoint = strings.TrimPrefix(arg, "--rpc=")
		case strings.HasPrefix(arg, "--token="):
			rpcAuthToken = strings.TrimPrefix(arg, "--token=")
		default:
			out = append(out, arg)
		}
	}
	return out, nil
}

func usage() string {
	return strings.TrimSpace(`Usage:
  stake-cli [--rpc URL] [--token JWT] <command> [args]

Participant commands (token subject is the acting account):
  deposit <amount>            Stake amount of the stake asset
  withdraw <amount>           Withdraw unlocked stake
  claim                       Claim pending reward

Queries:
  balance <address>           Staked balance of an account
  pending <address>           Pending reward of an account
  position <address>          Full staking position
  config                      Engine configuration
  solvency                    Custody solvency check
  events [--account A] [--type T] [--after N] [--limit N]

Admin commands (token needs the stake:admin scope):
  set-lock <seconds>          Lower the lock period
  set-reward-asset <asset>    Change the reward asset
  set-factor <factor>         Change the reward factor
  set-scale <scale>           Change the reward factor scale
  transfer-admin <address>    Hand over the admin role

Tooling:
  token <subject> [--admin] [--ttl 1h] [--issuer I] [--audience A]
                              Sign a bearer token with STAKE_RPC_SECRET`)
}
