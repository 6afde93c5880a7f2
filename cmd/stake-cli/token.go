package main

import (
	"flag"
	"fmt"
	"io"
	"time"

	"polsstake/cmd/internal/passphrase"
	"polsstake/gateway/middleware"
)

const secretEnv = "STAKE_RPC_SECRET"

var secretSource = func() (string, error) {
	return passphrase.NewSource("RPC signing secret", secretEnv).Get()
}

func runIssueToken(args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("token", flag.ContinueOnError)
	fs.SetOutput(stderr)
	admin := fs.Bool("admin", false, "Grant the stake:admin scope")
	ttl := fs.Duration("ttl", time.Hour, "Token lifetime")
	issuer := fs.String("issuer", "staked", "Issuer claim")
	audience := fs.String("audience", "stake-rpc", "Audience claim")
	if len(args) == 0 {
		fmt.Fprintln(stderr, "Usage: stake-cli token <subject> [--admin] [--ttl 1h]")
		return 1
	}
	if err := fs.Parse(args[1:]); err != nil {
		return 1
	}
	subject, err := validateAddress(args[0])
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}
	secret, err := secretSource()
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}
	var scopes []string
	if *admin {
		scopes = append(scopes, middleware.ScopeAdmin)
	}
	token, err := middleware.IssueToken(secret, subject, *issuer, *audience, *ttl, scopes...)
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}
	fmt.Fprintln(stdout, token)
	return 0
}
