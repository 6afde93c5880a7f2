package main

import (
	"context"
	"fmt"
	"log/slog"
	"math/big"
	"os"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/accounts/keystore"
	"github.com/ethereum/go-ethereum/common"

	"polsstake/cmd/internal/passphrase"
	"polsstake/config"
	"polsstake/core/events"
	"polsstake/core/state"
	"polsstake/gateway/middleware"
	nativecommon "polsstake/native/common"
	"polsstake/native/stake"
	"polsstake/observability/metrics"
	"polsstake/rpc"
	"polsstake/storage"
	"polsstake/storage/eventlog"
	"polsstake/token"
	"polsstake/token/erc20"
)

const streamHistory = 4096

// node owns every long-lived resource of the daemon.
type node struct {
	db      storage.Database
	engine  *stake.Engine
	stream  *events.Stream
	journal *eventlog.Journal
	server  *rpc.Server
	closers []func()
}

func (n *node) Close() {
	for i := len(n.closers) - 1; i >= 0; i-- {
		n.closers[i]()
	}
}

// assemble opens storage, builds the gateway and the engine, seeds genesis
// on first start and wires the RPC server.
func assemble(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*node, error) {
	n := &node{}
	ok := false
	defer func() {
		if !ok {
			n.Close()
		}
	}()

	db, err := storage.NewLevelDB(cfg.DataDir)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	n.db = db
	n.closers = append(n.closers, db.Close)

	gateway, custody, ledger, err := buildGateway(cfg, db)
	if err != nil {
		return nil, err
	}

	n.stream = events.NewStream(streamHistory)
	emitters := events.Fanout{n.stream}
	if cfg.EventLog.Driver != "none" {
		dsn := cfg.EventLog.DSN
		if cfg.EventLog.Driver == eventlog.DriverSQLite && !strings.HasPrefix(dsn, "file:") {
			if dsn, err = eventlog.FileDSN(dsn); err != nil {
				return nil, err
			}
		}
		journal, err := eventlog.Open(cfg.EventLog.Driver, dsn)
		if err != nil {
			return nil, err
		}
		journal.SetLogger(slog.NewLogLogger(logger.Handler(), slog.LevelError))
		n.journal = journal
		n.closers = append(n.closers, func() { _ = journal.Close() })
		emitters = append(emitters, journal)
	}

	pauses := nativecommon.NewPauseSet()
	pauses.Set("stake", cfg.Staking.Paused)

	engine := stake.NewEngine(custody)
	engine.SetState(state.NewStakeStore(db))
	engine.SetGateway(withTimeout(gateway, cfg.Gateway.Timeout()))
	engine.SetGatewayWait(cfg.Gateway.Timeout())
	engine.SetPauses(pauses)
	engine.SetMetrics(metrics.Stake())
	engine.SetEmitter(emitters)
	n.engine = engine

	if err := bootstrap(ctx, cfg, engine, ledger, logger); err != nil {
		return nil, err
	}

	server, err := rpc.NewServer(engine, n.stream, n.journal, rpc.ServerConfig{
		ServiceName: serviceName,
		Auth: middleware.AuthConfig{
			Enabled:        cfg.Auth.Enabled,
			HMACSecret:     cfg.Auth.HMACSecret,
			Issuer:         cfg.Auth.Issuer,
			Audience:       cfg.Auth.Audience,
			AllowAnonymous: cfg.Auth.AllowAnonymous,
		},
		RateLimit:   middleware.RateLimit{RequestsPerMinute: cfg.RateLimit.RequestsPerMinute, Burst: cfg.RateLimit.Burst},
		CORSOrigins: cfg.CORSOrigins,
		LogRequests: strings.EqualFold(cfg.LogLevel, "debug"),
	}, logger)
	if err != nil {
		return nil, err
	}
	n.server = server
	ok = true
	return n, nil
}

// buildGateway returns the token gateway selected by the configuration and
// the custody account it moves funds through. The local ledger is returned
// as well in local mode so genesis allocations can be minted.
func buildGateway(cfg *config.Config, db storage.Database) (stake.TokenGateway, common.Address, *token.Ledger, error) {
	switch cfg.Gateway.Mode {
	case config.GatewayModeLocal:
		custody, err := cfg.Staking.Custody()
		if err != nil {
			return nil, common.Address{}, nil, err
		}
		ledger := token.NewLedger(db, custody)
		return ledger, custody, ledger, nil
	case config.GatewayModeERC20:
		raw, err := os.ReadFile(cfg.Gateway.KeystorePath)
		if err != nil {
			return nil, common.Address{}, nil, fmt.Errorf("read custody keystore: %w", err)
		}
		pass, err := passphrase.NewSource("custody keystore passphrase", cfg.Gateway.PassphraseEnv).Get()
		if err != nil {
			return nil, common.Address{}, nil, err
		}
		key, err := keystore.DecryptKey(raw, pass)
		if err != nil {
			return nil, common.Address{}, nil, fmt.Errorf("decrypt custody keystore: %w", err)
		}
		tokens, err := cfg.Gateway.TokenAddresses()
		if err != nil {
			return nil, common.Address{}, nil, err
		}
		client, err := erc20.Dial(cfg.Gateway.RPCURL)
		if err != nil {
			return nil, common.Address{}, nil, err
		}
		gateway, err := erc20.NewGateway(client, key.PrivateKey, erc20.Config{
			ChainID:      new(big.Int).SetUint64(cfg.Gateway.ChainID),
			Tokens:       tokens,
			PollInterval: cfg.Gateway.PollInterval(),
		})
		if err != nil {
			return nil, common.Address{}, nil, err
		}
		return gateway, gateway.Custody(), nil, nil
	default:
		return nil, common.Address{}, nil, fmt.Errorf("unsupported gateway mode %q", cfg.Gateway.Mode)
	}
}

// bootstrap initialises the engine from the configured genesis when no
// configuration has been committed yet. Later starts leave the stored
// configuration untouched.
func bootstrap(ctx context.Context, cfg *config.Config, engine *stake.Engine, ledger *token.Ledger, logger *slog.Logger) error {
	initialised, err := engine.Initialised()
	if err != nil {
		return err
	}
	if initialised {
		if err := engine.RefreshMetrics(); err != nil {
			return err
		}
		if err := engine.CheckSolvency(ctx); err != nil {
			logger.Warn("solvency check failed", slog.Any("error", err))
		}
		return nil
	}
	genesis, err := cfg.Staking.Genesis()
	if err != nil {
		return err
	}
	if err := engine.Init(ctx, genesis); err != nil {
		return fmt.Errorf("initialise engine: %w", err)
	}
	if ledger != nil {
		for _, alloc := range cfg.Gateway.Allocations {
			account, asset, amount, err := alloc.Parsed()
			if err != nil {
				return err
			}
			if err := ledger.Mint(asset, account, amount); err != nil {
				return fmt.Errorf("mint allocation: %w", err)
			}
		}
	}
	logger.Info("staking engine initialised",
		slog.String("admin", genesis.Admin.Hex()),
		slog.String("stake_asset", genesis.StakeAsset),
		slog.Uint64("lock_seconds", genesis.LockTimePeriod))
	return nil
}

type timeoutGateway struct {
	next    stake.TokenGateway
	timeout time.Duration
}

// withTimeout bounds every gateway call. A non-positive timeout leaves the
// caller's deadline in charge.
func withTimeout(next stake.TokenGateway, timeout time.Duration) stake.TokenGateway {
	if timeout <= 0 {
		return next
	}
	return timeoutGateway{next: next, timeout: timeout}
}

func (g timeoutGateway) TransferIn(ctx context.Context, asset string, from common.Address, amount *big.Int) error {
	ctx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()
	return g.next.TransferIn(ctx, asset, from, amount)
}

func (g timeoutGateway) TransferOut(ctx context.Context, asset string, to common.Address, amount *big.Int) error {
	ctx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()
	return g.next.TransferOut(ctx, asset, to, amount)
}

func (g timeoutGateway) BalanceOf(ctx context.Context, asset string, owner common.Address) (*big.Int, error) {
	ctx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()
	return g.next.BalanceOf(ctx, asset, owner)
}
