package stake

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"sync/atomic"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"polsstake/core/events"
	nativecommon "polsstake/native/common"
	"polsstake/observability/metrics"
)

const moduleName = "stake"

type engineState interface {
	StakeConfig() (*Config, error)
	StakePosition(owner common.Address) (*Position, error)
	// StakeOwners lists every account with a stored position.
	StakeOwners() ([]common.Address, error)
	// StakeCommit atomically persists the configuration (when non-nil) and
	// the supplied positions.
	StakeCommit(cfg *Config, positions ...*Position) error
}

type engineCallKey struct{}

// Engine is the staking composition root. It is the only component that
// mutates staking state; every public mutation runs as a single all-or-nothing
// transition serialised behind the engine mutex.
type Engine struct {
	// sem is a one-slot semaphore guarding mutations. A channel is used so
	// waiters can give up.
	sem chan struct{}
	// inGateway is set while a mutation is waiting on the token gateway.
	inGateway   atomic.Bool
	gatewayWait time.Duration

	state   engineState
	gateway TokenGateway
	custody common.Address
	emitter events.Emitter
	metrics *metrics.StakeMetrics
	pauses  nativecommon.PauseView
	nowFn   func() int64
}

// NewEngine constructs an engine holding assets in the supplied custody
// account. State and gateway must be wired before use.
func NewEngine(custody common.Address) *Engine {
	return &Engine{
		sem:     make(chan struct{}, 1),
		custody: custody,
		emitter: events.NoopEmitter{},
		nowFn:   func() int64 { return time.Now().Unix() },
	}
}

// SetState wires the engine to the external persistence layer.
func (e *Engine) SetState(state engineState) { e.state = state }

// SetGateway configures the token gateway used for custody transfers.
func (e *Engine) SetGateway(gateway TokenGateway) { e.gateway = gateway }

func (e *Engine) SetPauses(p nativecommon.PauseView) {
	if e == nil {
		return
	}
	e.pauses = p
}

func (e *Engine) SetMetrics(m *metrics.StakeMetrics) {
	if e == nil {
		return
	}
	e.metrics = m
}

// SetEmitter configures the event emitter used by the engine. Passing nil resets
// the emitter to a no-op implementation.
func (e *Engine) SetEmitter(emitter events.Emitter) {
	if emitter == nil {
		e.emitter = events.NoopEmitter{}
		return
	}
	e.emitter = emitter
}

// SetNowFunc overrides the time source used by the engine. Primarily intended
// for tests to provide deterministic timestamps.
func (e *Engine) SetNowFunc(now func() int64) {
	if now == nil {
		e.nowFn = func() int64 { return time.Now().Unix() }
		return
	}
	e.nowFn = now
}

// SetGatewayWait bounds how long a mutation waits for the engine while
// another mutation is inside a gateway call. A gateway that calls back into
// the engine cannot be told apart from a concurrent caller, so waiting past
// this bound fails with ErrReentrantCall. Zero rejects such calls at once.
func (e *Engine) SetGatewayWait(d time.Duration) {
	if e == nil {
		return
	}
	if d < 0 {
		d = 0
	}
	e.gatewayWait = d
}

// Custody returns the account holding staked and reward assets.
func (e *Engine) Custody() common.Address { return e.custody }

// Init seeds the global configuration. It fails once a configuration exists.
func (e *Engine) Init(ctx context.Context, genesis Genesis) error {
	_, release, err := e.enter(ctx)
	if err != nil {
		return err
	}
	defer release()

	existing, err := e.state.StakeConfig()
	if err != nil {
		return err
	}
	if existing != nil {
		return ErrAlreadyInitialised
	}
	if genesis.Admin == (common.Address{}) {
		return ErrInvalidAdmin
	}
	stakeAsset := NormalizeAsset(genesis.StakeAsset)
	if stakeAsset == "" {
		return ErrInvalidAsset
	}
	if genesis.RewardFactor != nil && genesis.RewardFactor.Sign() < 0 {
		return ErrInvalidFactor
	}
	if genesis.RewardFactorScale != nil && genesis.RewardFactorScale.Sign() <= 0 {
		return ErrInvalidScale
	}
	cfg := &Config{
		Admin:                genesis.Admin,
		StakeAsset:           stakeAsset,
		RewardAsset:          NormalizeAsset(genesis.RewardAsset),
		LockTimePeriod:       genesis.LockTimePeriod,
		RewardFactor:         cloneBigInt(genesis.RewardFactor),
		RewardFactorScale:    genesis.RewardFactorScale,
		RewardIndexUpdatedAt: e.now(),
	}
	cfg.ensureDefaults()
	if err := e.state.StakeCommit(cfg); err != nil {
		return err
	}
	e.metrics.SetLockPeriod(cfg.LockTimePeriod)
	e.metrics.SetTotalStaked(cfg.TotalStaked)
	return nil
}

// RefreshMetrics publishes the stored configuration to the gauges. Used after
// a restart, when no transition has run yet.
func (e *Engine) RefreshMetrics() error {
	cfg, err := e.loadConfig()
	if err != nil {
		return err
	}
	e.metrics.SetLockPeriod(cfg.LockTimePeriod)
	e.metrics.SetTotalStaked(cfg.TotalStaked)
	return nil
}

// Initialised reports whether a configuration has been committed.
func (e *Engine) Initialised() (bool, error) {
	if e == nil || e.state == nil {
		return false, errNilState
	}
	cfg, err := e.state.StakeConfig()
	if err != nil {
		return false, err
	}
	return cfg != nil, nil
}

// Config returns a copy of the current global configuration.
func (e *Engine) Config() (*Config, error) {
	cfg, err := e.loadConfig()
	if err != nil {
		return nil, err
	}
	return cfg, nil
}

// LockTimePeriod returns the current lock period in seconds.
func (e *Engine) LockTimePeriod() (uint64, error) {
	cfg, err := e.loadConfig()
	if err != nil {
		return 0, err
	}
	return cfg.LockTimePeriod, nil
}

// StakeRewardFactor returns the current reward factor.
func (e *Engine) StakeRewardFactor() (*big.Int, error) {
	cfg, err := e.loadConfig()
	if err != nil {
		return nil, err
	}
	return cfg.RewardFactor, nil
}

// RewardAsset returns the configured reward asset identifier.
func (e *Engine) RewardAsset() (string, error) {
	cfg, err := e.loadConfig()
	if err != nil {
		return "", err
	}
	return cfg.RewardAsset, nil
}

// TotalStaked returns the sum of all staked balances.
func (e *Engine) TotalStaked() (*big.Int, error) {
	cfg, err := e.loadConfig()
	if err != nil {
		return nil, err
	}
	return cfg.TotalStaked, nil
}

// CheckSolvency verifies that the recorded total matches the sum of every
// position and that it is covered by the stake asset held in custody.
func (e *Engine) CheckSolvency(ctx context.Context) error {
	cfg, err := e.loadConfig()
	if err != nil {
		return err
	}
	if e.gateway == nil {
		return errNilGateway
	}
	owners, err := e.state.StakeOwners()
	if err != nil {
		return err
	}
	sum := big.NewInt(0)
	for _, owner := range owners {
		pos, err := e.loadPosition(owner)
		if err != nil {
			return err
		}
		sum.Add(sum, pos.StakedAmount)
	}
	if sum.Cmp(cfg.TotalStaked) != 0 {
		return fmt.Errorf("%w: total staked %s, positions sum to %s across %d accounts", ErrAccountingMismatch, cfg.TotalStaked, sum, len(owners))
	}
	held, err := e.gateway.BalanceOf(ctx, cfg.StakeAsset, e.custody)
	if err != nil {
		return fmt.Errorf("%w: balance query: %w", ErrGatewayTransferFailed, err)
	}
	if held == nil || held.Cmp(cfg.TotalStaked) < 0 {
		return fmt.Errorf("%w: staked %s, held %s", ErrInsolvent, cfg.TotalStaked, formatAmount(held))
	}
	return nil
}

// enter serialises a mutating operation. The returned context carries a
// marker so that a gateway calling back into the engine with it is rejected
// at once. Re-entry through an unrelated context is caught by the gateway
// flag: the caller waits at most gatewayWait for the slot.
func (e *Engine) enter(ctx context.Context) (context.Context, func(), error) {
	if e == nil || e.state == nil {
		return nil, nil, errNilState
	}
	if ctx == nil {
		ctx = context.Background()
	}
	if owner, ok := ctx.Value(engineCallKey{}).(*Engine); ok && owner == e {
		return nil, nil, ErrReentrantCall
	}
	if err := e.acquire(ctx); err != nil {
		return nil, nil, err
	}
	return context.WithValue(ctx, engineCallKey{}, e), func() { <-e.sem }, nil
}

func (e *Engine) acquire(ctx context.Context) error {
	select {
	case e.sem <- struct{}{}:
		return nil
	default:
	}
	if e.inGateway.Load() {
		if e.gatewayWait <= 0 {
			return ErrReentrantCall
		}
		timer := time.NewTimer(e.gatewayWait)
		defer timer.Stop()
		select {
		case e.sem <- struct{}{}:
			return nil
		case <-timer.C:
			return ErrReentrantCall
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	select {
	case e.sem <- struct{}{}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// viaGateway runs fn with the gateway flag raised. Only called while the
// engine slot is held.
func (e *Engine) viaGateway(fn func() error) error {
	e.inGateway.Store(true)
	defer e.inGateway.Store(false)
	return fn()
}

func (e *Engine) loadConfig() (*Config, error) {
	if e == nil || e.state == nil {
		return nil, errNilState
	}
	cfg, err := e.state.StakeConfig()
	if err != nil {
		return nil, err
	}
	if cfg == nil {
		return nil, ErrNotInitialised
	}
	cfg = cfg.Clone()
	cfg.ensureDefaults()
	return cfg, nil
}

func (e *Engine) loadPosition(owner common.Address) (*Position, error) {
	pos, err := e.state.StakePosition(owner)
	if err != nil {
		return nil, err
	}
	if pos == nil {
		return newPosition(owner), nil
	}
	pos = pos.Clone()
	pos.Owner = owner
	pos.ensureDefaults()
	return pos, nil
}

// rollback restores the pre-images captured before a failed gateway call.
func (e *Engine) rollback(op string, cause error, cfg *Config, positions ...*Position) error {
	e.metrics.IncGatewayFailure(op)
	if err := e.state.StakeCommit(cfg, positions...); err != nil {
		return fmt.Errorf("%w: %w (restore failed: %v)", ErrGatewayTransferFailed, cause, err)
	}
	return fmt.Errorf("%w: %w", ErrGatewayTransferFailed, cause)
}

func (e *Engine) emit(evt events.Event) {
	if e == nil || e.emitter == nil || evt == nil {
		return
	}
	e.emitter.Emit(evt)
}

func (e *Engine) now() uint64 {
	var ts int64
	if e == nil || e.nowFn == nil {
		ts = time.Now().Unix()
	} else {
		ts = e.nowFn()
	}
	if ts < 0 {
		return 0
	}
	return uint64(ts)
}

func (e *Engine) observe(op string, err error) {
	outcome := "ok"
	switch {
	case err == nil:
	case errors.Is(err, ErrUnauthorized):
		outcome = "unauthorized"
	case errors.Is(err, ErrStillLocked):
		outcome = "locked"
	case errors.Is(err, ErrGatewayTransferFailed):
		outcome = "gateway_failed"
	case errors.Is(err, nativecommon.ErrModulePaused):
		outcome = "paused"
	default:
		outcome = "rejected"
	}
	e.metrics.ObserveOperation(op, outcome)
}

func formatAmount(v *big.Int) string {
	if v == nil {
		return "0"
	}
	return v.String()
}

func isZeroAddress(addr common.Address) bool {
	return addr == (common.Address{})
}

func sameAsset(a, b string) bool {
	return strings.EqualFold(strings.TrimSpace(a), strings.TrimSpace(b))
}
