package metrics

import (
	"math/big"
	"strings"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

// StakeMetrics exposes the staking engine collectors. A nil receiver is a
// valid no-op so engines can run without metrics wired.
type StakeMetrics struct {
	operations      *prometheus.CounterVec
	totalStaked     prometheus.Gauge
	rewardsClaimed  *prometheus.CounterVec
	lockPeriod      prometheus.Gauge
	gatewayFailures *prometheus.CounterVec
}

var (
	stakeOnce     sync.Once
	stakeRegistry *StakeMetrics
)

func Stake() *StakeMetrics {
	stakeOnce.Do(func() {
		stakeRegistry = &StakeMetrics{
			operations: prometheus.NewCounterVec(prometheus.CounterOpts{
				Name: "stake_operations_total",
				Help: "Count of staking engine operations by type and outcome.",
			}, []string{"op", "outcome"}),
			totalStaked: prometheus.NewGauge(prometheus.GaugeOpts{
				Name: "stake_total_staked",
				Help: "Sum of all staked balances held in custody.",
			}),
			rewardsClaimed: prometheus.NewCounterVec(prometheus.CounterOpts{
				Name: "stake_rewards_claimed_total",
				Help: "Cumulative reward paid out by asset.",
			}, []string{"asset"}),
			lockPeriod: prometheus.NewGauge(prometheus.GaugeOpts{
				Name: "stake_lock_period_seconds",
				Help: "Currently configured withdrawal lock period.",
			}),
			gatewayFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
				Name: "stake_gateway_failures_total",
				Help: "Number of token gateway failures that forced a rollback, by operation.",
			}, []string{"op"}),
		}
		prometheus.MustRegister(
			stakeRegistry.operations,
			stakeRegistry.totalStaked,
			stakeRegistry.rewardsClaimed,
			stakeRegistry.lockPeriod,
			stakeRegistry.gatewayFailures,
		)
	})
	return stakeRegistry
}

func (m *StakeMetrics) ObserveOperation(op, outcome string) {
	if m == nil {
		return
	}
	if op == "" {
		op = "unknown"
	}
	if outcome == "" {
		outcome = "unknown"
	}
	m.operations.WithLabelValues(op, outcome).Inc()
}

func (m *StakeMetrics) SetTotalStaked(amount *big.Int) {
	if m == nil {
		return
	}
	m.totalStaked.Set(bigToFloat(amount))
}

func (m *StakeMetrics) AddRewardsClaimed(asset string, amount *big.Int) {
	if m == nil || amount == nil || amount.Sign() <= 0 {
		return
	}
	asset = strings.ToUpper(strings.TrimSpace(asset))
	if asset == "" {
		asset = "unknown"
	}
	m.rewardsClaimed.WithLabelValues(asset).Add(bigToFloat(amount))
}

func (m *StakeMetrics) SetLockPeriod(seconds uint64) {
	if m == nil {
		return
	}
	m.lockPeriod.Set(float64(seconds))
}

func (m *StakeMetrics) IncGatewayFailure(op string) {
	if m == nil {
		return
	}
	if op == "" {
		op = "unknown"
	}
	m.gatewayFailures.WithLabelValues(op).Inc()
}

// bigToFloat is lossy above 2^53; gauges only need the magnitude.
func bigToFloat(v *big.Int) float64 {
	if v == nil {
		return 0
	}
	f, _ := new(big.Float).SetInt(v).Float64()
	return f
}
