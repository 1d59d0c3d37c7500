package metrics

import (
	"math/big"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

// DistributorMetrics groups the collectors for the distribution program.
type DistributorMetrics struct {
	rootsPublished prometheus.Counter
	claimsSettled  prometheus.Counter
	claimsRejected *prometheus.CounterVec
	claimedSum     prometheus.Counter
	distributable  prometheus.Gauge
}

var (
	distributorOnce     sync.Once
	distributorRegistry *DistributorMetrics
)

// Distributor returns the process-wide metrics registry, creating and
// registering the collectors on first use.
func Distributor() *DistributorMetrics {
	distributorOnce.Do(func() {
		distributorRegistry = &DistributorMetrics{
			rootsPublished: prometheus.NewCounter(prometheus.CounterOpts{
				Name: "distributor_roots_published_total",
				Help: "Count of cycle roots committed by the root authority.",
			}),
			claimsSettled: prometheus.NewCounter(prometheus.CounterOpts{
				Name: "distributor_claims_settled_total",
				Help: "Count of claims that completed through payout.",
			}),
			claimsRejected: prometheus.NewCounterVec(prometheus.CounterOpts{
				Name: "distributor_claims_rejected_total",
				Help: "Count of rejected claims by reason.",
			}, []string{"reason"}),
			claimedSum: prometheus.NewCounter(prometheus.CounterOpts{
				Name: "distributor_claimed_sum",
				Help: "Cumulative claimed value in whole token units.",
			}),
			distributable: prometheus.NewGauge(prometheus.GaugeOpts{
				Name: "distributor_remaining_distributable",
				Help: "Value still claimable before the protected floor, in whole token units.",
			}),
		}
		prometheus.MustRegister(
			distributorRegistry.rootsPublished,
			distributorRegistry.claimsSettled,
			distributorRegistry.claimsRejected,
			distributorRegistry.claimedSum,
			distributorRegistry.distributable,
		)
	})
	return distributorRegistry
}

// ObserveRootPublished records a committed cycle root.
func (m *DistributorMetrics) ObserveRootPublished() {
	if m == nil {
		return
	}
	m.rootsPublished.Inc()
}

// ObserveClaimSettled records a completed claim and the ledger headroom that
// remains after it.
func (m *DistributorMetrics) ObserveClaimSettled(amount, remaining *big.Int) {
	if m == nil {
		return
	}
	m.claimsSettled.Inc()
	m.claimedSum.Add(wholeTokens(amount))
	m.distributable.Set(wholeTokens(remaining))
}

// ObserveClaimRejected records a rejected claim bucketed by the stable
// reason label the distributor assigns to each failure cause.
func (m *DistributorMetrics) ObserveClaimRejected(reason string) {
	if m == nil {
		return
	}
	if reason == "" {
		reason = "internal"
	}
	m.claimsRejected.WithLabelValues(reason).Inc()
}

// wholeTokens collapses an 18-decimal base-unit amount into float token
// units for gauge/counter export. Precision loss is acceptable for metrics.
func wholeTokens(amount *big.Int) float64 {
	if amount == nil {
		return 0
	}
	f, _ := new(big.Rat).SetFrac(amount, new(big.Int).Exp(big.NewInt(10), big.NewInt(18), nil)).Float64()
	return f
}
