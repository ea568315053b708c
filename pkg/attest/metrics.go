package attest

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics counts verification outcomes.
type Metrics struct {
	verifications *prometheus.CounterVec
}

// NewMetrics creates the verification counters and registers them with reg.
func NewMetrics(reg prometheus.Registerer) (*Metrics, error) {
	m := &Metrics{
		verifications: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "nsm",
			Subsystem: "attestation",
			Name:      "verifications_total",
			Help:      "Number of attestation document verifications by result.",
		}, []string{"result"}),
	}
	if err := reg.Register(m.verifications); err != nil {
		return nil, err
	}
	return m, nil
}

// Verifications returns the counter for a result label such as "ok" or "chain_invalid".
func (m *Metrics) Verifications(result string) prometheus.Counter {
	return m.verifications.WithLabelValues(result)
}

func (m *Metrics) observe(err error) {
	if m == nil {
		return
	}
	m.verifications.WithLabelValues(ResultLabel(err)).Inc()
}
