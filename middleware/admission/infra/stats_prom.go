package infra

import (
	"context"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"admission-gateway/middleware/admission/domain"
)

// PromStatsStore expõe as decisões de admissão como métricas Prometheus.
//
// Os labels são estratégia e resultado, nunca a chave de admissão: chave
// vira série, e série com cardinalidade de cliente derruba o scrape.
type PromStatsStore struct {
	decisions *prometheus.CounterVec
}

// NewPromStatsStore registra as métricas no registry dado.
func NewPromStatsStore(reg prometheus.Registerer) *PromStatsStore {
	return &PromStatsStore{
		decisions: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "admission",
				Name:      "decisions_total",
				Help:      "Total de decisões de admissão por estratégia e resultado",
			},
			[]string{"strategy", "result"},
		),
	}
}

func (s *PromStatsStore) Record(_ context.Context, ev domain.StatsEvent) error {
	result := "denied"
	if ev.Allowed {
		result = "allowed"
	}
	s.decisions.WithLabelValues(string(ev.Strategy), result).Inc()
	return nil
}

var _ domain.StatsStore = (*PromStatsStore)(nil)
