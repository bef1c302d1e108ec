package symbol

import "github.com/prometheus/client_golang/prometheus"

const metricsPrefix = "tauphi_symbol"

type Metrics struct {
	KnownSymbols       prometheus.Counter
	UnknownSymbols     prometheus.Counter
	UnknownRegions     prometheus.Counter
	TranslatorsSpawned prometheus.Counter
	SpawnErrors        prometheus.Counter
	TranslatorErrors   prometheus.Counter
}

func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		KnownSymbols: prometheus.NewCounter(prometheus.CounterOpts{
			Name: metricsPrefix + "_known_symbols_total",
			Help: "Total number of addresses resolved to a function",
		}),
		UnknownSymbols: prometheus.NewCounter(prometheus.CounterOpts{
			Name: metricsPrefix + "_unknown_symbols_total",
			Help: "Total number of addresses inside a mapped region that did not resolve to a function",
		}),
		UnknownRegions: prometheus.NewCounter(prometheus.CounterOpts{
			Name: metricsPrefix + "_unknown_regions_total",
			Help: "Total number of addresses outside every mapped region",
		}),
		TranslatorsSpawned: prometheus.NewCounter(prometheus.CounterOpts{
			Name: metricsPrefix + "_translators_spawned_total",
			Help: "Total number of address translator workers started",
		}),
		SpawnErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Name: metricsPrefix + "_translator_spawn_errors_total",
			Help: "Total number of address translator workers that failed to start",
		}),
		TranslatorErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Name: metricsPrefix + "_translator_errors_total",
			Help: "Total number of failed requests to address translator workers",
		}),
	}

	if reg != nil {
		reg.MustRegister(
			m.KnownSymbols,
			m.UnknownSymbols,
			m.UnknownRegions,
			m.TranslatorsSpawned,
			m.SpawnErrors,
			m.TranslatorErrors,
		)
	}

	return m
}
