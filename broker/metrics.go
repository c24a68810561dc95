package broker

import "github.com/prometheus/client_golang/prometheus"

// Metrics holds the broker's prometheus collectors (SPEC_FULL.md §2.2).
// The broker never starts an HTTP server for these — a network listener
// would violate spec.md §1's "no cross-host (network) operation" — so the
// embedding process scrapes them via Registry instead.
type Metrics struct {
	registry *prometheus.Registry

	rosterSize      prometheus.Gauge
	regSlotsUsed    prometheus.Gauge
	reqSlotsUsed    prometheus.Gauge
	hostsRegistered prometheus.Counter
	hostsRemoved    prometheus.Counter
	regTimeouts     prometheus.Counter
	malformedNames  prometheus.Counter
	workersSpawned  prometheus.Counter
	workersReaped   prometheus.Counter
	shmpairRingFull prometheus.Counter
	tickDuration    prometheus.Histogram
}

func newMetrics() *Metrics {
	reg := prometheus.NewRegistry()
	m := &Metrics{
		registry: reg,
		rosterSize: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "nsbroker_roster_size", Help: "Number of registered hosts.",
		}),
		regSlotsUsed: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "nsbroker_registration_slots_used", Help: "Occupied registration handshake slots.",
		}),
		reqSlotsUsed: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "nsbroker_request_slots_used", Help: "Occupied request handshake slots.",
		}),
		hostsRegistered: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "nsbroker_hosts_registered_total", Help: "Hosts successfully registered.",
		}),
		hostsRemoved: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "nsbroker_hosts_removed_total", Help: "Hosts removed (EOF, error, or watchdog eviction).",
		}),
		regTimeouts: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "nsbroker_registration_timeouts_total", Help: "Pending registrations dropped for exceeding the timeout.",
		}),
		malformedNames: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "nsbroker_malformed_names_total", Help: "Name messages rejected as malformed.",
		}),
		workersSpawned: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "nsbroker_workers_spawned_total", Help: "Request workers spawned.",
		}),
		workersReaped: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "nsbroker_workers_reaped_total", Help: "Request workers reaped.",
		}),
		shmpairRingFull: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "nsbroker_shmpair_ring_full_total", Help: "Shmpair sends rejected because the ring was full.",
		}),
		tickDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "nsbroker_tick_duration_seconds",
			Help:    "Wall-clock duration of one broker tick.",
			Buckets: prometheus.DefBuckets,
		}),
	}
	reg.MustRegister(
		m.rosterSize, m.regSlotsUsed, m.reqSlotsUsed,
		m.hostsRegistered, m.hostsRemoved, m.regTimeouts, m.malformedNames,
		m.workersSpawned, m.workersReaped, m.shmpairRingFull, m.tickDuration,
	)
	return m
}

func (m *Metrics) observeTick(b *Broker) {
	m.rosterSize.Set(float64(b.roster.Len()))
	m.regSlotsUsed.Set(float64(b.regs.Len()))
	m.reqSlotsUsed.Set(float64(b.reqs.Len()))
}

// Registry exposes the prometheus registry for the embedding process to
// scrape or export however it likes.
func (b *Broker) Registry() *prometheus.Registry { return b.metrics.registry }
