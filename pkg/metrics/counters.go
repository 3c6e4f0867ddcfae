package metrics

import (
	"errors"

	"github.com/prometheus/client_golang/prometheus"
)

// Counters exports cache events as prometheus counters labelled by store
// and method.
type Counters struct {
	hits      *prometheus.CounterVec
	misses    *prometheus.CounterVec
	forced    *prometheus.CounterVec
	evictions *prometheus.CounterVec
}

// NewCounters creates the cache counters and registers them with reg. A nil
// reg leaves them unregistered.
func NewCounters(reg prometheus.Registerer) (*Counters, error) {
	labels := []string{"store", "method"}
	c := &Counters{
		hits: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "methodcache",
			Name:      "hits_total",
			Help:      "Cached results served without recomputation.",
		}, labels),
		misses: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "methodcache",
			Name:      "misses_total",
			Help:      "Lookups that found no cached result.",
		}, labels),
		forced: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "methodcache",
			Name:      "forced_recomputes_total",
			Help:      "Calls that bypassed the cache and overwrote the stored result.",
		}, labels),
		evictions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "methodcache",
			Name:      "evictions_total",
			Help:      "Entries removed by the LRU policy.",
		}, []string{"store"}),
	}
	if reg == nil {
		return c, nil
	}
	for _, col := range []**prometheus.CounterVec{&c.hits, &c.misses, &c.forced, &c.evictions} {
		if err := reg.Register(*col); err != nil {
			// Stores sharing a registry share the counters registered first.
			var already prometheus.AlreadyRegisteredError
			if !errors.As(err, &already) {
				return nil, err
			}
			existing, ok := already.ExistingCollector.(*prometheus.CounterVec)
			if !ok {
				return nil, err
			}
			*col = existing
		}
	}
	return c, nil
}

func (c *Counters) Hit(store, method string) {
	c.hits.WithLabelValues(store, method).Inc()
}

func (c *Counters) Miss(store, method string) {
	c.misses.WithLabelValues(store, method).Inc()
}

func (c *Counters) Forced(store, method string) {
	c.forced.WithLabelValues(store, method).Inc()
}

func (c *Counters) Evicted(store string) {
	c.evictions.WithLabelValues(store).Inc()
}
