package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "pantry"

// Collector records store operation outcomes and the size of the applied inventory.
type Collector struct {
	operations *prometheus.CounterVec
	duration   *prometheus.HistogramVec
	items      prometheus.Gauge
}

// NewCollector creates the collectors and registers them on reg.
func NewCollector(reg prometheus.Registerer) (*Collector, error) {
	c := &Collector{
		operations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "store_operations_total",
			Help:      "Inventory client operations by outcome.",
		}, []string{"op", "result"}),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "store_operation_duration_seconds",
			Help:      "Time spent in document store calls per client operation.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"op"}),
		items: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "inventory_items",
			Help:      "Number of items in the last applied inventory.",
		}),
	}

	for _, collector := range []prometheus.Collector{c.operations, c.duration, c.items} {
		if err := reg.Register(collector); err != nil {
			return nil, err
		}
	}
	return c, nil
}

func (c *Collector) ObserveOperation(op, result string, elapsed time.Duration) {
	c.operations.WithLabelValues(op, result).Inc()
	c.duration.WithLabelValues(op).Observe(elapsed.Seconds())
}

func (c *Collector) SetItems(count int) {
	c.items.Set(float64(count))
}
