package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

// Chain groups the collectors the execution hub reports into.
type Chain struct {
	BlockExecutionSeconds prometheus.Histogram
	TxsSpent              prometheus.Counter
	TxsDiscarded          prometheus.Counter
	SessionsCommitted     prometheus.Counter
	AvgValidationMillis   prometheus.GaugeFunc

	validation *AvgValidationTime
}

// NewChain builds the chain collectors and registers them with reg.
func NewChain(reg prometheus.Registerer) *Chain {
	c := &Chain{
		BlockExecutionSeconds: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "rusk",
			Subsystem: "chain",
			Name:      "block_execution_seconds",
			Help:      "Wall time spent executing a block's transactions.",
			Buckets:   prometheus.ExponentialBuckets(0.001, 2, 12),
		}),
		TxsSpent: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "rusk",
			Subsystem: "chain",
			Name:      "txs_spent_total",
			Help:      "Transactions spent into blocks.",
		}),
		TxsDiscarded: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "rusk",
			Subsystem: "chain",
			Name:      "txs_discarded_total",
			Help:      "Unspendable transactions discarded from blocks.",
		}),
		SessionsCommitted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "rusk",
			Subsystem: "chain",
			Name:      "sessions_committed_total",
			Help:      "Sessions committed through accept or finalize.",
		}),
		validation: NewAvgValidationTime(16),
	}
	c.AvgValidationMillis = prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Namespace: "rusk",
		Subsystem: "chain",
		Name:      "avg_validation_millis",
		Help:      "Average wall time of the last block validations.",
	}, func() float64 {
		avg, ok := c.validation.Average()
		if !ok {
			return 0
		}
		return float64(avg)
	})
	if reg != nil {
		reg.MustRegister(
			c.BlockExecutionSeconds,
			c.TxsSpent,
			c.TxsDiscarded,
			c.SessionsCommitted,
			c.AvgValidationMillis,
		)
	}
	return c
}

// ObserveValidation records one block validation duration in milliseconds.
func (c *Chain) ObserveValidation(millis uint16) {
	c.validation.PushBack(millis)
}

// AvgValidationTime keeps the average of the last N validation durations.
type AvgValidationTime struct {
	mu     sync.Mutex
	values []uint16
	next   int
	filled bool
}

// NewAvgValidationTime creates a tracker over the last capacity values.
func NewAvgValidationTime(capacity int) *AvgValidationTime {
	if capacity <= 0 {
		capacity = 1
	}
	return &AvgValidationTime{values: make([]uint16, capacity)}
}

// PushBack records a value, evicting the oldest once full.
func (a *AvgValidationTime) PushBack(value uint16) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.values[a.next] = value
	a.next++
	if a.next == len(a.values) {
		a.next = 0
		a.filled = true
	}
}

// Average returns the mean of the stored values, or false when nothing
// meaningful has been recorded yet.
func (a *AvgValidationTime) Average() (uint16, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	count := a.next
	if a.filled {
		count = len(a.values)
	}
	var sum uint64
	for i := 0; i < count; i++ {
		sum += uint64(a.values[i])
	}
	if sum == 0 || count == 0 {
		return 0, false
	}
	return uint16(sum / uint64(count)), true
}
