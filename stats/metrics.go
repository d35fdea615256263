package stats

import "sync"

// Counters is a small set of process-wide operator-visible counters,
// exposed to the notification/logging layer rather than a metrics backend
// (a Prometheus/StatsD sink is an external collaborator the core does not own).
type Counters struct {
	mu sync.Mutex

	OrdersCreated   int64
	OrdersFilled    int64
	OrdersCancelled int64
	OrdersExpired   int64
	OrdersFailed    int64
	QueueDepth      int64
	RetryCount      int64
}

func NewCounters() *Counters {
	return &Counters{}
}

func (c *Counters) IncCreated() {
	c.mu.Lock()
	c.OrdersCreated++
	c.mu.Unlock()
}

func (c *Counters) IncFilled() {
	c.mu.Lock()
	c.OrdersFilled++
	c.mu.Unlock()
}

func (c *Counters) IncCancelled() {
	c.mu.Lock()
	c.OrdersCancelled++
	c.mu.Unlock()
}

func (c *Counters) IncExpired() {
	c.mu.Lock()
	c.OrdersExpired++
	c.mu.Unlock()
}

func (c *Counters) IncFailed() {
	c.mu.Lock()
	c.OrdersFailed++
	c.mu.Unlock()
}

func (c *Counters) IncRetry() {
	c.mu.Lock()
	c.RetryCount++
	c.mu.Unlock()
}

func (c *Counters) SetQueueDepth(n int64) {
	c.mu.Lock()
	c.QueueDepth = n
	c.mu.Unlock()
}

// Snapshot returns a point-in-time copy, safe to log or render.
func (c *Counters) Snapshot() Counters {
	c.mu.Lock()
	defer c.mu.Unlock()
	return Counters{
		OrdersCreated:   c.OrdersCreated,
		OrdersFilled:    c.OrdersFilled,
		OrdersCancelled: c.OrdersCancelled,
		OrdersExpired:   c.OrdersExpired,
		OrdersFailed:    c.OrdersFailed,
		QueueDepth:      c.QueueDepth,
		RetryCount:      c.RetryCount,
	}
}
