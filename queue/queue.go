package queue

import (
	"sort"
	"sync"
	"time"

	"github.com/soundrise/notify/notification"
)

// Item wraps a pending notification with queue-specific state. Items are
// created on enqueue, mutated by the retry controller and removed on terminal
// success or permanent failure.
type Item struct {
	NotificationID string
	UserID         string
	Priority       notification.Priority
	ScheduledAt    time.Time
	Attempts       int
	LastAttemptAt  *time.Time
	LastError      string
}

// Stats holds per-tier observability counters.
type Stats struct {
	Pending   int
	Processed int
	Failed    int
}

// Manager holds pending notifications grouped by priority tier, ordered for
// fair, priority-respecting dispatch. All methods are safe for concurrent use:
// enqueues arrive from inbound sends, the tick loop and the digest cycle.
type Manager struct {
	mu        sync.Mutex
	tiers     map[notification.Priority][]*Item
	processed map[notification.Priority]int
	failed    map[notification.Priority]int

	rateLimit  int
	burstLimit int

	metrics *Metrics
}

// ManagerOption configures a Manager.
type ManagerOption func(*Manager)

// WithRateLimit caps how many items one tick may drain.
func WithRateLimit(n int) ManagerOption {
	return func(m *Manager) {
		if n > 0 {
			m.rateLimit = n
		}
	}
}

// WithBurstLimit raises the per-tick cap when a backlog has built up.
func WithBurstLimit(n int) ManagerOption {
	return func(m *Manager) {
		if n > 0 {
			m.burstLimit = n
		}
	}
}

// WithMetrics attaches Prometheus metrics to the manager.
func WithMetrics(metrics *Metrics) ManagerOption {
	return func(m *Manager) {
		m.metrics = metrics
	}
}

// NewManager creates an empty priority queue manager.
func NewManager(opts ...ManagerOption) *Manager {
	m := &Manager{
		tiers:      make(map[notification.Priority][]*Item),
		processed:  make(map[notification.Priority]int),
		failed:     make(map[notification.Priority]int),
		rateLimit:  50,
		burstLimit: 100,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Enqueue inserts an item into its priority tier, keeping the tier ordered by
// ascending ScheduledAt.
func (m *Manager) Enqueue(item *Item) {
	if item == nil {
		return
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	tier := m.tiers[item.Priority]
	idx := sort.Search(len(tier), func(i int) bool {
		return tier[i].ScheduledAt.After(item.ScheduledAt)
	})
	tier = append(tier, nil)
	copy(tier[idx+1:], tier[idx:])
	tier[idx] = item
	m.tiers[item.Priority] = tier

	if m.metrics != nil {
		m.metrics.depth.WithLabelValues(item.Priority.String()).Inc()
	}
}

// DrainReady removes and returns up to batchSize items whose ScheduledAt is
// not after now. Higher priority tiers are exhausted first; within a tier
// items come out in non-decreasing ScheduledAt order. The per-tick budget is
// the rate limit, stretched to the burst limit when more items are ready.
func (m *Manager) DrainReady(now time.Time, batchSize int) []*Item {
	m.mu.Lock()
	defer m.mu.Unlock()

	budget := m.tickBudget(now, batchSize)
	if budget == 0 {
		return nil
	}

	var drained []*Item
	for _, priority := range []notification.Priority{
		notification.PriorityUrgent,
		notification.PriorityHigh,
		notification.PriorityNormal,
		notification.PriorityLow,
	} {
		tier := m.tiers[priority]
		var kept []*Item
		for i, item := range tier {
			if len(drained) >= budget {
				kept = append(kept, tier[i:]...)
				break
			}
			if item.ScheduledAt.After(now) {
				kept = append(kept, item)
				continue
			}
			drained = append(drained, item)
			if m.metrics != nil {
				m.metrics.depth.WithLabelValues(priority.String()).Dec()
			}
		}
		m.tiers[priority] = kept
	}
	return drained
}

// tickBudget computes this tick's drain cap. Callers hold m.mu.
func (m *Manager) tickBudget(now time.Time, batchSize int) int {
	ready := 0
	for _, tier := range m.tiers {
		for _, item := range tier {
			if !item.ScheduledAt.After(now) {
				ready++
			}
		}
	}

	budget := m.rateLimit
	if ready > m.rateLimit && m.burstLimit > m.rateLimit {
		budget = m.burstLimit
	}
	if batchSize > 0 && batchSize < budget {
		budget = batchSize
	}
	return budget
}

// Requeue puts a drained item back for a retry attempt at a later instant.
func (m *Manager) Requeue(item *Item, at time.Time) {
	item.ScheduledAt = at
	m.Enqueue(item)
}

// Complete records a terminal successful (or cancelled) item.
func (m *Manager) Complete(item *Item) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.processed[item.Priority]++
	if m.metrics != nil {
		m.metrics.processed.WithLabelValues(item.Priority.String()).Inc()
	}
}

// Fail records a permanently failed item. The item is already out of the
// queue (DrainReady removed it); this only updates the counters.
func (m *Manager) Fail(item *Item) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.failed[item.Priority]++
	if m.metrics != nil {
		m.metrics.failed.WithLabelValues(item.Priority.String()).Inc()
	}
}

// Stats returns the counters for one priority tier.
func (m *Manager) Stats(priority notification.Priority) Stats {
	m.mu.Lock()
	defer m.mu.Unlock()

	return Stats{
		Pending:   len(m.tiers[priority]),
		Processed: m.processed[priority],
		Failed:    m.failed[priority],
	}
}

// Len returns the total number of pending items across all tiers.
func (m *Manager) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()

	total := 0
	for _, tier := range m.tiers {
		total += len(tier)
	}
	return total
}
