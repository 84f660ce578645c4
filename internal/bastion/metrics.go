package bastion

import (
	"sync/atomic"

	"github.com/ashureev/sshbastion/internal/ops"
)

// metrics holds the atomic counters backing the /metrics endpoint
// (internal/ops.Metrics).
type metrics struct {
	active       int64
	total        int64
	authFailures int64
	bridged      int64
}

func (m *metrics) Snapshot() ops.MetricsSnapshot {
	return ops.MetricsSnapshot{
		ActiveConnections: atomic.LoadInt64(&m.active),
		TotalConnections:  atomic.LoadInt64(&m.total),
		AuthFailures:      atomic.LoadInt64(&m.authFailures),
		BridgedSessions:   atomic.LoadInt64(&m.bridged),
	}
}

var _ ops.Metrics = (*metrics)(nil)
