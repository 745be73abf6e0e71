// Package stats holds the process-lifetime counters the control surface
// exposes at GET /stats. All fields are updated with atomic ops from
// arbitrary goroutines and read the same way - there is no lock, since every
// counter is an independent running total.
package stats

import "sync/atomic"

// Counters is the full set of pool-wide gauges and running totals.
type Counters struct {
	TotalRequestsHandedOut  atomic.Int64
	TotalTunnelsOpened      atomic.Int64
	TotalTunnelsFailedLocal atomic.Int64
	TotalTunnelsFailedRemo  atomic.Int64
	TotalBytesUp            atomic.Int64
	TotalBytesDown          atomic.Int64
}

// New returns a zeroed Counters ready for use.
func New() *Counters {
	return &Counters{}
}

// Snapshot is an immutable point-in-time read of every counter, suitable for
// JSON encoding.
type Snapshot struct {
	TotalRequestsHandedOut  int64 `json:"total_requests_handed_out"`
	TotalTunnelsOpened      int64 `json:"total_tunnels_opened"`
	TotalTunnelsFailedLocal int64 `json:"total_tunnels_failed_client"`
	TotalTunnelsFailedRemo  int64 `json:"total_tunnels_failed_remote"`
	TotalBytesUp            int64 `json:"total_bytes_up"`
	TotalBytesDown          int64 `json:"total_bytes_down"`
}

func (c *Counters) Snapshot() Snapshot {
	return Snapshot{
		TotalRequestsHandedOut:  c.TotalRequestsHandedOut.Load(),
		TotalTunnelsOpened:      c.TotalTunnelsOpened.Load(),
		TotalTunnelsFailedLocal: c.TotalTunnelsFailedLocal.Load(),
		TotalTunnelsFailedRemo:  c.TotalTunnelsFailedRemo.Load(),
		TotalBytesUp:            c.TotalBytesUp.Load(),
		TotalBytesDown:          c.TotalBytesDown.Load(),
	}
}
