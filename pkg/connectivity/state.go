package connectivity

import "time"

// State is the tracker's view of upstream reachability.
type State string

const (
	// StateOnline means the last remote interaction succeeded.
	StateOnline State = "online"

	// StateOffline means the last remote interaction failed at the
	// network level and queued work is waiting for recovery.
	StateOffline State = "offline"
)

// Snapshot is a point-in-time copy of the tracker's state, safe to read
// without holding the tracker's lock.
type Snapshot struct {
	State               State
	Since               time.Time
	ConsecutiveFailures int
	PendingRegistrations int
}

// Online reports whether the snapshot considers the upstream reachable.
func (s Snapshot) Online() bool {
	return s.State == StateOnline
}
