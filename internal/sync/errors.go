// Package sync implements the incremental index synchronization engine: the
// per-project coordinator state machine and the reindex scheduler that
// drives it.
package sync

import "errors"

var (
	// ErrSyncRunning is returned when a pass is requested while another pass
	// of the same project is in flight.
	ErrSyncRunning = errors.New("sync already running for project")

	// ErrNotRegistered is returned for operations on unknown projects.
	ErrNotRegistered = errors.New("project not registered")

	// ErrRootMissing is reported when a project's root directory no longer
	// exists on disk.
	ErrRootMissing = errors.New("project root missing")
)

// gate is a non-blocking mutex guarding the Scanning→Committing span of one
// project. TryAcquire implements the Idle-only transition; acquire is the
// blocking variant used during teardown to wait out an in-flight pass.
type gate chan struct{}

func newGate() gate {
	return make(gate, 1)
}

func (g gate) TryAcquire() bool {
	select {
	case g <- struct{}{}:
		return true
	default:
		return false
	}
}

func (g gate) acquire() {
	g <- struct{}{}
}

func (g gate) Release() {
	<-g
}
