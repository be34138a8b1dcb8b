package sync

import (
	"context"
	"fmt"
	"sort"
	stdsync "sync"
	"time"

	"go.uber.org/zap"

	"github.com/semsync/semsync/internal/embed"
	"github.com/semsync/semsync/internal/meta"
	"github.com/semsync/semsync/internal/project"
	"github.com/semsync/semsync/internal/store"
)

// Scheduler owns one coordinator per registered project and drives each on a
// periodic reindex loop. Projects can be registered and unregistered while
// other loops keep running.
type Scheduler struct {
	registry  *project.Registry
	metaStore *meta.Store
	vectors   store.Store
	provider  embed.Provider
	interval  time.Duration
	opts      Options
	logger    *zap.Logger

	mu      stdsync.Mutex
	entries map[string]*schedEntry
	wg      stdsync.WaitGroup
	closed  bool
}

// schedEntry pairs a coordinator with its loop's lifecycle handles.
type schedEntry struct {
	coord   *Coordinator
	cancel  context.CancelFunc
	trigger chan struct{}
	done    chan struct{}
}

// NewScheduler builds a scheduler. interval is the reindex period applied to
// every project loop.
func NewScheduler(registry *project.Registry, metaStore *meta.Store, vectors store.Store, provider embed.Provider, interval time.Duration, opts Options, logger *zap.Logger) *Scheduler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Scheduler{
		registry:  registry,
		metaStore: metaStore,
		vectors:   vectors,
		provider:  provider,
		interval:  interval,
		opts:      opts,
		logger:    logger,
		entries:   make(map[string]*schedEntry),
	}
}

// Register adds the project to the registry and starts its reindex loop. The
// first pass runs when the loop starts.
func (s *Scheduler) Register(proj *project.Project) error {
	coord, err := NewCoordinator(proj, s.metaStore, s.vectors, s.provider, s.opts, s.logger)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return fmt.Errorf("scheduler stopped")
	}
	if err := s.registry.Register(proj); err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(context.Background())
	entry := &schedEntry{
		coord:   coord,
		cancel:  cancel,
		trigger: make(chan struct{}, 1),
		done:    make(chan struct{}),
	}
	s.entries[proj.ID] = entry

	s.wg.Add(1)
	go s.runLoop(ctx, entry)

	s.logger.Info("project registered",
		zap.String("project", proj.ID),
		zap.String("root", proj.Root))
	return nil
}

// Unregister stops the project's loop, waits out any in-flight pass, and
// removes the project's vector collection and metadata.
func (s *Scheduler) Unregister(projectID string) error {
	s.mu.Lock()
	entry, ok := s.entries[projectID]
	if ok {
		delete(s.entries, projectID)
	}
	s.mu.Unlock()
	if !ok {
		return ErrNotRegistered
	}

	entry.cancel()
	<-entry.done

	// An interrupted pass may still hold the gate briefly after loop exit.
	entry.coord.gate.acquire()
	entry.coord.gate.Release()

	if err := s.vectors.DropProject(projectID); err != nil {
		return fmt.Errorf("drop vector collection: %w", err)
	}
	if err := s.metaStore.Drop(projectID); err != nil {
		return fmt.Errorf("drop metadata: %w", err)
	}
	if _, err := s.registry.Unregister(projectID); err != nil {
		return err
	}

	s.logger.Info("project unregistered", zap.String("project", projectID))
	return nil
}

// runLoop is the per-project reindex loop. The timer restarts after each pass
// completes, so slow passes delay the next cycle instead of stacking up.
func (s *Scheduler) runLoop(ctx context.Context, entry *schedEntry) {
	defer s.wg.Done()
	defer close(entry.done)

	projectID := entry.coord.Project().ID
	timer := time.NewTimer(0) // immediate initial pass
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-timer.C:
		case <-entry.trigger:
			if !timer.Stop() {
				select {
				case <-timer.C:
				default:
				}
			}
		}

		if _, err := entry.coord.SyncNow(ctx); err != nil && err != ErrSyncRunning && ctx.Err() == nil {
			s.logger.Warn("scheduled pass failed", zap.String("project", projectID), zap.Error(err))
		}
		timer.Reset(s.interval)
	}
}

// TriggerNow requests an immediate pass for the project without waiting for
// its result. Requests arriving while a pass runs coalesce into one.
func (s *Scheduler) TriggerNow(projectID string) error {
	s.mu.Lock()
	entry, ok := s.entries[projectID]
	s.mu.Unlock()
	if !ok {
		return ErrNotRegistered
	}
	select {
	case entry.trigger <- struct{}{}:
	default:
	}
	return nil
}

// SyncNow runs a pass synchronously and returns its result. Returns
// ErrSyncRunning when the project's loop already has a pass in flight.
func (s *Scheduler) SyncNow(ctx context.Context, projectID string) (*Result, error) {
	s.mu.Lock()
	entry, ok := s.entries[projectID]
	s.mu.Unlock()
	if !ok {
		return nil, ErrNotRegistered
	}
	return entry.coord.SyncNow(ctx)
}

// Status reports the project's coordinator status.
func (s *Scheduler) Status(projectID string) (Status, error) {
	s.mu.Lock()
	entry, ok := s.entries[projectID]
	s.mu.Unlock()
	if !ok {
		return Status{}, ErrNotRegistered
	}
	return entry.coord.Status(), nil
}

// ProjectStatus pairs a project with its coordinator status.
type ProjectStatus struct {
	Project *project.Project `json:"project"`
	Status  Status           `json:"status"`
}

// StatusAll reports every registered project's status, sorted by root path.
func (s *Scheduler) StatusAll() []ProjectStatus {
	s.mu.Lock()
	entries := make([]*schedEntry, 0, len(s.entries))
	for _, e := range s.entries {
		entries = append(entries, e)
	}
	s.mu.Unlock()

	statuses := make([]ProjectStatus, 0, len(entries))
	for _, e := range entries {
		statuses = append(statuses, ProjectStatus{
			Project: e.coord.Project(),
			Status:  e.coord.Status(),
		})
	}
	sort.Slice(statuses, func(i, j int) bool {
		return statuses[i].Project.Root < statuses[j].Project.Root
	})
	return statuses
}

// Stop cancels every loop and waits for them to exit. Vector collections and
// metadata are left intact for the next start.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	s.closed = true
	for _, entry := range s.entries {
		entry.cancel()
	}
	s.mu.Unlock()
	s.wg.Wait()
}
