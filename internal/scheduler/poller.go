// Package scheduler drives the console's periodic refresh work.
// The data layer itself is purely reactive; this package decides when to poke it.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
)

// Task status values reported in TaskStatus.Status.
const (
	StatusUnknown = "unknown"
	StatusHealthy = "healthy"
	StatusFailing = "failing"
)

// Task is one unit of periodic work, typically "invalidate then ensure" for a
// cached resource or a metrics flush.
type Task struct {
	Name     string                          // Unique task name, used in logs and status
	Interval time.Duration                   // Minimum time between runs
	Run      func(ctx context.Context) error // Work to perform
}

// TaskStatus tracks the outcome history of a single task.
// Thread-safe: Protected by Poller's mutex when accessed.
type TaskStatus struct {
	LastRun          time.Time // Start of the most recent run
	LastSuccess      time.Time // Start of the most recent successful run
	LastError        error     // Error of the most recent run, nil on success
	Name             string    // Task name
	Status           string    // "healthy", "failing" or "unknown"
	ConsecutiveFails int       // Number of consecutive failed runs
}

type taskState struct {
	task   Task
	next   time.Time
	status TaskStatus
}

// Poller runs registered tasks on their intervals.
// Each tick it runs every due task concurrently and waits for the round to
// finish before the next tick is considered.
// Thread-safe: All methods are safe for concurrent access.
type Poller struct {
	tasks       []*taskState
	byName      map[string]*taskState
	onFailing   func(name string, err error) // Callback when a task starts failing
	now         func() time.Time
	logger      zerolog.Logger
	ctx         context.Context    // Internal context for Stop
	cancel      context.CancelFunc // Cancels ctx
	tick        time.Duration      // How often due tasks are looked for
	mu          sync.RWMutex       // Protects tasks and their status
	wg          sync.WaitGroup     // Tracks Start for graceful shutdown
	maxFailures int                // Failures before a task is marked failing
}

// NewPoller creates a poller that looks for due tasks every tick.
// Tasks are marked failing after 3 consecutive errors.
//
// Parameters:
//   - tick: Scheduling granularity (recommended: 1s)
//   - logger: Destination for task failures and lifecycle messages
//
// Returns:
//   - *Poller: Configured poller ready for Register and Start
//
// Example:
//
//	poller := NewPoller(time.Second, logger)
//	_ = poller.Register(Task{Name: "health", Interval: 2 * time.Second, Run: refreshHealth})
//	go poller.Start(ctx)
func NewPoller(tick time.Duration, logger zerolog.Logger) *Poller {
	ctx, cancel := context.WithCancel(context.Background())
	if tick <= 0 {
		tick = time.Second
	}
	return &Poller{
		byName:      make(map[string]*taskState),
		now:         time.Now,
		logger:      logger,
		ctx:         ctx,
		cancel:      cancel,
		tick:        tick,
		maxFailures: 3,
	}
}

// Register adds a task. Tasks registered after Start are picked up on the
// next tick and run immediately.
//
// Parameters:
//   - t: Task with a unique name, a positive interval and a Run function
//
// Returns:
//   - error: If the task is incomplete or its name is taken
func (p *Poller) Register(t Task) error {
	switch {
	case t.Name == "":
		return errors.New("task name is required")
	case t.Interval <= 0:
		return fmt.Errorf("task %s: interval must be positive", t.Name)
	case t.Run == nil:
		return fmt.Errorf("task %s: run function is required", t.Name)
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if _, exists := p.byName[t.Name]; exists {
		return fmt.Errorf("task %s already registered", t.Name)
	}
	st := &taskState{task: t, status: TaskStatus{Name: t.Name, Status: StatusUnknown}}
	p.tasks = append(p.tasks, st)
	p.byName[t.Name] = st
	return nil
}

// SetOnFailing sets the callback invoked when a task crosses the failure
// threshold. It is called once per transition into the failing state.
//
// Example:
//
//	poller.SetOnFailing(func(name string, err error) {
//	    logger.Error().Err(err).Str("task", name).Msg("refresh keeps failing")
//	})
func (p *Poller) SetOnFailing(callback func(name string, err error)) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.onFailing = callback
}

// Start runs due tasks until ctx is canceled or Stop is called.
// A first round runs immediately. This method blocks.
//
// Example:
//
//	go poller.Start(ctx)
//	defer poller.Stop()
func (p *Poller) Start(ctx context.Context) {
	p.wg.Add(1)
	defer p.wg.Done()

	if ctx == nil {
		ctx = p.ctx
	}

	ticker := time.NewTicker(p.tick)
	defer ticker.Stop()

	p.logger.Info().Dur("tick", p.tick).Int("tasks", p.Len()).Msg("poller started")

	_ = p.runDue(ctx, p.now())

	for {
		select {
		case <-ticker.C:
			_ = p.runDue(ctx, p.now())
		case <-ctx.Done():
			p.logger.Info().Msg("poller stopping due to context cancellation")
			return
		case <-p.ctx.Done():
			p.logger.Info().Msg("poller stopping due to internal cancellation")
			return
		}
	}
}

// Stop cancels the poller and waits for the running round to finish.
func (p *Poller) Stop() {
	p.cancel()
	p.wg.Wait()
	p.logger.Info().Msg("poller stopped")
}

// Len returns the number of registered tasks.
func (p *Poller) Len() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return len(p.tasks)
}

// runDue runs every task whose next run time has passed and returns the
// first failure of the round.
func (p *Poller) runDue(ctx context.Context, now time.Time) error {
	p.mu.Lock()
	var due []*taskState
	for _, st := range p.tasks {
		if now.Before(st.next) {
			continue
		}
		st.next = now.Add(st.task.Interval)
		due = append(due, st)
	}
	p.mu.Unlock()

	var g errgroup.Group
	for _, st := range due {
		st := st
		g.Go(func() error { return p.runTask(ctx, st, now) })
	}
	return g.Wait()
}

func (p *Poller) runTask(ctx context.Context, st *taskState, started time.Time) error {
	err := st.task.Run(ctx)

	p.mu.Lock()
	status := &st.status
	status.LastRun = started
	status.LastError = err
	var notify func(string, error)
	if err != nil {
		status.ConsecutiveFails++
		p.logger.Warn().Err(err).Str("task", st.task.Name).
			Int("attempt", status.ConsecutiveFails).Int("max", p.maxFailures).
			Msg("task failed")
		if status.ConsecutiveFails >= p.maxFailures && status.Status != StatusFailing {
			status.Status = StatusFailing
			notify = p.onFailing
		}
	} else {
		if status.Status == StatusFailing {
			p.logger.Info().Str("task", st.task.Name).Msg("task recovered")
		}
		status.Status = StatusHealthy
		status.ConsecutiveFails = 0
		status.LastSuccess = started
	}
	p.mu.Unlock()

	// Call callback without holding the lock
	if notify != nil {
		notify(st.task.Name, err)
	}
	return err
}

// Status returns a copy of the named task's status, or nil if unknown.
func (p *Poller) Status(name string) *TaskStatus {
	p.mu.RLock()
	defer p.mu.RUnlock()

	st, exists := p.byName[name]
	if !exists {
		return nil
	}
	status := st.status
	return &status
}

// AllStatus returns a copy of every task's status keyed by name.
func (p *Poller) AllStatus() map[string]TaskStatus {
	p.mu.RLock()
	defer p.mu.RUnlock()

	result := make(map[string]TaskStatus, len(p.tasks))
	for _, st := range p.tasks {
		result[st.task.Name] = st.status
	}
	return result
}
