// Package tracker polls submitted numbers until they reach a final state.
//
// Each number has at most one chain of polls. A poll classifies the remote
// status with decide and then performs the resulting side effects: registry
// updates, success accounting, lease release, cleanup and display updates.
// Follow-up polls go through a Scheduler so tests can drive time by hand.
package tracker

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	apperrors "wsotp/internal/errors"
	"wsotp/internal/events"
	"wsotp/internal/logger"
	"wsotp/internal/metrics"
	"wsotp/internal/pool"
	"wsotp/internal/registry"
	"wsotp/internal/remote"
	"wsotp/internal/sentry"
)

// Defaults for Config.
const (
	DefaultInterval  = 2 * time.Second
	DefaultMaxChecks = 100
)

// Config controls polling cadence.
type Config struct {
	Interval  time.Duration
	MaxChecks int
}

// Handle identifies the chat message that shows a number's status.
type Handle struct {
	ChatID    int64
	MessageID int
}

// Display shows status lines to the user.
type Display interface {
	Render(ctx context.Context, h Handle, text string) error
}

// LeasePool is the part of the credential pool the tracker needs.
type LeasePool interface {
	Release(token string)
	Invalidate(token string)
	CleanupTargets(userID uint) []pool.Target
}

// Ledger records outcomes.
type Ledger interface {
	RecordSuccess(userID uint, phone string) bool
	RecordDeleted(n int)
}

// Deps are the collaborators of a Tracker.
type Deps struct {
	Client    remote.Client
	Pool      LeasePool
	Ledger    Ledger
	Registry  *registry.Active
	Cleaner   *Cleaner
	Display   Display
	Scheduler Scheduler
	Bus       *events.Bus
}

// Request starts tracking a number that was just added.
type Request struct {
	Phone  string
	CC     string
	UserID uint
	Lease  pool.Lease
	Handle Handle
	Serial int
	// Status is the label currently on display, LabelProcessing if empty.
	Status string
}

// Task is the tracked state of one number.
type Task struct {
	ID          string
	Phone       string
	CC          string
	UserID      uint
	Lease       pool.Lease
	Handle      Handle
	Serial      int
	Checks      int
	LastStatus  string
	LastCode    remote.StatusCode
	State       State
	RecordID    string
	ActualPhone string
	StartedAt   time.Time

	rendered string
	timer    Timer
}

// Line returns the status line shown for the task.
func (t *Task) Line() string {
	phone := t.Phone
	if t.ActualPhone != "" && t.ActualPhone != t.Phone {
		phone = t.ActualPhone
	}
	return FormatLine(t.Serial, t.CC, phone, t.LastStatus)
}

// FormatLine renders "N. +cc phone label"; the serial is omitted when zero.
func FormatLine(serial int, cc, phone, label string) string {
	var b strings.Builder
	if serial > 0 {
		fmt.Fprintf(&b, "%d. ", serial)
	}
	fmt.Fprintf(&b, "+%s %s %s", cc, phone, label)
	return b.String()
}

// Tracker owns every active poll chain.
type Tracker struct {
	Deps
	cfg Config

	ctx    context.Context
	cancel context.CancelFunc

	mu     sync.Mutex
	tasks  map[string]*Task // by phone
	closed bool
}

// New creates a tracker. Zero config values take the defaults.
func New(deps Deps, cfg Config) *Tracker {
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultInterval
	}
	if cfg.MaxChecks <= 0 {
		cfg.MaxChecks = DefaultMaxChecks
	}
	if deps.Scheduler == nil {
		deps.Scheduler = TimerScheduler{}
	}
	if deps.Cleaner == nil {
		deps.Cleaner = NewCleaner(deps.Client, DefaultCleanupConcurrency)
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Tracker{
		Deps:   deps,
		cfg:    cfg,
		ctx:    ctx,
		cancel: cancel,
		tasks:  make(map[string]*Task),
	}
}

// Track starts polling req.Phone. The first poll happens after one
// interval. It fails with ErrAlreadyTracked if the number already has a
// chain; the caller keeps ownership of the lease in that case.
func (t *Tracker) Track(req Request) (Task, error) {
	status := req.Status
	if status == "" {
		status = LabelProcessing
	}
	task := &Task{
		ID:         uuid.NewString(),
		Phone:      req.Phone,
		CC:         req.CC,
		UserID:     req.UserID,
		Lease:      req.Lease,
		Handle:     req.Handle,
		Serial:     req.Serial,
		LastStatus: status,
		LastCode:   remote.StatusUnknown,
		State:      StateProcessing,
		StartedAt:  time.Now(),
	}
	task.rendered = task.Line()

	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return Task{}, fmt.Errorf("tracker closed: %w", context.Canceled)
	}
	if _, ok := t.tasks[req.Phone]; ok {
		t.mu.Unlock()
		return Task{}, fmt.Errorf("track %s: %w", req.Phone, apperrors.ErrAlreadyTracked)
	}
	t.tasks[req.Phone] = task
	t.schedule(task)
	snap := *task
	t.mu.Unlock()

	metrics.TasksActive.Inc()
	t.publish(events.EventTaskStarted, &snap)
	logger.Info("[tracker] tracking +%s %s for user %d on %s", req.CC, req.Phone, req.UserID, req.Lease.Label)
	return snap, nil
}

// schedule must be called with t.mu held.
func (t *Tracker) schedule(task *Task) {
	task.timer = t.Scheduler.After(t.cfg.Interval, func() { t.poll(task) })
}

func (t *Tracker) poll(task *Task) {
	t.mu.Lock()
	if t.tasks[task.Phone] != task {
		t.mu.Unlock()
		return
	}
	token := task.Lease.Token
	lastCode := task.LastCode
	checks := task.Checks + 1
	task.timer = nil
	t.mu.Unlock()

	res := t.Client.GetStatus(t.ctx, token, task.Phone)
	if t.ctx.Err() != nil {
		return
	}
	st := decide(lastCode, checks, t.cfg.MaxChecks, res)

	t.mu.Lock()
	if t.tasks[task.Phone] != task {
		// cancelled while the lookup was in flight
		t.mu.Unlock()
		return
	}
	prevLabel := task.LastStatus
	task.Checks = checks
	task.LastCode = res.Code
	task.LastStatus = st.label
	task.State = st.next
	if res.RecordID != "" {
		task.RecordID = res.RecordID
	}
	if res.ActualPhone != "" {
		task.ActualPhone = res.ActualPhone
	}
	if st.next.Final() {
		delete(t.tasks, task.Phone)
	} else if st.again && !t.closed {
		t.schedule(task)
	}
	snap := *task
	// registered under t.mu so a concurrent Cancel cannot be undone
	if st.register {
		t.register(&snap)
	}
	t.mu.Unlock()

	t.apply(&snap, st)
	if snap.LastStatus != prevLabel {
		t.publish(events.EventTaskTransition, &snap)
	}
	t.render(task, &snap)
}

func (t *Tracker) register(task *Task) {
	t.Registry.Put(registry.Entry{
		Phone:     task.Phone,
		CC:        task.CC,
		Token:     task.Lease.Token,
		AccountID: task.Lease.AccountID,
		Account:   task.Lease.Label,
		UserID:    task.UserID,
		ChatID:    task.Handle.ChatID,
		MessageID: task.Handle.MessageID,
		Serial:    task.Serial,
	})
}

func (t *Tracker) apply(task *Task, st step) {
	if st.success {
		if t.Ledger.RecordSuccess(task.UserID, task.Phone) {
			logger.Info("[tracker] success for %s by user %d", task.Phone, task.UserID)
		} else {
			logger.Debug("[tracker] success for %s already counted today", task.Phone)
		}
	}
	if !task.State.Final() {
		return
	}

	t.Registry.Remove(task.Phone)
	if st.release {
		t.Pool.Release(task.Lease.Token)
	}
	if task.LastCode == remote.StatusAuthExpired {
		// the next InitializeUser logs the account in again
		t.Pool.Invalidate(task.Lease.Token)
	}
	if st.cleanup {
		t.cleanup(task)
	}

	metrics.TasksActive.Dec()
	metrics.TasksFinished.WithLabelValues(task.State.String()).Inc()
	t.publish(events.EventTaskFinished, task)
	logger.Info("[tracker] %s finished: %s after %d checks", task.Phone, task.State, task.Checks)
}

func (t *Tracker) cleanup(task *Task) {
	targets := t.Pool.CleanupTargets(task.UserID)
	report := t.Cleaner.Sweep(t.ctx, task.Phone, targets, task.Lease.Token, task.RecordID)
	t.Ledger.RecordDeleted(report.Deleted)

	t.Bus.Publish(events.Event{
		Type: events.EventCleanupDone,
		Data: events.CleanupData{
			Phone:   task.Phone,
			UserID:  task.UserID,
			Targets: report.Targets,
			Deleted: report.Deleted,
			Absent:  report.Absent,
			Failed:  report.Failed,
		},
	})
	if report.Failed > 0 {
		sentry.CaptureError(
			fmt.Errorf("%d of %d accounts failed", report.Failed, report.Targets),
			"[cleanup] "+task.Phone)
	}
	logger.Info("[cleanup] %s: %d deleted, %d absent, %d failed", task.Phone, report.Deleted, report.Absent, report.Failed)
}

// render updates the display if the status line changed since the last
// update of task.
func (t *Tracker) render(task *Task, snap *Task) {
	if t.Display == nil {
		return
	}
	line := snap.Line()

	t.mu.Lock()
	if task.rendered == line {
		t.mu.Unlock()
		return
	}
	task.rendered = line
	t.mu.Unlock()

	if err := t.Display.Render(t.ctx, snap.Handle, line); err != nil {
		logger.Warn("[tracker] update display for %s: %v", snap.Phone, err)
	}
}

// Cancel ends the chain for phone without cleanup. The lease is released
// and the number leaves the registry.
func (t *Tracker) Cancel(phone string) error {
	t.mu.Lock()
	task, ok := t.tasks[phone]
	if !ok {
		t.mu.Unlock()
		return fmt.Errorf("cancel %s: %w", phone, apperrors.ErrNotTracked)
	}
	delete(t.tasks, phone)
	if task.timer != nil {
		task.timer.Stop()
		task.timer = nil
	}
	task.State = StateCancelled
	snap := *task
	t.mu.Unlock()

	t.apply(&snap, step{next: StateCancelled, release: true})
	return nil
}

// Get returns a copy of the task tracking phone.
func (t *Tracker) Get(phone string) (Task, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	task, ok := t.tasks[phone]
	if !ok {
		return Task{}, false
	}
	return *task, true
}

// Active returns copies of every tracked task.
func (t *Tracker) Active() []Task {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]Task, 0, len(t.tasks))
	for _, task := range t.tasks {
		out = append(out, *task)
	}
	return out
}

// Len returns the number of active chains.
func (t *Tracker) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.tasks)
}

// Shutdown stops every pending poll. Leases are not released; they only
// live in memory and go away with the process.
func (t *Tracker) Shutdown() {
	t.mu.Lock()
	t.closed = true
	for _, task := range t.tasks {
		if task.timer != nil {
			task.timer.Stop()
			task.timer = nil
		}
	}
	t.mu.Unlock()
	t.cancel()
}

func (t *Tracker) publish(typ events.EventType, task *Task) {
	t.Bus.Publish(events.Event{
		Type: typ,
		Data: events.TaskData{
			TaskID:  task.ID,
			Phone:   task.Phone,
			CC:      task.CC,
			UserID:  task.UserID,
			Account: task.Lease.Label,
			State:   task.State.String(),
			Status:  task.LastStatus,
			Checks:  task.Checks,
		},
	})
}
