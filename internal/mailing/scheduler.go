package mailing

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"relaybot/internal/storage"
	"relaybot/pkg/logx"
)

// Deliverer is the slice of Engine the scheduler drives.
type Deliverer interface {
	Deliver(ctx context.Context, ownerID, templateID int64, dests []string) (Result, error)
}

// RunReport describes one finished firing, for the optional event stream.
type RunReport struct {
	TaskID      int64         `json:"task_id"`
	OwnerID     int64         `json:"owner_id"`
	TemplateID  int64         `json:"template_id"`
	Sent        int           `json:"sent"`
	Failed      int           `json:"failed"`
	Skipped     int           `json:"skipped"`
	Deactivated bool          `json:"deactivated"`
	Duration    time.Duration `json:"duration_ns"`
	At          time.Time     `json:"at"`
}

// Reporter receives run reports. Implementations must not block for long;
// the scheduler calls it synchronously at the end of a firing.
type Reporter interface {
	DeliveryFinished(ctx context.Context, r RunReport)
}

// Policy holds the knobs enforced at task creation and firing time. It is
// swappable at runtime via SetPolicy for config reload.
type Policy struct {
	// MinInterval is the floor for ordinary owners; PrivilegedMinInterval
	// applies to admins and is also the absolute floor used when arming
	// legacy rows at rehydration.
	MinInterval           time.Duration
	PrivilegedMinInterval time.Duration

	MaxDestinations int

	// MaxStrikes is how many consecutive zero-success runs a task survives
	// before deactivation.
	MaxStrikes int

	// StrikeOnAllSkipped counts a run where every destination was skipped
	// by the heuristic as a strike. Off by default: an all-skipped run
	// means every destination already carries our latest message.
	StrikeOnAllSkipped bool
}

func (p *Policy) applyDefaults() {
	if p.MinInterval <= 0 {
		p.MinInterval = 5 * time.Minute
	}
	if p.PrivilegedMinInterval <= 0 {
		p.PrivilegedMinInterval = 10 * time.Second
	}
	if p.MaxDestinations <= 0 {
		p.MaxDestinations = 50
	}
	if p.MaxStrikes <= 0 {
		p.MaxStrikes = 1
	}
}

// Scheduler owns one recurring timer per active task. All mutations of the
// entry table go through mu; firings run on the cron goroutine pool and are
// kept non-overlapping per task by a SkipIfStillRunning chain.
type Scheduler struct {
	store    storage.Store
	engine   Deliverer
	reporter Reporter // may be nil
	log      logx.Logger

	mu      sync.Mutex
	policy  Policy
	c       *cron.Cron
	entries map[int64]cron.EntryID
	strikes map[int64]int
	started bool

	runCtx    context.Context
	cancelRun context.CancelFunc
}

func NewScheduler(store storage.Store, engine Deliverer, policy Policy, log logx.Logger) *Scheduler {
	policy.applyDefaults()
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Scheduler{
		store:   store,
		engine:  engine,
		policy:  policy,
		log:     log,
		c:       cron.New(),
		entries: map[int64]cron.EntryID{},
		strikes: map[int64]int{},
	}
}

// SetReporter must be called before Start.
func (s *Scheduler) SetReporter(r Reporter) { s.reporter = r }

// SetPolicy swaps the enforcement knobs; already-armed timers keep their
// interval until re-armed.
func (s *Scheduler) SetPolicy(p Policy) {
	p.applyDefaults()
	s.mu.Lock()
	s.policy = p
	s.mu.Unlock()
}

func (s *Scheduler) Policy() Policy {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.policy
}

// Start begins firing armed tasks. Call Rehydrate first.
func (s *Scheduler) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started {
		return
	}
	s.runCtx, s.cancelRun = context.WithCancel(context.Background())
	s.c.Start()
	s.started = true
}

// Stop cancels future firings and interrupts in-flight pacing sleeps. It
// waits for running jobs to return.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if !s.started {
		s.mu.Unlock()
		return
	}
	s.started = false
	cancel := s.cancelRun
	c := s.c
	s.mu.Unlock()

	cancel()
	<-c.Stop().Done()
}

// Rehydrate loads every active task and arms its timer. Called exactly once
// at process start, before Start.
func (s *Scheduler) Rehydrate(ctx context.Context) error {
	tasks, err := s.store.ActiveTasks(ctx)
	if err != nil {
		return fmt.Errorf("load active tasks: %w", err)
	}
	for _, t := range tasks {
		if err := s.arm(t, false); err != nil {
			s.log.Error("failed to arm task", logx.Int64("task", t.ID), logx.Err(err))
			continue
		}
	}
	s.log.Info("rehydrated mailing tasks", logx.Int("count", len(tasks)))
	return nil
}

// CreateAndArm validates, persists and arms a new task. The first firing
// happens immediately so the owner sees instant feedback; the recurring
// cadence follows.
func (s *Scheduler) CreateAndArm(ctx context.Context, ownerID, templateID int64, rawDests []string, start, end string, interval time.Duration, privileged bool) (int64, error) {
	pol := s.Policy()

	parsed, dropped := ParseDestinations(rawDests)
	for _, d := range dropped {
		s.log.Warn("rejecting malformed destination at creation", logx.String("dest", d))
	}
	if len(parsed) == 0 {
		return 0, ErrNoValidDestinations
	}
	if len(parsed) > pol.MaxDestinations {
		return 0, fmt.Errorf("too many destinations: %d > %d", len(parsed), pol.MaxDestinations)
	}

	floor := pol.MinInterval
	if privileged {
		floor = pol.PrivilegedMinInterval
	}
	if interval < floor {
		interval = floor
	}

	dests := make([]string, len(parsed))
	for i, d := range parsed {
		dests[i] = d.String()
	}

	task := storage.Task{
		OwnerID:         ownerID,
		TemplateID:      templateID,
		Destinations:    dests,
		StartTime:       start,
		EndTime:         end,
		IntervalSeconds: int(interval / time.Second),
		Active:          true,
	}
	id, err := s.store.CreateTask(ctx, task)
	if err != nil {
		return 0, fmt.Errorf("persist task: %w", err)
	}
	task.ID = id

	if err := s.arm(task, true); err != nil {
		return 0, err
	}
	s.log.Info("task created",
		logx.Int64("task", id),
		logx.Int64("owner", ownerID),
		logx.Int("destinations", len(dests)),
		logx.Duration("interval", interval))
	return id, nil
}

// StopTask deactivates the task and removes its timer. Stopping a task with
// no armed timer is a no-op.
func (s *Scheduler) StopTask(ctx context.Context, taskID int64) error {
	if err := s.store.DeactivateTask(ctx, taskID); err != nil {
		return fmt.Errorf("deactivate task %d: %w", taskID, err)
	}
	s.disarm(taskID)
	s.log.Info("task stopped", logx.Int64("task", taskID))
	return nil
}

// TasksForOwner is a passthrough for the task-listing UI.
func (s *Scheduler) TasksForOwner(ctx context.Context, ownerID int64) ([]storage.Task, error) {
	return s.store.ActiveTasksForOwner(ctx, ownerID)
}

// arm registers the recurring timer for t. At most one entry per task id
// exists at any time; arming an already-armed task replaces the entry.
func (s *Scheduler) arm(t storage.Task, immediate bool) error {
	interval := time.Duration(t.IntervalSeconds) * time.Second

	s.mu.Lock()
	if floor := s.policy.PrivilegedMinInterval; interval < floor {
		interval = floor
	}
	if old, ok := s.entries[t.ID]; ok {
		s.c.Remove(old)
	}
	job := cron.NewChain(cron.SkipIfStillRunning(cronLogger{s.log})).Then(cron.FuncJob(func() {
		s.fire(t)
	}))
	id := s.c.Schedule(cron.Every(interval), job)
	s.entries[t.ID] = id
	s.mu.Unlock()

	if immediate {
		go job.Run()
	}
	return nil
}

func (s *Scheduler) disarm(taskID int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if id, ok := s.entries[taskID]; ok {
		s.c.Remove(id)
		delete(s.entries, taskID)
	}
	delete(s.strikes, taskID)
}

// armed reports whether the task still has a live entry.
func (s *Scheduler) armed(taskID int64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.entries[taskID]
	return ok
}

// fire runs one scheduled delivery for t. It completes all destinations
// even if the task is stopped mid-run, then records the outcome; the final
// writes never resurrect a task stopped concurrently.
func (s *Scheduler) fire(t storage.Task) {
	log := s.log.With(logx.Int64("task", t.ID), logx.Int64("owner", t.OwnerID))

	if !withinWindow(time.Now(), t.StartTime, t.EndTime) {
		log.Debug("outside window, skipping firing",
			logx.String("start", t.StartTime), logx.String("end", t.EndTime))
		return
	}

	s.mu.Lock()
	ctx := s.runCtx
	maxStrikes := s.policy.MaxStrikes
	strikeOnSkipped := s.policy.StrikeOnAllSkipped
	s.mu.Unlock()
	if ctx == nil {
		ctx = context.Background()
	}

	began := time.Now()
	res, err := s.engine.Deliver(ctx, t.OwnerID, t.TemplateID, t.Destinations)
	if err != nil {
		log.Error("delivery failed", logx.Err(err))
	}

	deactivated := false
	if res.Sent > 0 {
		s.mu.Lock()
		delete(s.strikes, t.ID)
		s.mu.Unlock()
		if s.armed(t.ID) {
			if err := s.store.MarkLastRun(ctx, t.ID); err != nil {
				log.Error("failed to record last run", logx.Err(err))
			}
		}
	} else if !strikeOnSkipped && res.Skipped > 0 && res.Failed == 0 && err == nil {
		// Every destination was freshly posted already; not a failure.
		log.Debug("all destinations skipped")
	} else {
		strikes := s.strike(t.ID)
		if strikes >= maxStrikes {
			log.Warn("deactivating task after zero-success run", logx.Int("strikes", strikes))
			if err := s.store.DeactivateTask(context.Background(), t.ID); err != nil {
				log.Error("failed to deactivate task", logx.Err(err))
			}
			s.disarm(t.ID)
			deactivated = true
		} else {
			log.Warn("zero-success run", logx.Int("strikes", strikes), logx.Int("max", maxStrikes))
		}
	}

	if s.reporter != nil {
		s.reporter.DeliveryFinished(ctx, RunReport{
			TaskID:      t.ID,
			OwnerID:     t.OwnerID,
			TemplateID:  t.TemplateID,
			Sent:        res.Sent,
			Failed:      res.Failed,
			Skipped:     res.Skipped,
			Deactivated: deactivated,
			Duration:    time.Since(began),
			At:          began,
		})
	}
}

func (s *Scheduler) strike(taskID int64) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.strikes[taskID]++
	return s.strikes[taskID]
}

// cronLogger adapts logx to the cron logging interface.
type cronLogger struct {
	log logx.Logger
}

func (c cronLogger) Info(msg string, kv ...interface{}) {
	c.log.Debug(msg, logx.Any("details", kv))
}

func (c cronLogger) Error(err error, msg string, kv ...interface{}) {
	c.log.Error(msg, logx.Err(err), logx.Any("details", kv))
}
