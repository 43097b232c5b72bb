package scheduler

import (
	"context"
	"errors"
	"math"
	"math/rand/v2"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/Mmx233/QFarm/metrics"
	"github.com/rs/zerolog"
)

var (
	ErrInvalidInterval = errors.New("interval must be positive")
	ErrEmptyID         = errors.New("task id is empty")
)

// Options configures a Scheduler
type Options struct {
	// Name labels logs and metrics, usually the account name
	Name string
	// Settings is consulted on every decision so config changes apply immediately
	Settings func() Settings
	// Rand drives jitter, tie-breaks and rest periods. Defaults to a randomly seeded PCG.
	Rand  *rand.Rand
	Clock Clock

	MaxIdleWait      time.Duration // Longest sleep while nothing is due
	MinIdleWait      time.Duration // Shortest sleep while nothing is due
	RestPollInterval time.Duration // Re-check period while resting
}

func (o *Options) applyDefaults() {
	if o.Settings == nil {
		o.Settings = func() Settings { return Settings{} }
	}
	if o.Rand == nil {
		o.Rand = rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64()))
	}
	if o.Clock == nil {
		o.Clock = realClock{}
	}
	if o.MaxIdleWait == 0 {
		o.MaxIdleWait = 500 * time.Millisecond
	}
	if o.MinIdleWait == 0 {
		o.MinIdleWait = 50 * time.Millisecond
	}
	if o.RestPollInterval == 0 {
		o.RestPollInterval = time.Second
	}
}

// Status is a point-in-time snapshot of a scheduler
type Status struct {
	Resting         bool      `json:"resting"`
	RestSecondsLeft int       `json:"rest_seconds_left"`
	Intensity       Intensity `json:"intensity"`
	TaskCount       int       `json:"task_count"`
	CurrentTask     string    `json:"current_task,omitempty"`
}

// Scheduler runs registered tasks one at a time on a single loop, with
// human-like pacing when human mode is enabled.
type Scheduler struct {
	opts   Options
	logger zerolog.Logger

	mu         sync.Mutex
	rng        *rand.Rand
	tasks      map[string]*task
	running    bool
	cancel     context.CancelFunc
	done       chan struct{}
	resting    bool
	restEnd    time.Time
	nextRestAt time.Time
	current    string

	wake chan struct{}
}

// New creates a stopped scheduler
func New(opts Options, logger zerolog.Logger) *Scheduler {
	opts.applyDefaults()
	return &Scheduler{
		opts:   opts,
		logger: logger.With().Str("com", "scheduler").Str("account", opts.Name).Logger(),
		rng:    opts.Rand,
		tasks:  make(map[string]*task),
		wake:   make(chan struct{}, 1),
	}
}

// Every registers or replaces a periodic task. The first run is due after StartDelay.
func (s *Scheduler) Every(id string, run Runner, opts EveryOptions) error {
	if id == "" {
		return ErrEmptyID
	}
	if opts.Interval <= 0 {
		return ErrInvalidInterval
	}
	s.register(&task{
		id:        id,
		name:      nameOr(opts.Name, id),
		run:       run,
		kind:      periodic,
		interval:  opts.Interval,
		nextRunAt: s.opts.Clock.Now().Add(opts.StartDelay),
	})
	return nil
}

// Once registers or replaces a task that is removed after its single run,
// whether it succeeds or not.
func (s *Scheduler) Once(id string, run Runner, opts OnceOptions) error {
	if id == "" {
		return ErrEmptyID
	}
	s.register(&task{
		id:        id,
		name:      nameOr(opts.Name, id),
		run:       run,
		kind:      oneShot,
		nextRunAt: s.opts.Clock.Now().Add(opts.Delay),
	})
	return nil
}

func nameOr(name, id string) string {
	if name == "" {
		return id
	}
	return name
}

func (s *Scheduler) register(t *task) {
	s.mu.Lock()
	s.tasks[t.id] = t
	n := len(s.tasks)
	s.mu.Unlock()

	metrics.SetTaskCount(s.opts.Name, n)
	s.logger.Debug().Str("task", t.name).Str("kind", t.kind.String()).Time("next_run_at", t.nextRunAt).Msg("task registered")
	s.notify()
}

// Trigger pulls task id forward to roughly now+debounce. It never postpones
// a run that is already due sooner. Unknown ids are ignored.
func (s *Scheduler) Trigger(id string, debounce time.Duration) {
	s.mu.Lock()
	t, ok := s.tasks[id]
	if !ok {
		s.mu.Unlock()
		return
	}
	ratio := s.preset().JitterRatio
	offset := (s.rng.Float64()*2 - 1) * float64(debounce) * ratio
	candidate := s.opts.Clock.Now().Add(debounce + time.Duration(offset))
	moved := candidate.Before(t.nextRunAt)
	if moved {
		t.nextRunAt = candidate
	}
	s.mu.Unlock()

	if moved {
		s.logger.Trace().Str("task", t.name).Time("next_run_at", candidate).Msg("task triggered")
		s.notify()
	}
}

// Unregister removes task id. A run already in progress completes.
func (s *Scheduler) Unregister(id string) {
	s.mu.Lock()
	delete(s.tasks, id)
	n := len(s.tasks)
	s.mu.Unlock()
	metrics.SetTaskCount(s.opts.Name, n)
}

// Has reports whether task id is registered
func (s *Scheduler) Has(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.tasks[id]
	return ok
}

// NextRunAt returns when task id is next due
func (s *Scheduler) NextRunAt(id string) (time.Time, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tasks[id]
	if !ok {
		return time.Time{}, false
	}
	return t.nextRunAt, true
}

// JitterRatio is the ratio of the active preset, zero with human mode off
func (s *Scheduler) JitterRatio() float64 {
	return PresetFor(s.opts.Settings()).JitterRatio
}

// Running reports whether the loop is active
func (s *Scheduler) Running() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

// Start begins the run loop. Rest periods are scheduled only with human mode on.
// Calling Start on a running scheduler is a no-op.
func (s *Scheduler) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	s.running = true
	s.cancel = cancel
	s.done = make(chan struct{})
	if p := s.preset(); p.hasRest() {
		s.scheduleRest(s.opts.Clock.Now(), p)
	}

	s.logger.Debug().Int("tasks", len(s.tasks)).Msg("scheduler started")
	go s.loop(ctx, s.done)
}

// Stop halts the loop, cancels the running task's context, clears every task
// and any pending rest. It waits for the loop to exit, so it must not be
// called from inside a runner.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	cancel, done := s.cancel, s.done
	wasRunning := s.running
	s.running = false
	s.cancel = nil
	s.done = nil
	clear(s.tasks)
	s.resting = false
	s.restEnd = time.Time{}
	s.nextRestAt = time.Time{}
	s.current = ""
	s.mu.Unlock()

	if cancel != nil {
		cancel()
		<-done
	}
	metrics.SetTaskCount(s.opts.Name, 0)
	metrics.SetResting(s.opts.Name, false)
	if wasRunning {
		s.logger.Debug().Msg("scheduler stopped")
	}
}

// Status returns a snapshot without side effects
func (s *Scheduler) Status() Status {
	settings := s.opts.Settings()
	now := s.opts.Clock.Now()

	s.mu.Lock()
	defer s.mu.Unlock()

	st := Status{
		Resting:     s.resting,
		Intensity:   IntensityLow,
		TaskCount:   len(s.tasks),
		CurrentTask: s.current,
	}
	if settings.HumanMode {
		st.Intensity = settings.Intensity
	}
	if s.resting {
		st.RestSecondsLeft = max(0, int(math.Ceil(s.restEnd.Sub(now).Seconds())))
	}
	return st
}

func (s *Scheduler) notify() {
	select {
	case s.wake <- struct{}{}:
	default:
	}
}

// preset must be called with mu held
func (s *Scheduler) preset() Preset {
	return PresetFor(s.opts.Settings())
}

func (s *Scheduler) loop(ctx context.Context, done chan struct{}) {
	defer close(done)

	for {
		t, wait := s.next()
		if t == nil {
			select {
			case <-ctx.Done():
				return
			case <-s.wake:
			case <-s.opts.Clock.After(wait):
			}
			continue
		}

		s.execute(ctx, t)
		if ctx.Err() != nil {
			return
		}

		if delay := s.interTaskDelay(); delay > 0 {
			select {
			case <-ctx.Done():
				return
			case <-s.opts.Clock.After(delay):
			}
		}
	}
}

// next picks the task to run now, or reports how long to sleep.
// Ties between due tasks are broken uniformly at random.
func (s *Scheduler) next() (*task, time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.opts.Clock.Now()
	if wait, resting := s.updateRest(now, s.preset()); resting {
		return nil, wait
	}

	var due []*task
	var earliest time.Time
	for _, t := range s.tasks {
		if !t.nextRunAt.After(now) {
			due = append(due, t)
		} else if earliest.IsZero() || t.nextRunAt.Before(earliest) {
			earliest = t.nextRunAt
		}
	}

	if len(due) == 0 {
		wait := s.opts.MaxIdleWait
		if !earliest.IsZero() {
			wait = min(wait, earliest.Sub(now))
		}
		return nil, max(wait, s.opts.MinIdleWait)
	}

	// Map order is random; sort so a seeded source gives reproducible picks.
	slices.SortFunc(due, func(a, b *task) int { return strings.Compare(a.id, b.id) })
	t := due[0]
	if len(due) > 1 {
		t = due[s.rng.IntN(len(due))]
	}
	s.current = t.name
	return t, 0
}

// updateRest advances the rest state machine. It must be called with mu held
// and reports whether the loop is resting and for how long to sleep.
func (s *Scheduler) updateRest(now time.Time, p Preset) (time.Duration, bool) {
	if s.resting {
		if now.Before(s.restEnd) {
			return min(s.restEnd.Sub(now), s.opts.RestPollInterval), true
		}
		s.resting = false
		s.restEnd = time.Time{}
		metrics.SetResting(s.opts.Name, false)
		s.logger.Info().Msg("rest over")
		s.nextRestAt = time.Time{}
	}

	if !p.hasRest() {
		s.nextRestAt = time.Time{}
		return 0, false
	}
	if s.nextRestAt.IsZero() {
		s.scheduleRest(now, p)
		return 0, false
	}
	if now.Before(s.nextRestAt) {
		return 0, false
	}

	d := s.randomBetween(p.RestDurationMin, p.RestDurationMax)
	s.resting = true
	s.restEnd = now.Add(d)
	s.nextRestAt = time.Time{}
	metrics.SetResting(s.opts.Name, true)
	s.logger.Info().Dur("duration", d).Msg("taking a rest")
	return min(d, s.opts.RestPollInterval), true
}

func (s *Scheduler) scheduleRest(now time.Time, p Preset) {
	s.nextRestAt = now.Add(s.randomBetween(p.RestIntervalMin, p.RestIntervalMax))
	s.logger.Debug().Time("at", s.nextRestAt).Msg("next rest scheduled")
}

func (s *Scheduler) execute(ctx context.Context, t *task) {
	logger := s.logger.With().Str("task", t.name).Logger()
	logger.Trace().Msg("running task")

	err := t.invoke(ctx)
	result := "ok"
	if err != nil {
		var te *TaskError
		switch {
		case ctx.Err() != nil:
			result = "cancelled"
			logger.Debug().Err(err).Msg("task interrupted by stop")
		case errors.As(err, &te) && te.Panic:
			result = "panic"
			logger.Error().Err(err).Msg("task panicked")
		default:
			result = "error"
			logger.Warn().Err(err).Msg("task failed")
		}
	}
	metrics.RecordTaskRun(t.name, result)

	s.mu.Lock()
	s.current = ""
	// Skip rescheduling when stopped, unregistered or replaced during the run.
	if ctx.Err() == nil && s.tasks[t.id] == t {
		if t.kind == periodic {
			t.nextRunAt = s.opts.Clock.Now().Add(s.jitter(t.interval))
		} else {
			delete(s.tasks, t.id)
		}
	}
	n := len(s.tasks)
	s.mu.Unlock()
	metrics.SetTaskCount(s.opts.Name, n)
}

func (s *Scheduler) interTaskDelay() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	p := s.preset()
	if p.InterTaskDelayMax <= 0 {
		return 0
	}
	return s.randomBetween(p.InterTaskDelayMin, p.InterTaskDelayMax)
}

// jitter returns base ± base*ratio rounded to the millisecond. mu must be held.
func (s *Scheduler) jitter(base time.Duration) time.Duration {
	ratio := s.preset().JitterRatio
	if ratio <= 0 {
		return base
	}
	d := float64(base) + (s.rng.Float64()*2-1)*float64(base)*ratio
	return max(0, time.Duration(math.Round(d/float64(time.Millisecond)))*time.Millisecond)
}

// randomBetween draws a whole number of milliseconds in [lo, hi]. mu must be held.
func (s *Scheduler) randomBetween(lo, hi time.Duration) time.Duration {
	if hi <= lo {
		return lo
	}
	span := int64((hi-lo)/time.Millisecond) + 1
	return lo + time.Duration(s.rng.Int64N(span))*time.Millisecond
}
