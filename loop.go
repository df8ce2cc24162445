package superloop

import (
	"context"
	"runtime/debug"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

// Defaults applied by New.
const (
	DefaultGracePeriod = 5 * time.Second
	DefaultMaxFailures = 10
)

// Cycler supplies the unit of work a Loop repeats on its own goroutine.
// Cycle is called back to back for as long as the loop is running; it should
// return control regularly, a body that never returns cannot be stopped
// mid-iteration.
type Cycler interface {
	Cycle()
}

// CyclerFunc adapts a plain func to the Cycler interface.
type CyclerFunc func()

func (f CyclerFunc) Cycle() { f() }

// Optional lifecycle hooks. A Cycler implements any subset of these;
// missing hooks default to no-ops.
type (
	// StartHook runs synchronously on the caller of Start, before the loop
	// goroutine is created, receiving the arguments given to Start.
	// Returning false rejects the start and leaves the loop stopped.
	StartHook interface {
		OnStart(args ...interface{}) bool
	}

	// StopHook runs on the caller of Stop after the join attempt.
	StopHook interface {
		OnStop(args ...interface{})
	}

	// LoopStartHook runs on the loop goroutine before the first cycle.
	LoopStartHook interface {
		OnLoopStart()
	}

	// LoopStopHook runs on the loop goroutine after the last cycle.
	LoopStopHook interface {
		OnLoopStop()
	}
)

// Logger is the minimal sugared logging surface the package writes lifecycle
// notifications to. *zap.SugaredLogger satisfies it.
type Logger interface {
	Debugw(msg string, keysAndValues ...interface{})
	Infow(msg string, keysAndValues ...interface{})
	Warnw(msg string, keysAndValues ...interface{})
	Errorw(msg string, keysAndValues ...interface{})
}

var _ Logger = (*zap.SugaredLogger)(nil)

// MetricObserveFunc receives each cycle duration in seconds.
type MetricObserveFunc func(float64)

// State of the loop automaton.
type State int32

const (
	Stopped State = iota
	Starting
	Running
	Stopping
	// Killed marks the moment a hard reset abandons the previous generation
	// without joining it; the loop leaves it again for Starting immediately.
	Killed
)

func (s State) String() string {
	switch s {
	case Stopped:
		return "stopped"
	case Starting:
		return "starting"
	case Running:
		return "running"
	case Stopping:
		return "stopping"
	case Killed:
		return "killed"
	default:
		return "unknown"
	}
}

// generation is one lifetime of the loop goroutine. Each start and each hard
// reset creates a fresh one, so a kill aimed at an old generation can never
// reach its successor.
type generation struct {
	id   uint64
	ctx  context.Context
	kill context.CancelFunc
	done chan struct{}
}

func (g *generation) killed() bool { return g.ctx.Err() != nil }

func (g *generation) alive() bool {
	if g == nil {
		return false
	}
	select {
	case <-g.done:
		return false
	default:
		return true
	}
}

// Loop runs a Cycler repeatedly on a dedicated goroutine with managed
// start/stop, cooperative cancellation and failure accounting. Configuration
// methods are chained after New and must not be called once the loop started.
//
// Start, Stop and HardReset are mutually exclusive per instance; calling them
// from multiple goroutines is safe. Failure is expected from the loop's own
// goroutine or a single external caller.
type Loop struct {
	cycler Cycler
	name   string

	logger    Logger
	loggerSet bool

	grace         time.Duration
	maxFailures   int64
	stopOnFailure bool
	resetGlobally bool
	recoverCycle  bool
	schedule      ScheduleFunc
	locker        Locker
	observe       MetricObserveFunc

	mu    sync.Mutex
	green *GreenLight
	gen   *generation
	prev  *generation // last generation abandoned without a successful join

	state    atomic.Int32
	failures atomic.Int64
	genSeq   atomic.Uint64
}

// New returns a stopped loop around c with the default configuration.
func New(c Cycler) *Loop {
	return &Loop{
		cycler:        c,
		name:          loopName(c),
		logger:        zap.NewNop().Sugar(),
		grace:         DefaultGracePeriod,
		maxFailures:   DefaultMaxFailures,
		resetGlobally: true,
	}
}

// WithGreenLight attaches the shared health flag the loop reports to when its
// failure limit is exceeded. A Controller assigns its own light at
// registration if none was attached here.
func (l *Loop) WithGreenLight(g *GreenLight) *Loop {
	l.green = g
	return l
}

// WithGracePeriod sets how long Stop waits for the loop goroutine to exit.
func (l *Loop) WithGracePeriod(d time.Duration) *Loop {
	l.grace = d
	return l
}

// WithMaxFailures sets the number of Failure calls tolerated before the loop
// escalates through the green light.
func (l *Loop) WithMaxFailures(n int) *Loop {
	l.maxFailures = int64(n)
	return l
}

// StopOnFailure makes the loop stop itself when the failure limit is
// exceeded, in addition to unsetting the green light.
func (l *Loop) StopOnFailure() *Loop {
	l.stopOnFailure = true
	return l
}

// SkipGlobalReset excludes the loop from Controller group resets; it stays
// registered and keeps reporting failures, but is never stopped or restarted
// because of another loop's health.
func (l *Loop) SkipGlobalReset() *Loop {
	l.resetGlobally = false
	return l
}

// RecoverPanics catches panics escaping Cycle, logs the stack and counts
// them as an implicit Failure. Without it a panicking cycle crashes the
// process, which is the default Go behavior.
func (l *Loop) RecoverPanics() *Loop {
	l.recoverCycle = true
	return l
}

// WithLogger sets the logger lifecycle notifications go to.
func (l *Loop) WithLogger(lgr Logger) *Loop {
	l.logger = lgr
	l.loggerSet = true
	return l
}

// WithName replaces the generated <Type>_<index> display name.
func (l *Loop) WithName(name string) *Loop {
	l.name = name
	return l
}

// WithMetrics sets an observer receiving each cycle duration in seconds.
func (l *Loop) WithMetrics(observe MetricObserveFunc) *Loop {
	l.observe = observe
	return l
}

// Name returns the loop's display name.
func (l *Loop) Name() string { return l.name }

// State returns the current automaton state.
func (l *Loop) State() State { return State(l.state.Load()) }

// Running reports whether the loop is in the Running state.
func (l *Loop) Running() bool { return l.State() == Running }

// Alive reports whether any loop goroutine is still executing, including a
// previous generation that outlived its grace period. It differs from
// State() == Running exactly during that wind-down window.
func (l *Loop) Alive() bool {
	l.mu.Lock()
	gen, prev := l.gen, l.prev
	l.mu.Unlock()
	return gen.alive() || prev.alive()
}

// Failures returns the current failure count.
func (l *Loop) Failures() int { return int(l.failures.Load()) }

// Generation returns the id of the newest generation, 0 before the first
// start. Every start and every hard reset produces a strictly larger id.
func (l *Loop) Generation() uint64 { return l.genSeq.Load() }

// Start brings a stopped loop to Running. The OnStart hook, when implemented,
// runs synchronously on the caller with args before the loop goroutine is
// created; returning false rejects the start. Calling Start while the loop
// is starting, running or stopping is a no-op.
//
// Returns true when a new generation was started.
func (l *Loop) Start(args ...interface{}) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.startLocked(args...)
}

func (l *Loop) startLocked(args ...interface{}) bool {
	switch l.State() {
	case Starting, Running, Stopping:
		return false
	}

	l.state.Store(int32(Starting))

	if !l.callOnStart(args...) {
		l.logger.Infow("start rejected", "loop", l.name)
		l.state.Store(int32(Stopped))
		return false
	}

	l.spawnLocked()
	return true
}

// callOnStart runs the OnStart hook. A panicking hook is logged and treated
// as consent, it must not leave the loop half started.
func (l *Loop) callOnStart(args ...interface{}) (cont bool) {
	h, ok := l.cycler.(StartHook)
	if !ok {
		return true
	}
	defer func() {
		if r := recover(); r != nil {
			l.logger.Errorw("panic in OnStart", "loop", l.name, "panic", r)
			cont = true
		}
	}()
	return h.OnStart(args...)
}

func (l *Loop) spawnLocked() {
	ctx, kill := context.WithCancel(context.Background())
	gen := &generation{
		id:   l.genSeq.Add(1),
		ctx:  ctx,
		kill: kill,
		done: make(chan struct{}),
	}
	l.gen = gen
	l.state.Store(int32(Running))
	go l.run(gen)
	l.logger.Infow("loop started", "loop", l.name, "generation", gen.id)
}

// Stop kills the current generation and joins it for up to the grace period,
// then runs the OnStop hook on the caller. The loop is Stopped afterwards
// even when the join timed out; in that case the old goroutine is still
// winding down in the background and Alive stays true until it exits.
// Calling Stop on a stopped loop is a no-op returning true.
//
// Stop issued from inside the Cycle body cannot join its own goroutine and
// waits the full grace period before proceeding.
//
// Returns false when the join exceeded the grace period.
func (l *Loop) Stop(args ...interface{}) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.stopLocked(args...)
}

func (l *Loop) stopLocked(args ...interface{}) bool {
	gen := l.gen
	if gen == nil {
		return true
	}

	l.logger.Infow("loop stopping", "loop", l.name, "generation", gen.id)
	l.state.Store(int32(Stopping))
	gen.kill()

	joined := waitDone(gen.done, l.grace)
	if !joined {
		l.prev = gen
		l.logger.Warnw("grace period elapsed before loop exited",
			"loop", l.name, "generation", gen.id, "grace_period", l.grace)
	}

	l.callOnStop(args...)

	l.gen = nil
	l.state.Store(int32(Stopped))
	return joined
}

func (l *Loop) callOnStop(args ...interface{}) {
	h, ok := l.cycler.(StopHook)
	if !ok {
		return
	}
	defer func() {
		if r := recover(); r != nil {
			l.logger.Errorw("panic in OnStop", "loop", l.name, "panic", r)
		}
	}()
	h.OnStop(args...)
}

// HardReset abandons the current generation and immediately starts a fresh
// one without waiting for the old goroutine to exit. The old generation is
// killed and joined in the background, its OnStop hook running there after
// the join attempt; for a bounded window both goroutines are alive, the old
// one strictly winding down. No-op on a stopped loop.
func (l *Loop) HardReset() {
	l.mu.Lock()
	defer l.mu.Unlock()

	old := l.gen
	if old == nil {
		return
	}

	l.logger.Infow("hard reset", "loop", l.name, "generation", old.id)
	l.state.Store(int32(Killed))
	old.kill()
	l.prev = old

	go func() {
		if !waitDone(old.done, l.grace) {
			l.logger.Warnw("killed generation outlived its grace period",
				"loop", l.name, "generation", old.id, "grace_period", l.grace)
		}
		l.callOnStop()
	}()

	l.state.Store(int32(Starting))
	l.spawnLocked()
}

// Failure increments the failure count. Past the limit the count resets to
// zero, the attached green light is unset, and, with StopOnFailure, the loop
// stops itself. The count survives Stop/Start; only this escalation clears
// it.
//
// Returns true when the limit was exceeded by this call.
func (l *Loop) Failure() bool {
	n := l.failures.Add(1)
	if n <= l.maxFailures {
		return false
	}

	l.logger.Infow("failure limit exceeded, escalating",
		"loop", l.name, "failures", n, "max_failures", l.maxFailures)
	l.failures.Store(0)

	l.mu.Lock()
	green := l.green
	l.mu.Unlock()
	if green != nil {
		green.Unset()
	}

	if l.stopOnFailure {
		l.Stop()
	}
	return true
}

// attachGreenLight assigns the controller's light unless one is attached.
func (l *Loop) attachGreenLight(g *GreenLight) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.green == nil {
		l.green = g
	}
}

// run is the loop goroutine body for one generation.
func (l *Loop) run(gen *generation) {
	defer l.finalize(gen)

	if !l.callOnLoopStart(gen) {
		return
	}

	l.loop(gen)

	l.callOnLoopStop(gen)
	l.logger.Infow("loop exited", "loop", l.name, "generation", gen.id, "killed", gen.killed())
}

// finalize closes the generation and, when the goroutine died without anyone
// calling Stop (lock not obtained, OnLoopStart panic), moves the loop to
// Stopped so MaintainLoops can heal it later.
func (l *Loop) finalize(gen *generation) {
	close(gen.done)

	l.mu.Lock()
	defer l.mu.Unlock()
	if l.gen == gen && l.State() == Running {
		l.gen = nil
		l.state.Store(int32(Stopped))
		l.logger.Infow("loop self-terminated", "loop", l.name, "generation", gen.id)
	}
}

func (l *Loop) callOnLoopStart(gen *generation) (ok bool) {
	h, hooked := l.cycler.(LoopStartHook)
	if !hooked {
		return true
	}
	defer func() {
		if r := recover(); r != nil {
			l.logger.Errorw("panic in OnLoopStart, exiting",
				"loop", l.name, "generation", gen.id, "panic", r)
			ok = false
		}
	}()
	h.OnLoopStart()
	return true
}

func (l *Loop) callOnLoopStop(gen *generation) {
	h, hooked := l.cycler.(LoopStopHook)
	if !hooked {
		return
	}
	defer func() {
		if r := recover(); r != nil {
			l.logger.Errorw("panic in OnLoopStop",
				"loop", l.name, "generation", gen.id, "panic", r)
		}
	}()
	h.OnLoopStop()
}

// loop cycles until the loop leaves Running or the generation is killed.
// Both conditions are checked once per iteration boundary, cancellation is
// cooperative and never preemptive.
func (l *Loop) loop(gen *generation) {
	if l.locker != nil {
		if err := l.locker.Lock(); err != nil {
			l.logger.Warnw("loop lock not obtained, exiting",
				"loop", l.name, "generation", gen.id, "error", err)
			return
		}
		defer l.locker.Unlock()
	}

	var pace func(context.Context) bool
	if l.schedule != nil {
		pace = l.schedule()
	}

	for l.State() == Running && !gen.killed() {
		l.runCycle(gen)
		if pace != nil && !pace(gen.ctx) {
			return
		}
	}
}

func (l *Loop) runCycle(gen *generation) {
	if l.recoverCycle {
		defer func() {
			if r := recover(); r != nil {
				l.logger.Errorw("panic in cycle",
					"loop", l.name, "generation", gen.id,
					"panic", r, "stack", string(debug.Stack()))
				l.Failure()
			}
		}()
	}

	if l.observe != nil {
		start := time.Now()
		defer func() { l.observe(time.Since(start).Seconds()) }()
	}

	l.cycler.Cycle()
}

func waitDone(done <-chan struct{}, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-done:
		return true
	case <-timer.C:
		return false
	}
}
