package superloop

import (
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
)

// DefaultPollInterval is how often an idle Controller monitor looks at the
// green light.
const DefaultPollInterval = 100 * time.Millisecond

// Controller bundles loops under one green light and supervises them with a
// dedicated monitor goroutine. When any registered loop exceeds its failure
// limit and unsets the light, the monitor stops every loop participating in
// global resets, invokes the reset callback, sets the light and restarts the
// stopped loops, all in registration order.
//
// Sibling loops keep running between the moment the light goes out and the
// moment the monitor reacts; the reset is eventually consistent, not an
// atomic barrier.
//
// Configuration methods are chained after NewController and must not be
// called once the controller started.
type Controller struct {
	name          string
	poll          time.Duration
	resetCallback func()

	logger    Logger
	loggerSet bool

	mu      sync.Mutex
	green   *GreenLight
	monitor *Loop
	loops   []*Loop
}

// NewController returns an idle controller owning a freshly set green light.
func NewController() *Controller {
	c := &Controller{
		name:   fmt.Sprintf("Controller_%d", nextIndex("Controller")),
		poll:   DefaultPollInterval,
		logger: zap.NewNop().Sugar(),
		green:  NewGreenLight(),
	}
	c.green.Set()
	return c
}

// WithResetCallback sets a hook invoked during a group reset, after all
// participating loops stopped and before they restart. It is a notification,
// invoked with nothing and expected to return before the group comes back.
func (c *Controller) WithResetCallback(fn func()) *Controller {
	c.resetCallback = fn
	return c
}

// WithGreenLight replaces the owned green light with an externally supplied
// one. Call before registering loops.
func (c *Controller) WithGreenLight(g *GreenLight) *Controller {
	c.green = g
	return c
}

// WithPollInterval sets how often the monitor checks the green light.
func (c *Controller) WithPollInterval(d time.Duration) *Controller {
	c.poll = d
	return c
}

// WithLogger sets the controller's logger. Loops registered afterwards that
// carry no logger of their own inherit it.
func (c *Controller) WithLogger(lgr Logger) *Controller {
	c.logger = lgr
	c.loggerSet = true
	return c
}

// GreenLight returns the shared health flag.
func (c *Controller) GreenLight() *GreenLight {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.green
}

// Name returns the controller's display name.
func (c *Controller) Name() string { return c.name }

// Running reports whether the monitor is running.
func (c *Controller) Running() bool {
	c.mu.Lock()
	m := c.monitor
	c.mu.Unlock()
	return m != nil && m.Running()
}

// NewLoop registers l, attaching the controller's green light if the loop
// has none, and returns l for chaining. Registration order is the order of
// group resets, MaintainLoops and StopLoops.
func (c *Controller) NewLoop(l *Loop) *Loop {
	c.mu.Lock()
	defer c.mu.Unlock()

	l.attachGreenLight(c.green)
	if c.loggerSet && !l.loggerSet {
		l.WithLogger(c.logger)
	}
	c.loops = append(c.loops, l)
	c.logger.Debugw("loop registered", "controller", c.name, "loop", l.name)
	return l
}

// Start spawns the monitor goroutine. Idempotent; starting a running
// controller does nothing. Registered loops are not started here, use
// MaintainLoops or start them individually.
func (c *Controller) Start() {
	c.mu.Lock()
	if c.monitor == nil {
		c.monitor = New(CyclerFunc(c.check)).
			WithName(c.name).
			WithLogger(c.logger).
			ByTicker(c.poll)
	}
	m := c.monitor
	c.mu.Unlock()

	m.Start()
}

// Stop terminates the monitor after its current iteration. Registered loops
// keep running; pair with StopLoops for a full shutdown.
func (c *Controller) Stop() {
	c.mu.Lock()
	m := c.monitor
	c.mu.Unlock()

	if m != nil {
		m.Stop()
	}
}

// MaintainLoops starts every registered loop currently stopped. It is
// level-triggered and safe to call repeatedly: loops already starting,
// running or stopping are left alone. Use it to heal loops that stopped for
// reasons a group reset does not cover, e.g. StopOnFailure loops.
func (c *Controller) MaintainLoops() {
	for _, l := range c.snapshot() {
		if l.State() == Stopped {
			c.logger.Debugw("maintaining stopped loop", "controller", c.name, "loop", l.name)
			l.Start()
		}
	}
}

// StopLoops stops every registered loop in registration order, including
// loops excluded from global resets.
func (c *Controller) StopLoops() {
	for _, l := range c.snapshot() {
		l.Stop()
	}
}

func (c *Controller) snapshot() []*Loop {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]*Loop(nil), c.loops...)
}

// check is the monitor cycle: react when the green light went out.
func (c *Controller) check() {
	if c.green.IsSet() {
		return
	}
	c.logger.Infow("green light is out, resetting", "controller", c.name)
	c.reset()
}

// reset performs the coordinated group reset: stop participating loops,
// notify, set the light, restart. Loops with SkipGlobalReset are never
// touched.
func (c *Controller) reset() {
	loops := c.snapshot()

	c.logger.Infow("stopping loops", "controller", c.name)
	for _, l := range loops {
		if l.resetGlobally {
			l.Stop()
		}
	}

	c.callResetCallback()
	c.green.Set()

	c.logger.Infow("restarting loops", "controller", c.name)
	for _, l := range loops {
		if !l.resetGlobally {
			continue
		}
		if l.State() == Stopped {
			l.Start()
		} else {
			// raced back to life since step one, force a fresh generation
			l.HardReset()
		}
	}
	c.logger.Infow("restart completed", "controller", c.name)
}

func (c *Controller) callResetCallback() {
	if c.resetCallback == nil {
		return
	}
	defer func() {
		if r := recover(); r != nil {
			c.logger.Errorw("panic in reset callback", "controller", c.name, "panic", r)
		}
	}()
	c.resetCallback()
}
