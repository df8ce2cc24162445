/*
Package superloop runs a repeating unit of work on a dedicated goroutine
with managed start/stop, cooperative cancellation, failure accounting and
cross-loop health propagation. A Controller bundles loops behind one shared
GreenLight: when any loop fails too many times the light goes out and the
controller stops and restarts the whole group together.

# Loops

Implement the Cycler interface (or wrap a func with CyclerFunc) and hand it
to New:

	type Feed struct{}

	func (f *Feed) Cycle() {
		// one unit of repeating work
	}

	loop := superloop.New(&Feed{}).
		WithMaxFailures(3).
		WithGracePeriod(time.Second)

	loop.Start()
	// ...
	loop.Stop()

A Cycler may also implement any of the lifecycle hooks OnStart, OnStop,
OnLoopStart and OnLoopStop; missing hooks are no-ops. OnStart runs on the
caller of Start and may veto the start by returning false.

Report degradation from inside the cycle with Failure; past the configured
limit the loop unsets the shared green light (and stops itself when built
with StopOnFailure).

# Controllers

	ctl := superloop.NewController().
		WithResetCallback(func() { log.Print("group reset") })

	feed := ctl.NewLoop(superloop.New(&Feed{}).WithMaxFailures(3))
	sink := ctl.NewLoop(superloop.New(&Sink{}))

	ctl.Start()
	ctl.MaintainLoops() // start everything registered

	// shutdown
	ctl.Stop()
	ctl.StopLoops()

# Pacing

By default a loop cycles back to back. Pace it with a timer, a fixed-rate
ticker or a cron spec:

	superloop.New(c).Every(time.Second)
	superloop.New(c).ByTicker(time.Second)
	superloop.New(c).ByCronSpec("@every 1m")

# Exclusive loops

Guard a loop with a lock so only one instance cycles at a time:

	superloop.New(c).WithRedisLock(superloop.RedisLockOptions{...})

or supply any Locker implementation with WithLock.
*/
package superloop
