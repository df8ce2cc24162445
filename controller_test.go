package superloop_test

import (
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/chapsuk/superloop"
	. "github.com/smartystreets/goconvey/convey"
)

func TestControllerRegistration(t *testing.T) {
	Convey("Given a fresh controller", t, func() {
		ctl := superloop.NewController()

		So(strings.HasPrefix(ctl.Name(), "Controller_"), ShouldBeTrue)
		So(ctl.Running(), ShouldBeFalse)
		So(ctl.GreenLight().IsSet(), ShouldBeTrue)

		Convey("a registered loop should inherit the controller's green light", func() {
			loop := ctl.NewLoop(superloop.New(newFakeCycler()).WithMaxFailures(0))

			loop.Failure()
			So(ctl.GreenLight().IsSet(), ShouldBeFalse)
			ctl.GreenLight().Set()
		})

		Convey("a loop with its own light should keep it", func() {
			own := superloop.NewGreenLight()
			own.Set()

			loop := ctl.NewLoop(
				superloop.New(newFakeCycler()).WithMaxFailures(0).WithGreenLight(own))

			loop.Failure()
			So(own.IsSet(), ShouldBeFalse)
			So(ctl.GreenLight().IsSet(), ShouldBeTrue)
		})
	})
}

func TestControllerStartStop(t *testing.T) {
	Convey("Given a controller with one registered loop", t, func() {
		ctl := superloop.NewController().WithPollInterval(10 * time.Millisecond)
		fc := newFakeCycler()
		loop := ctl.NewLoop(superloop.New(fc).WithGracePeriod(time.Second))

		Convey("Start should run the monitor only", func() {
			ctl.Start()
			So(ctl.Running(), ShouldBeTrue)
			So(loop.State(), ShouldEqual, superloop.Stopped)

			Convey("Start again should be a no-op", func() {
				ctl.Start()
				So(ctl.Running(), ShouldBeTrue)
				ctl.Stop()
			})

			Convey("Stop should halt the monitor and leave loops alone", func() {
				loop.Start()
				checkResultChannel(fc.res)

				ctl.Stop()
				So(ctl.Running(), ShouldBeFalse)
				So(loop.Running(), ShouldBeTrue)

				ctl.StopLoops()
				So(loop.State(), ShouldEqual, superloop.Stopped)
			})
		})
	})
}

func TestControllerGroupReset(t *testing.T) {
	Convey("Given a controller over two loops, one excluded from resets", t, func() {
		ctl := superloop.NewController().WithPollInterval(5 * time.Millisecond)

		var resets, litDuringReset int32
		ctl.WithResetCallback(func() {
			atomic.AddInt32(&resets, 1)
			if ctl.GreenLight().IsSet() {
				atomic.AddInt32(&litDuringReset, 1)
			}
		})

		a := &hookCycler{}
		b := &hookCycler{}
		la := ctl.NewLoop(superloop.New(a).WithMaxFailures(2).WithGracePeriod(time.Second))
		lb := ctl.NewLoop(superloop.New(b).SkipGlobalReset().WithGracePeriod(time.Second))

		la.Start()
		lb.Start()
		ctl.Start()

		Convey("When a loop exceeds its failure limit", func() {
			genA := la.Generation()
			genB := lb.Generation()

			la.Failure()
			la.Failure()
			So(la.Failure(), ShouldBeTrue)

			Convey("the monitor should reset the participating loop", func() {
				So(eventually(2*time.Second, func() bool {
					return la.Generation() > genA && la.Running()
				}), ShouldBeTrue)

				So(ctl.GreenLight().IsSet(), ShouldBeTrue)
				So(atomic.LoadInt32(&resets), ShouldEqual, 1)
				// the callback runs before the light comes back
				So(atomic.LoadInt32(&litDuringReset), ShouldEqual, 0)

				// a full stop/start round trip, observed through the hooks
				So(a.count("on_stop"), ShouldEqual, 1)
				So(a.count("on_start"), ShouldEqual, 2)

				Convey("while the excluded loop was never touched", func() {
					So(lb.Generation(), ShouldEqual, genB)
					So(b.count("on_stop"), ShouldEqual, 0)

					ctl.Stop()
					ctl.StopLoops()
				})
			})
		})
	})
}

func TestControllerMaintainLoops(t *testing.T) {
	Convey("Given a controller with a StopOnFailure loop", t, func() {
		ctl := superloop.NewController().WithPollInterval(10 * time.Millisecond)
		fc := newFakeCycler()
		loop := ctl.NewLoop(
			superloop.New(fc).
				WithMaxFailures(0).
				StopOnFailure().
				SkipGlobalReset().
				WithGracePeriod(time.Second))

		loop.Start()
		checkResultChannel(fc.res)

		Convey("When the loop stops itself on failure", func() {
			So(loop.Failure(), ShouldBeTrue)
			So(loop.State(), ShouldEqual, superloop.Stopped)
			ctl.GreenLight().Set()

			Convey("MaintainLoops should bring it back", func() {
				gen := loop.Generation()
				ctl.MaintainLoops()

				So(loop.Running(), ShouldBeTrue)
				So(loop.Generation(), ShouldEqual, gen+1)

				Convey("and calling it again should change nothing", func() {
					ctl.MaintainLoops()
					So(loop.Generation(), ShouldEqual, gen+1)
					ctl.StopLoops()
				})
			})
		})
	})
}

func TestControllerEndToEnd(t *testing.T) {
	Convey("Given two default loops under a supervised controller", t, func() {
		ctl := superloop.NewController().WithPollInterval(5 * time.Millisecond)

		var resets int32
		ctl.WithResetCallback(func() { atomic.AddInt32(&resets, 1) })

		a := &hookCycler{}
		b := &hookCycler{}
		la := ctl.NewLoop(superloop.New(a).WithGracePeriod(time.Second))
		lb := ctl.NewLoop(superloop.New(b).WithGracePeriod(time.Second))

		la.Start()
		lb.Start()
		ctl.Start()

		Convey("When one loop reports more failures than the default limit", func() {
			for i := 0; i < superloop.DefaultMaxFailures+1; i++ {
				la.Failure()
			}

			Convey("the whole group should be restarted exactly once", func() {
				So(eventually(2*time.Second, func() bool {
					return a.count("on_start") == 2 && b.count("on_start") == 2
				}), ShouldBeTrue)

				So(atomic.LoadInt32(&resets), ShouldEqual, 1)
				So(ctl.GreenLight().IsSet(), ShouldBeTrue)
				So(la.Running(), ShouldBeTrue)
				So(lb.Running(), ShouldBeTrue)
				So(la.Failures(), ShouldEqual, 0)

				ctl.Stop()
				ctl.StopLoops()
			})
		})
	})
}

func TestControllerWait(t *testing.T) {
	Convey("Given a controller's green light with a waiter", t, func() {
		ctl := superloop.NewController()
		gl := ctl.GreenLight()
		gl.Unset()

		Convey("Wait should time out while the light is out", func() {
			So(gl.Wait(20*time.Millisecond), ShouldBeFalse)
		})

		Convey("Wait should return once the light is set", func() {
			go func() {
				time.Sleep(10 * time.Millisecond)
				gl.Set()
			}()
			So(gl.Wait(time.Second), ShouldBeTrue)
		})
	})
}
