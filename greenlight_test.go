package superloop_test

import (
	"testing"
	"time"

	"github.com/chapsuk/superloop"
	. "github.com/smartystreets/goconvey/convey"
)

func TestGreenLight(t *testing.T) {
	Convey("Given a new green light", t, func() {
		gl := superloop.NewGreenLight()

		Convey("it should be unset", func() {
			So(gl.IsSet(), ShouldBeFalse)
			So(gl.Wait(10*time.Millisecond), ShouldBeFalse)
		})

		Convey("When set", func() {
			gl.Set()

			Convey("IsSet should report true and Wait return immediately", func() {
				So(gl.IsSet(), ShouldBeTrue)
				So(gl.Wait(time.Nanosecond), ShouldBeTrue)
			})

			Convey("repeated Set should change nothing", func() {
				gl.Set()
				So(gl.IsSet(), ShouldBeTrue)
			})

			Convey("When unset", func() {
				gl.Unset()

				Convey("IsSet should report false", func() {
					So(gl.IsSet(), ShouldBeFalse)
				})

				Convey("repeated Unset should still be unset", func() {
					gl.Unset()
					So(gl.IsSet(), ShouldBeFalse)
				})
			})
		})
	})
}

func TestGreenLightWaitWakesOnSet(t *testing.T) {
	Convey("Given an unset green light and a delayed Set", t, func() {
		gl := superloop.NewGreenLight()

		go func() {
			time.Sleep(50 * time.Millisecond)
			gl.Set()
		}()

		Convey("Wait should return true before its timeout", func() {
			started := time.Now()
			So(gl.Wait(2*time.Second), ShouldBeTrue)
			So(time.Since(started), ShouldBeLessThan, time.Second)
		})
	})
}

func TestGreenLightConcurrentUnset(t *testing.T) {
	Convey("Given a set green light hammered by concurrent Unset calls", t, func() {
		gl := superloop.NewGreenLight()
		gl.Set()

		done := make(chan struct{})
		for i := 0; i < 8; i++ {
			go func() {
				gl.Unset()
				done <- struct{}{}
			}()
		}
		for i := 0; i < 8; i++ {
			<-done
		}

		Convey("the light should end up unset exactly once", func() {
			So(gl.IsSet(), ShouldBeFalse)

			Convey("and a following Set should wake a fresh waiter", func() {
				go gl.Set()
				So(gl.Wait(time.Second), ShouldBeTrue)
			})
		})
	})
}
