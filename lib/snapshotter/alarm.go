package snapshotter

import (
	"context"
	"time"
)

type Event interface {
	Timestamp() time.Time
}

type event struct{ timestamp time.Time }

func (e event) Timestamp() time.Time { return e.timestamp }

type sweepWakeupEvent struct {
	event
}

type healthWakeupEvent struct {
	event
}

// alarmClock emits a sweep and a health wakeup immediately on start, then on their
// respective intervals. C is closed once the clock stops.
type alarmClock struct {
	sweepInterval  time.Duration
	healthInterval time.Duration

	cancel func()
	C      chan Event
}

func newAlarmClock(sweepInterval, healthInterval time.Duration) *alarmClock {
	return &alarmClock{
		sweepInterval:  sweepInterval,
		healthInterval: healthInterval,
		C:              make(chan Event),
	}
}

func (a *alarmClock) Start(ctx context.Context) <-chan Event {
	ctx, cancel := context.WithCancel(ctx)
	a.cancel = cancel

	go func() {
		defer close(a.C)

		sweepTicker := time.NewTicker(a.sweepInterval)
		defer sweepTicker.Stop()
		healthTicker := time.NewTicker(a.healthInterval)
		defer healthTicker.Stop()

		now := time.Now().UTC()
		if !a.emit(ctx, sweepWakeupEvent{event{now}}) || !a.emit(ctx, healthWakeupEvent{event{now}}) {
			return
		}

		for {
			select {
			case t := <-sweepTicker.C:
				if !a.emit(ctx, sweepWakeupEvent{event{t.UTC()}}) {
					return
				}

			case t := <-healthTicker.C:
				if !a.emit(ctx, healthWakeupEvent{event{t.UTC()}}) {
					return
				}

			case <-ctx.Done():
				return
			}
		}
	}()

	return a.C
}

func (a *alarmClock) emit(ctx context.Context, evt Event) bool {
	select {
	case a.C <- evt:
		return true
	case <-ctx.Done():
		return false
	}
}

func (a *alarmClock) Stop() {
	if a.cancel != nil {
		a.cancel()
	}
}
