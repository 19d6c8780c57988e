package event

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
)

func waitFor(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met before timeout")
}

func TestPublishDeliversToHandler(t *testing.T) {
	t.Parallel()

	bus := NewBus(nil)
	defer bus.Close()

	var got atomic.Value
	var wg sync.WaitGroup
	wg.Add(1)

	Subscribe(bus, func(_ context.Context, e TaskStarted) {
		got.Store(e.Goal)
		wg.Done()
	}, nil)

	Publish(bus, TaskStarted{TaskID: uuid.New(), Goal: "order coffee"})
	wg.Wait()

	if goal := got.Load(); goal != "order coffee" {
		t.Errorf("got goal %v, want %q", goal, "order coffee")
	}
}

func TestSubscribeFilter(t *testing.T) {
	t.Parallel()

	bus := NewBus(nil)
	defer bus.Close()

	taskID := uuid.New()
	var matched atomic.Int32

	Subscribe(bus, func(_ context.Context, e StepExecuted) {
		matched.Add(1)
	}, func(e StepExecuted) bool {
		return e.TaskID == taskID
	})

	Publish(bus, StepExecuted{TaskID: taskID, Step: 1})
	Publish(bus, StepExecuted{TaskID: uuid.New(), Step: 2})
	Publish(bus, StepExecuted{TaskID: taskID, Step: 3})

	waitFor(t, time.Second, func() bool { return matched.Load() == 2 })
	time.Sleep(20 * time.Millisecond)
	if n := matched.Load(); n != 2 {
		t.Errorf("got %d matched events, want 2", n)
	}
}

func TestSubscribeChannelReceivesEvents(t *testing.T) {
	t.Parallel()

	bus := NewBus(nil)
	defer bus.Close()

	ch, sub := SubscribeChannel[TaskFinished](bus, 4, nil)
	defer sub.Unsubscribe()

	Publish(bus, TaskFinished{TaskID: uuid.New(), Outcome: "success", Steps: 7})

	select {
	case e := <-ch:
		if e.Outcome != "success" || e.Steps != 7 {
			t.Errorf("got %+v, want success with 7 steps", e)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for event")
	}
}

func TestUnsubscribeStopsDelivery(t *testing.T) {
	t.Parallel()

	bus := NewBus(nil)
	defer bus.Close()

	var count atomic.Int32
	sub := Subscribe(bus, func(_ context.Context, e NoteAdded) {
		count.Add(1)
	}, nil)

	Publish(bus, NoteAdded{Note: "first"})
	waitFor(t, time.Second, func() bool { return count.Load() == 1 })

	sub.Unsubscribe()
	Publish(bus, NoteAdded{Note: "second"})
	time.Sleep(50 * time.Millisecond)

	if n := count.Load(); n != 1 {
		t.Errorf("got %d deliveries after unsubscribe, want 1", n)
	}
}

func TestHandlerPanicDoesNotKillWorkers(t *testing.T) {
	t.Parallel()

	bus := NewBus(nil)
	defer bus.Close()

	var survived atomic.Bool
	Subscribe(bus, func(_ context.Context, e TaskResumed) {
		panic("handler bug")
	}, nil)
	Subscribe(bus, func(_ context.Context, e TaskStarted) {
		survived.Store(true)
	}, nil)

	Publish(bus, TaskResumed{TaskID: uuid.New()})
	Publish(bus, TaskStarted{TaskID: uuid.New(), Goal: "still alive"})

	waitFor(t, time.Second, func() bool { return survived.Load() })
}

func TestPublishAfterCloseIsNoop(t *testing.T) {
	t.Parallel()

	bus := NewBus(nil)

	var count atomic.Int32
	Subscribe(bus, func(_ context.Context, e TaskStarted) {
		count.Add(1)
	}, nil)

	bus.Close()
	Publish(bus, TaskStarted{TaskID: uuid.New()})
	time.Sleep(20 * time.Millisecond)

	if n := count.Load(); n != 0 {
		t.Errorf("got %d deliveries after close, want 0", n)
	}
}
