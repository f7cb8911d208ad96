package event

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEmitDispatchesInSubscriptionOrder(t *testing.T) {
	bus := NewBus()

	var calls []int
	bus.Subscribe(KindQuit, func(Event) { calls = append(calls, 1) })
	bus.Subscribe(KindQuit, func(Event) { calls = append(calls, 2) })
	bus.Subscribe(KindServerDisconnect, func(Event) { calls = append(calls, 99) })

	bus.Emit(Quit{})

	assert.Equal(t, []int{1, 2}, calls)
}

func TestPostRunsOnLoop(t *testing.T) {
	bus := NewBus()

	got := make(chan Event, 1)
	bus.Subscribe(KindUserStats, func(e Event) { got <- e })

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go bus.Run(ctx)

	bus.Post(UserStats{Username: "alice", AvgSpeed: 42})

	select {
	case e := <-got:
		assert.Equal(t, UserStats{Username: "alice", AvgSpeed: 42}, e)
	case <-time.After(time.Second):
		t.Fatal("posted event never dispatched")
	}
}

func TestScheduleFiresOnLoop(t *testing.T) {
	bus := NewBus()

	fired := make(chan struct{}, 1)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go bus.Run(ctx)

	id := bus.Schedule(time.Millisecond, false, func() { fired <- struct{}{} })
	require.NotZero(t, id)

	select {
	case <-fired:
	case <-time.After(time.Second):
		t.Fatal("scheduled callback never fired")
	}
}

func TestCancelScheduledStopsTimer(t *testing.T) {
	bus := NewBus()

	fired := make(chan struct{}, 1)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go bus.Run(ctx)

	id := bus.Schedule(50*time.Millisecond, false, func() { fired <- struct{}{} })
	bus.CancelScheduled(id)

	select {
	case <-fired:
		t.Fatal("cancelled callback fired")
	case <-time.After(150 * time.Millisecond):
	}
}

func TestScheduleRepeats(t *testing.T) {
	bus := NewBus()

	fired := make(chan struct{}, 8)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go bus.Run(ctx)

	bus.Schedule(5*time.Millisecond, true, func() { fired <- struct{}{} })

	for i := 0; i < 2; i++ {
		select {
		case <-fired:
		case <-time.After(time.Second):
			t.Fatal("repeating callback stopped firing")
		}
	}
}

func TestPostAfterShutdownIsDropped(t *testing.T) {
	bus := NewBus()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		bus.Run(ctx)
		close(done)
	}()

	cancel()
	<-done

	// Posting must neither panic nor block, even past the buffer capacity.
	for i := 0; i < cap(bus.posted)+8; i++ {
		bus.Post(Quit{})
	}
	assert.Zero(t, bus.Schedule(time.Millisecond, false, func() {}))
}
