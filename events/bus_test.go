package events_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/hushplay/cipherpair/events"
	"github.com/hushplay/cipherpair/shared"
)

func TestBusFanOut(t *testing.T) {
	bus := events.NewBus(4)
	ctx := context.Background()

	first := bus.Subscribe(ctx)
	second := bus.Subscribe(ctx)

	event := events.PairVerified{Owner: shared.PlayerID{0x01}, RoundID: 3}
	require.NoError(t, bus.Emit(ctx, event))

	require.Equal(t, events.Event(event), <-first)
	require.Equal(t, events.Event(event), <-second)
}

func TestBusDropsWhenSubscriberLags(t *testing.T) {
	bus := events.NewBus(1)
	ctx := context.Background()

	lagging := bus.Subscribe(ctx)

	// The second emit finds the subscriber's buffer full and must
	// return without blocking.
	require.NoError(t, bus.Emit(ctx, events.RoundSettled{RoundID: 1}))
	done := make(chan struct{})
	go func() {
		defer close(done)
		require.NoError(t, bus.Emit(ctx, events.RoundSettled{RoundID: 2}))
	}()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("emit blocked on a lagging subscriber")
	}

	received := <-lagging
	require.Equal(t, uint64(1), received.(events.RoundSettled).RoundID)
}

func TestBusUnsubscribesCanceledContext(t *testing.T) {
	bus := events.NewBus(1)
	subCtx, cancel := context.WithCancel(context.Background())
	ch := bus.Subscribe(subCtx)
	cancel()

	require.NoError(t, bus.Emit(context.Background(), events.RoundSettled{RoundID: 1}))

	_, open := <-ch
	require.False(t, open, "subscription channel should be closed after cancellation")
}
