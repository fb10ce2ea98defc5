package events

import (
	"context"
	"sync"

	"go.uber.org/zap"

	"github.com/hushplay/cipherpair/logging"
)

// Bus is an in-memory fan-out of events to live subscribers.
// Delivery is best effort: a subscriber that stopped draining its
// channel loses events rather than blocking the emitting call.
type Bus struct {
	mtx   sync.Mutex
	subs  []*subscription
	depth int
}

type subscription struct {
	ctx context.Context
	ch  chan Event
}

func NewBus(depth int) *Bus {
	return &Bus{depth: depth}
}

// Subscribe returns a channel of events emitted from now on. The
// subscription ends when ctx is canceled; the channel is closed on the
// next emit after that.
func (b *Bus) Subscribe(ctx context.Context) <-chan Event {
	sub := &subscription{ctx: ctx, ch: make(chan Event, b.depth)}
	b.mtx.Lock()
	defer b.mtx.Unlock()
	b.subs = append(b.subs, sub)
	return sub.ch
}

func (b *Bus) Emit(ctx context.Context, event Event) error {
	b.mtx.Lock()
	defer b.mtx.Unlock()

	kept := b.subs[:0]
	for _, sub := range b.subs {
		if sub.ctx.Err() != nil {
			close(sub.ch)
			continue
		}
		select {
		case sub.ch <- event:
		default:
			logging.FromContext(ctx).Info(
				"subscriber doesn't keep up - dropping event",
				zap.String("kind", event.Kind()),
			)
		}
		kept = append(kept, sub)
	}
	b.subs = kept
	return nil
}
