package transport

import (
	"context"
	"errors"

	"github.com/hushplay/cipherpair/cluster"
	"github.com/hushplay/cipherpair/logging"
	"github.com/hushplay/cipherpair/rounds"
)

// ErrQueueFull rejects a submission when the request queue has no room.
// The round service treats it like any other failed dispatch: the whole
// call unwinds and no turn is consumed.
var ErrQueueFull = errors.New("verification request queue is full")

type transport interface {
	rounds.ClusterService
	cluster.Connector
}

// inMemory is an in-memory implementation of transport.
// It binds the round service to a cluster worker running in the same
// process: verification requests flow one way, signed verdicts flow
// back, both over buffered channels.
type inMemory struct {
	requests chan cluster.Request
	verdicts chan cluster.SignedVerdict
}

func NewInMemory(queueDepth int) transport {
	return &inMemory{
		requests: make(chan cluster.Request, queueDepth),
		verdicts: make(chan cluster.SignedVerdict, queueDepth),
	}
}

// Implement rounds.ClusterService.
// Submit accepts a request for asynchronous processing. Acceptance
// means queued, nothing more; a full queue rejects instead of blocking
// the dispatching call.
func (m *inMemory) Submit(ctx context.Context, request cluster.Request) error {
	select {
	case m.requests <- request:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	default:
		logging.FromContext(ctx).Info("verification request queue is full - rejecting")
		return ErrQueueFull
	}
}

func (m *inMemory) RegisterForVerdicts(ctx context.Context) <-chan cluster.SignedVerdict {
	return m.verdicts
}

// Implement cluster.Connector.
func (m *inMemory) RegisterForRequests(ctx context.Context) <-chan cluster.Request {
	return m.requests
}

func (m *inMemory) DeliverVerdict(ctx context.Context, verdict cluster.SignedVerdict) error {
	select {
	case m.verdicts <- verdict:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
