package events

import (
	"context"

	"github.com/hashicorp/go-multierror"

	"github.com/hushplay/cipherpair/shared"
)

// Event kinds as recorded in journal envelopes.
const (
	KindPairVerified = "pair_verified"
	KindRoundSettled = "round_settled"
)

// Event is one externally observable fact about a round. The core
// appends events for downstream consumers and never interprets them.
type Event interface {
	Kind() string
}

// PairVerified reports the outcome of one verified pair. The match
// indicator stays encrypted to the round owner's verification key;
// only the owner can learn whether the pair matched.
type PairVerified struct {
	Owner         shared.PlayerID
	RoundID       uint64
	TurnsUsed     uint16
	PairsFound    uint8
	IsMatchCipher shared.Ciphertext
	Nonce         shared.ResultNonce
}

func (PairVerified) Kind() string { return KindPairVerified }

// RoundSettled carries the client-reported final score of a round,
// recorded verbatim.
type RoundSettled struct {
	Owner       shared.PlayerID
	RoundID     uint64
	TurnsUsed   uint16
	PairsFound  uint8
	Completed   bool
	SolveMillis uint64
	PointsDelta int64
	NonceHash   [32]byte
}

func (RoundSettled) Kind() string { return KindRoundSettled }

// Emitter appends events to some destination.
type Emitter interface {
	Emit(ctx context.Context, event Event) error
}

// Tee broadcasts every event to all underlying emitters. Emitters are
// independent; a failing one doesn't stop the others.
type Tee []Emitter

func (t Tee) Emit(ctx context.Context, event Event) error {
	var result *multierror.Error
	for _, emitter := range t {
		if err := emitter.Emit(ctx, event); err != nil {
			result = multierror.Append(result, err)
		}
	}
	return result.ErrorOrNil()
}
