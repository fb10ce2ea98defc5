// Package cluster simulates the confidential-compute collaborator that
// decides pair matches. It sees card values only inside its own
// sealing boundary; everything it returns to the round service is
// either encrypted to the round owner or a signed abort.
package cluster

import (
	"context"

	"github.com/hushplay/cipherpair/shared"
	"github.com/hushplay/cipherpair/signing"
)

// Request asks the cluster to compare the cards at two board slots.
// It is self-contained; the cluster keeps no per-round state.
type Request struct {
	ID         shared.RequestID
	VerifyKey  shared.VerifyKey
	BoardNonce shared.BoardNonce
	CardA      shared.Ciphertext
	CardB      shared.Ciphertext
}

// Output is the confidential result of one comparison. IsMatchCipher
// holds the one-byte match indicator re-encrypted to the requesting
// owner's verification key.
type Output struct {
	ID            shared.RequestID
	IsMatchCipher shared.Ciphertext
	Nonce         shared.ResultNonce
}

// Verdict resolves one request. Aborted verdicts carry a zero output
// besides the request id.
type Verdict struct {
	Output
	Aborted bool
}

// SignedVerdict is a verdict signed with the cluster's identity key.
// Consumers verify the signature before acting on it.
type SignedVerdict = signing.Signed[Verdict]

// Connector binds a worker to the round service: requests flow in,
// signed verdicts flow back.
type Connector interface {
	RegisterForRequests(ctx context.Context) <-chan Request
	DeliverVerdict(ctx context.Context, verdict SignedVerdict) error
}
