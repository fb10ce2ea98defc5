package cluster

import (
	"context"
	"crypto/ed25519"
	"fmt"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/hushplay/cipherpair/logging"
	"github.com/hushplay/cipherpair/signing"
)

// Worker executes verification requests. It is the only place where
// card values exist in the clear, and they never leave it: the match
// indicator goes out re-encrypted to the requesting owner and every
// verdict is signed with the worker's identity key.
type Worker struct {
	cfg       Config
	identity  *Identity
	signer    ed25519.PrivateKey
	pubKey    []byte
	connector Connector
}

func NewWorker(cfg Config, identity *Identity, signer ed25519.PrivateKey, connector Connector) *Worker {
	return &Worker{
		cfg:       cfg,
		identity:  identity,
		signer:    signer,
		pubKey:    signer.Public().(ed25519.PublicKey),
		connector: connector,
	}
}

// VerdictKey returns the public key verdict signatures verify against.
func (w *Worker) VerdictKey() ed25519.PublicKey {
	return w.pubKey
}

// Run consumes verification requests until ctx is canceled.
func (w *Worker) Run(ctx context.Context) error {
	logger := logging.FromContext(ctx).Named("cluster")
	ctx = logging.NewContext(ctx, logger)

	requests := w.connector.RegisterForRequests(ctx)

	eg, ctx := errgroup.WithContext(ctx)
	for i := 0; i < w.cfg.Workers; i++ {
		eg.Go(func() error {
			for {
				select {
				case <-ctx.Done():
					return nil
				case request := <-requests:
					if err := w.handle(ctx, request); err != nil {
						logger.Error(
							"failed to handle verification request",
							zap.Error(err),
							zap.Uint64("request_id", uint64(request.ID)),
						)
					}
				}
			}
		})
	}
	return eg.Wait()
}

func (w *Worker) handle(ctx context.Context, request Request) error {
	verdict := w.execute(ctx, request)
	signed, err := signing.Sign(verdict, w.signer, w.pubKey)
	if err != nil {
		return fmt.Errorf("signing verdict: %w", err)
	}
	return w.connector.DeliverVerdict(ctx, signed)
}

// execute compares the two sealed cards. Any failure yields an aborted
// verdict; the worker doesn't reveal which input was unreadable.
func (w *Worker) execute(ctx context.Context, request Request) Verdict {
	aborted := Verdict{Output: Output{ID: request.ID}, Aborted: true}

	key, err := w.identity.roundKey(request.VerifyKey, request.BoardNonce)
	if err != nil {
		logging.FromContext(ctx).Debug("aborting: round key derivation failed", zap.Uint64("request_id", uint64(request.ID)))
		return aborted
	}

	cardA, errA := openCard(key, request.CardA)
	cardB, errB := openCard(key, request.CardB)
	if errA != nil || errB != nil {
		logging.FromContext(ctx).Debug("aborting: unreadable ciphertext", zap.Uint64("request_id", uint64(request.ID)))
		return aborted
	}

	cipher, nonce, err := sealResult(key, cardA == cardB)
	if err != nil {
		logging.FromContext(ctx).Debug("aborting: failed to seal indicator", zap.Uint64("request_id", uint64(request.ID)))
		return aborted
	}
	return Verdict{Output: Output{ID: request.ID, IsMatchCipher: cipher, Nonce: nonce}}
}
