package cluster_test

import (
	"context"
	"crypto/ed25519"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
	"golang.org/x/sync/errgroup"

	"github.com/hushplay/cipherpair/cluster"
	"github.com/hushplay/cipherpair/logging"
	"github.com/hushplay/cipherpair/shared"
	"github.com/hushplay/cipherpair/signing"
)

type fakeConnector struct {
	requests chan cluster.Request
	verdicts chan cluster.SignedVerdict
}

func newFakeConnector() *fakeConnector {
	return &fakeConnector{
		requests: make(chan cluster.Request, 4),
		verdicts: make(chan cluster.SignedVerdict, 4),
	}
}

func (f *fakeConnector) RegisterForRequests(ctx context.Context) <-chan cluster.Request {
	return f.requests
}

func (f *fakeConnector) DeliverVerdict(ctx context.Context, verdict cluster.SignedVerdict) error {
	select {
	case f.verdicts <- verdict:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func startWorker(t *testing.T, identity *cluster.Identity, signer ed25519.PrivateKey, connector *fakeConnector) {
	worker := cluster.NewWorker(cluster.DefaultConfig(), identity, signer, connector)
	ctx, cancel := context.WithCancel(logging.NewContext(context.Background(), zaptest.NewLogger(t)))
	var eg errgroup.Group
	eg.Go(func() error { return worker.Run(ctx) })
	t.Cleanup(func() {
		cancel()
		require.NoError(t, eg.Wait())
	})
}

func TestWorkerVerifiesPairs(t *testing.T) {
	require := require.New(t)

	clusterID, err := cluster.NewIdentity()
	require.NoError(err)
	player, err := cluster.NewIdentity()
	require.NoError(err)
	_, priv, err := ed25519.GenerateKey(nil)
	require.NoError(err)

	connector := newFakeConnector()
	startWorker(t, clusterID, priv, connector)

	nonce := shared.BoardNonce{0x0a}
	sealed, err := player.SealCards(clusterID.Public(), nonce, []uint8{3, 3, 4})
	require.NoError(err)

	connector.requests <- cluster.Request{
		ID:         1,
		VerifyKey:  shared.VerifyKey(player.Public()),
		BoardNonce: nonce,
		CardA:      sealed[0],
		CardB:      sealed[1],
	}
	verdict := <-connector.verdicts
	require.False(verdict.Data().Aborted)
	require.Equal(shared.RequestID(1), verdict.Data().ID)
	isMatch, err := player.OpenResult(clusterID.Public(), nonce, verdict.Data().IsMatchCipher, verdict.Data().Nonce)
	require.NoError(err)
	require.True(isMatch, "equal cards must verify as a match")

	connector.requests <- cluster.Request{
		ID:         2,
		VerifyKey:  shared.VerifyKey(player.Public()),
		BoardNonce: nonce,
		CardA:      sealed[0],
		CardB:      sealed[2],
	}
	verdict = <-connector.verdicts
	require.False(verdict.Data().Aborted)
	isMatch, err = player.OpenResult(clusterID.Public(), nonce, verdict.Data().IsMatchCipher, verdict.Data().Nonce)
	require.NoError(err)
	require.False(isMatch, "unequal cards must not verify as a match")
}

func TestWorkerSignsVerdicts(t *testing.T) {
	require := require.New(t)

	clusterID, err := cluster.NewIdentity()
	require.NoError(err)
	player, err := cluster.NewIdentity()
	require.NoError(err)
	pub, priv, err := ed25519.GenerateKey(nil)
	require.NoError(err)

	connector := newFakeConnector()
	startWorker(t, clusterID, priv, connector)

	nonce := shared.BoardNonce{0x0b}
	sealed, err := player.SealCards(clusterID.Public(), nonce, []uint8{1, 1})
	require.NoError(err)

	connector.requests <- cluster.Request{
		ID:         7,
		VerifyKey:  shared.VerifyKey(player.Public()),
		BoardNonce: nonce,
		CardA:      sealed[0],
		CardB:      sealed[1],
	}
	verdict := <-connector.verdicts
	require.Equal([]byte(pub), verdict.PubKey())

	_, err = signing.FromSigned(*verdict.Data(), verdict.Signature(), verdict.PubKey())
	require.NoError(err)

	otherPub, _, err := ed25519.GenerateKey(nil)
	require.NoError(err)
	_, err = signing.FromSigned(*verdict.Data(), verdict.Signature(), otherPub)
	require.ErrorIs(err, signing.ErrSignatureInvalid)
}

func TestWorkerAbortsOnUnreadableCiphertext(t *testing.T) {
	require := require.New(t)

	clusterID, err := cluster.NewIdentity()
	require.NoError(err)
	player, err := cluster.NewIdentity()
	require.NoError(err)
	_, priv, err := ed25519.GenerateKey(nil)
	require.NoError(err)

	connector := newFakeConnector()
	startWorker(t, clusterID, priv, connector)

	nonce := shared.BoardNonce{0x0c}
	sealed, err := player.SealCards(clusterID.Public(), nonce, []uint8{1})
	require.NoError(err)

	connector.requests <- cluster.Request{
		ID:         3,
		VerifyKey:  shared.VerifyKey(player.Public()),
		BoardNonce: nonce,
		CardA:      shared.Ciphertext{0x01, 0x02, 0x03},
		CardB:      sealed[0],
	}
	verdict := <-connector.verdicts
	require.True(verdict.Data().Aborted)
	require.Equal(shared.RequestID(3), verdict.Data().ID)
	require.Equal(shared.Ciphertext{}, verdict.Data().IsMatchCipher)

	_, err = signing.FromSigned(*verdict.Data(), verdict.Signature(), verdict.PubKey())
	require.NoError(err, "aborted verdicts are signed too")
}
