package server_test

// End to end tests booting a cipherpair server and playing rounds
// against it in-process.

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
	"golang.org/x/sync/errgroup"

	"github.com/hushplay/cipherpair/cluster"
	"github.com/hushplay/cipherpair/events"
	"github.com/hushplay/cipherpair/logging"
	"github.com/hushplay/cipherpair/rounds"
	"github.com/hushplay/cipherpair/server"
	"github.com/hushplay/cipherpair/shared"
)

func testCtx(t *testing.T) context.Context {
	return logging.NewContext(context.Background(), zaptest.NewLogger(t))
}

func spawnServer(t *testing.T, cfg *server.Config) *server.Server {
	t.Helper()
	req := require.New(t)

	cfg, err := server.SetupConfig(cfg)
	req.NoError(err)

	ctx := testCtx(t)
	srv, err := server.New(ctx, *cfg)
	req.NoError(err)
	t.Cleanup(func() { assert.NoError(t, srv.Close()) })

	runCtx, cancel := context.WithCancel(ctx)
	var eg errgroup.Group
	eg.Go(func() error { return srv.Start(runCtx) })
	t.Cleanup(func() {
		cancel()
		assert.NoError(t, eg.Wait())
	})
	return srv
}

func awaitEvent(t *testing.T, sub <-chan events.Event) events.Event {
	t.Helper()
	select {
	case event := <-sub:
		return event
	case <-time.After(10 * time.Second):
		t.Fatal("timed out waiting for event")
		return nil
	}
}

// Test playing a round end to end: register a sealed board, verify a
// matching and a non-matching pair, settle, and replay the journal.
func TestPlayRound(t *testing.T) {
	t.Parallel()
	req := require.New(t)

	cfg := server.DefaultConfig()
	cfg.CipherpairDir = t.TempDir()
	srv := spawnServer(t, cfg)

	ctx := testCtx(t)
	sub := srv.Events().Subscribe(ctx)

	player, err := cluster.NewIdentity()
	req.NoError(err)
	owner := shared.PlayerID{0x05}
	boardNonce := shared.BoardNonce{0xaa, 0x01}

	// Slot A holds values 0..15 in order, slot B the same values
	// reversed: (i, 15-i) match, (i, i) don't.
	valuesA := make([]uint8, shared.CardCount)
	valuesB := make([]uint8, shared.CardCount)
	for i := range valuesA {
		valuesA[i] = uint8(i)
		valuesB[i] = uint8(shared.CardCount - 1 - i)
	}
	slotA, err := player.SealCards(srv.SealKey(), boardNonce, valuesA)
	req.NoError(err)
	slotB, err := player.SealCards(srv.SealKey(), boardNonce, valuesB)
	req.NoError(err)

	reg := srv.Rounds()
	req.NoError(reg.Register(ctx, owner, 7, slotA, shared.VerifyKey(player.Public()), boardNonce))
	req.NoError(reg.SetSlotB(ctx, owner, 7, slotB))

	// A matching pair.
	req.NoError(reg.VerifyPair(ctx, owner, 7, 0, shared.CardCount-1, 1))
	verified, ok := awaitEvent(t, sub).(events.PairVerified)
	req.True(ok, "expected a PairVerified event")
	req.Equal(owner, verified.Owner)
	req.Equal(uint64(7), verified.RoundID)
	req.Equal(uint16(1), verified.TurnsUsed)
	req.Zero(verified.PairsFound)
	isMatch, err := player.OpenResult(srv.SealKey(), boardNonce, verified.IsMatchCipher, verified.Nonce)
	req.NoError(err)
	req.True(isMatch)

	// A non-matching pair.
	req.NoError(reg.VerifyPair(ctx, owner, 7, 0, 0, 2))
	verified, ok = awaitEvent(t, sub).(events.PairVerified)
	req.True(ok, "expected a PairVerified event")
	req.Equal(uint16(2), verified.TurnsUsed)
	isMatch, err = player.OpenResult(srv.SealKey(), boardNonce, verified.IsMatchCipher, verified.Nonce)
	req.NoError(err)
	req.False(isMatch)

	// Settle with the client-reported score.
	settlement := rounds.Settlement{
		TurnsUsed:   2,
		PairsFound:  1,
		Completed:   true,
		SolveMillis: 1234,
		PointsDelta: 10,
		NonceHash:   shared.NonceHash(boardNonce[:]),
	}
	req.NoError(reg.Settle(ctx, owner, 7, settlement))
	req.Equal(events.Event(events.RoundSettled{
		Owner:       owner,
		RoundID:     7,
		TurnsUsed:   2,
		PairsFound:  1,
		Completed:   true,
		SolveMillis: 1234,
		PointsDelta: 10,
		NonceHash:   settlement.NonceHash,
	}), awaitEvent(t, sub))

	round, err := reg.Round(ctx, owner, 7)
	req.NoError(err)
	req.Equal(uint16(2), round.TurnsUsed)
	req.Equal(uint8(1), round.PairsFound)
	req.True(round.Completed)

	// The journal holds every event in emission order.
	var kinds []string
	req.NoError(srv.Journal().Replay(ctx, 0, func(record events.Record) error {
		kinds = append(kinds, record.Event.Kind())
		return nil
	}))
	req.Equal([]string{events.KindPairVerified, events.KindPairVerified, events.KindRoundSettled}, kinds)
}

// Test that a board sealed to a wrong cluster key yields an aborted
// computation: the turn stays consumed and no event is emitted.
func TestUnreadableBoardAborts(t *testing.T) {
	t.Parallel()
	req := require.New(t)

	cfg := server.DefaultConfig()
	cfg.CipherpairDir = t.TempDir()
	srv := spawnServer(t, cfg)

	ctx := testCtx(t)
	sub := srv.Events().Subscribe(ctx)

	player, err := cluster.NewIdentity()
	req.NoError(err)
	stranger, err := cluster.NewIdentity()
	req.NoError(err)
	owner := shared.PlayerID{0x06}
	boardNonce := shared.BoardNonce{0xbb}

	values := make([]uint8, shared.CardCount)
	// Sealed to the wrong key - the cluster cannot open these.
	slotA, err := player.SealCards(stranger.Public(), boardNonce, values)
	req.NoError(err)
	slotB, err := player.SealCards(stranger.Public(), boardNonce, values)
	req.NoError(err)

	reg := srv.Rounds()
	req.NoError(reg.Register(ctx, owner, 1, slotA, shared.VerifyKey(player.Public()), boardNonce))
	req.NoError(reg.SetSlotB(ctx, owner, 1, slotB))
	req.NoError(reg.VerifyPair(ctx, owner, 1, 0, 0, 1))

	select {
	case event := <-sub:
		t.Fatalf("unexpected event: %v", event)
	case <-time.After(time.Second):
	}

	round, err := reg.Round(ctx, owner, 1)
	req.NoError(err)
	req.Equal(uint16(1), round.TurnsUsed, "the aborted attempt still costs a turn")
}

// Test the cluster identity surviving a restart.
func TestIdentityPersistsAcrossRestart(t *testing.T) {
	t.Parallel()
	req := require.New(t)

	cfg := server.DefaultConfig()
	cfg.CipherpairDir = t.TempDir()
	cfg, err := server.SetupConfig(cfg)
	req.NoError(err)
	ctx := testCtx(t)

	srv, err := server.New(ctx, *cfg)
	req.NoError(err)
	sealKey := srv.SealKey()
	verdictKey := srv.VerdictKey()
	req.NoError(srv.Close())

	srv, err = server.New(ctx, *cfg)
	req.NoError(err)
	t.Cleanup(func() { assert.NoError(t, srv.Close()) })
	req.Equal(sealKey, srv.SealKey())
	req.Equal(verdictKey, srv.VerdictKey())
}

// Test the prometheus endpoint.
func TestMetricsExposed(t *testing.T) {
	t.Parallel()
	req := require.New(t)

	cfg := server.DefaultConfig()
	cfg.CipherpairDir = t.TempDir()
	port := uint16(0)
	cfg.MetricsPort = &port
	srv := spawnServer(t, cfg)
	req.NotNil(srv.MetricsAddr())

	resp, err := http.Get(fmt.Sprintf("http://%s/metrics", srv.MetricsAddr()))
	req.NoError(err)
	defer resp.Body.Close()
	req.Equal(http.StatusOK, resp.StatusCode)

	body, err := io.ReadAll(resp.Body)
	req.NoError(err)
	req.Contains(string(body), "cipherpair_rounds_registered_total")
}
