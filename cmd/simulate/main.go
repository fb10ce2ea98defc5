package main

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"os"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/hushplay/cipherpair/cluster"
	"github.com/hushplay/cipherpair/events"
	"github.com/hushplay/cipherpair/logging"
	"github.com/hushplay/cipherpair/rounds"
	"github.com/hushplay/cipherpair/server"
	"github.com/hushplay/cipherpair/shared"
)

// simulate boots a cipherpair server in-process and plays one round
// against it end to end: it seals a board to the cluster's key,
// registers, verifies pairs until every card in slot A found its match
// in slot B, opens each match indicator with the player key, and
// settles with the resulting score.
func simulate(simCfg *config) error {
	level := zap.InfoLevel
	if simCfg.Debug {
		level = zap.DebugLevel
	}
	logger := logging.New(level, false, nil)
	ctx := logging.NewContext(context.Background(), logger)

	dir := simCfg.Dir
	if dir == "" {
		var err error
		dir, err = os.MkdirTemp("", "cipherpair-simulate")
		if err != nil {
			return fmt.Errorf("creating state directory: %w", err)
		}
		defer os.RemoveAll(dir)
	}

	cfg := server.DefaultConfig()
	cfg.CipherpairDir = dir
	cfg, err := server.SetupConfig(cfg)
	if err != nil {
		return err
	}

	srv, err := server.New(ctx, *cfg)
	if err != nil {
		return fmt.Errorf("creating server: %w", err)
	}
	defer srv.Close()

	runCtx, stop := context.WithCancel(ctx)
	var eg errgroup.Group
	eg.Go(func() error { return srv.Start(runCtx) })
	defer func() {
		stop()
		if err := eg.Wait(); err != nil {
			logger.Warn("server shutdown", zap.Error(err))
		}
	}()

	player, err := cluster.NewIdentity()
	if err != nil {
		return fmt.Errorf("generating player identity: %w", err)
	}
	owner := shared.PlayerID(player.Public())

	// Slot A holds each card value once; slot B holds the same values
	// shuffled, so every card has exactly one match on the other side.
	valuesA := make([]uint8, shared.CardCount)
	for i := range valuesA {
		valuesA[i] = uint8(i)
	}
	valuesB := append([]uint8{}, valuesA...)
	rng := rand.New(rand.NewSource(simCfg.Seed))
	rng.Shuffle(len(valuesB), func(i, j int) { valuesB[i], valuesB[j] = valuesB[j], valuesB[i] })
	var boardNonce shared.BoardNonce
	_, _ = rng.Read(boardNonce[:])

	sealKey := srv.SealKey()
	slotA, err := player.SealCards(sealKey, boardNonce, valuesA)
	if err != nil {
		return fmt.Errorf("sealing slot A: %w", err)
	}
	slotB, err := player.SealCards(sealKey, boardNonce, valuesB)
	if err != nil {
		return fmt.Errorf("sealing slot B: %w", err)
	}

	reg := srv.Rounds()
	sub := srv.Events().Subscribe(ctx)

	start := time.Now()
	if err := reg.Register(ctx, owner, simCfg.RoundID, slotA, shared.VerifyKey(player.Public()), boardNonce); err != nil {
		return fmt.Errorf("registering round: %w", err)
	}
	if err := reg.SetSlotB(ctx, owner, simCfg.RoundID, slotB); err != nil {
		return fmt.Errorf("setting slot B: %w", err)
	}

	fmt.Printf("playing round %d: %d cards per slot, shuffle seed %d\n",
		simCfg.RoundID, shared.CardCount, simCfg.Seed)

	// Scan slot B for each card in slot A, skipping cards that already
	// found their pair. A verdict only reveals match/no-match, so that
	// is all the memory a player can build up.
	var requestID shared.RequestID
	turns := 0
	pairsFound := 0
	matched := make([]bool, shared.CardCount)
	for a := 0; a < shared.CardCount; a++ {
		for b := 0; b < shared.CardCount; b++ {
			if matched[b] {
				continue
			}
			requestID++
			turns++
			if err := reg.VerifyPair(ctx, owner, simCfg.RoundID, uint8(a), uint8(b), requestID); err != nil {
				return fmt.Errorf("verifying pair (%d, %d): %w", a, b, err)
			}
			verified, err := awaitPairVerified(ctx, sub)
			if err != nil {
				return err
			}
			isMatch, err := player.OpenResult(sealKey, boardNonce, verified.IsMatchCipher, verified.Nonce)
			if err != nil {
				return fmt.Errorf("opening match indicator: %w", err)
			}
			if isMatch {
				fmt.Printf("  card A%02d matches B%02d (turn %d)\n", a, b, turns)
				matched[b] = true
				pairsFound++
				break
			}
		}
	}

	elapsed := time.Since(start)
	settlement := rounds.Settlement{
		TurnsUsed:   uint16(turns),
		PairsFound:  uint8(pairsFound),
		Completed:   pairsFound == shared.CardCount,
		SolveMillis: uint64(elapsed.Milliseconds()),
		PointsDelta: int64(pairsFound)*10 - int64(turns-pairsFound),
		NonceHash:   shared.NonceHash(boardNonce[:]),
	}
	if err := reg.Settle(ctx, owner, simCfg.RoundID, settlement); err != nil {
		return fmt.Errorf("settling round: %w", err)
	}

	records := 0
	if err := srv.Journal().Replay(ctx, 0, func(events.Record) error {
		records++
		return nil
	}); err != nil {
		return fmt.Errorf("replaying journal: %w", err)
	}

	fmt.Printf("settled round %d: %d pairs in %d turns (%s), %+d points, %d journal records\n",
		simCfg.RoundID, pairsFound, turns, elapsed.Round(time.Millisecond), settlement.PointsDelta, records)
	return nil
}

// awaitPairVerified blocks until the next verification outcome arrives
// on the event bus.
func awaitPairVerified(ctx context.Context, sub <-chan events.Event) (events.PairVerified, error) {
	for {
		select {
		case <-ctx.Done():
			return events.PairVerified{}, ctx.Err()
		case event := <-sub:
			if verified, ok := event.(events.PairVerified); ok {
				return verified, nil
			}
		case <-time.After(10 * time.Second):
			return events.PairVerified{}, errors.New("timed out waiting for a verification verdict")
		}
	}
}

func main() {
	cfg, err := loadConfig()
	if err != nil {
		os.Exit(1)
	}
	if err := simulate(cfg); err != nil {
		_, _ = fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
