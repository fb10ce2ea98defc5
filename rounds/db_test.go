package rounds

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/hushplay/cipherpair/shared"
)

func testRound(owner byte, roundID uint64) *Round {
	round := &Round{
		Owner:      shared.PlayerID{owner},
		RoundID:    roundID,
		VerifyKey:  shared.VerifyKey{0x10},
		BoardNonce: shared.BoardNonce{0x20},
		TurnsUsed:  3,
		PairsFound: 1,
	}
	for i := range round.SlotA {
		round.SlotA[i] = shared.Ciphertext{0xa0, byte(i)}
		round.SlotB[i] = shared.Ciphertext{0xb0, byte(i)}
	}
	return round
}

func TestRoundRoundtrip(t *testing.T) {
	dbdir := t.TempDir()
	db, err := newDatabase(dbdir, 4)
	require.NoError(t, err)

	ctx := context.Background()
	round := testRound(0x01, 7)
	require.NoError(t, db.CreateRound(ctx, round))

	got, err := db.Round(ctx, round.Owner, 7)
	require.NoError(t, err)
	require.Equal(t, round, got)

	// Reopen to read through a cold cache.
	require.NoError(t, db.Close())
	db, err = newDatabase(dbdir, 4)
	require.NoError(t, err)
	t.Cleanup(func() { require.NoError(t, db.Close()) })

	got, err = db.Round(ctx, round.Owner, 7)
	require.NoError(t, err)
	require.Equal(t, round, got)
}

func TestCreateRoundTwice(t *testing.T) {
	db, err := newDatabase(t.TempDir(), 4)
	require.NoError(t, err)
	t.Cleanup(func() { require.NoError(t, db.Close()) })

	ctx := context.Background()
	require.NoError(t, db.CreateRound(ctx, testRound(0x01, 7)))
	require.ErrorIs(t, db.CreateRound(ctx, testRound(0x01, 7)), ErrRoundExists)

	// The same round id under another owner is a distinct round.
	require.NoError(t, db.CreateRound(ctx, testRound(0x02, 7)))
}

func TestRoundNotFound(t *testing.T) {
	db, err := newDatabase(t.TempDir(), 4)
	require.NoError(t, err)
	t.Cleanup(func() { require.NoError(t, db.Close()) })

	_, err = db.Round(context.Background(), shared.PlayerID{0x01}, 404)
	require.ErrorIs(t, err, ErrNotFound)

	_, err = db.UpdateRound(context.Background(), shared.PlayerID{0x01}, 404, func(*Round) error { return nil })
	require.ErrorIs(t, err, ErrNotFound)
}

func TestUpdateRoundMutatorFailureDiscardsChanges(t *testing.T) {
	db, err := newDatabase(t.TempDir(), 4)
	require.NoError(t, err)
	t.Cleanup(func() { require.NoError(t, db.Close()) })

	ctx := context.Background()
	round := testRound(0x01, 7)
	require.NoError(t, db.CreateRound(ctx, round))

	failure := errors.New("mutation rejected")
	_, err = db.UpdateRound(ctx, round.Owner, 7, func(r *Round) error {
		r.TurnsUsed = 1000
		r.Completed = true
		return failure
	})
	require.ErrorIs(t, err, failure)

	got, err := db.Round(ctx, round.Owner, 7)
	require.NoError(t, err)
	require.Equal(t, round, got, "a failed mutation must leave the stored record untouched")
}

func TestUpdateRoundPersists(t *testing.T) {
	dbdir := t.TempDir()
	db, err := newDatabase(dbdir, 4)
	require.NoError(t, err)

	ctx := context.Background()
	round := testRound(0x01, 7)
	require.NoError(t, db.CreateRound(ctx, round))

	updated, err := db.UpdateRound(ctx, round.Owner, 7, func(r *Round) error {
		r.TurnsUsed++
		return nil
	})
	require.NoError(t, err)
	require.Equal(t, uint16(4), updated.TurnsUsed)

	require.NoError(t, db.Close())
	db, err = newDatabase(dbdir, 4)
	require.NoError(t, err)
	t.Cleanup(func() { require.NoError(t, db.Close()) })

	got, err := db.Round(ctx, round.Owner, 7)
	require.NoError(t, err)
	require.Equal(t, uint16(4), got.TurnsUsed)
}

func TestRoundReturnsCopy(t *testing.T) {
	db, err := newDatabase(t.TempDir(), 4)
	require.NoError(t, err)
	t.Cleanup(func() { require.NoError(t, db.Close()) })

	ctx := context.Background()
	require.NoError(t, db.CreateRound(ctx, testRound(0x01, 7)))

	first, err := db.Round(ctx, shared.PlayerID{0x01}, 7)
	require.NoError(t, err)
	first.TurnsUsed = 9999

	second, err := db.Round(ctx, shared.PlayerID{0x01}, 7)
	require.NoError(t, err)
	require.Equal(t, uint16(3), second.TurnsUsed, "callers must not be able to mutate stored state")
}
