package rounds

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"sync"

	lru "github.com/hashicorp/golang-lru"
	xdr "github.com/nullstyle/go-xdr/xdr3"
	"github.com/syndtr/goleveldb/leveldb"

	"github.com/hushplay/cipherpair/shared"
)

// Round is the persistent state of one round. Card slots hold opaque
// ciphertexts; the store never sees card values.
type Round struct {
	Owner      shared.PlayerID
	RoundID    uint64
	SlotA      [shared.CardCount]shared.Ciphertext
	SlotB      [shared.CardCount]shared.Ciphertext
	VerifyKey  shared.VerifyKey
	BoardNonce shared.BoardNonce
	TurnsUsed  uint16
	PairsFound uint8
	Completed  bool
}

type database struct {
	db    *leveldb.DB
	cache *lru.Cache

	// Serializes write transactions with their cache refresh so the
	// cache always reflects the last committed write.
	writeMtx sync.Mutex
}

func newDatabase(dbPath string, cacheSize int) (*database, error) {
	db, err := leveldb.OpenFile(dbPath, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to open database @ %s: %w", dbPath, err)
	}
	cache, err := lru.New(cacheSize)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("creating round cache: %w", err)
	}
	return &database{db: db, cache: cache}, nil
}

func (db *database) Close() error {
	return db.db.Close()
}

// CreateRound stores a fresh round record. It fails with ErrRoundExists
// when a round is already recorded under the same owner and round id.
func (db *database) CreateRound(ctx context.Context, round *Round) error {
	key := shared.RoundKey(round.Owner, round.RoundID)

	db.writeMtx.Lock()
	defer db.writeMtx.Unlock()

	trans, err := db.db.OpenTransaction()
	if err != nil {
		return fmt.Errorf("opening transaction: %w", err)
	}
	switch _, err := trans.Get(key, nil); {
	case err == nil:
		trans.Discard()
		return ErrRoundExists
	case !errors.Is(err, leveldb.ErrNotFound):
		trans.Discard()
		return fmt.Errorf("querying round: %w", err)
	}
	serialized, err := serializeRound(round)
	if err != nil {
		trans.Discard()
		return err
	}
	if err := trans.Put(key, serialized, nil); err != nil {
		trans.Discard()
		return fmt.Errorf("storing round in DB: %w", err)
	}
	if err := trans.Commit(); err != nil {
		return fmt.Errorf("committing round: %w", err)
	}
	db.cache.Add(string(key), *round)
	return nil
}

// Round returns the stored round. The caller owns the returned value.
func (db *database) Round(ctx context.Context, owner shared.PlayerID, roundID uint64) (*Round, error) {
	key := shared.RoundKey(owner, roundID)
	if cached, ok := db.cache.Get(string(key)); ok {
		round := cached.(Round)
		return &round, nil
	}

	data, err := db.db.Get(key, nil)
	if err != nil {
		return nil, fmt.Errorf("get round %d from DB: %w", roundID, err)
	}
	round := &Round{}
	if _, err := xdr.Unmarshal(bytes.NewReader(data), round); err != nil {
		return nil, fmt.Errorf("failed to deserialize: %v", err)
	}
	db.cache.Add(string(key), *round)
	return round, nil
}

// UpdateRound applies mutate to the stored round inside a transaction.
// An error from any step, the mutator included, discards every change.
// goleveldb admits one transaction at a time, so concurrent updates are
// serialized.
func (db *database) UpdateRound(
	ctx context.Context,
	owner shared.PlayerID,
	roundID uint64,
	mutate func(*Round) error,
) (*Round, error) {
	key := shared.RoundKey(owner, roundID)

	db.writeMtx.Lock()
	defer db.writeMtx.Unlock()

	trans, err := db.db.OpenTransaction()
	if err != nil {
		return nil, fmt.Errorf("opening transaction: %w", err)
	}
	data, err := trans.Get(key, nil)
	if err != nil {
		trans.Discard()
		return nil, fmt.Errorf("get round %d from DB: %w", roundID, err)
	}
	round := &Round{}
	if _, err := xdr.Unmarshal(bytes.NewReader(data), round); err != nil {
		trans.Discard()
		return nil, fmt.Errorf("failed to deserialize: %v", err)
	}
	if err := mutate(round); err != nil {
		trans.Discard()
		return nil, err
	}
	serialized, err := serializeRound(round)
	if err != nil {
		trans.Discard()
		return nil, err
	}
	if err := trans.Put(key, serialized, nil); err != nil {
		trans.Discard()
		return nil, fmt.Errorf("storing round in DB: %w", err)
	}
	if err := trans.Commit(); err != nil {
		return nil, fmt.Errorf("committing round update: %w", err)
	}
	db.cache.Add(string(key), *round)
	return round, nil
}

func serializeRound(round *Round) ([]byte, error) {
	var dataBuf bytes.Buffer
	if _, err := xdr.Marshal(&dataBuf, round); err != nil {
		return nil, fmt.Errorf("serialization failure: %v", err)
	}
	return dataBuf.Bytes(), nil
}
