package events

import (
	"bytes"
	"context"
	"encoding/binary"
	"fmt"
	"time"

	"github.com/google/uuid"
	xdr "github.com/nullstyle/go-xdr/xdr3"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/syndtr/goleveldb/leveldb"
	"github.com/syndtr/goleveldb/leveldb/util"
)

var appendLatencyMetric = promauto.NewHistogram(prometheus.HistogramOpts{
	Namespace: "cipherpair",
	Subsystem: "events",
	Name:      "journal_append_latency_seconds",
	Help:      "Latency of journal append operations",
	Buckets:   prometheus.ExponentialBuckets(0.001, 1.5, 20),
})

// envelope is the persisted form of an event.
type envelope struct {
	ID      uuid.UUID
	At      int64
	Kind    string
	Payload []byte
}

// Record is one replayed journal entry.
type Record struct {
	Seq   uint64
	ID    uuid.UUID
	At    time.Time
	Event Event
}

// Journal is a durable append-only event log. Keys are big-endian
// sequence numbers, assigned densely starting from 1, so iteration
// order is append order.
type Journal struct {
	db *leveldb.DB
}

func NewJournal(dbPath string) (*Journal, error) {
	db, err := leveldb.OpenFile(dbPath, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to open journal database @ %s: %w", dbPath, err)
	}
	return &Journal{db: db}, nil
}

func (j *Journal) Close() error {
	return j.db.Close()
}

func (j *Journal) Emit(ctx context.Context, event Event) error {
	payload, err := serializeEvent(event)
	if err != nil {
		return err
	}
	env := envelope{
		ID:      uuid.New(),
		At:      time.Now().UnixNano(),
		Kind:    event.Kind(),
		Payload: payload,
	}
	var buf bytes.Buffer
	if _, err := xdr.Marshal(&buf, &env); err != nil {
		return fmt.Errorf("serializing event envelope: %v", err)
	}

	start := time.Now()
	trans, err := j.db.OpenTransaction()
	if err != nil {
		return fmt.Errorf("opening journal transaction: %w", err)
	}
	seq := uint64(1)
	iter := trans.NewIterator(nil, nil)
	if iter.Last() {
		seq = binary.BigEndian.Uint64(iter.Key()) + 1
	}
	iter.Release()
	if err := trans.Put(seqKey(seq), buf.Bytes(), nil); err != nil {
		trans.Discard()
		return fmt.Errorf("appending event: %w", err)
	}
	if err := trans.Commit(); err != nil {
		return fmt.Errorf("committing event append: %w", err)
	}
	appendLatencyMetric.Observe(time.Since(start).Seconds())
	return nil
}

// Replay invokes fn for every journaled record with sequence >= from,
// in append order. A non-nil error from fn stops the replay.
func (j *Journal) Replay(ctx context.Context, from uint64, fn func(Record) error) error {
	iter := j.db.NewIterator(&util.Range{Start: seqKey(from)}, nil)
	defer iter.Release()
	for iter.Next() {
		if err := ctx.Err(); err != nil {
			return err
		}
		var env envelope
		if _, err := xdr.Unmarshal(bytes.NewReader(iter.Value()), &env); err != nil {
			return fmt.Errorf("failed to deserialize event envelope: %v", err)
		}
		event, err := deserializeEvent(env.Kind, env.Payload)
		if err != nil {
			return err
		}
		record := Record{
			Seq:   binary.BigEndian.Uint64(iter.Key()),
			ID:    env.ID,
			At:    time.Unix(0, env.At),
			Event: event,
		}
		if err := fn(record); err != nil {
			return err
		}
	}
	return iter.Error()
}

func seqKey(seq uint64) []byte {
	key := make([]byte, 8)
	binary.BigEndian.PutUint64(key, seq)
	return key
}

func serializeEvent(event Event) ([]byte, error) {
	var buf bytes.Buffer
	if _, err := xdr.Marshal(&buf, event); err != nil {
		return nil, fmt.Errorf("serializing %s event: %v", event.Kind(), err)
	}
	return buf.Bytes(), nil
}

func deserializeEvent(kind string, payload []byte) (Event, error) {
	switch kind {
	case KindPairVerified:
		var event PairVerified
		if _, err := xdr.Unmarshal(bytes.NewReader(payload), &event); err != nil {
			return nil, fmt.Errorf("failed to deserialize %s event: %v", kind, err)
		}
		return event, nil
	case KindRoundSettled:
		var event RoundSettled
		if _, err := xdr.Unmarshal(bytes.NewReader(payload), &event); err != nil {
			return nil, fmt.Errorf("failed to deserialize %s event: %v", kind, err)
		}
		return event, nil
	default:
		return nil, fmt.Errorf("unknown event kind %q", kind)
	}
}
