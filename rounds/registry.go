package rounds

import (
	"bytes"
	"context"
	"crypto/ed25519"
	"fmt"
	"math"
	"path/filepath"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.uber.org/zap"

	"github.com/hushplay/cipherpair/cluster"
	"github.com/hushplay/cipherpair/events"
	"github.com/hushplay/cipherpair/logging"
	"github.com/hushplay/cipherpair/shared"
	"github.com/hushplay/cipherpair/signing"
)

var (
	registeredMetric = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "cipherpair",
		Subsystem: "rounds",
		Name:      "registered_total",
		Help:      "Number of rounds registered",
	})

	dispatchedMetric = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "cipherpair",
		Subsystem: "rounds",
		Name:      "verifications_dispatched_total",
		Help:      "Number of pair verifications submitted to the cluster",
	})

	verdictsMetric = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "cipherpair",
		Subsystem: "rounds",
		Name:      "verdicts_total",
		Help:      "Number of verdicts received, by outcome",
	}, []string{"outcome"})

	settledMetric = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "cipherpair",
		Subsystem: "rounds",
		Name:      "settled_total",
		Help:      "Number of rounds settled",
	})

	pendingGauge = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "cipherpair",
		Subsystem: "rounds",
		Name:      "pending_verifications",
		Help:      "Number of in-flight verification requests",
	})
)

// ClusterService is the communication channel with the confidential
// compute cluster. Submit returns once a request is accepted for
// asynchronous processing; results come back as signed verdicts.
type ClusterService interface {
	Submit(ctx context.Context, request cluster.Request) error
	RegisterForVerdicts(ctx context.Context) <-chan cluster.SignedVerdict
}

// Settlement is the client-reported outcome of a finished round. It is
// recorded verbatim; the service doesn't recompute or validate scores.
type Settlement struct {
	TurnsUsed   uint16
	PairsFound  uint8
	Completed   bool
	SolveMillis uint64
	PointsDelta int64
	NonceHash   [32]byte
}

// Registry orchestrates round lifecycles.
// It is responsible for:
//   - registering rounds and their encrypted boards,
//   - dispatching pair verifications to the cluster,
//   - reconciling signed verdicts into PairVerified events,
//   - recording client-reported settlements.
type Registry struct {
	cfg        Config
	db         *database
	clusterSvc ClusterService
	verdictKey ed25519.PublicKey
	emitter    events.Emitter
	pending    *pendingLedger
}

type newRegistryOptionFunc func(*newRegistryOptions)

type newRegistryOptions struct {
	cfg     Config
	emitter events.Emitter
}

func WithConfig(cfg Config) newRegistryOptionFunc {
	return func(opts *newRegistryOptions) {
		opts.cfg = cfg
	}
}

func WithEmitter(emitter events.Emitter) newRegistryOptionFunc {
	return func(opts *newRegistryOptions) {
		opts.emitter = emitter
	}
}

func New(
	ctx context.Context,
	dbdir string,
	clusterSvc ClusterService,
	verdictKey ed25519.PublicKey,
	opts ...newRegistryOptionFunc,
) (*Registry, error) {
	options := newRegistryOptions{
		cfg: DefaultConfig(),
	}
	for _, opt := range opts {
		opt(&options)
	}
	if options.emitter == nil {
		options.emitter = events.NewBus(1)
	}
	if len(verdictKey) != ed25519.PublicKeySize {
		return nil, signing.ErrInvalidPubkeyLen
	}

	db, err := newDatabase(filepath.Join(dbdir, "rounds"), options.cfg.CacheSize)
	if err != nil {
		return nil, fmt.Errorf("opening rounds database: %w", err)
	}

	return &Registry{
		cfg:        options.cfg,
		db:         db,
		clusterSvc: clusterSvc,
		verdictKey: verdictKey,
		emitter:    options.emitter,
		pending:    newPendingLedger(options.cfg.MaxPendingRequests),
	}, nil
}

func (r *Registry) Close() error {
	return r.db.Close()
}

// Round returns the stored state of a round.
func (r *Registry) Round(ctx context.Context, owner shared.PlayerID, roundID uint64) (*Round, error) {
	return r.db.Round(ctx, owner, roundID)
}

// Register creates a round owned by owner with the first card slot
// filled. Progress counters start at zero; slot B stays zeroed until
// SetSlotB.
func (r *Registry) Register(
	ctx context.Context,
	owner shared.PlayerID,
	roundID uint64,
	slotA []shared.Ciphertext,
	verifyKey shared.VerifyKey,
	boardNonce shared.BoardNonce,
) error {
	if len(slotA) != shared.CardCount {
		return fmt.Errorf("%w: got %d cards, need %d", ErrInvalidCardCount, len(slotA), shared.CardCount)
	}

	round := &Round{
		Owner:      owner,
		RoundID:    roundID,
		VerifyKey:  verifyKey,
		BoardNonce: boardNonce,
	}
	copy(round.SlotA[:], slotA)

	if err := r.db.CreateRound(ctx, round); err != nil {
		return fmt.Errorf("registering round %d: %w", roundID, err)
	}
	registeredMetric.Inc()
	logging.FromContext(ctx).Info(
		"registered round",
		zap.String("owner", round.Owner.String()),
		zap.Uint64("round_id", roundID),
	)
	return nil
}

// SetSlotB fills the second card slot of the caller's round. Repeated
// calls overwrite unconditionally.
func (r *Registry) SetSlotB(ctx context.Context, caller shared.PlayerID, roundID uint64, slotB []shared.Ciphertext) error {
	_, err := r.db.UpdateRound(ctx, caller, roundID, func(round *Round) error {
		if round.RoundID != roundID {
			return ErrRoundIDMismatch
		}
		if round.Owner != caller {
			return ErrUnauthorizedRoundOwner
		}
		if len(slotB) != shared.CardCount {
			return fmt.Errorf("%w: got %d cards, need %d", ErrInvalidCardCount, len(slotB), shared.CardCount)
		}
		copy(round.SlotB[:], slotB)
		return nil
	})
	if err != nil {
		return fmt.Errorf("setting slot B of round %d: %w", roundID, err)
	}
	logging.FromContext(ctx).Debug("set slot B", zap.Uint64("round_id", roundID))
	return nil
}

// VerifyPair consumes a turn and submits the cards at the two indices
// to the cluster for confidential comparison. It returns once the
// request is accepted; the outcome arrives later as a PairVerified
// event. Any failure, queue rejection included, leaves the round
// untouched.
func (r *Registry) VerifyPair(
	ctx context.Context,
	caller shared.PlayerID,
	roundID uint64,
	cardAIdx uint8,
	cardBIdx uint8,
	requestID shared.RequestID,
) error {
	reserved := false
	_, err := r.db.UpdateRound(ctx, caller, roundID, func(round *Round) error {
		if round.RoundID != roundID {
			return ErrRoundIDMismatch
		}
		if round.Owner != caller {
			return ErrUnauthorizedRoundOwner
		}
		if cardAIdx >= shared.CardCount || cardBIdx >= shared.CardCount {
			return fmt.Errorf("%w: indices %d, %d", ErrCardIndexOutOfBounds, cardAIdx, cardBIdx)
		}
		if round.TurnsUsed < math.MaxUint16 {
			round.TurnsUsed++
		}
		if err := r.pending.add(requestID, pendingVerification{owner: caller, roundID: roundID}); err != nil {
			return err
		}
		reserved = true
		if err := r.clusterSvc.Submit(ctx, cluster.Request{
			ID:         requestID,
			VerifyKey:  round.VerifyKey,
			BoardNonce: round.BoardNonce,
			CardA:      round.SlotA[cardAIdx],
			CardB:      round.SlotB[cardBIdx],
		}); err != nil {
			r.pending.remove(requestID)
			reserved = false
			return fmt.Errorf("submitting verification: %w", err)
		}
		return nil
	})
	if err != nil {
		// A commit failure may leave a submitted request orphaned;
		// dropping the reservation makes its verdict unknown on arrival.
		if reserved {
			r.pending.remove(requestID)
		}
		return fmt.Errorf("verifying pair of round %d: %w", roundID, err)
	}

	dispatchedMetric.Inc()
	pendingGauge.Set(float64(r.pending.count()))
	logging.FromContext(ctx).Debug(
		"dispatched pair verification",
		zap.Uint64("round_id", roundID),
		zap.Uint64("request_id", uint64(requestID)),
		zap.Uint8("card_a", cardAIdx),
		zap.Uint8("card_b", cardBIdx),
	)
	return nil
}

// Settle records the client-reported final score of the caller's round
// and emits it verbatim as a RoundSettled event. Completed is advisory;
// settling doesn't lock the round.
func (r *Registry) Settle(ctx context.Context, caller shared.PlayerID, roundID uint64, settlement Settlement) error {
	_, err := r.db.UpdateRound(ctx, caller, roundID, func(round *Round) error {
		if round.RoundID != roundID {
			return ErrRoundIDMismatch
		}
		if round.Owner != caller {
			return ErrUnauthorizedRoundOwner
		}
		round.TurnsUsed = settlement.TurnsUsed
		round.PairsFound = settlement.PairsFound
		round.Completed = settlement.Completed
		return nil
	})
	if err != nil {
		return fmt.Errorf("settling round %d: %w", roundID, err)
	}

	settledMetric.Inc()
	logging.FromContext(ctx).Info(
		"settled round",
		zap.String("owner", caller.String()),
		zap.Uint64("round_id", roundID),
		zap.Uint16("turns_used", settlement.TurnsUsed),
		zap.Uint8("pairs_found", settlement.PairsFound),
		zap.Bool("completed", settlement.Completed),
	)

	if err := r.emitter.Emit(ctx, events.RoundSettled{
		Owner:       caller,
		RoundID:     roundID,
		TurnsUsed:   settlement.TurnsUsed,
		PairsFound:  settlement.PairsFound,
		Completed:   settlement.Completed,
		SolveMillis: settlement.SolveMillis,
		PointsDelta: settlement.PointsDelta,
		NonceHash:   settlement.NonceHash,
	}); err != nil {
		logging.FromContext(ctx).Error("failed to emit round settled event", zap.Error(err))
	}
	return nil
}

// Run reconciles verdicts from the cluster until ctx is canceled.
func (r *Registry) Run(ctx context.Context) error {
	logger := logging.FromContext(ctx).Named("rounds")
	ctx = logging.NewContext(ctx, logger)

	verdicts := r.clusterSvc.RegisterForVerdicts(ctx)
	for {
		select {
		case <-ctx.Done():
			return nil
		case verdict := <-verdicts:
			if err := r.reconcile(ctx, verdict); err != nil {
				logger.Warn("rejected verdict", zap.Error(err))
			}
		}
	}
}

// reconcile resolves one verdict against the pending ledger. It reads
// round state but never mutates it; settlement is the only score write
// path.
func (r *Registry) reconcile(ctx context.Context, verdict cluster.SignedVerdict) error {
	data := verdict.Data()

	if !bytes.Equal(verdict.PubKey(), r.verdictKey) {
		verdictsMetric.WithLabelValues("rejected").Inc()
		return fmt.Errorf("%w: verdict for request %d signed by unknown key", ErrAbortedComputation, data.ID)
	}
	if _, err := signing.FromSigned(*data, verdict.Signature(), verdict.PubKey()); err != nil {
		verdictsMetric.WithLabelValues("rejected").Inc()
		return fmt.Errorf("%w: invalid verdict signature for request %d: %v", ErrAbortedComputation, data.ID, err)
	}

	entry, ok := r.pending.remove(data.ID)
	if !ok {
		verdictsMetric.WithLabelValues("rejected").Inc()
		return fmt.Errorf("%w: no pending verification for request %d", ErrAbortedComputation, data.ID)
	}
	pendingGauge.Set(float64(r.pending.count()))

	if data.Aborted {
		verdictsMetric.WithLabelValues("aborted").Inc()
		return fmt.Errorf("%w: request %d aborted by the cluster", ErrAbortedComputation, data.ID)
	}

	round, err := r.db.Round(ctx, entry.owner, entry.roundID)
	if err != nil {
		verdictsMetric.WithLabelValues("rejected").Inc()
		return fmt.Errorf("loading round %d for request %d: %w", entry.roundID, data.ID, err)
	}

	if err := r.emitter.Emit(ctx, events.PairVerified{
		Owner:         entry.owner,
		RoundID:       entry.roundID,
		TurnsUsed:     round.TurnsUsed,
		PairsFound:    round.PairsFound,
		IsMatchCipher: data.IsMatchCipher,
		Nonce:         data.Nonce,
	}); err != nil {
		verdictsMetric.WithLabelValues("rejected").Inc()
		return fmt.Errorf("emitting pair verified event for request %d: %w", data.ID, err)
	}

	verdictsMetric.WithLabelValues("verified").Inc()
	logging.FromContext(ctx).Debug(
		"pair verified",
		zap.Uint64("round_id", entry.roundID),
		zap.Uint64("request_id", uint64(data.ID)),
	)
	return nil
}
