package server

import (
	"context"
	"crypto/ed25519"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/hashicorp/go-multierror"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"github.com/hushplay/cipherpair/cluster"
	"github.com/hushplay/cipherpair/events"
	"github.com/hushplay/cipherpair/logging"
	"github.com/hushplay/cipherpair/rounds"
	"github.com/hushplay/cipherpair/transport"
)

// Buffer for events fanned out to live subscribers. A subscriber
// lagging behind by more than this loses events.
const eventBufferSize = 64

type svc interface {
	Run(ctx context.Context) error
}

// Server assembles the cipherpair daemon: the round service, the
// in-process confidential-compute worker standing in for the remote
// cluster, the transport binding them, and the event journal and bus
// that publish round outcomes.
type Server struct {
	worker  svc
	reg     *rounds.Registry
	journal *events.Journal
	bus     *events.Bus
	cfg     Config

	metricsListener net.Listener

	identity   *cluster.Identity
	privateKey ed25519.PrivateKey
}

func New(ctx context.Context, cfg Config) (*Server, error) {
	// Resolve the metrics listener up front so a taken port fails the
	// boot instead of the running server.
	var metricsListener net.Listener
	if cfg.MetricsPort != nil {
		addr, err := net.ResolveTCPAddr("tcp", fmt.Sprintf("localhost:%d", *cfg.MetricsPort))
		if err != nil {
			return nil, err
		}
		metricsListener, err = net.Listen(addr.Network(), addr.String())
		if err != nil {
			return nil, fmt.Errorf("failed to listen: %v", err)
		}
	}

	if _, err := os.Stat(cfg.DataDir); os.IsNotExist(err) {
		if err := os.MkdirAll(cfg.DataDir, 0o700); err != nil {
			return nil, err
		}
	}

	s, err := loadState(ctx, cfg.DataDir, os.Getenv(KeyEnvVar))
	if err != nil {
		return nil, fmt.Errorf("loading state: %w", err)
	}
	if err := saveState(cfg.DataDir, s); err != nil {
		return nil, fmt.Errorf("saving state: %w", err)
	}
	privateKey := ed25519.PrivateKey(s.PrivKey)
	identity := s.sealIdentity()

	tr := transport.NewInMemory(cfg.Cluster.QueueDepth)
	worker := cluster.NewWorker(cfg.Cluster, identity, privateKey, tr)

	journal, err := events.NewJournal(filepath.Join(cfg.DbDir, "events"))
	if err != nil {
		return nil, fmt.Errorf("opening event journal: %w", err)
	}
	bus := events.NewBus(eventBufferSize)

	reg, err := rounds.New(
		ctx,
		cfg.DbDir,
		tr,
		worker.VerdictKey(),
		rounds.WithConfig(cfg.Rounds),
		rounds.WithEmitter(events.Tee{journal, bus}),
	)
	if err != nil {
		journal.Close()
		return nil, fmt.Errorf("creating round service: %w", err)
	}

	return &Server{
		worker:  worker,
		reg:     reg,
		journal: journal,
		bus:     bus,
		cfg:     cfg,

		metricsListener: metricsListener,

		identity:   identity,
		privateKey: privateKey,
	}, nil
}

func (s *Server) Close() error {
	var result *multierror.Error
	result = multierror.Append(result, s.reg.Close())
	result = multierror.Append(result, s.journal.Close())
	return result.ErrorOrNil()
}

// Rounds exposes the round service to in-process callers. The caller
// identity passed to its operations is trusted; resolving it is the
// embedding application's job.
func (s *Server) Rounds() *rounds.Registry {
	return s.reg
}

// Events returns the bus that PairVerified and RoundSettled events are
// fanned out on.
func (s *Server) Events() *events.Bus {
	return s.bus
}

// Journal returns the durable event log for replaying past events.
func (s *Server) Journal() *events.Journal {
	return s.journal
}

// SealKey returns the cluster's public sealing key. Players derive
// their per-round card keys against it.
func (s *Server) SealKey() [32]byte {
	return s.identity.Public()
}

// VerdictKey returns the public key the cluster signs verdicts with.
func (s *Server) VerdictKey() ed25519.PublicKey {
	return s.privateKey.Public().(ed25519.PublicKey)
}

// MetricsAddr returns the address the metrics server is listening on,
// or nil when metrics are disabled.
func (s *Server) MetricsAddr() net.Addr {
	if s.metricsListener == nil {
		return nil
	}
	return s.metricsListener.Addr()
}

// Start runs the server until ctx is canceled.
func (s *Server) Start(ctx context.Context) error {
	ctx, stop := context.WithCancel(ctx)
	defer stop()
	serverGroup, ctx := errgroup.WithContext(ctx)

	logger := logging.FromContext(ctx)

	logger.Info("starting round service")
	serverGroup.Go(func() error {
		return s.reg.Run(ctx)
	})

	logger.Info("starting confidential-compute worker")
	serverGroup.Go(func() error {
		return s.worker.Run(ctx)
	})

	var metricsServer *http.Server
	if s.metricsListener != nil {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())
		metricsServer = &http.Server{Handler: mux, ReadHeaderTimeout: time.Second * 5}
		serverGroup.Go(func() error {
			logger.Sugar().Infof("metrics server listening on %s", s.metricsListener.Addr())
			err := metricsServer.Serve(s.metricsListener)
			if errors.Is(err, http.ErrServerClosed) {
				return nil
			}
			return err
		})
	}

	// Wait for the server to shut down gracefully
	<-ctx.Done()
	if metricsServer != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), time.Second*10)
		defer cancel()
		if err := metricsServer.Shutdown(shutdownCtx); err != nil {
			logger.Sugar().Errorf("failed to shutdown metrics server: %s", err)
		}
	}
	if err := serverGroup.Wait(); err != nil {
		logger.Sugar().Errorf("error when waiting to shutdown servers: %s", err)
	}
	return nil
}
