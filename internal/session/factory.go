package session

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"maps"
	"net"
	"net/http"
	"os"
	"slices"
	"time"

	"github.com/google/uuid"
	"google.golang.org/grpc"

	coordgrpc "github.com/nemanja-m/wineml/internal/coordinator/api/grpc"
	"github.com/nemanja-m/wineml/internal/coordinator/api/rest"
	coordservice "github.com/nemanja-m/wineml/internal/coordinator/service"
	coordstorage "github.com/nemanja-m/wineml/internal/coordinator/storage"
	"github.com/nemanja-m/wineml/internal/shared/config"
	"github.com/nemanja-m/wineml/internal/shared/logging"
	"github.com/nemanja-m/wineml/internal/storage"
	workergrpc "github.com/nemanja-m/wineml/internal/worker/api/grpc"
	workercore "github.com/nemanja-m/wineml/internal/worker/core"
	workerservice "github.com/nemanja-m/wineml/internal/worker/service"
	"github.com/nemanja-m/wineml/pkg/core"
	"github.com/nemanja-m/wineml/pkg/local"
)

const (
	defaultS3Endpoint          = "https://s3.amazonaws.com"
	defaultProbeTimeout        = 10 * time.Second
	defaultHeartbeatInterval   = 5 * time.Second
	defaultRegistrationTimeout = 30 * time.Second
	defaultKeepaliveMinTime    = 10 * time.Second
	minBackoff                 = 100 * time.Millisecond
	maxBackoff                 = 5 * time.Second
	pollInterval               = 50 * time.Millisecond
)

var s3Schemes = []string{"s3", "s3a", "s3n"}

// Factory creates sessions.
type Factory struct {
	logger       logging.Logger
	stores       map[string]storage.ObjectStore
	probeTimeout time.Duration
	dialOpts     []grpc.DialOption
}

type Option func(*Factory)

// WithObjectStore serves URIs with the given scheme from store instead of the
// configured backend.
func WithObjectStore(scheme string, store storage.ObjectStore) Option {
	return func(f *Factory) {
		f.stores[scheme] = store
	}
}

// WithProbeTimeout bounds the object storage credential check.
func WithProbeTimeout(d time.Duration) Option {
	return func(f *Factory) {
		f.probeTimeout = d
	}
}

// WithDialOptions adds options used when executors dial the coordinator.
func WithDialOptions(opts ...grpc.DialOption) Option {
	return func(f *Factory) {
		f.dialOpts = append(f.dialOpts, opts...)
	}
}

func NewFactory(logger logging.Logger, opts ...Option) *Factory {
	f := &Factory{
		logger:       logger,
		stores:       make(map[string]storage.ObjectStore),
		probeTimeout: defaultProbeTimeout,
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// Create builds a session for cfg. In cluster mode the coordinator starts
// serving executors and an executor registers with the coordinator before
// Create returns.
func (f *Factory) Create(ctx context.Context, cfg *config.TrainerConfig) (*Session, error) {
	f.logger.Info("Creating spark session", "app", cfg.App.Name, "master", cfg.App.Master)

	mode, err := ResolveMode(cfg.App.Mode, cfg.App.Master)
	if err != nil {
		return nil, &SessionInitError{Step: "mode", Err: err}
	}

	store, err := f.objectStore(ctx, cfg)
	if err != nil {
		return nil, err
	}

	conf := maps.Clone(cfg.Properties)
	if conf == nil {
		conf = make(config.Properties)
	}
	conf[config.KeyExecutorID] = cfg.App.ExecutorID

	s := &Session{
		id:      uuid.New(),
		appName: cfg.App.Name,
		master:  cfg.App.Master,
		mode:    mode,
		store:   store,
		conf:    conf,
		logger:  f.logger,
	}
	partitions := parallelism(cfg.App.Parallelism, cfg.App.Master)

	switch {
	case mode == ModeLocal:
		if s.Role() == core.RoleUnknown {
			s.SetConf(config.KeyExecutorID, core.DriverExecutorID)
		}
		s.runner = local.NewRunner(partitions, partitions)
	case s.Role() == core.RoleCoordinator:
		err = f.startCoordinator(ctx, s, cfg, partitions)
	default:
		err = f.startExecutor(ctx, s, cfg, partitions)
	}
	if err != nil {
		s.Stop(context.Background())
		return nil, err
	}

	f.logger.Info("Spark session created",
		"session_id", s.id.String(),
		"mode", string(mode),
		"role", s.Role().String(),
		"partitions", s.runner.NumPartitions(),
	)
	return s, nil
}

func (f *Factory) objectStore(ctx context.Context, cfg *config.TrainerConfig) (storage.ObjectStore, error) {
	router := storage.NewRouter(storage.NewLocalStore())

	s3, err := storage.NewS3Store(storage.S3Options{
		Endpoint:  cmp.Or(cfg.S3.Endpoint, defaultS3Endpoint),
		AccessKey: cfg.S3.AccessKey,
		SecretKey: cfg.S3.SecretKey,
		Region:    cfg.S3.Region,
		PathStyle: cfg.S3.PathStyle,
		Secure:    cfg.S3.SSLEnabled,
	})
	if err != nil {
		return nil, &SessionInitError{Step: "object store", Err: err}
	}
	router.Register(s3, s3Schemes...)

	for scheme, store := range f.stores {
		router.Register(store, scheme)
	}

	if cfg.S3.ValidateOnStart {
		if err := f.probe(ctx, s3, cfg.S3.TrainingData); err != nil {
			return nil, &SessionInitError{Step: "credential probe", Err: err}
		}
	}
	return router, nil
}

// probe checks the training data bucket when it is served by the S3 client.
func (f *Factory) probe(ctx context.Context, s3 *storage.S3Store, trainingData string) error {
	loc, err := storage.ParseURI(trainingData)
	if err != nil {
		return err
	}
	if !slices.Contains(s3Schemes, loc.Scheme) {
		return nil
	}
	if _, injected := f.stores[loc.Scheme]; injected {
		return nil
	}

	probeCtx, cancel := context.WithTimeout(ctx, f.probeTimeout)
	defer cancel()

	f.logger.Debug("Validating object storage credentials", "bucket", loc.Bucket)
	if err := s3.Probe(probeCtx, loc.Bucket); err != nil {
		return fmt.Errorf("training data bucket %q: %w", loc.Bucket, err)
	}
	return nil
}

func (f *Factory) startCoordinator(ctx context.Context, s *Session, cfg *config.TrainerConfig, partitions int) error {
	logger := f.logger.With("component", "coordinator")
	heartbeat := cmp.Or(cfg.Cluster.HeartbeatInterval, defaultHeartbeatInterval)

	workers := coordservice.NewWorkerService(coordstorage.NewInMemoryWorkerStore(), logger)
	stages := coordservice.NewStageService(coordservice.StageServiceConfig{
		DriverSlots:     cmp.Or(cfg.Cluster.DriverSlots, partitions),
		MaxTaskAttempts: cfg.Cluster.MaxTaskAttempts,
	}, logger)

	addr, err := bindAddress(cfg.Cluster.BindAddr, cfg.App.Master)
	if err != nil {
		return &SessionInitError{Step: "listen", Err: err}
	}
	server := coordgrpc.NewServer(coordgrpc.ServerConfig{
		Addr:              addr,
		KeepaliveMinTime:  cmp.Or(cfg.Cluster.KeepaliveMinTime, defaultKeepaliveMinTime),
		HeartbeatInterval: heartbeat,
		NumPartitions:     partitions,
	}, workers, stages, logger)

	lis, err := server.Listen()
	if err != nil {
		return &SessionInitError{Step: "listen", Err: fmt.Errorf("failed to listen on %s: %w", addr, err)}
	}
	s.addr = lis.Addr().String()
	s.workers = workers

	go func() {
		if err := server.Serve(lis); err != nil {
			logger.Error("Coordinator server failed", "error", err)
		}
	}()

	healthCtx, cancelHealth := context.WithCancel(context.Background())
	checker := coordservice.NewWorkerHealthChecker(
		heartbeat,
		cmp.Or(cfg.Cluster.StaleTimeout, 3*heartbeat),
		cfg.Cluster.TaskTimeout,
		workers,
		stages,
		logger,
	)
	go checker.Start(healthCtx)

	s.onStop(func(ctx context.Context) error {
		server.Drain()
		if !waitFor(ctx, cfg.Cluster.DrainTimeout, func() bool { return workers.Count() == 0 }) {
			logger.Warn("Executors did not deregister before drain timeout", "remaining", workers.Count())
		}
		cancelHealth()
		server.Stop()
		return nil
	})

	if cfg.UI.Enabled {
		ui := rest.NewServer(cfg.UI, workers, stages, logger)
		uiLis, err := net.Listen("tcp", cfg.UI.Addr)
		if err != nil {
			return &SessionInitError{Step: "ui", Err: fmt.Errorf("failed to listen on %s: %w", cfg.UI.Addr, err)}
		}
		s.uiAddr = uiLis.Addr().String()
		go func() {
			logger.Info("Status API listening", "addr", s.uiAddr)
			if err := ui.Serve(uiLis); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Error("Status API failed", "error", err)
			}
		}()
		s.onStop(func(ctx context.Context) error {
			return ui.Shutdown(ctx)
		})
	}

	s.runner = coordservice.NewDriverRunner(stages, partitions)

	if cfg.Cluster.MinExecutors > 0 {
		timeout := cmp.Or(cfg.Cluster.RegistrationTimeout, defaultRegistrationTimeout)
		logger.Info("Waiting for executors", "min_executors", cfg.Cluster.MinExecutors, "timeout", timeout.String())
		if !waitFor(ctx, timeout, func() bool { return workers.Count() >= cfg.Cluster.MinExecutors }) {
			logger.Warn("Continuing with fewer executors than requested",
				"registered", workers.Count(),
				"min_executors", cfg.Cluster.MinExecutors,
			)
		}
	}
	return nil
}

func (f *Factory) startExecutor(ctx context.Context, s *Session, cfg *config.TrainerConfig, partitions int) error {
	workerID := uuid.New()
	logger := f.logger.With("component", "executor", "worker_id", workerID.String())
	masterAddr := masterAddress(cfg.App.Master)

	client, err := workergrpc.NewCoordinatorClient(masterAddr, workerID, f.dialOpts...)
	if err != nil {
		return &SessionInitError{Step: "connect", Err: err}
	}

	advertised := cfg.Cluster.ExecutorAddr
	if advertised == "" {
		advertised, _ = os.Hostname()
	}

	timeout := cmp.Or(cfg.Cluster.RegistrationTimeout, defaultRegistrationTimeout)
	reg, err := register(ctx, client, advertised, partitions, timeout, logger)
	if err != nil {
		client.Close()
		return &SessionInitError{Step: "register", Err: err}
	}

	heartbeat := cmp.Or(reg.HeartbeatInterval, cfg.Cluster.HeartbeatInterval, defaultHeartbeatInterval)
	worker := workerservice.NewWorkerService(
		client,
		workerservice.NewPartitionExecutor(logger),
		heartbeat,
		partitions,
		logger,
	)

	heartbeatCtx, cancelHeartbeat := context.WithCancel(context.Background())
	if err := worker.Run(heartbeatCtx); err != nil {
		cancelHeartbeat()
		client.Close()
		return &SessionInitError{Step: "heartbeat", Err: err}
	}

	s.onStop(func(ctx context.Context) error {
		cancelHeartbeat()
		err := client.Deregister(ctx)
		if err != nil {
			logger.Warn("Failed to deregister from coordinator", "error", err)
		}
		return errors.Join(err, client.Close())
	})

	s.runner = workerservice.NewExecutorRunner(worker, cmp.Or(reg.NumPartitions, partitions))

	logger.Info("Executor registered",
		"coordinator", masterAddr,
		"heartbeat", heartbeat.String(),
		"partitions", s.runner.NumPartitions(),
	)
	return nil
}

// register retries registration with exponential backoff until timeout.
func register(
	ctx context.Context,
	client workercore.CoordinatorClient,
	addr string,
	slots int,
	timeout time.Duration,
	logger logging.Logger,
) (workercore.Registration, error) {
	regCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	backoff := minBackoff
	for {
		reg, err := client.RegisterWorker(regCtx, addr, slots)
		if err == nil {
			return reg, nil
		}
		logger.Warn("Failed to register with coordinator", "error", err, "retry_in", backoff.String())

		timer := time.NewTimer(backoff)
		select {
		case <-regCtx.Done():
			timer.Stop()
			return workercore.Registration{}, fmt.Errorf("no coordinator accepted registration within %s: %w", timeout, err)
		case <-timer.C:
		}
		backoff = min(backoff*2, maxBackoff)
	}
}

// waitFor polls cond until it holds, timeout passes or ctx is done.
func waitFor(ctx context.Context, timeout time.Duration, cond func() bool) bool {
	if cond() {
		return true
	}
	if timeout <= 0 {
		return false
	}
	deadline := time.NewTimer(timeout)
	defer deadline.Stop()
	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return cond()
		case <-deadline.C:
			return cond()
		case <-ticker.C:
			if cond() {
				return true
			}
		}
	}
}
