package session

import (
	"context"
	"errors"
	"slices"
	"strings"
	"sync"

	"github.com/google/uuid"

	coordcore "github.com/nemanja-m/wineml/internal/coordinator/core"
	"github.com/nemanja-m/wineml/internal/shared/config"
	"github.com/nemanja-m/wineml/internal/shared/logging"
	"github.com/nemanja-m/wineml/internal/storage"
	"github.com/nemanja-m/wineml/pkg/core"
)

// Session is the runtime context of one training run: the object store, the
// partition runner and the live configuration.
type Session struct {
	id      uuid.UUID
	appName string
	master  string
	mode    Mode
	store   storage.ObjectStore
	runner  core.Runner
	logger  logging.Logger

	mu   sync.RWMutex
	conf config.Properties

	// Set only on a cluster coordinator.
	addr    string
	uiAddr  string
	workers coordcore.WorkerService

	stopOnce sync.Once
	stopErr  error
	closers  []func(ctx context.Context) error
}

func (s *Session) ID() uuid.UUID {
	return s.id
}

func (s *Session) AppName() string {
	return s.appName
}

func (s *Session) Master() string {
	return s.master
}

func (s *Session) Mode() Mode {
	return s.mode
}

func (s *Session) Store() storage.ObjectStore {
	return s.store
}

func (s *Session) Runner() core.Runner {
	return s.runner
}

// Addr returns the address the coordinator listens on, or "" when this
// process is not a cluster coordinator.
func (s *Session) Addr() string {
	return s.addr
}

// UIAddr returns the status API address, or "" when it is not served.
func (s *Session) UIAddr() string {
	return s.uiAddr
}

// Conf returns a session property. Absent keys yield "".
func (s *Session) Conf(key string) string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.conf.Get(key)
}

// SetConf overrides a session property for the rest of the run.
func (s *Session) SetConf(key, value string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.conf[strings.ToLower(key)] = value
}

// Role derives the process role from spark.executor.id at call time.
func (s *Session) Role() core.Role {
	return core.RoleFromExecutorID(s.Conf(config.KeyExecutorID))
}

func (s *Session) onStop(fn func(ctx context.Context) error) {
	s.closers = append(s.closers, fn)
}

// Stop releases everything the session started, in reverse start order.
// Only the first call has an effect; later calls return the same error.
func (s *Session) Stop(ctx context.Context) error {
	s.stopOnce.Do(func() {
		var errs []error
		for _, closer := range slices.Backward(s.closers) {
			if err := closer(ctx); err != nil {
				errs = append(errs, err)
			}
		}
		s.stopErr = errors.Join(errs...)
		if s.stopErr != nil {
			s.logger.Warn("Spark session stopped with errors", "session_id", s.id.String(), "error", s.stopErr)
			return
		}
		s.logger.Info("Spark session stopped", "session_id", s.id.String())
	})
	return s.stopErr
}
