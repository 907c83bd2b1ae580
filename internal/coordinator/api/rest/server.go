package rest

import (
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/nemanja-m/wineml/internal/coordinator/core"
	"github.com/nemanja-m/wineml/internal/shared/config"
	"github.com/nemanja-m/wineml/internal/shared/logging"
)

// API serves read-only views of the coordinator state.
type API struct {
	workerService core.WorkerService
	stageService  core.StageService
	logger        logging.Logger
	now           func() time.Time
}

func NewAPI(workerService core.WorkerService, stageService core.StageService, logger logging.Logger) *API {
	return &API{
		workerService: workerService,
		stageService:  stageService,
		logger:        logger,
		now:           time.Now,
	}
}

func (a *API) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /health", a.health)
	mux.HandleFunc("GET /api/workers", a.listWorkers)
	mux.HandleFunc("GET /api/stages", a.listStages)
	mux.HandleFunc("GET /api/stages/{id}", a.getStage)
}

// health handles GET /health
func (a *API) health(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, HealthResponse{
		Status:  "UP",
		Workers: a.workerService.Count(),
		Stages:  len(a.stageService.GetStages()),
	})
}

// listWorkers handles GET /api/workers
func (a *API) listWorkers(w http.ResponseWriter, r *http.Request) {
	workers, err := a.workerService.GetWorkers()
	if err != nil {
		a.logger.Error("Failed to list workers", "error", err)
		respondError(w, http.StatusInternalServerError, "failed to list workers", err.Error())
		return
	}

	now := a.now()
	infos := make([]WorkerInfo, 0, len(workers))
	for _, worker := range workers {
		infos = append(infos, ToWorkerInfo(worker, now))
	}
	respondJSON(w, http.StatusOK, ListWorkersResponse{Workers: infos, Total: len(infos)})
}

// listStages handles GET /api/stages with an optional state filter
func (a *API) listStages(w http.ResponseWriter, r *http.Request) {
	stateFilter := strings.ToUpper(r.URL.Query().Get("state"))

	infos := make([]StageInfo, 0)
	for _, stage := range a.stageService.GetStages() {
		if stateFilter != "" && string(stage.State) != stateFilter {
			continue
		}
		infos = append(infos, ToStageInfo(stage))
	}
	respondJSON(w, http.StatusOK, ListStagesResponse{Stages: infos, Total: len(infos)})
}

// getStage handles GET /api/stages/{id}
func (a *API) getStage(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	for _, stage := range a.stageService.GetStages() {
		if stage.ID == id {
			respondJSON(w, http.StatusOK, ToStageInfo(stage))
			return
		}
	}
	respondError(w, http.StatusNotFound, "stage not found", id)
}

func respondJSON(w http.ResponseWriter, statusCode int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	_ = json.NewEncoder(w).Encode(data)
}

func respondError(w http.ResponseWriter, statusCode int, error string, message string) {
	respondJSON(w, statusCode, ErrorResponse{
		Error:   error,
		Message: message,
		Code:    statusCode,
	})
}

func NewServer(
	cfg config.UIConfig,
	workerService core.WorkerService,
	stageService core.StageService,
	logger logging.Logger,
) *http.Server {
	api := NewAPI(workerService, stageService, logger)
	mux := http.NewServeMux()
	api.RegisterRoutes(mux)

	handler := ChainMiddleware(
		mux,
		RequestIDMiddleware,
		RecoveryMiddleware(logger),
		LoggingMiddleware(logger),
	)

	return &http.Server{
		Addr:         cfg.Addr,
		Handler:      handler,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  cfg.IdleTimeout,
	}
}
