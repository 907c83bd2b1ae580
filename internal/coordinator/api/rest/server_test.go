package rest

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/nemanja-m/wineml/internal/coordinator/core"
	"github.com/nemanja-m/wineml/internal/coordinator/service"
	"github.com/nemanja-m/wineml/internal/coordinator/storage"
	"github.com/nemanja-m/wineml/internal/shared/config"
)

func echoPartition(ctx context.Context, partition, numPartitions int, input []byte) ([]byte, error) {
	return input, nil
}

func newTestHandler(t *testing.T) (http.Handler, core.WorkerService, core.StageService) {
	t.Helper()
	logger := newMockLogger()
	workers := service.NewWorkerService(storage.NewInMemoryWorkerStore(), logger)
	stages := service.NewStageService(service.StageServiceConfig{DriverSlots: 2}, logger)
	server := NewServer(config.UIConfig{Addr: ":0"}, workers, stages, logger)
	return server.Handler, workers, stages
}

func getJSON(t *testing.T, handler http.Handler, path string, out any) int {
	t.Helper()
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, httptest.NewRequest(http.MethodGet, path, nil))
	if out != nil {
		require.NoError(t, json.NewDecoder(w.Body).Decode(out))
	}
	return w.Code
}

func TestHealth(t *testing.T) {
	handler, workers, _ := newTestHandler(t)
	require.NoError(t, workers.RegisterWorker(&core.Worker{ID: uuid.New(), Address: "a:1"}))

	var resp HealthResponse
	require.Equal(t, http.StatusOK, getJSON(t, handler, "/health", &resp))
	require.Equal(t, HealthResponse{Status: "UP", Workers: 1, Stages: 0}, resp)
}

func TestListWorkers(t *testing.T) {
	handler, workers, _ := newTestHandler(t)
	id := uuid.New()
	require.NoError(t, workers.RegisterWorker(&core.Worker{ID: id, Address: "10.0.0.3:7078", Slots: 2}))

	var resp ListWorkersResponse
	require.Equal(t, http.StatusOK, getJSON(t, handler, "/api/workers", &resp))
	require.Equal(t, 1, resp.Total)
	require.Equal(t, id.String(), resp.Workers[0].WorkerID)
	require.Equal(t, "ACTIVE", resp.Workers[0].Status)
	require.Equal(t, 2, resp.Workers[0].Slots)
}

func TestListWorkersReturnsEmptyArray(t *testing.T) {
	handler, _, _ := newTestHandler(t)

	w := httptest.NewRecorder()
	handler.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/workers", nil))
	require.JSONEq(t, `{"workers":[],"total":0}`, w.Body.String())
}

func TestListStages(t *testing.T) {
	handler, _, stages := newTestHandler(t)

	_, err := stages.RunRound(context.Background(), "logistic-regression-0", 3, []byte("x"), echoPartition)
	require.NoError(t, err)
	require.NoError(t, stages.FinishStage("logistic-regression-0", nil))
	time.Sleep(time.Millisecond)
	require.NoError(t, stages.AbortStage("logistic-regression-1", errors.New("dataset is empty")))

	var resp ListStagesResponse
	require.Equal(t, http.StatusOK, getJSON(t, handler, "/api/stages", &resp))
	require.Equal(t, 2, resp.Total)

	finished := resp.Stages[0]
	require.Equal(t, "logistic-regression-0", finished.StageID)
	require.Equal(t, "FINISHED", finished.State)
	require.Equal(t, 1, finished.Rounds)
	require.Equal(t, TaskProgress{Total: 3, Completed: 3}, finished.Progress)
	require.NotNil(t, finished.EndedAt)

	var filtered ListStagesResponse
	require.Equal(t, http.StatusOK, getJSON(t, handler, "/api/stages?state=aborted", &filtered))
	require.Equal(t, 1, filtered.Total)
	require.Equal(t, "dataset is empty", filtered.Stages[0].Error)
}

func TestGetStage(t *testing.T) {
	handler, _, stages := newTestHandler(t)
	require.NoError(t, stages.FinishStage("logistic-regression-0", []byte("m")))

	var info StageInfo
	require.Equal(t, http.StatusOK, getJSON(t, handler, "/api/stages/logistic-regression-0", &info))
	require.Equal(t, "FINISHED", info.State)

	var errResp ErrorResponse
	require.Equal(t, http.StatusNotFound, getJSON(t, handler, "/api/stages/missing-0", &errResp))
	require.Equal(t, "stage not found", errResp.Error)
	require.Equal(t, http.StatusNotFound, errResp.Code)
}

func TestMethodNotAllowed(t *testing.T) {
	handler, _, _ := newTestHandler(t)

	w := httptest.NewRecorder()
	handler.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/api/stages", nil))
	require.Equal(t, http.StatusMethodNotAllowed, w.Code)
}
