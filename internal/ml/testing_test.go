package ml

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/nemanja-m/wineml/internal/dataset"
	"github.com/nemanja-m/wineml/pkg/core"
	"github.com/nemanja-m/wineml/pkg/local"
)

// recordingRunner runs stages in-process and keeps what the driver publishes.
type recordingRunner struct {
	driver  bool
	runErr  error
	serve   []byte
	stages  []*recordingStage
	seq     core.StageSequence
	numPart int
}

func (r *recordingRunner) IsDriver() bool {
	return r.driver
}

func (r *recordingRunner) NumPartitions() int {
	return r.numPart
}

func (r *recordingRunner) Stage(name string) core.Stage {
	s := &recordingStage{id: r.seq.Next(name), runner: r}
	r.stages = append(r.stages, s)
	return s
}

type recordingStage struct {
	id       string
	runner   *recordingRunner
	rounds   int
	finished []byte
	aborted  error
}

func (s *recordingStage) ID() string {
	return s.id
}

func (s *recordingStage) Run(ctx context.Context, input []byte, fn core.PartitionFunc) ([][]byte, error) {
	s.rounds++
	if s.runner.runErr != nil {
		return nil, s.runner.runErr
	}
	return local.RunPartitions(ctx, s.runner.numPart, 2, input, fn)
}

func (s *recordingStage) Finish(ctx context.Context, result []byte) error {
	s.finished = result
	return nil
}

func (s *recordingStage) Abort(ctx context.Context, cause error) error {
	s.aborted = cause
	return nil
}

func (s *recordingStage) Serve(ctx context.Context, fn core.PartitionFunc) ([]byte, error) {
	return s.runner.serve, nil
}

func labeledDataset(t *testing.T, labels []float64, features [][]float64) *dataset.Dataset {
	t.Helper()
	schema := dataset.NewSchema(
		dataset.Field{Name: "label", Type: dataset.DoubleType, Nullable: true},
		dataset.Field{Name: "features", Type: dataset.VectorType, Nullable: true},
	)
	rows := make([]dataset.Row, len(labels))
	for i := range labels {
		rows[i] = dataset.Row{labels[i], dataset.Vector(features[i])}
	}
	ds, err := dataset.New(schema, rows)
	require.NoError(t, err)
	return ds
}

func overlappingBinary(t *testing.T) *dataset.Dataset {
	return labeledDataset(t,
		[]float64{0, 0, 1, 0, 1, 1},
		[][]float64{{-2, 1}, {-1, 1}, {-0.5, 1}, {0.5, 1}, {1, 1}, {2, 1}},
	)
}

func wineDataset(t *testing.T) *dataset.Dataset {
	t.Helper()
	return labeledDataset(t,
		[]float64{5, 6, 7},
		[][]float64{
			{7.4, 0.7, 0, 1.9, 0.076, 11, 34, 0.9978, 3.51, 0.56, 9.4, 5},
			{7.8, 0.88, 0, 2.6, 0.098, 25, 67, 0.9968, 3.2, 0.68, 9.8, 6},
			{11.2, 0.28, 0.56, 1.9, 0.075, 17, 60, 0.998, 3.16, 0.58, 9.8, 7},
		},
	)
}
