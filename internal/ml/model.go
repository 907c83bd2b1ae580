package ml

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"

	"github.com/nemanja-m/wineml/internal/dataset"
)

// TrainingSummary describes how a model was fitted.
type TrainingSummary struct {
	TotalIterations  int       `json:"totalIterations"`
	ObjectiveHistory []float64 `json:"objectiveHistory"`
	Status           string    `json:"status"`
	Converged        bool      `json:"converged"`
	Accuracy         float64   `json:"accuracy"`
}

// LogisticRegressionModel is a fitted binomial or multinomial model.
// Coefficients apply to unscaled features.
type LogisticRegressionModel struct {
	uid          string
	params       Params
	numClasses   int
	numFeatures  int
	multinomial  bool
	coefficients *mat.Dense
	intercepts   []float64
	summary      *TrainingSummary
}

func newModel(uid string, params Params, numClasses int, multinomial bool, coefficients *mat.Dense, intercepts []float64) *LogisticRegressionModel {
	_, numFeatures := coefficients.Dims()
	if !multinomial {
		numClasses = 2
	}
	return &LogisticRegressionModel{
		uid:          uid,
		params:       params,
		numClasses:   numClasses,
		numFeatures:  numFeatures,
		multinomial:  multinomial,
		coefficients: coefficients,
		intercepts:   intercepts,
	}
}

func (m *LogisticRegressionModel) UID() string {
	return m.uid
}

func (m *LogisticRegressionModel) Params() Params {
	return m.params
}

func (m *LogisticRegressionModel) NumClasses() int {
	return m.numClasses
}

func (m *LogisticRegressionModel) NumFeatures() int {
	return m.numFeatures
}

func (m *LogisticRegressionModel) IsMultinomial() bool {
	return m.multinomial
}

// CoefficientMatrix returns a copy of the K×d coefficients. Binomial models
// have a single row.
func (m *LogisticRegressionModel) CoefficientMatrix() *mat.Dense {
	return mat.DenseCopyOf(m.coefficients)
}

func (m *LogisticRegressionModel) InterceptVector() []float64 {
	return append([]float64(nil), m.intercepts...)
}

// Summary is nil for models loaded from storage.
func (m *LogisticRegressionModel) Summary() *TrainingSummary {
	return m.summary
}

func (m *LogisticRegressionModel) margins(features []float64) ([]float64, error) {
	if len(features) != m.numFeatures {
		return nil, fmt.Errorf("model expects %d features, got %d", m.numFeatures, len(features))
	}
	rows, _ := m.coefficients.Dims()
	out := make([]float64, rows)
	for k := range rows {
		out[k] = floats.Dot(m.coefficients.RawRowView(k), features) + m.intercepts[k]
	}
	return out, nil
}

// PredictProbability returns one probability per class.
func (m *LogisticRegressionModel) PredictProbability(features []float64) ([]float64, error) {
	margins, err := m.margins(features)
	if err != nil {
		return nil, err
	}
	if !m.multinomial {
		p := sigmoid(margins[0])
		return []float64{1 - p, p}, nil
	}

	probs := make([]float64, len(margins))
	if idx := floats.MaxIdx(margins); math.IsInf(margins[idx], 1) {
		probs[idx] = 1
		return probs, nil
	}
	lse := floats.LogSumExp(margins)
	for k, margin := range margins {
		probs[k] = math.Exp(margin - lse)
	}
	return probs, nil
}

// Predict returns the most likely class.
func (m *LogisticRegressionModel) Predict(features []float64) (float64, error) {
	margins, err := m.margins(features)
	if err != nil {
		return 0, err
	}
	if !m.multinomial {
		if sigmoid(margins[0]) > 0.5 {
			return 1, nil
		}
		return 0, nil
	}
	return float64(floats.MaxIdx(margins)), nil
}

// Transform returns ds with probability and prediction columns appended.
func (m *LogisticRegressionModel) Transform(ds *dataset.Dataset) (*dataset.Dataset, error) {
	schema := ds.Schema()
	featuresIdx, ok := schema.FieldIndex(m.params.FeaturesCol)
	if !ok {
		return nil, fmt.Errorf("features column %q does not exist", m.params.FeaturesCol)
	}
	for _, col := range []string{m.params.ProbabilityCol, m.params.PredictionCol} {
		if _, exists := schema.FieldIndex(col); exists {
			return nil, fmt.Errorf("output column %q already exists", col)
		}
	}

	rows := make([]dataset.Row, 0, ds.Count())
	for i, row := range ds.All() {
		out := make(dataset.Row, len(row)+2)
		copy(out, row)
		if features, ok := row[featuresIdx].(dataset.Vector); ok {
			probs, err := m.PredictProbability(features)
			if err != nil {
				return nil, fmt.Errorf("row %d: %w", i, err)
			}
			prediction, _ := m.Predict(features)
			out[len(row)] = dataset.Vector(probs)
			out[len(row)+1] = prediction
		}
		rows = append(rows, out)
	}

	fields := append(schema.Fields,
		dataset.Field{Name: m.params.ProbabilityCol, Type: dataset.VectorType, Nullable: true},
		dataset.Field{Name: m.params.PredictionCol, Type: dataset.DoubleType, Nullable: true},
	)
	return dataset.New(dataset.NewSchema(fields...), rows)
}

// Accuracy is the fraction of rows whose prediction equals the label.
func (m *LogisticRegressionModel) Accuracy(ds *dataset.Dataset) (float64, error) {
	schema := ds.Schema()
	featuresIdx, ok := schema.FieldIndex(m.params.FeaturesCol)
	if !ok {
		return 0, fmt.Errorf("features column %q does not exist", m.params.FeaturesCol)
	}
	labelIdx, ok := schema.FieldIndex(m.params.LabelCol)
	if !ok {
		return 0, fmt.Errorf("label column %q does not exist", m.params.LabelCol)
	}

	var total, correct float64
	for _, row := range ds.All() {
		features, ok := row[featuresIdx].(dataset.Vector)
		if !ok {
			continue
		}
		label, ok := dataset.ToFloat(row[labelIdx])
		if !ok {
			continue
		}
		prediction, err := m.Predict(features)
		if err != nil {
			return 0, err
		}
		total++
		if prediction == label {
			correct++
		}
	}
	if total == 0 {
		return 0, nil
	}
	return correct / total, nil
}
