package ml

import (
	"context"
	"math"
	"strings"

	"github.com/google/uuid"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/optimize"

	"github.com/nemanja-m/wineml/internal/dataset"
	"github.com/nemanja-m/wineml/internal/shared/logging"
	"github.com/nemanja-m/wineml/pkg/core"
)

const (
	stageName  = "logistic-regression"
	lbfgsStore = 10

	gradientThreshold = 1e-12
)

// LogisticRegression fits logistic models with L-BFGS. Loss and gradient are
// aggregated over the partitions of a core.Runner.
type LogisticRegression struct {
	params Params
	logger logging.Logger
}

func NewLogisticRegression(opts ...Option) *LogisticRegression {
	lr := &LogisticRegression{
		params: DefaultParams(),
		logger: logging.NewNopLogger(),
	}
	for _, opt := range opts {
		opt(lr)
	}
	return lr
}

func (lr *LogisticRegression) Params() Params {
	return lr.params
}

// Fit trains a model on ds. Drivers run the optimization and publish the
// result; executors serve gradient tasks and return the published model.
func (lr *LogisticRegression) Fit(ctx context.Context, ds *dataset.Dataset, runner core.Runner) (*LogisticRegressionModel, error) {
	if err := lr.params.validate(); err != nil {
		return nil, &TrainingError{Reason: "invalid parameters", Err: err}
	}
	data, err := extractTrainingData(ds, lr.params)
	if err != nil {
		return nil, err
	}
	if data.numFeatures == 0 {
		return nil, trainingErrorf("features column %q holds empty vectors", lr.params.FeaturesCol)
	}

	multinomial, err := lr.isMultinomial(data.numClasses)
	if err != nil {
		return nil, err
	}
	l := layout{
		numSets:      1,
		numFeatures:  data.numFeatures,
		fitIntercept: lr.params.FitIntercept,
		multinomial:  multinomial,
	}
	if multinomial {
		l.numSets = data.numClasses
	}

	stage := runner.Stage(stageName)
	logger := lr.logger.With("stage", stage.ID())
	if !runner.IsDriver() {
		return lr.serve(ctx, stage, data, l, logger)
	}

	model, err := lr.train(ctx, stage, data, l, logger)
	if err == nil {
		model.summary.Accuracy, err = model.Accuracy(ds)
	}
	if err != nil {
		if abortErr := stage.Abort(context.WithoutCancel(ctx), err); abortErr != nil {
			logger.Warn("Failed to abort training stage", "error", abortErr)
		}
		return nil, err
	}

	payload, err := encodeModel(model, true)
	if err != nil {
		return nil, &TrainingError{Reason: "failed to encode model", Err: err}
	}
	if err := stage.Finish(context.WithoutCancel(ctx), payload); err != nil {
		logger.Warn("Failed to publish model to executors", "error", err)
	}

	logger.Info("Training finished",
		"iterations", model.summary.TotalIterations,
		"status", model.summary.Status,
		"accuracy", model.summary.Accuracy,
	)
	return model, nil
}

func (lr *LogisticRegression) isMultinomial(numClasses int) (bool, error) {
	switch lr.params.Family {
	case FamilyBinomial:
		if numClasses > 2 {
			return false, trainingErrorf("binomial family supports at most 2 classes, found %d", numClasses)
		}
		return false, nil
	case FamilyMultinomial:
		return true, nil
	default:
		return numClasses > 2, nil
	}
}

func (lr *LogisticRegression) serve(ctx context.Context, stage core.Stage, data *trainingData, l layout, logger logging.Logger) (*LogisticRegressionModel, error) {
	logger.Info("Serving gradient tasks")
	payload, err := stage.Serve(ctx, gradientTask(data, l))
	if err != nil {
		return nil, &TrainingError{Reason: "stage " + stage.ID() + " did not complete", Err: err}
	}
	model, err := decodeModel(payload, lr.params)
	if err != nil {
		return nil, &TrainingError{Reason: "invalid model published by driver", Err: err}
	}
	return model, nil
}

func (lr *LogisticRegression) train(ctx context.Context, stage core.Stage, data *trainingData, l layout, logger logging.Logger) (*LogisticRegressionModel, error) {
	uid := newUID()
	if lr.params.FitIntercept && data.isConstantLabel() {
		logger.Warn("All labels are the same value and fitIntercept=true, so the coefficients will be zeros. Training is not needed.")
		return constantModel(uid, lr.params, data, l), nil
	}
	if !lr.params.FitIntercept && data.isConstantLabel() {
		logger.Warn("All labels are the same value and fitIntercept=false. Training may not converge.")
	}

	x0 := initialParameters(data, l)
	summary := &TrainingSummary{Status: "max iterations reached"}
	x := x0

	if lr.params.MaxIter > 0 {
		obj := newObjective(ctx, stage, data, l, lr.params)
		history := &historyRecorder{}
		problem := optimize.Problem{
			Func: obj.Func,
			Grad: obj.Grad,
			Status: func() (optimize.Status, error) {
				if obj.err != nil {
					return optimize.Failure, obj.err
				}
				return optimize.NotTerminated, nil
			},
		}
		settings := &optimize.Settings{
			MajorIterations:   lr.params.MaxIter,
			GradientThreshold: gradientThreshold,
			Converger: &optimize.FunctionConverge{
				Relative:   lr.params.Tol,
				Iterations: 1,
			},
			Recorder: history,
		}

		result, err := optimize.Minimize(problem, x0, settings, &optimize.LBFGS{Store: lbfgsStore})
		switch {
		case obj.err != nil:
			return nil, &TrainingError{Reason: "objective evaluation failed", Err: obj.err}
		case err != nil && (result == nil || result.MajorIterations == 0):
			return nil, &TrainingError{Reason: "optimizer failed before making progress", Err: err}
		case err != nil:
			logger.Warn("Optimizer stopped early, keeping the best parameters found", "error", err)
		}
		if math.IsNaN(result.F) || math.IsInf(result.F, 0) {
			return nil, &TrainingError{Reason: "objective is not finite", Err: errNonFinite}
		}
		if result.Status == optimize.IterationLimit {
			logger.Warn("LogisticRegression training finished but the result is not converged because: max iterations reached")
		}

		x = result.X
		summary = &TrainingSummary{
			TotalIterations:  result.MajorIterations,
			ObjectiveHistory: history.values,
			Status:           result.Status.String(),
			Converged:        err == nil && result.Status != optimize.IterationLimit,
		}
	}

	model := modelFromParameters(uid, lr.params, data, l, x)
	model.summary = summary
	return model, nil
}

func newUID() string {
	return "logreg_" + strings.ReplaceAll(uuid.NewString(), "-", "")[:12]
}

// initialParameters starts intercepts at the log odds of the class counts.
func initialParameters(data *trainingData, l layout) []float64 {
	x := make([]float64, l.size())
	if !l.fitIntercept {
		return x
	}
	offset := l.numSets * l.numFeatures
	if !l.multinomial {
		if len(data.counts) == 2 && data.counts[0] > 0 && data.counts[1] > 0 {
			x[offset] = math.Log(data.counts[1] / data.counts[0])
		}
		return x
	}

	mean := 0.0
	for k := range l.numSets {
		x[offset+k] = math.Log1p(data.counts[k])
		mean += x[offset+k] / float64(l.numSets)
	}
	for k := range l.numSets {
		x[offset+k] -= mean
	}
	return x
}

// modelFromParameters maps optimizer parameters back to the unscaled feature
// space.
func modelFromParameters(uid string, params Params, data *trainingData, l layout, x []float64) *LogisticRegressionModel {
	coefficients := mat.NewDense(l.numSets, l.numFeatures, nil)
	intercepts := make([]float64, l.numSets)
	for k := range l.numSets {
		w := l.coef(x, k)
		for j, std := range data.std {
			if std != 0 {
				coefficients.Set(k, j, w[j]/std)
			}
		}
		intercepts[k] = l.intercept(x, k)
	}

	if l.multinomial && params.RegParam == 0 {
		for j := range l.numFeatures {
			col := mat.Col(nil, j, coefficients)
			mean := 0.0
			for _, v := range col {
				mean += v / float64(l.numSets)
			}
			for k := range l.numSets {
				coefficients.Set(k, j, col[k]-mean)
			}
		}
	}
	if l.multinomial && l.fitIntercept {
		mean := 0.0
		for _, v := range intercepts {
			mean += v / float64(l.numSets)
		}
		for k := range intercepts {
			intercepts[k] -= mean
		}
	}
	return newModel(uid, params, data.numClasses, l.multinomial, coefficients, intercepts)
}

// constantModel predicts the single observed label with certainty.
func constantModel(uid string, params Params, data *trainingData, l layout) *LogisticRegressionModel {
	coefficients := mat.NewDense(l.numSets, l.numFeatures, nil)
	intercepts := make([]float64, l.numSets)
	switch {
	case l.multinomial:
		for k, c := range data.counts {
			if c > 0 {
				intercepts[k] = math.Inf(1)
			}
		}
	case data.numClasses == 2:
		intercepts[0] = math.Inf(1)
	default:
		intercepts[0] = math.Inf(-1)
	}
	model := newModel(uid, params, data.numClasses, l.multinomial, coefficients, intercepts)
	model.summary = &TrainingSummary{Status: "constant label", Converged: true}
	return model
}

type historyRecorder struct {
	values []float64
}

func (h *historyRecorder) Init() error {
	h.values = h.values[:0]
	return nil
}

func (h *historyRecorder) Record(loc *optimize.Location, op optimize.Operation, _ *optimize.Stats) error {
	if op == optimize.InitIteration || op == optimize.MajorIteration {
		h.values = append(h.values, loc.F)
	}
	return nil
}
