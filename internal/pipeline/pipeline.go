package pipeline

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/nemanja-m/wineml/internal/dataset"
	"github.com/nemanja-m/wineml/internal/feature"
	"github.com/nemanja-m/wineml/internal/ml"
	"github.com/nemanja-m/wineml/internal/persist"
	"github.com/nemanja-m/wineml/internal/session"
	"github.com/nemanja-m/wineml/internal/shared/config"
	"github.com/nemanja-m/wineml/internal/shared/logging"
	"github.com/nemanja-m/wineml/pkg/core"
)

const (
	schemaPreviewRows    = 5
	assembledPreviewRows = 10
)

// Result summarizes a training run. Fields are filled as far as the run got.
type Result struct {
	RowCount int64
	Model    *ml.LogisticRegressionModel
	Outcome  persist.Outcome
	Role     core.Role
}

// Pipeline runs load, assemble, fit and persist on one session.
type Pipeline struct {
	cfg         *config.TrainerConfig
	logger      logging.Logger
	out         io.Writer
	sessionOpts []session.Option
}

type Option func(*Pipeline)

// WithOutput sets where dataset previews are printed. Defaults to stdout.
func WithOutput(w io.Writer) Option {
	return func(p *Pipeline) {
		p.out = w
	}
}

// WithSessionOptions passes options to the session factory.
func WithSessionOptions(opts ...session.Option) Option {
	return func(p *Pipeline) {
		p.sessionOpts = append(p.sessionOpts, opts...)
	}
}

func New(cfg *config.TrainerConfig, logger logging.Logger, opts ...Option) *Pipeline {
	p := &Pipeline{
		cfg:    cfg,
		logger: logger,
		out:    os.Stdout,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Run executes the pipeline. The session is stopped exactly once on every
// path after it was created. A dataset with no rows ends the run after
// loading: nothing is trained or written and the outcome is Skipped.
func (p *Pipeline) Run(ctx context.Context) (Result, error) {
	p.logger.Info("Starting in Trainer application", "config", p.cfg.Source)

	sess, err := session.NewFactory(p.logger, p.sessionOpts...).Create(ctx, p.cfg)
	if err != nil {
		return Result{}, err
	}
	defer func() {
		p.logger.Info("Closing Spark Session")
		if err := sess.Stop(context.WithoutCancel(ctx)); err != nil {
			p.logger.Warn("Session did not stop cleanly", "error", err)
		}
	}()

	return p.run(ctx, sess)
}

func (p *Pipeline) run(ctx context.Context, sess *session.Session) (Result, error) {
	res := Result{Role: sess.Role()}

	ds, err := p.load(ctx, sess)
	if err != nil {
		return res, err
	}
	res.RowCount = ds.Count()
	if res.RowCount == 0 {
		res.Outcome = persist.Outcome{Status: persist.Skipped, Destination: p.cfg.S3.ModelDestination}
		return res, nil
	}

	assembled, err := p.assemble(ds)
	if err != nil {
		return res, err
	}

	estimator, err := p.estimator()
	if err != nil {
		return res, err
	}
	model, err := estimator.Fit(ctx, assembled, sess.Runner())
	if err != nil {
		return res, fmt.Errorf("failed to train model: %w", err)
	}
	res.Model = model
	p.logSummary(model)

	res.Role = sess.Role()
	if res.Role == core.RoleCoordinator {
		p.logger.Info("This is the driver.")
	} else {
		p.logger.Info("This is a worker.", "role", res.Role.String())
	}

	saver := persist.SaverFunc(func(ctx context.Context, destination string) error {
		return model.Write(sess.Store()).Overwrite().Save(ctx, destination)
	})
	res.Outcome = persist.PersistIfCoordinator(ctx, saver, res.Role, p.cfg.S3.ModelDestination, p.logger)
	p.logger.Info("Model persistence finished", "outcome", res.Outcome.Status.String())

	if res.Outcome.Status == persist.Failed && p.cfg.Persist.FailOnError {
		return res, fmt.Errorf("failed to persist model: %w", res.Outcome.Err)
	}
	return res, nil
}

func (p *Pipeline) load(ctx context.Context, sess *session.Session) (*dataset.Dataset, error) {
	path := p.cfg.S3.TrainingData
	p.logger.Info("Reading Data...", "path", path)

	loader := dataset.NewLoader(sess.Store(), p.logger)
	ds, err := loader.LoadDelimited(ctx, path, dataset.ReadOptions{
		Delimiter:   p.cfg.Data.DelimiterRune(),
		Header:      p.cfg.Data.Header,
		InferSchema: p.cfg.Data.InferSchema,
	})
	if err != nil {
		return nil, err
	}

	count := ds.Count()
	p.logger.Info(fmt.Sprintf("Data Total Row count: %d", count))
	if count == 0 {
		p.logger.Warn("DataFrame is empty. No data to process.")
	} else {
		p.logger.Info(fmt.Sprintf("DataFrame loaded with %d rows.", count))
	}

	fmt.Fprintln(p.out, ds.Schema().TreeString())
	if err := ds.Show(p.out, schemaPreviewRows, true); err != nil {
		p.logger.Warn("Failed to print dataset preview", "error", err)
	}
	return ds, nil
}

func (p *Pipeline) assemble(ds *dataset.Dataset) (*dataset.Dataset, error) {
	training := p.cfg.Training

	inputs := feature.WineQualityColumns()
	if training.ExcludeLabelFromFeatures {
		inputs = feature.Without(inputs, training.LabelCol)
	}
	handleInvalid, err := feature.ParseHandleInvalid(training.HandleInvalid)
	if err != nil {
		return nil, err
	}

	assembler := feature.NewVectorAssembler(inputs, training.FeaturesCol, feature.WithHandleInvalid(handleInvalid))
	assembled, err := assembler.Transform(ds)
	if err != nil {
		return nil, fmt.Errorf("failed to assemble features: %w", err)
	}
	p.logger.Debug("Features assembled", "inputs", len(inputs), "output", training.FeaturesCol)

	if err := assembled.Show(p.out, assembledPreviewRows, true); err != nil {
		p.logger.Warn("Failed to print assembled preview", "error", err)
	}
	return assembled, nil
}

func (p *Pipeline) estimator() (*ml.LogisticRegression, error) {
	training := p.cfg.Training
	family, err := ml.ParseFamily(training.Family)
	if err != nil {
		return nil, &ml.TrainingError{Reason: "invalid parameters", Err: err}
	}
	return ml.NewLogisticRegression(
		ml.WithFeaturesCol(training.FeaturesCol),
		ml.WithLabelCol(training.LabelCol),
		ml.WithMaxIter(training.MaxIter),
		ml.WithRegParam(training.RegParam),
		ml.WithTol(training.Tol),
		ml.WithFitIntercept(training.FitIntercept),
		ml.WithStandardization(training.Standardization),
		ml.WithFamily(family),
		ml.WithLogger(p.logger),
	), nil
}

func (p *Pipeline) logSummary(model *ml.LogisticRegressionModel) {
	args := []any{
		"uid", model.UID(),
		"num_classes", model.NumClasses(),
		"num_features", model.NumFeatures(),
		"multinomial", model.IsMultinomial(),
	}
	if summary := model.Summary(); summary != nil {
		args = append(args,
			"iterations", summary.TotalIterations,
			"status", summary.Status,
			"accuracy", summary.Accuracy,
		)
	}
	p.logger.Info("Model trained", args...)
}
