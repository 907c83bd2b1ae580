package ml

import (
	"fmt"
	"strings"

	"github.com/nemanja-m/wineml/internal/shared/logging"
)

// Family selects the label distribution.
type Family string

const (
	FamilyAuto        Family = "auto"
	FamilyBinomial    Family = "binomial"
	FamilyMultinomial Family = "multinomial"
)

func ParseFamily(s string) (Family, error) {
	switch f := Family(strings.ToLower(strings.TrimSpace(s))); f {
	case "":
		return FamilyAuto, nil
	case FamilyAuto, FamilyBinomial, FamilyMultinomial:
		return f, nil
	default:
		return "", fmt.Errorf("unsupported family %q", s)
	}
}

// Params are the estimator settings, also carried by fitted models.
type Params struct {
	FeaturesCol     string  `json:"featuresCol"`
	LabelCol        string  `json:"labelCol"`
	PredictionCol   string  `json:"predictionCol"`
	ProbabilityCol  string  `json:"probabilityCol"`
	MaxIter         int     `json:"maxIter"`
	RegParam        float64 `json:"regParam"`
	Tol             float64 `json:"tol"`
	FitIntercept    bool    `json:"fitIntercept"`
	Standardization bool    `json:"standardization"`
	Family          Family  `json:"family"`
}

func DefaultParams() Params {
	return Params{
		FeaturesCol:     "features",
		LabelCol:        "label",
		PredictionCol:   "prediction",
		ProbabilityCol:  "probability",
		MaxIter:         100,
		RegParam:        0,
		Tol:             1e-6,
		FitIntercept:    true,
		Standardization: true,
		Family:          FamilyAuto,
	}
}

func (p Params) validate() error {
	switch {
	case p.MaxIter < 0:
		return fmt.Errorf("maxIter must be non-negative, got %d", p.MaxIter)
	case p.RegParam < 0:
		return fmt.Errorf("regParam must be non-negative, got %g", p.RegParam)
	case p.Tol < 0:
		return fmt.Errorf("tol must be non-negative, got %g", p.Tol)
	case p.FeaturesCol == "" || p.LabelCol == "":
		return fmt.Errorf("features and label columns must be set")
	}
	_, err := ParseFamily(string(p.Family))
	return err
}

type Option func(*LogisticRegression)

func WithFeaturesCol(col string) Option {
	return func(lr *LogisticRegression) { lr.params.FeaturesCol = col }
}

func WithLabelCol(col string) Option {
	return func(lr *LogisticRegression) { lr.params.LabelCol = col }
}

func WithPredictionCol(col string) Option {
	return func(lr *LogisticRegression) { lr.params.PredictionCol = col }
}

func WithMaxIter(n int) Option {
	return func(lr *LogisticRegression) { lr.params.MaxIter = n }
}

func WithRegParam(reg float64) Option {
	return func(lr *LogisticRegression) { lr.params.RegParam = reg }
}

func WithTol(tol float64) Option {
	return func(lr *LogisticRegression) { lr.params.Tol = tol }
}

func WithFitIntercept(fit bool) Option {
	return func(lr *LogisticRegression) { lr.params.FitIntercept = fit }
}

func WithStandardization(standardize bool) Option {
	return func(lr *LogisticRegression) { lr.params.Standardization = standardize }
}

func WithFamily(family Family) Option {
	return func(lr *LogisticRegression) { lr.params.Family = family }
}

func WithLogger(logger logging.Logger) Option {
	return func(lr *LogisticRegression) { lr.logger = logger }
}
