package persist

import (
	"context"
	"fmt"

	"github.com/nemanja-m/wineml/internal/shared/logging"
	"github.com/nemanja-m/wineml/pkg/core"
)

// Status is the result of a persistence attempt.
type Status int

const (
	Skipped Status = iota
	Written
	Failed
)

func (s Status) String() string {
	switch s {
	case Written:
		return "WRITTEN"
	case Failed:
		return "FAILED"
	default:
		return "SKIPPED"
	}
}

// Outcome reports what happened to the artifact. Err is set only when Status
// is Failed.
type Outcome struct {
	Status      Status
	Destination string
	Err         error
}

func (o Outcome) String() string {
	if o.Err != nil {
		return fmt.Sprintf("%s: %v", o.Status, o.Err)
	}
	return o.Status.String()
}

// Saver writes an artifact to a destination.
type Saver interface {
	Save(ctx context.Context, destination string) error
}

// SaverFunc adapts a function to Saver.
type SaverFunc func(ctx context.Context, destination string) error

func (f SaverFunc) Save(ctx context.Context, destination string) error {
	return f(ctx, destination)
}

// PersistIfCoordinator saves exactly once when role is RoleCoordinator and
// never otherwise. Save failures are reported in the outcome, not returned.
func PersistIfCoordinator(ctx context.Context, saver Saver, role core.Role, destination string, logger logging.Logger) Outcome {
	if role != core.RoleCoordinator {
		logger.Info("Skipping model persistence", "role", role.String())
		return Outcome{Status: Skipped, Destination: destination}
	}

	logger.Info("Saving model", "destination", destination)
	if err := saver.Save(ctx, destination); err != nil {
		logger.Error("Failed to save model", "destination", destination, "error", err)
		return Outcome{Status: Failed, Destination: destination, Err: err}
	}
	logger.Info("Model saved", "destination", destination)
	return Outcome{Status: Written, Destination: destination}
}
