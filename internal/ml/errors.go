package ml

import (
	"errors"
	"fmt"
)

// ErrArtifactExists is returned when saving onto an existing artifact without
// overwrite.
var ErrArtifactExists = errors.New("model artifact already exists")

// TrainingError reports malformed training data or an optimizer failure.
type TrainingError struct {
	Reason string
	Err    error
}

func (e *TrainingError) Error() string {
	if e.Err == nil {
		return "training failed: " + e.Reason
	}
	return fmt.Sprintf("training failed: %s: %v", e.Reason, e.Err)
}

func (e *TrainingError) Unwrap() error {
	return e.Err
}

func trainingErrorf(format string, args ...any) error {
	return &TrainingError{Reason: fmt.Sprintf(format, args...)}
}
