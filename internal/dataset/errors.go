package dataset

import "fmt"

// SourceNotFoundError is returned when a read location matches no objects.
type SourceNotFoundError struct {
	Path string
}

func (e *SourceNotFoundError) Error() string {
	return fmt.Sprintf("path does not exist: %s", e.Path)
}

// SchemaInferenceError is returned when the records of a source cannot be
// reconciled into a single schema.
type SchemaInferenceError struct {
	Path   string
	Line   int
	Reason string
	Err    error
}

func (e *SchemaInferenceError) Error() string {
	msg := fmt.Sprintf("schema inference failed for %s", e.Path)
	if e.Line > 0 {
		msg += fmt.Sprintf(" at line %d", e.Line)
	}
	if e.Reason != "" {
		msg += ": " + e.Reason
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *SchemaInferenceError) Unwrap() error {
	return e.Err
}
