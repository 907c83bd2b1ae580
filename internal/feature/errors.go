package feature

import (
	"fmt"

	"github.com/nemanja-m/wineml/internal/dataset"
)

// MissingColumnError names the first requested input column that the dataset
// does not have.
type MissingColumnError struct {
	Column string
}

func (e *MissingColumnError) Error() string {
	return fmt.Sprintf("input column %q does not exist", e.Column)
}

// UnsupportedTypeError is returned for input columns that cannot be converted
// to numbers.
type UnsupportedTypeError struct {
	Column string
	Type   dataset.DataType
}

func (e *UnsupportedTypeError) Error() string {
	return fmt.Sprintf("input column %q has unsupported type %s", e.Column, e.Type)
}

// InvalidValueError is returned for null or NaN inputs when invalid rows are
// not tolerated.
type InvalidValueError struct {
	Column string
	Row    int
}

func (e *InvalidValueError) Error() string {
	return fmt.Sprintf("invalid value in column %q at row %d; set handle_invalid to skip or keep", e.Column, e.Row)
}

// ColumnExistsError is returned when the output column is already present.
type ColumnExistsError struct {
	Column string
}

func (e *ColumnExistsError) Error() string {
	return fmt.Sprintf("output column %q already exists", e.Column)
}
