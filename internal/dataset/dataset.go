package dataset

import (
	"fmt"
	"iter"
)

// Row holds one value per schema field. Values are nil, int64, float64, bool,
// string or Vector.
type Row []any

// Dataset is an immutable table. Transformations return new datasets and never
// modify the rows of their input.
type Dataset struct {
	schema Schema
	rows   []Row
}

// New builds a dataset, checking that every row matches the schema width.
func New(schema Schema, rows []Row) (*Dataset, error) {
	for i, row := range rows {
		if len(row) != schema.Len() {
			return nil, fmt.Errorf("row %d has %d values, schema has %d fields", i, len(row), schema.Len())
		}
	}
	return &Dataset{schema: NewSchema(schema.Fields...), rows: rows}, nil
}

// Schema returns a copy of the dataset schema.
func (d *Dataset) Schema() Schema {
	return NewSchema(d.schema.Fields...)
}

func (d *Dataset) Count() int64 {
	return int64(len(d.rows))
}

// Row returns the i-th row. The returned row must not be modified.
func (d *Dataset) Row(i int) Row {
	return d.rows[i]
}

// All iterates over rows in order. Yielded rows must not be modified.
func (d *Dataset) All() iter.Seq2[int, Row] {
	return func(yield func(int, Row) bool) {
		for i, row := range d.rows {
			if !yield(i, row) {
				return
			}
		}
	}
}

// Head returns up to n leading rows.
func (d *Dataset) Head(n int) []Row {
	n = max(0, min(n, len(d.rows)))
	return d.rows[:n]
}

// Column returns every value of the named column.
func (d *Dataset) Column(name string) ([]any, error) {
	idx, ok := d.schema.FieldIndex(name)
	if !ok {
		return nil, fmt.Errorf("column %q does not exist", name)
	}
	out := make([]any, len(d.rows))
	for i, row := range d.rows {
		out[i] = row[idx]
	}
	return out, nil
}

// ToFloat converts a numeric or boolean value to float64.
func ToFloat(v any) (float64, bool) {
	switch x := v.(type) {
	case float64:
		return x, true
	case int64:
		return float64(x), true
	case bool:
		if x {
			return 1, true
		}
		return 0, true
	default:
		return 0, false
	}
}
