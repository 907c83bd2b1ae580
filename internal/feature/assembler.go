package feature

import (
	"fmt"
	"math"
	"strings"

	"github.com/nemanja-m/wineml/internal/dataset"
)

// HandleInvalid selects what happens to rows with null or NaN inputs.
type HandleInvalid string

const (
	HandleError HandleInvalid = "error"
	HandleSkip  HandleInvalid = "skip"
	HandleKeep  HandleInvalid = "keep"
)

func ParseHandleInvalid(s string) (HandleInvalid, error) {
	switch h := HandleInvalid(strings.ToLower(strings.TrimSpace(s))); h {
	case "":
		return HandleError, nil
	case HandleError, HandleSkip, HandleKeep:
		return h, nil
	default:
		return "", fmt.Errorf("unknown handle_invalid mode %q", s)
	}
}

// WineQualityColumns returns the fixed, ordered feature inputs of the wine
// quality dataset. The label column is part of the list.
func WineQualityColumns() []string {
	return []string{
		"fixed acidity",
		"volatile acidity",
		"citric acid",
		"residual sugar",
		"chlorides",
		"free sulfur dioxide",
		"total sulfur dioxide",
		"density",
		"pH",
		"sulphates",
		"alcohol",
		"quality",
	}
}

// Without returns cols minus every occurrence of name, preserving order.
func Without(cols []string, name string) []string {
	out := make([]string, 0, len(cols))
	for _, c := range cols {
		if c != name {
			out = append(out, c)
		}
	}
	return out
}

type Option func(*VectorAssembler)

func WithHandleInvalid(h HandleInvalid) Option {
	return func(a *VectorAssembler) {
		a.handleInvalid = h
	}
}

// VectorAssembler concatenates numeric columns into one vector column.
type VectorAssembler struct {
	inputCols     []string
	outputCol     string
	handleInvalid HandleInvalid
}

func NewVectorAssembler(inputCols []string, outputCol string, opts ...Option) *VectorAssembler {
	a := &VectorAssembler{
		inputCols:     append([]string(nil), inputCols...),
		outputCol:     outputCol,
		handleInvalid: HandleError,
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

func (a *VectorAssembler) InputCols() []string {
	return append([]string(nil), a.inputCols...)
}

func (a *VectorAssembler) OutputCol() string {
	return a.outputCol
}

type inputColumn struct {
	name  string
	index int
	typ   dataset.DataType
	size  int
}

// Transform returns a new dataset with the assembled vector appended as the
// last column. The input dataset is left untouched.
func (a *VectorAssembler) Transform(ds *dataset.Dataset) (*dataset.Dataset, error) {
	schema := ds.Schema()
	inputs, err := a.resolve(ds, schema)
	if err != nil {
		return nil, err
	}
	if _, exists := schema.FieldIndex(a.outputCol); exists {
		return nil, &ColumnExistsError{Column: a.outputCol}
	}

	width := 0
	for _, in := range inputs {
		width += in.size
	}

	rows := make([]dataset.Row, 0, ds.Count())
	for i, row := range ds.All() {
		vec, valid, err := a.assemble(inputs, width, i, row)
		if err != nil {
			return nil, err
		}
		if !valid {
			continue
		}
		out := make(dataset.Row, len(row)+1)
		copy(out, row)
		out[len(row)] = vec
		rows = append(rows, out)
	}

	fields := append(schema.Fields, dataset.Field{Name: a.outputCol, Type: dataset.VectorType, Nullable: true})
	return dataset.New(dataset.NewSchema(fields...), rows)
}

func (a *VectorAssembler) resolve(ds *dataset.Dataset, schema dataset.Schema) ([]inputColumn, error) {
	for _, name := range a.inputCols {
		if _, ok := schema.FieldIndex(name); !ok {
			return nil, &MissingColumnError{Column: name}
		}
	}

	inputs := make([]inputColumn, len(a.inputCols))
	for i, name := range a.inputCols {
		idx, _ := schema.FieldIndex(name)
		typ := schema.Fields[idx].Type
		in := inputColumn{name: name, index: idx, typ: typ, size: 1}
		switch typ {
		case dataset.IntegerType, dataset.DoubleType, dataset.BooleanType:
		case dataset.VectorType:
			size, err := vectorSize(ds, idx, name)
			if err != nil {
				return nil, err
			}
			in.size = size
		default:
			return nil, &UnsupportedTypeError{Column: name, Type: typ}
		}
		inputs[i] = in
	}
	return inputs, nil
}

// vectorSize takes the length of the first non-null vector in the column.
func vectorSize(ds *dataset.Dataset, idx int, name string) (int, error) {
	for _, row := range ds.All() {
		if v, ok := row[idx].(dataset.Vector); ok {
			return len(v), nil
		}
	}
	if ds.Count() == 0 {
		return 0, nil
	}
	return 0, fmt.Errorf("cannot determine size of vector column %q: every value is null", name)
}

func (a *VectorAssembler) assemble(inputs []inputColumn, width, rowIndex int, row dataset.Row) (dataset.Vector, bool, error) {
	vec := make(dataset.Vector, 0, width)
	for _, in := range inputs {
		value := row[in.index]
		if in.typ == dataset.VectorType {
			v, ok := value.(dataset.Vector)
			if ok && len(v) == in.size && !hasNaN(v) {
				vec = append(vec, v...)
				continue
			}
			if ok && len(v) != in.size {
				return nil, false, fmt.Errorf("vector column %q has size %d at row %d, expected %d", in.name, len(v), rowIndex, in.size)
			}
			if keep, err := a.invalid(in.name, rowIndex); !keep {
				return nil, false, err
			}
			for range in.size {
				vec = append(vec, math.NaN())
			}
			continue
		}

		x, ok := dataset.ToFloat(value)
		if !ok || math.IsNaN(x) {
			if keep, err := a.invalid(in.name, rowIndex); !keep {
				return nil, false, err
			}
			x = math.NaN()
		}
		vec = append(vec, x)
	}
	return vec, true, nil
}

// invalid reports whether a row with an invalid value is kept.
func (a *VectorAssembler) invalid(column string, rowIndex int) (bool, error) {
	switch a.handleInvalid {
	case HandleKeep:
		return true, nil
	case HandleSkip:
		return false, nil
	default:
		return false, &InvalidValueError{Column: column, Row: rowIndex}
	}
}

func hasNaN(v dataset.Vector) bool {
	for _, x := range v {
		if math.IsNaN(x) {
			return true
		}
	}
	return false
}
