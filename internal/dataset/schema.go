package dataset

import (
	"fmt"
	"strings"
)

// DataType is the type of a column.
type DataType int

const (
	StringType DataType = iota
	IntegerType
	DoubleType
	BooleanType
	VectorType
)

func (t DataType) String() string {
	switch t {
	case IntegerType:
		return "integer"
	case DoubleType:
		return "double"
	case BooleanType:
		return "boolean"
	case VectorType:
		return "vector"
	default:
		return "string"
	}
}

// IsNumeric reports whether values of this type convert to float64.
func (t DataType) IsNumeric() bool {
	return t == IntegerType || t == DoubleType
}

// Vector is a dense numeric vector value.
type Vector []float64

func (v Vector) String() string {
	parts := make([]string, len(v))
	for i, x := range v {
		parts[i] = formatDouble(x)
	}
	return "[" + strings.Join(parts, ",") + "]"
}

// Field describes one column.
type Field struct {
	Name     string
	Type     DataType
	Nullable bool
}

// Schema is an ordered list of fields.
type Schema struct {
	Fields []Field
}

func NewSchema(fields ...Field) Schema {
	return Schema{Fields: append([]Field(nil), fields...)}
}

func (s Schema) Len() int {
	return len(s.Fields)
}

// FieldIndex returns the position of the named column. Names are matched
// exactly, including case and spacing.
func (s Schema) FieldIndex(name string) (int, bool) {
	for i, f := range s.Fields {
		if f.Name == name {
			return i, true
		}
	}
	return -1, false
}

func (s Schema) Field(name string) (Field, bool) {
	i, ok := s.FieldIndex(name)
	if !ok {
		return Field{}, false
	}
	return s.Fields[i], true
}

func (s Schema) Names() []string {
	names := make([]string, len(s.Fields))
	for i, f := range s.Fields {
		names[i] = f.Name
	}
	return names
}

// TreeString renders the schema the way printSchema does.
func (s Schema) TreeString() string {
	var b strings.Builder
	b.WriteString("root\n")
	for _, f := range s.Fields {
		fmt.Fprintf(&b, " |-- %s: %s (nullable = %t)\n", f.Name, f.Type, f.Nullable)
	}
	return b.String()
}
