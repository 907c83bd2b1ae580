package ml

import (
	"fmt"

	"gonum.org/v1/gonum/mat"
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/structpb"
)

func numberList(values []float64) *structpb.Value {
	list := &structpb.ListValue{Values: make([]*structpb.Value, len(values))}
	for i, v := range values {
		list.Values[i] = structpb.NewNumberValue(v)
	}
	return structpb.NewListValue(list)
}

func numbers(v *structpb.Value) ([]float64, error) {
	list := v.GetListValue()
	if list == nil {
		return nil, fmt.Errorf("expected a list of numbers")
	}
	out := make([]float64, len(list.GetValues()))
	for i, item := range list.GetValues() {
		n, ok := item.GetKind().(*structpb.Value_NumberValue)
		if !ok {
			return nil, fmt.Errorf("element %d is not a number", i)
		}
		out[i] = n.NumberValue
	}
	return out, nil
}

// modelStruct lays out the fitted state. The coefficient matrix is stored
// row-major.
func modelStruct(m *LogisticRegressionModel, withSummary bool) *structpb.Struct {
	rows, cols := m.coefficients.Dims()
	values := make([]float64, 0, rows*cols)
	for k := range rows {
		values = append(values, m.coefficients.RawRowView(k)...)
	}

	fields := map[string]*structpb.Value{
		"uid":             structpb.NewStringValue(m.uid),
		"numClasses":      structpb.NewNumberValue(float64(m.numClasses)),
		"numFeatures":     structpb.NewNumberValue(float64(m.numFeatures)),
		"isMultinomial":   structpb.NewBoolValue(m.multinomial),
		"interceptVector": numberList(m.intercepts),
		"coefficientMatrix": structpb.NewStructValue(&structpb.Struct{Fields: map[string]*structpb.Value{
			"numRows": structpb.NewNumberValue(float64(rows)),
			"numCols": structpb.NewNumberValue(float64(cols)),
			"values":  numberList(values),
		}}),
	}
	if withSummary && m.summary != nil {
		fields["summary"] = structpb.NewStructValue(&structpb.Struct{Fields: map[string]*structpb.Value{
			"totalIterations":  structpb.NewNumberValue(float64(m.summary.TotalIterations)),
			"objectiveHistory": numberList(m.summary.ObjectiveHistory),
			"status":           structpb.NewStringValue(m.summary.Status),
			"converged":        structpb.NewBoolValue(m.summary.Converged),
			"accuracy":         structpb.NewNumberValue(m.summary.Accuracy),
		}})
	}
	return &structpb.Struct{Fields: fields}
}

func encodeModel(m *LogisticRegressionModel, withSummary bool) ([]byte, error) {
	return proto.MarshalOptions{Deterministic: true}.Marshal(modelStruct(m, withSummary))
}

func decodeModel(payload []byte, params Params) (*LogisticRegressionModel, error) {
	var s structpb.Struct
	if err := proto.Unmarshal(payload, &s); err != nil {
		return nil, fmt.Errorf("failed to decode model: %w", err)
	}
	return modelFromStruct(&s, params)
}

func modelFromStruct(s *structpb.Struct, params Params) (*LogisticRegressionModel, error) {
	fields := s.GetFields()
	matrix := fields["coefficientMatrix"].GetStructValue().GetFields()
	if matrix == nil {
		return nil, fmt.Errorf("model data has no coefficient matrix")
	}
	rows := int(matrix["numRows"].GetNumberValue())
	cols := int(matrix["numCols"].GetNumberValue())
	values, err := numbers(matrix["values"])
	if err != nil {
		return nil, fmt.Errorf("coefficient matrix: %w", err)
	}
	if rows <= 0 || cols <= 0 || len(values) != rows*cols {
		return nil, fmt.Errorf("coefficient matrix has %d values for %dx%d", len(values), rows, cols)
	}
	intercepts, err := numbers(fields["interceptVector"])
	if err != nil {
		return nil, fmt.Errorf("intercept vector: %w", err)
	}
	if len(intercepts) != rows {
		return nil, fmt.Errorf("intercept vector has %d values, expected %d", len(intercepts), rows)
	}

	m := newModel(
		fields["uid"].GetStringValue(),
		params,
		int(fields["numClasses"].GetNumberValue()),
		fields["isMultinomial"].GetBoolValue(),
		mat.NewDense(rows, cols, values),
		intercepts,
	)

	if summary := fields["summary"].GetStructValue().GetFields(); summary != nil {
		history, err := numbers(summary["objectiveHistory"])
		if err != nil {
			return nil, fmt.Errorf("objective history: %w", err)
		}
		m.summary = &TrainingSummary{
			TotalIterations:  int(summary["totalIterations"].GetNumberValue()),
			ObjectiveHistory: history,
			Status:           summary["status"].GetStringValue(),
			Converged:        summary["converged"].GetBoolValue(),
			Accuracy:         summary["accuracy"].GetNumberValue(),
		}
	}
	return m, nil
}
