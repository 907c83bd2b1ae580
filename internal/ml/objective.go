package ml

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"math"

	"gonum.org/v1/gonum/floats"

	"github.com/nemanja-m/wineml/pkg/core"
)

var errNonFinite = errors.New("objective is not finite")

// layout describes how optimizer parameters map to coefficients. Coefficients
// are stored class-major, followed by one intercept per class when fitted.
type layout struct {
	numSets      int
	numFeatures  int
	fitIntercept bool
	multinomial  bool
}

func (l layout) size() int {
	n := l.numSets * l.numFeatures
	if l.fitIntercept {
		n += l.numSets
	}
	return n
}

func (l layout) coef(x []float64, k int) []float64 {
	return x[k*l.numFeatures : (k+1)*l.numFeatures]
}

func (l layout) intercept(x []float64, k int) float64 {
	if !l.fitIntercept {
		return 0
	}
	return x[l.numSets*l.numFeatures+k]
}

// partialGradient accumulates the unnormalized loss and gradient over rows.
func partialGradient(data *trainingData, l layout, x []float64, rows []int) (float64, []float64) {
	grad := make([]float64, l.size())
	loss := 0.0
	margins := make([]float64, l.numSets)
	for _, i := range rows {
		features := data.scaled[i]
		label := data.labels[i]

		if !l.multinomial {
			margin := floats.Dot(l.coef(x, 0), features) + l.intercept(x, 0)
			if label > 0 {
				loss += log1pExp(-margin)
			} else {
				loss += log1pExp(margin)
			}
			multiplier := sigmoid(margin) - label
			floats.AddScaled(grad[:l.numFeatures], multiplier, features)
			if l.fitIntercept {
				grad[l.numFeatures] += multiplier
			}
			continue
		}

		for k := range l.numSets {
			margins[k] = floats.Dot(l.coef(x, k), features) + l.intercept(x, k)
		}
		lse := floats.LogSumExp(margins)
		loss += lse - margins[int(label)]
		for k := range l.numSets {
			multiplier := math.Exp(margins[k] - lse)
			if k == int(label) {
				multiplier--
			}
			floats.AddScaled(l.coef(grad, k), multiplier, features)
			if l.fitIntercept {
				grad[l.numSets*l.numFeatures+k] += multiplier
			}
		}
	}
	return loss, grad
}

func log1pExp(x float64) float64 {
	if x > 0 {
		return x + math.Log1p(math.Exp(-x))
	}
	return math.Log1p(math.Exp(x))
}

func sigmoid(x float64) float64 {
	if x >= 0 {
		return 1 / (1 + math.Exp(-x))
	}
	e := math.Exp(x)
	return e / (1 + e)
}

// gradientTask is the partition function shared by drivers and executors.
// Input: fingerprint followed by parameters. Output: row count, loss and
// gradient.
func gradientTask(data *trainingData, l layout) core.PartitionFunc {
	return func(ctx context.Context, partition, numPartitions int, input []byte) ([]byte, error) {
		if len(input) < 8 {
			return nil, fmt.Errorf("malformed gradient task input of %d bytes", len(input))
		}
		if got := binary.LittleEndian.Uint64(input); got != data.fingerprint {
			return nil, fmt.Errorf("training data fingerprint %x does not match driver %x", data.fingerprint, got)
		}
		params, err := decodeFloats(input[8:])
		if err != nil {
			return nil, err
		}
		if len(params) != l.size() {
			return nil, fmt.Errorf("gradient task expects %d parameters, got %d", l.size(), len(params))
		}
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		rows := data.partitionRows(partition, numPartitions)
		loss, grad := partialGradient(data, l, params, rows)
		out := make([]float64, 0, len(grad)+2)
		out = append(out, float64(len(rows)), loss)
		out = append(out, grad...)
		return encodeFloats(out), nil
	}
}

func encodeFloats(values []float64) []byte {
	buf := make([]byte, 0, 8*len(values))
	for _, v := range values {
		buf = binary.LittleEndian.AppendUint64(buf, math.Float64bits(v))
	}
	return buf
}

func decodeFloats(buf []byte) ([]float64, error) {
	if len(buf)%8 != 0 {
		return nil, fmt.Errorf("malformed float payload of %d bytes", len(buf))
	}
	values := make([]float64, len(buf)/8)
	for i := range values {
		values[i] = math.Float64frombits(binary.LittleEndian.Uint64(buf[8*i:]))
	}
	return values, nil
}

// objective evaluates the regularized mean loss through a stage. The last
// evaluation is cached because the optimizer asks for the value and the
// gradient at the same point separately.
type objective struct {
	ctx      context.Context
	stage    core.Stage
	data     *trainingData
	layout   layout
	regParam float64
	// penalty scales each coefficient inside the L2 term.
	penalty []float64

	lastX    []float64
	lastLoss float64
	lastGrad []float64
	err      error
}

func newObjective(ctx context.Context, stage core.Stage, data *trainingData, l layout, params Params) *objective {
	penalty := make([]float64, l.numFeatures)
	for j, std := range data.std {
		switch {
		case params.Standardization:
			penalty[j] = 1
		case std != 0:
			penalty[j] = 1 / (std * std)
		}
	}
	return &objective{
		ctx:      ctx,
		stage:    stage,
		data:     data,
		layout:   l,
		regParam: params.RegParam,
		penalty:  penalty,
	}
}

func (o *objective) evaluate(x []float64) {
	if o.lastX != nil && floats.Equal(o.lastX, x) {
		return
	}
	o.lastX = append(o.lastX[:0], x...)
	o.lastLoss, o.lastGrad = math.NaN(), nil

	if o.err != nil {
		return
	}
	loss, grad, err := o.compute(x)
	if err != nil {
		o.err = err
		return
	}
	o.lastLoss, o.lastGrad = loss, grad
}

func (o *objective) compute(x []float64) (float64, []float64, error) {
	input := binary.LittleEndian.AppendUint64(nil, o.data.fingerprint)
	input = append(input, encodeFloats(x)...)
	outputs, err := o.stage.Run(o.ctx, input, gradientTask(o.data, o.layout))
	if err != nil {
		return 0, nil, err
	}

	var (
		count float64
		loss  float64
		grad  = make([]float64, o.layout.size())
	)
	for partition, out := range outputs {
		values, err := decodeFloats(out)
		if err != nil {
			return 0, nil, fmt.Errorf("partition %d: %w", partition, err)
		}
		if len(values) != len(grad)+2 {
			return 0, nil, fmt.Errorf("partition %d returned %d values, expected %d", partition, len(values), len(grad)+2)
		}
		count += values[0]
		loss += values[1]
		floats.Add(grad, values[2:])
	}
	if count == 0 {
		return 0, nil, errors.New("no rows were aggregated")
	}
	loss /= count
	floats.Scale(1/count, grad)

	if o.regParam != 0 {
		for k := range o.layout.numSets {
			w := o.layout.coef(x, k)
			g := o.layout.coef(grad, k)
			for j := range w {
				loss += 0.5 * o.regParam * o.penalty[j] * w[j] * w[j]
				g[j] += o.regParam * o.penalty[j] * w[j]
			}
		}
	}

	if math.IsNaN(loss) || math.IsInf(loss, 0) || !allFinite(grad) {
		return 0, nil, errNonFinite
	}
	return loss, grad, nil
}

func allFinite(values []float64) bool {
	for _, v := range values {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return false
		}
	}
	return true
}

func (o *objective) Func(x []float64) float64 {
	o.evaluate(x)
	return o.lastLoss
}

func (o *objective) Grad(grad, x []float64) {
	o.evaluate(x)
	if o.lastGrad == nil {
		for i := range grad {
			grad[i] = math.NaN()
		}
		return
	}
	copy(grad, o.lastGrad)
}
