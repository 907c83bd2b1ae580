package ml

import (
	"encoding/binary"
	"hash/fnv"
	"math"
	"sync"

	"github.com/nemanja-m/wineml/internal/dataset"
	"github.com/nemanja-m/wineml/pkg/core"
)

// maxNumClasses bounds the number of classes inferred from the label column.
const maxNumClasses = 1000

// trainingData is the validated, standardized copy of a dataset that every
// partition function reads from.
type trainingData struct {
	labels      []float64
	scaled      [][]float64
	numFeatures int
	numClasses  int
	counts      []float64
	std         []float64
	fingerprint uint64

	mu     sync.Mutex
	groups map[int][][]int
}

func extractTrainingData(ds *dataset.Dataset, params Params) (*trainingData, error) {
	schema := ds.Schema()
	labelField, ok := schema.Field(params.LabelCol)
	if !ok {
		return nil, trainingErrorf("label column %q does not exist", params.LabelCol)
	}
	if !labelField.Type.IsNumeric() && labelField.Type != dataset.BooleanType {
		return nil, trainingErrorf("label column %q must be numeric, got %s", params.LabelCol, labelField.Type)
	}
	featuresField, ok := schema.Field(params.FeaturesCol)
	if !ok {
		return nil, trainingErrorf("features column %q does not exist", params.FeaturesCol)
	}
	if featuresField.Type != dataset.VectorType {
		return nil, trainingErrorf("features column %q must be a vector, got %s", params.FeaturesCol, featuresField.Type)
	}
	if ds.Count() == 0 {
		return nil, trainingErrorf("dataset is empty")
	}

	labelIdx, _ := schema.FieldIndex(params.LabelCol)
	featuresIdx, _ := schema.FieldIndex(params.FeaturesCol)

	n := int(ds.Count())
	data := &trainingData{
		labels:      make([]float64, n),
		scaled:      make([][]float64, n),
		numFeatures: -1,
		groups:      make(map[int][][]int),
	}
	raw := make([][]float64, n)
	maxLabel := 0.0
	for i, row := range ds.All() {
		label, ok := dataset.ToFloat(row[labelIdx])
		if !ok {
			return nil, trainingErrorf("label at row %d is null", i)
		}
		if math.IsNaN(label) || math.IsInf(label, 0) || label < 0 || label != math.Trunc(label) {
			return nil, trainingErrorf("labels must be non-negative integers, found %v at row %d", label, i)
		}
		if label >= maxNumClasses {
			return nil, trainingErrorf("label %v at row %d exceeds the limit of %d classes", label, i, maxNumClasses)
		}
		vec, ok := row[featuresIdx].(dataset.Vector)
		if !ok {
			return nil, trainingErrorf("features at row %d are null", i)
		}
		if data.numFeatures < 0 {
			data.numFeatures = len(vec)
		}
		if len(vec) != data.numFeatures {
			return nil, trainingErrorf("features at row %d have size %d, expected %d", i, len(vec), data.numFeatures)
		}
		data.labels[i] = label
		raw[i] = vec
		maxLabel = math.Max(maxLabel, label)
	}

	data.numClasses = int(maxLabel) + 1
	data.counts = make([]float64, data.numClasses)
	for _, label := range data.labels {
		data.counts[int(label)]++
	}

	data.std = featureStd(raw, data.numFeatures)
	for i, x := range raw {
		scaled := make([]float64, data.numFeatures)
		for j, v := range x {
			if data.std[j] != 0 {
				scaled[j] = v / data.std[j]
			}
		}
		data.scaled[i] = scaled
	}
	data.fingerprint = fingerprint(data.labels, raw)
	return data, nil
}

// featureStd returns the unbiased sample standard deviation of each feature.
func featureStd(raw [][]float64, numFeatures int) []float64 {
	n := float64(len(raw))
	mean := make([]float64, numFeatures)
	for _, x := range raw {
		for j, v := range x {
			mean[j] += v / n
		}
	}
	std := make([]float64, numFeatures)
	if len(raw) < 2 {
		return std
	}
	for _, x := range raw {
		for j, v := range x {
			d := v - mean[j]
			std[j] += d * d
		}
	}
	for j := range std {
		std[j] = math.Sqrt(std[j] / (n - 1))
	}
	return std
}

func fingerprint(labels []float64, raw [][]float64) uint64 {
	h := fnv.New64a()
	buf := make([]byte, 0, 8*(len(labels)+1))
	for i, label := range labels {
		buf = binary.LittleEndian.AppendUint64(buf[:0], math.Float64bits(label))
		for _, v := range raw[i] {
			buf = binary.LittleEndian.AppendUint64(buf, math.Float64bits(v))
		}
		h.Write(buf)
	}
	return h.Sum64()
}

// partitionRows returns the row indices assigned to partition.
func (d *trainingData) partitionRows(partition, numPartitions int) []int {
	if partition < 0 || partition >= numPartitions {
		return nil
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	groups, ok := d.groups[numPartitions]
	if !ok {
		groups = make([][]int, numPartitions)
		for i := range d.labels {
			p := core.RowPartition(i, numPartitions)
			groups[p] = append(groups[p], i)
		}
		d.groups[numPartitions] = groups
	}
	return groups[partition]
}

func (d *trainingData) isConstantLabel() bool {
	n := float64(len(d.labels))
	for _, c := range d.counts {
		if c == n {
			return true
		}
	}
	return false
}
