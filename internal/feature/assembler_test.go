package feature

import (
	"errors"
	"math"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/nemanja-m/wineml/internal/dataset"
)

func wineDataset(t *testing.T, rows ...dataset.Row) *dataset.Dataset {
	t.Helper()
	fields := make([]dataset.Field, 0, 12)
	for _, name := range WineQualityColumns() {
		typ := dataset.DoubleType
		if name == "quality" {
			typ = dataset.IntegerType
		}
		fields = append(fields, dataset.Field{Name: name, Type: typ, Nullable: true})
	}
	ds, err := dataset.New(dataset.NewSchema(fields...), rows)
	require.NoError(t, err)
	return ds
}

func wineRow(base float64, quality int64) dataset.Row {
	row := make(dataset.Row, 12)
	for i := range 11 {
		row[i] = base + float64(i)
	}
	row[11] = quality
	return row
}

func TestWineQualityColumns(t *testing.T) {
	cols := WineQualityColumns()
	require.Len(t, cols, 12)
	require.Equal(t, "fixed acidity", cols[0])
	require.Equal(t, "quality", cols[11])

	cols[0] = "changed"
	require.Equal(t, "fixed acidity", WineQualityColumns()[0])
}

func TestVectorAssembler_ColumnOrderIsDeterministic(t *testing.T) {
	ds := wineDataset(t, wineRow(1, 5), wineRow(10, 7))
	assembler := NewVectorAssembler(WineQualityColumns(), "features")

	first, err := assembler.Transform(ds)
	require.NoError(t, err)
	second, err := assembler.Transform(ds)
	require.NoError(t, err)

	features, err := first.Column("features")
	require.NoError(t, err)
	require.Equal(t,
		dataset.Vector{1, 2, 3, 4, 5, 6, 7, 8, 9, 10, 11, 5},
		features[0],
	)
	require.Equal(t,
		dataset.Vector{10, 11, 12, 13, 14, 15, 16, 17, 18, 19, 20, 7},
		features[1],
	)

	again, err := second.Column("features")
	require.NoError(t, err)
	require.Equal(t, features, again)
}

func TestVectorAssembler_DoesNotMutateInput(t *testing.T) {
	ds := wineDataset(t, wineRow(1, 5))
	before := ds.Schema()

	out, err := NewVectorAssembler(WineQualityColumns(), "features").Transform(ds)
	require.NoError(t, err)

	require.Equal(t, before, ds.Schema())
	require.Len(t, ds.Row(0), 12)
	require.Len(t, out.Row(0), 13)
	require.Equal(t, "features", out.Schema().Fields[12].Name)
	require.Equal(t, dataset.VectorType, out.Schema().Fields[12].Type)
}

func TestVectorAssembler_MissingColumn(t *testing.T) {
	fields := []dataset.Field{}
	for _, name := range WineQualityColumns() {
		if name == "density" || name == "alcohol" {
			continue
		}
		fields = append(fields, dataset.Field{Name: name, Type: dataset.DoubleType})
	}
	ds, err := dataset.New(dataset.NewSchema(fields...), nil)
	require.NoError(t, err)

	_, err = NewVectorAssembler(WineQualityColumns(), "features").Transform(ds)
	var missing *MissingColumnError
	require.True(t, errors.As(err, &missing))
	require.Equal(t, "density", missing.Column)
}

func TestVectorAssembler_MissingColumnBeforeTypeCheck(t *testing.T) {
	schema := dataset.NewSchema(dataset.Field{Name: "name", Type: dataset.StringType})
	ds, err := dataset.New(schema, nil)
	require.NoError(t, err)

	_, err = NewVectorAssembler([]string{"name", "absent"}, "features").Transform(ds)
	var missing *MissingColumnError
	require.True(t, errors.As(err, &missing))
	require.Equal(t, "absent", missing.Column)
}

func TestVectorAssembler_UnsupportedType(t *testing.T) {
	schema := dataset.NewSchema(dataset.Field{Name: "name", Type: dataset.StringType})
	ds, err := dataset.New(schema, []dataset.Row{{"red"}})
	require.NoError(t, err)

	_, err = NewVectorAssembler([]string{"name"}, "features").Transform(ds)
	var unsupported *UnsupportedTypeError
	require.True(t, errors.As(err, &unsupported))
	require.Equal(t, "name", unsupported.Column)
}

func TestVectorAssembler_OutputColumnExists(t *testing.T) {
	ds := wineDataset(t)
	_, err := NewVectorAssembler([]string{"pH"}, "quality").Transform(ds)
	var exists *ColumnExistsError
	require.True(t, errors.As(err, &exists))
}

func TestVectorAssembler_HandleInvalid(t *testing.T) {
	withNull := wineRow(1, 5)
	withNull[3] = nil
	ds := wineDataset(t, wineRow(2, 6), withNull)

	t.Run("error", func(t *testing.T) {
		_, err := NewVectorAssembler(WineQualityColumns(), "features").Transform(ds)
		var invalid *InvalidValueError
		require.True(t, errors.As(err, &invalid))
		require.Equal(t, "residual sugar", invalid.Column)
		require.Equal(t, 1, invalid.Row)
	})

	t.Run("skip", func(t *testing.T) {
		out, err := NewVectorAssembler(WineQualityColumns(), "features", WithHandleInvalid(HandleSkip)).Transform(ds)
		require.NoError(t, err)
		require.Equal(t, int64(1), out.Count())
		require.Equal(t, int64(2), ds.Count())
	})

	t.Run("keep", func(t *testing.T) {
		out, err := NewVectorAssembler(WineQualityColumns(), "features", WithHandleInvalid(HandleKeep)).Transform(ds)
		require.NoError(t, err)
		require.Equal(t, int64(2), out.Count())
		vec := out.Row(1)[12].(dataset.Vector)
		require.True(t, math.IsNaN(vec[3]))
		require.Equal(t, 1.0, vec[0])
	})
}

func TestVectorAssembler_FlattensVectorInputs(t *testing.T) {
	schema := dataset.NewSchema(
		dataset.Field{Name: "v", Type: dataset.VectorType},
		dataset.Field{Name: "x", Type: dataset.IntegerType},
		dataset.Field{Name: "b", Type: dataset.BooleanType},
	)
	ds, err := dataset.New(schema, []dataset.Row{{dataset.Vector{1, 2}, int64(3), true}})
	require.NoError(t, err)

	out, err := NewVectorAssembler([]string{"v", "x", "b"}, "features").Transform(ds)
	require.NoError(t, err)
	require.Equal(t, dataset.Vector{1, 2, 3, 1}, out.Row(0)[3])
}

func TestParseHandleInvalid(t *testing.T) {
	h, err := ParseHandleInvalid(" Skip ")
	require.NoError(t, err)
	require.Equal(t, HandleSkip, h)

	h, err = ParseHandleInvalid("")
	require.NoError(t, err)
	require.Equal(t, HandleError, h)

	_, err = ParseHandleInvalid("drop")
	require.Error(t, err)
}

func TestWithout(t *testing.T) {
	cols := Without(WineQualityColumns(), "quality")
	require.Len(t, cols, 11)
	require.NotContains(t, cols, "quality")
}
