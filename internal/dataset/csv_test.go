package dataset

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/nemanja-m/wineml/internal/shared/logging"
	"github.com/nemanja-m/wineml/internal/storage"
)

func newTestLoader(t *testing.T, objects map[string]string) *Loader {
	t.Helper()
	store := storage.NewMemoryStore("s3a")
	for uri, content := range objects {
		err := store.Put(context.Background(), uri, strings.NewReader(content), int64(len(content)))
		require.NoError(t, err)
	}
	return NewLoader(store, logging.NewNopLogger())
}

func semicolon() ReadOptions {
	return ReadOptions{Delimiter: ';', Header: true, InferSchema: true}
}

func TestLoadDelimited_InfersTypes(t *testing.T) {
	loader := newTestLoader(t, map[string]string{
		"s3a://wine/train.csv": "fixed acidity;count;flag;name;empty;quality\n" +
			"7.4;1;true;red;;5\n" +
			"7;2;FALSE;white;;6\n" +
			"7.8;;true;3;;5\n",
	})

	ds, err := loader.LoadDelimited(context.Background(), "s3a://wine/train.csv", semicolon())
	require.NoError(t, err)
	require.Equal(t, int64(3), ds.Count())

	schema := ds.Schema()
	require.Equal(t, []string{"fixed acidity", "count", "flag", "name", "empty", "quality"}, schema.Names())

	types := make([]DataType, schema.Len())
	for i, f := range schema.Fields {
		types[i] = f.Type
		require.True(t, f.Nullable)
	}
	require.Equal(t, []DataType{DoubleType, IntegerType, BooleanType, StringType, StringType, IntegerType}, types)

	require.Equal(t, Row{7.4, int64(1), true, "red", nil, int64(5)}, ds.Row(0))
	require.Equal(t, Row{7.0, int64(2), false, "white", nil, int64(6)}, ds.Row(1))
	require.Equal(t, Row{7.8, nil, true, "3", nil, int64(5)}, ds.Row(2))
}

func TestLoadDelimited_WideningConflicts(t *testing.T) {
	loader := newTestLoader(t, map[string]string{
		"s3a://wine/mixed.csv": "a;b\n1;true\nx;1\n",
	})

	ds, err := loader.LoadDelimited(context.Background(), "s3a://wine/mixed.csv", semicolon())
	require.NoError(t, err)
	for _, f := range ds.Schema().Fields {
		require.Equal(t, StringType, f.Type, f.Name)
	}
	require.Equal(t, Row{"1", "true"}, ds.Row(0))
}

func TestLoadDelimited_WithoutInference(t *testing.T) {
	loader := newTestLoader(t, map[string]string{
		"s3a://wine/train.csv": "a;b\n1;2.5\n",
	})
	opts := semicolon()
	opts.InferSchema = false

	ds, err := loader.LoadDelimited(context.Background(), "s3a://wine/train.csv", opts)
	require.NoError(t, err)
	require.Equal(t, Row{"1", "2.5"}, ds.Row(0))
	require.Equal(t, StringType, ds.Schema().Fields[1].Type)
}

func TestLoadDelimited_WithoutHeader(t *testing.T) {
	loader := newTestLoader(t, map[string]string{
		"s3a://wine/train.csv": "1,2\n3,4\n",
	})
	opts := DefaultReadOptions()
	opts.Header = false

	ds, err := loader.LoadDelimited(context.Background(), "s3a://wine/train.csv", opts)
	require.NoError(t, err)
	require.Equal(t, []string{"_c0", "_c1"}, ds.Schema().Names())
	require.Equal(t, int64(2), ds.Count())
}

func TestLoadDelimited_GlobReadsFilesInOrder(t *testing.T) {
	loader := newTestLoader(t, map[string]string{
		"s3a://wine/parts/b.csv": "x;y\n3;4\n",
		"s3a://wine/parts/a.csv": "x;y\n1;2\n",
		"s3a://wine/other.csv":   "x;y\n9;9\n",
	})

	ds, err := loader.LoadDelimited(context.Background(), "s3a://wine/parts/*.csv", semicolon())
	require.NoError(t, err)
	require.Equal(t, int64(2), ds.Count())
	require.Equal(t, Row{int64(1), int64(2)}, ds.Row(0))
	require.Equal(t, Row{int64(3), int64(4)}, ds.Row(1))
}

func TestLoadDelimited_HeaderOnlyIsEmpty(t *testing.T) {
	loader := newTestLoader(t, map[string]string{
		"s3a://wine/empty.csv": "a;b\n",
	})

	ds, err := loader.LoadDelimited(context.Background(), "s3a://wine/empty.csv", semicolon())
	require.NoError(t, err)
	require.Zero(t, ds.Count())
	require.Equal(t, []string{"a", "b"}, ds.Schema().Names())
	require.Equal(t, StringType, ds.Schema().Fields[0].Type)
}

func TestLoadDelimited_SourceNotFound(t *testing.T) {
	loader := newTestLoader(t, nil)

	_, err := loader.LoadDelimited(context.Background(), "s3a://wine/missing.csv", semicolon())
	var notFound *SourceNotFoundError
	require.True(t, errors.As(err, &notFound))
	require.Equal(t, "s3a://wine/missing.csv", notFound.Path)
}

func TestLoadDelimited_SchemaErrors(t *testing.T) {
	tests := []struct {
		name    string
		content string
		line    int
		reason  string
	}{
		{
			name:    "short record",
			content: "a;b;c\n1;2;3\n4;5\n",
			line:    3,
			reason:  "expected 3 fields, got 2",
		},
		{
			name:    "duplicate header",
			content: "a;b;a\n1;2;3\n",
			line:    1,
			reason:  `duplicate column name "a"`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			loader := newTestLoader(t, map[string]string{"s3a://wine/bad.csv": tt.content})

			_, err := loader.LoadDelimited(context.Background(), "s3a://wine/bad.csv", semicolon())
			var schemaErr *SchemaInferenceError
			require.True(t, errors.As(err, &schemaErr))
			require.Equal(t, tt.line, schemaErr.Line)
			require.Equal(t, tt.reason, schemaErr.Reason)
		})
	}
}

func TestLoadDelimited_HeaderMismatchAcrossFiles(t *testing.T) {
	loader := newTestLoader(t, map[string]string{
		"s3a://wine/p/a.csv": "x;y\n1;2\n",
		"s3a://wine/p/b.csv": "x;z\n1;2\n",
	})

	_, err := loader.LoadDelimited(context.Background(), "s3a://wine/p/*.csv", semicolon())
	var schemaErr *SchemaInferenceError
	require.True(t, errors.As(err, &schemaErr))
	require.Equal(t, "s3a://wine/p/b.csv", schemaErr.Path)
}

func TestShow(t *testing.T) {
	schema := NewSchema(
		Field{Name: "alcohol", Type: DoubleType, Nullable: true},
		Field{Name: "quality", Type: IntegerType, Nullable: true},
	)
	ds, err := New(schema, []Row{{9.4, int64(5)}, {nil, int64(6)}})
	require.NoError(t, err)

	var buf bytes.Buffer
	require.NoError(t, ds.Show(&buf, 1, true))
	expected := "" +
		"+-------+-------+\n" +
		"|alcohol|quality|\n" +
		"+-------+-------+\n" +
		"|    9.4|      5|\n" +
		"+-------+-------+\n" +
		"only showing top 1 rows\n\n"
	require.Equal(t, expected, buf.String())
}

func TestShow_TruncatesLongCells(t *testing.T) {
	schema := NewSchema(Field{Name: "features", Type: VectorType, Nullable: true})
	ds, err := New(schema, []Row{{Vector{7.4, 0.7, 0, 1.9, 0.076}}})
	require.NoError(t, err)

	var buf bytes.Buffer
	require.NoError(t, ds.Show(&buf, 20, true))
	require.Contains(t, buf.String(), "|[7.4,0.7,0.0,1.9,...|")
	require.NotContains(t, buf.String(), "only showing")
}

func TestSchema_TreeString(t *testing.T) {
	schema := NewSchema(
		Field{Name: "pH", Type: DoubleType, Nullable: true},
		Field{Name: "quality", Type: IntegerType, Nullable: true},
	)
	expected := "root\n" +
		" |-- pH: double (nullable = true)\n" +
		" |-- quality: integer (nullable = true)\n"
	require.Equal(t, expected, schema.TreeString())
}

func TestNew_RejectsRaggedRows(t *testing.T) {
	schema := NewSchema(Field{Name: "a"}, Field{Name: "b"})
	_, err := New(schema, []Row{{1.0}})
	require.Error(t, err)
}
