package dataset

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"slices"
	"strconv"
	"strings"

	"github.com/nemanja-m/wineml/internal/shared/logging"
	"github.com/nemanja-m/wineml/internal/storage"
)

// ReadOptions controls how delimited text is parsed.
type ReadOptions struct {
	Delimiter   rune
	Header      bool
	InferSchema bool
}

func DefaultReadOptions() ReadOptions {
	return ReadOptions{Delimiter: ',', Header: true, InferSchema: true}
}

// Loader reads delimited text objects into datasets.
type Loader struct {
	store  storage.ObjectStore
	logger logging.Logger
}

func NewLoader(store storage.ObjectStore, logger logging.Logger) *Loader {
	return &Loader{store: store, logger: logger}
}

type sourceFile struct {
	uri     string
	records [][]string
	lines   []int
}

// LoadDelimited reads every object matching path. The schema is inferred from
// all records before any typed row is built.
func (l *Loader) LoadDelimited(ctx context.Context, path string, opts ReadOptions) (*Dataset, error) {
	if opts.Delimiter == 0 {
		opts.Delimiter = ','
	}

	uris, err := l.store.List(ctx, path)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, &SourceNotFoundError{Path: path}
		}
		return nil, fmt.Errorf("failed to list %s: %w", path, err)
	}
	if len(uris) == 0 {
		return nil, &SourceNotFoundError{Path: path}
	}

	var (
		header []string
		files  = make([]sourceFile, 0, len(uris))
	)
	for _, uri := range uris {
		file, fileHeader, err := l.readFile(ctx, uri, opts)
		if err != nil {
			return nil, err
		}
		if opts.Header && fileHeader != nil {
			if header == nil {
				header = fileHeader
			} else if !slices.Equal(header, fileHeader) {
				return nil, &SchemaInferenceError{
					Path:   uri,
					Line:   1,
					Reason: "header differs from " + uris[0],
				}
			}
		}
		files = append(files, file)
	}

	names, err := columnNames(path, header, files, opts.Header)
	if err != nil {
		return nil, err
	}
	for _, f := range files {
		for i, rec := range f.records {
			if len(rec) != len(names) {
				return nil, &SchemaInferenceError{
					Path:   f.uri,
					Line:   f.lines[i],
					Reason: fmt.Sprintf("expected %d fields, got %d", len(names), len(rec)),
				}
			}
		}
	}

	types := make([]DataType, len(names))
	if opts.InferSchema {
		types = inferTypes(len(names), files)
	}
	fields := make([]Field, len(names))
	for i, name := range names {
		fields[i] = Field{Name: name, Type: types[i], Nullable: true}
	}
	schema := NewSchema(fields...)

	var rows []Row
	for _, f := range files {
		for i, rec := range f.records {
			row, err := convertRecord(rec, types)
			if err != nil {
				return nil, &SchemaInferenceError{Path: f.uri, Line: f.lines[i], Err: err}
			}
			rows = append(rows, row)
		}
	}

	l.logger.Debug("Loaded delimited data",
		"path", path,
		"files", len(files),
		"columns", len(names),
		"rows", len(rows),
	)
	return New(schema, rows)
}

func (l *Loader) readFile(ctx context.Context, uri string, opts ReadOptions) (sourceFile, []string, error) {
	rc, err := l.store.Open(ctx, uri)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return sourceFile{}, nil, &SourceNotFoundError{Path: uri}
		}
		return sourceFile{}, nil, fmt.Errorf("failed to open %s: %w", uri, err)
	}
	defer rc.Close()

	r := csv.NewReader(rc)
	r.Comma = opts.Delimiter
	r.FieldsPerRecord = -1
	r.LazyQuotes = true

	file := sourceFile{uri: uri}
	var header []string
	for {
		if err := ctx.Err(); err != nil {
			return sourceFile{}, nil, err
		}
		rec, err := r.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return sourceFile{}, nil, &SchemaInferenceError{Path: uri, Err: err}
		}
		line, _ := r.FieldPos(0)
		if opts.Header && header == nil {
			header = rec
			continue
		}
		file.records = append(file.records, rec)
		file.lines = append(file.lines, line)
	}
	return file, header, nil
}

func columnNames(path string, header []string, files []sourceFile, hasHeader bool) ([]string, error) {
	if hasHeader {
		seen := make(map[string]struct{}, len(header))
		for _, name := range header {
			if _, dup := seen[name]; dup {
				return nil, &SchemaInferenceError{
					Path:   path,
					Line:   1,
					Reason: fmt.Sprintf("duplicate column name %q", name),
				}
			}
			seen[name] = struct{}{}
		}
		return header, nil
	}

	width := 0
	for _, f := range files {
		if len(f.records) > 0 {
			width = len(f.records[0])
			break
		}
	}
	names := make([]string, width)
	for i := range names {
		names[i] = "_c" + strconv.Itoa(i)
	}
	return names, nil
}

// kind is the inference lattice. unknownKind means only nulls were seen.
type kind int

const (
	unknownKind kind = iota
	integerKind
	doubleKind
	booleanKind
	stringKind
)

func inferTypes(width int, files []sourceFile) []DataType {
	kinds := make([]kind, width)
	for _, f := range files {
		for _, rec := range f.records {
			for i, value := range rec {
				if kinds[i] == stringKind || value == "" {
					continue
				}
				kinds[i] = widen(kinds[i], kindOf(value))
			}
		}
	}

	types := make([]DataType, width)
	for i, k := range kinds {
		switch k {
		case integerKind:
			types[i] = IntegerType
		case doubleKind:
			types[i] = DoubleType
		case booleanKind:
			types[i] = BooleanType
		default:
			types[i] = StringType
		}
	}
	return types
}

func kindOf(value string) kind {
	if _, err := strconv.ParseInt(value, 10, 64); err == nil {
		return integerKind
	}
	if _, err := strconv.ParseFloat(value, 64); err == nil {
		return doubleKind
	}
	if strings.EqualFold(value, "true") || strings.EqualFold(value, "false") {
		return booleanKind
	}
	return stringKind
}

func widen(a, b kind) kind {
	switch {
	case a == unknownKind:
		return b
	case a == b:
		return a
	case (a == integerKind && b == doubleKind) || (a == doubleKind && b == integerKind):
		return doubleKind
	default:
		return stringKind
	}
}

func convertRecord(rec []string, types []DataType) (Row, error) {
	row := make(Row, len(rec))
	for i, value := range rec {
		if value == "" {
			continue
		}
		switch types[i] {
		case IntegerType:
			v, err := strconv.ParseInt(value, 10, 64)
			if err != nil {
				return nil, err
			}
			row[i] = v
		case DoubleType:
			v, err := strconv.ParseFloat(value, 64)
			if err != nil {
				return nil, err
			}
			row[i] = v
		case BooleanType:
			row[i] = strings.EqualFold(value, "true")
		default:
			row[i] = value
		}
	}
	return row, nil
}
