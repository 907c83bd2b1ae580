package ml

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/nemanja-m/wineml/internal/storage"
)

const (
	modelClass    = "LogisticRegressionModel"
	formatVersion = 1

	metadataPath = "metadata/part-00000"
	dataPath     = "data/part-00000.pb"
	successPath  = "_SUCCESS"
)

type metadata struct {
	Class         string `json:"class"`
	FormatVersion int    `json:"formatVersion"`
	Timestamp     int64  `json:"timestamp"`
	UID           string `json:"uid"`
	NumClasses    int    `json:"numClasses"`
	NumFeatures   int    `json:"numFeatures"`
	ParamMap      Params `json:"paramMap"`
}

// ModelWriter saves a model as a directory-like artifact.
type ModelWriter struct {
	model     *LogisticRegressionModel
	store     storage.ObjectStore
	overwrite bool
	now       func() time.Time
}

func (m *LogisticRegressionModel) Write(store storage.ObjectStore) *ModelWriter {
	return &ModelWriter{model: m, store: store, now: time.Now}
}

// Overwrite makes Save replace an existing artifact.
func (w *ModelWriter) Overwrite() *ModelWriter {
	w.overwrite = true
	return w
}

// Save writes metadata, data and a _SUCCESS marker below dest. With overwrite
// everything under dest is removed first.
func (w *ModelWriter) Save(ctx context.Context, dest string) error {
	exists, err := w.store.Exists(ctx, dest)
	if err != nil {
		return fmt.Errorf("failed to check %s: %w", dest, err)
	}
	if exists {
		if !w.overwrite {
			return fmt.Errorf("%w: %s", ErrArtifactExists, dest)
		}
		if err := w.store.DeletePrefix(ctx, dest); err != nil {
			return fmt.Errorf("failed to delete %s: %w", dest, err)
		}
	}

	meta, err := json.Marshal(metadata{
		Class:         modelClass,
		FormatVersion: formatVersion,
		Timestamp:     w.now().UnixMilli(),
		UID:           w.model.uid,
		NumClasses:    w.model.numClasses,
		NumFeatures:   w.model.numFeatures,
		ParamMap:      w.model.params,
	})
	if err != nil {
		return fmt.Errorf("failed to encode model metadata: %w", err)
	}
	data, err := encodeModel(w.model, false)
	if err != nil {
		return fmt.Errorf("failed to encode model data: %w", err)
	}

	objects := []struct {
		path    string
		content []byte
	}{
		{metadataPath, append(meta, '\n')},
		{dataPath, data},
		{successPath, nil},
	}
	for _, obj := range objects {
		uri := storage.Join(dest, obj.path)
		if err := w.store.Put(ctx, uri, bytes.NewReader(obj.content), int64(len(obj.content))); err != nil {
			return fmt.Errorf("failed to write %s: %w", uri, err)
		}
	}
	return nil
}

// LoadModel reads an artifact written by Save.
func LoadModel(ctx context.Context, store storage.ObjectStore, dest string) (*LogisticRegressionModel, error) {
	metaBytes, err := readObject(ctx, store, storage.Join(dest, metadataPath))
	if err != nil {
		return nil, err
	}
	var meta metadata
	if err := json.Unmarshal(metaBytes, &meta); err != nil {
		return nil, fmt.Errorf("failed to decode model metadata: %w", err)
	}
	if meta.Class != modelClass {
		return nil, fmt.Errorf("artifact at %s holds %q, not %s", dest, meta.Class, modelClass)
	}

	data, err := readObject(ctx, store, storage.Join(dest, dataPath))
	if err != nil {
		return nil, err
	}
	return decodeModel(data, meta.ParamMap)
}

func readObject(ctx context.Context, store storage.ObjectStore, uri string) ([]byte, error) {
	rc, err := store.Open(ctx, uri)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s: %w", uri, err)
	}
	defer rc.Close()
	return io.ReadAll(rc)
}
