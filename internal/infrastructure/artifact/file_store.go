// Package artifact persists trained anomaly model artifacts as zstd-compressed JSON.
package artifact

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/klauspost/compress/zstd"

	"sentinel-lab/internal/domain/services"
	"sentinel-lab/pkg/logger"
)

// FileStore keeps the current artifact in a single file. Writes go to a
// temporary file in the same directory and are renamed into place.
type FileStore struct {
	path   string
	logger *logger.Logger
}

// NewFileStore creates a file-backed artifact store
func NewFileStore(path string, log *logger.Logger) *FileStore {
	return &FileStore{
		path:   path,
		logger: log.WithComponent("artifact-store"),
	}
}

// Path returns the artifact location
func (s *FileStore) Path() string {
	return s.path
}

// Save writes the artifact atomically
func (s *FileStore) Save(ctx context.Context, m *services.AnomalyModel) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("failed to create artifact directory: %w", err)
	}

	tmp, err := os.CreateTemp(dir, ".artifact-*")
	if err != nil {
		return fmt.Errorf("failed to create temp artifact: %w", err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	zw, err := zstd.NewWriter(tmp)
	if err != nil {
		tmp.Close()
		return fmt.Errorf("failed to create zstd writer: %w", err)
	}
	if err := json.NewEncoder(zw).Encode(m); err != nil {
		zw.Close()
		tmp.Close()
		return fmt.Errorf("failed to encode artifact: %w", err)
	}
	if err := zw.Close(); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to flush zstd stream: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to sync artifact: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to close artifact: %w", err)
	}
	if err := os.Rename(tmpName, s.path); err != nil {
		return fmt.Errorf("failed to install artifact: %w", err)
	}

	s.logger.Info().
		Str("path", s.path).
		Str("version", m.Version).
		Int("samples", m.NSamples).
		Msg("model artifact saved")
	return nil
}

// Load reads the artifact. A missing file yields an error wrapping os.ErrNotExist.
func (s *FileStore) Load(ctx context.Context) (*services.AnomalyModel, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	file, err := os.Open(s.path)
	if err != nil {
		return nil, fmt.Errorf("failed to open artifact: %w", err)
	}
	defer file.Close()

	zr, err := zstd.NewReader(file)
	if err != nil {
		return nil, fmt.Errorf("failed to create zstd reader: %w", err)
	}
	defer zr.Close()

	var m services.AnomalyModel
	if err := json.NewDecoder(zr).Decode(&m); err != nil {
		return nil, fmt.Errorf("failed to decode artifact: %w", err)
	}
	if m.Version != services.AnomalyModelVersion {
		return nil, fmt.Errorf("artifact version %q is not supported (want %q)", m.Version, services.AnomalyModelVersion)
	}
	return &m, nil
}
