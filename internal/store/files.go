package store

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/kiliankoe/chartrecall/internal/experiment"
)

var ErrInvalidName = errors.New("invalid result file name")

// FileStore writes the two tables of every session as CSV files under Dir.
type FileStore struct {
	Dir string
}

func NewFileStore(dir string) *FileStore {
	return &FileStore{Dir: dir}
}

func (f *FileStore) Name() string { return "files" }

// Save writes results_<stamp>_<id>.csv and log_<stamp>_<id>.csv. Existing
// files are never overwritten. Either both files are written or neither is
// left behind.
func (f *FileStore) Save(_ context.Context, snap experiment.Snapshot) (experiment.Handles, error) {
	h := experiment.ExportNames(snap)

	var results, events bytes.Buffer
	if err := EncodeResponses(&results, snap.Responses); err != nil {
		return experiment.Handles{}, fmt.Errorf("encode responses: %w", err)
	}
	if err := EncodeEvents(&events, snap.Events); err != nil {
		return experiment.Handles{}, fmt.Errorf("encode events: %w", err)
	}

	if err := os.MkdirAll(f.Dir, 0o755); err != nil {
		return experiment.Handles{}, fmt.Errorf("create results directory: %w", err)
	}
	resultsPath := filepath.Join(f.Dir, h.Results)
	if err := writeNew(resultsPath, results.Bytes()); err != nil {
		return experiment.Handles{}, err
	}
	if err := writeNew(filepath.Join(f.Dir, h.Log), events.Bytes()); err != nil {
		if rmErr := os.Remove(resultsPath); rmErr != nil {
			log.Warn().Err(rmErr).Str("file", resultsPath).Msg("failed to remove partial export")
		}
		return experiment.Handles{}, err
	}
	return h, nil
}

// writeNew creates path exclusively. A file it created but could not fill
// is removed again.
func writeNew(path string, data []byte) error {
	file, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("failed to open file: %w", err)
	}
	_, err = file.Write(data)
	if closeErr := file.Close(); err == nil {
		err = closeErr
	}
	if err != nil {
		os.Remove(path)
		return fmt.Errorf("failed to write to file: %w", err)
	}
	return nil
}

type FileInfo struct {
	Name     string    `json:"name"`
	Size     int64     `json:"size"`
	Modified time.Time `json:"modified"`
}

// List returns the exported CSV files, newest first.
func (f *FileStore) List() ([]FileInfo, error) {
	entries, err := os.ReadDir(f.Dir)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var out []FileInfo
	for _, e := range entries {
		if e.IsDir() || !validName(e.Name()) {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		out = append(out, FileInfo{Name: e.Name(), Size: info.Size(), Modified: info.ModTime().UTC()})
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].Modified.Equal(out[j].Modified) {
			return out[i].Modified.After(out[j].Modified)
		}
		return out[i].Name < out[j].Name
	})
	return out, nil
}

// Open returns an exported file by name. Names outside the store are
// refused.
func (f *FileStore) Open(name string) (io.ReadCloser, error) {
	if !validName(name) {
		return nil, ErrInvalidName
	}
	return os.Open(filepath.Join(f.Dir, name))
}

func validName(name string) bool {
	if name != filepath.Base(name) || strings.ContainsAny(name, `/\`) {
		return false
	}
	if !strings.HasSuffix(name, ".csv") {
		return false
	}
	return strings.HasPrefix(name, "results_") || strings.HasPrefix(name, "log_")
}
