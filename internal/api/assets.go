package api

import (
	"os"
	"path/filepath"

	"github.com/kiliankoe/chartrecall/internal/stimulus"
)

// DirAssets resolves image references under a directory and chart ids in a
// chart dataset.
type DirAssets struct {
	ImagesDir string
	Charts    *stimulus.ChartDataset
}

func (d DirAssets) ImageExists(ref string) bool {
	if ref == "" || ref != filepath.Base(ref) || d.ImagesDir == "" {
		return false
	}
	info, err := os.Stat(filepath.Join(d.ImagesDir, ref))
	return err == nil && !info.IsDir()
}

func (d DirAssets) ChartExists(id int) bool {
	return d.Charts.Has(id)
}
