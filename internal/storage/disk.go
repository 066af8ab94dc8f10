package storage

import (
	"io/fs"
	"os"
	"path/filepath"
)

// Usage reports the bytes a store occupies on disk, split by file kind.
type Usage struct {
	IndexBytes   int64 `json:"index_bytes"`
	VectorBytes  int64 `json:"vector_bytes"`
	ContentBytes int64 `json:"content_bytes"`
	OtherBytes   int64 `json:"other_bytes"`
}

// Total returns the sum of all parts.
func (u Usage) Total() int64 {
	return u.IndexBytes + u.VectorBytes + u.ContentBytes + u.OtherBytes
}

// DiskUsage walks basePath and sums file sizes by layout location.
// A missing base path reports zero usage.
func DiskUsage(basePath string) (Usage, error) {
	var u Usage
	if _, err := os.Stat(basePath); err != nil {
		if os.IsNotExist(err) {
			return u, nil
		}
		return u, err
	}
	err := filepath.WalkDir(basePath, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return err
		}
		rel, _ := filepath.Rel(basePath, path)
		switch {
		case rel == indexFileName:
			u.IndexBytes += info.Size()
		case filepath.Dir(rel) == vectorsDir:
			u.VectorBytes += info.Size()
		case filepath.Dir(rel) == contentDir:
			u.ContentBytes += info.Size()
		default:
			u.OtherBytes += info.Size()
		}
		return nil
	})
	return u, err
}
