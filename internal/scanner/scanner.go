// Package scanner indexes project source files into the memory engine.
package scanner

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/hyperjump/kioku/internal/config"
	"github.com/hyperjump/kioku/internal/memory"
	"github.com/hyperjump/kioku/internal/models"
	"github.com/hyperjump/kioku/pkg/utils"
)

const (
	metaKeySourcePath  = "source_path"
	metaKeySourceMtime = "source_mtime"
	metaKeySourceSize  = "source_size"
)

var (
	// ErrNotDirectory is returned when a scan root is not a directory.
	ErrNotDirectory = errors.New("not a directory")
	// ErrUnknownDirectory is returned by RemoveDirectory for a path that is not a scan root.
	ErrUnknownDirectory = errors.New("directory is not a scan root")
)

// Scanner keeps one memory entry per project file, under a single group.
type Scanner struct {
	engine       *memory.Engine
	groupID      string
	mu           sync.RWMutex
	directories  []string
	extensions   []string
	recursive    bool
	maxFileBytes int64
	logger       *zap.Logger
}

// Option configures a Scanner.
type Option func(*Scanner)

// WithLogger sets a logger for scan events.
func WithLogger(l *zap.Logger) Option {
	return func(s *Scanner) { s.logger = utils.OrNop(l) }
}

// New creates a scanner writing into engine. cfg is expected to have defaults applied.
func New(engine *memory.Engine, cfg config.ScannerConfig, opts ...Option) *Scanner {
	s := &Scanner{
		engine:       engine,
		groupID:      cfg.GroupID,
		directories:  append([]string(nil), cfg.Directories...),
		extensions:   cfg.Extensions,
		recursive:    cfg.RecursiveOrDefault(),
		maxFileBytes: cfg.MaxFileBytes,
		logger:       zap.NewNop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// GroupID returns the group scanned files are stored under.
func (s *Scanner) GroupID() string { return s.groupID }

// Directories returns the current scan roots.
func (s *Scanner) Directories() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]string(nil), s.directories...)
}

// AddDirectory adds dir to the scan roots and returns its absolute path.
// Adding a root twice is a no-op. With syncExisting the directory is scanned
// right away.
func (s *Scanner) AddDirectory(ctx context.Context, dir string, syncExisting bool) (string, Summary, error) {
	abs, err := filepath.Abs(dir)
	if err != nil {
		return "", Summary{}, fmt.Errorf("absolute path: %w", err)
	}
	info, err := os.Stat(abs)
	if err != nil {
		return abs, Summary{}, fmt.Errorf("stat directory: %w", err)
	}
	if !info.IsDir() {
		return abs, Summary{}, fmt.Errorf("%w: %s", ErrNotDirectory, abs)
	}

	s.mu.Lock()
	added := true
	for _, d := range s.directories {
		if filepath.Clean(d) == abs {
			added = false
			break
		}
	}
	if added {
		s.directories = append(s.directories, abs)
	}
	s.mu.Unlock()

	if added {
		s.logger.Debug("scan directory added", zap.String("path", abs), zap.Bool("sync_existing", syncExisting))
	}
	if !syncExisting {
		return abs, Summary{}, nil
	}
	sum, err := s.ScanDirectory(ctx, abs)
	return abs, sum, err
}

// RemoveDirectory drops dir from the scan roots along with the entries of
// every file under it. Returns the number of entries removed.
func (s *Scanner) RemoveDirectory(ctx context.Context, dir string) (string, int, error) {
	abs, err := filepath.Abs(dir)
	if err != nil {
		return "", 0, fmt.Errorf("absolute path: %w", err)
	}
	s.mu.Lock()
	idx := -1
	for i, d := range s.directories {
		if filepath.Clean(d) == abs {
			idx = i
			break
		}
	}
	if idx < 0 {
		s.mu.Unlock()
		return abs, 0, fmt.Errorf("%w: %s", ErrUnknownDirectory, abs)
	}
	s.directories = append(s.directories[:idx:idx], s.directories[idx+1:]...)
	covered := false
	for _, d := range s.directories {
		if inDir(filepath.Clean(d), abs) {
			covered = true
			break
		}
	}
	s.mu.Unlock()

	if covered {
		s.logger.Debug("scan directory removed; still covered by another root", zap.String("path", abs))
		return abs, 0, nil
	}
	n, err := s.RemoveFile(ctx, abs)
	if err != nil {
		return abs, n, err
	}
	s.logger.Debug("scan directory removed", zap.String("path", abs), zap.Int("entries", n))
	return abs, n, nil
}

// Extensions returns the allowed file extensions; empty means all.
func (s *Scanner) Extensions() []string { return append([]string(nil), s.extensions...) }

// Recursive reports whether subdirectories are scanned.
func (s *Scanner) Recursive() bool { return s.recursive }

// Summary counts the outcome of a scan.
type Summary struct {
	Indexed   int `json:"indexed"`
	Unchanged int `json:"unchanged"`
	Skipped   int `json:"skipped"`
	Removed   int `json:"removed"`
	Failed    int `json:"failed"`
}

func (s *Summary) add(o Summary) {
	s.Indexed += o.Indexed
	s.Unchanged += o.Unchanged
	s.Skipped += o.Skipped
	s.Removed += o.Removed
	s.Failed += o.Failed
}

// Outcome of indexing a single file.
type Outcome int

const (
	Indexed Outcome = iota
	Unchanged
	Skipped
)

// Scan indexes every configured directory.
func (s *Scanner) Scan(ctx context.Context) (Summary, error) {
	var total Summary
	for _, dir := range s.Directories() {
		sum, err := s.ScanDirectory(ctx, dir)
		total.add(sum)
		if err != nil {
			return total, err
		}
	}
	return total, nil
}

// ScanDirectory walks dir and indexes each regular file with an allowed
// extension. Hidden directories are not entered. Entries for files under dir
// that no longer exist are removed. A file that fails to index is logged and
// counted; only walk errors abort the scan.
func (s *Scanner) ScanDirectory(ctx context.Context, dir string) (Summary, error) {
	var sum Summary
	absDir, err := filepath.Abs(dir)
	if err != nil {
		return sum, fmt.Errorf("absolute path: %w", err)
	}
	info, err := os.Stat(absDir)
	if err != nil {
		return sum, fmt.Errorf("stat directory: %w", err)
	}
	if !info.IsDir() {
		return sum, fmt.Errorf("%w: %s", ErrNotDirectory, absDir)
	}

	seen := make(map[string]bool)
	err = filepath.WalkDir(absDir, func(path string, d fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			return walkErr
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		if d.IsDir() {
			if path == absDir {
				return nil
			}
			if !s.recursive || strings.HasPrefix(d.Name(), ".") {
				return filepath.SkipDir
			}
			return nil
		}
		if !extensionAllowed(filepath.Ext(path), s.extensions) {
			return nil
		}
		seen[path] = true
		outcome, err := s.IndexFile(ctx, path)
		switch {
		case err != nil:
			sum.Failed++
			s.logger.Warn("failed to index file", zap.String("path", path), zap.Error(err))
		case outcome == Indexed:
			sum.Indexed++
		case outcome == Unchanged:
			sum.Unchanged++
		default:
			sum.Skipped++
		}
		return nil
	})
	if err != nil {
		return sum, err
	}

	stale, err := s.entries(ctx, func(p string) bool { return inDir(absDir, p) && !seen[p] })
	if err != nil {
		return sum, err
	}
	for _, e := range stale {
		if err := s.engine.Remove(ctx, e.ID); err != nil {
			return sum, fmt.Errorf("remove stale entry: %w", err)
		}
		sum.Removed++
	}
	s.logger.Debug("scanned directory",
		zap.String("path", absDir),
		zap.Int("indexed", sum.Indexed),
		zap.Int("unchanged", sum.Unchanged),
		zap.Int("removed", sum.Removed))
	return sum, nil
}

// IndexFile stores the content of path. Files whose path, mtime and size
// match the stored entry are left alone; otherwise old entries are removed and
// the file is added under a fresh id. Binary and empty files are skipped.
func (s *Scanner) IndexFile(ctx context.Context, path string) (Outcome, error) {
	absPath, err := filepath.Abs(path)
	if err != nil {
		return Skipped, fmt.Errorf("absolute path: %w", err)
	}
	if !extensionAllowed(filepath.Ext(absPath), s.extensions) {
		return Skipped, fmt.Errorf("extension %q not in allowed list", filepath.Ext(absPath))
	}
	info, err := os.Stat(absPath)
	if err != nil {
		return Skipped, fmt.Errorf("stat file: %w", err)
	}
	if !info.Mode().IsRegular() {
		return Skipped, fmt.Errorf("not a regular file: %s", absPath)
	}

	existing, err := s.entries(ctx, func(p string) bool { return p == absPath })
	if err != nil {
		return Skipped, err
	}
	if len(existing) == 1 && unchanged(existing[0].Metadata, info) {
		s.logger.Debug("skipping unchanged file", zap.String("path", absPath))
		return Unchanged, nil
	}
	for _, e := range existing {
		if err := s.engine.Remove(ctx, e.ID); err != nil {
			return Skipped, fmt.Errorf("remove previous entry: %w", err)
		}
	}

	text, truncated, err := readText(absPath, s.maxFileBytes)
	if err != nil {
		return Skipped, err
	}
	if text == "" {
		s.logger.Debug("skipping binary or empty file", zap.String("path", absPath))
		return Skipped, nil
	}
	if truncated {
		s.logger.Debug("truncated large file", zap.String("path", absPath), zap.Int64("size", info.Size()))
	}

	// Mtime and size are stored as strings: UnixNano exceeds float64 precision.
	extra := map[string]models.Value{
		metaKeySourcePath:  models.StringValue(absPath),
		metaKeySourceMtime: models.StringValue(strconv.FormatInt(info.ModTime().UnixNano(), 10)),
		metaKeySourceSize:  models.StringValue(strconv.FormatInt(info.Size(), 10)),
	}
	id, err := s.engine.AddText(ctx, text, s.groupID, extra)
	if errors.Is(err, memory.ErrEmptyText) {
		return Skipped, nil
	}
	if err != nil {
		return Skipped, err
	}
	s.logger.Debug("file indexed", zap.String("path", absPath), zap.String("id", id))
	return Indexed, nil
}

// RemoveFile removes the entries of path, or of every file under path when it
// names a directory. Returns the number of entries removed.
func (s *Scanner) RemoveFile(ctx context.Context, path string) (int, error) {
	absPath, err := filepath.Abs(path)
	if err != nil {
		return 0, fmt.Errorf("absolute path: %w", err)
	}
	matches, err := s.entries(ctx, func(p string) bool { return p == absPath || inDir(absPath, p) })
	if err != nil {
		return 0, err
	}
	for i, e := range matches {
		if err := s.engine.Remove(ctx, e.ID); err != nil {
			return i, err
		}
	}
	if len(matches) > 0 {
		s.logger.Debug("removed file entries", zap.String("path", absPath), zap.Int("entries", len(matches)))
	}
	return len(matches), nil
}

// FileChanged indexes path, logging failures. It lets a Scanner serve as a
// watcher handler.
func (s *Scanner) FileChanged(ctx context.Context, path string) {
	if _, err := s.IndexFile(ctx, path); err != nil {
		s.logger.Warn("failed to index changed file", zap.String("path", path), zap.Error(err))
	}
}

// FileRemoved drops the entries for path, logging failures.
func (s *Scanner) FileRemoved(ctx context.Context, path string) {
	if _, err := s.RemoveFile(ctx, path); err != nil {
		s.logger.Warn("failed to remove file entries", zap.String("path", path), zap.Error(err))
	}
}

// entries returns the group's entries whose source path satisfies match.
func (s *Scanner) entries(ctx context.Context, match func(sourcePath string) bool) ([]*models.Entry, error) {
	return s.engine.List(ctx, func(meta models.Metadata) bool {
		if meta.GroupID != s.groupID {
			return false
		}
		p, ok := metadataString(meta, metaKeySourcePath)
		return ok && match(p)
	})
}

func unchanged(meta models.Metadata, info os.FileInfo) bool {
	return metadataInt64(meta, metaKeySourceMtime) == info.ModTime().UnixNano() &&
		metadataInt64(meta, metaKeySourceSize) == info.Size()
}

func metadataString(meta models.Metadata, key string) (string, bool) {
	v, ok := meta.Get(key)
	if !ok {
		return "", false
	}
	return v.Str()
}

func metadataInt64(meta models.Metadata, key string) int64 {
	v, ok := meta.Get(key)
	if !ok {
		return 0
	}
	if s, ok := v.Str(); ok {
		x, _ := strconv.ParseInt(s, 10, 64)
		return x
	}
	if n, ok := v.Number(); ok {
		return int64(n)
	}
	return 0
}

// readText reads at most limit bytes of path. Content containing a NUL byte
// is treated as binary and returned empty.
func readText(path string, limit int64) (text string, truncated bool, err error) {
	f, err := os.Open(path)
	if err != nil {
		return "", false, fmt.Errorf("open file: %w", err)
	}
	defer f.Close()
	var r io.Reader = f
	if limit > 0 {
		r = io.LimitReader(f, limit+1)
	}
	data, err := io.ReadAll(r)
	if err != nil {
		return "", false, fmt.Errorf("read file: %w", err)
	}
	if limit > 0 && int64(len(data)) > limit {
		data = data[:limit]
		truncated = true
	}
	if strings.IndexByte(string(data), 0) >= 0 {
		return "", truncated, nil
	}
	return strings.ToValidUTF8(string(data), ""), truncated, nil
}

func extensionAllowed(ext string, allowed []string) bool {
	if len(allowed) == 0 {
		return true
	}
	extNorm := strings.ToLower(strings.TrimPrefix(ext, "."))
	for _, a := range allowed {
		if strings.ToLower(strings.TrimPrefix(a, ".")) == extNorm {
			return true
		}
	}
	return false
}

func inDir(dir, path string) bool {
	rel, err := filepath.Rel(dir, path)
	if err != nil || rel == "." {
		return false
	}
	return rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator))
}
