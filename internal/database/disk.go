// On-disk layout: one file per record plus the index counter file.

package database

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

// FileSuffix is the extension of every file written by a DB.
const FileSuffix = ".ddps"

const indexFileName = "index" + FileSuffix

func recordPath(dir string, index int64) string {
	return filepath.Join(dir, strconv.FormatInt(index, 10)+FileSuffix)
}

func indexPath(dir string) string {
	return filepath.Join(dir, indexFileName)
}

// parseRecordName returns the index encoded in a record file name.
func parseRecordName(name string) (int64, bool) {
	stem, ok := strings.CutSuffix(name, FileSuffix)
	if !ok || stem == "" || stem[0] < '0' || stem[0] > '9' {
		return 0, false
	}
	index, err := strconv.ParseInt(stem, 10, 64)
	if err != nil || index <= 0 {
		return 0, false
	}
	return index, true
}

// readIndexFile returns the persisted next index, or 1 when the counter file
// doesn't exist yet.
func readIndexFile(path string) (int64, error) {
	data, err := os.ReadFile(path) //nolint:gosec // G304: path is built from the collection directory
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return 1, nil
		}
		return 0, &ConfigurationError{Path: path, Err: err}
	}
	s := strings.TrimSpace(string(data))
	if s == "" {
		return 0, &ConfigurationError{Path: path, Err: errEmptyIndexFile}
	}
	next, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0, &ConfigurationError{Path: path, Err: err}
	}
	if next < 1 {
		return 0, &ConfigurationError{Path: path, Err: fmt.Errorf("%w: %d", ErrInvalidIndex, next)}
	}
	return next, nil
}

// readRecordFile returns the trimmed content of a record file. ok is false
// when there is nothing to load from it.
func readRecordFile(path string) (content string, ok bool, err error) {
	data, err := os.ReadFile(path) //nolint:gosec // G304: path comes from listing the collection directory
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return "", false, nil
		}
		return "", false, fmt.Errorf("failed to read %s: %w", path, err)
	}
	return strings.TrimRight(string(data), "\r\n"), true, nil
}

// loadDataFromDisk reads every record file in the collection directory.
//
// Nothing is merged into memory here; the caller does that once the whole
// directory has been read successfully.
func (d *DB[T]) loadDataFromDisk() ([]T, error) {
	entries, err := os.ReadDir(d.dir)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			d.log.Info("directory missing, adding nothing to the data list", "dir", d.dir)
			return nil, nil
		}
		return nil, fmt.Errorf("failed to list %s: %w", d.dir, err)
	}
	var out []T
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		index, ok := parseRecordName(e.Name())
		if !ok {
			if e.Name() != indexFileName {
				d.log.Debug("Ignoring unknown file", "file", e.Name())
			}
			continue
		}
		p := filepath.Join(d.dir, e.Name())
		content, found, err := readRecordFile(p)
		if err != nil {
			return nil, err
		}
		if !found {
			d.log.Info("file missing, skipping", "file", e.Name())
			continue
		}
		if content == "" {
			d.log.Info("file exists but empty, skipping", "file", e.Name())
			continue
		}
		r, err := d.deserialize(content)
		if err != nil {
			return nil, &DeserializationError{Path: p, Data: content, Err: err}
		}
		if got := r.GetIndex(); got != index {
			d.log.Warn("Record index differs from its file name, using the file name", "file", e.Name(), "index", got)
			r.SetIndex(index)
		}
		out = append(out, r)
	}
	return out, nil
}

// writeFileAtomic replaces path with content through a temporary file in the
// same directory. The directory is recreated if it disappeared.
func writeFileAtomic(path, content string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil { //nolint:gosec // G301: 0o755 is intentional for data directories
		return fmt.Errorf("failed to create directory %s: %w", dir, err)
	}
	f, err := os.CreateTemp(dir, "."+filepath.Base(path)+".tmp*")
	if err != nil {
		return fmt.Errorf("failed to create temp file for %s: %w", path, err)
	}
	tmp := f.Name()
	if _, err := f.WriteString(content); err != nil {
		_ = f.Close()
		_ = os.Remove(tmp)
		return fmt.Errorf("failed to write %s: %w", path, err)
	}
	if err := f.Close(); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("failed to close %s: %w", path, err)
	}
	if err := os.Rename(tmp, path); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("failed to rename %s: %w", path, err)
	}
	return nil
}

// removeFile deletes path. A file that is already gone is not an error.
func removeFile(path string) error {
	if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("failed to delete %s: %w", path, err)
	}
	return nil
}
