package database

import (
	"cmp"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"slices"
)

// FileStatus classifies a record file found by Inspect.
type FileStatus string

// File statuses reported by Inspect.
const (
	FileOK      FileStatus = "ok"
	FileEmpty   FileStatus = "empty"
	FileCorrupt FileStatus = "corrupt"
)

// FileReport describes one record file.
type FileReport struct {
	Name   string
	Index  int64
	Size   int64
	Fields int
	Status FileStatus
	Err    error
}

// Report is the result of Inspect.
type Report struct {
	Dir string
	// NextIndex is the persisted counter. It is 1 when the counter file is
	// missing and 0 when CounterErr is set.
	NextIndex  int64
	CounterErr error
	Files      []FileReport
	// Ignored lists file names that are neither records nor the counter.
	Ignored []string
}

// Corrupt returns the number of files that couldn't be decoded.
func (r *Report) Corrupt() int {
	n := 0
	for i := range r.Files {
		if r.Files[i].Status == FileCorrupt {
			n++
		}
	}
	return n
}

// Inspect examines a collection directory without opening a DB on it.
//
// It only checks that each record file is a well formed line of escaped
// fields; it doesn't know the record schema.
func Inspect(dir string) (*Report, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("collection %s: %w", dir, err)
		}
		return nil, fmt.Errorf("failed to list %s: %w", dir, err)
	}
	rep := &Report{Dir: dir}
	if rep.NextIndex, err = readIndexFile(indexPath(dir)); err != nil {
		rep.CounterErr = err
	}
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		index, ok := parseRecordName(e.Name())
		if !ok {
			if e.Name() != indexFileName {
				rep.Ignored = append(rep.Ignored, e.Name())
			}
			continue
		}
		fr := FileReport{Name: e.Name(), Index: index, Status: FileOK}
		if info, err := e.Info(); err == nil {
			fr.Size = info.Size()
		}
		content, found, err := readRecordFile(filepath.Join(dir, e.Name()))
		switch {
		case err != nil:
			fr.Status, fr.Err = FileCorrupt, err
		case !found || content == "":
			fr.Status = FileEmpty
		default:
			fields, err := Deserialize(content)
			if err != nil {
				fr.Status, fr.Err = FileCorrupt, err
			} else {
				fr.Fields = len(fields)
			}
		}
		rep.Files = append(rep.Files, fr)
	}
	slices.SortFunc(rep.Files, func(a, b FileReport) int {
		return cmp.Compare(a.Index, b.Index)
	})
	return rep, nil
}
