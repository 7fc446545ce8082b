package database

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"sync"
	"testing"
)

func writeFoos(t *testing.T, d *DB[*foo], n int) []*foo {
	t.Helper()
	var out []*foo
	for i := range n {
		f := &foo{A: i + 1, B: fmt.Sprintf("abc%d", i), C: ptr("def")}
		if err := d.Write(f); err != nil {
			t.Fatalf("Write failed: %v", err)
		}
		out = append(out, f)
	}
	return out
}

func TestDB_GeneralCapability(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "foos")
	d := openFoo(t, dir)

	written := writeFoos(t, d, 9)
	for i, f := range written {
		if f.Index != int64(i+1) {
			t.Errorf("record %d got index %d", i, f.Index)
		}
	}
	if got := d.NextIndex(); got != 10 {
		t.Errorf("NextIndex() = %d, want 10", got)
	}
	if n := d.Stop(); n != 0 {
		t.Fatalf("Stop() abandoned %d actions", n)
	}
	for i := 1; i <= 9; i++ {
		if _, err := os.Stat(filepath.Join(dir, fmt.Sprintf("%d.ddps", i))); err != nil {
			t.Errorf("record file %d: %v", i, err)
		}
	}
	b, err := os.ReadFile(filepath.Join(dir, "index.ddps"))
	if err != nil {
		t.Fatal(err)
	}
	if string(b) != "10" {
		t.Errorf("index.ddps = %q, want 10", b)
	}

	d2 := openFoo(t, dir)
	got, err := d2.Values()
	if err != nil {
		t.Fatal(err)
	}
	if !reflect.DeepEqual(got, written) {
		t.Fatalf("reloaded %v, want %v", got, written)
	}

	// Update then delete everything.
	for _, f := range got {
		u := f.Clone()
		u.A += 100
		if err := d2.Update(u); err != nil {
			t.Fatalf("Update failed: %v", err)
		}
	}
	if v, ok, err := d2.Get(3); err != nil || !ok || v.A != 103 {
		t.Errorf("Get(3) = %+v, %v, %v", v, ok, err)
	}
	for _, f := range got {
		if err := d2.Delete(f); err != nil {
			t.Fatalf("Delete failed: %v", err)
		}
	}
	d2.Stop()
	for i := 1; i <= 9; i++ {
		if _, err := os.Stat(filepath.Join(dir, fmt.Sprintf("%d.ddps", i))); !os.IsNotExist(err) {
			t.Errorf("record file %d still exists: %v", i, err)
		}
	}
}

func TestDB_VisibleBeforeFlush(t *testing.T) {
	d := openFoo(t, t.TempDir())
	f := &foo{A: 1, B: "x"}
	if err := d.Write(f); err != nil {
		t.Fatal(err)
	}
	got, err := d.Values()
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 1 || !reflect.DeepEqual(got[0], f) {
		t.Errorf("Values() = %v", got)
	}
}

func TestDB_ValuesAreCopies(t *testing.T) {
	d := openFoo(t, t.TempDir())
	f := &foo{A: 1, B: "x", C: ptr("y")}
	if err := d.Write(f); err != nil {
		t.Fatal(err)
	}
	f.B = "changed by caller"
	got, _ := d.Values()
	got[0].B = "changed"
	*got[0].C = "changed"
	again, _ := d.Values()
	if again[0].B != "x" || *again[0].C != "y" {
		t.Errorf("stored record was mutated: %+v", again[0])
	}
}

func TestDB_WriteReadRounds(t *testing.T) {
	dir := t.TempDir()

	d := openFoo(t, dir)
	writeFoos(t, d, 3)
	d.Stop()

	// Delete and update without an explicit load.
	d = openFoo(t, dir)
	if err := d.DeleteIndex(2); err != nil {
		t.Fatal(err)
	}
	if err := d.Update(&foo{Index: 3, A: 33, B: "updated"}); err != nil {
		t.Fatal(err)
	}
	d.Stop()

	d = openFoo(t, dir)
	got, err := d.Values()
	if err != nil {
		t.Fatal(err)
	}
	want := []*foo{
		{Index: 1, A: 1, B: "abc0", C: ptr("def")},
		{Index: 3, A: 33, B: "updated"},
	}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("got %+v, want %+v", got, want)
	}

	// New records continue after the highest index.
	f := &foo{A: 4}
	if err := d.Write(f); err != nil {
		t.Fatal(err)
	}
	if f.Index != 4 {
		t.Errorf("index = %d, want 4", f.Index)
	}
	d.Stop()
}

func TestDB_ResetOnEmpty(t *testing.T) {
	dir := t.TempDir()
	d := openFoo(t, dir)
	writeFoos(t, d, 3)
	for i := int64(1); i <= 3; i++ {
		if err := d.DeleteIndex(i); err != nil {
			t.Fatal(err)
		}
	}
	f := &foo{A: 1}
	if err := d.Write(f); err != nil {
		t.Fatal(err)
	}
	if f.Index != 1 {
		t.Errorf("index after emptying = %d, want 1", f.Index)
	}
	d.Stop()

	d = openFoo(t, dir)
	got, err := d.Values()
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 1 || got[0].Index != 1 || got[0].A != 1 {
		t.Errorf("reloaded %+v", got)
	}
	if n := d.NextIndex(); n != 2 {
		t.Errorf("NextIndex() = %d, want 2", n)
	}
}

func TestDB_ExplicitIndex(t *testing.T) {
	d := openFoo(t, t.TempDir())
	if err := d.Write(&foo{Index: 7, A: 1}); err != nil {
		t.Fatal(err)
	}
	f := &foo{A: 2}
	if err := d.Write(f); err != nil {
		t.Fatal(err)
	}
	if f.Index != 8 {
		t.Errorf("index = %d, want 8", f.Index)
	}
	if err := d.Write(&foo{Index: -1}); !errors.Is(err, ErrInvalidIndex) {
		t.Errorf("negative index: %v", err)
	}
}

func TestDB_NotFound(t *testing.T) {
	d := openFoo(t, t.TempDir())
	writeFoos(t, d, 1)
	tests := []struct {
		name string
		fn   func() error
	}{
		{"update", func() error { return d.Update(&foo{Index: 42}) }},
		{"delete", func() error { return d.Delete(&foo{Index: 42}) }},
		{"delete index", func() error { return d.DeleteIndex(42) }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.fn()
			var nf *NotFoundError
			if !errors.As(err, &nf) {
				t.Fatalf("expected *NotFoundError, got %v", err)
			}
			if got := err.Error(); got != "no data was found with id of 42" {
				t.Errorf("message = %q", got)
			}
		})
	}
}

func TestDB_EmptyAndCorruptFiles(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "1.ddps"), nil, 0o644); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, "2.ddps"), []byte("2|2|b|%NULL%\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	var logs syncBuffer
	d, err := New(dir, deserializeFoo, &Options{Logger: newTestLogger(&logs)})
	if err != nil {
		t.Fatal(err)
	}
	defer d.Stop()
	got, err := d.Values()
	if err != nil {
		t.Fatalf("empty file should be skipped: %v", err)
	}
	if len(got) != 1 || got[0].Index != 2 {
		t.Errorf("Values() = %+v", got)
	}
	if !strings.Contains(logs.String(), "file exists but empty, skipping") {
		t.Errorf("missing log line, got:\n%s", logs.String())
	}

	// A corrupt file fails the load and names the file.
	dir2 := t.TempDir()
	corrupt := filepath.Join(dir2, "3.ddps")
	if err := os.WriteFile(filepath.Join(dir2, "1.ddps"), nil, 0o644); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(corrupt, []byte("3|abc|b|c"), 0o644); err != nil {
		t.Fatal(err)
	}
	d2 := openFoo(t, dir2)
	_, err = d2.Values()
	var de *DeserializationError
	if !errors.As(err, &de) {
		t.Fatalf("expected *DeserializationError, got %v", err)
	}
	if de.Path != corrupt || !strings.Contains(err.Error(), corrupt) {
		t.Errorf("error doesn't name %s: %v", corrupt, err)
	}
	if !strings.Contains(err.Error(), "abc") {
		t.Errorf("error doesn't carry the root cause: %v", err)
	}

	// The load is retried once the file is repaired.
	if err := os.WriteFile(corrupt, []byte("3|3|b|c"), 0o644); err != nil {
		t.Fatal(err)
	}
	if n, err := d2.Len(); err != nil || n != 1 {
		t.Errorf("Len() = %d, %v", n, err)
	}
}

func TestDB_MissingDirectory(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "gone")
	var logs syncBuffer
	d, err := New(dir, deserializeFoo, &Options{Logger: newTestLogger(&logs)})
	if err != nil {
		t.Fatal(err)
	}
	defer d.Stop()
	if err := os.Remove(dir); err != nil {
		t.Fatal(err)
	}
	got, err := d.Values()
	if err != nil || len(got) != 0 {
		t.Fatalf("Values() = %v, %v", got, err)
	}
	if !strings.Contains(logs.String(), "directory missing, adding nothing to the data list") {
		t.Errorf("missing log line, got:\n%s", logs.String())
	}

	// Writes recreate the directory.
	if err := d.Write(&foo{A: 1}); err != nil {
		t.Fatal(err)
	}
	d.Stop()
	if _, err := os.Stat(filepath.Join(dir, "1.ddps")); err != nil {
		t.Error(err)
	}
}

func TestDB_IgnoresUnknownFiles(t *testing.T) {
	dir := t.TempDir()
	for _, name := range []string{"readme.txt", "0.ddps", "-1.ddps", "x.ddps", ".5.ddps.tmp123"} {
		if err := os.WriteFile(filepath.Join(dir, name), []byte("garbage%zz"), 0o644); err != nil {
			t.Fatal(err)
		}
	}
	if err := os.Mkdir(filepath.Join(dir, "7.ddps"), 0o755); err != nil {
		t.Fatal(err)
	}
	d := openFoo(t, dir)
	if n, err := d.Len(); err != nil || n != 0 {
		t.Errorf("Len() = %d, %v", n, err)
	}
}

func TestDB_FileNameIsAuthoritative(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "5.ddps"), []byte("9|1|a|b"), 0o644); err != nil {
		t.Fatal(err)
	}
	d := openFoo(t, dir)
	if _, ok, err := d.Get(5); err != nil || !ok {
		t.Fatalf("Get(5) = %v, %v", ok, err)
	}
	if n := d.NextIndex(); n != 6 {
		t.Errorf("NextIndex() = %d, want 6", n)
	}
}

func TestDB_IndexFile(t *testing.T) {
	tests := []struct {
		name    string
		content string
		want    int64
		wantErr bool
	}{
		{"number", "12", 12, false},
		{"trailing newline", "12\n", 12, false},
		{"empty", "", 0, true},
		{"not a number", "twelve", 0, true},
		{"zero", "0", 0, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dir := t.TempDir()
			p := filepath.Join(dir, "index.ddps")
			if err := os.WriteFile(p, []byte(tt.content), 0o644); err != nil {
				t.Fatal(err)
			}
			d, err := New(dir, deserializeFoo, nil)
			if tt.wantErr {
				var ce *ConfigurationError
				if !errors.As(err, &ce) {
					t.Fatalf("expected *ConfigurationError, got %v", err)
				}
				if ce.Path != p || !strings.Contains(err.Error(), "failed to read "+p+" in DB constructor") {
					t.Errorf("error = %v", err)
				}
				return
			}
			if err != nil {
				t.Fatal(err)
			}
			defer d.Stop()
			if got := d.NextIndex(); got != tt.want {
				t.Errorf("NextIndex() = %d, want %d", got, tt.want)
			}
		})
	}
}

func TestDB_NilDeserializer(t *testing.T) {
	if _, err := New[*foo](t.TempDir(), nil, nil); err == nil {
		t.Error("expected an error")
	}
}

func TestDB_Stopped(t *testing.T) {
	d := openFoo(t, t.TempDir())
	writeFoos(t, d, 2)
	if n := d.Stop(); n != 0 {
		t.Errorf("Stop() = %d", n)
	}
	if n := d.Stop(); n != 0 {
		t.Errorf("second Stop() = %d", n)
	}
	if err := d.Write(&foo{A: 1}); !errors.Is(err, ErrStopped) {
		t.Errorf("Write after stop: %v", err)
	}
	if err := d.Update(&foo{Index: 1}); !errors.Is(err, ErrStopped) {
		t.Errorf("Update after stop: %v", err)
	}
	if err := d.DeleteIndex(1); !errors.Is(err, ErrStopped) {
		t.Errorf("Delete after stop: %v", err)
	}
	if n, err := d.Len(); err != nil || n != 2 {
		t.Errorf("Len() after stop = %d, %v", n, err)
	}
}

func TestDB_ConcurrentWrites(t *testing.T) {
	dir := t.TempDir()
	d := openFoo(t, dir)
	const workers, each = 8, 25
	var wg sync.WaitGroup
	indexes := make(chan int64, workers*each)
	for w := range workers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := range each {
				f := &foo{A: w*each + i, B: "x"}
				if err := d.Write(f); err != nil {
					t.Error(err)
					return
				}
				indexes <- f.Index
			}
		}()
	}
	wg.Wait()
	close(indexes)
	seen := map[int64]bool{}
	for idx := range indexes {
		if seen[idx] {
			t.Errorf("index %d assigned twice", idx)
		}
		seen[idx] = true
	}
	if len(seen) != workers*each {
		t.Errorf("got %d indexes", len(seen))
	}
	waitIdle(t, d)
	d.Stop()

	d2 := openFoo(t, dir)
	if n, err := d2.Len(); err != nil || n != workers*each {
		t.Errorf("reloaded Len() = %d, %v", n, err)
	}
}

func TestDB_ConcurrentFirstLoad(t *testing.T) {
	dir := t.TempDir()
	d := openFoo(t, dir)
	writeFoos(t, d, 20)
	d.Stop()

	d = openFoo(t, dir)
	var wg sync.WaitGroup
	for range 16 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			got, err := d.Values()
			if err != nil {
				t.Error(err)
				return
			}
			if len(got) != 20 {
				t.Errorf("Values() returned %d records", len(got))
			}
		}()
	}
	wg.Wait()
}

func TestDB_Load(t *testing.T) {
	dir := t.TempDir()
	d := openFoo(t, dir)
	if err := d.Load(); err != nil {
		t.Fatal(err)
	}
	if err := d.Write(&foo{A: 1, B: "memory"}); err != nil {
		t.Fatal(err)
	}
	waitIdle(t, d)
	// Files dropped in by hand are picked up by a rescan. Memory wins on
	// conflicts.
	if err := os.WriteFile(filepath.Join(dir, "1.ddps"), []byte("1|1|disk|%NULL%"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, "4.ddps"), []byte("4|4|disk|%NULL%"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := d.Load(); err != nil {
		t.Fatal(err)
	}
	got, _ := d.Values()
	if len(got) != 2 || got[0].B != "memory" || got[1].Index != 4 {
		t.Errorf("Values() = %+v", got)
	}
	if n := d.NextIndex(); n != 5 {
		t.Errorf("NextIndex() = %d, want 5", n)
	}
}

func TestDB_LoadSkipsQueuedDeletes(t *testing.T) {
	dir := t.TempDir()
	d := openFoo(t, dir)
	for i := range 2 {
		if err := d.Write(&foo{A: i}); err != nil {
			t.Fatal(err)
		}
	}
	waitIdle(t, d)

	// Hold the worker so the delete below stays queued.
	release := make(chan struct{})
	d.q.push(action{kind: actionWrite, path: filepath.Join(dir, "hold.tmp"), done: func() { <-release }})
	if err := d.DeleteIndex(2); err != nil {
		t.Fatal(err)
	}
	if err := d.Load(); err != nil {
		close(release)
		t.Fatal(err)
	}
	n, _ := d.Len()
	next := d.NextIndex()
	close(release)
	if n != 1 {
		t.Errorf("Len() after Load = %d, want 1", n)
	}
	if next != 3 {
		t.Errorf("NextIndex() after Load = %d, want 3", next)
	}
	waitIdle(t, d)
	if _, err := os.Stat(filepath.Join(dir, "2.ddps")); !os.IsNotExist(err) {
		t.Errorf("2.ddps still on disk: %v", err)
	}

	// Once the delete is done, rescans behave normally again.
	if err := d.Load(); err != nil {
		t.Fatal(err)
	}
	if n, _ := d.Len(); n != 1 {
		t.Errorf("Len() after flush = %d, want 1", n)
	}
	d.mu.Lock()
	left := len(d.deleting)
	d.mu.Unlock()
	if left != 0 {
		t.Errorf("%d deletes still tracked", left)
	}
}

func TestDB_LoadAfterDeletingEverything(t *testing.T) {
	dir := t.TempDir()
	d := openFoo(t, dir)
	if err := d.Write(&foo{A: 1}); err != nil {
		t.Fatal(err)
	}
	waitIdle(t, d)

	release := make(chan struct{})
	d.q.push(action{kind: actionWrite, path: filepath.Join(dir, "hold.tmp"), done: func() { <-release }})
	if err := d.DeleteIndex(1); err != nil {
		t.Fatal(err)
	}
	err := d.Load()
	close(release)
	if err != nil {
		t.Fatal(err)
	}
	if n := d.NextIndex(); n != 1 {
		t.Errorf("NextIndex() = %d, want 1", n)
	}
	waitIdle(t, d)
	r := &foo{A: 2}
	if err := d.Write(r); err != nil {
		t.Fatal(err)
	}
	if r.Index != 1 {
		t.Errorf("Write() assigned index %d, want 1", r.Index)
	}
}

func TestDB_Dir(t *testing.T) {
	dir := t.TempDir()
	d := openFoo(t, dir)
	if d.Dir() != dir {
		t.Errorf("Dir() = %q", d.Dir())
	}
}
