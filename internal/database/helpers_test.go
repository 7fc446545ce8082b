package database

import (
	"bytes"
	"log/slog"
	"sync"
	"testing"
	"time"
)

// foo is the record used throughout the package tests.
type foo struct {
	Index int64
	A     int
	B     string
	C     *string
}

func (f *foo) GetIndex() int64      { return f.Index }
func (f *foo) SetIndex(index int64) { f.Index = index }

func (f *foo) Serialize() string {
	return Serialize(f.Index, f.A, f.B, f.C)
}

func (f *foo) Clone() *foo {
	c := *f
	if f.C != nil {
		s := *f.C
		c.C = &s
	}
	return &c
}

func deserializeFoo(text string) (*foo, error) {
	d := NewDecoder(text, 4)
	f := &foo{Index: d.Int64(), A: d.Int(), B: d.String(), C: d.NullString()}
	if err := d.Err(); err != nil {
		return nil, err
	}
	return f, nil
}

func ptr(s string) *string {
	return &s
}

// syncBuffer is a bytes.Buffer safe for the worker goroutine to log into.
type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (s *syncBuffer) Write(p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.buf.Write(p)
}

func (s *syncBuffer) String() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.buf.String()
}

func newTestLogger(w *syncBuffer) *slog.Logger {
	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: slog.LevelDebug}))
}

func openFoo(t *testing.T, dir string) *DB[*foo] {
	t.Helper()
	d, err := New(dir, deserializeFoo, &Options{Logger: newTestLogger(&syncBuffer{})})
	if err != nil {
		t.Fatalf("New(%q) failed: %v", dir, err)
	}
	t.Cleanup(func() { d.Stop() })
	return d
}

// waitIdle blocks until every queued disk action completed.
func waitIdle(t *testing.T, d *DB[*foo]) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for d.Pending() > 0 {
		if time.Now().After(deadline) {
			t.Fatalf("queue still has %d actions", d.Pending())
		}
		time.Sleep(time.Millisecond)
	}
}
