// Package testutil provides logging helpers for tests.
package testutil

import (
	"context"
	"log/slog"
	"sync"
	"testing"
)

// NewTestLogger returns a debug logger that writes to t.Log.
// Logs only appear on test failure or when running with -v.
func NewTestLogger(t testing.TB) *slog.Logger {
	t.Helper()
	return slog.New(slog.NewTextHandler(testWriter{t}, &slog.HandlerOptions{
		Level: slog.LevelDebug,
	}))
}

type testWriter struct {
	t testing.TB
}

func (w testWriter) Write(p []byte) (n int, err error) {
	w.t.Helper()
	w.t.Log(string(p))
	return len(p), nil
}

// LogRecorder keeps every record logged through its handler so tests can
// assert on lifecycle events.
type LogRecorder struct {
	mu      sync.Mutex
	records []slog.Record
	next    slog.Handler
}

// NewRecordingLogger returns a logger that records into the returned
// LogRecorder and also writes to t.Log.
func NewRecordingLogger(t testing.TB) (*slog.Logger, *LogRecorder) {
	t.Helper()
	rec := &LogRecorder{next: NewTestLogger(t).Handler()}
	return slog.New(rec), rec
}

// Enabled implements slog.Handler.
func (r *LogRecorder) Enabled(context.Context, slog.Level) bool { return true }

// Handle implements slog.Handler.
func (r *LogRecorder) Handle(ctx context.Context, record slog.Record) error {
	r.mu.Lock()
	r.records = append(r.records, record.Clone())
	r.mu.Unlock()
	return r.next.Handle(ctx, record)
}

// WithAttrs implements slog.Handler. Attributes are passed on to t.Log
// output only.
func (r *LogRecorder) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &forward{LogRecorder: r, next: r.next.WithAttrs(attrs)}
}

// WithGroup implements slog.Handler.
func (r *LogRecorder) WithGroup(name string) slog.Handler {
	return &forward{LogRecorder: r, next: r.next.WithGroup(name)}
}

// Messages returns the messages logged at level or above, in order.
func (r *LogRecorder) Messages(level slog.Level) []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []string
	for _, rec := range r.records {
		if rec.Level >= level {
			out = append(out, rec.Message)
		}
	}
	return out
}

// Count returns how many records carry msg.
func (r *LogRecorder) Count(msg string) int {
	n := 0
	for _, m := range r.Messages(slog.LevelDebug) {
		if m == msg {
			n++
		}
	}
	return n
}

// Attr returns the value of key on the first record carrying msg.
func (r *LogRecorder) Attr(msg, key string) (slog.Value, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, rec := range r.records {
		if rec.Message != msg {
			continue
		}
		var val slog.Value
		found := false
		rec.Attrs(func(a slog.Attr) bool {
			if a.Key == key {
				val, found = a.Value, true
				return false
			}
			return true
		})
		return val, found
	}
	return slog.Value{}, false
}

type forward struct {
	*LogRecorder
	next slog.Handler
}

func (f *forward) Handle(ctx context.Context, record slog.Record) error {
	f.mu.Lock()
	f.records = append(f.records, record.Clone())
	f.mu.Unlock()
	return f.next.Handle(ctx, record)
}

func (f *forward) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &forward{LogRecorder: f.LogRecorder, next: f.next.WithAttrs(attrs)}
}

func (f *forward) WithGroup(name string) slog.Handler {
	return &forward{LogRecorder: f.LogRecorder, next: f.next.WithGroup(name)}
}
