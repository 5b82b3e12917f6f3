package gpucompute

import (
	"bytes"
	"context"
	"log/slog"
	"strings"
	"sync"
	"testing"
)

// swapLogger installs a text logger at level and restores the previous
// logger when the test ends.
func swapLogger(t *testing.T, level slog.Level) *bytes.Buffer {
	t.Helper()
	orig := Logger()
	t.Cleanup(func() { SetLogger(orig) })

	var buf bytes.Buffer
	SetLogger(slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: level})))
	return &buf
}

func TestNopHandler(t *testing.T) {
	var h slog.Handler = nopHandler{}
	if h.Enabled(context.Background(), slog.LevelError) {
		t.Error("nopHandler enabled at error level")
	}
	if err := h.Handle(context.Background(), slog.Record{}); err != nil {
		t.Errorf("Handle() = %v", err)
	}
	if _, ok := h.WithAttrs([]slog.Attr{slog.Int("slot", 1)}).WithGroup("g").(nopHandler); !ok {
		t.Error("derived handler is not a nopHandler")
	}
}

func TestLogger_SilentByDefault(t *testing.T) {
	orig := Logger()
	t.Cleanup(func() { SetLogger(orig) })

	for _, l := range []*slog.Logger{orig, func() *slog.Logger { SetLogger(nil); return Logger() }()} {
		if l == nil {
			t.Fatal("Logger() returned nil")
		}
		for _, level := range []slog.Level{slog.LevelDebug, slog.LevelInfo, slog.LevelWarn, slog.LevelError} {
			if l.Enabled(context.Background(), level) {
				t.Errorf("silent logger enabled for %v", level)
			}
		}
	}
}

func TestSetLogger(t *testing.T) {
	buf := swapLogger(t, slog.LevelDebug)

	Logger().Debug("dispatch", "passes", 2)
	if !strings.Contains(buf.String(), "passes=2") {
		t.Errorf("record not written: %q", buf.String())
	}
}

type mockLoggedDevice struct {
	mu     sync.Mutex
	logger *slog.Logger
}

func (m *mockLoggedDevice) SetLogger(l *slog.Logger) {
	m.mu.Lock()
	m.logger = l
	m.mu.Unlock()
}

func (m *mockLoggedDevice) current() *slog.Logger {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.logger
}

func TestSetLoggerPropagatesToDevice(t *testing.T) {
	orig := Logger()
	t.Cleanup(func() { SetLogger(orig) })

	mock := &mockLoggedDevice{}
	trackLogger(mock)
	if mock.current() != Logger() {
		t.Error("trackLogger did not hand over the current logger")
	}

	custom := slog.New(slog.NewTextHandler(&bytes.Buffer{}, nil))
	SetLogger(custom)
	if mock.current() != custom {
		t.Error("SetLogger did not reach the tracked device")
	}

	untrackLogger(mock)
	SetLogger(nil)
	if mock.current() != custom {
		t.Error("SetLogger reached an untracked device")
	}

	// Devices without SetLogger are ignored.
	trackLogger(struct{}{})
	untrackLogger(struct{}{})
}

func TestEngineLogsDroppedPass(t *testing.T) {
	buf := swapLogger(t, slog.LevelWarn)

	_, c := newTestContext(t)
	w, err := NewWorker(c, NewState(scaleData{K: 1, Values: []float32{1}}))
	if err != nil {
		t.Fatal(err)
	}
	job := NewJob("main", Workgroup{1, 1, 1})
	job.AddPass("unknown", Workgroup{1, 1, 1})
	w.Trigger(job)
	if err := c.Engine().Tick(context.Background()); err != nil {
		t.Fatal(err)
	}

	out := buf.String()
	if !strings.Contains(out, "pass dropped") || !strings.Contains(out, "worker=scale") {
		t.Errorf("expected a dropped pass warning, got: %s", out)
	}
	if strings.Contains(out, "level=INFO") {
		t.Errorf("info records leaked past the warn level: %s", out)
	}
}

func TestEngineLogsRequeue(t *testing.T) {
	buf := swapLogger(t, slog.LevelWarn)

	_, c := newTestContext(t)
	w, err := NewWorker(c, NewState(fillData{Target: 99}), WithRetryLimit(0))
	if err != nil {
		t.Fatal(err)
	}
	w.Trigger(NewJob("fill", Workgroup{1, 1, 1}))
	tick(t, c.Engine(), 1)

	out := buf.String()
	if !strings.Contains(out, "job requeued") || !strings.Contains(out, "retry=1") {
		t.Errorf("expected a requeue warning, got: %s", out)
	}
}

func TestLoggerConcurrentAccess(t *testing.T) {
	orig := Logger()
	t.Cleanup(func() { SetLogger(orig) })

	mock := &mockLoggedDevice{}
	trackLogger(mock)
	defer untrackLogger(mock)

	var wg sync.WaitGroup
	for range 50 {
		wg.Add(2)
		go func() {
			defer wg.Done()
			Logger().Debug("concurrent read")
		}()
		go func() {
			defer wg.Done()
			SetLogger(slog.Default())
			SetLogger(nil)
		}()
	}
	wg.Wait()

	if mock.current() == nil {
		t.Error("tracked device lost its logger")
	}
}

func BenchmarkLoggerDisabledLog(b *testing.B) {
	l := Logger()
	b.ReportAllocs()
	for b.Loop() {
		l.Debug("dispatch", "passes", 1)
	}
}
