package supervisor

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"sync/atomic"
	"testing"
	"time"
)

type fakeHTTPServer struct {
	started  chan struct{}
	stop     chan struct{}
	startErr error
	shutdown atomic.Int32
}

func newFakeHTTPServer() *fakeHTTPServer {
	return &fakeHTTPServer{started: make(chan struct{}), stop: make(chan struct{})}
}

func (f *fakeHTTPServer) Start() error {
	close(f.started)
	if f.startErr != nil {
		return f.startErr
	}
	<-f.stop
	return http.ErrServerClosed
}

func (f *fakeHTTPServer) Shutdown(context.Context) error {
	f.shutdown.Add(1)
	close(f.stop)
	return nil
}

func TestHTTPService_ShutdownOnCancel(t *testing.T) {
	srv := newFakeHTTPServer()
	svc := NewHTTPService(srv, time.Second)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- svc.Serve(ctx) }()

	<-srv.started
	cancel()

	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Errorf("Serve() = %v, want context.Canceled", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Serve did not return after cancel")
	}
	if got := srv.shutdown.Load(); got != 1 {
		t.Errorf("Shutdown called %d times, want 1", got)
	}
}

func TestHTTPService_StartFailure(t *testing.T) {
	srv := newFakeHTTPServer()
	srv.startErr = errors.New("address in use")
	svc := NewHTTPService(srv, time.Second)

	err := svc.Serve(context.Background())
	if err == nil || !errors.Is(err, srv.startErr) {
		t.Errorf("Serve() = %v, want wrapped start error", err)
	}
}

type fakeRunner struct {
	runs atomic.Int32
	err  error
}

func (f *fakeRunner) Run(ctx context.Context) error {
	f.runs.Add(1)
	if f.err != nil {
		return f.err
	}
	<-ctx.Done()
	return nil
}

func TestLoopService(t *testing.T) {
	t.Run("returns context error on cancel", func(t *testing.T) {
		svc := NewLoopService("ingestion", &fakeRunner{})
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		if err := svc.Serve(ctx); !errors.Is(err, context.Canceled) {
			t.Errorf("Serve() = %v, want context.Canceled", err)
		}
	})

	t.Run("wraps runner error", func(t *testing.T) {
		boom := errors.New("boom")
		svc := NewLoopService("ingestion", &fakeRunner{err: boom})
		err := svc.Serve(context.Background())
		if !errors.Is(err, boom) {
			t.Errorf("Serve() = %v, want wrapped boom", err)
		}
	})

	if got := NewLoopService("ingestion", &fakeRunner{}).String(); got != "ingestion" {
		t.Errorf("String() = %q", got)
	}
}

func TestTree_RunsAndStops(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	tree := NewTree("test", logger, TreeConfig{ShutdownTimeout: time.Second})

	runner := &fakeRunner{}
	tree.AddDataService(NewLoopService("ingestion", runner))
	srv := newFakeHTTPServer()
	tree.AddAPIService(NewHTTPService(srv, time.Second))

	ctx, cancel := context.WithCancel(context.Background())
	errCh := tree.ServeBackground(ctx)

	select {
	case <-srv.started:
	case <-time.After(2 * time.Second):
		t.Fatal("http service not started")
	}
	deadline := time.Now().Add(2 * time.Second)
	for runner.runs.Load() == 0 && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	cancel()

	select {
	case <-errCh:
	case <-time.After(3 * time.Second):
		t.Fatal("tree did not stop")
	}
	if runner.runs.Load() < 1 {
		t.Error("ingestion runner never ran")
	}
	if srv.shutdown.Load() != 1 {
		t.Errorf("Shutdown called %d times, want 1", srv.shutdown.Load())
	}
}
