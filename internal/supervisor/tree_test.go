package supervisor

import (
	"context"
	"errors"
	"net/http"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/Tyrowin/gochat-rooms/internal/logging"
)

type fakeService struct {
	name    string
	started chan struct{}
	stopped atomic.Bool
	runs    atomic.Int32
	failN   int32
}

func newFakeService(name string) *fakeService {
	return &fakeService{name: name, started: make(chan struct{}, 8)}
}

func (f *fakeService) Serve(ctx context.Context) error {
	run := f.runs.Add(1)
	f.started <- struct{}{}
	if run <= f.failN {
		return errors.New("boom")
	}
	<-ctx.Done()
	f.stopped.Store(true)
	return ctx.Err()
}

func (f *fakeService) String() string {
	return f.name
}

func TestNewTreeAppliesDefaults(t *testing.T) {
	tree := NewTree(logging.NewSlogLogger(), TreeConfig{})
	require.Equal(t, DefaultTreeConfig(), tree.config)
}

func TestTreeRunsAndStopsServices(t *testing.T) {
	tree := NewTree(logging.NewSlogLogger(), TreeConfig{ShutdownTimeout: time.Second})
	data := newFakeService("data")
	messaging := newFakeService("messaging")
	api := newFakeService("api")
	tree.AddDataService(data)
	tree.AddMessagingService(messaging)
	tree.AddAPIService(api)

	ctx, cancel := context.WithCancel(context.Background())
	errCh := tree.ServeBackground(ctx)
	for _, svc := range []*fakeService{data, messaging, api} {
		select {
		case <-svc.started:
		case <-time.After(2 * time.Second):
			t.Fatalf("%s did not start", svc.name)
		}
	}

	cancel()
	select {
	case <-errCh:
	case <-time.After(3 * time.Second):
		t.Fatal("tree did not stop")
	}
	for _, svc := range []*fakeService{data, messaging, api} {
		require.True(t, svc.stopped.Load(), svc.name)
	}
	unstopped, err := tree.UnstoppedServiceReport()
	require.NoError(t, err)
	require.Empty(t, unstopped)
}

func TestTreeRestartsFailedService(t *testing.T) {
	tree := NewTree(logging.NewSlogLogger(), TreeConfig{FailureBackoff: 10 * time.Millisecond, ShutdownTimeout: time.Second})
	flaky := newFakeService("flaky")
	flaky.failN = 2
	tree.AddMessagingService(flaky)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	errCh := tree.ServeBackground(ctx)

	require.Eventually(t, func() bool { return flaky.runs.Load() >= 3 }, 5*time.Second, 10*time.Millisecond)
	cancel()
	<-errCh
}

type mockHTTPServer struct {
	listenErr error
	stopCh    chan struct{}
	shutdowns atomic.Int32
}

func (m *mockHTTPServer) ListenAndServe() error {
	if m.listenErr != nil {
		return m.listenErr
	}
	<-m.stopCh
	return http.ErrServerClosed
}

func (m *mockHTTPServer) Shutdown(context.Context) error {
	m.shutdowns.Add(1)
	close(m.stopCh)
	return nil
}

func TestHTTPServerServiceGracefulShutdown(t *testing.T) {
	server := &mockHTTPServer{stopCh: make(chan struct{})}
	svc := NewHTTPServerService(server, time.Second)
	require.Equal(t, "http-server", svc.String())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- svc.Serve(ctx) }()

	cancel()
	select {
	case err := <-done:
		require.ErrorIs(t, err, context.Canceled)
	case <-time.After(2 * time.Second):
		t.Fatal("service did not stop")
	}
	require.Equal(t, int32(1), server.shutdowns.Load())
}

func TestHTTPServerServiceReportsListenFailure(t *testing.T) {
	server := &mockHTTPServer{listenErr: errors.New("address in use"), stopCh: make(chan struct{})}
	svc := NewHTTPServerService(server, 0)

	err := svc.Serve(context.Background())
	require.ErrorContains(t, err, "address in use")
	require.Zero(t, server.shutdowns.Load())
}
