package main

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"
	"time"

	"github.com/voicegate-io/voicegate/pkg/gateway/config"
	gatewayserver "github.com/voicegate-io/voicegate/pkg/gateway/server"
)

// testServerConfig points every backend at a port nothing listens on,
// so availability probes fail fast and no network is needed.
func testServerConfig() config.Config {
	return config.Config{
		ConformerURL:        "http://127.0.0.1:9",
		OllamaURL:           "http://127.0.0.1:9",
		TTSURL:              "http://127.0.0.1:9",
		SampleRate:          16000,
		STTTimeout:          time.Second,
		ShutdownGracePeriod: time.Second,
	}
}

func TestRunMain_ReturnsNonZeroWhenConfigLoadFails(t *testing.T) {
	t.Parallel()

	var stderr bytes.Buffer
	exitCode := runMain(context.Background(), &stderr, serverDeps{
		loadConfig: func() (config.Config, error) {
			return config.Config{}, errors.New("boom")
		},
		newServer: func(ctx context.Context, cfg config.Config, logger *slog.Logger) (*gatewayserver.Server, error) {
			t.Fatalf("newServer should not be called when config load fails")
			return nil, nil
		},
		signalNotify: func(c chan<- os.Signal, sig ...os.Signal) {},
		signalStop:   func(c chan<- os.Signal) {},
	})

	if exitCode != 1 {
		t.Fatalf("exitCode=%d, want 1", exitCode)
	}
	if got := stderr.String(); got == "" {
		t.Fatalf("expected stderr output for startup error")
	}
}

func TestBuildHTTPServer_UsesConfiguredAddress(t *testing.T) {
	t.Parallel()

	cfg := config.Config{
		Addr:              "127.0.0.1:9999",
		ReadHeaderTimeout: 2 * time.Second,
	}

	srv := buildHTTPServer(cfg, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))

	if srv.Addr != cfg.Addr {
		t.Fatalf("Addr=%q, want %q", srv.Addr, cfg.Addr)
	}
	if srv.ReadHeaderTimeout != cfg.ReadHeaderTimeout {
		t.Fatalf("ReadHeaderTimeout=%v, want %v", srv.ReadHeaderTimeout, cfg.ReadHeaderTimeout)
	}
}

func TestRunServer_ShutsDownOnSignal(t *testing.T) {
	t.Parallel()

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	notified := make(chan chan<- os.Signal, 1)
	deps := serverDeps{
		loadConfig: func() (config.Config, error) {
			cfg := testServerConfig()
			cfg.Addr = "127.0.0.1:0"
			return cfg, nil
		},
		newServer:    gatewayserver.New,
		signalNotify: func(c chan<- os.Signal, sig ...os.Signal) { notified <- c },
		signalStop:   func(c chan<- os.Signal) {},
	}

	errCh := make(chan error, 1)
	go func() { errCh <- runServer(context.Background(), logger, deps) }()

	var sigCh chan<- os.Signal
	select {
	case sigCh = <-notified:
	case <-time.After(2 * time.Second):
		t.Fatal("signalNotify was never called")
	}
	sigCh <- os.Interrupt

	select {
	case err := <-errCh:
		if err != nil {
			t.Fatalf("runServer: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("runServer did not stop after the signal")
	}
}

func TestGatewayHandlerStack_Smoke(t *testing.T) {
	t.Parallel()

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	srv, err := gatewayserver.New(context.Background(), testServerConfig(), logger)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
		defer cancel()
		srv.Shutdown(ctx)
	})

	ts := httptest.NewServer(srv.Handler())
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/health")
	if err != nil {
		t.Fatalf("GET /health error: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status=%d, want %d", resp.StatusCode, http.StatusOK)
	}
}
