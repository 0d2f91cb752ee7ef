package server

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/GriffinCanCode/AgentOS/exokernel/internal/hardware/nic"
	"github.com/GriffinCanCode/AgentOS/exokernel/internal/infrastructure/config"
	"github.com/GriffinCanCode/AgentOS/exokernel/internal/infrastructure/logging"
)

func testConfig() *config.Config {
	cfg := config.Default()
	cfg.Kernel.NEnv = 64
	cfg.Kernel.NPages = 1024
	cfg.Kernel.ReservedPages = 16
	cfg.Server.Enabled = false
	cfg.Logging.Development = true
	return cfg
}

// start runs s in the background and returns a function that stops it and
// reports Run's result.
func start(t *testing.T, s *Server, in io.Reader) func() error {
	t.Helper()
	done := make(chan error, 1)
	go func() { done <- s.Run(context.Background(), in, io.Discard) }()
	return func() error {
		s.Stop()
		select {
		case err := <-done:
			return err
		case <-time.After(10 * time.Second):
			t.Fatal("server did not stop")
			return nil
		}
	}
}

func TestNewRejectsInvalidConfig(t *testing.T) {
	cfg := testConfig()
	cfg.Kernel.NEnv = 100
	_, err := New(cfg, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "kernel.nenv")
}

func TestNewRejectsUnknownProgram(t *testing.T) {
	cfg := testConfig()
	cfg.Kernel.Programs = []string{"nosuch"}
	_, err := New(cfg, nil)
	assert.Error(t, err)
}

func TestBootWithoutNIC(t *testing.T) {
	cfg := testConfig()
	cfg.NIC.Enabled = false
	s, err := New(cfg, logging.NewNop())
	require.NoError(t, err)
	assert.Nil(t, s.Device())

	w := httptest.NewRecorder()
	s.Handler().ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/v1/net", nil))
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
}

func TestRouterHonoursCORSOrigins(t *testing.T) {
	cfg := testConfig()
	cfg.NIC.Enabled = false
	cfg.Server.CORSOrigins = []string{"https://dash.test"}
	s, err := New(cfg, logging.NewNop())
	require.NoError(t, err)

	request := func(origin string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodGet, "/health", nil)
		req.Header.Set("Origin", origin)
		w := httptest.NewRecorder()
		s.Handler().ServeHTTP(w, req)
		return w
	}
	w := request("https://dash.test")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "https://dash.test", w.Header().Get("Access-Control-Allow-Origin"))
	assert.Equal(t, http.StatusForbidden, request("https://evil.test").Code)
}

func TestProgramsRunAtBoot(t *testing.T) {
	cfg := testConfig()
	cfg.Kernel.Programs = []string{"hello"}
	var out bytes.Buffer
	s, err := New(cfg, nil, WithConsole(&out))
	require.NoError(t, err)

	stop := start(t, s, nil)
	assert.Eventually(t, func() bool {
		return strings.Contains(string(s.Kernel().Console().History()), "hello, world\n")
	}, 5*time.Second, 10*time.Millisecond)
	require.NoError(t, stop())
	assert.Empty(t, s.Kernel().Envs())
}

func TestEchoThroughAttachedNIC(t *testing.T) {
	cfg := testConfig()
	cfg.Kernel.Programs = []string{"netecho"}
	capture := nic.NewCapture()
	s, err := New(cfg, nil, WithLink(capture))
	require.NoError(t, err)
	require.NotNil(t, s.Device())

	stop := start(t, s, nil)
	frame := append([]byte{1, 1, 1, 1, 1, 1, 2, 2, 2, 2, 2, 2, 0x08, 0x00}, "ping"...)
	s.Device().Deliver(frame)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	got, err := capture.Wait(ctx, 1)
	require.NoError(t, err)
	require.NoError(t, stop())

	want := append([]byte{2, 2, 2, 2, 2, 2, 1, 1, 1, 1, 1, 1, 0x08, 0x00}, "ping"...)
	assert.Equal(t, want, got[0])
}

func TestMonitorExitStopsServer(t *testing.T) {
	cfg := testConfig()
	s, err := New(cfg, nil)
	require.NoError(t, err)

	var out bytes.Buffer
	err = s.Run(context.Background(), strings.NewReader("kerninfo\nexit\n"), &out)
	require.NoError(t, err)
	assert.Contains(t, out.String(), "Boot id: "+s.Kernel().BootID().String())
	assert.Contains(t, out.String(), "Shutting down")
}

func TestServesHTTP(t *testing.T) {
	cfg := testConfig()
	cfg.Server.Enabled = true
	cfg.Server.Addr = "127.0.0.1:0"
	s, err := New(cfg, nil)
	require.NoError(t, err)

	stop := start(t, s, nil)
	require.Eventually(t, func() bool { return s.Addr() != nil }, 5*time.Second, 10*time.Millisecond)

	resp, err := http.Get("http://" + s.Addr().String() + "/health")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.NotEmpty(t, resp.Header.Get("X-Request-ID"))

	require.NoError(t, stop())
}
