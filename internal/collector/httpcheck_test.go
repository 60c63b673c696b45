package collector

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/t77yq/statuswatch/internal/model"
)

func checkAgainst(t *testing.T, handler http.HandlerFunc, timeout time.Duration) model.Scalar {
	t.Helper()

	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	logger, _ := zap.NewDevelopment()
	check := NewHTTPCheck(logger, "service", HTTPCheckConfig{
		EntityID:   "svc",
		EntityName: "Service",
		URL:        srv.URL,
		Timeout:    timeout,
	})

	obs, err := check.Collect(context.Background())
	require.NoError(t, err)
	require.Equal(t, "svc", obs.EntityID)
	return obs
}

func TestHTTPCheck_Operational(t *testing.T) {
	obs := checkAgainst(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}, 5*time.Second)
	require.Equal(t, model.StatusOperational, obs.Status)
}

func TestHTTPCheck_ServerErrorIsOutage(t *testing.T) {
	obs := checkAgainst(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}, 5*time.Second)
	require.Equal(t, model.StatusOutage, obs.Status)
	require.Contains(t, obs.Detail, "503")
}

func TestHTTPCheck_ClientErrorIsDegraded(t *testing.T) {
	obs := checkAgainst(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	}, 5*time.Second)
	require.Equal(t, model.StatusDegraded, obs.Status)
}

func TestHTTPCheck_TimeoutIsOutage(t *testing.T) {
	// The upstream hangs past the check timeout; the timeout is a
	// reportable observation, not an error
	obs := checkAgainst(t, func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(500 * time.Millisecond)
	}, 50*time.Millisecond)
	require.Equal(t, model.StatusOutage, obs.Status)
	require.Contains(t, obs.Detail, "request failed")
}

func TestHTTPCheck_UnreachableIsOutage(t *testing.T) {
	logger, _ := zap.NewDevelopment()
	check := NewHTTPCheck(logger, "service", HTTPCheckConfig{
		EntityID: "svc",
		URL:      "http://127.0.0.1:1/nothing",
		Timeout:  time.Second,
	})

	obs, err := check.Collect(context.Background())
	require.NoError(t, err)
	require.Equal(t, model.StatusOutage, obs.Status)
}
