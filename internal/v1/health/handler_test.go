package health

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubChecker struct{ status string }

func (s stubChecker) Check(context.Context) string { return s.status }

func serve(t *testing.T, h *Handler, path string) *httptest.ResponseRecorder {
	t.Helper()
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.GET("/health/live", h.Liveness)
	r.GET("/health/ready", h.Readiness)

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, path, nil))
	return w
}

func TestLivenessAlwaysOK(t *testing.T) {
	w := serve(t, NewHandler(nil, stubChecker{"unhealthy"}), "/health/live")
	assert.Equal(t, http.StatusOK, w.Code)

	var res LivenessResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &res))
	assert.Equal(t, "alive", res.Status)
}

func TestReadinessAllHealthy(t *testing.T) {
	w := serve(t, NewHandler(nil, stubChecker{"healthy"}), "/health/ready")
	assert.Equal(t, http.StatusOK, w.Code)

	var res ReadinessResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &res))
	assert.Equal(t, "ready", res.Status)
	assert.Equal(t, "healthy", res.Checks["redis"])
	assert.Equal(t, "healthy", res.Checks["identity"])
}

func TestReadinessUnhealthyIdentity(t *testing.T) {
	w := serve(t, NewHandler(nil, stubChecker{"unhealthy"}), "/health/ready")
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)

	var res ReadinessResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &res))
	assert.Equal(t, "unavailable", res.Status)
	assert.Equal(t, "unhealthy", res.Checks["identity"])
}

func TestIdentityCheckerAgainstHTTPServer(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		// Even an auth error proves reachability.
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer server.Close()

	checker := NewIdentityChecker(server.URL)
	assert.Equal(t, "healthy", checker.Check(t.Context()))

	server.Close()
	assert.Equal(t, "unhealthy", checker.Check(t.Context()))
}
