package api

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cuemby/burrow/pkg/metrics"
	"github.com/cuemby/burrow/pkg/storage"
)

func serve(hs *HealthServer, method, path string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, nil)
	w := httptest.NewRecorder()
	hs.GetHandler().ServeHTTP(w, req)
	return w
}

// TestHealthHandler tests the /health endpoint
func TestHealthHandler(t *testing.T) {
	hs := NewHealthServer(nil)

	tests := []struct {
		name           string
		method         string
		expectedStatus int
	}{
		{
			name:           "GET request succeeds",
			method:         http.MethodGet,
			expectedStatus: http.StatusOK,
		},
		{
			name:           "POST request fails",
			method:         http.MethodPost,
			expectedStatus: http.StatusMethodNotAllowed,
		},
		{
			name:           "DELETE request fails",
			method:         http.MethodDelete,
			expectedStatus: http.StatusMethodNotAllowed,
		},
	}

	for _, name := range metrics.DefaultCriticalComponents {
		metrics.UpdateComponent(name, true, "")
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := serve(hs, tt.method, "/health")
			assert.Equal(t, tt.expectedStatus, w.Code)

			if tt.expectedStatus == http.StatusOK {
				assert.Equal(t, "application/json", w.Header().Get("Content-Type"))
				var response metrics.HealthStatus
				require.NoError(t, json.NewDecoder(w.Body).Decode(&response))
				assert.NotEqual(t, metrics.StatusUnhealthy, response.Status)
				assert.False(t, response.Timestamp.IsZero())
			}
		})
	}
}

// TestReadyHandlerProbesStorage tests that /ready reflects the store
func TestReadyHandlerProbesStorage(t *testing.T) {
	store, err := storage.NewBoltStore(t.TempDir())
	require.NoError(t, err)
	hs := NewHealthServer(store)

	metrics.UpdateComponent("taskmanager", true, "")
	metrics.UpdateComponent("api", true, "")
	t.Cleanup(func() { metrics.UpdateComponent("storage", true, "") })

	w := serve(hs, http.MethodGet, "/ready")
	assert.Equal(t, http.StatusOK, w.Code)

	var response metrics.HealthStatus
	require.NoError(t, json.NewDecoder(w.Body).Decode(&response))
	assert.Equal(t, metrics.StatusReady, response.Status)
	assert.Equal(t, metrics.StatusReady, response.Components["storage"])

	// A closed store fails the probe
	require.NoError(t, store.Close())
	w = serve(hs, http.MethodGet, "/ready")
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)

	response = metrics.HealthStatus{}
	require.NoError(t, json.NewDecoder(w.Body).Decode(&response))
	assert.Equal(t, metrics.StatusNotReady, response.Status)
	assert.Contains(t, response.Components["storage"], "not ready")
}

// TestReadyHandlerNotReady tests readiness while a critical component is down
func TestReadyHandlerNotReady(t *testing.T) {
	hs := NewHealthServer(nil)
	metrics.UpdateComponent("api", false, "listener closed")
	t.Cleanup(func() { metrics.UpdateComponent("api", true, "") })

	w := serve(hs, http.MethodGet, "/ready")
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)

	var response metrics.HealthStatus
	require.NoError(t, json.NewDecoder(w.Body).Decode(&response))
	assert.Equal(t, metrics.StatusNotReady, response.Status)
	assert.NotEmpty(t, response.Message)

	assert.Equal(t, http.StatusMethodNotAllowed, serve(hs, http.MethodPost, "/ready").Code)
}

// TestNewHealthServer tests health server creation
func TestNewHealthServer(t *testing.T) {
	hs := NewHealthServer(nil)

	assert.NotNil(t, hs)
	assert.NotNil(t, hs.mux)
	assert.Nil(t, hs.store)

	tests := []struct {
		path           string
		expectedStatus int
	}{
		{path: "/live", expectedStatus: http.StatusOK},
		{path: "/metrics", expectedStatus: http.StatusOK},
		{path: "/nonexistent", expectedStatus: http.StatusNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			w := serve(hs, http.MethodGet, tt.path)
			assert.Equal(t, tt.expectedStatus, w.Code, "Path: %s", tt.path)
		})
	}
}

// TestHealthServerConcurrency tests concurrent requests to health endpoints
func TestHealthServerConcurrency(t *testing.T) {
	hs := NewHealthServer(nil)

	done := make(chan int, 20)
	for i := 0; i < 10; i++ {
		go func() {
			done <- serve(hs, http.MethodGet, "/live").Code
		}()
		go func() {
			done <- serve(hs, http.MethodGet, "/ready").Code
		}()
	}

	for i := 0; i < 20; i++ {
		assert.Contains(t, []int{http.StatusOK, http.StatusServiceUnavailable}, <-done)
	}
}

func BenchmarkReadyHandler(b *testing.B) {
	hs := NewHealthServer(nil)

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		serve(hs, http.MethodGet, "/ready")
	}
}
