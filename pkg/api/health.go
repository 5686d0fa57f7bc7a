package api

import (
	"context"
	"net/http"
	"time"

	"github.com/cuemby/burrow/pkg/metrics"
	"github.com/cuemby/burrow/pkg/storage"
)

// HealthServer provides HTTP health check endpoints
type HealthServer struct {
	store  storage.Store
	mux    *http.ServeMux
	server *http.Server
}

// NewHealthServer creates a new health check HTTP server. store may be nil,
// in which case storage health is whatever was last reported.
func NewHealthServer(store storage.Store) *HealthServer {
	mux := http.NewServeMux()
	hs := &HealthServer{
		store: store,
		mux:   mux,
	}

	mux.HandleFunc("/health", getOnly(metrics.HealthHandler()))
	mux.HandleFunc("/ready", getOnly(hs.readyHandler))
	mux.HandleFunc("/live", getOnly(metrics.LivenessHandler()))
	mux.Handle("/metrics", metrics.Handler())

	return hs
}

// Start starts the health check HTTP server
func (hs *HealthServer) Start(addr string) error {
	hs.server = &http.Server{
		Addr:         addr,
		Handler:      hs.mux,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	err := hs.server.ListenAndServe()
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}

// Shutdown stops a started server
func (hs *HealthServer) Shutdown(ctx context.Context) error {
	if hs.server == nil {
		return nil
	}
	return hs.server.Shutdown(ctx)
}

// readyHandler probes storage before reporting readiness
func (hs *HealthServer) readyHandler(w http.ResponseWriter, r *http.Request) {
	if hs.store != nil {
		if _, err := hs.store.ListClusters(); err != nil {
			metrics.UpdateComponent("storage", false, err.Error())
		} else {
			metrics.UpdateComponent("storage", true, "")
		}
	}
	metrics.ReadyHandler()(w, r)
}

func getOnly(h http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
			return
		}
		h(w, r)
	}
}

// GetHandler returns the HTTP handler for embedding in other servers
func (hs *HealthServer) GetHandler() http.Handler {
	return hs.mux
}
