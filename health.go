package main

import (
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/withObsrvr/qubic-explorer-core/epochs"
)

// HealthServer exposes the process health and Prometheus metrics
type HealthServer struct {
	mu        sync.RWMutex
	port      int
	startTime time.Time
	epochMgr  *epochs.Manager
	server    *http.Server

	workerStatus map[string]workerStatus
}

type workerStatus struct {
	LastCycle time.Time `json:"last_cycle"`
	LastError string    `json:"last_error,omitempty"`
}

// HealthResponse is the JSON response for /health
type HealthResponse struct {
	Status        string                  `json:"status"`
	Uptime        string                  `json:"uptime"`
	CriticalError bool                    `json:"critical_error"`
	ErrorEpoch    uint32                  `json:"error_epoch,omitempty"`
	ErrorMessage  string                  `json:"error_message,omitempty"`
	Workers       map[string]workerStatus `json:"workers"`
}

// NewHealthServer creates a health server
func NewHealthServer(port int, epochMgr *epochs.Manager) *HealthServer {
	return &HealthServer{
		port:         port,
		startTime:    time.Now(),
		epochMgr:     epochMgr,
		workerStatus: make(map[string]workerStatus),
	}
}

// ReportCycle records the outcome of one worker cycle
func (hs *HealthServer) ReportCycle(worker string, err error) {
	hs.mu.Lock()
	defer hs.mu.Unlock()
	status := workerStatus{LastCycle: time.Now().UTC()}
	if err != nil {
		status.LastError = err.Error()
	}
	hs.workerStatus[worker] = status
}

// Start starts the health HTTP server
func (hs *HealthServer) Start() error {
	router := mux.NewRouter()
	router.HandleFunc("/health", hs.handleHealth).Methods(http.MethodGet)
	router.Handle("/metrics", promhttp.Handler()).Methods(http.MethodGet)

	hs.server = &http.Server{
		Addr:    fmt.Sprintf(":%d", hs.port),
		Handler: router,
	}

	go func() {
		if err := hs.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			fmt.Printf("Health server error: %v\n", err)
		}
	}()

	return nil
}

// Stop gracefully stops the health server
func (hs *HealthServer) Stop() {
	if hs.server != nil {
		hs.server.Close()
	}
}

func (hs *HealthServer) handleHealth(w http.ResponseWriter, r *http.Request) {
	hs.mu.RLock()
	workers := make(map[string]workerStatus, len(hs.workerStatus))
	for name, status := range hs.workerStatus {
		workers[name] = status
	}
	hs.mu.RUnlock()

	resp := HealthResponse{
		Status:  "healthy",
		Uptime:  time.Since(hs.startTime).Round(time.Second).String(),
		Workers: workers,
	}
	if hs.epochMgr != nil {
		critical, epoch, message := hs.epochMgr.CriticalError()
		resp.CriticalError = critical
		if critical {
			resp.Status = "degraded"
			resp.ErrorEpoch = epoch
			resp.ErrorMessage = message
		}
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(resp)
}
