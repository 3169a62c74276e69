package web

import (
	"encoding/json"
	"net/http"
	"runtime"
	"strconv"
	"time"

	sdkmath "cosmossdk.io/math"
	"github.com/ethereum/go-ethereum/common"
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/openweight/simm/internal/logger"
	"github.com/openweight/simm/internal/pool"
	"github.com/openweight/simm/internal/state"
)

var webLogger = logger.GetForComponent("web_server")

// PoolReader is the read-only pool surface the dashboard exposes.
type PoolReader interface {
	CurrentTokens() []common.Address
	RecordOf(token common.Address) (pool.Record, error)
	TotalDenormalizedWeight() sdkmath.LegacyDec
	TotalShares() sdkmath.Int
	SwapFee() sdkmath.LegacyDec
}

// WebServer handles HTTP requests for index pool data visualization
type WebServer struct {
	router  *mux.Router
	port    string
	pool    PoolReader
	symbols map[common.Address]string
}

// NewWebServer creates a new web server instance
func NewWebServer(port string, poolReader PoolReader, symbols map[common.Address]string) *WebServer {
	if port == "" {
		port = "8080"
	}

	server := &WebServer{
		router:  mux.NewRouter(),
		port:    port,
		pool:    poolReader,
		symbols: symbols,
	}

	server.setupRoutes()
	return server
}

// setupRoutes configures all HTTP routes
func (ws *WebServer) setupRoutes() {
	// Health endpoint (direct route)
	ws.router.HandleFunc("/health", ws.handleHealth).Methods("GET")

	// Prometheus metrics
	ws.router.Handle("/metrics", promhttp.Handler()).Methods("GET")

	// API endpoints
	api := ws.router.PathPrefix("/api").Subrouter()
	api.HandleFunc("/health", ws.handleHealth).Methods("GET")
	api.HandleFunc("/pool/summary", ws.handleGetPoolSummary).Methods("GET")
	api.HandleFunc("/pool/tokens", ws.handleGetPoolTokens).Methods("GET")
	api.HandleFunc("/cycles", ws.handleGetCycles).Methods("GET")
	api.HandleFunc("/cycles/latest", ws.handleGetLatestCycle).Methods("GET")

	ws.router.Use(ws.corsMiddleware)
	ws.router.Use(ws.loggingMiddleware)
}

// Start starts the web server
func (ws *WebServer) Start() error {
	webLogger.Info().Str("port", ws.port).Msg("Starting web server")

	server := &http.Server{
		Addr:         ":" + ws.port,
		Handler:      ws.router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	return server.ListenAndServe()
}

// handleHealth returns server health status
func (ws *WebServer) handleHealth(w http.ResponseWriter, r *http.Request) {
	var memStats runtime.MemStats
	runtime.ReadMemStats(&memStats)

	hasErrors := false

	dbHealthy := true
	if err := state.TestDBConnection(); err != nil {
		dbHealthy = false
		hasErrors = true
	}

	var cycleInfo map[string]interface{}
	if latest, err := state.GetRecentSnapshots(1); err == nil && len(latest) > 0 {
		cycleInfo = map[string]interface{}{
			"current_cycle":   latest[0].CycleNumber,
			"last_cycle_time": latest[0].Timestamp,
			"last_cycle_kind": latest[0].Kind,
		}
	} else {
		cycleInfo = map[string]interface{}{
			"current_cycle":   0,
			"last_cycle_time": nil,
			"last_cycle_kind": nil,
		}
		hasErrors = true
	}

	overallStatus := "OK"
	statusCode := http.StatusOK
	if hasErrors {
		overallStatus = "DEGRADED"
		statusCode = http.StatusServiceUnavailable
	}

	response := map[string]interface{}{
		"status":    overallStatus,
		"timestamp": time.Now().UTC().Format(time.RFC3339Nano),
		"system": map[string]interface{}{
			"version":          runtime.Version(),
			"goroutines_count": runtime.NumGoroutine(),
			"alloc_bytes":      memStats.Alloc,
			"sys_bytes":        memStats.Sys,
			"gc_cycles":        memStats.NumGC,
		},
		"index_status": map[string]interface{}{
			"database_healthy": dbHealthy,
			"constituents":     len(ws.pool.CurrentTokens()),
			"cycle_info":       cycleInfo,
		},
	}

	ws.writeJSONResponse(w, statusCode, response)
}

// handleGetPoolSummary returns aggregate pool statistics
func (ws *WebServer) handleGetPoolSummary(w http.ResponseWriter, r *http.Request) {
	tokens := ws.pool.CurrentTokens()

	response := map[string]interface{}{
		"constituents": len(tokens),
		"total_weight": ws.pool.TotalDenormalizedWeight().String(),
		"total_shares": ws.pool.TotalShares().String(),
		"swap_fee":     ws.pool.SwapFee().String(),
		"timestamp":    time.Now().UTC(),
	}

	ws.writeJSONResponse(w, http.StatusOK, response)
}

// handleGetPoolTokens returns the per-token records
func (ws *WebServer) handleGetPoolTokens(w http.ResponseWriter, r *http.Request) {
	tokens := ws.pool.CurrentTokens()
	out := make([]map[string]interface{}, 0, len(tokens))
	for _, token := range tokens {
		rec, err := ws.pool.RecordOf(token)
		if err != nil {
			continue
		}
		symbol, ok := ws.symbols[token]
		if !ok {
			symbol = token.Hex()
		}
		out = append(out, map[string]interface{}{
			"symbol":          symbol,
			"address":         token.Hex(),
			"ready":           rec.Ready,
			"balance":         rec.Balance.String(),
			"weight":          rec.Weight.String(),
			"desired_weight":  rec.DesiredWeight.String(),
			"minimum_balance": rec.MinimumBalance.String(),
		})
	}

	response := map[string]interface{}{
		"tokens": out,
		"count":  len(out),
	}

	ws.writeJSONResponse(w, http.StatusOK, response)
}

// handleGetCycles returns recent rebalance snapshots
func (ws *WebServer) handleGetCycles(w http.ResponseWriter, r *http.Request) {
	limit := 20
	if limitStr := r.URL.Query().Get("limit"); limitStr != "" {
		if parsedLimit, err := strconv.Atoi(limitStr); err == nil && parsedLimit > 0 && parsedLimit <= 100 {
			limit = parsedLimit
		}
	}

	snapshots, err := state.GetRecentSnapshots(limit)
	if err != nil {
		webLogger.Error().Err(err).Msg("Failed to get recent snapshots")
		ws.writeErrorResponse(w, http.StatusInternalServerError, "Failed to retrieve cycles")
		return
	}

	response := map[string]interface{}{
		"cycles": snapshots,
		"count":  len(snapshots),
		"limit":  limit,
	}

	ws.writeJSONResponse(w, http.StatusOK, response)
}

// handleGetLatestCycle returns the most recent rebalance snapshot
func (ws *WebServer) handleGetLatestCycle(w http.ResponseWriter, r *http.Request) {
	snapshots, err := state.GetRecentSnapshots(1)
	if err != nil || len(snapshots) == 0 {
		webLogger.Error().Err(err).Msg("Failed to get latest snapshot")
		ws.writeErrorResponse(w, http.StatusNotFound, "No cycles found")
		return
	}

	ws.writeJSONResponse(w, http.StatusOK, snapshots[0])
}

// writeJSONResponse writes a JSON response
func (ws *WebServer) writeJSONResponse(w http.ResponseWriter, statusCode int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)

	if err := json.NewEncoder(w).Encode(data); err != nil {
		webLogger.Error().Err(err).Msg("Failed to encode JSON response")
	}
}

// writeErrorResponse writes an error response
func (ws *WebServer) writeErrorResponse(w http.ResponseWriter, statusCode int, message string) {
	response := map[string]interface{}{
		"error":     true,
		"message":   message,
		"timestamp": time.Now().UTC(),
	}

	ws.writeJSONResponse(w, statusCode, response)
}

// corsMiddleware adds CORS headers
func (ws *WebServer) corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")

		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}

// loggingMiddleware logs HTTP requests
func (ws *WebServer) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		wrapper := &responseWriterWrapper{ResponseWriter: w, statusCode: http.StatusOK}

		next.ServeHTTP(wrapper, r)

		webLogger.Info().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Str("remote_addr", r.RemoteAddr).
			Int("status", wrapper.statusCode).
			Dur("duration", time.Since(start)).
			Msg("HTTP request")
	})
}

// responseWriterWrapper wraps http.ResponseWriter to capture status code
type responseWriterWrapper struct {
	http.ResponseWriter
	statusCode int
}

func (w *responseWriterWrapper) WriteHeader(statusCode int) {
	w.statusCode = statusCode
	w.ResponseWriter.WriteHeader(statusCode)
}
