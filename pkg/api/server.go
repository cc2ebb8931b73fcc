// Package api exposes order submission over REST and live order status over
// WebSocket. Validation happens here, before anything reaches the queue.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"
	"github.com/rs/cors"
	"go.uber.org/zap"

	"github.com/dexflow-labs/dexflow/pkg/order"
	"github.com/dexflow-labs/dexflow/pkg/queue"
)

// Server handles REST API and WebSocket connections
type Server struct {
	store  order.Store
	queue  *queue.Queue
	hub    *Hub
	router *mux.Router
	log    *zap.SugaredLogger
	http   *http.Server
}

// NewServer creates a new API server. The hub is owned by the caller so the
// pipeline can publish to it; its lifecycle follows the server's.
func NewServer(store order.Store, q *queue.Queue, hub *Hub, log *zap.SugaredLogger) *Server {
	s := &Server{
		store:  store,
		queue:  q,
		hub:    hub,
		router: mux.NewRouter(),
		log:    log,
	}
	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	// API v1 routes
	api := s.router.PathPrefix("/api/v1").Subrouter()

	api.HandleFunc("/orders", s.handleSubmitOrder).Methods("POST")
	api.HandleFunc("/orders", s.handleListOrders).Methods("GET")
	api.HandleFunc("/orders/{id}", s.handleGetOrder).Methods("GET")

	// WebSocket endpoint
	s.router.HandleFunc("/ws", s.handleWebSocket)

	// Health check
	s.router.HandleFunc("/health", s.handleHealth).Methods("GET")
}

// Start starts the API server and blocks until Shutdown or a fatal error.
func (s *Server) Start(addr string) error {
	// Start WebSocket hub
	go s.hub.Run()

	c := cors.New(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Content-Type", "Authorization"},
		AllowCredentials: false,
	})

	s.http = &http.Server{Addr: addr, Handler: c.Handler(s.router)}

	s.log.Infow("api_server_starting", "addr", addr)
	err := s.http.ListenAndServe()
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// Shutdown stops accepting connections, drains in-flight requests within the
// context deadline and closes all WebSocket clients.
func (s *Server) Shutdown(ctx context.Context) error {
	var err error
	if s.http != nil {
		err = s.http.Shutdown(ctx)
	}
	s.hub.Stop()
	return err
}

// ==============================
// REST Handlers
// ==============================

func (s *Server) handleSubmitOrder(w http.ResponseWriter, r *http.Request) {
	var req SubmitOrderRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body", err.Error())
		return
	}

	o, err := order.New(req.TokenIn, req.TokenOut, req.Amount, req.Slippage)
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid order", err.Error())
		return
	}

	if err := s.store.SaveOrder(o); err != nil {
		s.log.Errorw("order_persist_failed", "order", o.ID, "err", err)
		respondError(w, http.StatusInternalServerError, "failed to persist order", "")
		return
	}

	payload, err := json.Marshal(o)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "failed to encode order", "")
		return
	}

	if _, err := s.queue.Enqueue(o.ID, payload, queue.Options{}); err != nil {
		if errors.Is(err, queue.ErrStopped) {
			respondError(w, http.StatusServiceUnavailable, "shutting down", "")
			return
		}
		s.log.Errorw("order_enqueue_failed", "order", o.ID, "err", err)
		respondError(w, http.StatusInternalServerError, "failed to enqueue order", "")
		return
	}

	s.log.Infow("order_submitted", "order", o.ID, "tokenIn", o.TokenIn,
		"tokenOut", o.TokenOut, "amount", o.Amount)

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusAccepted)
	json.NewEncoder(w).Encode(SubmitOrderResponse{OrderID: o.ID, Status: string(o.Status)})
}

func (s *Server) handleGetOrder(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	id := vars["id"]

	o, err := s.store.GetOrder(id)
	if err != nil {
		if errors.Is(err, order.ErrNotFound) {
			respondError(w, http.StatusNotFound, "order not found", "")
			return
		}
		respondError(w, http.StatusInternalServerError, "failed to load order", err.Error())
		return
	}
	respondJSON(w, o)
}

func (s *Server) handleListOrders(w http.ResponseWriter, r *http.Request) {
	limit := 100
	if v := r.URL.Query().Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			limit = n
		}
	}

	orders, err := s.store.ListOrders(limit)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "failed to list orders", err.Error())
		return
	}

	if status := r.URL.Query().Get("status"); status != "" {
		filtered := orders[:0]
		for _, o := range orders {
			if string(o.Status) == status {
				filtered = append(filtered, o)
			}
		}
		orders = filtered
	}
	if orders == nil {
		orders = []*order.Order{}
	}
	respondJSON(w, orders)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	jobs := make(map[string]int)
	for state, n := range s.queue.Counts() {
		jobs[string(state)] = n
	}
	respondJSON(w, HealthResponse{Status: "ok", Jobs: jobs})
}

// ==============================
// Helper Functions
// ==============================

func respondJSON(w http.ResponseWriter, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(data)
}

func respondError(w http.ResponseWriter, status int, error string, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(ErrorResponse{
		Error:   error,
		Message: message,
	})
}
