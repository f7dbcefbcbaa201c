package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/gorilla/mux"
	"github.com/rs/cors"
	"go.uber.org/zap"

	"github.com/uhyunpark/nftx/pkg/exchange"
	"github.com/uhyunpark/nftx/pkg/exchange/engine"
)

// SettlementChannel is the WebSocket channel settlement reports are
// broadcast on.
const SettlementChannel = "settlements"

// Server exposes the settlement engine over REST and WebSocket.
type Server struct {
	engine    *engine.Engine
	router    *mux.Router
	hub       *Hub
	log       *zap.Logger
	settleLog *os.File // JSON-lines settlement log
}

// NewServer creates a new API server around an engine.
func NewServer(eng *engine.Engine, logger *zap.Logger) *Server {
	logPath := os.Getenv("SETTLEMENT_LOG_FILE")
	if logPath == "" {
		logPath = "data/settlements.log"
	}
	os.MkdirAll(filepath.Dir(logPath), 0755)

	settleLog, err := os.OpenFile(logPath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		logger.Warn("settlement log disabled", zap.String("path", logPath), zap.Error(err))
		settleLog = nil
	} else {
		logger.Info("settlement log", zap.String("path", logPath))
	}

	s := &Server{
		engine:    eng,
		router:    mux.NewRouter(),
		hub:       NewHub(logger),
		log:       logger,
		settleLog: settleLog,
	}

	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	api := s.router.PathPrefix("/api/v1").Subrouter()

	// Settlement entry points
	api.HandleFunc("/settle/take", s.handleTake).Methods("POST")
	api.HandleFunc("/settle/take-many", s.handleTakeMany).Methods("POST")
	api.HandleFunc("/settle/match", s.handleMatchPaired).Methods("POST")
	api.HandleFunc("/settle/match-one-to-many", s.handleMatchOneToMany).Methods("POST")

	// Order and nonce queries
	api.HandleFunc("/orders/verify", s.handleVerify).Methods("POST")
	api.HandleFunc("/accounts/{address}/nonces/{nonce}", s.handleNonceStatus).Methods("GET")

	// Cancellation
	api.HandleFunc("/nonces/cancel-below", s.handleCancelBelow).Methods("POST")
	api.HandleFunc("/nonces/cancel-multiple", s.handleCancelMultiple).Methods("POST")

	// Protocol fees
	api.HandleFunc("/fees/{currency}", s.handleFees).Methods("GET")

	// WebSocket endpoint
	s.router.HandleFunc("/ws", s.handleWebSocket)

	// Health check
	s.router.HandleFunc("/health", s.handleHealth).Methods("GET")
}

// Start starts the API server.
func (s *Server) Start(addr string) error {
	go s.hub.Run()

	c := cors.New(cors.Options{
		AllowedOrigins:   []string{"http://localhost:3000", "http://localhost:3001"},
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Content-Type", "Authorization"},
		AllowCredentials: true,
	})

	s.log.Info("api server starting", zap.String("addr", addr))
	return http.ListenAndServe(addr, c.Handler(s.router))
}

// ==============================
// Settlement handlers
// ==============================

func (s *Server) handleTake(w http.ResponseWriter, r *http.Request) {
	var req TakeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body", err.Error())
		return
	}
	caller, ok := parseAddress(w, req.Caller)
	if !ok {
		return
	}

	report, err := s.engine.Take(caller, req.Orders, req.Fulfillments, req.Value)
	if err != nil {
		respondSettleError(w, err)
		return
	}
	s.finishSettlement(w, "take", report)
}

func (s *Server) handleTakeMany(w http.ResponseWriter, r *http.Request) {
	var req TakeManyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body", err.Error())
		return
	}
	caller, ok := parseAddress(w, req.Caller)
	if !ok {
		return
	}

	report, err := s.engine.TakeMany(caller, req.Orders, req.Value)
	if err != nil {
		respondSettleError(w, err)
		return
	}
	s.finishSettlement(w, "take-many", report)
}

func (s *Server) handleMatchPaired(w http.ResponseWriter, r *http.Request) {
	var req MatchPairedRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body", err.Error())
		return
	}
	caller, ok := parseAddress(w, req.Caller)
	if !ok {
		return
	}

	report, err := s.engine.MatchPaired(caller, req.Sells, req.Buys, req.Fulfillments)
	if err != nil {
		respondSettleError(w, err)
		return
	}
	s.finishSettlement(w, "match", report)
}

func (s *Server) handleMatchOneToMany(w http.ResponseWriter, r *http.Request) {
	var req MatchOneToManyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body", err.Error())
		return
	}
	caller, ok := parseAddress(w, req.Caller)
	if !ok {
		return
	}

	report, err := s.engine.MatchOneToMany(caller, req.Anchor, req.Counters)
	if err != nil {
		respondSettleError(w, err)
		return
	}
	s.finishSettlement(w, "match-one-to-many", report)
}

// finishSettlement responds with the report, appends it to the settlement
// log, and pushes it to WebSocket subscribers.
func (s *Server) finishSettlement(w http.ResponseWriter, entry string, report *engine.Report) {
	respondJSON(w, report)
	s.logSettlement(entry, report)
	s.hub.BroadcastToChannel(SettlementChannel, SettlementEvent{
		Type:       "settlement",
		EntryPoint: entry,
		Report:     report,
	})
}

// ==============================
// Query handlers
// ==============================

func (s *Server) handleVerify(w http.ResponseWriter, r *http.Request) {
	var o exchange.Order
	if err := json.NewDecoder(r.Body).Decode(&o); err != nil {
		respondError(w, http.StatusBadRequest, "invalid order body", err.Error())
		return
	}
	respondJSON(w, VerifyResponse{
		Valid:   s.engine.Verify(&o),
		OrderID: exchange.OrderID(o.Signer, o.Nonce, o.ChainID),
	})
}

func (s *Server) handleNonceStatus(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	addr, ok := parseAddress(w, vars["address"])
	if !ok {
		return
	}
	n, err := strconv.ParseUint(vars["nonce"], 10, 64)
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid nonce", err.Error())
		return
	}

	respondJSON(w, NonceStatus{
		Signer:   addr.Hex(),
		Nonce:    n,
		Valid:    s.engine.IsNonceValid(addr, n),
		MinNonce: s.engine.MinNonce(addr),
	})
}

func (s *Server) handleCancelBelow(w http.ResponseWriter, r *http.Request) {
	var req CancelBelowRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body", err.Error())
		return
	}
	caller, ok := parseAddress(w, req.Caller)
	if !ok {
		return
	}
	if err := s.engine.CancelBelow(caller, req.MinNonce); err != nil {
		respondError(w, http.StatusConflict, "cancel rejected", err.Error())
		return
	}
	respondJSON(w, map[string]string{"status": "cancelled"})
}

func (s *Server) handleCancelMultiple(w http.ResponseWriter, r *http.Request) {
	var req CancelMultipleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body", err.Error())
		return
	}
	caller, ok := parseAddress(w, req.Caller)
	if !ok {
		return
	}
	if err := s.engine.CancelMultiple(caller, req.Nonces); err != nil {
		respondError(w, http.StatusConflict, "cancel rejected", err.Error())
		return
	}
	respondJSON(w, map[string]string{"status": "cancelled"})
}

func (s *Server) handleFees(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	addr, ok := parseAddress(w, vars["currency"])
	if !ok {
		return
	}
	respondJSON(w, FeeInfo{
		Currency: addr.Hex(),
		Accrued:  s.engine.AccruedFees(addr),
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, map[string]string{"status": "ok"})
}

// ==============================
// Helpers
// ==============================

func parseAddress(w http.ResponseWriter, raw string) (common.Address, bool) {
	if !common.IsHexAddress(raw) {
		respondError(w, http.StatusBadRequest, "invalid address", raw)
		return common.Address{}, false
	}
	return common.HexToAddress(raw), true
}

// respondSettleError maps engine sentinel errors to HTTP statuses:
// malformed orders are the client's fault, state conflicts are 409s.
func respondSettleError(w http.ResponseWriter, err error) {
	status := http.StatusUnprocessableEntity
	switch {
	case errors.Is(err, exchange.ErrNonceAlreadyUsed),
		errors.Is(err, exchange.ErrOwnershipMismatch),
		errors.Is(err, exchange.ErrInsufficientBalance),
		errors.Is(err, exchange.ErrInsufficientAllowance):
		status = http.StatusConflict
	case errors.Is(err, exchange.ErrBadSignature):
		status = http.StatusUnauthorized
	}
	respondError(w, status, "settlement failed", err.Error())
}

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

// logSettlement appends one JSON object per settled call to the log file.
func (s *Server) logSettlement(entry string, report *engine.Report) {
	if s.settleLog == nil {
		return
	}

	record := map[string]interface{}{
		"timestamp":  time.Now().Format(time.RFC3339),
		"entryPoint": entry,
		"report":     report,
	}
	jsonData, err := json.Marshal(record)
	if err != nil {
		s.log.Error("marshal settlement record", zap.Error(err))
		return
	}
	s.settleLog.Write(jsonData)
	s.settleLog.Write([]byte("\n"))
}
