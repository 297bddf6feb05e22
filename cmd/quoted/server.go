package main

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/toary310/crosschain-dex-sub001/internal/adapter"
	"github.com/toary310/crosschain-dex-sub001/internal/engine"
	"github.com/toary310/crosschain-dex-sub001/internal/security"
	"github.com/toary310/crosschain-dex-sub001/internal/types"
	"go.uber.org/zap"
)

// server is the thin JSON boundary of the process. It never renders
// anything; callers get quotes, warnings and verdicts as data.
type server struct {
	engine    *engine.Engine
	validator *security.Validator
	reg       *adapter.Registry
	log       *zap.Logger
}

func newServer(eng *engine.Engine, validator *security.Validator, reg *adapter.Registry, log *zap.Logger) *server {
	return &server{engine: eng, validator: validator, reg: reg, log: log}
}

func (s *server) run(ctx context.Context, addr string) {
	if addr == "" {
		s.log.Info("api server disabled: empty addr")
		return
	}

	mux := http.NewServeMux()
	mux.HandleFunc("POST /v1/quote", s.handleQuote)
	mux.HandleFunc("POST /v1/validate", s.handleValidate)
	mux.HandleFunc("GET /v1/protocols", s.handleProtocols)
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadTimeout:       10 * time.Second,
		ReadHeaderTimeout: 5 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		s.log.Info("api server starting", zap.String("addr", addr))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			s.log.Error("api server error", zap.Error(err))
		}
	}()

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			s.log.Warn("api server shutdown error", zap.Error(err))
		}
	}()
}

func (s *server) handleQuote(w http.ResponseWriter, r *http.Request) {
	var req engine.Request
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, string(types.ErrInvalidRequest), "malformed request body")
		return
	}

	resp, err := s.engine.GetQuote(r.Context(), req)
	if err != nil {
		var qe *types.QuoteError
		if errors.As(err, &qe) && qe.Kind == types.ErrInvalidRequest {
			writeError(w, http.StatusBadRequest, string(qe.Kind), qe.Message)
			return
		}
		s.log.Error("quote request failed", zap.Error(err))
		writeError(w, http.StatusBadGateway, string(types.KindOf(err)), err.Error())
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

// validateResponse is the full verdict plus the error code when the
// transaction is blocked, mirroring the quote response's Error field.
type validateResponse struct {
	security.Result
	Error string `json:"error,omitempty"`
}

func (s *server) handleValidate(w http.ResponseWriter, r *http.Request) {
	var tx types.Transaction
	if err := json.NewDecoder(r.Body).Decode(&tx); err != nil {
		writeError(w, http.StatusBadRequest, string(types.ErrInvalidRequest), "malformed transaction body")
		return
	}
	res := s.validator.ValidateTransaction(r.Context(), tx)
	if blocked := res.BlockedError(); blocked != nil {
		s.log.Info("transaction blocked", zap.String("reason", blocked.Message))
		writeJSON(w, http.StatusForbidden, validateResponse{Result: *res, Error: string(blocked.Kind)})
		return
	}
	writeJSON(w, http.StatusOK, validateResponse{Result: *res})
}

type protocolInfo struct {
	ID   types.ProtocolID  `json:"id"`
	Kind types.AdapterKind `json:"kind"`
}

// handleProtocols lists the registered adapters so callers can build
// allowedProtocols filters from live data instead of hardcoded names.
func (s *server) handleProtocols(w http.ResponseWriter, _ *http.Request) {
	out := make([]protocolInfo, 0, 8)
	for _, kind := range []types.AdapterKind{types.KindSwap, types.KindBridge} {
		for _, a := range s.reg.ByKind(kind) {
			out = append(out, protocolInfo{ID: a.ID(), Kind: a.Kind()})
		}
	}
	writeJSON(w, http.StatusOK, map[string][]protocolInfo{"protocols": out})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code, msg string) {
	writeJSON(w, status, map[string]string{"error": code, "message": msg})
}
