package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/grpc-ecosystem/grpc-gateway/v2/runtime"
	"github.com/rs/zerolog"

	"LendLedger/internal/engine"
	"LendLedger/internal/observability"
	"LendLedger/internal/oracle"
	"LendLedger/internal/query"
	"LendLedger/internal/reserve"
	"LendLedger/internal/risk"
)

// Deps holds everything the HTTP surface needs. Mint funds a wallet on the
// in-process token ledger and is nil when an external ledger is wired.
type Deps struct {
	Engine       *engine.Engine
	Query        *query.Service
	Health       *observability.HealthChecker
	Mint         func(holder uuid.UUID, asset string, amount int64) error
	TakeSnapshot func(context.Context) error
	Logger       zerolog.Logger
}

// HTTPServer is the JSON surface: account operations, the read-only query
// API, and the administrative setters. Routes hang off a gateway ServeMux so
// path templates and error shapes match the rest of the fleet.
type HTTPServer struct {
	httpAddr string
	deps     *Deps
	server   *http.Server
}

func NewHTTPServer(httpAddr string, deps *Deps) *HTTPServer {
	return &HTTPServer{httpAddr: httpAddr, deps: deps}
}

// Start serves until the context ends (blocking).
func (s *HTTPServer) Start(ctx context.Context) error {
	mux := runtime.NewServeMux()
	if err := s.registerRoutes(mux); err != nil {
		return fmt.Errorf("register routes: %w", err)
	}

	httpMux := http.NewServeMux()
	httpMux.HandleFunc("/healthz", s.deps.Health.LivenessHandler)
	httpMux.HandleFunc("/readyz", s.deps.Health.ReadinessHandler)
	httpMux.Handle("/", mux)

	s.server = &http.Server{
		Addr:    s.httpAddr,
		Handler: httpMux,
	}

	go func() {
		<-ctx.Done()
		s.deps.Logger.Info().Msg("HTTP server shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		s.server.Shutdown(shutdownCtx)
	}()

	s.deps.Logger.Info().Str("addr", s.httpAddr).Msg("HTTP server listening")
	if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

func (s *HTTPServer) registerRoutes(mux *runtime.ServeMux) error {
	routes := []struct {
		method  string
		path    string
		handler runtime.HandlerFunc
	}{
		// Account operations.
		{http.MethodPost, "/v1/ops/deposit", s.handleDeposit},
		{http.MethodPost, "/v1/ops/withdraw", s.handleWithdraw},
		{http.MethodPost, "/v1/ops/borrow", s.handleBorrow},
		{http.MethodPost, "/v1/ops/repay", s.handleRepay},
		{http.MethodPost, "/v1/ops/liquidate", s.handleLiquidate},
		{http.MethodPost, "/v1/ops/supply", s.handleSupply},
		{http.MethodPost, "/v1/ops/withdraw-supply", s.handleWithdrawSupply},

		// Query surface.
		{http.MethodGet, "/v1/accounts/{account}/position", s.handleGetPosition},
		{http.MethodGet, "/v1/accounts/{account}/health", s.handleGetHealth},
		{http.MethodGet, "/v1/reserves", s.handleListReserves},
		{http.MethodGet, "/v1/reserves/{asset}", s.handleGetReserve},
		{http.MethodGet, "/v1/collateral", s.handleListCollateral},
		{http.MethodGet, "/v1/collateral/{asset}", s.handleGetCollateral},
		{http.MethodGet, "/v1/prices/{asset}", s.handleGetPrice},
		{http.MethodGet, "/v1/operations", s.handleListOperations},

		// Administrative surface.
		{http.MethodPost, "/v1/admin/collateral", s.handleConfigureCollateral},
		{http.MethodPost, "/v1/admin/collateral/{asset}/enabled", s.handleSetCollateralEnabled},
		{http.MethodPost, "/v1/admin/reserves", s.handleRegisterReserve},
		{http.MethodPost, "/v1/admin/reserves/{asset}/active", s.handleSetReserveActive},
		{http.MethodPost, "/v1/admin/snapshot", s.handleTakeSnapshot},
		{http.MethodPost, "/v1/admin/mint", s.handleMint},
	}

	for _, r := range routes {
		if err := mux.HandlePath(r.method, r.path, r.handler); err != nil {
			return fmt.Errorf("%s %s: %w", r.method, r.path, err)
		}
	}
	return nil
}

// --- Account operations ---

type opRequest struct {
	Account string `json:"account"`
	Asset   string `json:"asset"`
	Amount  int64  `json:"amount"`
}

func (s *HTTPServer) handleOp(w http.ResponseWriter, r *http.Request, apply func(uuid.UUID, string, int64) error) {
	var req opRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("decode request: %w", err))
		return
	}
	account, err := uuid.Parse(req.Account)
	if err != nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("invalid account: %w", err))
		return
	}

	if err := apply(account, req.Asset, req.Amount); err != nil {
		writeError(w, statusForError(err), err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"sequence": s.deps.Engine.Sequence(),
	})
}

func (s *HTTPServer) handleDeposit(w http.ResponseWriter, r *http.Request, _ map[string]string) {
	s.handleOp(w, r, s.deps.Engine.Deposit)
}

func (s *HTTPServer) handleWithdraw(w http.ResponseWriter, r *http.Request, _ map[string]string) {
	s.handleOp(w, r, s.deps.Engine.Withdraw)
}

func (s *HTTPServer) handleBorrow(w http.ResponseWriter, r *http.Request, _ map[string]string) {
	s.handleOp(w, r, s.deps.Engine.Borrow)
}

func (s *HTTPServer) handleRepay(w http.ResponseWriter, r *http.Request, _ map[string]string) {
	s.handleOp(w, r, s.deps.Engine.Repay)
}

func (s *HTTPServer) handleSupply(w http.ResponseWriter, r *http.Request, _ map[string]string) {
	s.handleOp(w, r, s.deps.Engine.Supply)
}

func (s *HTTPServer) handleWithdrawSupply(w http.ResponseWriter, r *http.Request, _ map[string]string) {
	s.handleOp(w, r, s.deps.Engine.WithdrawSupply)
}

type liquidateRequest struct {
	Liquidator      string `json:"liquidator"`
	Account         string `json:"account"`
	CollateralAsset string `json:"collateral_asset"`
	BorrowAsset     string `json:"borrow_asset"`
	DebtToCover     int64  `json:"debt_to_cover"`
}

func (s *HTTPServer) handleLiquidate(w http.ResponseWriter, r *http.Request, _ map[string]string) {
	var req liquidateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("decode request: %w", err))
		return
	}
	liquidator, err := uuid.Parse(req.Liquidator)
	if err != nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("invalid liquidator: %w", err))
		return
	}
	account, err := uuid.Parse(req.Account)
	if err != nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("invalid account: %w", err))
		return
	}

	if err := s.deps.Engine.Liquidate(liquidator, account, req.CollateralAsset, req.BorrowAsset, req.DebtToCover); err != nil {
		writeError(w, statusForError(err), err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"sequence": s.deps.Engine.Sequence(),
	})
}

// --- Query surface ---

func (s *HTTPServer) handleGetPosition(w http.ResponseWriter, r *http.Request, pathParams map[string]string) {
	account, err := uuid.Parse(pathParams["account"])
	if err != nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("invalid account: %w", err))
		return
	}
	resp, err := s.deps.Query.GetPosition(account)
	if err != nil {
		writeError(w, statusForError(err), err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *HTTPServer) handleGetHealth(w http.ResponseWriter, r *http.Request, pathParams map[string]string) {
	account, err := uuid.Parse(pathParams["account"])
	if err != nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("invalid account: %w", err))
		return
	}
	resp, err := s.deps.Query.GetHealth(account)
	if err != nil {
		writeError(w, statusForError(err), err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *HTTPServer) handleListReserves(w http.ResponseWriter, r *http.Request, _ map[string]string) {
	resp, err := s.deps.Query.ListReserves()
	if err != nil {
		writeError(w, statusForError(err), err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *HTTPServer) handleGetReserve(w http.ResponseWriter, r *http.Request, pathParams map[string]string) {
	resp, err := s.deps.Query.GetReserve(pathParams["asset"])
	if err != nil {
		writeError(w, http.StatusNotFound, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *HTTPServer) handleListCollateral(w http.ResponseWriter, r *http.Request, _ map[string]string) {
	resp, err := s.deps.Query.ListCollateral()
	if err != nil {
		writeError(w, statusForError(err), err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *HTTPServer) handleGetCollateral(w http.ResponseWriter, r *http.Request, pathParams map[string]string) {
	resp, err := s.deps.Query.GetCollateral(pathParams["asset"])
	if err != nil {
		writeError(w, http.StatusNotFound, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *HTTPServer) handleGetPrice(w http.ResponseWriter, r *http.Request, pathParams map[string]string) {
	resp, err := s.deps.Query.GetPrice(pathParams["asset"])
	if err != nil {
		writeError(w, statusForError(err), err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *HTTPServer) handleListOperations(w http.ResponseWriter, r *http.Request, _ map[string]string) {
	from, _ := strconv.ParseInt(r.URL.Query().Get("from"), 10, 64)
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))

	resp, err := s.deps.Query.GetOperations(r.Context(), from, limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

// --- Administrative surface ---

type collateralConfigRequest struct {
	Asset              string `json:"asset"`
	Enabled            bool   `json:"enabled"`
	CollateralFactor   int64  `json:"collateral_factor"`
	LiquidationFactor  int64  `json:"liquidation_factor"`
	LiquidationPenalty int64  `json:"liquidation_penalty"`
	PriceSource        string `json:"price_source"`
	PriceDecimals      int    `json:"price_decimals"`
	AssetDecimals      int    `json:"asset_decimals"`
}

func (s *HTTPServer) handleConfigureCollateral(w http.ResponseWriter, r *http.Request, _ map[string]string) {
	var req collateralConfigRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("decode request: %w", err))
		return
	}

	err := s.deps.Engine.ConfigureCollateral(risk.CollateralConfig{
		Asset:              req.Asset,
		Enabled:            req.Enabled,
		CollateralFactor:   req.CollateralFactor,
		LiquidationFactor:  req.LiquidationFactor,
		LiquidationPenalty: req.LiquidationPenalty,
		PriceSource:        req.PriceSource,
		PriceDecimals:      req.PriceDecimals,
		AssetDecimals:      req.AssetDecimals,
	})
	if err != nil {
		writeError(w, statusForError(err), err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"sequence": s.deps.Engine.Sequence(),
	})
}

type flagRequest struct {
	Enabled bool `json:"enabled"`
}

func (s *HTTPServer) handleSetCollateralEnabled(w http.ResponseWriter, r *http.Request, pathParams map[string]string) {
	var req flagRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("decode request: %w", err))
		return
	}
	if err := s.deps.Engine.SetCollateralEnabled(pathParams["asset"], req.Enabled); err != nil {
		writeError(w, statusForError(err), err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"sequence": s.deps.Engine.Sequence(),
	})
}

type reserveRequest struct {
	Asset    string `json:"asset"`
	Decimals int    `json:"decimals"`
	Active   bool   `json:"active"`
}

func (s *HTTPServer) handleRegisterReserve(w http.ResponseWriter, r *http.Request, _ map[string]string) {
	var req reserveRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("decode request: %w", err))
		return
	}
	if err := s.deps.Engine.RegisterReserve(req.Asset, req.Decimals, req.Active); err != nil {
		writeError(w, statusForError(err), err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"sequence": s.deps.Engine.Sequence(),
	})
}

func (s *HTTPServer) handleSetReserveActive(w http.ResponseWriter, r *http.Request, pathParams map[string]string) {
	var req flagRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("decode request: %w", err))
		return
	}
	if err := s.deps.Engine.SetReserveActive(pathParams["asset"], req.Enabled); err != nil {
		writeError(w, statusForError(err), err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"sequence": s.deps.Engine.Sequence(),
	})
}

func (s *HTTPServer) handleMint(w http.ResponseWriter, r *http.Request, _ map[string]string) {
	if s.deps.Mint == nil {
		writeError(w, http.StatusNotImplemented, errors.New("minting unavailable on this deployment"))
		return
	}
	var req opRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("decode request: %w", err))
		return
	}
	holder, err := uuid.Parse(req.Account)
	if err != nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("invalid account: %w", err))
		return
	}
	if err := s.deps.Mint(holder, req.Asset, req.Amount); err != nil {
		writeError(w, http.StatusConflict, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *HTTPServer) handleTakeSnapshot(w http.ResponseWriter, r *http.Request, _ map[string]string) {
	if err := s.deps.TakeSnapshot(r.Context()); err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"sequence": s.deps.Engine.Sequence(),
	})
}

// --- Helpers ---

func writeJSON(w http.ResponseWriter, code int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, code int, err error) {
	writeJSON(w, code, map[string]string{"error": err.Error()})
}

// statusForError maps engine rejection kinds onto HTTP statuses so callers
// can distinguish bad input from state conflicts from upstream trouble.
func statusForError(err error) int {
	switch {
	case errors.Is(err, engine.ErrInvalidAmount),
		errors.Is(err, risk.ErrInvalidConfiguration):
		return http.StatusBadRequest
	case errors.Is(err, risk.ErrAssetNotSupported),
		errors.Is(err, reserve.ErrReserveNotFound),
		errors.Is(err, oracle.ErrOracleNotConfigured):
		return http.StatusNotFound
	case errors.Is(err, engine.ErrHealthFactorTooLow),
		errors.Is(err, engine.ErrInsufficientCollateral),
		errors.Is(err, engine.ErrPositionNotLiquidatable),
		errors.Is(err, engine.ErrAmountExceedsDebt),
		errors.Is(err, engine.ErrInsufficientSupply),
		errors.Is(err, engine.ErrReentrancy),
		errors.Is(err, reserve.ErrReserveInactive),
		errors.Is(err, reserve.ErrInsufficientLiquidity):
		return http.StatusConflict
	case errors.Is(err, oracle.ErrPriceStale):
		return http.StatusServiceUnavailable
	case errors.Is(err, engine.ErrTransferFailed):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}
