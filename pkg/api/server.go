package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sort"
	"strconv"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/holiman/uint256"
	"github.com/rs/cors"
	"go.uber.org/zap"

	"github.com/uhyunpark/ledgerdex/pkg/app/core"
	"github.com/uhyunpark/ledgerdex/pkg/app/core/asset"
	"github.com/uhyunpark/ledgerdex/pkg/app/core/orderbook"
	"github.com/uhyunpark/ledgerdex/pkg/app/core/transaction"
	"github.com/uhyunpark/ledgerdex/pkg/app/dex"
	"github.com/uhyunpark/ledgerdex/pkg/crypto"
	"github.com/uhyunpark/ledgerdex/pkg/events"
)

const (
	maxBodyBytes      = 64 << 10
	defaultTradeLimit = 50
)

// errBadInput marks malformed client input (400)
var errBadInput = errors.New("bad input")

// Faucet mints devnet tokens straight into a trader's wallet
type Faucet interface {
	Mint(ref, to common.Address, amount *uint256.Int) error
}

type Config struct {
	CORSOrigins []string
	Domain      crypto.EIP712Domain
	Nonces      transaction.NonceStore // the app's store; nil keeps nonces in memory
	Faucet      Faucet                 // nil disables /api/v1/dev/faucet
	Logger      *zap.SugaredLogger
}

// Server handles REST API and WebSocket connections
type Server struct {
	app      *dex.App
	router   *mux.Router
	hub      *Hub // WebSocket hub
	verifier *transaction.Verifier
	nonces   *transaction.NonceTracker
	faucet   Faucet
	origins  []string
	logger   *zap.SugaredLogger
	srv      *http.Server
}

// NewServer creates a new API server
func NewServer(app *dex.App, cfg Config) *Server {
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop().Sugar()
	}
	if len(cfg.CORSOrigins) == 0 {
		cfg.CORSOrigins = []string{"http://localhost:3000", "http://localhost:3001"}
	}

	s := &Server{
		app:      app,
		router:   mux.NewRouter(),
		hub:      NewHub(cfg.Logger),
		verifier: transaction.NewVerifier(cfg.Domain),
		nonces:   transaction.NewNonceTracker(cfg.Nonces),
		faucet:   cfg.Faucet,
		origins:  cfg.CORSOrigins,
		logger:   cfg.Logger,
	}

	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	// API v1 routes
	api := s.router.PathPrefix("/api/v1").Subrouter()

	// Asset endpoints
	api.HandleFunc("/assets", s.handleListAssets).Methods("GET")
	api.HandleFunc("/assets", s.handleRegisterAsset).Methods("POST")
	api.HandleFunc("/assets/{ticker}/orders", s.handleGetOrders).Methods("GET")
	api.HandleFunc("/assets/{ticker}/trades", s.handleGetTrades).Methods("GET")

	// Account endpoints
	api.HandleFunc("/accounts/{address}/balances", s.handleGetBalances).Methods("GET")
	api.HandleFunc("/accounts/{address}/balances/{ticker}", s.handleGetBalance).Methods("GET")

	// Custody
	api.HandleFunc("/deposits", s.handleDeposit).Methods("POST")
	api.HandleFunc("/withdrawals", s.handleWithdraw).Methods("POST")

	// Order submission
	api.HandleFunc("/orders/limit", s.handleLimitOrder).Methods("POST")
	api.HandleFunc("/orders/market", s.handleMarketOrder).Methods("POST")

	api.HandleFunc("/state", s.handleGetState).Methods("GET")

	if s.faucet != nil {
		api.HandleFunc("/dev/faucet", s.handleFaucet).Methods("POST")
	}

	// WebSocket endpoint
	s.router.HandleFunc("/ws", s.handleWebSocket)

	// Health check
	s.router.HandleFunc("/health", s.handleHealth).Methods("GET")
}

// Hub is the websocket fan-out; it also serves as an events.Publisher
func (s *Server) Hub() *Hub { return s.hub }

// Handler returns the router wrapped in the CORS policy
func (s *Server) Handler() http.Handler {
	c := cors.New(cors.Options{
		AllowedOrigins:   s.origins,
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Content-Type", "Authorization"},
		AllowCredentials: true,
	})
	return c.Handler(s.router)
}

// Start starts the API server and blocks until it stops
func (s *Server) Start(addr string) error {
	// Start WebSocket hub
	go s.hub.Run()

	s.srv = &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	s.logger.Infow("api_starting", "addr", addr)
	if err := s.srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown stops accepting requests and closes websocket clients
func (s *Server) Shutdown(ctx context.Context) error {
	s.hub.Stop()
	if s.srv == nil {
		return nil
	}
	return s.srv.Shutdown(ctx)
}

// ==============================
// REST Handlers
// ==============================

func (s *Server) handleListAssets(w http.ResponseWriter, r *http.Request) {
	assets := s.app.ListAssets()
	settlement := s.app.Settlement()

	response := make([]AssetInfo, len(assets))
	for i, a := range assets {
		response[i] = AssetInfo{
			Ticker:     a.Ticker.String(),
			Ref:        a.Ref.Hex(),
			Held:       s.app.Held(a.Ticker).Dec(),
			Settlement: a.Ticker == settlement,
		}
	}

	respondJSON(w, response)
}

func (s *Server) handleGetOrders(w http.ResponseWriter, r *http.Request) {
	ticker, ok := s.tickerVar(w, r)
	if !ok {
		return
	}
	if _, err := s.app.Asset(ticker); err != nil {
		s.respondEngineError(w, "", err)
		return
	}

	side := orderbook.Buy
	if q := r.URL.Query().Get("side"); q != "" {
		var err error
		if side, err = orderbook.ParseSide(q); err != nil {
			respondError(w, http.StatusBadRequest, "invalid side", err.Error())
			return
		}
	}

	orders := s.app.GetOrders(ticker, side)
	levels := s.app.Levels(ticker, side)

	response := OrdersResponse{
		Ticker: ticker.String(),
		Side:   side.String(),
		Orders: make([]OrderInfo, len(orders)),
		Levels: make([]PriceLevel, len(levels)),
	}
	for i := range orders {
		response.Orders[i] = orderInfo(&orders[i])
	}
	for i, level := range levels {
		response.Levels[i] = PriceLevel{Price: level.Price.Dec(), Size: level.Qty.Dec()}
	}

	respondJSON(w, response)
}

func (s *Server) handleGetTrades(w http.ResponseWriter, r *http.Request) {
	ticker, ok := s.tickerVar(w, r)
	if !ok {
		return
	}
	if _, err := s.app.Asset(ticker); err != nil {
		s.respondEngineError(w, "", err)
		return
	}

	limit := defaultTradeLimit
	if q := r.URL.Query().Get("limit"); q != "" {
		n, err := strconv.Atoi(q)
		if err != nil || n <= 0 {
			respondError(w, http.StatusBadRequest, "invalid limit", q)
			return
		}
		limit = n
	}

	trades := s.app.RecentTrades(ticker, limit)
	response := make([]events.Trade, len(trades))
	for i, tr := range trades {
		response[i] = events.NewTrade(tr)
	}

	respondJSON(w, response)
}

func (s *Server) handleGetBalances(w http.ResponseWriter, r *http.Request) {
	addr, ok := addressVar(w, r)
	if !ok {
		return
	}

	balances := s.app.Balances(addr)
	response := AccountBalances{
		Address:  addr.Hex(),
		Balances: make([]BalanceInfo, 0, len(balances)),
	}
	for ticker, bal := range balances {
		response.Balances = append(response.Balances, BalanceInfo{
			Address: addr.Hex(),
			Ticker:  ticker.String(),
			Balance: bal.Dec(),
		})
	}
	sort.Slice(response.Balances, func(i, j int) bool {
		return response.Balances[i].Ticker < response.Balances[j].Ticker
	})

	respondJSON(w, response)
}

func (s *Server) handleGetBalance(w http.ResponseWriter, r *http.Request) {
	addr, ok := addressVar(w, r)
	if !ok {
		return
	}
	ticker, ok := s.tickerVar(w, r)
	if !ok {
		return
	}

	respondJSON(w, BalanceInfo{
		Address: addr.Hex(),
		Ticker:  ticker.String(),
		Balance: s.app.BalanceOf(addr, ticker).Dec(),
	})
}

func (s *Server) handleGetState(w http.ResponseWriter, r *http.Request) {
	lastOrder, lastTrade := s.app.Sequences()
	respondJSON(w, StateInfo{
		Hash:       s.app.StateHash().Hex(),
		LastOrder:  lastOrder,
		LastTrade:  lastTrade,
		Settlement: s.app.Settlement().String(),
		Admin:      s.app.Admin().Hex(),
		Assets:     len(s.app.ListAssets()),
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, map[string]string{"status": "ok"})
}

// ==============================
// Signed Writes
// ==============================

// signedOp runs an engine operation for the verified trader of a request
type signedOp func(ctx context.Context, trader common.Address, req transaction.Request) (interface{}, error)

// submit parses, authenticates and nonce-checks a signed request, then runs op
// The nonce is written together with op's state changes, so a request rejected
// before touching state can be resent unchanged.
func (s *Server) submit(w http.ResponseWriter, r *http.Request, want transaction.RequestType, op signedOp) {
	requestID := uuid.NewString()

	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		respondError(w, http.StatusBadRequest, "failed to read body", err.Error())
		return
	}

	req, err := transaction.Parse(body)
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid request", err.Error())
		return
	}
	if req.Type != want {
		respondError(w, http.StatusBadRequest, "invalid request type", fmt.Sprintf("expected type=%s", want))
		return
	}

	trader, err := s.verifier.Verify(req)
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid signature", err.Error())
		return
	}
	nonce, err := req.NonceValue()
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid nonce", err.Error())
		return
	}

	var out interface{}
	err = s.nonces.Use(trader, nonce, func() error {
		var opErr error
		out, opErr = op(dex.WithNonce(r.Context(), trader, nonce), trader, req.Request)
		return opErr
	})
	if err != nil {
		s.logger.Debugw("request_rejected", "request_id", requestID, "type", req.Type, "trader", trader.Hex(), "err", err)
		s.respondEngineError(w, requestID, err)
		return
	}

	s.logger.Infow("request_accepted", "request_id", requestID, "type", req.Type, "trader", trader.Hex(), "nonce", nonce)
	respondJSON(w, withRequestID(out, requestID))
}

func (s *Server) handleRegisterAsset(w http.ResponseWriter, r *http.Request) {
	s.submit(w, r, transaction.TypeRegisterAsset, func(ctx context.Context, caller common.Address, req transaction.Request) (interface{}, error) {
		ticker, err := asset.ParseTicker(req.Ticker)
		if err != nil {
			return nil, err
		}
		a, err := s.app.RegisterAsset(ctx, caller, ticker, common.HexToAddress(req.AssetRef))
		if err != nil {
			return nil, err
		}
		return &AssetInfo{
			Ticker:     a.Ticker.String(),
			Ref:        a.Ref.Hex(),
			Held:       "0",
			Settlement: a.Ticker == s.app.Settlement(),
		}, nil
	})
}

func (s *Server) handleDeposit(w http.ResponseWriter, r *http.Request) {
	s.submit(w, r, transaction.TypeDeposit, func(ctx context.Context, trader common.Address, req transaction.Request) (interface{}, error) {
		ticker, amount, err := parseTickerAmount(req)
		if err != nil {
			return nil, err
		}
		if err := s.app.Deposit(ctx, trader, ticker, amount); err != nil {
			return nil, err
		}
		return &SubmitResponse{}, nil
	})
}

func (s *Server) handleWithdraw(w http.ResponseWriter, r *http.Request) {
	s.submit(w, r, transaction.TypeWithdraw, func(ctx context.Context, trader common.Address, req transaction.Request) (interface{}, error) {
		ticker, amount, err := parseTickerAmount(req)
		if err != nil {
			return nil, err
		}
		if err := s.app.Withdraw(ctx, trader, ticker, amount); err != nil {
			return nil, err
		}
		return &SubmitResponse{}, nil
	})
}

func (s *Server) handleLimitOrder(w http.ResponseWriter, r *http.Request) {
	s.submit(w, r, transaction.TypeLimitOrder, func(ctx context.Context, trader common.Address, req transaction.Request) (interface{}, error) {
		ticker, amount, err := parseTickerAmount(req)
		if err != nil {
			return nil, err
		}
		price, err := parseAmount("price", req.Price)
		if err != nil {
			return nil, err
		}
		side, err := orderbook.ParseSide(req.Side)
		if err != nil {
			return nil, err
		}

		id, err := s.app.CreateLimitOrder(ctx, trader, ticker, amount, price, side)
		if err != nil {
			return nil, err
		}
		return &LimitOrderResponse{OrderID: id}, nil
	})
}

func (s *Server) handleMarketOrder(w http.ResponseWriter, r *http.Request) {
	s.submit(w, r, transaction.TypeMarketOrder, func(ctx context.Context, trader common.Address, req transaction.Request) (interface{}, error) {
		ticker, amount, err := parseTickerAmount(req)
		if err != nil {
			return nil, err
		}
		side, err := orderbook.ParseSide(req.Side)
		if err != nil {
			return nil, err
		}

		trades, err := s.app.CreateMarketOrder(ctx, trader, ticker, amount, side)
		if err != nil {
			return nil, err
		}

		resp := &MarketOrderResponse{Trades: make([]events.Trade, len(trades))}
		filled := new(uint256.Int)
		for i, tr := range trades {
			resp.Trades[i] = events.NewTrade(tr)
			filled.Add(filled, tr.Amount)
		}
		resp.Filled = filled.Dec()
		return resp, nil
	})
}

// handleFaucet mints builtin tokens and approves custody for them
// Devnet only: the route exists only when a Faucet is configured.
func (s *Server) handleFaucet(w http.ResponseWriter, r *http.Request) {
	requestID := uuid.NewString()

	var req FaucetRequest
	if err := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes)).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body", err.Error())
		return
	}
	if !common.IsHexAddress(req.Address) {
		respondError(w, http.StatusBadRequest, "invalid address", req.Address)
		return
	}
	ticker, err := asset.ParseTicker(req.Ticker)
	if err != nil {
		s.respondEngineError(w, requestID, err)
		return
	}
	amount, err := parseAmount("amount", req.Amount)
	if err != nil {
		s.respondEngineError(w, requestID, err)
		return
	}
	a, err := s.app.Asset(ticker)
	if err != nil {
		s.respondEngineError(w, requestID, err)
		return
	}

	to := common.HexToAddress(req.Address)
	if err := s.faucet.Mint(a.Ref, to, amount); err != nil {
		s.respondEngineError(w, requestID, err)
		return
	}

	s.logger.Infow("faucet_mint", "request_id", requestID, "ticker", ticker.String(), "to", to.Hex(), "amount", amount.Dec())
	respondJSON(w, SubmitResponse{Status: "accepted", RequestID: requestID})
}

// ==============================
// Helper Functions
// ==============================

func (s *Server) tickerVar(w http.ResponseWriter, r *http.Request) (asset.Ticker, bool) {
	ticker, err := asset.ParseTicker(mux.Vars(r)["ticker"])
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid ticker", err.Error())
		return asset.Ticker{}, false
	}
	return ticker, true
}

func addressVar(w http.ResponseWriter, r *http.Request) (common.Address, bool) {
	addressStr := mux.Vars(r)["address"]
	if !common.IsHexAddress(addressStr) {
		respondError(w, http.StatusBadRequest, "invalid address", addressStr)
		return common.Address{}, false
	}
	return common.HexToAddress(addressStr), true
}

func parseTickerAmount(req transaction.Request) (asset.Ticker, *uint256.Int, error) {
	ticker, err := asset.ParseTicker(req.Ticker)
	if err != nil {
		return asset.Ticker{}, nil, err
	}
	amount, err := parseAmount("amount", req.Amount)
	if err != nil {
		return asset.Ticker{}, nil, err
	}
	return ticker, amount, nil
}

func parseAmount(field, s string) (*uint256.Int, error) {
	v, err := uint256.FromDecimal(s)
	if err != nil {
		return nil, fmt.Errorf("%w: %s %q: %v", errBadInput, field, s, err)
	}
	return v, nil
}

func orderInfo(o *orderbook.Order) OrderInfo {
	return OrderInfo{
		ID:        o.ID,
		Trader:    o.Trader.Hex(),
		Side:      o.Side.String(),
		Ticker:    o.Ticker.String(),
		Price:     o.Price.Dec(),
		Amount:    o.Amount.Dec(),
		Filled:    o.Filled.Dec(),
		Remaining: o.Remaining().Dec(),
		CreatedAt: o.CreatedAt,
	}
}

func withRequestID(out interface{}, requestID string) interface{} {
	ack := SubmitResponse{Status: "accepted", RequestID: requestID}
	switch v := out.(type) {
	case *SubmitResponse:
		*v = ack
	case *LimitOrderResponse:
		v.SubmitResponse = ack
	case *MarketOrderResponse:
		v.SubmitResponse = ack
	}
	return out
}

// statusFor maps engine and request errors to HTTP statuses
func statusFor(err error) int {
	switch {
	case errors.Is(err, core.ErrUnauthorized):
		return http.StatusForbidden
	case errors.Is(err, core.ErrUnknownTicker):
		return http.StatusNotFound
	case errors.Is(err, core.ErrDuplicateTicker), errors.Is(err, transaction.ErrStaleNonce):
		return http.StatusConflict
	case errors.Is(err, errBadInput), errors.Is(err, transaction.ErrBadSignature):
		return http.StatusBadRequest
	case errors.Is(err, core.ErrCannotTradeSettlementAsset),
		errors.Is(err, core.ErrInsufficientTokenBalance),
		errors.Is(err, core.ErrInsufficientSettlementBalance),
		errors.Is(err, core.ErrInsufficientBalance),
		errors.Is(err, core.ErrInvalidTicker),
		errors.Is(err, core.ErrInvalidAmount),
		errors.Is(err, core.ErrInvalidPrice),
		errors.Is(err, core.ErrInvalidSide),
		errors.Is(err, core.ErrAmountOverflow),
		errors.Is(err, core.ErrTransferRefused):
		return http.StatusUnprocessableEntity
	case errors.Is(err, core.ErrTransferPending):
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) respondEngineError(w http.ResponseWriter, requestID string, err error) {
	status := statusFor(err)
	if status == http.StatusInternalServerError {
		s.logger.Errorw("request_failed", "request_id", requestID, "err", err)
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(ErrorResponse{
		Error:     http.StatusText(status),
		Message:   err.Error(),
		RequestID: requestID,
	})
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
