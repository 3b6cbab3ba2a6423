package main

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math/big"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"swapnet/core/state"
	"swapnet/crypto"
	"swapnet/gateway/auth"
	"swapnet/gateway/middleware"
	"swapnet/native/common"
	"swapnet/native/fusion"
	"swapnet/native/htlc"
	"swapnet/observability/metrics"
)

const (
	headerIdempotencyKey = "Idempotency-Key"
	headerRequestID      = "X-Request-Id"
	maxRequestBody       = 1 << 20
	handlerTimeout       = 15 * time.Second
)

// Server is the HTTP front-end over the escrow and order engines.
type Server struct {
	authenticator *auth.Authenticator
	bearer        *middleware.Authenticator
	limiter       *middleware.RateLimiter
	observability *middleware.Observability
	escrows       *htlc.Engine
	orders        *fusion.Engine
	store         *Store
	logger        *slog.Logger
	nowFn         func() time.Time
}

// ServerConfig bundles the collaborators the server needs. Optional fields
// may be nil; the corresponding layer is skipped.
type ServerConfig struct {
	Authenticator *auth.Authenticator
	Bearer        *middleware.Authenticator
	Limiter       *middleware.RateLimiter
	Observability *middleware.Observability
	Escrows       *htlc.Engine
	Orders        *fusion.Engine
	Store         *Store
	Logger        *slog.Logger
}

func NewServer(cfg ServerConfig) *Server {
	if cfg.Escrows == nil || cfg.Orders == nil {
		panic("escrow and order engines required")
	}
	if cfg.Store == nil {
		panic("receipt store required")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		authenticator: cfg.Authenticator,
		bearer:        cfg.Bearer,
		limiter:       cfg.Limiter,
		observability: cfg.Observability,
		escrows:       cfg.Escrows,
		orders:        cfg.Orders,
		store:         cfg.Store,
		logger:        logger,
		nowFn:         time.Now,
	}
}

// Router assembles the chi route tree with the middleware stack.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.CORS(middleware.CORSConfig{}))
	r.Use(requestID)
	if s.observability != nil {
		r.Use(s.observability.Middleware("root"))
	}

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	if s.observability != nil {
		r.Handle("/metrics", s.observability.MetricsHandler())
	}

	r.Route("/v1/escrows", func(sr chi.Router) {
		if s.limiter != nil {
			sr.Use(s.limiter.Middleware("escrow"))
		}
		if s.bearer != nil {
			sr.Use(s.bearer.Middleware())
		}
		sr.Post("/", s.handleEscrowCreate)
		sr.Get("/{id}", s.handleEscrowGet)
		sr.Post("/{id}/claim", s.handleEscrowClaim)
		sr.Post("/{id}/refund", s.handleEscrowRefund)
		sr.Post("/{id}/slash", s.handleEscrowSlash)
	})

	r.Route("/v1/orders", func(sr chi.Router) {
		if s.limiter != nil {
			sr.Use(s.limiter.Middleware("orders"))
		}
		if s.bearer != nil {
			sr.Use(s.bearer.Middleware())
		}
		sr.Post("/", s.handleOrderCreate)
		sr.Get("/{id}", s.handleOrderGet)
		sr.Post("/{id}/resolve", s.handleOrderResolve)
		sr.Post("/{id}/cancel", s.handleOrderCancel)
	})

	r.Get("/v1/events", s.handleRecentEvents)

	return r
}

// requestID assigns a request id when the caller did not supply one.
func requestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := strings.TrimSpace(r.Header.Get(headerRequestID))
		if id == "" {
			id = uuid.NewString()
			r.Header.Set(headerRequestID, id)
		}
		w.Header().Set(headerRequestID, id)
		next.ServeHTTP(w, r)
	})
}

type escrowCreateRequest struct {
	Side          string `json:"side"`
	Maker         string `json:"maker"`
	Resolver      string `json:"resolver"`
	Token         string `json:"token"`
	Value         string `json:"value"`
	Expiry        int64  `json:"expiry"`
	Deposit       string `json:"deposit"`
	Hashlock      string `json:"hashlock"`
	Nonce         uint64 `json:"nonce"`
	TokenDeposit  string `json:"tokenDeposit"`
	NativeDeposit string `json:"nativeDeposit"`
	Caller        string `json:"caller"`
}

type escrowActionRequest struct {
	Secret string `json:"secret,omitempty"`
	Caller string `json:"caller"`
}

type escrowResponse struct {
	ID             string `json:"id"`
	Address        string `json:"address"`
	Side           string `json:"side"`
	Maker          string `json:"maker"`
	Resolver       string `json:"resolver"`
	Token          string `json:"token"`
	Amount         string `json:"amount"`
	Hashlock       string `json:"hashlock"`
	Finalitylock   int64  `json:"finalitylock"`
	Timelock       int64  `json:"timelock"`
	CreatedAt      int64  `json:"createdAt"`
	TokenBalance   string `json:"tokenBalance"`
	DepositBalance string `json:"depositBalance"`
}

func encodeEscrow(esc *htlc.Escrow) escrowResponse {
	return escrowResponse{
		ID:             hex.EncodeToString(esc.ID[:]),
		Address:        hex.EncodeToString(esc.Address[:]),
		Side:           esc.Side.String(),
		Maker:          crypto.NewAddress(crypto.SWTPrefix, esc.Maker[:]).String(),
		Resolver:       crypto.NewAddress(crypto.SWTPrefix, esc.Resolver[:]).String(),
		Token:          esc.Token,
		Amount:         esc.Amount.String(),
		Hashlock:       hex.EncodeToString(esc.Hashlock[:]),
		Finalitylock:   esc.Finalitylock,
		Timelock:       esc.Timelock,
		CreatedAt:      esc.CreatedAt,
		TokenBalance:   esc.TokenBalance.String(),
		DepositBalance: esc.DepositBalance.String(),
	}
}

type orderCreateRequest struct {
	Maker       string `json:"maker"`
	Resolver    string `json:"resolver"`
	TargetToken string `json:"targetToken"`
	MinOutput   string `json:"minOutput"`
	Route       string `json:"route,omitempty"`
	Deposit     string `json:"deposit"`
	Expiry      int64  `json:"expiry"`
}

type orderActionRequest struct {
	Proceeds string `json:"proceeds,omitempty"`
	Caller   string `json:"caller"`
}

type orderResponse struct {
	ID          string `json:"id"`
	Maker       string `json:"maker"`
	Resolver    string `json:"resolver"`
	TargetToken string `json:"targetToken"`
	MinOutput   string `json:"minOutput"`
	Route       string `json:"route,omitempty"`
	Deposit     string `json:"deposit"`
	Expiry      int64  `json:"expiry"`
	Version     uint8  `json:"version"`
	CreatedAt   int64  `json:"createdAt"`
}

func encodeOrder(order *fusion.Order) orderResponse {
	return orderResponse{
		ID:          hex.EncodeToString(order.ID[:]),
		Maker:       crypto.NewAddress(crypto.SWTPrefix, order.Core.Maker[:]).String(),
		Resolver:    crypto.NewAddress(crypto.SWTPrefix, order.Resolver[:]).String(),
		TargetToken: order.Trade.TargetToken,
		MinOutput:   order.Trade.MinOutput.String(),
		Route:       hex.EncodeToString(order.Trade.Route),
		Deposit:     order.Core.Deposit.String(),
		Expiry:      order.Core.Expiry,
		Version:     order.Version,
		CreatedAt:   order.CreatedAt,
	}
}

func (s *Server) handleEscrowCreate(w http.ResponseWriter, r *http.Request) {
	body, principal, cached, ok := s.preparePost(w, r)
	if !ok {
		return
	}
	if cached != nil {
		s.writeCached(w, cached)
		return
	}
	var req escrowCreateRequest
	if err := json.Unmarshal(body, &req); err != nil {
		s.writeError(w, http.StatusBadRequest, fmt.Errorf("invalid JSON payload: %w", err))
		return
	}
	side, err := parseSide(req.Side)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err)
		return
	}
	maker, err := parseAddress(req.Maker)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, fmt.Errorf("maker: %w", err))
		return
	}
	resolver, err := parseAddress(req.Resolver)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, fmt.Errorf("resolver: %w", err))
		return
	}
	caller, err := parseAddress(req.Caller)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, fmt.Errorf("caller: %w", err))
		return
	}
	value, err := parseAmount(req.Value, "value")
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err)
		return
	}
	deposit, err := parseAmount(req.Deposit, "deposit")
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err)
		return
	}
	tokenDeposit, err := parseAmount(req.TokenDeposit, "tokenDeposit")
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err)
		return
	}
	nativeDeposit, err := parseAmount(req.NativeDeposit, "nativeDeposit")
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err)
		return
	}
	hashlock, err := parseHash32(req.Hashlock)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, fmt.Errorf("hashlock: %w", err))
		return
	}
	data := &htlc.OrderCreationData{
		Record: common.OrderRecord{
			Maker:   maker,
			Token:   req.Token,
			Value:   value,
			Expiry:  req.Expiry,
			Deposit: deposit,
		},
		Resolver: resolver,
		Hashlock: hashlock,
		Nonce:    req.Nonce,
	}
	esc, err := s.escrows.CreateEscrow(side, data, tokenDeposit, nativeDeposit, caller)
	if err != nil {
		s.writeEngineError(w, "htlc", err)
		return
	}
	s.receipt(r.Context(), "escrow", hex.EncodeToString(esc.ID[:]), "create", req.Caller, esc.Token, esc.Amount)
	s.respondIdempotent(w, r, principal, body, http.StatusCreated, encodeEscrow(esc))
}

func (s *Server) handleEscrowGet(w http.ResponseWriter, r *http.Request) {
	id, err := parseHash32(chi.URLParam(r, "id"))
	if err != nil {
		s.writeError(w, http.StatusBadRequest, fmt.Errorf("escrow id: %w", err))
		return
	}
	esc, ok := s.escrows.Get(id)
	if !ok {
		s.writeError(w, http.StatusNotFound, htlc.ErrNotFound)
		return
	}
	s.writeJSON(w, http.StatusOK, encodeEscrow(esc))
}

func (s *Server) handleEscrowClaim(w http.ResponseWriter, r *http.Request) {
	id, req, ok := s.prepareEscrowAction(w, r)
	if !ok {
		return
	}
	secret, err := hex.DecodeString(strings.TrimPrefix(strings.TrimSpace(req.Secret), "0x"))
	if err != nil || len(secret) == 0 {
		s.writeError(w, http.StatusBadRequest, errors.New("secret must be non-empty hex"))
		return
	}
	caller, err := parseAddress(req.Caller)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, fmt.Errorf("caller: %w", err))
		return
	}
	esc, err := s.escrows.Claim(id, secret, caller)
	if err != nil {
		s.writeEngineError(w, "htlc", err)
		return
	}
	s.receipt(r.Context(), "escrow", hex.EncodeToString(esc.ID[:]), "claim", req.Caller, esc.Token, esc.Amount)
	s.writeJSON(w, http.StatusOK, encodeEscrow(esc))
}

func (s *Server) handleEscrowRefund(w http.ResponseWriter, r *http.Request) {
	s.handleEscrowSettle(w, r, "refund", s.escrows.Refund)
}

func (s *Server) handleEscrowSlash(w http.ResponseWriter, r *http.Request) {
	s.handleEscrowSettle(w, r, "slash", s.escrows.Slash)
}

func (s *Server) handleEscrowSettle(w http.ResponseWriter, r *http.Request, action string, settle func([32]byte, [20]byte) (*htlc.Escrow, error)) {
	id, req, ok := s.prepareEscrowAction(w, r)
	if !ok {
		return
	}
	caller, err := parseAddress(req.Caller)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, fmt.Errorf("caller: %w", err))
		return
	}
	esc, err := settle(id, caller)
	if err != nil {
		s.writeEngineError(w, "htlc", err)
		return
	}
	s.receipt(r.Context(), "escrow", hex.EncodeToString(esc.ID[:]), action, req.Caller, esc.Token, esc.Amount)
	s.writeJSON(w, http.StatusOK, encodeEscrow(esc))
}

// prepareEscrowAction authenticates the request and decodes the shared
// id + caller envelope used by claim, refund, and slash.
func (s *Server) prepareEscrowAction(w http.ResponseWriter, r *http.Request) ([32]byte, escrowActionRequest, bool) {
	var req escrowActionRequest
	id, err := parseHash32(chi.URLParam(r, "id"))
	if err != nil {
		s.writeError(w, http.StatusBadRequest, fmt.Errorf("escrow id: %w", err))
		return id, req, false
	}
	body, _, ok := s.readAuthenticated(w, r)
	if !ok {
		return id, req, false
	}
	if err := json.Unmarshal(body, &req); err != nil {
		s.writeError(w, http.StatusBadRequest, fmt.Errorf("invalid JSON payload: %w", err))
		return id, req, false
	}
	return id, req, true
}

func (s *Server) handleOrderCreate(w http.ResponseWriter, r *http.Request) {
	body, principal, cached, ok := s.preparePost(w, r)
	if !ok {
		return
	}
	if cached != nil {
		s.writeCached(w, cached)
		return
	}
	var req orderCreateRequest
	if err := json.Unmarshal(body, &req); err != nil {
		s.writeError(w, http.StatusBadRequest, fmt.Errorf("invalid JSON payload: %w", err))
		return
	}
	maker, err := parseAddress(req.Maker)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, fmt.Errorf("maker: %w", err))
		return
	}
	resolver, err := parseAddress(req.Resolver)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, fmt.Errorf("resolver: %w", err))
		return
	}
	minOutput, err := parseAmount(req.MinOutput, "minOutput")
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err)
		return
	}
	deposit, err := parseAmount(req.Deposit, "deposit")
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err)
		return
	}
	var route []byte
	if trimmed := strings.TrimSpace(req.Route); trimmed != "" {
		route, err = hex.DecodeString(strings.TrimPrefix(trimmed, "0x"))
		if err != nil {
			s.writeError(w, http.StatusBadRequest, fmt.Errorf("route: %w", err))
			return
		}
	}
	trade := fusion.TradeParams{
		TargetToken: req.TargetToken,
		MinOutput:   minOutput,
		Route:       route,
	}
	order, err := s.orders.Create(maker, resolver, trade, deposit, req.Expiry)
	if err != nil {
		s.writeEngineError(w, "fusion", err)
		return
	}
	s.receipt(r.Context(), "order", hex.EncodeToString(order.ID[:]), "create", req.Maker, order.Trade.TargetToken, order.Core.Deposit)
	s.respondIdempotent(w, r, principal, body, http.StatusCreated, encodeOrder(order))
}

func (s *Server) handleOrderGet(w http.ResponseWriter, r *http.Request) {
	id, err := parseHash32(chi.URLParam(r, "id"))
	if err != nil {
		s.writeError(w, http.StatusBadRequest, fmt.Errorf("order id: %w", err))
		return
	}
	order, ok := s.orders.Get(id)
	if !ok {
		s.writeError(w, http.StatusNotFound, fusion.ErrNotFound)
		return
	}
	s.writeJSON(w, http.StatusOK, encodeOrder(order))
}

func (s *Server) handleOrderResolve(w http.ResponseWriter, r *http.Request) {
	id, err := parseHash32(chi.URLParam(r, "id"))
	if err != nil {
		s.writeError(w, http.StatusBadRequest, fmt.Errorf("order id: %w", err))
		return
	}
	body, _, ok := s.readAuthenticated(w, r)
	if !ok {
		return
	}
	var req orderActionRequest
	if err := json.Unmarshal(body, &req); err != nil {
		s.writeError(w, http.StatusBadRequest, fmt.Errorf("invalid JSON payload: %w", err))
		return
	}
	proceeds, err := parseAmount(req.Proceeds, "proceeds")
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err)
		return
	}
	caller, err := parseAddress(req.Caller)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, fmt.Errorf("caller: %w", err))
		return
	}
	order, err := s.orders.Resolve(id, proceeds, caller)
	if err != nil {
		s.writeEngineError(w, "fusion", err)
		return
	}
	s.receipt(r.Context(), "order", hex.EncodeToString(order.ID[:]), "resolve", req.Caller, order.Trade.TargetToken, proceeds)
	s.writeJSON(w, http.StatusOK, encodeOrder(order))
}

func (s *Server) handleOrderCancel(w http.ResponseWriter, r *http.Request) {
	id, err := parseHash32(chi.URLParam(r, "id"))
	if err != nil {
		s.writeError(w, http.StatusBadRequest, fmt.Errorf("order id: %w", err))
		return
	}
	body, _, ok := s.readAuthenticated(w, r)
	if !ok {
		return
	}
	var req orderActionRequest
	if err := json.Unmarshal(body, &req); err != nil {
		s.writeError(w, http.StatusBadRequest, fmt.Errorf("invalid JSON payload: %w", err))
		return
	}
	caller, err := parseAddress(req.Caller)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, fmt.Errorf("caller: %w", err))
		return
	}
	order, err := s.orders.Cancel(id, caller)
	if err != nil {
		s.writeEngineError(w, "fusion", err)
		return
	}
	s.receipt(r.Context(), "order", hex.EncodeToString(order.ID[:]), "cancel", req.Caller, order.Trade.TargetToken, order.Core.Deposit)
	s.writeJSON(w, http.StatusOK, encodeOrder(order))
}

func (s *Server) handleRecentEvents(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), handlerTimeout)
	defer cancel()
	events, err := s.store.RecentEvents(ctx, 100)
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]interface{}{"events": events})
}

// preparePost reads the body, authenticates the caller, and resolves any
// cached idempotent response.
func (s *Server) preparePost(w http.ResponseWriter, r *http.Request) ([]byte, *auth.Principal, *StoredResponse, bool) {
	body, principal, ok := s.readAuthenticated(w, r)
	if !ok {
		return nil, nil, nil, false
	}
	key := strings.TrimSpace(r.Header.Get(headerIdempotencyKey))
	if key == "" || principal == nil {
		return body, principal, nil, true
	}
	requestHash := hashRequest(r.Method, auth.CanonicalRequestPath(r), body)
	cached, err := s.store.LookupIdempotency(r.Context(), principal.APIKey, key, requestHash)
	if err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, ErrIdempotencyMismatch) {
			status = http.StatusConflict
		}
		s.writeError(w, status, err)
		return nil, nil, nil, false
	}
	return body, principal, cached, true
}

func (s *Server) readAuthenticated(w http.ResponseWriter, r *http.Request) ([]byte, *auth.Principal, bool) {
	body, err := readRequestBody(r)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err)
		return nil, nil, false
	}
	var principal *auth.Principal
	if s.authenticator != nil {
		principal, err = s.authenticator.Authenticate(r, body)
		if err != nil {
			s.writeError(w, http.StatusUnauthorized, err)
			s.audit(r.Context(), nil, r, body, http.StatusUnauthorized)
			return nil, nil, false
		}
	}
	s.audit(r.Context(), principal, r, body, http.StatusOK)
	return body, principal, true
}

// respondIdempotent writes the payload and caches it under the caller's
// idempotency key when one was supplied.
func (s *Server) respondIdempotent(w http.ResponseWriter, r *http.Request, principal *auth.Principal, body []byte, status int, payload interface{}) {
	encoded, err := json.Marshal(payload)
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err)
		return
	}
	key := strings.TrimSpace(r.Header.Get(headerIdempotencyKey))
	if key != "" && principal != nil {
		requestHash := hashRequest(r.Method, auth.CanonicalRequestPath(r), body)
		if err := s.store.SaveIdempotency(r.Context(), principal.APIKey, key, requestHash, status, encoded); err != nil {
			s.logger.Error("save idempotency", "error", err)
		}
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(encoded)
}

func (s *Server) writeCached(w http.ResponseWriter, cached *StoredResponse) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(cached.Status)
	_, _ = w.Write(cached.Body)
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	encoded, err := json.Marshal(payload)
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(encoded)
}

func (s *Server) writeError(w http.ResponseWriter, status int, err error) {
	if status <= 0 {
		status = http.StatusInternalServerError
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	msg := strings.ReplaceAll(err.Error(), "\"", "'")
	_, _ = w.Write([]byte(fmt.Sprintf(`{"error":"%s"}`, msg)))
}

func (s *Server) writeEngineError(w http.ResponseWriter, module string, err error) {
	metrics.Swap().ObserveTransitionError(module)
	s.writeError(w, engineErrorStatus(err), err)
}

// engineErrorStatus maps engine sentinels onto HTTP statuses: 404 for missing
// records, 403 for authorization, 409 for timing and duplicates, 400 for the
// rest of the validation failures.
func engineErrorStatus(err error) int {
	switch {
	case errors.Is(err, htlc.ErrNotFound), errors.Is(err, fusion.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, htlc.ErrNotResolver), errors.Is(err, htlc.ErrNotMaker),
		errors.Is(err, htlc.ErrCreationNotAllowed), errors.Is(err, htlc.ErrInvalidSecret),
		errors.Is(err, fusion.ErrNotResolver), errors.Is(err, fusion.ErrNotMaker):
		return http.StatusForbidden
	case errors.Is(err, htlc.ErrDuplicate), errors.Is(err, htlc.ErrFinalityLockActive),
		errors.Is(err, htlc.ErrTimelocked), errors.Is(err, htlc.ErrTimelockNotExpired),
		errors.Is(err, htlc.ErrOrderExpired), errors.Is(err, fusion.ErrOrderExpired),
		errors.Is(err, fusion.ErrOrderNotExpired):
		return http.StatusConflict
	case errors.Is(err, common.ErrModulePaused):
		return http.StatusServiceUnavailable
	case errors.Is(err, state.ErrInsufficientBalance):
		return http.StatusUnprocessableEntity
	default:
		return http.StatusBadRequest
	}
}

func (s *Server) receipt(ctx context.Context, kind, entityID, action, caller, token string, amount *big.Int) {
	amountStr := ""
	if amount != nil {
		amountStr = amount.String()
	}
	err := s.store.InsertReceipt(ctx, Receipt{
		Kind:      kind,
		EntityID:  entityID,
		Action:    action,
		Caller:    caller,
		Token:     token,
		Amount:    amountStr,
		CreatedAt: s.nowFn().UTC(),
	})
	if err != nil {
		s.logger.Error("insert receipt", "kind", kind, "action", action, "error", err)
	}
}

func (s *Server) audit(ctx context.Context, principal *auth.Principal, r *http.Request, body []byte, status int) {
	apiKey := ""
	if principal != nil {
		apiKey = principal.APIKey
	}
	entry := AuditEntry{
		APIKey:         apiKey,
		Method:         r.Method,
		Path:           auth.CanonicalRequestPath(r),
		RequestBody:    append([]byte(nil), body...),
		ResponseStatus: status,
		Timestamp:      s.nowFn().UTC(),
	}
	if err := s.store.InsertAuditLog(ctx, entry); err != nil {
		s.logger.Error("insert audit log", "error", err)
	}
}

func readRequestBody(r *http.Request) ([]byte, error) {
	defer r.Body.Close()
	limited := io.LimitReader(r.Body, maxRequestBody+1)
	data, err := io.ReadAll(limited)
	if err != nil {
		return nil, err
	}
	if len(data) > maxRequestBody {
		return nil, fmt.Errorf("request body exceeds %d bytes", maxRequestBody)
	}
	return data, nil
}

func parseSide(raw string) (htlc.Side, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "source":
		return htlc.SideSource, nil
	case "destination":
		return htlc.SideDestination, nil
	default:
		return 0, fmt.Errorf("side must be source or destination, got %q", raw)
	}
}

func parseAddress(raw string) ([20]byte, error) {
	var out [20]byte
	decoded, err := crypto.DecodeAddress(strings.TrimSpace(raw))
	if err != nil {
		return out, err
	}
	copy(out[:], decoded.Bytes())
	return out, nil
}

func parseAmount(raw, field string) (*big.Int, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return nil, fmt.Errorf("%s is required", field)
	}
	value, ok := new(big.Int).SetString(trimmed, 10)
	if !ok || value.Sign() < 0 {
		return nil, fmt.Errorf("%s must be a non-negative decimal amount", field)
	}
	return value, nil
}

func parseHash32(raw string) ([32]byte, error) {
	var out [32]byte
	decoded, err := hex.DecodeString(strings.TrimPrefix(strings.TrimSpace(raw), "0x"))
	if err != nil {
		return out, err
	}
	if len(decoded) != len(out) {
		return out, fmt.Errorf("expected %d bytes, got %d", len(out), len(decoded))
	}
	copy(out[:], decoded)
	return out, nil
}

func hashRequest(method, path string, body []byte) string {
	sum := sha256.Sum256([]byte(strings.Join([]string{strings.ToUpper(method), path, string(body)}, "\n")))
	return hex.EncodeToString(sum[:])
}
