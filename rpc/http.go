package rpc

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"polsstake/core/events"
	"polsstake/gateway/middleware"
	"polsstake/native/stake"
	"polsstake/observability/metrics"
	"polsstake/storage/eventlog"
)

const (
	jsonRPCVersion    = "2.0"
	maxRequestBytes   = 1 << 20
	readHeaderTimeout = 5 * time.Second
	shutdownTimeout   = 10 * time.Second
	rateLimitKey      = "rpc"
)

const (
	codeParseError     = -32700
	codeInvalidRequest = -32600
	codeMethodNotFound = -32601
	codeInvalidParams  = -32602
	codeUnauthorized   = -32001
	codeServerError    = -32000
	codeStillLocked    = -32030
	codeReserve        = -32031
	codeGateway        = -32032
	codeModulePaused   = -32033
)

// ServerConfig carries the HTTP surface settings of the staking daemon.
type ServerConfig struct {
	ServiceName string
	Auth        middleware.AuthConfig
	RateLimit   middleware.RateLimit
	CORSOrigins []string
	LogRequests bool
}

// Server exposes the staking engine over JSON-RPC and streams engine events
// over websocket.
type Server struct {
	engine  *stake.Engine
	stream  *events.Stream
	journal *eventlog.Journal
	cfg     ServerConfig
	logger  *slog.Logger

	auth         *middleware.Authenticator
	limiter      *middleware.RateLimiter
	obs          *middleware.Observability
	metrics      *metrics.RPCMetrics
	eventMetrics *metrics.EventMetrics
	handler      http.Handler
}

// NewServer wires the engine and the event sinks into an HTTP handler. stream
// and journal are optional; without them the corresponding endpoints report
// the feature as unavailable.
func NewServer(engine *stake.Engine, stream *events.Stream, journal *eventlog.Journal, cfg ServerConfig, logger *slog.Logger) (*Server, error) {
	if engine == nil {
		return nil, errors.New("rpc: stake engine required")
	}
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.ServiceName == "" {
		cfg.ServiceName = "staked"
	}
	stdLogger := slog.NewLogLogger(logger.Handler(), slog.LevelWarn)
	limits := map[string]middleware.RateLimit{}
	if cfg.RateLimit.RequestsPerMinute > 0 {
		limits[rateLimitKey] = cfg.RateLimit
	}
	s := &Server{
		engine:       engine,
		stream:       stream,
		journal:      journal,
		cfg:          cfg,
		logger:       logger,
		auth:         middleware.NewAuthenticator(cfg.Auth, stdLogger),
		limiter:      middleware.NewRateLimiter(limits, stdLogger),
		obs:          middleware.NewObservability(middleware.ObservabilityConfig{ServiceName: cfg.ServiceName, Enabled: true, LogRequests: cfg.LogRequests}, log.New(stdLogger.Writer(), "", 0)),
		metrics:      metrics.RPC(),
		eventMetrics: metrics.Events(),
	}
	s.limiter.OnThrottle(func(string) { s.metrics.RecordThrottle("rate_limit") })
	s.handler = otelhttp.NewHandler(s.routes(), cfg.ServiceName)
	return s, nil
}

func (s *Server) routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.CORS(middleware.CORSConfig{AllowedOrigins: s.cfg.CORSOrigins}))
	r.Get("/healthz", s.handleHealth)
	r.Handle("/metrics", s.obs.MetricsHandler())
	r.With(
		s.obs.Middleware("rpc"),
		s.auth.Middleware(),
		s.limiter.Middleware(rateLimitKey),
	).Post("/", s.handle)
	r.With(
		s.obs.Middleware("ws_events"),
		s.auth.Middleware(),
	).Get("/ws/events", s.handleEventsWS)
	return r
}

// Handler returns the root HTTP handler.
func (s *Server) Handler() http.Handler { return s.handler }

// Serve listens on addr until ctx is cancelled, then drains in-flight requests.
func (s *Server) Serve(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.handler,
		ReadHeaderTimeout: readHeaderTimeout,
	}
	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("json-rpc server listening", "addr", addr)
		errCh <- srv.ListenAndServe()
	}()
	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("rpc: shutdown: %w", err)
		}
		return nil
	}
}

type RPCRequest struct {
	JSONRPC string            `json:"jsonrpc"`
	Method  string            `json:"method"`
	Params  []json.RawMessage `json:"params"`
	ID      interface{}       `json:"id"`
}

type RPCResponse struct {
	JSONRPC string      `json:"jsonrpc"`
	ID      interface{} `json:"id"`
	Result  interface{} `json:"result,omitempty"`
	Error   *RPCError   `json:"error,omitempty"`
}

type RPCError struct {
	Code    int         `json:"code"`
	Message string      `json:"message"`
	Data    interface{} `json:"data,omitempty"`
}

// methodError is returned by method handlers and rendered by handle.
type methodError struct {
	status int
	RPCError
}

func newMethodError(status, code int, message string, data interface{}) *methodError {
	return &methodError{status: status, RPCError: RPCError{Code: code, Message: message, Data: data}}
}

func invalidParams(message string, data interface{}) *methodError {
	return newMethodError(http.StatusBadRequest, codeInvalidParams, message, data)
}

func writeError(w http.ResponseWriter, status int, id interface{}, code int, message string, data interface{}) {
	if status <= 0 {
		status = http.StatusBadRequest
	}
	if status != http.StatusOK {
		w.WriteHeader(status)
	}
	errObj := &RPCError{Code: code, Message: message}
	if data != nil {
		errObj.Data = data
	}
	resp := RPCResponse{JSONRPC: jsonRPCVersion, ID: id, Error: errObj}
	_ = json.NewEncoder(w).Encode(resp)
}

func writeResult(w http.ResponseWriter, id interface{}, result interface{}) {
	resp := RPCResponse{JSONRPC: jsonRPCVersion, ID: id, Result: result}
	_ = json.NewEncoder(w).Encode(resp)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	ok, err := s.engine.Initialised()
	if err != nil || !ok {
		w.WriteHeader(http.StatusServiceUnavailable)
		_ = json.NewEncoder(w).Encode(map[string]string{"status": "uninitialised"})
		return
	}
	_ = json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
}

func (s *Server) handle(w http.ResponseWriter, r *http.Request) {
	reader := http.MaxBytesReader(w, r.Body, maxRequestBytes)
	defer func() {
		_ = reader.Close()
	}()

	w.Header().Set("Content-Type", "application/json")
	middleware.Annotate(w, r)

	body, err := io.ReadAll(reader)
	if err != nil {
		status := http.StatusBadRequest
		message := "failed to read request body"
		var maxBytesErr *http.MaxBytesError
		if errors.As(err, &maxBytesErr) {
			status = http.StatusRequestEntityTooLarge
			message = fmt.Sprintf("request body exceeds %d bytes", maxRequestBytes)
		}
		writeError(w, status, nil, codeInvalidRequest, message, err.Error())
		return
	}
	if len(bytes.TrimSpace(body)) == 0 {
		writeError(w, http.StatusBadRequest, nil, codeInvalidRequest, "request body required", nil)
		return
	}

	req := &RPCRequest{}
	if err := json.Unmarshal(body, req); err != nil {
		writeError(w, http.StatusBadRequest, nil, codeParseError, "invalid JSON payload", err.Error())
		return
	}
	if req.JSONRPC != "" && req.JSONRPC != jsonRPCVersion {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidRequest, "unsupported jsonrpc version", req.JSONRPC)
		return
	}
	if req.Method == "" {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidRequest, "method required", nil)
		return
	}

	start := time.Now()
	result, rpcErr := s.dispatch(r.Context(), req)
	if rpcErr != nil {
		s.metrics.Observe(req.Method, rpcErr.Code, time.Since(start))
		if rpcErr.Code == codeUnauthorized {
			s.metrics.RecordThrottle("unauthorized")
		}
		writeError(w, rpcErr.status, req.ID, rpcErr.Code, rpcErr.Message, rpcErr.Data)
		return
	}
	s.metrics.Observe(req.Method, 0, time.Since(start))
	writeResult(w, req.ID, result)
}

func (s *Server) dispatch(ctx context.Context, req *RPCRequest) (interface{}, *methodError) {
	switch req.Method {
	case "stake_deposit":
		return s.handleStakeDeposit(ctx, req)
	case "stake_withdraw":
		return s.handleStakeWithdraw(ctx, req)
	case "stake_claim":
		return s.handleStakeClaim(ctx, req)
	case "stake_balanceOf":
		return s.handleStakeBalanceOf(req)
	case "stake_pendingReward":
		return s.handleStakePendingReward(req)
	case "stake_position":
		return s.handleStakePosition(req)
	case "stake_lockTimePeriod":
		return s.handleStakeLockTimePeriod()
	case "stake_rewardFactor":
		return s.handleStakeRewardFactor()
	case "stake_rewardAsset":
		return s.handleStakeRewardAsset()
	case "stake_config":
		return s.handleStakeConfig()
	case "stake_solvency":
		return s.handleStakeSolvency(ctx)
	case "stake_setLockTimePeriod":
		return s.handleSetLockTimePeriod(ctx, req)
	case "stake_setRewardAsset":
		return s.handleSetRewardAsset(ctx, req)
	case "stake_setRewardFactor":
		return s.handleSetRewardFactor(ctx, req)
	case "stake_setRewardFactorScale":
		return s.handleSetRewardFactorScale(ctx, req)
	case "stake_transferAdmin":
		return s.handleTransferAdmin(ctx, req)
	case "stake_events":
		return s.handleStakeEvents(ctx, req)
	default:
		return nil, newMethodError(http.StatusNotFound, codeMethodNotFound, "method not found", req.Method)
	}
}
