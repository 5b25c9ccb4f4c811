package webhook

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/netip"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/mattjoyce/qiwigo/internal/auth"
	"github.com/mattjoyce/qiwigo/internal/event"
	"github.com/mattjoyce/qiwigo/internal/log"
	"github.com/mattjoyce/qiwigo/internal/metrics"
)

// Delivery results recorded in metrics.
const (
	resultOK             = "ok"
	resultDuplicate      = "duplicate"
	resultHandlerError   = "handler_error"
	resultRejectedIP     = "rejected_ip"
	resultTooLarge       = "too_large"
	resultInvalidPayload = "invalid_payload"
	resultInvalidSig     = "invalid_signature"
)

// Server represents the webhook HTTP server.
type Server struct {
	config     Config
	dispatcher Dispatcher
	deliveries DeliveryStore
	metrics    *metrics.Metrics
	logger     *slog.Logger
	server     *http.Server
}

// Option configures a Server.
type Option func(*Server)

// WithDeliveryStore enables de-duplication of retransmitted deliveries.
func WithDeliveryStore(store DeliveryStore) Option {
	return func(s *Server) { s.deliveries = store }
}

// WithMetrics records delivery counters and serves /metrics.
func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Server) { s.metrics = m }
}

// New creates a new webhook server instance.
func New(config Config, dispatcher Dispatcher, logger *slog.Logger, opts ...Option) *Server {
	if config.MaxBodySize <= 0 {
		config.MaxBodySize = DefaultMaxBodySize
	}
	if config.TransactionPath == "" {
		config.TransactionPath = DefaultTransactionPath
	}
	if config.BillPath == "" {
		config.BillPath = DefaultBillPath
	}
	if logger == nil {
		logger = log.WithComponent("webhook")
	}

	s := &Server{
		config:     config,
		dispatcher: dispatcher,
		logger:     logger,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Start starts the webhook HTTP server (blocking).
func (s *Server) Start(ctx context.Context) error {
	s.server = &http.Server{
		Addr:         s.config.Listen,
		Handler:      s.Handler(),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	s.logger.Info("webhook server starting",
		"listen", s.config.Listen,
		"transactions", s.config.TransactionKey != "",
		"bills", s.config.BillSecret != "",
	)

	errCh := make(chan error, 1)
	go func() {
		if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		s.logger.Info("webhook server shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.server.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("webhook server shutdown failed: %w", err)
		}
		return ctx.Err()
	case err := <-errCh:
		return fmt.Errorf("webhook server error: %w", err)
	}
}

// Handler returns the router, for mounting in an existing server.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	if s.config.TrustProxy {
		r.Use(middleware.RealIP)
	}
	r.Use(s.loggingMiddleware)
	r.Use(middleware.Recoverer)

	r.Group(func(r chi.Router) {
		r.Use(s.allowListMiddleware)
		if s.config.TransactionKey != "" {
			r.Post(s.config.TransactionPath, s.handleTransaction)
		}
		if s.config.BillSecret != "" {
			r.Post(s.config.BillPath, s.handleBill)
		}
	})

	if s.metrics != nil {
		r.With(auth.Require(s.config.MetricsTokens, auth.ScopeMetrics)).Get("/metrics", s.metrics.Handler().ServeHTTP)
	}
	return r
}

// loggingMiddleware logs HTTP requests (excludes payloads).
func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		s.logger.Info("webhook request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"duration_ms", time.Since(start).Milliseconds(),
			"request_id", middleware.GetReqID(r.Context()),
			"remote_addr", r.RemoteAddr,
		)
	})
}

func (s *Server) allowListMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !s.allowed(r.RemoteAddr) {
			s.logger.Warn("webhook from unauthorized address", "remote_addr", r.RemoteAddr, "path", r.URL.Path)
			s.metrics.ObserveDelivery(kindForPath(s.config, r.URL.Path), resultRejectedIP)
			s.respondStatus(w, http.StatusUnauthorized, msgUnauthorizedIP)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) allowed(remoteAddr string) bool {
	if len(s.config.AllowedNetworks) == 0 {
		return true
	}
	addr, ok := parseRemoteAddr(remoteAddr)
	if !ok {
		return false
	}
	for _, p := range s.config.AllowedNetworks {
		if p.Contains(addr) {
			return true
		}
	}
	return false
}

// parseRemoteAddr accepts "host:port" as set by net/http and a bare address
// as set by the RealIP middleware.
func parseRemoteAddr(remoteAddr string) (netip.Addr, bool) {
	if ap, err := netip.ParseAddrPort(remoteAddr); err == nil {
		return ap.Addr().Unmap(), true
	}
	if a, err := netip.ParseAddr(remoteAddr); err == nil {
		return a.Unmap(), true
	}
	return netip.Addr{}, false
}

func (s *Server) handleTransaction(w http.ResponseWriter, r *http.Request) {
	s.handleDelivery(w, r, event.KindTransaction, s.config.TransactionKey, msgInvalidTxnHash,
		func(body []byte) (event.Signed, error) {
			tx, err := event.ParseTransaction(body)
			if err != nil {
				return nil, err
			}
			return tx, nil
		})
}

func (s *Server) handleBill(w http.ResponseWriter, r *http.Request) {
	signature := r.Header.Get(BillSignatureHeader)
	s.handleDelivery(w, r, event.KindBill, s.config.BillSecret, msgInvalidBillSig,
		func(body []byte) (event.Signed, error) {
			bw, err := event.ParseBill(body, signature)
			if err != nil {
				return nil, err
			}
			return bw, nil
		})
}

// handleDelivery runs one delivery through body limit, parse, verification,
// de-duplication and dispatch.
func (s *Server) handleDelivery(w http.ResponseWriter, r *http.Request, kind event.Kind, secret, sigMessage string, parse func([]byte) (event.Signed, error)) {
	body, err := io.ReadAll(io.LimitReader(r.Body, s.config.MaxBodySize+1))
	if err != nil {
		s.respondStatus(w, http.StatusBadRequest, msgBodyReadFailure)
		return
	}
	if int64(len(body)) > s.config.MaxBodySize {
		s.metrics.ObserveDelivery(string(kind), resultTooLarge)
		s.respondStatus(w, http.StatusRequestEntityTooLarge, msgPayloadTooLarge)
		return
	}

	ev, err := parse(body)
	if err != nil {
		s.logger.Warn("webhook payload rejected", "event_kind", string(kind), "error", err)
		s.metrics.ObserveDelivery(string(kind), resultInvalidPayload)
		s.respondStatus(w, http.StatusBadRequest, msgInvalidPayload)
		return
	}

	logger := s.logger.With("event_kind", string(kind), "delivery_key", ev.DeliveryKey())

	if err := VerifySignature(ev, secret); err != nil {
		logger.Warn("webhook signature verification failed", "error", err)
		s.metrics.ObserveDelivery(string(kind), resultInvalidSig)
		s.respondStatus(w, http.StatusBadRequest, sigMessage)
		return
	}

	// Handlers keep running if the sender hangs up.
	ctx := context.WithoutCancel(r.Context())

	key := ev.DeliveryKey()
	if key != "" && s.deliveries != nil {
		first, err := s.deliveries.Claim(ctx, key)
		if err != nil {
			logger.Error("delivery claim failed, dispatching anyway", "error", err)
		} else if !first {
			logger.Info("duplicate webhook delivery acknowledged")
			s.metrics.ObserveDelivery(string(kind), resultDuplicate)
			s.respondOK(w)
			return
		}
	}

	result := resultOK
	for _, o := range s.dispatcher.Dispatch(ctx, ev) {
		if o.Err != nil {
			result = resultHandlerError
		}
	}

	if key != "" && s.deliveries != nil {
		if err := s.deliveries.Complete(ctx, key); err != nil {
			logger.Error("delivery completion not recorded", "error", err)
		}
	}

	logger.Info("webhook delivery handled", "experimental", ev.Experimental(), "result", result)
	s.metrics.ObserveDelivery(string(kind), result)
	s.respondOK(w)
}

func kindForPath(cfg Config, path string) string {
	switch path {
	case cfg.TransactionPath:
		return string(event.KindTransaction)
	case cfg.BillPath:
		return string(event.KindBill)
	default:
		return "unknown"
	}
}

func (s *Server) respondOK(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = io.WriteString(w, responseAcknowledged)
}

// respondStatus sends a JSON rejection.
func (s *Server) respondStatus(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(StatusResponse{Status: message})
}
