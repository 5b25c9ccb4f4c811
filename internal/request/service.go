// Package request runs one API method call end to end: fingerprint, cache,
// build, transport, status mapping and decoding.
package request

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/mattjoyce/qiwigo/internal/apimethod"
	"github.com/mattjoyce/qiwigo/internal/cache"
	"github.com/mattjoyce/qiwigo/internal/log"
	"github.com/mattjoyce/qiwigo/internal/metrics"
	"github.com/mattjoyce/qiwigo/internal/transport"
)

// maxResponseBytes caps how much of a response body is read.
const maxResponseBytes = 16 << 20

// Config holds per-client request settings.
type Config struct {
	// Messages maps error status codes to human-readable text.
	Messages map[int]string

	// Header is applied to every request (auth, accept, ...).
	Header http.Header

	// CacheTTL is the response cache lifetime. Zero disables caching.
	CacheTTL time.Duration

	// Timeout bounds each call, including reading the body. Zero means none.
	Timeout time.Duration

	// Session is the transport session. Nil creates a persistent one.
	Session *transport.Session

	Logger  *slog.Logger
	Metrics *metrics.Metrics
}

// Service is safe for concurrent use.
type Service struct {
	messages map[int]string
	header   http.Header
	timeout  time.Duration
	cache    *cache.Cache
	session  *transport.Session
	logger   *slog.Logger
	metrics  *metrics.Metrics
}

// NewService creates a request service owning its cache and session.
func NewService(cfg Config) *Service {
	session := cfg.Session
	if session == nil {
		session = transport.NewSession(cfg.Timeout)
	}
	logger := cfg.Logger
	if logger == nil {
		logger = log.WithComponent("request")
	}
	header := cfg.Header.Clone()
	if header == nil {
		header = http.Header{}
	}

	return &Service{
		messages: cfg.Messages,
		header:   header,
		timeout:  cfg.Timeout,
		cache:    cache.New(cfg.CacheTTL),
		session:  session,
		logger:   logger,
		metrics:  cfg.Metrics,
	}
}

// Cache exposes the response cache (for inspection and tests).
func (s *Service) Cache() *cache.Cache {
	return s.cache
}

// ClearCache drops every cached response and the cached transport session.
func (s *Service) ClearCache() {
	s.cache.Clear(true)
	s.session.Close()
}

// Close releases the transport session.
func (s *Service) Close() {
	s.session.Close()
}

// Emit performs the call described by d and decodes the response into T.
// An empty or 204 response yields the zero T.
func Emit[T any](ctx context.Context, s *Service, d *apimethod.Descriptor, values apimethod.Values, opts ...CallOption) (T, error) {
	var out T
	body, _, err := s.Do(ctx, d, values, opts...)
	if err != nil {
		return out, err
	}
	if err := decode(body, &out); err != nil {
		return out, fmt.Errorf("request: %s: decode response: %w", d.Name, err)
	}
	return out, nil
}

func decode(body []byte, out any) error {
	if raw, ok := out.(*[]byte); ok {
		*raw = append((*raw)[:0], body...)
		return nil
	}
	if len(body) == 0 {
		return nil
	}
	return json.Unmarshal(body, out)
}

// Do performs the call and returns the raw success body and status.
func (s *Service) Do(ctx context.Context, d *apimethod.Descriptor, values apimethod.Values, opts ...CallOption) ([]byte, int, error) {
	co := collectOptions(opts)
	logger := s.logger.With("api_method", d.Name)

	var fingerprint string
	if d.Cacheable() && s.cache.Enabled() {
		fingerprint = cache.Fingerprint(d.Method, d.URL, values)
		if e, ok := s.cache.Lookup(fingerprint); ok {
			s.metrics.ObserveCache(true)
			logger.Debug("api response served from cache", "status", e.StatusCode)
			return bytes.Clone(e.Body), e.StatusCode, nil
		}
		s.metrics.ObserveCache(false)
	}

	req, err := apimethod.Build(d, values)
	if err != nil {
		return nil, 0, err
	}

	if s.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}

	httpReq, err := req.HTTPRequest(ctx, s.header)
	if err != nil {
		return nil, 0, err
	}

	doer := s.session.Acquire()
	defer s.session.Release()

	start := time.Now()
	resp, err := doer.Do(httpReq)
	if err != nil {
		s.metrics.ObserveAPI(d.Name, 0)
		logger.Warn("api request failed", "url", req.URL, "error", err)
		return nil, 0, &TransportError{Method: d.Name, URL: req.URL, Err: err}
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		s.metrics.ObserveAPI(d.Name, 0)
		return nil, 0, &TransportError{Method: d.Name, URL: req.URL, Err: fmt.Errorf("read body: %w", err)}
	}

	s.metrics.ObserveAPI(d.Name, resp.StatusCode)
	logger.Debug("api request",
		"method", req.Method,
		"url", req.URL,
		"status", resp.StatusCode,
		"duration_ms", time.Since(start).Milliseconds(),
	)

	if !co.success(resp.StatusCode) {
		apiErr := &APIError{
			Method:     d.Name,
			StatusCode: resp.StatusCode,
			Message:    s.message(co, resp.StatusCode),
		}
		if json.Valid(data) {
			apiErr.Body = json.RawMessage(data)
		}
		logger.Warn("api request rejected", "status", resp.StatusCode, "message", apiErr.Message)
		return nil, resp.StatusCode, apiErr
	}

	if fingerprint != "" {
		s.cache.Store(fingerprint, data, resp.StatusCode)
	}
	return data, resp.StatusCode, nil
}

func (s *Service) message(co callOptions, status int) string {
	if msg, ok := co.messages[status]; ok {
		return msg
	}
	if msg, ok := s.messages[status]; ok {
		return msg
	}
	return UnknownMessage
}

// IsTransport reports whether err is a failure to reach the remote.
func IsTransport(err error) bool {
	return errors.Is(err, ErrTransport)
}

// IsAPI reports whether err is a remote refusal, returning it if so.
func IsAPI(err error) (*APIError, bool) {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr, true
	}
	return nil, false
}
