// Package transport owns the HTTP session shared by one API client instance.
package transport

import (
	"net/http"
	"sync"
	"time"
)

//go:generate mockgen -destination=mocks/mock_doer.go -package=mocks github.com/mattjoyce/qiwigo/internal/transport Doer

// Doer executes HTTP requests. *http.Client satisfies it.
type Doer interface {
	Do(req *http.Request) (*http.Response, error)
}

// Session lazily creates the underlying client on first use. In persistent
// mode (the default) it is reused across calls; otherwise Release tears it
// down after every call.
type Session struct {
	persistent bool
	factory    func() Doer

	mu     sync.Mutex
	doer   Doer
	opened int
}

// Option configures a Session.
type Option func(*Session)

// WithDoer makes the session hand out d instead of building an *http.Client.
// Used by tests and by callers that bring their own transport.
func WithDoer(d Doer) Option {
	return func(s *Session) {
		s.factory = func() Doer { return d }
	}
}

// WithoutPersistentSession closes the session after every call.
func WithoutPersistentSession() Option {
	return func(s *Session) {
		s.persistent = false
	}
}

// NewSession creates a session. timeout bounds each HTTP exchange at the
// client level; zero leaves it to the request context.
func NewSession(timeout time.Duration, opts ...Option) *Session {
	s := &Session{
		persistent: true,
		factory: func() Doer {
			return &http.Client{
				Timeout:   timeout,
				Transport: http.DefaultTransport.(*http.Transport).Clone(),
			}
		},
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Persistent reports whether the session is reused across calls.
func (s *Session) Persistent() bool {
	return s.persistent
}

// Acquire returns the live client, creating it if needed.
func (s *Session) Acquire() Doer {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.doer == nil {
		s.doer = s.factory()
		s.opened++
	}
	return s.doer
}

// Release runs per-call housekeeping: a non-persistent session is closed.
func (s *Session) Release() {
	if s.persistent {
		return
	}
	s.Close()
}

// Close drops the current client and its idle connections. The next Acquire
// opens a fresh one.
func (s *Session) Close() {
	s.mu.Lock()
	d := s.doer
	s.doer = nil
	s.mu.Unlock()

	if c, ok := d.(interface{ CloseIdleConnections() }); ok {
		c.CloseIdleConnections()
	}
}

// Opened returns how many clients the session has created so far.
func (s *Session) Opened() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.opened
}
