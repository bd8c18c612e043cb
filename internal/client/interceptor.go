package client

import (
	"log/slog"
	"net/http"
	"sort"
	"sync"
)

// RequestInterceptor runs before a request is sent. Returning an error aborts
// the attempt.
type RequestInterceptor func(req *http.Request) error

// ResponseInterceptor runs after a successful response body has been read
type ResponseInterceptor func(resp *http.Response, body []byte) error

// InterceptorManager holds ordered request and response hooks
type InterceptorManager struct {
	mu       sync.RWMutex
	nextID   int
	request  map[int]RequestInterceptor
	response map[int]ResponseInterceptor
}

// NewInterceptorManager creates an empty manager
func NewInterceptorManager() *InterceptorManager {
	return &InterceptorManager{
		request:  make(map[int]RequestInterceptor),
		response: make(map[int]ResponseInterceptor),
	}
}

// UseRequest registers fn and returns an id for Eject
func (m *InterceptorManager) UseRequest(fn RequestInterceptor) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextID++
	m.request[m.nextID] = fn
	return m.nextID
}

// UseResponse registers fn and returns an id for Eject
func (m *InterceptorManager) UseResponse(fn ResponseInterceptor) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextID++
	m.response[m.nextID] = fn
	return m.nextID
}

// Eject removes the interceptor registered under id
func (m *InterceptorManager) Eject(id int) {
	m.mu.Lock()
	delete(m.request, id)
	delete(m.response, id)
	m.mu.Unlock()
}

func orderedIDs[T any](hooks map[int]T) []int {
	ids := make([]int, 0, len(hooks))
	for id := range hooks {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	return ids
}

func (m *InterceptorManager) runRequest(req *http.Request) error {
	if m == nil {
		return nil
	}
	m.mu.RLock()
	ids := orderedIDs(m.request)
	hooks := make([]RequestInterceptor, len(ids))
	for i, id := range ids {
		hooks[i] = m.request[id]
	}
	m.mu.RUnlock()

	for _, fn := range hooks {
		if err := fn(req); err != nil {
			return err
		}
	}
	return nil
}

func (m *InterceptorManager) runResponse(resp *http.Response, body []byte) error {
	if m == nil {
		return nil
	}
	m.mu.RLock()
	ids := orderedIDs(m.response)
	hooks := make([]ResponseInterceptor, len(ids))
	for i, id := range ids {
		hooks[i] = m.response[id]
	}
	m.mu.RUnlock()

	for _, fn := range hooks {
		if err := fn(resp, body); err != nil {
			return err
		}
	}
	return nil
}

// DebugLogging registers request and response interceptors that log each
// call at debug level. Credential headers are never logged.
func (m *InterceptorManager) DebugLogging(logger *slog.Logger) {
	m.UseRequest(func(req *http.Request) error {
		logger.Debug("api request",
			slog.String("method", req.Method),
			slog.String("url", req.URL.Redacted()),
			slog.String("request_id", req.Header.Get(HeaderRequestID)),
		)
		return nil
	})
	m.UseResponse(func(resp *http.Response, body []byte) error {
		logger.Debug("api response",
			slog.String("method", resp.Request.Method),
			slog.String("url", resp.Request.URL.Redacted()),
			slog.Int("status", resp.StatusCode),
			slog.Int("bytes", len(body)),
		)
		return nil
	})
}
