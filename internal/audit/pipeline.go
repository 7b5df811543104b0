package audit

import (
	"context"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/opencampus/campus/internal/middleware"
)

// APIPrefix is stripped from request paths before deriving the resource name.
const APIPrefix = "/api/v1"

// resourceIDMinLen is the minimum length of a trailing path segment for the
// resource ID heuristic. Route parameters recorded by handlers take
// precedence; the heuristic is best-effort only.
const resourceIDMinLen = 20

// suspiciousPathMarkers flag directory traversal and sensitive-file probing.
// Matched case-insensitively against the raw request path.
var suspiciousPathMarkers = []string{
	"..",
	"%2e%2e",
	"/etc/passwd",
	".env",
	".git",
}

// Completion carries the outcome of a completed request into the audit
// pipeline, independent of any HTTP framework's response object.
type Completion struct {
	Status   int
	Duration time.Duration
}

// eventFlagKey is the context key for the named-event marker.
type eventFlagKey struct{}

// eventFlag marks that a handler already recorded a named security event for
// the current request, so the completion hook must not classify a second one
// or persist a duplicate record.
type eventFlag struct {
	mu    sync.Mutex
	fired bool
}

func (f *eventFlag) mark() {
	f.mu.Lock()
	f.fired = true
	f.mu.Unlock()
}

func (f *eventFlag) hasFired() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.fired
}

func eventFired(ctx context.Context) bool {
	if f, ok := ctx.Value(eventFlagKey{}).(*eventFlag); ok {
		return f.hasFired()
	}
	return false
}

// Pipeline records every request as an audit Record and classifies
// security-relevant outcomes into SecurityEvents.
//
// Persistence is fire-and-forget: failures are downgraded to debug logs and
// never alter the response already sent to the client. A nil repository
// degrades the pipeline to log-only behavior.
type Pipeline struct {
	repo     Repository
	logger   *slog.Logger
	security *slog.Logger
	metrics  *Metrics

	// pending tracks in-flight persistence goroutines so shutdown and tests
	// can wait for them.
	pending sync.WaitGroup
}

// NewPipeline creates an audit pipeline. repo may be nil (log-only mode);
// metrics may be nil.
func NewPipeline(repo Repository, logger *slog.Logger, metrics *Metrics) *Pipeline {
	if logger == nil {
		logger = slog.Default()
	}
	return &Pipeline{
		repo:     repo,
		logger:   logger,
		security: logger.With(slog.String("channel", "security")),
		metrics:  metrics,
	}
}

// Middleware wraps a handler so that every request, on completion (success or
// error), produces exactly one audit record and at most one security event.
func (p *Pipeline) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := middleware.WithResourceID(r.Context())
		ctx = middleware.WithUserID(ctx)
		ctx = context.WithValue(ctx, eventFlagKey{}, &eventFlag{})
		r = r.WithContext(ctx)
		finish := p.Begin(r)

		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)

		finish(r.Context(), Completion{Status: rec.status})
	})
}

// Begin starts auditing one request and returns the completion callback.
// The callback must be invoked exactly once, after the response is written.
func (p *Pipeline) Begin(r *http.Request) func(context.Context, Completion) {
	start := time.Now()
	requestID := middleware.GetRequestID(r.Context())
	if requestID == "" {
		requestID = uuid.New().String()
	}

	method := r.Method
	path := r.URL.Path
	ip := extractIPAddress(r)
	userAgent := r.UserAgent()

	return func(ctx context.Context, c Completion) {
		duration := c.Duration
		if duration == 0 {
			duration = time.Since(start)
		}

		resource := deriveResource(path)
		rec := Record{
			UserID:     middleware.GetUserID(ctx),
			Action:     deriveAction(method, resource, path),
			Resource:   resource,
			ResourceID: resolveResourceID(ctx, path),
			IPAddress:  ip,
			UserAgent:  userAgent,
			Method:     method,
			Path:       path,
			StatusCode: c.Status,
			DurationMs: duration.Milliseconds(),
			RequestID:  requestID,
		}

		// A named event logged by the handler supersedes classification
		if event, ok := classify(rec); ok && !eventFired(ctx) {
			p.emit(event)
		}
		p.persist(rec)
	}
}

// LogSecurityEvent lets handlers record a named security event outside the
// generic request hook, using the same persistence and logging paths.
// Details are redacted before logging.
//
// Inside the request middleware the event replaces status-based
// classification and the request's single audit record is left to the
// completion hook, so one request yields one record and at most one event.
func (p *Pipeline) LogSecurityEvent(ctx context.Context, r *http.Request, eventType EventType, details map[string]any) {
	event := SecurityEvent{
		Type:      eventType,
		UserID:    middleware.GetUserID(ctx),
		Method:    r.Method,
		Path:      r.URL.Path,
		IPAddress: extractIPAddress(r),
		RequestID: middleware.GetRequestID(ctx),
		Details:   details,
	}
	p.emit(event)

	if f, ok := ctx.Value(eventFlagKey{}).(*eventFlag); ok {
		f.mark()
		return
	}

	p.persist(Record{
		UserID:    event.UserID,
		Action:    string(eventType),
		IPAddress: event.IPAddress,
		UserAgent: r.UserAgent(),
		Method:    event.Method,
		Path:      event.Path,
		RequestID: event.RequestID,
	})
}

// Wait blocks until all in-flight persistence goroutines have finished.
// Intended for graceful shutdown and tests.
func (p *Pipeline) Wait() {
	p.pending.Wait()
}

// emit logs a security event on the security channel and counts it.
func (p *Pipeline) emit(event SecurityEvent) {
	p.metrics.ObserveSecurityEvent(event.Type)

	attrs := []slog.Attr{
		slog.String("event_type", string(event.Type)),
		slog.String("method", event.Method),
		slog.String("path", event.Path),
		slog.String("ip", event.IPAddress),
	}
	if event.Status != 0 {
		attrs = append(attrs, slog.Int("status", event.Status))
	}
	if event.UserID != "" {
		attrs = append(attrs, slog.String("user_id", event.UserID))
	}
	if event.RequestID != "" {
		attrs = append(attrs, slog.String("request_id", event.RequestID))
	}
	if len(event.Details) > 0 {
		attrs = append(attrs, slog.Any("details", Redact(event.Details)))
	}

	p.security.LogAttrs(context.Background(), slog.LevelWarn, "security event", attrs...)
}

// persist hands the record to the repository on a separate goroutine.
// Failures never propagate to the response path.
func (p *Pipeline) persist(rec Record) {
	p.metrics.ObserveRecord()

	if p.repo == nil {
		p.logger.Debug("audit repository absent, record logged only",
			"action", rec.Action, "path", rec.Path, "request_id", rec.RequestID)
		return
	}

	p.pending.Add(1)
	go p.insert(rec)
}

func (p *Pipeline) insert(rec Record) {
	defer p.pending.Done()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if _, err := p.repo.Insert(ctx, rec); err != nil {
		p.metrics.ObservePersistFailure()
		p.logger.Debug("failed to persist audit record",
			"error", err, "action", rec.Action, "request_id", rec.RequestID)
	}
}

// classify maps a completed request onto a security event, if any.
func classify(rec Record) (SecurityEvent, bool) {
	event := SecurityEvent{
		UserID:    rec.UserID,
		IPAddress: rec.IPAddress,
		Method:    rec.Method,
		Path:      rec.Path,
		Status:    rec.StatusCode,
		RequestID: rec.RequestID,
	}

	switch {
	case rec.StatusCode == http.StatusUnauthorized && isAuthPath(rec.Path):
		event.Type = EventLoginFailure
	case rec.StatusCode == http.StatusForbidden:
		event.Type = EventPermissionDenied
	case rec.StatusCode == http.StatusTooManyRequests:
		event.Type = EventSuspiciousActivity
	case isSuspiciousPath(rec.Path):
		event.Type = EventSuspiciousActivity
	default:
		return SecurityEvent{}, false
	}
	return event, true
}

// isAuthPath reports whether the path belongs to the authentication surface.
func isAuthPath(path string) bool {
	return strings.Contains(path, "/auth/")
}

// isSuspiciousPath reports whether the path contains traversal or
// sensitive-file markers.
func isSuspiciousPath(path string) bool {
	lower := strings.ToLower(path)
	for _, marker := range suspiciousPathMarkers {
		if strings.Contains(lower, marker) {
			return true
		}
	}
	return false
}

// deriveResource returns the first path segment after the API version prefix.
func deriveResource(path string) string {
	trimmed := strings.TrimPrefix(path, APIPrefix)
	trimmed = strings.TrimPrefix(trimmed, "/")
	if trimmed == "" {
		return ""
	}
	if idx := strings.IndexByte(trimmed, '/'); idx != -1 {
		return trimmed[:idx]
	}
	return trimmed
}

// deriveAction names the audited operation from the method and resource.
func deriveAction(method, resource, path string) string {
	if resource == "" {
		return method + " " + path
	}
	return method + " " + resource
}

// resolveResourceID prefers an ID recorded by the handler, falling back to a
// heuristic: a trailing path segment of at least 20 alphanumeric/dash
// characters. Best-effort only, not coupled to route definitions.
func resolveResourceID(ctx context.Context, path string) string {
	if id := middleware.GetResourceID(ctx); id != "" {
		return id
	}

	trimmed := strings.TrimSuffix(path, "/")
	idx := strings.LastIndexByte(trimmed, '/')
	if idx == -1 {
		return ""
	}
	last := trimmed[idx+1:]
	if len(last) < resourceIDMinLen {
		return ""
	}
	for _, r := range last {
		isAlnum := (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9')
		if !isAlnum && r != '-' {
			return ""
		}
	}
	return last
}

// extractIPAddress extracts the client IP address from an HTTP request.
// It checks X-Forwarded-For, X-Real-IP, and RemoteAddr in that order.
// The port is stripped from the IP address to ensure compatibility with database storage.
func extractIPAddress(r *http.Request) string {
	// Check X-Forwarded-For header first (for proxied requests)
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		// Use the first IP in the chain, trimming whitespace per RFC 7239
		var firstIP string
		if idx := strings.Index(xff, ","); idx != -1 {
			firstIP = strings.TrimSpace(xff[:idx])
		} else {
			firstIP = strings.TrimSpace(xff)
		}
		// Only use if non-empty after trimming, and strip port if present
		if firstIP != "" {
			host, _, err := net.SplitHostPort(firstIP)
			if err != nil {
				// IP might not have a port
				return firstIP
			}
			return host
		}
	}

	// Check X-Real-IP header
	if xri := r.Header.Get("X-Real-IP"); xri != "" {
		xri = strings.TrimSpace(xri)
		// Strip port if present
		host, _, err := net.SplitHostPort(xri)
		if err != nil {
			// IP might not have a port
			return xri
		}
		return host
	}

	// Fall back to RemoteAddr (strip port properly for both IPv4 and IPv6)
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		// RemoteAddr might not have a port
		return r.RemoteAddr
	}
	return host
}

// statusRecorder wraps http.ResponseWriter to capture the status code.
type statusRecorder struct {
	http.ResponseWriter
	status      int
	wroteHeader bool
}

// WriteHeader captures the status code before writing it.
// Only the first call sets the status code; subsequent calls are ignored
// to match http.ResponseWriter behavior where only the first status is sent.
func (sr *statusRecorder) WriteHeader(code int) {
	if sr.wroteHeader {
		return
	}
	sr.status = code
	sr.wroteHeader = true
	sr.ResponseWriter.WriteHeader(code)
}
