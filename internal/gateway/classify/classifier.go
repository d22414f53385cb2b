// Package classify turns any error escaping request handling into the
// boundary's JSON error contract: {"status":"error","message":...,"stack"?}.
//
// Every failed request passes through Classifier exactly once. The
// classifier writes one audit record to its LogSink with the unmasked message
// and stack, then applies the disclosure policy to what the client sees.
package classify

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"resilience/internal/domain"
	gw "resilience/internal/gateway"
	"resilience/internal/platform/telemetry"
)

// Classifier maps errors to client responses.
type Classifier struct {
	sink    gw.LogSink
	mode    domain.DisclosureMode
	metrics *telemetry.Metrics
	logger  *slog.Logger
}

// Option configures a Classifier.
type Option func(*Classifier)

// WithMetrics records one metric per classified error.
func WithMetrics(m *telemetry.Metrics) Option {
	return func(c *Classifier) { c.metrics = m }
}

// WithLogger sets the logger used to report response encoding and sink
// failures. Defaults to slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(c *Classifier) { c.logger = l }
}

// New creates a Classifier. sink receives one record per classified error.
func New(sink gw.LogSink, mode domain.DisclosureMode, opts ...Option) *Classifier {
	c := &Classifier{
		sink:   sink,
		mode:   mode,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Mode returns the disclosure mode the classifier was built with.
func (c *Classifier) Mode() domain.DisclosureMode { return c.mode }

// RequestInfo is the request context recorded with each error.
type RequestInfo struct {
	Path      string
	Method    string
	RequestID string
}

// RequestInfoFrom extracts RequestInfo from r.
func RequestInfoFrom(r *http.Request) RequestInfo {
	return RequestInfo{
		Path:      r.URL.Path,
		Method:    r.Method,
		RequestID: gw.RequestIDFromContext(r.Context()),
	}
}

// Classify maps err to its client-visible form and records it to the sink.
func (c *Classifier) Classify(ctx context.Context, err error, req RequestInfo) domain.Classification {
	if err == nil {
		err = errors.New(domain.MsgServerError)
	}

	kind := Inspect(err)
	status := statusOf(err)
	var message any = messageOf(err)

	switch kind {
	case domain.KindValidation:
		status = http.StatusBadRequest
		message = fieldErrors(err)
	case domain.KindAuthToken:
		status = http.StatusUnauthorized
		message = domain.MsgInvalidToken
	case domain.KindConflict:
		status = http.StatusConflict
		message = domain.MsgRecordExists
	}

	stack := stackOf(err)
	c.record(ctx, gw.LogRecord{
		Message:    detailOf(err),
		Stack:      stack,
		Path:       req.Path,
		Method:     req.Method,
		StatusCode: status,
		Kind:       kind,
		RequestID:  req.RequestID,
	})

	op := isOperational(err)
	if c.mode == domain.DisclosureProduction && !op && !kind.DisclosureSafe() {
		message = domain.MsgServerError
	}

	c.metrics.RecordClassifiedError(ctx, kind.String(), status)

	return domain.Classification{
		Kind:         kind,
		StatusCode:   status,
		Message:      message,
		Stack:        stack,
		IncludeStack: c.mode != domain.DisclosureProduction && !op,
	}
}

// Write classifies err and writes the error envelope to w.
func (c *Classifier) Write(w http.ResponseWriter, r *http.Request, err error) {
	cl := c.Classify(r.Context(), err, RequestInfoFrom(r))
	c.writeJSON(w, cl.StatusCode, cl.Response())
}

// record hands rec to the sink. A misbehaving sink never reaches the caller.
func (c *Classifier) record(ctx context.Context, rec gw.LogRecord) {
	if c.sink == nil {
		return
	}
	defer func() {
		if v := recover(); v != nil {
			c.logger.Warn("log sink panicked", "panic", v)
		}
	}()
	c.sink.Record(ctx, rec)
}

func (c *Classifier) writeJSON(w http.ResponseWriter, status int, body domain.ErrorResponse) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		c.logger.Error("encoding error response", "error", err)
	}
}
