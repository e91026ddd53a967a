package calculator

import (
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"go-chi-calculator/internal/handlers"
	"go-chi-calculator/internal/observability"
)

// tracer is the calculator's dedicated OpenTelemetry tracer.
var tracer = otel.Tracer("calculator")

// opNames maps the word spellings accepted by the JSON endpoints onto operators.
var opNames = map[string]string{
	"add":      "+",
	"subtract": "-",
	"multiply": "*",
	"divide":   "/",
}

func init() {
	err := handlers.RegisterValidation("calckey", func(fl validator.FieldLevel) bool {
		_, ok := NormalizeKey(fl.Field().String())
		return ok
	})
	if err != nil {
		panic(fmt.Sprintf("registering calckey validation: %v", err))
	}
}

func operatorFor(name string) string {
	if sym, ok := opNames[name]; ok {
		return sym
	}
	return name
}

func elapsedMillis(start time.Time) float64 {
	return float64(time.Since(start).Microseconds()) / 1000.0
}

// writeBadRequest reports a body that could not be decoded or validated.
func writeBadRequest(w http.ResponseWriter, r *http.Request, span trace.Span, logger *zap.Logger, opName string, err error) {
	msg := "invalid request body"
	if !errors.Is(err, handlers.ErrInvalidBody) {
		msg = err.Error()
	}
	observability.RecordError(r.Context(), span, logger, errorCounter, opName, msg, err, http.StatusBadRequest, w)
}

// writeEvaluationFailure reports an evaluator failure with its kind.
func writeEvaluationFailure(w http.ResponseWriter, r *http.Request, span trace.Span, logger *zap.Logger, opName string, err error) {
	kind := Kind(err)
	observability.RecordFailure(r.Context(), span, logger, errorCounter, opName, err.Error(), err, zap.String("kind", kind))
	handlers.WriteErrorKind(w, http.StatusUnprocessableEntity, err.Error(), kind)
}

// ---------------------------------------------------------------------------
// Handler: equation evaluation
// ---------------------------------------------------------------------------

// EvaluateEquation handles POST /calculator/evaluate.
func EvaluateEquation(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	logger := observability.LoggerWithTrace(ctx)
	requestID := observability.RequestIDFromContext(ctx)

	ctx, span := tracer.Start(ctx, "calculator.evaluate",
		trace.WithAttributes(attribute.String("request.id", requestID)),
	)
	defer span.End()
	r = r.WithContext(ctx)

	var req EvaluateRequest
	if err := handlers.DecodeJSON(w, r, &req); err != nil {
		writeBadRequest(w, r, span, logger, "evaluate", err)
		return
	}
	span.SetAttributes(attribute.String("calculator.equation", req.Equation))

	start := time.Now()
	result, err := Evaluate(req.Equation)
	elapsed := elapsedMillis(start)

	if err != nil {
		writeEvaluationFailure(w, r, span, logger, "evaluate", err)
		return
	}

	formatted := Format(result)

	attrs := metric.WithAttributes(attribute.String("operation", "evaluate"))
	opsCounter.Add(ctx, 1, attrs)
	opsHistogram.Record(ctx, elapsed, attrs)
	resultGauge.Record(ctx, result, attrs)

	span.AddEvent("evaluation.complete", trace.WithAttributes(
		attribute.String("formatted", formatted),
		attribute.Float64("duration_ms", elapsed),
	))
	span.SetAttributes(attribute.Float64("calculator.result", result))
	span.SetStatus(codes.Ok, "")

	logger.Info("equation evaluated",
		zap.String("equation", req.Equation),
		zap.String("result", formatted),
		zap.String("request_id", requestID),
		zap.Float64("duration_ms", elapsed),
	)

	handlers.WriteJSON(w, http.StatusOK, EvaluateResponse{
		Equation:  req.Equation,
		Result:    result,
		Formatted: formatted,
	})
}

// ---------------------------------------------------------------------------
// Handlers: binary operations
// ---------------------------------------------------------------------------

// Add handles POST /calculator/add
func Add(w http.ResponseWriter, r *http.Request) {
	handleBinaryOp(w, r, "add")
}

// Subtract handles POST /calculator/subtract
func Subtract(w http.ResponseWriter, r *http.Request) {
	handleBinaryOp(w, r, "subtract")
}

// Multiply handles POST /calculator/multiply
func Multiply(w http.ResponseWriter, r *http.Request) {
	handleBinaryOp(w, r, "multiply")
}

// Divide handles POST /calculator/divide
func Divide(w http.ResponseWriter, r *http.Request) {
	handleBinaryOp(w, r, "divide")
}

// handleBinaryOp is the shared implementation for all binary calculator operations.
func handleBinaryOp(w http.ResponseWriter, r *http.Request, opName string) {
	ctx := r.Context()
	logger := observability.LoggerWithTrace(ctx)
	requestID := observability.RequestIDFromContext(ctx)

	ctx, span := tracer.Start(ctx, fmt.Sprintf("calculator.%s", opName),
		trace.WithAttributes(
			attribute.String("calculator.operation", opName),
			attribute.String("request.id", requestID),
		),
	)
	defer span.End()
	r = r.WithContext(ctx)

	var req CalcRequest
	if err := handlers.DecodeJSON(w, r, &req); err != nil {
		writeBadRequest(w, r, span, logger, opName, err)
		return
	}

	span.SetAttributes(
		attribute.Float64("calculator.operand.a", req.A),
		attribute.Float64("calculator.operand.b", req.B),
	)

	start := time.Now()
	result, err := Apply(operatorFor(opName), req.A, req.B)
	elapsed := elapsedMillis(start)

	if err != nil {
		writeEvaluationFailure(w, r, span, logger, opName, err)
		return
	}

	attrs := metric.WithAttributes(attribute.String("operation", opName))
	opsCounter.Add(ctx, 1, attrs)
	opsHistogram.Record(ctx, elapsed, attrs)
	resultGauge.Record(ctx, result, attrs)

	span.AddEvent("computation.complete", trace.WithAttributes(
		attribute.Float64("result", result),
		attribute.Float64("duration_ms", elapsed),
	))
	span.SetAttributes(attribute.Float64("calculator.result", result))
	span.SetStatus(codes.Ok, "")

	logger.Info("calculator operation completed",
		zap.String("operation", opName),
		zap.Float64("a", req.A),
		zap.Float64("b", req.B),
		zap.Float64("result", result),
		zap.String("request_id", requestID),
		zap.Float64("duration_ms", elapsed),
	)

	handlers.WriteJSON(w, http.StatusOK, CalcResponse{
		Operation: opName,
		A:         req.A,
		B:         req.B,
		Result:    result,
		Formatted: Format(result),
	})
}

// ---------------------------------------------------------------------------
// Handler: chained operations
// ---------------------------------------------------------------------------

// Chain handles POST /calculator/chain. It runs a sequence of operations on a
// running total, creating a child span for every step.
func Chain(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	logger := observability.LoggerWithTrace(ctx)
	requestID := observability.RequestIDFromContext(ctx)

	ctx, span := tracer.Start(ctx, "calculator.chain",
		trace.WithAttributes(
			attribute.String("request.id", requestID),
		),
	)
	defer span.End()
	r = r.WithContext(ctx)

	var req ChainRequest
	if err := handlers.DecodeJSON(w, r, &req); err != nil {
		writeBadRequest(w, r, span, logger, "chain", err)
		return
	}

	span.SetAttributes(
		attribute.Float64("chain.initial", req.Initial),
		attribute.Int("chain.steps_count", len(req.Steps)),
	)

	running := req.Initial
	results := make([]ChainResult, 0, len(req.Steps))

	for i, step := range req.Steps {
		_, stepSpan := tracer.Start(ctx, fmt.Sprintf("calculator.chain.step.%d.%s", i, step.Op),
			trace.WithAttributes(
				attribute.Int("chain.step.index", i),
				attribute.String("chain.step.operation", step.Op),
				attribute.Float64("chain.step.input", running),
				attribute.Float64("chain.step.value", step.Value),
			),
		)

		stepStart := time.Now()
		prev := running
		next, err := Apply(operatorFor(step.Op), running, step.Value)
		stepElapsed := elapsedMillis(stepStart)

		if err != nil {
			err = fmt.Errorf("step %d: %w", i, err)

			stepSpan.RecordError(err)
			stepSpan.SetStatus(codes.Error, err.Error())
			stepSpan.End()

			writeEvaluationFailure(w, r, span, logger, "chain", err)
			return
		}
		running = next

		attrs := metric.WithAttributes(attribute.String("operation", step.Op))
		opsCounter.Add(ctx, 1, attrs)
		opsHistogram.Record(ctx, stepElapsed, attrs)

		stepSpan.AddEvent("step.complete", trace.WithAttributes(
			attribute.Float64("input", prev),
			attribute.Float64("result", running),
		))
		stepSpan.SetStatus(codes.Ok, "")
		stepSpan.End()

		results = append(results, ChainResult{
			Op:     step.Op,
			Value:  step.Value,
			Result: running,
		})
	}

	resultGauge.Record(ctx, running, metric.WithAttributes(attribute.String("operation", "chain")))
	span.SetAttributes(attribute.Float64("chain.result", running))
	span.SetStatus(codes.Ok, "")

	logger.Info("chained calculation completed",
		zap.Float64("initial", req.Initial),
		zap.Float64("result", running),
		zap.Int("steps", len(req.Steps)),
		zap.String("request_id", requestID),
	)

	handlers.WriteJSON(w, http.StatusOK, ChainResponse{
		Initial:   req.Initial,
		Steps:     results,
		Result:    running,
		Formatted: Format(running),
	})
}

// ---------------------------------------------------------------------------
// Handlers: sessions
// ---------------------------------------------------------------------------

// SessionHandler serves the key-driven calculator sessions.
type SessionHandler struct {
	registry *Registry
}

func NewSessionHandler(registry *Registry) *SessionHandler {
	return &SessionHandler{registry: registry}
}

// writeSessionError maps registry errors onto HTTP statuses.
func (h *SessionHandler) writeSessionError(w http.ResponseWriter, r *http.Request, span trace.Span, logger *zap.Logger, opName string, err error) {
	switch {
	case errors.Is(err, ErrSessionNotFound):
		span.SetStatus(codes.Error, err.Error())
		handlers.WriteError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, ErrUnknownKey):
		writeBadRequest(w, r, span, logger, opName, err)
	default:
		observability.RecordError(r.Context(), span, logger, errorCounter, opName, "session storage failure", err, http.StatusInternalServerError, w)
	}
}

func (h *SessionHandler) start(r *http.Request, opName string) (*http.Request, trace.Span, *zap.Logger, string) {
	ctx := r.Context()
	id := chi.URLParam(r, "id")

	ctx, span := tracer.Start(ctx, "calculator.session."+opName,
		trace.WithAttributes(
			attribute.String("request.id", observability.RequestIDFromContext(ctx)),
			attribute.String("calculator.session.id", id),
		),
	)
	return r.WithContext(ctx), span, observability.LoggerWithTrace(ctx), id
}

// Create handles POST /calculator/sessions.
func (h *SessionHandler) Create(w http.ResponseWriter, r *http.Request) {
	r, span, logger, _ := h.start(r, "create")
	defer span.End()

	id, snap := h.registry.Create()
	span.SetAttributes(attribute.String("calculator.session.id", id))

	logger.Info("calculator session created",
		zap.String("session_id", id),
		zap.String("request_id", observability.RequestIDFromContext(r.Context())),
	)

	handlers.WriteJSON(w, http.StatusCreated, SessionResponse{ID: id, Snapshot: snap})
}

// Get handles GET /calculator/sessions/{id}.
func (h *SessionHandler) Get(w http.ResponseWriter, r *http.Request) {
	r, span, logger, id := h.start(r, "get")
	defer span.End()

	snap, err := h.registry.Snapshot(r.Context(), id)
	if err != nil {
		h.writeSessionError(w, r, span, logger, "session.get", err)
		return
	}
	handlers.WriteJSON(w, http.StatusOK, SessionResponse{ID: id, Snapshot: snap})
}

// Press handles POST /calculator/sessions/{id}/keys.
func (h *SessionHandler) Press(w http.ResponseWriter, r *http.Request) {
	r, span, logger, id := h.start(r, "press")
	defer span.End()
	ctx := r.Context()

	var req KeysRequest
	if err := handlers.DecodeJSON(w, r, &req); err != nil {
		writeBadRequest(w, r, span, logger, "session.press", err)
		return
	}
	span.SetAttributes(attribute.Int("calculator.keys_count", len(req.Keys)))

	start := time.Now()
	out, err := h.registry.Press(ctx, id, req.Keys)
	elapsed := elapsedMillis(start)
	if err != nil {
		h.writeSessionError(w, r, span, logger, "session.press", err)
		return
	}

	attrs := metric.WithAttributes(attribute.String("operation", "session.press"))
	opsCounter.Add(ctx, int64(len(req.Keys)), attrs)
	opsHistogram.Record(ctx, elapsed, attrs)

	for _, entry := range out.Completed {
		historyCounter.Add(ctx, 1)
		span.AddEvent("history.append", trace.WithAttributes(
			attribute.String("equation", entry.Equation),
			attribute.String("result", entry.Result),
		))
		logger.Info("calculation completed",
			zap.String("session_id", id),
			zap.String("equation", entry.Equation),
			zap.String("result", entry.Result),
		)
	}

	failures := make([]KeyFailure, 0, len(out.Failures))
	for _, ferr := range out.Failures {
		kind := Kind(ferr)
		errorCounter.Add(ctx, 1, metric.WithAttributes(
			attribute.String("operation", "session.press"),
			attribute.String("kind", kind),
		))
		span.AddEvent("evaluation.failed", trace.WithAttributes(attribute.String("kind", kind)))
		logger.Warn("session evaluation failed",
			zap.String("session_id", id),
			zap.String("kind", kind),
			zap.Error(ferr),
		)
		failures = append(failures, KeyFailure{Kind: kind, Message: ferr.Error()})
	}

	span.SetStatus(codes.Ok, "")

	completed := out.Completed
	if completed == nil {
		completed = []Entry{}
	}
	handlers.WriteJSON(w, http.StatusOK, KeysResponse{
		ID:        id,
		Snapshot:  out.Snapshot,
		Completed: completed,
		Failures:  failures,
	})
}

// History handles GET /calculator/sessions/{id}/history.
func (h *SessionHandler) History(w http.ResponseWriter, r *http.Request) {
	r, span, logger, id := h.start(r, "history")
	defer span.End()

	entries, err := h.registry.History(r.Context(), id)
	if err != nil {
		h.writeSessionError(w, r, span, logger, "session.history", err)
		return
	}
	handlers.WriteJSON(w, http.StatusOK, HistoryResponse{
		ID:      id,
		Limit:   h.registry.HistoryLimit(),
		Entries: entries,
	})
}

// ClearHistory handles DELETE /calculator/sessions/{id}/history.
func (h *SessionHandler) ClearHistory(w http.ResponseWriter, r *http.Request) {
	r, span, logger, id := h.start(r, "history.clear")
	defer span.End()

	if err := h.registry.ClearHistory(r.Context(), id); err != nil {
		h.writeSessionError(w, r, span, logger, "session.history.clear", err)
		return
	}
	logger.Info("calculator history cleared", zap.String("session_id", id))
	w.WriteHeader(http.StatusNoContent)
}

// Delete handles DELETE /calculator/sessions/{id}.
func (h *SessionHandler) Delete(w http.ResponseWriter, r *http.Request) {
	r, span, logger, id := h.start(r, "delete")
	defer span.End()

	if err := h.registry.Delete(r.Context(), id); err != nil {
		h.writeSessionError(w, r, span, logger, "session.delete", err)
		return
	}
	logger.Info("calculator session deleted", zap.String("session_id", id))
	w.WriteHeader(http.StatusNoContent)
}
