package preferences

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"go-chi-calculator/internal/handlers"
	"go-chi-calculator/internal/observability"
)

var tracer = otel.Tracer("preferences")

// ThemeRequest is the JSON body for PUT /preferences/theme.
type ThemeRequest struct {
	Theme string `json:"theme" validate:"required,oneof=light dark"`
}

// ThemeResponse is the JSON response for the theme endpoints.
type ThemeResponse struct {
	Theme string `json:"theme"`
}

// RegisterRoutes mounts the preference endpoints under /preferences.
func RegisterRoutes(r chi.Router, themes *Themes) {
	r.Route("/preferences", func(r chi.Router) {
		r.Get("/theme", themes.handleGet)
		r.Put("/theme", themes.handlePut)
		r.Delete("/theme", themes.handleDelete)
	})
}

func start(r *http.Request, opName string) (*http.Request, trace.Span, *zap.Logger) {
	ctx, span := tracer.Start(r.Context(), "preferences.theme."+opName,
		trace.WithAttributes(attribute.String("request.id", observability.RequestIDFromContext(r.Context()))),
	)
	return r.WithContext(ctx), span, observability.LoggerWithTrace(ctx)
}

func (t *Themes) handleGet(w http.ResponseWriter, r *http.Request) {
	r, span, logger := start(r, "get")
	defer span.End()

	theme, err := t.Theme(r.Context())
	if err != nil {
		observability.RecordError(r.Context(), span, logger, errorCounter, "theme.get", "could not load theme", err, http.StatusInternalServerError, w)
		return
	}
	span.SetAttributes(attribute.String("preferences.theme", theme))
	span.SetStatus(codes.Ok, "")
	handlers.WriteJSON(w, http.StatusOK, ThemeResponse{Theme: theme})
}

func (t *Themes) handlePut(w http.ResponseWriter, r *http.Request) {
	r, span, logger := start(r, "set")
	defer span.End()

	var req ThemeRequest
	if err := handlers.DecodeJSON(w, r, &req); err != nil {
		msg := "invalid request body"
		if !errors.Is(err, handlers.ErrInvalidBody) {
			msg = err.Error()
		}
		observability.RecordError(r.Context(), span, logger, errorCounter, "theme.set", msg, err, http.StatusBadRequest, w)
		return
	}

	if err := t.SetTheme(r.Context(), req.Theme); err != nil {
		observability.RecordError(r.Context(), span, logger, errorCounter, "theme.set", "could not save theme", err, http.StatusInternalServerError, w)
		return
	}

	changeCounter.Add(r.Context(), 1, metric.WithAttributes(attribute.String("theme", req.Theme)))
	span.SetAttributes(attribute.String("preferences.theme", req.Theme))
	span.SetStatus(codes.Ok, "")
	logger.Info("theme changed",
		zap.String("theme", req.Theme),
		zap.String("request_id", observability.RequestIDFromContext(r.Context())),
	)
	handlers.WriteJSON(w, http.StatusOK, ThemeResponse{Theme: req.Theme})
}

func (t *Themes) handleDelete(w http.ResponseWriter, r *http.Request) {
	r, span, logger := start(r, "reset")
	defer span.End()

	if err := t.Reset(r.Context()); err != nil {
		observability.RecordError(r.Context(), span, logger, errorCounter, "theme.reset", "could not reset theme", err, http.StatusInternalServerError, w)
		return
	}

	changeCounter.Add(r.Context(), 1, metric.WithAttributes(attribute.String("theme", t.defaultTheme)))
	span.SetStatus(codes.Ok, "")
	logger.Info("theme reset", zap.String("theme", t.defaultTheme))
	handlers.WriteJSON(w, http.StatusOK, ThemeResponse{Theme: t.defaultTheme})
}
