package calculator

import "github.com/go-chi/chi/v5"

// RegisterRoutes mounts all calculator endpoints onto the given router
// under the /calculator prefix.
func RegisterRoutes(r chi.Router, registry *Registry) {
	sessions := NewSessionHandler(registry)

	r.Route("/calculator", func(r chi.Router) {
		r.Post("/evaluate", EvaluateEquation)
		r.Post("/add", Add)
		r.Post("/subtract", Subtract)
		r.Post("/multiply", Multiply)
		r.Post("/divide", Divide)
		r.Post("/chain", Chain)

		r.Route("/sessions", func(r chi.Router) {
			r.Post("/", sessions.Create)
			r.Route("/{id}", func(r chi.Router) {
				r.Get("/", sessions.Get)
				r.Delete("/", sessions.Delete)
				r.Post("/keys", sessions.Press)
				r.Get("/history", sessions.History)
				r.Delete("/history", sessions.ClearHistory)
			})
		})
	})
}
