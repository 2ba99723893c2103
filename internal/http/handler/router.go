// Package handler exposes the prediction pipeline over HTTP.
package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/go-chi/render"

	"github.com/your-org/colony-strength/internal/dbwriter"
)

// ServiceVersion is reported by the root endpoint.
const ServiceVersion = "0.1.0"

// NewRouter wires the API routes. writer and metrics may be nil.
func NewRouter(svc *ModelService, writer dbwriter.DBWriter, metrics *Metrics) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders:   []string{"*"},
		AllowCredentials: false,
		MaxAge:           300,
	}))
	r.Use(metrics.Instrument)

	predict := NewPredictHandler(svc, writer, metrics)

	r.Group(func(r chi.Router) {
		r.Use(render.SetContentType(render.ContentTypeJSON))
		r.Get("/", RootHandler)
		r.Get("/health", HealthCheckHandler)
		r.Get("/model", predict.ModelInfo)
		r.Post("/predict", predict.Predict)
	})
	if metrics != nil {
		r.Handle("/metrics", metrics.Handler())
	}
	return r
}

// RootHandler returns basic API information.
func RootHandler(w http.ResponseWriter, r *http.Request) {
	render.JSON(w, r, map[string]any{
		"message": "Colony Strength Predictor API",
		"version": ServiceVersion,
		"endpoints": map[string]string{
			"/predict": "Make predictions with the model",
			"/health":  "Check API health",
			"/model":   "Describe the served model",
			"/metrics": "Prometheus metrics",
		},
	})
}
