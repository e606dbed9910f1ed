package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/albertkur/ocpp-charger-simulator/internal/api/handlers"
	"github.com/albertkur/ocpp-charger-simulator/internal/api/middleware"
	"github.com/albertkur/ocpp-charger-simulator/internal/service"
)

// API handles the API server
type API struct {
	router  chi.Router
	handler *handlers.Handler
}

// NewAPI creates a new API server
func NewAPI(simulator *service.Simulator) *API {
	router := chi.NewRouter()
	handler := handlers.NewHandler(simulator)

	// Setup middleware
	router.Use(chimiddleware.Logger)
	router.Use(chimiddleware.Recoverer)
	router.Use(middleware.ContentType)

	// CORS configuration
	router.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-CSRF-Token"},
		ExposedHeaders:   []string{"Link"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	// Setup routes
	router.Route("/api/v1", func(r chi.Router) {
		// Station routes
		r.Route("/stations", func(r chi.Router) {
			r.Get("/", handler.GetStations)
			r.Get("/{hashId}", handler.GetStation)
			r.Get("/{hashId}/connectors", handler.GetConnectors)
		})

		// Worker channel commands
		r.Post("/commands", handler.PostCommand)

		// Performance statistics
		r.Get("/statistics", handler.GetStatistics)
	})

	return &API{
		router:  router,
		handler: handler,
	}
}

// ServeHTTP satisfies the http.Handler interface
func (a *API) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	a.router.ServeHTTP(w, r)
}
