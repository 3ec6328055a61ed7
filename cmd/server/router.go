package main

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/phrazzld/safe-notify/internal/api"
	apiMiddleware "github.com/phrazzld/safe-notify/internal/api/middleware"
)

// setupRouter creates and configures the application router with all routes and middleware.
func (app *application) setupRouter() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(apiMiddleware.NewTraceMiddleware(app.logger))
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: app.config.Server.CORSAllowedOrigins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders: []string{"Accept", "Authorization", "Content-Type", "X-Trace-Id"},
		ExposedHeaders: []string{"X-Trace-Id"},
		MaxAge:         300,
	}))

	handler := api.NewNotificationHandler(
		app.intakeService,
		app.replayService,
		app.queryService,
		app.logger,
	)
	handler.RegisterRoutes(r)

	return r
}
