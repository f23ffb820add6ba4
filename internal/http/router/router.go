package router

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"whatsfleet/internal/app/config"
	"whatsfleet/internal/http/handlers"
	appMiddleware "whatsfleet/internal/http/middleware"
	"whatsfleet/pkg/logger"
)

// Router is the fleet manager's HTTP surface: instance lifecycle, session
// inspection and health, behind the teacher's chi middleware stack.
type Router struct {
	*chi.Mux
	config          *config.Config
	logger          logger.Logger
	instanceHandler *handlers.InstanceHandler
	authHandler     *handlers.AuthHandler
	healthHandler   *handlers.HealthHandler
}

// New builds the router and wires every route.
func New(
	cfg *config.Config,
	log logger.Logger,
	instanceHandler *handlers.InstanceHandler,
	authHandler *handlers.AuthHandler,
	healthHandler *handlers.HealthHandler,
) *Router {
	r := &Router{
		Mux:             chi.NewRouter(),
		config:          cfg,
		logger:          log.WithComponent("router"),
		instanceHandler: instanceHandler,
		authHandler:     authHandler,
		healthHandler:   healthHandler,
	}

	r.setupMiddlewares()
	r.setupRoutes()

	return r
}

func (r *Router) setupMiddlewares() {
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(60 * time.Second))

	r.Use(appMiddleware.NewCORS())
	r.Use(appMiddleware.NewLoggingMiddleware(r.logger))
	r.Use(appMiddleware.NewRecoveryMiddleware(r.logger))
	r.Use(appMiddleware.NewRateLimit(r.config.RateLimit.Requests))
}

func (r *Router) setupRoutes() {
	r.Get("/health", r.healthHandler.Health)

	r.Route("/instances", func(rt chi.Router) {
		rt.With(appMiddleware.NewRateLimit(10)).Post("/create", r.instanceHandler.Create)
		rt.Get("/", r.instanceHandler.List)

		rt.Route("/{id}", func(rt chi.Router) {
			rt.Get("/", r.instanceHandler.Get)
			rt.Get("/qr", r.instanceHandler.GetQR)
			rt.Post("/restart", r.instanceHandler.Restart)
			rt.Delete("/", r.instanceHandler.Delete)
		})
	})

	r.Route("/auth/sessions", func(rt chi.Router) {
		rt.Get("/", r.authHandler.ListSessions)
		rt.Get("/{name}", r.authHandler.GetSession)
		rt.Delete("/{name}", r.authHandler.DeleteSession)
	})

	r.NotFound(func(w http.ResponseWriter, req *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusNotFound)
		w.Write([]byte(`{"success":false,"message":"endpoint not found","error":{"code":"NOT_FOUND"}}`))
	})
}
