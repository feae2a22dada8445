package api

import (
	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/driftchat/backend/internal/auth"
	"github.com/driftchat/backend/internal/middleware"
)

// Router holds all handlers and creates the chi router
type Router struct {
	deviceHandler *DeviceHandler
	turnHandler   *TURNHandler
	healthHandler *HealthHandler
	gateway       *Gateway
	jwtManager    *auth.JWTManager
	logger        *zap.Logger
}

// NewRouter creates a new router
func NewRouter(
	deviceHandler *DeviceHandler,
	turnHandler *TURNHandler,
	healthHandler *HealthHandler,
	gateway *Gateway,
	jwtManager *auth.JWTManager,
	logger *zap.Logger,
) *Router {
	return &Router{
		deviceHandler: deviceHandler,
		turnHandler:   turnHandler,
		healthHandler: healthHandler,
		gateway:       gateway,
		jwtManager:    jwtManager,
		logger:        logger,
	}
}

// Setup configures and returns the chi router
func (rt *Router) Setup() *chi.Mux {
	r := chi.NewRouter()

	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(middleware.RecoveryMiddleware(rt.logger))
	r.Use(middleware.LoggingMiddleware(rt.logger))
	r.Use(middleware.CORSMiddleware())

	r.Route("/health", func(r chi.Router) {
		r.Get("/", rt.healthHandler.Health)
		r.Get("/ready", rt.healthHandler.Ready)
		r.Get("/live", rt.healthHandler.Live)
	})

	r.Route("/api/v1", func(r chi.Router) {
		r.Post("/devices", rt.deviceHandler.Register)

		r.Group(func(r chi.Router) {
			r.Use(middleware.AuthMiddleware(rt.jwtManager))
			r.Get("/turn/credentials", rt.turnHandler.Credentials)
		})
	})

	// The realtime connection authenticates itself via query token.
	r.Get("/ws", rt.gateway.HandleWebSocket)

	return r
}
