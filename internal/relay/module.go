// Package relay provides the Argus webhook relay bounded context module.
// This file defines the module that encapsulates service setup and route registration.
package relay

import (
	"argus_relay/internal/dedupe"
	"argus_relay/internal/events"
	"argus_relay/internal/eventstore"
	apphttp "argus_relay/internal/http"
	"argus_relay/internal/vapi"
	"argus_relay/platform/config"
	"argus_relay/platform/logger"
)

// Module is the relay bounded context module implementing http.Module.
type Module struct {
	handler *Handler
	service *Service
}

// NewModule creates and initializes the relay module with all its dependencies.
// The cache may be nil when replay suppression is disabled.
func NewModule(store eventstore.Store, dispatcher vapi.Dispatcher, cache *dedupe.Cache, eventBus events.Bus, cfg config.RelayConfig, log *logger.Logger) *Module {
	locator := NewLocator(cfg)
	service := NewService(store, dispatcher, cache, locator, eventBus, cfg, log)
	handler := NewHandler(service, cfg)

	return &Module{
		handler: handler,
		service: service,
	}
}

// Name returns the module identifier.
func (m *Module) Name() string {
	return "relay"
}

// Service exposes the relay service for out-of-band processing (redrive).
func (m *Module) Service() *Service {
	return m.service
}

// RegisterRoutes mounts relay routes on the provided router context.
func (m *Module) RegisterRoutes(ctx *apphttp.RouterContext) {
	// Public webhook endpoints (shared secret auth, no session)
	group := ctx.V1.Group("/argus")
	group.Use(SecretAuthMiddleware(m.handler.cfg.GetWebhookSecret()))
	group.POST("/webhook", m.handler.HandleArgusWebhook)
	group.POST("/webhook/:phone", m.handler.HandleArgusWebhook)
}
