package handlers

import (
	"net/http"

	"github.com/go-chi/render"

	"github.com/d4l-data4life/go-chat-host/pkg/cache"
	"github.com/d4l-data4life/go-chat-host/pkg/credentials"
	"github.com/d4l-data4life/go-chat-host/pkg/registry"
	"github.com/d4l-data4life/go-svc/pkg/instrumented"
)

// ServerConfigHandler tells the UI which providers work without a user key
type ServerConfigHandler struct {
	*instrumented.Handler
	resolver *credentials.Resolver
	cache    *cache.Cache
}

// NewServerConfigHandler creates a new server config handler
func NewServerConfigHandler(resolver *credentials.Resolver, c *cache.Cache) *ServerConfigHandler {
	return &ServerConfigHandler{
		Handler:  GetHandlerFactory().NewHandler("ServerConfigHandler"),
		resolver: resolver,
		cache:    c,
	}
}

// GetServerConfig returns per provider whether the server holds a key
func (h *ServerConfigHandler) GetServerConfig(w http.ResponseWriter, r *http.Request) {
	availability, _ := cache.GetOrLoad(h.cache, cache.ServerConfigKey, func() (map[registry.Provider]bool, error) {
		return h.resolver.Availability(), nil
	})
	render.JSON(w, r, availability)
}
