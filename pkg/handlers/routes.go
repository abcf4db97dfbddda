package handlers

import (
	"net/http"
	"time"

	"github.com/go-chi/chi"
	"github.com/go-chi/chi/middleware"

	"github.com/d4l-data4life/go-chat-host/pkg/auth"
	"github.com/d4l-data4life/go-chat-host/pkg/cache"
	"github.com/d4l-data4life/go-chat-host/pkg/config"
	"github.com/d4l-data4life/go-chat-host/pkg/credentials"
	"github.com/d4l-data4life/go-chat-host/pkg/generation"
	"github.com/d4l-data4life/go-chat-host/pkg/lock"
	"github.com/d4l-data4life/go-chat-host/pkg/registry"
	"github.com/d4l-data4life/go-chat-host/pkg/storage"
	"github.com/d4l-data4life/go-chat-host/pkg/store"
	"github.com/d4l-data4life/go-svc/pkg/middlewares"
)

// Dependencies bundles everything the API handlers need
type Dependencies struct {
	Store      *store.Store
	Blobs      storage.BlobStore
	Registry   *registry.Registry
	Resolver   *credentials.Resolver
	Locker     lock.Locker
	Cache      *cache.Cache
	Dispatcher *generation.Dispatcher
	Titles     *generation.TitleGenerator

	Issuer          *auth.TokenIssuer
	Validator       auth.TokenValidator
	AutoCreateUsers bool

	// ServiceSecret enables the internal routes when set
	ServiceSecret  string
	MaxUploadBytes int64
	// RequestTimeout applies to every route except the streaming chat endpoints
	RequestTimeout time.Duration
}

// RegisterRoutes registers all API routes
func RegisterRoutes(r chi.Router, deps Dependencies) {
	timeout := passthrough
	if deps.RequestTimeout > 0 {
		timeout = middleware.Timeout(deps.RequestTimeout)
	}

	requireSession := AuthMiddleware(deps.Store, deps.Validator, deps.AutoCreateUsers)

	authHandler := NewAuthHandler(deps.Store, deps.Issuer)
	chatHandler := NewChatHandler(deps.Store, deps.Registry, deps.Resolver, deps.Locker, deps.Dispatcher, deps.Titles)
	threadsHandler := NewThreadsHandler(deps.Store, deps.Blobs)
	sharesHandler := NewSharesHandler(deps.Store, deps.Blobs)
	attachmentsHandler := NewAttachmentsHandler(deps.Store, deps.Blobs, deps.MaxUploadBytes)
	preferencesHandler := NewPreferencesHandler(deps.Store, deps.Cache)
	serverConfigHandler := NewServerConfigHandler(deps.Resolver, deps.Cache)

	r.Route(config.APIPrefixV1, func(r chi.Router) {
		// Public routes
		r.Group(func(r chi.Router) {
			r.Use(timeout)
			r.Mount("/auth", authHandler.Routes(requireSession))
			r.Mount("/share", sharesHandler.Routes(requireSession))
		})

		// Protected routes
		r.Group(func(r chi.Router) {
			r.Use(requireSession)

			// generations stream for as long as the provider needs
			r.Mount("/chat", chatHandler.Routes())

			r.Group(func(r chi.Router) {
				r.Use(timeout)
				r.Mount("/threads", threadsHandler.ListRoutes())
				r.Mount("/thread", threadsHandler.Routes())
				r.Mount("/attachments", attachmentsHandler.Routes())
				r.Mount("/message", attachmentsHandler.MessageRoutes())
				r.Mount("/favorite-models", preferencesHandler.FavoriteRoutes())
				r.Mount("/user-preferences", preferencesHandler.Routes())
				r.Get(serverConfigHandler.InstrumentChi("/server-config", serverConfigHandler.GetServerConfig))
			})
		})
	})

	// Internal routes (service-to-service)
	if deps.ServiceSecret == "" {
		return
	}
	r.Route(config.InternalPrefix, func(r chi.Router) {
		serviceAuth := middlewares.NewServiceSecretAuthenticator(deps.ServiceSecret, serviceAuthLogger{})
		r.Use(serviceAuth.Authenticate(), timeout)

		usersHandler := NewUsersHandler(deps.Store, deps.Blobs, deps.Cache)
		r.Mount("/users", usersHandler.Routes())
	})
}

func passthrough(next http.Handler) http.Handler {
	return next
}
