package main

import (
	"context"
	"strings"

	"github.com/go-chi/cors"
	"github.com/spf13/viper"

	"github.com/d4l-data4life/go-chat-host/pkg/auth"
	"github.com/d4l-data4life/go-chat-host/pkg/cache"
	"github.com/d4l-data4life/go-chat-host/pkg/config"
	"github.com/d4l-data4life/go-chat-host/pkg/credentials"
	"github.com/d4l-data4life/go-chat-host/pkg/generation"
	"github.com/d4l-data4life/go-chat-host/pkg/handlers"
	"github.com/d4l-data4life/go-chat-host/pkg/lock"
	"github.com/d4l-data4life/go-chat-host/pkg/metrics"
	"github.com/d4l-data4life/go-chat-host/pkg/models"
	"github.com/d4l-data4life/go-chat-host/pkg/registry"
	"github.com/d4l-data4life/go-chat-host/pkg/server"
	"github.com/d4l-data4life/go-chat-host/pkg/storage"
	"github.com/d4l-data4life/go-chat-host/pkg/store"
	"github.com/d4l-data4life/go-svc/pkg/db"
	"github.com/d4l-data4life/go-svc/pkg/logging"
	"github.com/d4l-data4life/go-svc/pkg/standard"
)

func main() {
	config.SetupEnv()
	config.SetupLogger()
	dbOpts := db.NewConnection(
		db.WithDebug(viper.GetBool("DEBUG")),
		db.WithHost(viper.GetString("DB_HOST")),
		db.WithPort(viper.GetString("DB_PORT")),
		db.WithDatabaseSchema(viper.GetString("DB_SCHEMA")),
		db.WithDatabaseName(viper.GetString("DB_NAME")),
		db.WithUser(viper.GetString("DB_USER")),
		db.WithPassword(viper.GetString("DB_PASS")),
		db.WithSSLMode(viper.GetString("DB_SSL_MODE")),
		db.WithSSLRootCertPath(viper.GetString("DB_SSL_ROOT_CERT_PATH")),
		db.WithMigrationFunc(models.MigrationFunc),
		db.WithMigrationVersion(config.MigrationVersion),
	)
	standard.Main(mainAPI, config.Name, standard.WithPostgres(dbOpts))
}

// mainAPI contains the main service logic - it must finish on runCtx cancelation!
func mainAPI(runCtx context.Context, svcName string) <-chan struct{} {
	dieEarly := make(chan struct{})
	defer close(dieEarly)

	deps, pingers, err := setupDependencies(runCtx)
	if err != nil {
		logging.LogErrorf(err, "Failed to set up %s", svcName)
		return dieEarly
	}

	port := viper.GetString("PORT")
	corsOptions := config.CorsConfig(strings.Split(viper.GetString("CORS_HOSTS"), " "))
	srv := server.NewServer(svcName, cors.New(corsOptions), server.Limits{
		MaxParallel:    viper.GetInt("HTTP_MAX_PARALLEL_REQUESTS"),
		Backlog:        viper.GetInt("HTTP_THROTTLE_BACKLOG"),
		BacklogTimeout: viper.GetDuration("HTTP_THROTTLE_BACKLOG_TIMEOUT"),
		RequestTimeout: viper.GetDuration("HTTP_REQUEST_TIMEOUT"),
	})
	deps.RequestTimeout = srv.Timeout()

	server.SetupRoutes(srv.Mux(), deps, pingers...)
	metrics.AddBuildInfoMetric()
	available := map[string]bool{}
	for provider, ok := range deps.Resolver.Availability() {
		available[string(provider)] = ok
	}
	metrics.AddProviderMetric(available)
	return standard.ListenAndServe(runCtx, srv.Mux(), port)
}

// setupDependencies wires the handler dependencies and returns the readiness
// checks of every backing service
func setupDependencies(ctx context.Context) (handlers.Dependencies, []handlers.Pinger, error) {
	s := store.New(db.Get())
	pingers := []handlers.Pinger{s.Ping}

	blobs, err := setupBlobStore(ctx)
	if err != nil {
		return handlers.Dependencies{}, nil, err
	}

	var locker lock.Locker = lock.NewMemory(viper.GetDuration("GENERATION_LOCK_TTL"))
	if addr := viper.GetString("REDIS_ADDR"); addr != "" {
		redisLocker, err := lock.NewRedis(addr, viper.GetDuration("GENERATION_LOCK_TTL"))
		if err != nil {
			return handlers.Dependencies{}, nil, err
		}
		go func() {
			<-ctx.Done()
			_ = redisLocker.Close()
		}()
		locker = redisLocker
		pingers = append(pingers, redisLocker.Ping)
		logging.LogInfof("Generation locks are held in redis at %s", addr)
	}

	jwtSecret := []byte(viper.GetString("JWT_SECRET"))
	issuer, err := auth.NewTokenIssuer(jwtSecret, viper.GetDuration("JWT_EXPIRY"))
	if err != nil {
		return handlers.Dependencies{}, nil, err
	}
	var validator auth.TokenValidator
	autoCreateUsers := false
	if keysURL := viper.GetString("REMOTE_KEYS_URL"); keysURL != "" {
		validator, err = auth.NewRemoteKeyStore(ctx, keysURL)
		// users of an external identity provider never register here
		autoCreateUsers = true
	} else {
		validator, err = auth.NewLocalJWTValidator(jwtSecret)
	}
	if err != nil {
		return handlers.Dependencies{}, nil, err
	}

	resolver := credentials.NewResolver(config.GetServerKeys())
	return handlers.Dependencies{
		Store:      s,
		Blobs:      blobs,
		Registry:   registry.Default(),
		Resolver:   resolver,
		Locker:     locker,
		Cache:      cache.New(viper.GetDuration("CACHE_TTL")),
		Dispatcher: generation.NewDispatcher(s, blobs, nil, nil),
		Titles:     generation.NewTitleGenerator(s, viper.GetString("TITLE_MODEL"), generation.NewTitleClient),

		Issuer:          issuer,
		Validator:       validator,
		AutoCreateUsers: autoCreateUsers,
		ServiceSecret:   viper.GetString("SERVICE_SECRET"),
		MaxUploadBytes:  viper.GetInt64("MAX_UPLOAD_BYTES"),
	}, pingers, nil
}

func setupBlobStore(ctx context.Context) (storage.BlobStore, error) {
	bucket := viper.GetString("ATTACHMENTS_GCS_BUCKET")
	if bucket == "" {
		return storage.NewLocal(viper.GetString("ATTACHMENTS_DIR"))
	}
	gcs, err := storage.NewGCS(ctx, bucket)
	if err != nil {
		return nil, err
	}
	go func() {
		<-ctx.Done()
		_ = gcs.Close()
	}()
	logging.LogInfof("Attachments are stored in bucket %s", bucket)
	return gcs, nil
}
