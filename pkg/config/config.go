package config

import (
	"fmt"
	"runtime"

	"github.com/go-chi/cors"
	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"github.com/d4l-data4life/go-svc/pkg/logging"
)

// Build information. Populated at build-time.
var (
	Name      string = "go-chat-host"
	Version   string
	Branch    string
	Commit    string
	BuildUser string
	GoVersion = runtime.Version()
)

const (
	// EnvPrefix is a prefix to all ENV variables used in this app
	EnvPrefix = "GO_CHAT_HOST"
	// APIPrefixV1 URL prefix in API version 1
	APIPrefixV1 = "/api/v1"
	// InternalPrefix URL prefix for service-to-service routes
	InternalPrefix = "/internal"

	// ##### GENERAL VARIABLES
	// Debug is a flag used to display debug messages
	Debug = false
	// DebugCORS is a flag used to display CORS debug messages
	DebugCORS = false
	// HumanReadableLogs set to true disables JSON formatting of logging
	HumanReadableLogs = false
	// DefaultHost default host for the services
	DefaultHost = "localhost"
	// DefaultPort default port the service is served on
	DefaultPort = "8080"
	// DefaultCorsHosts default cors horst for local development
	DefaultCorsHosts = "https://localhost:3000 http://localhost:3456"
	// DefaultRequestTimeout is generous since chat generations stream for minutes
	DefaultRequestTimeout = "300s"
	// DefaultThrottleBacklog is how many requests may wait for a free slot
	DefaultThrottleBacklog = 128
	// DefaultThrottleBacklogTimeout is how long a request waits in the backlog
	DefaultThrottleBacklogTimeout = "30s"

	// ##### DATABASE VARIABLES

	// DefaultDBHost default host for the database connection
	DefaultDBHost = "localhost"
	// DefaultDBPort default port for the database connnection
	DefaultDBPort = "5440"
	// DefaultDBName default name of the database
	DefaultDBName = "go-chat-host"
	// DefaultDBUser default user for the database connnection
	DefaultDBUser = "postgres"
	// DefaultDBPassword default password for the database connnection
	DefaultDBPassword = "postgres"
	// DefaultDBSSLMode default ssl mode for the database connnection
	DefaultDBSSLMode = "disable"
	// MigrationVersion is bumped whenever models.MigrationFunc changes
	MigrationVersion = 1

	// ##### AUTHENTICATION VARIABLES

	// DefaultJWTSecret signs session tokens issued by /auth. Override in every deployment.
	DefaultJWTSecret = "local-development-secret" // #nosec
	// DefaultJWTExpiry is the lifetime of issued session tokens
	DefaultJWTExpiry = "24h"
	// DefaultServiceSecret is a secret used to authenticate requests from other services
	DefaultServiceSecret = ""

	// ##### CHAT VARIABLES

	// DefaultAttachmentsDir is where attachments are stored when no bucket is configured
	DefaultAttachmentsDir = "./data/attachments"
	// DefaultMaxUploadBytes limits attachment uploads to 20 MiB
	DefaultMaxUploadBytes = 20 << 20
	// DefaultCacheTTL is the lifetime of cached favorites and server config
	DefaultCacheTTL = "5m"
	// DefaultGenerationLockTTL bounds how long a crashed generation may block its thread
	DefaultGenerationLockTTL = "10m"
	// DefaultTitleModel generates thread titles through openrouter
	DefaultTitleModel = "meta-llama/llama-3.3-8b-instruct:free"
)

func bindEnvVariable(name string, fallback interface{}) {
	if fallback != "" {
		viper.SetDefault(name, fallback)
	}
	err := viper.BindEnv(name)
	if err != nil {
		// cannot use logging.LogError due to import cycle
		fmt.Printf("Error binding Env Variable: %v", err)
	}
}

// SetupEnv configures app to read ENV variables
func SetupEnv() {
	// a missing .env is the normal case outside local development
	_ = godotenv.Load()

	viper.SetEnvPrefix(EnvPrefix)
	// General
	bindEnvVariable("DEBUG", Debug)
	bindEnvVariable("HUMAN_READABLE_LOGS", HumanReadableLogs)
	bindEnvVariable("DEBUG_CORS", DebugCORS)
	bindEnvVariable("HOST", DefaultHost)
	bindEnvVariable("PORT", DefaultPort)
	bindEnvVariable("CORS_HOSTS", DefaultCorsHosts)
	bindEnvVariable("HTTP_MAX_PARALLEL_REQUESTS", 64)
	bindEnvVariable("HTTP_REQUEST_TIMEOUT", DefaultRequestTimeout)
	bindEnvVariable("HTTP_THROTTLE_BACKLOG", DefaultThrottleBacklog)
	bindEnvVariable("HTTP_THROTTLE_BACKLOG_TIMEOUT", DefaultThrottleBacklogTimeout)
	// Database
	bindEnvVariable("DB_HOST", DefaultDBHost)
	bindEnvVariable("DB_PORT", DefaultDBPort)
	bindEnvVariable("DB_NAME", DefaultDBName)
	bindEnvVariable("DB_SCHEMA", "")
	bindEnvVariable("DB_USER", DefaultDBUser)
	bindEnvVariable("DB_PASS", DefaultDBPassword)
	bindEnvVariable("DB_SSL_MODE", DefaultDBSSLMode)
	bindEnvVariable("DB_SSL_ROOT_CERT_PATH", "")
	// Authentication
	bindEnvVariable("JWT_SECRET", DefaultJWTSecret)
	bindEnvVariable("JWT_EXPIRY", DefaultJWTExpiry)
	bindEnvVariable("REMOTE_KEYS_URL", "")
	bindEnvVariable("SERVICE_SECRET", DefaultServiceSecret)
	// Chat
	bindEnvVariable("ATTACHMENTS_DIR", DefaultAttachmentsDir)
	bindEnvVariable("ATTACHMENTS_GCS_BUCKET", "")
	bindEnvVariable("MAX_UPLOAD_BYTES", DefaultMaxUploadBytes)
	bindEnvVariable("CACHE_TTL", DefaultCacheTTL)
	bindEnvVariable("REDIS_ADDR", "")
	bindEnvVariable("GENERATION_LOCK_TTL", DefaultGenerationLockTTL)
	bindEnvVariable("TITLE_MODEL", DefaultTitleModel)
	bindProviderVariables()
}

// SetupLogger initializes the service logger from the bound environment
func SetupLogger() {
	logging.LoggerConfig(logging.ServiceName(Name), logging.ServiceVersion(Version), logging.Debug(viper.GetBool("DEBUG")))
}

// CorsConfig stores default configuration for CORS middleware
func CorsConfig(corsHosts []string) cors.Options {
	return cors.Options{
		AllowedOrigins:   corsHosts,
		AllowedMethods:   []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-User-Language", "X-Chat-Client"},
		ExposedHeaders:   []string{"Link", "X-Vercel-AI-Data-Stream"},
		AllowCredentials: true, // header "Access-Control-Allow-Credentials" is not present if this is set to false
		MaxAge:           300,  // Maximum value not ignored by any of major browsers,
		Debug:            viper.GetBool("DEBUG_CORS"),
	}
}
