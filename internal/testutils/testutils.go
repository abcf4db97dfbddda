package testutils

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/cors"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/d4l-data4life/go-chat-host/pkg/auth"
	"github.com/d4l-data4life/go-chat-host/pkg/cache"
	"github.com/d4l-data4life/go-chat-host/pkg/config"
	"github.com/d4l-data4life/go-chat-host/pkg/credentials"
	"github.com/d4l-data4life/go-chat-host/pkg/generation"
	"github.com/d4l-data4life/go-chat-host/pkg/handlers"
	"github.com/d4l-data4life/go-chat-host/pkg/llm"
	"github.com/d4l-data4life/go-chat-host/pkg/lock"
	"github.com/d4l-data4life/go-chat-host/pkg/metrics"
	"github.com/d4l-data4life/go-chat-host/pkg/models"
	"github.com/d4l-data4life/go-chat-host/pkg/registry"
	"github.com/d4l-data4life/go-chat-host/pkg/server"
	"github.com/d4l-data4life/go-chat-host/pkg/storage"
	"github.com/d4l-data4life/go-chat-host/pkg/store"
	"github.com/d4l-data4life/go-svc/pkg/logging"
)

const (
	// TestJWTSecret signs the tokens of test users
	TestJWTSecret = "test-secret"
	// TestServiceSecret guards the internal routes in tests
	TestServiceSecret = "test-service-secret"
	// TestPassword is the password of users created by AddTestUser
	TestPassword = "correct horse battery"
)

// Models served by the test registry
var (
	TextModel = registry.ModelInfo{
		Key:          "gpt-4o-mini",
		ID:           "gpt-4o-mini",
		Name:         "GPT-4o mini",
		Provider:     registry.ProviderOpenAI,
		Capabilities: []registry.Capability{registry.CapabilityVision, registry.CapabilityParameters},
	}
	ImageModel = registry.ModelInfo{
		Key:          "gpt-image-1",
		ID:           "gpt-image-1",
		Name:         "GPT Image 1",
		Provider:     registry.ProviderOpenAI,
		Capabilities: []registry.Capability{registry.CapabilityImages},
	}
	// KeylessModel belongs to a provider the test server holds no key for
	KeylessModel = registry.ModelInfo{
		Key:      "claude-sonnet-4",
		ID:       "claude-sonnet-4-20250514",
		Name:     "Claude Sonnet 4",
		Provider: registry.ProviderAnthropic,
	}
	DisabledModel = registry.ModelInfo{
		Key:      "gpt-3.5-turbo",
		ID:       "gpt-3.5-turbo",
		Name:     "GPT-3.5 Turbo",
		Provider: registry.ProviderOpenAI,
		Disabled: true,
	}
)

// FakeLLM streams a canned reply word by word
type FakeLLM struct {
	Reply string
	Err   error
	// Hold keeps the stream open until the request is cancelled
	Hold bool
	// Images are returned by GenerateImages
	Images []llm.GeneratedImage
}

// Chat returns the whole reply at once
func (f *FakeLLM) Chat(_ context.Context, _ llm.ChatRequest) (*llm.ChatResponse, error) {
	if f.Err != nil {
		return nil, f.Err
	}
	return &llm.ChatResponse{Message: llm.Message{Role: llm.RoleAssistant, Content: f.Reply}}, nil
}

// ChatStream sends one chunk per word followed by a final usage chunk
func (f *FakeLLM) ChatStream(ctx context.Context, _ llm.ChatRequest) (<-chan llm.StreamChunk, error) {
	if f.Err != nil {
		return nil, f.Err
	}
	ch := make(chan llm.StreamChunk)
	go func() {
		defer close(ch)
		words := strings.SplitAfter(f.Reply, " ")
		for _, word := range words {
			select {
			case ch <- llm.StreamChunk{Delta: llm.Delta{Content: word}}:
			case <-ctx.Done():
				return
			}
		}
		if f.Hold {
			<-ctx.Done()
			return
		}
		usage := llm.Usage{PromptTokens: 10, CompletionTokens: len(words), TotalTokens: 10 + len(words)}
		select {
		case ch <- llm.StreamChunk{Usage: usage, Done: true}:
		case <-ctx.Done():
		}
	}()
	return ch, nil
}

// GenerateImages returns the configured images
func (f *FakeLLM) GenerateImages(_ context.Context, _ llm.ImageRequest) (*llm.ImageResponse, error) {
	if f.Err != nil {
		return nil, f.Err
	}
	return &llm.ImageResponse{Images: f.Images}, nil
}

// NewTestDependencies wires every handler dependency against in-memory services
// and the given fake provider
func NewTestDependencies(t *testing.T, fake *FakeLLM) handlers.Dependencies {
	t.Helper()
	s := store.New(models.InitializeTestDB(t))
	blobs, err := storage.NewLocal(t.TempDir())
	require.NoError(t, err)

	issuer, err := auth.NewTokenIssuer([]byte(TestJWTSecret), time.Hour)
	require.NoError(t, err)
	validator, err := auth.NewLocalJWTValidator([]byte(TestJWTSecret))
	require.NoError(t, err)

	dispatcher := generation.NewDispatcher(s, blobs,
		func(context.Context, credentials.Bundle) (llm.Client, error) { return fake, nil },
		func(credentials.Bundle) (llm.ImageGenerator, error) { return fake, nil },
	)

	return handlers.Dependencies{
		Store:      s,
		Blobs:      blobs,
		Registry:   registry.New(TextModel, ImageModel, KeylessModel, DisabledModel),
		Resolver:   credentials.NewResolver(config.ServerKeys{OpenAI: "sk-server"}),
		Locker:     lock.NewMemory(time.Minute),
		Cache:      cache.New(time.Minute),
		Dispatcher: dispatcher,

		Issuer:         issuer,
		Validator:      validator,
		ServiceSecret:  TestServiceSecret,
		MaxUploadBytes: handlers.DefaultMaxUploadBytes,
		RequestTimeout: 10 * time.Second,
	}
}

// NewTestServer creates the full router on top of deps
func NewTestServer(deps handlers.Dependencies) *server.Server {
	corsOptions := config.CorsConfig([]string{"localhost"})
	srv := server.NewServer("TEST_SERVER", cors.New(corsOptions), server.Limits{
		MaxParallel:    8,
		Backlog:        16,
		BacklogTimeout: 5 * time.Second,
		RequestTimeout: deps.RequestTimeout,
	})

	server.SetupRoutes(srv.Mux(), deps, deps.Store.Ping)
	metrics.AddBuildInfoMetric()
	return srv
}

// GetTestMockServer creates the mocked server for tests
func GetTestMockServer(t *testing.T) *server.Server {
	return NewTestServer(NewTestDependencies(t, &FakeLLM{Reply: "Hello from the fake model"}))
}

// AddTestUser stores a user with TestPassword
func AddTestUser(t *testing.T, s *store.Store, username string) models.User {
	t.Helper()
	user, err := CreateUser(context.Background(), s, username, TestPassword)
	require.NoError(t, err)
	return *user
}

// CreateUser stores a user that can log in with password
func CreateUser(ctx context.Context, s *store.Store, username, password string) (*models.User, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.MinCost)
	if err != nil {
		return nil, err
	}
	email := username + "@example.com"
	user := &models.User{
		Username:     &username,
		Email:        &email,
		PasswordHash: Pointerfy(string(hash)),
	}
	if err := s.CreateUser(ctx, user); err != nil {
		return nil, err
	}
	return user, nil
}

// TokenFor issues a session token for the user
func TokenFor(t *testing.T, deps handlers.Dependencies, userID uuid.UUID) string {
	t.Helper()
	token, _, err := deps.Issuer.Issue(userID)
	require.NoError(t, err)
	return token
}

// Authorize sets the bearer token header
func Authorize(r *http.Request, token string) *http.Request {
	r.Header.Set("Authorization", "Bearer "+token)
	return r
}

// AddTestDataToDB seeds a demo user with one finished conversation
func AddTestDataToDB(ctx context.Context, s *store.Store) (*models.User, error) {
	user, err := s.FindUserByLogin(ctx, "demo")
	if err == nil {
		logging.LogInfof("Test data already present for user %s", user.ID)
		return user, nil
	}
	if user, err = CreateUser(ctx, s, "demo", "demo-password"); err != nil {
		return nil, err
	}

	thread, _, err := s.EnsureThread(ctx, user.ID, nil)
	if err != nil {
		return nil, err
	}
	if err := s.SetGeneratedTitle(ctx, thread.ID, "Welcome"); err != nil {
		return nil, err
	}
	question := &models.Message{
		ThreadID: thread.ID,
		Role:     models.MessageRoleUser,
		Parts:    models.Parts{models.TextPart{Text: "What can you do?"}},
		Status:   models.MessageStatusPending,
		Model:    TextModel.Key,
	}
	if err := s.DB().WithContext(ctx).Create(question).Error; err != nil {
		return nil, err
	}
	answer := &models.Message{
		Parts: models.Parts{models.TextPart{Text: "I can answer questions, read your PDFs and draw pictures."}},
		Model: TextModel.Key,
	}
	if err := s.CompleteGeneration(ctx, thread.ID, question.ID, answer); err != nil {
		return nil, err
	}
	return user, nil
}

// GetRequestPayload converts a given object into a reader of that obect as json payload
func GetRequestPayload(payload interface{}) io.Reader {
	bytes, _ := json.Marshal(payload)
	return strings.NewReader(string(bytes))
}

// Pointerfy returns a pointer to a copy of thing
func Pointerfy[T any](thing T) *T {
	return &thing
}
