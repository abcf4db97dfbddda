package handlers

import (
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi"
	"github.com/go-chi/render"
	"github.com/pkg/errors"
	"golang.org/x/crypto/bcrypt"

	"github.com/d4l-data4life/go-chat-host/pkg/auth"
	"github.com/d4l-data4life/go-chat-host/pkg/models"
	"github.com/d4l-data4life/go-chat-host/pkg/store"
	"github.com/d4l-data4life/go-svc/pkg/instrumented"
	"github.com/d4l-data4life/go-svc/pkg/logging"
)

const minPasswordLength = 8

// AuthHandler handles registration and login
type AuthHandler struct {
	*instrumented.Handler
	store  *store.Store
	issuer *auth.TokenIssuer
}

// NewAuthHandler creates a new auth handler
func NewAuthHandler(s *store.Store, issuer *auth.TokenIssuer) *AuthHandler {
	return &AuthHandler{
		Handler: GetHandlerFactory().NewHandler("AuthHandler"),
		store:   s,
		issuer:  issuer,
	}
}

// Routes returns the auth routes; only /me needs a session
func (h *AuthHandler) Routes(requireSession func(http.Handler) http.Handler) chi.Router {
	r := chi.NewRouter()

	r.Post(h.InstrumentChi("/register", h.Register))
	r.Post(h.InstrumentChi("/login", h.Login))
	r.With(requireSession).Get(h.InstrumentChi("/me", h.Me))

	return r
}

// RegisterRequest represents a registration request
type RegisterRequest struct {
	Username string `json:"username"`
	Email    string `json:"email"`
	Password string `json:"password"`
}

// LoginRequest represents a login request. Username may also be the email.
type LoginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

// AuthResponse represents an authentication response
type AuthResponse struct {
	User      models.PublicUser `json:"user"`
	Token     string            `json:"token"`
	ExpiresAt time.Time         `json:"expiresAt"`
}

// Register handles user registration
func (h *AuthHandler) Register(w http.ResponseWriter, r *http.Request) {
	var req RegisterRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	req.Username = strings.TrimSpace(req.Username)
	req.Email = strings.TrimSpace(req.Email)
	if req.Username == "" || req.Email == "" || req.Password == "" {
		writeError(w, r, http.StatusBadRequest, CodeInvalidRequest, "Username, email, and password are required")
		return
	}
	if len(req.Password) < minPasswordLength {
		writeError(w, r, http.StatusBadRequest, CodeInvalidRequest, "Password must be at least 8 characters")
		return
	}

	hashedPassword, err := bcrypt.GenerateFromPassword([]byte(req.Password), bcrypt.DefaultCost)
	if err != nil {
		logging.LogErrorf(err, "Failed to hash password")
		writeError(w, r, http.StatusInternalServerError, CodeInternal, "Failed to create user")
		return
	}

	hashed := string(hashedPassword)
	user := models.User{
		Username:     &req.Username,
		Email:        &req.Email,
		PasswordHash: &hashed,
	}
	if err := h.store.CreateUser(r.Context(), &user); err != nil {
		if errors.Is(err, store.ErrConflict) {
			writeError(w, r, http.StatusConflict, CodeConflict, "Username or email already exists")
			return
		}
		handleError(w, r, err, "user")
		return
	}

	logging.LogDebugf("User registered: %s", req.Username)
	render.Status(r, http.StatusCreated)
	h.respondWithToken(w, r, &user)
}

// Login exchanges username (or email) and password for a session token
func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	var req LoginRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	user, err := h.store.FindUserByLogin(r.Context(), strings.TrimSpace(req.Username))
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		handleError(w, r, err, "user")
		return
	}
	if user == nil || user.PasswordHash == nil ||
		bcrypt.CompareHashAndPassword([]byte(*user.PasswordHash), []byte(req.Password)) != nil {
		writeError(w, r, http.StatusUnauthorized, CodeUnauthorized, "Invalid username or password")
		return
	}

	h.respondWithToken(w, r, user)
}

// Me returns the user of the current session
func (h *AuthHandler) Me(w http.ResponseWriter, r *http.Request) {
	user, err := h.store.GetUser(r.Context(), GetUserIDFromContext(r.Context()))
	if err != nil {
		handleError(w, r, err, "user")
		return
	}
	render.JSON(w, r, user.ToPublic())
}

func (h *AuthHandler) respondWithToken(w http.ResponseWriter, r *http.Request, user *models.User) {
	token, expiresAt, err := h.issuer.Issue(user.ID)
	if err != nil {
		logging.LogErrorf(err, "Failed to generate JWT")
		writeError(w, r, http.StatusInternalServerError, CodeInternal, "Failed to generate token")
		return
	}
	render.JSON(w, r, AuthResponse{
		User:      user.ToPublic(),
		Token:     token,
		ExpiresAt: expiresAt,
	})
}
