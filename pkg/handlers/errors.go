package handlers

import (
	"net/http"

	"github.com/go-chi/chi"
	"github.com/go-chi/render"
	"github.com/google/uuid"
	"github.com/pkg/errors"

	"github.com/d4l-data4life/go-chat-host/pkg/credentials"
	"github.com/d4l-data4life/go-chat-host/pkg/generation"
	"github.com/d4l-data4life/go-chat-host/pkg/lock"
	"github.com/d4l-data4life/go-chat-host/pkg/reconcile"
	"github.com/d4l-data4life/go-chat-host/pkg/registry"
	"github.com/d4l-data4life/go-chat-host/pkg/storage"
	"github.com/d4l-data4life/go-chat-host/pkg/store"
	"github.com/d4l-data4life/go-svc/pkg/logging"
)

// Machine readable error codes sent next to the message
const (
	CodeInvalidRequest     = "INVALID_REQUEST"
	CodeUnauthorized       = "UNAUTHORIZED"
	CodeUserNotFound       = "USER_NOT_FOUND"
	CodeNotFound           = "NOT_FOUND"
	CodeConflict           = "CONFLICT"
	CodeModelUnavailable   = "MODEL_UNAVAILABLE"
	CodeMissingCredentials = "MISSING_CREDENTIALS"
	CodeEmptyMessage       = "EMPTY_MESSAGE"
	CodeGenerationRunning  = "GENERATION_IN_PROGRESS"
	CodeInvalidParams      = "INVALID_MODEL_PARAMS"
	CodeUnsupportedFile    = "UNSUPPORTED_FILE_TYPE"
	CodeFileTooLarge       = "FILE_TOO_LARGE"
	CodeInternal           = "INTERNAL_ERROR"
)

// ErrorResponse is the body of every error reply
type ErrorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

func writeError(w http.ResponseWriter, r *http.Request, status int, code, message string) {
	render.Status(r, status)
	render.JSON(w, r, ErrorResponse{Error: message, Code: code})
}

// requestError is a validation failure with its status and code decided up front
type requestError struct {
	status  int
	code    string
	message string
}

func (e *requestError) Error() string { return e.message }

func badRequest(code, message string) error {
	return &requestError{status: http.StatusBadRequest, code: code, message: message}
}

// classify maps the sentinel errors of the domain packages onto an HTTP status
// and the body sent for it
func classify(err error, what string) (int, ErrorResponse) {
	var reqErr *requestError
	switch {
	case errors.As(err, &reqErr):
		return reqErr.status, ErrorResponse{Error: reqErr.message, Code: reqErr.code}
	case errors.Is(err, store.ErrNotFound), errors.Is(err, storage.ErrNotFound):
		return http.StatusNotFound, ErrorResponse{Error: what + " not found", Code: CodeNotFound}
	case errors.Is(err, store.ErrConflict):
		return http.StatusConflict, ErrorResponse{Error: what + " already exists", Code: CodeConflict}
	case errors.Is(err, lock.ErrLocked):
		return http.StatusConflict, ErrorResponse{Error: "A response is already being generated for this chat", Code: CodeGenerationRunning}
	case errors.Is(err, registry.ErrModelNotFound), errors.Is(err, registry.ErrModelDisabled):
		return http.StatusBadRequest, ErrorResponse{Error: err.Error(), Code: CodeModelUnavailable}
	case errors.Is(err, credentials.ErrMissingCredential), errors.Is(err, credentials.ErrImageUnsupported):
		return http.StatusBadRequest, ErrorResponse{Error: err.Error(), Code: CodeMissingCredentials}
	case errors.Is(err, generation.ErrInvalidParams):
		return http.StatusBadRequest, ErrorResponse{Error: err.Error(), Code: CodeInvalidParams}
	case errors.Is(err, reconcile.ErrEmptyMessages), errors.Is(err, reconcile.ErrOwnershipViolation):
		return http.StatusBadRequest, ErrorResponse{Error: err.Error(), Code: CodeInvalidRequest}
	default:
		return http.StatusInternalServerError, ErrorResponse{Error: "Internal server error", Code: CodeInternal}
	}
}

// handleError answers with the classified error. Causes of 500s are logged, never sent.
func handleError(w http.ResponseWriter, r *http.Request, err error, what string) {
	status, body := classify(err, what)
	if status == http.StatusInternalServerError {
		logging.LogErrorfCtx(r.Context(), err, "Failed to handle %s request", what)
	}
	render.Status(r, status)
	render.JSON(w, r, body)
}

// urlUUID parses a uuid URL parameter and answers 400 when it is malformed
func urlUUID(w http.ResponseWriter, r *http.Request, param, what string) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, param))
	if err != nil {
		writeError(w, r, http.StatusBadRequest, CodeInvalidRequest, "Invalid "+what+" ID")
		return uuid.Nil, false
	}
	return id, true
}

// decodeJSON reads the request body and answers 400 on malformed input
func decodeJSON(w http.ResponseWriter, r *http.Request, v interface{}) bool {
	if err := render.DecodeJSON(r.Body, v); err != nil {
		writeError(w, r, http.StatusBadRequest, CodeInvalidRequest, "Invalid request body")
		return false
	}
	return true
}
