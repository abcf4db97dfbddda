package handlers

import (
	"io"
	"net/http"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/go-chi/chi"
	"github.com/go-chi/render"
	"github.com/google/uuid"
	"github.com/pkg/errors"

	"github.com/d4l-data4life/go-chat-host/pkg/models"
	"github.com/d4l-data4life/go-chat-host/pkg/storage"
	"github.com/d4l-data4life/go-chat-host/pkg/store"
	"github.com/d4l-data4life/go-svc/pkg/instrumented"
	"github.com/d4l-data4life/go-svc/pkg/logging"
)

// DefaultMaxUploadBytes caps a single upload at 20 MiB
const DefaultMaxUploadBytes int64 = 20 << 20

var allowedMimeTypes = map[string]bool{
	"image/png":       true,
	"image/jpeg":      true,
	"image/webp":      true,
	"application/pdf": true,
}

// AttachmentsHandler handles uploads and downloads of attachments
type AttachmentsHandler struct {
	*instrumented.Handler
	store          *store.Store
	blobs          storage.BlobStore
	maxUploadBytes int64
}

// NewAttachmentsHandler creates a new attachments handler; maxUploadBytes <= 0 uses the default
func NewAttachmentsHandler(s *store.Store, blobs storage.BlobStore, maxUploadBytes int64) *AttachmentsHandler {
	if maxUploadBytes <= 0 {
		maxUploadBytes = DefaultMaxUploadBytes
	}
	return &AttachmentsHandler{
		Handler:        GetHandlerFactory().NewHandler("AttachmentsHandler"),
		store:          s,
		blobs:          blobs,
		maxUploadBytes: maxUploadBytes,
	}
}

// Routes returns the routes mounted at /attachments
func (h *AttachmentsHandler) Routes() chi.Router {
	r := chi.NewRouter()

	r.Post(h.InstrumentChi("/", h.Upload))
	r.Post(h.InstrumentChi("/details", h.Details))
	r.Delete(h.InstrumentChi("/{id}", h.Delete))
	r.Get(h.InstrumentChi("/{userId}/{file}", h.Download))

	return r
}

// MessageRoutes returns the routes mounted at /message
func (h *AttachmentsHandler) MessageRoutes() chi.Router {
	r := chi.NewRouter()
	r.Get(h.InstrumentChi("/{id}/attachments", h.MessageAttachments))
	return r
}

// AttachmentResponse is an attachment with the URL it is downloaded from
type AttachmentResponse struct {
	models.Attachment
	URL string `json:"url"`
}

// Upload stores the multipart field "file"
func (h *AttachmentsHandler) Upload(w http.ResponseWriter, r *http.Request) {
	userID := GetUserIDFromContext(r.Context())

	// multipart framing needs a little room on top of the file itself
	r.Body = http.MaxBytesReader(w, r.Body, h.maxUploadBytes+1<<20)
	if err := r.ParseMultipartForm(h.maxUploadBytes); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, r, http.StatusRequestEntityTooLarge, CodeFileTooLarge, "File exceeds the upload limit")
			return
		}
		writeError(w, r, http.StatusBadRequest, CodeInvalidRequest, "No form data")
		return
	}
	defer func() {
		_ = r.MultipartForm.RemoveAll()
	}()

	file, header, err := r.FormFile("file")
	if err != nil {
		writeError(w, r, http.StatusBadRequest, CodeInvalidRequest, "No valid file uploaded")
		return
	}
	defer file.Close()

	mimeType := strings.ToLower(strings.TrimSpace(strings.Split(header.Header.Get("Content-Type"), ";")[0]))
	if !allowedMimeTypes[mimeType] {
		writeError(w, r, http.StatusBadRequest, CodeUnsupportedFile, "Only PNG, JPEG, WebP and PDF files are supported")
		return
	}
	if header.Size > h.maxUploadBytes {
		writeError(w, r, http.StatusRequestEntityTooLarge, CodeFileTooLarge, "File exceeds the upload limit")
		return
	}
	data, err := io.ReadAll(file)
	if err != nil {
		handleError(w, r, errors.Wrap(err, "reading upload"), "Attachment")
		return
	}

	attachment := models.Attachment{
		BaseModel:      models.BaseModel{ID: uuid.New()},
		UserID:         userID,
		Status:         models.AttachmentStatusUploaded,
		AttachmentType: models.AttachmentTypeFor(mimeType),
		FileName:       filepath.Base(header.Filename),
		MimeType:       mimeType,
		FileSize:       int64(len(data)),
	}
	attachment.AttachmentURL = attachment.StoragePath()

	if err := h.blobs.Put(r.Context(), attachment.AttachmentURL, data, mimeType); err != nil {
		handleError(w, r, err, "Attachment")
		return
	}
	if err := h.store.CreateAttachment(r.Context(), &attachment); err != nil {
		if rmErr := h.blobs.Remove(r.Context(), attachment.AttachmentURL); rmErr != nil {
			logging.LogWarningf(rmErr, "Failed to remove orphaned blob %s", attachment.AttachmentURL)
		}
		handleError(w, r, err, "Attachment")
		return
	}

	logging.LogDebugf("Attachment uploaded: %s (%d bytes)", attachment.ID, attachment.FileSize)
	render.JSON(w, r, AttachmentResponse{Attachment: attachment, URL: downloadURL(attachment)})
}

// Delete removes an attachment. A blob that cannot be removed only logs a warning.
func (h *AttachmentsHandler) Delete(w http.ResponseWriter, r *http.Request) {
	attachmentID, ok := urlUUID(w, r, "id", "attachment")
	if !ok {
		return
	}
	ctx := r.Context()
	userID := GetUserIDFromContext(ctx)

	attachment, err := h.store.GetAttachment(ctx, userID, attachmentID)
	if err != nil {
		handleError(w, r, err, "Attachment")
		return
	}
	if attachment.AttachmentURL != "" {
		if err := h.blobs.Remove(ctx, attachment.AttachmentURL); err != nil && !errors.Is(err, storage.ErrNotFound) {
			logging.LogWarningf(err, "Failed to remove blob of attachment %s", attachmentID)
		}
	}
	if err := h.store.DeleteAttachment(ctx, userID, attachmentID); err != nil {
		handleError(w, r, err, "Attachment")
		return
	}
	render.JSON(w, r, map[string]bool{"success": true})
}

// DetailsRequest lists the attachments to describe
type DetailsRequest struct {
	IDs []string `json:"ids"`
}

// AttachmentDetails is the summary the composer shows for pending attachments
type AttachmentDetails struct {
	ID       uuid.UUID `json:"id"`
	FileName string    `json:"fileName"`
	FileSize int64     `json:"fileSize"`
	MimeType string    `json:"mimeType"`
}

// Details describes the requested attachments the caller owns; others are left out
func (h *AttachmentsHandler) Details(w http.ResponseWriter, r *http.Request) {
	var req DetailsRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	ids, err := parseIDs(req.IDs)
	if err != nil {
		handleError(w, r, err, "Attachment")
		return
	}

	attachments, err := h.store.ListAttachments(r.Context(), GetUserIDFromContext(r.Context()), ids)
	if err != nil {
		handleError(w, r, err, "Attachment")
		return
	}
	details := make([]AttachmentDetails, 0, len(attachments))
	for _, a := range attachments {
		details = append(details, AttachmentDetails{ID: a.ID, FileName: a.FileName, FileSize: a.FileSize, MimeType: a.MimeType})
	}
	render.JSON(w, r, map[string][]AttachmentDetails{"attachments": details})
}

// Download streams an attachment back to its owner
func (h *AttachmentsHandler) Download(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	userID := GetUserIDFromContext(ctx)
	if chi.URLParam(r, "userId") != userID.String() {
		writeError(w, r, http.StatusNotFound, CodeNotFound, "Attachment not found")
		return
	}
	key := userID.String() + "/" + chi.URLParam(r, "file")
	if err := storage.ValidateKey(key); err != nil {
		writeError(w, r, http.StatusBadRequest, CodeInvalidRequest, "Invalid attachment path")
		return
	}

	attachment, err := h.store.GetAttachmentByPath(ctx, userID, key)
	if err != nil {
		handleError(w, r, err, "Attachment")
		return
	}
	data, err := h.blobs.Get(ctx, key)
	if err != nil {
		handleError(w, r, err, "Attachment")
		return
	}

	contentType := attachment.MimeType
	if contentType == "" {
		contentType = storage.ContentTypeForKey(key)
	}
	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Content-Length", strconv.Itoa(len(data)))
	w.Header().Set("Cache-Control", "private, max-age=3600")
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write(data); err != nil {
		logging.LogErrorfCtx(ctx, err, "Error writing attachment to response body")
	}
}

// MessageAttachments lists the attachment ids of a message in one of the caller's threads
func (h *AttachmentsHandler) MessageAttachments(w http.ResponseWriter, r *http.Request) {
	messageID, ok := urlUUID(w, r, "id", "message")
	if !ok {
		return
	}
	ids, err := h.store.MessageAttachmentIDs(r.Context(), GetUserIDFromContext(r.Context()), messageID)
	if err != nil {
		handleError(w, r, err, "Message")
		return
	}
	render.JSON(w, r, map[string][]uuid.UUID{"attachmentIds": ids})
}
