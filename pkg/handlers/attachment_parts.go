package handlers

import (
	"context"
	"encoding/base64"
	"fmt"
	"strings"

	"github.com/pkg/errors"

	"github.com/d4l-data4life/go-chat-host/pkg/config"
	"github.com/d4l-data4life/go-chat-host/pkg/models"
	"github.com/d4l-data4life/go-chat-host/pkg/storage"
	"github.com/d4l-data4life/go-svc/pkg/logging"
)

// attachmentParts turns stored attachments back into message parts
type attachmentParts struct {
	blobs storage.BlobStore
}

func dataURL(mimeType string, data []byte) string {
	return fmt.Sprintf("data:%s;base64,%s", mimeType, base64.StdEncoding.EncodeToString(data))
}

// downloadURL is where the owner fetches an attachment
func downloadURL(a models.Attachment) string {
	return config.APIPrefixV1 + "/attachments/" + a.AttachmentURL
}

// forThread inlines images as data URLs and links everything else.
// Attachments whose blob is gone are left out.
func (p attachmentParts) forThread(ctx context.Context, attachments []models.Attachment) models.Parts {
	parts := models.Parts{}
	for _, a := range attachments {
		if a.AttachmentURL == "" {
			continue
		}
		if !strings.HasPrefix(a.MimeType, "image/") {
			parts = append(parts, models.FilePart{MimeType: a.MimeType, URL: downloadURL(a), Name: a.FileName})
			continue
		}
		data, err := p.blobs.Get(ctx, a.AttachmentURL)
		if err != nil {
			logging.LogWarningf(err, "Failed to load attachment %s", a.ID)
			continue
		}
		parts = append(parts, models.FilePart{MimeType: a.MimeType, Data: dataURL(a.MimeType, data)})
	}
	return parts
}

// forShare inlines images and PDFs; viewers of a share cannot download the
// owner's files, so anything else is only named
func (p attachmentParts) forShare(ctx context.Context, attachments []models.Attachment) models.Parts {
	parts := models.Parts{}
	for _, a := range attachments {
		if a.AttachmentURL == "" {
			continue
		}
		data, err := p.blobs.Get(ctx, a.AttachmentURL)
		if errors.Is(err, storage.ErrNotFound) {
			continue
		}
		if err != nil {
			logging.LogWarningf(err, "Failed to load shared attachment %s", a.ID)
			parts = append(parts, models.TextPart{Text: fmt.Sprintf("[Attachment: %s - Error loading]", a.FileName)})
			continue
		}
		switch {
		case strings.HasPrefix(a.MimeType, "image/"):
			parts = append(parts, models.FilePart{MimeType: a.MimeType, Data: dataURL(a.MimeType, data)})
		case a.MimeType == "application/pdf":
			parts = append(parts, models.FilePart{MimeType: a.MimeType, Data: dataURL(a.MimeType, data), Name: a.FileName})
		default:
			parts = append(parts, models.TextPart{Text: fmt.Sprintf("[Attachment: %s]", a.FileName)})
		}
	}
	return parts
}
