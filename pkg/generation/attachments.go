package generation

import (
	"context"

	"github.com/google/uuid"

	"github.com/d4l-data4life/go-chat-host/pkg/llm"
	"github.com/d4l-data4life/go-chat-host/pkg/models"
	"github.com/d4l-data4life/go-chat-host/pkg/registry"
	"github.com/d4l-data4life/go-svc/pkg/logging"
)

// loadAttachments reads the blobs of the user's attachments for a provider call.
// Anything unreadable or unsupported by the model is skipped with a warning.
func (d *Dispatcher) loadAttachments(ctx context.Context, userID uuid.UUID, ids []uuid.UUID, info registry.ModelInfo) []llm.Attachment {
	if len(ids) == 0 {
		return nil
	}
	rows, err := d.store.ListAttachments(ctx, userID, ids)
	if err != nil {
		logging.LogWarningf(err, "Failed to look up attachments, generating without them")
		return nil
	}

	result := make([]llm.Attachment, 0, len(rows))
	for _, a := range rows {
		var kind llm.AttachmentKind
		switch a.AttachmentType {
		case models.AttachmentTypeImage:
			kind = llm.AttachmentImage
		case models.AttachmentTypePDF:
			if !info.Has(registry.CapabilityPDFs) {
				logging.LogDebugf("Model %s does not accept PDFs, skipping attachment %s", info.Key, a.ID)
				continue
			}
			kind = llm.AttachmentPDF
		default:
			logging.LogDebugf("Attachment %s of type %s cannot be sent to a model", a.ID, a.AttachmentType)
			continue
		}
		if a.AttachmentURL == "" {
			logging.LogInfof("Attachment %s has no storage path, skipping", a.ID)
			continue
		}
		data, err := d.blobs.Get(ctx, a.AttachmentURL)
		if err != nil {
			logging.LogWarningf(err, "Failed to load attachment %s, skipping", a.ID)
			continue
		}
		result = append(result, llm.Attachment{Kind: kind, MimeType: a.MimeType, Name: a.FileName, Data: data})
	}
	return result
}
