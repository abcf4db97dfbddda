// Package reconcile decides how a client-submitted message list maps onto the
// persisted history of a thread. It is pure: callers load the existing
// messages, call Reconcile and apply the returned Plan in one transaction.
package reconcile

import (
	"github.com/google/uuid"
	"github.com/pkg/errors"

	"github.com/d4l-data4life/go-chat-host/pkg/models"
)

// Sentinel errors of the reconciler
var (
	ErrEmptyMessages      = errors.New("messages must not be empty")
	ErrOwnershipViolation = errors.New("message does not belong to this thread")
)

// Kind names what the submission was detected as
type Kind string

const (
	KindAppend Kind = "append"
	KindRetry  Kind = "retry"
	KindEdit   Kind = "edit"
)

// Plan is the set of mutations that brings persisted history in line with a submission
type Plan struct {
	Kind Kind
	// ToDelete are persisted messages that are stale after this submission
	ToDelete []models.Message
	// ToInsert are new rows, with IDs, thread, status and model already set
	ToInsert []models.Message
	// GenerationTargetID is the user message the reply will be generated for
	GenerationTargetID uuid.UUID
	// AttachmentTargetID receives the attachments submitted with the request;
	// uuid.Nil when the final message was not inserted
	AttachmentTargetID uuid.UUID
}

// Reconcile compares incoming against existing (ordered by creation time) and
// returns the plan. existing must be the complete history of threadID.
func Reconcile(threadID uuid.UUID, incoming, existing []models.Message, model string) (Plan, error) {
	if len(incoming) == 0 {
		return Plan{}, ErrEmptyMessages
	}
	if err := checkOwnership(threadID, incoming, existing); err != nil {
		return Plan{}, err
	}

	plan := Plan{Kind: KindAppend}
	last := incoming[len(incoming)-1]
	// retained is the prefix of existing that survives the submission
	retained := existing
	insertFrom := len(existing)

	// A retry only resubmits an unchanged prefix: a changed user message at
	// or before the matched turn makes the submission an edit.
	retryAt, editAt := findRetry(incoming, existing), findEdit(incoming, existing)
	switch {
	case retryAt >= 0 && (editAt < 0 || editAt > retryAt):
		plan.Kind = KindRetry
		retained = existing[:retryAt+1]
		plan.ToDelete = existing[retryAt+1:]
		insertFrom = len(incoming)
	case editAt >= 0:
		plan.Kind = KindEdit
		retained = existing[:editAt]
		plan.ToDelete = existing[editAt:]
		insertFrom = editAt
	}

	retainedIDs := make(map[uuid.UUID]bool, len(retained))
	for _, m := range retained {
		retainedIDs[m.ID] = true
	}

	for index := insertFrom; index < len(incoming); index++ {
		msg := incoming[index]
		if plan.Kind != KindAppend && msg.Role == models.MessageRoleUser && containsUserText(retained, msg.Text()) {
			continue
		}
		if msg.ID != uuid.Nil && retainedIDs[msg.ID] {
			continue
		}
		isFinal := index == len(incoming)-1
		row := models.Message{
			ID:                msg.ID,
			ThreadID:          threadID,
			Role:              msg.Role,
			Status:            models.MessageStatusDone,
			Parts:             msg.Parts,
			Usage:             msg.Usage,
			Model:             model,
			GenerationStartAt: msg.GenerationStartAt,
			GenerationEndAt:   msg.GenerationEndAt,
		}
		if row.ID == uuid.Nil {
			row.ID = uuid.New()
		}
		if row.Parts == nil {
			row.Parts = models.Parts{}
		}
		if isFinal {
			row.Status = models.MessageStatusPending
			if row.Role == models.MessageRoleUser {
				plan.GenerationTargetID = row.ID
				plan.AttachmentTargetID = row.ID
			}
		}
		plan.ToInsert = append(plan.ToInsert, row)
	}

	if plan.GenerationTargetID == uuid.Nil {
		plan.GenerationTargetID = fallbackTarget(last, retained)
	}
	return plan, nil
}

// findRetry returns the index of the existing user message that the last
// incoming message resubmits, or -1. The final existing message never counts.
func findRetry(incoming, existing []models.Message) int {
	last := incoming[len(incoming)-1]
	if len(incoming) > len(existing) || last.Role != models.MessageRoleUser {
		return -1
	}
	text := last.Text()
	for i := 0; i < len(existing)-1; i++ {
		if existing[i].Role == models.MessageRoleUser && existing[i].Text() == text {
			return i
		}
	}
	return -1
}

// findEdit returns the first index where both lists hold a user message with
// different text, or -1.
func findEdit(incoming, existing []models.Message) int {
	n := len(incoming)
	if len(existing) < n {
		n = len(existing)
	}
	for i := 0; i < n; i++ {
		if incoming[i].Role == models.MessageRoleUser && existing[i].Role == models.MessageRoleUser &&
			incoming[i].Text() != existing[i].Text() {
			return i
		}
	}
	return -1
}

func checkOwnership(threadID uuid.UUID, incoming, existing []models.Message) error {
	byID := make(map[uuid.UUID]models.Message, len(existing))
	for _, m := range existing {
		byID[m.ID] = m
	}
	for _, m := range incoming {
		if m.ID == uuid.Nil {
			continue
		}
		if persisted, ok := byID[m.ID]; ok && persisted.ThreadID != threadID {
			return errors.Wrapf(ErrOwnershipViolation, "message %s", m.ID)
		}
	}
	return nil
}

func containsUserText(messages []models.Message, text string) bool {
	for _, m := range messages {
		if m.Role == models.MessageRoleUser && m.Text() == text {
			return true
		}
	}
	return false
}

// fallbackTarget is used when the final message was not inserted: prefer the
// persisted copy of it, else whatever id the client sent.
func fallbackTarget(last models.Message, retained []models.Message) uuid.UUID {
	if last.ID != uuid.Nil {
		for _, m := range retained {
			if m.ID == last.ID {
				return m.ID
			}
		}
	}
	if last.Role == models.MessageRoleUser {
		text := last.Text()
		for i := len(retained) - 1; i >= 0; i-- {
			if retained[i].Role == models.MessageRoleUser && retained[i].Text() == text {
				return retained[i].ID
			}
		}
	}
	return last.ID
}
