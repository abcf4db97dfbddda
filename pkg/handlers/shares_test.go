package handlers_test

import (
	"context"
	"net/http"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/d4l-data4life/go-chat-host/pkg/handlers"
	"github.com/d4l-data4life/go-chat-host/pkg/models"
)

func (a *api) share(threadID string, name string) handlers.ShareResponse {
	a.t.Helper()
	w := a.do(http.MethodPost, "/thread/"+threadID+"/share", handlers.ShareRequest{Name: name})
	requireStatus(a.t, w, http.StatusOK)
	return decode[handlers.ShareResponse](a.t, w)
}

func TestShareThread(t *testing.T) {
	a := newAPI(t)
	threadID := a.newThread("Hello").String()

	w := a.do(http.MethodGet, "/thread/"+threadID+"/share", nil)
	requireStatus(t, w, http.StatusOK)
	assert.False(t, decode[handlers.ShareInfo](t, w).HasShare)

	created := a.share(threadID, "  My chat  ")
	assert.NotEmpty(t, created.ShareID)
	assert.Equal(t, "/share/"+created.ShareID, created.ShareURL)
	assert.Equal(t, "My chat", created.Name)
	assert.Equal(t, 2, created.MessageCount)

	w = a.do(http.MethodGet, "/thread/"+threadID+"/share", nil)
	requireStatus(t, w, http.StatusOK)
	info := decode[handlers.ShareInfo](t, w)
	assert.True(t, info.HasShare)
	assert.Equal(t, created.ShareID, info.ShareID)
	assert.Equal(t, "My chat", info.Name)

	// sharing again refreshes the snapshot under the same id and keeps the name
	refreshed := a.share(threadID, "")
	assert.Equal(t, created.ShareID, refreshed.ShareID)
	assert.Equal(t, "My chat", refreshed.Name)

	w = a.do(http.MethodDelete, "/thread/"+threadID+"/share", nil)
	requireStatus(t, w, http.StatusNoContent)
	w = a.doAs("", http.MethodGet, "/share/"+created.ShareID, nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestShareThreadValidation(t *testing.T) {
	a := newAPI(t)
	threadID := a.newThread("Hello").String()
	_, bobToken := a.otherUser("bob")

	tests := []struct {
		name   string
		token  string
		id     string
		body   interface{}
		status int
	}{
		{"long name", a.token, threadID, handlers.ShareRequest{Name: strings.Repeat("a", 101)}, http.StatusBadRequest},
		{"malformed id", a.token, "nope", nil, http.StatusBadRequest},
		{"thread of another user", bobToken, threadID, nil, http.StatusNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := a.doAs(tt.token, http.MethodPost, "/thread/"+tt.id+"/share", tt.body)
			assert.Equal(t, tt.status, w.Code, w.Body.String())
		})
	}
}

func TestGetShareIsPublic(t *testing.T) {
	a := newAPI(t)
	threadID := a.newThread("Hello")
	shared := a.share(threadID.String(), "")

	w := a.doAs("", http.MethodGet, "/share/"+shared.ShareID, nil)
	requireStatus(t, w, http.StatusOK)
	resp := decode[handlers.SharedChatResponse](t, w)
	assert.Equal(t, shared.ShareID, resp.ShareID)
	assert.Equal(t, threadID, resp.Thread.ID)
	require.Len(t, resp.Messages, 2)
	assert.Equal(t, models.MessageRoleUser, resp.Messages[0].Role)
	assert.Equal(t, "Hello from the fake model", models.ExtractText(resp.Messages[1].Parts))

	w = a.doAs("", http.MethodGet, "/share/unknown", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestShareSnapshotIsFrozen(t *testing.T) {
	a := newAPI(t)
	threadID := a.newThread("Hello")
	shared := a.share(threadID.String(), "")

	// deleting the message history of the original leaves the snapshot alone
	messages, err := a.deps.Store.ListMessages(context.Background(), threadID)
	require.NoError(t, err)
	require.NoError(t, a.deps.Store.DB().Delete(&messages[1]).Error)

	w := a.doAs("", http.MethodGet, "/share/"+shared.ShareID, nil)
	requireStatus(t, w, http.StatusOK)
	assert.Len(t, decode[handlers.SharedChatResponse](t, w).Messages, 2)
}

func TestShareInlinesAttachments(t *testing.T) {
	a := newAPI(t)
	image := a.upload("cat.png", "image/png", []byte("\x89PNG fake"))
	pdf := a.upload("notes.pdf", "application/pdf", []byte("%PDF-1.4"))
	body := chatBody("", "What is on these?")
	body.AttachmentIDs = []string{image.ID.String(), pdf.ID.String()}
	threadID := a.newThreadWith(body)
	shared := a.share(threadID.String(), "")

	w := a.doAs("", http.MethodGet, "/share/"+shared.ShareID, nil)
	requireStatus(t, w, http.StatusOK)
	resp := decode[handlers.SharedChatResponse](t, w)
	require.Len(t, resp.Messages, 2)

	inlined := map[string]string{}
	for _, part := range resp.Messages[0].Parts {
		if p, ok := part.(models.FilePart); ok {
			inlined[p.MimeType] = p.Data
		}
	}
	assert.True(t, strings.HasPrefix(inlined["image/png"], "data:image/png;base64,"))
	assert.True(t, strings.HasPrefix(inlined["application/pdf"], "data:application/pdf;base64,"))
}

func TestShareMissingBlobIsSkipped(t *testing.T) {
	a := newAPI(t)
	pdf := a.upload("notes.pdf", "application/pdf", []byte("%PDF-1.4"))
	body := chatBody("", "Summarize")
	body.AttachmentIDs = []string{pdf.ID.String()}
	threadID := a.newThreadWith(body)
	shared := a.share(threadID.String(), "")

	require.NoError(t, a.deps.Blobs.Remove(context.Background(), pdf.AttachmentURL))

	w := a.doAs("", http.MethodGet, "/share/"+shared.ShareID, nil)
	requireStatus(t, w, http.StatusOK)
	resp := decode[handlers.SharedChatResponse](t, w)
	require.Len(t, resp.Messages, 2)
	assert.Empty(t, resp.Messages[0].Parts.Files())
}

func TestCreateChatFromShare(t *testing.T) {
	a := newAPI(t)
	threadID := a.newThread("Hello")
	shared := a.share(threadID.String(), "")

	w := a.doAs("", http.MethodPost, "/share/"+shared.ShareID+"/create-chat", nil)
	requireStatus(t, w, http.StatusUnauthorized)

	bob, bobToken := a.otherUser("bob")
	w = a.doAs(bobToken, http.MethodPost, "/share/"+shared.ShareID+"/create-chat", nil)
	requireStatus(t, w, http.StatusOK)
	resp := decode[handlers.CreateChatResponse](t, w)
	assert.Equal(t, 2, resp.MessageCount)
	assert.Equal(t, "/chat/"+resp.ThreadID.String(), resp.ThreadURL)

	clone, err := a.deps.Store.GetThread(context.Background(), bob.ID, resp.ThreadID)
	require.NoError(t, err)
	assert.Equal(t, models.GenerationStatusCompleted, clone.GenerationStatus)
	messages, err := a.deps.Store.ListMessages(context.Background(), resp.ThreadID)
	require.NoError(t, err)
	require.Len(t, messages, 2)
	assert.Equal(t, "Hello", messages[0].Text())

	w = a.doAs(bobToken, http.MethodPost, "/share/unknown/create-chat", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}
