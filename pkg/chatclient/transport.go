package chatclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/gorilla/websocket"
	"github.com/pkg/errors"

	"github.com/d4l-data4life/go-chat-host/pkg/config"
	"github.com/d4l-data4life/go-chat-host/pkg/handlers"
	"github.com/d4l-data4life/go-chat-host/pkg/stream"
)

// PartSource yields the parts of one reply and io.EOF after the last one
type PartSource interface {
	Next() (stream.Part, error)
	Close() error
}

// Transport starts a generation on the server
type Transport interface {
	Open(ctx context.Context, req handlers.ChatRequest) (PartSource, error)
}

// AttachmentLister is implemented by transports that can look up the
// attachments of a stored message
type AttachmentLister interface {
	MessageAttachments(ctx context.Context, messageID string) ([]string, error)
}

// RequestError is a chat request the server refused before streaming
type RequestError struct {
	Status  int
	Code    string
	Message string
}

func (e *RequestError) Error() string {
	return fmt.Sprintf("chat request refused (%d %s): %s", e.Status, e.Code, e.Message)
}

// HTTPTransport posts to /chat and reads the line based data stream
type HTTPTransport struct {
	baseURL string
	token   string
	client  *http.Client
}

// NewHTTPTransport creates a transport for the server at baseURL; a nil
// client uses http.DefaultClient
func NewHTTPTransport(baseURL, token string, client *http.Client) *HTTPTransport {
	if client == nil {
		client = http.DefaultClient
	}
	return &HTTPTransport{
		baseURL: strings.TrimSuffix(baseURL, "/") + config.APIPrefixV1,
		token:   token,
		client:  client,
	}
}

func (t *HTTPTransport) newRequest(ctx context.Context, method, path string, body io.Reader) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, method, t.baseURL+path, body)
	if err != nil {
		return nil, errors.Wrap(err, "building request")
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+t.token)
	return req, nil
}

// Open implements Transport
func (t *HTTPTransport) Open(ctx context.Context, chatReq handlers.ChatRequest) (PartSource, error) {
	body, err := json.Marshal(chatReq)
	if err != nil {
		return nil, errors.Wrap(err, "encoding chat request")
	}
	req, err := t.newRequest(ctx, http.MethodPost, "/chat", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	resp, err := t.client.Do(req)
	if err != nil {
		return nil, errors.Wrap(err, "sending chat request")
	}
	if resp.StatusCode != http.StatusOK {
		defer resp.Body.Close()
		return nil, refused(resp)
	}
	return &lineSource{reader: stream.NewReader(resp.Body), body: resp.Body}, nil
}

// MessageAttachments implements AttachmentLister
func (t *HTTPTransport) MessageAttachments(ctx context.Context, messageID string) ([]string, error) {
	req, err := t.newRequest(ctx, http.MethodGet, "/message/"+url.PathEscape(messageID)+"/attachments", nil)
	if err != nil {
		return nil, err
	}
	resp, err := t.client.Do(req)
	if err != nil {
		return nil, errors.Wrap(err, "listing message attachments")
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, refused(resp)
	}
	var body struct {
		AttachmentIDs []string `json:"attachmentIds"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, errors.Wrap(err, "decoding message attachments")
	}
	return body.AttachmentIDs, nil
}

func refused(resp *http.Response) error {
	var body handlers.ErrorResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		body.Error = http.StatusText(resp.StatusCode)
	}
	return &RequestError{Status: resp.StatusCode, Code: body.Code, Message: body.Error}
}

type lineSource struct {
	reader *stream.Reader
	body   io.Closer
}

func (s *lineSource) Next() (stream.Part, error) {
	return s.reader.Next()
}

func (s *lineSource) Close() error {
	return s.body.Close()
}

// WSTransport runs generations over /chat/ws, one connection per turn
type WSTransport struct {
	url    string
	dialer *websocket.Dialer
}

// NewWSTransport creates a transport for the server at baseURL (http or ws
// scheme); a nil dialer uses websocket.DefaultDialer
func NewWSTransport(baseURL, token string, dialer *websocket.Dialer) *WSTransport {
	if dialer == nil {
		dialer = websocket.DefaultDialer
	}
	base := strings.TrimSuffix(baseURL, "/")
	if strings.HasPrefix(base, "http") {
		base = "ws" + strings.TrimPrefix(base, "http")
	}
	return &WSTransport{
		url:    base + config.APIPrefixV1 + "/chat/ws?token=" + url.QueryEscape(token),
		dialer: dialer,
	}
}

// Open implements Transport. A refused request arrives as the first frame.
func (t *WSTransport) Open(ctx context.Context, chatReq handlers.ChatRequest) (PartSource, error) {
	conn, resp, err := t.dialer.DialContext(ctx, t.url, nil)
	if err != nil {
		if resp != nil {
			defer resp.Body.Close()
			return nil, refused(resp)
		}
		return nil, errors.Wrap(err, "connecting to chat")
	}
	if err := conn.WriteJSON(chatReq); err != nil {
		_ = conn.Close()
		return nil, errors.Wrap(err, "sending chat request")
	}

	// closing the socket is how a turn is cancelled
	done := make(chan struct{})
	go func() {
		select {
		case <-ctx.Done():
			_ = conn.Close()
		case <-done:
		}
	}()
	return &wsSource{conn: conn, done: done}, nil
}

type wsSource struct {
	conn   *websocket.Conn
	done   chan struct{}
	closed bool
}

// wsFrame is either a stream part or an error body
type wsFrame struct {
	stream.Part
	Error string `json:"error"`
	Code  string `json:"code"`
}

func (s *wsSource) Next() (stream.Part, error) {
	_, data, err := s.conn.ReadMessage()
	if err != nil {
		if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
			return stream.Part{}, io.EOF
		}
		return stream.Part{}, errors.Wrap(err, "reading websocket frame")
	}
	var frame wsFrame
	if err := json.Unmarshal(data, &frame); err != nil {
		return stream.Part{}, errors.Wrap(stream.ErrMalformedPart, err.Error())
	}
	if frame.Type == "" && frame.Code != "" {
		return stream.Part{}, &RequestError{Status: http.StatusBadRequest, Code: frame.Code, Message: frame.Error}
	}
	return frame.Part, nil
}

func (s *wsSource) Close() error {
	if s.closed {
		return nil
	}
	s.closed = true
	close(s.done)
	_ = s.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	return s.conn.Close()
}
