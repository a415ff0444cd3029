package api

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/pkg/errors"

	"lms-realtime/middleware"
	"lms-realtime/models"
)

const maxErrorBody = 512

// Client talks to the platform REST API. All calls carry the session's
// bearer token through middleware.BearerTransport.
type Client struct {
	baseURL string
	http    *http.Client
}

func NewClient(baseURL string, tokens middleware.TokenSource, timeout time.Duration) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http: &http.Client{
			Timeout:   timeout,
			Transport: &middleware.BearerTransport{Source: tokens},
		},
	}
}

// NewClientWithHTTP uses hc as is; the caller owns its transport.
func NewClientWithHTTP(baseURL string, hc *http.Client) *Client {
	return &Client{baseURL: strings.TrimRight(baseURL, "/"), http: hc}
}

func (c *Client) do(ctx context.Context, op, method, path string, body, out interface{}) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return errors.Wrap(err, op)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return errors.Wrap(err, op)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return errors.Wrap(&transportError{err: err}, op)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return errors.WithStack(&Error{Op: op, Status: resp.StatusCode, Body: strings.TrimSpace(string(snippet))})
	}

	if out == nil {
		io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return errors.Wrapf(err, "%s: decode response", op)
	}
	return nil
}

func (c *Client) ListRooms(ctx context.Context) ([]models.Channel, error) {
	var resp models.RoomsResponse
	if err := c.do(ctx, "list rooms", http.MethodGet, "/group-chat/rooms", nil, &resp); err != nil {
		return nil, err
	}
	return resp.Rooms, nil
}

func (c *Client) RoomMessages(ctx context.Context, roomID string) ([]models.Message, error) {
	var resp models.MessagesResponse
	path := "/group-chat/rooms/" + url.PathEscape(roomID) + "/messages"
	if err := c.do(ctx, "room messages", http.MethodGet, path, nil, &resp); err != nil {
		return nil, err
	}
	for i := range resp.Messages {
		if resp.Messages[i].RoomID == "" {
			resp.Messages[i].RoomID = roomID
		}
	}
	return resp.Messages, nil
}

func (c *Client) PostMessage(ctx context.Context, roomID, body string) (*models.Message, error) {
	var resp models.MessageResponse
	path := "/group-chat/rooms/" + url.PathEscape(roomID) + "/messages"
	if err := c.do(ctx, "post message", http.MethodPost, path, models.SendMessageRequest{Message: body}, &resp); err != nil {
		return nil, err
	}
	if !resp.Success || resp.Message.ID == "" {
		return nil, errors.New("post message: server did not confirm the message")
	}
	if resp.Message.RoomID == "" {
		resp.Message.RoomID = roomID
	}
	return &resp.Message, nil
}

func (c *Client) MarkRoomRead(ctx context.Context, roomID string) error {
	path := "/group-chat/rooms/" + url.PathEscape(roomID) + "/read"
	return c.do(ctx, "mark room read", http.MethodPost, path, nil, nil)
}

func (c *Client) MyNotifications(ctx context.Context, limit int) (*models.NotificationList, error) {
	var resp models.NotificationList
	path := "/notifications/my-notifications?limit=" + strconv.Itoa(limit)
	if err := c.do(ctx, "my notifications", http.MethodGet, path, nil, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

func (c *Client) MarkNotificationRead(ctx context.Context, id models.ID) error {
	path := "/notifications/" + url.PathEscape(id.String()) + "/read"
	return c.do(ctx, "mark notification read", http.MethodPut, path, nil, nil)
}

func (c *Client) MarkAllNotificationsRead(ctx context.Context) error {
	return c.do(ctx, "mark all notifications read", http.MethodPut, "/notifications/mark-all-read", nil, nil)
}

type Certificate struct {
	ID          models.ID `json:"id"`
	StudentName string    `json:"studentName"`
	CourseTitle string    `json:"courseTitle"`
	IssuedAt    time.Time `json:"issuedAt"`
}

// VerifyCertificate looks up a public certificate. An unknown id yields an
// error matching ErrNotFound.
func (c *Client) VerifyCertificate(ctx context.Context, id string) (*Certificate, error) {
	var resp struct {
		Success     bool         `json:"success"`
		Certificate *Certificate `json:"certificate"`
	}
	path := "/certificates/verify/" + url.PathEscape(id)
	if err := c.do(ctx, "verify certificate", http.MethodGet, path, nil, &resp); err != nil {
		return nil, err
	}
	if !resp.Success || resp.Certificate == nil {
		return nil, errors.WithStack(&Error{Op: "verify certificate", Status: http.StatusNotFound})
	}
	return resp.Certificate, nil
}

// LogActivity records a user action. It never fails the caller: errors are
// logged and dropped.
func (c *Client) LogActivity(ctx context.Context, action string, metadata map[string]interface{}) {
	body := map[string]interface{}{"action": action, "metadata": metadata}
	if err := c.do(ctx, "log activity", http.MethodPost, "/activity-logs", body, nil); err != nil {
		log.Printf("[API] Activity %q not recorded: %v", action, err)
	}
}
