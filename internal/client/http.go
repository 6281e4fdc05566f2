package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"messenger/internal/model"
)

var ErrUnexpectedStatus = errors.New("unexpected status")

// HTTPClient talks to the ingest, query and account endpoints.
type HTTPClient struct {
	baseURL string
	http    *http.Client
}

func NewHTTPClient(baseURL string, hc *http.Client) *HTTPClient {
	if hc == nil {
		hc = &http.Client{Timeout: 15 * time.Second}
	}
	return &HTTPClient{baseURL: strings.TrimRight(baseURL, "/"), http: hc}
}

// Conversation fetches the full ordered message set.
func (c *HTTPClient) Conversation(ctx context.Context) ([]model.Message, error) {
	var msgs []model.Message
	if err := c.do(ctx, http.MethodGet, "/retrieve/conversation", nil, http.StatusOK, &msgs); err != nil {
		return nil, err
	}
	return msgs, nil
}

// Send submits one message and returns the persisted record.
func (c *HTTPClient) Send(ctx context.Context, in model.MessageInput) (model.Message, error) {
	var m model.Message
	if err := c.do(ctx, http.MethodPost, "/save/messages", in, http.StatusCreated, &m); err != nil {
		return model.Message{}, err
	}
	return m, nil
}

func (c *HTTPClient) SaveAccount(ctx context.Context, in model.AccountInput) (model.SaveAccountResponse, error) {
	var resp model.SaveAccountResponse
	if err := c.do(ctx, http.MethodPost, "/api/users/save", in, http.StatusOK, &resp); err != nil {
		return model.SaveAccountResponse{}, err
	}
	return resp, nil
}

func (c *HTTPClient) do(ctx context.Context, method, path string, body any, want int, out any) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != want {
		detail, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("%s %s: %w %d: %s", method, path, ErrUnexpectedStatus, resp.StatusCode, strings.TrimSpace(string(detail)))
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("%s %s: decode response: %w", method, path, err)
	}
	return nil
}
