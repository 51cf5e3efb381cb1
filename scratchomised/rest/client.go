package rest

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"
)

// Client provides access to the peer simulator's control API.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// NewClient creates a new control API client.
// baseURL should be the base URL of the API, e.g., "http://localhost:55125/api".
func NewClient(baseURL string) *Client {
	return &Client{
		baseURL: baseURL,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

// SetHTTPClient allows setting a custom HTTP client.
func (c *Client) SetHTTPClient(client *http.Client) {
	if client != nil {
		c.httpClient = client
	}
}

// APIError is returned for 4xx and 5xx responses.
type APIError struct {
	Status  int
	Message string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("api error (status %d): %s", e.Status, e.Message)
}

// Object endpoints

// ListObjects returns the simulator's catalogue in publication order.
func (c *Client) ListObjects(ctx context.Context) ([]Object, error) {
	var resp []Object
	if err := c.call(ctx, http.MethodGet, "/objects", nil, &resp); err != nil {
		return nil, err
	}
	return resp, nil
}

// AddObject adds or replaces an object. The simulator assigns an id when
// obj has none; the stored object is returned.
func (c *Client) AddObject(ctx context.Context, obj Object) (Object, error) {
	var resp Object
	if err := c.call(ctx, http.MethodPost, "/objects", obj, &resp); err != nil {
		return nil, err
	}
	return resp, nil
}

func (c *Client) RemoveObject(ctx context.Context, id string) error {
	return c.call(ctx, http.MethodDelete, "/objects/"+url.PathEscape(id), nil, nil)
}

// SetProperty applies value to one property, as a define_property would.
func (c *Client) SetProperty(ctx context.Context, id, property, value string) (Object, error) {
	var resp Object
	path := "/objects/" + url.PathEscape(id) + "/properties/" + url.PathEscape(property)
	if err := c.call(ctx, http.MethodPut, path, PropertyRequest{Value: value}, &resp); err != nil {
		return nil, err
	}
	return resp, nil
}

// Click makes the simulator report a click on id to every client.
func (c *Client) Click(ctx context.Context, id string) (int, error) {
	var resp CountResponse
	if err := c.call(ctx, http.MethodPost, "/objects/"+url.PathEscape(id)+"/click", nil, &resp); err != nil {
		return 0, err
	}
	return resp.Count, nil
}

// Client endpoints

// SendTest sends a test frame to every client.
func (c *Client) SendTest(ctx context.Context, message string) (int, error) {
	var resp CountResponse
	if err := c.call(ctx, http.MethodPost, "/test", TestRequest{Message: message}, &resp); err != nil {
		return 0, err
	}
	return resp.Count, nil
}

func (c *Client) Clients(ctx context.Context) ([]ClientInfo, error) {
	var resp []ClientInfo
	if err := c.call(ctx, http.MethodGet, "/clients", nil, &resp); err != nil {
		return nil, err
	}
	return resp, nil
}

// CloseClients closes every client with a close frame carrying code.
func (c *Client) CloseClients(ctx context.Context, code int, reason string) (int, error) {
	var resp CountResponse
	if err := c.call(ctx, http.MethodPost, "/clients/close", CloseRequest{Code: code, Reason: reason}, &resp); err != nil {
		return 0, err
	}
	return resp.Count, nil
}

// DropClients cuts every client's TCP connection without a close frame.
func (c *Client) DropClients(ctx context.Context) (int, error) {
	var resp CountResponse
	if err := c.call(ctx, http.MethodPost, "/clients/drop", nil, &resp); err != nil {
		return 0, err
	}
	return resp.Count, nil
}

// Helper methods

func (c *Client) call(ctx context.Context, method, path string, body, dest any) error {
	var bodyReader io.Reader = http.NoBody
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
		bodyReader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, bodyReader)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}

	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	return c.do(req, dest)
}

func (c *Client) do(req *http.Request, dest any) error {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("http request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode >= 400 {
		var errResp ErrorResponse
		if err := json.Unmarshal(body, &errResp); err == nil && errResp.Error != "" {
			return &APIError{Status: resp.StatusCode, Message: errResp.Error}
		}
		return &APIError{Status: resp.StatusCode, Message: string(body)}
	}

	if dest != nil && len(body) > 0 {
		if err := json.Unmarshal(body, dest); err != nil {
			return fmt.Errorf("unmarshal response: %w", err)
		}
	}

	return nil
}
