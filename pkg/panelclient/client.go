/**
 * @description
 * This package provides a client for the external VPN panel API. It
 * encapsulates authenticated HTTP requests to the panel's resource endpoints,
 * request body construction, response parsing, and the classification of
 * failures into retryable and fatal.
 *
 * @dependencies
 * - bytes, context, encoding/json, net/http, time: Standard Go libraries.
 */
package panelclient

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"time"
)

// Client is a client for the panel API.
type Client struct {
	BaseURL    string
	APIKey     string
	HTTPClient *http.Client
}

// NewClient creates a new panel API client.
func NewClient(baseURL, apiKey string) *Client {
	return &Client{
		BaseURL: baseURL,
		APIKey:  apiKey,
		HTTPClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

// ResourceSpec describes the account to create on the panel. ClientReference
// carries the order id so an ambiguous outcome can be re-queried later.
type ResourceSpec struct {
	ClientReference string `json:"client_reference"`
	PlanCode        string `json:"plan_code,omitempty"`
	TrafficBytes    int64  `json:"traffic_bytes,omitempty"`
	DurationDays    int    `json:"duration_days,omitempty"`
}

// ResourceResponse is the expected response from the panel's resource
// endpoints.
type ResourceResponse struct {
	Data struct {
		ID         string `json:"id"`
		Attributes struct {
			Status          string `json:"status"`
			SubscriptionURL string `json:"subscription_url"`
		} `json:"attributes"`
	} `json:"data"`
}

// ErrorResponse represents an error returned by the panel API.
type ErrorResponse struct {
	StatusCode int `json:"-"`
	Errors     []struct {
		Title  string `json:"title"`
		Detail string `json:"detail"`
	} `json:"errors"`
}

func (e *ErrorResponse) Error() string {
	if len(e.Errors) > 0 {
		return fmt.Sprintf("panel api error: %s - %s", e.Errors[0].Title, e.Errors[0].Detail)
	}
	return fmt.Sprintf("panel api error (status %d)", e.StatusCode)
}

// Retryable reports whether the failure is transient. Validation rejections
// (4xx other than timeout/throttling) are fatal.
func (e *ErrorResponse) Retryable() bool {
	switch {
	case e.StatusCode >= 500:
		return true
	case e.StatusCode == http.StatusRequestTimeout, e.StatusCode == http.StatusTooManyRequests:
		return true
	}
	return false
}

// ErrResourceNotFound is returned by GetResourceByReference when the panel
// holds no resource for the reference.
var ErrResourceNotFound = errors.New("panel resource not found")

// CreateResource asks the panel to create a new account.
func (c *Client) CreateResource(ctx context.Context, spec ResourceSpec) (*ResourceResponse, error) {
	body, err := json.Marshal(spec)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal resource spec: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, "POST", c.BaseURL+"/api/v1/resources", bytes.NewBuffer(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create resource request: %w", err)
	}
	c.setHeaders(req)

	return c.doResource(req, "create_resource")
}

// DisableResource disables a panel account. Used both for administrative
// disables and as the compensating action after a failed provisioning.
func (c *Client) DisableResource(ctx context.Context, resourceID string) error {
	req, err := http.NewRequestWithContext(ctx, "POST", c.BaseURL+"/api/v1/resources/"+resourceID+"/disable", nil)
	if err != nil {
		return fmt.Errorf("failed to create disable request: %w", err)
	}
	c.setHeaders(req)

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to execute disable request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return c.decodeError(resp, "disable_resource")
	}
	return nil
}

// GetResourceByReference looks up a resource by the client reference passed
// at creation. The coordinator uses this to resolve ambiguous (timed-out)
// create outcomes instead of guessing.
func (c *Client) GetResourceByReference(ctx context.Context, clientReference string) (*ResourceResponse, error) {
	req, err := http.NewRequestWithContext(ctx, "GET", c.BaseURL+"/api/v1/resources?client_reference="+clientReference, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create lookup request: %w", err)
	}
	c.setHeaders(req)

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to execute lookup request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return nil, ErrResourceNotFound
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, c.decodeError(resp, "get_resource")
	}

	bodyBytes, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read lookup response: %w", err)
	}
	var successResp ResourceResponse
	if err := json.Unmarshal(bodyBytes, &successResp); err != nil {
		return nil, fmt.Errorf("failed to decode lookup response: %w", err)
	}
	if successResp.Data.ID == "" {
		return nil, ErrResourceNotFound
	}
	return &successResp, nil
}

func (c *Client) setHeaders(req *http.Request) {
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	req.Header.Set("x-panel-key", c.APIKey)
}

func (c *Client) doResource(req *http.Request, op string) (*ResourceResponse, error) {
	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to execute %s request: %w", op, err)
	}
	defer resp.Body.Close()

	bodyBytes, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s response: %w", op, err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		var errResp ErrorResponse
		if err := json.Unmarshal(bodyBytes, &errResp); err != nil {
			log.Printf("level=warn component=panel_client op=%s status=%d msg=\"non-2xx response (unparsable error body)\"", op, resp.StatusCode)
			errResp = ErrorResponse{}
		}
		errResp.StatusCode = resp.StatusCode
		log.Printf("level=warn component=panel_client op=%s status=%d err=%q", op, resp.StatusCode, errResp.Error())
		return nil, &errResp
	}

	var successResp ResourceResponse
	if err := json.Unmarshal(bodyBytes, &successResp); err != nil {
		return nil, fmt.Errorf("failed to decode %s response: %w", op, err)
	}
	return &successResp, nil
}

func (c *Client) decodeError(resp *http.Response, op string) error {
	bodyBytes, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read %s error response: %w", op, err)
	}
	var errResp ErrorResponse
	if err := json.Unmarshal(bodyBytes, &errResp); err != nil {
		log.Printf("level=warn component=panel_client op=%s status=%d msg=\"non-2xx response (unparsable error body)\"", op, resp.StatusCode)
		errResp = ErrorResponse{}
	}
	errResp.StatusCode = resp.StatusCode
	log.Printf("level=warn component=panel_client op=%s status=%d err=%q", op, resp.StatusCode, errResp.Error())
	return &errResp
}
