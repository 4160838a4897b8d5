package netatmo

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	retry "github.com/appleboy/go-httpretry"
	"github.com/tim-hellhake/netatmo-weather-adapter/internal/auth"
	"go.uber.org/zap"
)

// DefaultBaseURL is the Netatmo cloud API endpoint
const DefaultBaseURL = "https://api.netatmo.com"

// ErrUnauthorized is returned when a fetch is attempted with no access token
// held. This is a precondition violation: the caller must authenticate first.
var ErrUnauthorized = errors.New("no access token held, authenticate first")

// Doer issues HTTP requests. The production client wraps a retrying HTTP
// client; tests substitute a plain one.
type Doer interface {
	DoWithContext(ctx context.Context, req *http.Request) (*http.Response, error)
}

// Client performs authenticated fetches of the remote device graph. Failed
// fetches other than the missing-token precondition degrade to an empty
// result: a 403 additionally invalidates the token store so NeedsAuth turns
// true, any other non-200 is treated as transient and retried on the next
// poll cycle.
type Client struct {
	baseURL string
	tokens  *auth.TokenStore
	doer    Doer
	logger  *zap.SugaredLogger
}

// NewClient creates an API client against the given base URL ("" selects the
// Netatmo cloud), with transport-level retries on the underlying HTTP client
func NewClient(baseURL string, tokens *auth.TokenStore, logger *zap.SugaredLogger) (*Client, error) {
	doer, err := retry.NewBackgroundClient(
		retry.WithHTTPClient(&http.Client{Timeout: 10 * time.Second}),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create retry client: %w", err)
	}
	return NewClientWithDoer(baseURL, tokens, doer, logger), nil
}

// NewClientWithDoer creates an API client with a caller-supplied HTTP doer
func NewClientWithDoer(baseURL string, tokens *auth.TokenStore, doer Doer, logger *zap.SugaredLogger) *Client {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		tokens:  tokens,
		doer:    doer,
		logger:  logger,
	}
}

// GetStations fetches the weather station device graph, optionally filtered
// to a single station id
func (c *Client) GetStations(ctx context.Context, deviceID string) ([]Device, error) {
	return c.getDevices(ctx, "/api/getstationsdata", deviceID)
}

// GetHealthCoaches fetches the health coach device graph, optionally filtered
// to a single device id
func (c *Client) GetHealthCoaches(ctx context.Context, deviceID string) ([]Device, error) {
	return c.getDevices(ctx, "/api/gethomecoachsdata", deviceID)
}

type devicesResponse struct {
	Body struct {
		Devices json.RawMessage `json:"devices"`
	} `json:"body"`
}

func (c *Client) getDevices(ctx context.Context, path, deviceID string) ([]Device, error) {
	token, ok := c.tokens.Current()
	if !ok {
		return nil, ErrUnauthorized
	}

	form := url.Values{}
	if deviceID != "" {
		form.Set("device_id", deviceID)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := c.doer.DoWithContext(ctx, req)
	if err != nil {
		c.logger.Warnf("Device fetch %s failed: %v", path, err)
		return nil, nil
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusForbidden:
		c.logger.Warnf("Device fetch %s rejected with 403, invalidating token", path)
		c.tokens.Invalidate()
		return nil, nil
	case resp.StatusCode != http.StatusOK:
		c.logger.Warnf("Device fetch %s returned status %d, treating as empty result", path, resp.StatusCode)
		return nil, nil
	}

	var parsed devicesResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		c.logger.Warnf("Failed to decode devices response: %v", err)
		return nil, nil
	}

	if len(parsed.Body.Devices) == 0 {
		return nil, nil
	}

	var devices []Device
	if err := json.Unmarshal(parsed.Body.Devices, &devices); err != nil {
		// Not an array: defensive empty result rather than an error
		c.logger.Debugf("Devices field is not an array, treating as empty result")
		return nil, nil
	}

	return devices, nil
}
