package twilio

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// RestConfig holds credentials for the provider's call-creation API.
type RestConfig struct {
	AccountSID string
	AuthToken  string
	FromNumber string
	BaseURL    string
}

// RestClient creates outbound calls through the provider's REST API. It is
// fire-and-forget from the relay's point of view: call progress arrives later
// as a fresh media-stream connection.
type RestClient struct {
	cfg    RestConfig
	client *http.Client
}

func NewRestClient(cfg RestConfig) *RestClient {
	if strings.TrimSpace(cfg.BaseURL) == "" {
		cfg.BaseURL = "https://api.twilio.com"
	}
	return &RestClient{
		cfg: cfg,
		client: &http.Client{
			Timeout: 15 * time.Second,
		},
	}
}

type createCallResponse struct {
	SID    string `json:"sid"`
	Status string `json:"status"`
}

// CreateCall dials toNumber and points the answered call at callbackURL,
// which must serve the relay's TwiML connect document.
func (c *RestClient) CreateCall(ctx context.Context, toNumber, callbackURL string) (string, error) {
	if strings.TrimSpace(toNumber) == "" {
		return "", fmt.Errorf("to number is required")
	}
	if strings.TrimSpace(callbackURL) == "" {
		return "", fmt.Errorf("callback url is required")
	}

	endpoint := strings.TrimRight(c.cfg.BaseURL, "/") +
		"/2010-04-01/Accounts/" + url.PathEscape(c.cfg.AccountSID) + "/Calls.json"

	form := url.Values{}
	form.Set("To", toNumber)
	form.Set("From", c.cfg.FromNumber)
	form.Set("Url", callbackURL)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return "", fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.SetBasicAuth(c.cfg.AccountSID, c.cfg.AuthToken)

	res, err := c.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("send request: %w", err)
	}
	defer res.Body.Close()

	if res.StatusCode < 200 || res.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(res.Body, 4<<10))
		return "", fmt.Errorf("call creation status %d: %s", res.StatusCode, string(body))
	}

	var out createCallResponse
	if err := json.NewDecoder(res.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("decode response: %w", err)
	}
	return out.SID, nil
}
