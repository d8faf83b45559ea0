package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"crmsync/internal/config"
)

const (
	apiTokenHeader = "x-api-token"
	apiTokenParam  = "api_token"
	maxErrorBody   = 512
)

// Client performs authenticated GET requests against the Pipedrive REST API
type Client struct {
	httpClient   *http.Client
	baseURL      string
	apiKey       string
	tokenInQuery bool
	userAgent    string
}

// NewClient creates a Pipedrive client from the API settings. A nil
// httpClient gets a default one bounded by cfg.Timeout.
func NewClient(cfg config.PipedriveConfig, httpClient *http.Client) (*Client, error) {
	if cfg.APIKey == "" {
		return nil, config.NewConfigurationError("pipedrive api key is missing", nil)
	}
	base := cfg.ResolvedBaseURL()
	if base == "" || strings.Contains(base, "{company}") {
		return nil, config.NewConfigurationError("pipedrive base url is incomplete", nil)
	}

	if httpClient == nil {
		timeout := cfg.Timeout
		if timeout <= 0 {
			timeout = 30 * time.Second
		}
		httpClient = &http.Client{Timeout: timeout}
	}

	userAgent := cfg.UserAgent
	if userAgent == "" {
		userAgent = "crmsync"
	}

	return &Client{
		httpClient:   httpClient,
		baseURL:      base,
		apiKey:       cfg.APIKey,
		tokenInQuery: cfg.TokenInQuery,
		userAgent:    userAgent,
	}, nil
}

// EndpointURL returns the absolute URL of path under the given API version.
func (c *Client) EndpointURL(version, path string) string {
	if version == "" {
		version = "v1"
	}
	base := c.baseURL
	if strings.Contains(base, "{version}") {
		base = strings.ReplaceAll(base, "{version}", version)
	} else {
		base = base + "/api/" + version
	}
	return base + "/" + strings.TrimLeft(path, "/")
}

// GetPage fetches and decodes one page of a list endpoint. Failures are
// returned as *UpstreamError without endpoint or page set.
func (c *Client) GetPage(ctx context.Context, version, path string, params url.Values) (*Page, error) {
	endpoint := c.EndpointURL(version, path)

	query := url.Values{}
	for k, v := range params {
		query[k] = v
	}
	if c.tokenInQuery {
		query.Set(apiTokenParam, c.apiKey)
	}
	if len(query) > 0 {
		endpoint += "?" + query.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, &UpstreamError{Reason: "failed to build request", Err: err}
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", c.userAgent)
	if !c.tokenInQuery {
		req.Header.Set(apiTokenHeader, c.apiKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, &UpstreamError{Reason: "request failed", Err: redactError(err, c.apiKey)}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return nil, &UpstreamError{
			StatusCode: resp.StatusCode,
			Reason:     strings.TrimSpace(fmt.Sprintf("%s %s", resp.Status, snippet)),
			Err:        ErrUnexpectedStatus,
		}
	}

	var env envelope
	if err := json.NewDecoder(resp.Body).Decode(&env); err != nil {
		return nil, &UpstreamError{
			StatusCode: resp.StatusCode,
			Reason:     "failed to decode response",
			Err:        errors.Join(ErrMalformedBody, err),
		}
	}

	page, err := env.toPage()
	if err != nil {
		return nil, &UpstreamError{
			StatusCode: resp.StatusCode,
			Reason:     "unexpected response shape",
			Err:        errors.Join(ErrMalformedBody, err),
		}
	}
	return page, nil
}

// redactError strips the API key from transport errors, which embed the
// request URL when the token travels as a query parameter.
func redactError(err error, secret string) error {
	if secret == "" || !strings.Contains(err.Error(), secret) {
		return err
	}
	return errors.New(strings.ReplaceAll(err.Error(), secret, "REDACTED"))
}
