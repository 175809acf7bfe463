// Package etherscan fetches contract ABIs from the Etherscan contract API.
//
// The client performs a single lookup per call and does no throttling of its
// own; spacing between consecutive fetches is enforced by the ABI cache so
// that cache hits never wait.
package etherscan

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/rs/zerolog"

	"batchread/internal/config"
)

// DefaultBaseURL is the Etherscan contract API endpoint
const DefaultBaseURL = "https://api.etherscan.io/api"

const requestTimeout = 10 * time.Second

// maxResponseBytes caps how much of an upstream response is read
const maxResponseBytes = 4 << 20

// LookupError reports a failed remote ABI lookup. It carries the upstream
// HTTP status and response body so callers can see what the service returned.
type LookupError struct {
	Status int
	Body   string
}

// Error implements the error interface
func (e *LookupError) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("etherscan lookup failed (status %d): %s", e.Status, e.Body)
	}
	return "etherscan lookup failed: " + e.Body
}

// Client is an Etherscan contract API client
type Client struct {
	baseURL string
	apiKey  string
	http    *http.Client
	logger  zerolog.Logger
}

// NewClient creates a new Etherscan client. An empty apiKey is legal at
// construction time; fetching with one fails immediately.
func NewClient(apiKey string, logger zerolog.Logger) *Client {
	return &Client{
		baseURL: DefaultBaseURL,
		apiKey:  apiKey,
		http:    &http.Client{Timeout: requestTimeout},
		logger:  logger.With().Str("component", "etherscan").Logger(),
	}
}

// SetBaseURL overrides the API endpoint (used in tests)
func (c *Client) SetBaseURL(u string) {
	c.baseURL = u
}

// response is the Etherscan API envelope; Result holds a JSON-encoded ABI string
type response struct {
	Status  string `json:"status"`
	Message string `json:"message"`
	Result  string `json:"result"`
}

// FetchABI retrieves the verified ABI for a contract address.
// Without a configured API key it fails fast with a config.Error and no
// network call is attempted.
func (c *Client) FetchABI(ctx context.Context, address string) (json.RawMessage, error) {
	if c.apiKey == "" {
		return nil, &config.Error{Reason: "etherscan api key is required to fetch the ABI for " + address}
	}

	query := url.Values{}
	query.Set("module", "contract")
	query.Set("action", "getabi")
	query.Set("address", address)
	query.Set("apikey", c.apiKey)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"?"+query.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build abi request: %w", err)
	}

	c.logger.Debug().Str("address", address).Msg("fetching ABI")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, &LookupError{Body: err.Error()}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, &LookupError{Status: resp.StatusCode, Body: err.Error()}
	}

	if resp.StatusCode != http.StatusOK {
		return nil, &LookupError{Status: resp.StatusCode, Body: string(body)}
	}

	var payload response
	if err := json.Unmarshal(body, &payload); err != nil {
		return nil, &LookupError{Status: resp.StatusCode, Body: string(body)}
	}

	if payload.Status != "1" {
		return nil, &LookupError{Status: resp.StatusCode, Body: payload.Result}
	}

	raw := json.RawMessage(payload.Result)
	if !json.Valid(raw) {
		return nil, &LookupError{Status: resp.StatusCode, Body: payload.Result}
	}

	return raw, nil
}
