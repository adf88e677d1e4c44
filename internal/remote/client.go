package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/lfmachado/ticketvault/internal/model"
)

// HTTPDoer is the subset of [http.Client] used by the Client. Defining it as
// an interface allows mock injection in tests.
type HTTPDoer interface {
	Do(req *http.Request) (*http.Response, error)
}

// Client talks to the ticketing backend's REST API with bearer-token
// authentication. Create one with [NewClient] or [NewClientWithHTTP].
type Client struct {
	baseURL string
	token   string
	hc      HTTPDoer
	log     *slog.Logger
}

// NewClient creates a Client backed by a real HTTP client with a sane
// request timeout.
func NewClient(baseURL, token string, logger *slog.Logger) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		token:   token,
		hc:      &http.Client{Timeout: 30 * time.Second},
		log:     logger,
	}
}

// NewClientWithHTTP creates a Client with a caller-supplied transport.
// Intended for testing with a mock [HTTPDoer].
func NewClientWithHTTP(baseURL, token string, hc HTTPDoer, logger *slog.Logger) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		token:   token,
		hc:      hc,
		log:     logger,
	}
}

// Ping validates connectivity and the token with retry. Used both at startup
// and by the daemon's connectivity probe.
func (c *Client) Ping(ctx context.Context) error {
	err := Retry(ctx, defaultMaxAttempts, func() error {
		return c.doJSON(ctx, http.MethodGet, "/health", nil, nil)
	})
	if err != nil {
		return fmt.Errorf("ping backend: %w", err)
	}
	return nil
}

// FetchSales returns the authoritative list of the user's purchased tickets.
func (c *Client) FetchSales(ctx context.Context) ([]model.Sale, error) {
	var sales []model.Sale
	err := Retry(ctx, defaultMaxAttempts, func() error {
		sales = sales[:0]
		return c.doJSON(ctx, http.MethodGet, "/sales/my", nil, &sales)
	})
	if err != nil {
		return nil, fmt.Errorf("fetch sales: %w", err)
	}
	c.log.Debug("fetched sales", "count", len(sales))
	return sales, nil
}

// FetchProfile returns the user profile used for the buyer snapshot.
func (c *Client) FetchProfile(ctx context.Context) (*model.Profile, error) {
	var p model.Profile
	err := Retry(ctx, defaultMaxAttempts, func() error {
		return c.doJSON(ctx, http.MethodGet, "/users/me", nil, &p)
	})
	if err != nil {
		return nil, fmt.Errorf("fetch profile: %w", err)
	}
	return &p, nil
}

// MarkSaleUsed pushes a locally recorded used/unused toggle to the backend.
// This is the target of the sync-queue drain.
func (c *Client) MarkSaleUsed(ctx context.Context, saleID string, used bool) error {
	body := map[string]bool{"used": used}
	err := Retry(ctx, defaultMaxAttempts, func() error {
		return c.doJSON(ctx, http.MethodPatch, "/sales/"+url.PathEscape(saleID)+"/used", body, nil)
	})
	if err != nil {
		return fmt.Errorf("mark sale %q used=%t: %w", saleID, used, err)
	}
	return nil
}

// doJSON performs one request against the API: encodes body (when non-nil),
// sets auth headers, maps non-2xx statuses to errors, and decodes the
// response into out (when non-nil).
func (c *Client) doJSON(ctx context.Context, method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode request body: %w", err)
		}
		reader = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.token)
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.hc.Do(req)
	if err != nil {
		return fmt.Errorf("execute request: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	switch {
	case resp.StatusCode == http.StatusUnauthorized:
		return fmt.Errorf("backend returned 401 Unauthorized — check api.token")
	case resp.StatusCode >= 300:
		var apiErr struct {
			Message string `json:"message"`
		}
		_ = json.NewDecoder(resp.Body).Decode(&apiErr)
		if apiErr.Message != "" {
			return fmt.Errorf("backend returned %d: %s", resp.StatusCode, apiErr.Message)
		}
		return fmt.Errorf("backend returned unexpected status %d", resp.StatusCode)
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
