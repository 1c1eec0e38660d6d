package promotions

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	domain "github.com/tillpoint/api/internal/domain"
)

const defaultTimeout = 3 * time.Second

// ErrNotConfigured is returned when no promotion endpoint is set.
var ErrNotConfigured = errors.New("promotions: endpoint not configured")

// Client asks the remote promotion service how much discount a cart earns. Eligibility rules live
// entirely on the remote side; the register only sees an amount.
type Client struct {
	baseURL string
	token   string
	http    *http.Client
}

// Option customises the client.
type Option func(*Client)

// WithHTTPClient swaps the underlying HTTP client.
func WithHTTPClient(client *http.Client) Option {
	return func(c *Client) {
		if client != nil {
			c.http = client
		}
	}
}

// WithAuthToken sends the token as a bearer credential.
func WithAuthToken(token string) Option {
	return func(c *Client) {
		c.token = strings.TrimSpace(token)
	}
}

// NewClient constructs a client for baseURL. A non-positive timeout uses the default.
func NewClient(baseURL string, timeout time.Duration, opts ...Option) *Client {
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	c := &Client{
		baseURL: strings.TrimRight(strings.TrimSpace(baseURL), "/"),
		http: &http.Client{
			Timeout:   timeout,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		},
	}
	for _, opt := range opts {
		if opt != nil {
			opt(c)
		}
	}
	return c
}

type evaluateItem struct {
	ID              string `json:"id"`
	ProductID       string `json:"productId,omitempty"`
	Name            string `json:"name"`
	Kind            string `json:"kind"`
	UnitPrice       string `json:"unitPrice"`
	Quantity        int    `json:"quantity"`
	DiscountPercent string `json:"discountPercent,omitempty"`
}

type evaluateRequest struct {
	StationID string         `json:"stationId"`
	Revision  uint64         `json:"revision"`
	Items     []evaluateItem `json:"items"`
}

type evaluateResponse struct {
	Revision uint64   `json:"revision"`
	Amount   string   `json:"amount"`
	Applied  []string `json:"applied"`
}

// Evaluate posts the cart snapshot and returns the promotion amount tagged with the request
// revision.
func (c *Client) Evaluate(ctx context.Context, req domain.PromotionRequest) (domain.PromotionResult, error) {
	if c == nil || c.baseURL == "" {
		return domain.PromotionResult{}, ErrNotConfigured
	}

	endpoint, err := url.JoinPath(c.baseURL, "evaluate")
	if err != nil {
		return domain.PromotionResult{}, err
	}
	payload, err := json.Marshal(newEvaluateRequest(req))
	if err != nil {
		return domain.PromotionResult{}, err
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(payload))
	if err != nil {
		return domain.PromotionResult{}, err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "application/json")
	if c.token != "" {
		httpReq.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.http.Do(httpReq)
	if err != nil {
		return domain.PromotionResult{}, err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		return domain.PromotionResult{}, fmt.Errorf("promotions: evaluate status %d: %s", resp.StatusCode, drainError(resp.Body))
	}

	var body evaluateResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return domain.PromotionResult{}, fmt.Errorf("promotions: decode response: %w", err)
	}
	if body.Revision != 0 && body.Revision != req.Revision {
		return domain.PromotionResult{}, fmt.Errorf("promotions: response for revision %d, asked for %d", body.Revision, req.Revision)
	}
	amount := decimal.Zero
	if strings.TrimSpace(body.Amount) != "" {
		amount, err = decimal.NewFromString(body.Amount)
		if err != nil {
			return domain.PromotionResult{}, fmt.Errorf("promotions: invalid amount %q: %w", body.Amount, err)
		}
	}
	return domain.PromotionResult{
		Revision: req.Revision,
		Amount:   domain.NonNegative(amount),
		Applied:  body.Applied,
	}, nil
}

// Ping checks that the promotion service answers its health endpoint.
func (c *Client) Ping(ctx context.Context) error {
	if c == nil || c.baseURL == "" {
		return ErrNotConfigured
	}
	endpoint, err := url.JoinPath(c.baseURL, "healthz")
	if err != nil {
		return err
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return err
	}
	resp, err := c.http.Do(httpReq)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		return fmt.Errorf("promotions: health status %d", resp.StatusCode)
	}
	return nil
}

func newEvaluateRequest(req domain.PromotionRequest) evaluateRequest {
	items := make([]evaluateItem, 0, len(req.Items))
	for _, item := range req.Items {
		entry := evaluateItem{
			ID:        item.ID,
			Name:      item.Name,
			Kind:      string(item.Kind()),
			UnitPrice: item.UnitPrice.StringFixed(2),
			Quantity:  item.Quantity,
		}
		switch detail := item.Detail.(type) {
		case domain.CatalogDetail:
			entry.ProductID = detail.ProductID
		case domain.DualPriceDetail:
			entry.ProductID = detail.ProductID
		case domain.CaseBreakDetail:
			entry.ProductID = detail.ProductID
		}
		if item.DiscountPercent.IsPositive() {
			entry.DiscountPercent = item.DiscountPercent.String()
		}
		items = append(items, entry)
	}
	return evaluateRequest{StationID: req.StationID, Revision: req.Revision, Items: items}
}

func drainError(r io.Reader) string {
	if r == nil {
		return ""
	}
	b, _ := io.ReadAll(io.LimitReader(r, 256))
	return strings.TrimSpace(string(b))
}
