package client

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/rl1809/order-placement/internal/core/domain"
)

// existenceResult mirrors the JSON the product service returns from
// GET /product/exists.
type existenceResult struct {
	Name    string              `json:"name"`
	Present bool                `json:"present"`
	Price   decimal.NullDecimal `json:"price"`
}

// CatalogClient answers existence and price lookups from a remote product
// service in one batched request.
type CatalogClient struct {
	baseURL    string
	httpClient *http.Client
}

func NewCatalogClient(baseURL string, httpClient *http.Client) *CatalogClient {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &CatalogClient{baseURL: strings.TrimSuffix(baseURL, "/"), httpClient: httpClient}
}

func (c *CatalogClient) Exists(ctx context.Context, skus []string) ([]domain.ExistenceResult, error) {
	query := url.Values{}
	for _, sku := range skus {
		query.Add("name", sku)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/product/exists?"+query.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("build catalog request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: catalog request: %w", domain.ErrDependencyUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("%w: catalog returned %d: %s", domain.ErrDependencyUnavailable, resp.StatusCode, strings.TrimSpace(string(body)))
	}

	var payload []existenceResult
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return nil, fmt.Errorf("decode catalog response: %w", err)
	}

	results := make([]domain.ExistenceResult, len(payload))
	for i, r := range payload {
		results[i] = domain.ExistenceResult{Name: r.Name, Present: r.Present, Price: r.Price}
	}
	return results, nil
}
