// Package functions implements the tool functions the model can call during a
// conversation, backed by the CityPulse storefront REST API.
package functions

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/bytedance/sonic"
	"github.com/redis/go-redis/v9"
	"google.golang.org/genai"
)

const (
	requestTimeout = 10 * time.Second
	cacheTTL       = time.Minute
)

// Deal is one storefront deal record, as returned by the REST API.
type Deal struct {
	ID           string  `json:"id"`
	Title        string  `json:"title"`
	Category     string  `json:"category"`
	Description  string  `json:"description"`
	Price        float64 `json:"price"`
	MerchantName string  `json:"merchant_name"`
}

// Event is one storefront event record.
type Event struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	Venue    string `json:"venue"`
	StartsAt string `json:"starts_at"`
	City     string `json:"city"`
}

// Client fetches deals and events from the storefront. Responses are cached
// briefly in redis when a cache client is provided.
type Client struct {
	baseURL string
	http    *http.Client
	cache   *redis.Client
}

// NewClient creates a storefront client. cache may be nil.
func NewClient(baseURL string, cache *redis.Client) *Client {
	return &Client{
		baseURL: baseURL,
		http:    &http.Client{Timeout: requestTimeout},
		cache:   cache,
	}
}

// SearchDeals fetches deals matching a free-text query and/or category.
func (c *Client) SearchDeals(ctx context.Context, query, category string) ([]Deal, error) {
	params := url.Values{}
	if query != "" {
		params.Set("search", query)
	}
	if category != "" {
		params.Set("category", category)
	}

	cacheKey := "deals:" + params.Encode()
	var deals []Deal
	if c.cachedGet(ctx, cacheKey, &deals) {
		return deals, nil
	}

	if err := c.get(ctx, "/rest/v1/deals?"+params.Encode(), &deals); err != nil {
		return nil, err
	}

	c.cachedSet(ctx, cacheKey, deals)
	return deals, nil
}

// UpcomingEvents fetches events that have not started yet.
func (c *Client) UpcomingEvents(ctx context.Context) ([]Event, error) {
	const cacheKey = "events:upcoming"
	var events []Event
	if c.cachedGet(ctx, cacheKey, &events) {
		return events, nil
	}

	if err := c.get(ctx, "/rest/v1/events?upcoming=true", &events); err != nil {
		return nil, err
	}

	c.cachedSet(ctx, cacheKey, events)
	return events, nil
}

func (c *Client) get(ctx context.Context, path string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return fmt.Errorf("failed to build storefront request: %w", err)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("storefront request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("storefront returned status %d", resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read storefront response: %w", err)
	}

	if err := sonic.Unmarshal(body, out); err != nil {
		return fmt.Errorf("failed to parse storefront response: %w", err)
	}
	return nil
}

func (c *Client) cachedGet(ctx context.Context, key string, out any) bool {
	if c.cache == nil {
		return false
	}
	data, err := c.cache.Get(ctx, key).Bytes()
	if err != nil {
		return false
	}
	return sonic.Unmarshal(data, out) == nil
}

func (c *Client) cachedSet(ctx context.Context, key string, v any) {
	if c.cache == nil {
		return
	}
	if data, err := sonic.Marshal(v); err == nil {
		c.cache.Set(ctx, key, data, cacheTTL)
	}
}

// SearchDealsDeclaration returns the function declaration for the model
func SearchDealsDeclaration() *genai.FunctionDeclaration {
	return &genai.FunctionDeclaration{
		Name:        "SearchDeals",
		Description: "Search current CityPulse deals by free-text query and/or category",
		Parameters: &genai.Schema{
			Type: genai.TypeObject,
			Properties: map[string]*genai.Schema{
				"query": {
					Type:        genai.TypeString,
					Description: "Free-text search term, e.g. 'coffee'",
				},
				"category": {
					Type:        genai.TypeString,
					Description: "Deal category: food_drink, beauty, fitness, entertainment or travel",
				},
			},
		},
	}
}

// UpcomingEventsDeclaration returns the function declaration for the model
func UpcomingEventsDeclaration() *genai.FunctionDeclaration {
	return &genai.FunctionDeclaration{
		Name:        "UpcomingEvents",
		Description: "List upcoming events on the CityPulse platform",
	}
}
