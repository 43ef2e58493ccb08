// Package parent talks to the service that owns the bookable resources
// (events, screenings) that slots hang off of. Bookable state is cached in
// Redis so the hot reserve path does not hit the parent service every time.
package parent

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/go-redis/redis/v8"

	"ms-booking/internal/logger"
)

// Client fetches parent lifecycle state from the parent service
type Client struct {
	baseURL  string
	client   *http.Client
	redis    *redis.Client
	cacheTTL time.Duration
	logger   *logger.Logger
}

type stateResponse struct {
	ID       string `json:"id"`
	Kind     string `json:"kind"`
	Bookable bool   `json:"bookable"`
}

// NewClient creates a parent-service client. The redis client is optional;
// without it every check goes to the parent service.
func NewClient(baseURL string, timeout time.Duration, redisClient *redis.Client, cacheTTL time.Duration, log *logger.Logger) *Client {
	return &Client{
		baseURL:  strings.TrimRight(baseURL, "/"),
		client:   &http.Client{Timeout: timeout},
		redis:    redisClient,
		cacheTTL: cacheTTL,
		logger:   log,
	}
}

func bookableKey(parentKind, parentID string) string {
	return fmt.Sprintf("parent:bookable:%s:%s", parentKind, parentID)
}

// IsBookable reports whether the parent resource currently accepts
// reservations. Cached answers are served until the TTL expires or the
// lifecycle consumer invalidates them.
func (c *Client) IsBookable(ctx context.Context, parentKind, parentID string) (bool, error) {
	if c.redis != nil {
		if cached, err := c.redis.Get(ctx, bookableKey(parentKind, parentID)).Result(); err == nil {
			return cached == "1", nil
		}
	}

	url := fmt.Sprintf("%s/internal/v1/%s/%s/state", c.baseURL, parentKind, parentID)
	c.logger.Debug("PARENT", fmt.Sprintf("Fetching parent state: %s", url))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return false, fmt.Errorf("failed to create parent state request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		c.logger.Error("PARENT", fmt.Sprintf("Parent service error: %v", err))
		return false, fmt.Errorf("parent service error: %w", err)
	}
	defer func(Body io.ReadCloser) {
		if err := Body.Close(); err != nil {
			c.logger.Error("PARENT", fmt.Sprintf("Failed to close parent state response body: %v", err))
		}
	}(resp.Body)

	if resp.StatusCode == http.StatusNotFound {
		c.logger.Warn("PARENT", fmt.Sprintf("Parent not found: %s/%s", parentKind, parentID))
		return false, nil
	}
	if resp.StatusCode != http.StatusOK {
		return false, fmt.Errorf("parent service returned status: %d", resp.StatusCode)
	}

	var state stateResponse
	if err := json.NewDecoder(resp.Body).Decode(&state); err != nil {
		return false, fmt.Errorf("failed to decode parent state response: %w", err)
	}

	if c.redis != nil {
		val := "0"
		if state.Bookable {
			val = "1"
		}
		if err := c.redis.Set(ctx, bookableKey(parentKind, parentID), val, c.cacheTTL).Err(); err != nil {
			c.logger.Warn("PARENT", fmt.Sprintf("Failed to cache parent state: %v", err))
		}
	}

	return state.Bookable, nil
}

// SetBookable seeds the cache directly from a lifecycle event, so the next
// reserve does not need a round trip to the parent service.
func (c *Client) SetBookable(ctx context.Context, parentKind, parentID string, bookable bool) {
	if c.redis == nil {
		return
	}
	val := "0"
	if bookable {
		val = "1"
	}
	if err := c.redis.Set(ctx, bookableKey(parentKind, parentID), val, c.cacheTTL).Err(); err != nil {
		c.logger.Warn("PARENT", fmt.Sprintf("Failed to update parent state cache: %v", err))
	}
}

// InvalidateBookable drops the cached state for a parent.
func (c *Client) InvalidateBookable(ctx context.Context, parentKind, parentID string) {
	if c.redis == nil {
		return
	}
	if err := c.redis.Del(ctx, bookableKey(parentKind, parentID)).Err(); err != nil {
		c.logger.Warn("PARENT", fmt.Sprintf("Failed to invalidate parent state cache: %v", err))
	}
}
