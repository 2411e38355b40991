package clients

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
)

// CrateInfo is the subset of the crates.io API response the updater needs.
type CrateInfo struct {
	Crate struct {
		MaxStableVersion string `json:"max_stable_version"`
		MaxVersion       string `json:"max_version"`
	} `json:"crate"`
}

// LatestVersion prefers the highest stable version, falling back to the
// highest version of any kind.
func (c *CrateInfo) LatestVersion() string {
	if c.Crate.MaxStableVersion != "" {
		return c.Crate.MaxStableVersion
	}
	return c.Crate.MaxVersion
}

// CratesClient queries the crates.io registry index.
type CratesClient struct {
	BaseURL string
	http    *RetryableHTTPClient
}

// NewCratesClient creates a crates.io client sharing the given HTTP client.
func NewCratesClient(httpClient *RetryableHTTPClient) *CratesClient {
	return &CratesClient{
		BaseURL: "https://crates.io",
		http:    httpClient,
	}
}

// Crate fetches crate metadata by name. A missing crate returns (nil, nil).
func (c *CratesClient) Crate(ctx context.Context, name string) (*CrateInfo, error) {
	url := fmt.Sprintf("%s/api/v1/crates/%s", c.BaseURL, name)

	body, err := c.http.GetBody(ctx, url, nil)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to fetch crates.io data: %w", err)
	}

	var info CrateInfo
	if err := json.Unmarshal(body, &info); err != nil {
		return nil, fmt.Errorf("failed to parse crates.io response: %w", err)
	}
	return &info, nil
}
