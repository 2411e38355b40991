package clients

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// PyPIProject is the subset of the PyPI JSON API response the updater needs.
type PyPIProject struct {
	Info struct {
		Version string `json:"version"`
	} `json:"info"`
	// Releases maps a version string to its uploaded files
	Releases map[string][]PyPIReleaseFile `json:"releases"`
}

// PyPIReleaseFile is one uploaded artifact of a release.
type PyPIReleaseFile struct {
	Filename string `json:"filename"`
	URL      string `json:"url"`
}

// PyPIClient queries the Python Package Index.
type PyPIClient struct {
	BaseURL string
	http    *RetryableHTTPClient
}

// NewPyPIClient creates a PyPI client sharing the given HTTP client.
func NewPyPIClient(httpClient *RetryableHTTPClient) *PyPIClient {
	return &PyPIClient{
		BaseURL: "https://pypi.org",
		http:    httpClient,
	}
}

// Project fetches project metadata by name. A missing project returns
// (nil, nil) so callers can distinguish absence from transport failures.
func (c *PyPIClient) Project(ctx context.Context, name string) (*PyPIProject, error) {
	url := fmt.Sprintf("%s/pypi/%s/json", c.BaseURL, name)

	body, err := c.http.GetBody(ctx, url, nil)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to fetch PyPI data: %w", err)
	}

	var project PyPIProject
	if err := json.Unmarshal(body, &project); err != nil {
		return nil, fmt.Errorf("failed to parse PyPI response: %w", err)
	}
	return &project, nil
}

// FileForPlatform returns the release file whose filename contains the
// platform tag, or false when the release has no matching artifact.
func FileForPlatform(files []PyPIReleaseFile, platform string) (PyPIReleaseFile, bool) {
	if platform == "" {
		return PyPIReleaseFile{}, false
	}
	for _, f := range files {
		if strings.Contains(f.Filename, platform) {
			return f, true
		}
	}
	return PyPIReleaseFile{}, false
}
