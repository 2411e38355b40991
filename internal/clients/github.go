package clients

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// Error variables for GitHub client errors
var (
	// ErrNoReleases is returned when a repository has no releases at all
	ErrNoReleases = errors.New("no releases found")
	// ErrNoTags is returned when a repository has no tags
	ErrNoTags = errors.New("no tags found")
	// ErrNoBranch is returned when no default branch could be resolved
	ErrNoBranch = errors.New("no resolvable default branch")
	// ErrBadRepoURL is returned when a homepage does not name a GitHub repository
	ErrBadRepoURL = errors.New("not a github.com repository URL")
)

// Release is one entry of a repository's release listing.
type Release struct {
	TagName     string `json:"tag_name"`
	Prerelease  bool   `json:"prerelease"`
	Draft       bool   `json:"draft"`
	PublishedAt string `json:"published_at"`
}

// Tag is one entry of a repository's tag listing.
type Tag struct {
	Name string `json:"name"`
}

// branchRef is the subset of the git ref response carrying the head SHA.
type branchRef struct {
	Object struct {
		SHA string `json:"sha"`
	} `json:"object"`
}

// GitHubClient queries the GitHub REST API for releases, tags, and branch
// heads. A token raises the unauthenticated rate limit; it is optional.
type GitHubClient struct {
	BaseURL string
	Token   string
	http    *RetryableHTTPClient
}

// NewGitHubClient creates a GitHub client sharing the given HTTP client.
func NewGitHubClient(httpClient *RetryableHTTPClient, token string) *GitHubClient {
	return &GitHubClient{
		BaseURL: "https://api.github.com",
		Token:   token,
		http:    httpClient,
	}
}

func (c *GitHubClient) headers() map[string]string {
	h := map[string]string{"Accept": "application/vnd.github+json"}
	if c.Token != "" {
		h["Authorization"] = "Bearer " + c.Token
	}
	return h
}

func (c *GitHubClient) getJSON(ctx context.Context, url string, out interface{}) error {
	body, err := c.http.GetBody(ctx, url, c.headers())
	if err != nil {
		return err
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("failed to parse GitHub response: %w", err)
	}
	return nil
}

// LatestRelease returns the tag of the most recent non-prerelease release.
// With allowPrerelease, the most recent non-draft release of any kind wins.
// If the repository only publishes prereleases, the most recent one is used
// either way. Drafts are never considered.
func (c *GitHubClient) LatestRelease(ctx context.Context, owner, repo string, allowPrerelease bool) (string, error) {
	url := fmt.Sprintf("%s/repos/%s/%s/releases?per_page=30", c.BaseURL, owner, repo)

	var releases []Release
	if err := c.getJSON(ctx, url, &releases); err != nil {
		return "", err
	}

	var fallback string
	for _, r := range releases {
		if r.Draft {
			continue
		}
		if allowPrerelease || !r.Prerelease {
			return r.TagName, nil
		}
		if fallback == "" {
			fallback = r.TagName
		}
	}
	if fallback != "" {
		return fallback, nil
	}
	return "", fmt.Errorf("%w: %s/%s", ErrNoReleases, owner, repo)
}

// Tags returns the repository's tag names in listing order.
func (c *GitHubClient) Tags(ctx context.Context, owner, repo string) ([]string, error) {
	url := fmt.Sprintf("%s/repos/%s/%s/tags?per_page=100", c.BaseURL, owner, repo)

	var tags []Tag
	if err := c.getJSON(ctx, url, &tags); err != nil {
		return nil, err
	}
	if len(tags) == 0 {
		return nil, fmt.Errorf("%w: %s/%s", ErrNoTags, owner, repo)
	}

	names := make([]string, len(tags))
	for i, t := range tags {
		names[i] = t.Name
	}
	return names, nil
}

// DefaultBranchHead returns the head commit SHA of the default branch,
// trying HEAD, main, and master in that order.
func (c *GitHubClient) DefaultBranchHead(ctx context.Context, owner, repo string) (string, error) {
	for _, branch := range []string{"HEAD", "main", "master"} {
		url := fmt.Sprintf("%s/repos/%s/%s/git/ref/heads/%s", c.BaseURL, owner, repo, branch)

		var ref branchRef
		err := c.getJSON(ctx, url, &ref)
		if err != nil {
			if errors.Is(err, ErrNotFound) {
				continue
			}
			return "", err
		}
		if ref.Object.SHA != "" {
			return ref.Object.SHA, nil
		}
	}
	return "", fmt.Errorf("%w: %s/%s", ErrNoBranch, owner, repo)
}

// ReleaseDownloadURL builds the download URL of a release asset.
func ReleaseDownloadURL(owner, repo, tag, filename string) string {
	return fmt.Sprintf("https://github.com/%s/%s/releases/download/%s/%s", owner, repo, tag, filename)
}

// TagArchiveURL builds the URL of a tag's source tarball.
func TagArchiveURL(owner, repo, tag string) string {
	return fmt.Sprintf("https://github.com/%s/%s/archive/refs/tags/%s.tar.gz", owner, repo, tag)
}

// ParseRepoURL extracts the owner and repo from a github.com URL such as a
// package homepage.
func ParseRepoURL(url string) (owner, repo string, err error) {
	idx := strings.Index(url, "github.com/")
	if idx < 0 {
		return "", "", fmt.Errorf("%w: %s", ErrBadRepoURL, url)
	}
	rest := url[idx+len("github.com/"):]
	parts := strings.Split(rest, "/")
	if len(parts) < 2 || parts[0] == "" || parts[1] == "" {
		return "", "", fmt.Errorf("%w: %s", ErrBadRepoURL, url)
	}
	repo = strings.TrimSuffix(parts[1], ".git")
	return parts[0], repo, nil
}
