package clients

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

// newFixtureServer serves fixed bodies keyed by URL path and returns a
// client pointed at it.
func newFixtureServer(t *testing.T, fixtures map[string]string) (*httptest.Server, *RetryableHTTPClient) {
	t.Helper()
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, ok := fixtures[r.URL.Path]
		if !ok {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		w.Write([]byte(body))
	}))
	t.Cleanup(server.Close)

	client := NewRetryableHTTPClientWithConfig(DefaultRetryConfig(), nil)
	client.SetHTTPClient(server.Client())
	client.SetDelayFunc(func(time.Duration) {})
	return server, client
}

func TestPyPIProject(t *testing.T) {
	const body = `{
		"info": {"version": "2.31.0"},
		"releases": {
			"2.31.0": [
				{"filename": "requests-2.31.0-py3-none-any.whl", "url": "https://files.pythonhosted.org/requests-2.31.0-py3-none-any.whl"},
				{"filename": "requests-2.31.0.tar.gz", "url": "https://files.pythonhosted.org/requests-2.31.0.tar.gz"}
			]
		}
	}`
	server, httpClient := newFixtureServer(t, map[string]string{
		"/pypi/requests/json": body,
	})

	client := NewPyPIClient(httpClient)
	client.BaseURL = server.URL

	project, err := client.Project(context.Background(), "requests")
	if err != nil {
		t.Fatalf("Project() error = %v", err)
	}
	if project.Info.Version != "2.31.0" {
		t.Errorf("Info.Version = %q, want %q", project.Info.Version, "2.31.0")
	}

	files := project.Releases["2.31.0"]
	if len(files) != 2 {
		t.Fatalf("release files = %d, want 2", len(files))
	}

	file, ok := FileForPlatform(files, "py3-none-any")
	if !ok {
		t.Fatal("FileForPlatform() should match the wheel")
	}
	if file.Filename != "requests-2.31.0-py3-none-any.whl" {
		t.Errorf("Filename = %q", file.Filename)
	}

	if _, ok := FileForPlatform(files, "win_amd64"); ok {
		t.Error("FileForPlatform() should not match an absent platform tag")
	}
	if _, ok := FileForPlatform(files, ""); ok {
		t.Error("FileForPlatform() with empty tag should not match")
	}
}

func TestPyPIProjectMissing(t *testing.T) {
	server, httpClient := newFixtureServer(t, nil)

	client := NewPyPIClient(httpClient)
	client.BaseURL = server.URL

	project, err := client.Project(context.Background(), "no-such-project")
	if err != nil {
		t.Fatalf("Project() error = %v", err)
	}
	if project != nil {
		t.Errorf("Project() = %+v, want nil for missing project", project)
	}
}

func TestCratesLatestVersion(t *testing.T) {
	tests := []struct {
		name string
		body string
		want string
	}{
		{
			name: "prefers stable",
			body: `{"crate": {"max_stable_version": "1.4.2", "max_version": "2.0.0-beta.1"}}`,
			want: "1.4.2",
		},
		{
			name: "falls back to max version",
			body: `{"crate": {"max_stable_version": "", "max_version": "0.1.0-alpha"}}`,
			want: "0.1.0-alpha",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server, httpClient := newFixtureServer(t, map[string]string{
				"/api/v1/crates/ripgrep": tt.body,
			})

			client := NewCratesClient(httpClient)
			client.BaseURL = server.URL

			info, err := client.Crate(context.Background(), "ripgrep")
			if err != nil {
				t.Fatalf("Crate() error = %v", err)
			}
			if got := info.LatestVersion(); got != tt.want {
				t.Errorf("LatestVersion() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestCratesMissing(t *testing.T) {
	server, httpClient := newFixtureServer(t, nil)

	client := NewCratesClient(httpClient)
	client.BaseURL = server.URL

	info, err := client.Crate(context.Background(), "no-such-crate")
	if err != nil {
		t.Fatalf("Crate() error = %v", err)
	}
	if info != nil {
		t.Errorf("Crate() = %+v, want nil for missing crate", info)
	}
}

func TestGitHubLatestRelease(t *testing.T) {
	tests := []struct {
		name            string
		body            string
		allowPrerelease bool
		want            string
		wantErr         error
	}{
		{
			name: "skips drafts and prereleases",
			body: `[
				{"tag_name": "v2.0.0-rc1", "prerelease": true, "draft": false},
				{"tag_name": "v1.9.9", "prerelease": false, "draft": true},
				{"tag_name": "v1.9.0", "prerelease": false, "draft": false}
			]`,
			want: "v1.9.0",
		},
		{
			name: "prereleases count when allowed",
			body: `[
				{"tag_name": "v2.0.0-rc1", "prerelease": true, "draft": false},
				{"tag_name": "v1.9.0", "prerelease": false, "draft": false}
			]`,
			allowPrerelease: true,
			want:            "v2.0.0-rc1",
		},
		{
			name: "prerelease-only repository falls back",
			body: `[
				{"tag_name": "v0.3.0-beta", "prerelease": true, "draft": false},
				{"tag_name": "v0.2.0-beta", "prerelease": true, "draft": false}
			]`,
			want: "v0.3.0-beta",
		},
		{
			name:    "no usable releases",
			body:    `[{"tag_name": "v0.1.0", "prerelease": false, "draft": true}]`,
			wantErr: ErrNoReleases,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server, httpClient := newFixtureServer(t, map[string]string{
				"/repos/acme/widget/releases": tt.body,
			})

			client := NewGitHubClient(httpClient, "")
			client.BaseURL = server.URL

			tag, err := client.LatestRelease(context.Background(), "acme", "widget", tt.allowPrerelease)
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Fatalf("LatestRelease() error = %v, want %v", err, tt.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatalf("LatestRelease() error = %v", err)
			}
			if tag != tt.want {
				t.Errorf("LatestRelease() = %q, want %q", tag, tt.want)
			}
		})
	}
}

func TestGitHubTags(t *testing.T) {
	server, httpClient := newFixtureServer(t, map[string]string{
		"/repos/acme/widget/tags": `[{"name": "v1.2.0"}, {"name": "v1.1.0"}]`,
		"/repos/acme/empty/tags":  `[]`,
	})

	client := NewGitHubClient(httpClient, "")
	client.BaseURL = server.URL

	tags, err := client.Tags(context.Background(), "acme", "widget")
	if err != nil {
		t.Fatalf("Tags() error = %v", err)
	}
	if len(tags) != 2 || tags[0] != "v1.2.0" || tags[1] != "v1.1.0" {
		t.Errorf("Tags() = %v", tags)
	}

	_, err = client.Tags(context.Background(), "acme", "empty")
	if !errors.Is(err, ErrNoTags) {
		t.Errorf("Tags() on empty repo error = %v, want ErrNoTags", err)
	}
}

func TestGitHubDefaultBranchHead(t *testing.T) {
	server, httpClient := newFixtureServer(t, map[string]string{
		"/repos/acme/widget/git/ref/heads/master": `{"object": {"sha": "deadbeefcafe"}}`,
	})

	client := NewGitHubClient(httpClient, "")
	client.BaseURL = server.URL

	sha, err := client.DefaultBranchHead(context.Background(), "acme", "widget")
	if err != nil {
		t.Fatalf("DefaultBranchHead() error = %v", err)
	}
	if sha != "deadbeefcafe" {
		t.Errorf("DefaultBranchHead() = %q", sha)
	}
}

func TestGitHubAuthHeader(t *testing.T) {
	var gotAuth string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		w.Write([]byte(`[{"tag_name": "v1.0.0", "prerelease": false, "draft": false}]`))
	}))
	defer server.Close()

	httpClient := NewRetryableHTTPClientWithConfig(DefaultRetryConfig(), nil)
	httpClient.SetHTTPClient(server.Client())

	client := NewGitHubClient(httpClient, "gh-token")
	client.BaseURL = server.URL

	if _, err := client.LatestRelease(context.Background(), "acme", "widget", false); err != nil {
		t.Fatalf("LatestRelease() error = %v", err)
	}
	if gotAuth != "Bearer gh-token" {
		t.Errorf("Authorization = %q, want %q", gotAuth, "Bearer gh-token")
	}
}

func TestParseRepoURL(t *testing.T) {
	tests := []struct {
		url       string
		wantOwner string
		wantRepo  string
		wantErr   bool
	}{
		{"https://github.com/acme/widget", "acme", "widget", false},
		{"https://github.com/acme/widget.git", "acme", "widget", false},
		{"https://github.com/acme/widget/releases", "acme", "widget", false},
		{"https://example.com/acme/widget", "", "", true},
		{"https://github.com/acme", "", "", true},
	}
	for _, tt := range tests {
		owner, repo, err := ParseRepoURL(tt.url)
		if tt.wantErr {
			if err == nil {
				t.Errorf("ParseRepoURL(%q) should fail", tt.url)
			}
			continue
		}
		if err != nil {
			t.Errorf("ParseRepoURL(%q) error = %v", tt.url, err)
			continue
		}
		if owner != tt.wantOwner || repo != tt.wantRepo {
			t.Errorf("ParseRepoURL(%q) = %q/%q, want %q/%q", tt.url, owner, repo, tt.wantOwner, tt.wantRepo)
		}
	}
}

func TestReleaseAndArchiveURLs(t *testing.T) {
	got := ReleaseDownloadURL("acme", "widget", "v1.2.0", "widget-x86_64.tar.gz")
	want := "https://github.com/acme/widget/releases/download/v1.2.0/widget-x86_64.tar.gz"
	if got != want {
		t.Errorf("ReleaseDownloadURL() = %q, want %q", got, want)
	}

	got = TagArchiveURL("acme", "widget", "v1.2.0")
	want = "https://github.com/acme/widget/archive/refs/tags/v1.2.0.tar.gz"
	if got != want {
		t.Errorf("TagArchiveURL() = %q, want %q", got, want)
	}
}
