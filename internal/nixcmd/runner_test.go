package nixcmd

import (
	"context"
	"errors"
	"strings"
	"testing"
)

func TestRunCommand(t *testing.T) {
	runner := NewCommandRunner(t.TempDir())

	stdout, _, err := runner.runCommand(context.Background(), "sh", "-c", "echo hello")
	if err != nil {
		t.Fatalf("runCommand() error = %v", err)
	}
	if strings.TrimSpace(stdout) != "hello" {
		t.Errorf("stdout = %q, want %q", stdout, "hello")
	}
}

func TestRunCommandFailureWrapsStderr(t *testing.T) {
	runner := NewCommandRunner(t.TempDir())

	_, stderr, err := runner.runCommand(context.Background(), "sh", "-c", "echo boom >&2; exit 1")
	if err == nil {
		t.Fatal("runCommand() should fail on non-zero exit")
	}
	if !errors.Is(err, ErrCommandFailed) {
		t.Errorf("error = %v, want ErrCommandFailed", err)
	}
	if strings.TrimSpace(stderr) != "boom" {
		t.Errorf("stderr = %q, want %q", stderr, "boom")
	}
}

func TestRunCommandWorkDir(t *testing.T) {
	dir := t.TempDir()
	runner := NewCommandRunner(dir)

	stdout, _, err := runner.runCommand(context.Background(), "pwd")
	if err != nil {
		t.Fatalf("runCommand() error = %v", err)
	}
	if !strings.Contains(strings.TrimSpace(stdout), dir) {
		t.Errorf("pwd = %q, want directory %q", stdout, dir)
	}
}

func TestParseNurlOutput(t *testing.T) {
	tests := []struct {
		name        string
		data        string
		fallbackRev string
		want        FetchGitResult
		wantErr     error
	}{
		{
			name: "full output",
			data: `{
				"fetcher": "fetchFromGitHub",
				"args": {
					"owner": "acme",
					"repo": "widget",
					"rev": "v1.2.0",
					"hash": "sha256-oGFNDjqqCyVmGHHhRc+0subWPEVCWWxvCrbJmY25hKc="
				}
			}`,
			want: FetchGitResult{
				Hash:    "sha256-oGFNDjqqCyVmGHHhRc+0subWPEVCWWxvCrbJmY25hKc=",
				Rev:     "v1.2.0",
				Fetcher: "fetchFromGitHub",
			},
		},
		{
			name:        "missing rev uses fallback",
			data:        `{"fetcher": "fetchgit", "args": {"hash": "sha256-xyz"}}`,
			fallbackRev: "abc123",
			want: FetchGitResult{
				Hash:    "sha256-xyz",
				Rev:     "abc123",
				Fetcher: "fetchgit",
			},
		},
		{
			name:    "missing hash",
			data:    `{"fetcher": "fetchgit", "args": {"rev": "abc123"}}`,
			wantErr: ErrNoHash,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := parseNurlOutput([]byte(tt.data), tt.fallbackRev)
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Fatalf("parseNurlOutput() error = %v, want %v", err, tt.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatalf("parseNurlOutput() error = %v", err)
			}
			if got != tt.want {
				t.Errorf("parseNurlOutput() = %+v, want %+v", got, tt.want)
			}
		})
	}

	if _, err := parseNurlOutput([]byte("not json"), ""); err == nil {
		t.Error("parseNurlOutput() on malformed JSON should fail")
	}
}

func TestMockExecutorRecordsCalls(t *testing.T) {
	mock := NewMockExecutor("/tmp/flake")

	if mock.WorkDir() != "/tmp/flake" {
		t.Errorf("WorkDir() = %q", mock.WorkDir())
	}

	ctx := context.Background()
	if _, err := mock.PrefetchFile(ctx, "https://example.com/a.tar.gz"); err != nil {
		t.Fatalf("PrefetchFile() error = %v", err)
	}
	if _, err := mock.Build(ctx, "hello"); err != nil {
		t.Fatalf("Build() error = %v", err)
	}
	if _, err := mock.CachixPush(ctx, "mycache", []string{"/nix/store/x"}); err != nil {
		t.Fatalf("CachixPush() error = %v", err)
	}

	want := []string{
		"prefetch-file https://example.com/a.tar.gz",
		"build hello",
		"cachix-push mycache",
	}
	if len(mock.Calls) != len(want) {
		t.Fatalf("Calls = %v, want %v", mock.Calls, want)
	}
	for i := range want {
		if mock.Calls[i] != want[i] {
			t.Errorf("Calls[%d] = %q, want %q", i, mock.Calls[i], want[i])
		}
	}
}

func TestMockExecutorOverrides(t *testing.T) {
	mock := NewMockExecutor("")
	mock.BuildFunc = func(ctx context.Context, attr string) (BuildResult, error) {
		return BuildResult{Attr: attr, Success: false, Log: "compile error"}, nil
	}

	result, err := mock.Build(context.Background(), "broken")
	if err != nil {
		t.Fatalf("Build() error = %v", err)
	}
	if result.Success {
		t.Error("Build() should report failure")
	}
	if result.Log != "compile error" {
		t.Errorf("Log = %q", result.Log)
	}
}
