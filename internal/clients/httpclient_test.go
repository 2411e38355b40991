package clients

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
)

// newTestClient builds a client with no rate limiter and a no-op backoff
// sleep so tests run instantly.
func newTestClient() *RetryableHTTPClient {
	client := NewRetryableHTTPClientWithConfig(DefaultRetryConfig(), nil)
	client.SetDelayFunc(func(time.Duration) {})
	return client
}

func TestRetryOnServerError(t *testing.T) {
	var requestCount int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		count := atomic.AddInt32(&requestCount, 1)
		if count <= 2 {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		w.Write([]byte("ok"))
	}))
	defer server.Close()

	client := newTestClient()
	client.SetHTTPClient(server.Client())

	body, err := client.GetBody(context.Background(), server.URL, nil)
	if err != nil {
		t.Fatalf("GetBody() error = %v", err)
	}
	if string(body) != "ok" {
		t.Errorf("GetBody() = %q, want %q", body, "ok")
	}
	if got := atomic.LoadInt32(&requestCount); got != 3 {
		t.Errorf("request count = %d, want 3", got)
	}
}

func TestRetryExhaustion(t *testing.T) {
	var requestCount int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&requestCount, 1)
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer server.Close()

	client := newTestClient()
	client.SetHTTPClient(server.Client())

	_, err := client.GetBody(context.Background(), server.URL, nil)
	if !errors.Is(err, ErrMaxRetriesExceeded) {
		t.Fatalf("GetBody() error = %v, want ErrMaxRetriesExceeded", err)
	}
	// Initial attempt plus MaxRetries retries.
	if got := atomic.LoadInt32(&requestCount); got != 4 {
		t.Errorf("request count = %d, want 4", got)
	}
}

func TestNotFoundIsNotRetried(t *testing.T) {
	var requestCount int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&requestCount, 1)
		w.WriteHeader(http.StatusNotFound)
	}))
	defer server.Close()

	client := newTestClient()
	client.SetHTTPClient(server.Client())

	_, err := client.GetBody(context.Background(), server.URL, nil)
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("GetBody() error = %v, want ErrNotFound", err)
	}
	if got := atomic.LoadInt32(&requestCount); got != 1 {
		t.Errorf("request count = %d, want 1", got)
	}
}

func TestUserAgentAndHeaders(t *testing.T) {
	var gotUA, gotAuth string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotUA = r.Header.Get("User-Agent")
		gotAuth = r.Header.Get("Authorization")
		w.Write([]byte("{}"))
	}))
	defer server.Close()

	client := newTestClient()
	client.SetHTTPClient(server.Client())

	_, err := client.GetBody(context.Background(), server.URL, map[string]string{"Authorization": "Bearer tok"})
	if err != nil {
		t.Fatalf("GetBody() error = %v", err)
	}
	if gotUA != userAgent {
		t.Errorf("User-Agent = %q, want %q", gotUA, userAgent)
	}
	if gotAuth != "Bearer tok" {
		t.Errorf("Authorization = %q, want %q", gotAuth, "Bearer tok")
	}
}

func TestContextCancellation(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	client := newTestClient()
	client.SetHTTPClient(server.Client())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := client.GetBody(ctx, server.URL, nil)
	if err == nil {
		t.Fatal("GetBody() with cancelled context should fail")
	}
}

func TestRetryBackoffIsExponential(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 50
	properties := gopter.NewProperties(parameters)

	properties.Property("retry delays grow until the cap", prop.ForAll(
		func(numFailures int) bool {
			var requestCount int32
			var delays []time.Duration

			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				count := atomic.AddInt32(&requestCount, 1)
				if int(count) <= numFailures {
					w.WriteHeader(http.StatusInternalServerError)
					return
				}
				w.WriteHeader(http.StatusOK)
			}))
			defer server.Close()

			client := NewRetryableHTTPClientWithConfig(DefaultRetryConfig(), nil)
			client.SetHTTPClient(server.Client())
			client.SetDelayFunc(func(d time.Duration) {
				delays = append(delays, d)
			})

			resp, err := client.Get(context.Background(), server.URL, nil)
			if err != nil {
				return false
			}
			resp.Body.Close()

			if len(delays) != numFailures {
				return false
			}
			for i := 1; i < len(delays); i++ {
				if delays[i] < delays[i-1] {
					return false
				}
			}
			return true
		},
		gen.IntRange(1, 3),
	))

	properties.TestingRun(t)
}

func TestCalculateDelayCapped(t *testing.T) {
	client := NewRetryableHTTPClientWithConfig(DefaultRetryConfig(), nil)

	tests := []struct {
		attempt int
		want    time.Duration
	}{
		{0, 0},
		{1, 1 * time.Second},
		{2, 2 * time.Second},
		{3, 4 * time.Second},
		{4, 4 * time.Second},
		{10, 4 * time.Second},
	}
	for _, tt := range tests {
		if got := client.calculateDelay(tt.attempt); got != tt.want {
			t.Errorf("calculateDelay(%d) = %v, want %v", tt.attempt, got, tt.want)
		}
	}
}
