package upstream

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/rankcrawl/internal/crawl"
)

func TestClient_FetchClassifiesResponses(t *testing.T) {
	t.Parallel()

	var mu sync.Mutex
	var queries []string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		queries = append(queries, r.URL.Path+"?"+r.URL.RawQuery)
		mu.Unlock()
		require.Equal(t, "secret", r.Header.Get("X-Api-Token"))
		w.Header().Set("Content-Type", "application/json; charset=utf-8")
		switch r.URL.Query().Get("server") {
		case "eu":
			_, _ = w.Write([]byte(`{"data":[{"id":1},{"id":2},{"id":3}]}`))
		case "na":
			_, _ = w.Write([]byte(`{"data":[],"message":"No data for server"}`))
		default:
			_, _ = w.Write([]byte(`{"count":0}`))
		}
	}))
	t.Cleanup(srv.Close)

	client, err := New(Config{
		BaseURL: srv.URL + "/api/",
		Timeout: time.Second,
		Headers: map[string]string{"X-Api-Token": "secret"},
	})
	require.NoError(t, err)

	ctx := context.Background()
	resp, err := client.Fetch(ctx, crawl.Request{
		Unit:            crawl.Unit{ContentType: "ladder", Server: "eu"},
		SkipRecentHours: 24,
	})
	require.NoError(t, err)
	require.Equal(t, 3, resp.Records)
	require.False(t, resp.Empty)

	resp, err = client.Fetch(ctx, crawl.Request{Unit: crawl.Unit{ContentType: "ladder", Server: "na"}})
	require.NoError(t, err)
	require.True(t, resp.Empty)
	require.Equal(t, "No data for server", resp.Message)

	// Same URL twice must be fetched both times.
	for range 2 {
		resp, err = client.Fetch(ctx, crawl.Request{Unit: crawl.Unit{ContentType: "guilds", Server: "kr"}})
		require.NoError(t, err)
		require.True(t, resp.Empty)
	}

	mu.Lock()
	defer mu.Unlock()
	require.Equal(t, []string{
		"/api/ladder?server=eu&skipRecentHours=24",
		"/api/ladder?server=na",
		"/api/guilds?server=kr",
		"/api/guilds?server=kr",
	}, queries)
}

func TestClient_FetchErrors(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/html":
			w.Header().Set("Content-Type", "text/html")
			_, _ = w.Write([]byte("<html>maintenance</html>"))
		case "/broken":
			w.WriteHeader(http.StatusServiceUnavailable)
		case "/wrapped":
			w.Header().Set("Content-Type", "application/json")
			_, _ = w.Write([]byte(`{"data":"rate limited"}`))
		default:
			w.Header().Set("Content-Type", "application/json")
			_, _ = w.Write([]byte(`{"data": [`))
		}
	}))
	t.Cleanup(srv.Close)

	client, err := New(Config{BaseURL: srv.URL, Timeout: time.Second})
	require.NoError(t, err)
	ctx := context.Background()

	_, err = client.Fetch(ctx, crawl.Request{Unit: crawl.Unit{ContentType: "html", Server: "eu"}})
	require.ErrorIs(t, err, ErrNotJSON)

	_, err = client.Fetch(ctx, crawl.Request{Unit: crawl.Unit{ContentType: "broken", Server: "eu"}})
	require.Error(t, err)

	_, err = client.Fetch(ctx, crawl.Request{Unit: crawl.Unit{ContentType: "truncated", Server: "eu"}})
	require.Error(t, err)

	_, err = client.Fetch(ctx, crawl.Request{Unit: crawl.Unit{ContentType: "wrapped", Server: "eu"}})
	require.ErrorIs(t, err, ErrUnexpectedShape)
}

func TestClient_FetchHonorsCancellation(t *testing.T) {
	t.Parallel()

	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	t.Cleanup(func() {
		close(release)
		srv.Close()
	})

	client, err := New(Config{BaseURL: srv.URL, Timeout: 5 * time.Second})
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err = client.Fetch(ctx, crawl.Request{Unit: crawl.Unit{ContentType: "slow", Server: "eu"}})
	require.Error(t, err)
	require.True(t, errors.Is(err, context.DeadlineExceeded))
}

func TestNew_RejectsRelativeBaseURL(t *testing.T) {
	t.Parallel()

	_, err := New(Config{BaseURL: "/api"})
	require.Error(t, err)
}
