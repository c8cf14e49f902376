package origin_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/thetooth/linkwatch/origin"
)

func serve(t *testing.T, status int, body string) string {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(status)
		w.Write([]byte(body))
	}))
	t.Cleanup(srv.Close)
	return srv.URL
}

func TestLookup(t *testing.T) {
	cases := []struct {
		name     string
		status   int
		body     string
		expected string
	}{
		{"org present", http.StatusOK, `{"ip":"192.0.2.1","org":"AS64500 ExampleNet"}`, "AS64500 ExampleNet"},
		{"org missing", http.StatusOK, `{"ip":"192.0.2.1"}`, origin.UnknownLabel},
		{"bad json", http.StatusOK, `not json`, origin.FailedLabel},
		{"server error", http.StatusInternalServerError, `{"org":"x"}`, origin.FailedLabel},
	}

	for _, c := range cases {
		client := origin.New(serve(t, c.status, c.body), time.Second)
		if got := client.Lookup(context.Background()); got != c.expected {
			t.Errorf("%s: got %q, want %q", c.name, got, c.expected)
		}
	}
}

func TestLookupUnreachable(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	client := origin.New(url, time.Second)
	if got := client.Lookup(context.Background()); got != origin.FailedLabel {
		t.Errorf("got %q, want %q", got, origin.FailedLabel)
	}
}
