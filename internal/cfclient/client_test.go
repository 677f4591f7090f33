package cfclient

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func newTestClient(t *testing.T, h http.HandlerFunc, timeout time.Duration) *Client {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	c, err := New(Config{BaseURL: srv.URL, Timeout: timeout})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return c
}

func TestFetchRecentDecodesSubmissions(t *testing.T) {
	t.Parallel()
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/user.status" {
			t.Errorf("path = %s", r.URL.Path)
		}
		if got := r.URL.Query().Get("handle"); got != "tourist" {
			t.Errorf("handle = %q", got)
		}
		if got := r.URL.Query().Get("count"); got != "5" {
			t.Errorf("count = %q", got)
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"status":"OK","result":[
			{"id":1,"contestId":1800,"creationTimeSeconds":1700000100,"verdict":"OK","problem":{"contestId":1800,"index":"A","name":"x"}},
			{"id":2,"contestId":1800,"creationTimeSeconds":1700000050,"verdict":"WRONG_ANSWER","problem":{"index":"B"}}
		]}`))
	}, time.Second)

	subs, err := c.FetchRecent(context.Background(), "tourist", 5)
	if err != nil {
		t.Fatalf("FetchRecent: %v", err)
	}
	if len(subs) != 2 {
		t.Fatalf("len = %d", len(subs))
	}
	if subs[0].ContestID != 1800 || subs[0].Index != "A" || subs[0].Verdict != "OK" || subs[0].CreationTimeSeconds != 1700000100 {
		t.Fatalf("unexpected first submission: %+v", subs[0])
	}
	if subs[1].ContestID != 1800 {
		t.Fatalf("contest id should fall back to submission contestId: %+v", subs[1])
	}
}

func TestFetchRecentTransientFailures(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name    string
		handler http.HandlerFunc
	}{
		{
			name: "api status failed",
			handler: func(w http.ResponseWriter, _ *http.Request) {
				_, _ = w.Write([]byte(`{"status":"FAILED","comment":"call limit exceeded"}`))
			},
		},
		{
			name: "http 400 envelope",
			handler: func(w http.ResponseWriter, _ *http.Request) {
				w.WriteHeader(http.StatusBadRequest)
				_, _ = w.Write([]byte(`{"status":"FAILED","comment":"handle: User with handle nobody not found"}`))
			},
		},
		{
			name: "http 503",
			handler: func(w http.ResponseWriter, _ *http.Request) {
				w.WriteHeader(http.StatusServiceUnavailable)
			},
		},
		{
			name: "malformed json",
			handler: func(w http.ResponseWriter, _ *http.Request) {
				_, _ = w.Write([]byte(`{"status":"OK","result":[`))
			},
		},
		{
			name: "result not a list",
			handler: func(w http.ResponseWriter, _ *http.Request) {
				_, _ = w.Write([]byte(`{"status":"OK","result":{"x":1}}`))
			},
		},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			c := newTestClient(t, tt.handler, time.Second)
			_, err := c.FetchRecent(context.Background(), "nobody", 10)
			if !errors.Is(err, ErrTransient) {
				t.Fatalf("err = %v, want ErrTransient", err)
			}
			var te *TransientError
			if !errors.As(err, &te) || te.Handle != "nobody" {
				t.Fatalf("err = %#v, want *TransientError for handle", err)
			}
		})
	}
}

func TestFetchRecentHonorsTimeout(t *testing.T) {
	t.Parallel()
	release := make(chan struct{})
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}, 50*time.Millisecond)
	defer close(release)

	start := time.Now()
	_, err := c.FetchRecent(context.Background(), "slow", 10)
	if !errors.Is(err, ErrTransient) {
		t.Fatalf("err = %v, want ErrTransient", err)
	}
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("err = %v, want deadline exceeded cause", err)
	}
	if time.Since(start) > 2*time.Second {
		t.Fatalf("timeout not applied")
	}
}

func TestFetchRecentRateLimited(t *testing.T) {
	t.Parallel()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"status":"OK","result":[]}`))
	}))
	t.Cleanup(srv.Close)
	c, err := New(Config{BaseURL: srv.URL, Timeout: time.Second, RatePerSecond: 10, Burst: 1})
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	start := time.Now()
	for i := 0; i < 3; i++ {
		if _, err := c.FetchRecent(context.Background(), "h", 1); err != nil {
			t.Fatalf("FetchRecent #%d: %v", i, err)
		}
	}
	if elapsed := time.Since(start); elapsed < 150*time.Millisecond {
		t.Fatalf("3 calls at 10/s burst 1 took %v, limiter not applied", elapsed)
	}
}
