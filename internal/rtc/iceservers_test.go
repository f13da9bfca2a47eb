package rtc

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestFetchFallsBackWithoutEndpoint(t *testing.T) {
	t.Parallel()

	client := NewICEClient(ICEClientConfig{}, nil, nil)
	servers, err := client.Fetch(context.Background())
	if err != nil {
		t.Fatalf("unexpected fetch error: %v", err)
	}
	if len(servers) == 0 {
		t.Fatalf("expected stun fallback servers")
	}
}

func TestFetchParsesBackendResponse(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"iceServers":[
			{"urls":"stun:stun.test:3478"},
			{"urls":["turn:turn.test:3478"],"username":"u","credential":"c"}
		]}`))
	}))
	t.Cleanup(srv.Close)

	client := NewICEClient(ICEClientConfig{Endpoint: srv.URL}, nil, nil)
	servers, err := client.Fetch(context.Background())
	if err != nil {
		t.Fatalf("unexpected fetch error: %v", err)
	}
	if len(servers) != 2 {
		t.Fatalf("expected two servers, got %d", len(servers))
	}
	if servers[0].URLs[0] != "stun:stun.test:3478" {
		t.Fatalf("expected single-string urls accepted, got %v", servers[0].URLs)
	}
	if servers[1].Username != "u" || servers[1].Credential != "c" {
		t.Fatalf("expected turn credentials preserved, got %+v", servers[1])
	}
}

func TestFetchErrorsOnBadStatus(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "backend down", http.StatusServiceUnavailable)
	}))
	t.Cleanup(srv.Close)

	client := NewICEClient(ICEClientConfig{Endpoint: srv.URL}, nil, nil)
	if _, err := client.Fetch(context.Background()); err == nil {
		t.Fatalf("expected fetch to fail on 503")
	}
}

func TestFetchFallsBackOnEmptyList(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"iceServers":[]}`))
	}))
	t.Cleanup(srv.Close)

	client := NewICEClient(ICEClientConfig{Endpoint: srv.URL}, nil, nil)
	servers, err := client.Fetch(context.Background())
	if err != nil {
		t.Fatalf("unexpected fetch error: %v", err)
	}
	if len(servers) == 0 {
		t.Fatalf("expected stun fallback for empty backend list")
	}
}
