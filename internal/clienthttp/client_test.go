package clienthttp

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

type echoRequest struct {
	Name string `json:"name"`
}

type echoResponse struct {
	Greeting string `json:"greeting"`
}

func TestPostJSON_Success(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		if r.Header.Get("Content-Type") != "application/json" {
			w.WriteHeader(http.StatusUnsupportedMediaType)
			return
		}
		var req echoRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(echoResponse{Greeting: "hello " + req.Name})
	}))
	defer server.Close()

	var resp echoResponse
	if err := PostJSON(context.Background(), server.URL+"/offer", echoRequest{Name: "peer"}, &resp); err != nil {
		t.Fatalf("PostJSON() error = %v", err)
	}
	if resp.Greeting != "hello peer" {
		t.Errorf("Greeting = %q, want %q", resp.Greeting, "hello peer")
	}
}

func TestPostJSON_AddsScheme(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"greeting":"ok"}`))
	}))
	defer server.Close()

	var resp echoResponse
	if err := PostJSON(context.Background(), strings.TrimPrefix(server.URL, "http://"), echoRequest{}, &resp); err != nil {
		t.Fatalf("PostJSON() error = %v", err)
	}
	if resp.Greeting != "ok" {
		t.Errorf("Greeting = %q, want ok", resp.Greeting)
	}
}

func TestPostJSON_Non2xx(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		w.Write([]byte(`{"error":"invalid offer"}`))
	}))
	defer server.Close()

	err := PostJSON(context.Background(), server.URL, echoRequest{}, &echoResponse{})
	if err == nil {
		t.Fatal("PostJSON() expected error, got nil")
	}

	expected := "server returned 400"
	if !strings.HasPrefix(err.Error(), expected) {
		t.Errorf("error = %v, want error starting with %s", err, expected)
	}
}

func TestPostJSON_InvalidJSON(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{invalid json`))
	}))
	defer server.Close()

	err := PostJSON(context.Background(), server.URL, echoRequest{}, &echoResponse{})
	if err == nil {
		t.Fatal("PostJSON() expected error, got nil")
	}
	if !strings.Contains(err.Error(), "parse response") {
		t.Errorf("error = %v, want parse response error", err)
	}
}

func TestPostJSON_ContextCancellation(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(2 * time.Second):
		}
	}))
	defer server.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	if err := PostJSON(ctx, server.URL, echoRequest{}, &echoResponse{}); err == nil {
		t.Fatal("PostJSON() expected error, got nil")
	}
}
