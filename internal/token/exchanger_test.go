package token

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestHTTPExchanger_Exchange(t *testing.T) {
	var gotBody refreshRequest
	var gotPath, gotMethod, gotPlatform, gotAuth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath, gotMethod = r.URL.Path, r.Method
		gotPlatform = r.Header.Get("X-Platform")
		gotAuth = r.Header.Get("Authorization")
		_ = json.NewDecoder(r.Body).Decode(&gotBody)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"accessToken":"a1","refreshToken":"r1"}`))
	}))
	defer srv.Close()

	ex, err := NewHTTPExchanger(srv.URL+"/", "/auth/refresh", time.Second, WithHeader("X-Platform", "cli"))
	if err != nil {
		t.Fatalf("NewHTTPExchanger: %v", err)
	}
	pair, err := ex.Exchange(context.Background(), "r0")
	if err != nil {
		t.Fatalf("Exchange: %v", err)
	}
	if pair != (Pair{AccessToken: "a1", RefreshToken: "r1"}) {
		t.Errorf("pair = %+v", pair)
	}
	if gotMethod != http.MethodPost || gotPath != "/auth/refresh" {
		t.Errorf("request = %s %s", gotMethod, gotPath)
	}
	if gotBody.RefreshToken != "r0" {
		t.Errorf("body refreshToken = %q", gotBody.RefreshToken)
	}
	if gotPlatform != "cli" {
		t.Errorf("X-Platform = %q", gotPlatform)
	}
	if gotAuth != "" {
		t.Errorf("exchange must not carry a bearer token, got %q", gotAuth)
	}
}

func TestHTTPExchanger_Rejections(t *testing.T) {
	tests := []struct {
		name   string
		status int
		body   string
	}{
		{"unauthorized", http.StatusUnauthorized, `{"error":"invalid"}`},
		{"server error", http.StatusInternalServerError, ``},
		{"malformed body", http.StatusOK, `not json`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(tt.body))
			}))
			defer srv.Close()

			ex, err := NewHTTPExchanger(srv.URL, "auth/refresh", time.Second)
			if err != nil {
				t.Fatal(err)
			}
			if _, err := ex.Exchange(context.Background(), "r0"); !errors.Is(err, ErrRefreshRejected) {
				t.Errorf("err = %v, want ErrRefreshRejected", err)
			}
		})
	}
}

func TestHTTPExchanger_Unreachable(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	ex, err := NewHTTPExchanger(url, "/auth/refresh", time.Second)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := ex.Exchange(context.Background(), "r0"); !errors.Is(err, ErrRefreshFailed) {
		t.Errorf("err = %v, want ErrRefreshFailed", err)
	}
}

func TestNewHTTPExchanger_InvalidURL(t *testing.T) {
	for _, base := range []string{"", "not a url", "://x"} {
		if _, err := NewHTTPExchanger(base, "/auth/refresh", time.Second); err == nil {
			t.Errorf("NewHTTPExchanger(%q) should fail", base)
		}
	}
}

func TestHTTPExchanger_Endpoint(t *testing.T) {
	ex, err := NewHTTPExchanger("https://api.example.com/v1/", "/auth/refresh", 0)
	if err != nil {
		t.Fatal(err)
	}
	if got := ex.Endpoint(); got != "https://api.example.com/v1/auth/refresh" {
		t.Errorf("Endpoint = %q", got)
	}
}
