package ops

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

func get(t *testing.T, url, bearer string) (int, string) {
	t.Helper()
	req, err := http.NewRequest(http.MethodGet, url, http.NoBody)
	if err != nil {
		t.Fatal(err)
	}
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}
	client := &http.Client{Timeout: 2 * time.Second}
	resp, err := client.Do(req)
	if err != nil {
		t.Fatalf("GET %s: %v", url, err)
	}
	defer resp.Body.Close()
	b, _ := io.ReadAll(resp.Body)
	return resp.StatusCode, string(b)
}

func newRegistry() *prometheus.Registry {
	reg := prometheus.NewRegistry()
	c := prometheus.NewCounter(prometheus.CounterOpts{Name: "groupcast_test_total", Help: "test"})
	reg.MustRegister(c)
	c.Inc()
	return reg
}

func TestServerServesMetricsAndHealth(t *testing.T) {
	t.Parallel()
	s := New(Config{Enabled: true, Addr: "127.0.0.1:0"}, newRegistry())
	if err := s.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	t.Cleanup(func() { s.Stop(context.Background()) })

	base := "http://" + s.Addr()
	code, body := get(t, base+"/metrics", "")
	if code != http.StatusOK || !strings.Contains(body, "groupcast_test_total 1") {
		t.Fatalf("metrics: %d %q", code, body)
	}
	if code, _ := get(t, base+"/healthz", ""); code != http.StatusOK {
		t.Fatalf("healthz: %d", code)
	}
	if code, _ := get(t, base+"/debug/pprof/", ""); code != http.StatusNotFound {
		t.Fatalf("pprof should be off, got %d", code)
	}

	s.Stop(context.Background())
	if s.Addr() != "" {
		t.Fatalf("Addr after Stop = %q", s.Addr())
	}
}

func TestServerRefusesInsecureAddr(t *testing.T) {
	t.Parallel()
	s := New(Config{Enabled: true, Addr: "0.0.0.0:0"}, nil)
	if err := s.Start(); !errors.Is(err, ErrInsecureAddr) {
		t.Fatalf("err = %v, want ErrInsecureAddr", err)
	}
	if s.Addr() != "" {
		t.Fatalf("server should not be listening")
	}
}

func TestServerDisabledIsNoop(t *testing.T) {
	t.Parallel()
	s := New(Config{}, nil)
	if err := s.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if s.Addr() != "" {
		t.Fatalf("disabled server bound %q", s.Addr())
	}
	s.Stop(context.Background())
}

func TestHealthFuncFailure(t *testing.T) {
	t.Parallel()
	s := New(Config{Enabled: true}, nil, WithHealth(func(context.Context) error {
		return errors.New("controller stopped")
	}))
	rec := httptest.NewRecorder()
	s.handler("", false).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	if rec.Code != http.StatusServiceUnavailable || !strings.Contains(rec.Body.String(), "controller stopped") {
		t.Fatalf("healthz = %d %q", rec.Code, rec.Body.String())
	}
}

func TestAuth(t *testing.T) {
	t.Parallel()
	s := New(Config{Enabled: true}, newRegistry())
	h := s.handler("s3cret", true)
	cases := []struct {
		name   string
		target string
		header string
		want   int
	}{
		{"missing", "/metrics", "", http.StatusUnauthorized},
		{"wrong bearer", "/metrics", "Bearer nope", http.StatusUnauthorized},
		{"bearer", "/metrics", "Bearer s3cret", http.StatusOK},
		{"query", "/healthz?token=s3cret", "", http.StatusOK},
		{"wrong query", "/healthz?token=x", "Bearer s3cret", http.StatusUnauthorized},
		{"pprof", "/debug/pprof/cmdline", "Bearer s3cret", http.StatusOK},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			req := httptest.NewRequest(http.MethodGet, tc.target, nil)
			if tc.header != "" {
				req.Header.Set("Authorization", tc.header)
			}
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, req)
			if rec.Code != tc.want {
				t.Fatalf("code = %d, want %d", rec.Code, tc.want)
			}
		})
	}
}

func TestIsLoopbackAddr(t *testing.T) {
	t.Parallel()
	cases := map[string]bool{
		"127.0.0.1:9090": true,
		"localhost:1":    true,
		"[::1]:80":       true,
		":9090":          false,
		"0.0.0.0:9090":   false,
		"10.0.0.5:9090":  false,
		"bad":            false,
	}
	for addr, want := range cases {
		if got := isLoopbackAddr(addr); got != want {
			t.Fatalf("isLoopbackAddr(%q) = %v, want %v", addr, got, want)
		}
	}
}
