// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package health

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/absmach/mc3p/pkg/breaker"
)

func TestChecker_Health(t *testing.T) {
	fail := func(context.Context) error { return errors.New("down") }
	ok := func(context.Context) error { return nil }

	cases := []struct {
		name     string
		setup    func(c *Checker)
		want     Status
		wantCode int
		wantRdy  int
	}{
		{"no checks", func(c *Checker) {}, StatusHealthy, http.StatusOK, http.StatusOK},
		{"all healthy", func(c *Checker) {
			c.Register("a", ok)
			c.RegisterCritical("b", ok)
		}, StatusHealthy, http.StatusOK, http.StatusOK},
		{"non-critical failure", func(c *Checker) {
			c.Register("a", fail)
			c.RegisterCritical("b", ok)
		}, StatusDegraded, http.StatusOK, http.StatusServiceUnavailable},
		{"critical failure", func(c *Checker) {
			c.Register("a", fail)
			c.RegisterCritical("b", fail)
		}, StatusUnhealthy, http.StatusServiceUnavailable, http.StatusServiceUnavailable},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			c := NewChecker(0)
			tc.setup(c)

			if got, _ := c.Health(context.Background()); got != tc.want {
				t.Errorf("Health() = %s, want %s", got, tc.want)
			}

			rec := httptest.NewRecorder()
			c.HTTPHandler()(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
			if rec.Code != tc.wantCode {
				t.Errorf("Health status code = %d, want %d", rec.Code, tc.wantCode)
			}
			var body struct {
				Status Status  `json:"status"`
				Checks []Check `json:"checks"`
			}
			if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
				t.Fatalf("Unmarshal failed: %v", err)
			}
			if body.Status != tc.want {
				t.Errorf("Body status = %s, want %s", body.Status, tc.want)
			}

			rec = httptest.NewRecorder()
			c.ReadinessHandler()(rec, httptest.NewRequest(http.MethodGet, "/ready", nil))
			if rec.Code != tc.wantRdy {
				t.Errorf("Ready status code = %d, want %d", rec.Code, tc.wantRdy)
			}
		})
	}
}

func TestChecker_Cache(t *testing.T) {
	c := NewChecker(time.Minute)
	now := time.Now()
	c.now = func() time.Time { return now }

	calls := 0
	c.Register("counted", func(context.Context) error {
		calls++
		return nil
	})

	c.Health(context.Background())
	c.Health(context.Background())
	if calls != 1 {
		t.Errorf("Expected cached result, check ran %d times", calls)
	}

	now = now.Add(time.Minute)
	_, checks := c.Health(context.Background())
	if calls != 2 {
		t.Errorf("Expected expired result re-checked, check ran %d times", calls)
	}
	if len(checks) != 1 || checks[0].Name != "counted" {
		t.Errorf("Unexpected checks %+v", checks)
	}
}

func TestBackendCheck(t *testing.T) {
	l, err := net.Listen("tcp", "localhost:0")
	if err != nil {
		t.Fatalf("Listen failed: %v", err)
	}
	addr := l.Addr().String()

	check := BackendCheck(addr, time.Second)
	if err := check(context.Background()); err != nil {
		t.Errorf("Expected reachable backend, got %v", err)
	}

	l.Close()
	if err := check(context.Background()); err == nil {
		t.Error("Expected closed backend to fail")
	}
}

func TestBreakerCheck(t *testing.T) {
	cb := breaker.New(breaker.Config{MaxFailures: 1, ResetTimeout: time.Hour})
	check := BreakerCheck(cb)
	if err := check(context.Background()); err != nil {
		t.Errorf("Expected closed breaker healthy, got %v", err)
	}

	cb.Call(context.Background(), func(context.Context) error { return errors.New("dial failed") })
	if err := check(context.Background()); err == nil {
		t.Error("Expected open breaker to fail the check")
	}
}

func TestMux(t *testing.T) {
	srv := httptest.NewServer(NewChecker(0).Mux())
	defer srv.Close()

	for _, path := range []string{"/health", "/ready", "/live"} {
		resp, err := http.Get(srv.URL + path)
		if err != nil {
			t.Fatalf("GET %s failed: %v", path, err)
		}
		resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			t.Errorf("GET %s = %d, want 200", path, resp.StatusCode)
		}
	}
}
