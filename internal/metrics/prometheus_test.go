package metrics

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestHandler_PrometheusText(t *testing.T) {
	c := New()
	c.SessionConnected()
	c.LineReceived()
	c.LineReceived()
	c.DeliveryFailed()

	srv := httptest.NewServer(Handler(c))
	defer srv.Close()

	resp, err := http.Get(srv.URL)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	text := string(body)

	for _, want := range []string{
		"partyline_sessions_active 1",
		`partyline_lines_total{direction="in"} 2`,
		`partyline_lines_total{direction="out"} 0`,
		"partyline_delivery_failures_total 1",
		"go_goroutines",
	} {
		if !strings.Contains(text, want) {
			t.Errorf("metrics output missing %q", want)
		}
	}
}

func TestHandler_JSON(t *testing.T) {
	c := New()
	c.Broadcast()

	srv := httptest.NewServer(Handler(c))
	defer srv.Close()

	resp, err := http.Get(srv.URL + "?format=json")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()

	if ct := resp.Header.Get("Content-Type"); ct != "application/json" {
		t.Errorf("Content-Type = %q", ct)
	}
	body, _ := io.ReadAll(resp.Body)
	if !strings.Contains(string(body), `"broadcasts": 1`) {
		t.Errorf("unexpected JSON body: %s", body)
	}
}
