package metrics

import (
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
)

func TestRegisterIdempotentAndCountersWork(t *testing.T) {
	regOK.Store(false)
	reg := prometheus.NewRegistry()
	if err := Register(reg); err != nil {
		t.Fatalf("first register: %v", err)
	}
	if err := Register(reg); err != nil {
		t.Fatalf("second register: %v", err)
	}

	IncStart("comfyui")
	IncStop("comfyui")
	IncKill("comfyui")
	IncProbe("comfyui", false)
	IncProbe("comfyui", true)
	ObserveReady("comfyui", 3)
	RecordStatus("comfyui", "", "starting")
	RecordStatus("comfyui", "starting", "connected")

	mfs, err := reg.Gather()
	if err != nil {
		t.Fatalf("gather: %v", err)
	}
	want := map[string]bool{
		"comfytray_service_starts_total":                false,
		"comfytray_service_stops_total":                 false,
		"comfytray_service_kills_total":                 false,
		"comfytray_readiness_probes_total":              false,
		"comfytray_readiness_ready_duration_seconds":    false,
		"comfytray_supervisor_status_transitions_total": false,
		"comfytray_supervisor_status":                   false,
	}
	for _, mf := range mfs {
		if _, ok := want[mf.GetName()]; ok {
			want[mf.GetName()] = true
			if len(mf.GetMetric()) == 0 {
				t.Fatalf("metric %s has no samples", mf.GetName())
			}
		}
		if mf.GetName() == "comfytray_supervisor_status" {
			for _, m := range mf.GetMetric() {
				for _, l := range m.GetLabel() {
					if l.GetName() == "status" && l.GetValue() == "starting" && m.GetGauge().GetValue() != 0 {
						t.Fatalf("previous status gauge should be 0")
					}
				}
			}
		}
	}
	for n, ok := range want {
		if !ok {
			t.Fatalf("expected to find metric %s", n)
		}
	}
}

func TestHelpersNoopBeforeRegister(t *testing.T) {
	regOK.Store(false)
	// must not panic
	IncStart("x")
	RecordStatus("x", "a", "b")
}

func TestHandlerForServesMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	regOK.Store(false)
	if err := Register(reg); err != nil {
		t.Fatal(err)
	}
	IncStart("x")
	srv := httptest.NewServer(HandlerFor(reg))
	defer srv.Close()

	resp, err := http.Get(srv.URL)
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	defer func() { _ = resp.Body.Close() }()
	b, _ := io.ReadAll(resp.Body)
	if resp.StatusCode != 200 || !strings.Contains(string(b), "comfytray_service_starts_total") {
		t.Fatalf("unexpected response %d: %s", resp.StatusCode, string(b))
	}
}

func TestSampler_SelfAndRing(t *testing.T) {
	s := NewSampler(2)
	reg := prometheus.NewRegistry()
	if err := s.Register(reg); err != nil {
		t.Fatal(err)
	}
	for i := 0; i < 3; i++ {
		if _, err := s.Sample("self", os.Getpid()); err != nil {
			t.Fatalf("sample: %v", err)
		}
	}
	h := s.History("self")
	if len(h) != 2 {
		t.Fatalf("ring should cap at 2, got %d", len(h))
	}
	if !h[0].Timestamp.Before(h[1].Timestamp) && !h[0].Timestamp.Equal(h[1].Timestamp) {
		t.Fatalf("history not ordered")
	}
	last, ok := s.Latest("self")
	if !ok || last.MemoryRSS == 0 {
		t.Fatalf("expected rss for self: %+v", last)
	}
	s.Clear("self")
	if _, ok := s.Latest("self"); !ok {
		t.Fatalf("history should survive Clear")
	}
}

func TestSampler_InvalidPID(t *testing.T) {
	if _, err := NewSampler(0).Sample("x", 0); err == nil {
		t.Fatalf("expected error for pid 0")
	}
}
