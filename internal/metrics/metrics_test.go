package metrics

import (
	"testing"
)

func TestNew_GathersMetrics(t *testing.T) {
	m := New()

	families, err := m.Registry.Gather()
	if err != nil {
		t.Fatalf("Gather() error = %v", err)
	}

	// Should include at least Go runtime and process collectors.
	if len(families) == 0 {
		t.Fatal("expected non-empty metric families from Gather()")
	}

	m.ConnectionErrors.WithLabelValues("connect").Inc()
	m.ConnectionsTotal.Inc()

	families, err = m.Registry.Gather()
	if err != nil {
		t.Fatalf("Gather() error = %v", err)
	}

	want := map[string]bool{
		"forward_proxy_connection_errors_total": false,
		"forward_proxy_connections_total":       false,
	}
	for _, f := range families {
		if _, ok := want[f.GetName()]; ok {
			want[f.GetName()] = true
		}
	}
	for name, found := range want {
		if !found {
			t.Errorf("expected %s in gathered metrics", name)
		}
	}
}

func TestNormalizeMethod(t *testing.T) {
	tests := []struct {
		method string
		want   string
	}{
		{"GET", "GET"},
		{"POST", "POST"},
		{"HEAD", "HEAD"},
		{"FOOBAR", "other"},
		{"get", "other"},
		{"", "other"},
	}

	for _, tt := range tests {
		t.Run(tt.method, func(t *testing.T) {
			if got := NormalizeMethod(tt.method); got != tt.want {
				t.Errorf("NormalizeMethod(%q) = %q, want %q", tt.method, got, tt.want)
			}
		})
	}
}

func TestNormalizePath(t *testing.T) {
	tests := []struct {
		path        string
		metricsPath string
		want        string
	}{
		{"/healthz", "/metrics", "/healthz"},
		{"/proxy/status", "/metrics", "/proxy/status"},
		{"/metrics", "/metrics", "/metrics"},
		{"/metrics?format=text", "/metrics", "/metrics"},
		{"/metricsfoo", "/metrics", "other"},
		{"/internal/scrape", "/internal/scrape", "/internal/scrape"},
		{"/metrics", "/internal/scrape", "other"},
		{"/unknown", "/metrics", "other"},
		{"/", "", "other"},
	}

	for _, tt := range tests {
		t.Run(tt.path+"_"+tt.metricsPath, func(t *testing.T) {
			if got := NormalizePath(tt.path, tt.metricsPath); got != tt.want {
				t.Errorf("NormalizePath(%q, %q) = %q, want %q", tt.path, tt.metricsPath, got, tt.want)
			}
		})
	}
}
