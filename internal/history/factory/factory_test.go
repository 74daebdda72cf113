package factory

import (
	"path/filepath"
	"testing"

	"github.com/loykin/comfytray/internal/history/opensearch"
	"github.com/loykin/comfytray/internal/history/sqlite"
)

func TestNewSinkFromDSN_Local(t *testing.T) {
	tests := []struct {
		name        string
		dsn         string
		expectError bool
	}{
		{"Empty DSN", "", true},
		{"Invalid scheme", "invalid://test", true},
		{"SQLite file DSN", "sqlite://" + filepath.Join(t.TempDir(), "a.db"), false},
		{"SQLite bare path", filepath.Join(t.TempDir(), "b.db"), false},
		{"SQLite memory DSN", "sqlite://:memory:", false},
		{"OpenSearch DSN", "opensearch://localhost:9200/comfy-events", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sink, err := NewSinkFromDSN(tt.dsn)
			if tt.expectError {
				if err == nil {
					t.Errorf("expected error for DSN %q, got nil", tt.dsn)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error for DSN %q: %v", tt.dsn, err)
			}
			if closer, ok := sink.(interface{ Close() error }); ok {
				_ = closer.Close()
			}
		})
	}
}

func TestNewSinkFromDSN_Types(t *testing.T) {
	s, err := NewSinkFromDSN("sqlite://:memory:")
	if err != nil {
		t.Fatal(err)
	}
	if _, ok := s.(*sqlite.Sink); !ok {
		t.Fatalf("expected sqlite sink, got %T", s)
	}
	o, err := NewSinkFromDSN("opensearchs://search.local:9200/")
	if err != nil {
		t.Fatal(err)
	}
	if _, ok := o.(*opensearch.Sink); !ok {
		t.Fatalf("expected opensearch sink, got %T", o)
	}
}

func TestParseClickHouseDSN(t *testing.T) {
	opts, err := parseClickHouseDSN("clickhouse://u:p@ch.local:9440/metrics?table=events")
	if err != nil {
		t.Fatal(err)
	}
	if opts.Addr != "ch.local:9440" || opts.Database != "metrics" || opts.Table != "events" || opts.Username != "u" || opts.Password != "p" {
		t.Fatalf("unexpected options: %+v", opts)
	}
	opts, _ = parseClickHouseDSN("clickhouse://")
	if opts.Addr != "localhost:9000" {
		t.Fatalf("default addr = %q", opts.Addr)
	}
}

func TestParseOpenSearchDSN(t *testing.T) {
	base, index, err := parseOpenSearchDSN("opensearchs://search.local:9200")
	if err != nil {
		t.Fatal(err)
	}
	if base != "https://search.local:9200" || index != "comfytray-history" {
		t.Fatalf("got %q %q", base, index)
	}
	base, index, _ = parseOpenSearchDSN("opensearch://localhost:9200/events")
	if base != "http://localhost:9200" || index != "events" {
		t.Fatalf("got %q %q", base, index)
	}
}

func TestNewSinks_ClosesOnFailure(t *testing.T) {
	if _, err := NewSinks([]string{"sqlite://:memory:", "bogus://x"}); err == nil {
		t.Fatalf("expected error")
	}
	sinks, err := NewSinks([]string{"sqlite://:memory:"})
	if err != nil || len(sinks) != 1 {
		t.Fatalf("sinks=%d err=%v", len(sinks), err)
	}
	_ = sinks[0].(*sqlite.Sink).Close()
}
