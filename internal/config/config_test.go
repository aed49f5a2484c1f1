package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestDefaults(t *testing.T) {
	cfg, err := LoadServerConfig()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.HTTPAddr != ":8080" || cfg.LocationTTL != 2*time.Minute || cfg.KafkaTopic != "job-tracking" {
		t.Fatalf("unexpected defaults %+v", cfg)
	}
	if cfg.DriverAlertRadiusKm != 30 || cfg.RedisDriverGeoKey != "drivers:geo" {
		t.Fatalf("unexpected driver alert defaults %+v", cfg)
	}
}

func TestFileThenEnv(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "tracking.yaml")
	yml := "http_addr: \":9000\"\nlocation_ttl: 90s\nkafka_brokers: [\"k1:9092\"]\nrelay_send_queue: 16\n"
	if err := os.WriteFile(path, []byte(yml), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
	t.Setenv("CONFIG_FILE", path)
	t.Setenv("HTTP_ADDR", ":9100")
	t.Setenv("KAFKA_BROKERS", "a:1, b:2 ,")

	cfg, err := LoadServerConfig()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.HTTPAddr != ":9100" {
		t.Fatalf("env should override file, got %s", cfg.HTTPAddr)
	}
	if cfg.LocationTTL != 90*time.Second || cfg.RelaySendQueue != 16 {
		t.Fatalf("file values not applied: %+v", cfg)
	}
	if len(cfg.KafkaBrokers) != 2 || cfg.KafkaBrokers[1] != "b:2" {
		t.Fatalf("unexpected brokers %v", cfg.KafkaBrokers)
	}
}

func TestErrorsAreJoined(t *testing.T) {
	t.Setenv("HTTP_READ_TIMEOUT", "soon")
	t.Setenv("TRACKING_SPEED_MPS", "0")
	t.Setenv("PG_DSN", "postgres://x")
	t.Setenv("SQLITE_PATH", "/tmp/x.db")
	_, err := LoadServerConfig()
	if err == nil {
		t.Fatalf("expected errors")
	}
	for _, want := range []string{"HTTP_READ_TIMEOUT", "TRACKING_SPEED_MPS", "mutually exclusive"} {
		if !strings.Contains(err.Error(), want) {
			t.Fatalf("expected %q in %v", want, err)
		}
	}
}
