package application

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadConfigOverlaysDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "royalty.yaml")
	data := []byte("currency: GBP\nbatch:\n  workers: 2\n  timeout: 5s\nsplit:\n  tolerance: \"0.005\"\n")
	if err := os.WriteFile(path, data, 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Currency != "GBP" || cfg.Batch.Workers != 2 || cfg.Batch.Timeout != 5*time.Second {
		t.Fatalf("config: %+v", cfg)
	}
	if cfg.Outbox.DispatchInterval != 5*time.Second || cfg.Export.CompanyName == "" {
		t.Fatalf("defaults lost: %+v", cfg)
	}
	tol, err := cfg.SplitTolerance()
	if err != nil || tol.String() != "0.005" {
		t.Fatalf("tolerance: %s %v", tol, err)
	}
}

func TestLoadConfigRejectsBadValues(t *testing.T) {
	cases := map[string]string{
		"workers":   "batch:\n  workers: 0\n",
		"tolerance": "split:\n  tolerance: abc\n",
		"negative":  "split:\n  tolerance: \"-1\"\n",
	}
	for name, body := range cases {
		path := filepath.Join(t.TempDir(), name+".yaml")
		if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
			t.Fatalf("write: %v", err)
		}
		if _, err := LoadConfig(path); err == nil {
			t.Fatalf("%s: expected error", name)
		}
	}
	cfg, err := LoadConfig("")
	if err != nil || cfg.Batch.Workers != DefaultConfig().Batch.Workers {
		t.Fatalf("empty path: %+v %v", cfg, err)
	}
}
