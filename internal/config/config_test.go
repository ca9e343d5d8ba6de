package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	if cfg.Solver.Name != "rosenbrock23" {
		t.Errorf("expected solver rosenbrock23, got %s", cfg.Solver.Name)
	}
	if cfg.Job.Dt != 1.0 || cfg.Job.TotalTime != 3600 {
		t.Errorf("unexpected job grid %+v", cfg.Job)
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("default config invalid: %v", err)
	}
}

func TestLoadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cellsim.yaml")
	data := []byte("store:\n  driver: memory\nsolver:\n  name: rk45\n  rtol: 1e-5\njob:\n  dt: 0.5\n")
	if err := os.WriteFile(path, data, 0644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Store.Driver != "memory" || cfg.Solver.Name != "rk45" {
		t.Errorf("file values not applied: %+v", cfg)
	}
	if cfg.Solver.RTol != 1e-5 || cfg.Job.Dt != 0.5 {
		t.Errorf("rtol=%g dt=%g", cfg.Solver.RTol, cfg.Job.Dt)
	}
	if cfg.Solver.ATol != DefaultATol || cfg.Job.TotalTime != DefaultTotalTime {
		t.Errorf("defaults lost: atol=%g total=%g", cfg.Solver.ATol, cfg.Job.TotalTime)
	}
}

func TestLoadEnvOverride(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cellsim.yaml")
	if err := os.WriteFile(path, []byte("server:\n  addr: \":9000\"\n"), 0644); err != nil {
		t.Fatal(err)
	}
	t.Setenv("CELLSIM_SERVER_ADDR", ":9100")
	t.Setenv("CELLSIM_REDIS_ADDR", "localhost:6379")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Server.Addr != ":9100" {
		t.Errorf("expected env addr :9100, got %s", cfg.Server.Addr)
	}
	if cfg.Redis.Addr != "localhost:6379" {
		t.Errorf("expected redis addr from env, got %q", cfg.Redis.Addr)
	}
}

func TestLoadMissingExplicitFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Error("expected error for missing explicit config file")
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"driver", func(c *Config) { c.Store.Driver = "mongo" }},
		{"solver", func(c *Config) { c.Solver.Name = "euler" }},
		{"rtol", func(c *Config) { c.Solver.RTol = 0 }},
		{"atol", func(c *Config) { c.Solver.ATol = -1 }},
		{"dt", func(c *Config) { c.Job.Dt = 0 }},
		{"total", func(c *Config) { c.Job.TotalTime = -5 }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(cfg)
			if err := cfg.Validate(); err == nil {
				t.Error("expected validation error")
			}
		})
	}
}

func TestSaveRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cellsim.yaml")
	cfg := DefaultConfig()
	cfg.Network = "isomerization"
	cfg.Job.Dt = 0.25

	if err := Save(path, cfg); err != nil {
		t.Fatalf("Save: %v", err)
	}
	loaded, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if loaded.Network != "isomerization" || loaded.Job.Dt != 0.25 {
		t.Errorf("round trip lost values: %+v", loaded)
	}
}

func TestStoreDSN(t *testing.T) {
	cfg := DefaultConfig()
	cfg.DataDir = "/tmp/x"
	if got := cfg.StoreDSN(); got != filepath.Join("/tmp/x", "cellsim.db") {
		t.Errorf("got %s", got)
	}
	cfg.Store.DSN = "file.db"
	if got := cfg.StoreDSN(); got != "file.db" {
		t.Errorf("got %s", got)
	}
}

func TestGetPreset(t *testing.T) {
	p, ok := GetPreset("fine")
	if !ok {
		t.Fatal("expected preset fine")
	}
	if p.Dt != 0.1 || p.TotalTime != 600 {
		t.Errorf("unexpected preset %+v", p)
	}
	if _, ok := GetPreset("nonexistent"); ok {
		t.Error("expected miss for nonexistent preset")
	}
}

func TestListPresets(t *testing.T) {
	names := ListPresets()
	want := []string{"fine", "hour", "quick"}
	if len(names) != len(want) {
		t.Fatalf("got %v", names)
	}
	for i := range want {
		if names[i] != want[i] {
			t.Errorf("names[%d] = %s, want %s", i, names[i], want[i])
		}
	}
}
