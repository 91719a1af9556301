package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func envMap(m map[string]string) func(string) string {
	return func(k string) string { return m[k] }
}

func TestDefaults(t *testing.T) {
	cfg, err := FromEnv(envMap(nil))
	if err != nil {
		t.Fatalf("FromEnv: %v", err)
	}
	if cfg.Port != "8080" || cfg.WebhookMaxAttempts != 10 || cfg.JobWorkers != 2 {
		t.Fatalf("cfg = %+v", cfg)
	}
	o := cfg.Optimizer
	if o.SlackMinutes != 30 || o.HorizonMinutes != 480 || o.TimeLimit != 30*time.Second || o.PenaltyUnit != 1_000_000 {
		t.Fatalf("optimizer = %+v", o)
	}
}

func TestEnvOverrides(t *testing.T) {
	cfg, err := FromEnv(envMap(map[string]string{
		"PORT":                 "9090",
		"RATE_RPS":             "2.5",
		"WEBHOOK_MAX_ATTEMPTS": "3",
		"SOLVER_TIME_LIMIT":    "5",
		"SOLVER_METAHEURISTIC": "GREEDY_DESCENT",
		"SOLVER_FIX_START":     "true",
		"DB_MIGRATE":           "false",
	}))
	if err != nil {
		t.Fatalf("FromEnv: %v", err)
	}
	if cfg.Port != "9090" || cfg.RateRPS != 2.5 || cfg.WebhookMaxAttempts != 3 || cfg.DBMigrate {
		t.Fatalf("cfg = %+v", cfg)
	}
	if cfg.Optimizer.TimeLimit != 5*time.Second || cfg.Optimizer.Metaheuristic != "GREEDY_DESCENT" || !cfg.Optimizer.FixStartCumulToZero {
		t.Fatalf("optimizer = %+v", cfg.Optimizer)
	}
}

func TestMalformedEnv(t *testing.T) {
	for _, env := range []map[string]string{
		{"RATE_BURST": "lots"},
		{"SOLVER_TIME_LIMIT": "soon"},
		{"PORT": "http"},
		{"SOLVER_METAHEURISTIC": "SIMULATED_ANNEALING"},
		{"JOB_WORKERS": "0"},
	} {
		if _, err := FromEnv(envMap(env)); err == nil {
			t.Errorf("FromEnv(%v) succeeded", env)
		}
	}
}

func TestConfigFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "digipin.yaml")
	data := `
port: "7000"
job_workers: 4
optimizer:
  time_limit: 10s
  slack_minutes: 15
service_areas:
  - name: Hyderabad
    polygon: [[78, 17], [79, 17], [79, 18], [78, 18]]
`
	if err := os.WriteFile(path, []byte(data), 0o600); err != nil {
		t.Fatal(err)
	}
	cfg, err := FromEnv(envMap(map[string]string{"CONFIG_FILE": path, "PORT": "7001"}))
	if err != nil {
		t.Fatalf("FromEnv: %v", err)
	}
	if cfg.Port != "7001" {
		t.Fatalf("env should win over file, port = %s", cfg.Port)
	}
	if cfg.JobWorkers != 4 || cfg.Optimizer.TimeLimit != 10*time.Second || cfg.Optimizer.SlackMinutes != 15 {
		t.Fatalf("cfg = %+v", cfg)
	}
	if cfg.Optimizer.HorizonMinutes != 480 || cfg.Optimizer.ServiceMinutes != 5 {
		t.Fatalf("unset optimizer keys lost their defaults: %+v", cfg.Optimizer)
	}
	if len(cfg.ServiceAreas) != 1 || cfg.ServiceAreas[0].Name != "Hyderabad" || len(cfg.ServiceAreas[0].Polygon) != 4 {
		t.Fatalf("service areas = %+v", cfg.ServiceAreas)
	}
}

func TestConfigFileBadServiceArea(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.yaml")
	_ = os.WriteFile(path, []byte("service_areas:\n  - name: x\n    polygon: [[1, 2]]\n"), 0o600)
	if _, err := FromEnv(envMap(map[string]string{"CONFIG_FILE": path})); err == nil {
		t.Fatal("expected error")
	}
}
