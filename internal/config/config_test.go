package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadUsesDefaultsAndYAMLOverrides(t *testing.T) {
	clearConfigEnv(t)

	tmpDir := t.TempDir()
	path := filepath.Join(tmpDir, "config.yaml")
	yaml := `
safety:
  store_timeout: 250ms
  detector: counter
  patterns:
    account_farm:
      low: 2
      medium: 4
      high: 6
      critical: 8
  farming:
    threshold: 2
  actions:
    voice_comment:
      ip_max: 3
      ip_window_minutes: 1
moderation:
  escalation:
    age_threshold: 12h
    max_level: 5
worker:
  archive:
    enabled: true
`
	if err := os.WriteFile(path, []byte(yaml), 0o600); err != nil {
		t.Fatalf("write temp config: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load config: %v", err)
	}

	if cfg.Safety.StoreTimeout != 250*time.Millisecond {
		t.Fatalf("unexpected store timeout: %s", cfg.Safety.StoreTimeout)
	}
	if cfg.Safety.Detector != DetectorCounter {
		t.Fatalf("unexpected detector: %s", cfg.Safety.Detector)
	}
	if cfg.Safety.Patterns.AccountFarm.Critical != 8 {
		t.Fatalf("unexpected account_farm critical band: %d", cfg.Safety.Patterns.AccountFarm.Critical)
	}
	if cfg.Safety.Farming.Threshold != 2 {
		t.Fatalf("unexpected farming threshold: %d", cfg.Safety.Farming.Threshold)
	}
	if cfg.Moderation.Escalation.AgeThreshold != 12*time.Hour {
		t.Fatalf("unexpected escalation age threshold: %s", cfg.Moderation.Escalation.AgeThreshold)
	}
	if cfg.Moderation.Escalation.MaxLevel != 5 {
		t.Fatalf("unexpected escalation max level: %d", cfg.Moderation.Escalation.MaxLevel)
	}
	if !cfg.Worker.Archive.Enabled {
		t.Fatalf("expected archive to be enabled")
	}

	policy := cfg.Safety.Policy("voice_comment")
	if policy.IPMax != 3 || policy.IPWindowMinutes != 1 {
		t.Fatalf("unexpected voice_comment ip policy: %+v", policy)
	}
	if policy.SubjectMax != cfg.Safety.DefaultAction.SubjectMax {
		t.Fatalf("subject limit should fall back to default, got %d", policy.SubjectMax)
	}

	if !cfg.Safety.FailOpen {
		t.Fatalf("fail_open default should stay true")
	}
	if cfg.Safety.Patterns.HighVolume.Critical != 500 {
		t.Fatalf("high_volume default should stay 500")
	}
	if cfg.Moderation.Escalation.PriorityStep != 1 {
		t.Fatalf("escalation priority_step default should stay 1")
	}
}

func TestLoadDefaultsWhenFileMissing(t *testing.T) {
	clearConfigEnv(t)

	cfg, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	if err != nil {
		t.Fatalf("load config with missing file: %v", err)
	}

	if cfg.Safety.Detector != DetectorLedger {
		t.Fatalf("unexpected default detector: %s", cfg.Safety.Detector)
	}
	if cfg.Safety.Farming.Threshold != 1 {
		t.Fatalf("unexpected default farming threshold: %d", cfg.Safety.Farming.Threshold)
	}
	if cfg.Moderation.RiskBands.Critical != 90 {
		t.Fatalf("unexpected default critical risk band: %d", cfg.Moderation.RiskBands.Critical)
	}
	if cfg.Worker.ActivityRetention != 30*24*time.Hour {
		t.Fatalf("unexpected activity retention: %s", cfg.Worker.ActivityRetention)
	}

	unknown := cfg.Safety.Policy("never_configured")
	if unknown != cfg.Safety.DefaultAction {
		t.Fatalf("unknown action should use default policy: %+v", unknown)
	}
}

func TestLoadAppliesEnvOverrides(t *testing.T) {
	clearConfigEnv(t)
	t.Setenv("SAFETY_FAIL_OPEN", "false")
	t.Setenv("SAFETY_STORE_TIMEOUT", "2s")
	t.Setenv("INTERNAL_TOKEN", "internal-secret")
	t.Setenv("ESCALATION_INTERVAL", "90s")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("load config: %v", err)
	}

	if cfg.Safety.FailOpen {
		t.Fatalf("expected fail_open override to false")
	}
	if cfg.Safety.StoreTimeout != 2*time.Second {
		t.Fatalf("unexpected store timeout: %s", cfg.Safety.StoreTimeout)
	}
	if cfg.Admin.InternalToken != "internal-secret" {
		t.Fatalf("unexpected internal token: %q", cfg.Admin.InternalToken)
	}
	if cfg.Moderation.Escalation.Interval != 90*time.Second {
		t.Fatalf("unexpected escalation interval: %s", cfg.Moderation.Escalation.Interval)
	}
}

func TestLoadRejectsInvalidEnvValue(t *testing.T) {
	clearConfigEnv(t)
	t.Setenv("SAFETY_FAIL_OPEN", "sometimes")

	if _, err := Load(""); err == nil {
		t.Fatalf("expected error for invalid bool override")
	}
}

func TestLoadRejectsUnknownDetector(t *testing.T) {
	clearConfigEnv(t)
	t.Setenv("SAFETY_DETECTOR", "ml")

	if _, err := Load(""); err == nil {
		t.Fatalf("expected error for unknown detector")
	}
}

func TestLoadRejectsPatternWindowsBeyondCounterRetention(t *testing.T) {
	clearConfigEnv(t)

	path := filepath.Join(t.TempDir(), "config.yaml")
	yaml := `
safety:
  detector: counter
  actions:
    endorsement:
      pattern_window_minutes: 2880
`
	if err := os.WriteFile(path, []byte(yaml), 0o600); err != nil {
		t.Fatalf("write temp config: %v", err)
	}
	if _, err := Load(path); err == nil {
		t.Fatalf("expected error for a 48h pattern window with the counter detector")
	}

	t.Setenv("SAFETY_DETECTOR", "ledger")
	if _, err := Load(path); err != nil {
		t.Fatalf("expected the ledger detector to accept long windows: %v", err)
	}
}

func TestLoadRejectsDefaultSecretsInProduction(t *testing.T) {
	clearConfigEnv(t)
	t.Setenv("APP_ENV", "prod")

	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	if err == nil {
		t.Fatalf("expected error when admin secrets keep their defaults in production")
	}

	t.Setenv("ADMIN_JWT_SECRET", "prod-secret")
	t.Setenv("INTERNAL_TOKEN", "prod-internal")
	if _, err := Load(""); err != nil {
		t.Fatalf("expected production config to load: %v", err)
	}
}

func clearConfigEnv(t *testing.T) {
	t.Helper()
	for _, key := range []string{
		"APP_ENV",
		"HTTP_ADDR",
		"HTTP_READ_TIMEOUT",
		"HTTP_WRITE_TIMEOUT",
		"HTTP_IDLE_TIMEOUT",
		"LOG_LEVEL",
		"POSTGRES_DSN",
		"REDIS_ADDR",
		"REDIS_PASSWORD",
		"REDIS_DB",
		"S3_ENDPOINT",
		"S3_ACCESS_KEY",
		"S3_SECRET_KEY",
		"S3_BUCKET",
		"S3_USE_SSL",
		"ADMIN_JWT_SECRET",
		"INTERNAL_TOKEN",
		"NOTIFY_TELEGRAM_TOKEN",
		"SAFETY_STORE_TIMEOUT",
		"SAFETY_FAIL_OPEN",
		"SAFETY_DETECTOR",
		"SAFETY_FARMING_THRESHOLD",
		"ESCALATION_INTERVAL",
		"ESCALATION_AGE_THRESHOLD",
		"ESCALATION_MAX_LEVEL",
		"WORKER_CLEANUP_INTERVAL",
		"WORKER_ACTIVITY_RETENTION",
		"ARCHIVE_ENABLED",
		"ARCHIVE_BUCKET",
	} {
		t.Setenv(key, "")
	}
}
