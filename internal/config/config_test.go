package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestDefaults(t *testing.T) {
	c, err := Load("")
	if err != nil {
		t.Fatalf("should load defaults: %v", err)
	}
	if c.Port != "8080" {
		t.Fatalf("expected port 8080, got %s", c.Port)
	}
	if c.DisplaySeconds != 30 || c.QuestionSeconds != 0 || !c.G2ShowStimulus {
		t.Fatalf("unexpected timing defaults: %+v", c)
	}
	if c.AdminEnabled() {
		t.Fatal("admin should be disabled without credentials")
	}
	timing := c.Timing()
	if timing.PollInterval != 200*time.Millisecond {
		t.Fatalf("expected 200ms poll interval, got %s", timing.PollInterval)
	}
}

func TestEnvironmentOverrides(t *testing.T) {
	t.Setenv("PORT", "9090")
	t.Setenv("DEV_MODE", "true")
	t.Setenv("QUESTION_SECONDS", "15")
	t.Setenv("POLL_INTERVAL_MS", "50")
	t.Setenv("ADMIN_USER", "lab")
	t.Setenv("ADMIN_PASS", "secret")

	c, err := Load("")
	if err != nil {
		t.Fatalf("should load environment: %v", err)
	}
	if c.Port != "9090" || !c.DevMode || c.QuestionSeconds != 15 {
		t.Fatalf("environment not applied: %+v", c)
	}
	if !c.AdminEnabled() {
		t.Fatal("admin should be enabled with credentials")
	}
	if got := c.Timing().PollInterval; got != 200*time.Millisecond {
		t.Fatalf("poll interval should be clamped to 200ms, got %s", got)
	}
}

func TestConfigFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "chartrecall.yaml")
	data := "port: \"7000\"\nstimuli_file: stimuli/v2.csv\ng2_show_stimulus: false\n"
	if err := os.WriteFile(path, []byte(data), 0o644); err != nil {
		t.Fatal(err)
	}
	t.Setenv("PORT", "7100")

	c, err := Load(path)
	if err != nil {
		t.Fatalf("should load config file: %v", err)
	}
	if c.StimuliFile != "stimuli/v2.csv" || c.G2ShowStimulus {
		t.Fatalf("file values not applied: %+v", c)
	}
	if c.Port != "7100" {
		t.Fatalf("environment should win over the file, got %s", c.Port)
	}

	if _, err := Load(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Fatal("an explicit missing config file should fail")
	}
}

func TestMalformedEnvironmentIsAnError(t *testing.T) {
	t.Setenv("DISPLAY_SECONDS", "soon")
	if _, err := Load(""); err == nil {
		t.Fatal("expected an error for a non-numeric DISPLAY_SECONDS")
	}
}
