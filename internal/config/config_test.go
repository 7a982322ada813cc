package config

import (
	"testing"
	"time"
)

func TestLoad_Defaults(t *testing.T) {
	c := Load()
	if c.DataDir != "./data" {
		t.Errorf("expected default data dir, got %s", c.DataDir)
	}
	if c.Port != "8080" {
		t.Errorf("expected default port 8080, got %s", c.Port)
	}
	if !c.SchedulerEnabled {
		t.Error("expected scheduler enabled by default")
	}
	if c.SchedulerPeriod != 60*time.Second {
		t.Errorf("expected default scheduler period 60s, got %s", c.SchedulerPeriod)
	}
	if c.FetchTimeout != 10*time.Second {
		t.Errorf("expected default fetch timeout 10s, got %s", c.FetchTimeout)
	}
}

func TestLoad_OverridesFromEnv(t *testing.T) {
	t.Setenv("PORT", "9090")
	t.Setenv("SCHEDULER_ENABLED", "false")
	t.Setenv("SCHEDULER_PERIOD", "30s")
	t.Setenv("FETCH_TIMEOUT", "5s")
	t.Setenv("REDIS_URL", "redis://localhost:6379/0")

	c := Load()
	if c.Port != "9090" {
		t.Errorf("expected port 9090, got %s", c.Port)
	}
	if c.SchedulerEnabled {
		t.Error("expected scheduler disabled")
	}
	if c.SchedulerPeriod != 30*time.Second {
		t.Errorf("expected scheduler period 30s, got %s", c.SchedulerPeriod)
	}
	if c.FetchTimeout != 5*time.Second {
		t.Errorf("expected fetch timeout 5s, got %s", c.FetchTimeout)
	}
	if c.RedisURL != "redis://localhost:6379/0" {
		t.Errorf("expected redis url override, got %s", c.RedisURL)
	}
}

func TestLoad_InvalidDurationFallsBackToDefault(t *testing.T) {
	t.Setenv("SCHEDULER_PERIOD", "not-a-duration")
	c := Load()
	if c.SchedulerPeriod != 60*time.Second {
		t.Errorf("expected default scheduler period on invalid input, got %s", c.SchedulerPeriod)
	}
}
