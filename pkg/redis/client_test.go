package redis

import (
	"testing"

	"github.com/mateovidal/brandvault-backend/pkg/config"
)

func TestOptionsFromConfigRequiresEndpoint(t *testing.T) {
	if _, err := optionsFromConfig(config.RedisConfig{}); err == nil {
		t.Fatal("expected error when neither url nor address is set")
	}
}

func TestOptionsFromConfigParsesURL(t *testing.T) {
	opts, err := optionsFromConfig(config.RedisConfig{URL: "redis://localhost:6379/2"})
	if err != nil {
		t.Fatalf("optionsFromConfig: %v", err)
	}
	if opts.Addr != "localhost:6379" {
		t.Fatalf("unexpected addr %q", opts.Addr)
	}
	if opts.DB != 2 {
		t.Fatalf("unexpected db %d", opts.DB)
	}
}

func TestKeyBuilders(t *testing.T) {
	c := &Client{}
	if got := c.LeaseKey("reconcile", "abc"); got != "bv:lease:reconcile:abc" {
		t.Fatalf("unexpected lease key %q", got)
	}
	if got := c.CronLockKey("prod"); got != "bv:cron_lock:prod" {
		t.Fatalf("unexpected cron lock key %q", got)
	}
	if got := c.LeaseKey("", ""); got != "bv:lease" {
		t.Fatalf("empty parts should be skipped, got %q", got)
	}
}
