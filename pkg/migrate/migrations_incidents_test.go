package migrate_test

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestIncidentsMigrationContainsDedupIndex(t *testing.T) {
	matches, err := filepath.Glob(filepath.Join("migrations", "*_create_incidents_and_tickets.sql"))
	if err != nil {
		t.Fatalf("glob migrations: %v", err)
	}
	if len(matches) == 0 {
		t.Fatalf("no incidents migration file found")
	}

	data, err := os.ReadFile(matches[0])
	if err != nil {
		t.Fatalf("read migration file: %v", err)
	}
	content := string(data)

	checks := []string{
		"CREATE TABLE IF NOT EXISTS system_incidents",
		"ux_system_incidents_open_signature",
		"WHERE resolved_at IS NULL AND unique_signature IS NOT NULL",
		"ux_tickets_open_incident",
		"DROP TABLE IF EXISTS system_incidents",
	}

	for _, sub := range checks {
		if !strings.Contains(content, sub) {
			t.Errorf("missing expected statement %q", sub)
		}
	}
}

func TestAssetsMigrationContainsVersionGuard(t *testing.T) {
	matches, err := filepath.Glob(filepath.Join("migrations", "*_create_tenants_and_assets.sql"))
	if err != nil {
		t.Fatalf("glob migrations: %v", err)
	}
	if len(matches) == 0 {
		t.Fatalf("no assets migration file found")
	}

	data, err := os.ReadFile(matches[0])
	if err != nil {
		t.Fatalf("read migration file: %v", err)
	}
	content := string(data)

	checks := []string{
		"CREATE TABLE IF NOT EXISTS assets",
		"version INT NOT NULL DEFAULT 0 CHECK (version >= 0)",
		"ix_assets_stuck_scan",
		"DROP TABLE IF EXISTS assets",
	}

	for _, sub := range checks {
		if !strings.Contains(content, sub) {
			t.Errorf("missing expected statement %q", sub)
		}
	}
}
