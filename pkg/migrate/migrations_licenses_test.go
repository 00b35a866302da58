package migrate_test

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/keyhavenhq/keyhaven-backend/pkg/migrate"
)

func TestLicensesMigrationContainsConstraints(t *testing.T) {
	matches, err := filepath.Glob(filepath.Join("migrations", "*_create_licenses.sql"))
	if err != nil {
		t.Fatalf("glob migrations: %v", err)
	}
	if len(matches) == 0 {
		t.Fatalf("no licenses migration file found")
	}

	data, err := os.ReadFile(matches[0])
	if err != nil {
		t.Fatalf("read migration file: %v", err)
	}
	content := string(data)

	checks := []string{
		"CREATE TABLE licenses",
		"CHECK (max_users >= 1)",
		"CHECK (current_users >= 0 AND current_users <= max_users)",
		"CHECK (char_length(key) BETWEEN 20 AND 100)",
		"CREATE UNIQUE INDEX ux_licenses_key",
		"version BIGINT NOT NULL DEFAULT 1",
		"status_reason TEXT",
		"DROP TABLE IF EXISTS licenses",
	}

	for _, sub := range checks {
		if !strings.Contains(content, sub) {
			t.Errorf("missing expected statement %q", sub)
		}
	}
}

func TestOutboxMigrationDeduplicatesWarnings(t *testing.T) {
	matches, err := filepath.Glob(filepath.Join("migrations", "*_create_outbox.sql"))
	if err != nil {
		t.Fatalf("glob migrations: %v", err)
	}
	if len(matches) == 0 {
		t.Fatalf("no outbox migration file found")
	}

	data, err := os.ReadFile(matches[0])
	if err != nil {
		t.Fatalf("read migration file: %v", err)
	}
	content := string(data)

	checks := []string{
		"CREATE TABLE outbox_events",
		"CREATE UNIQUE INDEX ux_outbox_events_event_aggregate",
		"WHERE event_type = 'license_expiring_soon'",
		"CREATE TABLE outbox_dlq",
	}

	for _, sub := range checks {
		if !strings.Contains(content, sub) {
			t.Errorf("missing expected statement %q", sub)
		}
	}
}

func TestMigrationDirValidates(t *testing.T) {
	if err := migrate.ValidateDir("migrations"); err != nil {
		t.Fatalf("migration dir failed validation: %v", err)
	}
}
