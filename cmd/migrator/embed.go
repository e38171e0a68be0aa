package main

import (
	"fmt"
	"io/fs"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"

	"github.com/lotline-io/lotline/migrations"
)

// MigrationInfo contains parsed information about an embedded migration file.
type MigrationInfo struct {
	Sequence  int
	Name      string
	Direction string // "up" or "down"
	Filename  string
}

// Migration filename regex: 000001_migration_name.up.sql or 000001_migration_name.down.sql.
var migrationFilenameRegex = regexp.MustCompile(`^(\d{6})_([a-zA-Z0-9_]+)\.(up|down)\.sql$`)

// ListEmbeddedMigrations returns every embedded migration file that conforms
// to the strict naming standard. Invalid filenames are rejected to prevent
// operational mistakes.
func ListEmbeddedMigrations() ([]string, error) {
	entries, err := fs.ReadDir(migrations.FS, ".")
	if err != nil {
		return nil, fmt.Errorf("failed to read embedded migrations: %w", err)
	}

	var files []string

	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}

		filename := entry.Name()
		if filepath.Ext(filename) == ".sql" && migrationFilenameRegex.MatchString(filename) {
			files = append(files, filename)
		}
	}

	sort.Strings(files)

	return files, nil
}

// ValidateEmbeddedMigrations checks the embedded set before any migration
// runs: filename format, up/down pairing, and a gap-free sequence.
func ValidateEmbeddedMigrations() error {
	files, err := ListEmbeddedMigrations()
	if err != nil {
		return err
	}

	if len(files) == 0 {
		return fmt.Errorf("no embedded migration files found")
	}

	if err := validatePairing(files); err != nil {
		return err
	}

	return validateSequence(files)
}

// parseMigrationFilename parses a migration filename and extracts its components.
func parseMigrationFilename(filename string) (*MigrationInfo, error) {
	matches := migrationFilenameRegex.FindStringSubmatch(filename)
	if len(matches) != 4 {
		return nil, fmt.Errorf("invalid migration filename format: %s (expected: 000001_name.up.sql or 000001_name.down.sql)", filename)
	}

	sequence, err := strconv.Atoi(matches[1])
	if err != nil {
		return nil, fmt.Errorf("invalid sequence number in filename %s: %w", filename, err)
	}

	return &MigrationInfo{
		Sequence:  sequence,
		Name:      matches[2],
		Direction: matches[3],
		Filename:  filename,
	}, nil
}

// validatePairing ensures every up migration has a corresponding down migration.
func validatePairing(files []string) error {
	migrationsByKey := make(map[string]map[string]*MigrationInfo)

	for _, file := range files {
		migration, err := parseMigrationFilename(file)
		if err != nil {
			return err
		}

		key := fmt.Sprintf("%06d_%s", migration.Sequence, migration.Name)
		if migrationsByKey[key] == nil {
			migrationsByKey[key] = make(map[string]*MigrationInfo)
		}

		migrationsByKey[key][migration.Direction] = migration
	}

	for key, directions := range migrationsByKey {
		if _, hasUp := directions["up"]; !hasUp {
			return fmt.Errorf("orphaned down migration: missing up migration for %s", key)
		}

		if _, hasDown := directions["down"]; !hasDown {
			return fmt.Errorf("orphaned up migration: missing down migration for %s", key)
		}
	}

	return nil
}

// validateSequence ensures there are no gaps in the migration sequence.
func validateSequence(files []string) error {
	sequences := make(map[int]bool)

	for _, file := range files {
		migration, err := parseMigrationFilename(file)
		if err != nil {
			return err
		}

		sequences[migration.Sequence] = true
	}

	var sequenceNumbers []int
	for seq := range sequences {
		sequenceNumbers = append(sequenceNumbers, seq)
	}

	sort.Ints(sequenceNumbers)

	if len(sequenceNumbers) == 0 {
		return nil
	}

	if sequenceNumbers[0] != 1 {
		return fmt.Errorf("migration sequence should start with 000001, but found %06d", sequenceNumbers[0])
	}

	for i := 1; i < len(sequenceNumbers); i++ {
		expected := sequenceNumbers[i-1] + 1
		if sequenceNumbers[i] != expected {
			return fmt.Errorf("gap in migration sequence: expected %06d, found %06d", expected, sequenceNumbers[i])
		}
	}

	return nil
}
