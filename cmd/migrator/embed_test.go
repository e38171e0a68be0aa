package main

import (
	"strings"
	"testing"
)

func TestListEmbeddedMigrations(t *testing.T) {
	files, err := ListEmbeddedMigrations()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if len(files) == 0 {
		t.Fatal("expected embedded migration files, got none")
	}

	if len(files)%2 != 0 {
		t.Errorf("expected paired up/down files, got odd count %d", len(files))
	}

	// The list is sorted, so the first entry is always the schema baseline.
	if !strings.HasPrefix(files[0], "000001_") {
		t.Errorf("expected first migration to start with 000001_, got %s", files[0])
	}

	for _, file := range files {
		if !migrationFilenameRegex.MatchString(file) {
			t.Errorf("embedded migration %s violates naming standard", file)
		}
	}
}

func TestValidateEmbeddedMigrations(t *testing.T) {
	// The embedded set ships with the binary; validation of the real set must
	// always pass or the migrator is unreleasable.
	if err := ValidateEmbeddedMigrations(); err != nil {
		t.Fatalf("embedded migration set failed validation: %v", err)
	}
}

func TestParseMigrationFilename(t *testing.T) {
	tests := []struct {
		name         string
		filename     string
		wantSequence int
		wantName     string
		wantDir      string
		wantErr      bool
	}{
		{
			name:         "valid up migration",
			filename:     "000001_core_schema.up.sql",
			wantSequence: 1,
			wantName:     "core_schema",
			wantDir:      "up",
		},
		{
			name:         "valid down migration",
			filename:     "000003_offline_sync.down.sql",
			wantSequence: 3,
			wantName:     "offline_sync",
			wantDir:      "down",
		},
		{
			name:     "missing sequence",
			filename: "migration.up.sql",
			wantErr:  true,
		},
		{
			name:     "short sequence",
			filename: "001_test.up.sql",
			wantErr:  true,
		},
		{
			name:     "invalid direction",
			filename: "000001_test.sideways.sql",
			wantErr:  true,
		},
		{
			name:     "wrong case direction",
			filename: "000001_test.UP.sql",
			wantErr:  true,
		},
		{
			name:     "hyphen in name",
			filename: "000001_core-schema.up.sql",
			wantErr:  true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			info, err := parseMigrationFilename(tt.filename)

			if tt.wantErr {
				if err == nil {
					t.Fatal("expected error, got nil")
				}
				return
			}

			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}

			if info.Sequence != tt.wantSequence {
				t.Errorf("expected sequence %d, got %d", tt.wantSequence, info.Sequence)
			}
			if info.Name != tt.wantName {
				t.Errorf("expected name %s, got %s", tt.wantName, info.Name)
			}
			if info.Direction != tt.wantDir {
				t.Errorf("expected direction %s, got %s", tt.wantDir, info.Direction)
			}
		})
	}
}

func TestValidatePairing(t *testing.T) {
	tests := []struct {
		name          string
		files         []string
		wantErr       bool
		errorContains string
	}{
		{
			name: "complete pairs",
			files: []string{
				"000001_initial.up.sql",
				"000001_initial.down.sql",
				"000002_indexes.up.sql",
				"000002_indexes.down.sql",
			},
			wantErr: false,
		},
		{
			name: "missing down migration",
			files: []string{
				"000001_initial.up.sql",
			},
			wantErr:       true,
			errorContains: "missing down migration",
		},
		{
			name: "orphaned down migration",
			files: []string{
				"000001_initial.up.sql",
				"000001_initial.down.sql",
				"000002_orphan.down.sql",
			},
			wantErr:       true,
			errorContains: "missing up migration",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := validatePairing(tt.files)

			if tt.wantErr {
				if err == nil {
					t.Fatal("expected error, got nil")
				}
				if !strings.Contains(err.Error(), tt.errorContains) {
					t.Errorf("expected error containing %q, got %q", tt.errorContains, err.Error())
				}
				return
			}

			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
		})
	}
}

func TestValidateSequence(t *testing.T) {
	tests := []struct {
		name          string
		files         []string
		wantErr       bool
		errorContains string
	}{
		{
			name: "contiguous from one",
			files: []string{
				"000001_a.up.sql",
				"000001_a.down.sql",
				"000002_b.up.sql",
				"000002_b.down.sql",
				"000003_c.up.sql",
				"000003_c.down.sql",
			},
			wantErr: false,
		},
		{
			name: "does not start at one",
			files: []string{
				"000002_b.up.sql",
				"000002_b.down.sql",
			},
			wantErr:       true,
			errorContains: "should start with 000001",
		},
		{
			name: "gap in sequence",
			files: []string{
				"000001_a.up.sql",
				"000001_a.down.sql",
				"000003_c.up.sql",
				"000003_c.down.sql",
			},
			wantErr:       true,
			errorContains: "gap in migration sequence",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := validateSequence(tt.files)

			if tt.wantErr {
				if err == nil {
					t.Fatal("expected error, got nil")
				}
				if !strings.Contains(err.Error(), tt.errorContains) {
					t.Errorf("expected error containing %q, got %q", tt.errorContains, err.Error())
				}
				return
			}

			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
		})
	}
}
