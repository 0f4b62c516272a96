package database

import "testing"

func TestParseMigrationFilename(t *testing.T) {
	tests := []struct {
		name        string
		filename    string
		wantVersion string
		wantDesc    string
		wantOK      bool
	}{
		{
			name:        "valid filename",
			filename:    "20260815_090000_attribute_history.sql",
			wantVersion: "20260815_090000",
			wantDesc:    "attribute_history",
			wantOK:      true,
		},
		{
			name:        "multi-word description",
			filename:    "20260901_120000_add_index_to_history.sql",
			wantVersion: "20260901_120000",
			wantDesc:    "add_index_to_history",
			wantOK:      true,
		},
		{
			name:     "no description",
			filename: "20260815_090000.sql",
			wantOK:   false,
		},
		{
			name:     "no version prefix",
			filename: "notes.sql",
			wantOK:   false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			version, desc, ok := parseMigrationFilename(tt.filename)
			if ok != tt.wantOK {
				t.Fatalf("ok = %v, want %v", ok, tt.wantOK)
			}
			if !ok {
				return
			}
			if version != tt.wantVersion {
				t.Errorf("version = %q, want %q", version, tt.wantVersion)
			}
			if desc != tt.wantDesc {
				t.Errorf("desc = %q, want %q", desc, tt.wantDesc)
			}
		})
	}
}
