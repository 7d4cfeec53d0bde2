package source

import "testing"

func TestCollectLatest(t *testing.T) {
	latest := make(map[string]string)

	collectLatest(latest, "bank_data/", []string{
		"bank_data/hdfc_bank/rbi_data_1700000000.xlsx",
		"bank_data/hdfc_bank/rbi_data_1700000500.xlsx",
		"bank_data/state_bank_of_india/rbi_data_1699990000.csv",
		"bank_data/merged_1700000900.xlsx",
		"bank_data/exports/merged_1700000900.xlsx",
		"bank_data/hdfc_bank/archive/rbi_data_1600000000.xlsx",
		"bank_data/hdfc_bank/notes.txt",
		"bank_data/axis_bank/",
	})
	// A later page can still move a folder forward.
	collectLatest(latest, "bank_data/", []string{
		"bank_data/state_bank_of_india/rbi_data_1700000100.csv",
	})

	if len(latest) != 2 {
		t.Fatalf("latest = %v, want 2 folders", latest)
	}
	if got := latest["hdfc_bank"]; got != "bank_data/hdfc_bank/rbi_data_1700000500.xlsx" {
		t.Errorf("hdfc_bank = %q", got)
	}
	if got := latest["state_bank_of_india"]; got != "bank_data/state_bank_of_india/rbi_data_1700000100.csv" {
		t.Errorf("state_bank_of_india = %q", got)
	}
}

func TestNormalizePrefix(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"", ""},
		{"bank_data", "bank_data/"},
		{"bank_data/", "bank_data/"},
		{"/bank_data", "bank_data/"},
		{"a/b", "a/b/"},
	}

	for _, tt := range tests {
		if got := normalizePrefix(tt.in); got != tt.want {
			t.Errorf("normalizePrefix(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestIsExportName(t *testing.T) {
	for name, want := range map[string]bool{
		"rbi_data_1700000000.xlsx": true,
		"export.CSV":               true,
		"notes.txt":                false,
		"data.xls":                 false,
		"rbi_data":                 false,
		"merged_1700000900.xlsx":   false,
		"MERGED_1700000900.xlsx":   false,
	} {
		if got := isExportName(name); got != want {
			t.Errorf("isExportName(%q) = %v, want %v", name, got, want)
		}
	}
}
