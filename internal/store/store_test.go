package store

import (
	"strings"
	"testing"

	"github.com/branchworks/branchmerge/internal/schema"
)

func testStore(t *testing.T) *Store {
	t.Helper()
	// SQL rendering needs no pool.
	return New(nil, schema.Default())
}

func TestUpsertSQL(t *testing.T) {
	s := testStore(t)

	sql, err := s.upsertSQL(schema.Default().FieldNames())
	if err != nil {
		t.Fatalf("upsertSQL: %v", err)
	}

	for _, want := range []string{
		`INSERT INTO "master_bank_details"`,
		`ON CONFLICT ("ifsc_code", "branch_name")`,
		`"bank_name" = EXCLUDED."bank_name"`,
		`"phone" = EXCLUDED."phone"`,
		"updated_at = now()",
		"$9",
	} {
		if !strings.Contains(sql, want) {
			t.Errorf("statement missing %q:\n%s", want, sql)
		}
	}

	// Identity columns decide the conflict, they are never overwritten.
	for _, never := range []string{
		`"ifsc_code" = EXCLUDED."ifsc_code"`,
		`"branch_name" = EXCLUDED."branch_name"`,
	} {
		if strings.Contains(sql, never) {
			t.Errorf("statement must not assign identity column:\n%s", sql)
		}
	}
}

func TestUpsertSQLPartialLayout(t *testing.T) {
	s := testStore(t)

	sql, err := s.upsertSQL([]schema.Field{
		schema.FieldIFSCCode, schema.FieldBranchName, schema.FieldCity1,
	})
	if err != nil {
		t.Fatalf("upsertSQL: %v", err)
	}
	if !strings.Contains(sql, "$3") || strings.Contains(sql, "$4") {
		t.Errorf("want exactly 3 params:\n%s", sql)
	}
	if !strings.Contains(sql, `"city1" = EXCLUDED."city1"`) {
		t.Errorf("non-key column not assigned:\n%s", sql)
	}
}

func TestUpsertSQLRequiresIdentity(t *testing.T) {
	s := testStore(t)

	if _, err := s.upsertSQL([]schema.Field{schema.FieldIFSCCode, schema.FieldCity1}); err == nil {
		t.Fatal("expected error for a layout missing an identity field")
	}
}

func TestBranchTableDDL(t *testing.T) {
	ddl := testStore(t).branchTableDDL()

	for _, want := range []string{
		`CREATE TABLE IF NOT EXISTS "master_bank_details"`,
		"id BIGSERIAL PRIMARY KEY",
		`"ifsc_code" VARCHAR(20) NOT NULL DEFAULT ''`,
		`"phone" VARCHAR(20) NOT NULL DEFAULT ''`,
		`"address" VARCHAR(100) NOT NULL DEFAULT ''`,
		"updated_at TIMESTAMPTZ NOT NULL DEFAULT now()",
	} {
		if !strings.Contains(ddl, want) {
			t.Errorf("ddl missing %q:\n%s", want, ddl)
		}
	}
}

func TestIdentityIndexDDL(t *testing.T) {
	ddl := testStore(t).identityIndexDDL()

	want := `CREATE UNIQUE INDEX IF NOT EXISTS "master_bank_details_identity_idx" ` +
		`ON "master_bank_details" ("ifsc_code", "branch_name")`
	if ddl != want {
		t.Errorf("ddl = %s\nwant %s", ddl, want)
	}
}

func TestDeleteDuplicatesSQL(t *testing.T) {
	sql := testStore(t).deleteDuplicatesSQL()

	for _, want := range []string{
		`DELETE FROM "master_bank_details" a USING "master_bank_details" b`,
		`a."ifsc_code" = b."ifsc_code"`,
		`a."branch_name" = b."branch_name"`,
		"a.id > b.id",
	} {
		if !strings.Contains(sql, want) {
			t.Errorf("statement missing %q:\n%s", want, sql)
		}
	}
}

func TestQuoteIdentifier(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"master_bank_details", `"master_bank_details"`},
		{`odd"name`, `"odd""name"`},
	}
	for _, tt := range tests {
		if got := quoteIdentifier(tt.in); got != tt.want {
			t.Errorf("quoteIdentifier(%q) = %s, want %s", tt.in, got, tt.want)
		}
	}
}
