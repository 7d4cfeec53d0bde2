package core

import (
	"testing"

	"github.com/branchworks/branchmerge/internal/schema"
)

func TestUnifyConcatenation(t *testing.T) {
	u := NewUnifier(schema.Default())

	b1 := &Batch{
		Source:    "alpha",
		Columns:   []schema.Field{schema.FieldIFSCCode, schema.FieldCity1},
		Records:   []Record{{"A1", "Pune"}},
		ReadCount: 1,
	}
	b2 := &Batch{
		Source:    "beta",
		Columns:   []schema.Field{schema.FieldBranchName, schema.FieldIFSCCode, schema.FieldState},
		Records:   []Record{{"Fort", "B1", "MH"}, {"East", "B2", "GA"}},
		ReadCount: 2,
	}

	out, err := u.Unify([]*Batch{b1, b2})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if len(out.Records) != 3 {
		t.Fatalf("record count = %d, want 3 (sum of inputs)", len(out.Records))
	}
	if out.ReadCount != 3 {
		t.Errorf("read count = %d, want 3", out.ReadCount)
	}

	wantCols := []schema.Field{
		schema.FieldIFSCCode, schema.FieldBranchName, schema.FieldCity1, schema.FieldState,
	}
	if len(out.Columns) != len(wantCols) {
		t.Fatalf("columns = %v, want %v", out.Columns, wantCols)
	}
	for i, c := range wantCols {
		if out.Columns[i] != c {
			t.Errorf("column[%d] = %q, want %q", i, out.Columns[i], c)
		}
	}

	// Input order is preserved across the concatenation.
	if got := out.Value(0, schema.FieldIFSCCode); got != "A1" {
		t.Errorf("record 0 ifsc = %q, want %q", got, "A1")
	}
	if got := out.Value(1, schema.FieldIFSCCode); got != "B1" {
		t.Errorf("record 1 ifsc = %q, want %q", got, "B1")
	}
	if got := out.Value(2, schema.FieldIFSCCode); got != "B2" {
		t.Errorf("record 2 ifsc = %q, want %q", got, "B2")
	}

	// Fields a source lacked are padded empty, never dropped.
	if got := out.Value(0, schema.FieldBranchName); got != "" {
		t.Errorf("record 0 branch = %q, want empty padding", got)
	}
	if got := out.Value(1, schema.FieldCity1); got != "" {
		t.Errorf("record 1 city1 = %q, want empty padding", got)
	}

	wantOrigins := []string{"alpha", "beta", "beta"}
	for i, want := range wantOrigins {
		if out.Origins[i] != want {
			t.Errorf("origin[%d] = %q, want %q", i, out.Origins[i], want)
		}
	}
}

func TestUnifyIdentityAlwaysPresent(t *testing.T) {
	u := NewUnifier(schema.Default())

	// Neither source carries branch_name; the unified layout still
	// leads with the full identity key.
	b := &Batch{
		Source:  "alpha",
		Columns: []schema.Field{schema.FieldIFSCCode, schema.FieldAddress},
		Records: []Record{{"A1", "12 High St"}},
	}

	out, err := u.Unify([]*Batch{b})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if out.Columns[0] != schema.FieldIFSCCode || out.Columns[1] != schema.FieldBranchName {
		t.Errorf("columns = %v, want identity first", out.Columns)
	}
	if got := out.Value(0, schema.FieldBranchName); got != "" {
		t.Errorf("padded branch = %q, want empty", got)
	}
}

func TestUnifyUnknownColumn(t *testing.T) {
	u := NewUnifier(schema.Default())

	b := &Batch{
		Source:  "alpha",
		Columns: []schema.Field{schema.FieldIFSCCode, schema.Field("mystery")},
		Records: []Record{{"A1", "x"}},
	}

	if _, err := u.Unify([]*Batch{b}); err == nil {
		t.Fatal("expected error for a column outside the schema")
	}
}

func TestUnifyEmptyInput(t *testing.T) {
	u := NewUnifier(schema.Default())

	out, err := u.Unify(nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(out.Records) != 0 {
		t.Errorf("record count = %d, want 0", len(out.Records))
	}
	if len(out.Columns) != 2 {
		t.Errorf("columns = %v, want just the identity key", out.Columns)
	}
}

func TestUnifyFullArityBatches(t *testing.T) {
	s := schema.Default()
	u := NewUnifier(s)
	n := NewNormalizer(s, NewResolver(s))

	b1 := n.NormalizeBatch("alpha", []string{"IFSC", "Branch"}, [][]string{{"A1", "Fort"}}, 1)
	b2 := n.NormalizeBatch("beta", []string{"ifsc code", "branch name"}, [][]string{{"B1", "East"}}, 1)

	out, err := u.Unify([]*Batch{b1, b2})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(out.Records) != 2 {
		t.Fatalf("record count = %d, want 2", len(out.Records))
	}
	if len(out.Columns) != 9 {
		t.Errorf("column count = %d, want 9", len(out.Columns))
	}
	for i, rec := range out.Records {
		if len(rec) != 9 {
			t.Errorf("record %d arity = %d, want 9", i, len(rec))
		}
	}
}
