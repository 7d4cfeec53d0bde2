package core

import (
	"strconv"
	"testing"

	"github.com/branchworks/branchmerge/internal/schema"
)

// ============================================================================
// Normalization Benchmarks
// ============================================================================

func benchComponents() (*Resolver, *Normalizer, *Unifier, *Deduplicator) {
	sch := schema.Default()
	res := NewResolver(sch)
	return res, NewNormalizer(sch, res), NewUnifier(sch), NewDeduplicator(sch)
}

func benchHeader() []string {
	return []string{"BANK", "IFSC", "BRANCH", "ADDRESS", "CITY1", "CITY2", "STATE", "STD CODE", "PHONE"}
}

// benchRows builds n rows shaped like a real branch export.
func benchRows(n int) [][]string {
	rows := make([][]string, n)
	for i := 0; i < n; i++ {
		seq := strconv.Itoa(i)
		rows[i] = []string{
			"STATE BANK OF INDIA",
			"SBIN000" + seq,
			"BRANCH " + seq,
			"PLOT " + seq + ", STATION ROAD",
			"MUMBAI",
			"MUMBAI",
			"MAHARASHTRA",
			"022",
			"+91 (22) 1234-" + seq,
		}
	}
	return rows
}

// BenchmarkNormalizeRows measures the per-row hot path: alias
// resolution, cleaning, truncation, and fallbacks for a full export.
func BenchmarkNormalizeRows(b *testing.B) {
	_, norm, _, _ := benchComponents()
	header := benchHeader()
	rows := benchRows(1000)

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		norm.NormalizeRows(header, rows, "state_bank_of_india")
	}
}

// BenchmarkNormalizeRows_Fallbacks measures rows that miss branch and
// city values, so every record walks the fallback chain.
func BenchmarkNormalizeRows_Fallbacks(b *testing.B) {
	_, norm, _, _ := benchComponents()
	header := benchHeader()
	rows := make([][]string, 1000)
	for i := range rows {
		rows[i] = []string{"AXIS BANK", "UTIB000" + strconv.Itoa(i), "", "", "", "", "GUJARAT", "nan", "none"}
	}

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		norm.NormalizeRows(header, rows, "axis_bank")
	}
}

// BenchmarkResolvePositions measures header resolution on its own. It
// runs once per source per run, but a wide header makes it visible.
func BenchmarkResolvePositions(b *testing.B) {
	res, _, _, _ := benchComponents()
	header := benchHeader()

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		res.Positions(header)
	}
}

// BenchmarkCleanValue_Digits measures the digit-only cleaning policy on
// a formatted phone number.
func BenchmarkCleanValue_Digits(b *testing.B) {
	fd := schema.FieldDef{Name: schema.FieldPhone, Limit: 20, Policy: schema.PolicyDigitsOnly}

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		cleanValue("+91 (22) 1234-5678", fd)
	}
}

// ============================================================================
// Merge Benchmarks
// ============================================================================

// BenchmarkUnify measures concatenating five source batches into one.
func BenchmarkUnify(b *testing.B) {
	_, norm, uni, _ := benchComponents()
	header := benchHeader()
	batches := make([]*Batch, 5)
	for i := range batches {
		label := "bank_" + strconv.Itoa(i)
		rows := benchRows(200)
		batches[i] = norm.NormalizeBatch(label, header, rows, len(rows))
	}

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if _, err := uni.Unify(batches); err != nil {
			b.Fatal(err)
		}
	}
}

// BenchmarkDedupe measures identity deduplication over a merged batch
// where a third of the records repeat an earlier identity.
func BenchmarkDedupe(b *testing.B) {
	_, norm, uni, dedupe := benchComponents()
	header := benchHeader()
	rows := benchRows(1000)
	for i := 0; i < 500; i += 3 {
		rows[i][1] = "SBIN0DUP"
		rows[i][2] = "REPEATED"
	}
	batch := norm.NormalizeBatch("state_bank_of_india", header, rows, len(rows))
	merged, err := uni.Unify([]*Batch{batch})
	if err != nil {
		b.Fatal(err)
	}

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		dedupe.Dedupe(merged)
	}
}
