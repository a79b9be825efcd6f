package format

import (
	"testing"
	"time"

	"github.com/smallbiznis/fieldops/internal/period"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func week(t *testing.T, year, w int) period.Week {
	t.Helper()
	loc, err := time.LoadLocation("America/Chicago")
	require.NoError(t, err)
	resolved, err := period.Resolve(year, w, loc)
	require.NoError(t, err)
	return resolved
}

func TestInvoiceNumber(t *testing.T) {
	w02 := week(t, 2025, 2)

	tests := []struct {
		template string
		seq      int64
		want     string
	}{
		{DefaultInvoiceNumberFormat, 1, "INV-000001"},
		{"INV-{SEQ}", 42, "INV-42"},
		{"FB-{YYYY}W{WW}-{SEQ4}", 7, "FB-2025W02-0007"},
		{"{YY}{MM}{DD}-{SEQ2}", 123, "250105-123"},
	}
	for _, tt := range tests {
		got, err := InvoiceNumber(tt.template, w02, tt.seq)
		require.NoError(t, err, tt.template)
		assert.Equal(t, tt.want, got)
	}
}

func TestInvoiceNumberUsesISOYear(t *testing.T) {
	// Week 1 of 2026 starts on Sunday 2025-12-28.
	got, err := InvoiceNumber("{YYYY}-W{WW}-{MM}{DD}-{SEQ3}", week(t, 2026, 1), 9)
	require.NoError(t, err)
	assert.Equal(t, "2026-W01-1228-009", got)
}

func TestInvoiceNumberRejectsBadInput(t *testing.T) {
	w := week(t, 2025, 10)

	for _, template := range []string{"", "INV-2025", "INV-{QQ}-{SEQ}", "INV-{SEQ", "INV-}{SEQ}", "INV-{SEQ0}", "INV-{SEQx}"} {
		_, err := InvoiceNumber(template, w, 1)
		assert.Error(t, err, template)
	}

	_, err := InvoiceNumber("INV-{SEQ6}", w, 0)
	assert.Error(t, err)
}
