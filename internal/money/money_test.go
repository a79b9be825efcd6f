package money

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
)

func formatAll(shares []decimal.Decimal) []string {
	out := make([]string, 0, len(shares))
	for _, share := range shares {
		out = append(out, Format(share))
	}
	return out
}

func TestSplit(t *testing.T) {
	cases := []struct {
		name  string
		total string
		count int
		want  []string
	}{
		{name: "even", total: "1500.00", count: 3, want: []string{"500.00", "500.00", "500.00"}},
		{name: "penny remainder", total: "1000.00", count: 3, want: []string{"333.33", "333.33", "333.34"}},
		{name: "single share", total: "99.99", count: 1, want: []string{"99.99"}},
		{name: "remainder above one cent", total: "100.00", count: 7, want: []string{"14.28", "14.28", "14.28", "14.28", "14.28", "14.28", "14.32"}},
		{name: "tiny total", total: "0.05", count: 10, want: []string{"0.00", "0.00", "0.00", "0.00", "0.00", "0.00", "0.00", "0.00", "0.00", "0.05"}},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			shares := Split(FromString(tc.total), tc.count)
			assert.Equal(t, tc.want, formatAll(shares))
			assert.True(t, Sum(shares...).Equal(FromString(tc.total)))
		})
	}
}

func TestSplitSumInvariant(t *testing.T) {
	totals := []string{"0.01", "1.00", "10.10", "333.33", "1000.00", "1234.56", "98765.43"}
	for _, total := range totals {
		for count := 1; count <= 52; count++ {
			shares := Split(FromString(total), count)
			assert.Len(t, shares, count)
			assert.Truef(t, Sum(shares...).Equal(FromString(total)), "total %s count %d", total, count)
			for i := 0; i < count-1; i++ {
				assert.True(t, shares[i].Equal(shares[0]))
			}
		}
	}
}

func TestSplitNonPositiveCount(t *testing.T) {
	assert.Nil(t, Split(FromString("100.00"), 0))
	assert.Nil(t, Split(FromString("100.00"), -2))
}

func TestRounding(t *testing.T) {
	assert.Equal(t, "333.33", Format(Truncate(FromString("333.3399"))))
	assert.Equal(t, "333.34", Format(Round(FromString("333.335"))))
	assert.Equal(t, "425.75", Format(Sum(FromString("100.00"), FromString("250.50"), FromString("75.25"))))
}
