package domain

import (
	"time"

	"github.com/shopspring/decimal"
	"github.com/smallbiznis/fieldops/internal/money"
)

// ScheduledInstallment is one row of an amortization schedule.
type ScheduledInstallment struct {
	Sequence int
	Amount   decimal.Decimal
	DueDate  time.Time
}

// Schedule splits total into count weekly installments, the first due on
// start. Every share is the total truncated to cents over count, and the last
// share absorbs the remainder so the schedule sums to total exactly. A
// non-positive count yields no schedule.
func Schedule(total decimal.Decimal, count int, start time.Time) []ScheduledInstallment {
	shares := money.Split(total, count)
	if len(shares) == 0 {
		return nil
	}
	out := make([]ScheduledInstallment, len(shares))
	for i, amount := range shares {
		out[i] = ScheduledInstallment{
			Sequence: i + 1,
			Amount:   amount,
			DueDate:  start.AddDate(0, 0, 7*i),
		}
	}
	return out
}
