package domain

import "github.com/shopspring/decimal"

// Fallback tech pay per task type. The job price table carries a separate,
// editable default used at creation; this formula overwrites tech_price on
// every save. Both are kept.
var basePrices = map[TaskType]decimal.Decimal{
	TaskTypeNewInstall:    decimal.NewFromInt(50),
	TaskTypeServiceCall:   decimal.NewFromInt(30),
	TaskTypeServiceChange: decimal.NewFromInt(20),
	TaskTypeDropBury:      decimal.NewFromInt(40),
}

var (
	dropBuryBonus     = decimal.NewFromInt(20)
	sidewalkBoreBonus = decimal.NewFromInt(40)
)

func BasePrice(t TaskType) decimal.Decimal {
	if price, ok := basePrices[t]; ok {
		return price
	}
	return decimal.Zero
}

// TechPrice computes the technician pay for a task from its type and the
// execution flags on its detail.
func TechPrice(t TaskType, dropBury, sidewalkBore bool) decimal.Decimal {
	price := BasePrice(t)
	if dropBury {
		price = price.Add(dropBuryBonus)
	}
	if sidewalkBore {
		price = price.Add(sidewalkBoreBonus)
	}
	return price.Round(2)
}

// ApplyPricing recomputes tech_price in place. A nil detail counts as no
// bury or bore work.
func ApplyPricing(task *Task, detail *TaskDetail) {
	var dropBury, sidewalkBore bool
	if detail != nil {
		dropBury = detail.DropBuryStatus
		sidewalkBore = detail.SidewalkBoreStatus
	}
	task.TechPrice = TechPrice(task.TaskType, dropBury, sidewalkBore)
}
