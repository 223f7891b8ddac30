package workflow

import (
	"time"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

// AllocationResult is the outcome of one reservation pass. Remaining is the
// demand that could not be reserved; it is a normal result, not an error.
type AllocationResult struct {
	LinesCreated int
	QtyReserved  decimal.Decimal
	Remaining    ComponentDemand
	// ByComponent is what was reserved per component.
	ByComponent ComponentDemand
}

func newAllocationResult() AllocationResult {
	return AllocationResult{
		QtyReserved: decimal.Zero,
		Remaining:   make(ComponentDemand),
		ByComponent: make(ComponentDemand),
	}
}

func (r *AllocationResult) record(componentId int, qty decimal.Decimal) {
	r.LinesCreated++
	r.QtyReserved = r.QtyReserved.Add(qty)
	r.ByComponent.Add(componentId, qty)
}

// Allocator reserves supply inside the caller's transaction. In dry-run mode
// nothing is written; claims are kept in memory so later orders of the same
// pass still see the quantity as taken. Outside dry-run the written rows are
// the only record, so claims stay empty.
type Allocator struct {
	tx          *gorm.DB
	logger      *logrus.Entry
	dryRun      bool
	supplyRunId *int
	now         time.Time

	stockClaims map[int]decimal.Decimal
	lineClaims  map[int]decimal.Decimal
}

func NewAllocator(tx *gorm.DB, logger *logrus.Entry, now time.Time) *Allocator {
	return &Allocator{
		tx:          tx,
		logger:      logger,
		now:         now,
		stockClaims: make(map[int]decimal.Decimal),
		lineClaims:  make(map[int]decimal.Decimal),
	}
}

// DryRun switches the allocator to log-only mode.
func (a *Allocator) DryRun() *Allocator {
	a.dryRun = true
	return a
}

// ForRun stamps created reservations with the supply run id.
func (a *Allocator) ForRun(supplyRunId int) *Allocator {
	if supplyRunId > 0 {
		a.supplyRunId = &supplyRunId
	}
	return a
}
