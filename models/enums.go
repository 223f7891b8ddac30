package models

import (
	"errors"
	"fmt"
	"strings"
)

// Phase is a production stage of an order line. Phases are totally ordered
// and a line only ever moves between adjacent phases.
type Phase int

const (
	PhaseInserted Phase = iota
	PhaseCutting
	PhaseSewing
	PhaseAssembly
	PhaseUpholstery
	PhaseFinishing
	PhaseShipping
)

const (
	MinPhase = PhaseInserted
	MaxPhase = PhaseShipping
)

var phaseNames = map[Phase]string{
	PhaseInserted:   "Inserted",
	PhaseCutting:    "Cutting",
	PhaseSewing:     "Sewing",
	PhaseAssembly:   "Assembly",
	PhaseUpholstery: "Upholstery",
	PhaseFinishing:  "Finishing",
	PhaseShipping:   "Shipping",
}

func (p Phase) String() string {
	if n, ok := phaseNames[p]; ok {
		return n
	}
	return fmt.Sprintf("Phase(%d)", int(p))
}

func (p Phase) IsValid() bool {
	return p >= MinPhase && p <= MaxPhase
}

// AllPhases in ascending order.
func AllPhases() []Phase {
	phases := make([]Phase, 0, int(MaxPhase)+1)
	for p := MinPhase; p <= MaxPhase; p++ {
		phases = append(phases, p)
	}
	return phases
}

type OrderType string

const (
	OrderTypeCustomer   OrderType = "C"
	OrderTypeOccasional OrderType = "O"
	OrderTypeSupplier   OrderType = "S"
)

// IsCustomerFacing is true for the order types that consume supply.
func (t OrderType) IsCustomerFacing() bool {
	return t == OrderTypeCustomer || t == OrderTypeOccasional
}

type OrderStatus int

const (
	OrderStatusDraft     OrderStatus = 0
	OrderStatusConfirmed OrderStatus = 1
)

type RollbackMode string

const (
	RollbackModeScrap RollbackMode = "scrap"
	RollbackModeReuse RollbackMode = "reuse"
)

func ParseRollbackMode(s string) (RollbackMode, error) {
	switch RollbackMode(strings.ToLower(strings.TrimSpace(s))) {
	case RollbackModeScrap:
		return RollbackModeScrap, nil
	case RollbackModeReuse:
		return RollbackModeReuse, nil
	default:
		return "", errors.New("rollback mode must be scrap or reuse")
	}
}

type StockMovementType string

const (
	StockMovementReserve StockMovementType = "reserve"
	StockMovementConsume StockMovementType = "consume"
)

type SupplyRunOutcome string

const (
	SupplyRunOutcomeRunning SupplyRunOutcome = "running"
	SupplyRunOutcomeSuccess SupplyRunOutcome = "success"
	SupplyRunOutcomeError   SupplyRunOutcome = "error"
	// SupplyRunOutcomeSkipped means another run held the run lock.
	SupplyRunOutcomeSkipped SupplyRunOutcome = "skipped"
)
