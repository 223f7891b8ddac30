package workflow

import (
	"fmt"

	"github.com/mmdatafocus/mto_backend/models"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// LineState is the phase picture of one order line derived from its ledger.
type LineState struct {
	Resident     [models.MaxPhase + 1]decimal.Decimal
	CurrentPhase models.Phase
	QtyCompleted decimal.Decimal
}

// ResidentIn returns the quantity currently in phase p.
func (s LineState) ResidentIn(p models.Phase) decimal.Decimal {
	if !p.IsValid() {
		return decimal.Zero
	}
	return s.Resident[p]
}

// DeriveLineState replays the phase ledger of a line. The ordered quantity
// starts in Inserted; every event moves Qty from FromPhase to ToPhase. The
// current phase is the lowest phase still holding quantity (Shipping when
// none does) and completed is everything resident above it.
func DeriveLineState(orderedQty decimal.Decimal, events []models.OrderItemPhaseEvent) LineState {
	var s LineState
	for p := range s.Resident {
		s.Resident[p] = decimal.Zero
	}
	s.Resident[models.PhaseInserted] = orderedQty
	for _, e := range events {
		if e.FromPhase.IsValid() {
			s.Resident[e.FromPhase] = s.Resident[e.FromPhase].Sub(e.Qty)
		}
		if e.ToPhase.IsValid() {
			s.Resident[e.ToPhase] = s.Resident[e.ToPhase].Add(e.Qty)
		}
	}

	s.CurrentPhase = models.PhaseShipping
	for _, p := range models.AllPhases() {
		if models.QtyIsPositive(s.Resident[p]) {
			s.CurrentPhase = p
			break
		}
	}
	s.QtyCompleted = decimal.Zero
	for p := s.CurrentPhase + 1; p <= models.MaxPhase; p++ {
		s.QtyCompleted = s.QtyCompleted.Add(models.QtyFloorZero(s.Resident[p]))
	}
	s.QtyCompleted = models.RoundQty(s.QtyCompleted)
	return s
}

// applyLineState writes the denormalized phase fields of a line and the
// minimum phase of its order. UpdateColumns skips hooks so nothing recomputes
// again.
func applyLineState(tx *gorm.DB, item *models.OrderItem, state LineState) error {
	err := tx.Model(&models.OrderItem{}).Where("id = ?", item.ID).UpdateColumns(map[string]any{
		"current_phase": state.CurrentPhase,
		"qty_completed": state.QtyCompleted,
	}).Error
	if err != nil {
		return fmt.Errorf("update line %d phase: %w", item.ID, err)
	}
	item.CurrentPhase = state.CurrentPhase
	item.QtyCompleted = state.QtyCompleted
	return recomputeOrderMinPhase(tx, item.OrderId)
}

func recomputeOrderMinPhase(tx *gorm.DB, orderId int) error {
	var phases []models.Phase
	err := tx.Model(&models.OrderItem{}).
		Where("order_id = ? AND product_id > 0", orderId).
		Pluck("current_phase", &phases).Error
	if err != nil {
		return fmt.Errorf("load line phases of order %d: %w", orderId, err)
	}
	minPhase := models.MaxPhase
	for _, p := range phases {
		if p < minPhase {
			minPhase = p
		}
	}
	if len(phases) == 0 {
		minPhase = models.MinPhase
	}
	err = tx.Model(&models.Order{}).Where("id = ?", orderId).UpdateColumn("min_phase", minPhase).Error
	if err != nil {
		return fmt.Errorf("update min phase of order %d: %w", orderId, err)
	}
	return nil
}
