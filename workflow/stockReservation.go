package workflow

import (
	"fmt"

	"github.com/mmdatafocus/mto_backend/models"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
)

// ReserveFromStock reserves demand for an order against on-hand lots, oldest
// lot first. Lots are locked for the rest of the transaction so the free
// quantity read here cannot be claimed twice.
func (a *Allocator) ReserveFromStock(orderId int, demand ComponentDemand) (AllocationResult, error) {
	result := newAllocationResult()
	for _, componentId := range demand.ComponentIds() {
		need := demand[componentId]

		var levels []models.StockLevel
		var err error
		if a.dryRun {
			levels, err = models.GetStockLevels(a.tx, componentId)
		} else {
			levels, err = models.LockStockLevels(a.tx, componentId)
		}
		if err != nil {
			return result, fmt.Errorf("load stock levels of component %d: %w", componentId, err)
		}
		levelIds := make([]int, 0, len(levels))
		for _, l := range levels {
			levelIds = append(levelIds, l.ID)
		}
		reserved, err := models.ReservedByStockLevel(a.tx, levelIds)
		if err != nil {
			return result, fmt.Errorf("sum stock reservations of component %d: %w", componentId, err)
		}

		for _, level := range levels {
			if !models.QtyIsPositive(need) {
				break
			}
			free := level.Qty.Sub(reserved[level.ID]).Sub(a.stockClaims[level.ID])
			if !models.QtyIsPositive(free) {
				continue
			}
			take := models.RoundQty(models.QtyMin(free, need))
			if !models.QtyIsPositive(take) {
				continue
			}
			if err := a.writeStockReservation(orderId, level, take); err != nil {
				return result, err
			}
			if a.dryRun {
				a.stockClaims[level.ID] = a.stockClaims[level.ID].Add(take)
			}
			need = need.Sub(take)
			result.record(componentId, take)
		}
		if models.QtyIsPositive(need) {
			result.Remaining[componentId] = models.RoundQty(need)
		}
	}
	return result, nil
}

func (a *Allocator) writeStockReservation(orderId int, level models.StockLevel, qty decimal.Decimal) error {
	fields := logrus.Fields{
		"order_id":       orderId,
		"component_id":   level.ComponentId,
		"stock_level_id": level.ID,
		"qty":            qty.String(),
	}
	if a.dryRun {
		a.logger.WithFields(fields).Info("dry-run: would reserve from stock")
		return nil
	}
	reservation := models.StockReservation{
		StockLevelId: level.ID,
		OrderId:      orderId,
		ComponentId:  level.ComponentId,
		Qty:          qty,
		SupplyRunId:  a.supplyRunId,
	}
	if err := a.tx.Create(&reservation).Error; err != nil {
		return fmt.Errorf("create stock reservation: %w", err)
	}
	movement := models.StockMovement{
		StockLevelId: level.ID,
		ComponentId:  level.ComponentId,
		OrderId:      orderId,
		MovementType: models.StockMovementReserve,
		Qty:          qty,
		Note:         fmt.Sprintf("reservation %d", reservation.ID),
	}
	if err := a.tx.Create(&movement).Error; err != nil {
		return fmt.Errorf("create stock movement: %w", err)
	}
	a.logger.WithFields(fields).Debug("reserved from stock")
	return nil
}
